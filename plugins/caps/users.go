package caps

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/dpup/capable/errors"
	"github.com/dpup/capable/logging"
	"github.com/dpup/capable/plugins/eventbus"
	"github.com/dpup/capable/plugins/options"
	"github.com/dpup/capable/plugins/storage"
	"google.golang.org/grpc/codes"
)

// ErrUnknownUser is returned when a super admin change names a user that does
// not exist.
var ErrUnknownUser = errors.NewC("unknown user", codes.NotFound)

// UserEvent is the payload of user topics.
type UserEvent struct {
	Site   int64
	UserID int64
	Roles  []string
}

// UserCaps are a user's roles and individual grants on one site.
type UserCaps struct {
	Site   int64
	UserID int64
	Roles  []string
	Caps   map[string]bool
}

func (u UserCaps) PK() string   { return fmt.Sprintf("%d:%d", u.Site, u.UserID) }
func (u UserCaps) Name() string { return "user_capabilities" }

// HasRole returns whether the user has the role on this site.
func (u *UserCaps) HasRole(role string) bool {
	return slices.Contains(u.Roles, role)
}

// Users manages per-site user capabilities and the network super admin list.
type Users struct {
	store    storage.Store
	roles    *RoleStore
	options  OptionSource
	content  ContentSource
	bus      eventbus.EventBus
	fallback string

	mu sync.Mutex
}

func newUsers(store storage.Store, roles *RoleStore, opts OptionSource, cs ContentSource, bus eventbus.EventBus, fallback string) *Users {
	return &Users{store: store, roles: roles, options: opts, content: cs, bus: bus, fallback: fallback}
}

// Get returns the user's capabilities on a site. Users without a record have
// no roles and no grants.
func (u *Users) Get(ctx context.Context, site, userID int64) (*UserCaps, error) {
	uc := &UserCaps{Site: site, UserID: userID}
	if err := u.store.Read(ctx, uc.PK(), uc); err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, errors.WrapPrefix(err, "caps: loading user capabilities", 0)
		}
	}
	if uc.Caps == nil {
		uc.Caps = map[string]bool{}
	}
	return uc, nil
}

func (u *Users) update(ctx context.Context, site, userID int64, fn func(*UserCaps)) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	uc, err := u.Get(ctx, site, userID)
	if err != nil {
		return err
	}
	fn(uc)
	if err := u.store.Upsert(ctx, *uc); err != nil {
		return errors.WrapPrefix(err, "caps: saving user capabilities", 0)
	}
	publish(u.bus, TopicUserChanged, UserEvent{Site: site, UserID: userID, Roles: slices.Clone(uc.Roles)})
	return nil
}

// SetRole replaces all of the user's roles with a single role. An empty role
// removes all roles.
func (u *Users) SetRole(ctx context.Context, site, userID int64, role string) error {
	return u.update(ctx, site, userID, func(uc *UserCaps) {
		uc.Roles = nil
		if role != "" {
			uc.Roles = []string{role}
		}
	})
}

// AddRole adds a role to the user, keeping existing roles.
func (u *Users) AddRole(ctx context.Context, site, userID int64, role string) error {
	if role == "" {
		return nil
	}
	return u.update(ctx, site, userID, func(uc *UserCaps) {
		if !uc.HasRole(role) {
			uc.Roles = append(uc.Roles, role)
		}
	})
}

// RemoveRole removes a role from the user.
func (u *Users) RemoveRole(ctx context.Context, site, userID int64, role string) error {
	return u.update(ctx, site, userID, func(uc *UserCaps) {
		uc.Roles = slices.DeleteFunc(uc.Roles, func(r string) bool { return r == role })
	})
}

// AddCap grants (or, with grant false, explicitly denies) a capability to the
// user. Individual entries override the user's roles.
func (u *Users) AddCap(ctx context.Context, site, userID int64, name string, grant bool) error {
	return u.update(ctx, site, userID, func(uc *UserCaps) {
		uc.Caps[name] = grant
	})
}

// RemoveCap removes an individual grant or denial.
func (u *Users) RemoveCap(ctx context.Context, site, userID int64, name string) error {
	return u.update(ctx, site, userID, func(uc *UserCaps) {
		delete(uc.Caps, name)
	})
}

// RemoveAllCaps removes all of the user's roles and individual grants on the
// site.
func (u *Users) RemoveAllCaps(ctx context.Context, site, userID int64) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	err := u.store.Delete(ctx, UserCaps{Site: site, UserID: userID})
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return errors.WrapPrefix(err, "caps: removing user capabilities", 0)
	}
	publish(u.bus, TopicUserChanged, UserEvent{Site: site, UserID: userID})
	return nil
}

// Register gives a new user the site's default role. It returns the role that
// was assigned.
func (u *Users) Register(ctx context.Context, site, userID int64) (string, error) {
	role, err := u.options.String(ctx, site, options.DefaultRole, u.fallback)
	if err != nil {
		return "", err
	}
	ok, err := u.roles.IsRole(ctx, site, role)
	if err != nil {
		return "", err
	}
	if !ok {
		logging.Warnw(ctx, "caps: default role does not exist", "site", site, "role", role)
	}
	if err := u.SetRole(ctx, site, userID, role); err != nil {
		return "", err
	}
	return role, nil
}

// Effective returns the capabilities the user holds on a site before any
// meta capability resolution: the union of the user's roles' grants, the role
// keys themselves, and finally the user's individual grants and denials.
func (u *Users) Effective(ctx context.Context, site, userID int64) (map[string]bool, error) {
	uc, err := u.Get(ctx, site, userID)
	if err != nil {
		return nil, err
	}
	set, err := u.roles.load(ctx, site)
	if err != nil {
		return nil, err
	}

	all := map[string]bool{}
	for _, key := range uc.Roles {
		i := set.index(key)
		if i < 0 {
			continue
		}
		for name, grant := range set.Roles[i].Capabilities {
			all[name] = all[name] || grant
		}
	}
	for _, key := range uc.Roles {
		all[key] = true
	}
	maps.Copy(all, uc.Caps)
	return all, nil
}

// SuperAdmins returns the logins of the network's super admins.
func (u *Users) SuperAdmins(ctx context.Context) ([]string, error) {
	return u.options.Strings(ctx, options.Network, options.SiteAdmins)
}

// GrantSuperAdmin adds the user to the network's super admin list.
func (u *Users) GrantSuperAdmin(ctx context.Context, userID int64) error {
	return u.changeSuperAdmin(ctx, userID, func(logins []string, login string) []string {
		if slices.Contains(logins, login) {
			return logins
		}
		return append(logins, login)
	})
}

// RevokeSuperAdmin removes the user from the network's super admin list.
func (u *Users) RevokeSuperAdmin(ctx context.Context, userID int64) error {
	return u.changeSuperAdmin(ctx, userID, func(logins []string, login string) []string {
		return slices.DeleteFunc(logins, func(l string) bool { return l == login })
	})
}

func (u *Users) changeSuperAdmin(ctx context.Context, userID int64, fn func([]string, string) []string) error {
	user, err := u.content.User(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return errors.Mark(ErrUnknownUser, 0).Append(fmt.Sprint(userID))
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	logins, err := u.SuperAdmins(ctx)
	if err != nil {
		return err
	}
	logins = fn(logins, user.Login)
	if err := u.options.Set(ctx, options.Network, options.SiteAdmins, logins); err != nil {
		return err
	}
	logging.Infow(ctx, "caps: super admins changed", "user", userID, "login", user.Login, "count", len(logins))
	publish(u.bus, TopicSuperAdminChanged, UserEvent{Site: options.Network, UserID: userID})
	return nil
}

package caps

import (
	"context"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/dpup/capable/errors"
	"github.com/dpup/capable/logging"
	"github.com/dpup/capable/plugins/eventbus"
	"github.com/dpup/capable/plugins/options"
	"github.com/dpup/capable/plugins/storage"
	"github.com/dpup/capable/plugins/storage/lock"
)

// Topics published by the role store and user capabilities.
const (
	TopicRoleAdded         = "caps.role.added"
	TopicRoleRemoved       = "caps.role.removed"
	TopicCapAdded          = "caps.role.cap_added"
	TopicCapRemoved        = "caps.role.cap_removed"
	TopicDefaultRoleReset  = "caps.role.default_reset"
	TopicUserChanged       = "caps.user.changed"
	TopicSuperAdminChanged = "caps.user.super_admin"
)

// RoleEvent is the payload of role topics.
type RoleEvent struct {
	Site  int64
	Role  string
	Cap   string
	Grant bool
}

// Role is a named bundle of capability grants. A false entry is an explicit
// denial, which only matters when it is the sole mention of the capability.
type Role struct {
	Key          string
	Name         string
	Capabilities map[string]bool
}

// HasCap returns whether the role grants the capability.
func (r *Role) HasCap(name string) bool {
	return r.Capabilities[name]
}

func (r Role) clone() *Role {
	r.Capabilities = maps.Clone(r.Capabilities)
	if r.Capabilities == nil {
		r.Capabilities = map[string]bool{}
	}
	return &r
}

// roleSet is the persisted form of a site's roles, stored as a single record
// so that role order is preserved.
type roleSet struct {
	Site  int64
	Roles []Role
}

func (s roleSet) PK() string   { return strconv.FormatInt(s.Site, 10) }
func (s roleSet) Name() string { return "user_roles" }

func (s *roleSet) index(key string) int {
	return slices.IndexFunc(s.Roles, func(r Role) bool { return r.Key == key })
}

// RoleStore manages the roles of each site. Every mutation is persisted before
// it returns; concurrent writers from other processes are last-write-wins.
type RoleStore struct {
	store    storage.Store
	options  OptionSource
	bus      eventbus.EventBus
	locker   *lock.Locker
	fallback string

	mu sync.Mutex
}

func newRoleStore(store storage.Store, opts OptionSource, bus eventbus.EventBus, locker *lock.Locker, fallback string) *RoleStore {
	return &RoleStore{store: store, options: opts, bus: bus, locker: locker, fallback: fallback}
}

func (s *RoleStore) load(ctx context.Context, site int64) (*roleSet, error) {
	set := &roleSet{Site: site}
	if err := s.store.Read(ctx, set.PK(), set); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return &roleSet{Site: site}, nil
		}
		return nil, errors.WrapPrefix(err, "caps: loading roles", 0)
	}
	return set, nil
}

func (s *RoleStore) save(ctx context.Context, set *roleSet) error {
	if err := s.store.Upsert(ctx, *set); err != nil {
		return errors.WrapPrefix(err, "caps: saving roles", 0)
	}
	return nil
}

// AddRole adds a role to the site. If the key is empty or the role already
// exists nothing happens and a nil role is returned.
func (s *RoleStore) AddRole(ctx context.Context, site int64, key, name string, caps map[string]bool) (*Role, error) {
	if key == "" {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.load(ctx, site)
	if err != nil {
		return nil, err
	}
	if set.index(key) >= 0 {
		return nil, nil
	}
	role := Role{Key: key, Name: name, Capabilities: maps.Clone(caps)}
	if role.Capabilities == nil {
		role.Capabilities = map[string]bool{}
	}
	set.Roles = append(set.Roles, role)
	if err := s.save(ctx, set); err != nil {
		return nil, err
	}
	logging.Debugw(ctx, "caps: role added", "site", site, "role", key)
	publish(s.bus, TopicRoleAdded, RoleEvent{Site: site, Role: key})
	return role.clone(), nil
}

// RemoveRole removes a role from the site. Removing a missing role is a no-op.
// If the role was the site's default role, the default is reset to the
// fallback role.
func (s *RoleStore) RemoveRole(ctx context.Context, site int64, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.load(ctx, site)
	if err != nil {
		return err
	}
	i := set.index(key)
	if i < 0 {
		return nil
	}
	set.Roles = slices.Delete(set.Roles, i, i+1)
	if err := s.save(ctx, set); err != nil {
		return err
	}
	publish(s.bus, TopicRoleRemoved, RoleEvent{Site: site, Role: key})

	def, err := s.options.String(ctx, site, options.DefaultRole, "")
	if err != nil {
		return err
	}
	if def == key {
		if err := s.options.Set(ctx, site, options.DefaultRole, s.fallback); err != nil {
			return err
		}
		logging.Infow(ctx, "caps: default role removed, resetting", "site", site, "removed", key, "default", s.fallback)
		publish(s.bus, TopicDefaultRoleReset, RoleEvent{Site: site, Role: s.fallback})
	}
	return nil
}

// GetRole returns the role, or nil if the site has no such role.
func (s *RoleStore) GetRole(ctx context.Context, site int64, key string) (*Role, error) {
	set, err := s.load(ctx, site)
	if err != nil {
		return nil, err
	}
	if i := set.index(key); i >= 0 {
		return set.Roles[i].clone(), nil
	}
	return nil, nil
}

// IsRole returns whether the site has the role.
func (s *RoleStore) IsRole(ctx context.Context, site int64, key string) (bool, error) {
	r, err := s.GetRole(ctx, site, key)
	return r != nil, err
}

// Names maps role keys to display names.
func (s *RoleStore) Names(ctx context.Context, site int64) (map[string]string, error) {
	set, err := s.load(ctx, site)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(set.Roles))
	for _, r := range set.Roles {
		names[r.Key] = r.Name
	}
	return names, nil
}

// Roles returns the site's roles in the order they were added.
func (s *RoleStore) Roles(ctx context.Context, site int64) ([]*Role, error) {
	set, err := s.load(ctx, site)
	if err != nil {
		return nil, err
	}
	roles := make([]*Role, len(set.Roles))
	for i, r := range set.Roles {
		roles[i] = r.clone()
	}
	return roles, nil
}

// AddCap grants (or explicitly denies) a capability on a role. Missing roles
// are ignored.
func (s *RoleStore) AddCap(ctx context.Context, site int64, role, name string, grant bool) error {
	return s.mutateRole(ctx, site, role, func(r *Role) {
		r.Capabilities[name] = grant
	}, TopicCapAdded, RoleEvent{Site: site, Role: role, Cap: name, Grant: grant})
}

// RemoveCap removes a capability from a role. Missing roles are ignored.
func (s *RoleStore) RemoveCap(ctx context.Context, site int64, role, name string) error {
	return s.mutateRole(ctx, site, role, func(r *Role) {
		delete(r.Capabilities, name)
	}, TopicCapRemoved, RoleEvent{Site: site, Role: role, Cap: name})
}

func (s *RoleStore) mutateRole(ctx context.Context, site int64, role string, fn func(*Role), topic string, ev RoleEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.load(ctx, site)
	if err != nil {
		return err
	}
	i := set.index(role)
	if i < 0 {
		return nil
	}
	if set.Roles[i].Capabilities == nil {
		set.Roles[i].Capabilities = map[string]bool{}
	}
	fn(&set.Roles[i])
	if err := s.save(ctx, set); err != nil {
		return err
	}
	publish(s.bus, topic, ev)
	return nil
}

// mentions reports whether any role on the site grants or denies the
// capability, or is named after it.
func (s *RoleStore) mentions(ctx context.Context, site int64, name string) (bool, error) {
	set, err := s.load(ctx, site)
	if err != nil {
		return false, err
	}
	for _, r := range set.Roles {
		if r.Key == name {
			return true, nil
		}
		if _, ok := r.Capabilities[name]; ok {
			return true, nil
		}
	}
	return false, nil
}

func publish(bus eventbus.EventBus, topic string, data any) {
	if bus != nil {
		bus.Publish(topic, data)
	}
}

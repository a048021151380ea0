package caps

import (
	"context"
	"slices"
	"sync"

	"github.com/dpup/capable/logging"
	"github.com/dpup/capable/plugins/options"
)

// Decision explains the outcome of a capability check.
type Decision struct {
	Site   int64
	UserID int64
	Cap    string
	Args   Args

	// Allowed is true if the user holds every required capability.
	Allowed bool

	// Required is the resolved list of primitive capabilities.
	Required []string

	// Missing are the required capabilities the user does not hold.
	Missing []string

	// SuperAdmin is true if the user is a network super admin.
	SuperAdmin bool

	Reason string
}

// AuditLogger receives every decision made by Checker.Check.
type AuditLogger func(ctx context.Context, d Decision)

// HasCapFilter rewrites a user's effective capabilities before the required
// capabilities are compared against them. Filters are not consulted for super
// admins.
type HasCapFilter func(ctx context.Context, allcaps map[string]bool, required []string, req Request) map[string]bool

type currentUserKey struct{}

// WithCurrentUser returns a context carrying the acting user.
func WithCurrentUser(ctx context.Context, userID int64) context.Context {
	ctx = context.WithValue(ctx, currentUserKey{}, userID)
	return logging.With(ctx, logging.FromContext(ctx).With("currentUser", userID))
}

// CurrentUser returns the acting user, if there is one.
func CurrentUser(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(currentUserKey{}).(int64)
	return id, ok && id != 0
}

// Checker answers whether a user holds a capability.
type Checker struct {
	settings Settings
	resolver *Resolver
	users    *Users
	options  OptionSource
	content  ContentSource
	audit    AuditLogger

	mu      sync.RWMutex
	filters []HasCapFilter
}

func newChecker(s Settings, r *Resolver, users *Users, opts OptionSource, cs ContentSource, audit AuditLogger) *Checker {
	c := &Checker{
		settings: s,
		resolver: r,
		users:    users,
		options:  opts,
		content:  cs,
		audit:    audit,
	}
	r.auth = c
	return c
}

// AddFilter appends a filter over users' effective capabilities.
func (c *Checker) AddFilter(f HasCapFilter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filters = append(c.filters, f)
}

// Check resolves the capability and compares it against the user's effective
// capabilities. Denial is reported in the decision, not as an error; errors
// mean a store could not be read.
func (c *Checker) Check(ctx context.Context, site, userID int64, name string, args Args) (Decision, error) {
	d, err := c.check(ctx, site, userID, name, args)
	if err != nil {
		return d, err
	}
	logging.Debugw(ctx, "caps: decision",
		"site", site, "user", userID, "cap", name, "object", args.ObjectID,
		"allowed", d.Allowed, "required", d.Required, "missing", d.Missing)
	if c.audit != nil {
		c.audit(ctx, d)
	}
	return d, nil
}

// UserCan returns whether the user holds the capability. Store failures are
// logged and treated as denial.
func (c *Checker) UserCan(ctx context.Context, site, userID int64, name string, args Args) bool {
	d, err := c.Check(ctx, site, userID, name, args)
	if err != nil {
		logging.Errorw(ctx, "caps: capability check failed", "site", site, "user", userID, "cap", name, "error", err)
		return false
	}
	return d.Allowed
}

// CurrentUserCan checks the user attached with WithCurrentUser. Without a
// current user nothing is allowed.
func (c *Checker) CurrentUserCan(ctx context.Context, site int64, name string, args Args) bool {
	id, ok := CurrentUser(ctx)
	if !ok {
		return false
	}
	return c.UserCan(ctx, site, id, name, args)
}

// AuthorCan checks the author of a post. Missing posts are denied.
func (c *Checker) AuthorCan(ctx context.Context, site, postID int64, name string, args Args) bool {
	post, err := c.content.Post(ctx, site, postID)
	if err != nil {
		logging.Errorw(ctx, "caps: loading post failed", "site", site, "post", postID, "error", err)
		return false
	}
	if post == nil || post.Author == 0 {
		return false
	}
	return c.UserCan(ctx, site, post.Author, name, args)
}

// IsSuperAdmin reports whether the user is a super admin. On a network that
// means the user's login is in the site_admins network option; on a single
// site it means the user can delete users.
func (c *Checker) IsSuperAdmin(ctx context.Context, site, userID int64) (bool, error) {
	if userID == 0 {
		return false, nil
	}
	if !c.settings.Multisite {
		return c.can(ctx, site, userID, "delete_users", Args{})
	}
	user, err := c.content.User(ctx, userID)
	if user == nil || err != nil {
		return false, err
	}
	logins, err := c.options.Strings(ctx, options.Network, options.SiteAdmins)
	if err != nil {
		return false, err
	}
	return slices.Contains(logins, user.Login), nil
}

func (c *Checker) can(ctx context.Context, site, userID int64, name string, args Args) (bool, error) {
	d, err := c.check(ctx, site, userID, name, args)
	return d.Allowed, err
}

func (c *Checker) check(ctx context.Context, site, userID int64, name string, args Args) (Decision, error) {
	req := Request{Site: site, Cap: name, UserID: userID, Args: args}
	d := Decision{Site: site, UserID: userID, Cap: name, Args: args}

	required, err := c.resolver.Map(ctx, req)
	if err != nil {
		return d, err
	}
	d.Required = required

	if c.settings.Multisite {
		sa, err := c.IsSuperAdmin(ctx, site, userID)
		if err != nil {
			return d, err
		}
		d.SuperAdmin = sa
	}

	if slices.Contains(required, DoNotAllow) {
		d.Missing = []string{DoNotAllow}
		d.Reason = "capability is not allowed for anyone"
		return d, nil
	}
	if d.SuperAdmin {
		d.Allowed = true
		d.Reason = "super admin"
		return d, nil
	}

	all, err := c.users.Effective(ctx, site, userID)
	if err != nil {
		return d, err
	}
	c.mu.RLock()
	filters := slices.Clone(c.filters)
	c.mu.RUnlock()
	for _, f := range filters {
		all = f(ctx, all, required, req)
	}
	if all == nil {
		all = map[string]bool{}
	}
	all[Exist] = true
	delete(all, DoNotAllow)

	for _, r := range required {
		if !all[r] {
			d.Missing = append(d.Missing, r)
		}
	}
	d.Allowed = len(d.Missing) == 0
	if d.Allowed {
		d.Reason = "granted"
	} else {
		d.Reason = "missing capabilities"
	}
	return d, nil
}

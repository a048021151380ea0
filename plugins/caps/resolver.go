package caps

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/dpup/capable/logging"
)

// Handler resolves one meta capability to the primitive capabilities a user
// must hold. Handlers may recurse through Resolver.Map.
type Handler func(ctx context.Context, req Request) ([]string, error)

// MapFilter rewrites a resolved list. Filters run after every resolution,
// including nested ones, in registration order.
type MapFilter func(ctx context.Context, caps []string, req Request) []string

// FileModFilter can veto (or re-allow) changes to code on disk. kind names the
// change being checked, e.g. "capability_update_core".
type FileModFilter func(ctx context.Context, allowed bool, kind string) bool

// MetaAuthFunc decides whether a user may change a meta key. allowed is false
// for protected keys and true otherwise; resolved is the list that was
// resolved for the object itself.
type MetaAuthFunc func(ctx context.Context, allowed bool, req Request, resolved []string) bool

// authority answers questions about users that some rules depend on.
type authority interface {
	IsSuperAdmin(ctx context.Context, site, userID int64) (bool, error)
	can(ctx context.Context, site, userID int64, name string, args Args) (bool, error)
}

type depthKey struct{}

// Resolver maps meta capabilities to primitive capabilities. It holds no
// caches: every call reads the current objects, options and roles.
type Resolver struct {
	settings Settings
	content  ContentSource
	options  OptionSource
	roles    *RoleStore
	auth     authority

	mu       sync.RWMutex
	handlers map[string]Handler
	filters  []MapFilter
	fileMods []FileModFilter
	metaAuth map[string]MetaAuthFunc
}

func newResolver(s Settings, cs ContentSource, opts OptionSource, roles *RoleStore) *Resolver {
	r := &Resolver{
		settings: s,
		content:  cs,
		options:  opts,
		roles:    roles,
		handlers: map[string]Handler{},
		metaAuth: map[string]MetaAuthFunc{},
	}
	r.registerPostRules()
	r.registerUserRules()
	r.registerFileRules()
	r.registerTermRules()
	r.registerMetaRules()
	r.registerSiteRules()
	return r
}

// Register adds a rule for a capability, replacing any existing rule.
func (r *Resolver) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// AddFilter appends a filter that runs on every resolved list.
func (r *Resolver) AddFilter(f MapFilter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters = append(r.filters, f)
}

// AddFileModFilter appends a filter consulted before any file modification
// capability is resolved.
func (r *Resolver) AddFileModFilter(f FileModFilter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fileMods = append(r.fileMods, f)
}

// RegisterMetaAuth registers a callback deciding access to a meta key for an
// object type ("post", "comment", "term" or "user"). subtype narrows the
// callback to a post type or taxonomy; an empty subtype matches any.
func (r *Resolver) RegisterMetaAuth(objectType, metaKey, subtype string, fn MetaAuthFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metaAuth[metaAuthKey(objectType, metaKey, subtype)] = fn
}

func metaAuthKey(objectType, metaKey, subtype string) string {
	return objectType + "\x00" + metaKey + "\x00" + subtype
}

func (r *Resolver) handle(h Handler, names ...string) {
	for _, n := range names {
		r.handlers[n] = h
	}
}

// Map resolves the request to the primitive capabilities the user must hold.
// A missing object resolves to DoNotAllow. Errors are only returned when a
// collaborator fails.
func (r *Resolver) Map(ctx context.Context, req Request) ([]string, error) {
	depth, _ := ctx.Value(depthKey{}).(int)
	depth++
	if depth > r.settings.MaxDepth {
		logging.Warnw(ctx, "caps: meta capability recursion limit reached",
			"cap", req.Cap, "user", req.UserID, "site", req.Site, "maxDepth", r.settings.MaxDepth)
		return denied(), nil
	}
	ctx = context.WithValue(ctx, depthKey{}, depth)

	r.mu.RLock()
	h := r.handlers[req.Cap]
	filters := slices.Clone(r.filters)
	r.mu.RUnlock()

	var (
		caps []string
		err  error
	)
	if h != nil {
		caps, err = h(ctx, req)
	} else {
		caps, err = r.fallback(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	for _, f := range filters {
		caps = f(ctx, caps, req)
	}
	return caps, nil
}

// mapAs resolves a different capability on behalf of req.
func (r *Resolver) mapAs(ctx context.Context, req Request, name string, args Args) ([]string, error) {
	return r.Map(ctx, req.with(name, args))
}

func (r *Resolver) fallback(ctx context.Context, req Request) ([]string, error) {
	if meta, ok := r.content.MetaCapFor(req.Cap); ok {
		return r.mapAs(ctx, req, meta, req.Args)
	}

	name := req.Cap
	if base, ok := strings.CutSuffix(name, "_blocks"); ok && blockCaps[name] {
		name = base + "_posts"
	}

	if r.settings.UnknownPolicy == Strict && !builtinCaps[name] {
		known, err := r.roles.mentions(ctx, req.Site, name)
		if err != nil {
			return nil, err
		}
		if !known {
			logging.Debugw(ctx, "caps: unknown capability denied", "cap", name, "site", req.Site)
			return denied(), nil
		}
	}
	return []string{name}, nil
}

var blockCaps = map[string]bool{
	"edit_blocks":             true,
	"edit_others_blocks":      true,
	"publish_blocks":          true,
	"read_private_blocks":     true,
	"delete_blocks":           true,
	"delete_private_blocks":   true,
	"delete_published_blocks": true,
	"delete_others_blocks":    true,
	"edit_private_blocks":     true,
	"edit_published_blocks":   true,
}

func (r *Resolver) superAdmin(ctx context.Context, req Request) (bool, error) {
	if r.auth == nil {
		return false, nil
	}
	return r.auth.IsSuperAdmin(ctx, req.Site, req.UserID)
}

// requireSuperAdminOnNetwork returns caps unless the deployment is multisite
// and the user is not a super admin.
func (r *Resolver) requireSuperAdminOnNetwork(ctx context.Context, req Request, caps ...string) ([]string, error) {
	if !r.settings.Multisite {
		return caps, nil
	}
	ok, err := r.superAdmin(ctx, req)
	if err != nil {
		return nil, err
	}
	if !ok {
		return denied(), nil
	}
	return caps, nil
}

func (r *Resolver) fileModAllowed(ctx context.Context, kind string) bool {
	allowed := !r.settings.DisallowFileMods
	r.mu.RLock()
	filters := slices.Clone(r.fileMods)
	r.mu.RUnlock()
	for _, f := range filters {
		allowed = f(ctx, allowed, kind)
	}
	return allowed
}

func requireObject(ctx context.Context, req Request) bool {
	if req.Args.ObjectID == 0 {
		logging.Warnw(ctx, "caps: meta capability checked without an object id", "cap", req.Cap, "user", req.UserID)
		return false
	}
	return true
}

func denied() []string {
	return []string{DoNotAllow}
}

func same(ctx context.Context, req Request) ([]string, error) {
	return []string{req.Cap}, nil
}

func to(caps ...string) Handler {
	return func(context.Context, Request) ([]string, error) {
		return slices.Clone(caps), nil
	}
}

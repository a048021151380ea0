// Package caps implements the capability model of a multi-site CMS: a role
// store holding named bundles of capability grants, a resolver mapping meta
// capabilities such as "edit this post" to primitive capabilities, and a
// checker combining the two to answer "can this user do this?".
//
// # Getting Started
//
//	r := &plugin.Registry{}
//	r.Register(storage.Plugin(memstore.New()))
//	r.Register(options.Plugin())
//	r.Register(content.Plugin())
//	r.Register(caps.Plugin(caps.WithSettings(caps.DefaultSettings())))
//	if err := r.Init(ctx); err != nil { ... }
//
//	cp, _ := plugin.Lookup[*caps.CapsPlugin](r, caps.PluginName)
//	cp.Roles.Populate(ctx, site)
//	cp.Checker.UserCan(ctx, site, userID, "edit_post", caps.On(postID))
//
// # Resolution
//
// A capability check first resolves the requested capability to a list of
// primitive capabilities, all of which the user must hold. Resolution is a
// command table keyed by capability name; unknown names fall through to the
// unknown-capability policy. Missing objects resolve to DoNotAllow, which no
// role can grant. Rules may recurse, e.g. read_post on a draft delegates to
// edit_post, up to Settings.MaxDepth levels.
//
// # Extension Points
//
// Resolver.Register replaces or adds a rule, Resolver.AddFilter rewrites
// resolved lists, Resolver.AddFileModFilter vetoes file modifications,
// Resolver.RegisterMetaAuth authorizes protected meta keys, and
// Checker.AddFilter rewrites a user's effective capabilities before they are
// compared.
package caps

import (
	"context"
	"time"

	"github.com/dpup/capable/errors"
	"github.com/dpup/capable/logging"
	"github.com/dpup/capable/plugin"
	"github.com/dpup/capable/plugins/content"
	"github.com/dpup/capable/plugins/eventbus"
	"github.com/dpup/capable/plugins/options"
	"github.com/dpup/capable/plugins/storage"
	"github.com/dpup/capable/plugins/storage/lock"
)

// PluginName can be used to query the caps plugin.
const PluginName = "caps"

const (
	// DoNotAllow is never granted, to anyone.
	DoNotAllow = "do_not_allow"

	// Exist is granted to everyone.
	Exist = "exist"
)

// UnknownPolicy decides what happens to capabilities no rule recognizes.
type UnknownPolicy string

const (
	// Permissive passes unknown capabilities through unchanged, so custom
	// capabilities can be granted to roles without registering a rule.
	Permissive UnknownPolicy = "permissive"

	// Strict passes through only capabilities some role on the site mentions
	// or that are part of the built-in capability set; anything else
	// resolves to DoNotAllow.
	Strict UnknownPolicy = "strict"
)

// Settings are deployment-wide switches.
type Settings struct {
	// Multisite enables network mode: super admins, network options and
	// network-only capabilities.
	Multisite bool

	// DisallowFileEdit vetoes the plugin and theme file editors.
	DisallowFileEdit bool

	// DisallowFileMods vetoes every capability that changes code on disk.
	DisallowFileMods bool

	// DisallowUnfilteredHTML vetoes unfiltered_html, even for super admins.
	DisallowUnfilteredHTML bool

	// AllowUnfilteredUploads must be set for unfiltered_upload to be grantable.
	AllowUnfilteredUploads bool

	UnknownPolicy UnknownPolicy

	// MaxDepth bounds recursive resolution.
	MaxDepth int

	// FallbackRole becomes the default role when the default is removed.
	FallbackRole string

	// LockStaleAfter is how long a Populate lock is honored.
	LockStaleAfter time.Duration
}

// DefaultSettings returns single-site settings with a permissive policy.
func DefaultSettings() Settings {
	return Settings{
		UnknownPolicy:  Permissive,
		MaxDepth:       8,
		FallbackRole:   RoleSubscriber,
		LockStaleAfter: lock.DefaultStaleAfter,
	}
}

// Args carries the object a meta capability refers to. A zero ObjectID means
// no object was given.
type Args struct {
	ObjectID int64
	MetaKey  string
}

// On returns Args for an object id.
func On(id int64) Args {
	return Args{ObjectID: id}
}

// OnMeta returns Args for a meta key of an object.
func OnMeta(id int64, key string) Args {
	return Args{ObjectID: id, MetaKey: key}
}

// Request is a single meta capability resolution.
type Request struct {
	Site   int64
	Cap    string
	UserID int64
	Args   Args
}

// with returns a copy of the request for a different capability and object.
func (r Request) with(name string, args Args) Request {
	return Request{Site: r.Site, Cap: name, UserID: r.UserID, Args: args}
}

// ContentSource supplies the objects and types that rules inspect. It is
// satisfied by *content.ContentPlugin.
type ContentSource interface {
	Post(ctx context.Context, site, id int64) (*content.Post, error)
	Comment(ctx context.Context, site, id int64) (*content.Comment, error)
	Term(ctx context.Context, site, id int64) (*content.Term, error)
	User(ctx context.Context, id int64) (*content.User, error)
	PostType(name string) (*content.PostType, bool)
	Status(name string) (*content.Status, bool)
	Taxonomy(name string) (*content.Taxonomy, bool)
	MetaCapFor(name string) (string, bool)
}

// OptionSource supplies site and network options. It is satisfied by
// *options.OptionsPlugin.
type OptionSource interface {
	String(ctx context.Context, site int64, key string, def string) (string, error)
	Int64(ctx context.Context, site int64, key string, def int64) (int64, error)
	Bool(ctx context.Context, site int64, key string) (bool, error)
	Strings(ctx context.Context, site int64, key string) ([]string, error)
	Flags(ctx context.Context, site int64, key string) (map[string]bool, error)
	Set(ctx context.Context, site int64, key string, value any) error
}

// Deps are the collaborators of the caps plugin.
type Deps struct {
	Store   storage.Store
	Options OptionSource
	Content ContentSource

	// Bus is optional. When set, role and user changes are published.
	Bus eventbus.EventBus
}

// Option configures the caps plugin.
type Option func(*CapsPlugin)

// WithSettings replaces the default settings.
func WithSettings(s Settings) Option {
	return func(p *CapsPlugin) {
		p.settings = s
	}
}

// WithAuditLogger configures a callback that receives every decision made by
// Checker.Check.
//
//	caps.WithAuditLogger(func(ctx context.Context, d caps.Decision) {
//	    log.Printf("caps: user=%d cap=%s allowed=%v", d.UserID, d.Cap, d.Allowed)
//	})
func WithAuditLogger(l AuditLogger) Option {
	return func(p *CapsPlugin) {
		p.audit = l
	}
}

// Plugin returns a caps plugin that is wired to the storage, options, content
// and (optionally) eventbus plugins on Init.
func Plugin(opts ...Option) *CapsPlugin {
	p := &CapsPlugin{settings: DefaultSettings()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// New returns a caps plugin wired to explicit dependencies.
func New(d Deps, opts ...Option) *CapsPlugin {
	p := Plugin(opts...)
	p.wire(d)
	return p
}

// CapsPlugin bundles the role store, user capabilities, resolver and checker.
type CapsPlugin struct {
	Roles    *RoleStore
	Users    *Users
	Resolver *Resolver
	Checker  *Checker

	settings Settings
	audit    AuditLogger
}

var (
	_ plugin.Plugin                  = (*CapsPlugin)(nil)
	_ plugin.DependentPlugin         = (*CapsPlugin)(nil)
	_ plugin.OptionalDependentPlugin = (*CapsPlugin)(nil)
	_ plugin.InitializablePlugin     = (*CapsPlugin)(nil)
)

// From plugin.Plugin.
func (p *CapsPlugin) Name() string {
	return PluginName
}

// From plugin.DependentPlugin.
func (p *CapsPlugin) Deps() []string {
	return []string{storage.PluginName, options.PluginName, content.PluginName}
}

// From plugin.OptionalDependentPlugin.
func (p *CapsPlugin) OptDeps() []string {
	return []string{eventbus.PluginName}
}

// From plugin.InitializablePlugin.
func (p *CapsPlugin) Init(ctx context.Context, r *plugin.Registry) error {
	sp, err := plugin.Lookup[*storage.StoragePlugin](r, storage.PluginName)
	if err != nil {
		return err
	}
	op, err := plugin.Lookup[*options.OptionsPlugin](r, options.PluginName)
	if err != nil {
		return err
	}
	cp, err := plugin.Lookup[*content.ContentPlugin](r, content.PluginName)
	if err != nil {
		return err
	}
	d := Deps{Store: sp, Options: op, Content: cp}
	if bp, err := plugin.Lookup[*eventbus.EventBusPlugin](r, eventbus.PluginName); err == nil {
		d.Bus = bp
	}

	for _, m := range []storage.Model{roleSet{}, UserCaps{}, lock.Record{}} {
		if err := sp.InitModel(ctx, m); err != nil {
			return errors.WrapPrefix(err, "caps: init model", 0)
		}
	}

	p.wire(d)
	logging.Infow(ctx, "caps: initialized",
		"multisite", p.settings.Multisite, "unknownPolicy", p.settings.UnknownPolicy, "maxDepth", p.settings.MaxDepth)
	return nil
}

// Settings returns the active settings.
func (p *CapsPlugin) Settings() Settings {
	return p.settings
}

func (p *CapsPlugin) wire(d Deps) {
	if p.settings.MaxDepth <= 0 {
		p.settings.MaxDepth = DefaultSettings().MaxDepth
	}
	if p.settings.FallbackRole == "" {
		p.settings.FallbackRole = RoleSubscriber
	}
	if p.settings.UnknownPolicy == "" {
		p.settings.UnknownPolicy = Permissive
	}
	if p.settings.LockStaleAfter <= 0 {
		p.settings.LockStaleAfter = lock.DefaultStaleAfter
	}

	locker := lock.New(d.Store, lock.WithStaleAfter(p.settings.LockStaleAfter))
	p.Roles = newRoleStore(d.Store, d.Options, d.Bus, locker, p.settings.FallbackRole)
	p.Users = newUsers(d.Store, p.Roles, d.Options, d.Content, d.Bus, p.settings.FallbackRole)
	p.Resolver = newResolver(p.settings, d.Content, d.Options, p.Roles)
	p.Checker = newChecker(p.settings, p.Resolver, p.Users, d.Options, d.Content, p.audit)
}

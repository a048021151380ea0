// Package capable assembles a capability engine for a multi-site CMS: roles,
// user capabilities, meta capability resolution and capability checks, backed
// by a configurable store.
//
// The engine is built from plugins that are wired through a registry:
//
//	engine, err := capable.New(ctx)
//	if err != nil { ... }
//	defer engine.Close(ctx)
//
//	engine.Roles.Populate(ctx, site)
//	engine.Users.SetRole(ctx, site, userID, caps.RoleEditor)
//	engine.Checker.UserCan(ctx, site, userID, "edit_post", caps.On(postID))
//
// Configuration is read from Config, see config.go.
package capable

import (
	"context"

	"github.com/dpup/capable/errors"
	"github.com/dpup/capable/logging"
	"github.com/dpup/capable/plugin"
	"github.com/dpup/capable/plugins/caps"
	"github.com/dpup/capable/plugins/content"
	"github.com/dpup/capable/plugins/eventbus"
	"github.com/dpup/capable/plugins/eventbus/membus"
	"github.com/dpup/capable/plugins/options"
	"github.com/dpup/capable/plugins/storage"
	"github.com/dpup/capable/plugins/storage/memstore"
	"github.com/dpup/capable/plugins/storage/postgres"
	"github.com/dpup/capable/plugins/storage/sqlite"
	"google.golang.org/grpc/codes"
)

// Storage drivers accepted by storage.driver.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrUnknownDriver is returned for an unsupported storage.driver.
var ErrUnknownDriver = errors.NewC("unknown storage driver", codes.InvalidArgument)

// Option customizes the engine.
type Option func(*builder)

// WithStore uses the given store instead of the one named by storage.driver.
func WithStore(s storage.Store) Option {
	return func(b *builder) {
		b.store = s
	}
}

// WithSettings overrides the capability settings read from Config.
func WithSettings(s caps.Settings) Option {
	return func(b *builder) {
		b.settings = &s
	}
}

// WithLogger sets the logger attached to the engine's context. By default the
// logger is chosen by logging.mode.
func WithLogger(l logging.Logger) Option {
	return func(b *builder) {
		b.logger = l
	}
}

// WithEventBus replaces the in-memory event bus.
func WithEventBus(eb eventbus.EventBus) Option {
	return func(b *builder) {
		b.bus = eb
	}
}

// WithAuditLogger receives every decision made by Checker.Check.
func WithAuditLogger(l caps.AuditLogger) Option {
	return func(b *builder) {
		b.capsOpts = append(b.capsOpts, caps.WithAuditLogger(l))
	}
}

// WithPlugin registers an additional plugin. Plugins may depend on any of the
// engine's plugins by name.
func WithPlugin(p plugin.Plugin) Option {
	return func(b *builder) {
		b.plugins = append(b.plugins, p)
	}
}

type builder struct {
	store    storage.Store
	settings *caps.Settings
	logger   logging.Logger
	bus      eventbus.EventBus
	capsOpts []caps.Option
	plugins  []plugin.Plugin
}

// Engine exposes the capability components of an initialized registry.
type Engine struct {
	Roles    *caps.RoleStore
	Users    *caps.Users
	Resolver *caps.Resolver
	Checker  *caps.Checker
	Content  *content.ContentPlugin
	Options  *options.OptionsPlugin
	Bus      eventbus.EventBus

	ctx      context.Context
	registry *plugin.Registry
}

// New builds and initializes an engine.
func New(ctx context.Context, opts ...Option) (*Engine, error) {
	b := &builder{}
	for _, opt := range opts {
		opt(b)
	}

	if b.logger == nil {
		b.logger = logging.NewLogger(ConfigString("logging.mode"))
	}
	ctx = logging.With(ctx, b.logger)

	settings := SettingsFromConfig()
	if b.settings != nil {
		settings = *b.settings
	}

	store := b.store
	if store == nil {
		var err error
		if store, err = openStore(ctx); err != nil {
			return nil, err
		}
	}
	bus := b.bus
	if bus == nil {
		bus = membus.New(ctx)
	}

	// Stores and buses passed in by the caller stay open.
	fail := func(err error) (*Engine, error) {
		if b.bus == nil {
			if serr := bus.Shutdown(ctx); serr != nil {
				logging.Warnw(ctx, "capable: event bus shutdown failed", "error", serr)
			}
		}
		if c, ok := store.(storage.Closer); ok && b.store == nil {
			if cerr := c.Close(); cerr != nil {
				logging.Warnw(ctx, "capable: store close failed", "error", cerr)
			}
		}
		return nil, err
	}

	r := &plugin.Registry{}
	r.Register(storage.Plugin(store))
	r.Register(eventbus.Plugin(bus))
	r.Register(options.Plugin())
	r.Register(content.Plugin())
	r.Register(caps.Plugin(append([]caps.Option{caps.WithSettings(settings)}, b.capsOpts...)...))
	for _, p := range b.plugins {
		r.Register(p)
	}
	if err := r.Init(ctx); err != nil {
		return fail(err)
	}

	cp, err := plugin.Lookup[*caps.CapsPlugin](r, caps.PluginName)
	if err != nil {
		return fail(err)
	}
	e := &Engine{
		Roles:    cp.Roles,
		Users:    cp.Users,
		Resolver: cp.Resolver,
		Checker:  cp.Checker,
		Bus:      bus,
		ctx:      ctx,
		registry: r,
	}
	if e.Content, err = plugin.Lookup[*content.ContentPlugin](r, content.PluginName); err != nil {
		return fail(err)
	}
	if e.Options, err = plugin.Lookup[*options.OptionsPlugin](r, options.PluginName); err != nil {
		return fail(err)
	}
	logging.Infow(ctx, "capable: engine ready", "driver", ConfigString("storage.driver"), "multisite", settings.Multisite)
	return e, nil
}

// Context returns the engine's base context, which carries its logger.
func (e *Engine) Context() context.Context {
	return e.ctx
}

// Plugins returns the engine's plugin registry.
func (e *Engine) Plugins() *plugin.Registry {
	return e.registry
}

// Close shuts down the plugins in reverse order, closing the store.
func (e *Engine) Close(ctx context.Context) error {
	return e.registry.Shutdown(ctx)
}

var openStore = OpenStore

// OpenStore opens the store named by storage.driver.
func OpenStore(ctx context.Context) (storage.Store, error) {
	SettingsFromConfig() // Ensures defaults are loaded.
	driver := ConfigString("storage.driver")
	dsn := ConfigString("storage.dsn")
	prefix := ConfigString("storage.prefix")

	switch driver {
	case DriverMemory, "":
		return memstore.New(), nil
	case DriverSQLite:
		if dsn == "" {
			dsn = ":memory:"
		}
		return sqlite.New(dsn, sqlite.WithPrefix(prefix))
	case DriverPostgres:
		return postgres.New(ctx, dsn, postgres.WithPrefix(prefix))
	}
	return nil, errors.Mark(ErrUnknownDriver, 0).Append(driver)
}

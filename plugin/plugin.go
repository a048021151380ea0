// Package plugin defines the interfaces implemented by engine components and
// the registry that initializes them in dependency order.
package plugin

import "context"

// Plugin is the base interface for all components.
type Plugin interface {
	// Name of the plugin, used for querying and dependency resolution.
	Name() string
}

// DependentPlugin is implemented if the plugin depends on other plugins.
type DependentPlugin interface {
	// Deps returns the names of plugins which must be initialized first.
	Deps() []string
}

// OptionalDependentPlugin is implemented if the plugin has optional
// dependencies, which are initialized first when present.
type OptionalDependentPlugin interface {
	OptDeps() []string
}

// InitializablePlugin is implemented if the plugin needs to be initialized
// outside construction.
type InitializablePlugin interface {
	// Init the plugin. Will be called in dependency order.
	Init(ctx context.Context, r *Registry) error
}

// ShutdownPlugin is implemented if the plugin holds resources that must be
// released, such as database connections.
type ShutdownPlugin interface {
	Shutdown(ctx context.Context) error
}

package plugin

import (
	"context"
	"errors"
	"fmt"
)

// Registry manages plugins and their dependencies.
type Registry struct {
	plugins     map[string]Plugin
	keys        []string
	initialized []string
}

// Get a plugin by name, or nil if it isn't registered.
func (r *Registry) Get(key string) Plugin {
	if p, ok := r.plugins[key]; ok {
		return p
	}
	return nil
}

// Lookup returns the named plugin as type T.
func Lookup[T Plugin](r *Registry, key string) (T, error) {
	var zero T
	p := r.Get(key)
	if p == nil {
		return zero, fmt.Errorf("plugin: '%v' not registered", key)
	}
	t, ok := p.(T)
	if !ok {
		return zero, fmt.Errorf("plugin: '%v' is %T, not %T", key, p, zero)
	}
	return t, nil
}

// Register a plugin. Registering a second plugin with the same name replaces
// the first.
func (r *Registry) Register(p Plugin) {
	if r.plugins == nil {
		r.plugins = map[string]Plugin{}
	}
	n := p.Name()
	if _, exists := r.plugins[n]; !exists {
		r.keys = append(r.keys, n)
	}
	r.plugins[n] = p
}

// Init all plugins in the registry. Plugins are visited in dependency order.
func (r *Registry) Init(ctx context.Context) error {
	visiting := make(map[string]bool)
	for _, key := range r.keys {
		if err := r.validateDeps(key, visiting, true); err != nil {
			return err
		}
	}

	initialized := make(map[string]bool)
	for _, key := range r.keys {
		if err := r.initPlugin(ctx, key, initialized); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown plugins in the reverse order of initialization.
func (r *Registry) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(r.initialized) - 1; i >= 0; i-- {
		if p, ok := r.plugins[r.initialized[i]].(ShutdownPlugin); ok {
			if err := p.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("plugin: failed to shutdown '%v': %w", r.initialized[i], err))
			}
		}
	}
	r.initialized = nil
	return errors.Join(errs...)
}

func (r *Registry) validateDeps(key string, visiting map[string]bool, required bool) error {
	if visiting[key] {
		return fmt.Errorf("plugin: dependency cycle detected involving '%v'", key)
	}

	p, ok := r.plugins[key]
	if !ok {
		if !required {
			return nil
		}
		return fmt.Errorf("plugin: missing dependency, '%v' not registered", key)
	}

	visiting[key] = true
	defer delete(visiting, key)
	for _, dep := range deps(p) {
		if err := r.validateDeps(dep, visiting, true); err != nil {
			return err
		}
	}
	for _, dep := range optDeps(p) {
		if err := r.validateDeps(dep, visiting, false); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) initPlugin(ctx context.Context, key string, initialized map[string]bool) error {
	if initialized[key] {
		return nil
	}
	p, ok := r.plugins[key]
	if !ok {
		// Optional dependencies that aren't registered are skipped.
		return nil
	}

	for _, dep := range append(deps(p), optDeps(p)...) {
		if err := r.initPlugin(ctx, dep, initialized); err != nil {
			return err
		}
	}

	if ip, ok := p.(InitializablePlugin); ok {
		if err := ip.Init(ctx, r); err != nil {
			return fmt.Errorf("plugin: failed to initialize '%v': %w", key, err)
		}
	}

	initialized[key] = true
	r.initialized = append(r.initialized, key)
	return nil
}

func deps(p Plugin) []string {
	if d, ok := p.(DependentPlugin); ok {
		return d.Deps()
	}
	return nil
}

func optDeps(p Plugin) []string {
	if d, ok := p.(OptionalDependentPlugin); ok {
		return d.OptDeps()
	}
	return nil
}

// Package storage contains an extensible interface for persisting the roles,
// options and content records the capability engine reads.
//
// Stores provide simple create, read, update, delete, and list operations.
// Models are represented as structs and should have a `PK() string` method.
//
// Examples:
//
//	r.Register(storage.Plugin(memstore.New()))
//
//	func (p *MyPlugin) Init(ctx context.Context, r *plugin.Registry) error {
//	  sp, err := plugin.Lookup[*storage.StoragePlugin](r, storage.PluginName)
//	  ...
//	}
package storage

import (
	"context"

	"github.com/dpup/capable/errors"
	"github.com/dpup/capable/plugin"
	"google.golang.org/grpc/codes"
)

// PluginName can be used to query the storage plugin.
const PluginName = "storage"

var (
	// Returned when a record does not exist.
	ErrNotFound = errors.NewC("record not found", codes.NotFound)

	// Returned when a record conficts with an existing key.
	ErrAlreadyExists = errors.NewC("primary key already exists", codes.AlreadyExists)

	// Returned when List is called with a non-slice.
	ErrSliceRequired = errors.NewC("pointer slice required", codes.InvalidArgument)

	// Returned when a store can not marshal/unmarshal a model.
	ErrInvalidModel = errors.NewC("invalid model", codes.InvalidArgument)

	// Returned when List is called with a filter and slice of mismatching types.
	ErrTypeMismatch = errors.NewC("type mismatch", codes.InvalidArgument)

	// Returned when a store is passed an uninitialized pointer.
	ErrNilModel = errors.NewC("uninitialized pointer passed as model", codes.InvalidArgument)
)

// Store offers a basic CRUUDLE (Create Read Update Upsert Delete List Exists)
// interface. Writes are last-write-wins; there are no transactions spanning
// calls.
type Store interface {
	// Create multiple entities.
	Create(ctx context.Context, models ...Model) error

	// Read a record with the given id.
	Read(ctx context.Context, id string, model Model) error

	// Update multiple entities.
	Update(ctx context.Context, models ...Model) error

	// Update or insert multiple entities.
	Upsert(ctx context.Context, models ...Model) error

	// Delete a record. Only the primary key needs to be populated.
	Delete(ctx context.Context, model Model) error

	// List populates the slice of models with records that have fields which
	// match the fields of filter. Zero-value fields will be ignored, unless the
	// field is a pointer.
	List(ctx context.Context, models any, filter Model) error

	// Exists returns true if a record with the given id exists.
	Exists(ctx context.Context, id string, model Model) (bool, error)
}

// ModelInitializer is an optional interface that stores can implement in
// order to support per-model configuration, for example a table per model in
// SQL databases.
type ModelInitializer interface {
	// InitModel is called by a plugin or application to initialize a model
	// before it is used. Stores will still work without initialization, however
	// data will be stored in a shared table.
	InitModel(ctx context.Context, model Model) error
}

// Closer is implemented by stores that hold connections.
type Closer interface {
	Close() error
}

// Plugin wraps a storage implementation for registration.
func Plugin(impl Store) *StoragePlugin {
	return &StoragePlugin{Store: impl}
}

// StoragePlugin exposes a Plugin interface for persisting data.
type StoragePlugin struct {
	Store
}

var (
	_ plugin.Plugin         = (*StoragePlugin)(nil)
	_ plugin.ShutdownPlugin = (*StoragePlugin)(nil)
)

// From plugin.Plugin.
func (p *StoragePlugin) Name() string {
	return PluginName
}

// InitModel can be called by a plugin or application to perform per model
// initialization. Stores that do not implement ModelInitializer should still
// function correctly, but may store data in a shared table.
func (p *StoragePlugin) InitModel(ctx context.Context, m Model) error {
	if i, ok := p.Store.(ModelInitializer); ok {
		return i.InitModel(ctx, m)
	}
	return nil
}

// From plugin.ShutdownPlugin. Closes the underlying store, if it can be.
func (p *StoragePlugin) Shutdown(ctx context.Context) error {
	if c, ok := p.Store.(Closer); ok {
		return errors.MaybeWrap(c.Close(), 0)
	}
	return nil
}

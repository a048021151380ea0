// Package storagetests provides common acceptance tests for storage.Store
// implementations.
package storagetests

import (
	"context"
	"testing"

	"github.com/dpup/capable/plugins/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Status int

const (
	StatusDraft   Status = 1
	StatusPending Status = 2
	StatusPublish Status = 3
	StatusPrivate Status = 4
	StatusTrash   Status = 5
)

// Entry is a post-like record used to exercise stores.
type Entry struct {
	ID       string
	Title    string
	Status   Status
	Revision *int // Ptr fields allow filtering on zero values.
}

func (e Entry) PK() string {
	return e.ID
}

// Site is a second model type, used to check type isolation.
type Site struct {
	ID     string
	Domain string
}

func (s Site) PK() string {
	return s.ID
}

// BadModel can not be encoded.
type BadModel struct {
	ID    string
	Cycle *BadModel
}

func (b BadModel) PK() string {
	return b.ID
}

func pint(i int) *int {
	return &i
}

func badModel() BadModel {
	bm := BadModel{ID: "XXX"}
	bm.Cycle = &bm
	return bm
}

// Run executes the acceptance suite. newStore must return an empty store on
// every call.
//
//nolint:funlen // This is a test helper.
func Run(t *testing.T, newStore func() storage.Store) {
	ctx := context.Background()

	t.Run("CreateReadRoundTrip", func(t *testing.T) {
		hello := Entry{ID: "1", Title: "Hello world", Status: StatusPublish}
		about := Entry{ID: "2", Title: "About", Status: StatusDraft}

		store := newStore()
		require.NoError(t, store.Create(ctx, hello, about))

		var got Entry
		require.NoError(t, store.Read(ctx, "1", &got))
		assert.Equal(t, hello, got)

		got = Entry{}
		require.NoError(t, store.Read(ctx, "2", &got))
		assert.Equal(t, about, got)
	})

	t.Run("CreateConflict", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx, Entry{ID: "1", Title: "Hello"}))

		err := store.Create(ctx, Entry{ID: "1", Title: "Hello again"})
		require.ErrorIs(t, err, storage.ErrAlreadyExists)
	})

	t.Run("TypesAreIsolated", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx, Entry{ID: "1", Title: "Hello"}, Site{ID: "1", Domain: "example.org"}))

		var site Site
		require.NoError(t, store.Read(ctx, "1", &site))
		assert.Equal(t, "example.org", site.Domain)
	})

	t.Run("BadModel", func(t *testing.T) {
		store := newStore()
		require.ErrorIs(t, store.Create(ctx, badModel()), storage.ErrInvalidModel)
		require.ErrorIs(t, store.Update(ctx, badModel()), storage.ErrInvalidModel)
		require.ErrorIs(t, store.Upsert(ctx, badModel()), storage.ErrInvalidModel)
	})

	t.Run("ReadNotFound", func(t *testing.T) {
		store := newStore()
		require.ErrorIs(t, store.Read(ctx, "1", &Entry{}), storage.ErrNotFound)

		require.NoError(t, store.Create(ctx, &Entry{ID: "1", Title: "Hello"}))
		require.ErrorIs(t, store.Read(ctx, "2", &Entry{}), storage.ErrNotFound)
	})

	t.Run("ReadWithNilPointer", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx, Entry{ID: "1", Title: "Hello"}))

		var got *Entry
		require.ErrorIs(t, store.Read(ctx, "1", got), storage.ErrNilModel)
	})

	t.Run("Update", func(t *testing.T) {
		entry := Entry{ID: "1", Title: "Hello", Status: StatusDraft}

		store := newStore()
		require.NoError(t, store.Create(ctx, entry))

		entry.Status = StatusTrash
		require.NoError(t, store.Update(ctx, entry))

		var got Entry
		require.NoError(t, store.Read(ctx, "1", &got))
		assert.Equal(t, entry, got)
	})

	t.Run("UpdateNotExists", func(t *testing.T) {
		store := newStore()
		err := store.Update(ctx, Entry{ID: "1", Title: "Hello"})
		require.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("Upsert", func(t *testing.T) {
		hello := Entry{ID: "1", Title: "Hello", Status: StatusDraft}

		store := newStore()
		require.NoError(t, store.Create(ctx, hello))

		hello.Status = StatusPublish
		about := Entry{ID: "2", Title: "About", Status: StatusPrivate}
		require.NoError(t, store.Upsert(ctx, hello, about))

		var got Entry
		require.NoError(t, store.Read(ctx, "1", &got))
		assert.Equal(t, hello, got)

		got = Entry{}
		require.NoError(t, store.Read(ctx, "2", &got))
		assert.Equal(t, about, got)
	})

	t.Run("Delete", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx, &Entry{ID: "4", Title: "Sample page"}))

		exists, err := store.Exists(ctx, "4", &Entry{})
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, store.Delete(ctx, &Entry{ID: "4"}))

		exists, err = store.Exists(ctx, "4", &Entry{})
		require.NoError(t, err)
		assert.False(t, exists)

		require.ErrorIs(t, store.Delete(ctx, &Entry{ID: "4"}), storage.ErrNotFound)
	})

	t.Run("ListErrorCases", func(t *testing.T) {
		store := newStore()
		out := []Entry{}

		tests := []struct {
			name    string
			models  any
			filter  storage.Model
			wantErr error
		}{
			{"Ok", &out, Entry{}, nil},
			{"Not a slice", Entry{}, Entry{}, storage.ErrSliceRequired},
			{"Not a pointer", out, Entry{}, storage.ErrSliceRequired},
			{"Mismatched type", &out, Site{}, storage.ErrTypeMismatch},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := store.List(ctx, tt.models, tt.filter)
				if tt.wantErr == nil {
					require.NoError(t, err)
					return
				}
				require.ErrorIs(t, err, tt.wantErr)
			})
		}
	})

	t.Run("List", func(t *testing.T) {
		store := newStore()
		entries := []Entry{
			{"1", "Hello", StatusPublish, nil},
			{"2", "About", StatusDraft, nil},
			{"3", "Contact", StatusPending, nil},
		}
		require.NoError(t, store.Create(ctx, entries[0], entries[1], entries[2]))

		actual := []Entry{}
		require.NoError(t, store.List(ctx, &actual, Entry{}))
		assert.Equal(t, entries, actual)
	})

	t.Run("ListFilter", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx,
			Entry{"1", "Hello", StatusPublish, nil},
			Entry{"2", "About", StatusDraft, nil},
			Entry{"3", "Contact", StatusPending, nil},
			Entry{"4", "Archive", StatusTrash, nil},
			Entry{"5", "News", StatusPublish, nil},
			Entry{"6", "Old news", StatusTrash, nil},
		))

		actual := []Entry{}
		require.NoError(t, store.List(ctx, &actual, Entry{Status: StatusPublish}))
		assert.Equal(t, []Entry{
			{"1", "Hello", StatusPublish, nil},
			{"5", "News", StatusPublish, nil},
		}, actual)
	})

	t.Run("ListFilterZero", func(t *testing.T) {
		store := newStore()
		require.NoError(t, store.Create(ctx,
			Entry{"1", "Hello", StatusPublish, pint(4)},
			Entry{"2", "About", StatusDraft, pint(3)},
			Entry{"3", "Contact", StatusPending, pint(0)},
			Entry{"4", "Archive", StatusTrash, pint(0)},
			Entry{"5", "News", StatusPublish, nil},
		))

		actual := []Entry{}
		require.NoError(t, store.List(ctx, &actual, Entry{Revision: pint(0)}))
		assert.Equal(t, []Entry{
			{"3", "Contact", StatusPending, pint(0)},
			{"4", "Archive", StatusTrash, pint(0)},
		}, actual)
	})

	t.Run("Exists", func(t *testing.T) {
		store := newStore()
		exists, err := store.Exists(ctx, "3", &Entry{})
		require.NoError(t, err)
		assert.False(t, exists)

		require.NoError(t, store.Create(ctx, &Entry{ID: "3", Title: "Contact"}))

		exists, err = store.Exists(ctx, "3", &Entry{})
		require.NoError(t, err)
		assert.True(t, exists)
	})
}

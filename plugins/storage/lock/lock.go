// Package lock implements a coarse advisory lock on top of storage.Store.
//
// A lock is a single record holding the owner and the time it was taken.
// Locks are not renewed; once a lock is older than the staleness window any
// caller may take it over. Use it to keep rare administrative routines, such
// as installing default roles, from running twice concurrently.
package lock

import (
	"context"
	"time"

	"github.com/dpup/capable/errors"
	"github.com/dpup/capable/logging"
	"github.com/dpup/capable/plugins/storage"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
)

// DefaultStaleAfter is how long a lock is honored when no other value is
// configured.
const DefaultStaleAfter = time.Hour

// ErrLocked is returned when a lock is held by somebody else.
var ErrLocked = errors.NewC("lock is held", codes.Aborted)

// Record is the persisted form of a lock.
type Record struct {
	Key        string
	Owner      string
	AcquiredAt time.Time
}

func (r Record) PK() string { return r.Key }

// Name is the storage name for lock records.
func (r Record) Name() string { return "locks" }

// Option configures a Locker.
type Option func(*Locker)

// WithStaleAfter sets the age after which a lock may be taken over.
func WithStaleAfter(d time.Duration) Option {
	return func(l *Locker) {
		l.staleAfter = d
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Locker) {
		l.now = now
	}
}

// New returns a Locker that stores records in the given store.
func New(store storage.Store, opts ...Option) *Locker {
	l := &Locker{
		store:      store,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Locker hands out advisory locks.
type Locker struct {
	store      storage.Store
	staleAfter time.Duration
	now        func() time.Time
}

// Lock is a held lock.
type Lock struct {
	locker *Locker
	record Record
}

// Owner returns the token identifying this holder.
func (lk *Lock) Owner() string {
	return lk.record.Owner
}

// Acquire takes the named lock. If the lock is held and not stale ErrLocked is
// returned.
func (l *Locker) Acquire(ctx context.Context, key string) (*Lock, error) {
	rec := Record{Key: key, Owner: uuid.NewString(), AcquiredAt: l.now().UTC()}

	err := l.store.Create(ctx, rec)
	if err == nil {
		return &Lock{locker: l, record: rec}, nil
	}
	if !errors.Is(err, storage.ErrAlreadyExists) {
		return nil, err
	}

	var existing Record
	if err := l.store.Read(ctx, key, &existing); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// Released between our create and read.
			return nil, errors.Mark(ErrLocked, 0)
		}
		return nil, err
	}
	age := l.now().Sub(existing.AcquiredAt)
	if age < l.staleAfter {
		return nil, errors.Mark(ErrLocked, 0).Append(key)
	}

	logging.Warnw(ctx, "lock: taking over stale lock", "key", key, "previousOwner", existing.Owner, "age", age)
	if err := l.store.Update(ctx, rec); err != nil {
		return nil, err
	}

	// Another caller may have taken over at the same time; last write wins.
	var check Record
	if err := l.store.Read(ctx, key, &check); err != nil {
		return nil, err
	}
	if check.Owner != rec.Owner {
		return nil, errors.Mark(ErrLocked, 0).Append(key)
	}
	return &Lock{locker: l, record: rec}, nil
}

// Release the lock. Releasing a lock that was taken over is a no-op.
func (lk *Lock) Release(ctx context.Context) error {
	var current Record
	if err := lk.locker.store.Read(ctx, lk.record.Key, &current); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		return err
	}
	if current.Owner != lk.record.Owner {
		return nil
	}
	err := lk.locker.store.Delete(ctx, current)
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// Package sqlite provides a SQLite implementation of the storage.Store
// interface.
//
// Examples:
//
//	store, err := sqlite.New("file:capable.s3db", sqlite.WithPrefix("cap_"))
//
//	store, err := sqlite.New(":memory:")
//
//nolint:gosec // Reports on G202. SQL string concat used to parameterize table.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/dpup/capable/errors"
	"github.com/dpup/capable/plugins/storage"

	"github.com/mattn/go-sqlite3"
)

// DefaultPrefix is prepended to every table name.
const DefaultPrefix = "cap_"

// Option is a functional option for configuring the store.
type Option func(*store)

// WithPrefix overides the default prefix for table names.
func WithPrefix(prefix string) Option {
	return func(s *store) {
		s.prefix = prefix
	}
}

// New returns a store that provides sqlite backed storage. The shared table is
// created optimistically on initialization.
func New(conn string, opts ...Option) (storage.Store, error) {
	db, err := sql.Open("sqlite3", conn)
	if err != nil {
		return nil, errors.Errorf("failed to open sqlite connection: %w", err)
	}
	// A second connection to ":memory:" would see a different database.
	if strings.Contains(conn, ":memory:") {
		db.SetMaxOpenConns(1)
	}
	s := &store{
		db:     db,
		prefix: DefaultPrefix,
		tables: map[string]bool{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.ensureDefaultTable(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

type store struct {
	db     *sql.DB
	prefix string

	mu     sync.RWMutex
	tables map[string]bool
}

// target describes where a model's rows live.
type target struct {
	table  string
	entity string
	shared bool
}

// where returns the clause selecting a single row by id.
func (t target) where(id string) (string, []any) {
	if t.shared {
		return " WHERE id = ? AND entity_type = ?", []any{id, t.entity}
	}
	return " WHERE id = ?", []any{id}
}

func (s *store) target(model storage.Model) target {
	name := storage.Name(model)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.tables[name] {
		return target{table: s.prefix + "default", entity: name, shared: true}
	}
	return target{table: s.prefix + name, entity: name}
}

// From ModelInitializer interface. Sets up a dedicated table for the model.
func (s *store) InitModel(ctx context.Context, model storage.Model) error {
	name := storage.Name(model)
	if err := s.ensureTable(ctx, name); err != nil {
		return err
	}
	s.mu.Lock()
	s.tables[name] = true
	s.mu.Unlock()
	return nil
}

// Close the underlying database.
func (s *store) Close() error {
	return s.db.Close()
}

func (s *store) Create(ctx context.Context, models ...storage.Model) error {
	return s.insert(ctx, false, models)
}

func (s *store) Upsert(ctx context.Context, models ...storage.Model) error {
	return s.insert(ctx, true, models)
}

func (s *store) Read(ctx context.Context, id string, model storage.Model) error {
	if err := storage.ValidateReceiver(model); err != nil {
		return err
	}

	t := s.target(model)
	where, args := t.where(id)

	var value []byte
	if err := s.db.QueryRowContext(ctx, "SELECT value FROM "+t.table+where, args...).Scan(&value); err != nil {
		return translateError(err)
	}
	if err := json.Unmarshal(value, model); err != nil {
		return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
	}
	return nil
}

func (s *store) Update(ctx context.Context, models ...storage.Model) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, model := range models {
			value, err := json.Marshal(model)
			if err != nil {
				return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
			}

			t := s.target(model)
			where, args := t.where(model.PK())
			res, err := tx.ExecContext(ctx,
				"UPDATE "+t.table+" SET value = ?, updated_at = CURRENT_TIMESTAMP"+where,
				append([]any{string(value)}, args...)...)
			if err != nil {
				return translateError(err)
			}
			if n, err := res.RowsAffected(); n == 0 || err != nil {
				return errors.Mark(storage.ErrNotFound, 0)
			}
		}
		return nil
	})
}

func (s *store) Delete(ctx context.Context, model storage.Model) error {
	t := s.target(model)
	where, args := t.where(model.PK())
	res, err := s.db.ExecContext(ctx, "DELETE FROM "+t.table+where, args...)
	if err != nil {
		return translateError(err)
	}
	if n, err := res.RowsAffected(); n == 0 || err != nil {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	return nil
}

func (s *store) List(ctx context.Context, models any, filter storage.Model) error {
	sliceVal, elemType, err := storage.ListTarget(models, filter)
	if err != nil {
		return err
	}

	query, args := s.buildListQuery(filter)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return translateError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var value []byte
		if err := rows.Scan(&value); err != nil {
			return translateError(err)
		}
		elemPtr := reflect.New(elemType)
		if err := json.Unmarshal(value, elemPtr.Interface()); err != nil {
			return errors.Mark(storage.ErrInvalidModel, 0).
				Append(err.Error()).
				Append(fmt.Sprintf("<%s>", value))
		}
		sliceVal.Set(reflect.Append(sliceVal, elemPtr.Elem()))
	}
	return translateError(rows.Err())
}

func (s *store) Exists(ctx context.Context, id string, model storage.Model) (bool, error) {
	t := s.target(model)
	where, args := t.where(id)

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+t.table+where, args...).Scan(&count); err != nil {
		return false, translateError(err)
	}
	return count > 0, nil
}

func (s *store) insert(ctx context.Context, upsert bool, models []storage.Model) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		for _, model := range models {
			value, err := json.Marshal(model)
			if err != nil {
				return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
			}

			t := s.target(model)
			var (
				query string
				args  []any
			)
			if t.shared {
				query = "INSERT INTO " + t.table + " (id, entity_type, value) VALUES (?, ?, ?)"
				args = []any{model.PK(), t.entity, string(value)}
				if upsert {
					query += " ON CONFLICT(id, entity_type) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP"
				}
			} else {
				query = "INSERT INTO " + t.table + " (id, value) VALUES (?, ?)"
				args = []any{model.PK(), string(value)}
				if upsert {
					query += " ON CONFLICT(id) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP"
				}
			}
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return translateError(err)
			}
		}
		return nil
	})
}

func (s *store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return translateError(err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return translateError(tx.Commit())
}

func (s *store) ensureDefaultTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+s.prefix+`default (
		id TEXT,
		entity_type TEXT,
		value TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id, entity_type)
	);`)
	if err != nil {
		return errors.Errorf("failed to create default table: %w", err)
	}
	return nil
}

func (s *store) ensureTable(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+s.prefix+name+` (
		id TEXT PRIMARY KEY,
		value TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`)
	if err != nil {
		return errors.Errorf("failed to create table [%s]: %w", name, err)
	}
	return nil
}

func (s *store) buildListQuery(filter storage.Model) (string, []any) {
	t := s.target(filter)

	var (
		clauses []string
		params  []any
	)
	if t.shared {
		clauses = append(clauses, "entity_type = ?")
		params = append(params, t.entity)
	}
	for _, f := range storage.FilterFields(filter) {
		clauses = append(clauses, fmt.Sprintf("json_extract(value, '$.%s') = ?", f.Name))
		params = append(params, f.Value)
	}

	query := "SELECT value FROM " + t.table
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	return query + " ORDER BY id", params
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code {
		case sqlite3.ErrNotFound:
			return errors.Mark(storage.ErrNotFound, 0)
		case sqlite3.ErrConstraint:
			return errors.Mark(storage.ErrAlreadyExists, 0)
		}
	}
	return errors.MaybeWrap(err, 0)
}

// Package memstore implements storage.Store in a purely in-memory manner.
// Records are kept as JSON so that callers never share memory with the store.
package memstore

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"sync"

	"github.com/dpup/capable/errors"
	"github.com/dpup/capable/plugins/storage"
)

// New returns a store that provides transient, in-memory storage.
func New() storage.Store {
	return &store{
		data: map[string]map[string][]byte{},
	}
}

type store struct {
	// data[tableName][pk] = JSON
	data map[string]map[string][]byte
	mu   sync.RWMutex
}

func (s *store) Create(ctx context.Context, models ...storage.Model) error {
	return s.put(models, func(table map[string][]byte, pk string) error {
		if _, exists := table[pk]; exists {
			return errors.Mark(storage.ErrAlreadyExists, 0).Append(pk)
		}
		return nil
	})
}

func (s *store) Read(ctx context.Context, id string, model storage.Model) error {
	if err := storage.ValidateReceiver(model); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.data[storage.Name(model)][id]
	if !ok {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	if err := json.Unmarshal(b, model); err != nil {
		return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
	}
	return nil
}

func (s *store) Update(ctx context.Context, models ...storage.Model) error {
	return s.put(models, func(table map[string][]byte, pk string) error {
		if _, exists := table[pk]; !exists {
			return errors.Mark(storage.ErrNotFound, 0)
		}
		return nil
	})
}

func (s *store) Upsert(ctx context.Context, models ...storage.Model) error {
	return s.put(models, nil)
}

// put encodes every model before taking the lock, and only writes once every
// model passes check, so a failed batch leaves the store untouched.
func (s *store) put(models []storage.Model, check func(map[string][]byte, string) error) error {
	encoded := make([][]byte, len(models))
	for i, m := range models {
		b, err := json.Marshal(m)
		if err != nil {
			return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
		}
		encoded[i] = b
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if check != nil {
		for _, m := range models {
			if err := check(s.data[storage.Name(m)], m.PK()); err != nil {
				return err
			}
		}
	}
	for i, m := range models {
		n := storage.Name(m)
		if s.data[n] == nil {
			s.data[n] = map[string][]byte{}
		}
		s.data[n][m.PK()] = encoded[i]
	}
	return nil
}

func (s *store) Delete(ctx context.Context, model storage.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := storage.Name(model)
	id := model.PK()
	if _, ok := s.data[n][id]; !ok {
		return errors.Mark(storage.ErrNotFound, 0)
	}
	delete(s.data[n], id)
	return nil
}

// List always performs a full scan of all items, returned in primary key
// order.
func (s *store) List(ctx context.Context, models any, filter storage.Model) error {
	sliceVal, elemType, err := storage.ListTarget(models, filter)
	if err != nil {
		return err
	}
	fields := storage.FilterFields(filter)

	s.mu.RLock()
	defer s.mu.RUnlock()

	table := s.data[storage.Name(filter)]
	pks := make([]string, 0, len(table))
	for pk := range table {
		pks = append(pks, pk)
	}
	sort.Strings(pks)

	for _, pk := range pks {
		elemPtr := reflect.New(elemType)
		if err := json.Unmarshal(table[pk], elemPtr.Interface()); err != nil {
			return errors.Mark(storage.ErrInvalidModel, 0).Append(err.Error())
		}
		if matches(reflect.Indirect(elemPtr.Elem()), fields) {
			sliceVal.Set(reflect.Append(sliceVal, elemPtr.Elem()))
		}
	}
	return nil
}

func (s *store) Exists(ctx context.Context, id string, model storage.Model) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[storage.Name(model)][id]
	return ok, nil
}

func matches(v reflect.Value, fields []storage.FilterField) bool {
	for _, f := range fields {
		fv := v.FieldByName(f.Name)
		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				return false
			}
			fv = fv.Elem()
		}
		if !reflect.DeepEqual(fv.Interface(), f.Value) {
			return false
		}
	}
	return true
}

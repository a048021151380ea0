package storage

import (
	"reflect"
	"sync"

	"github.com/dpup/capable/errors"
	pluralize "github.com/gertd/go-pluralize"
	"github.com/iancoleman/strcase"
)

var (
	pluralizer = pluralize.NewClient()
	modelNames sync.Map // reflect.Type -> string
)

// Model defines the interface for records which want to be persisted to a
// storage engine.
type Model interface {
	// PK returns the primary key that the record is stored under.
	PK() string
}

// Namer allows Models to override how the table-name is determined, for engines
// which require it.
type Namer interface {
	Name() string
}

// Name returns a pluralized, snake-cased version of the model's name, either
// derived from the struct or from the `Namer` interface.
func Name(m any) string {
	if n, ok := m.(Namer); ok {
		return n.Name()
	}
	t := reflect.TypeOf(m)
	for t.Kind() == reflect.Ptr || t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	if n, ok := modelNames.Load(t); ok {
		return n.(string)
	}
	n := pluralizer.Plural(strcase.ToSnake(t.Name()))
	modelNames.Store(t, n)
	return n
}

// ValidateReceiver returns an error if the model is nil or uninitialized.
func ValidateReceiver(model Model) error {
	if model == nil || (reflect.ValueOf(model).Kind() == reflect.Ptr && reflect.ValueOf(model).IsNil()) {
		return errors.Mark(ErrNilModel, 0)
	}
	return nil
}

// ListTarget validates the arguments to Store.List and returns the slice to
// append to along with its element type.
func ListTarget(models any, filter Model) (reflect.Value, reflect.Type, error) {
	modelsVal := reflect.ValueOf(models)
	if modelsVal.Kind() != reflect.Ptr || modelsVal.Elem().Kind() != reflect.Slice {
		return reflect.Value{}, nil, errors.Mark(ErrSliceRequired, 0)
	}
	sliceVal := modelsVal.Elem()
	elemType := sliceVal.Type().Elem()
	if elemType != reflect.TypeOf(filter) {
		return reflect.Value{}, nil, errors.Mark(ErrTypeMismatch, 0)
	}
	return sliceVal, elemType, nil
}

// FilterField is a field of a List filter that constrains results.
type FilterField struct {
	Name  string
	Value any
}

// FilterFields returns the fields of a filter model that should be matched:
// non-nil pointers and non-zero values. Pointer values are dereferenced.
func FilterFields(filter Model) []FilterField {
	v := reflect.Indirect(reflect.ValueOf(filter))
	if v.Kind() != reflect.Struct {
		return nil
	}
	var fields []FilterField
	for i := range v.NumField() {
		field := v.Field(i)
		tf := v.Type().Field(i)
		if !tf.IsExported() {
			continue
		}
		switch {
		case field.Kind() == reflect.Ptr && !field.IsNil():
			fields = append(fields, FilterField{Name: tf.Name, Value: field.Elem().Interface()})
		case field.Kind() != reflect.Ptr && !field.IsZero():
			fields = append(fields, FilterField{Name: tf.Name, Value: field.Interface()})
		}
	}
	return fields
}

package memstore

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/rested"
)

var (
	timeType = reflect.TypeOf(time.Time{})
	uuidType = reflect.TypeOf(uuid.UUID{})
)

// fieldIndex resolves data entity property names to struct fields. A field is
// reachable by its json name and by its Go name, case-insensitively.
type fieldIndex map[string][]int

func indexFields(t reflect.Type) fieldIndex {
	idx := make(fieldIndex)
	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous || !f.IsExported() {
			continue
		}
		idx[strings.ToLower(f.Name)] = f.Index
		if tag, ok := f.Tag.Lookup("json"); ok {
			name, _, _ := strings.Cut(tag, ",")
			if name != "" && name != "-" {
				idx[strings.ToLower(name)] = f.Index
			}
		}
	}
	return idx
}

func lowerName(name string) string {
	return strings.ToLower(name)
}

func (idx fieldIndex) lookup(v reflect.Value, name string) (reflect.Value, error) {
	path, ok := idx[lowerName(name)]
	if !ok {
		return reflect.Value{}, rested.InvalidRequest("unknown field %q", name)
	}
	return v.FieldByIndex(path), nil
}

// match evaluates f against one row.
func (idx fieldIndex) match(row reflect.Value, f rested.Filter) (bool, error) {
	field, err := idx.lookup(row, f.Field)
	if err != nil {
		return false, err
	}
	switch f.Op {
	case rested.OpContains:
		return strings.Contains(strings.ToLower(text(field)), strings.ToLower(f.Value)), nil
	case rested.OpStartsWith:
		return strings.HasPrefix(strings.ToLower(text(field)), strings.ToLower(f.Value)), nil
	}
	c, err := compareText(field, f.Value)
	if err != nil {
		return false, rested.InvalidRequest("filter %s: %v", f, err)
	}
	switch f.Op {
	case rested.OpEq:
		return c == 0, nil
	case rested.OpNe:
		return c != 0, nil
	case rested.OpGt:
		return c > 0, nil
	case rested.OpGe:
		return c >= 0, nil
	case rested.OpLt:
		return c < 0, nil
	case rested.OpLe:
		return c <= 0, nil
	default:
		return false, rested.InvalidRequest("unsupported operator %q", f.Op)
	}
}

// text renders a field for string matching.
func text(v reflect.Value) string {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return ""
		}
		v = v.Elem()
	}
	if s, ok := v.Interface().(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprint(v.Interface())
}

// compareText compares a field against a filter value parsed to the field's type.
func compareText(v reflect.Value, raw string) (int, error) {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			if raw == "" || raw == "null" {
				return 0, nil
			}
			return -1, nil
		}
		v = v.Elem()
	}
	switch {
	case v.Type() == timeType:
		want, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return 0, err
		}
		return v.Interface().(time.Time).Compare(want), nil
	case v.Type() == uuidType:
		return strings.Compare(v.Interface().(uuid.UUID).String(), strings.ToLower(raw)), nil
	}
	switch v.Kind() {
	case reflect.String:
		return strings.Compare(v.String(), raw), nil
	case reflect.Bool:
		want, err := strconv.ParseBool(raw)
		if err != nil {
			return 0, err
		}
		return compareOrdered(boolInt(v.Bool()), boolInt(want)), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		want, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, err
		}
		return compareOrdered(v.Int(), want), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		want, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return 0, err
		}
		return compareOrdered(v.Uint(), want), nil
	case reflect.Float32, reflect.Float64:
		want, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return 0, err
		}
		return compareOrdered(v.Float(), want), nil
	default:
		return strings.Compare(text(v), raw), nil
	}
}

// compareValues orders two fields of the same type.
func compareValues(a, b reflect.Value) int {
	if a.Kind() == reflect.Pointer {
		switch {
		case a.IsNil() && b.IsNil():
			return 0
		case a.IsNil():
			return -1
		case b.IsNil():
			return 1
		}
		a, b = a.Elem(), b.Elem()
	}
	if a.Type() == timeType {
		return a.Interface().(time.Time).Compare(b.Interface().(time.Time))
	}
	switch a.Kind() {
	case reflect.String:
		return strings.Compare(a.String(), b.String())
	case reflect.Bool:
		return compareOrdered(boolInt(a.Bool()), boolInt(b.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return compareOrdered(a.Int(), b.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return compareOrdered(a.Uint(), b.Uint())
	case reflect.Float32, reflect.Float64:
		return compareOrdered(a.Float(), b.Float())
	default:
		return strings.Compare(text(a), text(b))
	}
}

func compareOrdered[T int64 | uint64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// keyString renders a key so that radix order matches key order for
// non-negative integers.
func keyString(key any) string {
	v := reflect.ValueOf(key)
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if v.Int() >= 0 {
			return fmt.Sprintf("%020d", v.Int())
		}
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return fmt.Sprintf("%020d", v.Uint())
	}
	if s, ok := key.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%v", key)
}

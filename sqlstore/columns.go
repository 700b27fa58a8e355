package sqlstore

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/zoobzio/rested"
)

var timeType = reflect.TypeOf(time.Time{})

// column maps one struct field to one table column.
type column struct {
	name  string
	index []int
}

// columnSet is the whitelist of columns a table exposes. Property names from
// requests resolve through aliases: the db tag, the json name and the Go
// field name, case-insensitively.
type columnSet struct {
	ordered []column
	aliases map[string]column
}

func describe(t reflect.Type) (columnSet, error) {
	set := columnSet{aliases: make(map[string]column)}
	for _, f := range reflect.VisibleFields(t) {
		if f.Anonymous || !f.IsExported() {
			continue
		}
		name, ok := f.Tag.Lookup("db")
		if !ok || name == "" || name == "-" {
			continue
		}
		c := column{name: name, index: f.Index}
		set.ordered = append(set.ordered, c)
		set.aliases[strings.ToLower(name)] = c
		set.aliases[strings.ToLower(f.Name)] = c
		if tag, ok := f.Tag.Lookup("json"); ok {
			alias, _, _ := strings.Cut(tag, ",")
			if alias != "" && alias != "-" {
				set.aliases[strings.ToLower(alias)] = c
			}
		}
	}
	if len(set.ordered) == 0 {
		return set, fmt.Errorf("%s has no db-tagged fields", t)
	}
	return set, nil
}

func (s columnSet) resolve(property string) (column, error) {
	c, ok := s.aliases[strings.ToLower(property)]
	if !ok {
		return column{}, rested.InvalidRequest("unknown field %q", property)
	}
	return c, nil
}

// pick returns the columns of a projection. An empty projection
// selects every column; the key column is always included.
func (s columnSet) pick(fields []string, key column) ([]column, error) {
	if len(fields) == 0 {
		return s.ordered, nil
	}
	picked := []column{key}
	seen := map[string]bool{key.name: true}
	for _, f := range fields {
		c, err := s.resolve(f)
		if err != nil {
			return nil, err
		}
		if seen[c.name] {
			continue
		}
		seen[c.name] = true
		picked = append(picked, c)
	}
	return picked, nil
}

func quote(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func quoteAll(cols []column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = quote(c.name)
	}
	return strings.Join(names, ", ")
}

// targets returns scan destinations for cols inside row.
func targets(row reflect.Value, cols []column) []any {
	dest := make([]any, len(cols))
	for i, c := range cols {
		field := row.FieldByIndex(c.index)
		if field.Type() == timeType {
			dest[i] = &nullTime{dst: field.Addr().Interface().(*time.Time)}
			continue
		}
		dest[i] = field.Addr().Interface()
	}
	return dest
}

// values returns the arguments to write cols of row. Zero times are written as NULL.
func values(row reflect.Value, cols []column) []any {
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = value(row.FieldByIndex(c.index))
	}
	return args
}

func value(field reflect.Value) any {
	if field.Type() == timeType {
		t := field.Interface().(time.Time)
		if t.IsZero() {
			return nil
		}
		return t
	}
	if field.Kind() == reflect.Pointer && field.IsNil() {
		return nil
	}
	if v, ok := field.Interface().(driver.Valuer); ok {
		return v
	}
	return field.Interface()
}

// nullTime scans a nullable DATETIME into a plain time.Time, leaving it zero on NULL.
type nullTime struct {
	dst *time.Time
}

func (n *nullTime) Scan(src any) error {
	var nt sql.NullTime
	if err := nt.Scan(src); err != nil {
		return err
	}
	if nt.Valid {
		*n.dst = nt.Time
	} else {
		*n.dst = time.Time{}
	}
	return nil
}

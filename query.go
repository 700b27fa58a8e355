package rested

import (
	"fmt"
	"strings"
)

// Operator is a filter comparison.
type Operator string

// Filter operators.
const (
	OpEq         Operator = "eq"
	OpNe         Operator = "ne"
	OpGt         Operator = "gt"
	OpGe         Operator = "ge"
	OpLt         Operator = "lt"
	OpLe         Operator = "le"
	OpContains   Operator = "contains"
	OpStartsWith Operator = "startswith"
)

func (op Operator) valid() bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGe, OpLt, OpLe, OpContains, OpStartsWith:
		return true
	default:
		return false
	}
}

// Filter is a single field predicate. Value is kept as text; repositories
// convert it to the field's type.
type Filter struct {
	Field string
	Op    Operator
	Value string
}

func (f Filter) String() string {
	return f.Field + ":" + string(f.Op) + ":" + f.Value
}

// Sort orders results by one field.
type Sort struct {
	Field string
	Desc  bool
}

func (s Sort) String() string {
	if s.Desc {
		return s.Field + ":desc"
	}
	return s.Field + ":asc"
}

// ParseFilter parses "field:op:value", or "field:value" as shorthand for eq.
func ParseFilter(expr string) (Filter, error) {
	parts := strings.SplitN(expr, ":", 3)
	switch len(parts) {
	case 2:
		if parts[0] == "" {
			return Filter{}, fmt.Errorf("filter %q has no field", expr)
		}
		return Filter{Field: parts[0], Op: OpEq, Value: parts[1]}, nil
	case 3:
		op := Operator(strings.ToLower(parts[1]))
		if parts[0] == "" {
			return Filter{}, fmt.Errorf("filter %q has no field", expr)
		}
		if !op.valid() {
			// "field:value:with:colons" is an eq shorthand whose value holds colons.
			return Filter{Field: parts[0], Op: OpEq, Value: parts[1] + ":" + parts[2]}, nil
		}
		return Filter{Field: parts[0], Op: op, Value: parts[2]}, nil
	default:
		return Filter{}, fmt.Errorf("filter %q is not of the form field:op:value", expr)
	}
}

// ParseFilters parses every expression, failing on the first malformed one.
func ParseFilters(exprs []string) ([]Filter, error) {
	filters := make([]Filter, 0, len(exprs))
	for _, expr := range exprs {
		if strings.TrimSpace(expr) == "" {
			continue
		}
		f, err := ParseFilter(expr)
		if err != nil {
			return nil, err
		}
		filters = append(filters, f)
	}
	return filters, nil
}

// ParseSort parses "field", "field:asc" or "field:desc".
func ParseSort(expr string) (Sort, error) {
	field, dir, hasDir := strings.Cut(expr, ":")
	if field == "" {
		return Sort{}, fmt.Errorf("sort %q has no field", expr)
	}
	if !hasDir {
		return Sort{Field: field}, nil
	}
	switch strings.ToLower(dir) {
	case "asc":
		return Sort{Field: field}, nil
	case "desc":
		return Sort{Field: field, Desc: true}, nil
	default:
		return Sort{}, fmt.Errorf("sort %q has unknown direction %q", expr, dir)
	}
}

// ParseSorts parses every expression, failing on the first malformed one.
func ParseSorts(exprs []string) ([]Sort, error) {
	sorts := make([]Sort, 0, len(exprs))
	for _, expr := range exprs {
		if strings.TrimSpace(expr) == "" {
			continue
		}
		s, err := ParseSort(expr)
		if err != nil {
			return nil, err
		}
		sorts = append(sorts, s)
	}
	return sorts, nil
}

// FieldMap translates entity property names to data entity property names.
// Names without an entry pass through unchanged.
type FieldMap map[string]string

// Cast returns the data entity name for an entity property name.
func (m FieldMap) Cast(field string) string {
	if to, ok := m[field]; ok {
		return to
	}
	return field
}

// CastFilters translates filter fields through m.
func CastFilters(filters []Filter, m FieldMap) []Filter {
	out := make([]Filter, len(filters))
	for i, f := range filters {
		f.Field = m.Cast(f.Field)
		out[i] = f
	}
	return out
}

// CastSorts translates sort fields through m.
func CastSorts(sorts []Sort, m FieldMap) []Sort {
	out := make([]Sort, len(sorts))
	for i, s := range sorts {
		s.Field = m.Cast(s.Field)
		out[i] = s
	}
	return out
}

// ScopeFilter returns filters holding exactly one filter on f.Field: f itself.
// Caller-supplied filters on the same field are dropped, so applying a scope
// twice, or over a caller's own filter on the column, never duplicates it.
func ScopeFilter(filters []Filter, f Filter) []Filter {
	out := make([]Filter, 0, len(filters)+1)
	for _, existing := range filters {
		if existing.Field != f.Field {
			out = append(out, existing)
		}
	}
	return append(out, f)
}

// Specification is a conjunction of filters over a data entity.
// The zero value matches everything.
type Specification struct {
	filters []Filter
}

// NewSpecification combines filters with logical AND.
func NewSpecification(filters ...Filter) Specification {
	return Specification{filters: append([]Filter(nil), filters...)}
}

// All returns the always-true specification.
func All() Specification {
	return Specification{}
}

// And returns a specification that also requires f.
func (s Specification) And(f Filter) Specification {
	filters := make([]Filter, 0, len(s.filters)+1)
	filters = append(filters, s.filters...)
	return Specification{filters: append(filters, f)}
}

// Filters returns a copy of the conjuncts.
func (s Specification) Filters() []Filter {
	return append([]Filter(nil), s.filters...)
}

// IsAll reports whether the specification matches everything.
func (s Specification) IsAll() bool {
	return len(s.filters) == 0
}

func (s Specification) String() string {
	if s.IsAll() {
		return "all"
	}
	parts := make([]string, len(s.filters))
	for i, f := range s.filters {
		parts[i] = f.String()
	}
	return strings.Join(parts, " and ")
}

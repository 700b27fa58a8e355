package rested

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/google/uuid"
	"github.com/gorilla/schema"
	"github.com/zoobzio/sentinel"
)

// KeyShape classifies how a key binds to a route.
type KeyShape int

const (
	// KeyPrimitive keys bind from a single {id} segment.
	KeyPrimitive KeyShape = iota
	// KeyComposite keys bind one segment per exported field.
	KeyComposite
)

func (s KeyShape) String() string {
	if s == KeyComposite {
		return "composite"
	}
	return "primitive"
}

var uuidType = reflect.TypeOf(uuid.UUID{})

var (
	keyDecoder = schema.NewDecoder()
	keyEncoder = schema.NewEncoder()
)

func init() {
	keyDecoder.SetAliasTag("json")
	keyDecoder.IgnoreUnknownKeys(true)
	keyDecoder.RegisterConverter(uuid.UUID{}, func(s string) reflect.Value {
		id, err := uuid.Parse(s)
		if err != nil {
			return reflect.Value{}
		}
		return reflect.ValueOf(id)
	})

	keyEncoder.SetAliasTag("json")
	keyEncoder.RegisterEncoder(uuid.UUID{}, func(v reflect.Value) string {
		return v.Interface().(uuid.UUID).String()
	})
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// isPrimitiveType reports whether t is a string, Guid, numeric or boolean type.
// Named types over those kinds count as primitive.
func isPrimitiveType(t reflect.Type) bool {
	if t == uuidType {
		return true
	}
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

// IsPrimitiveKey reports whether K binds from a single route segment.
func IsPrimitiveKey[K any]() bool {
	return isPrimitiveType(typeOf[K]())
}

// KeyShapeOf classifies K.
func KeyShapeOf[K any]() KeyShape {
	if IsPrimitiveKey[K]() {
		return KeyPrimitive
	}
	return KeyComposite
}

// keyField maps a composite key field to its route segment.
type keyField struct {
	alias   string // Name gorilla/schema binds (json tag or field name).
	segment string // Route parameter name.
}

// KeyInfo describes a key type for route building and binding.
type KeyInfo struct {
	Shape      KeyShape
	Type       string // OpenAPI schema type of a primitive key.
	Format     string // OpenAPI schema format of a primitive key.
	Constraint string // Inline route regex for a primitive key.
	fields     []keyField
}

// Segments returns the route parameter names for the key, in order.
func (k KeyInfo) Segments() []string {
	if k.Shape == KeyPrimitive {
		return []string{"id"}
	}
	segments := make([]string, len(k.fields))
	for i, f := range k.fields {
		segments[i] = f.segment
	}
	return segments
}

// DescribeKey derives KeyInfo for K. Composite segment names come from the
// json tag, or the field name cased to format.
func DescribeKey[K any](format CaseFormat) KeyInfo {
	t := typeOf[K]()
	if isPrimitiveType(t) {
		info := KeyInfo{Shape: KeyPrimitive}
		info.Type, info.Format = schemaTypeOf(t)
		info.Constraint = constraintOf(t)
		return info
	}
	return KeyInfo{Shape: KeyComposite, fields: compositeFields[K](format)}
}

// RouteSegments returns the route segment names of K.
func RouteSegments[K any](format CaseFormat) []string {
	return DescribeKey[K](format).Segments()
}

func compositeFields[K any](format CaseFormat) []keyField {
	meta := sentinel.Scan[K]()
	fields := make([]keyField, 0, len(meta.Fields))
	for _, f := range meta.Fields {
		if f.Name == "" || !unicode.IsUpper(rune(f.Name[0])) {
			continue
		}
		name := f.Name
		segment := format.Apply(f.Name)
		if tag, ok := f.Tags["json"]; ok {
			tagName := strings.Split(tag, ",")[0]
			if tagName == "-" {
				continue
			}
			if tagName != "" {
				name = tagName
				segment = tagName
			}
		}
		fields = append(fields, keyField{alias: name, segment: segment})
	}
	return fields
}

func schemaTypeOf(t reflect.Type) (typ, format string) {
	if t == uuidType {
		return "string", "uuid"
	}
	switch t.Kind() {
	case reflect.Bool:
		return "boolean", ""
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return "integer", "int32"
	case reflect.Int64, reflect.Uint64:
		return "integer", "int64"
	case reflect.Float32, reflect.Float64:
		return "number", ""
	default:
		return "string", ""
	}
}

func constraintOf(t reflect.Type) string {
	if t == uuidType {
		return "[0-9a-fA-F-]+"
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "-?[0-9]+"
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "[0-9]+"
	case reflect.Bool:
		return "(true|false)"
	default:
		return ""
	}
}

// ParseKey parses a primitive key from its route segment.
func ParseKey[K any](raw string) (K, error) {
	var key K
	if err := parseInto(reflect.ValueOf(&key).Elem(), raw); err != nil {
		return key, err
	}
	return key, nil
}

func parseInto(v reflect.Value, raw string) error {
	if v.Type() == uuidType {
		id, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("parse uuid %q: %w", raw, err)
		}
		v.Set(reflect.ValueOf(id))
		return nil
	}
	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("parse bool %q: %w", raw, err)
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, v.Type().Bits())
		if err != nil {
			return fmt.Errorf("parse integer %q: %w", raw, err)
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, v.Type().Bits())
		if err != nil {
			return fmt.Errorf("parse unsigned integer %q: %w", raw, err)
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, v.Type().Bits())
		if err != nil {
			return fmt.Errorf("parse number %q: %w", raw, err)
		}
		v.SetFloat(f)
	default:
		return fmt.Errorf("key type %s is not primitive", v.Type())
	}
	return nil
}

// bindPrimitiveKey parses K from the {id} segment.
func bindPrimitiveKey[K any](_ KeyInfo, path map[string]string) (K, error) {
	var key K
	raw, ok := path["id"]
	if !ok || raw == "" {
		return key, InvalidRequest("missing route parameter %q", "id")
	}
	parsed, err := ParseKey[K](raw)
	if err != nil {
		return key, InvalidRequest("invalid key: %v", err)
	}
	return parsed, nil
}

// bindCompositeKey decodes K from one segment per key field.
func bindCompositeKey[K any](info KeyInfo, path map[string]string) (K, error) {
	var key K
	values := make(map[string][]string, len(info.fields))
	for _, f := range info.fields {
		raw, ok := path[f.segment]
		if !ok || raw == "" {
			return key, InvalidRequest("missing route parameter %q", f.segment)
		}
		values[f.alias] = []string{raw}
	}
	if err := keyDecoder.Decode(&key, values); err != nil {
		return key, InvalidRequest("invalid composite key: %v", err)
	}
	return key, nil
}

// KeyRouteValues renders key into route parameter values, the inverse of binding.
func KeyRouteValues[K any](info KeyInfo, key K) (map[string]string, error) {
	if info.Shape == KeyPrimitive {
		return map[string]string{"id": formatPrimitive(key)}, nil
	}
	encoded := make(map[string][]string)
	if err := keyEncoder.Encode(key, encoded); err != nil {
		return nil, fmt.Errorf("encode composite key: %w", err)
	}
	values := make(map[string]string, len(info.fields))
	for _, f := range info.fields {
		if v := encoded[f.alias]; len(v) > 0 {
			values[f.segment] = v[0]
		}
	}
	return values, nil
}

func formatPrimitive(v any) string {
	if s, ok := v.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprint(v)
}

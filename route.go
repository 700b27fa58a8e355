package rested

import (
	"net/url"
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// CaseFormat selects how resource names are rendered in routes.
type CaseFormat string

// Supported case formats.
const (
	CaseCamel  CaseFormat = "camel"  // blogPosts
	CasePascal CaseFormat = "pascal" // BlogPosts
	CaseKebab  CaseFormat = "kebab"  // blog-posts
	CaseSnake  CaseFormat = "snake"  // blog_posts
)

// title upper-cases the first letter of a lower-cased word. Casers hold
// state, so each call gets its own.
func title(word string) string {
	return cases.Title(language.Und).String(strings.ToLower(word))
}

func (f CaseFormat) valid() bool {
	switch f {
	case CaseCamel, CasePascal, CaseKebab, CaseSnake:
		return true
	default:
		return false
	}
}

// Apply renders name in the case format. Unknown formats fall back to camel.
func (f CaseFormat) Apply(name string) string {
	return f.join(splitWords(name))
}

func (f CaseFormat) join(words []string) string {
	if len(words) == 0 {
		return ""
	}
	switch f {
	case CaseKebab, CaseSnake:
		sep := "-"
		if f == CaseSnake {
			sep = "_"
		}
		lowered := make([]string, len(words))
		for i, w := range words {
			lowered[i] = strings.ToLower(w)
		}
		return strings.Join(lowered, sep)
	case CasePascal:
		var b strings.Builder
		for _, w := range words {
			b.WriteString(title(w))
		}
		return b.String()
	default:
		var b strings.Builder
		b.WriteString(strings.ToLower(words[0]))
		for _, w := range words[1:] {
			b.WriteString(title(w))
		}
		return b.String()
	}
}

// splitWords breaks an identifier into words on case changes, digits
// boundaries and separators. Acronyms stay together: "HTTPServer" is
// ["HTTP", "Server"].
func splitWords(name string) []string {
	var words []string
	runes := []rune(name)
	start := -1
	flush := func(end int) {
		if start >= 0 && end > start {
			words = append(words, string(runes[start:end]))
		}
		start = -1
	}
	for i, r := range runes {
		if r == '-' || r == '_' || r == ' ' || r == '.' || r == '/' {
			flush(i)
			continue
		}
		if start < 0 {
			start = i
			continue
		}
		prev := runes[i-1]
		switch {
		case unicode.IsUpper(r) && unicode.IsLower(prev):
			flush(i)
			start = i
		case unicode.IsUpper(r) && unicode.IsUpper(prev) && i+1 < len(runes) && unicode.IsLower(runes[i+1]):
			flush(i)
			start = i
		}
	}
	flush(len(runes))
	return words
}

// Pluralize returns the plural of name, pluralizing only its last word.
func Pluralize(name string) string {
	return strings.Join(pluralWords(name), "")
}

// ResourceSegment renders an entity display name as a route segment:
// pluralized, then cased.
func ResourceSegment(entity string, format CaseFormat) string {
	return format.join(pluralWords(entity))
}

func pluralWords(entity string) []string {
	words := splitWords(entity)
	if len(words) > 0 {
		last := len(words) - 1
		words[last] = inflection.Plural(words[last])
	}
	return words
}

// DefaultReferenceParam is the route parameter name used for a reference to
// entity when none is given: camelCase(entity) + "Id".
func DefaultReferenceParam(entity string) string {
	return CaseCamel.Apply(entity) + "Id"
}

// RouteTarget is the input to BuildRoute.
type RouteTarget struct {
	Entity      string     // Entity display name, singular.
	Format      CaseFormat // Case format for resource segments.
	Prefix      string     // Group prefix, e.g. "/api".
	Key         KeyInfo
	WithID      bool
	Reference   *Reference
	Constraints bool // Emit inline regex constraints for primitive keys.
}

// BuildRoute produces the path template for target. It is deterministic.
func BuildRoute(target RouteTarget) string {
	var b strings.Builder

	if prefix := strings.Trim(target.Prefix, "/"); prefix != "" {
		b.WriteString("/")
		b.WriteString(prefix)
	}

	if ref := target.Reference; ref != nil {
		b.WriteString("/")
		b.WriteString(ResourceSegment(ref.Entity, target.Format))
		b.WriteString("/")
		b.WriteString(param(ref.Param, ref.key.Constraint, target.Constraints))
	}

	b.WriteString("/")
	b.WriteString(ResourceSegment(target.Entity, target.Format))

	if target.WithID {
		if target.Key.Shape == KeyPrimitive {
			b.WriteString("/")
			b.WriteString(param("id", target.Key.Constraint, target.Constraints))
		} else {
			for _, segment := range target.Key.Segments() {
				b.WriteString("/")
				b.WriteString(param(segment, "", false))
			}
		}
	}

	return b.String()
}

func param(name, constraint string, constraints bool) string {
	if constraints && constraint != "" {
		return "{" + name + ":" + constraint + "}"
	}
	return "{" + name + "}"
}

// PathParams lists the parameter names in a path template, in order.
func PathParams(pattern string) []string {
	var params []string
	for _, seg := range strings.Split(pattern, "/") {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			name := strings.TrimSuffix(strings.TrimPrefix(seg, "{"), "}")
			if i := strings.Index(name, ":"); i >= 0 {
				name = name[:i]
			}
			params = append(params, name)
		}
	}
	return params
}

// OpenAPIPath strips inline constraints from a path template.
func OpenAPIPath(pattern string) string {
	segs := strings.Split(pattern, "/")
	for i, seg := range segs {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			if j := strings.Index(seg, ":"); j >= 0 {
				segs[i] = seg[:j] + "}"
			}
		}
	}
	return strings.Join(segs, "/")
}

// ExpandRoute substitutes values into a path template. Parameters without a
// value are left as they are.
func ExpandRoute(pattern string, values map[string]string) string {
	segs := strings.Split(OpenAPIPath(pattern), "/")
	for i, seg := range segs {
		if strings.HasPrefix(seg, "{") && strings.HasSuffix(seg, "}") {
			name := seg[1 : len(seg)-1]
			if v, ok := values[name]; ok {
				segs[i] = url.PathEscape(v)
			}
		}
	}
	return strings.Join(segs, "/")
}

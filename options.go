package rested

import (
	"fmt"
	"net/http"
	"strings"
)

// Verb is a CRUD verb. Verbs combine into a bitmask of enabled endpoints.
type Verb uint8

// CRUD verbs.
const (
	VerbGet Verb = 1 << iota
	VerbList
	VerbCreate
	VerbUpdate
	VerbDelete
)

// Verb sets.
const (
	VerbsRead = VerbGet | VerbList
	VerbsAll  = VerbGet | VerbList | VerbCreate | VerbUpdate | VerbDelete
)

var verbNames = []struct {
	verb Verb
	name string
}{
	{VerbGet, "get"},
	{VerbList, "list"},
	{VerbCreate, "create"},
	{VerbUpdate, "update"},
	{VerbDelete, "delete"},
}

// Has reports whether every verb in o is enabled in v.
func (v Verb) Has(o Verb) bool {
	return o != 0 && v&o == o
}

// Each returns the single verbs in v in canonical order.
func (v Verb) Each() []Verb {
	var out []Verb
	for _, vn := range verbNames {
		if v.Has(vn.verb) {
			out = append(out, vn.verb)
		}
	}
	return out
}

func (v Verb) String() string {
	names := make([]string, 0, 5)
	for _, vn := range verbNames {
		if v.Has(vn.verb) {
			names = append(names, vn.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}

// Method returns the HTTP method a single verb is served on.
func (v Verb) Method() string {
	switch v {
	case VerbCreate:
		return http.MethodPost
	case VerbUpdate:
		return http.MethodPut
	case VerbDelete:
		return http.MethodDelete
	default:
		return http.MethodGet
	}
}

// ParseVerbs parses verb names. An empty list enables every verb.
func ParseVerbs(names []string) (Verb, error) {
	if len(names) == 0 {
		return VerbsAll, nil
	}
	var v Verb
	for _, name := range names {
		found := false
		for _, vn := range verbNames {
			if strings.EqualFold(strings.TrimSpace(name), vn.name) {
				v |= vn.verb
				found = true
				break
			}
		}
		if !found {
			switch strings.ToLower(name) {
			case "all":
				v |= VerbsAll
			case "read":
				v |= VerbsRead
			default:
				return 0, fmt.Errorf("unknown verb %q", name)
			}
		}
	}
	return v, nil
}

// Reference binds a resource under a parent resource.
// Reference keys are primitive; the parsed value is carried on requests as RefID.
type Reference struct {
	Entity string // Parent entity display name.
	Param  string // Route parameter carrying the parent key.
	key    KeyInfo
	parse  func(string) (any, error)
}

// NewReference declares a parent entity keyed by RK. The route parameter
// defaults to camelCase(entity) + "Id". It panics if RK is not a primitive key.
func NewReference[RK comparable](entity string) *Reference {
	if !IsPrimitiveKey[RK]() {
		panic(fmt.Sprintf("rested: reference key for %s must be primitive", entity))
	}
	return &Reference{
		Entity: entity,
		Param:  DefaultReferenceParam(entity),
		key:    DescribeKey[RK](CaseCamel),
		parse: func(raw string) (any, error) {
			return ParseKey[RK](raw)
		},
	}
}

// Named returns a copy of the reference using param as the route parameter.
func (r *Reference) Named(param string) *Reference {
	c := *r
	c.Param = param
	return &c
}

// Key describes the reference key type.
func (r *Reference) Key() KeyInfo {
	return r.key
}

// Parse converts a raw route value into the reference key.
func (r *Reference) Parse(raw string) (any, error) {
	return r.parse(raw)
}

// EndpointOptions configures one verb of a resource.
// Unset tri-state flags inherit from the resource Options, then the CrudConfig.
type EndpointOptions struct {
	name        string
	summary     string
	description string
	tags        []string
	parameters  []Parameter
	auth        *bool
	validate    *bool
	reference   *Reference
	filters     []func(http.Handler) http.Handler
}

// WithName sets the route name. Create uses the Get route name to build Location.
func (o *EndpointOptions) WithName(name string) *EndpointOptions {
	o.name = name
	return o
}

// WithSummary sets the OpenAPI summary.
func (o *EndpointOptions) WithSummary(summary string) *EndpointOptions {
	o.summary = summary
	return o
}

// WithDescription sets the OpenAPI description.
func (o *EndpointOptions) WithDescription(desc string) *EndpointOptions {
	o.description = desc
	return o
}

// WithTags sets the OpenAPI tags.
func (o *EndpointOptions) WithTags(tags ...string) *EndpointOptions {
	o.tags = tags
	return o
}

// WithParameters appends extra OpenAPI parameters. They are listed before the
// endpoint's own parameters, in the order given.
func (o *EndpointOptions) WithParameters(params ...Parameter) *EndpointOptions {
	o.parameters = append(o.parameters, params...)
	return o
}

// RequireAuth explicitly sets whether the endpoint requires an identity.
func (o *EndpointOptions) RequireAuth(on bool) *EndpointOptions {
	o.auth = &on
	return o
}

// RequireValidation explicitly sets whether the body is validated.
func (o *EndpointOptions) RequireValidation(on bool) *EndpointOptions {
	o.validate = &on
	return o
}

// WithReference nests this verb under a parent resource.
func (o *EndpointOptions) WithReference(ref *Reference) *EndpointOptions {
	o.reference = ref
	return o
}

// WithFilter adds endpoint middleware, applied in order.
func (o *EndpointOptions) WithFilter(filters ...func(http.Handler) http.Handler) *EndpointOptions {
	o.filters = append(o.filters, filters...)
	return o
}

// Options aggregates the five per-verb options of one resource plus the
// cross-cutting knobs. Cross-cutting settings apply to every verb that has
// no explicit setting of its own.
type Options struct {
	Get    *EndpointOptions
	List   *EndpointOptions
	Create *EndpointOptions
	Update *EndpointOptions
	Delete *EndpointOptions

	caseFormat CaseFormat
	prefix     *string
	verbs      Verb
	auth       *bool
	validate   *bool
	reference  *Reference
	tags       []string
}

// NewOptions returns empty Options; every value inherits until set.
func NewOptions() *Options {
	return &Options{
		Get:    &EndpointOptions{},
		List:   &EndpointOptions{},
		Create: &EndpointOptions{},
		Update: &EndpointOptions{},
		Delete: &EndpointOptions{},
	}
}

// For returns the options of a single verb.
func (o *Options) For(v Verb) *EndpointOptions {
	switch v {
	case VerbGet:
		return o.Get
	case VerbList:
		return o.List
	case VerbCreate:
		return o.Create
	case VerbUpdate:
		return o.Update
	case VerbDelete:
		return o.Delete
	default:
		return nil
	}
}

// WithCaseFormat sets the route case format.
func (o *Options) WithCaseFormat(f CaseFormat) *Options {
	o.caseFormat = f
	return o
}

// WithPrefix sets the group prefix.
func (o *Options) WithPrefix(prefix string) *Options {
	o.prefix = &prefix
	return o
}

// WithVerbs sets the enabled verb set.
func (o *Options) WithVerbs(v Verb) *Options {
	o.verbs = v
	return o
}

// RequireAuth sets the auth default for every verb without an explicit setting.
func (o *Options) RequireAuth(on bool) *Options {
	o.auth = &on
	return o
}

// RequireValidation sets the validation default for every verb without an explicit setting.
func (o *Options) RequireValidation(on bool) *Options {
	o.validate = &on
	return o
}

// WithReference nests every verb without an explicit reference under ref.
func (o *Options) WithReference(ref *Reference) *Options {
	o.reference = ref
	return o
}

// WithTags sets the tags of every verb without explicit tags.
func (o *Options) WithTags(tags ...string) *Options {
	o.tags = tags
	return o
}

// EndpointConfig is the resolved, immutable configuration of one verb.
type EndpointConfig struct {
	Verb              Verb
	Name              string
	Summary           string
	Description       string
	Tags              []string
	Parameters        []Parameter
	RequireAuth       bool
	RequireValidation bool
	Reference         *Reference
	Filters           []func(http.Handler) http.Handler
}

// ResourceOptions is the resolved configuration of a resource.
type ResourceOptions struct {
	Name        string
	Entity      string
	Format      CaseFormat
	Prefix      string
	Verbs       Verb
	Constraints bool
	Endpoints   map[Verb]EndpointConfig
}

// Endpoint returns the resolved configuration of verb.
func (r ResourceOptions) Endpoint(v Verb) (EndpointConfig, bool) {
	ec, ok := r.Endpoints[v]
	return ec, ok
}

// resolve folds config defaults, YAML overrides and these options into an
// immutable ResourceOptions. Precedence, highest first: per-verb option,
// resource option, per-resource config, global config.
func (o *Options) resolve(name, entity string, cfg CrudConfig) (ResourceOptions, error) {
	rc := cfg.Resources[name]

	format := cfg.CaseFormat
	if rc.CaseFormat != "" {
		format = rc.CaseFormat
	}
	if o.caseFormat != "" {
		format = o.caseFormat
	}
	if !format.valid() {
		return ResourceOptions{}, fmt.Errorf("resource %s: unknown case format %q", name, format)
	}

	prefix := cfg.Prefix
	if o.prefix != nil {
		prefix = *o.prefix
	}

	verbs, err := ParseVerbs(cfg.Verbs)
	if err != nil {
		return ResourceOptions{}, err
	}
	if len(rc.Verbs) > 0 {
		if verbs, err = ParseVerbs(rc.Verbs); err != nil {
			return ResourceOptions{}, fmt.Errorf("resource %s: %w", name, err)
		}
	}
	if o.verbs != 0 {
		verbs = o.verbs
	}

	auth := pick(cfg.RequireAuth, rc.RequireAuth, o.auth)
	validate := pick(cfg.RequireValidation, rc.RequireValidation, o.validate)

	tags := o.tags
	if len(tags) == 0 {
		tags = rc.Tags
	}
	if len(tags) == 0 {
		tags = []string{ResourceSegment(entity, format)}
	}

	ro := ResourceOptions{
		Name:        name,
		Entity:      entity,
		Format:      format,
		Prefix:      prefix,
		Verbs:       verbs,
		Constraints: cfg.RouteConstraints,
		Endpoints:   make(map[Verb]EndpointConfig, 5),
	}
	for _, v := range verbs.Each() {
		eo := o.For(v)
		ec := EndpointConfig{
			Verb:              v,
			Name:              eo.name,
			Summary:           eo.summary,
			Description:       eo.description,
			Tags:              append([]string(nil), tags...),
			Parameters:        append([]Parameter(nil), eo.parameters...),
			RequireAuth:       pick(auth, eo.auth),
			RequireValidation: pick(validate, eo.validate),
			Reference:         o.reference,
			Filters:           append([]func(http.Handler) http.Handler(nil), eo.filters...),
		}
		if len(eo.tags) > 0 {
			ec.Tags = append([]string(nil), eo.tags...)
		}
		if eo.reference != nil {
			ec.Reference = eo.reference
		}
		if ec.Name == "" {
			ec.Name = defaultEndpointName(v, entity)
		}
		if ec.Summary == "" {
			ec.Summary = defaultSummary(v, entity)
		}
		ro.Endpoints[v] = ec
	}
	return ro, nil
}

func pick(base bool, overrides ...*bool) bool {
	for _, o := range overrides {
		if o != nil {
			base = *o
		}
	}
	return base
}

func defaultEndpointName(v Verb, entity string) string {
	if v == VerbList {
		return "list-" + ResourceSegment(entity, CaseKebab)
	}
	return v.String() + "-" + CaseKebab.Apply(entity)
}

func defaultSummary(v Verb, entity string) string {
	switch v {
	case VerbGet:
		return "Get " + entity + " by key"
	case VerbList:
		return "List " + Pluralize(entity)
	case VerbCreate:
		return "Create " + entity
	case VerbUpdate:
		return "Update " + entity
	default:
		return "Delete " + entity
	}
}

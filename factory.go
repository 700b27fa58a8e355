package rested

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/schema"
	"github.com/zoobzio/capitan"
)

// Scope tells whether a route is nested under a parent resource.
type Scope int

const (
	ScopeStandalone Scope = iota
	ScopeReferenced
)

func (s Scope) String() string {
	if s == ScopeReferenced {
		return "referenced"
	}
	return "standalone"
}

// Variant is one delegate shape of a verb. Key is only meaningful for verbs
// that bind a key from the route (get, update, delete).
type Variant struct {
	Verb  Verb
	Key   KeyShape
	Scope Scope
}

func (v Variant) String() string {
	if !keyed(v.Verb) {
		return v.Verb.String() + "/" + v.Scope.String()
	}
	return v.Verb.String() + "/" + v.Key.String() + "/" + v.Scope.String()
}

func keyed(v Verb) bool {
	return v == VerbGet || v == VerbUpdate || v == VerbDelete
}

// SelectVariant picks the delegate shape for a verb. It is a pure function of
// its inputs.
func SelectVariant(v Verb, shape KeyShape, referenced bool) Variant {
	variant := Variant{Verb: v, Key: shape, Scope: ScopeStandalone}
	if !keyed(v) {
		variant.Key = KeyPrimitive
	}
	if referenced {
		variant.Scope = ScopeReferenced
	}
	return variant
}

// Variants enumerates every delegate shape of v: four for keyed verbs, two
// for list and create.
func Variants(v Verb) []Variant {
	shapes := []KeyShape{KeyPrimitive}
	if keyed(v) {
		shapes = append(shapes, KeyComposite)
	}
	out := make([]Variant, 0, 4)
	for _, shape := range shapes {
		for _, referenced := range []bool{false, true} {
			out = append(out, SelectVariant(v, shape, referenced))
		}
	}
	return out
}

// queryDecoder binds list and get query strings.
var queryDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

type keyBinder[K any] func(path map[string]string) (K, error)

type refBinder func(path map[string]string) (any, error)

// delegate builds the endpoint of one verb from its binders.
type delegate[K any] func(ec EndpointConfig, path string, id keyBinder[K], ref refBinder) Endpoint

// factory derives the endpoints of one resource.
type factory[E, R any, K comparable] struct {
	ro       ResourceOptions
	key      KeyInfo
	reader   Reader[E, K]
	crud     CRUD[E, R, K] // nil for read-only resources
	pageSize int
}

// keyBinders is the key-shape axis of the dispatch table.
func (f *factory[E, R, K]) keyBinders() map[KeyShape]keyBinder[K] {
	return map[KeyShape]keyBinder[K]{
		KeyPrimitive: func(path map[string]string) (K, error) { return bindPrimitiveKey[K](f.key, path) },
		KeyComposite: func(path map[string]string) (K, error) { return bindCompositeKey[K](f.key, path) },
	}
}

// refBinders is the scope axis of the dispatch table.
func refBinders(ref *Reference) map[Scope]refBinder {
	return map[Scope]refBinder{
		ScopeStandalone: func(map[string]string) (any, error) { return nil, nil },
		ScopeReferenced: func(path map[string]string) (any, error) {
			raw, ok := path[ref.Param]
			if !ok || raw == "" {
				return nil, InvalidRequest("missing route parameter %q", ref.Param)
			}
			id, err := ref.Parse(raw)
			if err != nil {
				return nil, InvalidRequest("invalid %s: %v", ref.Param, err)
			}
			return id, nil
		},
	}
}

// delegates is the verb axis of the dispatch table.
func (f *factory[E, R, K]) delegates() map[Verb]delegate[K] {
	return map[Verb]delegate[K]{
		VerbGet:    f.get,
		VerbList:   f.list,
		VerbCreate: f.create,
		VerbUpdate: f.update,
		VerbDelete: f.delete,
	}
}

// endpoints builds one endpoint per enabled verb. The variant of each verb is
// fixed here, at registration time.
func (f *factory[E, R, K]) endpoints() ([]Endpoint, error) {
	ids := f.keyBinders()
	delegates := f.delegates()

	out := make([]Endpoint, 0, 5)
	for _, v := range f.ro.Verbs.Each() {
		if f.crud == nil && !VerbsRead.Has(v) {
			return nil, fmt.Errorf("resource %s is read-only but enables %s", f.ro.Name, v)
		}
		ec, ok := f.ro.Endpoint(v)
		if !ok {
			continue
		}
		variant := SelectVariant(v, f.key.Shape, ec.Reference != nil)
		path := f.path(ec, keyed(v))
		ep := delegates[v](ec, path, ids[variant.Key], refBinders(ec.Reference)[variant.Scope])
		tagVariant(ep, f.ro.Name, variant)
		out = append(out, ep)

		capitan.Info(context.Background(), RouteMapped,
			ResourceKey.Field(f.ro.Name),
			VerbKey.Field(v.String()),
			VariantKey.Field(variant.String()),
			MethodKey.Field(v.Method()),
			PathKey.Field(path),
		)
	}
	return out, nil
}

func (f *factory[E, R, K]) path(ec EndpointConfig, withID bool) string {
	return BuildRoute(RouteTarget{
		Entity:      f.ro.Entity,
		Format:      f.ro.Format,
		Prefix:      f.ro.Prefix,
		Key:         f.key,
		WithID:      withID,
		Reference:   ec.Reference,
		Constraints: f.ro.Constraints,
	})
}

// locationPattern is the get route a created entity is reachable at.
func (f *factory[E, R, K]) locationPattern(create EndpointConfig) string {
	if get, ok := f.ro.Endpoint(VerbGet); ok {
		return f.path(get, true)
	}
	return f.path(create, true)
}

func (f *factory[E, R, K]) get(ec EndpointConfig, path string, bindID keyBinder[K], bindRef refBinder) Endpoint {
	h := NewHandler[NoBody, E](ec.Name, http.MethodGet, path, func(req *Request[NoBody]) (E, error) {
		var zero E
		id, err := bindID(req.Params.Path)
		if err != nil {
			return zero, err
		}
		refID, err := bindRef(req.Params.Path)
		if err != nil {
			return zero, err
		}
		var q getQuery
		if err := queryDecoder.Decode(&q, req.Params.Query); err != nil {
			return zero, InvalidRequest("invalid query: %v", err)
		}
		e, err := f.reader.GetByID(req.Context, GetRequest[K]{
			ID:     id,
			RefID:  refID,
			Fields: splitList(q.IncludeFields),
		})
		if err != nil {
			return zero, err
		}
		if e == nil {
			return zero, EntityNotFound(f.ro.Entity, id)
		}
		return *e, nil
	})
	h.WithErrorCodes(http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound).
		WithParameters(f.pathParameters(ec, true)...).
		WithParameters(includeFieldsParameter)
	return configure(h, ec)
}

func (f *factory[E, R, K]) list(ec EndpointConfig, path string, _ keyBinder[K], bindRef refBinder) Endpoint {
	h := NewHandler[NoBody, PagedResult[E]](ec.Name, http.MethodGet, path, func(req *Request[NoBody]) (PagedResult[E], error) {
		refID, err := bindRef(req.Params.Path)
		if err != nil {
			return PagedResult[E]{}, err
		}
		var q listQuery
		if err := queryDecoder.Decode(&q, req.Params.Query); err != nil {
			return PagedResult[E]{}, InvalidRequest("invalid query: %v", err)
		}
		filters, err := ParseFilters(q.FilterBy)
		if err != nil {
			return PagedResult[E]{}, InvalidRequest("invalid filterBy: %v", err)
		}
		sorts, err := ParseSorts(q.OrderBy)
		if err != nil {
			return PagedResult[E]{}, InvalidRequest("invalid orderBy: %v", err)
		}
		if q.PageIndex == 0 {
			q.PageIndex = 1
		}
		if q.PageSize == 0 {
			q.PageSize = f.pageSize
		}
		page, err := f.reader.GetPagedList(req.Context, ListRequest{
			PageIndex: q.PageIndex,
			PageSize:  q.PageSize,
			Filters:   filters,
			Sorts:     sorts,
			Fields:    splitList(q.IncludeFields),
			RefID:     refID,
		})
		if err != nil {
			return PagedResult[E]{}, err
		}
		return *page, nil
	})
	h.WithErrorCodes(http.StatusBadRequest, http.StatusForbidden).
		WithParameters(f.pathParameters(ec, false)...).
		WithParameters(listParameters...).
		WithModels(scanModel[E]())
	return configure(h, ec)
}

func (f *factory[E, R, K]) create(ec EndpointConfig, path string, _ keyBinder[K], bindRef refBinder) Endpoint {
	location := f.locationPattern(ec)
	h := NewHandler[R, K](ec.Name, http.MethodPost, path, func(req *Request[R]) (K, error) {
		var zero K
		refID, err := bindRef(req.Params.Path)
		if err != nil {
			return zero, err
		}
		key, err := f.crud.Create(req.Context, CreateRequest[R]{Body: req.Body, RefID: refID})
		if err != nil {
			return zero, err
		}
		values, err := KeyRouteValues(f.key, key)
		if err != nil {
			return zero, err
		}
		for name, v := range req.Params.Path {
			if _, ok := values[name]; !ok {
				values[name] = v
			}
		}
		req.ResponseHeader.Set("Location", ExpandRoute(location, values))
		return key, nil
	})
	h.WithSuccessStatus(http.StatusCreated).
		WithErrorCodes(http.StatusBadRequest, http.StatusForbidden).
		WithParameters(f.pathParameters(ec, false)...)
	return configure(h, ec)
}

func (f *factory[E, R, K]) update(ec EndpointConfig, path string, bindID keyBinder[K], bindRef refBinder) Endpoint {
	h := NewHandler[R, NoBody](ec.Name, http.MethodPut, path, func(req *Request[R]) (NoBody, error) {
		id, err := bindID(req.Params.Path)
		if err != nil {
			return NoBody{}, err
		}
		refID, err := bindRef(req.Params.Path)
		if err != nil {
			return NoBody{}, err
		}
		ok, err := f.crud.Update(req.Context, UpdateRequest[K, R]{ID: id, Body: req.Body, RefID: refID})
		if err != nil {
			return NoBody{}, err
		}
		if !ok {
			return NoBody{}, notApplied("update", f.ro.Entity, id)
		}
		return NoBody{}, nil
	})
	h.WithErrorCodes(http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound).
		WithParameters(f.pathParameters(ec, true)...)
	return configure(h, ec)
}

func (f *factory[E, R, K]) delete(ec EndpointConfig, path string, bindID keyBinder[K], bindRef refBinder) Endpoint {
	h := NewHandler[NoBody, NoBody](ec.Name, http.MethodDelete, path, func(req *Request[NoBody]) (NoBody, error) {
		id, err := bindID(req.Params.Path)
		if err != nil {
			return NoBody{}, err
		}
		refID, err := bindRef(req.Params.Path)
		if err != nil {
			return NoBody{}, err
		}
		ok, err := f.crud.Delete(req.Context, DeleteRequest[K]{ID: id, RefID: refID})
		if err != nil {
			return NoBody{}, err
		}
		if !ok {
			return NoBody{}, notApplied("delete", f.ro.Entity, id)
		}
		return NoBody{}, nil
	})
	h.WithErrorCodes(http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound).
		WithParameters(f.pathParameters(ec, true)...)
	return configure(h, ec)
}

// configure applies the resolved endpoint options. Extra parameters go first.
func configure[In, Out any](h *Handler[In, Out], ec EndpointConfig) *Handler[In, Out] {
	h.spec.Parameters = append(append([]Parameter(nil), ec.Parameters...), h.spec.Parameters...)
	h.WithSummary(ec.Summary).
		WithDescription(ec.Description).
		WithTags(ec.Tags...).
		WithMiddleware(ec.Filters...)
	if ec.RequireAuth {
		h.WithAuthentication()
	}
	if ec.RequireValidation {
		h.WithValidation()
	}
	return h
}

// tagVariant records the CRUD origin on the handler spec.
func tagVariant(ep Endpoint, resource string, v Variant) {
	type tagger interface{ setOrigin(resource, variant string) }
	if t, ok := ep.(tagger); ok {
		t.setOrigin(resource, v.String())
	}
}

func (h *Handler[In, Out]) setOrigin(resource, variant string) {
	h.spec.Resource = resource
	h.spec.Variant = variant
}

// pathParameters documents the reference and key segments with their types.
func (f *factory[E, R, K]) pathParameters(ec EndpointConfig, withID bool) []Parameter {
	var params []Parameter
	if ref := ec.Reference; ref != nil {
		rk := ref.Key()
		params = append(params, Parameter{
			Name:     ref.Param,
			In:       "path",
			Required: true,
			Schema:   &Schema{Type: rk.Type, Format: rk.Format},
		})
	}
	if !withID {
		return params
	}
	if f.key.Shape == KeyPrimitive {
		return append(params, Parameter{
			Name:     "id",
			In:       "path",
			Required: true,
			Schema:   &Schema{Type: f.key.Type, Format: f.key.Format},
		})
	}
	for _, segment := range f.key.Segments() {
		params = append(params, Parameter{
			Name:     segment,
			In:       "path",
			Required: true,
			Schema:   &Schema{Type: "string"},
		})
	}
	return params
}

var includeFieldsParameter = Parameter{
	Name:        "includeFields",
	In:          "query",
	Description: "Properties to load; repeatable or comma separated",
	Schema:      &Schema{Type: "array", Items: &Schema{Type: "string"}},
}

var listParameters = []Parameter{
	{Name: "pageIndex", In: "query", Description: "1-based page number", Schema: &Schema{Type: "integer", Minimum: floatPtr(1)}},
	{Name: "pageSize", In: "query", Description: "Items per page", Schema: &Schema{Type: "integer", Minimum: floatPtr(1)}},
	{Name: "filterBy", In: "query", Description: "Filter as field:op:value; repeatable", Schema: &Schema{Type: "array", Items: &Schema{Type: "string"}}},
	{Name: "orderBy", In: "query", Description: "Sort as field[:asc|desc]; repeatable", Schema: &Schema{Type: "array", Items: &Schema{Type: "string"}}},
	includeFieldsParameter,
}

func floatPtr(f float64) *float64 {
	return &f
}

// splitList flattens repeated and comma separated values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func notApplied(op, entity string, key any) *Error {
	return &Error{
		Kind:    ErrNotApplied,
		Message: fmt.Sprintf("%s of %s %v was not applied", op, entity, key),
	}
}

package rested

import (
	"context"
	"net/http"
	"net/url"
)

// Request holds all data needed by handler callbacks.
// It embeds context and the underlying HTTP request for full access.
type Request[In any] struct {
	context.Context // Embedded for deadline, cancellation, values
	*http.Request   // Embedded for direct access when needed (use sparingly)
	Params          *Params
	Body            In
	Identity        Identity    // Authenticated identity (NoIdentity for anonymous calls)
	ResponseHeader  http.Header // Headers to send on success (e.g. Location)
}

// Params holds extracted request parameters.
type Params struct {
	Path  map[string]string // Path parameters (e.g., /users/{id})
	Query url.Values        // Query parameters, repeatable (e.g., ?filterBy=a&filterBy=b)
}

// NoBody represents an empty input or output.
// Used for GET and DELETE inputs and for body-less success responses.
type NoBody struct{}

// GetRequest asks for one entity by key.
type GetRequest[K any] struct {
	ID     K
	RefID  any      // Parent key when the route is referenced; nil otherwise.
	Fields []string // Optional data fields to load.
}

// ListRequest asks for one page of entities.
type ListRequest struct {
	PageIndex int // 1-based.
	PageSize  int
	Filters   []Filter
	Sorts     []Sort
	Fields    []string
	RefID     any
}

// CreateRequest carries a new entity body.
type CreateRequest[R any] struct {
	Body  R
	RefID any
}

// UpdateRequest carries the key and replacement body of an entity.
type UpdateRequest[K, R any] struct {
	ID    K
	Body  R
	RefID any
}

// DeleteRequest asks for removal of an entity.
type DeleteRequest[K any] struct {
	ID    K
	RefID any
}

// PagedResult is one page of a list, in sort order.
type PagedResult[E any] struct {
	Items      []E `json:"items" msgpack:"items"`
	PageIndex  int `json:"pageIndex" msgpack:"pageIndex"`
	PageSize   int `json:"pageSize" msgpack:"pageSize"`
	TotalCount int `json:"totalCount" msgpack:"totalCount"`
}

// listQuery is the query string shape of a list call, decoded with gorilla/schema.
type listQuery struct {
	PageIndex     int      `schema:"pageIndex"`
	PageSize      int      `schema:"pageSize"`
	FilterBy      []string `schema:"filterBy"`
	OrderBy       []string `schema:"orderBy"`
	IncludeFields []string `schema:"includeFields"`
}

// getQuery is the query string shape of a get call.
type getQuery struct {
	IncludeFields []string `schema:"includeFields"`
}

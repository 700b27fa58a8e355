package rested

import (
	"context"
	"errors"
)

// MappingPriority decides which mapper form wins when both are configured.
type MappingPriority int

const (
	// SyncOrAsync prefers the plain function and falls back to the context-aware one.
	SyncOrAsync MappingPriority = iota
	// AsyncOrSync prefers the context-aware function.
	AsyncOrSync
)

// errNoMapper is returned when neither mapper form is configured.
var errNoMapper = errors.New("no mapper configured")

// Mapper converts From into To. A nil result means "nothing to map".
type Mapper[From, To any] struct {
	Sync     func(from *From) *To
	Async    func(ctx context.Context, from *From) (*To, error)
	Priority MappingPriority
}

// Map runs the mapper chosen by Priority.
func (m Mapper[From, To]) Map(ctx context.Context, from *From) (*To, error) {
	useSync := m.Sync != nil && (m.Priority == SyncOrAsync || m.Async == nil)
	switch {
	case useSync:
		return m.Sync(from), nil
	case m.Async != nil:
		return m.Async(ctx, from)
	default:
		return nil, errNoMapper
	}
}

// Configured reports whether either form is set.
func (m Mapper[From, To]) Configured() bool {
	return m.Sync != nil || m.Async != nil
}

// Sync builds a Mapper from a plain function.
func Sync[From, To any](fn func(from *From) *To) Mapper[From, To] {
	return Mapper[From, To]{Sync: fn}
}

// Async builds a Mapper from a context-aware function.
func Async[From, To any](fn func(ctx context.Context, from *From) (*To, error)) Mapper[From, To] {
	return Mapper[From, To]{Async: fn, Priority: AsyncOrSync}
}

// Mappers holds the conversions a CRUD service needs.
//   - ToEntity maps a stored row to the output entity.
//   - FromRequest maps a create body to a new row.
//   - Merge applies an update body onto an existing row in place.
type Mappers[E, R, D any] struct {
	ToEntity    Mapper[D, E]
	FromRequest Mapper[R, D]
	Merge       func(ctx context.Context, from *R, into *D) error
}

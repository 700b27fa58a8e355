package rested

import (
	"errors"
	"fmt"
)

// Sentinel errors identifying each failure kind.
// Services return them (usually wrapped in *Error) and the Translator maps
// them to HTTP status codes at the boundary.
var (
	// ErrEntityNotFound indicates a lookup by key found nothing (404).
	ErrEntityNotFound = errors.New("entity not found")

	// ErrInvalidReference indicates the stored reference id does not match the requested one (400).
	ErrInvalidReference = errors.New("invalid entity reference")

	// ErrInvalidRequest indicates the request could not be turned into an entity (400).
	ErrInvalidRequest = errors.New("invalid entity request")

	// ErrForbidden indicates the permission check failed (403).
	ErrForbidden = errors.New("forbidden")

	// ErrValidationFailed indicates a declarative validator rejected the body (400).
	ErrValidationFailed = errors.New("validation failed")

	// ErrUnauthorized indicates an endpoint requiring auth was called without an identity (401).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotApplied indicates the service declined to perform a write (400).
	// It is not returned by services; handlers produce it from a false result.
	ErrNotApplied = errors.New("operation not applied")
)

// Registration errors.
var (
	// ErrRegistryFrozen is returned when registering on a registry that has been mounted.
	ErrRegistryFrozen = errors.New("registry is frozen")

	// ErrDuplicateResource is returned when a resource name is registered twice.
	ErrDuplicateResource = errors.New("duplicate resource")

	// ErrDuplicateRoute is returned when a method and path pair is registered twice.
	ErrDuplicateRoute = errors.New("duplicate route")
)

// Error is a typed domain failure.
// Kind is one of the sentinel errors above and is what errors.Is matches against.
type Error struct {
	Kind    error
	Message string
	Details map[string]any
	Fields  map[string]string // Field-level reasons for ErrValidationFailed.
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the failure kind.
func (e *Error) Unwrap() error {
	return e.Kind
}

// WithDetail returns a copy of the error with key set in its details.
func (e *Error) WithDetail(key string, value any) *Error {
	details := make(map[string]any, len(e.Details)+1)
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &Error{
		Kind:    e.Kind,
		Message: e.Message,
		Details: details,
		Fields:  e.Fields,
	}
}

// EntityNotFound reports that no entity of the given resource exists for key.
func EntityNotFound(entity string, key any) *Error {
	return &Error{
		Kind:    ErrEntityNotFound,
		Message: fmt.Sprintf("%s with key %v was not found", entity, key),
		Details: map[string]any{"entity": entity, "key": fmt.Sprint(key)},
	}
}

// InvalidReference reports that refID does not own the requested entity.
func InvalidReference(entity string, refID any) *Error {
	return &Error{
		Kind:    ErrInvalidReference,
		Message: fmt.Sprintf("%s does not belong to reference %v", entity, refID),
		Details: map[string]any{"entity": entity, "referenceId": fmt.Sprint(refID)},
	}
}

// InvalidRequest reports a request that could not be interpreted.
func InvalidRequest(format string, args ...any) *Error {
	return &Error{
		Kind:    ErrInvalidRequest,
		Message: fmt.Sprintf(format, args...),
	}
}

// Forbidden reports a failed permission check on entity.
func Forbidden(entity string) *Error {
	return &Error{
		Kind:    ErrForbidden,
		Message: fmt.Sprintf("access to %s denied", entity),
	}
}

// ValidationFailed reports field-level validation failures.
func ValidationFailed(fields map[string]string) *Error {
	return &Error{
		Kind:    ErrValidationFailed,
		Message: "one or more fields are invalid",
		Fields:  fields,
	}
}

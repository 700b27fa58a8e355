package rested

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"

	"github.com/go-playground/validator/v10"
)

// StatusClientClosedRequest is reported when the caller cancelled the request.
const StatusClientClosedRequest = 499

// ErrorBody is the uniform JSON error envelope.
type ErrorBody struct {
	Message string            `json:"message" msgpack:"message"`
	Details map[string]any    `json:"details,omitempty" msgpack:"details,omitempty"`
	Errors  map[string]string `json:"errors,omitempty" msgpack:"errors,omitempty"`
}

type override struct {
	kind    error
	status  int
	message string
}

// Translator maps failures to HTTP status codes and error bodies.
// It is the single place where domain failures become responses.
type Translator struct {
	overrides   []override
	development bool
}

// NewTranslator creates a Translator with the default kind mapping.
// In development mode unhandled errors carry a stack trace in their details.
func NewTranslator(development bool) *Translator {
	return &Translator{development: development}
}

// Override replaces the status code and, when message is non-empty, the message
// reported for the given failure kind. When an error matches several kinds,
// the one overridden first wins; overriding a kind again keeps its place.
func (t *Translator) Override(kind error, status int, message string) *Translator {
	o := override{kind: kind, status: status, message: message}
	for i := range t.overrides {
		if t.overrides[i].kind == kind {
			t.overrides[i] = o
			return t
		}
	}
	t.overrides = append(t.overrides, o)
	return t
}

// Status maps a failure kind to its default HTTP status.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrEntityNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidReference),
		errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrValidationFailed),
		errors.Is(err, ErrNotApplied):
		return http.StatusBadRequest
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, context.Canceled):
		return StatusClientClosedRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// IsDomainError reports whether err is a known failure kind rather than an
// unexpected server error.
func IsDomainError(err error) bool {
	return Status(err) != http.StatusInternalServerError
}

// Translate converts err into a status code and response body.
func (t *Translator) Translate(err error) (int, ErrorBody) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		err = fromValidationErrors(ve)
	}

	status := Status(err)
	body := ErrorBody{Message: err.Error()}

	var domainErr *Error
	if errors.As(err, &domainErr) {
		body.Message = domainErr.Message
		if body.Message == "" {
			body.Message = domainErr.Kind.Error()
		}
		body.Details = domainErr.Details
		body.Errors = domainErr.Fields
	}

	for _, o := range t.overrides {
		if errors.Is(err, o.kind) {
			status = o.status
			if o.message != "" {
				body.Message = o.message
			}
			break
		}
	}

	if status == http.StatusInternalServerError && !IsDomainError(err) {
		if t.development {
			body.Details = map[string]any{
				"error": err.Error(),
				"stack": string(debug.Stack()),
			}
		}
		body.Message = http.StatusText(http.StatusInternalServerError)
	}

	return status, body
}

// fromValidationErrors turns validator output into a field map keyed by the
// field name the validator reports.
func fromValidationErrors(ve validator.ValidationErrors) *Error {
	fields := make(map[string]string, len(ve))
	for _, fe := range ve {
		fields[fe.Field()] = describeFieldError(fe)
	}
	return ValidationFailed(fields)
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "email":
		return "must be a valid email address"
	case "uuid":
		return "must be a valid UUID"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		if fe.Param() != "" {
			return "failed " + fe.Tag() + "=" + fe.Param() + " validation"
		}
		return "failed " + fe.Tag() + " validation"
	}
}

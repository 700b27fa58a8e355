package rested

import (
	"context"
	"errors"
	"io"
	"net/http"
	"reflect"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/sentinel"
)

// defaultMaxBodySize caps request bodies at 10MB.
const defaultMaxBodySize = 10 * 1024 * 1024

// Handler wraps a typed handler function with metadata for documentation and binding.
// It implements Endpoint.
type Handler[In, Out any] struct {
	fn func(*Request[In]) (Out, error)

	spec        HandlerSpec
	maxBodySize int64

	// Type metadata from sentinel.
	InputMeta  sentinel.ModelMetadata
	OutputMeta sentinel.ModelMetadata
	models     []sentinel.ModelMetadata

	validator  *validator.Validate
	middleware []func(http.Handler) http.Handler
}

// NewHandler creates a typed handler. Bodies are decoded for every In other
// than NoBody, and Out of NoBody sends a status with no body.
func NewHandler[In, Out any](name, method, path string, fn func(*Request[In]) (Out, error)) *Handler[In, Out] {
	inputMeta := scanModel[In]()
	outputMeta := scanModel[Out]()

	return &Handler[In, Out]{
		fn: fn,
		spec: HandlerSpec{
			Name:           name,
			Method:         method,
			Path:           path,
			PathParams:     PathParams(path),
			InputTypeName:  inputMeta.TypeName,
			OutputTypeName: outputMeta.TypeName,
			SuccessStatus:  http.StatusOK,
			ErrorCodes:     []int{},
			Tags:           []string{},
		},
		maxBodySize: defaultMaxBodySize,
		InputMeta:   inputMeta,
		OutputMeta:  outputMeta,
		validator:   validator.New(),
		middleware:  make([]func(http.Handler) http.Handler, 0),
	}
}

// scanModel reads struct metadata through sentinel. Other types only carry
// their name.
func scanModel[T any]() sentinel.ModelMetadata {
	t := typeOf[T]()
	if t.Kind() != reflect.Struct {
		return sentinel.ModelMetadata{TypeName: t.String()}
	}
	return sentinel.Scan[T]()
}

// Process implements Endpoint.
func (h *Handler[In, Out]) Process(ctx context.Context, r *http.Request, w http.ResponseWriter) (int, error) {
	capitan.Debug(ctx, HandlerExecuting,
		HandlerNameKey.Field(h.spec.Name),
	)

	identity := IdentityFrom(ctx)
	if h.spec.RequiresAuth && IsAnonymous(identity) {
		capitan.Warn(ctx, AuthenticationRequired,
			MethodKey.Field(r.Method),
			PathKey.Field(r.URL.Path),
			HandlerNameKey.Field(h.spec.Name),
		)
		return h.fail(ctx, w, r, ErrUnauthorized), nil
	}

	params := extractParams(ctx, r)

	var input In
	if h.hasBody() {
		if err := h.decode(w, r, &input); err != nil {
			capitan.Warn(ctx, RequestBindFailed,
				HandlerNameKey.Field(h.spec.Name),
				ErrorKey.Field(err.Error()),
			)
			return h.fail(ctx, w, r, err), nil
		}
		if h.spec.RequiresValidation && isStruct(typeOf[In]()) {
			if err := h.validator.Struct(input); err != nil {
				capitan.Warn(ctx, RequestValidationFailed,
					HandlerNameKey.Field(h.spec.Name),
					ErrorKey.Field(err.Error()),
				)
				return h.fail(ctx, w, r, err), nil
			}
		}
	}

	req := &Request[In]{
		Context:        ctx,
		Request:        r,
		Params:         params,
		Body:           input,
		Identity:       identity,
		ResponseHeader: make(http.Header),
	}

	output, err := h.fn(req)
	if err != nil {
		status := h.fail(ctx, w, r, err)
		if IsDomainError(err) {
			capitan.Warn(ctx, HandlerDomainError,
				HandlerNameKey.Field(h.spec.Name),
				ErrorKey.Field(err.Error()),
				StatusCodeKey.Field(status),
			)
			return status, nil
		}
		capitan.Error(ctx, HandlerError,
			HandlerNameKey.Field(h.spec.Name),
			ErrorKey.Field(err.Error()),
		)
		return status, err
	}

	for key, values := range req.ResponseHeader {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}

	status := h.spec.SuccessStatus
	if h.OutputMeta.TypeName == "NoBody" {
		w.WriteHeader(status)
	} else {
		c := responseCodec(r)
		body, err := c.Marshal(output)
		if err != nil {
			capitan.Error(ctx, HandlerError,
				HandlerNameKey.Field(h.spec.Name),
				ErrorKey.Field(err.Error()),
			)
			return h.fail(ctx, w, r, err), err
		}
		w.Header().Set("Content-Type", c.ContentType())
		w.WriteHeader(status)
		w.Write(body)
	}

	capitan.Info(ctx, HandlerSuccess,
		HandlerNameKey.Field(h.spec.Name),
		StatusCodeKey.Field(status),
	)
	return status, nil
}

func (h *Handler[In, Out]) hasBody() bool {
	return h.InputMeta.TypeName != "NoBody"
}

func (h *Handler[In, Out]) decode(w http.ResponseWriter, r *http.Request, into *In) error {
	if r.Body == nil {
		return InvalidRequest("request body is required")
	}
	var reader io.Reader = r.Body
	if h.maxBodySize > 0 {
		reader = http.MaxBytesReader(w, r.Body, h.maxBodySize)
	}
	body, err := io.ReadAll(reader)
	r.Body.Close()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return InvalidRequest("request body exceeds %d bytes", tooLarge.Limit)
		}
		return InvalidRequest("read request body: %v", err)
	}
	if len(body) == 0 {
		return InvalidRequest("request body is required")
	}
	if err := requestCodec(r).Unmarshal(body, into); err != nil {
		return InvalidRequest("malformed request body: %v", err)
	}
	return nil
}

// fail renders err through the request's Translator and returns the status written.
func (*Handler[In, Out]) fail(ctx context.Context, w http.ResponseWriter, r *http.Request, err error) int {
	status, body := translatorFrom(ctx).Translate(err)
	writeError(w, r, status, body)
	return status
}

// Spec implements Endpoint.
func (h *Handler[In, Out]) Spec() HandlerSpec {
	return h.spec
}

// Models implements Endpoint.
func (h *Handler[In, Out]) Models() []sentinel.ModelMetadata {
	models := make([]sentinel.ModelMetadata, 0, len(h.models)+2)
	if h.hasBody() {
		models = append(models, h.InputMeta)
	}
	if h.OutputMeta.TypeName != "NoBody" {
		models = append(models, h.OutputMeta)
	}
	return append(models, h.models...)
}

// WithSummary sets the OpenAPI summary.
func (h *Handler[In, Out]) WithSummary(summary string) *Handler[In, Out] {
	h.spec.Summary = summary
	return h
}

// WithDescription sets the OpenAPI description.
func (h *Handler[In, Out]) WithDescription(desc string) *Handler[In, Out] {
	h.spec.Description = desc
	return h
}

// WithTags sets the OpenAPI tags.
func (h *Handler[In, Out]) WithTags(tags ...string) *Handler[In, Out] {
	h.spec.Tags = tags
	return h
}

// WithSuccessStatus sets the HTTP status code for successful responses.
func (h *Handler[In, Out]) WithSuccessStatus(status int) *Handler[In, Out] {
	h.spec.SuccessStatus = status
	return h
}

// WithParameters documents extra parameters ahead of the derived ones.
func (h *Handler[In, Out]) WithParameters(params ...Parameter) *Handler[In, Out] {
	h.spec.Parameters = append(h.spec.Parameters, params...)
	return h
}

// WithErrorCodes declares which HTTP error status codes this handler may return.
// This is used for OpenAPI documentation generation.
func (h *Handler[In, Out]) WithErrorCodes(codes ...int) *Handler[In, Out] {
	h.spec.ErrorCodes = codes
	return h
}

// WithMaxBodySize sets the maximum request body size in bytes for this handler.
// Set to 0 for unlimited (not recommended for production).
func (h *Handler[In, Out]) WithMaxBodySize(size int64) *Handler[In, Out] {
	h.maxBodySize = size
	return h
}

// WithMiddleware adds middleware to this handler and returns the handler for chaining.
func (h *Handler[In, Out]) WithMiddleware(middleware ...func(http.Handler) http.Handler) *Handler[In, Out] {
	h.middleware = append(h.middleware, middleware...)
	return h
}

// WithModels documents additional schemas, such as the item type of a page.
func (h *Handler[In, Out]) WithModels(models ...sentinel.ModelMetadata) *Handler[In, Out] {
	h.models = append(h.models, models...)
	return h
}

// Middleware implements Endpoint.
func (h *Handler[In, Out]) Middleware() []func(http.Handler) http.Handler {
	return h.middleware
}

// WithAuthentication marks this handler as requiring an identity.
func (h *Handler[In, Out]) WithAuthentication() *Handler[In, Out] {
	h.spec.RequiresAuth = true
	return h
}

// WithValidation validates decoded bodies against their validate tags.
func (h *Handler[In, Out]) WithValidation() *Handler[In, Out] {
	h.spec.RequiresValidation = true
	return h
}

// extractParams collects path params from the chi route context and the raw query.
func extractParams(ctx context.Context, r *http.Request) *Params {
	params := &Params{
		Path:  make(map[string]string),
		Query: r.URL.Query(),
	}
	if rctx := chi.RouteContext(ctx); rctx != nil {
		for i, key := range rctx.URLParams.Keys {
			params.Path[key] = rctx.URLParams.Values[i]
		}
	}
	return params
}

func isStruct(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.Kind() == reflect.Struct
}

// writeError encodes an error body with the codec the caller accepts.
func writeError(w http.ResponseWriter, r *http.Request, status int, body ErrorBody) {
	c := responseCodec(r)
	data, err := c.Marshal(body)
	if err != nil {
		c = jsonCodec{}
		data = []byte(`{"message":"Internal Server Error"}`)
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", c.ContentType())
	w.WriteHeader(status)
	w.Write(data)
}

type translatorContextKey struct{}

func withTranslator(ctx context.Context, t *Translator) context.Context {
	return context.WithValue(ctx, translatorContextKey{}, t)
}

// defaultTranslator serves handlers invoked outside an Engine.
var defaultTranslator = NewTranslator(false)

func translatorFrom(ctx context.Context) *Translator {
	if t, ok := ctx.Value(translatorContextKey{}).(*Translator); ok && t != nil {
		return t
	}
	return defaultTranslator
}

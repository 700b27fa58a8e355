package rested

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/armon/go-radix"
	"github.com/go-chi/chi/v5"
	"github.com/zoobzio/capitan"
)

// Engine serves registered endpoints over chi.
type Engine struct {
	config              *EngineConfig
	server              *http.Server
	chiRouter           chi.Router
	endpoints           []Endpoint // Registered endpoints for OpenAPI generation
	routes              *radix.Tree
	translator          *Translator
	extractor           IdentityExtractor
	spec                *EngineSpec
	ctx                 context.Context
	cancel              context.CancelFunc
	mu                  sync.Mutex
	defaultHandlersOnce sync.Once
}

// RouteInfo describes one registered route.
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// NewEngine creates a new Engine with the given configuration.
// If config is nil, uses DefaultConfig.
func NewEngine(config *EngineConfig) *Engine {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	r := chi.NewRouter()

	e := &Engine{
		config:     config,
		chiRouter:  r,
		routes:     radix.New(),
		translator: NewTranslator(config.Development),
		spec:       DefaultEngineSpec(),
		ctx:        ctx,
		cancel:     cancel,
	}

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	e.server = &http.Server{
		Addr:         addr,
		Handler:      e.chiRouter,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	capitan.Emit(ctx, EngineCreated,
		HostKey.Field(config.Host),
		PortKey.Field(config.Port),
	)

	return e
}

// WithMiddleware adds global middleware. It must be called before any
// endpoint is registered.
func (e *Engine) WithMiddleware(middleware ...func(http.Handler) http.Handler) *Engine {
	for _, mw := range middleware {
		e.chiRouter.Use(mw)
	}
	return e
}

// WithIdentityExtractor resolves the caller of every request.
func (e *Engine) WithIdentityExtractor(extractor IdentityExtractor) *Engine {
	e.extractor = extractor
	return e
}

// WithTranslator replaces the error translator.
func (e *Engine) WithTranslator(t *Translator) *Engine {
	e.translator = t
	return e
}

// WithSpec sets the API metadata served at /openapi.
func (e *Engine) WithSpec(spec *EngineSpec) *Engine {
	e.spec = spec
	return e
}

// Translator returns the engine's error translator, for adding overrides.
func (e *Engine) Translator() *Translator {
	return e.translator
}

// WithHandlers registers endpoints and returns the engine for chaining.
// It panics on a duplicate method and path; use Register to handle that error.
func (e *Engine) WithHandlers(endpoints ...Endpoint) *Engine {
	if err := e.Register(endpoints...); err != nil {
		panic(err)
	}
	return e
}

// Register adds endpoints to the router. A method and path pair may only be
// registered once.
func (e *Engine) Register(endpoints ...Endpoint) error {
	e.ensureDefaultHandlers()

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, ep := range endpoints {
		spec := ep.Spec()
		key := routeKey(spec.Method, spec.Path)
		if _, exists := e.routes.Get(key); exists {
			return fmt.Errorf("%w: %s %s", ErrDuplicateRoute, spec.Method, spec.Path)
		}
		e.routes.Insert(key, ep)
		e.endpoints = append(e.endpoints, ep)

		httpHandler := e.adaptHandler(ep)
		if middleware := ep.Middleware(); len(middleware) > 0 {
			e.chiRouter.With(middleware...).Method(spec.Method, spec.Path, httpHandler)
		} else {
			e.chiRouter.Method(spec.Method, spec.Path, httpHandler)
		}

		capitan.Emit(e.ctx, HandlerRegistered,
			HandlerNameKey.Field(spec.Name),
			MethodKey.Field(spec.Method),
			PathKey.Field(spec.Path),
		)
	}
	return nil
}

// Mount freezes reg and registers every endpoint it derives.
func (e *Engine) Mount(reg *Registry) error {
	endpoints, err := reg.Endpoints()
	if err != nil {
		return err
	}
	return e.Register(endpoints...)
}

// Routes lists registered routes ordered by path, then method.
func (e *Engine) Routes() []RouteInfo {
	e.mu.Lock()
	defer e.mu.Unlock()

	routes := make([]RouteInfo, 0, e.routes.Len())
	e.routes.Walk(func(_ string, v interface{}) bool {
		spec := v.(Endpoint).Spec()
		routes = append(routes, RouteInfo{Method: spec.Method, Path: spec.Path, Name: spec.Name})
		return false
	})
	return routes
}

// Lookup returns the endpoint registered for method and path template.
func (e *Engine) Lookup(method, path string) (Endpoint, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	v, ok := e.routes.Get(routeKey(method, path))
	if !ok {
		return nil, false
	}
	return v.(Endpoint), true
}

func routeKey(method, path string) string {
	return path + " " + method
}

// ServeHTTP dispatches to the router, so an Engine can back an httptest server.
func (e *Engine) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	e.ensureDefaultHandlers()
	e.chiRouter.ServeHTTP(w, r)
}

// ensureDefaultHandlers sets up OpenAPI spec and docs handlers at /openapi and /docs (once).
func (e *Engine) ensureDefaultHandlers() {
	e.defaultHandlersOnce.Do(func() {
		e.registerDefaultHandlers()
	})
}

func (e *Engine) registerDefaultHandlers() {
	e.chiRouter.Get("/openapi", func(w http.ResponseWriter, _ *http.Request) {
		data, err := json.MarshalIndent(e.GenerateOpenAPI(e.spec.Info), "", "  ")
		if err != nil {
			http.Error(w, "failed to generate OpenAPI spec", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
	})

	e.chiRouter.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)

		html := `<!DOCTYPE html>
<html>
<head>
    <title>API Documentation</title>
    <meta charset="utf-8" />
    <meta name="viewport" content="width=device-width, initial-scale=1" />
</head>
<body>
    <script id="api-reference" data-url="/openapi"></script>
    <script src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"></script>
</body>
</html>`

		w.Write([]byte(html))
	})
}

// adaptHandler converts an Endpoint to http.HandlerFunc.
func (e *Engine) adaptHandler(ep Endpoint) http.HandlerFunc {
	name := ep.Spec().Name
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := withTranslator(r.Context(), e.translator)
		if e.extractor != nil {
			if identity, err := e.extractor(ctx, r); err == nil && identity != nil {
				ctx = WithIdentity(ctx, identity)
			}
		}
		r = r.WithContext(ctx)
		startTime := time.Now()

		capitan.Emit(ctx, RequestReceived,
			MethodKey.Field(r.Method),
			PathKey.Field(r.URL.Path),
			HandlerNameKey.Field(name),
		)

		status, err := ep.Process(ctx, r, w)

		durationMs := time.Since(startTime).Milliseconds()

		if err != nil {
			capitan.Emit(ctx, RequestFailed,
				MethodKey.Field(r.Method),
				PathKey.Field(r.URL.Path),
				HandlerNameKey.Field(name),
				StatusCodeKey.Field(status),
				DurationMsKey.Field(durationMs),
				ErrorKey.Field(err.Error()),
			)
		} else {
			capitan.Emit(ctx, RequestCompleted,
				MethodKey.Field(r.Method),
				PathKey.Field(r.URL.Path),
				HandlerNameKey.Field(name),
				StatusCodeKey.Field(status),
				DurationMsKey.Field(durationMs),
			)
		}
	}
}

// Start begins listening for HTTP requests.
// This method blocks until the server is shutdown.
func (e *Engine) Start() error {
	e.ensureDefaultHandlers()

	capitan.Emit(e.ctx, EngineStarting,
		HostKey.Field(e.config.Host),
		PortKey.Field(e.config.Port),
		AddressKey.Field(e.server.Addr),
	)

	err := e.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown performs a graceful shutdown of the engine.
func (e *Engine) Shutdown(ctx context.Context) error {
	capitan.Emit(ctx, EngineShutdownStarted)

	err := e.server.Shutdown(ctx)

	e.cancel()

	if err != nil {
		capitan.Emit(context.Background(), EngineShutdownComplete,
			GracefulKey.Field(false),
			ErrorKey.Field(err.Error()),
		)
	} else {
		capitan.Emit(context.Background(), EngineShutdownComplete,
			GracefulKey.Field(true),
		)
	}

	capitan.Shutdown()

	return err
}

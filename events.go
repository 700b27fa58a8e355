package rested

import "github.com/zoobzio/capitan"

// Engine lifecycle signals.
var (
	// EngineCreated is emitted when an Engine instance is created.
	// Fields: HostKey, PortKey.
	EngineCreated = capitan.NewSignal("rested.engine.created", "HTTP engine instance created with configured host and port")

	// EngineStarting is emitted when the server starts listening for requests.
	// Fields: HostKey, PortKey, AddressKey.
	EngineStarting = capitan.NewSignal("rested.engine.starting", "HTTP server starting to listen for requests on configured address")

	// EngineShutdownStarted is emitted when graceful shutdown is initiated.
	EngineShutdownStarted = capitan.NewSignal("rested.engine.shutdown.started", "HTTP engine graceful shutdown initiated")

	// EngineShutdownComplete is emitted when shutdown finishes.
	// Fields: GracefulKey, ErrorKey (if failed).
	EngineShutdownComplete = capitan.NewSignal("rested.engine.shutdown.complete", "HTTP engine shutdown completed, graceful or with error")
)

// Registration signals.
var (
	// HandlerRegistered is emitted when a handler is registered with the engine.
	// Fields: HandlerNameKey, MethodKey, PathKey.
	HandlerRegistered = capitan.NewSignal("rested.handler.registered", "HTTP handler registered with engine for specific route")

	// ResourceRegistered is emitted when a CRUD resource is added to a registry.
	// Fields: ResourceKey, VerbsKey.
	ResourceRegistered = capitan.NewSignal("rested.resource.registered", "CRUD resource registered with its enabled verbs")

	// RouteMapped is emitted for every endpoint a registry derives for a resource.
	// Fields: ResourceKey, VerbKey, VariantKey, MethodKey, PathKey.
	RouteMapped = capitan.NewSignal("rested.route.mapped", "CRUD route derived for resource verb and variant")
)

// Request lifecycle signals.
var (
	// RequestReceived is emitted when a request is received.
	// Fields: MethodKey, PathKey, HandlerNameKey.
	RequestReceived = capitan.NewSignal("rested.request.received", "HTTP request received by engine and routed to handler")

	// RequestCompleted is emitted when a request completes.
	// Fields: MethodKey, PathKey, HandlerNameKey, StatusCodeKey, DurationMsKey.
	RequestCompleted = capitan.NewSignal("rested.request.completed", "HTTP request completed with response sent")

	// RequestFailed is emitted when a request fails with an unexpected error.
	// Fields: MethodKey, PathKey, HandlerNameKey, StatusCodeKey, DurationMsKey, ErrorKey.
	RequestFailed = capitan.NewSignal("rested.request.failed", "HTTP request failed during processing with error")
)

// Handler processing signals.
var (
	// HandlerExecuting is emitted when handler execution begins.
	// Fields: HandlerNameKey.
	HandlerExecuting = capitan.NewSignal("rested.handler.executing", "Handler execution started for incoming request")

	// HandlerSuccess is emitted when a handler returns successfully.
	// Fields: HandlerNameKey, StatusCodeKey.
	HandlerSuccess = capitan.NewSignal("rested.handler.success", "Handler completed successfully and returned response")

	// HandlerDomainError is emitted when a handler returns a known failure kind.
	// Fields: HandlerNameKey, ErrorKey, StatusCodeKey.
	HandlerDomainError = capitan.NewSignal("rested.handler.domain.error", "Handler returned domain failure mapped to HTTP status")

	// HandlerError is emitted when a handler returns an unexpected error.
	// Fields: HandlerNameKey, ErrorKey.
	HandlerError = capitan.NewSignal("rested.handler.error", "Handler returned unexpected error during execution")

	// RequestBindFailed is emitted when route, query or body binding fails.
	// Fields: HandlerNameKey, ErrorKey.
	RequestBindFailed = capitan.NewSignal("rested.request.bind.failed", "Request route, query or body binding failed")

	// RequestValidationFailed is emitted when body validation fails.
	// Fields: HandlerNameKey, ErrorKey.
	RequestValidationFailed = capitan.NewSignal("rested.request.validation.failed", "Request body validation failed against declared rules")

	// AuthenticationRequired is emitted when an auth-gated endpoint is called anonymously.
	// Fields: MethodKey, PathKey, HandlerNameKey.
	AuthenticationRequired = capitan.NewSignal("rested.auth.required", "Endpoint requires authentication but no identity was present")
)

// Service signals.
var (
	// EntityCreated is emitted after a create commits.
	// Fields: ResourceKey, EntityKeyKey, UserIDKey.
	EntityCreated = capitan.NewSignal("rested.entity.created", "Entity created and committed")

	// EntityUpdated is emitted after an update commits.
	// Fields: ResourceKey, EntityKeyKey, UserIDKey.
	EntityUpdated = capitan.NewSignal("rested.entity.updated", "Entity updated and committed")

	// EntityDeleted is emitted after a delete commits.
	// Fields: ResourceKey, EntityKeyKey, UserIDKey, SoftDeleteKey.
	EntityDeleted = capitan.NewSignal("rested.entity.deleted", "Entity deleted, soft or hard, and committed")

	// AccessDenied is emitted when the permission check rejects a caller.
	// Fields: ResourceKey, UserIDKey.
	AccessDenied = capitan.NewSignal("rested.access.denied", "Permission check denied access to entity")

	// ReferenceMismatch is emitted when a stored reference id differs from the requested one.
	// Fields: ResourceKey, EntityKeyKey, ReferenceIDKey.
	ReferenceMismatch = capitan.NewSignal("rested.reference.mismatch", "Stored reference id does not match requested reference")
)

// Event field keys (primitive types only).
var (
	// Engine fields.
	HostKey    = capitan.NewStringKey("host")
	PortKey    = capitan.NewIntKey("port")
	AddressKey = capitan.NewStringKey("address")

	// Request/Response fields.
	MethodKey      = capitan.NewStringKey("method")
	PathKey        = capitan.NewStringKey("path")
	HandlerNameKey = capitan.NewStringKey("handler_name")
	StatusCodeKey  = capitan.NewIntKey("status_code")
	DurationMsKey  = capitan.NewInt64Key("duration_ms")
	ErrorKey       = capitan.NewStringKey("error")
	GracefulKey    = capitan.NewBoolKey("graceful")

	// Resource fields.
	ResourceKey    = capitan.NewStringKey("resource")
	VerbKey        = capitan.NewStringKey("verb")
	VerbsKey       = capitan.NewStringKey("verbs")
	VariantKey     = capitan.NewStringKey("variant")
	EntityKeyKey   = capitan.NewStringKey("entity_key")
	ReferenceIDKey = capitan.NewStringKey("reference_id")
	UserIDKey      = capitan.NewStringKey("user_id")
	SoftDeleteKey  = capitan.NewBoolKey("soft_delete")
)

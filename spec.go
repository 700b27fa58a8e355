package rested

// HandlerSpec contains declarative configuration for a route handler.
// It is serializable and carries everything the engine needs for routing,
// documentation and the auth gate.
type HandlerSpec struct {
	// Routing
	Name   string `json:"name" yaml:"name"`
	Method string `json:"method" yaml:"method"`
	Path   string `json:"path" yaml:"path"`

	// Documentation
	Summary     string   `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description string   `json:"description,omitempty" yaml:"description,omitempty"`
	Tags        []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Request/Response
	PathParams     []string    `json:"pathParams,omitempty" yaml:"pathParams,omitempty"`
	Parameters     []Parameter `json:"parameters,omitempty" yaml:"parameters,omitempty"` // Documented before path and query params.
	InputTypeName  string      `json:"inputTypeName" yaml:"inputTypeName"`
	OutputTypeName string      `json:"outputTypeName" yaml:"outputTypeName"`
	SuccessStatus  int         `json:"successStatus" yaml:"successStatus"`
	ErrorCodes     []int       `json:"errorCodes,omitempty" yaml:"errorCodes,omitempty"`

	// Gates
	RequiresAuth       bool `json:"requiresAuth" yaml:"requiresAuth"`
	RequiresValidation bool `json:"requiresValidation" yaml:"requiresValidation"`

	// CRUD origin, empty for hand-written handlers.
	Resource string `json:"resource,omitempty" yaml:"resource,omitempty"`
	Variant  string `json:"variant,omitempty" yaml:"variant,omitempty"`
}

// EngineSpec contains API-level metadata used for OpenAPI generation.
type EngineSpec struct {
	Info    Info     `json:"info" yaml:"info"`
	Tags    []Tag    `json:"tags,omitempty" yaml:"tags,omitempty"`
	Servers []Server `json:"servers,omitempty" yaml:"servers,omitempty"`
}

// DefaultEngineSpec returns an EngineSpec with sensible defaults.
func DefaultEngineSpec() *EngineSpec {
	return &EngineSpec{
		Info: Info{
			Title:   "API",
			Version: "1.0.0",
		},
		Tags:    []Tag{},
		Servers: []Server{},
	}
}

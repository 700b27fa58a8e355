package rested

import (
	"fmt"
	"io"
	"time"

	"gopkg.in/yaml.v3"
)

// EngineConfig holds configuration for the Engine.
type EngineConfig struct {
	// Server settings
	Host         string        `yaml:"host" mapstructure:"host"`                 // Host to bind to (e.g., "localhost", "0.0.0.0", or empty for all interfaces)
	Port         int           `yaml:"port" mapstructure:"port"`                 // Port to listen on (e.g., 8080)
	ReadTimeout  time.Duration `yaml:"readTimeout" mapstructure:"readTimeout"`   // Maximum duration for reading entire request
	WriteTimeout time.Duration `yaml:"writeTimeout" mapstructure:"writeTimeout"` // Maximum duration for writing response
	IdleTimeout  time.Duration `yaml:"idleTimeout" mapstructure:"idleTimeout"`   // Maximum time to wait for next request on keep-alive

	// Development includes stack traces in 500 responses.
	Development bool `yaml:"development" mapstructure:"development"`
}

// DefaultConfig returns an EngineConfig with sensible defaults.
func DefaultConfig() *EngineConfig {
	return &EngineConfig{
		Host:         "", // Empty string binds to all interfaces
		Port:         8080,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
}

// WithHost sets the host to bind to.
func (c *EngineConfig) WithHost(host string) *EngineConfig {
	c.Host = host
	return c
}

// WithPort sets the port to listen on.
func (c *EngineConfig) WithPort(port int) *EngineConfig {
	c.Port = port
	return c
}

// WithDevelopment toggles development error bodies.
func (c *EngineConfig) WithDevelopment(on bool) *EngineConfig {
	c.Development = on
	return c
}

// CrudConfig holds the cross-cutting defaults applied to every registered resource.
type CrudConfig struct {
	CaseFormat        CaseFormat `yaml:"caseFormat" mapstructure:"caseFormat"`
	Prefix            string     `yaml:"prefix" mapstructure:"prefix"`
	Verbs             []string   `yaml:"verbs" mapstructure:"verbs"` // Empty enables every verb.
	RequireAuth       bool       `yaml:"requireAuth" mapstructure:"requireAuth"`
	RequireValidation bool       `yaml:"requireValidation" mapstructure:"requireValidation"`
	RouteConstraints  bool       `yaml:"routeConstraints" mapstructure:"routeConstraints"`
	DefaultPageSize   int        `yaml:"defaultPageSize" mapstructure:"defaultPageSize"`
	MaxPageSize       int        `yaml:"maxPageSize" mapstructure:"maxPageSize"`

	// Resources holds per-resource overrides keyed by resource name.
	Resources map[string]ResourceConfig `yaml:"resources" mapstructure:"resources"`
}

// ResourceConfig overrides CrudConfig for one resource. Nil pointers inherit.
type ResourceConfig struct {
	CaseFormat        CaseFormat `yaml:"caseFormat" mapstructure:"caseFormat"`
	Verbs             []string   `yaml:"verbs" mapstructure:"verbs"`
	RequireAuth       *bool      `yaml:"requireAuth" mapstructure:"requireAuth"`
	RequireValidation *bool      `yaml:"requireValidation" mapstructure:"requireValidation"`
	Tags              []string   `yaml:"tags" mapstructure:"tags"`
}

// DefaultCrudConfig returns a CrudConfig with every verb enabled, camel-cased
// routes, validation on and auth off.
func DefaultCrudConfig() CrudConfig {
	return CrudConfig{
		CaseFormat:        CaseCamel,
		RequireValidation: true,
		DefaultPageSize:   10,
		MaxPageSize:       100,
	}
}

// Validate checks the configuration for unknown verbs, case formats and page sizes.
func (c CrudConfig) Validate() error {
	if !c.CaseFormat.valid() {
		return fmt.Errorf("unknown case format %q", c.CaseFormat)
	}
	if _, err := ParseVerbs(c.Verbs); err != nil {
		return err
	}
	if c.DefaultPageSize < 1 {
		return fmt.Errorf("default page size must be positive, got %d", c.DefaultPageSize)
	}
	if c.MaxPageSize < c.DefaultPageSize {
		return fmt.Errorf("max page size %d is below default page size %d", c.MaxPageSize, c.DefaultPageSize)
	}
	for name, rc := range c.Resources {
		if rc.CaseFormat != "" && !rc.CaseFormat.valid() {
			return fmt.Errorf("resource %s: unknown case format %q", name, rc.CaseFormat)
		}
		if _, err := ParseVerbs(rc.Verbs); err != nil {
			return fmt.Errorf("resource %s: %w", name, err)
		}
	}
	return nil
}

// FileConfig is the on-disk configuration document.
type FileConfig struct {
	Engine EngineConfig `yaml:"engine" mapstructure:"engine"`
	Crud   CrudConfig   `yaml:"crud" mapstructure:"crud"`
}

// DefaultFileConfig returns the defaults LoadConfig decodes on top of.
func DefaultFileConfig() FileConfig {
	return FileConfig{
		Engine: *DefaultConfig(),
		Crud:   DefaultCrudConfig(),
	}
}

// LoadConfig decodes a YAML document over the defaults and validates it.
func LoadConfig(r io.Reader) (FileConfig, error) {
	cfg := DefaultFileConfig()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && err != io.EOF {
		return FileConfig{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Crud.Validate(); err != nil {
		return FileConfig{}, fmt.Errorf("invalid crud config: %w", err)
	}
	return cfg, nil
}

package rested

import (
	"context"
	"fmt"
	"sync"

	"github.com/zoobzio/capitan"
)

// Named lets an entity type choose its display name. Without it the Go type
// name is used.
type Named interface {
	ResourceName() string
}

// Registry collects CRUD resources and derives their endpoints.
// It is frozen the first time its options or endpoints are read; later
// registrations fail with ErrRegistryFrozen.
type Registry struct {
	mu        sync.Mutex
	config    CrudConfig
	resources []registration
	frozen    bool
	endpoints []Endpoint
}

type registration struct {
	options ResourceOptions
	build   func(ro ResourceOptions) ([]Endpoint, error)
}

// NewRegistry creates a registry applying cfg to every resource.
func NewRegistry(cfg CrudConfig) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crud config: %w", err)
	}
	return &Registry{config: cfg}, nil
}

// Register adds a resource served by svc. Name keys per-resource config and
// defaults to the entity display name.
func Register[E, R any, K comparable](reg *Registry, name string, svc CRUD[E, R, K], configure ...func(*Options)) error {
	if svc == nil {
		return fmt.Errorf("resource %s: nil service", name)
	}
	return register[E, R, K](reg, name, svc, svc, VerbsAll, configure)
}

// RegisterReader adds a read-only resource. Only get and list are served.
func RegisterReader[E any, K comparable](reg *Registry, name string, svc Reader[E, K], configure ...func(*Options)) error {
	if svc == nil {
		return fmt.Errorf("resource %s: nil service", name)
	}
	return register[E, NoBody, K](reg, name, svc, nil, VerbsRead, configure)
}

func register[E, R any, K comparable](reg *Registry, name string, reader Reader[E, K], crud CRUD[E, R, K], allowed Verb, configure []func(*Options)) error {
	entity := EntityName[E]()
	if name == "" {
		name = entity
	}

	opts := NewOptions()
	for _, fn := range configure {
		fn(opts)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.frozen {
		return fmt.Errorf("%w: cannot register %s", ErrRegistryFrozen, name)
	}
	for _, r := range reg.resources {
		if r.options.Name == name {
			return fmt.Errorf("%w: %s", ErrDuplicateResource, name)
		}
	}

	ro, err := opts.resolve(name, entity, reg.config)
	if err != nil {
		return err
	}
	ro.Verbs &= allowed
	for v := range ro.Endpoints {
		if !ro.Verbs.Has(v) {
			delete(ro.Endpoints, v)
		}
	}

	key := DescribeKey[K](ro.Format)
	pageSize := reg.config.DefaultPageSize
	reg.resources = append(reg.resources, registration{
		options: ro,
		build: func(ro ResourceOptions) ([]Endpoint, error) {
			f := &factory[E, R, K]{
				ro:       ro,
				key:      key,
				reader:   reader,
				crud:     crud,
				pageSize: pageSize,
			}
			return f.endpoints()
		},
	})

	capitan.Info(context.Background(), ResourceRegistered,
		ResourceKey.Field(name),
		VerbsKey.Field(ro.Verbs.String()),
	)
	return nil
}

// EntityName is the display name of E: its ResourceName when E implements
// Named, else its type name.
func EntityName[E any]() string {
	var zero E
	if n, ok := any(zero).(Named); ok {
		return n.ResourceName()
	}
	if n, ok := any(&zero).(Named); ok {
		return n.ResourceName()
	}
	return componentName(scanModel[E]().TypeName)
}

// Freeze stops further registration and returns the resolved options.
func (reg *Registry) Freeze() OptionsMap {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.frozen = true
	return reg.optionsLocked()
}

// Endpoints freezes the registry and derives every resource's endpoints, in
// registration order. The result is computed once.
func (reg *Registry) Endpoints() ([]Endpoint, error) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.frozen = true
	if reg.endpoints != nil {
		return reg.endpoints, nil
	}
	var all []Endpoint
	for _, r := range reg.resources {
		eps, err := r.build(r.options)
		if err != nil {
			return nil, err
		}
		all = append(all, eps...)
	}
	reg.endpoints = all
	return all, nil
}

func (reg *Registry) optionsLocked() OptionsMap {
	m := OptionsMap{
		byName: make(map[string]ResourceOptions, len(reg.resources)),
		order:  make([]string, 0, len(reg.resources)),
	}
	for _, r := range reg.resources {
		m.byName[r.options.Name] = r.options
		m.order = append(m.order, r.options.Name)
	}
	return m
}

// OptionsMap is the frozen, read-only view of every registered resource's
// options, keyed by resource name.
type OptionsMap struct {
	byName map[string]ResourceOptions
	order  []string
}

// Get returns a copy of the options of a resource.
func (m OptionsMap) Get(name string) (ResourceOptions, bool) {
	ro, ok := m.byName[name]
	if !ok {
		return ResourceOptions{}, false
	}
	endpoints := make(map[Verb]EndpointConfig, len(ro.Endpoints))
	for v, ec := range ro.Endpoints {
		endpoints[v] = ec
	}
	ro.Endpoints = endpoints
	return ro, true
}

// Names lists resources in registration order.
func (m OptionsMap) Names() []string {
	return append([]string(nil), m.order...)
}

// Len returns the number of resources.
func (m OptionsMap) Len() int {
	return len(m.order)
}

package rested

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"time"

	"github.com/zoobzio/capitan"
)

// Reader is the read side of a resource.
type Reader[E any, K comparable] interface {
	GetByID(ctx context.Context, req GetRequest[K]) (*E, error)
	GetPagedList(ctx context.Context, req ListRequest) (*PagedResult[E], error)
}

// CRUD is a resource supporting every verb.
// Update and Delete return false when the service declined the write.
type CRUD[E, R any, K comparable] interface {
	Reader[E, K]
	Create(ctx context.Context, req CreateRequest[R]) (K, error)
	Update(ctx context.Context, req UpdateRequest[K, R]) (bool, error)
	Delete(ctx context.Context, req DeleteRequest[K]) (bool, error)
}

// Hooks are optional customization points around the service pipeline.
// Returning ErrNotApplied from an update or delete hook declines the write.
type Hooks[E, R, D any] struct {
	BeforeMap func(ctx context.Context, d *D) error
	AfterMap  func(ctx context.Context, d *D, e *E) error
	Completed func(ctx context.Context, e *E) error

	BeforeCreate func(ctx context.Context, req *R, d *D) error
	AfterCreate  func(ctx context.Context, req *R, d *D) error
	BeforeUpdate func(ctx context.Context, req *R, d *D) error
	AfterUpdate  func(ctx context.Context, req *R, d *D) error
	BeforeDelete func(ctx context.Context, d *D) error
	AfterDelete  func(ctx context.Context, d *D) error
}

// ServiceConfig assembles the collaborators of a Service.
type ServiceConfig[E, R, D any, K comparable] struct {
	// Name identifies the entity in errors and events.
	Name string

	Repository Repository[D, K]

	// UnitOfWork commits writes. Defaults to Repository when it implements UnitOfWork.
	UnitOfWork UnitOfWork

	Descriptor Descriptor[D, K]
	Mappers    Mappers[E, R, D]

	// Users resolves the acting user. Defaults to ContextUsers.
	Users  UserContext
	Access AccessPolicy
	Hooks  Hooks[E, R, D]

	// DefaultPageSize and MaxPageSize bound list paging. Default 10 and 100.
	DefaultPageSize int
	MaxPageSize     int

	// Clock stamps audit times. Defaults to time.Now in UTC.
	Clock func() time.Time
}

// Service implements CRUD over a Repository, mapping data entities D to
// entities E and request bodies R to D.
type Service[E, R, D any, K comparable] struct {
	name     string
	repo     Repository[D, K]
	uow      UnitOfWork
	desc     Descriptor[D, K]
	mappers  Mappers[E, R, D]
	users    UserContext
	access   AccessPolicy
	hooks    Hooks[E, R, D]
	caps     Capabilities
	pageSize int
	maxPage  int
	now      func() time.Time
}

// NewService validates cfg and builds a Service.
// Capabilities of D are resolved here, once.
func NewService[E, R, D any, K comparable](cfg ServiceConfig[E, R, D, K]) (*Service[E, R, D, K], error) {
	if cfg.Repository == nil {
		return nil, errors.New("service requires a repository")
	}
	if cfg.Descriptor.Key == nil {
		return nil, errors.New("service requires a descriptor key function")
	}
	if !cfg.Mappers.ToEntity.Configured() {
		return nil, errors.New("service requires an entity mapper")
	}
	uow := cfg.UnitOfWork
	if uow == nil {
		var ok bool
		if uow, ok = cfg.Repository.(UnitOfWork); !ok {
			return nil, errors.New("service requires a unit of work")
		}
	}
	name := cfg.Name
	if name == "" {
		name = typeOf[E]().Name()
	}
	s := &Service[E, R, D, K]{
		name:     name,
		repo:     cfg.Repository,
		uow:      uow,
		desc:     cfg.Descriptor,
		mappers:  cfg.Mappers,
		users:    cfg.Users,
		access:   cfg.Access,
		hooks:    cfg.Hooks,
		caps:     CapabilitiesOf[D](),
		pageSize: cfg.DefaultPageSize,
		maxPage:  cfg.MaxPageSize,
		now:      cfg.Clock,
	}
	if s.users == nil {
		s.users = ContextUsers{}
	}
	if s.pageSize <= 0 {
		s.pageSize = 10
	}
	if s.maxPage <= 0 {
		s.maxPage = 100
	}
	if s.pageSize > s.maxPage {
		s.pageSize = s.maxPage
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s, nil
}

// Capabilities returns the capability set resolved for D.
func (s *Service[E, R, D, K]) Capabilities() Capabilities {
	return s.caps
}

// GetByID loads one entity. A stored reference that differs from req.RefID
// fails with ErrInvalidReference rather than ErrEntityNotFound.
func (s *Service[E, R, D, K]) GetByID(ctx context.Context, req GetRequest[K]) (*E, error) {
	d, err := s.load(ctx, req.ID, s.projection(req.Fields))
	if err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, d); err != nil {
		return nil, err
	}
	if err := s.checkReference(ctx, d, req.ID, req.RefID); err != nil {
		return nil, err
	}
	e, err := s.toEntity(ctx, d)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, EntityNotFound(s.name, req.ID)
	}
	if s.hooks.Completed != nil {
		if err := s.hooks.Completed(ctx, e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// GetPagedList returns one page of entities matching the request filters,
// scoped to the caller's rows and to req.RefID when either applies.
func (s *Service[E, R, D, K]) GetPagedList(ctx context.Context, req ListRequest) (*PagedResult[E], error) {
	filters := CastFilters(req.Filters, s.desc.Fields)
	sorts := CastSorts(req.Sorts, s.desc.Fields)

	filters, err := s.scope(ctx, filters)
	if err != nil {
		return nil, err
	}
	if req.RefID != nil && s.caps.Referenced {
		filters = ScopeFilter(filters, Filter{
			Field: s.desc.referenceField(),
			Op:    OpEq,
			Value: formatPrimitive(req.RefID),
		})
	}
	spec := All()
	if len(filters) > 0 {
		spec = NewSpecification(filters...)
	}

	pageIndex, pageSize := s.page(req.PageIndex, req.PageSize)
	total, err := s.repo.Count(ctx, spec)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.GetPaged(ctx, spec, pageIndex, pageSize, sorts, s.projection(req.Fields)...)
	if err != nil {
		return nil, err
	}

	items := make([]E, 0, len(rows))
	for _, row := range rows {
		if row == nil {
			continue
		}
		e, err := s.toEntity(ctx, row)
		if err != nil {
			return nil, err
		}
		if e == nil {
			continue
		}
		items = append(items, *e)
	}
	return &PagedResult[E]{
		Items:      items,
		PageIndex:  pageIndex,
		PageSize:   pageSize,
		TotalCount: total,
	}, nil
}

// Create maps req.Body to a new row, stamps audit fields and commits it.
func (s *Service[E, R, D, K]) Create(ctx context.Context, req CreateRequest[R]) (K, error) {
	var zero K
	if !s.mappers.FromRequest.Configured() {
		return zero, fmt.Errorf("%s: create mapper not configured", s.name)
	}
	d, err := s.mappers.FromRequest.Map(ctx, &req.Body)
	if err != nil {
		return zero, err
	}
	if d == nil {
		return zero, InvalidRequest("%s request could not be mapped", s.name)
	}
	if req.RefID != nil && s.caps.Referenced {
		any(d).(Referenced).SetReferenceID(req.RefID)
	}
	if s.hooks.BeforeCreate != nil {
		if err := s.hooks.BeforeCreate(ctx, &req.Body, d); err != nil {
			return zero, err
		}
	}

	var userID string
	if s.caps.TimeMarked {
		any(d).(TimeMarked).SetCreatedAt(s.now())
	}
	if s.caps.Owned {
		if userID, err = s.users.CurrentUserID(ctx); err != nil {
			return zero, err
		}
		any(d).(Owned).SetCreatedByID(userID)
	}

	if err := s.repo.Add(ctx, d); err != nil {
		return zero, err
	}
	if err := s.uow.Commit(ctx); err != nil {
		return zero, err
	}
	if s.hooks.AfterCreate != nil {
		if err := s.hooks.AfterCreate(ctx, &req.Body, d); err != nil {
			return zero, err
		}
	}

	key := s.desc.Key(d)
	capitan.Info(ctx, EntityCreated,
		ResourceKey.Field(s.name),
		EntityKeyKey.Field(formatPrimitive(key)),
		UserIDKey.Field(userID),
	)
	return key, nil
}

// Update merges req.Body onto the stored row and commits it.
func (s *Service[E, R, D, K]) Update(ctx context.Context, req UpdateRequest[K, R]) (bool, error) {
	if s.mappers.Merge == nil {
		return false, fmt.Errorf("%s: merge mapper not configured", s.name)
	}
	d, err := s.load(ctx, req.ID, nil)
	if err != nil {
		return false, err
	}
	if err := s.checkReference(ctx, d, req.ID, req.RefID); err != nil {
		return false, err
	}
	if err := s.authorize(ctx, d); err != nil {
		return false, err
	}
	if s.hooks.BeforeUpdate != nil {
		if err := s.hooks.BeforeUpdate(ctx, &req.Body, d); err != nil {
			return declined(err)
		}
	}
	if err := s.mappers.Merge(ctx, &req.Body, d); err != nil {
		return declined(err)
	}

	var userID string
	if s.caps.TimeTracked {
		any(d).(TimeTracked).SetUpdatedAt(s.now())
	}
	if s.caps.Tracked {
		if userID, err = s.users.CurrentUserID(ctx); err != nil {
			return false, err
		}
		any(d).(Tracked).SetUpdatedByID(userID)
	}

	if err := s.repo.Modify(ctx, d); err != nil {
		return false, err
	}
	if err := s.uow.Commit(ctx); err != nil {
		return false, err
	}
	if s.hooks.AfterUpdate != nil {
		if err := s.hooks.AfterUpdate(ctx, &req.Body, d); err != nil {
			return false, err
		}
	}

	capitan.Info(ctx, EntityUpdated,
		ResourceKey.Field(s.name),
		EntityKeyKey.Field(formatPrimitive(req.ID)),
		UserIDKey.Field(userID),
	)
	return true, nil
}

// Delete removes the row, or records its deletion when D is soft-deletable.
// Exactly one of the two paths runs.
func (s *Service[E, R, D, K]) Delete(ctx context.Context, req DeleteRequest[K]) (bool, error) {
	d, err := s.load(ctx, req.ID, nil)
	if err != nil {
		return false, err
	}
	if err := s.checkReference(ctx, d, req.ID, req.RefID); err != nil {
		return false, err
	}
	if err := s.authorize(ctx, d); err != nil {
		return false, err
	}
	if s.hooks.BeforeDelete != nil {
		if err := s.hooks.BeforeDelete(ctx, d); err != nil {
			return declined(err)
		}
	}

	var userID string
	soft := s.caps.SoftDelete()
	if soft {
		if s.caps.TimeEnded {
			any(d).(TimeEnded).SetDeletedAt(s.now())
		}
		if s.caps.History {
			if userID, err = s.users.CurrentUserID(ctx); err != nil {
				return false, err
			}
			any(d).(History).SetDeletedByID(userID)
		}
		err = s.repo.Modify(ctx, d)
	} else {
		err = s.repo.Remove(ctx, d)
	}
	if err != nil {
		return false, err
	}
	if err := s.uow.Commit(ctx); err != nil {
		return false, err
	}
	if s.hooks.AfterDelete != nil {
		if err := s.hooks.AfterDelete(ctx, d); err != nil {
			return false, err
		}
	}

	capitan.Info(ctx, EntityDeleted,
		ResourceKey.Field(s.name),
		EntityKeyKey.Field(formatPrimitive(req.ID)),
		UserIDKey.Field(userID),
		SoftDeleteKey.Field(soft),
	)
	return true, nil
}

func (s *Service[E, R, D, K]) load(ctx context.Context, key K, fields []string) (*D, error) {
	d, err := s.repo.Get(ctx, key, fields...)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, EntityNotFound(s.name, key)
	}
	return d, nil
}

// projection casts requested fields to data names and adds the columns the
// ownership and reference checks read.
func (s *Service[E, R, D, K]) projection(fields []string) []string {
	if len(fields) == 0 {
		return nil
	}
	out := make([]string, 0, len(fields)+2)
	seen := make(map[string]bool, len(fields)+2)
	add := func(f string) {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	for _, f := range fields {
		add(s.desc.Fields.Cast(f))
	}
	if s.caps.Owned {
		add(s.desc.ownerField())
	}
	if s.caps.Referenced {
		add(s.desc.referenceField())
	}
	return out
}

func (s *Service[E, R, D, K]) authorize(ctx context.Context, d *D) error {
	if !s.caps.Owned {
		return nil
	}
	userID, roles, err := s.caller(ctx)
	if err != nil {
		return err
	}
	if s.access.Allows(userID, roles, any(d).(Owned).CreatedByID()) {
		return nil
	}
	capitan.Warn(ctx, AccessDenied,
		ResourceKey.Field(s.name),
		UserIDKey.Field(userID),
	)
	return Forbidden(s.name)
}

// scope applies the list-level permission check to filters.
func (s *Service[E, R, D, K]) scope(ctx context.Context, filters []Filter) ([]Filter, error) {
	if !s.caps.Owned {
		return filters, nil
	}
	userID, roles, err := s.caller(ctx)
	if err != nil {
		return nil, err
	}
	switch s.access.listScope(userID, roles) {
	case scopeOwn:
		return ScopeFilter(filters, Filter{Field: s.desc.ownerField(), Op: OpEq, Value: userID}), nil
	case scopeDenied:
		capitan.Warn(ctx, AccessDenied,
			ResourceKey.Field(s.name),
			UserIDKey.Field(userID),
		)
		return nil, Forbidden(s.name)
	default:
		return filters, nil
	}
}

func (s *Service[E, R, D, K]) caller(ctx context.Context) (string, []string, error) {
	userID, err := s.users.CurrentUserID(ctx)
	if err != nil {
		return "", nil, err
	}
	roles, err := s.users.CurrentUserRoles(ctx)
	if err != nil {
		return "", nil, err
	}
	return userID, roles, nil
}

func (s *Service[E, R, D, K]) checkReference(ctx context.Context, d *D, key K, refID any) error {
	if refID == nil || !s.caps.Referenced {
		return nil
	}
	stored := any(d).(Referenced).ReferenceID()
	if sameReference(stored, refID) {
		return nil
	}
	capitan.Warn(ctx, ReferenceMismatch,
		ResourceKey.Field(s.name),
		EntityKeyKey.Field(formatPrimitive(key)),
		ReferenceIDKey.Field(formatPrimitive(refID)),
	)
	return InvalidReference(s.name, refID)
}

func (s *Service[E, R, D, K]) toEntity(ctx context.Context, d *D) (*E, error) {
	if s.hooks.BeforeMap != nil {
		if err := s.hooks.BeforeMap(ctx, d); err != nil {
			return nil, err
		}
	}
	e, err := s.mappers.ToEntity.Map(ctx, d)
	if err != nil {
		return nil, err
	}
	if e != nil && s.hooks.AfterMap != nil {
		if err := s.hooks.AfterMap(ctx, d, e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (s *Service[E, R, D, K]) page(index, size int) (int, int) {
	if index < 1 {
		index = 1
	}
	if size < 1 {
		size = s.pageSize
	}
	if size > s.maxPage {
		size = s.maxPage
	}
	return index, size
}

// declined turns ErrNotApplied into a false result.
func declined(err error) (bool, error) {
	if errors.Is(err, ErrNotApplied) {
		return false, nil
	}
	return false, err
}

// sameReference compares reference ids. Values of different dynamic types
// (an int64 column against an int route value) compare by their text form.
func sameReference(stored, requested any) bool {
	if stored == nil {
		return false
	}
	st, rt := reflect.TypeOf(stored), reflect.TypeOf(requested)
	if st == rt && st.Comparable() {
		return stored == requested
	}
	return formatPrimitive(stored) == formatPrimitive(requested)
}

// NewReader builds a read-only Service from the read-side collaborators.
func NewReader[E, D any, K comparable](repo Repository[D, K], desc Descriptor[D, K], toEntity Mapper[D, E], access AccessPolicy) (*Service[E, NoBody, D, K], error) {
	return NewService(ServiceConfig[E, NoBody, D, K]{
		Repository: repo,
		UnitOfWork: noCommit{},
		Descriptor: desc,
		Mappers:    Mappers[E, NoBody, D]{ToEntity: toEntity},
		Access:     access,
	})
}

type noCommit struct{}

func (noCommit) Commit(ctx context.Context) error {
	return ctx.Err()
}

package rested

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

var fixedTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type widget struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type widgetBody struct {
	Name string `json:"name" validate:"required"`
}

// plainRow has no capabilities: deletes remove it.
type plainRow struct {
	ID   int64
	Name string
}

// auditRow implements every capability marker.
type auditRow struct {
	ID        int64
	Name      string
	Parent    int64
	Created   time.Time
	Updated   time.Time
	Deleted   time.Time
	CreatedBy string
	UpdatedBy string
	DeletedBy string
}

func (r *auditRow) SetCreatedAt(t time.Time) { r.Created = t }
func (r *auditRow) SetUpdatedAt(t time.Time) { r.Updated = t }
func (r *auditRow) DeletedAt() time.Time     { return r.Deleted }
func (r *auditRow) SetDeletedAt(t time.Time) { r.Deleted = t }
func (r *auditRow) CreatedByID() string      { return r.CreatedBy }
func (r *auditRow) SetCreatedByID(id string) { r.CreatedBy = id }
func (r *auditRow) SetUpdatedByID(id string) { r.UpdatedBy = id }
func (r *auditRow) SetDeletedByID(id string) { r.DeletedBy = id }
func (r *auditRow) ReferenceID() any         { return r.Parent }

func (r *auditRow) SetReferenceID(id any) {
	switch v := id.(type) {
	case int64:
		r.Parent = v
	case int:
		r.Parent = int64(v)
	}
}

func auditKey(r *auditRow) int64 { return r.ID }

func plainKey(r *plainRow) int64 { return r.ID }

// fakeRepo is an in-memory Repository keyed by int64 that records what the
// service asked of it.
type fakeRepo[D any] struct {
	mu         sync.Mutex
	rows       map[int64]D
	key        func(*D) int64
	setKey     func(*D, int64)
	seq        int64
	commits    int
	modifies   int
	removes    int
	commitErr  error
	lastSpec   Specification
	lastSorts  []Sort
	lastFields []string
	lastPage   [2]int
}

func newFakeRepo[D any](key func(*D) int64, setKey func(*D, int64), rows ...D) *fakeRepo[D] {
	r := &fakeRepo[D]{rows: make(map[int64]D), key: key, setKey: setKey}
	for _, row := range rows {
		k := key(&row)
		r.rows[k] = row
		if k > r.seq {
			r.seq = k
		}
	}
	return r
}

func (r *fakeRepo[D]) Get(_ context.Context, key int64, fields ...string) (*D, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFields = fields
	row, ok := r.rows[key]
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func (r *fakeRepo[D]) sortedKeys() []int64 {
	keys := make([]int64, 0, len(r.rows))
	for k := range r.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func (r *fakeRepo[D]) GetFirst(_ context.Context, spec Specification) (*D, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSpec = spec
	keys := r.sortedKeys()
	if len(keys) == 0 {
		return nil, nil
	}
	row := r.rows[keys[0]]
	return &row, nil
}

func (r *fakeRepo[D]) GetPaged(_ context.Context, spec Specification, pageIndex, pageSize int, sorts []Sort, fields ...string) ([]*D, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSpec = spec
	r.lastSorts = sorts
	r.lastFields = fields
	r.lastPage = [2]int{pageIndex, pageSize}

	keys := r.sortedKeys()
	start := (pageIndex - 1) * pageSize
	if start >= len(keys) {
		return []*D{}, nil
	}
	end := start + pageSize
	if end > len(keys) {
		end = len(keys)
	}
	out := make([]*D, 0, end-start)
	for _, k := range keys[start:end] {
		row := r.rows[k]
		out = append(out, &row)
	}
	return out, nil
}

func (r *fakeRepo[D]) Count(_ context.Context, spec Specification) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSpec = spec
	return len(r.rows), nil
}

func (r *fakeRepo[D]) Add(_ context.Context, d *D) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.setKey(d, r.seq)
	r.rows[r.seq] = *d
	return nil
}

func (r *fakeRepo[D]) Modify(_ context.Context, d *D) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modifies++
	r.rows[r.key(d)] = *d
	return nil
}

func (r *fakeRepo[D]) Remove(_ context.Context, d *D) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removes++
	delete(r.rows, r.key(d))
	return nil
}

func (r *fakeRepo[D]) Commit(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.commitErr != nil {
		return r.commitErr
	}
	r.commits++
	return nil
}

func (r *fakeRepo[D]) row(key int64) (D, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[key]
	return row, ok
}

func newAuditRepo(rows ...auditRow) *fakeRepo[auditRow] {
	return newFakeRepo(auditKey, func(r *auditRow, id int64) { r.ID = id }, rows...)
}

func newAuditService(t *testing.T, repo *fakeRepo[auditRow], access AccessPolicy, hooks Hooks[widget, widgetBody, auditRow]) *Service[widget, widgetBody, auditRow, int64] {
	t.Helper()
	svc, err := NewService(ServiceConfig[widget, widgetBody, auditRow, int64]{
		Name:       "Widget",
		Repository: repo,
		Descriptor: Descriptor[auditRow, int64]{
			Key:    auditKey,
			Fields: FieldMap{"name": "title"},
		},
		Mappers: Mappers[widget, widgetBody, auditRow]{
			ToEntity:    Sync(func(r *auditRow) *widget { return &widget{ID: r.ID, Name: r.Name} }),
			FromRequest: Sync(func(b *widgetBody) *auditRow { return &auditRow{Name: b.Name} }),
			Merge: func(_ context.Context, b *widgetBody, r *auditRow) error {
				r.Name = b.Name
				return nil
			},
		},
		Access: access,
		Hooks:  hooks,
		Clock:  func() time.Time { return fixedTime },
	})
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}
	return svc
}

func newPlainService(t *testing.T, repo *fakeRepo[plainRow]) *Service[widget, widgetBody, plainRow, int64] {
	t.Helper()
	svc, err := NewService(ServiceConfig[widget, widgetBody, plainRow, int64]{
		Repository: repo,
		Descriptor: Descriptor[plainRow, int64]{Key: plainKey},
		Mappers: Mappers[widget, widgetBody, plainRow]{
			ToEntity:    Sync(func(r *plainRow) *widget { return &widget{ID: r.ID, Name: r.Name} }),
			FromRequest: Sync(func(b *widgetBody) *plainRow { return &plainRow{Name: b.Name} }),
			Merge: func(_ context.Context, b *widgetBody, r *plainRow) error {
				r.Name = b.Name
				return nil
			},
		},
	})
	if err != nil {
		t.Fatalf("NewService() error: %v", err)
	}
	return svc
}

func userCtx(id string, roles ...string) context.Context {
	return WithIdentity(context.Background(), testIdentity{id: id, roles: roles})
}

// repoOnly hides the UnitOfWork of the wrapped repository.
type repoOnly struct {
	Repository[plainRow, int64]
}

func TestNewService_Errors(t *testing.T) {
	toEntity := Sync(func(r *plainRow) *widget { return &widget{ID: r.ID} })
	repo := newFakeRepo(plainKey, func(r *plainRow, id int64) { r.ID = id })

	tests := []struct {
		name string
		cfg  ServiceConfig[widget, widgetBody, plainRow, int64]
	}{
		{"no repository", ServiceConfig[widget, widgetBody, plainRow, int64]{
			Descriptor: Descriptor[plainRow, int64]{Key: plainKey},
			Mappers:    Mappers[widget, widgetBody, plainRow]{ToEntity: toEntity},
		}},
		{"no key", ServiceConfig[widget, widgetBody, plainRow, int64]{
			Repository: repo,
			Mappers:    Mappers[widget, widgetBody, plainRow]{ToEntity: toEntity},
		}},
		{"no entity mapper", ServiceConfig[widget, widgetBody, plainRow, int64]{
			Repository: repo,
			Descriptor: Descriptor[plainRow, int64]{Key: plainKey},
		}},
		{"no unit of work", ServiceConfig[widget, widgetBody, plainRow, int64]{
			Repository: repoOnly{repo},
			Descriptor: Descriptor[plainRow, int64]{Key: plainKey},
			Mappers:    Mappers[widget, widgetBody, plainRow]{ToEntity: toEntity},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewService(tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNewService_Capabilities(t *testing.T) {
	audit := newAuditService(t, newAuditRepo(), AccessPolicy{}, Hooks[widget, widgetBody, auditRow]{})
	caps := audit.Capabilities()
	if !caps.TimeMarked || !caps.TimeTracked || !caps.TimeEnded || !caps.Owned || !caps.Tracked || !caps.History || !caps.Referenced {
		t.Errorf("expected every capability, got %+v", caps)
	}

	plain := newPlainService(t, newFakeRepo(plainKey, func(r *plainRow, id int64) { r.ID = id }))
	if plain.Capabilities() != (Capabilities{}) {
		t.Errorf("expected no capabilities, got %+v", plain.Capabilities())
	}
	if plain.name != "widget" {
		t.Errorf("expected name to default to the entity type, got %q", plain.name)
	}
}

func TestService_Create(t *testing.T) {
	repo := newAuditRepo()
	svc := newAuditService(t, repo, AccessPolicy{}, Hooks[widget, widgetBody, auditRow]{})

	key, err := svc.Create(userCtx("alice"), CreateRequest[widgetBody]{Body: widgetBody{Name: "gear"}, RefID: 7})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if key != 1 {
		t.Errorf("expected key 1, got %d", key)
	}

	row, ok := repo.row(1)
	if !ok {
		t.Fatal("row was not added")
	}
	if row.Name != "gear" || row.Parent != 7 {
		t.Errorf("unexpected row %+v", row)
	}
	if !row.Created.Equal(fixedTime) || row.CreatedBy != "alice" {
		t.Errorf("audit fields not stamped: %+v", row)
	}
	if !row.Updated.IsZero() || row.UpdatedBy != "" {
		t.Errorf("create must not stamp update fields: %+v", row)
	}
	if repo.commits != 1 {
		t.Errorf("expected 1 commit, got %d", repo.commits)
	}
}

func TestService_Create_Failures(t *testing.T) {
	t.Run("nil mapping", func(t *testing.T) {
		repo := newAuditRepo()
		svc, err := NewService(ServiceConfig[widget, widgetBody, auditRow, int64]{
			Repository: repo,
			Descriptor: Descriptor[auditRow, int64]{Key: auditKey},
			Mappers: Mappers[widget, widgetBody, auditRow]{
				ToEntity:    Sync(func(r *auditRow) *widget { return &widget{ID: r.ID} }),
				FromRequest: Sync(func(*widgetBody) *auditRow { return nil }),
			},
		})
		if err != nil {
			t.Fatal(err)
		}
		_, err = svc.Create(context.Background(), CreateRequest[widgetBody]{})
		if !errors.Is(err, ErrInvalidRequest) {
			t.Errorf("expected ErrInvalidRequest, got %v", err)
		}
		if repo.commits != 0 {
			t.Error("nothing should be committed")
		}
	})

	t.Run("commit error", func(t *testing.T) {
		repo := newAuditRepo()
		repo.commitErr = errors.New("deadlock")
		svc := newAuditService(t, repo, AccessPolicy{}, Hooks[widget, widgetBody, auditRow]{})
		if _, err := svc.Create(context.Background(), CreateRequest[widgetBody]{Body: widgetBody{Name: "x"}}); err == nil {
			t.Error("expected commit error")
		}
	})

	t.Run("before hook", func(t *testing.T) {
		repo := newAuditRepo()
		hookErr := errors.New("quota exceeded")
		svc := newAuditService(t, repo, AccessPolicy{}, Hooks[widget, widgetBody, auditRow]{
			BeforeCreate: func(context.Context, *widgetBody, *auditRow) error { return hookErr },
		})
		_, err := svc.Create(context.Background(), CreateRequest[widgetBody]{Body: widgetBody{Name: "x"}})
		if !errors.Is(err, hookErr) {
			t.Errorf("expected hook error, got %v", err)
		}
		if len(repo.rows) != 0 {
			t.Error("row should not be added")
		}
	})
}

func TestService_GetByID(t *testing.T) {
	repo := newAuditRepo(auditRow{ID: 3, Name: "bolt", Parent: 7, CreatedBy: "alice"})
	svc := newAuditService(t, repo, AccessPolicy{}, Hooks[widget, widgetBody, auditRow]{})

	e, err := svc.GetByID(context.Background(), GetRequest[int64]{ID: 3})
	if err != nil {
		t.Fatalf("GetByID() error: %v", err)
	}
	if e.ID != 3 || e.Name != "bolt" {
		t.Errorf("unexpected entity %+v", e)
	}

	_, err = svc.GetByID(context.Background(), GetRequest[int64]{ID: 99})
	if !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("expected ErrEntityNotFound, got %v", err)
	}
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Message != "Widget with key 99 was not found" {
		t.Errorf("unexpected message %q", domainErr.Message)
	}
}

func TestService_GetByID_Reference(t *testing.T) {
	repo := newAuditRepo(auditRow{ID: 3, Parent: 7})
	svc := newAuditService(t, repo, AccessPolicy{}, Hooks[widget, widgetBody, auditRow]{})

	tests := []struct {
		name    string
		refID   any
		wantErr error
	}{
		{"no reference", nil, nil},
		{"same type", int64(7), nil},
		{"route int", 7, nil},
		{"mismatch", int64(8), ErrInvalidReference},
		{"mismatch int", 8, ErrInvalidReference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GetByID(context.Background(), GetRequest[int64]{ID: 3, RefID: tt.refID})
			if tt.wantErr == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestService_GetByID_Projection(t *testing.T) {
	repo := newAuditRepo(auditRow{ID: 1})
	svc := newAuditService(t, repo, AccessPolicy{}, Hooks[widget, widgetBody, auditRow]{})

	if _, err := svc.GetByID(context.Background(), GetRequest[int64]{ID: 1, Fields: []string{"name", "name"}}); err != nil {
		t.Fatal(err)
	}
	want := []string{"title", "createdById", "referenceId"}
	if len(repo.lastFields) != len(want) {
		t.Fatalf("expected fields %v, got %v", want, repo.lastFields)
	}
	for i, f := range want {
		if repo.lastFields[i] != f {
			t.Errorf("field %d: expected %q, got %q", i, f, repo.lastFields[i])
		}
	}

	if _, err := svc.GetByID(context.Background(), GetRequest[int64]{ID: 1}); err != nil {
		t.Fatal(err)
	}
	if len(repo.lastFields) != 0 {
		t.Errorf("no requested fields should load everything, got %v", repo.lastFields)
	}
}

func TestService_GetPagedList_Projection(t *testing.T) {
	repo := newAuditRepo(auditRow{ID: 1, Name: "gear"})
	svc := newAuditService(t, repo, AccessPolicy{}, Hooks[widget, widgetBody, auditRow]{})

	if _, err := svc.GetPagedList(context.Background(), ListRequest{Fields: []string{"name"}}); err != nil {
		t.Fatal(err)
	}
	want := []string{"title", "createdById", "referenceId"}
	if len(repo.lastFields) != len(want) {
		t.Fatalf("expected fields %v, got %v", want, repo.lastFields)
	}
	for i, f := range want {
		if repo.lastFields[i] != f {
			t.Errorf("field %d: expected %q, got %q", i, f, repo.lastFields[i])
		}
	}

	if _, err := svc.GetPagedList(context.Background(), ListRequest{}); err != nil {
		t.Fatal(err)
	}
	if len(repo.lastFields) != 0 {
		t.Errorf("no requested fields should load everything, got %v", repo.lastFields)
	}
}

func TestService_Authorization(t *testing.T) {
	repo := newAuditRepo(auditRow{ID: 1, Parent: 7, CreatedBy: "alice"})
	svc := newAuditService(t, repo, AccessPolicy{RestrictToOwner: true, Roles: []string{"admin"}}, Hooks[widget, widgetBody, auditRow]{})

	tests := []struct {
		name    string
		ctx     context.Context
		wantErr error
	}{
		{"owner", userCtx("alice"), nil},
		{"other user", userCtx("bob"), ErrForbidden},
		{"admin", userCtx("carol", "admin"), nil},
		{"anonymous", context.Background(), ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GetByID(tt.ctx, GetRequest[int64]{ID: 1})
			if tt.wantErr == nil && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestService_CheckOrder(t *testing.T) {
	repo := newAuditRepo(auditRow{ID: 1, Parent: 7, CreatedBy: "alice"})
	svc := newAuditService(t, repo, AccessPolicy{RestrictToOwner: true}, Hooks[widget, widgetBody, auditRow]{})
	ctx := userCtx("bob")

	// Reads check permission first.
	_, err := svc.GetByID(ctx, GetRequest[int64]{ID: 1, RefID: int64(8)})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("get: expected ErrForbidden, got %v", err)
	}

	// Writes check the reference first.
	_, err = svc.Update(ctx, UpdateRequest[int64, widgetBody]{ID: 1, RefID: int64(8), Body: widgetBody{Name: "x"}})
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("update: expected ErrInvalidReference, got %v", err)
	}
	_, err = svc.Delete(ctx, DeleteRequest[int64]{ID: 1, RefID: int64(8)})
	if !errors.Is(err, ErrInvalidReference) {
		t.Errorf("delete: expected ErrInvalidReference, got %v", err)
	}

	_, err = svc.Delete(ctx, DeleteRequest[int64]{ID: 1, RefID: int64(7)})
	if !errors.Is(err, ErrForbidden) {
		t.Errorf("delete: expected ErrForbidden, got %v", err)
	}
	if repo.commits != 0 {
		t.Errorf("denied writes must not commit, got %d commits", repo.commits)
	}
}

func TestService_Update(t *testing.T) {
	repo := newAuditRepo(auditRow{ID: 1, Name: "old", CreatedBy: "alice"})
	svc := newAuditService(t, repo, AccessPolicy{}, Hooks[widget, widgetBody, auditRow]{})

	ok, err := svc.Update(userCtx("bob"), UpdateRequest[int64, widgetBody]{ID: 1, Body: widgetBody{Name: "new"}})
	if err != nil || !ok {
		t.Fatalf("Update() = %v, %v", ok, err)
	}

	row, _ := repo.row(1)
	if row.Name != "new" {
		t.Errorf("expected merged name, got %q", row.Name)
	}
	if !row.Updated.Equal(fixedTime) || row.UpdatedBy != "bob" {
		t.Errorf("update fields not stamped: %+v", row)
	}
	if row.CreatedBy != "alice" {
		t.Errorf("creator must not change, got %q", row.CreatedBy)
	}
	if repo.commits != 1 || repo.modifies != 1 {
		t.Errorf("expected one modify and commit, got %d/%d", repo.modifies, repo.commits)
	}

	_, err = svc.Update(context.Background(), UpdateRequest[int64, widgetBody]{ID: 42})
	if !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("expected ErrEntityNotFound, got %v", err)
	}
}

func TestService_Update_Declined(t *testing.T) {
	repo := newAuditRepo(auditRow{ID: 1, Name: "old"})
	svc := newAuditService(t, repo, AccessPolicy{}, Hooks[widget, widgetBody, auditRow]{
		BeforeUpdate: func(_ context.Context, b *widgetBody, _ *auditRow) error {
			if b.Name == "locked" {
				return ErrNotApplied
			}
			if b.Name == "broken" {
				return errors.New("hook failed")
			}
			return nil
		},
	})

	ok, err := svc.Update(context.Background(), UpdateRequest[int64, widgetBody]{ID: 1, Body: widgetBody{Name: "locked"}})
	if err != nil || ok {
		t.Errorf("expected a declined update, got %v, %v", ok, err)
	}
	row, _ := repo.row(1)
	if row.Name != "old" || repo.commits != 0 {
		t.Errorf("declined update must not write: %+v, %d commits", row, repo.commits)
	}

	ok, err = svc.Update(context.Background(), UpdateRequest[int64, widgetBody]{ID: 1, Body: widgetBody{Name: "broken"}})
	if err == nil || ok {
		t.Errorf("expected hook error, got %v, %v", ok, err)
	}
}

func TestService_Delete_Soft(t *testing.T) {
	repo := newAuditRepo(auditRow{ID: 1, Name: "gone"})
	svc := newAuditService(t, repo, AccessPolicy{}, Hooks[widget, widgetBody, auditRow]{})

	ok, err := svc.Delete(userCtx("alice"), DeleteRequest[int64]{ID: 1})
	if err != nil || !ok {
		t.Fatalf("Delete() = %v, %v", ok, err)
	}

	row, exists := repo.row(1)
	if !exists {
		t.Fatal("soft delete must keep the row")
	}
	if !row.Deleted.Equal(fixedTime) || row.DeletedBy != "alice" {
		t.Errorf("deletion not recorded: %+v", row)
	}
	if repo.removes != 0 || repo.modifies != 1 {
		t.Errorf("expected only a modify, got %d removes and %d modifies", repo.removes, repo.modifies)
	}
}

func TestService_Delete_Hard(t *testing.T) {
	repo := newFakeRepo(plainKey, func(r *plainRow, id int64) { r.ID = id }, plainRow{ID: 1, Name: "gone"})
	svc := newPlainService(t, repo)

	ok, err := svc.Delete(context.Background(), DeleteRequest[int64]{ID: 1})
	if err != nil || !ok {
		t.Fatalf("Delete() = %v, %v", ok, err)
	}
	if _, exists := repo.row(1); exists {
		t.Error("hard delete must remove the row")
	}
	if repo.removes != 1 || repo.modifies != 0 {
		t.Errorf("expected only a remove, got %d removes and %d modifies", repo.removes, repo.modifies)
	}

	_, err = svc.Delete(context.Background(), DeleteRequest[int64]{ID: 1})
	if !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("expected ErrEntityNotFound on second delete, got %v", err)
	}
}

func TestService_Delete_Declined(t *testing.T) {
	repo := newAuditRepo(auditRow{ID: 1})
	svc := newAuditService(t, repo, AccessPolicy{}, Hooks[widget, widgetBody, auditRow]{
		BeforeDelete: func(context.Context, *auditRow) error { return ErrNotApplied },
	})

	ok, err := svc.Delete(context.Background(), DeleteRequest[int64]{ID: 1})
	if err != nil || ok {
		t.Errorf("expected a declined delete, got %v, %v", ok, err)
	}
	row, _ := repo.row(1)
	if !row.Deleted.IsZero() || repo.commits != 0 {
		t.Error("declined delete must not write")
	}
}

func TestService_GetPagedList(t *testing.T) {
	var rows []auditRow
	for i := int64(1); i <= 25; i++ {
		rows = append(rows, auditRow{ID: i})
	}
	repo := newAuditRepo(rows...)
	svc := newAuditService(t, repo, AccessPolicy{}, Hooks[widget, widgetBody, auditRow]{})

	tests := []struct {
		name      string
		index     int
		size      int
		wantIndex int
		wantSize  int
		wantItems int
	}{
		{"defaults", 0, 0, 1, 10, 10},
		{"last page", 3, 10, 3, 10, 5},
		{"past the end", 9, 10, 9, 10, 0},
		{"clamped", 1, 1000, 1, 100, 25},
		{"negative", -2, -5, 1, 10, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := svc.GetPagedList(context.Background(), ListRequest{PageIndex: tt.index, PageSize: tt.size})
			if err != nil {
				t.Fatalf("GetPagedList() error: %v", err)
			}
			if page.PageIndex != tt.wantIndex || page.PageSize != tt.wantSize {
				t.Errorf("expected page %d/%d, got %d/%d", tt.wantIndex, tt.wantSize, page.PageIndex, page.PageSize)
			}
			if len(page.Items) != tt.wantItems {
				t.Errorf("expected %d items, got %d", tt.wantItems, len(page.Items))
			}
			if page.TotalCount != 25 {
				t.Errorf("expected total 25, got %d", page.TotalCount)
			}
		})
	}
}

func TestService_GetPagedList_Casting(t *testing.T) {
	repo := newAuditRepo()
	svc := newAuditService(t, repo, AccessPolicy{}, Hooks[widget, widgetBody, auditRow]{})

	_, err := svc.GetPagedList(context.Background(), ListRequest{
		Filters: []Filter{{Field: "name", Op: OpContains, Value: "bo"}},
		Sorts:   []Sort{{Field: "name", Desc: true}, {Field: "id"}},
		RefID:   7,
	})
	if err != nil {
		t.Fatal(err)
	}

	filters := repo.lastSpec.Filters()
	if len(filters) != 2 {
		t.Fatalf("expected 2 filters, got %v", filters)
	}
	if filters[0] != (Filter{Field: "title", Op: OpContains, Value: "bo"}) {
		t.Errorf("filter not cast: %v", filters[0])
	}
	if filters[1] != (Filter{Field: "referenceId", Op: OpEq, Value: "7"}) {
		t.Errorf("expected reference scope, got %v", filters[1])
	}
	if len(repo.lastSorts) != 2 || repo.lastSorts[0].Field != "title" || !repo.lastSorts[0].Desc || repo.lastSorts[1].Field != "id" {
		t.Errorf("sorts not cast: %v", repo.lastSorts)
	}
}

func TestService_GetPagedList_Scope(t *testing.T) {
	tests := []struct {
		name       string
		access     AccessPolicy
		ctx        context.Context
		wantErr    error
		wantFilter *Filter
	}{
		{"no policy", AccessPolicy{}, userCtx("bob"), nil, nil},
		{"owner only", AccessPolicy{RestrictToOwner: true}, userCtx("bob"), nil, &Filter{Field: "createdById", Op: OpEq, Value: "bob"}},
		{"owner with role bypass", AccessPolicy{RestrictToOwner: true, Roles: []string{"admin"}}, userCtx("root", "admin"), nil, nil},
		{"owner without role", AccessPolicy{RestrictToOwner: true, Roles: []string{"admin"}}, userCtx("bob", "staff"), nil, &Filter{Field: "createdById", Op: OpEq, Value: "bob"}},
		{"role only, in role", AccessPolicy{Roles: []string{"admin"}}, userCtx("root", "admin"), nil, nil},
		{"role only, not in role", AccessPolicy{Roles: []string{"admin"}}, userCtx("bob"), ErrForbidden, nil},
		{"owner only, anonymous", AccessPolicy{RestrictToOwner: true}, context.Background(), ErrForbidden, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newAuditRepo()
			svc := newAuditService(t, repo, tt.access, Hooks[widget, widgetBody, auditRow]{})

			_, err := svc.GetPagedList(tt.ctx, ListRequest{
				Filters: []Filter{{Field: "createdById", Op: OpEq, Value: "alice"}},
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			filters := repo.lastSpec.Filters()
			if len(filters) != 1 {
				t.Fatalf("owner field must be filtered exactly once, got %v", filters)
			}
			want := Filter{Field: "createdById", Op: OpEq, Value: "alice"}
			if tt.wantFilter != nil {
				want = *tt.wantFilter
			}
			if filters[0] != want {
				t.Errorf("expected %v, got %v", want, filters[0])
			}
		})
	}
}

func TestService_MapHooks(t *testing.T) {
	repo := newAuditRepo(auditRow{ID: 1, Name: "a"}, auditRow{ID: 2, Name: "hidden"})
	completedErr := errors.New("completion failed")
	svc := newAuditService(t, repo, AccessPolicy{}, Hooks[widget, widgetBody, auditRow]{
		AfterMap: func(_ context.Context, d *auditRow, e *widget) error {
			e.Name = e.Name + "!"
			return nil
		},
		Completed: func(_ context.Context, e *widget) error {
			if e.ID == 2 {
				return completedErr
			}
			return nil
		},
	})

	e, err := svc.GetByID(context.Background(), GetRequest[int64]{ID: 1})
	if err != nil {
		t.Fatal(err)
	}
	if e.Name != "a!" {
		t.Errorf("AfterMap not applied: %q", e.Name)
	}

	if _, err := svc.GetByID(context.Background(), GetRequest[int64]{ID: 2}); !errors.Is(err, completedErr) {
		t.Errorf("expected Completed error, got %v", err)
	}

	page, err := svc.GetPagedList(context.Background(), ListRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 2 || page.Items[1].Name != "hidden!" {
		t.Errorf("list should map every row: %+v", page.Items)
	}
}

func TestService_NilEntity(t *testing.T) {
	repo := newAuditRepo(auditRow{ID: 1}, auditRow{ID: 2})
	svc, err := NewService(ServiceConfig[widget, widgetBody, auditRow, int64]{
		Repository: repo,
		Descriptor: Descriptor[auditRow, int64]{Key: auditKey},
		Mappers: Mappers[widget, widgetBody, auditRow]{
			ToEntity: Sync(func(r *auditRow) *widget {
				if r.ID == 2 {
					return nil
				}
				return &widget{ID: r.ID}
			}),
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.GetByID(context.Background(), GetRequest[int64]{ID: 2}); !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("expected ErrEntityNotFound, got %v", err)
	}
	page, err := svc.GetPagedList(context.Background(), ListRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if len(page.Items) != 1 {
		t.Errorf("unmapped rows should be skipped, got %d items", len(page.Items))
	}
	if _, err := svc.Update(context.Background(), UpdateRequest[int64, widgetBody]{ID: 1}); err == nil {
		t.Error("update without a merge mapper should fail")
	}
}

func TestNewReader(t *testing.T) {
	repo := newAuditRepo(auditRow{ID: 5, Name: "ro"})
	svc, err := NewReader[widget, auditRow, int64](repo, Descriptor[auditRow, int64]{Key: auditKey},
		Sync(func(r *auditRow) *widget { return &widget{ID: r.ID, Name: r.Name} }), AccessPolicy{})
	if err != nil {
		t.Fatalf("NewReader() error: %v", err)
	}

	e, err := svc.GetByID(context.Background(), GetRequest[int64]{ID: 5})
	if err != nil || e.Name != "ro" {
		t.Errorf("GetByID() = %+v, %v", e, err)
	}
	if _, err := svc.Create(context.Background(), CreateRequest[NoBody]{}); err == nil {
		t.Error("reader must not create")
	}
}

func TestSameReference(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	tests := []struct {
		name      string
		stored    any
		requested any
		want      bool
	}{
		{"equal int64", int64(7), int64(7), true},
		{"int64 against int", int64(7), 7, true},
		{"different", int64(7), int64(8), false},
		{"nil stored", nil, 7, false},
		{"strings", "abc", "abc", true},
		{"uuid against text", id, id.String(), true},
		{"uuid", id, id, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sameReference(tt.stored, tt.requested); got != tt.want {
				t.Errorf("sameReference(%v, %v) = %v, want %v", tt.stored, tt.requested, got, tt.want)
			}
		})
	}
}

func TestDeclined(t *testing.T) {
	if ok, err := declined(fmt.Errorf("hook: %w", ErrNotApplied)); ok || err != nil {
		t.Errorf("wrapped ErrNotApplied should decline, got %v, %v", ok, err)
	}
	boom := errors.New("boom")
	if ok, err := declined(boom); ok || !errors.Is(err, boom) {
		t.Errorf("other errors pass through, got %v, %v", ok, err)
	}
}

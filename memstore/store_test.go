package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/rested"
)

type note struct {
	ID        int64      `json:"id"`
	Title     string     `json:"title"`
	Score     float64    `json:"score"`
	Pinned    bool       `json:"pinned"`
	Owner     string     `json:"createdById"`
	CreatedAt time.Time  `json:"createdAt"`
	Removed   time.Time  `json:"-"`
	Ref       *uuid.UUID `json:"referenceId,omitempty"`
}

func (n *note) DeletedAt() time.Time     { return n.Removed }
func (n *note) SetDeletedAt(t time.Time) { n.Removed = t }

type tagged struct {
	Name      string `json:"name"`
	DeletedBy string `json:"deletedBy"`
}

func (t *tagged) DeletedByID() string { return t.DeletedBy }

func noteKey(n *note) int64 { return n.ID }

func seeded(t *testing.T) *Store[note, int64] {
	t.Helper()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(noteKey)
	s.Seed(
		note{ID: 1, Title: "Alpha", Score: 3.5, Owner: "u1", CreatedAt: base},
		note{ID: 2, Title: "beta", Score: 1, Pinned: true, Owner: "u2", CreatedAt: base.Add(time.Hour)},
		note{ID: 3, Title: "Gamma", Score: 2, Owner: "u1", CreatedAt: base.Add(2 * time.Hour)},
		note{ID: 10, Title: "alphabet", Score: 2, Owner: "u2", CreatedAt: base.Add(3 * time.Hour)},
		note{ID: 4, Title: "gone", Owner: "u1", Removed: base},
	)
	return s
}

func ids(rows []*note) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.ID
	}
	return out
}

func equalIDs(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestStore_Get(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	got, err := s.Get(ctx, 2)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got == nil || got.Title != "beta" {
		t.Fatalf("Get(2) = %+v", got)
	}

	got.Title = "changed"
	again, _ := s.Get(ctx, 2)
	if again.Title != "beta" {
		t.Error("Get() must return a copy")
	}

	if got, _ := s.Get(ctx, 99); got != nil {
		t.Errorf("Get(99) = %+v, want nil", got)
	}
	if got, _ := s.Get(ctx, 4); got != nil {
		t.Errorf("soft-deleted row returned: %+v", got)
	}
	if raw, ok := s.Raw(4); !ok || raw.Title != "gone" {
		t.Errorf("Raw(4) = %+v, %v", raw, ok)
	}
}

func TestStore_GetProjection(t *testing.T) {
	s := seeded(t)

	got, err := s.Get(context.Background(), 1, "title")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.ID != 1 {
		t.Errorf("key must survive projection, got %d", got.ID)
	}
	if got.Title != "Alpha" {
		t.Errorf("Title = %q", got.Title)
	}
	if got.Score != 0 || got.Owner != "" {
		t.Errorf("unprojected fields populated: %+v", got)
	}

	if _, err := s.Get(context.Background(), 1, "nope"); !errors.Is(err, rested.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestStore_GetPagedProjection(t *testing.T) {
	s := seeded(t)

	rows, err := s.GetPaged(context.Background(), rested.All(), 1, 2, nil, "title")
	if err != nil {
		t.Fatalf("GetPaged() error: %v", err)
	}
	if !equalIDs(ids(rows), []int64{1, 2}) {
		t.Fatalf("GetPaged() = %v", ids(rows))
	}
	for _, r := range rows {
		if r.Title == "" {
			t.Errorf("row %d lost its title", r.ID)
		}
		if r.Score != 0 || r.Owner != "" || !r.CreatedAt.IsZero() {
			t.Errorf("unprojected fields populated: %+v", r)
		}
	}

	if _, err := s.GetPaged(context.Background(), rested.All(), 1, 2, nil, "nope"); !errors.Is(err, rested.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestStore_GetPagedKeyOrder(t *testing.T) {
	s := seeded(t)

	rows, err := s.GetPaged(context.Background(), rested.All(), 1, 10, nil)
	if err != nil {
		t.Fatalf("GetPaged() error: %v", err)
	}
	if want := []int64{1, 2, 3, 10}; !equalIDs(ids(rows), want) {
		t.Errorf("ids = %v, want %v", ids(rows), want)
	}
}

func TestStore_GetPagedPaging(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	tests := []struct {
		index, size int
		want        []int64
	}{
		{1, 2, []int64{1, 2}},
		{2, 2, []int64{3, 10}},
		{3, 2, []int64{}},
		{0, 3, []int64{1, 2, 3}},
		{1, 0, []int64{}},
	}
	for _, tt := range tests {
		rows, err := s.GetPaged(ctx, rested.All(), tt.index, tt.size, nil)
		if err != nil {
			t.Fatalf("GetPaged(%d, %d) error: %v", tt.index, tt.size, err)
		}
		if !equalIDs(ids(rows), tt.want) {
			t.Errorf("GetPaged(%d, %d) = %v, want %v", tt.index, tt.size, ids(rows), tt.want)
		}
	}
}

func TestStore_Filters(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter rested.Filter
		want   []int64
	}{
		{"eq string", rested.Filter{Field: "createdById", Op: rested.OpEq, Value: "u1"}, []int64{1, 3}},
		{"go name", rested.Filter{Field: "Owner", Op: rested.OpNe, Value: "u1"}, []int64{2, 10}},
		{"contains", rested.Filter{Field: "title", Op: rested.OpContains, Value: "ALPHA"}, []int64{1, 10}},
		{"startswith", rested.Filter{Field: "title", Op: rested.OpStartsWith, Value: "g"}, []int64{3}},
		{"gt float", rested.Filter{Field: "score", Op: rested.OpGt, Value: "1.5"}, []int64{1, 3, 10}},
		{"le int", rested.Filter{Field: "id", Op: rested.OpLe, Value: "3"}, []int64{1, 2, 3}},
		{"bool", rested.Filter{Field: "pinned", Op: rested.OpEq, Value: "true"}, []int64{2}},
		{"time", rested.Filter{Field: "createdAt", Op: rested.OpGe, Value: "2025-01-01T02:00:00Z"}, []int64{3, 10}},
		{"nil pointer", rested.Filter{Field: "referenceId", Op: rested.OpEq, Value: "null"}, []int64{1, 2, 3, 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := rested.NewSpecification(tt.filter)
			rows, err := s.GetPaged(ctx, spec, 1, 100, nil)
			if err != nil {
				t.Fatalf("GetPaged() error: %v", err)
			}
			if !equalIDs(ids(rows), tt.want) {
				t.Errorf("ids = %v, want %v", ids(rows), tt.want)
			}
			n, err := s.Count(ctx, spec)
			if err != nil {
				t.Fatalf("Count() error: %v", err)
			}
			if n != len(tt.want) {
				t.Errorf("Count() = %d, want %d", n, len(tt.want))
			}
		})
	}
}

func TestStore_FilterErrors(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	for _, f := range []rested.Filter{
		{Field: "unknown", Op: rested.OpEq, Value: "x"},
		{Field: "score", Op: rested.OpGt, Value: "high"},
		{Field: "createdAt", Op: rested.OpLt, Value: "today"},
		{Field: "id", Op: rested.Operator("in"), Value: "1"},
	} {
		if _, err := s.Count(ctx, rested.NewSpecification(f)); !errors.Is(err, rested.ErrInvalidRequest) {
			t.Errorf("Count(%s) error = %v, want ErrInvalidRequest", f, err)
		}
	}
}

func TestStore_Sorts(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	rows, err := s.GetPaged(ctx, rested.All(), 1, 10, []rested.Sort{{Field: "score", Desc: true}, {Field: "title"}})
	if err != nil {
		t.Fatalf("GetPaged() error: %v", err)
	}
	if want := []int64{1, 3, 10, 2}; !equalIDs(ids(rows), want) {
		t.Errorf("ids = %v, want %v", ids(rows), want)
	}

	rows, err = s.GetPaged(ctx, rested.All(), 1, 10, []rested.Sort{{Field: "createdAt", Desc: true}})
	if err != nil {
		t.Fatalf("GetPaged() error: %v", err)
	}
	if want := []int64{10, 3, 2, 1}; !equalIDs(ids(rows), want) {
		t.Errorf("ids = %v, want %v", ids(rows), want)
	}

	if _, err := s.GetPaged(ctx, rested.All(), 1, 10, []rested.Sort{{Field: "bogus"}}); !errors.Is(err, rested.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestStore_GetFirst(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	got, err := s.GetFirst(ctx, rested.NewSpecification(rested.Filter{Field: "createdById", Op: rested.OpEq, Value: "u2"}))
	if err != nil {
		t.Fatalf("GetFirst() error: %v", err)
	}
	if got == nil || got.ID != 2 {
		t.Errorf("GetFirst() = %+v", got)
	}

	got, err = s.GetFirst(ctx, rested.NewSpecification(rested.Filter{Field: "createdById", Op: rested.OpEq, Value: "u9"}))
	if err != nil || got != nil {
		t.Errorf("GetFirst() = %+v, %v; want nil, nil", got, err)
	}
}

func TestStore_WriteCycle(t *testing.T) {
	s := New(noteKey, WithSequence[note, int64](func(n *note, seq int64) { n.ID = seq }))
	ctx := context.Background()

	n := &note{Title: "first"}
	if err := s.Add(ctx, n); err != nil {
		t.Fatalf("Add() error: %v", err)
	}
	if n.ID != 1 {
		t.Errorf("assigned ID = %d, want 1", n.ID)
	}
	if err := s.Add(ctx, &note{Title: "second"}); err != nil {
		t.Fatalf("Add() error: %v", err)
	}

	n.Title = "renamed"
	if err := s.Modify(ctx, n); err != nil {
		t.Fatalf("Modify() error: %v", err)
	}
	got, _ := s.Get(ctx, 1)
	if got.Title != "renamed" {
		t.Errorf("Title = %q, want renamed", got.Title)
	}

	if err := s.Remove(ctx, n); err != nil {
		t.Fatalf("Remove() error: %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
	if err := s.Remove(ctx, n); !errors.Is(err, rested.ErrEntityNotFound) {
		t.Errorf("expected ErrEntityNotFound, got %v", err)
	}
	if err := s.Modify(ctx, n); !errors.Is(err, rested.ErrEntityNotFound) {
		t.Errorf("expected ErrEntityNotFound, got %v", err)
	}

	if err := s.Commit(ctx); err != nil {
		t.Fatalf("Commit() error: %v", err)
	}
	if s.Commits() != 1 {
		t.Errorf("Commits() = %d, want 1", s.Commits())
	}
}

func TestStore_SequenceSkipsSeededKeys(t *testing.T) {
	s := New(noteKey, WithSequence[note, int64](func(n *note, seq int64) { n.ID = seq }))
	s.Seed(note{ID: 1, Title: "one"}, note{ID: 2, Title: "two"}, note{ID: 4, Title: "four"})
	ctx := context.Background()

	var got []int64
	for i := 0; i < 2; i++ {
		n := &note{Title: "new"}
		if err := s.Add(ctx, n); err != nil {
			t.Fatalf("Add() error: %v", err)
		}
		got = append(got, n.ID)
	}
	if !equalIDs(got, []int64{3, 5}) {
		t.Errorf("assigned %v, want [3 5]", got)
	}

	fixed := New(noteKey, WithSequence[note, int64](func(n *note, _ int64) { n.ID = 7 }))
	fixed.Seed(note{ID: 7})
	if err := fixed.Add(ctx, &note{}); !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestStore_DuplicateKey(t *testing.T) {
	s := seeded(t)

	err := s.Add(context.Background(), &note{ID: 1})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestStore_SoftDeleteByModify(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	n, _ := s.Get(ctx, 3)
	n.SetDeletedAt(time.Now())
	if err := s.Modify(ctx, n); err != nil {
		t.Fatalf("Modify() error: %v", err)
	}
	if got, _ := s.Get(ctx, 3); got != nil {
		t.Error("row should be hidden after soft delete")
	}
	if count, _ := s.Count(ctx, rested.All()); count != 3 {
		t.Errorf("Count() = %d, want 3", count)
	}
	if s.Len() != 5 {
		t.Errorf("Len() = %d, want 5", s.Len())
	}
}

func TestStore_DeleterHidesRows(t *testing.T) {
	s := New(func(t *tagged) string { return t.Name })
	s.Seed(tagged{Name: "a"}, tagged{Name: "b", DeletedBy: "u1"})

	count, err := s.Count(context.Background(), rested.All())
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

func TestStore_CanceledContext(t *testing.T) {
	s := seeded(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := s.Get(ctx, 1); !errors.Is(err, context.Canceled) {
		t.Errorf("Get() error = %v", err)
	}
	if _, err := s.Count(ctx, rested.All()); !errors.Is(err, context.Canceled) {
		t.Errorf("Count() error = %v", err)
	}
	if err := s.Add(ctx, &note{ID: 50}); !errors.Is(err, context.Canceled) {
		t.Errorf("Add() error = %v", err)
	}
	if err := s.Commit(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Commit() error = %v", err)
	}
}

func TestStore_Concurrent(t *testing.T) {
	s := New(noteKey, WithSequence[note, int64](func(n *note, seq int64) { n.ID = seq }))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Add(ctx, &note{Title: fmt.Sprintf("n%d", i)}); err != nil {
				t.Errorf("Add() error: %v", err)
			}
			if _, err := s.GetPaged(ctx, rested.All(), 1, 10, nil); err != nil {
				t.Errorf("GetPaged() error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if s.Len() != 50 {
		t.Errorf("Len() = %d, want 50", s.Len())
	}
}

func TestKeyString_Order(t *testing.T) {
	if keyString(int64(2)) >= keyString(int64(10)) {
		t.Error("integer keys must sort numerically")
	}
	if keyString(uint(7)) != "00000000000000000007" {
		t.Errorf("keyString(uint) = %q", keyString(uint(7)))
	}
	id := uuid.MustParse("6f1c1d1e-8b7e-4c1a-9a43-3d1f0e7b2c11")
	if keyString(id) != id.String() {
		t.Errorf("keyString(uuid) = %q", keyString(id))
	}
	if keyString("abc") != "abc" {
		t.Errorf("keyString(string) = %q", keyString("abc"))
	}
}

func TestStore_ImplementsRepository(_ *testing.T) {
	var _ rested.Repository[note, int64] = (*Store[note, int64])(nil)
	var _ rested.UnitOfWork = (*Store[note, int64])(nil)
}

// Package memstore is an in-memory rested.Repository for tests, examples and
// small deployments. Rows are kept in key order in a radix tree.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/armon/go-radix"
	"github.com/zoobzio/rested"
)

// ErrDuplicateKey is returned when adding a row whose key is already stored.
var ErrDuplicateKey = errors.New("duplicate key")

// Deleter is implemented by rows that record who deleted them. A non-empty
// id hides the row, like a non-zero rested.TimeEnded deletion time.
type Deleter interface {
	DeletedByID() string
}

// Store holds rows of D keyed by K. It implements rested.Repository and
// rested.UnitOfWork. Writes apply immediately; Commit counts commits.
type Store[D any, K comparable] struct {
	mu       sync.RWMutex
	rows     *radix.Tree
	key      func(*D) K
	assign   func(d *D, seq int64)
	seq      int64
	commits  int
	fields   fieldIndex
	keyField string
}

// Option configures a Store.
type Option[D any, K comparable] func(*Store[D, K])

// WithSequence assigns keys on Add: assign receives each new row and the
// next value of a counter starting at 1. Values whose key is already stored,
// by Seed for instance, are skipped.
func WithSequence[D any, K comparable](assign func(d *D, seq int64)) Option[D, K] {
	return func(s *Store[D, K]) {
		s.assign = assign
	}
}

// WithKeyField names the property that always survives projection.
// Defaults to "id".
func WithKeyField[D any, K comparable](name string) Option[D, K] {
	return func(s *Store[D, K]) {
		s.keyField = name
	}
}

// New creates an empty store. key reads a row's key and D must be a struct.
func New[D any, K comparable](key func(*D) K, opts ...Option[D, K]) *Store[D, K] {
	s := &Store[D, K]{
		rows:     radix.New(),
		key:      key,
		fields:   indexFields(reflect.TypeOf((*D)(nil)).Elem()),
		keyField: "id",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Seed stores rows directly, bypassing sequence assignment. Existing keys are
// overwritten. It is meant for fixtures.
func (s *Store[D, K]) Seed(rows ...D) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range rows {
		row := rows[i]
		s.rows.Insert(keyString(s.key(&row)), &row)
	}
}

// Len returns the number of stored rows, deleted ones included.
func (s *Store[D, K]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rows.Len()
}

// Commits returns how many times Commit succeeded.
func (s *Store[D, K]) Commits() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.commits
}

// Raw returns a copy of a stored row even when it is soft-deleted.
func (s *Store[D, K]) Raw(key K) (*D, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.rows.Get(keyString(key))
	if !ok {
		return nil, false
	}
	row := *v.(*D)
	return &row, true
}

// Get implements rested.Repository. Soft-deleted rows are not returned.
func (s *Store[D, K]) Get(ctx context.Context, key K, fields ...string) (*D, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.rows.Get(keyString(key))
	if !ok || deleted(v.(*D)) {
		return nil, nil
	}
	return s.project(v.(*D), fields)
}

// GetFirst implements rested.Repository.
func (s *Store[D, K]) GetFirst(ctx context.Context, spec rested.Specification) (*D, error) {
	rows, err := s.GetPaged(ctx, spec, 1, 1, nil)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// GetPaged implements rested.Repository. Without sorts rows come in key order.
func (s *Store[D, K]) GetPaged(ctx context.Context, spec rested.Specification, pageIndex, pageSize int, sorts []rested.Sort, fields ...string) ([]*D, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	matched, err := s.matching(spec)
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	if len(sorts) > 0 {
		if err := s.sortRows(matched, sorts); err != nil {
			return nil, err
		}
	}

	if pageIndex < 1 {
		pageIndex = 1
	}
	if pageSize < 1 {
		return []*D{}, nil
	}
	start := (pageIndex - 1) * pageSize
	if start >= len(matched) {
		return []*D{}, nil
	}
	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}
	page := matched[start:end]
	if len(fields) == 0 {
		return page, nil
	}
	for i, row := range page {
		if page[i], err = s.project(row, fields); err != nil {
			return nil, err
		}
	}
	return page, nil
}

// Count implements rested.Repository.
func (s *Store[D, K]) Count(ctx context.Context, spec rested.Specification) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	matched, err := s.matching(spec)
	return len(matched), err
}

// Add implements rested.Repository.
func (s *Store[D, K]) Add(ctx context.Context, d *D) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.assign != nil {
		s.next(d)
	}
	k := keyString(s.key(d))
	if _, exists := s.rows.Get(k); exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, k)
	}
	row := *d
	s.rows.Insert(k, &row)
	return nil
}

// Modify implements rested.Repository.
func (s *Store[D, K]) Modify(ctx context.Context, d *D) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyString(s.key(d))
	if _, exists := s.rows.Get(k); !exists {
		return fmt.Errorf("%w: %s", rested.ErrEntityNotFound, k)
	}
	row := *d
	s.rows.Insert(k, &row)
	return nil
}

// Remove implements rested.Repository.
func (s *Store[D, K]) Remove(ctx context.Context, d *D) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyString(s.key(d))
	if _, existed := s.rows.Delete(k); !existed {
		return fmt.Errorf("%w: %s", rested.ErrEntityNotFound, k)
	}
	return nil
}

// Commit implements rested.UnitOfWork.
func (s *Store[D, K]) Commit(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.commits++
	s.mu.Unlock()
	return nil
}

// matching returns copies of the live rows satisfying spec, in key order.
// Callers hold at least a read lock.
func (s *Store[D, K]) matching(spec rested.Specification) ([]*D, error) {
	filters := spec.Filters()
	out := make([]*D, 0)
	var walkErr error
	s.rows.Walk(func(_ string, v interface{}) bool {
		row := v.(*D)
		if deleted(row) {
			return false
		}
		rv := reflect.ValueOf(row).Elem()
		for _, f := range filters {
			ok, err := s.fields.match(rv, f)
			if err != nil {
				walkErr = err
				return true
			}
			if !ok {
				return false
			}
		}
		cp := *row
		out = append(out, &cp)
		return false
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return out, nil
}

func (s *Store[D, K]) sortRows(rows []*D, sorts []rested.Sort) error {
	paths := make([][]int, len(sorts))
	for i, srt := range sorts {
		if _, err := s.fields.lookup(reflect.ValueOf(new(D)).Elem(), srt.Field); err != nil {
			return err
		}
		paths[i] = s.fields[lowerName(srt.Field)]
	}
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := reflect.ValueOf(rows[i]).Elem(), reflect.ValueOf(rows[j]).Elem()
		for n, srt := range sorts {
			c := compareValues(a.FieldByIndex(paths[n]), b.FieldByIndex(paths[n]))
			if c == 0 {
				continue
			}
			if srt.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
	return nil
}

// next assigns the first sequence value whose key is free. An assign func
// that ignores seq stops after one repeat and leaves the duplicate to Add.
func (s *Store[D, K]) next(d *D) {
	prev := ""
	for {
		s.seq++
		s.assign(d, s.seq)
		k := keyString(s.key(d))
		if _, taken := s.rows.Get(k); !taken || k == prev {
			return
		}
		prev = k
	}
}

// project copies row, keeping only the named fields when any are given.
func (s *Store[D, K]) project(row *D, fields []string) (*D, error) {
	cp := *row
	if len(fields) == 0 {
		return &cp, nil
	}
	src := reflect.ValueOf(&cp).Elem()
	out := new(D)
	dst := reflect.ValueOf(out).Elem()
	for _, name := range fields {
		field, err := s.fields.lookup(src, name)
		if err != nil {
			return nil, err
		}
		dst.FieldByIndex(s.fields[lowerName(name)]).Set(field)
	}
	if path, ok := s.fields[lowerName(s.keyField)]; ok {
		dst.FieldByIndex(path).Set(src.FieldByIndex(path))
	}
	return out, nil
}

func deleted[D any](row *D) bool {
	if te, ok := any(row).(rested.TimeEnded); ok && !te.DeletedAt().IsZero() {
		return true
	}
	if h, ok := any(row).(Deleter); ok && h.DeletedByID() != "" {
		return true
	}
	return false
}

// Package sqlstore is a rested.Repository over database/sql for MySQL.
//
// Rows map to structs through db tags. Only tagged columns can be selected,
// filtered or sorted, so request field names never reach SQL text unchecked.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/zoobzio/capitan"
	"github.com/zoobzio/rested"
)

// Query signals.
var (
	// QueryExecuted is emitted after every statement.
	// Fields: TableKey, StatementKey, DurationMsKey, ErrorKey (if failed).
	QueryExecuted = capitan.NewSignal("rested.sqlstore.query", "SQL statement executed against a table")

	TableKey     = capitan.NewStringKey("table")
	StatementKey = capitan.NewStringKey("statement")
)

// Open connects to MySQL. The DSN is normalized so DATETIME columns scan
// into time.Time and updates report matched rather than changed rows.
func Open(dsn string) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("invalid dsn: %w", err)
	}
	cfg.ParseTime = true
	cfg.ClientFoundRows = true
	if cfg.Loc == nil {
		cfg.Loc = time.UTC
	}
	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(10 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// Option configures a Store.
type Option func(*settings)

type settings struct {
	softDelete    string
	autoIncrement bool
}

// WithSoftDelete names the column marking deleted rows. Rows where it is
// set are invisible to every read.
func WithSoftDelete(column string) Option {
	return func(s *settings) {
		s.softDelete = column
	}
}

// WithAutoIncrement lets the database assign integer keys on insert.
func WithAutoIncrement() Option {
	return func(s *settings) {
		s.autoIncrement = true
	}
}

// Store reads and writes rows of D in one table. It implements
// rested.Repository and rested.UnitOfWork. Statements run in autocommit
// mode, so Commit only reports cancellation.
type Store[D any, K comparable] struct {
	db            *sql.DB
	table         string
	cols          columnSet
	key           column
	live          string
	autoIncrement bool
}

// New describes table for D. keyColumn must be one of D's db-tagged columns.
func New[D any, K comparable](db *sql.DB, table, keyColumn string, opts ...Option) (*Store[D, K], error) {
	var cfg settings
	for _, opt := range opts {
		opt(&cfg)
	}

	t := reflect.TypeOf((*D)(nil)).Elem()
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("sqlstore: %s is not a struct", t)
	}
	cols, err := describe(t)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: %w", err)
	}
	key, err := cols.resolve(keyColumn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: key column %q is not mapped", keyColumn)
	}

	s := &Store[D, K]{
		db:            db,
		table:         table,
		cols:          cols,
		key:           key,
		autoIncrement: cfg.autoIncrement,
	}
	if cfg.autoIncrement {
		switch t.FieldByIndex(key.index).Type.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		default:
			return nil, fmt.Errorf("sqlstore: auto increment needs an integer key, %s is %s", keyColumn, t.FieldByIndex(key.index).Type)
		}
	}
	if cfg.softDelete != "" {
		c, err := cols.resolve(cfg.softDelete)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: soft delete column %q is not mapped", cfg.softDelete)
		}
		if t.FieldByIndex(c.index).Type.Kind() == reflect.String {
			s.live = fmt.Sprintf("(%s IS NULL OR %s = '')", quote(c.name), quote(c.name))
		} else {
			s.live = quote(c.name) + " IS NULL"
		}
	}
	return s, nil
}

// Get implements rested.Repository.
func (s *Store[D, K]) Get(ctx context.Context, key K, fields ...string) (*D, error) {
	cols, err := s.cols.pick(fields, s.key)
	if err != nil {
		return nil, err
	}
	w := s.where()
	w.add(quote(s.key.name)+" = ?", key)
	query := fmt.Sprintf("SELECT %s FROM %s%s LIMIT 1", quoteAll(cols), quote(s.table), w)

	row := new(D)
	start := time.Now()
	err = s.db.QueryRowContext(ctx, query, w.args...).Scan(targets(reflect.ValueOf(row).Elem(), cols)...)
	if errors.Is(err, sql.ErrNoRows) {
		s.emit(ctx, query, start, nil)
		return nil, nil
	}
	s.emit(ctx, query, start, err)
	if err != nil {
		return nil, err
	}
	return row, nil
}

// GetFirst implements rested.Repository.
func (s *Store[D, K]) GetFirst(ctx context.Context, spec rested.Specification) (*D, error) {
	rows, err := s.GetPaged(ctx, spec, 1, 1, nil)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// GetPaged implements rested.Repository. Rows are ordered by sorts, then by key.
func (s *Store[D, K]) GetPaged(ctx context.Context, spec rested.Specification, pageIndex, pageSize int, sorts []rested.Sort, fields ...string) ([]*D, error) {
	if pageSize < 1 {
		return []*D{}, nil
	}
	if pageIndex < 1 {
		pageIndex = 1
	}
	cols, err := s.cols.pick(fields, s.key)
	if err != nil {
		return nil, err
	}
	w, err := s.filter(spec)
	if err != nil {
		return nil, err
	}
	order, err := s.orderBy(sorts)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s FROM %s%s ORDER BY %s LIMIT ? OFFSET ?",
		quoteAll(cols), quote(s.table), w, order)
	args := append(w.args, pageSize, (pageIndex-1)*pageSize)

	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		s.emit(ctx, query, start, err)
		return nil, err
	}
	defer rows.Close()

	out := make([]*D, 0, pageSize)
	for rows.Next() {
		row := new(D)
		if err := rows.Scan(targets(reflect.ValueOf(row).Elem(), cols)...); err != nil {
			s.emit(ctx, query, start, err)
			return nil, err
		}
		out = append(out, row)
	}
	err = rows.Err()
	s.emit(ctx, query, start, err)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count implements rested.Repository.
func (s *Store[D, K]) Count(ctx context.Context, spec rested.Specification) (int, error) {
	w, err := s.filter(spec)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", quote(s.table), w)

	var n int
	start := time.Now()
	err = s.db.QueryRowContext(ctx, query, w.args...).Scan(&n)
	s.emit(ctx, query, start, err)
	return n, err
}

// Add implements rested.Repository. With auto increment the key column is
// left to the database and written back to d.
func (s *Store[D, K]) Add(ctx context.Context, d *D) error {
	cols := s.cols.ordered
	if s.autoIncrement {
		cols = s.without(s.key)
	}
	row := reflect.ValueOf(d).Elem()
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(s.table), quoteAll(cols), placeholders(len(cols)))

	start := time.Now()
	res, err := s.db.ExecContext(ctx, query, values(row, cols)...)
	s.emit(ctx, query, start, err)
	if err != nil {
		return err
	}
	if !s.autoIncrement {
		return nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	field := row.FieldByIndex(s.key.index)
	if field.CanInt() {
		field.SetInt(id)
	} else {
		field.SetUint(uint64(id))
	}
	return nil
}

// Modify implements rested.Repository.
func (s *Store[D, K]) Modify(ctx context.Context, d *D) error {
	cols := s.without(s.key)
	row := reflect.ValueOf(d).Elem()
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = quote(c.name) + " = ?"
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?",
		quote(s.table), strings.Join(sets, ", "), quote(s.key.name))
	args := append(values(row, cols), value(row.FieldByIndex(s.key.index)))
	return s.exec(ctx, query, args, row)
}

// Remove implements rested.Repository.
func (s *Store[D, K]) Remove(ctx context.Context, d *D) error {
	row := reflect.ValueOf(d).Elem()
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", quote(s.table), quote(s.key.name))
	return s.exec(ctx, query, []any{value(row.FieldByIndex(s.key.index))}, row)
}

// Commit implements rested.UnitOfWork.
func (s *Store[D, K]) Commit(ctx context.Context) error {
	return ctx.Err()
}

// exec runs a single-row write and reports a missing row as not found.
func (s *Store[D, K]) exec(ctx context.Context, query string, args []any, row reflect.Value) error {
	start := time.Now()
	res, err := s.db.ExecContext(ctx, query, args...)
	s.emit(ctx, query, start, err)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %v", rested.ErrEntityNotFound, row.FieldByIndex(s.key.index).Interface())
	}
	return nil
}

func (s *Store[D, K]) without(skip column) []column {
	out := make([]column, 0, len(s.cols.ordered))
	for _, c := range s.cols.ordered {
		if c.name != skip.name {
			out = append(out, c)
		}
	}
	return out
}

func (s *Store[D, K]) orderBy(sorts []rested.Sort) (string, error) {
	terms := make([]string, 0, len(sorts)+1)
	keyed := false
	for _, srt := range sorts {
		c, err := s.cols.resolve(srt.Field)
		if err != nil {
			return "", err
		}
		dir := "ASC"
		if srt.Desc {
			dir = "DESC"
		}
		terms = append(terms, quote(c.name)+" "+dir)
		keyed = keyed || c.name == s.key.name
	}
	if !keyed {
		terms = append(terms, quote(s.key.name)+" ASC")
	}
	return strings.Join(terms, ", "), nil
}

func (s *Store[D, K]) emit(ctx context.Context, query string, start time.Time, err error) {
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		capitan.Error(ctx, QueryExecuted,
			TableKey.Field(s.table),
			StatementKey.Field(query),
			rested.DurationMsKey.Field(elapsed),
			rested.ErrorKey.Field(err.Error()),
		)
		return
	}
	capitan.Debug(ctx, QueryExecuted,
		TableKey.Field(s.table),
		StatementKey.Field(query),
		rested.DurationMsKey.Field(elapsed),
	)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// clause accumulates WHERE conditions and their arguments.
type clause struct {
	conds []string
	args  []any
}

func (s *Store[D, K]) where() *clause {
	w := &clause{}
	if s.live != "" {
		w.conds = append(w.conds, s.live)
	}
	return w
}

func (w *clause) add(cond string, args ...any) {
	w.conds = append(w.conds, cond)
	w.args = append(w.args, args...)
}

func (w *clause) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// filter translates spec into a WHERE clause over whitelisted columns.
func (s *Store[D, K]) filter(spec rested.Specification) (*clause, error) {
	w := s.where()
	t := reflect.TypeOf((*D)(nil)).Elem()
	for _, f := range spec.Filters() {
		c, err := s.cols.resolve(f.Field)
		if err != nil {
			return nil, err
		}
		col := quote(c.name)
		if f.Value == "null" {
			switch f.Op {
			case rested.OpEq:
				w.add(col + " IS NULL")
				continue
			case rested.OpNe:
				w.add(col + " IS NOT NULL")
				continue
			}
		}
		switch f.Op {
		case rested.OpContains:
			w.add(col+` LIKE ?`, "%"+likeEscaper.Replace(f.Value)+"%")
			continue
		case rested.OpStartsWith:
			w.add(col+` LIKE ?`, likeEscaper.Replace(f.Value)+"%")
			continue
		}
		op, ok := comparisons[f.Op]
		if !ok {
			return nil, rested.InvalidRequest("unsupported operator %q", f.Op)
		}
		arg, err := convert(t.FieldByIndex(c.index).Type, f.Value)
		if err != nil {
			return nil, rested.InvalidRequest("filter %s: %v", f, err)
		}
		w.add(col+" "+op+" ?", arg)
	}
	return w, nil
}

var comparisons = map[rested.Operator]string{
	rested.OpEq: "=",
	rested.OpNe: "<>",
	rested.OpGt: ">",
	rested.OpGe: ">=",
	rested.OpLt: "<",
	rested.OpLe: "<=",
}

// convert parses a filter value for a column of type t. Text and numbers are
// left to MySQL's own conversion.
func convert(t reflect.Type, raw string) (any, error) {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch {
	case t == timeType:
		return time.Parse(time.RFC3339, raw)
	case t.Kind() == reflect.Bool:
		return strconv.ParseBool(raw)
	case t.Kind() >= reflect.Int && t.Kind() <= reflect.Int64:
		return strconv.ParseInt(raw, 10, 64)
	case t.Kind() >= reflect.Uint && t.Kind() <= reflect.Uint64:
		return strconv.ParseUint(raw, 10, 64)
	case t.Kind() == reflect.Float32 || t.Kind() == reflect.Float64:
		return strconv.ParseFloat(raw, 64)
	default:
		return raw, nil
	}
}

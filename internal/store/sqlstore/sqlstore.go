// Package sqlstore is the shared SQL rendering of the Data-Access Port's
// predicate AST, parameterized over a dialect so the postgres and sqlite
// adapters can both drive it against an arbitrary table/record shape
// instead of one fixed user table.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/nocturneauth/authengine/internal/domain"
	"github.com/nocturneauth/authengine/internal/store"
)

// Dialect abstracts the two things postgres and sqlite disagree about:
// positional-placeholder syntax and case-insensitive comparison.
type Dialect interface {
	Placeholder(argIndex int) string
	LowerFn(expr string) string
}

type Postgres struct{}

func (Postgres) Placeholder(i int) string { return "$" + strconv.Itoa(i) }
func (Postgres) LowerFn(expr string) string { return "lower(" + expr + ")" }

type SQLite struct{}

func (SQLite) Placeholder(int) string       { return "?" }
func (SQLite) LowerFn(expr string) string   { return "lower(" + expr + ")" }

// DB is the minimal subset of *sql.DB / *sql.Tx the adapter drives, so
// WithTx can swap in a *sql.Tx transparently.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type Adapter struct {
	db      DB
	dialect Dialect
	beginTx func(ctx context.Context) (*sql.Tx, error)
	idFn    func() string
}

// New builds an Adapter. idFn generates a record id when Create receives a
// record with no "id" key.
func New(db *sql.DB, dialect Dialect, idFn func() string) *Adapter {
	return &Adapter{
		db:      db,
		dialect: dialect,
		beginTx: func(ctx context.Context) (*sql.Tx, error) { return db.BeginTx(ctx, nil) },
		idFn:    idFn,
	}
}

func (a *Adapter) FindFirst(ctx context.Context, table string, q store.Query) (store.Record, bool, error) {
	q.Limit = 1
	rows, err := a.FindMany(ctx, table, q)
	if err != nil {
		return nil, false, err
	}
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

func (a *Adapter) FindMany(ctx context.Context, table string, q store.Query) ([]store.Record, error) {
	where, args := a.render(q.Where, 1)
	query := "select * from " + table
	if where != "" {
		query += " where " + where
	}
	if len(q.OrderBy) > 0 {
		parts := make([]string, len(q.OrderBy))
		for i, t := range q.OrderBy {
			dir := "asc"
			if t.Desc {
				dir = "desc"
			}
			parts[i] = t.Column + " " + dir
		}
		query += " order by " + strings.Join(parts, ", ")
	}
	if q.Limit > 0 {
		query += " limit " + strconv.Itoa(q.Limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.ErrInternal(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, domain.ErrInternal(err)
	}

	var out []store.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, domain.ErrInternal(err)
		}
		rec := make(store.Record, len(cols))
		for i, c := range cols {
			rec[c] = vals[i]
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (a *Adapter) Create(ctx context.Context, table string, rec store.Record) (store.Record, error) {
	rec = cloneRecord(rec)
	if _, ok := rec["id"]; !ok && a.idFn != nil {
		rec["id"] = a.idFn()
	}

	cols := make([]string, 0, len(rec))
	for c := range rec {
		cols = append(cols, c)
	}
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = a.dialect.Placeholder(i + 1)
		args[i] = rec[c]
	}

	query := fmt.Sprintf("insert into %s (%s) values (%s)", table, strings.Join(cols, ", "), strings.Join(placeholders, ", "))
	if _, err := a.db.ExecContext(ctx, query, args...); err != nil {
		return nil, mapWriteError(err)
	}
	return rec, nil
}

func (a *Adapter) UpdateMany(ctx context.Context, table string, q store.Query, set store.Record) (int, error) {
	cols := make([]string, 0, len(set))
	for c := range set {
		cols = append(cols, c)
	}
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols))
	idx := 1
	for i, c := range cols {
		sets[i] = c + " = " + a.dialect.Placeholder(idx)
		args = append(args, set[c])
		idx++
	}
	where, whereArgs := a.render(q.Where, idx)
	args = append(args, whereArgs...)

	query := "update " + table + " set " + strings.Join(sets, ", ")
	if where != "" {
		query += " where " + where
	}
	res, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, mapWriteError(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (a *Adapter) DeleteMany(ctx context.Context, table string, q store.Query) (int, error) {
	where, args := a.render(q.Where, 1)
	query := "delete from " + table
	if where != "" {
		query += " where " + where
	}
	res, err := a.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, domain.ErrInternal(err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (a *Adapter) Upsert(ctx context.Context, table string, spec store.UpsertSpec) (store.Record, error) {
	existing, ok, err := a.FindFirst(ctx, table, store.Query{Where: spec.Where})
	if err != nil {
		return nil, err
	}
	if ok {
		if _, err := a.UpdateMany(ctx, table, store.Query{Where: spec.Where}, spec.Update); err != nil {
			return nil, err
		}
		for k, v := range spec.Update {
			existing[k] = v
		}
		return existing, nil
	}
	return a.Create(ctx, table, spec.Create)
}

func (a *Adapter) Count(ctx context.Context, table string, q store.Query) (int, error) {
	where, args := a.render(q.Where, 1)
	query := "select count(*) from " + table
	if where != "" {
		query += " where " + where
	}
	var n int
	if err := a.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, domain.ErrInternal(err)
	}
	return n, nil
}

func (a *Adapter) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Port) error) error {
	if a.beginTx == nil {
		return fn(ctx, a)
	}
	tx, err := a.beginTx(ctx)
	if err != nil {
		return domain.ErrInternal(err)
	}
	txAdapter := &Adapter{db: tx, dialect: a.dialect, idFn: a.idFn}
	if err := fn(ctx, txAdapter); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.ErrInternal(err)
	}
	return nil
}

func (a *Adapter) render(p store.Predicate, startArg int) (string, []any) {
	if p == nil {
		return "", nil
	}
	idx := startArg
	clause, args := a.renderNode(p, &idx)
	return clause, args
}

func (a *Adapter) renderNode(p store.Predicate, idx *int) (string, []any) {
	switch pred := p.(type) {
	case store.And:
		return a.renderJoin(pred, "and", idx)
	case store.Or:
		return a.renderJoin(pred, "or", idx)
	case store.Cmp:
		return a.renderCmp(pred, idx)
	default:
		return "", nil
	}
}

func (a *Adapter) renderJoin(preds []store.Predicate, joiner string, idx *int) (string, []any) {
	if len(preds) == 0 {
		return "", nil
	}
	var parts []string
	var args []any
	for _, sub := range preds {
		c, a2 := a.renderNode(sub, idx)
		if c == "" {
			continue
		}
		parts = append(parts, "("+c+")")
		args = append(args, a2...)
	}
	return strings.Join(parts, " "+joiner+" "), args
}

func (a *Adapter) renderCmp(c store.Cmp, idx *int) (string, []any) {
	col := c.Column
	if c.CaseInsensitive {
		col = a.dialect.LowerFn(col)
	}
	switch c.Op {
	case store.OpIn:
		vals, _ := c.Value.([]any)
		if len(vals) == 0 {
			return "1=0", nil
		}
		placeholders := make([]string, len(vals))
		for i, v := range vals {
			placeholders[i] = a.dialect.Placeholder(*idx)
			*idx++
			_ = v
		}
		return col + " in (" + strings.Join(placeholders, ", ") + ")", vals
	case store.OpLike:
		ph := a.dialect.Placeholder(*idx)
		*idx++
		return col + " like " + ph, []any{c.Value}
	default:
		ph := a.dialect.Placeholder(*idx)
		*idx++
		value := c.Value
		if c.CaseInsensitive {
			if s, ok := value.(string); ok {
				value = strings.ToLower(s)
			}
		}
		return col + " " + string(c.Op) + " " + ph, []any{value}
	}
}

func mapWriteError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "unique") || strings.Contains(msg, "duplicate") {
		return domain.ErrIdentityAlreadyExists()
	}
	return domain.ErrInternal(err)
}

func cloneRecord(r store.Record) store.Record {
	out := make(store.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

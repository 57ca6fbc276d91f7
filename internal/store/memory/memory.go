// Package memory is an in-memory Data-Access Port fake used for engine,
// plugin and scheduler unit tests; cmd/demo does not use it and always
// opens a SQL store. It drives the same schema-agnostic table/record model as
// the SQL adapters, not one fixed subject-kind table.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nocturneauth/authengine/internal/store"
)

type Store struct {
	mu     sync.RWMutex
	tables map[string][]store.Record
	nextID func() string
}

// New builds an empty in-memory store. idFn generates a record id when a
// Create call's record has no "id" key (the engine's uuid generator, in
// production wiring; a deterministic counter in tests).
func New(idFn func() string) *Store {
	return &Store{tables: make(map[string][]store.Record), nextID: idFn}
}

func (s *Store) FindFirst(ctx context.Context, table string, q store.Query) (store.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.filterSorted(table, q)
	if len(rows) == 0 {
		return nil, false, nil
	}
	return cloneRecord(rows[0]), true, nil
}

func (s *Store) FindMany(ctx context.Context, table string, q store.Query) ([]store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.filterSorted(table, q)
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	out := make([]store.Record, len(rows))
	for i, r := range rows {
		out[i] = cloneRecord(r)
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, table string, rec store.Record) (store.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := cloneRecord(rec)
	if _, ok := r["id"]; !ok && s.nextID != nil {
		r["id"] = s.nextID()
	}
	s.tables[table] = append(s.tables[table], r)
	return cloneRecord(r), nil
}

func (s *Store) UpdateMany(ctx context.Context, table string, q store.Query, set store.Record) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.tables[table]
	n := 0
	for i, r := range rows {
		if matches(r, q.Where) {
			for k, v := range set {
				rows[i][k] = v
			}
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteMany(ctx context.Context, table string, q store.Query) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows := s.tables[table]
	kept := rows[:0:0]
	n := 0
	for _, r := range rows {
		if matches(r, q.Where) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	s.tables[table] = kept
	return n, nil
}

func (s *Store) Upsert(ctx context.Context, table string, spec store.UpsertSpec) (store.Record, error) {
	s.mu.Lock()
	rows := s.tables[table]
	for i, r := range rows {
		if matches(r, spec.Where) {
			for k, v := range spec.Update {
				rows[i][k] = v
			}
			out := cloneRecord(rows[i])
			s.mu.Unlock()
			return out, nil
		}
	}
	s.mu.Unlock()
	return s.Create(ctx, table, spec.Create)
}

func (s *Store) Count(ctx context.Context, table string, q store.Query) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.filterSorted(table, q)), nil
}

// WithTx snapshots every table before running fn and restores the snapshot
// if fn returns an error, giving the same all-or-nothing guarantee a real
// transaction would — sufficient for an in-process fake with no concurrent
// writers from outside the call.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Port) error) error {
	s.mu.Lock()
	snapshot := make(map[string][]store.Record, len(s.tables))
	for t, rows := range s.tables {
		cp := make([]store.Record, len(rows))
		for i, r := range rows {
			cp[i] = cloneRecord(r)
		}
		snapshot[t] = cp
	}
	s.mu.Unlock()

	if err := fn(ctx, s); err != nil {
		s.mu.Lock()
		s.tables = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) filterSorted(table string, q store.Query) []store.Record {
	var matched []store.Record
	for _, r := range s.tables[table] {
		if matches(r, q.Where) {
			matched = append(matched, r)
		}
	}
	if len(q.OrderBy) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			for _, term := range q.OrderBy {
				vi, vj := matched[i][term.Column], matched[j][term.Column]
				c := compare(vi, vj)
				if c == 0 {
					continue
				}
				if term.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
	}
	return matched
}

func matches(r store.Record, p store.Predicate) bool {
	if p == nil {
		return true
	}
	switch pred := p.(type) {
	case store.And:
		for _, sub := range pred {
			if !matches(r, sub) {
				return false
			}
		}
		return true
	case store.Or:
		if len(pred) == 0 {
			return true
		}
		for _, sub := range pred {
			if matches(r, sub) {
				return true
			}
		}
		return false
	case store.Cmp:
		return matchCmp(r, pred)
	default:
		return false
	}
}

func matchCmp(r store.Record, c store.Cmp) bool {
	v := r[c.Column]
	switch c.Op {
	case store.OpEq:
		return equalValues(v, c.Value, c.CaseInsensitive)
	case store.OpNeq:
		return !equalValues(v, c.Value, c.CaseInsensitive)
	case store.OpLt:
		return compare(v, c.Value) < 0
	case store.OpLte:
		return compare(v, c.Value) <= 0
	case store.OpGt:
		return compare(v, c.Value) > 0
	case store.OpGte:
		return compare(v, c.Value) >= 0
	case store.OpIn:
		vals, _ := c.Value.([]any)
		for _, want := range vals {
			if equalValues(v, want, c.CaseInsensitive) {
				return true
			}
		}
		return false
	case store.OpLike:
		sv, _ := v.(string)
		pattern, _ := c.Value.(string)
		return strings.Contains(strings.ToLower(sv), strings.ToLower(strings.Trim(pattern, "%")))
	default:
		return false
	}
}

func equalValues(a, b any, caseInsensitive bool) bool {
	if caseInsensitive {
		as, aok := a.(string)
		bs, bok := b.(string)
		if aok && bok {
			return strings.EqualFold(as, bs)
		}
	}
	return a == b
}

func compare(a, b any) int {
	switch av := a.(type) {
	case string:
		bv, _ := b.(string)
		return strings.Compare(av, bv)
	case int:
		bv, _ := b.(int)
		return av - bv
	case int64:
		bv, _ := b.(int64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case time.Time:
		bv, _ := b.(time.Time)
		switch {
		case av.Before(bv):
			return -1
		case av.After(bv):
			return 1
		default:
			return 0
		}
	default:
		return 0
	}
}

func cloneRecord(r store.Record) store.Record {
	out := make(store.Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

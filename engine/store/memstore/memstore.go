// Package memstore is an in-memory reference implementation of
// engine/store's transactional contract. It exists only so this
// repository's own tests can drive the full action dispatcher without a
// real database. It is not a production storage back end.
package memstore

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/segmentio/ksuid"

	"github.com/tiborkr/tasquencer/engine/core"
	"github.com/tiborkr/tasquencer/engine/store"
)

// Store is a single in-process, mutex-guarded table set. It supports one
// transaction at a time (WithTx acquires the store's lock for the
// duration of the callback), which is sufficient for the engine's own
// single-threaded-per-action execution model and for tests.
type Store struct {
	mu     sync.Mutex
	tables map[store.Kind]map[string]map[string]any
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		tables: map[store.Kind]map[string]map[string]any{
			store.KindWorkflow:         {},
			store.KindTask:             {},
			store.KindWorkItem:         {},
			store.KindConditionMarking: {},
		},
	}
}

// WithTx runs fn holding the store's lock, so every operation fn
// performs via tx observes read-your-writes against the same snapshot,
// and the whole callback behaves as one atomic unit. A non-nil error
// return rolls back every mutation fn made.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.clone()
	tx := &memTx{store: s}
	if err := fn(ctx, tx); err != nil {
		s.tables = snapshot
		return err
	}
	return nil
}

func (s *Store) clone() map[store.Kind]map[string]map[string]any {
	out := make(map[store.Kind]map[string]map[string]any, len(s.tables))
	for kind, rows := range s.tables {
		rowsCopy := make(map[string]map[string]any, len(rows))
		for id, body := range rows {
			rowsCopy[id] = maps.Clone(body)
		}
		out[kind] = rowsCopy
	}
	return out
}

type memTx struct {
	store *Store
}

func (t *memTx) Get(_ context.Context, kind store.Kind, id string) (*store.Record, error) {
	rows, ok := t.store.tables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", kind)
	}
	body, ok := rows[id]
	if !ok {
		return nil, nil
	}
	return &store.Record{ID: id, Body: maps.Clone(body)}, nil
}

// Insert assigns each record a K-sortable core.ID, so ids order by
// insertion time and Scan can return rows oldest-first.
func (t *memTx) Insert(_ context.Context, kind store.Kind, body map[string]any) (string, error) {
	rows, ok := t.store.tables[kind]
	if !ok {
		return "", fmt.Errorf("unknown table %q", kind)
	}
	id := core.MustNewID().String()
	// Random ksuids minted within the same second are not ordered by
	// creation, so step past any existing id that is not already older.
	for existing := range rows {
		if existing >= id {
			if prev, err := ksuid.Parse(existing); err == nil {
				id = prev.Next().String()
			}
		}
	}
	rows[id] = maps.Clone(body)
	return id, nil
}

func (t *memTx) Patch(_ context.Context, kind store.Kind, id string, diff map[string]any) error {
	rows, ok := t.store.tables[kind]
	if !ok {
		return fmt.Errorf("unknown table %q", kind)
	}
	body, ok := rows[id]
	if !ok {
		return fmt.Errorf("record %s/%s not found", kind, id)
	}
	for k, v := range diff {
		body[k] = v
	}
	return nil
}

func (t *memTx) Scan(_ context.Context, kind store.Kind, q store.Query) ([]store.Record, error) {
	rows, ok := t.store.tables[kind]
	if !ok {
		return nil, fmt.Errorf("unknown table %q", kind)
	}
	var out []store.Record
	for id, body := range rows {
		if q.Parent != "" && fmt.Sprint(body["parent"]) != q.Parent {
			continue
		}
		if q.Name != "" && fmt.Sprint(body["name"]) != q.Name {
			continue
		}
		if q.State != "" && fmt.Sprint(body["state"]) != q.State {
			continue
		}
		out = append(out, store.Record{ID: id, Body: maps.Clone(body)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

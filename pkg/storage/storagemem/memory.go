// Package storagemem is the embedded (single-process, file-backed) storage
// backend, selected when PERSISTENT_BACKEND=embedded. Each write is
// serialized under a single RWMutex. The tables are persisted as a gob
// snapshot through pkg/fsx, written every few seconds by StartSnapshotLoop
// and once more when its context ends; a write is acknowledged before it
// reaches a snapshot. Transactions are logical no-ops: Begin takes no lock
// and Commit and Rollback do nothing.
package storagemem

import (
	"bytes"
	"context"
	"encoding/gob"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aimemory/platform/pkg/fsx"
	"github.com/aimemory/platform/pkg/logx"
	"github.com/aimemory/platform/pkg/storage"
)

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// Store is the embedded Backend implementation.
type Store struct {
	mu     sync.RWMutex
	tables map[string]map[string]storage.Row

	fs           fsx.FileSystem
	snapshotPath string
	snapshotEvery time.Duration
	stopCh       chan struct{}
}

// New creates an embedded store. If fs is non-nil, the store periodically
// snapshots to snapshotPath (a single gob-encoded blob) and loads it back
// on startup; fs may be nil for purely ephemeral (test) use.
func New(fs fsx.FileSystem, snapshotPath string) *Store {
	s := &Store{
		tables:        make(map[string]map[string]storage.Row),
		fs:            fs,
		snapshotPath:  snapshotPath,
		snapshotEvery: 5 * time.Second,
		stopCh:        make(chan struct{}),
	}
	if fs != nil && snapshotPath != "" {
		s.loadSnapshot(context.Background())
	}
	return s
}

var _ storage.Backend = (*Store)(nil)

// StartSnapshotLoop periodically persists the full table set to disk until
// ctx is cancelled. A no-op if no filesystem was configured.
func (s *Store) StartSnapshotLoop(ctx context.Context) {
	if s.fs == nil || s.snapshotPath == "" {
		return
	}
	ticker := time.NewTicker(s.snapshotEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.saveSnapshot(context.Background())
			return
		case <-ticker.C:
			s.saveSnapshot(ctx)
		}
	}
}

func (s *Store) saveSnapshot(ctx context.Context) {
	s.mu.RLock()
	var buf bytes.Buffer
	err := gob.NewEncoder(&buf).Encode(s.tables)
	s.mu.RUnlock()
	if err != nil {
		logx.WithError(err).Warn("storagemem: failed to encode snapshot")
		return
	}
	if err := s.fs.WriteFile(ctx, s.snapshotPath, buf.Bytes()); err != nil {
		logx.WithError(err).Warn("storagemem: failed to write snapshot")
	}
}

func (s *Store) loadSnapshot(ctx context.Context) {
	data, err := s.fs.ReadFile(ctx, s.snapshotPath)
	if err != nil {
		return // nothing to load yet
	}
	var tables map[string]map[string]storage.Row
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&tables); err != nil {
		logx.WithError(err).Warn("storagemem: failed to decode snapshot, starting empty")
		return
	}
	s.mu.Lock()
	s.tables = tables
	s.mu.Unlock()
}

func (s *Store) table(name string) map[string]storage.Row {
	t, ok := s.tables[name]
	if !ok {
		t = make(map[string]storage.Row)
		s.tables[name] = t
	}
	return t
}

func cloneRow(r storage.Row) storage.Row {
	fields := make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		fields[k] = v
	}
	return storage.Row{ID: r.ID, Fields: fields}
}

func (s *Store) Put(_ context.Context, table, id string, row storage.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.table(table)
	if _, exists := t[id]; exists {
		return storage.ErrConflict().WithDetail("table", table).WithDetail("id", id)
	}
	row.ID = id
	t[id] = cloneRow(row)
	return nil
}

func (s *Store) Get(_ context.Context, table, id string) (*storage.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[table]
	if !ok {
		return nil, storage.ErrNotFound().WithDetail("table", table).WithDetail("id", id)
	}
	row, ok := t[id]
	if !ok {
		return nil, storage.ErrNotFound().WithDetail("table", table).WithDetail("id", id)
	}
	cloned := cloneRow(row)
	return &cloned, nil
}

func (s *Store) Upsert(_ context.Context, table, id string, row storage.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	row.ID = id
	s.table(table)[id] = cloneRow(row)
	return nil
}

func (s *Store) Delete(_ context.Context, table, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[table]
	if !ok {
		return nil
	}
	delete(t, id)
	return nil
}

func (s *Store) Query(_ context.Context, table string, spec storage.QuerySpec) ([]storage.Row, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tables[table]
	if !ok {
		return nil, 0, nil
	}

	matched := make([]storage.Row, 0, len(t))
	for _, row := range t {
		if matchPredicate(row, spec.Predicate) {
			matched = append(matched, cloneRow(row))
		}
	}

	if len(spec.Order) > 0 {
		sort.Slice(matched, func(i, j int) bool {
			for _, o := range spec.Order {
				cmp := compareField(matched[i].Fields[o.Field], matched[j].Fields[o.Field])
				if cmp == 0 {
					continue
				}
				if o.Desc {
					return cmp > 0
				}
				return cmp < 0
			}
			return matched[i].ID < matched[j].ID
		})
	}

	total := len(matched)

	start := spec.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if spec.Limit > 0 && start+spec.Limit < end {
		end = start + spec.Limit
	}

	return matched[start:end], total, nil
}

func (s *Store) Begin(_ context.Context) (storage.Tx, error) {
	return &memTx{store: s}, nil
}

func (s *Store) Migrate(_ context.Context, _ int) error { return nil }

func (s *Store) Ping(_ context.Context) error { return nil }

// memTx is the embedded backend's logical transaction. Commit/Rollback are
// no-ops: every individual operation is already serialized under the store
// mutex, and a single process has no concurrent writers to isolate from.
// Writes through the handle apply immediately.
type memTx struct {
	store *Store
	done  bool
}

func (t *memTx) Upsert(ctx context.Context, table, id string, row storage.Row) error {
	return t.store.Upsert(ctx, table, id, row)
}

func (t *memTx) Commit(_ context.Context) error {
	t.done = true
	return nil
}

func (t *memTx) Rollback(_ context.Context) error {
	t.done = true
	return nil
}

func matchPredicate(row storage.Row, p storage.Predicate) bool {
	if p.Kind == "" {
		return true
	}
	switch p.Kind {
	case storage.PredEq:
		return compareField(row.Fields[p.Field], p.Value) == 0
	case storage.PredRange:
		v := row.Fields[p.Field]
		if p.Min != nil && compareField(v, p.Min) < 0 {
			return false
		}
		if p.Max != nil && compareField(v, p.Max) > 0 {
			return false
		}
		return true
	case storage.PredIn:
		v := row.Fields[p.Field]
		for _, cand := range p.Values {
			if compareField(v, cand) == 0 {
				return true
			}
		}
		return false
	case storage.PredTagContainsAny:
		tags, _ := row.Fields[p.Field].([]string)
		set := make(map[string]bool, len(tags))
		for _, t := range tags {
			set[t] = true
		}
		for _, want := range p.Tags {
			if set[want] {
				return true
			}
		}
		return false
	case storage.PredTextMatch:
		text, _ := row.Fields[p.Field].(string)
		return strings.Contains(strings.ToLower(text), strings.ToLower(p.Query))
	case storage.PredAnd:
		for _, term := range p.Terms {
			if !matchPredicate(row, term) {
				return false
			}
		}
		return true
	case storage.PredOr:
		for _, term := range p.Terms {
			if matchPredicate(row, term) {
				return true
			}
		}
		return len(p.Terms) == 0
	default:
		return true
	}
}

func compareField(a, b any) int {
	switch av := a.(type) {
	case string:
		bv, _ := b.(string)
		return strings.Compare(av, bv)
	case float64:
		bv, ok := toFloat(b)
		if !ok {
			return 0
		}
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case int:
		return compareField(float64(av), b)
	case time.Time:
		bv, ok := b.(time.Time)
		if !ok {
			return 0
		}
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

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}

// Package memstore is an in-process Store used for dry runs and tests.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/Sternrassler/cve-sync/pkg/record"
	"github.com/Sternrassler/cve-sync/pkg/store"
)

const driver = "memory"

// Store keeps collections and checkpoints in maps guarded by one mutex.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]record.Record
	indexes     map[string]map[string]bool
	checkpoints map[string]time.Time

	// Fail, when set, is consulted before every operation; a non-nil
	// return fails the call. Tests use it to inject backend errors.
	Fail func(op string) error
}

var _ store.Store = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		collections: make(map[string]map[string]record.Record),
		indexes:     make(map[string]map[string]bool),
		checkpoints: make(map[string]time.Time),
	}
}

func (s *Store) injected(op string) error {
	if s.Fail == nil {
		return nil
	}
	return s.Fail(op)
}

func (s *Store) collection(name string) map[string]record.Record {
	c, ok := s.collections[name]
	if !ok {
		c = make(map[string]record.Record)
		s.collections[name] = c
	}
	return c
}

// InsertBatch implements store.RecordWriter.
func (s *Store) InsertBatch(ctx context.Context, collection string, records []record.Record) error {
	start := time.Now()
	if err := s.injected(store.OpInsert); err != nil {
		store.Observe(driver, store.OpInsert, start, 0, err)
		return &store.StoreWriteError{Collection: collection, Op: store.OpInsert, Count: len(records), Err: err}
	}

	s.mu.Lock()
	c := s.collection(collection)
	for _, r := range records {
		if _, exists := c[r.ID]; !exists {
			c[r.ID] = r
		}
	}
	s.mu.Unlock()

	store.Observe(driver, store.OpInsert, start, len(records), nil)
	return nil
}

// UpsertBatch implements store.RecordWriter.
func (s *Store) UpsertBatch(ctx context.Context, collection string, records []record.Record) error {
	start := time.Now()
	if err := s.injected(store.OpUpsert); err != nil {
		store.Observe(driver, store.OpUpsert, start, 0, err)
		return &store.StoreWriteError{Collection: collection, Op: store.OpUpsert, Count: len(records), Err: err}
	}

	s.mu.Lock()
	c := s.collection(collection)
	for _, r := range records {
		if old, exists := c[r.ID]; exists && r.LastModified.Before(old.LastModified) {
			continue
		}
		c[r.ID] = r
	}
	s.mu.Unlock()

	store.Observe(driver, store.OpUpsert, start, len(records), nil)
	return nil
}

// EnsureUniqueIndex implements store.RecordWriter. Records are already
// keyed by ID, so the index is only remembered.
func (s *Store) EnsureUniqueIndex(ctx context.Context, collection, field string) error {
	if err := s.injected(store.OpEnsureIndex); err != nil {
		return &store.StoreWriteError{Collection: collection, Op: store.OpEnsureIndex, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.indexes[collection] == nil {
		s.indexes[collection] = make(map[string]bool)
	}
	s.indexes[collection][field] = true
	return nil
}

// ReadCheckpoint implements store.CheckpointStore.
func (s *Store) ReadCheckpoint(ctx context.Context, source string) (time.Time, bool, error) {
	if err := s.injected(store.OpReadCheckpoint); err != nil {
		return time.Time{}, false, &store.CheckpointError{Source: source, Op: store.OpReadCheckpoint, Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.checkpoints[source]
	return t, ok, nil
}

// WriteCheckpoint implements store.CheckpointStore.
func (s *Store) WriteCheckpoint(ctx context.Context, source string, t time.Time) error {
	if err := s.injected(store.OpWriteCheckpoint); err != nil {
		return &store.CheckpointError{Source: source, Op: store.OpWriteCheckpoint, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[source] = t.UTC()
	return nil
}

// Count returns the number of records in collection.
func (s *Store) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

// Get returns the record stored under id.
func (s *Store) Get(collection, id string) (record.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.collections[collection][id]
	return r, ok
}

// HasIndex reports whether EnsureUniqueIndex was called for field.
func (s *Store) HasIndex(collection, field string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.indexes[collection][field]
}

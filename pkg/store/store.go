// Package store defines the persistence contract used by the syncer.
//
// A store accepts batches of records keyed by their ID and keeps one
// checkpoint timestamp per source. Implementations live in subpackages
// (postgres, sqlite, memstore, redisstore) and must be safe for concurrent
// use: the paginator hands pages to the store from several goroutines.
package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/Sternrassler/cve-sync/pkg/record"
)

// Operation names used in errors and metrics.
const (
	OpInsert          = "insert"
	OpUpsert          = "upsert"
	OpEnsureIndex     = "ensure_index"
	OpReadCheckpoint  = "read_checkpoint"
	OpWriteCheckpoint = "write_checkpoint"
)

// ErrInvalidIdentifier is returned for collection or field names that are
// not plain SQL identifiers.
var ErrInvalidIdentifier = errors.New("invalid identifier")

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateIdentifier rejects names that cannot be used as a table, index or
// JSON field name without quoting tricks.
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, name)
	}
	return nil
}

// RecordWriter persists records into a named collection.
type RecordWriter interface {
	// InsertBatch adds records; records whose ID already exists are left
	// untouched.
	InsertBatch(ctx context.Context, collection string, records []record.Record) error

	// UpsertBatch inserts or replaces records keyed by ID. A stored record
	// is never replaced by one with an older LastModified.
	UpsertBatch(ctx context.Context, collection string, records []record.Record) error

	// EnsureUniqueIndex guarantees a unique index on field. Idempotent.
	EnsureUniqueIndex(ctx context.Context, collection, field string) error
}

// CheckpointStore keeps the last successful sync time per source.
type CheckpointStore interface {
	// ReadCheckpoint returns the stored time and true, or false when the
	// source has never completed a sync.
	ReadCheckpoint(ctx context.Context, source string) (time.Time, bool, error)

	WriteCheckpoint(ctx context.Context, source string, t time.Time) error
}

// Store is the full contract consumed by the syncer.
type Store interface {
	RecordWriter
	CheckpointStore
}

type composite struct {
	RecordWriter
	CheckpointStore
}

// Compose joins a record writer and a checkpoint store living in different
// backends, e.g. postgres records with redis checkpoints.
func Compose(w RecordWriter, c CheckpointStore) Store {
	return composite{RecordWriter: w, CheckpointStore: c}
}

// StoreWriteError reports a failed record write.
type StoreWriteError struct {
	Collection string
	Op         string
	Count      int // records in the failed batch
	Err        error
}

// Error implements error.
func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store %s of %d records into %q failed: %v", e.Op, e.Count, e.Collection, e.Err)
}

// Unwrap returns the underlying driver error.
func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

// CheckpointError reports a failed checkpoint read or write.
type CheckpointError struct {
	Source string
	Op     string
	Err    error
}

// Error implements error.
func (e *CheckpointError) Error() string {
	return fmt.Sprintf("checkpoint %s for source %q failed: %v", e.Op, e.Source, e.Err)
}

// Unwrap returns the underlying driver error.
func (e *CheckpointError) Unwrap() error {
	return e.Err
}

// Newest reduces records to one per ID, keeping the entry with the latest
// LastModified. Later entries win ties. Order of first appearance is kept.
func Newest(records []record.Record) []record.Record {
	index := make(map[string]int, len(records))
	out := make([]record.Record, 0, len(records))
	for _, r := range records {
		if i, ok := index[r.ID]; ok {
			if !r.LastModified.Before(out[i].LastModified) {
				out[i] = r
			}
			continue
		}
		index[r.ID] = len(out)
		out = append(out, r)
	}
	return out
}

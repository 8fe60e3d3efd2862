// Package sqlite stores records in a local SQLite database using the
// pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"github.com/Sternrassler/cve-sync/pkg/record"
	"github.com/Sternrassler/cve-sync/pkg/store"
)

const driver = "sqlite"

// timeLayout is fixed-width so that stored timestamps compare as strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store is a store.Store backed by SQLite.
type Store struct {
	db *sql.DB

	mu     sync.Mutex
	tables map[string]bool
}

var _ store.Store = (*Store)(nil)

// Open opens the database at dsn and creates the checkpoint table.
//
// For file-based databases pass a path like "./cves.sqlite"; for an
// in-memory database pass ":memory:".
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer; one connection also keeps ":memory:"
	// databases alive across calls.
	db.SetMaxOpenConns(1)

	const ddl = `
CREATE TABLE IF NOT EXISTS sync_checkpoints (
  source TEXT PRIMARY KEY,
  last_sync TEXT NOT NULL
);`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sync_checkpoints table: %w", err)
	}

	return &Store{db: db, tables: make(map[string]bool)}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for inspection.
func (s *Store) DB() *sql.DB {
	return s.db
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func (s *Store) ensureTable(ctx context.Context, collection string) error {
	if err := store.ValidateIdentifier(collection); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tables[collection] {
		return nil
	}

	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id TEXT PRIMARY KEY,
  last_modified TEXT NOT NULL,
  payload TEXT NOT NULL
);`, quote(collection))
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", collection, err)
	}
	s.tables[collection] = true
	return nil
}

func (s *Store) writeBatch(ctx context.Context, op, collection, query string, records []record.Record) error {
	start := time.Now()
	err := s.execBatch(ctx, collection, query, records)
	store.Observe(driver, op, start, len(records), err)
	if err != nil {
		return &store.StoreWriteError{Collection: collection, Op: op, Count: len(records), Err: err}
	}
	return nil
}

func (s *Store) execBatch(ctx context.Context, collection, query string, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureTable(ctx, collection); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ID, formatTime(r.LastModified), string(r.Payload)); err != nil {
			return fmt.Errorf("write %s: %w", r.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// InsertBatch implements store.RecordWriter.
func (s *Store) InsertBatch(ctx context.Context, collection string, records []record.Record) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, last_modified, payload)
VALUES (?, ?, ?)
ON CONFLICT (id) DO NOTHING;`, quote(collection))
	return s.writeBatch(ctx, store.OpInsert, collection, query, records)
}

// UpsertBatch implements store.RecordWriter. Rows already holding a newer
// last_modified are left as they are.
func (s *Store) UpsertBatch(ctx context.Context, collection string, records []record.Record) error {
	table := quote(collection)
	query := fmt.Sprintf(`
INSERT INTO %s (id, last_modified, payload)
VALUES (?, ?, ?)
ON CONFLICT (id)
DO UPDATE SET
  last_modified = excluded.last_modified,
  payload = excluded.payload
WHERE excluded.last_modified >= %s.last_modified;`, table, table)
	return s.writeBatch(ctx, store.OpUpsert, collection, query, store.Newest(records))
}

// EnsureUniqueIndex implements store.RecordWriter. Fields other than the
// row columns are indexed on the JSON payload.
func (s *Store) EnsureUniqueIndex(ctx context.Context, collection, field string) error {
	start := time.Now()
	err := s.ensureIndex(ctx, collection, field)
	store.Observe(driver, store.OpEnsureIndex, start, 0, err)
	if err != nil {
		return &store.StoreWriteError{Collection: collection, Op: store.OpEnsureIndex, Err: err}
	}
	return nil
}

func (s *Store) ensureIndex(ctx context.Context, collection, field string) error {
	if err := store.ValidateIdentifier(field); err != nil {
		return err
	}
	if err := s.ensureTable(ctx, collection); err != nil {
		return err
	}

	expr := fmt.Sprintf("json_extract(payload, '$.%s')", field)
	if field == "id" || field == "last_modified" {
		expr = field
	}
	ddl := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s);`,
		quote(collection+"_"+field+"_key"), quote(collection), expr)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// ReadCheckpoint implements store.CheckpointStore.
func (s *Store) ReadCheckpoint(ctx context.Context, source string) (time.Time, bool, error) {
	start := time.Now()
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT last_sync FROM sync_checkpoints WHERE source = ?`, source).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		store.Observe(driver, store.OpReadCheckpoint, start, 0, nil)
		return time.Time{}, false, nil
	}
	if err == nil {
		var t time.Time
		t, err = time.Parse(timeLayout, raw)
		if err == nil {
			store.Observe(driver, store.OpReadCheckpoint, start, 0, nil)
			return t, true, nil
		}
	}
	store.Observe(driver, store.OpReadCheckpoint, start, 0, err)
	return time.Time{}, false, &store.CheckpointError{Source: source, Op: store.OpReadCheckpoint, Err: err}
}

// WriteCheckpoint implements store.CheckpointStore.
func (s *Store) WriteCheckpoint(ctx context.Context, source string, t time.Time) error {
	start := time.Now()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO sync_checkpoints (source, last_sync)
VALUES (?, ?)
ON CONFLICT (source) DO UPDATE SET last_sync = excluded.last_sync;`, source, formatTime(t))
	store.Observe(driver, store.OpWriteCheckpoint, start, 0, err)
	if err != nil {
		return &store.CheckpointError{Source: source, Op: store.OpWriteCheckpoint, Err: err}
	}
	return nil
}

// Package postgres stores records in PostgreSQL, one table per collection.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sternrassler/cve-sync/pkg/record"
	"github.com/Sternrassler/cve-sync/pkg/store"
)

const driver = "postgres"

// Store is a store.Store backed by a pgx pool.
type Store struct {
	pool *pgxpool.Pool

	mu     sync.Mutex
	tables map[string]bool
}

var _ store.Store = (*Store)(nil)

// NewStore wraps an existing pool. Call EnsureSchema before using it.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, tables: make(map[string]bool)}
}

// NewDB opens a pgx pool with tuned defaults.
func NewDB(ctx context.Context, connString string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}
	// One connection per page worker plus one for checkpoints.
	if maxConns > 0 {
		cfg.MaxConns = maxConns + 1
	}
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the checkpoint table if it is missing.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sync_checkpoints (
  source TEXT PRIMARY KEY,
  last_sync TIMESTAMPTZ NOT NULL
);`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create sync_checkpoints table: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
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
  last_modified TIMESTAMPTZ NOT NULL,
  payload JSONB NOT NULL
);`, pgx.Identifier{collection}.Sanitize())
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create table %s: %w", collection, err)
	}
	s.tables[collection] = true
	return nil
}

func (s *Store) writeBatch(ctx context.Context, op, collection, query string, records []record.Record) error {
	start := time.Now()
	err := s.sendBatch(ctx, collection, query, records)
	store.Observe(driver, op, start, len(records), err)
	if err != nil {
		return &store.StoreWriteError{Collection: collection, Op: op, Count: len(records), Err: err}
	}
	return nil
}

// sendBatch queues one statement per record and sends them in a single
// round trip. A conflict within the batch is resolved by the statement order.
func (s *Store) sendBatch(ctx context.Context, collection, query string, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := s.ensureTable(ctx, collection); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		payload := r.Payload
		if len(payload) == 0 {
			payload = []byte("null")
		}
		batch.Queue(query, r.ID, r.LastModified.UTC(), string(payload))
	}

	results := s.pool.SendBatch(ctx, batch)
	for _, r := range records {
		if _, err := results.Exec(); err != nil {
			results.Close()
			return fmt.Errorf("write %s: %w", r.ID, err)
		}
	}
	return results.Close()
}

// InsertBatch implements store.RecordWriter.
func (s *Store) InsertBatch(ctx context.Context, collection string, records []record.Record) error {
	query := fmt.Sprintf(`
INSERT INTO %s (id, last_modified, payload)
VALUES ($1, $2, $3::jsonb)
ON CONFLICT (id) DO NOTHING;`, pgx.Identifier{collection}.Sanitize())
	return s.writeBatch(ctx, store.OpInsert, collection, query, records)
}

// UpsertBatch implements store.RecordWriter. Older deliveries are ignored
// to protect against out-of-order pages.
func (s *Store) UpsertBatch(ctx context.Context, collection string, records []record.Record) error {
	table := pgx.Identifier{collection}.Sanitize()
	query := fmt.Sprintf(`
INSERT INTO %s (id, last_modified, payload)
VALUES ($1, $2, $3::jsonb)
ON CONFLICT (id)
DO UPDATE SET
  last_modified = EXCLUDED.last_modified,
  payload = EXCLUDED.payload
WHERE EXCLUDED.last_modified >= %s.last_modified;`, table, table)
	return s.writeBatch(ctx, store.OpUpsert, collection, query, store.Newest(records))
}

// EnsureUniqueIndex implements store.RecordWriter. Fields other than the
// row columns are indexed on the JSONB payload.
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

	expr := fmt.Sprintf("(payload->>'%s')", field)
	if field == "id" || field == "last_modified" {
		expr = field
	}
	ddl := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s);`,
		pgx.Identifier{collection + "_" + field + "_key"}.Sanitize(),
		pgx.Identifier{collection}.Sanitize(),
		expr)
	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// ReadCheckpoint implements store.CheckpointStore.
func (s *Store) ReadCheckpoint(ctx context.Context, source string) (time.Time, bool, error) {
	start := time.Now()
	var t time.Time
	err := s.pool.QueryRow(ctx, `SELECT last_sync FROM sync_checkpoints WHERE source = $1`, source).Scan(&t)
	if errors.Is(err, pgx.ErrNoRows) {
		store.Observe(driver, store.OpReadCheckpoint, start, 0, nil)
		return time.Time{}, false, nil
	}
	store.Observe(driver, store.OpReadCheckpoint, start, 0, err)
	if err != nil {
		return time.Time{}, false, &store.CheckpointError{Source: source, Op: store.OpReadCheckpoint, Err: err}
	}
	return t.UTC(), true, nil
}

// WriteCheckpoint implements store.CheckpointStore.
func (s *Store) WriteCheckpoint(ctx context.Context, source string, t time.Time) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `
INSERT INTO sync_checkpoints (source, last_sync)
VALUES ($1, $2)
ON CONFLICT (source) DO UPDATE SET last_sync = EXCLUDED.last_sync;`, source, t.UTC())
	store.Observe(driver, store.OpWriteCheckpoint, start, 0, err)
	if err != nil {
		return &store.CheckpointError{Source: source, Op: store.OpWriteCheckpoint, Err: err}
	}
	return nil
}

//go:build integration

package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Sternrassler/cve-sync/pkg/record"
)

// setupPostgres starts a Postgres container and returns a pool with the
// schema in place.
func setupPostgres(t *testing.T) (*pgxpool.Pool, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "postgres",
			"POSTGRES_PASSWORD": "postgres",
			"POSTGRES_DB":       "cves_test",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Postgres endpoint: %v", err)
	}

	dsn := fmt.Sprintf("postgres://postgres:postgres@%s/cves_test?sslmode=disable", endpoint)
	pool, err := NewDB(ctx, dsn, 4)
	if err != nil {
		t.Fatalf("database unavailable: %v", err)
	}
	if err := EnsureSchema(ctx, pool); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	cleanup := func() {
		pool.Close()
		container.Terminate(ctx)
	}
	return pool, cleanup
}

func TestStore_Integration(t *testing.T) {
	pool, cleanup := setupPostgres(t)
	defer cleanup()

	ctx := context.Background()
	s := NewStore(pool)
	base := time.Now().UTC().Truncate(time.Second)

	t.Run("insert keeps first write", func(t *testing.T) {
		if err := s.InsertBatch(ctx, "cves_insert", []record.Record{
			{ID: "CVE-1", LastModified: base, Payload: []byte(`{"id":"CVE-1","v":1}`)},
		}); err != nil {
			t.Fatalf("InsertBatch: %v", err)
		}
		if err := s.InsertBatch(ctx, "cves_insert", []record.Record{
			{ID: "CVE-1", LastModified: base.Add(time.Hour), Payload: []byte(`{"id":"CVE-1","v":2}`)},
			{ID: "CVE-2", LastModified: base, Payload: []byte(`{"id":"CVE-2"}`)},
		}); err != nil {
			t.Fatalf("InsertBatch: %v", err)
		}

		var n, v int
		if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM cves_insert`).Scan(&n); err != nil {
			t.Fatalf("count: %v", err)
		}
		if err := pool.QueryRow(ctx, `SELECT (payload->>'v')::int FROM cves_insert WHERE id = 'CVE-1'`).Scan(&v); err != nil {
			t.Fatalf("select: %v", err)
		}
		if n != 2 || v != 1 {
			t.Errorf("rows = %d, v = %d, want 2 and 1", n, v)
		}
	})

	t.Run("upsert honors newest timestamp", func(t *testing.T) {
		for _, r := range []record.Record{
			{ID: "CVE-1", LastModified: base, Payload: []byte(`{"r":"old"}`)},
			{ID: "CVE-1", LastModified: base.Add(time.Hour), Payload: []byte(`{"r":"new"}`)},
			{ID: "CVE-1", LastModified: base.Add(-time.Hour), Payload: []byte(`{"r":"older"}`)},
		} {
			if err := s.UpsertBatch(ctx, "cves_upsert", []record.Record{r}); err != nil {
				t.Fatalf("UpsertBatch: %v", err)
			}
		}

		var got string
		var modified time.Time
		if err := pool.QueryRow(ctx, `SELECT payload->>'r', last_modified FROM cves_upsert WHERE id = 'CVE-1'`).Scan(&got, &modified); err != nil {
			t.Fatalf("select: %v", err)
		}
		if got != "new" || !modified.Equal(base.Add(time.Hour)) {
			t.Errorf("got %q at %s, want new at %s", got, modified, base.Add(time.Hour))
		}
	})

	t.Run("unique index is idempotent", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			if err := s.EnsureUniqueIndex(ctx, "cves_insert", "id"); err != nil {
				t.Fatalf("EnsureUniqueIndex: %v", err)
			}
		}
	})

	t.Run("checkpoint round trip", func(t *testing.T) {
		if _, ok, err := s.ReadCheckpoint(ctx, "nvd"); err != nil || ok {
			t.Fatalf("ReadCheckpoint on empty table = %v, %v", ok, err)
		}
		if err := s.WriteCheckpoint(ctx, "nvd", base); err != nil {
			t.Fatalf("WriteCheckpoint: %v", err)
		}
		got, ok, err := s.ReadCheckpoint(ctx, "nvd")
		if err != nil || !ok || !got.Equal(base) {
			t.Errorf("ReadCheckpoint = %s, %v, %v; want %s", got, ok, err, base)
		}
	})
}

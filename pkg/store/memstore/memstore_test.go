package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/cve-sync/pkg/record"
	"github.com/Sternrassler/cve-sync/pkg/store"
)

func rec(id string, modified time.Time, payload string) record.Record {
	return record.Record{ID: id, LastModified: modified, Payload: []byte(payload)}
}

func TestInsertBatch_KeepsExisting(t *testing.T) {
	ctx := context.Background()
	s := New()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.InsertBatch(ctx, "cves", []record.Record{rec("CVE-1", t0, `"a"`)}))
	require.NoError(t, s.InsertBatch(ctx, "cves", []record.Record{rec("CVE-1", t0.Add(time.Hour), `"b"`), rec("CVE-2", t0, `"c"`)}))

	assert.Equal(t, 2, s.Count("cves"))
	got, ok := s.Get("cves", "CVE-1")
	require.True(t, ok)
	assert.Equal(t, `"a"`, string(got.Payload))
}

func TestUpsertBatch_NewerWins(t *testing.T) {
	ctx := context.Background()
	s := New()
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertBatch(ctx, "cves", []record.Record{rec("CVE-1", t0, `"old"`)}))
	require.NoError(t, s.UpsertBatch(ctx, "cves", []record.Record{rec("CVE-1", t0.Add(time.Hour), `"new"`)}))
	require.NoError(t, s.UpsertBatch(ctx, "cves", []record.Record{rec("CVE-1", t0.Add(-time.Hour), `"older"`)}))

	got, _ := s.Get("cves", "CVE-1")
	assert.Equal(t, `"new"`, string(got.Payload))
	assert.Equal(t, 1, s.Count("cves"))
}

func TestUpsertBatch_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := New()
	batch := []record.Record{rec("CVE-1", time.Time{}, `1`), rec("CVE-2", time.Time{}, `2`)}

	require.NoError(t, s.UpsertBatch(ctx, "cves", batch))
	require.NoError(t, s.UpsertBatch(ctx, "cves", batch))

	assert.Equal(t, 2, s.Count("cves"))
}

func TestCheckpoint(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, ok, err := s.ReadCheckpoint(ctx, "nvd")
	require.NoError(t, err)
	assert.False(t, ok)

	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	require.NoError(t, s.WriteCheckpoint(ctx, "nvd", ts))

	got, ok, err := s.ReadCheckpoint(ctx, "nvd")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Equal(ts))
	assert.Equal(t, time.UTC, got.Location())
}

func TestEnsureUniqueIndex(t *testing.T) {
	s := New()
	require.NoError(t, s.EnsureUniqueIndex(context.Background(), "cves", "id"))
	require.NoError(t, s.EnsureUniqueIndex(context.Background(), "cves", "id"))
	assert.True(t, s.HasIndex("cves", "id"))
	assert.False(t, s.HasIndex("cves", "other"))
}

func TestFailInjection(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("boom")
	s.Fail = func(op string) error {
		if op == store.OpUpsert || op == store.OpWriteCheckpoint {
			return boom
		}
		return nil
	}

	err := s.UpsertBatch(ctx, "cves", []record.Record{{ID: "CVE-1"}})
	var writeErr *store.StoreWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, 1, writeErr.Count)
	assert.ErrorIs(t, err, boom)

	err = s.WriteCheckpoint(ctx, "nvd", time.Now())
	var cpErr *store.CheckpointError
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, "nvd", cpErr.Source)

	require.NoError(t, s.InsertBatch(ctx, "cves", []record.Record{{ID: "CVE-1"}}))
}

func TestConcurrentWrites(t *testing.T) {
	ctx := context.Background()
	s := New()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			batch := make([]record.Record, 0, 100)
			for i := 0; i < 100; i++ {
				batch = append(batch, record.Record{ID: fmt.Sprintf("CVE-%d-%d", w, i)})
			}
			assert.NoError(t, s.UpsertBatch(ctx, "cves", batch))
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 800, s.Count("cves"))
}

// Package redisstore keeps sync checkpoints in Redis so that several hosts
// can share them while records live in another backend.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Sternrassler/cve-sync/pkg/store"
)

const driver = "redis"

// KeyPrefix is prepended to the source name to form the checkpoint key.
const KeyPrefix = "cvesync:checkpoint:"

// CheckpointStore is a store.CheckpointStore backed by Redis.
type CheckpointStore struct {
	redis *redis.Client
}

var _ store.CheckpointStore = (*CheckpointStore)(nil)

// New creates a checkpoint store using an existing client.
func New(redisClient *redis.Client) *CheckpointStore {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &CheckpointStore{redis: redisClient}
}

// Key returns the Redis key holding the checkpoint of source.
func Key(source string) string {
	return KeyPrefix + source
}

// ReadCheckpoint implements store.CheckpointStore.
func (c *CheckpointStore) ReadCheckpoint(ctx context.Context, source string) (time.Time, bool, error) {
	start := time.Now()

	raw, err := c.redis.Get(ctx, Key(source)).Result()
	if errors.Is(err, redis.Nil) {
		store.Observe(driver, store.OpReadCheckpoint, start, 0, nil)
		return time.Time{}, false, nil
	}
	if err != nil {
		store.Observe(driver, store.OpReadCheckpoint, start, 0, err)
		return time.Time{}, false, &store.CheckpointError{
			Source: source, Op: store.OpReadCheckpoint, Err: fmt.Errorf("redis get: %w", err),
		}
	}

	t, err := time.Parse(time.RFC3339Nano, raw)
	store.Observe(driver, store.OpReadCheckpoint, start, 0, err)
	if err != nil {
		return time.Time{}, false, &store.CheckpointError{
			Source: source, Op: store.OpReadCheckpoint, Err: fmt.Errorf("parse checkpoint %q: %w", raw, err),
		}
	}
	return t.UTC(), true, nil
}

// WriteCheckpoint implements store.CheckpointStore. Checkpoints never expire.
func (c *CheckpointStore) WriteCheckpoint(ctx context.Context, source string, t time.Time) error {
	start := time.Now()

	err := c.redis.Set(ctx, Key(source), t.UTC().Format(time.RFC3339Nano), 0).Err()
	store.Observe(driver, store.OpWriteCheckpoint, start, 0, err)
	if err != nil {
		return &store.CheckpointError{
			Source: source, Op: store.OpWriteCheckpoint, Err: fmt.Errorf("redis set: %w", err),
		}
	}
	return nil
}

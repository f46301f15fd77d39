package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// ProgressCache holds the hot copy of every in-flight snapshot in Redis
// and feeds the persistence queue.
type ProgressCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewProgressCache creates a new ProgressCache.
func NewProgressCache(rdb *redis.Client, ttl time.Duration) *ProgressCache {
	return &ProgressCache{rdb: rdb, ttl: ttl}
}

// progressEnvelope keeps the progress key, which the snapshot's JSON omits.
type progressEnvelope struct {
	ProgressKey string                 `json:"progress_key"`
	Snapshot    model.ProgressSnapshot `json:"snapshot"`
}

func encodeProgress(snap model.ProgressSnapshot) ([]byte, error) {
	return json.Marshal(progressEnvelope{ProgressKey: snap.ProgressKey, Snapshot: snap})
}

// DecodeProgress is the inverse of the queued and cached encoding.
func DecodeProgress(data []byte) (model.ProgressSnapshot, error) {
	var env progressEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return model.ProgressSnapshot{}, err
	}
	env.Snapshot.ProgressKey = env.ProgressKey
	return env.Snapshot, nil
}

// Put stores the snapshot and the key-to-session pointer.
func (c *ProgressCache) Put(ctx context.Context, snap model.ProgressSnapshot) error {
	data, err := encodeProgress(snap)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	pipe := c.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.SessionProgressKey(snap.SessionID), data, c.ttl)
	pipe.Set(ctx, config.CacheKey.ProgressPointerKey(snap.ProgressKey), snap.SessionID, c.ttl)
	_, err = pipe.Exec(ctx)
	return err
}

// Enqueue hands the snapshot to the progress worker.
func (c *ProgressCache) Enqueue(ctx context.Context, snap model.ProgressSnapshot) error {
	data, err := encodeProgress(snap)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	return c.rdb.RPush(ctx, config.WorkerKey.PersistProgressQueue, data).Err()
}

// EnqueueAll hands several snapshots back to the progress worker in one
// round trip.
func (c *ProgressCache) EnqueueAll(ctx context.Context, snaps []model.ProgressSnapshot) error {
	pipe := c.rdb.Pipeline()
	for _, snap := range snaps {
		data, err := encodeProgress(snap)
		if err != nil {
			return fmt.Errorf("marshal progress: %w", err)
		}
		pipe.RPush(ctx, config.WorkerKey.PersistProgressQueue, data)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// BySession returns the hot snapshot of a session, or nil when absent.
func (c *ProgressCache) BySession(ctx context.Context, sessionID string) (*model.ProgressSnapshot, error) {
	data, err := c.rdb.Get(ctx, config.CacheKey.SessionProgressKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	snap, err := DecodeProgress(data)
	if err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	return &snap, nil
}

// ByKey resolves a progress key through its pointer.
func (c *ProgressCache) ByKey(ctx context.Context, progressKey string) (*model.ProgressSnapshot, error) {
	sessionID, err := c.rdb.Get(ctx, config.CacheKey.ProgressPointerKey(progressKey)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get progress pointer: %w", err)
	}
	snap, err := c.BySession(ctx, sessionID)
	if err != nil || snap == nil {
		return snap, err
	}
	if snap.ProgressKey != progressKey {
		// The session is now saved under another key.
		return nil, nil
	}
	return snap, nil
}

// Drop removes the hot snapshot and the pointer, whichever is given.
func (c *ProgressCache) Drop(ctx context.Context, sessionID, progressKey string) error {
	var keys []string
	if sessionID != "" {
		keys = append(keys, config.CacheKey.SessionProgressKey(sessionID))
	}
	if progressKey != "" {
		keys = append(keys, config.CacheKey.ProgressPointerKey(progressKey))
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// Tombstone records an explicit delete so queued writes older than it
// are discarded.
func (c *ProgressCache) Tombstone(ctx context.Context, progressKey string, at time.Time) error {
	return c.rdb.Set(ctx, config.CacheKey.ProgressTombstoneKey(progressKey), at.UnixNano(), c.ttl).Err()
}

// TombstonedAt returns the last explicit delete of a key, or the zero time.
func (c *ProgressCache) TombstonedAt(ctx context.Context, progressKey string) (time.Time, error) {
	n, err := c.rdb.Get(ctx, config.CacheKey.ProgressTombstoneKey(progressKey)).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n), nil
}

package worker

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/service"
)

// ProgressWriter is the durable sink of progress snapshots.
type ProgressWriter interface {
	UpsertBatch(ctx context.Context, snaps []model.ProgressSnapshot) error
	Upsert(ctx context.Context, snap model.ProgressSnapshot) error
}

// ProgressWorker consumes persist_progress_queue and upserts snapshots
// into PostgreSQL.
type ProgressWorker struct {
	store ProgressWriter
	cache *service.ProgressCache
	rdb   *redis.Client
	log   zerolog.Logger
}

// NewProgressWorker creates a new ProgressWorker.
func NewProgressWorker(store ProgressWriter, cache *service.ProgressCache, rdb *redis.Client, log zerolog.Logger) *ProgressWorker {
	return &ProgressWorker{
		store: store,
		cache: cache,
		rdb:   rdb,
		log:   log.With().Str("component", "progress_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *ProgressWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")
	c := &batchConsumer[model.ProgressSnapshot]{
		rdb:    w.rdb,
		queue:  config.WorkerKey.PersistProgressQueue,
		log:    w.log,
		decode: func(data string) (model.ProgressSnapshot, error) { return service.DecodeProgress([]byte(data)) },
		flush:  w.flushSafe,
	}
	c.run(ctx)
}

// flushSafe attempts a batched upsert, then row-by-row, then requeue.
func (w *ProgressWorker) flushSafe(ctx context.Context, batch []model.ProgressSnapshot) {
	pending := w.latestLive(ctx, batch)
	if len(pending) == 0 {
		return
	}

	err := w.store.UpsertBatch(ctx, pending)
	if err == nil {
		return
	}
	w.log.Warn().Err(err).Int("count", len(pending)).Msg("Batch upsert failed, attempting row-by-row recovery")

	var requeue []model.ProgressSnapshot
	for _, snap := range pending {
		if err := w.store.Upsert(ctx, snap); err != nil {
			w.log.Error().Err(err).Str("session_id", snap.SessionID).Msg("Upsert failed, requeueing")
			requeue = append(requeue, snap)
		}
	}
	if len(requeue) == 0 {
		return
	}

	if err := w.cache.EnqueueAll(ctx, requeue); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue progress to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(requeue)).Msg("Requeued failed items back to Redis")
	time.Sleep(requeueBackoff)
}

// latestLive keeps the newest snapshot per progress key and drops any
// written before that key's last explicit delete.
func (w *ProgressWorker) latestLive(ctx context.Context, batch []model.ProgressSnapshot) []model.ProgressSnapshot {
	latest := make(map[string]int, len(batch))
	out := make([]model.ProgressSnapshot, 0, len(batch))
	for _, snap := range batch {
		if i, seen := latest[snap.ProgressKey]; seen {
			if snap.LastSavedAt.Before(out[i].LastSavedAt) {
				continue
			}
			out[i] = snap
			continue
		}
		latest[snap.ProgressKey] = len(out)
		out = append(out, snap)
	}

	live := out[:0]
	for _, snap := range out {
		deletedAt, err := w.cache.TombstonedAt(ctx, snap.ProgressKey)
		if err != nil {
			w.log.Warn().Err(err).Str("progress_key", snap.ProgressKey).Msg("Tombstone lookup failed")
		}
		if !deletedAt.IsZero() && !snap.LastSavedAt.After(deletedAt) {
			continue
		}
		live = append(live, snap)
	}
	return live
}

package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// EventWriter is the durable sink of session events.
type EventWriter interface {
	InsertBatch(ctx context.Context, events []model.SessionEvent) error
	Insert(ctx context.Context, e model.SessionEvent) error
}

// EventWorker consumes persist_session_events_queue and appends events
// to PostgreSQL.
type EventWorker struct {
	store EventWriter
	rdb   *redis.Client
	log   zerolog.Logger
}

// NewEventWorker creates a new EventWorker.
func NewEventWorker(store EventWriter, rdb *redis.Client, log zerolog.Logger) *EventWorker {
	return &EventWorker{
		store: store,
		rdb:   rdb,
		log:   log.With().Str("component", "event_worker").Logger(),
	}
}

// Start begins the worker loop. Call in a goroutine.
func (w *EventWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")
	c := &batchConsumer[model.SessionEvent]{
		rdb:   w.rdb,
		queue: config.WorkerKey.PersistEventsQueue,
		log:   w.log,
		decode: func(data string) (model.SessionEvent, error) {
			var e model.SessionEvent
			err := json.Unmarshal([]byte(data), &e)
			return e, err
		},
		flush: w.flushSafe,
	}
	c.run(ctx)
}

// flushSafe attempts bulk insert, then fallback insert, then requeue.
func (w *EventWorker) flushSafe(ctx context.Context, batch []model.SessionEvent) {
	err := w.store.InsertBatch(ctx, batch)
	if err == nil {
		return
	}
	w.log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")

	var requeue []model.SessionEvent
	for _, e := range batch {
		if err := w.store.Insert(ctx, e); err != nil {
			w.log.Error().Err(err).Str("session_id", e.SessionID).Msg("Insert failed, requeueing")
			requeue = append(requeue, e)
		}
	}
	if len(requeue) > 0 {
		w.requeue(ctx, requeue)
	}
}

func (w *EventWorker) requeue(ctx context.Context, items []model.SessionEvent) {
	pipe := w.rdb.Pipeline()
	for _, e := range items {
		data, _ := json.Marshal(e)
		pipe.RPush(ctx, config.WorkerKey.PersistEventsQueue, data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		w.log.Error().Err(err).Msg("CRITICAL: Failed to requeue events to Redis. Data loss occurred.")
		return
	}
	w.log.Info().Int("count", len(items)).Msg("Requeued failed items back to Redis")
	time.Sleep(requeueBackoff)
}

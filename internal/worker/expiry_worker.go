package worker

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/engine"
	"github.com/stemsi/exstem-assessment/internal/service"
)

// sweepLimit bounds how many due sessions one tick finalizes.
const sweepLimit = 100

// Expirer finalizes sessions whose deadline has passed.
type Expirer interface {
	Expire(ctx context.Context, sessionID string) error
	ReseedSchedule(ctx context.Context) (int, error)
}

// ExpiryWorker watches the deadline schedule and runs the timeout submit
// for every session whose clock has run out, whether or not its client
// is still connected.
type ExpiryWorker struct {
	sessions Expirer
	rdb      *redis.Client
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewExpiryWorker creates a new ExpiryWorker.
func NewExpiryWorker(sessions Expirer, rdb *redis.Client, interval time.Duration, log zerolog.Logger) *ExpiryWorker {
	if interval <= 0 {
		interval = time.Second
	}
	return &ExpiryWorker{
		sessions: sessions,
		rdb:      rdb,
		interval: interval,
		now:      time.Now,
		log:      log.With().Str("component", "expiry_worker").Logger(),
	}
}

// Start rebuilds the schedule from PostgreSQL and then sweeps it on every
// tick until ctx is cancelled. Call in a goroutine.
func (w *ExpiryWorker) Start(ctx context.Context) {
	n, err := w.sessions.ReseedSchedule(ctx)
	if err != nil {
		w.log.Error().Err(err).Msg("Failed to reseed deadline schedule")
	} else {
		w.log.Info().Int("sessions", n).Msg("Worker started")
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

// sweep expires every scheduled session due at or before now and returns
// how many were handled.
func (w *ExpiryWorker) sweep(ctx context.Context) int {
	due, err := w.rdb.ZRangeByScore(ctx, config.CacheKey.SessionDeadlinesKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(w.now().Unix(), 10),
		Count: sweepLimit,
	}).Result()
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Read deadline schedule failed")
		}
		return 0
	}

	handled := 0
	for _, id := range due {
		err := w.sessions.Expire(ctx, id)
		switch {
		case err == nil:
			handled++
		case errors.Is(err, service.ErrSessionBusy):
			// Someone else holds the session; the next tick retries.
		case errors.Is(err, engine.ErrSessionNotFound):
			w.rdb.ZRem(ctx, config.CacheKey.SessionDeadlinesKey(), id)
		default:
			w.log.Error().Err(err).Str("session_id", id).Msg("Expire session failed")
		}
	}
	if handled > 0 {
		w.log.Info().Int("count", handled).Msg("Expired sessions finalized")
	}
	return handled
}

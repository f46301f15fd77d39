package worker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis

	shutdownBudget = 5 * time.Second
)

// requeueBackoff is the pause after pushing failed items back.
var requeueBackoff = 2 * time.Second

// batchConsumer pops JSON items off a Redis list and flushes them in
// batches by size or age. On shutdown it flushes the buffer and drains
// what is left in the queue.
type batchConsumer[T any] struct {
	rdb    *redis.Client
	queue  string
	log    zerolog.Logger
	decode func(data string) (T, error)
	flush  func(ctx context.Context, batch []T)
}

func (b *batchConsumer[T]) run(ctx context.Context) {
	buffer := make([]T, 0, BatchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Check Flush Conditions (Time or Size)
		if len(buffer) > 0 && (len(buffer) >= BatchSize || time.Since(lastFlushTime) >= BatchTimeout) {
			b.flush(ctx, buffer)
			buffer = buffer[:0]
			lastFlushTime = time.Now()
		}

		// 2. Check Context (Graceful Shutdown)
		select {
		case <-ctx.Done():
			b.shutdown(buffer)
			return
		default:
		}

		// 3. Fetch from Redis
		result, err := b.rdb.BLPop(ctx, PollTimeout, b.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			if ctx.Err() != nil {
				continue
			}
			b.log.Error().Err(err).Msg("Redis connection error, sleeping 3s")
			time.Sleep(3 * time.Second)
			continue
		}
		if len(result) < 2 {
			continue
		}

		// 4. Decode. Malformed items can never succeed, so they are dropped.
		item, err := b.decode(result[1])
		if err != nil {
			b.log.Error().Err(err).Str("data", result[1]).Msg("Discarding malformed item")
			continue
		}
		buffer = append(buffer, item)
	}
}

func (b *batchConsumer[T]) shutdown(buffer []T) {
	b.log.Info().Msg("Worker stopping, flushing remaining buffer...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownBudget)
	defer cancel()

	if len(buffer) > 0 {
		b.flush(ctx, buffer)
	}

	drained := 0
	batch := make([]T, 0, BatchSize)
	for ctx.Err() == nil {
		data, err := b.rdb.LPop(ctx, b.queue).Result()
		if err != nil {
			break
		}
		item, err := b.decode(data)
		if err != nil {
			continue
		}
		batch = append(batch, item)
		if len(batch) == BatchSize {
			b.flush(ctx, batch)
			drained += len(batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 && ctx.Err() == nil {
		b.flush(ctx, batch)
		drained += len(batch)
	}

	if drained > 0 {
		b.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
	b.log.Info().Msg("Worker stopped")
}

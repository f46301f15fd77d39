package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// EventPublisher queues session events for persistence and fans them out
// to live monitors of the question set.
type EventPublisher struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewEventPublisher creates a new EventPublisher.
func NewEventPublisher(rdb *redis.Client, log zerolog.Logger) *EventPublisher {
	return &EventPublisher{
		rdb: rdb,
		log: log.With().Str("component", "event_publisher").Logger(),
	}
}

// Emit is best effort: a lost audit event must never fail the operation
// that produced it.
func (p *EventPublisher) Emit(ctx context.Context, sess *model.Session, typ model.SessionEventType, payload any) {
	e := model.SessionEvent{
		SessionID:     sess.ID,
		QuestionSetID: sess.QuestionSetID,
		Type:          typ,
		CreatedAt:     time.Now().UTC(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			p.log.Warn().Err(err).Str("type", string(typ)).Msg("Dropping event payload")
		} else {
			e.Payload = raw
		}
	}

	data, err := json.Marshal(e)
	if err != nil {
		p.log.Error().Err(err).Msg("Marshal event")
		return
	}

	pipe := p.rdb.Pipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistEventsQueue, data)
	pipe.Publish(ctx, config.CacheKey.QuestionSetMonitorChannel(sess.QuestionSetID), data)
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warn().Err(err).
			Str("session_id", sess.ID).
			Str("type", string(typ)).
			Msg("Failed to emit session event")
	}
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/engine"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// QuestionSetService serves question sets from Redis, healing the cache
// from PostgreSQL on a miss. Sets are read-only to the engine.
type QuestionSetService struct {
	repo QuestionSetStore
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewQuestionSetService creates a new QuestionSetService.
func NewQuestionSetService(repo QuestionSetStore, rdb *redis.Client, log zerolog.Logger) *QuestionSetService {
	return &QuestionSetService{
		repo: repo,
		rdb:  rdb,
		log:  log.With().Str("component", "question_set_service").Logger(),
	}
}

// Warm caches a set's client-safe payload and its answer key.
func (s *QuestionSetService) Warm(ctx context.Context, set *model.QuestionSet) error {
	payloadJSON, err := json.Marshal(set.Payload())
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	answerKey := make(map[string]any, len(set.Questions))
	for id, answer := range set.AnswerKey() {
		answerKey[id] = answer
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.QuestionSetPayloadKey(set.ID), payloadJSON, 0)
	pipe.Del(ctx, config.CacheKey.QuestionSetAnswerKey(set.ID))
	if len(answerKey) > 0 {
		pipe.HSet(ctx, config.CacheKey.QuestionSetAnswerKey(set.ID), answerKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache to redis: %w", err)
	}

	s.log.Debug().
		Str("question_set_id", set.ID).
		Int("questions", len(set.Questions)).
		Msg("Cache warmed")
	return nil
}

// PrewarmAll loads every question set into Redis on startup.
func (s *QuestionSetService) PrewarmAll(ctx context.Context) error {
	ids, err := s.repo.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("list question sets: %w", err)
	}
	if len(ids) == 0 {
		s.log.Info().Msg("No question sets to prewarm")
		return nil
	}

	warmed := 0
	for _, id := range ids {
		set, err := s.repo.GetByID(ctx, id)
		if err != nil {
			s.log.Warn().Err(err).Str("question_set_id", id).Msg("Failed to load question set, skipping")
			continue
		}
		if err := s.Warm(ctx, set); err != nil {
			s.log.Warn().Err(err).Str("question_set_id", id).Msg("Failed to warm question set, skipping")
			continue
		}
		warmed++
	}

	s.log.Info().Int("warmed", warmed).Int("total", len(ids)).Msg("Prewarming complete")
	return nil
}

// Get returns a gradable question set. A cache miss falls back to the
// database and re-warms the cache.
func (s *QuestionSetService) Get(ctx context.Context, id string) (*model.QuestionSet, error) {
	set, err := s.fromCache(ctx, id)
	if err != nil {
		s.log.Warn().Err(err).Str("question_set_id", id).Msg("Question set cache read failed")
	}
	if set != nil {
		return set, nil
	}

	set, err = s.repo.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrQuestionSetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load question set: %w", err)
	}

	if err := s.Warm(ctx, set); err != nil {
		s.log.Warn().Err(err).Str("question_set_id", id).Msg("Self-heal warm failed")
	} else {
		s.log.Info().Str("question_set_id", id).Msg("Question set cache self-healed")
	}
	return set, nil
}

func (s *QuestionSetService) fromCache(ctx context.Context, id string) (*model.QuestionSet, error) {
	pipe := s.rdb.Pipeline()
	payloadCmd := pipe.Get(ctx, config.CacheKey.QuestionSetPayloadKey(id))
	keyCmd := pipe.HGetAll(ctx, config.CacheKey.QuestionSetAnswerKey(id))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	data, err := payloadCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var payload model.QuestionSetPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("unmarshal payload: %w", err)
	}

	key, err := keyCmd.Result()
	if err != nil {
		return nil, err
	}
	if len(key) < len(payload.Questions) {
		// Partial cache: treat as a miss.
		return nil, nil
	}

	return payload.Assemble(key), nil
}

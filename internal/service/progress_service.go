package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/engine"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// EmailProgressKey is the progress key of the public, email addressed routes.
func EmailProgressKey(email string) string {
	return "email:" + NormalizeEmail(email)
}

// SessionProgressKey is the progress key of the session addressed routes.
func SessionProgressKey(sessionID string) string {
	return "session:" + sessionID
}

// ProgressService stores in-flight progress. Writes land in Redis first
// and reach PostgreSQL through the progress worker.
type ProgressService struct {
	sessions *SessionService
	repo     ProgressStore
	cache    *ProgressCache
	events   *EventPublisher
	log      zerolog.Logger
}

// NewProgressService creates a new ProgressService.
func NewProgressService(sessions *SessionService, repo ProgressStore, cache *ProgressCache, events *EventPublisher, log zerolog.Logger) *ProgressService {
	return &ProgressService{
		sessions: sessions,
		repo:     repo,
		cache:    cache,
		events:   events,
		log:      log.With().Str("component", "progress_service").Logger(),
	}
}

// Save merges a proposed snapshot into the stored one. Saves inside the
// submit grace are kept for the grade; a save past it finalizes the
// session instead and reports engine.ErrAlreadyCompleted.
func (s *ProgressService) Save(ctx context.Context, caller engine.Caller, progressKey string, req *model.SaveProgressRequest) (*model.ProgressAck, error) {
	unlock, err := s.sessions.locker.Lock(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := s.sessions.load(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if err := engine.AuthorizeProgress(caller, sess); err != nil {
		return nil, err
	}
	if sess.Status == model.SessionStatusCompleted {
		return nil, engine.ErrAlreadyCompleted
	}

	prev, err := s.previous(ctx, sess)
	if err != nil {
		return nil, err
	}
	if prev.IsCompleted {
		return nil, engine.ErrAlreadyCompleted
	}
	oldKey := prev.ProgressKey
	prev.ProgressKey = progressKey

	now := s.sessions.now()
	if now.After(s.sessions.expiresAt(sess.Deadline())) {
		if err := s.finalize(ctx, sess.ID); err != nil {
			return nil, err
		}
		return nil, engine.ErrAlreadyCompleted
	}

	set, err := s.sessions.sets.Get(ctx, sess.QuestionSetID)
	if err != nil {
		return nil, err
	}
	merged, err := engine.MergeSnapshot(engine.MergeInput{
		Prev:          prev,
		Proposed:      *req,
		Set:           set,
		Session:       sess,
		DefaultBudget: sess.QuestionTimeLimitSeconds,
		Now:           now,
	})
	if err != nil {
		return nil, err
	}
	snap := merged.Snapshot

	if err := s.cache.Put(ctx, snap); err != nil {
		return nil, fmt.Errorf("cache progress: %w", err)
	}
	if oldKey != "" && oldKey != progressKey {
		if err := s.cache.Drop(ctx, "", oldKey); err != nil {
			s.log.Warn().Err(err).Str("progress_key", oldKey).Msg("Drop stale progress pointer failed")
		}
	}

	if err := s.cache.Enqueue(ctx, snap); err != nil {
		return nil, fmt.Errorf("enqueue progress: %w", err)
	}
	s.events.Emit(ctx, sess, model.EventProgressSaved, map[string]any{
		"answered":       len(snap.Answers),
		"newly_expired":  merged.NewlyExpired,
		"remaining_time": snap.RemainingTimeSeconds,
	})

	s.log.Debug().
		Str("session_id", sess.ID).
		Str("progress_key", progressKey).
		Int("answered", len(snap.Answers)).
		Msg("Progress saved")

	at := snap.LastSavedAt
	return &model.ProgressAck{
		ProgressKey: progressKey,
		SessionID:   sess.ID,
		Accepted:    true,
		LastSavedAt: &at,
	}, nil
}

// Load returns the saved progress under a key with its remaining time
// advanced by the wall clock. It returns nil when nothing resumable exists.
func (s *ProgressService) Load(ctx context.Context, caller engine.Caller, progressKey string) (*model.ProgressSnapshot, error) {
	snap, err := s.lookup(ctx, progressKey)
	if err != nil || snap == nil || snap.IsCompleted {
		return nil, err
	}

	sess, err := s.sessions.load(ctx, snap.SessionID)
	if errors.Is(err, engine.ErrSessionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := engine.AuthorizeProgress(caller, sess); err != nil {
		return nil, err
	}
	if sess.Status == model.SessionStatusCompleted {
		return nil, nil
	}

	now := s.sessions.now()
	remaining := engine.ElapsedRemaining(snap.RemainingTimeSeconds, snap.LastSavedAt, now)
	if server := sess.RemainingAt(now); server < remaining {
		remaining = server
	}
	snap.RemainingTimeSeconds = remaining
	snap.ProgressKey = progressKey
	return snap, nil
}

// Delete discards the progress under a key. Deleting nothing succeeds.
func (s *ProgressService) Delete(ctx context.Context, caller engine.Caller, progressKey string) (*model.ProgressAck, error) {
	snap, err := s.lookup(ctx, progressKey)
	if err != nil {
		return nil, err
	}
	ack := &model.ProgressAck{ProgressKey: progressKey, Accepted: true}
	if snap == nil {
		return ack, nil
	}
	ack.SessionID = snap.SessionID

	unlock, err := s.sessions.locker.Lock(ctx, snap.SessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := s.sessions.load(ctx, snap.SessionID)
	if err != nil && !errors.Is(err, engine.ErrSessionNotFound) {
		return nil, err
	}
	if sess != nil {
		if err := engine.AuthorizeProgress(caller, sess); err != nil {
			return nil, err
		}
		// Answers go, clocks stay: a resave must not revive an expired
		// question or restart dwell from the session start.
		if sess.Status != model.SessionStatusCompleted {
			if err := s.sessions.sessions.ResetProgress(ctx, sess.ID, snap.Timing()); err != nil {
				return nil, fmt.Errorf("keep session clocks: %w", err)
			}
		}
	}

	if err := s.cache.Drop(ctx, snap.SessionID, progressKey); err != nil {
		return nil, fmt.Errorf("drop progress: %w", err)
	}
	if err := s.cache.Tombstone(ctx, progressKey, s.sessions.now()); err != nil {
		return nil, fmt.Errorf("tombstone progress: %w", err)
	}
	if _, err := s.repo.Delete(ctx, progressKey); err != nil {
		return nil, fmt.Errorf("delete progress: %w", err)
	}
	ack.Deleted = true
	if sess != nil {
		s.events.Emit(ctx, sess, model.EventProgressDeleted, nil)
	}
	return ack, nil
}

// MarkComplete flags the progress under a key as completed so it is no
// longer offered for resume. A session already past its deadline is
// finalized first. Marking twice succeeds.
func (s *ProgressService) MarkComplete(ctx context.Context, caller engine.Caller, progressKey string) (*model.ProgressAck, error) {
	snap, err := s.lookup(ctx, progressKey)
	if err != nil {
		return nil, err
	}
	ack := &model.ProgressAck{ProgressKey: progressKey, Accepted: true}
	if snap == nil {
		return ack, nil
	}
	ack.SessionID = snap.SessionID

	unlock, err := s.sessions.locker.Lock(ctx, snap.SessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sess, err := s.sessions.load(ctx, snap.SessionID)
	if err != nil && !errors.Is(err, engine.ErrSessionNotFound) {
		return nil, err
	}
	now := s.sessions.now()
	if sess != nil {
		if err := engine.AuthorizeProgress(caller, sess); err != nil {
			return nil, err
		}
		if sess.Status != model.SessionStatusCompleted && now.After(s.sessions.expiresAt(sess.Deadline())) {
			if err := s.finalize(ctx, sess.ID); err != nil {
				return nil, err
			}
		}
	}

	done := *snap
	done.ProgressKey = progressKey
	done.IsCompleted = true
	done.LastSavedAt = now
	if err := s.cache.Put(ctx, done); err != nil {
		s.log.Warn().Err(err).Str("progress_key", progressKey).Msg("Cache completed progress failed")
	}
	if err := s.cache.Enqueue(ctx, done); err != nil {
		s.log.Warn().Err(err).Str("progress_key", progressKey).Msg("Enqueue completed progress failed")
	}
	if _, err := s.repo.MarkComplete(ctx, progressKey, now); err != nil {
		return nil, fmt.Errorf("mark progress complete: %w", err)
	}
	if sess != nil {
		s.events.Emit(ctx, sess, model.EventProgressCompleted, nil)
	}

	ack.Completed = true
	ack.LastSavedAt = &now
	return ack, nil
}

// finalize runs the timeout submit while the caller holds the lock.
func (s *ProgressService) finalize(ctx context.Context, sessionID string) error {
	_, err := s.sessions.submitLocked(ctx, engine.Timeout(sessionID), nil, Contact{})
	var na *engine.NotActiveError
	if errors.As(err, &na) && na.Completed() {
		return nil
	}
	return err
}

// previous is the snapshot a save merges into. Without stored progress it
// is rebuilt from the session row, which keeps the clocks across deletes.
func (s *ProgressService) previous(ctx context.Context, sess *model.Session) (model.ProgressSnapshot, error) {
	hot, err := s.cache.BySession(ctx, sess.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("Progress cache read failed")
	}
	if hot != nil {
		return *hot, nil
	}
	durable, err := s.repo.GetBySession(ctx, sess.ID)
	switch {
	case err == nil:
		return *durable, nil
	case errors.Is(err, pgx.ErrNoRows):
		return engine.InitialSnapshot(sess, ""), nil
	default:
		return model.ProgressSnapshot{}, fmt.Errorf("load progress: %w", err)
	}
}

// lookup resolves a key from the cache, then PostgreSQL, healing the
// cache on a durable hit.
func (s *ProgressService) lookup(ctx context.Context, progressKey string) (*model.ProgressSnapshot, error) {
	hot, err := s.cache.ByKey(ctx, progressKey)
	if err != nil {
		s.log.Warn().Err(err).Str("progress_key", progressKey).Msg("Progress cache read failed")
	}
	if hot != nil {
		return hot, nil
	}

	snap, err := s.repo.Get(ctx, progressKey)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	snap.ProgressKey = progressKey

	tomb, err := s.cache.TombstonedAt(ctx, progressKey)
	if err == nil && !tomb.IsZero() && !snap.LastSavedAt.After(tomb) {
		return nil, nil
	}
	if !snap.IsCompleted {
		healCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := s.cache.Put(healCtx, *snap); err != nil {
			s.log.Warn().Err(err).Str("progress_key", progressKey).Msg("Progress self-heal failed")
		}
	}
	return snap, nil
}

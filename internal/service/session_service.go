package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/engine"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
)

// ErrForbiddenScope means the caller may not list sessions in that scope.
var ErrForbiddenScope = errors.New("listing scope not permitted")

const (
	defaultListLimit = 10
	maxListLimit     = 100
)

// Contact is candidate contact data supplied at submit time.
type Contact struct {
	Name  string
	Email string
}

// SessionService owns the session lifecycle: start, submit, expiry and
// results. Every mutation of a session runs under its lock and ends in a
// compare-and-swap on status.
type SessionService struct {
	sessions SessionStore
	progress ProgressStore
	sets     *QuestionSetService
	cache    *ProgressCache
	locker   Locker
	events   *EventPublisher
	policy   *config.AssessmentPolicy
	rdb      *redis.Client
	grace    time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	sessions SessionStore,
	progress ProgressStore,
	sets *QuestionSetService,
	cache *ProgressCache,
	locker Locker,
	events *EventPublisher,
	policy *config.AssessmentPolicy,
	rdb *redis.Client,
	grace time.Duration,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		sessions: sessions,
		progress: progress,
		sets:     sets,
		cache:    cache,
		locker:   locker,
		events:   events,
		policy:   policy,
		rdb:      rdb,
		grace:    grace,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("component", "session_service").Logger(),
	}
}

// NormalizeEmail is the canonical form used for progress keys.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Start creates a new active session. The caller's identity decides
// whether it is owned or anonymous.
func (s *SessionService) Start(ctx context.Context, caller engine.Caller, req *model.StartSessionRequest) (*model.StartSessionResponse, error) {
	set, err := s.sets.Get(ctx, req.QuestionSetID)
	if err != nil {
		return nil, err
	}

	mode := engine.ResolveStart(caller)
	policy := s.policy.Resolve(set.ID, req.Experience)
	now := s.now()

	sess := &model.Session{
		ID:                       uuid.NewString(),
		QuestionSetID:            set.ID,
		IdentityMode:             mode,
		CandidateName:            strings.TrimSpace(req.CandidateName),
		CandidateEmail:           NormalizeEmail(req.CandidateEmail),
		Experience:               req.Experience,
		StartedAt:                now,
		DurationSeconds:          policy.DurationSeconds,
		QuestionTimeLimitSeconds: policy.QuestionTimeLimitSeconds,
		PassingThreshold:         policy.PassingThreshold,
		Status:                   model.SessionStatusActive,
		Answers:                  map[string]string{},
		QuestionStatus:           map[string]model.QuestionStatus{},
		ExpiredQuestionIDs:       []string{},
		RemainingTimeSeconds:     policy.DurationSeconds,
		TotalQuestions:           len(set.Questions),
	}
	if mode == model.IdentityAuthenticated {
		sess.OwnerID = caller.UserID
	}

	if err := s.sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.schedule(ctx, sess)
	s.events.Emit(ctx, sess, model.EventSessionStarted, map[string]any{"identity_mode": mode})

	s.log.Info().
		Str("session_id", sess.ID).
		Str("question_set_id", set.ID).
		Str("identity_mode", string(mode)).
		Msg("Session started")

	payload := set.Payload()
	return &model.StartSessionResponse{
		SessionID:                sess.ID,
		QuestionSetID:            set.ID,
		Skill:                    set.Skill,
		Level:                    set.Level,
		IdentityMode:             mode,
		TotalQuestions:           len(set.Questions),
		StartedAt:                sess.StartedAt,
		ExpiresAt:                sess.Deadline(),
		DurationSeconds:          sess.DurationSeconds,
		QuestionTimeLimitSeconds: sess.QuestionTimeLimitSeconds,
		Questions:                payload.Questions,
	}, nil
}

// Submit grades a session exactly once. A retry against a completed
// session returns *engine.NotActiveError carrying the stored result.
func (s *SessionService) Submit(ctx context.Context, sub engine.Submission, answers []model.AnswerSubmit, contact Contact) (*model.SubmitResponse, error) {
	unlock, err := s.locker.Lock(ctx, sub.SessionID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	return s.submitLocked(ctx, sub, answers, contact)
}

// Expire runs the timeout path for a session whose deadline and submit
// grace have both passed: active, then expired, then completed through a
// forced submit. It is a no-op for completed sessions and sessions still
// within their budget or grace.
func (s *SessionService) Expire(ctx context.Context, sessionID string) error {
	unlock, err := s.locker.Lock(ctx, sessionID)
	if err != nil {
		return err
	}
	defer unlock()

	return s.expireLocked(ctx, sessionID)
}

func (s *SessionService) expireLocked(ctx context.Context, sessionID string) error {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status == model.SessionStatusCompleted {
		s.unschedule(ctx, sessionID)
		return nil
	}
	if !s.now().After(s.expiresAt(sess.Deadline())) {
		s.schedule(ctx, sess)
		return nil
	}

	if sess.Status == model.SessionStatusActive {
		moved, err := s.sessions.MarkExpired(ctx, sessionID)
		if err != nil {
			return fmt.Errorf("mark expired: %w", err)
		}
		if moved {
			sess.Status = model.SessionStatusExpired
			s.events.Emit(ctx, sess, model.EventSessionExpired, nil)
		}
	}

	_, err = s.submitLocked(ctx, engine.Timeout(sessionID), nil, Contact{})
	var na *engine.NotActiveError
	if errors.As(err, &na) && na.Completed() {
		return nil
	}
	return err
}

func (s *SessionService) submitLocked(ctx context.Context, sub engine.Submission, submitted []model.AnswerSubmit, contact Contact) (*model.SubmitResponse, error) {
	sess, err := s.load(ctx, sub.SessionID)
	if err != nil {
		return nil, err
	}
	if err := sub.Authorize(sess); err != nil {
		return nil, err
	}
	if sess.Status == model.SessionStatusCompleted {
		return nil, notActive(sess)
	}

	set, err := s.sets.Get(ctx, sess.QuestionSetID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	stored, err := s.latestProgress(ctx, sess)
	if err != nil {
		return nil, err
	}

	// Past the grace window, or once the timer has already fired, only
	// what was stored in time counts.
	lateOrExpired := sess.Status == model.SessionStatusExpired ||
		sub.Mode() == model.SubmitModeTimeout ||
		now.After(s.expiresAt(sess.Deadline()))

	var answers map[string]string
	switch {
	case lateOrExpired, sub.Forced() && len(submitted) == 0:
		var dropped error
		answers, dropped = engine.FilterAnswerMap(set, stored.Answers)
		if dropped != nil {
			s.log.Warn().Err(dropped).Str("session_id", sess.ID).Msg("Stored answers dropped from grading")
		}
	default:
		answers, err = engine.NormalizeAnswers(set, submitted)
		if err != nil {
			return nil, err
		}
	}
	if answers == nil {
		answers = map[string]string{}
	}

	name := firstNonEmpty(strings.TrimSpace(contact.Name), sess.CandidateName)
	email := firstNonEmpty(NormalizeEmail(contact.Email), sess.CandidateEmail)
	if sess.IdentityMode == model.IdentityAnonymous && !sub.Forced() && !lateOrExpired && email == "" {
		return nil, engine.ErrContactRequired
	}

	expired := make(map[string]struct{})
	for _, id := range stored.ExpiredQuestionIDs {
		expired[id] = struct{}{}
	}
	for _, id := range sess.ExpiredQuestionIDs {
		expired[id] = struct{}{}
	}
	expiredIDs := make([]string, 0, len(expired))
	for _, q := range set.Questions {
		if _, ok := expired[q.ID]; ok {
			expiredIDs = append(expiredIDs, q.ID)
			delete(answers, q.ID)
		}
	}

	result, _ := engine.Grade(set, answers, expiredIDs, sess.PassingThreshold, now)

	final := *sess
	final.Status = model.SessionStatusCompleted
	final.Answers = answers
	final.QuestionStatus = engine.BuildQuestionStatus(set, answers, expired, stored.QuestionStatus)
	final.ExpiredQuestionIDs = expiredIDs
	final.RemainingTimeSeconds = sess.RemainingAt(now)
	final.CompletedAt = &now
	final.SubmitMode = sub.Mode()
	final.CandidateName = name
	final.CandidateEmail = email
	final.Score = &result

	won, err := s.sessions.Complete(ctx, &final)
	if err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	if !won {
		// Another writer finalized it first; its result is the only one.
		current, err := s.load(ctx, sess.ID)
		if err != nil {
			return nil, err
		}
		return nil, notActive(current)
	}

	s.afterComplete(ctx, &final, stored.ProgressKey)

	s.log.Info().
		Str("session_id", final.ID).
		Str("question_set_id", final.QuestionSetID).
		Str("submit_mode", string(final.SubmitMode)).
		Float64("score", result.ScorePercentage).
		Msg("Session graded")

	return &model.SubmitResponse{
		SessionID:  final.ID,
		SubmitMode: final.SubmitMode,
		Result:     result,
	}, nil
}

// afterComplete retires the session's progress and schedule. Failures
// only leave stale helpers behind; the completed row is authoritative.
func (s *SessionService) afterComplete(ctx context.Context, sess *model.Session, progressKey string) {
	if err := s.progress.MarkSessionComplete(ctx, sess.ID, *sess.CompletedAt); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("Mark progress complete failed")
	}
	if err := s.cache.Drop(ctx, sess.ID, progressKey); err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("Drop progress cache failed")
	}
	s.unschedule(ctx, sess.ID)
	s.events.Emit(ctx, sess, model.EventSessionSubmitted, sess.Score)
}

// latestProgress returns the freshest stored state of a session: the hot
// copy, then the durable snapshot, then the session row itself.
func (s *SessionService) latestProgress(ctx context.Context, sess *model.Session) (model.ProgressSnapshot, error) {
	hot, err := s.cache.BySession(ctx, sess.ID)
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("Progress cache read failed")
	}
	if hot != nil {
		return *hot, nil
	}

	durable, err := s.progress.GetBySession(ctx, sess.ID)
	switch {
	case err == nil:
		return *durable, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return model.ProgressSnapshot{}, fmt.Errorf("load progress: %w", err)
	}

	snap := engine.InitialSnapshot(sess, "")
	if len(sess.Answers) > 0 {
		snap.Answers = sess.Answers
	}
	if len(sess.QuestionStatus) > 0 {
		snap.QuestionStatus = sess.QuestionStatus
	}
	return snap, nil
}

// GetResults returns the detailed breakdown of a completed session.
func (s *SessionService) GetResults(ctx context.Context, caller engine.Caller, sessionID string) (*model.DetailedResult, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !engine.CanRead(caller, sess) {
		return nil, engine.ErrIdentityMismatch
	}
	if sess.Status != model.SessionStatusCompleted || sess.Score == nil {
		return nil, engine.ErrResultsNotReady
	}

	set, err := s.sets.Get(ctx, sess.QuestionSetID)
	if err != nil {
		return nil, err
	}
	_, breakdown := engine.Grade(set, sess.Answers, sess.ExpiredQuestionIDs, sess.PassingThreshold, *sess.CompletedAt)

	return &model.DetailedResult{
		SessionID:     sess.ID,
		QuestionSetID: sess.QuestionSetID,
		Skill:         set.Skill,
		Level:         set.Level,
		StartedAt:     sess.StartedAt,
		TimeTakenSecs: int(sess.CompletedAt.Sub(sess.StartedAt) / time.Second),
		SubmitMode:    sess.SubmitMode,
		Score:         *sess.Score,
		Questions:     breakdown,
	}, nil
}

// GetState reports status and server-clocked remaining time.
func (s *SessionService) GetState(ctx context.Context, caller engine.Caller, sessionID string) (*model.SessionState, error) {
	sess, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !engine.CanRead(caller, sess) {
		return nil, engine.ErrIdentityMismatch
	}

	answered := len(sess.Answers)
	if sess.Status != model.SessionStatusCompleted {
		if snap, _ := s.cache.BySession(ctx, sess.ID); snap != nil {
			answered = len(snap.Answers)
		}
	}

	remaining := 0
	if sess.Status == model.SessionStatusActive {
		remaining = sess.RemainingAt(s.now())
	}

	return &model.SessionState{
		SessionID:            sess.ID,
		QuestionSetID:        sess.QuestionSetID,
		Status:               sess.Status,
		RemainingTimeSeconds: remaining,
		ExpiresAt:            sess.Deadline(),
		Answered:             answered,
		TotalQuestions:       sess.TotalQuestions,
	}, nil
}

// ListSessions pages through sessions visible in the requested scope.
func (s *SessionService) ListSessions(ctx context.Context, caller engine.Caller, q model.ListSessionsQuery) ([]model.SessionSummary, *response.Pagination, error) {
	if caller.Anonymous() {
		return nil, nil, ErrForbiddenScope
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	skip := q.Skip
	if skip < 0 {
		skip = 0
	}

	f := model.SessionFilter{
		Status: model.SessionStatus(q.Status),
		Skip:   skip,
		Limit:  limit,
	}
	switch q.Scope {
	case "", "mine":
		f.OwnerID = caller.UserID
		f.QuestionSetID = q.QuestionSetID
	case "assessment":
		if !caller.IsAdmin() || q.QuestionSetID == "" {
			return nil, nil, ErrForbiddenScope
		}
		f.QuestionSetID = q.QuestionSetID
	case "all":
		if !caller.IsAdmin() {
			return nil, nil, ErrForbiddenScope
		}
	default:
		return nil, nil, ErrForbiddenScope
	}

	items, total, err := s.sessions.List(ctx, f)
	if err != nil {
		return nil, nil, fmt.Errorf("list sessions: %w", err)
	}

	return items, &response.Pagination{Skip: skip, Limit: limit, TotalItems: total}, nil
}

// ReseedSchedule rebuilds the deadline schedule from the database.
func (s *SessionService) ReseedSchedule(ctx context.Context) (int, error) {
	pending, err := s.sessions.ListUnfinished(ctx)
	if err != nil {
		return 0, fmt.Errorf("list unfinished sessions: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	members := make([]redis.Z, 0, len(pending))
	for id, deadline := range pending {
		members = append(members, redis.Z{Score: float64(s.expiresAt(deadline).Unix()), Member: id})
	}
	if err := s.rdb.ZAdd(ctx, config.CacheKey.SessionDeadlinesKey(), members...).Err(); err != nil {
		return 0, fmt.Errorf("seed deadlines: %w", err)
	}
	return len(members), nil
}

func (s *SessionService) load(ctx context.Context, id string) (*model.Session, error) {
	sess, err := s.sessions.GetByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

func (s *SessionService) schedule(ctx context.Context, sess *model.Session) {
	err := s.rdb.ZAdd(ctx, config.CacheKey.SessionDeadlinesKey(), redis.Z{
		Score:  float64(s.expiresAt(sess.Deadline()).Unix()),
		Member: sess.ID,
	}).Err()
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID).Msg("Schedule deadline failed")
	}
}

// expiresAt is when the server stops waiting for a client submit.
func (s *SessionService) expiresAt(deadline time.Time) time.Time {
	return deadline.Add(s.grace)
}

func (s *SessionService) unschedule(ctx context.Context, sessionID string) {
	if err := s.rdb.ZRem(ctx, config.CacheKey.SessionDeadlinesKey(), sessionID).Err(); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("Unschedule deadline failed")
	}
}

func notActive(sess *model.Session) error {
	return &engine.NotActiveError{
		SessionID:  sess.ID,
		Status:     sess.Status,
		SubmitMode: sess.SubmitMode,
		Result:     sess.Score,
	}
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

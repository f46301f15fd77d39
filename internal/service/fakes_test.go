package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stretchr/testify/require"
)

// ─── In-memory stores ───────────────────────────────────────────────────────

type fakeSetStore struct {
	sets map[string]*model.QuestionSet
}

func (f *fakeSetStore) GetByID(_ context.Context, id string) (*model.QuestionSet, error) {
	set, ok := f.sets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return set, nil
}

func (f *fakeSetStore) ListIDs(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(f.sets))
	for id := range f.sets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

type fakeSessionStore struct {
	mu        sync.Mutex
	rows      map[string]model.Session
	completes int
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{rows: make(map[string]model.Session)}
}

func cloneSession(s model.Session) model.Session {
	answers := make(map[string]string, len(s.Answers))
	for k, v := range s.Answers {
		answers[k] = v
	}
	statuses := make(map[string]model.QuestionStatus, len(s.QuestionStatus))
	for k, v := range s.QuestionStatus {
		statuses[k] = v
	}
	s.Answers = answers
	s.QuestionStatus = statuses
	s.ExpiredQuestionIDs = append([]string(nil), s.ExpiredQuestionIDs...)
	if s.QuestionElapsedSeconds != nil {
		elapsed := make(map[string]int, len(s.QuestionElapsedSeconds))
		for k, v := range s.QuestionElapsedSeconds {
			elapsed[k] = v
		}
		s.QuestionElapsedSeconds = elapsed
	}
	if s.LastSavedAt != nil {
		at := *s.LastSavedAt
		s.LastSavedAt = &at
	}
	if s.Score != nil {
		score := *s.Score
		s.Score = &score
	}
	return s
}

func (f *fakeSessionStore) Create(_ context.Context, s *model.Session) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[s.ID] = cloneSession(*s)
	return nil
}

func (f *fakeSessionStore) GetByID(_ context.Context, id string) (*model.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	out := cloneSession(s)
	return &out, nil
}

func (f *fakeSessionStore) MarkExpired(_ context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok || s.Status != model.SessionStatusActive {
		return false, nil
	}
	s.Status = model.SessionStatusExpired
	s.RemainingTimeSeconds = 0
	f.rows[id] = s
	return true, nil
}

func (f *fakeSessionStore) Complete(_ context.Context, s *model.Session) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.rows[s.ID]
	if !ok || cur.Status == model.SessionStatusCompleted {
		return false, nil
	}
	f.rows[s.ID] = cloneSession(*s)
	f.completes++
	return true, nil
}

func (f *fakeSessionStore) List(_ context.Context, filter model.SessionFilter) ([]model.SessionSummary, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.SessionSummary
	for _, s := range f.rows {
		if filter.OwnerID != nil && (s.OwnerID == nil || *s.OwnerID != *filter.OwnerID) {
			continue
		}
		if filter.QuestionSetID != "" && s.QuestionSetID != filter.QuestionSetID {
			continue
		}
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		out = append(out, model.SessionSummary{
			SessionID:     s.ID,
			QuestionSetID: s.QuestionSetID,
			IdentityMode:  s.IdentityMode,
			Status:        s.Status,
			StartedAt:     s.StartedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	total := len(out)
	if filter.Skip >= len(out) {
		return []model.SessionSummary{}, total, nil
	}
	out = out[filter.Skip:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

func (f *fakeSessionStore) ListUnfinished(_ context.Context) (map[string]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]time.Time)
	for id, s := range f.rows {
		if s.Status != model.SessionStatusCompleted {
			out[id] = s.Deadline()
		}
	}
	return out, nil
}

func (f *fakeSessionStore) ResetProgress(_ context.Context, id string, timing model.SessionTiming) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	if !ok || s.Status == model.SessionStatusCompleted {
		return nil
	}
	expired := make(map[string]struct{})
	for _, q := range s.ExpiredQuestionIDs {
		expired[q] = struct{}{}
	}
	for _, q := range timing.ExpiredQuestionIDs {
		expired[q] = struct{}{}
	}
	s.ExpiredQuestionIDs = s.ExpiredQuestionIDs[:0]
	for q := range expired {
		s.ExpiredQuestionIDs = append(s.ExpiredQuestionIDs, q)
	}
	sort.Strings(s.ExpiredQuestionIDs)

	s.Answers = map[string]string{}
	s.QuestionStatus = map[string]model.QuestionStatus{}
	s.CurrentQuestionIndex = timing.CurrentQuestionIndex
	s.QuestionElapsedSeconds = timing.QuestionElapsedSeconds
	if s.LastSavedAt == nil || timing.LastSavedAt.After(*s.LastSavedAt) {
		at := timing.LastSavedAt
		s.LastSavedAt = &at
	}
	f.rows[id] = cloneSession(s)
	return nil
}

func (f *fakeSessionStore) get(t *testing.T, id string) model.Session {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.rows[id]
	require.True(t, ok, "session %s not stored", id)
	return cloneSession(s)
}

type fakeProgressStore struct {
	mu   sync.Mutex
	rows map[string]model.ProgressSnapshot
}

func newFakeProgressStore() *fakeProgressStore {
	return &fakeProgressStore{rows: make(map[string]model.ProgressSnapshot)}
}

func (f *fakeProgressStore) put(snap model.ProgressSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows[snap.ProgressKey] = snap
}

func (f *fakeProgressStore) Get(_ context.Context, key string) (*model.ProgressSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.rows[key]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &snap, nil
}

func (f *fakeProgressStore) GetBySession(_ context.Context, sessionID string) (*model.ProgressSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, snap := range f.rows {
		if snap.SessionID == sessionID {
			return &snap, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeProgressStore) Delete(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.rows[key]
	delete(f.rows, key)
	return ok, nil
}

func (f *fakeProgressStore) MarkComplete(_ context.Context, key string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.rows[key]
	if !ok {
		return false, nil
	}
	snap.IsCompleted = true
	snap.LastSavedAt = at
	f.rows[key] = snap
	return true, nil
}

func (f *fakeProgressStore) MarkSessionComplete(_ context.Context, sessionID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, snap := range f.rows {
		if snap.SessionID == sessionID {
			snap.IsCompleted = true
			snap.LastSavedAt = at
			f.rows[key] = snap
		}
	}
	return nil
}

// ─── Harness ────────────────────────────────────────────────────────────────

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func intPtr(v int) *int { return &v }

func threeMCQ() *model.QuestionSet {
	opts := map[string]string{"A": "one", "B": "two", "C": "three", "D": "four"}
	return &model.QuestionSet{
		ID:             "qs-1",
		Skill:          "go",
		Level:          "junior",
		TotalQuestions: 3,
		Questions: []model.Question{
			{ID: "q1", Position: 1, Text: "first", Type: model.QuestionTypeMCQ, Options: opts, CorrectAnswer: "A"},
			{ID: "q2", Position: 2, Text: "second", Type: model.QuestionTypeMCQ, Options: opts, CorrectAnswer: "B"},
			{ID: "q3", Position: 3, Text: "third", Type: model.QuestionTypeMCQ, Options: opts, CorrectAnswer: "C"},
		},
	}
}

const testPolicy = `
defaults:
  duration_seconds: 600
  passing_threshold: 60
question_sets:
  qs-1:
    question_time_limit_seconds: 60
`

type harness struct {
	mr       *miniredis.Miniredis
	sessions *fakeSessionStore
	progress *fakeProgressStore
	svc      *SessionService
	prog     *ProgressService
	cache    *ProgressCache
	now      time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr, rdb := newTestRedis(t)

	policy, err := config.ParseAssessmentPolicy([]byte(testPolicy))
	require.NoError(t, err)

	log := zerolog.Nop()
	h := &harness{
		mr:       mr,
		sessions: newFakeSessionStore(),
		progress: newFakeProgressStore(),
		now:      t0,
	}
	sets := NewQuestionSetService(&fakeSetStore{sets: map[string]*model.QuestionSet{"qs-1": threeMCQ()}}, rdb, log)
	h.cache = NewProgressCache(rdb, time.Hour)
	events := NewEventPublisher(rdb, log)
	locker := NewRedisLocker(rdb, 5*time.Second, 2*time.Second)

	h.svc = NewSessionService(h.sessions, h.progress, sets, h.cache, locker, events, policy, rdb, 30*time.Second, log)
	h.svc.now = func() time.Time { return h.now }
	h.prog = NewProgressService(h.svc, h.progress, h.cache, events, log)
	return h
}

func (h *harness) advance(d time.Duration) { h.now = h.now.Add(d) }

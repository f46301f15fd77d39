package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/config"
	"github.com/stemsi/exstem-assessment/internal/engine"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	requeueBackoff = 0
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// ─── Expiry ─────────────────────────────────────────────────────────────────

type fakeExpirer struct {
	mu      sync.Mutex
	expired []string
	errs    map[string]error
}

func (f *fakeExpirer) Expire(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[id]; err != nil {
		return err
	}
	f.expired = append(f.expired, id)
	return nil
}

func (f *fakeExpirer) ReseedSchedule(context.Context) (int, error) { return 0, nil }

func TestExpiryWorker_Sweep(t *testing.T) {
	mr, rdb := newTestRedis(t)
	key := config.CacheKey.SessionDeadlinesKey()

	_, _ = mr.ZAdd(key, float64(t0.Add(-time.Minute).Unix()), "due")
	_, _ = mr.ZAdd(key, float64(t0.Unix()), "due-now")
	_, _ = mr.ZAdd(key, float64(t0.Add(-time.Second).Unix()), "busy")
	_, _ = mr.ZAdd(key, float64(t0.Add(-time.Second).Unix()), "gone")
	_, _ = mr.ZAdd(key, float64(t0.Add(time.Minute).Unix()), "later")

	exp := &fakeExpirer{errs: map[string]error{
		"busy": service.ErrSessionBusy,
		"gone": engine.ErrSessionNotFound,
	}}
	w := NewExpiryWorker(exp, rdb, time.Second, zerolog.Nop())
	w.now = func() time.Time { return t0 }

	handled := w.sweep(context.Background())
	assert.Equal(t, 2, handled)
	assert.ElementsMatch(t, []string{"due", "due-now"}, exp.expired)

	members, err := mr.ZMembers(key)
	require.NoError(t, err)
	assert.NotContains(t, members, "gone")
	assert.Contains(t, members, "busy")
	assert.Contains(t, members, "later")
}

// ─── Progress ───────────────────────────────────────────────────────────────

type fakeProgressWriter struct {
	mu       sync.Mutex
	batchErr error
	failKeys map[string]bool
	batches  [][]model.ProgressSnapshot
	singles  []model.ProgressSnapshot
}

func (f *fakeProgressWriter) UpsertBatch(_ context.Context, snaps []model.ProgressSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.batchErr != nil {
		return f.batchErr
	}
	f.batches = append(f.batches, append([]model.ProgressSnapshot(nil), snaps...))
	return nil
}

func (f *fakeProgressWriter) Upsert(_ context.Context, snap model.ProgressSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failKeys[snap.ProgressKey] {
		return errors.New("connection reset")
	}
	f.singles = append(f.singles, snap)
	return nil
}

func snapshot(key string, at time.Time, answers map[string]string) model.ProgressSnapshot {
	return model.ProgressSnapshot{
		ProgressKey:   key,
		SessionID:     "s-" + key,
		QuestionSetID: "qs-1",
		Answers:       answers,
		LastSavedAt:   at,
	}
}

func TestProgressWorker_KeepsLatestLiveSnapshot(t *testing.T) {
	_, rdb := newTestRedis(t)
	cache := service.NewProgressCache(rdb, time.Hour)
	store := &fakeProgressWriter{}
	w := NewProgressWorker(store, cache, rdb, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, cache.Tombstone(ctx, "deleted", t0.Add(5*time.Second)))

	w.flushSafe(ctx, []model.ProgressSnapshot{
		snapshot("a", t0.Add(2*time.Second), map[string]string{"q1": "B"}),
		snapshot("a", t0.Add(1*time.Second), map[string]string{"q1": "A"}),
		snapshot("deleted", t0.Add(4*time.Second), nil),
		snapshot("b", t0, nil),
	})

	require.Len(t, store.batches, 1)
	got := store.batches[0]
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ProgressKey)
	assert.Equal(t, "B", got[0].Answers["q1"])
	assert.Equal(t, "b", got[1].ProgressKey)
}

func TestProgressWorker_FallbackAndRequeue(t *testing.T) {
	mr, rdb := newTestRedis(t)
	cache := service.NewProgressCache(rdb, time.Hour)
	store := &fakeProgressWriter{
		batchErr: errors.New("batch aborted"),
		failKeys: map[string]bool{"bad": true},
	}
	w := NewProgressWorker(store, cache, rdb, zerolog.Nop())

	w.flushSafe(context.Background(), []model.ProgressSnapshot{
		snapshot("good", t0, nil),
		snapshot("bad", t0, nil),
	})

	require.Len(t, store.singles, 1)
	assert.Equal(t, "good", store.singles[0].ProgressKey)

	queued, err := mr.List(config.WorkerKey.PersistProgressQueue)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	snap, err := service.DecodeProgress([]byte(queued[0]))
	require.NoError(t, err)
	assert.Equal(t, "bad", snap.ProgressKey)
}

func TestProgressWorker_DrainsOnShutdown(t *testing.T) {
	_, rdb := newTestRedis(t)
	cache := service.NewProgressCache(rdb, time.Hour)
	store := &fakeProgressWriter{}
	w := NewProgressWorker(store, cache, rdb, zerolog.Nop())

	require.NoError(t, cache.Enqueue(context.Background(), snapshot("a", t0, nil)))
	require.NoError(t, cache.Enqueue(context.Background(), snapshot("b", t0, nil)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w.Start(ctx)

	store.mu.Lock()
	defer store.mu.Unlock()
	total := 0
	for _, b := range store.batches {
		total += len(b)
	}
	assert.Equal(t, 2, total)
}

// ─── Events ─────────────────────────────────────────────────────────────────

type fakeEventWriter struct {
	batchErr error
	rows     []model.SessionEvent
}

func (f *fakeEventWriter) InsertBatch(_ context.Context, events []model.SessionEvent) error {
	if f.batchErr != nil {
		return f.batchErr
	}
	f.rows = append(f.rows, events...)
	return nil
}

func (f *fakeEventWriter) Insert(_ context.Context, e model.SessionEvent) error {
	if e.Type == "" {
		return errors.New("null value in column event_type")
	}
	f.rows = append(f.rows, e)
	return nil
}

func TestEventWorker_FlushSafe(t *testing.T) {
	mr, rdb := newTestRedis(t)
	store := &fakeEventWriter{batchErr: errors.New("copy failed")}
	w := NewEventWorker(store, rdb, zerolog.Nop())

	w.flushSafe(context.Background(), []model.SessionEvent{
		{SessionID: "s1", QuestionSetID: "qs-1", Type: model.EventSessionStarted, CreatedAt: t0},
		{SessionID: "s2", QuestionSetID: "qs-1", CreatedAt: t0},
	})

	require.Len(t, store.rows, 1)
	assert.Equal(t, "s1", store.rows[0].SessionID)

	queued, err := mr.List(config.WorkerKey.PersistEventsQueue)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	var e model.SessionEvent
	require.NoError(t, json.Unmarshal([]byte(queued[0]), &e))
	assert.Equal(t, "s2", e.SessionID)
}

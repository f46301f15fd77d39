package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noProgress is a durable store that has never seen a snapshot.
type noProgress struct{}

func (noProgress) Get(context.Context, string) (*model.ProgressSnapshot, error) {
	return nil, pgx.ErrNoRows
}

func (noProgress) GetBySession(context.Context, string) (*model.ProgressSnapshot, error) {
	return nil, pgx.ErrNoRows
}

func (noProgress) Delete(context.Context, string) (bool, error) { return false, nil }

func (noProgress) MarkComplete(context.Context, string, time.Time) (bool, error) { return false, nil }

func (noProgress) MarkSessionComplete(context.Context, string, time.Time) error { return nil }

func TestLoadProgress_NothingSaved(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	progressService := service.NewProgressService(nil, noProgress{}, service.NewProgressCache(rdb, time.Hour), nil, zerolog.Nop())
	h := NewProgressHandler(progressService, zerolog.Nop())

	r := gin.New()
	r.GET("/progress/load/:email", h.LoadPublicProgress)
	r.GET("/sessions/:session_id/progress", h.LoadSessionProgress)

	tests := []struct {
		name string
		path string
	}{
		{"by email", "/progress/load/ada@example.com"},
		{"by session", "/sessions/3f1c2a9e-8c1d-4a51-9a55-2f0f6b1e7c11/progress"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))

			require.Equal(t, http.StatusOK, w.Code)
			body := decode(t, w)
			assert.Nil(t, body.Error)
			assert.Nil(t, body.Data)
		})
	}
}

package service

import (
	"context"
	"time"

	"github.com/stemsi/exstem-assessment/internal/model"
)

// QuestionSetStore is the read side of question set persistence.
type QuestionSetStore interface {
	GetByID(ctx context.Context, id string) (*model.QuestionSet, error)
	ListIDs(ctx context.Context) ([]string, error)
}

// SessionStore is the durable, keyed store of sessions. Complete and
// MarkExpired are compare-and-swap on status.
type SessionStore interface {
	Create(ctx context.Context, s *model.Session) error
	GetByID(ctx context.Context, id string) (*model.Session, error)
	MarkExpired(ctx context.Context, id string) (bool, error)
	Complete(ctx context.Context, s *model.Session) (bool, error)
	List(ctx context.Context, f model.SessionFilter) ([]model.SessionSummary, int, error)
	ListUnfinished(ctx context.Context) (map[string]time.Time, error)
	ResetProgress(ctx context.Context, id string, t model.SessionTiming) error
}

// ProgressStore is the durable copy of progress snapshots.
type ProgressStore interface {
	Get(ctx context.Context, progressKey string) (*model.ProgressSnapshot, error)
	GetBySession(ctx context.Context, sessionID string) (*model.ProgressSnapshot, error)
	Delete(ctx context.Context, progressKey string) (bool, error)
	MarkComplete(ctx context.Context, progressKey string, at time.Time) (bool, error)
	MarkSessionComplete(ctx context.Context, sessionID string, at time.Time) error
}

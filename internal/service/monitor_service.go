package service

import (
	"context"
	"sync"

	"github.com/stemsi/exstem-assessment/internal/model"
)

// MonitorStore is the aggregate read side used by the live monitor.
type MonitorStore interface {
	StatusCounts(ctx context.Context, questionSetID string) (*model.MonitorStats, error)
	AnsweredCounts(ctx context.Context, questionSetID string) (map[string]int, error)
}

// EventLog is the durable session event history.
type EventLog interface {
	ListRecent(ctx context.Context, questionSetID string, limit int) ([]model.SessionEvent, error)
}

const recentEventLimit = 50

// MonitorService builds live monitor snapshots for administrators.
type MonitorService struct {
	sets    *QuestionSetService
	monitor MonitorStore
	events  EventLog
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(sets *QuestionSetService, monitor MonitorStore, events EventLog) *MonitorService {
	return &MonitorService{sets: sets, monitor: monitor, events: events}
}

// Snapshot gathers counts, answered totals and recent events in parallel.
// Counts are required; the other two are best-effort.
func (s *MonitorService) Snapshot(ctx context.Context, questionSetID string) (*model.MonitorSnapshot, error) {
	set, err := s.sets.Get(ctx, questionSetID)
	if err != nil {
		return nil, err
	}

	var (
		stats    *model.MonitorStats
		answered map[string]int
		recent   []model.SessionEvent
		statsErr error
		wg       sync.WaitGroup
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		stats, statsErr = s.monitor.StatusCounts(ctx, questionSetID)
	}()
	go func() {
		defer wg.Done()
		answered, _ = s.monitor.AnsweredCounts(ctx, questionSetID)
	}()
	go func() {
		defer wg.Done()
		recent, _ = s.events.ListRecent(ctx, questionSetID, recentEventLimit)
	}()
	wg.Wait()

	if statsErr != nil {
		return nil, statsErr
	}
	if answered == nil {
		answered = map[string]int{}
	}
	if recent == nil {
		recent = []model.SessionEvent{}
	}

	return &model.MonitorSnapshot{
		QuestionSetID:  set.ID,
		Skill:          set.Skill,
		Level:          set.Level,
		TotalQuestions: len(set.Questions),
		Stats:          *stats,
		AnsweredCounts: answered,
		RecentEvents:   recent,
	}, nil
}

// Refresh returns only the counts, for the periodic monitor update.
func (s *MonitorService) Refresh(ctx context.Context, questionSetID string) (*model.MonitorStats, map[string]int, error) {
	stats, err := s.monitor.StatusCounts(ctx, questionSetID)
	if err != nil {
		return nil, nil, err
	}
	answered, err := s.monitor.AnsweredCounts(ctx, questionSetID)
	if err != nil {
		answered = map[string]int{}
	}
	return stats, answered, nil
}

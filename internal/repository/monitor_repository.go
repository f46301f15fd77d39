package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// MonitorRepository provides the aggregate reads behind the live monitor.
type MonitorRepository struct {
	pool *pgxpool.Pool
}

// NewMonitorRepository creates a new MonitorRepository.
func NewMonitorRepository(pool *pgxpool.Pool) *MonitorRepository {
	return &MonitorRepository{pool: pool}
}

// StatusCounts returns the number of sessions per status for a question
// set, and the mean score of the completed ones.
func (r *MonitorRepository) StatusCounts(ctx context.Context, questionSetID string) (*model.MonitorStats, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT status, COUNT(*), AVG(score_percentage), COUNT(*) FILTER (WHERE passed)
		 FROM assessment_sessions
		 WHERE question_set_id = $1
		 GROUP BY status`,
		questionSetID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &model.MonitorStats{}
	for rows.Next() {
		var (
			status model.SessionStatus
			count  int
			avg    *float64
			passed int
		)
		if err := rows.Scan(&status, &count, &avg, &passed); err != nil {
			return nil, err
		}
		switch status {
		case model.SessionStatusActive:
			stats.Active = count
		case model.SessionStatusExpired:
			stats.Expired = count
		case model.SessionStatusCompleted:
			stats.Completed = count
			stats.Passed = passed
			stats.AverageScore = avg
		}
	}
	stats.Total = stats.Active + stats.Expired + stats.Completed
	return stats, rows.Err()
}

// AnsweredCounts returns, for every unfinished session of a question set,
// how many answers its durable progress holds.
func (r *MonitorRepository) AnsweredCounts(ctx context.Context, questionSetID string) (map[string]int, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.session_id, (SELECT COUNT(*) FROM jsonb_object_keys(p.answers))
		 FROM assessment_progress p
		 JOIN assessment_sessions s ON s.id = p.session_id
		 WHERE s.question_set_id = $1 AND s.status <> 'completed'`,
		questionSetID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int)
	for rows.Next() {
		var (
			sessionID string
			count     int
		)
		if err := rows.Scan(&sessionID, &count); err != nil {
			return nil, err
		}
		result[sessionID] = count
	}
	return result, rows.Err()
}

package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// SessionRepository is the durable store of assessment sessions.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

const sessionColumns = `id, question_set_id, owner_id, identity_mode, candidate_name, candidate_email,
	experience, started_at, duration_seconds, question_time_limit_seconds, passing_threshold, status,
	answers, question_status, expired_question_ids, remaining_time_seconds, total_questions,
	completed_at, COALESCE(submit_mode, ''), correct_answers, wrong_answers, unanswered,
	score_percentage, passed, current_question_index, question_elapsed, last_saved_at`

func scanSession(row pgx.Row) (*model.Session, error) {
	var (
		s                         model.Session
		correct, wrong, unanswered *int
		pct                       *float64
		passed                    *bool
	)
	err := row.Scan(
		&s.ID, &s.QuestionSetID, &s.OwnerID, &s.IdentityMode, &s.CandidateName, &s.CandidateEmail,
		&s.Experience, &s.StartedAt, &s.DurationSeconds, &s.QuestionTimeLimitSeconds, &s.PassingThreshold, &s.Status,
		&s.Answers, &s.QuestionStatus, &s.ExpiredQuestionIDs, &s.RemainingTimeSeconds, &s.TotalQuestions,
		&s.CompletedAt, &s.SubmitMode, &correct, &wrong, &unanswered,
		&pct, &passed, &s.CurrentQuestionIndex, &s.QuestionElapsedSeconds, &s.LastSavedAt,
	)
	if err != nil {
		return nil, err
	}

	if s.Status == model.SessionStatusCompleted && s.CompletedAt != nil && pct != nil {
		s.Score = &model.ScoreResult{
			TotalQuestions:   s.TotalQuestions,
			CorrectAnswers:   deref(correct),
			WrongAnswers:     deref(wrong),
			Unanswered:       deref(unanswered),
			ScorePercentage:  *pct,
			PassingThreshold: s.PassingThreshold,
			Passed:           passed != nil && *passed,
			CompletedAt:      *s.CompletedAt,
		}
	}
	return &s, nil
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}

// Create inserts a new active session.
func (r *SessionRepository) Create(ctx context.Context, s *model.Session) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO assessment_sessions (
			id, question_set_id, owner_id, identity_mode, candidate_name, candidate_email, experience,
			started_at, duration_seconds, question_time_limit_seconds, passing_threshold, status,
			remaining_time_seconds, total_questions
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		s.ID, s.QuestionSetID, s.OwnerID, s.IdentityMode, s.CandidateName, s.CandidateEmail, s.Experience,
		s.StartedAt, s.DurationSeconds, s.QuestionTimeLimitSeconds, s.PassingThreshold, s.Status,
		s.RemainingTimeSeconds, s.TotalQuestions,
	)
	return err
}

// GetByID retrieves a session. Returns pgx.ErrNoRows if it does not exist.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*model.Session, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM assessment_sessions WHERE id = $1`, id))
}

// MarkExpired moves an active session to expired. Reports whether this
// call made the transition.
func (r *SessionRepository) MarkExpired(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE assessment_sessions SET status = 'expired', remaining_time_seconds = 0
		 WHERE id = $1 AND status = 'active'`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// Complete writes the final state of a session exactly once. It only
// succeeds from active or expired; the returned bool is false when
// another writer already completed it.
func (r *SessionRepository) Complete(ctx context.Context, s *model.Session) (bool, error) {
	if s.Score == nil || s.CompletedAt == nil {
		return false, fmt.Errorf("complete session %s: missing score", s.ID)
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE assessment_sessions
		 SET status = 'completed', answers = $2, question_status = $3, expired_question_ids = $4,
		     remaining_time_seconds = $5, completed_at = $6, submit_mode = $7,
		     candidate_name = $8, candidate_email = $9,
		     correct_answers = $10, wrong_answers = $11, unanswered = $12,
		     score_percentage = $13, passed = $14
		 WHERE id = $1 AND status IN ('active', 'expired')`,
		s.ID, s.Answers, s.QuestionStatus, s.ExpiredQuestionIDs,
		s.RemainingTimeSeconds, *s.CompletedAt, s.SubmitMode,
		s.CandidateName, s.CandidateEmail,
		s.Score.CorrectAnswers, s.Score.WrongAnswers, s.Score.Unanswered,
		s.Score.ScorePercentage, s.Score.Passed,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// mergeExpiredSQL unions the stored expired ids with $2. Expiries are
// never removed.
const mergeExpiredSQL = `(SELECT COALESCE(jsonb_agg(DISTINCT e ORDER BY e), '[]'::jsonb)
	FROM jsonb_array_elements_text(assessment_sessions.expired_question_ids || $2::jsonb) AS e
	WHERE e IS NOT NULL)`

// ResetProgress clears the answers mirrored on a session after its
// progress was deleted, keeping the clocks of the deleted snapshot.
func (r *SessionRepository) ResetProgress(ctx context.Context, id string, t model.SessionTiming) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE assessment_sessions
		 SET answers = '{}', question_status = '{}',
		     expired_question_ids = `+mergeExpiredSQL+`,
		     question_elapsed = $3, current_question_index = $4,
		     last_saved_at = GREATEST(COALESCE(last_saved_at, $5), $5)
		 WHERE id = $1 AND status <> 'completed'`,
		id, t.ExpiredQuestionIDs, t.QuestionElapsedSeconds, t.CurrentQuestionIndex, t.LastSavedAt,
	)
	return err
}

// List returns one page of session summaries and the total match count.
func (r *SessionRepository) List(ctx context.Context, f model.SessionFilter) ([]model.SessionSummary, int, error) {
	where := ` FROM assessment_sessions WHERE 1=1`
	var args []any

	if f.OwnerID != nil {
		args = append(args, *f.OwnerID)
		where += fmt.Sprintf(" AND owner_id = $%d", len(args))
	}
	if f.QuestionSetID != "" {
		args = append(args, f.QuestionSetID)
		where += fmt.Sprintf(" AND question_set_id = $%d", len(args))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status = $%d", len(args))
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*)"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT id, question_set_id, identity_mode, candidate_name, candidate_email, status,
	                 started_at, completed_at, total_questions, score_percentage, passed` + where +
		fmt.Sprintf(" ORDER BY started_at DESC, id ASC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, f.Limit, f.Skip)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]model.SessionSummary, 0, f.Limit)
	for rows.Next() {
		var s model.SessionSummary
		if err := rows.Scan(&s.SessionID, &s.QuestionSetID, &s.IdentityMode, &s.CandidateName, &s.CandidateEmail,
			&s.Status, &s.StartedAt, &s.CompletedAt, &s.TotalQuestions, &s.ScorePercentage, &s.Passed); err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}

// ListUnfinished returns the id and deadline of every session not yet
// completed, for reseeding the expiry schedule.
func (r *SessionRepository) ListUnfinished(ctx context.Context) (map[string]time.Time, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, started_at + make_interval(secs => duration_seconds)
		 FROM assessment_sessions
		 WHERE status <> 'completed'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			id       string
			deadline time.Time
		)
		if err := rows.Scan(&id, &deadline); err != nil {
			return nil, err
		}
		out[id] = deadline
	}
	return out, rows.Err()
}

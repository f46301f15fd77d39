package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// ProgressRepository is the durable copy of progress snapshots. The hot
// copy lives in Redis; this table is written by the progress worker.
type ProgressRepository struct {
	pool *pgxpool.Pool
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(pool *pgxpool.Pool) *ProgressRepository {
	return &ProgressRepository{pool: pool}
}

const progressColumns = `progress_key, session_id, question_set_id, candidate_email, candidate_name,
	current_question_index, answers, question_status, expired_question_ids, question_elapsed,
	remaining_time_seconds, initial_duration_seconds, total_questions, is_completed, last_saved_at`

func scanProgress(row pgx.Row) (*model.ProgressSnapshot, error) {
	var p model.ProgressSnapshot
	err := row.Scan(
		&p.ProgressKey, &p.SessionID, &p.QuestionSetID, &p.CandidateEmail, &p.CandidateName,
		&p.CurrentQuestionIndex, &p.Answers, &p.QuestionStatus, &p.ExpiredQuestionIDs, &p.QuestionElapsedSeconds,
		&p.RemainingTimeSeconds, &p.InitialDurationSeconds, &p.TotalQuestions, &p.IsCompleted, &p.LastSavedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Get retrieves the snapshot for a progress key. Returns pgx.ErrNoRows if none.
func (r *ProgressRepository) Get(ctx context.Context, progressKey string) (*model.ProgressSnapshot, error) {
	return scanProgress(r.pool.QueryRow(ctx,
		`SELECT `+progressColumns+` FROM assessment_progress WHERE progress_key = $1`, progressKey))
}

// GetBySession retrieves the latest snapshot written for a session.
func (r *ProgressRepository) GetBySession(ctx context.Context, sessionID string) (*model.ProgressSnapshot, error) {
	return scanProgress(r.pool.QueryRow(ctx,
		`SELECT `+progressColumns+` FROM assessment_progress
		 WHERE session_id = $1
		 ORDER BY last_saved_at DESC LIMIT 1`, sessionID))
}

// Delete removes a snapshot. Reports whether a row existed.
func (r *ProgressRepository) Delete(ctx context.Context, progressKey string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM assessment_progress WHERE progress_key = $1`, progressKey)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkComplete flags a snapshot as terminal without touching its content.
func (r *ProgressRepository) MarkComplete(ctx context.Context, progressKey string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE assessment_progress SET is_completed = TRUE, last_saved_at = $2
		 WHERE progress_key = $1`, progressKey, at)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkSessionComplete flags every snapshot of a session as terminal.
func (r *ProgressRepository) MarkSessionComplete(ctx context.Context, sessionID string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE assessment_progress SET is_completed = TRUE, last_saved_at = GREATEST(last_saved_at, $2)
		 WHERE session_id = $1 AND NOT is_completed`, sessionID, at)
	return err
}

// upsertProgressSQL only writes while the owning session is active, never
// overwrites a completed snapshot of the same session, and never lets an
// older snapshot replace a newer one.
const upsertProgressSQL = `
	INSERT INTO assessment_progress (` + progressColumns + `)
	SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
	WHERE EXISTS (SELECT 1 FROM assessment_sessions WHERE id = $2 AND status = 'active')
	ON CONFLICT (progress_key) DO UPDATE SET
		session_id = EXCLUDED.session_id,
		question_set_id = EXCLUDED.question_set_id,
		candidate_email = EXCLUDED.candidate_email,
		candidate_name = EXCLUDED.candidate_name,
		current_question_index = EXCLUDED.current_question_index,
		answers = EXCLUDED.answers,
		question_status = EXCLUDED.question_status,
		expired_question_ids = EXCLUDED.expired_question_ids,
		question_elapsed = EXCLUDED.question_elapsed,
		remaining_time_seconds = EXCLUDED.remaining_time_seconds,
		initial_duration_seconds = EXCLUDED.initial_duration_seconds,
		total_questions = EXCLUDED.total_questions,
		is_completed = EXCLUDED.is_completed,
		last_saved_at = EXCLUDED.last_saved_at
	WHERE (assessment_progress.session_id <> EXCLUDED.session_id)
	   OR (NOT assessment_progress.is_completed AND assessment_progress.last_saved_at <= EXCLUDED.last_saved_at)`

// mirrorSessionSQL copies the resumable fields onto the session row so a
// timeout submit can grade from the database alone. Older snapshots never
// overwrite newer ones and expired ids only accumulate.
const mirrorSessionSQL = `
	UPDATE assessment_sessions
	SET answers = $3, question_status = $4,
	    expired_question_ids = ` + mergeExpiredSQL + `,
	    remaining_time_seconds = $5,
	    candidate_name = CASE WHEN $6::text <> '' THEN $6 ELSE candidate_name END,
	    candidate_email = CASE WHEN $7::text <> '' THEN $7 ELSE candidate_email END,
	    question_elapsed = $8, current_question_index = $9, last_saved_at = $10
	WHERE id = $1 AND status = 'active' AND (last_saved_at IS NULL OR last_saved_at <= $10)`

// UpsertBatch writes snapshots and their session mirrors in a single
// round trip. The whole batch runs in one transaction.
func (r *ProgressRepository) UpsertBatch(ctx context.Context, snaps []model.ProgressSnapshot) error {
	if len(snaps) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for i := range snaps {
		queueUpsert(batch, &snaps[i])
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("batch item %d: %w", i/2, err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// Upsert writes one snapshot, for the row-by-row fallback path.
func (r *ProgressRepository) Upsert(ctx context.Context, snap model.ProgressSnapshot) error {
	batch := &pgx.Batch{}
	queueUpsert(batch, &snap)
	return r.pool.SendBatch(ctx, batch).Close()
}

func queueUpsert(batch *pgx.Batch, p *model.ProgressSnapshot) {
	batch.Queue(upsertProgressSQL,
		p.ProgressKey, p.SessionID, p.QuestionSetID, p.CandidateEmail, p.CandidateName,
		p.CurrentQuestionIndex, p.Answers, p.QuestionStatus, p.ExpiredQuestionIDs, p.QuestionElapsedSeconds,
		p.RemainingTimeSeconds, p.InitialDurationSeconds, p.TotalQuestions, p.IsCompleted, p.LastSavedAt,
	)
	batch.Queue(mirrorSessionSQL,
		p.SessionID, p.ExpiredQuestionIDs, p.Answers, p.QuestionStatus, p.RemainingTimeSeconds,
		p.CandidateName, p.CandidateEmail,
		p.QuestionElapsedSeconds, p.CurrentQuestionIndex, p.LastSavedAt,
	)
}

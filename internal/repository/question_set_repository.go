package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// ErrQuestionSetInUse is returned when importing over a question set that
// sessions were already started against. Such a set must be published
// under a new id.
var ErrQuestionSetInUse = errors.New("question set is referenced by sessions")

// QuestionSetRepository reads and imports question sets. The engine itself
// never mutates them; Replace exists for the seed tool.
type QuestionSetRepository struct {
	pool *pgxpool.Pool
}

// NewQuestionSetRepository creates a new QuestionSetRepository.
func NewQuestionSetRepository(pool *pgxpool.Pool) *QuestionSetRepository {
	return &QuestionSetRepository{pool: pool}
}

// GetByID loads a question set with its questions in position order.
// Returns pgx.ErrNoRows if the set does not exist.
func (r *QuestionSetRepository) GetByID(ctx context.Context, id string) (*model.QuestionSet, error) {
	set := &model.QuestionSet{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, skill, level, created_at FROM question_sets WHERE id = $1`, id,
	).Scan(&set.ID, &set.Skill, &set.Level, &set.CreatedAt)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, position, question_text, question_type, options, meta, correct_answer, time_limit_seconds
		 FROM questions
		 WHERE question_set_id = $1
		 ORDER BY position ASC, id ASC`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			q       model.Question
			options []byte
			meta    []byte
		)
		if err := rows.Scan(&q.ID, &q.Position, &q.Text, &q.Type, &options, &meta, &q.CorrectAnswer, &q.TimeLimitSeconds); err != nil {
			return nil, err
		}
		if len(options) > 0 {
			if err := json.Unmarshal(options, &q.Options); err != nil {
				return nil, fmt.Errorf("decode options of %s: %w", q.ID, err)
			}
		}
		if len(meta) > 0 {
			q.Meta = json.RawMessage(meta)
		}
		set.Questions = append(set.Questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	set.TotalQuestions = len(set.Questions)
	return set, nil
}

// ListIDs returns every question set id, used for cache prewarming.
func (r *QuestionSetRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM question_sets ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Replace writes a question set and all of its questions in one
// transaction, replacing any previous version with the same id. A set that
// sessions are bound to is immutable and yields ErrQuestionSetInUse.
func (r *QuestionSetRepository) Replace(ctx context.Context, set *model.QuestionSet) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := ensureUnused(ctx, tx, set.ID); err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO question_sets (id, skill, level)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET skill = EXCLUDED.skill, level = EXCLUDED.level`,
		set.ID, set.Skill, set.Level)
	if err != nil {
		return fmt.Errorf("upsert question set: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE question_set_id = $1`, set.ID); err != nil {
		return fmt.Errorf("clear questions: %w", err)
	}

	rows := make([][]any, 0, len(set.Questions))
	for i, q := range set.Questions {
		var options, meta []byte
		if len(q.Options) > 0 {
			if options, err = json.Marshal(q.Options); err != nil {
				return err
			}
		}
		if len(q.Meta) > 0 {
			meta = q.Meta
		}
		position := q.Position
		if position == 0 {
			position = i + 1
		}
		rows = append(rows, []any{
			set.ID, q.ID, position, q.Text, string(q.Type), options, meta, q.CorrectAnswer, q.TimeLimitSeconds,
		})
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"questions"},
		[]string{"question_set_id", "id", "position", "question_text", "question_type", "options", "meta", "correct_answer", "time_limit_seconds"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy questions: %w", err)
	}

	return tx.Commit(ctx)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ensureUnused locks the set row, which also blocks session inserts
// against it, and fails when any session references the set.
func ensureUnused(ctx context.Context, q rowQuerier, id string) error {
	var inUse bool
	err := q.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM assessment_sessions WHERE question_set_id = $1)
		 FROM (SELECT id FROM question_sets WHERE id = $1 FOR UPDATE) AS locked`, id,
	).Scan(&inUse)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// New set.
		return nil
	case err != nil:
		return fmt.Errorf("check question set %s usage: %w", id, err)
	case inUse:
		return fmt.Errorf("%s: %w", id, ErrQuestionSetInUse)
	}
	return nil
}

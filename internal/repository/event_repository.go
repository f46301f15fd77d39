package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-assessment/internal/model"
)

// EventRepository stores the append-only session event log.
type EventRepository struct {
	pool *pgxpool.Pool
}

// NewEventRepository creates a new EventRepository.
func NewEventRepository(pool *pgxpool.Pool) *EventRepository {
	return &EventRepository{pool: pool}
}

// InsertBatch bulk-inserts events with COPY.
func (r *EventRepository) InsertBatch(ctx context.Context, events []model.SessionEvent) error {
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		rows = append(rows, []any{e.SessionID, e.QuestionSetID, string(e.Type), payloadBytes(e.Payload), e.CreatedAt})
	}

	_, err := r.pool.CopyFrom(
		ctx,
		pgx.Identifier{"session_events"},
		[]string{"session_id", "question_set_id", "event_type", "payload", "created_at"},
		pgx.CopyFromRows(rows),
	)
	return err
}

// Insert writes a single event, for the row-by-row fallback path.
func (r *EventRepository) Insert(ctx context.Context, e model.SessionEvent) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO session_events (session_id, question_set_id, event_type, payload, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		e.SessionID, e.QuestionSetID, string(e.Type), payloadBytes(e.Payload), e.CreatedAt)
	return err
}

// ListRecent returns the newest events for a question set, newest first.
func (r *EventRepository) ListRecent(ctx context.Context, questionSetID string, limit int) ([]model.SessionEvent, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, question_set_id, event_type, payload, created_at
		 FROM session_events
		 WHERE question_set_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2`, questionSetID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]model.SessionEvent, 0, limit)
	for rows.Next() {
		var (
			e       model.SessionEvent
			payload []byte
		)
		if err := rows.Scan(&e.SessionID, &e.QuestionSetID, &e.Type, &payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		if len(payload) > 0 {
			e.Payload = json.RawMessage(payload)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func payloadBytes(p json.RawMessage) []byte {
	if len(p) == 0 {
		return nil
	}
	return []byte(p)
}

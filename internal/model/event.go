package model

import (
	"encoding/json"
	"time"
)

// SessionEventType names a lifecycle event of a session.
type SessionEventType string

const (
	EventSessionStarted    SessionEventType = "session_started"
	EventProgressSaved     SessionEventType = "progress_saved"
	EventProgressDeleted   SessionEventType = "progress_deleted"
	EventProgressCompleted SessionEventType = "progress_completed"
	EventSessionExpired    SessionEventType = "session_expired"
	EventSessionSubmitted  SessionEventType = "session_submitted"
)

// SessionEvent is an append-only audit record, also fanned out to monitors.
type SessionEvent struct {
	SessionID     string           `json:"session_id"`
	QuestionSetID string           `json:"question_set_id"`
	Type          SessionEventType `json:"type"`
	Payload       json.RawMessage  `json:"payload,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// MonitorStats aggregates the sessions of one question set.
type MonitorStats struct {
	Total        int      `json:"total"`
	Active       int      `json:"active"`
	Expired      int      `json:"expired"`
	Completed    int      `json:"completed"`
	Passed       int      `json:"passed"`
	AverageScore *float64 `json:"average_score,omitempty"`
}

// MonitorSnapshot is the first message of a live monitor stream.
type MonitorSnapshot struct {
	QuestionSetID  string         `json:"question_set_id"`
	Skill          string         `json:"skill"`
	Level          string         `json:"level"`
	TotalQuestions int            `json:"total_questions"`
	Stats          MonitorStats   `json:"stats"`
	AnsweredCounts map[string]int `json:"answered_counts"`
	RecentEvents   []SessionEvent `json:"recent_events"`
}

package model

import (
	"time"
)

// SessionStatus enumerates assessment session states.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusExpired   SessionStatus = "expired"
	SessionStatusCompleted SessionStatus = "completed"
)

// QuestionStatus is the per-question progress marker.
type QuestionStatus string

const (
	QuestionStatusUnanswered QuestionStatus = "unanswered"
	QuestionStatusAnswered   QuestionStatus = "answered"
	QuestionStatusExpired    QuestionStatus = "expired"
	QuestionStatusFlagged    QuestionStatus = "flagged"
)

// Valid reports whether s is a known question status.
func (s QuestionStatus) Valid() bool {
	switch s {
	case QuestionStatusUnanswered, QuestionStatusAnswered, QuestionStatusExpired, QuestionStatusFlagged:
		return true
	}
	return false
}

// IdentityMode records how a session was started and therefore which
// submit path may complete it.
type IdentityMode string

const (
	IdentityAuthenticated IdentityMode = "authenticated"
	IdentityAnonymous     IdentityMode = "anonymous"
)

// SubmitMode records what finalized a session.
type SubmitMode string

const (
	SubmitModeManual  SubmitMode = "manual"
	SubmitModeForced  SubmitMode = "forced"
	SubmitModeTimeout SubmitMode = "timeout"
)

// Session is one candidate's timed attempt at a question set.
type Session struct {
	ID                       string                    `json:"session_id"`
	QuestionSetID            string                    `json:"question_set_id"`
	OwnerID                  *int                      `json:"owner_id,omitempty"`
	IdentityMode             IdentityMode              `json:"identity_mode"`
	CandidateName            string                    `json:"candidate_name,omitempty"`
	CandidateEmail           string                    `json:"candidate_email,omitempty"`
	Experience               string                    `json:"experience,omitempty"`
	StartedAt                time.Time                 `json:"started_at"`
	DurationSeconds          int                       `json:"duration_budget_seconds"`
	QuestionTimeLimitSeconds int                       `json:"question_time_limit_seconds"`
	PassingThreshold         float64                   `json:"passing_threshold"`
	Status                   SessionStatus             `json:"status"`
	Answers                  map[string]string         `json:"answers"`
	QuestionStatus           map[string]QuestionStatus `json:"question_status"`
	ExpiredQuestionIDs       []string                  `json:"expired_question_ids"`
	RemainingTimeSeconds     int                       `json:"remaining_time_seconds"`
	TotalQuestions           int                       `json:"total_questions"`
	CompletedAt              *time.Time                `json:"completed_at,omitempty"`
	SubmitMode               SubmitMode                `json:"submit_mode,omitempty"`
	Score                    *ScoreResult              `json:"score,omitempty"`

	// Clocks of the last accepted save. They outlive a progress delete.
	CurrentQuestionIndex   int            `json:"current_question_index"`
	QuestionElapsedSeconds map[string]int `json:"question_elapsed_seconds,omitempty"`
	LastSavedAt            *time.Time     `json:"last_saved_at,omitempty"`
}

// Deadline is the wall-clock instant the session budget runs out.
func (s *Session) Deadline() time.Time {
	return s.StartedAt.Add(time.Duration(s.DurationSeconds) * time.Second)
}

// RemainingAt returns whole seconds left at now, never negative.
func (s *Session) RemainingAt(now time.Time) int {
	left := int(s.Deadline().Sub(now) / time.Second)
	if left < 0 {
		return 0
	}
	return left
}

// ─── Requests ───────────────────────────────────────────────────────────────

// StartSessionRequest is the payload for starting an attempt.
type StartSessionRequest struct {
	QuestionSetID  string `json:"question_set_id" binding:"required,max=64"`
	CandidateName  string `json:"candidate_name" binding:"omitempty,max=200"`
	CandidateEmail string `json:"candidate_email" binding:"omitempty,email,max=320"`
	Experience     string `json:"experience" binding:"omitempty,max=32"`
}

// AnswerSubmit is one submitted answer.
type AnswerSubmit struct {
	QuestionID     string `json:"question_id" binding:"required,max=64"`
	SelectedAnswer string `json:"selected_answer" binding:"max=20000"`
}

// SubmitRequest is the payload for both submit paths.
type SubmitRequest struct {
	SessionID      string         `json:"session_id" binding:"required,uuid"`
	Answers        []AnswerSubmit `json:"answers" binding:"dive"`
	CandidateName  string         `json:"candidate_name" binding:"omitempty,max=200"`
	CandidateEmail string         `json:"candidate_email" binding:"omitempty,email,max=320"`
	Forced         bool           `json:"forced"`
}

// ListSessionsQuery is the query for listing sessions.
type ListSessionsQuery struct {
	Scope         string `form:"scope" binding:"omitempty,oneof=mine assessment all"`
	QuestionSetID string `form:"question_set_id" binding:"omitempty,max=64"`
	Status        string `form:"status" binding:"omitempty,oneof=active expired completed"`
	Skip          int    `form:"skip" binding:"min=0"`
	Limit         int    `form:"limit" binding:"omitempty,min=1,max=100"`
}

// ─── Responses ──────────────────────────────────────────────────────────────

// StartSessionResponse is returned by both start variants.
type StartSessionResponse struct {
	SessionID                string           `json:"session_id"`
	QuestionSetID            string           `json:"question_set_id"`
	Skill                    string           `json:"skill"`
	Level                    string           `json:"level"`
	IdentityMode             IdentityMode     `json:"identity_mode"`
	TotalQuestions           int              `json:"total_questions"`
	StartedAt                time.Time        `json:"started_at"`
	ExpiresAt                time.Time        `json:"expires_at"`
	DurationSeconds          int              `json:"duration_seconds"`
	QuestionTimeLimitSeconds int              `json:"question_time_limit_seconds"`
	Questions                []PublicQuestion `json:"questions"`
}

// SessionState is the lightweight, server-clocked view of a session.
type SessionState struct {
	SessionID            string        `json:"session_id"`
	QuestionSetID        string        `json:"question_set_id"`
	Status               SessionStatus `json:"status"`
	RemainingTimeSeconds int           `json:"remaining_time_seconds"`
	ExpiresAt            time.Time     `json:"expires_at"`
	Answered             int           `json:"answered"`
	TotalQuestions       int           `json:"total_questions"`
}

// SessionSummary is one row of a session listing.
type SessionSummary struct {
	SessionID       string        `json:"session_id"`
	QuestionSetID   string        `json:"question_set_id"`
	IdentityMode    IdentityMode  `json:"identity_mode"`
	CandidateName   string        `json:"candidate_name,omitempty"`
	CandidateEmail  string        `json:"candidate_email,omitempty"`
	Status          SessionStatus `json:"status"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
	TotalQuestions  int           `json:"total_questions"`
	ScorePercentage *float64      `json:"score_percentage,omitempty"`
	Passed          *bool         `json:"passed,omitempty"`
}

// SessionFilter narrows a session listing.
type SessionFilter struct {
	OwnerID       *int
	QuestionSetID string
	Status        SessionStatus
	Skip          int
	Limit         int
}

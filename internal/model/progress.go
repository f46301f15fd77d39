package model

import "time"

// ProgressSnapshot is the resumable state of an in-flight session.
type ProgressSnapshot struct {
	ProgressKey            string                    `json:"-"`
	CandidateEmail         string                    `json:"candidate_email,omitempty"`
	CandidateName          string                    `json:"candidate_name,omitempty"`
	SessionID              string                    `json:"session_id"`
	QuestionSetID          string                    `json:"question_set_id"`
	CurrentQuestionIndex   int                       `json:"current_question_index"`
	Answers                map[string]string         `json:"answers"`
	QuestionStatus         map[string]QuestionStatus `json:"question_status"`
	ExpiredQuestionIDs     []string                  `json:"expired_question_ids"`
	QuestionElapsedSeconds map[string]int            `json:"question_elapsed_seconds"`
	RemainingTimeSeconds   int                       `json:"remaining_time_seconds"`
	InitialDurationSeconds int                       `json:"initial_duration_seconds"`
	TotalQuestions         int                       `json:"total_questions"`
	IsCompleted            bool                      `json:"is_completed"`
	LastSavedAt            time.Time                 `json:"last_saved_at"`
}

// SessionTiming is the part of a snapshot that belongs to the session:
// which question was current, how long each was shown, and which lapsed.
type SessionTiming struct {
	CurrentQuestionIndex   int
	ExpiredQuestionIDs     []string
	QuestionElapsedSeconds map[string]int
	LastSavedAt            time.Time
}

// Timing extracts the session-owned clocks of a snapshot.
func (p *ProgressSnapshot) Timing() SessionTiming {
	return SessionTiming{
		CurrentQuestionIndex:   p.CurrentQuestionIndex,
		ExpiredQuestionIDs:     p.ExpiredQuestionIDs,
		QuestionElapsedSeconds: p.QuestionElapsedSeconds,
		LastSavedAt:            p.LastSavedAt,
	}
}

// SaveProgressRequest is the client-proposed snapshot. Expiry flags and
// remaining time are hints; the server clock has the final word.
type SaveProgressRequest struct {
	CandidateEmail         string                    `json:"candidate_email" binding:"omitempty,email,max=320"`
	CandidateName          string                    `json:"candidate_name" binding:"omitempty,max=200"`
	SessionID              string                    `json:"session_id" binding:"required,uuid"`
	CurrentQuestionIndex   int                       `json:"current_question_index" binding:"min=0"`
	Answers                map[string]string         `json:"answers"`
	QuestionStatus         map[string]QuestionStatus `json:"question_status"`
	ExpiredQuestionIDs     []string                  `json:"expired_question_ids" binding:"max=1000"`
	RemainingTimeSeconds   int                       `json:"remaining_time_seconds" binding:"min=0"`
	InitialDurationSeconds int                       `json:"initial_duration_seconds" binding:"min=0"`
	TotalQuestions         int                       `json:"total_questions" binding:"min=0"`
}

// ProgressAck acknowledges a progress operation.
type ProgressAck struct {
	ProgressKey string     `json:"progress_key"`
	SessionID   string     `json:"session_id,omitempty"`
	Accepted    bool       `json:"accepted"`
	Deleted     bool       `json:"deleted,omitempty"`
	Completed   bool       `json:"completed,omitempty"`
	LastSavedAt *time.Time `json:"last_saved_at,omitempty"`
}

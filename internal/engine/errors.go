// Package engine holds the pure rules of an assessment session: who may
// start and submit it, how its clocks advance, how proposed progress is
// merged, and how answers are graded. Nothing here touches storage.
package engine

import (
	"errors"
	"fmt"

	"github.com/stemsi/exstem-assessment/internal/model"
)

var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionNotActive    = errors.New("session not active")
	ErrIdentityMismatch    = errors.New("identity mismatch")
	ErrInvalidAnswerShape  = errors.New("invalid answer shape")
	ErrAlreadyCompleted    = errors.New("session already completed")
	ErrContactRequired     = errors.New("candidate contact required")
	ErrResultsNotReady     = errors.New("results not yet available")
	ErrQuestionSetNotFound = errors.New("question set not found")
)

// NotActiveError reports a submit against a session that can no longer be
// graded. When the session is completed, Result carries the stored score
// so retries can succeed with it.
type NotActiveError struct {
	SessionID  string
	Status     model.SessionStatus
	SubmitMode model.SubmitMode
	Result     *model.ScoreResult
}

func (e *NotActiveError) Error() string {
	return fmt.Sprintf("session %s is %s", e.SessionID, e.Status)
}

func (e *NotActiveError) Unwrap() error { return ErrSessionNotActive }

// Completed reports whether the error carries a final result.
func (e *NotActiveError) Completed() bool {
	return e.Status == model.SessionStatusCompleted && e.Result != nil
}

// AnswerShapeError pinpoints the offending question.
type AnswerShapeError struct {
	QuestionID string
	Reason     string
}

func (e *AnswerShapeError) Error() string {
	return fmt.Sprintf("question %q: %s", e.QuestionID, e.Reason)
}

func (e *AnswerShapeError) Unwrap() error { return ErrInvalidAnswerShape }

func shapeErr(id, reason string) error {
	return &AnswerShapeError{QuestionID: id, Reason: reason}
}

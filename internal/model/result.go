package model

import "time"

// ScoreResult is the final, immutable grading summary of a completed session.
type ScoreResult struct {
	TotalQuestions   int       `json:"total_questions"`
	CorrectAnswers   int       `json:"correct_answers"`
	WrongAnswers     int       `json:"wrong_answers"`
	Unanswered       int       `json:"unanswered"`
	ScorePercentage  float64   `json:"score_percentage"`
	PassingThreshold float64   `json:"passing_threshold"`
	Passed           bool      `json:"passed"`
	CompletedAt      time.Time `json:"completed_at"`
}

// SubmitResponse wraps a score with the session it belongs to.
type SubmitResponse struct {
	SessionID        string      `json:"session_id"`
	SubmitMode       SubmitMode  `json:"submit_mode"`
	AlreadyCompleted bool        `json:"already_completed"`
	Result           ScoreResult `json:"result"`
}

// QuestionOutcome classifies a single graded question.
type QuestionOutcome string

const (
	OutcomeCorrect    QuestionOutcome = "correct"
	OutcomeWrong      QuestionOutcome = "wrong"
	OutcomeUnanswered QuestionOutcome = "unanswered"
	OutcomeExpired    QuestionOutcome = "expired"
)

// QuestionResult is one row of the detailed results breakdown.
type QuestionResult struct {
	QuestionID    string           `json:"question_id"`
	Text          string           `json:"question_text"`
	Type          QuestionType     `json:"question_type"`
	Options       []QuestionOption `json:"options"`
	YourAnswer    *string          `json:"your_answer"`
	CorrectAnswer *string          `json:"correct_answer"`
	IsCorrect     bool             `json:"is_correct"`
	Outcome       QuestionOutcome  `json:"outcome"`
}

// DetailedResult is the per-question breakdown of a completed session.
type DetailedResult struct {
	SessionID     string           `json:"session_id"`
	QuestionSetID string           `json:"question_set_id"`
	Skill         string           `json:"skill"`
	Level         string           `json:"level"`
	StartedAt     time.Time        `json:"started_at"`
	TimeTakenSecs int              `json:"time_taken_seconds"`
	SubmitMode    SubmitMode       `json:"submit_mode"`
	Score         ScoreResult      `json:"score"`
	Questions     []QuestionResult `json:"questions"`
}

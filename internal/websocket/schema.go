package websocket

import "github.com/stemsi/exstem-assessment/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAutosave Action = "autosave"
	ActionSubmit   Action = "submit"
	ActionPing     Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AutosaveRequest carries a full progress snapshot. The session id is
// taken from the stream, not the payload.
type AutosaveRequest struct {
	Action   Action                    `json:"action"`
	Progress model.SaveProgressRequest `json:"progress"`
}

// SubmitRequest is sent by the client to finish and grade the session.
type SubmitRequest struct {
	Action         Action               `json:"action"`
	Answers        []model.AnswerSubmit `json:"answers" binding:"dive"`
	Forced         bool                 `json:"forced"`
	CandidateName  string               `json:"candidate_name" binding:"omitempty,max=200"`
	CandidateEmail string               `json:"candidate_email" binding:"omitempty,email,max=320"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError   Event = "error"
	EventSuccess Event = "success"
	EventGraded  Event = "graded"
	EventPong    Event = "pong"
)

type AutosaveResponse struct {
	Event Event              `json:"event"`
	Ack   *model.ProgressAck `json:"ack"`
}

type GradedResponse struct {
	Event  Event                `json:"event"`
	Result model.SubmitResponse `json:"result"`
}

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Code   string            `json:"code,omitempty"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

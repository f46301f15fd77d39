package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/engine"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
	"github.com/stemsi/exstem-assessment/internal/validator"
	ws "github.com/stemsi/exstem-assessment/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams autosave and submit over one WebSocket per session.
type WSHandler struct {
	sessionService  *service.SessionService
	progressService *service.ProgressService
	log             zerolog.Logger
	upgrader        websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessionService *service.SessionService, progressService *service.ProgressService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessionService:  sessionService,
		progressService: progressService,
		log:             log.With().Str("component", "ws_handler").Logger(),
		upgrader:        buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/sessions/:session_id/stream[?token=...]
// Upgrades to WebSocket for autosave and submit on a running session.
func (h *WSHandler) SessionStream(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}
	caller := middleware.GetCaller(c)

	// Refuse the upgrade for sessions the caller cannot drive.
	state, err := h.sessionService.GetState(c.Request.Context(), caller, sessionID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if state.Status == model.SessionStatusCompleted {
		response.Fail(c, http.StatusConflict, response.ErrAlreadyCompleted)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	wsLog := h.log.With().Str("session_id", sessionID).Logger()
	wsLog.Info().Bool("anonymous", caller.Anonymous()).Msg("Candidate connected")

	ctx := c.Request.Context()

	for {
		data, err := ws.ReadMessage(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			return
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			_ = ws.WriteError(conn, string(response.ErrInvalidPayload), "malformed message", nil)
			continue
		}

		switch env.Action {
		case ws.ActionAutosave:
			h.handleAutosave(ctx, conn, caller, sessionID, data)
		case ws.ActionSubmit:
			if h.handleSubmit(ctx, conn, wsLog, caller, sessionID, data) {
				return
			}
		case ws.ActionPing:
			_ = ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			_ = ws.WriteError(conn, string(response.ErrInvalidPayload), "unknown action: "+string(env.Action), nil)
		}
	}
}

func (h *WSHandler) handleAutosave(ctx context.Context, conn *websocket.Conn, caller engine.Caller, sessionID string, data []byte) {
	var msg ws.AutosaveRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = ws.WriteError(conn, string(response.ErrInvalidPayload), "malformed autosave", nil)
		return
	}
	msg.Progress.SessionID = sessionID
	if err := binding.Validator.ValidateStruct(&msg.Progress); err != nil {
		_ = ws.WriteError(conn, string(response.ErrValidation), response.GetMessage(response.ErrValidation), validator.TranslateErrors(err))
		return
	}

	ack, err := h.progressService.Save(ctx, caller, service.SessionProgressKey(sessionID), &msg.Progress)
	if err != nil {
		h.writeServiceError(conn, err)
		return
	}
	_ = ws.WriteTyped(conn, ws.AutosaveResponse{Event: ws.EventSuccess, Ack: ack})
}

// handleSubmit reports whether the stream is finished.
func (h *WSHandler) handleSubmit(ctx context.Context, conn *websocket.Conn, wsLog zerolog.Logger, caller engine.Caller, sessionID string, data []byte) bool {
	var msg ws.SubmitRequest
	if err := json.Unmarshal(data, &msg); err != nil {
		_ = ws.WriteError(conn, string(response.ErrInvalidPayload), "malformed submit", nil)
		return false
	}
	if err := binding.Validator.ValidateStruct(&msg); err != nil {
		_ = ws.WriteError(conn, string(response.ErrValidation), response.GetMessage(response.ErrValidation), validator.TranslateErrors(err))
		return false
	}

	sub := engine.Anonymous(sessionID, msg.Forced)
	if !caller.Anonymous() {
		sub = engine.Authenticated(sessionID, *caller.UserID).WithForced(msg.Forced)
	}
	contact := service.Contact{Name: msg.CandidateName, Email: msg.CandidateEmail}

	res, err := h.sessionService.Submit(ctx, sub, msg.Answers, contact)
	var na *engine.NotActiveError
	if errors.As(err, &na) && na.Completed() && na.Result != nil {
		res = &model.SubmitResponse{
			SessionID:        na.SessionID,
			SubmitMode:       na.SubmitMode,
			AlreadyCompleted: true,
			Result:           *na.Result,
		}
		err = nil
	}
	if err != nil {
		h.writeServiceError(conn, err)
		return false
	}

	wsLog.Info().
		Float64("score", res.Result.ScorePercentage).
		Bool("already_completed", res.AlreadyCompleted).
		Msg("Session submitted over stream")
	_ = ws.WriteTyped(conn, ws.GradedResponse{Event: ws.EventGraded, Result: *res})
	return true
}

func (h *WSHandler) writeServiceError(conn *websocket.Conn, err error) {
	_, code := classify(err)
	if code == response.ErrInternal {
		h.log.Error().Err(err).Msg("Stream request failed")
	}
	var fields map[string]string
	var shape *engine.AnswerShapeError
	if errors.As(err, &shape) && shape.QuestionID != "" {
		fields = map[string]string{shape.QuestionID: shape.Reason}
	}
	_ = ws.WriteError(conn, string(code), response.GetMessage(code), fields)
}

package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/engine"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
	"github.com/stemsi/exstem-assessment/internal/validator"
)

// SessionHandler handles the session lifecycle endpoints.
type SessionHandler struct {
	sessionService *service.SessionService
	log            zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessionService *service.SessionService, log zerolog.Logger) *SessionHandler {
	return &SessionHandler{
		sessionService: sessionService,
		log:            log.With().Str("component", "session_handler").Logger(),
	}
}

// StartSession godoc
// POST /api/v1/sessions/start
// POST /api/v1/public/sessions/start
// Creates a session owned by the token holder, or an anonymous one.
func (h *SessionHandler) StartSession(c *gin.Context) {
	var req model.StartSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	resp, err := h.sessionService.Start(c.Request.Context(), middleware.GetCaller(c), &req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusCreated, resp)
}

// SubmitAuthenticated godoc
// POST /api/v1/sessions/submit
func (h *SessionHandler) SubmitAuthenticated(c *gin.Context) {
	caller := middleware.GetCaller(c)
	if caller.Anonymous() {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sub := engine.Authenticated(req.SessionID, *caller.UserID).WithForced(req.Forced)
	h.submit(c, sub, &req)
}

// SubmitPublic godoc
// POST /api/v1/public/sessions/submit
// Submits an anonymous session. The session id is the only credential.
func (h *SessionHandler) SubmitPublic(c *gin.Context) {
	var req model.SubmitRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	h.submit(c, engine.Anonymous(req.SessionID, req.Forced), &req)
}

func (h *SessionHandler) submit(c *gin.Context, sub engine.Submission, req *model.SubmitRequest) {
	contact := service.Contact{Name: req.CandidateName, Email: req.CandidateEmail}
	resp, err := h.sessionService.Submit(c.Request.Context(), sub, req.Answers, contact)

	// A retried submit gets the original result back.
	var na *engine.NotActiveError
	if errors.As(err, &na) && na.Completed() && na.Result != nil {
		response.Success(c, http.StatusOK, model.SubmitResponse{
			SessionID:        na.SessionID,
			SubmitMode:       na.SubmitMode,
			AlreadyCompleted: true,
			Result:           *na.Result,
		})
		return
	}
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, resp)
}

// GetState godoc
// GET /api/v1/sessions/:session_id/state
func (h *SessionHandler) GetState(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	state, err := h.sessionService.GetState(c.Request.Context(), middleware.GetCaller(c), sessionID)
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// GetResults godoc
// GET /api/v1/sessions/:session_id/results
// Answers 202 while the session is still running.
func (h *SessionHandler) GetResults(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	res, err := h.sessionService.GetResults(c.Request.Context(), middleware.GetCaller(c), sessionID)
	if errors.Is(err, engine.ErrResultsNotReady) {
		response.Success(c, http.StatusAccepted, gin.H{"status": "pending"})
		return
	}
	if err != nil {
		failWith(c, h.log, err)
		return
	}

	response.Success(c, http.StatusOK, res)
}

// ListSessions godoc
// GET /api/v1/sessions?scope=mine|assessment|all&question_set_id=&status=&skip=&limit=
func (h *SessionHandler) ListSessions(c *gin.Context) {
	var q model.ListSessionsQuery
	if fields := validator.BindQuery(c, &q); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	items, page, err := h.sessionService.ListSessions(c.Request.Context(), middleware.GetCaller(c), q)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if items == nil {
		items = []model.SessionSummary{}
	}

	response.SuccessWithPagination(c, http.StatusOK, items, page)
}

package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/engine"
	"github.com/stemsi/exstem-assessment/internal/middleware"
	"github.com/stemsi/exstem-assessment/internal/model"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
	"github.com/stemsi/exstem-assessment/internal/validator"
)

// ProgressHandler handles progress snapshots, addressed either by session
// or, on the public routes, by candidate email.
type ProgressHandler struct {
	progressService *service.ProgressService
	log             zerolog.Logger
}

// NewProgressHandler creates a new ProgressHandler.
func NewProgressHandler(progressService *service.ProgressService, log zerolog.Logger) *ProgressHandler {
	return &ProgressHandler{
		progressService: progressService,
		log:             log.With().Str("component", "progress_handler").Logger(),
	}
}

// ─── Session addressed ──────────────────────────────────────────────────────

// SaveSessionProgress godoc
// POST /api/v1/sessions/:session_id/progress
func (h *ProgressHandler) SaveSessionProgress(c *gin.Context) {
	sessionID, ok := sessionIDParam(c)
	if !ok {
		return
	}

	var req model.SaveProgressRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if req.SessionID != sessionID {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrInvalidPayload,
			map[string]string{"session_id": "does not match the path"})
		return
	}

	h.save(c, middleware.GetCaller(c), service.SessionProgressKey(sessionID), &req)
}

// LoadSessionProgress godoc
// GET /api/v1/sessions/:session_id/progress
func (h *ProgressHandler) LoadSessionProgress(c *gin.Context) {
	if sessionID, ok := sessionIDParam(c); ok {
		h.load(c, middleware.GetCaller(c), service.SessionProgressKey(sessionID))
	}
}

// DeleteSessionProgress godoc
// DELETE /api/v1/sessions/:session_id/progress
func (h *ProgressHandler) DeleteSessionProgress(c *gin.Context) {
	if sessionID, ok := sessionIDParam(c); ok {
		h.delete(c, middleware.GetCaller(c), service.SessionProgressKey(sessionID))
	}
}

// CompleteSessionProgress godoc
// POST /api/v1/sessions/:session_id/progress/complete
func (h *ProgressHandler) CompleteSessionProgress(c *gin.Context) {
	if sessionID, ok := sessionIDParam(c); ok {
		h.complete(c, middleware.GetCaller(c), service.SessionProgressKey(sessionID))
	}
}

// ─── Email addressed (public) ───────────────────────────────────────────────

// SavePublicProgress godoc
// POST /api/v1/public/progress/save
func (h *ProgressHandler) SavePublicProgress(c *gin.Context) {
	var req model.SaveProgressRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}
	if strings.TrimSpace(req.CandidateEmail) == "" {
		response.Fail(c, http.StatusBadRequest, response.ErrContactRequired)
		return
	}

	h.save(c, engine.Caller{}, service.EmailProgressKey(req.CandidateEmail), &req)
}

// LoadPublicProgress godoc
// GET /api/v1/public/progress/load/:email
func (h *ProgressHandler) LoadPublicProgress(c *gin.Context) {
	if key, ok := emailKeyParam(c); ok {
		h.load(c, engine.Caller{}, key)
	}
}

// DeletePublicProgress godoc
// DELETE /api/v1/public/progress/delete/:email
func (h *ProgressHandler) DeletePublicProgress(c *gin.Context) {
	if key, ok := emailKeyParam(c); ok {
		h.delete(c, engine.Caller{}, key)
	}
}

// CompletePublicProgress godoc
// POST /api/v1/public/progress/complete/:email
func (h *ProgressHandler) CompletePublicProgress(c *gin.Context) {
	if key, ok := emailKeyParam(c); ok {
		h.complete(c, engine.Caller{}, key)
	}
}

// ─── Shared ─────────────────────────────────────────────────────────────────

func (h *ProgressHandler) save(c *gin.Context, caller engine.Caller, key string, req *model.SaveProgressRequest) {
	ack, err := h.progressService.Save(c.Request.Context(), caller, key, req)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, ack)
}

func (h *ProgressHandler) load(c *gin.Context, caller engine.Caller, key string) {
	snap, err := h.progressService.Load(c.Request.Context(), caller, key)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	if snap == nil {
		// Nothing resumable is an empty answer, not an error.
		response.Success(c, http.StatusOK, nil)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

func (h *ProgressHandler) delete(c *gin.Context, caller engine.Caller, key string) {
	ack, err := h.progressService.Delete(c.Request.Context(), caller, key)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, ack)
}

func (h *ProgressHandler) complete(c *gin.Context, caller engine.Caller, key string) {
	ack, err := h.progressService.MarkComplete(c.Request.Context(), caller, key)
	if err != nil {
		failWith(c, h.log, err)
		return
	}
	response.Success(c, http.StatusOK, ack)
}

func emailKeyParam(c *gin.Context) (string, bool) {
	email := strings.TrimSpace(c.Param("email"))
	if fields := validator.Var("email", email, "required,email,max=320"); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return "", false
	}
	return service.EmailProgressKey(email), true
}

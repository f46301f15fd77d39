package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-assessment/internal/engine"
	"github.com/stemsi/exstem-assessment/internal/response"
	"github.com/stemsi/exstem-assessment/internal/service"
)

// classify maps a service error to its HTTP status and error code.
func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, engine.ErrInvalidAnswerShape):
		return http.StatusBadRequest, response.ErrInvalidAnswerShape
	case errors.Is(err, engine.ErrSessionNotFound):
		return http.StatusNotFound, response.ErrSessionNotFound
	case errors.Is(err, engine.ErrQuestionSetNotFound):
		return http.StatusNotFound, response.ErrQuestionSetNotFound
	case errors.Is(err, engine.ErrIdentityMismatch):
		return http.StatusForbidden, response.ErrIdentityMismatch
	case errors.Is(err, service.ErrForbiddenScope):
		return http.StatusForbidden, response.ErrForbiddenScope
	case errors.Is(err, engine.ErrSessionNotActive):
		return http.StatusConflict, response.ErrSessionNotActive
	case errors.Is(err, engine.ErrAlreadyCompleted):
		return http.StatusConflict, response.ErrAlreadyCompleted
	case errors.Is(err, engine.ErrContactRequired):
		return http.StatusBadRequest, response.ErrContactRequired
	case errors.Is(err, service.ErrSessionBusy):
		return http.StatusServiceUnavailable, response.ErrSessionBusy
	default:
		return http.StatusInternalServerError, response.ErrInternal
	}
}

// failWith writes a service error onto the response envelope. Internal
// errors are logged.
func failWith(c *gin.Context, log zerolog.Logger, err error) {
	status, code := classify(err)

	switch code {
	case response.ErrInvalidAnswerShape:
		var shape *engine.AnswerShapeError
		fields := map[string]string{}
		if errors.As(err, &shape) {
			key := shape.QuestionID
			if key == "" {
				key = "detail"
			}
			fields[key] = shape.Reason
		}
		response.FailWithFields(c, status, code, fields)
		return
	case response.ErrSessionBusy:
		c.Header("Retry-After", "1")
	case response.ErrInternal:
		log.Error().Err(err).Str("path", c.FullPath()).Msg("Request failed")
	}
	response.Fail(c, status, code)
}

// sessionIDParam reads and validates the :session_id path parameter.
func sessionIDParam(c *gin.Context) (string, bool) {
	id := c.Param("session_id")
	if _, err := uuid.Parse(id); err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return "", false
	}
	return id, true
}

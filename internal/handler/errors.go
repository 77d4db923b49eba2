package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stemsi/sentraexam-proctor/internal/examsession"
	"github.com/stemsi/sentraexam-proctor/internal/response"
	"github.com/stemsi/sentraexam-proctor/internal/sentraexam"
	"github.com/stemsi/sentraexam-proctor/internal/service"
)

// classify maps service and session errors to an HTTP status and API code.
// Unknown errors are internal.
func classify(err error) (int, response.ErrCode) {
	switch {
	case errors.Is(err, service.ErrExamNotFound):
		return http.StatusNotFound, response.ErrExamNotFound
	case errors.Is(err, service.ErrNotOnlineExam):
		return http.StatusUnprocessableEntity, response.ErrNotOnlineExam
	case errors.Is(err, service.ErrAlreadySubmitted):
		return http.StatusConflict, response.ErrAlreadySubmitted
	case errors.Is(err, service.ErrBackendUnavailable):
		return http.StatusBadGateway, response.ErrBackendUnavailable
	case errors.Is(err, sentraexam.ErrSessionExpired):
		return http.StatusUnauthorized, response.ErrBackendSession
	case errors.Is(err, examsession.ErrAlreadyStarted):
		return http.StatusConflict, response.ErrSessionStarted
	case errors.Is(err, examsession.ErrNotOpen):
		return http.StatusForbidden, response.ErrExamNotOpen
	case errors.Is(err, examsession.ErrWindowClosed):
		return http.StatusForbidden, response.ErrWindowClosed
	case errors.Is(err, examsession.ErrNoSession):
		return http.StatusNotFound, response.ErrNoSession
	case errors.Is(err, examsession.ErrSubmissionInProgress):
		return http.StatusConflict, response.ErrSubmissionInProgress
	case errors.Is(err, examsession.ErrSessionLocked):
		return http.StatusConflict, response.ErrSessionLocked
	case errors.Is(err, examsession.ErrNotAccepting):
		return http.StatusConflict, response.ErrNotAccepting
	case errors.Is(err, examsession.ErrIndexOutOfRange), errors.Is(err, examsession.ErrInvalidAnswer):
		return http.StatusBadRequest, response.ErrInvalidAnswer
	case errors.Is(err, examsession.ErrUnknownSignal):
		return http.StatusBadRequest, response.ErrValidation
	case errors.Is(err, examsession.ErrIncomplete):
		return http.StatusUnprocessableEntity, response.ErrIncomplete
	}
	return http.StatusInternalServerError, response.ErrInternal
}

// failWith writes the response for err. Internal errors are attached to the
// context for the request logger.
func failWith(c *gin.Context, err error) {
	status, code := classify(err)
	if code == response.ErrInternal {
		_ = c.Error(err)
		response.Fail(c, status, code)
		return
	}
	// Backend validation messages are written for learners; pass them on.
	var me interface{ Message() string }
	if errors.As(err, &me) {
		var fields map[string]string
		var fe interface{ FieldErrors() map[string]string }
		if errors.As(err, &fe) {
			fields = fe.FieldErrors()
		}
		response.FailWithMessage(c, status, code, me.Message(), fields)
		return
	}
	response.Fail(c, status, code)
}

// examIDParam returns the :exam_id path parameter. Sentraexam ids are UUIDs;
// anything else is refused before it reaches a backend URL or a Redis key.
func examIDParam(c *gin.Context) (string, bool) {
	id, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidPayload)
		return "", false
	}
	return id.String(), true
}

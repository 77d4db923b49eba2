package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stemsi/sentraexam-proctor/internal/middleware"
	"github.com/stemsi/sentraexam-proctor/internal/response"
	"github.com/stemsi/sentraexam-proctor/internal/service"
)

// ExamHandler handles the learner's exam endpoints.
type ExamHandler struct {
	examService *service.ExamService
}

// NewExamHandler creates a new ExamHandler.
func NewExamHandler(examService *service.ExamService) *ExamHandler {
	return &ExamHandler{examService: examService}
}

// GetPaper godoc
// GET /api/v1/exams/:exam_id
// Returns the exam paper without answer keys. When the learner has already
// started, the session state is included so the page resumes directly.
func (h *ExamHandler) GetPaper(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := examIDParam(c)
	if !ok {
		return
	}

	paper, err := h.examService.GetPaper(c.Request.Context(), claims, examID)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, paper)
}

// StartExam godoc
// POST /api/v1/exams/:exam_id/start
// Starts the timed attempt. The deadline is fixed here and never extended.
func (h *ExamHandler) StartExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := examIDParam(c)
	if !ok {
		return
	}

	sess, err := h.examService.Start(c.Request.Context(), claims, examID)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{"session": service.SessionState(sess.View())})
}

// AbandonExam godoc
// DELETE /api/v1/exams/:exam_id/session
// Discards the attempt without submitting.
func (h *ExamHandler) AbandonExam(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := examIDParam(c)
	if !ok {
		return
	}

	if err := h.examService.Abandon(c.Request.Context(), claims, examID); err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// GetAudit godoc
// GET /api/v1/exams/:exam_id/audit
// Returns the learner's own violations and submission attempts.
func (h *ExamHandler) GetAudit(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := examIDParam(c)
	if !ok {
		return
	}

	trail, err := h.examService.GetAudit(c.Request.Context(), claims, examID)
	if err != nil {
		failWith(c, err)
		return
	}

	response.Success(c, http.StatusOK, trail)
}

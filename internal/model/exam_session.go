package model

import (
	"time"

	"github.com/google/uuid"
)

// SessionState is the learner-facing view of a timed exam session.
type SessionState struct {
	Status           string    `json:"status"`
	Deadline         time.Time `json:"deadline"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	Violations       int       `json:"violations"`
	Threshold        int       `json:"threshold"`
	Answers          []any     `json:"answers"`
	Unanswered       []int     `json:"unanswered"`
	LockReason       string    `json:"lock_reason,omitempty"`
}

// ViolationRecord is one persisted integrity violation.
type ViolationRecord struct {
	ID         uuid.UUID `json:"id"`
	LearnerID  uuid.UUID `json:"learner_id"`
	ExamID     uuid.UUID `json:"exam_id"`
	Signal     string    `json:"signal"`
	Count      int       `json:"count"`
	Threshold  int       `json:"threshold"`
	Forced     bool      `json:"forced"`
	RecordedAt time.Time `json:"recorded_at"`
}

// SubmissionAttemptRecord is one persisted pass through the submission gate.
type SubmissionAttemptRecord struct {
	ID           uuid.UUID `json:"id"`
	LearnerID    uuid.UUID `json:"learner_id"`
	ExamID       uuid.UUID `json:"exam_id"`
	Trigger      string    `json:"trigger"`
	Success      bool      `json:"success"`
	GateState    string    `json:"gate_state"`
	Error        string    `json:"error,omitempty"`
	Answered     int       `json:"answered"`
	Total        int       `json:"total"`
	SubmissionID string    `json:"submission_id,omitempty"`
	AttemptedAt  time.Time `json:"attempted_at"`
}

// AuditTrail is the learner's own integrity and submission history for an exam.
type AuditTrail struct {
	Violations  []ViolationRecord         `json:"violations"`
	Submissions []SubmissionAttemptRecord `json:"submissions"`
}

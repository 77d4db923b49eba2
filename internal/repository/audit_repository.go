package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/sentraexam-proctor/internal/model"
)

// AuditRepository handles integrity violation and submission attempt history.
type AuditRepository struct {
	pool *pgxpool.Pool
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

var violationColumns = []string{"learner_id", "exam_id", "signal", "violation_count", "threshold", "forced", "recorded_at"}

// CopyViolations bulk inserts violations with COPY.
func (r *AuditRepository) CopyViolations(ctx context.Context, batch []model.ViolationRecord) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, v := range batch {
		rows = append(rows, []interface{}{v.LearnerID, v.ExamID, v.Signal, v.Count, v.Threshold, v.Forced, v.RecordedAt})
	}
	_, err := r.pool.CopyFrom(ctx, pgx.Identifier{"exam_violations"}, violationColumns, pgx.CopyFromRows(rows))
	return err
}

// InsertViolation inserts a single violation.
func (r *AuditRepository) InsertViolation(ctx context.Context, v model.ViolationRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_violations (learner_id, exam_id, signal, violation_count, threshold, forced, recorded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		v.LearnerID, v.ExamID, v.Signal, v.Count, v.Threshold, v.Forced, v.RecordedAt)
	return err
}

var attemptColumns = []string{
	"learner_id", "exam_id", "trigger", "success", "gate_state", "error",
	"answered", "total", "submission_id", "attempted_at",
}

func attemptRow(a model.SubmissionAttemptRecord) []interface{} {
	return []interface{}{
		a.LearnerID, a.ExamID, a.Trigger, a.Success, a.GateState, nullable(a.Error),
		a.Answered, a.Total, nullable(a.SubmissionID), a.AttemptedAt,
	}
}

// CopySubmissionAttempts bulk inserts submission attempts with COPY.
func (r *AuditRepository) CopySubmissionAttempts(ctx context.Context, batch []model.SubmissionAttemptRecord) error {
	rows := make([][]interface{}, 0, len(batch))
	for _, a := range batch {
		rows = append(rows, attemptRow(a))
	}
	_, err := r.pool.CopyFrom(ctx, pgx.Identifier{"exam_submission_attempts"}, attemptColumns, pgx.CopyFromRows(rows))
	return err
}

// InsertSubmissionAttempt inserts a single submission attempt.
func (r *AuditRepository) InsertSubmissionAttempt(ctx context.Context, a model.SubmissionAttemptRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_submission_attempts
		 (learner_id, exam_id, trigger, success, gate_state, error, answered, total, submission_id, attempted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		attemptRow(a)...)
	return err
}

// ListViolations returns a learner's violations for one exam, oldest first.
func (r *AuditRepository) ListViolations(ctx context.Context, learnerID, examID uuid.UUID) ([]model.ViolationRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, learner_id, exam_id, signal, violation_count, threshold, forced, recorded_at
		 FROM exam_violations
		 WHERE learner_id = $1 AND exam_id = $2
		 ORDER BY recorded_at ASC, violation_count ASC`, learnerID, examID,
	)
	if err != nil {
		return nil, fmt.Errorf("query violations: %w", err)
	}
	defer rows.Close()

	out := make([]model.ViolationRecord, 0)
	for rows.Next() {
		var v model.ViolationRecord
		if err := rows.Scan(&v.ID, &v.LearnerID, &v.ExamID, &v.Signal, &v.Count, &v.Threshold, &v.Forced, &v.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan violation: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ListSubmissionAttempts returns a learner's submission attempts for one exam, oldest first.
func (r *AuditRepository) ListSubmissionAttempts(ctx context.Context, learnerID, examID uuid.UUID) ([]model.SubmissionAttemptRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, learner_id, exam_id, trigger, success, gate_state, COALESCE(error, ''),
		        answered, total, COALESCE(submission_id, ''), attempted_at
		 FROM exam_submission_attempts
		 WHERE learner_id = $1 AND exam_id = $2
		 ORDER BY attempted_at ASC`, learnerID, examID,
	)
	if err != nil {
		return nil, fmt.Errorf("query submission attempts: %w", err)
	}
	defer rows.Close()

	out := make([]model.SubmissionAttemptRecord, 0)
	for rows.Next() {
		var a model.SubmissionAttemptRecord
		if err := rows.Scan(&a.ID, &a.LearnerID, &a.ExamID, &a.Trigger, &a.Success, &a.GateState, &a.Error,
			&a.Answered, &a.Total, &a.SubmissionID, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("scan submission attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

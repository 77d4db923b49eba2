package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/sentraexam-proctor/internal/config"
	"github.com/stemsi/sentraexam-proctor/internal/examsession"
)

// Queue is the list-shaped broker between sessions and the audit workers.
// Pop returns redis.Nil when nothing arrived within timeout.
type Queue interface {
	Push(ctx context.Context, key string, values ...[]byte) error
	Pop(ctx context.Context, timeout time.Duration, key string) ([]byte, error)
}

// RedisQueue implements Queue with RPUSH / BLPOP.
type RedisQueue struct {
	rdb redis.Cmdable
}

func NewRedisQueue(rdb redis.Cmdable) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

func (q *RedisQueue) Push(ctx context.Context, key string, values ...[]byte) error {
	if len(values) == 0 {
		return nil
	}
	// Use a pipeline to push everything in one round trip
	pipe := q.rdb.Pipeline()
	for _, v := range values {
		pipe.RPush(ctx, key, v)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration, key string) ([]byte, error) {
	result, err := q.rdb.BLPop(ctx, timeout, key).Result()
	if err != nil {
		return nil, err
	}
	if len(result) < 2 {
		return nil, redis.Nil
	}
	return []byte(result[1]), nil
}

type violationPayload struct {
	LearnerID string `json:"learner_id"`
	ExamID    string `json:"exam_id"`
	Signal    string `json:"signal"`
	Count     int    `json:"count"`
	Threshold int    `json:"threshold"`
	Forced    bool   `json:"forced"`
	Timestamp int64  `json:"timestamp"`
}

type submissionPayload struct {
	LearnerID    string `json:"learner_id"`
	ExamID       string `json:"exam_id"`
	Trigger      string `json:"trigger"`
	Success      bool   `json:"success"`
	GateState    string `json:"gate_state"`
	Error        string `json:"error,omitempty"`
	Answered     int    `json:"answered"`
	Total        int    `json:"total"`
	SubmissionID string `json:"submission_id,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// AuditQueue is the sessions' Auditor: it enqueues records for the audit
// workers. Enqueue failures are logged and dropped so the exam never waits
// on the audit trail.
type AuditQueue struct {
	q   Queue
	log zerolog.Logger
}

func NewAuditQueue(q Queue, log zerolog.Logger) *AuditQueue {
	return &AuditQueue{q: q, log: log.With().Str("component", "audit_queue").Logger()}
}

func (a *AuditQueue) RecordViolation(ctx context.Context, key examsession.Key, v examsession.Violation, at time.Time) {
	a.push(ctx, config.WorkerKey.PersistViolationsQueue, violationPayload{
		LearnerID: key.LearnerID,
		ExamID:    key.ExamID,
		Signal:    string(v.Signal),
		Count:     v.Count,
		Threshold: v.Threshold,
		Forced:    v.Forced,
		Timestamp: at.UnixMilli(),
	})
}

func (a *AuditQueue) RecordSubmission(ctx context.Context, key examsession.Key, attempt examsession.SubmissionAttempt) {
	a.push(ctx, config.WorkerKey.PersistSubmissionsQueue, submissionPayload{
		LearnerID:    key.LearnerID,
		ExamID:       key.ExamID,
		Trigger:      string(attempt.Trigger),
		Success:      attempt.Success,
		GateState:    string(attempt.State),
		Error:        attempt.Error,
		Answered:     attempt.Answered,
		Total:        attempt.Total,
		SubmissionID: attempt.SubmissionID,
		Timestamp:    attempt.At.UnixMilli(),
	})
}

func (a *AuditQueue) push(ctx context.Context, queue string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		a.log.Error().Err(err).Str("queue", queue).Msg("Failed to encode audit record")
		return
	}

	// The record outlives the request that produced it.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := a.q.Push(ctx, queue, data); err != nil {
		a.log.Warn().Err(err).Str("queue", queue).Msg("Failed to enqueue audit record, dropping it")
	}
}

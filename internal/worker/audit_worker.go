package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/sentraexam-proctor/internal/config"
	"github.com/stemsi/sentraexam-proctor/internal/model"
)

const (
	BatchSize    = 50
	BatchTimeout = 2 * time.Second
	PollTimeout  = 1 * time.Second // Must be >= 1s to satisfy Redis
)

// AuditStore persists audit records. Copy* is the bulk fast path, Insert*
// the row-by-row fallback.
type AuditStore interface {
	CopyViolations(ctx context.Context, batch []model.ViolationRecord) error
	InsertViolation(ctx context.Context, v model.ViolationRecord) error
	CopySubmissionAttempts(ctx context.Context, batch []model.SubmissionAttemptRecord) error
	InsertSubmissionAttempt(ctx context.Context, a model.SubmissionAttemptRecord) error
}

// AuditWorker drains the violation and submission queues into Postgres.
type AuditWorker struct {
	q     Queue
	store AuditStore
	log   zerolog.Logger

	batchSize    int
	batchTimeout time.Duration
	pollTimeout  time.Duration
	// backoff is the pause after a broker error or a requeue, so a database
	// or Redis outage is not hammered.
	backoff time.Duration
}

func NewAuditWorker(q Queue, store AuditStore, log zerolog.Logger) *AuditWorker {
	return &AuditWorker{
		q:            q,
		store:        store,
		log:          log.With().Str("component", "audit_worker").Logger(),
		batchSize:    BatchSize,
		batchTimeout: BatchTimeout,
		pollTimeout:  PollTimeout,
		backoff:      2 * time.Second,
	}
}

// Start runs both queues until ctx is cancelled, then flushes what is
// buffered. It returns once both flushes are done.
func (w *AuditWorker) Start(ctx context.Context) {
	w.log.Info().Msg("AuditWorker started")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		drain(ctx, w, &pipeline[violationPayload, model.ViolationRecord]{
			queue:    config.WorkerKey.PersistViolationsQueue,
			toRecord: violationRecord,
			bulk:     w.store.CopyViolations,
			single:   w.store.InsertViolation,
		})
	}()
	go func() {
		defer wg.Done()
		drain(ctx, w, &pipeline[submissionPayload, model.SubmissionAttemptRecord]{
			queue:    config.WorkerKey.PersistSubmissionsQueue,
			toRecord: submissionRecord,
			bulk:     w.store.CopySubmissionAttempts,
			single:   w.store.InsertSubmissionAttempt,
		})
	}()
	wg.Wait()

	w.log.Info().Msg("AuditWorker stopped")
}

// pipeline binds one queue's payload type P to its table row R.
type pipeline[P, R any] struct {
	queue    string
	toRecord func(P) (R, error)
	bulk     func(context.Context, []R) error
	single   func(context.Context, R) error
}

func drain[P, R any](ctx context.Context, w *AuditWorker, p *pipeline[P, R]) {
	log := w.log.With().Str("queue", p.queue).Logger()
	buffer := make([]P, 0, w.batchSize)
	lastFlushTime := time.Now()

	for {
		// 1. Check flush conditions (time or size)
		if len(buffer) > 0 && (len(buffer) >= w.batchSize || time.Since(lastFlushTime) >= w.batchTimeout) {
			flushSafe(ctx, w, p, log, buffer)
			buffer = buffer[:0]
			lastFlushTime = time.Now()
		}

		// 2. Graceful shutdown
		if ctx.Err() != nil {
			shutdown(w, p, log, buffer)
			return
		}

		// 3. Fetch. Returns immediately if data exists.
		raw, err := w.q.Pop(ctx, w.pollTimeout, p.queue)
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Msg("Queue error, backing off")
			sleep(ctx, w.backoff)
			continue
		}

		// 4. Decode. Malformed JSON cannot be retried.
		var payload P
		if err := json.Unmarshal(raw, &payload); err != nil {
			log.Error().Err(err).Str("data", string(raw)).Msg("Discarding malformed audit record")
			continue
		}
		buffer = append(buffer, payload)
	}
}

// flushSafe attempts a bulk insert, then row-by-row, then requeues.
func flushSafe[P, R any](ctx context.Context, w *AuditWorker, p *pipeline[P, R], log zerolog.Logger, batch []P) {
	rows := make([]R, 0, len(batch))
	var convErr error
	for _, item := range batch {
		row, err := p.toRecord(item)
		if err != nil {
			convErr = err
			break
		}
		rows = append(rows, row)
	}

	if convErr == nil {
		err := p.bulk(ctx, rows)
		if err == nil {
			log.Debug().Int("count", len(rows)).Msg("Audit batch persisted")
			return
		}
		log.Warn().Err(err).Int("count", len(batch)).Msg("Bulk insert failed, attempting row-by-row recovery")
	}

	fallbackInsert(ctx, w, p, log, batch)
}

func fallbackInsert[P, R any](ctx context.Context, w *AuditWorker, p *pipeline[P, R], log zerolog.Logger, batch []P) {
	requeueList := make([]P, 0)

	for _, item := range batch {
		row, err := p.toRecord(item)
		if err != nil {
			log.Error().Err(err).Msg("Dropping audit record with invalid ids")
			continue
		}
		// Every failed insert is requeued; a bad row will keep failing and
		// show up in the logs rather than silently disappear.
		if err := p.single(ctx, row); err != nil {
			log.Error().Err(err).Msg("Insert failed, requeueing")
			requeueList = append(requeueList, item)
		}
	}

	if len(requeueList) > 0 {
		requeue(ctx, w, p, log, requeueList)
	}
}

func requeue[P, R any](ctx context.Context, w *AuditWorker, p *pipeline[P, R], log zerolog.Logger, items []P) {
	values := make([][]byte, 0, len(items))
	for _, item := range items {
		data, _ := json.Marshal(item)
		values = append(values, data)
	}

	// The shutdown flush runs on a fresh context; a cancelled one would lose
	// the items here.
	if err := w.q.Push(context.WithoutCancel(ctx), p.queue, values...); err != nil {
		log.Error().Err(err).Int("count", len(items)).Msg("CRITICAL: Failed to requeue audit records. Data loss occurred.")
		return
	}
	log.Info().Int("count", len(items)).Msg("Requeued failed audit records")
	sleep(ctx, w.backoff)
}

func shutdown[P, R any](w *AuditWorker, p *pipeline[P, R], log zerolog.Logger, buffer []P) {
	if len(buffer) == 0 {
		return
	}
	log.Info().Int("count", len(buffer)).Msg("Worker stopping, flushing remaining buffer")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	flushSafe(shutdownCtx, w, p, log, buffer)
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func parseIDs(learnerID, examID string) (uuid.UUID, uuid.UUID, error) {
	learner, err := uuid.Parse(learnerID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("learner id %q: %w", learnerID, err)
	}
	exam, err := uuid.Parse(examID)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("exam id %q: %w", examID, err)
	}
	return learner, exam, nil
}

func violationRecord(p violationPayload) (model.ViolationRecord, error) {
	learner, exam, err := parseIDs(p.LearnerID, p.ExamID)
	if err != nil {
		return model.ViolationRecord{}, err
	}
	return model.ViolationRecord{
		LearnerID:  learner,
		ExamID:     exam,
		Signal:     p.Signal,
		Count:      p.Count,
		Threshold:  p.Threshold,
		Forced:     p.Forced,
		RecordedAt: time.UnixMilli(p.Timestamp).UTC(),
	}, nil
}

func submissionRecord(p submissionPayload) (model.SubmissionAttemptRecord, error) {
	learner, exam, err := parseIDs(p.LearnerID, p.ExamID)
	if err != nil {
		return model.SubmissionAttemptRecord{}, err
	}
	return model.SubmissionAttemptRecord{
		LearnerID:    learner,
		ExamID:       exam,
		Trigger:      p.Trigger,
		Success:      p.Success,
		GateState:    p.GateState,
		Error:        p.Error,
		Answered:     p.Answered,
		Total:        p.Total,
		SubmissionID: p.SubmissionID,
		AttemptedAt:  time.UnixMilli(p.Timestamp).UTC(),
	}, nil
}

package examsession

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/sentraexam-proctor/internal/config"
)

// Key identifies one learner's attempt at one exam.
type Key struct {
	LearnerID string
	ExamID    string
}

func (k Key) sessionKey() string { return config.CacheKey.ExamSessionKey(k.LearnerID, k.ExamID) }
func (k Key) answersKey() string { return config.CacheKey.ExamAnswersKey(k.LearnerID, k.ExamID) }

// Status of a persisted session record.
type Status string

const (
	StatusActive Status = "active"
	// StatusLocked marks a forced submission that failed. The record is kept so a
	// reload shows the terminal state instead of reopening the exam.
	StatusLocked Status = "locked"
	// StatusAbandoned keeps the deadline and violation count of a discarded
	// attempt, so starting again continues the same clock.
	StatusAbandoned Status = "abandoned"
)

// Record is the persisted part of a session.
type Record struct {
	Deadline   time.Time
	Violations int
	Status     Status
	LockReason string
	Answers    map[int]Answer
}

const (
	fieldDeadline   = "deadline"
	fieldViolations = "violations"
	fieldStatus     = "status"
	fieldReason     = "reason"
)

// Store persists session records so an attempt survives reloads and restarts.
//
// Writes go to the KV. A write the KV refuses is held in an in-process mirror
// and flushed with the next write that succeeds, so a failing KV only costs
// durability: errors are logged and never reach the learner.
type Store struct {
	kv        KV
	mirror    *MemoryKV
	now       func() time.Time
	retention time.Duration
	log       zerolog.Logger
}

// NewStore creates a Store. Records expire from the KV retention after their deadline.
func NewStore(kv KV, now func() time.Time, log zerolog.Logger) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		kv:        kv,
		mirror:    NewMemoryKV(),
		now:       now,
		retention: 24 * time.Hour,
		log:       log.With().Str("component", "session_store").Logger(),
	}
}

// Start persists a fresh record and returns its deadline (now + duration).
func (s *Store) Start(ctx context.Context, key Key, duration time.Duration) time.Time {
	deadline := s.now().Add(duration)
	s.write(ctx, key, key.sessionKey(), map[string]string{
		fieldDeadline:   strconv.FormatInt(deadline.UnixMilli(), 10),
		fieldViolations: "0",
		fieldStatus:     string(StatusActive),
	}, deadline)
	return deadline
}

// Resume looks up a record. A deadline already in the past is returned as now,
// so the caller's timer expires on its first tick.
func (s *Store) Resume(ctx context.Context, key Key) (Record, bool) {
	fields, ok := s.read(ctx, key.sessionKey())
	if !ok {
		return Record{}, false
	}

	ms, err := strconv.ParseInt(fields[fieldDeadline], 10, 64)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key.sessionKey()).Msg("Discarding session record with invalid deadline")
		return Record{}, false
	}

	rec := Record{
		Deadline:   time.UnixMilli(ms),
		Status:     Status(fields[fieldStatus]),
		LockReason: fields[fieldReason],
		Answers:    make(map[int]Answer),
	}
	if rec.Status == "" {
		rec.Status = StatusActive
	}
	rec.Violations, _ = strconv.Atoi(fields[fieldViolations])

	if now := s.now(); !rec.Deadline.After(now) {
		rec.Deadline = now
	}

	if answers, ok := s.read(ctx, key.answersKey()); ok {
		for field, raw := range answers {
			i, err := strconv.Atoi(field)
			if err != nil {
				continue
			}
			var a Answer
			if err := json.Unmarshal([]byte(raw), &a); err != nil {
				continue
			}
			rec.Answers[i] = a
		}
	}
	return rec, true
}

// SaveAnswer persists slot i.
func (s *Store) SaveAnswer(ctx context.Context, key Key, deadline time.Time, i int, a Answer) {
	raw, _ := json.Marshal(a)
	s.write(ctx, key, key.answersKey(), map[string]string{strconv.Itoa(i): string(raw)}, deadline)
}

// SaveViolations persists the violation count.
func (s *Store) SaveViolations(ctx context.Context, key Key, deadline time.Time, count int) {
	s.write(ctx, key, key.sessionKey(), map[string]string{fieldViolations: strconv.Itoa(count)}, deadline)
}

// Lock marks the record terminal.
func (s *Store) Lock(ctx context.Context, key Key, deadline time.Time, reason string) {
	s.write(ctx, key, key.sessionKey(), map[string]string{
		fieldStatus: string(StatusLocked),
		fieldReason: reason,
	}, deadline)
}

// Abandon marks the record abandoned and drops its answers. The deadline and
// violation count stay for Reopen.
func (s *Store) Abandon(ctx context.Context, key Key, deadline time.Time) {
	s.write(ctx, key, key.sessionKey(), map[string]string{fieldStatus: string(StatusAbandoned)}, deadline)
	_ = s.mirror.Del(ctx, key.answersKey())
	if err := s.kv.Del(ctx, key.answersKey()); err != nil {
		s.log.Warn().Err(err).Str("learner_id", key.LearnerID).Str("exam_id", key.ExamID).
			Msg("Failed to drop abandoned answers")
	}
}

// Reopen makes an abandoned record active again.
func (s *Store) Reopen(ctx context.Context, key Key, deadline time.Time) {
	s.write(ctx, key, key.sessionKey(), map[string]string{fieldStatus: string(StatusActive)}, deadline)
}

// Clear removes the record and its answers.
func (s *Store) Clear(ctx context.Context, key Key) {
	keys := []string{key.sessionKey(), key.answersKey()}
	_ = s.mirror.Del(ctx, keys...)
	if err := s.kv.Del(ctx, keys...); err != nil {
		s.log.Warn().Err(err).Str("learner_id", key.LearnerID).Str("exam_id", key.ExamID).
			Msg("Failed to clear session record")
	}
}

func (s *Store) write(ctx context.Context, key Key, hashKey string, fields map[string]string, deadline time.Time) {
	pending, _ := s.mirror.HGetAll(ctx, hashKey)
	merged := fields
	if len(pending) > 0 {
		merged = make(map[string]string, len(pending)+len(fields))
		for k, v := range pending {
			merged[k] = v
		}
		for k, v := range fields {
			merged[k] = v
		}
	}

	if err := s.kv.HSet(ctx, hashKey, merged); err != nil {
		_ = s.mirror.HSet(ctx, hashKey, fields)
		s.log.Warn().Err(err).
			Str("learner_id", key.LearnerID).
			Str("exam_id", key.ExamID).
			Msg("Session persistence unavailable, keeping record in memory only")
		return
	}
	if len(pending) > 0 {
		_ = s.mirror.Del(ctx, hashKey)
	}
	ttl := deadline.Sub(s.now()) + s.retention
	if ttl < s.retention {
		ttl = s.retention
	}
	if err := s.kv.Expire(ctx, hashKey, ttl); err != nil {
		s.log.Debug().Err(err).Str("key", hashKey).Msg("Failed to set record expiry")
	}
}

// read returns the KV hash with any writes still held in the mirror on top.
func (s *Store) read(ctx context.Context, hashKey string) (map[string]string, bool) {
	fields, err := s.kv.HGetAll(ctx, hashKey)
	if err != nil {
		s.log.Warn().Err(err).Str("key", hashKey).Msg("Session persistence unavailable on read")
		fields = nil
	}
	pending, _ := s.mirror.HGetAll(ctx, hashKey)
	if len(pending) > 0 {
		if fields == nil {
			fields = make(map[string]string, len(pending))
		}
		for k, v := range pending {
			fields[k] = v
		}
	}
	if len(fields) == 0 {
		return nil, false
	}
	return fields, true
}

package examsession

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrAlreadyStarted       = errors.New("exam session already started")
	ErrNotOpen              = errors.New("this exam is not open yet")
	ErrWindowClosed         = errors.New("submission window has closed for this exam")
	ErrNoSession            = errors.New("no exam session")
	ErrSubmissionInProgress = errors.New("a submission is in progress")
	ErrSessionLocked        = errors.New("exam session is locked")
)

// Paper is what a session needs to know about the exam.
type Paper struct {
	Questions []Question
	Duration  time.Duration
	OpensAt   *time.Time
	ClosesAt  *time.Time
}

// Manager owns the live sessions of this process, one per (learner, exam).
// Every connection of a learner to the same exam shares that one session.
type Manager struct {
	store   *Store
	auditor Auditor
	cfg     Config
	log     zerolog.Logger

	mu       sync.Mutex
	sessions map[Key]*Session
}

// NewManager creates a Manager. auditor may be nil.
func NewManager(store *Store, auditor Auditor, cfg Config, log zerolog.Logger) *Manager {
	return &Manager{
		store:    store,
		auditor:  auditor,
		cfg:      cfg.withDefaults(),
		log:      log.With().Str("component", "session_manager").Logger(),
		sessions: make(map[Key]*Session),
	}
}

// Lookup returns the live session for key, if any.
func (m *Manager) Lookup(key Key) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[key]
	return s, ok
}

// Live returns the number of sessions held by this process.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Open returns the session for key, resuming a persisted record when this
// process has none. It reports false when the learner never started the exam.
// A resumed record whose deadline passed expires on the first tick.
func (m *Manager) Open(ctx context.Context, key Key, paper Paper, sub Submitter) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		s.rebind(sub)
		return s, true
	}

	rec, ok := m.store.Resume(ctx, key)
	if !ok || rec.Status == StatusAbandoned {
		return nil, false
	}
	m.log.Info().Str("learner_id", key.LearnerID).Str("exam_id", key.ExamID).
		Time("deadline", rec.Deadline).Str("status", string(rec.Status)).
		Msg("Resuming exam session")
	return m.launch(key, paper, rec, sub), true
}

// Start begins a new attempt. The deadline of an existing attempt is never
// extended: starting twice fails with ErrAlreadyStarted, a locked attempt
// with ErrSessionLocked, and starting after Abandon continues the abandoned
// attempt's deadline and violation count.
func (m *Manager) Start(ctx context.Context, key Key, paper Paper, sub Submitter) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		if s.State() == GateLocked {
			return nil, ErrSessionLocked
		}
		return nil, ErrAlreadyStarted
	}
	if rec, ok := m.store.Resume(ctx, key); ok {
		switch rec.Status {
		case StatusLocked:
			return nil, ErrSessionLocked
		case StatusAbandoned:
			m.store.Reopen(ctx, key, rec.Deadline)
			rec.Status = StatusActive
			m.log.Info().Str("learner_id", key.LearnerID).Str("exam_id", key.ExamID).
				Time("deadline", rec.Deadline).Int("violations", rec.Violations).
				Msg("Exam session restarted after abandon")
			return m.launch(key, paper, rec, sub), nil
		}
		return nil, ErrAlreadyStarted
	}
	now := m.cfg.Now()
	if paper.OpensAt != nil && now.Before(*paper.OpensAt) {
		return nil, ErrNotOpen
	}
	if paper.ClosesAt != nil && !now.Before(*paper.ClosesAt) {
		return nil, ErrWindowClosed
	}

	// The backend refuses submissions after closes_at, so the attempt never
	// outlives the window.
	duration := paper.Duration
	if paper.ClosesAt != nil {
		if left := paper.ClosesAt.Sub(now); left < duration {
			duration = left
		}
	}
	deadline := m.store.Start(ctx, key, duration)
	m.log.Info().Str("learner_id", key.LearnerID).Str("exam_id", key.ExamID).
		Time("deadline", deadline).Msg("Exam session started")
	return m.launch(key, paper, Record{Deadline: deadline, Status: StatusActive}, sub), nil
}

func (m *Manager) launch(key Key, paper Paper, rec Record, sub Submitter) *Session {
	s := newSession(key, paper.Questions, rec, m.store, sub, m.auditor, m.cfg, m.log)
	s.onFinish = m.release
	m.sessions[key] = s
	s.start()
	return s
}

// release drops a submitted session from the registry. Locked sessions stay
// registered so reconnecting pages see the terminal state.
func (m *Manager) release(s *Session) {
	if s.State() != GateDone {
		return
	}
	m.mu.Lock()
	if m.sessions[s.key] == s {
		delete(m.sessions, s.key)
	}
	m.mu.Unlock()
}

// Abandon discards an attempt's answers without submitting. The record stays
// as a tombstone holding the deadline and violation count, so a later Start
// continues the same attempt instead of a fresh one. Locked attempts cannot
// be abandoned.
func (m *Manager) Abandon(ctx context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		deadline, err := s.abandon()
		if err != nil {
			return err
		}
		s.stop()
		delete(m.sessions, key)
		m.store.Abandon(ctx, key, deadline)
		m.log.Info().Str("learner_id", key.LearnerID).Str("exam_id", key.ExamID).Msg("Exam session abandoned")
		return nil
	}

	rec, ok := m.store.Resume(ctx, key)
	if !ok {
		return ErrNoSession
	}
	switch rec.Status {
	case StatusLocked:
		return ErrSessionLocked
	case StatusAbandoned:
		return ErrNoSession
	}
	if !rec.Deadline.After(m.cfg.Now()) {
		// Expired: the next Open submits it.
		return ErrSubmissionInProgress
	}
	m.store.Abandon(ctx, key, rec.Deadline)
	return nil
}

// Close stops every timer. Persisted records are kept so the sessions resume
// on the next start of the service.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, s := range m.sessions {
		s.stop()
		delete(m.sessions, key)
	}
}

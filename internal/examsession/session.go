package examsession

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrNotAccepting  = errors.New("session is not accepting changes")
	ErrInvalidAnswer = errors.New("answer does not fit the question")
	ErrIncomplete    = errors.New("every question must be answered before submitting")
)

// IncompleteError blocks a manual submission with unanswered questions.
type IncompleteError struct {
	Unanswered []int
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("%s (%d unanswered)", ErrIncomplete, len(e.Unanswered))
}

func (e *IncompleteError) Unwrap() error { return ErrIncomplete }

// FieldErrors points the page at the missing questions, keyed answers[i].
func (e *IncompleteError) FieldErrors() map[string]string {
	fields := make(map[string]string, len(e.Unanswered))
	for _, i := range e.Unanswered {
		fields[fmt.Sprintf("answers[%d]", i)] = "This question has not been answered."
	}
	return fields
}

// Question is the shape of one question as far as answer validation goes.
type Question struct {
	Subjective bool
	Options    int
}

// Receipt is what the submission collaborator returns on success.
type Receipt struct {
	SubmissionID string
	Score        *float64
}

// Submitter sends a finalized answer snapshot. It is called at most once per
// gate attempt and never while the session lock is held.
type Submitter interface {
	Submit(ctx context.Context, examID string, answers []Answer) (*Receipt, error)
}

// SubmissionAttempt is the audit record of one gate attempt.
type SubmissionAttempt struct {
	Trigger      Trigger
	Success      bool
	State        GateState
	Error        string
	Answered     int
	Total        int
	SubmissionID string
	At           time.Time
}

// Auditor records violations and submission attempts. Implementations must
// not block the session and must swallow their own failures.
type Auditor interface {
	RecordViolation(ctx context.Context, key Key, v Violation, at time.Time)
	RecordSubmission(ctx context.Context, key Key, attempt SubmissionAttempt)
}

type nopAuditor struct{}

func (nopAuditor) RecordViolation(context.Context, Key, Violation, time.Time) {}
func (nopAuditor) RecordSubmission(context.Context, Key, SubmissionAttempt)   {}

// Config tunes session behaviour.
type Config struct {
	Threshold       int
	TickInterval    time.Duration
	SubmitTimeout   time.Duration
	RequireComplete bool
	Now             func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Threshold < 1 {
		c.Threshold = 3
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 30 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Outcome is the result of one call into the gate.
type Outcome struct {
	State   GateState
	Ran     bool // this call performed the submission
	Receipt *Receipt
	Err     error
}

// Session is one learner's timed attempt at one exam.
//
// mu serializes every mutation: answer edits, violation counting, and the
// gate's check-and-set together with the answer snapshot. The submission call
// is the only step that runs unlocked.
type Session struct {
	key       Key
	questions []Question
	store     *Store
	auditor   Auditor
	cfg       Config
	log       zerolog.Logger

	mu         sync.Mutex
	submitter  Submitter
	answers    *AnswerBuffer
	monitor    *IntegrityMonitor
	gate       *Gate
	timer      *Timer
	sink       Sink
	lockReason string

	cancel   context.CancelFunc
	done     chan struct{}
	onFinish func(*Session)
}

func newSession(key Key, questions []Question, rec Record, store *Store, submitter Submitter, auditor Auditor, cfg Config, log zerolog.Logger) *Session {
	if auditor == nil {
		auditor = nopAuditor{}
	}
	s := &Session{
		key:       key,
		questions: questions,
		store:     store,
		auditor:   auditor,
		cfg:       cfg,
		log:       log.With().Str("learner_id", key.LearnerID).Str("exam_id", key.ExamID).Logger(),
		submitter: submitter,
		answers:   NewAnswerBuffer(len(questions)),
		monitor:   NewIntegrityMonitor(cfg.Threshold, rec.Violations),
		gate:      NewGate(),
		timer:     NewTimer(rec.Deadline, cfg.Now),
		done:      make(chan struct{}),
	}
	for i, a := range rec.Answers {
		// Slots outside the current paper are dropped.
		_ = s.answers.Set(i, a)
	}
	if rec.Status == StatusLocked {
		s.gate.Lock()
		s.lockReason = rec.LockReason
	}
	return s
}

func (s *Session) Key() Key { return s.key }

// start launches the timer. A locked session has nothing to run; a resumed
// session already at the violation threshold submits right away.
func (s *Session) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	s.mu.Lock()
	locked := s.gate.State() == GateLocked
	overThreshold := s.monitor.Count() >= s.monitor.Threshold()
	s.mu.Unlock()

	if locked {
		close(s.done)
		return
	}

	go func() {
		defer close(s.done)
		if overThreshold {
			s.finalize(TriggerIntegrityViolation)
		}
		s.timer.Run(ctx, s.cfg.TickInterval, s.onTick, func() {
			s.finalize(TriggerTimerExpiry)
		})
	}()
}

// stop halts the timer without touching the persisted record.
func (s *Session) stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Done is closed when the timer goroutine exits.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) onTick(remaining time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gate.State() == GateIdle {
		s.emit(Event{Type: EventTick, Data: TickData{RemainingSeconds: seconds(remaining)}})
	}
}

// Attach makes sink the session's only receiver. A previously attached sink
// is told it has been superseded.
func (s *Session) Attach(sink Sink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sink != nil && s.sink != sink {
		s.sink.Send(Event{Type: EventSuperseded, Data: SupersededData{
			Message: "This exam was opened in another window. Continue there.",
		}})
	}
	s.sink = sink
	s.emit(Event{Type: EventState, Data: s.viewLocked()})
}

// Detach removes sink if it is still the attached one. The session keeps
// running; expiry submits without a connected page.
func (s *Session) Detach(sink Sink) {
	s.mu.Lock()
	if s.sink == sink {
		s.sink = nil
	}
	s.mu.Unlock()
}

// rebind swaps the collaborator used for future attempts, e.g. after the
// learner logged in again with fresh backend tokens.
func (s *Session) rebind(sub Submitter) {
	s.mu.Lock()
	s.submitter = sub
	s.mu.Unlock()
}

// View returns the current state.
func (s *Session) View() StateView {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

func (s *Session) viewLocked() StateView {
	unanswered := s.answers.Unanswered()
	if unanswered == nil {
		unanswered = []int{}
	}
	return StateView{
		ExamID:           s.key.ExamID,
		State:            s.gate.State(),
		Deadline:         s.timer.Deadline(),
		RemainingSeconds: seconds(s.timer.Remaining()),
		Violations:       s.monitor.Count(),
		Threshold:        s.monitor.Threshold(),
		Answers:          s.answers.Snapshot(),
		Unanswered:       unanswered,
		LockReason:       s.lockReason,
	}
}

// State returns the gate state.
func (s *Session) State() GateState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gate.State()
}

// SetAnswer records the learner's answer for question i. Edits are refused
// once the gate has left idle.
func (s *Session) SetAnswer(ctx context.Context, i int, a Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st := s.gate.State(); st != GateIdle {
		return fmt.Errorf("%w: %s", ErrNotAccepting, st)
	}
	if i < 0 || i >= len(s.questions) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	if err := validateAnswer(s.questions[i], a); err != nil {
		return fmt.Errorf("question %d: %w", i, err)
	}
	if err := s.answers.Set(i, a); err != nil {
		return err
	}
	s.store.SaveAnswer(ctx, s.key, s.timer.Deadline(), i, a)
	return nil
}

func validateAnswer(q Question, a Answer) error {
	switch a.Kind() {
	case Unanswered:
		return nil
	case ChoiceAnswer:
		if q.Subjective {
			return fmt.Errorf("%w: subjective questions take text", ErrInvalidAnswer)
		}
		if idx, _ := a.ChoiceIndex(); idx < 0 || idx >= q.Options {
			return fmt.Errorf("%w: option %d does not exist", ErrInvalidAnswer, idx)
		}
	case TextAnswer:
		if !q.Subjective {
			return fmt.Errorf("%w: multiple choice questions take an option", ErrInvalidAnswer)
		}
	}
	return nil
}

// Signal feeds one browser boundary event to the Integrity Monitor. Counted
// signals raise a blocking warning; the one that reaches the threshold forces
// submission.
func (s *Session) Signal(ctx context.Context, sig Signal) (Violation, error) {
	s.mu.Lock()
	st := s.gate.State()
	if st == GateDone || st == GateLocked {
		s.mu.Unlock()
		return Violation{}, fmt.Errorf("%w: %s", ErrNotAccepting, st)
	}

	v := s.monitor.Record(sig)
	now := s.cfg.Now()
	if !v.Counted {
		s.emit(Event{Type: EventNotice, Data: NoticeData{Signal: sig, Message: noticeMessage(sig)}})
		s.mu.Unlock()
		return v, nil
	}

	s.store.SaveViolations(ctx, s.key, s.timer.Deadline(), v.Count)
	s.emit(Event{Type: EventWarning, Data: WarningData{Violation: v, Message: warningMessage(v)}})
	// The gate is taken before the lock is released, so nothing can close the
	// session between the threshold and its submission. A gate already busy
	// with a manual attempt retries the forced trigger when that one fails.
	var forced attempt
	begun := v.Forced && s.beginLocked(TriggerIntegrityViolation, &forced)
	s.mu.Unlock()

	s.auditor.RecordViolation(ctx, s.key, v, now)
	s.log.Info().Str("signal", string(sig)).Int("count", v.Count).Int("threshold", v.Threshold).
		Msg("Integrity violation recorded")

	if begun {
		go s.submit(forced)
	}
	return v, nil
}

func warningMessage(v Violation) string {
	if v.Forced {
		return fmt.Sprintf("Violation %d of %d. Your exam is being submitted automatically.", v.Count, v.Threshold)
	}
	return fmt.Sprintf("Leaving the exam window is not allowed. Violation %d of %d; at %d your exam is submitted automatically.",
		v.Count, v.Threshold, v.Threshold)
}

func noticeMessage(sig Signal) string {
	if sig == SignalFullscreenExit {
		return "Please return to fullscreen mode to continue the exam."
	}
	return "Fullscreen mode restored."
}

// Submit is the learner's manual submission. With RequireComplete set it is
// blocked by unanswered questions; a failure leaves the gate idle for retry.
func (s *Session) Submit() Outcome {
	return s.finalize(TriggerManual)
}

// finalize runs the gate for trigger. Concurrent calls after the first one
// return without contacting the collaborator.
func (s *Session) finalize(trigger Trigger) Outcome {
	s.mu.Lock()
	if trigger == TriggerManual && s.gate.State() == GateIdle && s.cfg.RequireComplete {
		if missing := s.answers.Unanswered(); len(missing) > 0 {
			err := &IncompleteError{Unanswered: missing}
			s.emit(Event{Type: EventSubmitFailed, Data: SubmitFailedData{
				Trigger:   trigger,
				Message:   ErrIncomplete.Error(),
				Retryable: true,
				Fields:    err.FieldErrors(),
			}})
			s.mu.Unlock()
			return Outcome{State: GateIdle, Err: err}
		}
	}
	var a attempt
	if !s.beginLocked(trigger, &a) {
		st := s.gate.State()
		s.mu.Unlock()
		return Outcome{State: st}
	}
	s.mu.Unlock()
	return s.submit(a)
}

// attempt is what a begun gate attempt carries out of the critical section.
type attempt struct {
	trigger   Trigger
	snapshot  []Answer
	answered  int
	submitter Submitter
	deadline  time.Time
}

// beginLocked moves the gate to submitting and captures the answer snapshot.
// Callers hold s.mu.
func (s *Session) beginLocked(trigger Trigger, a *attempt) bool {
	if !s.gate.Begin(trigger) {
		return false
	}
	*a = attempt{
		trigger:   trigger,
		snapshot:  s.answers.Snapshot(),
		answered:  s.answers.Answered(),
		submitter: s.submitter,
		deadline:  s.timer.Deadline(),
	}
	s.emit(Event{Type: EventSubmitting, Data: SubmittingData{Trigger: trigger}})
	return true
}

// submit runs a begun attempt against the collaborator and settles the gate.
func (s *Session) submit(a attempt) Outcome {
	trigger, snapshot, answered, submitter, deadline := a.trigger, a.snapshot, a.answered, a.submitter, a.deadline

	s.log.Info().Str("trigger", string(trigger)).Int("answered", answered).Int("total", len(snapshot)).
		Msg("Submitting exam")

	// Detached from any request: an in-flight submission is never cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SubmitTimeout)
	receipt, err := submitter.Submit(ctx, s.key.ExamID, snapshot)
	cancel()

	s.mu.Lock()
	state := s.gate.Finish(err)
	var retry Trigger
	switch state {
	case GateDone:
		s.emit(Event{Type: EventSubmitted, Data: submittedData(trigger, receipt)})
	case GateIdle:
		msg, fields := describeFailure(err)
		s.emit(Event{Type: EventSubmitFailed, Data: SubmitFailedData{
			Trigger: trigger, Message: msg, Retryable: true, Fields: fields,
		}})
		// A forced trigger may have fired while this attempt was in flight
		// and been turned away by the gate. Run it now.
		switch {
		case s.monitor.Count() >= s.monitor.Threshold():
			retry = TriggerIntegrityViolation
		case s.timer.Remaining() == 0:
			retry = TriggerTimerExpiry
		}
	case GateLocked:
		msg, _ := describeFailure(err)
		s.lockReason = msg
		s.emit(Event{Type: EventLocked, Data: LockedData{
			Trigger: trigger,
			Reason:  msg,
			Message: "Your exam could not be submitted and is now locked. Contact your instructor.",
		}})
	}
	s.mu.Unlock()

	attempt := SubmissionAttempt{
		Trigger:  trigger,
		Success:  err == nil,
		State:    state,
		Answered: answered,
		Total:    len(snapshot),
		At:       s.cfg.Now(),
	}
	if receipt != nil {
		attempt.SubmissionID = receipt.SubmissionID
	}
	if err != nil {
		attempt.Error = err.Error()
	}
	s.auditor.RecordSubmission(context.Background(), s.key, attempt)

	switch state {
	case GateDone:
		s.log.Info().Str("trigger", string(trigger)).Msg("Exam submitted")
		s.store.Clear(context.Background(), s.key)
		s.stop()
		s.finish()
	case GateLocked:
		s.log.Error().Err(err).Str("trigger", string(trigger)).Msg("Forced submission failed, session locked")
		s.store.Lock(context.Background(), s.key, deadline, s.lockReason)
		s.stop()
		s.finish()
	case GateIdle:
		s.log.Warn().Err(err).Msg("Manual submission failed, learner may retry")
		if retry != "" {
			go s.finalize(retry)
		}
	}

	return Outcome{State: state, Ran: true, Receipt: receipt, Err: err}
}

// abandon closes an idle gate without submitting and returns the deadline to
// keep. A locked or finished session cannot be abandoned, nor can one whose
// time is up: its expiry submission is due.
func (s *Session) abandon() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch st := s.gate.State(); st {
	case GateSubmitting:
		return time.Time{}, ErrSubmissionInProgress
	case GateLocked:
		return time.Time{}, ErrSessionLocked
	case GateDone:
		return time.Time{}, fmt.Errorf("%w: %s", ErrNotAccepting, st)
	}
	if s.timer.Remaining() == 0 {
		return time.Time{}, ErrSubmissionInProgress
	}
	s.gate.Close()
	s.emit(Event{Type: EventState, Data: s.viewLocked()})
	return s.timer.Deadline(), nil
}

func (s *Session) finish() {
	if s.onFinish != nil {
		s.onFinish(s)
	}
}

func submittedData(trigger Trigger, r *Receipt) SubmittedData {
	d := SubmittedData{Trigger: trigger}
	if r != nil {
		d.SubmissionID = r.SubmissionID
		d.Score = r.Score
	}
	return d
}

// describeFailure extracts a learner-facing message and field errors from a
// collaborator error when it carries them.
func describeFailure(err error) (string, map[string]string) {
	var fe interface{ FieldErrors() map[string]string }
	var fields map[string]string
	if errors.As(err, &fe) {
		fields = fe.FieldErrors()
	}
	var me interface{ Message() string }
	if errors.As(err, &me) {
		if msg := strings.TrimSpace(me.Message()); msg != "" {
			return msg, fields
		}
	}
	if err == nil {
		return "", fields
	}
	return "Submission failed. Please try again.", fields
}

// emit sends to the attached sink. Callers hold s.mu.
func (s *Session) emit(e Event) {
	if s.sink != nil {
		s.sink.Send(e)
	}
}

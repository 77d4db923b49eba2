package examsession

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

var errTransient = errors.New("503 service unavailable")

// fakeSubmitter records every call. errs[i] is returned by call i; block, when
// set, holds every call until closed.
type fakeSubmitter struct {
	mu    sync.Mutex
	calls [][]Answer
	errs  []error
	block chan struct{}
}

func (f *fakeSubmitter) Submit(_ context.Context, _ string, answers []Answer) (*Receipt, error) {
	f.mu.Lock()
	n := len(f.calls)
	f.calls = append(f.calls, answers)
	var err error
	if n < len(f.errs) {
		err = f.errs[n]
	}
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return nil, err
	}
	return &Receipt{SubmissionID: fmt.Sprintf("sub-%d", n+1)}, nil
}

func (f *fakeSubmitter) Calls() [][]Answer {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]Answer, len(f.calls))
	copy(out, f.calls)
	return out
}

// recordingSink keeps every event it is sent.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Send(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recordingSink) Find(typ EventType) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// recordingAuditor keeps the submission attempts.
type recordingAuditor struct {
	mu         sync.Mutex
	violations []Violation
	attempts   []SubmissionAttempt
}

func (a *recordingAuditor) RecordViolation(_ context.Context, _ Key, v Violation, _ time.Time) {
	a.mu.Lock()
	a.violations = append(a.violations, v)
	a.mu.Unlock()
}

func (a *recordingAuditor) RecordSubmission(_ context.Context, _ Key, at SubmissionAttempt) {
	a.mu.Lock()
	a.attempts = append(a.attempts, at)
	a.mu.Unlock()
}

func (a *recordingAuditor) Attempts() []SubmissionAttempt {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]SubmissionAttempt, len(a.attempts))
	copy(out, a.attempts)
	return out
}

// countingKV counts deletions so tests can assert the record is cleared once.
type countingKV struct {
	*MemoryKV
	dels atomic.Int32
}

func (c *countingKV) Del(ctx context.Context, keys ...string) error {
	c.dels.Add(1)
	return c.MemoryKV.Del(ctx, keys...)
}

type harness struct {
	clock   *fakeClock
	kv      *countingKV
	store   *Store
	auditor *recordingAuditor
	manager *Manager
	cfg     Config
}

func newHarness(t *testing.T, threshold int, requireComplete bool) *harness {
	t.Helper()
	h := &harness{clock: newFakeClock(), kv: &countingKV{MemoryKV: NewMemoryKV()}, auditor: &recordingAuditor{}}
	h.cfg = Config{
		Threshold:       threshold,
		TickInterval:    2 * time.Millisecond,
		SubmitTimeout:   time.Second,
		RequireComplete: requireComplete,
		Now:             h.clock.Now,
	}
	h.store = NewStore(h.kv, h.clock.Now, zerolog.Nop())
	h.manager = NewManager(h.store, h.auditor, h.cfg, zerolog.Nop())
	t.Cleanup(h.manager.Close)
	return h
}

// restart models a new process sharing the same KV.
func (h *harness) restart(t *testing.T) {
	t.Helper()
	h.manager.Close()
	h.store = NewStore(h.kv, h.clock.Now, zerolog.Nop())
	h.manager = NewManager(h.store, h.auditor, h.cfg, zerolog.Nop())
	t.Cleanup(h.manager.Close)
}

func mcqPaper(n int, d time.Duration) Paper {
	qs := make([]Question, n)
	for i := range qs {
		qs[i] = Question{Options: 4}
	}
	return Paper{Questions: qs, Duration: d}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// settle gives stray goroutines a chance to make an extra call.
func settle() { time.Sleep(30 * time.Millisecond) }

func TestThresholdViolationsSubmitExactlyOnce(t *testing.T) {
	for _, tc := range []struct {
		threshold int
		duration  time.Duration
	}{
		{1, time.Minute},
		{3, time.Minute},
		{3, 2 * time.Hour},
		{5, 30 * time.Minute},
	} {
		t.Run(fmt.Sprintf("T=%d D=%s", tc.threshold, tc.duration), func(t *testing.T) {
			h := newHarness(t, tc.threshold, true)
			sub := &fakeSubmitter{}
			s, err := h.manager.Start(context.Background(), testKey, mcqPaper(3, tc.duration), sub)
			if err != nil {
				t.Fatalf("Start: %v", err)
			}

			for i := 0; i < tc.threshold; i++ {
				if _, err := s.Signal(context.Background(), SignalVisibilityHidden); err != nil {
					t.Fatalf("Signal %d: %v", i, err)
				}
			}

			eventually(t, "submission", func() bool { return s.State() == GateDone })
			settle()
			if n := len(sub.Calls()); n != 1 {
				t.Fatalf("submission calls = %d, want 1", n)
			}
			if _, err := s.Signal(context.Background(), SignalVisibilityHidden); !errors.Is(err, ErrNotAccepting) {
				t.Errorf("signal after submission: %v, want ErrNotAccepting", err)
			}
			if n := len(sub.Calls()); n != 1 {
				t.Errorf("submission calls after extra signal = %d, want 1", n)
			}
		})
	}
}

func TestResumePastDeadlineSubmitsOnce(t *testing.T) {
	h := newHarness(t, 3, true)
	sub := &fakeSubmitter{}
	paper := mcqPaper(4, 10*time.Minute)

	s, err := h.manager.Start(context.Background(), testKey, paper, &fakeSubmitter{})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetAnswer(context.Background(), 1, Choice(3)); err != nil {
		t.Fatal(err)
	}

	h.restart(t)
	h.clock.Advance(time.Hour)

	resumed, ok := h.manager.Open(context.Background(), testKey, paper, sub)
	if !ok {
		t.Fatal("expected the expired record to resume")
	}
	eventually(t, "expiry submission", func() bool { return resumed.State() == GateDone })
	settle()

	calls := sub.Calls()
	if len(calls) != 1 {
		t.Fatalf("submission calls = %d, want 1", len(calls))
	}
	want := []any{nil, 3, nil, nil}
	got := Values(calls[0])
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("answers[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if attempts := h.auditor.Attempts(); len(attempts) != 1 || attempts[0].Trigger != TriggerTimerExpiry {
		t.Errorf("unexpected attempts %+v", attempts)
	}
}

func TestConcurrentTriggersSubmitOnce(t *testing.T) {
	h := newHarness(t, 3, false)
	sub := &fakeSubmitter{block: make(chan struct{})}
	s, err := h.manager.Start(context.Background(), testKey, mcqPaper(2, time.Hour), sub)
	if err != nil {
		t.Fatal(err)
	}

	const n = 16
	triggers := []Trigger{TriggerManual, TriggerTimerExpiry, TriggerIntegrityViolation}
	var wg sync.WaitGroup
	var ran atomic.Int32
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(tr Trigger) {
			defer wg.Done()
			if out := s.finalize(tr); out.Ran {
				ran.Add(1)
			}
		}(triggers[i%len(triggers)])
	}

	eventually(t, "first submission call", func() bool { return len(sub.Calls()) == 1 })
	close(sub.block)
	wg.Wait()

	if got := len(sub.Calls()); got != 1 {
		t.Errorf("submission calls = %d, want 1", got)
	}
	if ran.Load() != 1 {
		t.Errorf("%d callers ran the submission, want 1", ran.Load())
	}
}

func TestManualSubmitAllAnswered(t *testing.T) {
	h := newHarness(t, 3, true)
	sub := &fakeSubmitter{}
	sink := &recordingSink{}
	s, err := h.manager.Start(context.Background(), testKey, mcqPaper(3, time.Minute), sub)
	if err != nil {
		t.Fatal(err)
	}
	s.Attach(sink)

	for i := 0; i < 3; i++ {
		if err := s.SetAnswer(context.Background(), i, Choice(i)); err != nil {
			t.Fatal(err)
		}
	}
	h.clock.Advance(30 * time.Second)

	out := s.Submit()
	if out.Err != nil || out.State != GateDone || !out.Ran {
		t.Fatalf("unexpected outcome %+v", out)
	}
	calls := sub.Calls()
	if len(calls) != 1 {
		t.Fatalf("submission calls = %d, want 1", len(calls))
	}
	for i, a := range calls[0] {
		if idx, ok := a.ChoiceIndex(); !ok || idx != i {
			t.Errorf("answers[%d] = %s", i, a)
		}
	}
	if _, ok := h.store.Resume(context.Background(), testKey); ok {
		t.Error("session record should be cleared")
	}
	if _, ok := h.manager.Lookup(testKey); ok {
		t.Error("submitted session should leave the registry")
	}
	if len(sink.Find(EventSubmitted)) != 1 {
		t.Error("expected one submitted event")
	}
	if err := s.SetAnswer(context.Background(), 0, Choice(1)); !errors.Is(err, ErrNotAccepting) {
		t.Errorf("edit after submission: %v, want ErrNotAccepting", err)
	}
}

func TestThirdTabSwitchForcesSubmission(t *testing.T) {
	h := newHarness(t, 3, true)
	sub := &fakeSubmitter{}
	sink := &recordingSink{}
	s, err := h.manager.Start(context.Background(), testKey, mcqPaper(4, time.Minute), sub)
	if err != nil {
		t.Fatal(err)
	}
	s.Attach(sink)
	_ = s.SetAnswer(context.Background(), 2, Choice(1))

	for i, sig := range []Signal{SignalVisibilityHidden, SignalWindowBlur} {
		v, err := s.Signal(context.Background(), sig)
		if err != nil || v.Forced || v.Count != i+1 || v.Threshold != 3 {
			t.Fatalf("signal %d: %+v, %v", i, v, err)
		}
	}
	settle()
	if len(sub.Calls()) != 0 {
		t.Fatal("no submission before the third violation")
	}

	v, _ := s.Signal(context.Background(), SignalVisibilityHidden)
	if !v.Forced {
		t.Fatalf("third violation should force submission: %+v", v)
	}
	eventually(t, "forced submission", func() bool { return s.State() == GateDone })

	calls := sub.Calls()
	if len(calls) != 1 {
		t.Fatalf("submission calls = %d, want 1", len(calls))
	}
	if got := Values(calls[0]); got[2] != 1 || got[0] != nil {
		t.Errorf("unexpected payload %v", got)
	}
	if h.clock.Now().After(s.View().Deadline) {
		t.Error("submission must not wait for the deadline")
	}
	if len(sink.Find(EventWarning)) != 3 {
		t.Errorf("expected 3 warnings, got %d", len(sink.Find(EventWarning)))
	}
	if attempts := h.auditor.Attempts(); len(attempts) != 1 || attempts[0].Trigger != TriggerIntegrityViolation {
		t.Errorf("unexpected attempts %+v", attempts)
	}
}

func TestManualFailureAllowsRetry(t *testing.T) {
	h := newHarness(t, 3, true)
	sub := &fakeSubmitter{errs: []error{errTransient}}
	sink := &recordingSink{}
	s, err := h.manager.Start(context.Background(), testKey, mcqPaper(2, time.Hour), sub)
	if err != nil {
		t.Fatal(err)
	}
	s.Attach(sink)
	_ = s.SetAnswer(context.Background(), 0, Choice(0))
	_ = s.SetAnswer(context.Background(), 1, Choice(1))

	first := s.Submit()
	if !errors.Is(first.Err, errTransient) || first.State != GateIdle {
		t.Fatalf("first attempt = %+v, want idle with error", first)
	}
	failed := sink.Find(EventSubmitFailed)
	if len(failed) != 1 || !failed[0].Data.(SubmitFailedData).Retryable {
		t.Fatalf("expected a retryable submit_failed event, got %+v", failed)
	}
	if h.kv.dels.Load() != 0 {
		t.Fatal("record must survive a failed attempt")
	}

	// The learner may still edit between attempts.
	if err := s.SetAnswer(context.Background(), 1, Choice(2)); err != nil {
		t.Fatalf("edit after failed attempt: %v", err)
	}

	second := s.Submit()
	if second.Err != nil || second.State != GateDone {
		t.Fatalf("retry = %+v, want done", second)
	}
	if n := len(sub.Calls()); n != 2 {
		t.Errorf("submission calls = %d, want 2", n)
	}
	if got := h.kv.dels.Load(); got != 1 {
		t.Errorf("store cleared %d times, want 1", got)
	}
}

func TestExpiryWithPartialAnswers(t *testing.T) {
	h := newHarness(t, 3, true)
	sub := &fakeSubmitter{}
	s, err := h.manager.Start(context.Background(), testKey, mcqPaper(5, time.Minute), sub)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.SetAnswer(context.Background(), 0, Choice(1))
	_ = s.SetAnswer(context.Background(), 3, Choice(2))

	h.clock.Advance(time.Minute)
	eventually(t, "expiry submission", func() bool { return s.State() == GateDone })

	calls := sub.Calls()
	if len(calls) != 1 {
		t.Fatalf("submission calls = %d, want 1", len(calls))
	}
	answered := 0
	for _, a := range calls[0] {
		if a.IsAnswered() {
			answered++
		}
	}
	if len(calls[0]) != 5 || answered != 2 {
		t.Errorf("payload %v, want 2 answered of 5", calls[0])
	}
}

func TestManualSubmitRequiresCompleteAnswers(t *testing.T) {
	h := newHarness(t, 3, true)
	sub := &fakeSubmitter{}
	s, err := h.manager.Start(context.Background(), testKey, mcqPaper(3, time.Hour), sub)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.SetAnswer(context.Background(), 1, Choice(0))

	out := s.Submit()
	var incomplete *IncompleteError
	if !errors.As(out.Err, &incomplete) {
		t.Fatalf("expected IncompleteError, got %v", out.Err)
	}
	if len(incomplete.Unanswered) != 2 || incomplete.FieldErrors()["answers[0]"] == "" {
		t.Errorf("unexpected incomplete error %+v", incomplete)
	}
	if out.State != GateIdle || len(sub.Calls()) != 0 {
		t.Errorf("blocked submission must not reach the collaborator: %+v", out)
	}
}

func TestForcedFailureLocksSession(t *testing.T) {
	h := newHarness(t, 3, true)
	sub := &fakeSubmitter{errs: []error{errTransient}}
	sink := &recordingSink{}
	s, err := h.manager.Start(context.Background(), testKey, mcqPaper(2, time.Minute), sub)
	if err != nil {
		t.Fatal(err)
	}
	s.Attach(sink)

	h.clock.Advance(2 * time.Minute)
	eventually(t, "locked state", func() bool { return s.State() == GateLocked })

	if len(sink.Find(EventLocked)) != 1 {
		t.Error("expected a locked event")
	}
	if err := s.SetAnswer(context.Background(), 0, Choice(0)); !errors.Is(err, ErrNotAccepting) {
		t.Errorf("edit on locked session: %v", err)
	}
	if out := s.Submit(); out.Ran || out.State != GateLocked {
		t.Errorf("submit on locked session = %+v", out)
	}

	// A reload sees the lock, not a fresh attempt.
	h.restart(t)
	again := &fakeSubmitter{}
	resumed, ok := h.manager.Open(context.Background(), testKey, mcqPaper(2, time.Minute), again)
	if !ok || resumed.State() != GateLocked {
		t.Fatalf("resumed state = %v, want locked", resumed)
	}
	settle()
	if len(again.Calls()) != 0 {
		t.Error("locked session must not submit again")
	}
	if _, err := h.manager.Start(context.Background(), testKey, mcqPaper(2, time.Minute), again); !errors.Is(err, ErrSessionLocked) {
		t.Errorf("Start on locked record: %v, want ErrSessionLocked", err)
	}
}

func TestExpiryDuringFailedManualAttemptStillSubmits(t *testing.T) {
	h := newHarness(t, 3, false)
	sub := &fakeSubmitter{errs: []error{errTransient}, block: make(chan struct{})}
	s, err := h.manager.Start(context.Background(), testKey, mcqPaper(2, time.Minute), sub)
	if err != nil {
		t.Fatal(err)
	}

	result := make(chan Outcome, 1)
	go func() { result <- s.Submit() }()
	eventually(t, "manual attempt in flight", func() bool { return len(sub.Calls()) == 1 })

	// The deadline passes while the manual attempt is pending; the timer's
	// trigger is turned away by the gate.
	h.clock.Advance(2 * time.Minute)
	settle()
	close(sub.block)

	if out := <-result; out.State != GateIdle {
		t.Fatalf("manual attempt = %+v, want idle", out)
	}
	eventually(t, "expiry submission", func() bool { return s.State() == GateDone })
	if n := len(sub.Calls()); n != 2 {
		t.Errorf("submission calls = %d, want 2", n)
	}
	attempts := h.auditor.Attempts()
	if len(attempts) != 2 || attempts[1].Trigger != TriggerTimerExpiry || !attempts[1].Success {
		t.Errorf("unexpected attempts %+v", attempts)
	}
}

func TestSetAnswerValidation(t *testing.T) {
	h := newHarness(t, 3, true)
	paper := Paper{
		Questions: []Question{{Options: 2}, {Subjective: true}},
		Duration:  time.Hour,
	}
	s, err := h.manager.Start(context.Background(), testKey, paper, &fakeSubmitter{})
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name  string
		index int
		a     Answer
		want  error
	}{
		{"valid choice", 0, Choice(1), nil},
		{"choice out of range", 0, Choice(2), ErrInvalidAnswer},
		{"text on mcq", 0, Text("b"), ErrInvalidAnswer},
		{"valid text", 1, Text("Because the loop never terminates."), nil},
		{"choice on subjective", 1, Choice(0), ErrInvalidAnswer},
		{"clear", 1, Answer{}, nil},
		{"bad index", 5, Choice(0), ErrIndexOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.SetAnswer(context.Background(), tt.index, tt.a)
			if tt.want == nil && err != nil {
				t.Errorf("unexpected error %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEditsRejectedWhileSubmitting(t *testing.T) {
	h := newHarness(t, 3, false)
	sub := &fakeSubmitter{block: make(chan struct{})}
	s, err := h.manager.Start(context.Background(), testKey, mcqPaper(2, time.Hour), sub)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.SetAnswer(context.Background(), 0, Choice(1))

	done := make(chan Outcome, 1)
	go func() { done <- s.Submit() }()
	eventually(t, "submission in flight", func() bool { return len(sub.Calls()) == 1 })

	if err := s.SetAnswer(context.Background(), 1, Choice(0)); !errors.Is(err, ErrNotAccepting) {
		t.Errorf("edit while submitting: %v, want ErrNotAccepting", err)
	}
	close(sub.block)
	<-done

	// The snapshot was taken before the rejected edit.
	if got := Values(sub.Calls()[0]); got[1] != nil {
		t.Errorf("snapshot changed after the gate closed: %v", got)
	}
}

func TestFullscreenSignalsDoNotCount(t *testing.T) {
	h := newHarness(t, 1, true)
	sub := &fakeSubmitter{}
	sink := &recordingSink{}
	s, err := h.manager.Start(context.Background(), testKey, mcqPaper(1, time.Hour), sub)
	if err != nil {
		t.Fatal(err)
	}
	s.Attach(sink)

	for _, sig := range []Signal{SignalFullscreenExit, SignalFullscreenEnter} {
		if v, err := s.Signal(context.Background(), sig); err != nil || v.Counted {
			t.Errorf("%s: %+v, %v", sig, v, err)
		}
	}
	settle()
	if len(sub.Calls()) != 0 || s.State() != GateIdle {
		t.Error("fullscreen changes must not trigger submission")
	}
	if len(sink.Find(EventNotice)) != 2 || len(sink.Find(EventWarning)) != 0 {
		t.Error("fullscreen changes are reported as notices only")
	}
}

func TestViolationsSurviveRestart(t *testing.T) {
	h := newHarness(t, 3, true)
	paper := mcqPaper(2, time.Hour)
	s, err := h.manager.Start(context.Background(), testKey, paper, &fakeSubmitter{})
	if err != nil {
		t.Fatal(err)
	}
	_, _ = s.Signal(context.Background(), SignalWindowBlur)
	_, _ = s.Signal(context.Background(), SignalWindowBlur)

	h.restart(t)
	sub := &fakeSubmitter{}
	resumed, ok := h.manager.Open(context.Background(), testKey, paper, sub)
	if !ok {
		t.Fatal("expected resume")
	}
	if got := resumed.View().Violations; got != 2 {
		t.Fatalf("violations after reload = %d, want 2", got)
	}
	if v, _ := resumed.Signal(context.Background(), SignalVisibilityHidden); !v.Forced {
		t.Errorf("reload must not reset the counter: %+v", v)
	}
	eventually(t, "forced submission", func() bool { return len(sub.Calls()) == 1 })
}

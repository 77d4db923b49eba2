package examsession

import "time"

// EventType names a message pushed to the exam page.
type EventType string

const (
	EventState        EventType = "state"
	EventTick         EventType = "tick"
	EventWarning      EventType = "warning"
	EventNotice       EventType = "notice"
	EventSubmitting   EventType = "submitting"
	EventSubmitted    EventType = "submitted"
	EventSubmitFailed EventType = "submit_failed"
	EventLocked       EventType = "locked"
	EventSuperseded   EventType = "superseded"
)

// Event is one server-to-page message.
type Event struct {
	Type EventType `json:"event"`
	Data any       `json:"data,omitempty"`
}

// Sink receives session events. Send must not block; the session calls it
// while holding its lock so that events arrive in order.
type Sink interface {
	Send(Event)
}

// StateView is a full picture of a session, sent on attach and after state changes.
type StateView struct {
	ExamID           string    `json:"exam_id"`
	State            GateState `json:"state"`
	Deadline         time.Time `json:"deadline"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	Violations       int       `json:"violations"`
	Threshold        int       `json:"threshold"`
	Answers          []Answer  `json:"answers"`
	Unanswered       []int     `json:"unanswered"`
	LockReason       string    `json:"lock_reason,omitempty"`
}

type TickData struct {
	RemainingSeconds int64 `json:"remaining_seconds"`
}

// WarningData is the blocking warning shown for a counted violation.
type WarningData struct {
	Violation
	Message string `json:"message"`
}

// NoticeData is an advisory message that does not affect the counter.
type NoticeData struct {
	Signal  Signal `json:"signal"`
	Message string `json:"message"`
}

type SubmittingData struct {
	Trigger Trigger `json:"trigger"`
}

type SubmittedData struct {
	Trigger      Trigger  `json:"trigger"`
	SubmissionID string   `json:"submission_id,omitempty"`
	Score        *float64 `json:"score,omitempty"`
}

// SubmitFailedData reports a failed attempt the learner can act on: either
// retry, or complete the fields listed.
type SubmitFailedData struct {
	Trigger   Trigger           `json:"trigger"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// LockedData is the terminal, non-dismissible failure state.
type LockedData struct {
	Trigger Trigger `json:"trigger"`
	Reason  string  `json:"reason"`
	Message string  `json:"message"`
}

type SupersededData struct {
	Message string `json:"message"`
}

func seconds(d time.Duration) int64 {
	return int64((d + time.Second - 1) / time.Second)
}

package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionStart  Action = "start"
	ActionAnswer Action = "answer"
	ActionSignal Action = "signal"
	ActionSubmit Action = "submit"
	ActionPing   Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest records one answer. Exactly one of Choice and Text is set;
// an empty Text clears a subjective answer.
type AnswerRequest struct {
	Action Action  `json:"action"`
	Index  *int    `json:"index" binding:"required,min=0"`
	Choice *int    `json:"choice" binding:"omitempty,min=0"`
	Text   *string `json:"text" binding:"omitempty,max=20000"`
}

// SignalRequest reports a browser boundary event.
type SignalRequest struct {
	Action Action `json:"action"`
	Signal string `json:"signal" binding:"required,oneof=visibility_hidden window_blur fullscreen_exit fullscreen_enter"`
}

// ─── Events (Server → Client) ───────────────────────────────────────
// Session events (state, tick, warning, ...) are written as they come from
// the session. The ones below are replies to a single action.

type Event string

const (
	EventError      Event = "error"
	EventPong       Event = "pong"
	EventSaved      Event = "saved"
	EventNotStarted Event = "not_started"
)

type ErrorResponse struct {
	Event  Event             `json:"event"`
	Code   string            `json:"code"`
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}

type SavedResponse struct {
	Event Event `json:"event"`
	Index int   `json:"index"`
}

// NotStartedResponse tells the page to show the start screen.
type NotStartedResponse struct {
	Event  Event  `json:"event"`
	ExamID string `json:"exam_id"`
}

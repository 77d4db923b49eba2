package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/sentraexam-proctor/internal/examsession"
	"github.com/stemsi/sentraexam-proctor/internal/middleware"
	"github.com/stemsi/sentraexam-proctor/internal/response"
	"github.com/stemsi/sentraexam-proctor/internal/service"
	"github.com/stemsi/sentraexam-proctor/internal/validator"
	ws "github.com/stemsi/sentraexam-proctor/internal/websocket"
)

const (
	// sinkBuffer is how many outbound messages may queue for a slow page
	// before the connection is dropped. The page reconnects and gets a
	// fresh state event.
	sinkBuffer = 64

	closeSuperseded = 4001
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// connSink queues outbound messages for one connection's writer goroutine.
// Send never blocks: the session calls it while holding its lock.
type connSink struct {
	out    chan interface{}
	closed chan struct{}
	once   sync.Once
}

func newConnSink() *connSink {
	return &connSink{out: make(chan interface{}, sinkBuffer), closed: make(chan struct{})}
}

func (s *connSink) Send(e examsession.Event) { s.push(e) }

func (s *connSink) push(v interface{}) {
	select {
	case <-s.closed:
		return
	default:
	}
	select {
	case s.out <- v:
	default:
		s.close()
	}
}

func (s *connSink) close() {
	s.once.Do(func() { close(s.closed) })
}

// WSHandler handles the exam WebSocket stream.
type WSHandler struct {
	examService *service.ExamService
	log         zerolog.Logger
	upgrader    websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(examService *service.ExamService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		examService: examService,
		log:         log.With().Str("component", "ws_handler").Logger(),
		upgrader:    buildUpgrader(allowedOrigins),
	}
}

// ExamStream godoc
// WS /ws/v1/exams/:exam_id/stream
// Attaches the page to the learner's exam session. The session pushes
// state, ticks, warnings and submission progress; the page sends answers,
// integrity signals and the submit action.
func (h *WSHandler) ExamStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	examID, ok := examIDParam(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	// Resolve before upgrading so failures still get a JSON response.
	sess, err := h.examService.Connect(ctx, claims, examID)
	if err != nil && !errors.Is(err, examsession.ErrNoSession) {
		failWith(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(ws.MaxMessageBytes)

	wsLog := h.log.With().
		Str("learner_id", claims.LearnerID).
		Str("exam_id", examID).
		Logger()
	wsLog.Info().Msg("Learner connected")

	sink := newConnSink()
	writerDone := make(chan struct{})
	go h.writeLoop(conn, sink, writerDone, wsLog)

	if sess != nil {
		sess.Attach(sink)
	} else {
		sink.push(ws.NotStartedResponse{Event: ws.EventNotStarted, ExamID: examID})
	}

	for {
		data, err := ws.ReadMessage(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			replyCode(sink, response.ErrInvalidPayload, nil)
			continue
		}

		switch env.Action {
		case ws.ActionPing:
			sink.push(ws.PongResponse{Event: ws.EventPong})
		case ws.ActionStart:
			sess = h.handleStart(ctx, claims, examID, sess, sink, wsLog)
		case ws.ActionAnswer:
			h.handleAnswer(ctx, sess, data, sink, wsLog)
		case ws.ActionSignal:
			h.handleSignal(ctx, sess, data, sink, wsLog)
		case ws.ActionSubmit:
			h.handleSubmit(sess, sink)
		default:
			wsLog.Warn().Str("action", string(env.Action)).Msg("Unknown action")
			replyCode(sink, response.ErrUnknownAction, nil)
		}
	}

	// The session keeps running; expiry submits without a page attached.
	if sess != nil {
		sess.Detach(sink)
	}
	sink.close()
	<-writerDone
	wsLog.Info().Msg("Learner disconnected")
}

// writeLoop is the connection's only writer.
func (h *WSHandler) writeLoop(conn *websocket.Conn, sink *connSink, done chan<- struct{}, log zerolog.Logger) {
	defer close(done)
	for {
		select {
		case v := <-sink.out:
			if err := ws.WriteTyped(conn, v); err != nil {
				log.Debug().Err(err).Msg("Write failed")
				sink.close()
				conn.Close()
				return
			}
			if e, ok := v.(examsession.Event); ok && e.Type == examsession.EventSuperseded {
				_ = ws.CloseWith(conn, closeSuperseded, "opened in another window")
				sink.close()
				conn.Close()
				return
			}
		case <-sink.closed:
			// Reader finished, or the page fell too far behind.
			_ = ws.CloseWith(conn, websocket.CloseTryAgainLater, "reconnect")
			conn.Close()
			return
		}
	}
}

func (h *WSHandler) handleStart(ctx context.Context, claims *service.Claims, examID string, current *examsession.Session, sink *connSink, log zerolog.Logger) *examsession.Session {
	if current != nil {
		replyErr(sink, examsession.ErrAlreadyStarted, log)
		return current
	}

	sess, err := h.examService.Start(ctx, claims, examID)
	if errors.Is(err, examsession.ErrAlreadyStarted) {
		// Started from another window in the meantime: join it.
		sess, err = h.examService.Connect(ctx, claims, examID)
	}
	if err != nil {
		replyErr(sink, err, log)
		return nil
	}
	sess.Attach(sink)
	return sess
}

func (h *WSHandler) handleAnswer(ctx context.Context, sess *examsession.Session, data []byte, sink *connSink, log zerolog.Logger) {
	if sess == nil {
		replyErr(sink, examsession.ErrNoSession, log)
		return
	}
	var req ws.AnswerRequest
	if err := json.Unmarshal(data, &req); err != nil {
		replyCode(sink, response.ErrInvalidPayload, nil)
		return
	}
	if fields := validator.Struct(&req); fields != nil {
		replyCode(sink, response.ErrValidation, fields)
		return
	}

	var answer examsession.Answer
	switch {
	case req.Choice != nil:
		answer = examsession.Choice(*req.Choice)
	case strings.TrimSpace(*req.Text) != "":
		answer = examsession.Text(*req.Text)
	}
	if err := sess.SetAnswer(ctx, *req.Index, answer); err != nil {
		replyErr(sink, err, log)
		return
	}
	sink.push(ws.SavedResponse{Event: ws.EventSaved, Index: *req.Index})
}

func (h *WSHandler) handleSignal(ctx context.Context, sess *examsession.Session, data []byte, sink *connSink, log zerolog.Logger) {
	if sess == nil {
		replyErr(sink, examsession.ErrNoSession, log)
		return
	}
	var req ws.SignalRequest
	if err := json.Unmarshal(data, &req); err != nil {
		replyCode(sink, response.ErrInvalidPayload, nil)
		return
	}
	if fields := validator.Struct(&req); fields != nil {
		replyCode(sink, response.ErrValidation, fields)
		return
	}
	sig, err := examsession.ParseSignal(req.Signal)
	if err == nil {
		// Warnings and notices are pushed by the session itself.
		_, err = sess.Signal(ctx, sig)
	}
	if err != nil {
		replyErr(sink, err, log)
	}
}

// handleSubmit runs the gate off the read loop so answers and signals keep
// flowing while the backend call is in flight. Progress and failures are
// pushed by the session.
func (h *WSHandler) handleSubmit(sess *examsession.Session, sink *connSink) {
	if sess == nil {
		replyCode(sink, response.ErrNoSession, nil)
		return
	}
	go func() {
		out := sess.Submit()
		if out.Ran || out.Err != nil {
			return
		}
		if out.State == examsession.GateSubmitting {
			replyCode(sink, response.ErrSubmissionInProgress, nil)
		} else {
			replyCode(sink, response.ErrNotAccepting, nil)
		}
	}()
}

func replyErr(sink *connSink, err error, log zerolog.Logger) {
	_, code := classify(err)
	if code == response.ErrInternal {
		log.Error().Err(err).Msg("Exam stream action failed")
	}
	replyCode(sink, code, nil)
}

func replyCode(sink *connSink, code response.ErrCode, fields map[string]string) {
	sink.push(ws.ErrorResponse{
		Event:  ws.EventError,
		Code:   string(code),
		Error:  response.GetMessage(code),
		Fields: fields,
	})
}

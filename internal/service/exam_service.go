package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/sentraexam-proctor/internal/examsession"
	"github.com/stemsi/sentraexam-proctor/internal/model"
	"github.com/stemsi/sentraexam-proctor/internal/sentraexam"
)

// Exam errors.
var (
	ErrExamNotFound     = errors.New("exam not found")
	ErrNotOnlineExam    = errors.New("this exam is not taken online")
	ErrAlreadySubmitted = errors.New("you have already submitted this exam")
)

// AuditReader reads a learner's audit history.
type AuditReader interface {
	ListViolations(ctx context.Context, learnerID, examID uuid.UUID) ([]model.ViolationRecord, error)
	ListSubmissionAttempts(ctx context.Context, learnerID, examID uuid.UUID) ([]model.SubmissionAttemptRecord, error)
}

// ExamService connects learners to their timed exam sessions. Exam content
// is always read from the backend with the learner's own tokens, so the
// backend's visibility rules apply unchanged.
type ExamService struct {
	backend *sentraexam.Client
	auth    *AuthService
	manager *examsession.Manager
	audit   AuditReader
	log     zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(backend *sentraexam.Client, auth *AuthService, manager *examsession.Manager, audit AuditReader, log zerolog.Logger) *ExamService {
	return &ExamService{
		backend: backend,
		auth:    auth,
		manager: manager,
		audit:   audit,
		log:     log.With().Str("component", "exam_service").Logger(),
	}
}

func sessionKey(claims *Claims, examID string) examsession.Key {
	return examsession.Key{LearnerID: claims.LearnerID, ExamID: examID}
}

// GetPaper returns the exam without answer keys, plus the session state when
// the learner has already started.
func (s *ExamService) GetPaper(ctx context.Context, claims *Claims, examID string) (*model.ExamPaper, error) {
	learner := s.backend.Learner(s.auth.TokenSource(claims.ID))
	a, err := s.assessment(ctx, learner, examID)
	if err != nil {
		return nil, err
	}

	out := &model.ExamPaper{Exam: examInfo(a), Questions: paperQuestions(a)}
	if sess, ok := s.manager.Open(ctx, sessionKey(claims, examID), sessionPaper(a), s.submitter(learner)); ok {
		out.Session = SessionState(sess.View())
	}
	return out, nil
}

// Start begins the learner's timed attempt and returns the live session.
func (s *ExamService) Start(ctx context.Context, claims *Claims, examID string) (*examsession.Session, error) {
	learner := s.backend.Learner(s.auth.TokenSource(claims.ID))
	a, err := s.assessment(ctx, learner, examID)
	if err != nil {
		return nil, err
	}

	key := sessionKey(claims, examID)
	if _, live := s.manager.Lookup(key); !live {
		// The backend keeps one submission per learner; starting again would
		// only end in a refused submission.
		subs, err := learner.ListSubmissions(ctx, examID)
		switch {
		case err == nil && len(subs) > 0:
			return nil, ErrAlreadySubmitted
		case errors.Is(err, sentraexam.ErrSessionExpired):
			return nil, err
		case err != nil:
			s.log.Warn().Err(err).Str("exam_id", examID).Msg("Could not check existing submissions, starting anyway")
		}
	}

	return s.manager.Start(ctx, key, sessionPaper(a), s.submitter(learner))
}

// Connect returns the learner's live session for a websocket, resuming it
// from the store when needed. It fails with examsession.ErrNoSession if the
// learner has not started.
func (s *ExamService) Connect(ctx context.Context, claims *Claims, examID string) (*examsession.Session, error) {
	learner := s.backend.Learner(s.auth.TokenSource(claims.ID))
	a, err := s.assessment(ctx, learner, examID)
	if err != nil {
		return nil, err
	}
	sess, ok := s.manager.Open(ctx, sessionKey(claims, examID), sessionPaper(a), s.submitter(learner))
	if !ok {
		return nil, examsession.ErrNoSession
	}
	return sess, nil
}

// Abandon discards the learner's attempt without submitting it.
func (s *ExamService) Abandon(ctx context.Context, claims *Claims, examID string) error {
	return s.manager.Abandon(ctx, sessionKey(claims, examID))
}

// GetAudit returns the learner's own violations and submission attempts.
func (s *ExamService) GetAudit(ctx context.Context, claims *Claims, examID string) (*model.AuditTrail, error) {
	trail := &model.AuditTrail{
		Violations:  []model.ViolationRecord{},
		Submissions: []model.SubmissionAttemptRecord{},
	}
	examUUID, err := uuid.Parse(examID)
	if err != nil {
		return nil, ErrExamNotFound
	}
	learnerUUID, err := uuid.Parse(claims.LearnerID)
	if err != nil {
		// Nothing is ever recorded for ids that are not UUIDs.
		return trail, nil
	}

	violations, err := s.audit.ListViolations(ctx, learnerUUID, examUUID)
	if err != nil {
		return nil, fmt.Errorf("list violations: %w", err)
	}
	attempts, err := s.audit.ListSubmissionAttempts(ctx, learnerUUID, examUUID)
	if err != nil {
		return nil, fmt.Errorf("list submission attempts: %w", err)
	}
	trail.Violations = append(trail.Violations, violations...)
	trail.Submissions = append(trail.Submissions, attempts...)
	return trail, nil
}

func (s *ExamService) assessment(ctx context.Context, learner *sentraexam.LearnerClient, examID string) (*sentraexam.Assessment, error) {
	a, err := learner.GetAssessment(ctx, examID)
	if err != nil {
		var apiErr *sentraexam.APIError
		switch {
		case sentraexam.IsStatus(err, http.StatusNotFound), sentraexam.IsStatus(err, http.StatusForbidden):
			return nil, ErrExamNotFound
		case errors.Is(err, sentraexam.ErrSessionExpired):
			return nil, err
		case errors.As(err, &apiErr) && apiErr.Transient():
			return nil, ErrBackendUnavailable
		}
		return nil, fmt.Errorf("get assessment: %w", err)
	}
	if a.SubmissionFormat != "" && a.SubmissionFormat != sentraexam.FormatOnline {
		return nil, ErrNotOnlineExam
	}
	return a, nil
}

func (s *ExamService) submitter(learner *sentraexam.LearnerClient) examsession.Submitter {
	return &backendSubmitter{learner: learner, log: s.log}
}

// backendSubmitter posts answers to the Sentraexam submissions endpoint.
type backendSubmitter struct {
	learner *sentraexam.LearnerClient
	log     zerolog.Logger
}

func (b *backendSubmitter) Submit(ctx context.Context, examID string, answers []examsession.Answer) (*examsession.Receipt, error) {
	sub, err := b.learner.SubmitAssessment(ctx, examID, examsession.Values(answers))
	if err == nil {
		return receipt(sub), nil
	}

	// An earlier attempt may have reached the backend even though its
	// response was lost. The backend holds one submission per learner.
	if existing, listErr := b.learner.ListSubmissions(ctx, examID); listErr == nil && len(existing) > 0 {
		b.log.Info().Err(err).Str("exam_id", examID).Str("submission_id", existing[0].ID).
			Msg("Submission already recorded by the backend")
		return receipt(&existing[0]), nil
	}

	if errors.Is(err, sentraexam.ErrSessionExpired) {
		return nil, &learnerError{msg: "Your login has expired. Log in again to submit your exam.", err: err}
	}
	return nil, err
}

func receipt(s *sentraexam.Submission) *examsession.Receipt {
	return &examsession.Receipt{SubmissionID: s.ID, Score: s.Score}
}

// learnerError attaches a message meant for the learner to an internal error.
type learnerError struct {
	msg string
	err error
}

func (e *learnerError) Error() string   { return e.err.Error() }
func (e *learnerError) Unwrap() error   { return e.err }
func (e *learnerError) Message() string { return e.msg }

func sessionPaper(a *sentraexam.Assessment) examsession.Paper {
	questions := make([]examsession.Question, len(a.Questions))
	for i, q := range a.Questions {
		questions[i] = examsession.Question{
			Subjective: q.Kind() == sentraexam.QuestionSubjective,
			Options:    len(q.Options),
		}
	}
	return examsession.Paper{
		Questions: questions,
		Duration:  a.Duration(),
		OpensAt:   a.ScheduledAt,
		ClosesAt:  a.ClosesAt,
	}
}

func examInfo(a *sentraexam.Assessment) model.ExamInfo {
	return model.ExamInfo{
		ID:              a.ID,
		Title:           a.Title,
		CourseCode:      a.CourseCode,
		Description:     a.Description,
		Instructions:    a.Instructions,
		DurationMinutes: a.DurationMinutes,
		TotalMarks:      a.TotalMarks,
		QuestionCount:   len(a.Questions),
		ScheduledAt:     a.ScheduledAt,
		ClosesAt:        a.ClosesAt,
	}
}

// paperQuestions strips the answer keys.
func paperQuestions(a *sentraexam.Assessment) []model.PaperQuestion {
	out := make([]model.PaperQuestion, len(a.Questions))
	for i, q := range a.Questions {
		pq := model.PaperQuestion{
			Index:  i,
			Prompt: q.Prompt,
			Type:   model.QuestionType(q.Kind()),
			Marks:  q.Marks,
		}
		if q.Kind() == sentraexam.QuestionMCQ {
			pq.Options = make([]string, len(q.Options))
			for j, o := range q.Options {
				pq.Options[j] = o.Text
			}
		}
		out[i] = pq
	}
	return out
}

// SessionState converts a session view for REST responses.
func SessionState(v examsession.StateView) *model.SessionState {
	return &model.SessionState{
		Status:           string(v.State),
		Deadline:         v.Deadline,
		RemainingSeconds: v.RemainingSeconds,
		Violations:       v.Violations,
		Threshold:        v.Threshold,
		Answers:          examsession.Values(v.Answers),
		Unanswered:       v.Unanswered,
		LockReason:       v.LockReason,
	}
}

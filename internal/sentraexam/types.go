package sentraexam

import "time"

// TokenPair is the SimpleJWT access/refresh pair issued by the backend.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// User is the subset of /auth/accounts/me/ the proctor needs.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

// QuestionType is MCQ or SUBJECTIVE. Questions without a type are MCQ.
type QuestionType string

const (
	QuestionMCQ        QuestionType = "MCQ"
	QuestionSubjective QuestionType = "SUBJECTIVE"
)

// Option is one choice of an MCQ question.
type Option struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// Question is one entry of an assessment's question list.
type Question struct {
	Prompt  string       `json:"prompt"`
	Type    QuestionType `json:"type,omitempty"`
	Marks   int          `json:"marks,omitempty"`
	Options []Option     `json:"options"`
}

// Kind returns the effective question type.
func (q Question) Kind() QuestionType {
	if q.Type == "" {
		return QuestionMCQ
	}
	return q.Type
}

// SubmissionFormat values accepted by the backend.
const (
	FormatOnline      = "ONLINE"
	FormatText        = "TEXT"
	FormatFile        = "FILE"
	FormatTextAndFile = "TEXT_AND_FILE"
)

// Assessment mirrors the backend's assessment representation.
type Assessment struct {
	ID               string     `json:"id"`
	Course           string     `json:"course"`
	CourseCode       string     `json:"course_code"`
	Title            string     `json:"title"`
	AssessmentType   string     `json:"assessment_type"`
	Description      string     `json:"description"`
	Instructions     string     `json:"instructions"`
	Questions        []Question `json:"questions"`
	DurationMinutes  int        `json:"duration_minutes"`
	TotalMarks       int        `json:"total_marks"`
	Status           string     `json:"status"`
	SubmissionFormat string     `json:"submission_format"`
	ScheduledAt      *time.Time `json:"scheduled_at"`
	ClosesAt         *time.Time `json:"closes_at"`
}

// Duration returns the exam's time budget.
func (a *Assessment) Duration() time.Duration {
	return time.Duration(a.DurationMinutes) * time.Minute
}

// Submission is the backend's answer to a successful submission.
type Submission struct {
	ID          string     `json:"id"`
	Assessment  string     `json:"assessment"`
	Status      string     `json:"status"`
	Score       *float64   `json:"score"`
	SubmittedAt *time.Time `json:"submitted_at"`
}

type submitRequest struct {
	Assessment string `json:"assessment"`
	Answers    []any  `json:"answers"`
}

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

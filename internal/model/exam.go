package model

import "time"

// QuestionType mirrors the backend's question types.
type QuestionType string

const (
	QuestionTypeMCQ        QuestionType = "MCQ"
	QuestionTypeSubjective QuestionType = "SUBJECTIVE"
)

// PaperQuestion is a question as shown to the learner. Answer keys are never
// included.
type PaperQuestion struct {
	Index   int          `json:"index"`
	Prompt  string       `json:"prompt"`
	Type    QuestionType `json:"type"`
	Marks   int          `json:"marks"`
	Options []string     `json:"options,omitempty"`
}

// ExamInfo is the exam metadata shown on the start screen.
type ExamInfo struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	CourseCode      string     `json:"course_code,omitempty"`
	Description     string     `json:"description,omitempty"`
	Instructions    string     `json:"instructions,omitempty"`
	DurationMinutes int        `json:"duration_minutes"`
	TotalMarks      int        `json:"total_marks"`
	QuestionCount   int        `json:"question_count"`
	ScheduledAt     *time.Time `json:"scheduled_at,omitempty"`
	ClosesAt        *time.Time `json:"closes_at,omitempty"`
}

// ExamPaper is returned when the exam page loads. Session is nil until the
// learner starts; when present the page resumes without the start screen.
type ExamPaper struct {
	Exam      ExamInfo        `json:"exam"`
	Questions []PaperQuestion `json:"questions"`
	Session   *SessionState   `json:"session"`
}

package examsession

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrIndexOutOfRange is returned for a question index outside the paper.
var ErrIndexOutOfRange = errors.New("question index out of range")

// AnswerKind tags the content of an answer slot.
type AnswerKind uint8

const (
	Unanswered AnswerKind = iota
	ChoiceAnswer
	TextAnswer
)

// Answer is one slot of the answer buffer: unanswered, a selected option index,
// or free text. Its JSON form is null, an integer, or a string.
type Answer struct {
	kind   AnswerKind
	choice int
	text   string
}

// Choice returns an answer selecting option i.
func Choice(i int) Answer { return Answer{kind: ChoiceAnswer, choice: i} }

// Text returns a free-text answer.
func Text(s string) Answer { return Answer{kind: TextAnswer, text: s} }

func (a Answer) Kind() AnswerKind { return a.kind }

// IsAnswered reports whether the slot holds a choice or text.
func (a Answer) IsAnswered() bool { return a.kind != Unanswered }

// ChoiceIndex returns the selected option and whether the slot is a choice.
func (a Answer) ChoiceIndex() (int, bool) { return a.choice, a.kind == ChoiceAnswer }

// TextValue returns the free text and whether the slot is text.
func (a Answer) TextValue() (string, bool) { return a.text, a.kind == TextAnswer }

// Value returns nil, int or string, the shape the submission API expects.
func (a Answer) Value() any {
	switch a.kind {
	case ChoiceAnswer:
		return a.choice
	case TextAnswer:
		return a.text
	default:
		return nil
	}
}

func (a Answer) String() string {
	switch a.kind {
	case ChoiceAnswer:
		return fmt.Sprintf("choice(%d)", a.choice)
	case TextAnswer:
		return fmt.Sprintf("text(%q)", a.text)
	default:
		return "unanswered"
	}
}

func (a Answer) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Value())
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*a = Answer{}
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Text(s)
		return nil
	}
	var i int
	if err := json.Unmarshal(data, &i); err != nil {
		return fmt.Errorf("answer must be null, an option index or text: %w", err)
	}
	*a = Choice(i)
	return nil
}

// AnswerBuffer holds one slot per question. It is not safe for concurrent use;
// Session serializes access.
type AnswerBuffer struct {
	slots []Answer
}

// NewAnswerBuffer returns a buffer of n unanswered slots.
func NewAnswerBuffer(n int) *AnswerBuffer {
	return &AnswerBuffer{slots: make([]Answer, n)}
}

func (b *AnswerBuffer) Len() int { return len(b.slots) }

// Set overwrites slot i. Last write wins.
func (b *AnswerBuffer) Set(i int, a Answer) error {
	if i < 0 || i >= len(b.slots) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	b.slots[i] = a
	return nil
}

// Get returns slot i.
func (b *AnswerBuffer) Get(i int) (Answer, error) {
	if i < 0 || i >= len(b.slots) {
		return Answer{}, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	return b.slots[i], nil
}

// AllAnswered reports whether no slot is unanswered.
func (b *AnswerBuffer) AllAnswered() bool {
	for _, a := range b.slots {
		if !a.IsAnswered() {
			return false
		}
	}
	return true
}

// Unanswered returns the indices of empty slots.
func (b *AnswerBuffer) Unanswered() []int {
	var idx []int
	for i, a := range b.slots {
		if !a.IsAnswered() {
			idx = append(idx, i)
		}
	}
	return idx
}

// Answered returns the number of filled slots.
func (b *AnswerBuffer) Answered() int {
	return len(b.slots) - len(b.Unanswered())
}

// Snapshot returns a copy that later Set calls do not affect.
func (b *AnswerBuffer) Snapshot() []Answer {
	out := make([]Answer, len(b.slots))
	copy(out, b.slots)
	return out
}

// Values converts a snapshot to the submission payload.
func Values(answers []Answer) []any {
	out := make([]any, len(answers))
	for i, a := range answers {
		out[i] = a.Value()
	}
	return out
}

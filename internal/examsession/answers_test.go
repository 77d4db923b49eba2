package examsession

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestAnswerBufferSetSnapshot(t *testing.T) {
	b := NewAnswerBuffer(4)
	if b.AllAnswered() {
		t.Fatal("fresh buffer must not be fully answered")
	}

	if err := b.Set(2, Choice(1)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	snap := b.Snapshot()
	for i, a := range snap {
		if i == 2 {
			if idx, ok := a.ChoiceIndex(); !ok || idx != 1 {
				t.Errorf("slot 2 = %s, want choice(1)", a)
			}
			continue
		}
		if a.IsAnswered() {
			t.Errorf("slot %d should be unanswered, got %s", i, a)
		}
	}

	// Last write wins.
	_ = b.Set(2, Text("changed my mind"))
	if got, _ := b.Get(2); got.Kind() != TextAnswer {
		t.Errorf("expected text answer after overwrite, got %s", got)
	}

	// The snapshot is independent of later writes.
	if snap[2].Kind() != ChoiceAnswer {
		t.Errorf("snapshot mutated by later Set: %s", snap[2])
	}
}

func TestAnswerBufferBounds(t *testing.T) {
	b := NewAnswerBuffer(2)
	for _, i := range []int{-1, 2, 10} {
		if err := b.Set(i, Choice(0)); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("Set(%d) error = %v, want ErrIndexOutOfRange", i, err)
		}
	}
}

func TestAnswerBufferAllAnswered(t *testing.T) {
	b := NewAnswerBuffer(3)
	_ = b.Set(0, Choice(0))
	_ = b.Set(2, Text("x"))
	if got := b.Unanswered(); len(got) != 1 || got[0] != 1 {
		t.Errorf("Unanswered = %v, want [1]", got)
	}
	if b.Answered() != 2 {
		t.Errorf("Answered = %d, want 2", b.Answered())
	}
	_ = b.Set(1, Choice(3))
	if !b.AllAnswered() {
		t.Error("expected AllAnswered after filling every slot")
	}
}

func TestAnswerJSON(t *testing.T) {
	in := []Answer{{}, Choice(2), Text("photosynthesis")}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `[null,2,"photosynthesis"]` {
		t.Fatalf("unexpected encoding %s", data)
	}

	var out []Answer
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if out[0].IsAnswered() || out[1].Kind() != ChoiceAnswer || out[2].Kind() != TextAnswer {
		t.Errorf("unexpected decoding %v", out)
	}

	var bad Answer
	if err := json.Unmarshal([]byte(`{"x":1}`), &bad); err == nil {
		t.Error("expected error for object answer")
	}
}

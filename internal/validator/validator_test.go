package validator

import (
	"strings"
	"testing"

	ws "github.com/stemsi/sentraexam-proctor/internal/websocket"
)

func init() {
	Setup()
}

func intp(i int) *int { return &i }
func strp(s string) *string { return &s }

func TestAnswerRequestNeedsExactlyOneValue(t *testing.T) {
	cases := []struct {
		name  string
		req   ws.AnswerRequest
		field string
	}{
		{"choice", ws.AnswerRequest{Index: intp(0), Choice: intp(2)}, ""},
		{"text", ws.AnswerRequest{Index: intp(1), Text: strp("because")}, ""},
		{"neither", ws.AnswerRequest{Index: intp(0)}, "choice"},
		{"both", ws.AnswerRequest{Index: intp(0), Choice: intp(1), Text: strp("x")}, "choice"},
		{"missing index", ws.AnswerRequest{Choice: intp(1)}, "index"},
		{"negative index", ws.AnswerRequest{Index: intp(-1), Choice: intp(1)}, "index"},
		{"negative choice", ws.AnswerRequest{Index: intp(0), Choice: intp(-3)}, "choice"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fields := Struct(&tc.req)
			if tc.field == "" {
				if fields != nil {
					t.Fatalf("unexpected errors %v", fields)
				}
				return
			}
			if _, ok := fields[tc.field]; !ok {
				t.Fatalf("expected error on %q, got %v", tc.field, fields)
			}
		})
	}
}

func TestOneAnswerMessageIsTranslated(t *testing.T) {
	fields := Struct(&ws.AnswerRequest{Index: intp(0)})
	if !strings.Contains(fields["choice"], "exactly one of choice or text") {
		t.Errorf("message = %q", fields["choice"])
	}
}

func TestSignalRequest(t *testing.T) {
	if fields := Struct(&ws.SignalRequest{Signal: "window_blur"}); fields != nil {
		t.Errorf("valid signal rejected: %v", fields)
	}
	fields := Struct(&ws.SignalRequest{Signal: "devtools_open"})
	if _, ok := fields["signal"]; !ok {
		t.Errorf("unknown signal accepted: %v", fields)
	}
}

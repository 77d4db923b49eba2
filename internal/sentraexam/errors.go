package sentraexam

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

var (
	// ErrSessionExpired means the backend tokens are missing or could not be refreshed.
	// The learner has to log in again.
	ErrSessionExpired = errors.New("sentraexam: session expired")
	// ErrNoTokens is returned by a TokenSource that holds no tokens.
	ErrNoTokens = errors.New("sentraexam: no tokens")
)

// APIError is a non-2xx response or a transport failure talking to the backend.
// Status is 0 for transport failures.
type APIError struct {
	Status int
	Detail string
	Fields map[string]string
	cause  error
}

func (e *APIError) Error() string {
	var b strings.Builder
	b.WriteString("sentraexam: ")
	if e.Status == 0 {
		b.WriteString("request failed")
	} else {
		fmt.Fprintf(&b, "%d %s", e.Status, http.StatusText(e.Status))
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " [%s: %s]", k, e.Fields[k])
		}
	}
	return b.String()
}

func (e *APIError) Unwrap() error { return e.cause }

// Transient reports whether retrying the same request later may succeed.
func (e *APIError) Transient() bool {
	switch {
	case e.Status == 0:
		return true
	case e.Status == http.StatusRequestTimeout, e.Status == http.StatusTooManyRequests:
		return true
	case e.Status >= 500:
		return true
	}
	return false
}

// FieldErrors exposes field-level validation messages (DRF serializer errors).
func (e *APIError) FieldErrors() map[string]string { return e.Fields }

// Message returns the most useful human-readable text for the learner.
func (e *APIError) Message() string {
	if e.Detail != "" {
		return e.Detail
	}
	for _, k := range []string{"answers", "assessment", "non_field_errors"} {
		if msg, ok := e.Fields[k]; ok {
			return msg
		}
	}
	if e.Status == 0 {
		return "The exam server could not be reached."
	}
	return http.StatusText(e.Status)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// parseAPIError flattens the DRF error shapes:
//
//	{"detail": "..."}
//	{"field": "msg"} / {"field": ["msg", ...]}
//	["msg", ...]
func parseAPIError(status int, body []byte) *APIError {
	apiErr := &APIError{Status: status}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(body, &obj); err == nil {
		for key, raw := range obj {
			msg := flattenMessage(raw)
			if msg == "" {
				continue
			}
			if key == "detail" {
				apiErr.Detail = msg
				continue
			}
			if apiErr.Fields == nil {
				apiErr.Fields = make(map[string]string)
			}
			apiErr.Fields[key] = msg
		}
		return apiErr
	}

	var list []string
	if err := json.Unmarshal(body, &list); err == nil {
		apiErr.Detail = strings.Join(list, " ")
		return apiErr
	}

	apiErr.Detail = strings.TrimSpace(string(body))
	if len(apiErr.Detail) > 200 {
		apiErr.Detail = apiErr.Detail[:200]
	}
	return apiErr
}

func flattenMessage(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return strings.Join(list, " ")
	}
	var nested map[string]json.RawMessage
	if err := json.Unmarshal(raw, &nested); err == nil {
		parts := make([]string, 0, len(nested))
		for k, v := range nested {
			if m := flattenMessage(v); m != "" {
				parts = append(parts, k+": "+m)
			}
		}
		sort.Strings(parts)
		return strings.Join(parts, "; ")
	}
	return ""
}

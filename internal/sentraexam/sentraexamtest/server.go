// Package sentraexamtest runs an in-process stand-in for the Sentraexam API.
//
// It implements the endpoints the proctor uses with the backend's rules:
// bearer tokens with refresh rotation, student-only visibility of their own
// submissions, one submission per learner and assessment, and the
// scheduled_at / closes_at window.
package sentraexamtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stemsi/sentraexam-proctor/internal/sentraexam"
)

// Password is accepted for every registered user.
const Password = "secret"

type submission struct {
	ID      string `json:"id"`
	Exam    string `json:"assessment"`
	Status  string `json:"status"`
	Answers []any  `json:"-"`
	userID  string
}

// Server is a fake Sentraexam deployment.
type Server struct {
	srv *httptest.Server

	mu          sync.Mutex
	users       map[string]sentraexam.User // by email
	assessments map[string]sentraexam.Assessment
	access      map[string]string // access token -> user id
	refresh     map[string]string // refresh token -> user id
	submissions []submission
	failSubmits int
	seq         int
	now         func() time.Time
}

// NewServer starts a Server that is closed when the test ends.
func NewServer(t testing.TB) *Server {
	s := &Server{
		users:       make(map[string]sentraexam.User),
		assessments: make(map[string]sentraexam.Assessment),
		access:      make(map[string]string),
		refresh:     make(map[string]string),
		now:         time.Now,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/token/", s.obtain)
	mux.HandleFunc("POST /api/auth/token/refresh/", s.refreshTokens)
	mux.HandleFunc("GET /api/auth/accounts/me/", s.me)
	mux.HandleFunc("GET /api/assessments/submissions/", s.listSubmissions)
	mux.HandleFunc("POST /api/assessments/submissions/", s.submit)
	mux.HandleFunc("GET /api/assessments/{id}/", s.assessment)
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

// URL is the API base URL, including the /api prefix.
func (s *Server) URL() string { return s.srv.URL + "/api" }

// AddUser registers an account.
func (s *Server) AddUser(id, email, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[email] = sentraexam.User{ID: id, Email: email, FirstName: "Test", LastName: "Learner", Role: role}
}

// AddAssessment publishes an assessment.
func (s *Server) AddAssessment(a sentraexam.Assessment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assessments[a.ID] = a
}

// FailSubmissions makes the next n submissions fail with 503.
func (s *Server) FailSubmissions(n int) {
	s.mu.Lock()
	s.failSubmits = n
	s.mu.Unlock()
}

// Submissions returns the answer lists accepted for an assessment.
func (s *Server) Submissions(assessmentID string) [][]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out [][]any
	for _, sub := range s.submissions {
		if sub.Exam == assessmentID {
			out = append(out, sub.Answers)
		}
	}
	return out
}

// ExpireAccess invalidates every issued access token, forcing a refresh.
func (s *Server) ExpireAccess() {
	s.mu.Lock()
	s.access = make(map[string]string)
	s.mu.Unlock()
}

func (s *Server) issue(userID string) sentraexam.TokenPair {
	s.seq++
	pair := sentraexam.TokenPair{
		Access:  fmt.Sprintf("access-%d", s.seq),
		Refresh: fmt.Sprintf("refresh-%d", s.seq),
	}
	s.access[pair.Access] = userID
	s.refresh[pair.Refresh] = userID
	return pair
}

func (s *Server) obtain(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[req.Email]
	if !ok || req.Password != Password {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
		return
	}
	writeJSON(w, http.StatusOK, s.issue(u.ID))
}

func (s *Server) refreshTokens(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Refresh string `json:"refresh"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.refresh[req.Refresh]
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Token is invalid or expired", "code": "token_not_valid"})
		return
	}
	// Rotation blacklists the used refresh token.
	delete(s.refresh, req.Refresh)
	writeJSON(w, http.StatusOK, s.issue(userID))
}

// user resolves the bearer token. Callers hold s.mu.
func (s *Server) user(w http.ResponseWriter, r *http.Request) (sentraexam.User, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	id, ok := s.access[token]
	if ok {
		for _, u := range s.users {
			if u.ID == id {
				return u, true
			}
		}
	}
	writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Given token not valid for any token type"})
	return sentraexam.User{}, false
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.user(w, r); ok {
		writeJSON(w, http.StatusOK, u)
	}
}

func (s *Server) assessment(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.user(w, r); !ok {
		return
	}
	a, ok := s.assessments[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"detail": "Not found."})
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) listSubmissions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.user(w, r)
	if !ok {
		return
	}
	exam := r.URL.Query().Get("assessment")
	results := make([]submission, 0)
	for _, sub := range s.submissions {
		if sub.userID == u.ID && (exam == "" || sub.Exam == exam) {
			results = append(results, sub)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(results), "results": results})
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Assessment string `json:"assessment"`
		Answers    []any  `json:"answers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"detail": "Malformed request."})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.user(w, r)
	if !ok {
		return
	}
	if s.failSubmits > 0 {
		s.failSubmits--
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"detail": "Service temporarily unavailable."})
		return
	}
	a, ok := s.assessments[req.Assessment]
	if !ok {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"assessment": {"Invalid pk - object does not exist."}})
		return
	}
	now := s.now()
	if a.ScheduledAt != nil && now.Before(*a.ScheduledAt) {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"non_field_errors": {"This assessment is not open yet."}})
		return
	}
	if a.ClosesAt != nil && now.After(*a.ClosesAt) {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"non_field_errors": {"Submission window has closed for this assessment."}})
		return
	}
	if len(req.Answers) != len(a.Questions) {
		writeJSON(w, http.StatusBadRequest, map[string][]string{"answers": {"Provide answers for every question."}})
		return
	}
	for _, sub := range s.submissions {
		if sub.userID == u.ID && sub.Exam == a.ID {
			writeJSON(w, http.StatusBadRequest, map[string][]string{
				"non_field_errors": {"The fields assessment, student must make a unique set."},
			})
			return
		}
	}

	s.seq++
	sub := submission{
		ID:      fmt.Sprintf("00000000-0000-4000-8000-%012d", s.seq),
		Exam:    a.ID,
		Status:  "SUBMITTED",
		Answers: req.Answers,
		userID:  u.ID,
	}
	s.submissions = append(s.submissions, sub)
	writeJSON(w, http.StatusCreated, sub)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

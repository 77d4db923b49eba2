package config

import (
	"testing"
	"time"
)

func TestParseOrigins(t *testing.T) {
	if got := parseOrigins(""); got != nil {
		t.Fatalf("expected nil for empty input, got %v", got)
	}

	got := parseOrigins(" https://exam.example.edu , ,http://localhost:5173")
	if len(got) != 2 {
		t.Fatalf("expected 2 origins, got %d (%v)", len(got), got)
	}
	if got[0] != "https://exam.example.edu" || got[1] != "http://localhost:5173" {
		t.Errorf("unexpected origins: %v", got)
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("SENTRAEXAM_API_URL", "http://backend:8000/api/")
	t.Setenv("VIOLATION_THRESHOLD", "5")
	t.Setenv("TICK_INTERVAL_MS", "250")
	t.Setenv("REQUIRE_COMPLETE_ON_SUBMIT", "false")
	t.Setenv("MAX_DB_CONNS", "not-a-number")

	cfg := Load()

	if cfg.SentraexamURL != "http://backend:8000/api" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.SentraexamURL)
	}
	if cfg.ViolationThreshold != 5 {
		t.Errorf("expected threshold 5, got %d", cfg.ViolationThreshold)
	}
	if cfg.TickInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms tick, got %s", cfg.TickInterval)
	}
	if cfg.RequireCompleteOnSubmit {
		t.Error("expected RequireCompleteOnSubmit=false")
	}
	if cfg.MaxDBConns != 8 {
		t.Errorf("expected fallback max conns 8, got %d", cfg.MaxDBConns)
	}
}

func TestCacheKeysAreScopedByLearner(t *testing.T) {
	a := CacheKey.ExamSessionKey("learner-a", "exam-1")
	b := CacheKey.ExamSessionKey("learner-b", "exam-1")
	if a == b {
		t.Fatalf("session keys must differ per learner, both were %q", a)
	}
	if CacheKey.ExamAnswersKey("learner-a", "exam-1") == a {
		t.Error("answers key must differ from session key")
	}
}

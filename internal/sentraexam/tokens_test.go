package sentraexam

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signedAccess(t *testing.T, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)})
	s, err := tok.SignedString([]byte("backend-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestAccessExpiring(t *testing.T) {
	now := time.Now()
	if !accessExpiring(signedAccess(t, now.Add(10*time.Second)), 30*time.Second, now) {
		t.Error("token expiring in 10s should be refreshed ahead")
	}
	if accessExpiring(signedAccess(t, now.Add(20*time.Minute)), 30*time.Second, now) {
		t.Error("fresh token should not be refreshed")
	}
	if accessExpiring("opaque-token", 30*time.Second, now) {
		t.Error("opaque tokens are left to the backend")
	}
}

func TestProactiveRefreshAvoidsUnauthorized(t *testing.T) {
	f := &fakeBackend{access: "access-0", refresh: "refresh-0"}
	c := newTestClient(t, f)
	tokens := NewMemoryTokens(TokenPair{Access: signedAccess(t, time.Now().Add(5*time.Second)), Refresh: "refresh-0"})

	if _, err := c.Learner(tokens).GetAssessment(context.Background(), "exam-1"); err != nil {
		t.Fatalf("GetAssessment: %v", err)
	}
	if got := f.refreshes.Load(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
}

func TestMemoryVault(t *testing.T) {
	v := NewMemoryVault()
	ctx := context.Background()

	if _, err := v.For("jti-1").Tokens(ctx); !errors.Is(err, ErrNoTokens) {
		t.Fatalf("empty vault: %v, want ErrNoTokens", err)
	}
	if err := v.For("jti-1").Store(ctx, TokenPair{Access: "a", Refresh: "r"}); err != nil {
		t.Fatal(err)
	}
	pair, err := v.For("jti-1").Tokens(ctx)
	if err != nil || pair.Access != "a" {
		t.Errorf("Tokens = %+v, %v", pair, err)
	}
	if _, err := v.For("jti-2").Tokens(ctx); !errors.Is(err, ErrNoTokens) {
		t.Error("logins must not share tokens")
	}
	_ = v.For("jti-1").Revoke(ctx)
	if _, err := v.For("jti-1").Tokens(ctx); !errors.Is(err, ErrNoTokens) {
		t.Error("revoked tokens must be gone")
	}
}

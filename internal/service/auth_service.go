package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/sentraexam-proctor/internal/config"
	"github.com/stemsi/sentraexam-proctor/internal/model"
	"github.com/stemsi/sentraexam-proctor/internal/sentraexam"
)

// Common auth errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrStudentsOnly       = errors.New("only student accounts can take exams")
	ErrBackendUnavailable = errors.New("the exam server is unavailable")
	ErrSessionInvalidated = errors.New("session invalidated")
)

// Claims extends JWT standard claims with the learner's backend identity.
// The backend tokens themselves never leave the server; they are stored
// under the token's ID.
type Claims struct {
	jwt.RegisteredClaims
	LearnerID string `json:"learner_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	Role      string `json:"role"`
}

// Learner returns the identity carried by the token.
func (c *Claims) Learner() model.Learner {
	first, last, _ := strings.Cut(c.Name, " ")
	return model.Learner{ID: c.LearnerID, Email: c.Email, FirstName: first, LastName: last, Role: c.Role}
}

// AuthService handles learner login against the Sentraexam backend and the
// proxy's own JWTs.
type AuthService struct {
	cfg     *config.Config
	backend *sentraexam.Client
	vault   sentraexam.TokenVault
	log     zerolog.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(cfg *config.Config, backend *sentraexam.Client, vault sentraexam.TokenVault, log zerolog.Logger) *AuthService {
	return &AuthService{
		cfg:     cfg,
		backend: backend,
		vault:   vault,
		log:     log.With().Str("component", "auth_service").Logger(),
	}
}

// Login forwards credentials to the backend, checks the account is a
// student, and issues a proxy JWT. Each login gets its own token slot, so
// logging in on a second device does not sign out the first.
func (s *AuthService) Login(ctx context.Context, req model.LearnerLoginRequest) (*model.LearnerLoginResponse, error) {
	pair, err := s.backend.ObtainTokens(ctx, req.Email, req.Password)
	if err != nil {
		return nil, s.backendError(err, "obtain tokens")
	}

	user, err := s.backend.Learner(sentraexam.NewMemoryTokens(pair)).CurrentUser(ctx)
	if err != nil {
		return nil, s.backendError(err, "load account")
	}
	if user.Role != model.RoleStudent {
		return nil, ErrStudentsOnly
	}

	jti := uuid.New().String()
	now := time.Now()
	expiry := s.cfg.JWTExpiry
	if s.cfg.RefreshTokenTTL > 0 && s.cfg.RefreshTokenTTL < expiry {
		expiry = s.cfg.RefreshTokenTTL
	}
	expiresAt := now.Add(expiry)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        jti,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		LearnerID: user.ID,
		Email:     user.Email,
		Name:      strings.TrimSpace(user.FirstName + " " + user.LastName),
		Role:      user.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	if err := s.vault.For(jti).Store(ctx, pair); err != nil {
		return nil, fmt.Errorf("store backend tokens: %w", err)
	}

	s.log.Info().Str("learner_id", user.ID).Msg("Learner logged in")
	return &model.LearnerLoginResponse{
		Token:     signed,
		ExpiresAt: expiresAt,
		Learner: model.Learner{
			ID:        user.ID,
			Email:     user.Email,
			FirstName: user.FirstName,
			LastName:  user.LastName,
			Role:      user.Role,
		},
	}, nil
}

func (s *AuthService) backendError(err error, op string) error {
	var apiErr *sentraexam.APIError
	switch {
	case sentraexam.IsStatus(err, http.StatusUnauthorized), sentraexam.IsStatus(err, http.StatusBadRequest):
		return ErrInvalidCredentials
	case errors.As(err, &apiErr) && apiErr.Transient():
		s.log.Warn().Err(err).Str("op", op).Msg("Backend unavailable during login")
		return ErrBackendUnavailable
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ValidateToken parses and validates a JWT, returning the claims.
func (s *AuthService) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.ID == "" || claims.LearnerID == "" {
		return nil, errors.New("token is missing its session id")
	}

	return claims, nil
}

// ValidateLearnerSession checks that backend tokens still exist for the JWT.
// They are gone after logout or a rejected refresh.
func (s *AuthService) ValidateLearnerSession(ctx context.Context, jti string) error {
	_, err := s.vault.For(jti).Tokens(ctx)
	if errors.Is(err, sentraexam.ErrNoTokens) {
		return ErrSessionInvalidated
	}
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	return nil
}

// Logout forgets the backend tokens behind jti. The backend has no
// blacklist endpoint; its refresh token simply expires.
func (s *AuthService) Logout(ctx context.Context, jti string) error {
	return s.vault.For(jti).Revoke(ctx)
}

// TokenSource returns the backend tokens of one login.
func (s *AuthService) TokenSource(jti string) sentraexam.TokenSource {
	return s.vault.For(jti)
}

// Package sentraexam is a typed client for the Sentraexam REST API.
//
// Learner requests carry the learner's bearer token. A 401 triggers one token
// refresh and one retry of the original request; concurrent 401s for the same
// refresh token wait on a single refresh call.
package sentraexam

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	maxResponseBytes = 4 << 20
	accessLeeway     = 30 * time.Second
)

// Client talks to one Sentraexam deployment.
type Client struct {
	baseURL   string
	httpc     *http.Client
	refreshes singleflight.Group
	log       zerolog.Logger
}

// NewClient creates a Client. baseURL includes the /api prefix.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpc:   &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "sentraexam_client").Logger(),
	}
}

// ObtainTokens exchanges credentials for a token pair.
func (c *Client) ObtainTokens(ctx context.Context, email, password string) (TokenPair, error) {
	var pair TokenPair
	err := c.send(ctx, http.MethodPost, "/auth/token/", "", credentialsRequest{Email: email, Password: password}, &pair)
	return pair, err
}

// RefreshTokens trades a refresh token for a new access token. The backend rotates
// refresh tokens; when it does not return one the old one stays valid.
func (c *Client) RefreshTokens(ctx context.Context, refresh string) (TokenPair, error) {
	var pair TokenPair
	if err := c.send(ctx, http.MethodPost, "/auth/token/refresh/", "", refreshRequest{Refresh: refresh}, &pair); err != nil {
		return TokenPair{}, err
	}
	if pair.Refresh == "" {
		pair.Refresh = refresh
	}
	return pair, nil
}

// Learner returns a client acting with the tokens held by src.
func (c *Client) Learner(src TokenSource) *LearnerClient {
	return &LearnerClient{c: c, tokens: src}
}

func (c *Client) send(ctx context.Context, method, path, access string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if access != "" {
		req.Header.Set("Authorization", "Bearer "+access)
	}

	start := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("method", method).Str("path", path).Msg("Backend request failed")
		return &APIError{Detail: "the exam server could not be reached", cause: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &APIError{Status: 0, Detail: "incomplete response from the exam server", cause: err}
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("Backend request")

	if resp.StatusCode >= 400 {
		return parseAPIError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// LearnerClient performs requests on behalf of one learner.
type LearnerClient struct {
	c      *Client
	tokens TokenSource
}

// CurrentUser returns the learner's account.
func (l *LearnerClient) CurrentUser(ctx context.Context) (*User, error) {
	var u User
	if err := l.do(ctx, http.MethodGet, "/auth/accounts/me/", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetAssessment fetches exam metadata, duration and questions.
func (l *LearnerClient) GetAssessment(ctx context.Context, id string) (*Assessment, error) {
	var a Assessment
	if err := l.do(ctx, http.MethodGet, "/assessments/"+url.PathEscape(id)+"/", nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// SubmitAssessment posts the answer list for an ONLINE assessment. Each element is
// nil (unanswered), an option index, or free text.
func (l *LearnerClient) SubmitAssessment(ctx context.Context, id string, answers []any) (*Submission, error) {
	if answers == nil {
		answers = []any{}
	}
	var s Submission
	if err := l.do(ctx, http.MethodPost, "/assessments/submissions/", submitRequest{Assessment: id, Answers: answers}, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSubmissions returns the learner's own submissions for an assessment.
// Both a plain list and a paginated {"results": [...]} body are accepted.
func (l *LearnerClient) ListSubmissions(ctx context.Context, assessmentID string) ([]Submission, error) {
	var raw json.RawMessage
	path := "/assessments/submissions/?assessment=" + url.QueryEscape(assessmentID)
	if err := l.do(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}

	var list []Submission
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var page struct {
		Results []Submission `json:"results"`
	}
	if err := json.Unmarshal(raw, &page); err != nil {
		return nil, fmt.Errorf("decode submissions: %w", err)
	}
	return page.Results, nil
}

func (l *LearnerClient) do(ctx context.Context, method, path string, body, out any) error {
	pair, err := l.tokens.Tokens(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}

	// Refresh ahead of a request the backend would reject anyway.
	if pair.Refresh != "" && accessExpiring(pair.Access, accessLeeway, time.Now()) {
		if fresh, err := l.refresh(ctx, pair); err == nil {
			pair = fresh
		} else if errors.Is(err, ErrSessionExpired) {
			return err
		}
	}

	err = l.c.send(ctx, method, path, pair.Access, body, out)
	if !IsStatus(err, http.StatusUnauthorized) {
		return err
	}

	fresh, err := l.refresh(ctx, pair)
	if err != nil {
		return err
	}
	return l.c.send(ctx, method, path, fresh.Access, body, out)
}

// refresh replaces the rejected pair. If another request already rotated the
// tokens the stored pair is used as is.
func (l *LearnerClient) refresh(ctx context.Context, rejected TokenPair) (TokenPair, error) {
	current, err := l.tokens.Tokens(ctx)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	if current.Access != rejected.Access {
		return current, nil
	}
	if current.Refresh == "" {
		_ = l.tokens.Revoke(ctx)
		return TokenPair{}, ErrSessionExpired
	}

	v, err, shared := l.c.refreshes.Do(current.Refresh, func() (any, error) {
		fresh, err := l.c.RefreshTokens(ctx, current.Refresh)
		if err != nil {
			return nil, err
		}
		if err := l.tokens.Store(ctx, fresh); err != nil {
			l.c.log.Warn().Err(err).Msg("Failed to store refreshed tokens")
		}
		return fresh, nil
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Transient() {
			return TokenPair{}, err
		}
		l.c.log.Info().Err(err).Bool("shared", shared).Msg("Token refresh rejected, revoking backend session")
		_ = l.tokens.Revoke(ctx)
		return TokenPair{}, fmt.Errorf("%w: %v", ErrSessionExpired, err)
	}
	return v.(TokenPair), nil
}

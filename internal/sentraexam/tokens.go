package sentraexam

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stemsi/sentraexam-proctor/internal/config"
)

// TokenSource holds one learner's backend token pair.
type TokenSource interface {
	Tokens(ctx context.Context) (TokenPair, error)
	Store(ctx context.Context, pair TokenPair) error
	Revoke(ctx context.Context) error
}

// MemoryTokens is an in-process TokenSource.
type MemoryTokens struct {
	mu   sync.Mutex
	pair TokenPair
	set  bool
}

// NewMemoryTokens returns a TokenSource seeded with pair.
func NewMemoryTokens(pair TokenPair) *MemoryTokens {
	return &MemoryTokens{pair: pair, set: true}
}

func (m *MemoryTokens) Tokens(context.Context) (TokenPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.set {
		return TokenPair{}, ErrNoTokens
	}
	return m.pair, nil
}

func (m *MemoryTokens) Store(_ context.Context, pair TokenPair) error {
	m.mu.Lock()
	m.pair, m.set = pair, true
	m.mu.Unlock()
	return nil
}

func (m *MemoryTokens) Revoke(context.Context) error {
	m.mu.Lock()
	m.pair, m.set = TokenPair{}, false
	m.mu.Unlock()
	return nil
}

// RedisTokens keeps a token pair as JSON under one Redis key.
// The TTL is refreshed on every store.
type RedisTokens struct {
	rdb redis.Cmdable
	key string
	ttl time.Duration
}

// NewRedisTokens returns a TokenSource backed by key.
func NewRedisTokens(rdb redis.Cmdable, key string, ttl time.Duration) *RedisTokens {
	return &RedisTokens{rdb: rdb, key: key, ttl: ttl}
}

func (r *RedisTokens) Tokens(ctx context.Context) (TokenPair, error) {
	raw, err := r.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return TokenPair{}, ErrNoTokens
	}
	if err != nil {
		return TokenPair{}, fmt.Errorf("load tokens: %w", err)
	}
	var pair TokenPair
	if err := json.Unmarshal(raw, &pair); err != nil {
		return TokenPair{}, fmt.Errorf("decode tokens: %w", err)
	}
	return pair, nil
}

func (r *RedisTokens) Store(ctx context.Context, pair TokenPair) error {
	raw, err := json.Marshal(pair)
	if err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.key, raw, r.ttl).Err()
}

func (r *RedisTokens) Revoke(ctx context.Context) error {
	return r.rdb.Del(ctx, r.key).Err()
}

// TokenVault hands out the TokenSource stored under a login id.
type TokenVault interface {
	For(id string) TokenSource
}

// RedisVault keeps each login's tokens under config.CacheKey.LearnerTokensKey.
type RedisVault struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisVault(rdb redis.Cmdable, ttl time.Duration) *RedisVault {
	return &RedisVault{rdb: rdb, ttl: ttl}
}

func (v *RedisVault) For(id string) TokenSource {
	return NewRedisTokens(v.rdb, config.CacheKey.LearnerTokensKey(id), v.ttl)
}

// MemoryVault is an in-process TokenVault.
type MemoryVault struct {
	mu      sync.Mutex
	sources map[string]*MemoryTokens
}

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{sources: make(map[string]*MemoryTokens)}
}

func (v *MemoryVault) For(id string) TokenSource {
	v.mu.Lock()
	defer v.mu.Unlock()
	src, ok := v.sources[id]
	if !ok {
		src = &MemoryTokens{}
		v.sources[id] = src
	}
	return src
}

// accessExpiring reports whether a SimpleJWT access token expires within
// leeway. Opaque or unparsable tokens are treated as valid; the backend's 401
// remains the authority.
func accessExpiring(access string, leeway time.Duration, now time.Time) bool {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(access, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Time.Before(now.Add(leeway))
}

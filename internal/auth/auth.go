// Package auth resolves bearer tokens to user identities. Token issuance
// (registration, login, refresh) belongs to a separate identity service;
// this service only verifies that a presented token maps to a known user.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var ErrInvalidToken = errors.New("auth: invalid or expired token")

// TokenResolver maps a bearer token to the user id it was issued for.
type TokenResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// StaticResolver serves a fixed token set. Used in dev mode and tests.
type StaticResolver struct {
	mu     sync.RWMutex
	tokens map[string]string
}

func NewStaticResolver(tokens map[string]string) *StaticResolver {
	copied := make(map[string]string, len(tokens))
	for token, userID := range tokens {
		copied[token] = userID
	}
	return &StaticResolver{tokens: copied}
}

func (r *StaticResolver) Resolve(ctx context.Context, token string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	userID, ok := r.tokens[strings.TrimSpace(token)]
	if !ok {
		return "", ErrInvalidToken
	}
	return userID, nil
}

func (r *StaticResolver) Add(token, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[token] = userID
}

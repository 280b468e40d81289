package auth

import (
	"context"
	"sync"

	"github.com/kaulonline/iriseller-mobile/internal/kvstore"
)

// Store keys owned by the auth package.
const (
	TokenKey      = "@IRISeller:authToken"
	UserKey       = "@IRISeller:userData"
	RememberMeKey = "@IRISeller:rememberMe"
)

// TokenStore keeps the bearer token in memory and mirrors it to the store.
// It is the credential provider handed to the request gateway.
type TokenStore struct {
	store kvstore.Store

	mu     sync.RWMutex
	token  string
	loaded bool
}

// NewTokenStore returns a TokenStore backed by store.
func NewTokenStore(store kvstore.Store) *TokenStore {
	return &TokenStore{store: store}
}

// Token returns the stored token, or "" when there is none. The store is
// read once; later calls are served from memory.
func (t *TokenStore) Token(ctx context.Context) (string, error) {
	t.mu.RLock()
	if t.loaded {
		tok := t.token
		t.mu.RUnlock()
		return tok, nil
	}
	t.mu.RUnlock()

	tok, _, err := t.store.Get(ctx, TokenKey)
	if err != nil {
		return "", err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.loaded {
		t.token = tok
		t.loaded = true
	}
	return t.token, nil
}

// SaveToken replaces the token. The in-memory value is updated even when
// the write fails.
func (t *TokenStore) SaveToken(ctx context.Context, token string) error {
	t.mu.Lock()
	t.token = token
	t.loaded = true
	t.mu.Unlock()
	return t.store.Set(ctx, TokenKey, token)
}

// ClearToken forgets the token.
func (t *TokenStore) ClearToken(ctx context.Context) error {
	t.mu.Lock()
	t.token = ""
	t.loaded = true
	t.mu.Unlock()
	return t.store.Delete(ctx, TokenKey)
}

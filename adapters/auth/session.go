package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/layer-3/ordbok/core"
	"github.com/layer-3/ordbok/ports"
)

// sessionTokenBytes is the entropy of an opaque session token
const sessionTokenBytes = 32

// Session authenticates opaque random tokens backed by a SessionStore
type Session struct {
	store ports.SessionStore
	now   func() time.Time
}

// NewSession creates a store-backed authenticator
func NewSession(store ports.SessionStore) *Session {
	return &Session{
		store: store,
		now:   time.Now,
	}
}

// WithClock overrides the time source
func (a *Session) WithClock(now func() time.Time) *Session {
	a.now = now
	return a
}

var _ ports.Authenticator = (*Session)(nil)

func (a *Session) Name() string { return StrategySession }

// Issue creates and stores a new session
func (a *Session) Issue(ctx context.Context, expiresAt time.Time) (string, error) {
	b := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session token: %w", err)
	}
	token := hex.EncodeToString(b)

	session := core.Session{
		Token:         token,
		Authenticated: true,
		ExpiresAt:     core.EpochMillis(expiresAt),
		CreatedAt:     core.EpochMillis(a.now()),
	}
	if err := a.store.Create(ctx, session); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	return token, nil
}

// Authenticate looks the token up in the store
func (a *Session) Authenticate(ctx context.Context, token string) (core.Principal, error) {
	if !validSessionToken(token) {
		return core.Principal{}, core.ErrInvalidToken
	}

	session, err := a.store.Get(ctx, token)
	if err != nil {
		return core.Principal{}, fmt.Errorf("failed to load session: %w", err)
	}
	if session == nil || !session.Authenticated {
		return core.Principal{}, core.ErrInvalidToken
	}
	if session.Expired(a.now()) {
		// The store may not have noticed yet
		if err := a.store.Delete(ctx, token); err != nil {
			return core.Principal{}, fmt.Errorf("failed to delete expired session: %w", err)
		}
		return core.Principal{}, core.ErrTokenExpired
	}

	return core.Principal{
		ID:        core.Fingerprint(token),
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// Revoke deletes the session
func (a *Session) Revoke(ctx context.Context, token string) error {
	if !validSessionToken(token) {
		return core.ErrInvalidToken
	}
	return a.store.Delete(ctx, token)
}

func validSessionToken(token string) bool {
	if len(token) != hex.EncodedLen(sessionTokenBytes) {
		return false
	}
	_, err := hex.DecodeString(token)
	return err == nil
}

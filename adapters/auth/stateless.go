package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/layer-3/ordbok/adapters/codec"
	"github.com/layer-3/ordbok/core"
	"github.com/layer-3/ordbok/ports"
)

// Strategy names accepted by configuration
const (
	StrategyStateless = "stateless"
	StrategySession   = "session"
	StrategyHybrid    = "hybrid"
)

// Stateless authenticates self-contained signed tokens. Nothing is stored,
// so a token stays valid until it expires.
type Stateless struct {
	codec ports.TokenCodec
	now   func() time.Time
}

// NewStateless creates a stateless authenticator over codec
func NewStateless(c ports.TokenCodec) *Stateless {
	return &Stateless{
		codec: c,
		now:   time.Now,
	}
}

// WithClock overrides the time source
func (a *Stateless) WithClock(now func() time.Time) *Stateless {
	a.now = now
	return a
}

var _ ports.Authenticator = (*Stateless)(nil)

func (a *Stateless) Name() string { return StrategyStateless }

// Issue mints a signed token carrying a fresh nonce
func (a *Stateless) Issue(ctx context.Context, expiresAt time.Time) (string, error) {
	nonce, err := codec.NewNonce()
	if err != nil {
		return "", err
	}

	token, err := a.codec.Generate(core.Credential{
		Nonce:     nonce,
		ExpiresAt: core.EpochMillis(expiresAt),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create token: %w", err)
	}

	return token, nil
}

// Authenticate verifies the signature and expiry of token
func (a *Stateless) Authenticate(ctx context.Context, token string) (core.Principal, error) {
	credential, err := a.credential(token)
	if err != nil {
		return core.Principal{}, err
	}

	return core.Principal{
		ID:        credential.Nonce,
		ExpiresAt: credential.ExpiresAt,
	}, nil
}

// Revoke is unsupported: a stateless token cannot be recalled
func (a *Stateless) Revoke(ctx context.Context, token string) error {
	return core.ErrRevocationUnsupported
}

func (a *Stateless) credential(token string) (core.Credential, error) {
	credential, ok := a.codec.Verify(token)
	if !ok {
		return core.Credential{}, core.ErrInvalidToken
	}
	if credential.Expired(a.now()) {
		return core.Credential{}, core.ErrTokenExpired
	}
	return credential, nil
}

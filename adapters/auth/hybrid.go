package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/ordbok/core"
	"github.com/layer-3/ordbok/ports"
)

// Hybrid authenticates signed tokens and consults a deny list keyed by
// the credential nonce, so tokens can be revoked before they expire.
type Hybrid struct {
	*Stateless
	denyList ports.DenyList
}

// NewHybrid creates a hybrid authenticator
func NewHybrid(c ports.TokenCodec, denyList ports.DenyList) *Hybrid {
	return &Hybrid{
		Stateless: NewStateless(c),
		denyList:  denyList,
	}
}

// WithClock overrides the time source
func (a *Hybrid) WithClock(now func() time.Time) *Hybrid {
	a.Stateless.WithClock(now)
	return a
}

var _ ports.Authenticator = (*Hybrid)(nil)

func (a *Hybrid) Name() string { return StrategyHybrid }

// Authenticate verifies token and rejects it when its nonce has been revoked
func (a *Hybrid) Authenticate(ctx context.Context, token string) (core.Principal, error) {
	principal, err := a.Stateless.Authenticate(ctx, token)
	if err != nil {
		return core.Principal{}, err
	}

	invalidated, err := a.denyList.IsTokenInvalidated(ctx, principal.ID)
	if err != nil {
		return core.Principal{}, fmt.Errorf("failed to check token invalidation: %w", err)
	}
	if invalidated {
		return core.Principal{}, core.ErrTokenRevoked
	}

	return principal, nil
}

// Revoke records the token nonce in the deny list for the rest of its lifetime.
// An already expired token needs no record.
func (a *Hybrid) Revoke(ctx context.Context, token string) error {
	credential, err := a.credential(token)
	if errors.Is(err, core.ErrTokenExpired) {
		return nil
	}
	if err != nil {
		return err
	}

	remaining := credential.Expiry().Sub(a.now())
	if err := a.denyList.InvalidateToken(ctx, credential.Nonce, remaining); err != nil {
		return fmt.Errorf("failed to invalidate token: %w", err)
	}

	return nil
}

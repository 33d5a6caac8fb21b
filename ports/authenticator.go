package ports

import (
	"context"
	"time"

	"github.com/layer-3/ordbok/core"
)

// Authenticator issues and checks credentials for one authentication strategy
type Authenticator interface {
	// Issue mints a credential valid until expiresAt
	Issue(ctx context.Context, expiresAt time.Time) (string, error)

	// Authenticate resolves a credential to a principal, including the expiry check
	Authenticate(ctx context.Context, token string) (core.Principal, error)

	// Revoke makes a credential unusable before its expiry
	Revoke(ctx context.Context, token string) error

	// Name returns the strategy name used in configuration
	Name() string
}

package ports

import (
	"context"
	"time"

	"github.com/layer-3/ordbok/core"
)

// DenyList records revoked credential identifiers until they would have expired anyway
type DenyList interface {
	InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error
	IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error)
}

// SessionStore owns server-side session records keyed by token
type SessionStore interface {
	Create(ctx context.Context, session core.Session) error
	Get(ctx context.Context, token string) (*core.Session, error)
	Delete(ctx context.Context, token string) error
}

// CounterStore is a fixed-window counter primitive shared by quota and rate limiting.
// Increment must be atomic per key; the first increment of a window starts its TTL.
type CounterStore interface {
	Increment(ctx context.Context, key string, window time.Duration) (core.Counter, error)
	Get(ctx context.Context, key string) (core.Counter, error)
	Reset(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

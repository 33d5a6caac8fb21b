package ports

import "context"

// EventPublisher publishes authentication events to notify other instances
type EventPublisher interface {
	PublishLogin(ctx context.Context, principalID string, expiresAt int64) error
	PublishLogout(ctx context.Context, principalID string) error
}

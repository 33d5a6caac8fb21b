package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/layer-3/ordbok/ports"
)

// Topics
const (
	TopicLogin  = "ordbok.auth.login"
	TopicLogout = "ordbok.auth.logout"
)

// LoginEvent represents a successful PIN login
type LoginEvent struct {
	PrincipalID string `json:"principal_id"`
	ExpiresAt   int64  `json:"expires_at"`
	OccurredAt  int64  `json:"occurred_at"`
}

// LogoutEvent represents a credential revocation
type LogoutEvent struct {
	PrincipalID string `json:"principal_id"`
	OccurredAt  int64  `json:"occurred_at"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
	now       func() time.Time
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{
		publisher: publisher,
		now:       time.Now,
	}
}

var _ ports.EventPublisher = (*WatermillPublisher)(nil)

// PublishLogin publishes a login event
func (p *WatermillPublisher) PublishLogin(ctx context.Context, principalID string, expiresAt int64) error {
	return p.publish(ctx, TopicLogin, LoginEvent{
		PrincipalID: principalID,
		ExpiresAt:   expiresAt,
		OccurredAt:  p.now().UnixMilli(),
	})
}

// PublishLogout publishes a logout event
func (p *WatermillPublisher) PublishLogout(ctx context.Context, principalID string) error {
	return p.publish(ctx, TopicLogout, LogoutEvent{
		PrincipalID: principalID,
		OccurredAt:  p.now().UnixMilli(),
	})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Close closes the underlying publisher
func (p *WatermillPublisher) Close() error {
	return p.publisher.Close()
}

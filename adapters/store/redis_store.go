package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/ordbok/core"
	"github.com/layer-3/ordbok/ports"
	"github.com/redis/go-redis/v9"
)

const (
	invalidatedPrefix = "ordbok:invalidated:"
	sessionPrefix     = "ordbok:session:"
)

// RedisStore is a Redis implementation of the DenyList and SessionStore interfaces
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		now:    time.Now,
	}
}

var (
	_ ports.DenyList     = (*RedisStore)(nil)
	_ ports.SessionStore = (*RedisStore)(nil)
)

// InvalidateToken marks a token as invalidated in Redis
func (s *RedisStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	if expiry <= 0 {
		return nil
	}

	if err := s.client.Set(ctx, invalidatedPrefix+tokenID, "1", expiry).Err(); err != nil {
		return fmt.Errorf("failed to invalidate token: %w: %v", core.ErrBackendUnavailable, err)
	}

	return nil
}

// IsTokenInvalidated checks if a token is invalidated in Redis
func (s *RedisStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	val, err := s.client.Exists(ctx, invalidatedPrefix+tokenID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token invalidation: %w: %v", core.ErrBackendUnavailable, err)
	}

	return val > 0, nil
}

// Create stores a session record with a TTL matching its expiry
func (s *RedisStore) Create(ctx context.Context, session core.Session) error {
	ttl := time.UnixMilli(session.ExpiresAt).Sub(s.now())
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	if err := s.client.Set(ctx, sessionPrefix+session.Token, data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store session: %w: %v", core.ErrBackendUnavailable, err)
	}

	return nil
}

// Get returns the session for token, or nil when missing or expired
func (s *RedisStore) Get(ctx context.Context, token string) (*core.Session, error) {
	data, err := s.client.Get(ctx, sessionPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w: %v", core.ErrBackendUnavailable, err)
	}

	var session core.Session
	if err := json.Unmarshal(data, &session); err != nil {
		// A corrupt record cannot authenticate anyone
		return nil, nil
	}

	// Double-check expiration in case of clock skew against the Redis TTL
	if session.Expired(s.now()) {
		if err := s.Delete(ctx, token); err != nil {
			return nil, err
		}
		return nil, nil
	}

	return &session, nil
}

// Delete removes the session for token
func (s *RedisStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, sessionPrefix+token).Err(); err != nil {
		return fmt.Errorf("failed to delete session: %w: %v", core.ErrBackendUnavailable, err)
	}
	return nil
}

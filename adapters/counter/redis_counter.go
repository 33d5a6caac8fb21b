package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/layer-3/ordbok/core"
	"github.com/layer-3/ordbok/ports"
	"github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces counter keys in a shared Redis
const DefaultKeyPrefix = "ordbok:counter:"

// INCR and the first PEXPIRE run as one script so concurrent callers cannot
// observe a window without a TTL. A key that somehow lost its TTL gets one back.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

var getScript = redis.NewScript(`
local value = redis.call('GET', KEYS[1])
if not value then
	return {0, -2}
end
return {tonumber(value), redis.call('PTTL', KEYS[1])}
`)

// RedisCounter is a CounterStore shared by every instance pointing at the same Redis
type RedisCounter struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisCounter creates a RedisCounter over an already connected client
func NewRedisCounter(client *redis.Client) *RedisCounter {
	return &RedisCounter{
		client: client,
		prefix: DefaultKeyPrefix,
		now:    time.Now,
	}
}

var _ ports.CounterStore = (*RedisCounter)(nil)

// Increment atomically increments key, setting the window TTL on the first hit
func (s *RedisCounter) Increment(ctx context.Context, key string, window time.Duration) (core.Counter, error) {
	windowMs := window.Milliseconds()
	if windowMs <= 0 {
		windowMs = 1
	}

	res, err := incrementScript.Run(ctx, s.client, []string{s.prefix + key}, windowMs).Int64Slice()
	if err != nil {
		return core.Counter{}, fmt.Errorf("failed to increment %s: %w: %v", key, core.ErrBackendUnavailable, err)
	}
	if len(res) != 2 {
		return core.Counter{}, fmt.Errorf("unexpected increment reply for %s: %w", key, core.ErrBackendUnavailable)
	}

	return s.counter(key, res[0], res[1], window), nil
}

// Get returns the live count for key without touching its TTL
func (s *RedisCounter) Get(ctx context.Context, key string) (core.Counter, error) {
	res, err := getScript.Run(ctx, s.client, []string{s.prefix + key}).Int64Slice()
	if err != nil {
		return core.Counter{}, fmt.Errorf("failed to read %s: %w: %v", key, core.ErrBackendUnavailable, err)
	}
	if len(res) != 2 {
		return core.Counter{}, fmt.Errorf("unexpected read reply for %s: %w", key, core.ErrBackendUnavailable)
	}
	if res[0] <= 0 || res[1] == -2 {
		return core.Counter{Key: key}, nil
	}

	return s.counter(key, res[0], res[1], 0), nil
}

// Reset deletes key
func (s *RedisCounter) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to reset %s: %w: %v", key, core.ErrBackendUnavailable, err)
	}
	return nil
}

// Ping checks the connection
func (s *RedisCounter) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", core.ErrBackendUnavailable, err)
	}
	return nil
}

func (s *RedisCounter) counter(key string, count, ttlMs int64, window time.Duration) core.Counter {
	c := core.Counter{Key: key, Count: count}
	if ttlMs < 0 {
		return c
	}

	now := s.now()
	c.ResetAt = now.Add(time.Duration(ttlMs) * time.Millisecond)
	if window > 0 {
		c.WindowStart = c.ResetAt.Add(-window)
	}
	return c
}

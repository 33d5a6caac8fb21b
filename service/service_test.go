package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/layer-3/ordbok/core"
)

// recordingPublisher captures published events
type recordingPublisher struct {
	mu      sync.Mutex
	logins  []string
	logouts []string
	err     error
}

func (p *recordingPublisher) PublishLogin(ctx context.Context, principalID string, expiresAt int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logins = append(p.logins, principalID)
	return p.err
}

func (p *recordingPublisher) PublishLogout(ctx context.Context, principalID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logouts = append(p.logouts, principalID)
	return p.err
}

var errBoom = errors.New("connection refused")

// brokenCounter fails every operation
type brokenCounter struct{}

func (brokenCounter) Increment(ctx context.Context, key string, window time.Duration) (core.Counter, error) {
	return core.Counter{}, errBoom
}
func (brokenCounter) Get(ctx context.Context, key string) (core.Counter, error) {
	return core.Counter{}, errBoom
}
func (brokenCounter) Reset(ctx context.Context, key string) error { return errBoom }
func (brokenCounter) Ping(ctx context.Context) error              { return errBoom }

// stalledCounter blocks until the context gives up
type stalledCounter struct{}

func (stalledCounter) Increment(ctx context.Context, key string, window time.Duration) (core.Counter, error) {
	<-ctx.Done()
	return core.Counter{}, ctx.Err()
}
func (stalledCounter) Get(ctx context.Context, key string) (core.Counter, error) {
	<-ctx.Done()
	return core.Counter{}, ctx.Err()
}
func (stalledCounter) Reset(ctx context.Context, key string) error { return nil }
func (stalledCounter) Ping(ctx context.Context) error              { return nil }

package counter

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/ordbok/core"
	"github.com/layer-3/ordbok/ports"
)

// DefaultCleanupInterval is how often expired windows are swept from memory
const DefaultCleanupInterval = time.Minute

type entry struct {
	count       int64
	windowStart time.Time
	resetAt     time.Time
}

// MemoryCounter is an in-process CounterStore for single-instance deployments
type MemoryCounter struct {
	mu      sync.Mutex
	entries map[string]*entry
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

// Option configures a MemoryCounter
type Option func(*MemoryCounter)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(m *MemoryCounter) {
		m.now = now
	}
}

// NewMemoryCounter creates a MemoryCounter and starts its cleanup goroutine.
// A non-positive cleanupInterval uses DefaultCleanupInterval.
func NewMemoryCounter(cleanupInterval time.Duration, opts ...Option) *MemoryCounter {
	if cleanupInterval <= 0 {
		cleanupInterval = DefaultCleanupInterval
	}

	m := &MemoryCounter{
		entries: make(map[string]*entry),
		now:     time.Now,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.cleanup(cleanupInterval)

	return m
}

var _ ports.CounterStore = (*MemoryCounter)(nil)

// Increment atomically increments key, starting a new window when none is live
func (m *MemoryCounter) Increment(ctx context.Context, key string, window time.Duration) (core.Counter, error) {
	if err := ctx.Err(); err != nil {
		return core.Counter{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	e, ok := m.entries[key]
	if !ok || !now.Before(e.resetAt) {
		e = &entry{windowStart: now, resetAt: now.Add(window)}
		m.entries[key] = e
	}
	e.count++

	return e.snapshot(key), nil
}

// Get returns the live count for key without touching its window
func (m *MemoryCounter) Get(ctx context.Context, key string) (core.Counter, error) {
	if err := ctx.Err(); err != nil {
		return core.Counter{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[key]
	if !ok || !m.now().Before(e.resetAt) {
		return core.Counter{Key: key}, nil
	}

	return e.snapshot(key), nil
}

// Reset clears key
func (m *MemoryCounter) Reset(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

// Ping always succeeds for the in-process backend
func (m *MemoryCounter) Ping(ctx context.Context) error {
	return nil
}

// Len returns the number of tracked keys, including expired ones not yet swept
func (m *MemoryCounter) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Close stops the cleanup goroutine
func (m *MemoryCounter) Close() error {
	m.once.Do(func() { close(m.done) })
	return nil
}

func (m *MemoryCounter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *MemoryCounter) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for key, e := range m.entries {
		if !now.Before(e.resetAt) {
			delete(m.entries, key)
		}
	}
}

func (e *entry) snapshot(key string) core.Counter {
	return core.Counter{
		Key:         key,
		Count:       e.count,
		WindowStart: e.windowStart,
		ResetAt:     e.resetAt,
	}
}

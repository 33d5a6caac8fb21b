package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/ordbok/core"
	"github.com/layer-3/ordbok/ports"
)

// MemoryStore is an in-memory DenyList and SessionStore.
// Expired records are dropped lazily on access and by Purge.
type MemoryStore struct {
	invalidatedTokens map[string]time.Time
	sessions          map[string]core.Session
	mu                sync.RWMutex
	now               func() time.Time
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		invalidatedTokens: make(map[string]time.Time),
		sessions:          make(map[string]core.Session),
		now:               time.Now,
	}
}

// WithClock overrides the time source
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

var (
	_ ports.DenyList     = (*MemoryStore)(nil)
	_ ports.SessionStore = (*MemoryStore)(nil)
)

// InvalidateToken marks a token as invalidated
func (s *MemoryStore) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiryTime := s.now().Add(expiry)
	// Never shorten an existing invalidation
	if stored, exists := s.invalidatedTokens[tokenID]; exists && stored.After(expiryTime) {
		return nil
	}
	s.invalidatedTokens[tokenID] = expiryTime

	return nil
}

// IsTokenInvalidated checks if a token is invalidated
func (s *MemoryStore) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expiryTime, exists := s.invalidatedTokens[tokenID]
	if !exists {
		return false, nil
	}

	// Check if the token invalidation has expired
	if s.now().After(expiryTime) {
		return false, nil
	}

	return true, nil
}

// Create stores a session record
func (s *MemoryStore) Create(ctx context.Context, session core.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[session.Token] = session
	return nil
}

// Get returns the session for token, or nil when missing or expired
func (s *MemoryStore) Get(ctx context.Context, token string) (*core.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok {
		return nil, nil
	}
	if session.Expired(s.now()) {
		delete(s.sessions, token)
		return nil, nil
	}

	return &session, nil
}

// Delete removes the session for token
func (s *MemoryStore) Delete(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, token)
	return nil
}

// Purge drops every expired session and invalidation record
func (s *MemoryStore) Purge() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for token, session := range s.sessions {
		if session.Expired(now) {
			delete(s.sessions, token)
			removed++
		}
	}
	for tokenID, expiry := range s.invalidatedTokens {
		if now.After(expiry) {
			delete(s.invalidatedTokens, tokenID)
			removed++
		}
	}
	return removed
}

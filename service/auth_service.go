package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/ordbok/core"
	"github.com/layer-3/ordbok/metrics"
	"github.com/layer-3/ordbok/ports"
	"go.uber.org/zap"
)

// Defaults for AuthConfig fields left zero
const (
	DefaultSessionMaxAge = 7 * 24 * time.Hour
	DefaultFailureDelay  = time.Second
)

// AuthConfig configures the PIN gate
type AuthConfig struct {
	Pin           string
	SessionMaxAge time.Duration
	FailureDelay  time.Duration
}

// AuthService handles PIN login and credential verification
type AuthService struct {
	authenticator ports.Authenticator
	eventPub      ports.EventPublisher
	log           *zap.SugaredLogger

	pin           string
	sessionMaxAge time.Duration
	failureDelay  time.Duration
	now           func() time.Time
}

// NewAuthService creates a new authentication service. A missing PIN is a configuration error.
// eventPub may be nil.
func NewAuthService(
	authenticator ports.Authenticator,
	eventPub ports.EventPublisher,
	cfg AuthConfig,
	log *zap.SugaredLogger,
) (*AuthService, error) {
	if cfg.Pin == "" {
		return nil, core.ErrMissingPin
	}
	if cfg.SessionMaxAge <= 0 {
		cfg.SessionMaxAge = DefaultSessionMaxAge
	}
	if cfg.FailureDelay < 0 {
		cfg.FailureDelay = 0
	}

	return &AuthService{
		authenticator: authenticator,
		eventPub:      eventPub,
		log:           log,
		pin:           cfg.Pin,
		sessionMaxAge: cfg.SessionMaxAge,
		failureDelay:  cfg.FailureDelay,
		now:           time.Now,
	}, nil
}

// WithClock overrides the time source
func (s *AuthService) WithClock(now func() time.Time) *AuthService {
	s.now = now
	return s
}

// Strategy returns the name of the active authenticator
func (s *AuthService) Strategy() string {
	return s.authenticator.Name()
}

// VerifyPin compares submitted against configured in time independent of where they differ.
// Only the length is allowed to leak.
func VerifyPin(submitted, configured string) bool {
	if submitted == "" || len(submitted) != len(configured) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(submitted), []byte(configured)) == 1
}

// Login exchanges a PIN for a credential. A wrong PIN is not an error: it yields
// an invalid result after the failure delay.
func (s *AuthService) Login(ctx context.Context, pin string) (core.LoginResult, error) {
	if pin == "" {
		metrics.AuthAttempts.WithLabelValues(metrics.ResultFailure).Inc()
		return core.LoginResult{}, core.ErrPinRequired
	}

	if !VerifyPin(pin, s.pin) {
		metrics.AuthAttempts.WithLabelValues(metrics.ResultFailure).Inc()
		s.log.Warnw("Invalid PIN attempt")

		if err := s.delay(ctx); err != nil {
			return core.LoginResult{}, err
		}
		return core.LoginResult{Valid: false}, nil
	}

	expiresAt := s.now().Add(s.sessionMaxAge)
	token, err := s.authenticator.Issue(ctx, expiresAt)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues(metrics.ResultError).Inc()
		return core.LoginResult{}, fmt.Errorf("failed to issue credential: %w", err)
	}

	metrics.AuthAttempts.WithLabelValues(metrics.ResultSuccess).Inc()
	s.log.Infow("PIN login succeeded", "strategy", s.authenticator.Name(), "expiresAt", expiresAt)

	if s.eventPub != nil {
		if err := s.eventPub.PublishLogin(ctx, core.Fingerprint(token), core.EpochMillis(expiresAt)); err != nil {
			s.log.Warnw("Failed to publish login event", "error", err)
		}
	}

	return core.LoginResult{
		Valid:     true,
		Token:     token,
		ExpiresAt: core.EpochMillis(expiresAt),
	}, nil
}

// Authenticate resolves token to a principal. Errors are core sentinels, wrapped.
func (s *AuthService) Authenticate(ctx context.Context, token string) (core.Principal, error) {
	if token == "" {
		metrics.TokenVerifications.WithLabelValues(metrics.ResultFailure).Inc()
		return core.Principal{}, core.ErrNoToken
	}

	principal, err := s.authenticator.Authenticate(ctx, token)
	switch {
	case err == nil:
		metrics.TokenVerifications.WithLabelValues(metrics.ResultSuccess).Inc()
		return principal, nil
	case errors.Is(err, core.ErrBackendUnavailable):
		metrics.TokenVerifications.WithLabelValues(metrics.ResultError).Inc()
		metrics.CounterBackendErrors.WithLabelValues("authenticate").Inc()
		s.log.Errorw("Credential backend unavailable", "error", err)
		return core.Principal{}, err
	default:
		metrics.TokenVerifications.WithLabelValues(metrics.ResultFailure).Inc()
		return core.Principal{}, err
	}
}

// VerifyToken reports whether token is currently valid. Only a backend failure is an error.
func (s *AuthService) VerifyToken(ctx context.Context, token string) (core.VerifyResult, error) {
	principal, err := s.Authenticate(ctx, token)
	if errors.Is(err, core.ErrBackendUnavailable) {
		return core.VerifyResult{}, err
	}
	if err != nil {
		return core.VerifyResult{Valid: false}, nil
	}

	return core.VerifyResult{Valid: true, ExpiresAt: principal.ExpiresAt}, nil
}

// Logout revokes token when the active strategy supports it
func (s *AuthService) Logout(ctx context.Context, token string) error {
	if token == "" {
		return core.ErrNoToken
	}

	if err := s.authenticator.Revoke(ctx, token); err != nil {
		return fmt.Errorf("failed to revoke credential: %w", err)
	}

	if s.eventPub != nil {
		// The credential is already revoked; the event is informational
		if err := s.eventPub.PublishLogout(ctx, core.Fingerprint(token)); err != nil {
			s.log.Warnw("Failed to publish logout event", "error", err)
		}
	}

	return nil
}

func (s *AuthService) delay(ctx context.Context) error {
	if s.failureDelay == 0 {
		return nil
	}

	timer := time.NewTimer(s.failureDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

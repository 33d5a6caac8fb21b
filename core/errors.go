package core

import (
	"errors"
	"fmt"
)

var (
	ErrNoToken               = errors.New("no credential")
	ErrInvalidToken          = errors.New("invalid token")
	ErrTokenExpired          = errors.New("token has expired")
	ErrTokenRevoked          = errors.New("token has been revoked")
	ErrRevocationUnsupported = errors.New("token revocation is not supported")
	ErrPinRequired           = errors.New("pin is required")
	ErrLimitExceeded         = errors.New("free usage limit exceeded")
	ErrRateLimited           = errors.New("rate limit exceeded")
	ErrBackendUnavailable    = errors.New("counter backend unavailable")
	ErrUnknownTier           = errors.New("unknown rate limit tier")
	ErrMissingSecret         = &ConfigError{Field: "SESSION_SECRET"}
	ErrMissingPin            = &ConfigError{Field: "PIN"}
)

// ConfigError reports a configuration value the process cannot start without
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("config: %s is required", e.Field)
	}
	return fmt.Sprintf("config: %s %s", e.Field, e.Reason)
}

// IsConfigError reports whether err is a ConfigError
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

package core

import "time"

// Counter is a fixed-window counter snapshot returned by a CounterStore
type Counter struct {
	Key         string
	Count       int64
	WindowStart time.Time // Zero when the key has no live window
	ResetAt     time.Time // Zero when the key has no live window
}

// ResetAfter returns the time left in the window, never negative
func (c Counter) ResetAfter(now time.Time) time.Duration {
	if c.ResetAt.IsZero() || !c.ResetAt.After(now) {
		return 0
	}
	return c.ResetAt.Sub(now)
}

// Tier names a rate limit class
type Tier string

const (
	TierGlobal    Tier = "global"
	TierAuth      Tier = "auth"
	TierExpensive Tier = "expensive"
)

// TierLimit is the ceiling of a tier within one window
type TierLimit struct {
	Max    int64         `yaml:"max"`
	Window time.Duration `yaml:"window"`
}

// RateDecision is the outcome of a rate limit check
type RateDecision struct {
	Tier      Tier
	Allowed   bool
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

// QuotaDecision is the outcome of a free quota check
type QuotaDecision struct {
	Allowed   bool
	Count     int64 // Counter value after the call when allowed, current value when rejected
	Limit     int64
	Remaining int64
	ResetAt   time.Time
}

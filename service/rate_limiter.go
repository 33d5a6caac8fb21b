package service

import (
	"context"
	"fmt"
	"time"

	"github.com/layer-3/ordbok/core"
	"github.com/layer-3/ordbok/metrics"
	"github.com/layer-3/ordbok/ports"
	"go.uber.org/zap"
)

// DefaultRateLimitTimeout bounds a single counter round trip
const DefaultRateLimitTimeout = 500 * time.Millisecond

// DefaultTiers returns the stock ceilings for each tier
func DefaultTiers() map[core.Tier]core.TierLimit {
	return map[core.Tier]core.TierLimit{
		core.TierGlobal:    {Max: 100, Window: 15 * time.Minute},
		core.TierAuth:      {Max: 5, Window: 15 * time.Minute},
		core.TierExpensive: {Max: 90, Window: 15 * time.Minute},
	}
}

// RateLimiter enforces per-client request ceilings over fixed windows
type RateLimiter struct {
	counters ports.CounterStore
	tiers    map[core.Tier]core.TierLimit
	timeout  time.Duration
	log      *zap.SugaredLogger
}

// NewRateLimiter creates a rate limiter. Tiers missing from tiers fall back to DefaultTiers.
func NewRateLimiter(counters ports.CounterStore, tiers map[core.Tier]core.TierLimit, timeout time.Duration, log *zap.SugaredLogger) *RateLimiter {
	merged := DefaultTiers()
	for tier, limit := range tiers {
		if limit.Max > 0 && limit.Window > 0 {
			merged[tier] = limit
		}
	}
	if timeout <= 0 {
		timeout = DefaultRateLimitTimeout
	}

	return &RateLimiter{
		counters: counters,
		tiers:    merged,
		timeout:  timeout,
		log:      log,
	}
}

// Limit returns the ceiling configured for tier
func (r *RateLimiter) Limit(tier core.Tier) (core.TierLimit, bool) {
	limit, ok := r.tiers[tier]
	return limit, ok
}

// RateLimitKey returns the counter key for a client within a tier
func RateLimitKey(tier core.Tier, clientID string) string {
	return "ratelimit:" + string(tier) + ":" + clientID
}

// Allow counts one request from clientID against tier. Every call is counted,
// allowed or not, so parallel requests cannot slip past the ceiling.
func (r *RateLimiter) Allow(ctx context.Context, tier core.Tier, clientID string) (core.RateDecision, error) {
	limit, ok := r.tiers[tier]
	if !ok {
		return core.RateDecision{}, fmt.Errorf("%w: %s", core.ErrUnknownTier, tier)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	counter, err := r.counters.Increment(ctx, RateLimitKey(tier, clientID), limit.Window)
	if err != nil {
		metrics.RateLimitDecisions.WithLabelValues(string(tier), metrics.DecisionError).Inc()
		metrics.CounterBackendErrors.WithLabelValues("ratelimit").Inc()
		r.log.Errorw("Rate limit backend failure", "tier", tier, "error", err)
		return core.RateDecision{}, backendUnavailable(err)
	}

	remaining := limit.Max - counter.Count
	if remaining < 0 {
		remaining = 0
	}
	decision := core.RateDecision{
		Tier:      tier,
		Allowed:   counter.Count <= limit.Max,
		Limit:     limit.Max,
		Remaining: remaining,
		ResetAt:   counter.ResetAt,
	}

	if decision.Allowed {
		metrics.RateLimitDecisions.WithLabelValues(string(tier), metrics.DecisionAllowed).Inc()
	} else {
		metrics.RateLimitDecisions.WithLabelValues(string(tier), metrics.DecisionRejected).Inc()
		r.log.Debugw("Rate limit exceeded", "tier", tier, "client", clientID, "count", counter.Count)
	}

	return decision, nil
}

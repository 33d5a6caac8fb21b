package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/layer-3/ordbok/core"
	"github.com/layer-3/ordbok/metrics"
	"github.com/layer-3/ordbok/ports"
	"go.uber.org/zap"
)

// Defaults for QuotaConfig fields left zero
const (
	DefaultQuotaMaxFree = 10
	DefaultQuotaWindow  = 24 * time.Hour
	DefaultQuotaTimeout = 500 * time.Millisecond
)

// QuotaConfig configures the anonymous free quota
type QuotaConfig struct {
	MaxFree int64
	Window  time.Duration
	Timeout time.Duration
}

// QuotaService meters anonymous callers against a bounded free quota
type QuotaService struct {
	counters ports.CounterStore
	cfg      QuotaConfig
	log      *zap.SugaredLogger
}

// NewQuotaService creates a quota service. MaxFree may be zero, which rejects every anonymous call.
func NewQuotaService(counters ports.CounterStore, cfg QuotaConfig, log *zap.SugaredLogger) *QuotaService {
	if cfg.MaxFree < 0 {
		cfg.MaxFree = 0
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultQuotaWindow
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultQuotaTimeout
	}

	return &QuotaService{
		counters: counters,
		cfg:      cfg,
		log:      log,
	}
}

// Limit returns the free allowance per window
func (s *QuotaService) Limit() int64 {
	return s.cfg.MaxFree
}

// QuotaKey returns the counter key for a client within a scope
func QuotaKey(scope, clientID string) string {
	return "quota:" + scope + ":" + clientID
}

// Consume charges one call to clientID in scope. Sequential rejections are not
// counted, but a caller that loses the race between the read and the increment
// leaves its increment behind, so the stored count can exceed MaxFree. Reported
// counts are capped at MaxFree.
// Any backend failure or timeout returns an error wrapping core.ErrBackendUnavailable.
func (s *QuotaService) Consume(ctx context.Context, clientID, scope string) (core.QuotaDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	key := QuotaKey(scope, clientID)

	current, err := s.counters.Get(ctx, key)
	if err != nil {
		return core.QuotaDecision{}, s.backendError(scope, "quota_get", err)
	}
	if current.Count >= s.cfg.MaxFree {
		metrics.QuotaDecisions.WithLabelValues(scope, metrics.DecisionRejected).Inc()
		return s.rejected(current.Count, current.ResetAt), nil
	}

	next, err := s.counters.Increment(ctx, key, s.cfg.Window)
	if err != nil {
		return core.QuotaDecision{}, s.backendError(scope, "quota_increment", err)
	}
	// A concurrent caller took the last free call between the read and the increment
	if next.Count > s.cfg.MaxFree {
		metrics.QuotaDecisions.WithLabelValues(scope, metrics.DecisionRejected).Inc()
		return s.rejected(next.Count, next.ResetAt), nil
	}

	metrics.QuotaDecisions.WithLabelValues(scope, metrics.DecisionAllowed).Inc()
	return core.QuotaDecision{
		Allowed:   true,
		Count:     next.Count,
		Limit:     s.cfg.MaxFree,
		Remaining: s.cfg.MaxFree - next.Count,
		ResetAt:   next.ResetAt,
	}, nil
}

func (s *QuotaService) rejected(count int64, resetAt time.Time) core.QuotaDecision {
	count = min(count, s.cfg.MaxFree)
	return core.QuotaDecision{
		Allowed:   false,
		Count:     count,
		Limit:     s.cfg.MaxFree,
		Remaining: 0,
		ResetAt:   resetAt,
	}
}

func (s *QuotaService) backendError(scope, op string, err error) error {
	metrics.QuotaDecisions.WithLabelValues(scope, metrics.DecisionError).Inc()
	metrics.CounterBackendErrors.WithLabelValues(op).Inc()
	s.log.Errorw("Quota backend failure", "scope", scope, "op", op, "error", err)
	return backendUnavailable(err)
}

func backendUnavailable(err error) error {
	if errors.Is(err, core.ErrBackendUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", core.ErrBackendUnavailable, err)
}

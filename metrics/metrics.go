package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Label values shared by the decision counters
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultError   = "error"

	DecisionAllowed  = "allowed"
	DecisionRejected = "rejected"
	DecisionError    = "error"
)

var (
	AuthAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ordbok_auth_attempts_total",
		Help: "Total number of PIN login attempts by result",
	}, []string{"result"})
	TokenVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ordbok_token_verifications_total",
		Help: "Total number of credential verifications by result",
	}, []string{"result"})
	QuotaDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ordbok_quota_decisions_total",
		Help: "Anonymous free quota decisions grouped by scope",
	}, []string{"scope", "decision"})
	RateLimitDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ordbok_ratelimit_decisions_total",
		Help: "Rate limit decisions grouped by tier",
	}, []string{"tier", "decision"})
	// Errors talking to the counter backend; every one of them failed a request closed
	CounterBackendErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ordbok_counter_backend_errors_total",
		Help: "Total number of counter backend failures by operation",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(AuthAttempts)
	prometheus.MustRegister(TokenVerifications)
	prometheus.MustRegister(QuotaDecisions)
	prometheus.MustRegister(RateLimitDecisions)
	prometheus.MustRegister(CounterBackendErrors)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/ordbok/adapters/auth"
	"github.com/layer-3/ordbok/adapters/codec"
	"github.com/layer-3/ordbok/adapters/counter"
	"github.com/layer-3/ordbok/adapters/store"
	"github.com/layer-3/ordbok/core"
	"github.com/layer-3/ordbok/ports"
	"github.com/layer-3/ordbok/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

const testPin = "7421"

type testServer struct {
	router   *gin.Engine
	now      time.Time
	counters ports.CounterStore
}

func (s *testServer) clock() time.Time        { return s.now }
func (s *testServer) advance(d time.Duration) { s.now = s.now.Add(d) }

type serverOptions struct {
	strategy  string
	maxFree   int64
	tiers     map[core.Tier]core.TierLimit
	counters  ports.CounterStore
	rateLimit bool
	proxies   []string
}

func defaultOptions() serverOptions {
	return serverOptions{
		strategy:  auth.StrategyStateless,
		maxFree:   3,
		rateLimit: true,
	}
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()

	s := &testServer{now: time.Now()}
	log := zaptest.NewLogger(t)

	c, err := codec.NewHMACCodec([]byte("router-test-secret"))
	require.NoError(t, err)
	sessions := store.NewMemoryStore().WithClock(s.clock)

	var authenticator ports.Authenticator
	switch opts.strategy {
	case auth.StrategyHybrid:
		authenticator = auth.NewHybrid(c, sessions).WithClock(s.clock)
	case auth.StrategySession:
		authenticator = auth.NewSession(sessions).WithClock(s.clock)
	default:
		authenticator = auth.NewStateless(c).WithClock(s.clock)
	}

	authService, err := service.NewAuthService(authenticator, nil, service.AuthConfig{
		Pin:           testPin,
		SessionMaxAge: 7 * 24 * time.Hour,
		FailureDelay:  time.Millisecond,
	}, log.Sugar())
	require.NoError(t, err)
	authService.WithClock(s.clock)

	s.counters = opts.counters
	if s.counters == nil {
		mem := counter.NewMemoryCounter(time.Hour)
		t.Cleanup(func() { _ = mem.Close() })
		s.counters = mem
	}

	router, err := SetupRouter(Services{
		Auth:    authService,
		Quota:   service.NewQuotaService(s.counters, service.QuotaConfig{MaxFree: opts.maxFree, Window: time.Hour}, log.Sugar()),
		Limiter: service.NewRateLimiter(s.counters, opts.tiers, 0, log.Sugar()),
		Health:  s.counters.Ping,
	}, RouterConfig{
		AllowedOrigins:   []string{"http://localhost:3000"},
		TrustedProxies:   opts.proxies,
		MaxBodyBytes:     10 << 10,
		RateLimitEnabled: opts.rateLimit,
		QuotaScope:       "ai",
	}, log)
	require.NoError(t, err)
	s.router = router

	return s
}

type request struct {
	method  string
	path    string
	body    any
	headers map[string]string
	remote  string
}

func (s *testServer) do(t *testing.T, r request) *httptest.ResponseRecorder {
	t.Helper()

	var body bytes.Buffer
	if r.body != nil {
		require.NoError(t, json.NewEncoder(&body).Encode(r.body))
	}
	method := r.method
	if method == "" {
		method = http.MethodPost
	}

	req := httptest.NewRequest(method, r.path, &body)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}
	if r.remote != "" {
		req.RemoteAddr = r.remote
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) login(t *testing.T) loginResponse {
	t.Helper()
	w := s.do(t, request{path: "/auth", body: gin.H{"pin": testPin}})
	require.Equal(t, http.StatusOK, w.Code)

	var res loginResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.True(t, res.Valid)
	return res
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func TestLoginAndVerifyEndToEnd(t *testing.T) {
	s := newTestServer(t, defaultOptions())

	res := s.login(t)
	assert.Equal(t, 1, strings.Count(res.Token, "."))
	assert.Equal(t, s.now.Add(7*24*time.Hour).UnixMilli(), res.ExpiresAt)

	w := s.do(t, request{path: "/auth/verify-token", headers: bearer(res.Token)})
	require.Equal(t, http.StatusOK, w.Code)
	var verified verifyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &verified))
	assert.Equal(t, verifyResponse{Valid: true, ExpiresAt: res.ExpiresAt}, verified)

	s.advance(7*24*time.Hour + time.Second)

	w = s.do(t, request{path: "/auth/verify-token", headers: bearer(res.Token)})
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"valid":false}`, w.Body.String())
}

func TestLogin(t *testing.T) {
	s := newTestServer(t, defaultOptions())

	t.Run("wrong pin", func(t *testing.T) {
		w := s.do(t, request{path: "/auth", body: gin.H{"pin": "1234"}})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"valid":false}`, w.Body.String())
	})

	t.Run("empty pin", func(t *testing.T) {
		w := s.do(t, request{path: "/auth", body: gin.H{"pin": ""}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, CodePinRequired, decode(t, w)["code"])
	})

	t.Run("malformed body", func(t *testing.T) {
		w := s.do(t, request{path: "/auth/verify-pin", body: "not an object"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestLoginValidation(t *testing.T) {
	s := newTestServer(t, defaultOptions())

	for name, pin := range map[string]string{
		"letters":  "12ab",
		"signed":   "-7421",
		"decimal":  "74.21",
		"too long": strings.Repeat("7", 51),
	} {
		t.Run(name, func(t *testing.T) {
			w := s.do(t, request{path: "/auth", body: gin.H{"pin": pin}})
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, CodeInvalidRequest, decode(t, w)["code"])
		})
	}
}

func TestLoginTrimsPin(t *testing.T) {
	s := newTestServer(t, defaultOptions())

	w := s.do(t, request{path: "/auth", body: gin.H{"pin": " " + testPin + "\n"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["valid"])
}

func TestVerifyTokenSources(t *testing.T) {
	s := newTestServer(t, defaultOptions())
	token := s.login(t).Token

	t.Run("body", func(t *testing.T) {
		w := s.do(t, request{path: "/auth/verify-token", body: gin.H{"token": token}})
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, true, decode(t, w)["valid"])
	})

	t.Run("custom header", func(t *testing.T) {
		w := s.do(t, request{path: "/auth/verify-token", headers: map[string]string{HeaderSessionToken: token}})
		assert.Equal(t, true, decode(t, w)["valid"])
	})

	t.Run("tampered", func(t *testing.T) {
		w := s.do(t, request{path: "/auth/verify-token", headers: bearer(token + "A")})
		assert.JSONEq(t, `{"valid":false}`, w.Body.String())
	})

	t.Run("missing", func(t *testing.T) {
		w := s.do(t, request{path: "/auth/verify-token"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"valid":false}`, w.Body.String())
	})
}

func TestSessionMiddleware(t *testing.T) {
	s := newTestServer(t, defaultOptions())
	token := s.login(t).Token

	tests := []struct {
		name     string
		headers  map[string]string
		wantCode int
		wantErr  string
	}{
		{"bearer", bearer(token), http.StatusOK, ""},
		{"custom header", map[string]string{HeaderSessionToken: token}, http.StatusOK, ""},
		{"no credential", nil, http.StatusUnauthorized, CodeNoToken},
		{"invalid credential", bearer("abc.def"), http.StatusUnauthorized, CodeInvalidToken},
		{"bearer wins over custom header", map[string]string{
			"Authorization":    "Bearer " + token,
			HeaderSessionToken: "garbage",
		}, http.StatusOK, ""},
		{"invalid bearer is not rescued by custom header", map[string]string{
			"Authorization":    "Bearer garbage",
			HeaderSessionToken: token,
		}, http.StatusUnauthorized, CodeInvalidToken},
		{"non-bearer scheme is ignored", map[string]string{
			"Authorization":    "Basic dXNlcjpwYXNz",
			HeaderSessionToken: token,
		}, http.StatusOK, ""},
		{"non-bearer scheme alone", map[string]string{"Authorization": "Basic dXNlcjpwYXNz"}, http.StatusUnauthorized, CodeNoToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, request{method: http.MethodGet, path: "/api/session", headers: tt.headers})
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())

			body := decode(t, w)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, body["code"])
				return
			}
			assert.Equal(t, true, body["authenticated"])
		})
	}

	t.Run("expired credential", func(t *testing.T) {
		s.advance(8 * 24 * time.Hour)
		w := s.do(t, request{method: http.MethodGet, path: "/api/session", headers: bearer(token)})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, CodeInvalidToken, decode(t, w)["code"])
	})
}

func TestQuotaMiddleware(t *testing.T) {
	t.Run("anonymous callers get the free quota", func(t *testing.T) {
		s := newTestServer(t, defaultOptions())

		for i := 1; i <= 3; i++ {
			w := s.do(t, request{method: http.MethodGet, path: "/api/quota"})
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "3", w.Header().Get(HeaderQuotaLimit))
			assert.Equal(t, string(rune('0'+3-i)), w.Header().Get(HeaderQuotaRemaining))
			assert.Equal(t, true, decode(t, w)["anonymous"])
		}

		w := s.do(t, request{method: http.MethodGet, path: "/api/quota"})
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.JSONEq(t, `{"error":"Free usage limit reached","code":"LIMIT_EXCEEDED","count":3,"limit":3}`, w.Body.String())
	})

	t.Run("valid credential bypasses the quota", func(t *testing.T) {
		s := newTestServer(t, defaultOptions())
		token := s.login(t).Token

		for i := 0; i < 5; i++ {
			w := s.do(t, request{method: http.MethodGet, path: "/api/quota", headers: bearer(token)})
			require.Equal(t, http.StatusOK, w.Code)
			assert.Empty(t, w.Header().Get(HeaderQuotaLimit))
			assert.Equal(t, true, decode(t, w)["authenticated"])
		}
	})

	t.Run("invalid credential never falls back to the quota", func(t *testing.T) {
		s := newTestServer(t, defaultOptions())

		w := s.do(t, request{method: http.MethodGet, path: "/api/quota", headers: bearer("forged.token")})
		require.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, CodeInvalidToken, decode(t, w)["code"])

		c, err := s.counters.Get(context.Background(), service.QuotaKey("ai", "192.0.2.1"))
		require.NoError(t, err)
		assert.Equal(t, int64(0), c.Count, "a failed credential must not consume free quota")
	})

	t.Run("clients are metered separately", func(t *testing.T) {
		opts := defaultOptions()
		opts.maxFree = 1
		s := newTestServer(t, opts)

		w := s.do(t, request{method: http.MethodGet, path: "/api/quota", remote: "198.51.100.1:5000"})
		assert.Equal(t, http.StatusOK, w.Code)
		w = s.do(t, request{method: http.MethodGet, path: "/api/quota", remote: "198.51.100.2:5000"})
		assert.Equal(t, http.StatusOK, w.Code)
		w = s.do(t, request{method: http.MethodGet, path: "/api/quota", remote: "198.51.100.1:5001"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}

func TestForwardedForIgnoredWithoutTrustedProxies(t *testing.T) {
	opts := defaultOptions()
	opts.maxFree = 1
	s := newTestServer(t, opts)

	w := s.do(t, request{method: http.MethodGet, path: "/api/quota", headers: map[string]string{"X-Forwarded-For": "203.0.113.1"}})
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, request{method: http.MethodGet, path: "/api/quota", headers: map[string]string{"X-Forwarded-For": "203.0.113.2"}})
	assert.Equal(t, http.StatusUnauthorized, w.Code, "spoofed X-Forwarded-For must not mint a fresh quota")
}

func TestForwardedForHonouredFromTrustedProxy(t *testing.T) {
	opts := defaultOptions()
	opts.maxFree = 1
	opts.proxies = []string{"192.0.2.1"}
	s := newTestServer(t, opts)

	w := s.do(t, request{method: http.MethodGet, path: "/api/quota", headers: map[string]string{"X-Forwarded-For": "203.0.113.1"}})
	assert.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, request{method: http.MethodGet, path: "/api/quota", headers: map[string]string{"X-Forwarded-For": "203.0.113.2"}})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimit(t *testing.T) {
	t.Run("auth tier", func(t *testing.T) {
		s := newTestServer(t, defaultOptions())

		for i := 4; i >= 0; i-- {
			w := s.do(t, request{path: "/auth", body: gin.H{"pin": "0000"}})
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "5", w.Header().Get(HeaderRateLimitLimit))
			assert.Equal(t, string(rune('0'+i)), w.Header().Get(HeaderRateLimitRemaining))
			assert.NotEmpty(t, w.Header().Get(HeaderRateLimitReset))
		}

		// Even the correct PIN is refused once the budget is spent
		w := s.do(t, request{path: "/auth", body: gin.H{"pin": testPin}})
		require.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.NotEmpty(t, w.Header().Get("Retry-After"))

		body := decode(t, w)
		assert.Equal(t, CodeRateLimited, body["code"])
		assert.Greater(t, body["retryAfter"], float64(0))
	})

	t.Run("token checks do not spend the auth tier", func(t *testing.T) {
		s := newTestServer(t, defaultOptions())
		token := s.login(t).Token

		for i := 0; i < 10; i++ {
			w := s.do(t, request{path: "/auth/verify-token", headers: bearer(token)})
			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, true, decode(t, w)["valid"])
			assert.Equal(t, "100", w.Header().Get(HeaderRateLimitLimit))
		}

		s.login(t)
	})

	t.Run("runs before authorization", func(t *testing.T) {
		opts := defaultOptions()
		opts.tiers = map[core.Tier]core.TierLimit{core.TierGlobal: {Max: 2, Window: time.Minute}}
		s := newTestServer(t, opts)

		for i := 0; i < 2; i++ {
			w := s.do(t, request{method: http.MethodGet, path: "/api/session"})
			require.Equal(t, http.StatusUnauthorized, w.Code)
		}

		w := s.do(t, request{method: http.MethodGet, path: "/api/session"})
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
	})

	t.Run("disabled", func(t *testing.T) {
		opts := defaultOptions()
		opts.rateLimit = false
		s := newTestServer(t, opts)

		for i := 0; i < 10; i++ {
			w := s.do(t, request{path: "/auth", body: gin.H{"pin": "0000"}})
			require.Equal(t, http.StatusOK, w.Code)
			assert.Empty(t, w.Header().Get(HeaderRateLimitLimit))
		}
	})

	t.Run("health and metrics are not limited", func(t *testing.T) {
		opts := defaultOptions()
		opts.tiers = map[core.Tier]core.TierLimit{core.TierGlobal: {Max: 1, Window: time.Minute}}
		s := newTestServer(t, opts)

		for i := 0; i < 3; i++ {
			w := s.do(t, request{method: http.MethodGet, path: "/healthz"})
			assert.Equal(t, http.StatusOK, w.Code)
		}
	})
}

type pingCounter struct {
	ports.CounterStore
	pings atomic.Int64
}

func (p *pingCounter) Ping(ctx context.Context) error {
	p.pings.Add(1)
	return p.CounterStore.Ping(ctx)
}

func TestHealthPingsAreCached(t *testing.T) {
	mem := counter.NewMemoryCounter(time.Hour)
	t.Cleanup(func() { _ = mem.Close() })
	pc := &pingCounter{CounterStore: mem}

	opts := defaultOptions()
	opts.counters = pc
	s := newTestServer(t, opts)

	for i := 0; i < 5; i++ {
		w := s.do(t, request{method: http.MethodGet, path: "/healthz"})
		require.Equal(t, http.StatusOK, w.Code)
	}
	assert.Equal(t, int64(1), pc.pings.Load())
}

func TestCachedHealth(t *testing.T) {
	now := time.Now()
	calls := 0
	result := errBoom
	h := newCachedHealth(func(ctx context.Context) error {
		calls++
		return result
	}, 5*time.Second)
	h.now = func() time.Time { return now }

	assert.ErrorIs(t, h.Check(context.Background()), errBoom)
	result = nil
	assert.ErrorIs(t, h.Check(context.Background()), errBoom, "failure is served from the cache")
	assert.Equal(t, 1, calls)

	now = now.Add(5 * time.Second)
	assert.NoError(t, h.Check(context.Background()))
	assert.Equal(t, 2, calls)
}

func TestBackendFailureFailsClosed(t *testing.T) {
	opts := defaultOptions()
	opts.counters = brokenCounter{}

	t.Run("rate limiter", func(t *testing.T) {
		s := newTestServer(t, opts)
		w := s.do(t, request{path: "/auth", body: gin.H{"pin": testPin}})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, CodeBackendUnavailable, decode(t, w)["code"])
	})

	t.Run("quota", func(t *testing.T) {
		noLimit := opts
		noLimit.rateLimit = false
		s := newTestServer(t, noLimit)

		w := s.do(t, request{method: http.MethodGet, path: "/api/quota"})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, CodeBackendUnavailable, decode(t, w)["code"])
	})

	t.Run("health", func(t *testing.T) {
		s := newTestServer(t, opts)
		w := s.do(t, request{method: http.MethodGet, path: "/healthz"})
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func TestLogout(t *testing.T) {
	t.Run("hybrid revokes", func(t *testing.T) {
		opts := defaultOptions()
		opts.strategy = auth.StrategyHybrid
		s := newTestServer(t, opts)
		token := s.login(t).Token

		w := s.do(t, request{path: "/auth/logout", headers: bearer(token)})
		require.Equal(t, http.StatusOK, w.Code)

		w = s.do(t, request{method: http.MethodGet, path: "/api/session", headers: bearer(token)})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, CodeInvalidToken, decode(t, w)["code"])
	})

	t.Run("session strategy revokes", func(t *testing.T) {
		opts := defaultOptions()
		opts.strategy = auth.StrategySession
		s := newTestServer(t, opts)
		token := s.login(t).Token
		assert.Len(t, token, 64)

		w := s.do(t, request{path: "/auth/logout", headers: map[string]string{HeaderSessionToken: token}})
		require.Equal(t, http.StatusOK, w.Code)

		w = s.do(t, request{path: "/auth/verify-token", headers: bearer(token)})
		assert.JSONEq(t, `{"valid":false}`, w.Body.String())
	})

	t.Run("stateless cannot revoke", func(t *testing.T) {
		s := newTestServer(t, defaultOptions())
		token := s.login(t).Token

		w := s.do(t, request{path: "/auth/logout", headers: bearer(token)})
		assert.Equal(t, http.StatusNotImplemented, w.Code)
		assert.Equal(t, CodeRevocationUnsupported, decode(t, w)["code"])
	})

	t.Run("no credential", func(t *testing.T) {
		s := newTestServer(t, defaultOptions())
		w := s.do(t, request{path: "/auth/logout"})
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, CodeNoToken, decode(t, w)["code"])
	})
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, defaultOptions())

	w := s.do(t, request{method: http.MethodOptions, path: "/auth", headers: map[string]string{
		"Origin":                        "http://localhost:3000",
		"Access-Control-Request-Method": "POST",
	}})
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	w = s.do(t, request{method: http.MethodOptions, path: "/auth", headers: map[string]string{
		"Origin":                        "https://evil.example",
		"Access-Control-Request-Method": "POST",
	}})
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, defaultOptions())
	s.login(t)

	w := s.do(t, request{method: http.MethodGet, path: "/metrics"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ordbok_auth_attempts_total")
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "abcdef...uvwxyz", MaskToken("abcdefghijklmnopqrstuvwxyz"))
	assert.Equal(t, "****", MaskToken("abcd"))
	assert.Equal(t, "", MaskToken(""))
}

var errBoom = errors.New("connection refused")

type brokenCounter struct{}

func (brokenCounter) Increment(ctx context.Context, key string, window time.Duration) (core.Counter, error) {
	return core.Counter{}, errBoom
}
func (brokenCounter) Get(ctx context.Context, key string) (core.Counter, error) {
	return core.Counter{}, errBoom
}
func (brokenCounter) Reset(ctx context.Context, key string) error { return errBoom }
func (brokenCounter) Ping(ctx context.Context) error              { return errBoom }

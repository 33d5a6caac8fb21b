package service

import (
	"context"
	"testing"
	"time"

	"github.com/layer-3/ordbok/adapters/auth"
	"github.com/layer-3/ordbok/adapters/codec"
	"github.com/layer-3/ordbok/adapters/store"
	"github.com/layer-3/ordbok/core"
	"github.com/layer-3/ordbok/metrics"
	"github.com/layer-3/ordbok/ports"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type authFixture struct {
	svc       *AuthService
	publisher *recordingPublisher
	now       time.Time
}

func (f *authFixture) clock() time.Time        { return f.now }
func (f *authFixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func newAuthFixture(t *testing.T, strategy string, delay time.Duration) *authFixture {
	t.Helper()

	f := &authFixture{
		publisher: &recordingPublisher{},
		now:       time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC),
	}

	c, err := codec.NewHMACCodec([]byte("service-test-secret"))
	require.NoError(t, err)
	s := store.NewMemoryStore().WithClock(f.clock)

	var authenticator ports.Authenticator
	switch strategy {
	case auth.StrategySession:
		authenticator = auth.NewSession(s).WithClock(f.clock)
	case auth.StrategyHybrid:
		authenticator = auth.NewHybrid(c, s).WithClock(f.clock)
	default:
		authenticator = auth.NewStateless(c).WithClock(f.clock)
	}

	svc, err := NewAuthService(authenticator, f.publisher, AuthConfig{
		Pin:           "1234",
		SessionMaxAge: time.Hour,
		FailureDelay:  delay,
	}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	f.svc = svc.WithClock(f.clock)

	return f
}

func TestVerifyPin(t *testing.T) {
	cases := []struct {
		submitted string
		want      bool
	}{
		{"1234", true},
		{"1235", false},
		{"12345", false},
		{"123", false},
		{"", false},
		{"abcd", false},
	}

	for _, tc := range cases {
		t.Run(tc.submitted, func(t *testing.T) {
			assert.Equal(t, tc.want, VerifyPin(tc.submitted, "1234"))
		})
	}
}

func TestNewAuthServiceRequiresPin(t *testing.T) {
	c, err := codec.NewHMACCodec([]byte("secret"))
	require.NoError(t, err)

	svc, err := NewAuthService(auth.NewStateless(c), nil, AuthConfig{}, zaptest.NewLogger(t).Sugar())
	assert.Nil(t, svc)
	assert.ErrorIs(t, err, core.ErrMissingPin)
	assert.True(t, core.IsConfigError(err))
}

func TestLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("correct pin issues a credential", func(t *testing.T) {
		f := newAuthFixture(t, auth.StrategyStateless, 0)
		before := testutil.ToFloat64(metrics.AuthAttempts.WithLabelValues(metrics.ResultSuccess))

		res, err := f.svc.Login(ctx, "1234")
		require.NoError(t, err)
		assert.True(t, res.Valid)
		assert.NotEmpty(t, res.Token)
		assert.Equal(t, f.now.Add(time.Hour).UnixMilli(), res.ExpiresAt)

		assert.Equal(t, before+1, testutil.ToFloat64(metrics.AuthAttempts.WithLabelValues(metrics.ResultSuccess)))
		assert.Equal(t, []string{core.Fingerprint(res.Token)}, f.publisher.logins)
	})

	t.Run("wrong pin yields invalid result", func(t *testing.T) {
		f := newAuthFixture(t, auth.StrategyStateless, 0)

		for _, pin := range []string{"1235", "12345", "0000"} {
			res, err := f.svc.Login(ctx, pin)
			require.NoError(t, err)
			assert.False(t, res.Valid)
			assert.Empty(t, res.Token)
		}
		assert.Empty(t, f.publisher.logins)
	})

	t.Run("empty pin is a client error", func(t *testing.T) {
		f := newAuthFixture(t, auth.StrategyStateless, 0)

		_, err := f.svc.Login(ctx, "")
		assert.ErrorIs(t, err, core.ErrPinRequired)
	})

	t.Run("failure waits for the delay", func(t *testing.T) {
		f := newAuthFixture(t, auth.StrategyStateless, 50*time.Millisecond)

		start := time.Now()
		res, err := f.svc.Login(ctx, "9999")
		require.NoError(t, err)
		assert.False(t, res.Valid)
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("failure delay honours cancellation", func(t *testing.T) {
		f := newAuthFixture(t, auth.StrategyStateless, time.Hour)

		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()

		_, err := f.svc.Login(cctx, "9999")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("publish failure does not fail login", func(t *testing.T) {
		f := newAuthFixture(t, auth.StrategyStateless, 0)
		f.publisher.err = errBoom

		res, err := f.svc.Login(ctx, "1234")
		require.NoError(t, err)
		assert.True(t, res.Valid)
	})
}

func TestVerifyToken(t *testing.T) {
	ctx := context.Background()

	for _, strategy := range []string{auth.StrategyStateless, auth.StrategySession, auth.StrategyHybrid} {
		t.Run(strategy, func(t *testing.T) {
			f := newAuthFixture(t, strategy, 0)
			assert.Equal(t, strategy, f.svc.Strategy())

			login, err := f.svc.Login(ctx, "1234")
			require.NoError(t, err)

			res, err := f.svc.VerifyToken(ctx, login.Token)
			require.NoError(t, err)
			assert.True(t, res.Valid)
			assert.Equal(t, login.ExpiresAt, res.ExpiresAt)

			res, err = f.svc.VerifyToken(ctx, "garbage")
			require.NoError(t, err)
			assert.False(t, res.Valid)

			res, err = f.svc.VerifyToken(ctx, "")
			require.NoError(t, err)
			assert.False(t, res.Valid)

			f.advance(time.Hour + time.Second)
			res, err = f.svc.VerifyToken(ctx, login.Token)
			require.NoError(t, err)
			assert.False(t, res.Valid)
		})
	}
}

func TestLogout(t *testing.T) {
	ctx := context.Background()

	t.Run("stateless cannot revoke", func(t *testing.T) {
		f := newAuthFixture(t, auth.StrategyStateless, 0)
		login, err := f.svc.Login(ctx, "1234")
		require.NoError(t, err)

		assert.ErrorIs(t, f.svc.Logout(ctx, login.Token), core.ErrRevocationUnsupported)
		assert.Empty(t, f.publisher.logouts)
	})

	for _, strategy := range []string{auth.StrategySession, auth.StrategyHybrid} {
		t.Run(strategy+" revokes", func(t *testing.T) {
			f := newAuthFixture(t, strategy, 0)
			login, err := f.svc.Login(ctx, "1234")
			require.NoError(t, err)

			require.NoError(t, f.svc.Logout(ctx, login.Token))
			assert.Len(t, f.publisher.logouts, 1)

			res, err := f.svc.VerifyToken(ctx, login.Token)
			require.NoError(t, err)
			assert.False(t, res.Valid)
		})
	}

	t.Run("no token", func(t *testing.T) {
		f := newAuthFixture(t, auth.StrategyHybrid, 0)
		assert.ErrorIs(t, f.svc.Logout(ctx, ""), core.ErrNoToken)
	})
}

func TestAuthenticateBackendFailure(t *testing.T) {
	c, err := codec.NewHMACCodec([]byte("secret"))
	require.NoError(t, err)
	authenticator := auth.NewHybrid(c, brokenDenyList{})

	svc, err := NewAuthService(authenticator, nil, AuthConfig{Pin: "1234"}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	login, err := svc.Login(context.Background(), "1234")
	require.NoError(t, err)

	_, err = svc.VerifyToken(context.Background(), login.Token)
	assert.ErrorIs(t, err, core.ErrBackendUnavailable)
}

type brokenDenyList struct{}

func (brokenDenyList) InvalidateToken(ctx context.Context, tokenID string, expiry time.Duration) error {
	return core.ErrBackendUnavailable
}

func (brokenDenyList) IsTokenInvalidated(ctx context.Context, tokenID string) (bool, error) {
	return false, core.ErrBackendUnavailable
}

package ordbok

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/ordbok/adapters/auth"
	"github.com/layer-3/ordbok/adapters/codec"
	"github.com/layer-3/ordbok/adapters/counter"
	"github.com/layer-3/ordbok/adapters/events"
	"github.com/layer-3/ordbok/adapters/store"
	"github.com/layer-3/ordbok/config"
	"github.com/layer-3/ordbok/ports"
	"github.com/layer-3/ordbok/service"
	httptransport "github.com/layer-3/ordbok/transport/http"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// App wires the configured backends, services and HTTP router together
type App struct {
	cfg    config.Config
	log    *zap.Logger
	router *gin.Engine

	memory    *store.MemoryStore
	counters  ports.CounterStore
	publisher *events.WatermillPublisher
	closers   []func() error
}

// New builds an App from a validated configuration
func New(ctx context.Context, cfg config.Config, log *zap.Logger, debug bool) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &App{cfg: cfg, log: log}
	if err := app.init(ctx, debug); err != nil {
		_ = app.Close()
		return nil, err
	}

	return app, nil
}

func (a *App) init(ctx context.Context, debug bool) error {
	tokenCodec, err := codec.NewHMACCodec([]byte(a.cfg.Auth.SessionSecret))
	if err != nil {
		return err
	}

	var (
		sessions  ports.SessionStore
		denyList  ports.DenyList
		publisher message.Publisher
	)
	wmLogger := watermill.NewStdLogger(debug, false)

	switch a.cfg.Store.Backend {
	case config.BackendRedis:
		client, err := NewRedisClient(ctx, a.cfg.Store.RedisURL)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, client.Close)

		a.counters = counter.NewRedisCounter(client)
		redisStore := store.NewRedisStore(client)
		sessions, denyList = redisStore, redisStore

		publisher, err = redisstream.NewPublisher(
			redisstream.PublisherConfig{
				Client: client,
			},
			wmLogger,
		)
		if err != nil {
			return fmt.Errorf("failed to create Redis publisher: %w", err)
		}
	default:
		memCounter := counter.NewMemoryCounter(a.cfg.Store.CleanupInterval)
		a.closers = append(a.closers, memCounter.Close)
		a.counters = memCounter

		a.memory = store.NewMemoryStore()
		sessions, denyList = a.memory, a.memory

		publisher = gochannel.NewGoChannel(gochannel.Config{}, wmLogger)
	}

	a.publisher = events.NewWatermillPublisher(publisher)
	// Publisher closes before the Redis client it writes through
	a.closers = append([]func() error{a.publisher.Close}, a.closers...)

	authenticator, err := auth.New(a.cfg.Auth.Strategy, tokenCodec, sessions, denyList)
	if err != nil {
		return err
	}

	sugar := a.log.Sugar()
	authService, err := service.NewAuthService(authenticator, a.publisher, service.AuthConfig{
		Pin:           a.cfg.Auth.Pin,
		SessionMaxAge: a.cfg.Auth.SessionMaxAge,
		FailureDelay:  a.cfg.Auth.FailureDelay,
	}, sugar)
	if err != nil {
		return err
	}

	quota := service.NewQuotaService(a.counters, service.QuotaConfig{
		MaxFree: a.cfg.Quota.MaxFree,
		Window:  a.cfg.Quota.Window,
		Timeout: a.cfg.Quota.Timeout,
	}, sugar)
	limiter := service.NewRateLimiter(a.counters, a.cfg.RateLimit.Tiers(), a.cfg.RateLimit.Timeout, sugar)

	router, err := httptransport.SetupRouter(httptransport.Services{
		Auth:    authService,
		Quota:   quota,
		Limiter: limiter,
		Health:  a.counters.Ping,
	}, httptransport.RouterConfig{
		AllowedOrigins:   a.cfg.Server.AllowedOrigins,
		TrustedProxies:   a.cfg.Server.TrustedProxies,
		MaxBodyBytes:     a.cfg.Server.MaxBodyBytes,
		RateLimitEnabled: a.cfg.RateLimit.Enabled,
		QuotaScope:       a.cfg.Quota.Scope,
	}, a.log)
	if err != nil {
		return fmt.Errorf("failed to set up router: %w", err)
	}
	a.router = router

	sugar.Infow("Application initialized",
		"backend", a.cfg.Store.Backend,
		"strategy", authenticator.Name(),
		"rateLimit", a.cfg.RateLimit.Enabled,
		"quotaMaxFree", a.cfg.Quota.MaxFree,
		"trustedProxies", a.cfg.Server.TrustedProxies,
	)

	return nil
}

// Handler returns the HTTP handler
func (a *App) Handler() http.Handler {
	return a.router
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Server.ListenAddress,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("Starting server", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()

		a.log.Info("Shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	if a.memory != nil {
		g.Go(func() error {
			a.purgeSessions(ctx)
			return nil
		})
	}

	return g.Wait()
}

func (a *App) purgeSessions(ctx context.Context) {
	interval := a.cfg.Store.CleanupInterval
	if interval <= 0 {
		interval = counter.DefaultCleanupInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.memory.Purge(); n > 0 {
				a.log.Debug("Purged expired session records", zap.Int("count", n))
			}
		}
	}
}

// Close releases backends in dependency order
func (a *App) Close() error {
	var errs []error
	for _, closeFn := range a.closers {
		if err := closeFn(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

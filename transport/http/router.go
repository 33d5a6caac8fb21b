package http

import (
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/ordbok/core"
	"github.com/layer-3/ordbok/metrics"
	"github.com/layer-3/ordbok/service"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// RouterConfig holds the transport settings
type RouterConfig struct {
	AllowedOrigins   []string
	TrustedProxies   []string
	MaxBodyBytes     int64
	RateLimitEnabled bool
	QuotaScope       string
}

// Services are the application services the router exposes
type Services struct {
	Auth    *service.AuthService
	Quota   *service.QuotaService
	Limiter *service.RateLimiter
	Health  HealthCheck
}

// SetupRouter sets up the Gin router
func SetupRouter(svc Services, cfg RouterConfig, log *zap.Logger) (*gin.Engine, error) {
	router := gin.New()
	router.Use(
		ginzap.GinzapWithConfig(log, &ginzap.Config{
			TimeFormat: time.RFC3339,
			UTC:        true,
			Context:    credentialField,
		}),
		ginzap.RecoveryWithZap(log, true),
	)

	// No trusted proxies means ClientIP is the TCP peer and X-Forwarded-For is ignored
	if err := router.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		return nil, err
	}

	if len(cfg.AllowedOrigins) > 0 {
		router.Use(cors.New(cors.Config{
			AllowOrigins: cfg.AllowedOrigins,
			AllowMethods: []string{"GET", "POST", "OPTIONS"},
			AllowHeaders: []string{"Origin", "Authorization", "Content-Type", HeaderSessionToken},
			ExposeHeaders: []string{
				HeaderRateLimitLimit, HeaderRateLimitRemaining, HeaderRateLimitReset, "Retry-After",
				HeaderQuotaLimit, HeaderQuotaRemaining,
			},
			MaxAge: 12 * time.Hour,
		}))
	}

	router.Use(BodyLimit(cfg.MaxBodyBytes))

	handlers := NewAuthHandlers(svc.Auth, svc.Health)

	limit := func(tier core.Tier) gin.HandlerFunc {
		if !cfg.RateLimitEnabled {
			return func(c *gin.Context) { c.Next() }
		}
		return RateLimitMiddleware(svc.Limiter, tier)
	}
	if !cfg.RateLimitEnabled {
		log.Warn("Rate limiting is DISABLED; every tier is bypassed")
	}

	router.GET("/healthz", handlers.Health)
	router.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	// Rate limiting runs before any authorization middleware
	limited := router.Group("/", limit(core.TierGlobal))

	// Only PIN attempts count against the auth tier; clients verify on every page load
	attempts := limit(core.TierAuth)
	auth := limited.Group("/auth")
	{
		auth.POST("", attempts, handlers.Login)
		auth.POST("/verify-pin", attempts, handlers.Login)
		auth.POST("/verify-token", handlers.VerifyToken)
		auth.POST("/logout", handlers.Logout)
	}

	api := limited.Group("/api")
	{
		api.GET("/session", SessionMiddleware(svc.Auth), handlers.Me)
		api.GET("/quota", limit(core.TierExpensive), QuotaMiddleware(svc.Auth, svc.Quota, cfg.QuotaScope), handlers.Me)
	}

	return router, nil
}

// credentialField adds the masked credential of the request to the access log
func credentialField(c *gin.Context) []zapcore.Field {
	token := ExtractCredential(c)
	if token == "" {
		return nil
	}
	return []zapcore.Field{zap.String("credential", MaskToken(token))}
}

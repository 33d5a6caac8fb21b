package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"github.com/layer-3/ordbok/core"
	"gopkg.in/yaml.v2"
)

// Backend names
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

type Server struct {
	ListenAddress   string        `yaml:"listenAddress"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
	TrustedProxies  []string      `yaml:"trustedProxies"` // IPs/CIDRs whose X-Forwarded-For is believed; empty trusts none
	MaxBodyBytes    int64         `yaml:"maxBodyBytes"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

type Auth struct {
	SessionSecret string        `yaml:"sessionSecret"`
	Pin           string        `yaml:"pin"`
	Strategy      string        `yaml:"strategy"` // stateless, session or hybrid
	SessionMaxAge time.Duration `yaml:"sessionMaxAge"`
	FailureDelay  time.Duration `yaml:"failureDelay"`
}

type Store struct {
	Backend         string        `yaml:"backend"` // memory or redis
	RedisURL        string        `yaml:"redisURL"`
	CleanupInterval time.Duration `yaml:"cleanupInterval"`
}

type Quota struct {
	MaxFree int64         `yaml:"maxFree"`
	Window  time.Duration `yaml:"window"`
	Scope   string        `yaml:"scope"`
	Timeout time.Duration `yaml:"backendTimeout"`
}

type RateLimit struct {
	Enabled   bool           `yaml:"enabled"`
	Timeout   time.Duration  `yaml:"backendTimeout"`
	Global    core.TierLimit `yaml:"global"`
	Auth      core.TierLimit `yaml:"auth"`
	Expensive core.TierLimit `yaml:"expensive"`
}

type Config struct {
	Server    Server    `yaml:"server"`
	Auth      Auth      `yaml:"auth"`
	Store     Store     `yaml:"store"`
	Quota     Quota     `yaml:"quota"`
	RateLimit RateLimit `yaml:"rateLimit"`
}

// Tiers returns the configured ceiling per rate limit tier
func (r RateLimit) Tiers() map[core.Tier]core.TierLimit {
	return map[core.Tier]core.TierLimit{
		core.TierGlobal:    r.Global,
		core.TierAuth:      r.Auth,
		core.TierExpensive: r.Expensive,
	}
}

// Defaults returns a configuration with every tunable set. Secrets stay empty.
func Defaults() Config {
	window := 15 * time.Minute
	return Config{
		Server: Server{
			ListenAddress:   ":3000",
			AllowedOrigins:  []string{"http://localhost:3000"},
			MaxBodyBytes:    10 << 10,
			ShutdownTimeout: 10 * time.Second,
		},
		Auth: Auth{
			Strategy:      "stateless",
			SessionMaxAge: 7 * 24 * time.Hour,
			FailureDelay:  time.Second,
		},
		Store: Store{
			Backend:         BackendMemory,
			CleanupInterval: time.Minute,
		},
		Quota: Quota{
			MaxFree: 10,
			Window:  24 * time.Hour,
			Scope:   "ai",
			Timeout: 500 * time.Millisecond,
		},
		RateLimit: RateLimit{
			Enabled:   true,
			Timeout:   500 * time.Millisecond,
			Global:    core.TierLimit{Max: 100, Window: window},
			Auth:      core.TierLimit{Max: 5, Window: window},
			Expensive: core.TierLimit{Max: 90, Window: window},
		},
	}
}

// environment lists the variables that override the file. Unset variables leave the value alone.
type environment struct {
	SessionSecret  string        `envconfig:"SESSION_SECRET"`
	Pin            string        `envconfig:"PIN"`
	Port           string        `envconfig:"PORT"`
	AuthStrategy   string        `envconfig:"AUTH_STRATEGY"`
	SessionMaxAge  time.Duration `envconfig:"SESSION_MAX_AGE"`
	StoreBackend   string        `envconfig:"STORE_BACKEND"`
	RedisURL       string        `envconfig:"REDIS_URL"`
	AllowedOrigins []string      `envconfig:"ALLOWED_ORIGINS"`
	TrustedProxies []string      `envconfig:"TRUSTED_PROXIES"`
	QuotaMaxFree   int64         `envconfig:"QUOTA_MAX_FREE"`
	QuotaWindow    time.Duration `envconfig:"QUOTA_WINDOW"`
	RateLimit      bool          `envconfig:"RATE_LIMIT_ENABLED"`
}

// Load builds the configuration: defaults, then the YAML file at path if non-empty,
// then environment variables. The result is validated.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("trying to open config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return cfg, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
		}
	}

	if err := applyEnvironment(&cfg); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func applyEnvironment(cfg *Config) error {
	env := environment{
		SessionSecret:  cfg.Auth.SessionSecret,
		Pin:            cfg.Auth.Pin,
		AuthStrategy:   cfg.Auth.Strategy,
		SessionMaxAge:  cfg.Auth.SessionMaxAge,
		StoreBackend:   cfg.Store.Backend,
		RedisURL:       cfg.Store.RedisURL,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TrustedProxies: cfg.Server.TrustedProxies,
		QuotaMaxFree:   cfg.Quota.MaxFree,
		QuotaWindow:    cfg.Quota.Window,
		RateLimit:      cfg.RateLimit.Enabled,
	}

	if err := envconfig.Process("", &env); err != nil {
		return fmt.Errorf("error reading environment: %w", err)
	}

	cfg.Auth.SessionSecret = env.SessionSecret
	cfg.Auth.Pin = env.Pin
	cfg.Auth.Strategy = env.AuthStrategy
	cfg.Auth.SessionMaxAge = env.SessionMaxAge
	cfg.Store.Backend = env.StoreBackend
	cfg.Store.RedisURL = env.RedisURL
	cfg.Server.AllowedOrigins = env.AllowedOrigins
	cfg.Server.TrustedProxies = env.TrustedProxies
	cfg.Quota.MaxFree = env.QuotaMaxFree
	cfg.Quota.Window = env.QuotaWindow
	cfg.RateLimit.Enabled = env.RateLimit
	if env.Port != "" {
		cfg.Server.ListenAddress = ":" + strings.TrimPrefix(env.Port, ":")
	}

	return nil
}

var validate = validator.New()

// Validate reports the first problem that prevents the server from starting.
// Missing secrets are reported as *core.ConfigError.
func (c Config) Validate() error {
	if c.Auth.SessionSecret == "" {
		return core.ErrMissingSecret
	}
	if c.Auth.Pin == "" {
		return core.ErrMissingPin
	}
	// Same format the login endpoint accepts
	if err := validate.Var(c.Auth.Pin, "max=50,number"); err != nil {
		return &core.ConfigError{Field: "PIN", Reason: "must be 1 to 50 digits"}
	}

	switch c.Auth.Strategy {
	case "stateless", "session", "hybrid":
	default:
		return &core.ConfigError{Field: "AUTH_STRATEGY", Reason: fmt.Sprintf("must be stateless, session or hybrid, got %q", c.Auth.Strategy)}
	}
	if c.Auth.SessionMaxAge <= 0 {
		return &core.ConfigError{Field: "SESSION_MAX_AGE", Reason: "must be positive"}
	}

	switch c.Store.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Store.RedisURL == "" {
			return &core.ConfigError{Field: "REDIS_URL", Reason: "is required for the redis backend"}
		}
	default:
		return &core.ConfigError{Field: "STORE_BACKEND", Reason: fmt.Sprintf("must be memory or redis, got %q", c.Store.Backend)}
	}

	if c.Quota.MaxFree < 0 {
		return &core.ConfigError{Field: "QUOTA_MAX_FREE", Reason: "must not be negative"}
	}
	if c.Quota.Window <= 0 {
		return &core.ConfigError{Field: "QUOTA_WINDOW", Reason: "must be positive"}
	}
	if c.Quota.Scope == "" {
		return &core.ConfigError{Field: "quota.scope", Reason: "must not be empty"}
	}

	for tier, limit := range c.RateLimit.Tiers() {
		if limit.Max <= 0 || limit.Window <= 0 {
			return &core.ConfigError{Field: "rateLimit." + string(tier), Reason: "needs a positive max and window"}
		}
	}

	for _, origin := range c.Server.AllowedOrigins {
		if err := validateOrigin(origin); err != nil {
			return &core.ConfigError{Field: "ALLOWED_ORIGINS", Reason: err.Error()}
		}
	}

	return nil
}

func validateOrigin(origin string) error {
	if origin == "*" {
		return errors.New("must list explicit origins")
	}
	u, err := url.Parse(origin)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("has invalid origin %q", origin)
	}
	return nil
}

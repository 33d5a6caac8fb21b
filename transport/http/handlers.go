package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/layer-3/ordbok/core"
	"github.com/layer-3/ordbok/service"
	"golang.org/x/sync/singleflight"
)

// HealthCacheTTL is how long a backend health result is served without a new check
const HealthCacheTTL = 5 * time.Second

// HealthCheck reports whether a dependency is reachable
type HealthCheck func(ctx context.Context) error

// AuthHandlers contains HTTP handlers for auth endpoints
type AuthHandlers struct {
	authService *service.AuthService
	health      *cachedHealth
}

// NewAuthHandlers creates new auth handlers. health may be nil.
func NewAuthHandlers(authService *service.AuthService, health HealthCheck) *AuthHandlers {
	h := &AuthHandlers{authService: authService}
	if health != nil {
		h.health = newCachedHealth(health, HealthCacheTTL)
	}
	return h
}

type loginRequest struct {
	Pin string `json:"pin"`
}

// pinInput is validated after trimming. Empty is left to the PIN gate.
type pinInput struct {
	Pin string `binding:"omitempty,max=50,number"`
}

type loginResponse struct {
	Valid     bool   `json:"valid"`
	Token     string `json:"token,omitempty"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
}

type verifyRequest struct {
	Token string `json:"token"`
}

type verifyResponse struct {
	Valid     bool  `json:"valid"`
	ExpiresAt int64 `json:"expiresAt,omitempty"`
}

// Login exchanges a PIN for a credential
func (h *AuthHandlers) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "code": CodeInvalidRequest})
		return
	}

	pin := strings.TrimSpace(req.Pin)
	if err := binding.Validator.ValidateStruct(&pinInput{Pin: pin}); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "PIN must be 1 to 50 digits", "code": CodeInvalidRequest})
		return
	}

	res, err := h.authService.Login(c.Request.Context(), pin)
	if err != nil {
		if errors.Is(err, core.ErrPinRequired) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "PIN is required", "code": CodePinRequired})
			return
		}
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, loginResponse{
		Valid:     res.Valid,
		Token:     res.Token,
		ExpiresAt: res.ExpiresAt,
	})
}

// VerifyToken reports whether the credential in the header or body is valid
func (h *AuthHandlers) VerifyToken(c *gin.Context) {
	token := ExtractCredential(c)
	if token == "" {
		var req verifyRequest
		// An empty or non-JSON body simply carries no token
		_ = c.ShouldBindJSON(&req)
		token = req.Token
	}
	if token == "" {
		c.JSON(http.StatusBadRequest, verifyResponse{Valid: false})
		return
	}

	res, err := h.authService.VerifyToken(c.Request.Context(), token)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, verifyResponse{
		Valid:     res.Valid,
		ExpiresAt: res.ExpiresAt,
	})
}

// Logout revokes the presented credential
func (h *AuthHandlers) Logout(c *gin.Context) {
	token := ExtractCredential(c)
	if token == "" {
		abortWithError(c, core.ErrNoToken)
		return
	}

	err := h.authService.Logout(c.Request.Context(), token)
	switch {
	case err == nil, errors.Is(err, core.ErrTokenExpired):
		// An expired credential is as good as logged out
		c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
	default:
		abortWithError(c, err)
	}
}

// Health reports liveness and counter backend reachability
func (h *AuthHandlers) Health(c *gin.Context) {
	if h.health != nil {
		// The result is shared with other callers, so a client hanging up must not fail it
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 2*time.Second)
		defer cancel()

		if err := h.health.Check(ctx); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "code": CodeBackendUnavailable})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "strategy": h.authService.Strategy()})
}

// Me returns the principal admitted by the session or quota middleware
func (h *AuthHandlers) Me(c *gin.Context) {
	principal, exists := PrincipalFrom(c)
	if !exists {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Principal not found in context", "code": CodeInternal})
		return
	}

	if principal.Anonymous {
		c.JSON(http.StatusOK, gin.H{
			"authenticated": false,
			"anonymous":     true,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"anonymous":     false,
		"expiresAt":     principal.ExpiresAt,
	})
}

// cachedHealth reuses a health result for ttl and collapses concurrent checks into one
type cachedHealth struct {
	check HealthCheck
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu        sync.Mutex
	checkedAt time.Time
	err       error
}

func newCachedHealth(check HealthCheck, ttl time.Duration) *cachedHealth {
	return &cachedHealth{
		check: check,
		ttl:   ttl,
		now:   time.Now,
	}
}

func (h *cachedHealth) Check(ctx context.Context) error {
	h.mu.Lock()
	if !h.checkedAt.IsZero() && h.now().Sub(h.checkedAt) < h.ttl {
		err := h.err
		h.mu.Unlock()
		return err
	}
	h.mu.Unlock()

	_, err, _ := h.group.Do("health", func() (any, error) {
		err := h.check(ctx)

		h.mu.Lock()
		h.checkedAt, h.err = h.now(), err
		h.mu.Unlock()

		return nil, err
	})
	return err
}

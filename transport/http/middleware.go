package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/ordbok/core"
	"github.com/layer-3/ordbok/service"
)

const (
	// HeaderSessionToken is the legacy credential header, still sent by older clients
	HeaderSessionToken = "X-Session-Token"

	HeaderQuotaLimit     = "X-Quota-Limit"
	HeaderQuotaRemaining = "X-Quota-Remaining"

	// PrincipalKey is the gin context key holding the core.Principal of the request
	PrincipalKey = "principal"
)

// ExtractCredential returns the credential presented by the request, or "".
// A Bearer Authorization header wins over X-Session-Token; other schemes are ignored.
func ExtractCredential(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if token = strings.TrimSpace(token); token != "" {
				return token
			}
		}
	}

	return strings.TrimSpace(c.GetHeader(HeaderSessionToken))
}

// PrincipalFrom returns the principal set by SessionMiddleware or QuotaMiddleware
func PrincipalFrom(c *gin.Context) (core.Principal, bool) {
	value, exists := c.Get(PrincipalKey)
	if !exists {
		return core.Principal{}, false
	}
	principal, ok := value.(core.Principal)
	return principal, ok
}

// SessionMiddleware admits only requests carrying a valid credential
func SessionMiddleware(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractCredential(c)
		if token == "" {
			abortWithError(c, core.ErrNoToken)
			return
		}

		principal, err := authService.Authenticate(c.Request.Context(), token)
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.Set(PrincipalKey, principal)
		c.Next()
	}
}

// QuotaMiddleware admits requests with a valid credential, or anonymous requests
// within the free quota for scope. A presented credential that fails to
// authenticate is rejected; it never falls back to the free quota.
func QuotaMiddleware(authService *service.AuthService, quota *service.QuotaService, scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := ExtractCredential(c); token != "" {
			principal, err := authService.Authenticate(c.Request.Context(), token)
			if err != nil {
				abortWithError(c, err)
				return
			}

			c.Set(PrincipalKey, principal)
			c.Next()
			return
		}

		clientID := c.ClientIP()
		decision, err := quota.Consume(c.Request.Context(), clientID, scope)
		if err != nil {
			abortWithError(c, err)
			return
		}

		c.Header(HeaderQuotaLimit, strconv.FormatInt(decision.Limit, 10))
		c.Header(HeaderQuotaRemaining, strconv.FormatInt(decision.Remaining, 10))

		if !decision.Allowed {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Free usage limit reached",
				"code":  CodeLimitExceeded,
				"count": decision.Count,
				"limit": decision.Limit,
			})
			return
		}

		c.Set(PrincipalKey, core.Principal{Anonymous: true, ClientID: clientID})
		c.Next()
	}
}

// BodyLimit caps request bodies at n bytes
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if n > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// MaskToken keeps the first and last six characters of a token for logging
func MaskToken(token string) string {
	const keep = 6
	if len(token) <= keep*2 {
		return strings.Repeat("*", len(token))
	}
	return token[:keep] + "..." + token[len(token)-keep:]
}

package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/ordbok/core"
)

// Error codes returned in JSON bodies
const (
	CodeNoToken               = "NO_TOKEN"
	CodeInvalidToken          = "INVALID_TOKEN"
	CodeLimitExceeded         = "LIMIT_EXCEEDED"
	CodeRateLimited           = "RATE_LIMITED"
	CodeBackendUnavailable    = "BACKEND_UNAVAILABLE"
	CodeInvalidRequest        = "INVALID_REQUEST"
	CodePinRequired           = "PIN_REQUIRED"
	CodeRevocationUnsupported = "REVOCATION_UNSUPPORTED"
	CodeInternal              = "INTERNAL_ERROR"
)

// abortWithError maps a core error onto the response. Details never reach the client.
func abortWithError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrNoToken):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required", "code": CodeNoToken})
	case errors.Is(err, core.ErrInvalidToken),
		errors.Is(err, core.ErrTokenExpired),
		errors.Is(err, core.ErrTokenRevoked):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token", "code": CodeInvalidToken})
	case errors.Is(err, core.ErrBackendUnavailable):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "Service temporarily unavailable", "code": CodeBackendUnavailable})
	case errors.Is(err, core.ErrRevocationUnsupported):
		c.AbortWithStatusJSON(http.StatusNotImplemented, gin.H{"error": "Logout is not supported by this server", "code": CodeRevocationUnsupported})
	default:
		_ = c.Error(err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error", "code": CodeInternal})
	}
}

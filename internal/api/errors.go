package api

import (
	"log"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
)

// Error codes used in the JSON error envelope. Clients match on these, so
// they are part of the gateway's contract.
const (
	CodeNotFound     = "service_not_found"
	CodeAuthRequired = "auth_required"
	CodeAuthInvalid  = "auth_invalid"
	CodeForbidden    = "forbidden"
	CodeUnavailable  = "service_unavailable"
	CodeTimeout      = "upstream_timeout"
	CodeRateLimited  = "rate_limited"
	CodeInternal     = "internal_error"
)

// abortError writes the structured error envelope and stops the chain. Every
// gateway-generated error goes through here so clients always see the same
// shape: {error, message, path} plus any extra fields.
func abortError(c *gin.Context, status int, code, message string, extra gin.H) {
	body := gin.H{
		"error":   code,
		"message": message,
		"path":    c.Request.URL.Path,
	}
	for k, v := range extra {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, body)
}

// RecoveryMiddleware converts panics anywhere in the pipeline into the 500
// envelope. The stack goes to the log; the client message stays generic.
func RecoveryMiddleware() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, err any) {
		log.Printf("panic recovered: %v\n%s", err, debug.Stack())
		abortError(c, http.StatusInternalServerError, CodeInternal, "internal gateway error", nil)
	})
}

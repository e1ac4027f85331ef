package api

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Armour007/grc-gateway/internal/ratelimit"
	"github.com/Armour007/grc-gateway/internal/utils"
)

// SecurityHeadersMiddleware sets baseline hardening headers on every
// response, including error responses, so they apply before anything can
// fail.
func SecurityHeadersMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// RequestIDMiddleware ensures every request has an X-Request-ID. If absent, generate one.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.New().String()
		}
		c.Set("requestID", rid)
		c.Writer.Header().Set("X-Request-ID", rid)
		c.Next()
	}
}

// RateLimitMiddleware gates requests per client IP through the configured
// limiter. Rejections carry retry_after plus the limit and window so the
// client can pace itself.
func RateLimitMiddleware(limiter ratelimit.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if net.ParseIP(ip) == nil {
			ip = "unknown"
		}
		d := limiter.Allow(c.Request.Context(), ip)
		if !d.Allowed {
			RecordRateLimited()
			retryAfter := int(d.RetryAfter.Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			abortError(c, http.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded. Try again later.", gin.H{
				"retry_after":    retryAfter,
				"limit":          d.Limit,
				"window_seconds": int(d.Window.Seconds()),
			})
			return
		}
		c.Next()
	}
}

// bearerIdentity extracts and validates the Authorization header. It returns
// the identity, or writes the 401 envelope and returns false.
func bearerIdentity(c *gin.Context, validator *utils.TokenValidator) (*utils.Identity, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		abortError(c, http.StatusUnauthorized, CodeAuthRequired, "Authorization header required", nil)
		return nil, false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		abortError(c, http.StatusUnauthorized, CodeAuthRequired, "Authorization header format must be Bearer {token}", nil)
		return nil, false
	}
	id, err := validator.Validate(parts[1])
	if err != nil {
		abortError(c, http.StatusUnauthorized, CodeAuthInvalid, "Invalid token", nil)
		return nil, false
	}
	return id, true
}

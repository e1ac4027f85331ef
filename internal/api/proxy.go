package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Armour007/grc-gateway/internal/config"
	"github.com/Armour007/grc-gateway/internal/ratelimit"
	"github.com/Armour007/grc-gateway/internal/registry"
	"github.com/Armour007/grc-gateway/internal/utils"
)

// Gateway owns all gateway state: registry, limiter, health checker, route
// table, and the upstream HTTP client. Handlers close over it; no
// package-level singletons.
type Gateway struct {
	Config    *config.Config
	Registry  *registry.Registry
	Limiter   ratelimit.Limiter
	Checker   *registry.Checker
	validator *utils.TokenValidator
	// client carries no Timeout of its own; per-request deadlines come from
	// the request context so per-service overrides work.
	client *http.Client

	// OTelShutdown flushes the tracer provider at exit. Nil when tracing is
	// disabled.
	OTelShutdown func(context.Context) error
}

// NewGateway wires the gateway components together.
func NewGateway(cfg *config.Config, reg *registry.Registry, limiter ratelimit.Limiter, checker *registry.Checker) *Gateway {
	return &Gateway{
		Config:    cfg,
		Registry:  reg,
		Limiter:   limiter,
		Checker:   checker,
		validator: utils.NewTokenValidator(cfg.JWTSecret),
		client:    &http.Client{},
	}
}

// matchRoute finds the longest configured prefix matching the path. A prefix
// matches only at a segment boundary: /risks matches /risks and /risks/42
// but not /risksfoo.
func (gw *Gateway) matchRoute(path string) *config.Route {
	var best *config.Route
	for i := range gw.Config.Routes {
		r := &gw.Config.Routes[i]
		if !strings.HasPrefix(path, r.Prefix) {
			continue
		}
		if len(path) > len(r.Prefix) && path[len(r.Prefix)] != '/' {
			continue
		}
		if best == nil || len(r.Prefix) > len(best.Prefix) {
			best = r
		}
	}
	return best
}

// HandleProxy is the catch-all handler: route, authenticate, resolve,
// forward, relay. Breaker bookkeeping happens as a side effect of outcome
// classification, never as a separate step.
func (gw *Gateway) HandleProxy(c *gin.Context) {
	path := c.Request.URL.Path
	route := gw.matchRoute(path)
	if route == nil {
		abortError(c, http.StatusNotFound, CodeNotFound, "no service configured for this path", nil)
		return
	}
	c.Set(proxyRouteKey, route.Prefix)

	var identity *utils.Identity
	if route.RequireAuth {
		id, ok := bearerIdentity(c, gw.validator)
		if !ok {
			return
		}
		if route.RequiredRole != "" && id.Role != route.RequiredRole {
			abortError(c, http.StatusForbidden, CodeForbidden, "insufficient role for this resource", nil)
			return
		}
		identity = id
	}

	base, err := gw.Registry.Resolve(route.Service)
	if err != nil {
		if errors.Is(err, registry.ErrServiceNotFound) {
			abortError(c, http.StatusNotFound, CodeNotFound, "unknown service: "+route.Service, nil)
			return
		}
		abortError(c, http.StatusServiceUnavailable, CodeUnavailable, route.Service+" is currently unavailable", nil)
		return
	}

	gw.forward(c, route.Service, base, identity)
}

func (gw *Gateway) forward(c *gin.Context, service, base string, identity *utils.Identity) {
	timeout := gw.Registry.Timeout(service)
	if timeout <= 0 {
		timeout = gw.Config.RequestTimeout
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	url := base + c.Request.URL.Path
	if q := c.Request.URL.RawQuery; q != "" {
		url += "?" + q
	}
	req, err := http.NewRequestWithContext(ctx, c.Request.Method, url, c.Request.Body)
	if err != nil {
		abortError(c, http.StatusInternalServerError, CodeInternal, "failed to build upstream request", nil)
		return
	}
	copyHeaders(req.Header, c.Request.Header)
	if identity != nil {
		req.Header.Set("X-User-ID", identity.UserID)
		req.Header.Set("X-User-Email", identity.Email)
		req.Header.Set("X-User-Role", identity.Role)
		req.Header.Set("X-Organization-ID", identity.OrganizationID)
	}
	if rid := c.GetString("requestID"); rid != "" {
		req.Header.Set("X-Request-ID", rid)
	}

	start := time.Now()
	resp, err := gw.client.Do(req)
	if err != nil {
		gw.Registry.RecordFailure(service)
		status, code, outcome := classifyUpstreamError(err)
		RecordUpstream(service, outcome, time.Since(start))
		abortError(c, status, code, upstreamErrorMessage(code, service), nil)
		return
	}
	defer resp.Body.Close()

	// Any HTTP response means the service is reachable; application-level
	// errors in the body are not the breaker's business.
	gw.Registry.RecordSuccess(service)
	RecordUpstream(service, "relayed", time.Since(start))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		abortError(c, http.StatusBadGateway, CodeInternal, "failed to read upstream response", nil)
		return
	}
	relay(c, resp, body)
}

// relay passes the upstream status and body through. JSON bodies are decoded
// and re-encoded as JSON; everything else is relayed as opaque bytes with
// the original content type, never reinterpreted as text.
func relay(c *gin.Context, resp *http.Response, body []byte) {
	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		var payload any
		if err := json.Unmarshal(body, &payload); err == nil {
			c.JSON(resp.StatusCode, payload)
			return
		}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Data(resp.StatusCode, contentType, body)
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if strings.EqualFold(k, "Host") {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

// classifyUpstreamError maps a transport error to the gateway's status,
// error code, and metric outcome: timeouts are 504, unreachable backends are
// 503, anything else is a 500. All of them count as breaker failures.
func classifyUpstreamError(err error) (int, string, string) {
	var netErr net.Error
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return http.StatusServiceUnavailable, CodeUnavailable, "unreachable"
	}
	if (errors.As(err, &netErr) && netErr.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout, CodeTimeout, "timeout"
	}
	return http.StatusInternalServerError, CodeInternal, "error"
}

func upstreamErrorMessage(code, service string) string {
	switch code {
	case CodeTimeout:
		return service + " timed out"
	case CodeUnavailable:
		return service + " is unreachable"
	default:
		return "error proxying to " + service
	}
}

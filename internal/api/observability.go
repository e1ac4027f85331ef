package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

var (
	reqDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "gateway",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	reqTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "gateway", Name: "http_requests_total", Help: "Total HTTP requests"},
		[]string{"method", "path", "status"},
	)
	upstreamDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Namespace: "gateway", Name: "upstream_duration_seconds", Help: "Duration of proxied upstream calls"},
		[]string{"service", "outcome"},
	)
	upstreamTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "gateway", Name: "upstream_total", Help: "Total proxied upstream calls"},
		[]string{"service", "outcome"},
	)
	breakerOpen = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "gateway", Name: "circuit_breaker_open", Help: "Circuit breaker state: 1=open, 0=closed"},
		[]string{"service"},
	)
	rateLimitedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "gateway", Name: "rate_limited_total", Help: "Total requests rejected by the rate limiter"},
	)
	healthyInstances = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "gateway", Name: "healthy_instances", Help: "Healthy instance count per service"},
		[]string{"service"},
	)
)

func init() {
	prometheus.MustRegister(reqDuration, reqTotal, upstreamDuration, upstreamTotal, breakerOpen, rateLimitedTotal, healthyInstances)
}

// proxyRouteKey carries the matched route prefix from the proxy handler back
// to the metrics middleware, so proxied requests are labeled by prefix.
const proxyRouteKey = "proxyRoute"

// MetricsMiddleware records basic HTTP metrics. Proxied requests go through
// NoRoute where FullPath is empty; they are labeled with the matched route
// prefix so label cardinality stays bounded by the route table, not by the
// set of upstream URLs.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		dur := time.Since(start).Seconds()
		status := c.Writer.Status()
		path := c.FullPath()
		if path == "" {
			if prefix := c.GetString(proxyRouteKey); prefix != "" {
				path = prefix
			} else {
				path = "unmatched"
			}
		}
		observer := reqDuration.WithLabelValues(c.Request.Method, path, toStr(status))
		// attach exemplar with trace_id if present
		if sc := trace.SpanContextFromContext(c.Request.Context()); sc.IsValid() {
			if eo, ok := observer.(prometheus.ExemplarObserver); ok {
				eo.ObserveWithExemplar(dur, prometheus.Labels{"trace_id": sc.TraceID().String()})
			} else {
				observer.Observe(dur)
			}
		} else {
			observer.Observe(dur)
		}
		reqTotal.With(prometheus.Labels{"method": c.Request.Method, "path": path, "status": toStr(status)}).Inc()
	}
}

func toStr(i int) string { return strconv.Itoa(i) }

// RecordUpstream records one proxied call with its duration and outcome
// (relayed, timeout, unreachable, error).
func RecordUpstream(service, outcome string, dur time.Duration) {
	upstreamDuration.WithLabelValues(service, outcome).Observe(dur.Seconds())
	upstreamTotal.WithLabelValues(service, outcome).Inc()
}

// SetBreakerState updates the breaker state gauge (1=open, 0=closed)
func SetBreakerState(service string, open bool) {
	if open {
		breakerOpen.WithLabelValues(service).Set(1)
	} else {
		breakerOpen.WithLabelValues(service).Set(0)
	}
}

// RecordRateLimited counts one 429 rejection.
func RecordRateLimited() { rateLimitedTotal.Inc() }

// SetHealthyInstances sets the healthy instance gauge for a service.
func SetHealthyInstances(service string, n int) {
	healthyInstances.WithLabelValues(service).Set(float64(n))
}

package api

import (
	"log"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// NewRouter builds the gin engine with the gateway's fixed middleware order
// (recovery, security headers, rate limiting, metrics, request ID, CORS),
// then the gateway's own endpoints, with everything else falling through to
// the proxy. Tests construct routers the same way with fresh gateways.
func NewRouter(gw *Gateway) *gin.Engine {
	router := gin.New()
	// OpenTelemetry tracing (optional)
	if shutdown, ok := SetupTracing(gw.Config); ok {
		gw.OTelShutdown = shutdown
		router.Use(otelgin.Middleware(tracerServiceName))
	}
	router.Use(RecoveryMiddleware())
	router.Use(SecurityHeadersMiddleware())
	router.Use(RateLimitMiddleware(gw.Limiter))
	router.Use(MetricsMiddleware())
	router.Use(RequestIDMiddleware())
	router.Use(cors.New(corsConfig(gw)))

	if len(gw.Config.TrustedProxies) > 0 {
		if err := router.SetTrustedProxies(gw.Config.TrustedProxies); err != nil {
			log.Printf("warning: failed to set trusted proxies: %v", err)
		}
	}

	router.GET("/health", gw.HandleHealth)
	router.GET("/services", gw.HandleServices)
	router.GET("/services/status", gw.HandleServicesStatus)
	router.GET("/services/:name/health", gw.HandleServiceHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Everything else is proxied by path prefix.
	router.NoRoute(gw.HandleProxy)

	return router
}

func corsConfig(gw *Gateway) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Length", "X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(gw.Config.CORSOrigins) > 0 {
		cfg.AllowOrigins = gw.Config.CORSOrigins
	} else {
		// Development convenience; production deployments set GRC_CORS_ORIGINS.
		cfg.AllowAllOrigins = true
	}
	return cfg
}

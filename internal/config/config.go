// Package config holds the gateway's startup configuration: one explicit
// struct with typed fields and documented defaults, loaded from the
// environment and validated before the server starts.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServiceConfig describes one backend service the gateway fronts.
type ServiceConfig struct {
	Name       string
	Host       string
	Port       int
	HealthPath string
	// Timeout bounds one proxied call to this service. Zero means use the
	// global request timeout.
	Timeout time.Duration
	// CBThreshold / CBOpenFor override the global circuit breaker settings.
	CBThreshold int
	CBOpenFor   time.Duration
}

// Route maps a URL path prefix to a backend service. The table is static:
// it is resolved once at startup and never mutated at runtime.
type Route struct {
	Prefix       string
	Service      string
	RequireAuth  bool
	RequiredRole string
}

// Config is the full gateway configuration.
type Config struct {
	Port        string
	Environment string
	JWTSecret   string

	CORSOrigins    []string
	TrustedProxies []string

	HealthInterval time.Duration
	HealthTimeout  time.Duration
	RequestTimeout time.Duration

	RateLimitRequests int
	RateLimitWindow   time.Duration
	RateSweepEvery    time.Duration

	CBThreshold int
	CBOpenFor   time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TracingEnabled bool
	OTLPEndpoint   string

	Services []ServiceConfig
	Routes   []Route
}

// insecurePlaceholders are secrets that must never survive into production.
var insecurePlaceholders = map[string]struct{}{
	"dev_jwt_secret_123": {},
	"changeme":           {},
	"secret":             {},
	"dev-secret-key":     {},
}

// defaultServices is the GRC platform's service set. Hosts and ports follow
// the compose file conventions; every field is overridable per service via
// GRC_SVC_<NAME>_HOST / _PORT / _HEALTH_PATH / _TIMEOUT_SECONDS /
// _CB_THRESHOLD / _CB_OPEN_SECONDS.
var defaultServices = []ServiceConfig{
	{Name: "policy", Host: "localhost", Port: 8001},
	{Name: "risk", Host: "localhost", Port: 8002},
	{Name: "compliance", Host: "localhost", Port: 8003},
	{Name: "bfsi-agents", Host: "localhost", Port: 8004},
	{Name: "auth", Host: "localhost", Port: 8005},
}

// defaultRoutes is the static route table. Longest prefix wins; /auth stays
// open so clients can obtain tokens through the gateway.
var defaultRoutes = []Route{
	{Prefix: "/auth", Service: "auth", RequireAuth: false},
	{Prefix: "/policies", Service: "policy", RequireAuth: true},
	{Prefix: "/risks", Service: "risk", RequireAuth: true},
	{Prefix: "/compliance", Service: "compliance", RequireAuth: true},
	{Prefix: "/agents", Service: "bfsi-agents", RequireAuth: true},
	{Prefix: "/admin", Service: "policy", RequireAuth: true, RequiredRole: "admin"},
}

// Load reads the configuration from the environment, applying defaults for
// anything unset. It does not validate; call Validate before serving.
func Load() *Config {
	cfg := &Config{
		Port:              envStr("GRC_PORT", "8080"),
		Environment:       envStr("GRC_ENV", "development"),
		JWTSecret:         strings.TrimSpace(os.Getenv("JWT_SECRET")),
		CORSOrigins:       envList("GRC_CORS_ORIGINS"),
		TrustedProxies:    envList("GRC_TRUSTED_PROXIES"),
		HealthInterval:    envSeconds("GRC_HEALTH_INTERVAL_SECONDS", 30),
		HealthTimeout:     envSeconds("GRC_HEALTH_TIMEOUT_SECONDS", 5),
		RequestTimeout:    envSeconds("GRC_REQUEST_TIMEOUT_SECONDS", 30),
		RateLimitRequests: envInt("GRC_RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   envSeconds("GRC_RATE_LIMIT_WINDOW_SECONDS", 60),
		RateSweepEvery:    envSeconds("GRC_RATE_SWEEP_SECONDS", 300),
		CBThreshold:       envInt("GRC_CB_THRESHOLD", 5),
		CBOpenFor:         envSeconds("GRC_CB_OPEN_SECONDS", 300),
		RedisAddr:         os.Getenv("GRC_REDIS_ADDR"),
		RedisPassword:     os.Getenv("GRC_REDIS_PASSWORD"),
		RedisDB:           envInt("GRC_REDIS_DB", 0),
		OTLPEndpoint:      envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "http://localhost:4318"),
		Routes:            defaultRoutes,
	}
	cfg.TracingEnabled = os.Getenv("GRC_OTEL_ENABLE") != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
	if cfg.JWTSecret == "" {
		// Development convenience; Validate rejects this value in production.
		cfg.JWTSecret = "dev_jwt_secret_123"
	}
	for _, svc := range defaultServices {
		cfg.Services = append(cfg.Services, loadService(svc, cfg))
	}
	return cfg
}

func loadService(def ServiceConfig, cfg *Config) ServiceConfig {
	prefix := "GRC_SVC_" + strings.ToUpper(strings.ReplaceAll(def.Name, "-", "_"))
	svc := def
	svc.Host = envStr(prefix+"_HOST", def.Host)
	svc.Port = envInt(prefix+"_PORT", def.Port)
	svc.HealthPath = envStr(prefix+"_HEALTH_PATH", "/health")
	svc.Timeout = envSeconds(prefix+"_TIMEOUT_SECONDS", int(cfg.RequestTimeout/time.Second))
	svc.CBThreshold = envInt(prefix+"_CB_THRESHOLD", cfg.CBThreshold)
	svc.CBOpenFor = envSeconds(prefix+"_CB_OPEN_SECONDS", int(cfg.CBOpenFor/time.Second))
	return svc
}

// Production reports whether the gateway runs in production mode.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Validate fails fast on configuration that must not reach serving: a
// missing or placeholder JWT secret in production, nonsense limits.
func (c *Config) Validate() error {
	if c.Production() {
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET is required in production")
		}
		if _, bad := insecurePlaceholders[c.JWTSecret]; bad {
			return fmt.Errorf("JWT_SECRET is a known placeholder value; refusing to start in production")
		}
	}
	if c.RateLimitRequests <= 0 || c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit requests and window must be positive")
	}
	if c.CBThreshold <= 0 || c.CBOpenFor <= 0 {
		return fmt.Errorf("circuit breaker threshold and open duration must be positive")
	}
	for _, r := range c.Routes {
		if !strings.HasPrefix(r.Prefix, "/") {
			return fmt.Errorf("route prefix %q must start with /", r.Prefix)
		}
	}
	return nil
}

// helpers

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envSeconds(key string, def int) time.Duration {
	return time.Duration(envInt(key, def)) * time.Second
}

func envList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

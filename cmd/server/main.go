package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"

	"github.com/Armour007/grc-gateway/internal/api"
	"github.com/Armour007/grc-gateway/internal/config"
	"github.com/Armour007/grc-gateway/internal/ratelimit"
	"github.com/Armour007/grc-gateway/internal/registry"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	reg := registry.New(registry.WithBreakerListener(api.SetBreakerState))
	for _, svc := range cfg.Services {
		reg.Register(registry.ServiceSpec{
			Name:       svc.Name,
			Instances:  []*registry.ServiceInstance{{Host: svc.Host, Port: svc.Port}},
			HealthPath: svc.HealthPath,
			Timeout:    svc.Timeout,
			Threshold:  svc.CBThreshold,
			OpenFor:    svc.CBOpenFor,
		})
	}

	// Background tasks run under their own context so shutdown can cancel
	// them before the server closes the resources they touch.
	bgCtx, cancelBG := context.WithCancel(context.Background())
	defer cancelBG()

	var limiter ratelimit.Limiter
	if cfg.RedisAddr != "" {
		rc := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		limiter = ratelimit.NewRedisLimiter(rc, cfg.RateLimitRequests, cfg.RateLimitWindow)
		log.Printf("rate limiter: redis at %s", cfg.RedisAddr)
	} else {
		mem := ratelimit.NewMemoryLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow,
			ratelimit.WithSweepEvery(cfg.RateSweepEvery))
		go mem.RunSweeper(bgCtx)
		limiter = mem
		log.Printf("rate limiter: in-process")
	}

	checker := registry.NewChecker(reg, cfg.HealthInterval, cfg.HealthTimeout)
	go checker.Run(bgCtx)

	gw := api.NewGateway(cfg, reg, limiter, checker)
	router := api.NewRouter(gw)
	if gw.OTelShutdown != nil {
		defer gw.OTelShutdown(context.Background())
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: router}
	go func() {
		log.Printf("GRC gateway listening on :%s (%s)", cfg.Port, cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	log.Println("signal received, shutting down...")

	// Cancel background loops first, then drain in-flight requests.
	cancelBG()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

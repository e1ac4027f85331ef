package api

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/Armour007/grc-gateway/internal/config"
)

const tracerServiceName = "grc-gateway"

func noopShutdown(context.Context) error { return nil }

// SetupTracing installs an OTLP-HTTP tracer provider when tracing is enabled
// in the configuration, and returns a shutdown func to defer. Disabled or
// failed setup yields a no-op shutdown and ok=false so the router skips the
// tracing middleware.
func SetupTracing(cfg *config.Config) (func(context.Context) error, bool) {
	if !cfg.TracingEnabled {
		return noopShutdown, false
	}

	exporter, err := otlptrace.New(context.Background(), otlptracehttp.NewClient(
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	))
	if err != nil {
		log.Printf("tracing disabled, exporter init failed: %v", err)
		return noopShutdown, false
	}

	res, _ := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceNameKey.String(tracerServiceName)),
	)
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return provider.Shutdown(ctx)
	}, true
}

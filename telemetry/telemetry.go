// Package telemetry installs the global OpenTelemetry tracer provider the
// engine's spans are exported through.
package telemetry

import (
	"context"
	"fmt"

	"github.com/amp-labs/amp-fsm/config"
	"github.com/amp-labs/amp-fsm/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Shutdown flushes pending spans and releases the exporter.
type Shutdown func(ctx context.Context) error

func noop(context.Context) error { return nil }

// Initialize sets up OTLP/HTTP tracing and makes it the global provider.
// When tracing is disabled or no endpoint is configured it leaves the global
// provider alone and returns a no-op Shutdown.
func Initialize(ctx context.Context, cfg config.Telemetry) (Shutdown, error) {
	log := logger.Get(logger.WithSubsystem(ctx, "telemetry"))

	if !cfg.Enabled {
		log.Info("OpenTelemetry tracing is disabled")

		return noop, nil
	}

	if cfg.Endpoint == "" {
		log.Warn("OpenTelemetry endpoint not configured, tracing will be disabled")

		return noop, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.ServiceVersionKey.String(cfg.ServiceVersion),
			semconv.DeploymentEnvironmentKey.String(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpointURL(cfg.Endpoint),
		otlptracehttp.WithTimeout(cfg.Timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	log.Info("OpenTelemetry tracing initialized",
		"service", cfg.ServiceName,
		"version", cfg.ServiceVersion,
		"environment", cfg.Environment,
		"endpoint", cfg.Endpoint,
	)

	return func(ctx context.Context) error {
		log.Info("Shutting down OpenTelemetry tracer provider")

		return provider.Shutdown(ctx)
	}, nil
}

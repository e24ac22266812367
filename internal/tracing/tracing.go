// Package tracing builds the OpenTelemetry tracer provider used for upstream spans.
package tracing

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"

	"pdf-relay-go/internal/config"
)

// NewTracerProvider returns a no-op provider when tracing is disabled.
// Otherwise spans are batched to an OTLP/gRPC collector and flushed on stop.
func NewTracerProvider(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (trace.TracerProvider, error) {
	if !cfg.Tracing.Enabled {
		return noop.NewTracerProvider(), nil
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Tracing.Endpoint)}
	if cfg.Tracing.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	// The gRPC connection is established lazily; New does not block on the collector.
	exporter, err := otlptracegrpc.New(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", cfg.Tracing.ServiceName),
		)),
	)

	log := logger.With("component", "tracing")
	otel.SetErrorHandler(otel.ErrorHandlerFunc(func(err error) {
		log.Warn("otel error", "err", err)
	}))

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})

	log.Info("tracing enabled", "endpoint", cfg.Tracing.Endpoint, "service", cfg.Tracing.ServiceName)
	return tp, nil
}

package tracing

import (
	"context"
	"io"
	"log/slog"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx/fxtest"

	"pdf-relay-go/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewTracerProvider_Disabled(t *testing.T) {
	lc := fxtest.NewLifecycle(t)

	tp, err := NewTracerProvider(lc, &config.Config{}, testLogger())
	if err != nil {
		t.Fatalf("NewTracerProvider() error = %v", err)
	}
	if _, ok := tp.(noop.TracerProvider); !ok {
		t.Errorf("provider = %T, want noop.TracerProvider", tp)
	}

	lc.RequireStart().RequireStop()
}

func TestNewTracerProvider_Enabled(t *testing.T) {
	lc := fxtest.NewLifecycle(t)
	cfg := &config.Config{Tracing: config.TracingConfig{
		Enabled:     true,
		Endpoint:    "127.0.0.1:4317",
		Insecure:    true,
		ServiceName: "pdf-relay-test",
	}}

	tp, err := NewTracerProvider(lc, cfg, testLogger())
	if err != nil {
		t.Fatalf("NewTracerProvider() error = %v", err)
	}
	if _, ok := tp.(*sdktrace.TracerProvider); !ok {
		t.Fatalf("provider = %T, want *sdktrace.TracerProvider", tp)
	}

	// No spans are recorded, so shutdown has nothing to flush to the collector.
	lc.RequireStart()
	if err := lc.Stop(context.Background()); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

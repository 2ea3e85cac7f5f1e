// Package telemetry configures OpenTelemetry span export for the
// orchestration plane. Tracing is optional — a sandbox-provisioning
// bug hunt is usually a span-timeline-first problem, so CreateSandbox
// and the investigate request path each get one span, but nothing in
// the plane depends on a collector being reachable.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/sreorch/internal/config"
)

const scopeName = "github.com/nextlevelbuilder/sreorch"

// Init configures the global TracerProvider from cfg. When telemetry is
// disabled it returns a no-op shutdown and leaves otel's default no-op
// provider in place, so Tracer() calls elsewhere stay cheap no-ops.
func Init(ctx context.Context, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", cfg.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	if cfg.OTLPProtocol == "grpc" {
		exporter, err = otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint), otlptracegrpc.WithInsecure())
	} else {
		exporter, err = otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(cfg.OTLPEndpoint), otlptracehttp.WithInsecure())
	}
	if err != nil {
		return nil, fmt.Errorf("telemetry: build exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the orchestration plane's scoped tracer, a thin
// wrapper so callers never import "go.opentelemetry.io/otel" directly.
func Tracer() trace.Tracer {
	return otel.Tracer(scopeName)
}

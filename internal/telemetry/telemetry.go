// Package telemetry installs the process-wide OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ServiceName is the resource service name reported by canvaslog.
const ServiceName = "canvaslog"

// Settings selects the exporter. Tracing is off when Enabled is false or
// Endpoint is empty.
type Settings struct {
	ServiceName string
	Endpoint    string
	Enabled     bool
}

// Shutdown flushes pending spans and stops the provider.
type Shutdown func(context.Context) error

// Setup registers a batching OTLP/HTTP tracer provider as the global
// provider. When tracing is off it registers nothing and returns a no-op
// Shutdown; coordinator spans then go to the otel default no-op tracer.
func Setup(ctx context.Context, s Settings) (Shutdown, error) {
	noop := func(context.Context) error { return nil }

	if !s.Enabled || s.Endpoint == "" {
		return noop, nil
	}
	name := s.ServiceName
	if name == "" {
		name = ServiceName
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(s.Endpoint))
	if err != nil {
		return noop, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(name)))
	if err != nil {
		return noop, fmt.Errorf("build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}

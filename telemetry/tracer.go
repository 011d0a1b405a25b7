// Package telemetry wires OpenTelemetry tracing for storygen processes.
package telemetry

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName is the default service.name resource attribute.
const ServiceName = "storygen"

// NewTracerProvider creates a TracerProvider that writes finished spans to
// logger through a SlogSpanExporter.
//
// A SimpleSpanProcessor exports each span as it ends; the exporter only
// formats a log record, so batching buys nothing.
func NewTracerProvider(serviceName string, logger *slog.Logger) *sdktrace.TracerProvider {
	if logger == nil {
		logger = slog.Default()
	}
	if serviceName == "" {
		serviceName = ServiceName
	}

	exporter := NewSlogSpanExporter(logger)

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		logger.Warn("failed to create resource, using default", "error", err)
		res = resource.Default()
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(sdktrace.NewSimpleSpanProcessor(exporter)),
		sdktrace.WithResource(res),
	)
}

// Install registers tp as the global tracer provider and returns a shutdown
// function that flushes it.
func Install(tp *sdktrace.TracerProvider) func(context.Context) error {
	otel.SetTracerProvider(tp)
	return tp.Shutdown
}

// Tracer returns a tracer named for the storygen instrumentation scope.
func Tracer(tp trace.TracerProvider, name string) trace.Tracer {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return tp.Tracer(name)
}

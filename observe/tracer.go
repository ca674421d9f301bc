package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// NewTracerProvider creates a TracerProvider whose spans are written to the
// given logger as they complete.
//
// A SimpleSpanProcessor is used for immediate export without batching: CLI
// invocations are short-lived and must not lose spans on exit.
func NewTracerProvider(logger *slog.Logger) *sdktrace.TracerProvider {
	if logger == nil {
		logger = slog.Default()
	}

	exporter := NewLogSpanExporter(logger)
	processor := sdktrace.NewSimpleSpanProcessor(exporter)

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String("attackmap"),
		),
	)
	if err != nil {
		logger.Warn("failed to create resource, using default", "error", err)
		res = resource.Default()
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithResource(res),
	)
}

// NewTracer creates a tracer from the TracerProvider with the standard
// instrumentation name.
func NewTracer(tp *sdktrace.TracerProvider) trace.Tracer {
	return tp.Tracer("attackmap")
}

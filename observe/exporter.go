// Package observe provides logging-backed OpenTelemetry plumbing for hosts
// without a trace backend, such as the CLI. Completed spans are written to
// a slog.Logger, so tracing the engine never requires a collector.
package observe

import (
	"context"
	"encoding/hex"
	"log/slog"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// LogSpanExporter implements the OpenTelemetry SpanExporter interface by
// writing completed spans to a structured logger.
//
// Export never fails: problems are logged and nil is returned so the trace
// pipeline keeps running.
type LogSpanExporter struct {
	logger *slog.Logger
}

// NewLogSpanExporter creates an exporter writing to the given logger.
func NewLogSpanExporter(logger *slog.Logger) *LogSpanExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSpanExporter{logger: logger}
}

// ExportSpans logs a batch of completed spans. Error-status spans log at
// Warn, everything else at Info.
func (e *LogSpanExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, span := range spans {
		sc := span.SpanContext()
		traceID := sc.TraceID()
		spanID := sc.SpanID()

		args := []any{
			"trace_id", hex.EncodeToString(traceID[:]),
			"span_id", hex.EncodeToString(spanID[:]),
			"duration_ms", span.EndTime().Sub(span.StartTime()).Milliseconds(),
		}
		for _, attr := range span.Attributes() {
			args = append(args, string(attr.Key), attr.Value.Emit())
		}

		if status := span.Status(); status.Code == codes.Error {
			if status.Description != "" {
				args = append(args, "error", status.Description)
			}
			e.logger.Warn("span "+span.Name(), args...)
			continue
		}
		e.logger.Info("span "+span.Name(), args...)
	}
	return nil
}

// Shutdown implements SpanExporter. The logger needs no cleanup.
func (e *LogSpanExporter) Shutdown(ctx context.Context) error {
	return nil
}

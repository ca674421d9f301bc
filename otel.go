package attackmap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/caseforge/attackmap/mapper"
	"github.com/caseforge/attackmap/render"
)

// engineMetrics holds the OpenTelemetry metric instruments for the engine.
// These are created once during New and reused for all operations.
type engineMetrics struct {
	// confidenceHistogram records individual match confidences (0.0 to 1.0)
	confidenceHistogram metric.Float64Histogram

	// durationHistogram records mapping duration in milliseconds
	durationHistogram metric.Float64Histogram

	// matchCounter increments for each technique match produced
	matchCounter metric.Int64Counter

	// dashboardCounter increments for each dashboard document written
	dashboardCounter metric.Int64Counter
}

// initMetrics creates and initializes all OpenTelemetry metric instruments.
// This is called once when New is invoked with a meter configured.
func (e *Engine) initMetrics() (*engineMetrics, error) {
	if e.meter == nil {
		return nil, nil
	}

	metrics := &engineMetrics{}
	var err error

	metrics.confidenceHistogram, err = e.meter.Float64Histogram(
		"attackmap.match.confidence",
		metric.WithDescription("Match confidence from 0.0 (discarded) to 1.0 (certain)"),
		metric.WithUnit("1"), // dimensionless ratio
	)
	if err != nil {
		return nil, fmt.Errorf("create confidence histogram: %w", err)
	}

	metrics.durationHistogram, err = e.meter.Float64Histogram(
		"attackmap.map.duration",
		metric.WithDescription("Artifact mapping duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	metrics.matchCounter, err = e.meter.Int64Counter(
		"attackmap.matches",
		metric.WithDescription("Number of technique matches produced"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create match counter: %w", err)
	}

	metrics.dashboardCounter, err = e.meter.Int64Counter(
		"attackmap.dashboards",
		metric.WithDescription("Number of dashboard documents written"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create dashboard counter: %w", err)
	}

	return metrics, nil
}

// recordMapping creates an OpenTelemetry span and records metrics for one
// mapping batch. It is called after mapping and storage complete.
//
// If OTel is not configured (nil tracer and meter), this method returns
// silently; observability never affects the mapping result.
func (e *Engine) recordMapping(ctx context.Context, caseID string, observations int, matches []mapper.TechniqueMatch, d time.Duration) {
	if e.tracer == nil && e.meter == nil {
		return
	}

	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.Start(ctx, "attackmap.map_artifacts")
		defer span.End()

		span.SetAttributes(
			attribute.String("case.id", caseID),
			attribute.Int("observation_count", observations),
			attribute.Int("match_count", len(matches)),
			attribute.Float64("duration_ms", float64(d.Milliseconds())),
		)
		span.SetStatus(codes.Ok, fmt.Sprintf("%d matches from %d observations", len(matches), observations))
	}

	if e.meter != nil && e.metrics != nil {
		opts := metric.WithAttributes(
			attribute.String("case.id", caseID),
		)

		if e.metrics.confidenceHistogram != nil {
			for _, m := range matches {
				matchOpts := metric.WithAttributes(
					attribute.String("case.id", caseID),
					attribute.String("technique.id", m.TechniqueID),
					attribute.String("artifact.type", string(m.ArtifactType)),
				)
				e.metrics.confidenceHistogram.Record(ctx, m.Confidence, matchOpts)
			}
		}

		if e.metrics.durationHistogram != nil {
			e.metrics.durationHistogram.Record(ctx, float64(d.Milliseconds()), opts)
		}

		if e.metrics.matchCounter != nil {
			e.metrics.matchCounter.Add(ctx, int64(len(matches)), opts)
		}
	}
}

// recordDashboards creates an OpenTelemetry span and records metrics for a
// dashboard generation batch.
func (e *Engine) recordDashboards(ctx context.Context, caseID string, formats []render.Format, d time.Duration) {
	if e.tracer == nil && e.meter == nil {
		return
	}

	names := make([]string, len(formats))
	for i, f := range formats {
		names[i] = string(f)
	}

	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.Start(ctx, "attackmap.generate_dashboards")
		defer span.End()

		span.SetAttributes(
			attribute.String("case.id", caseID),
			attribute.String("formats", strings.Join(names, ",")),
			attribute.Int("dashboard_count", len(formats)),
			attribute.Float64("duration_ms", float64(d.Milliseconds())),
		)
		span.SetStatus(codes.Ok, fmt.Sprintf("%d dashboards written", len(formats)))
	}

	if e.meter != nil && e.metrics != nil && e.metrics.dashboardCounter != nil {
		for _, name := range names {
			e.metrics.dashboardCounter.Add(ctx, 1, metric.WithAttributes(
				attribute.String("case.id", caseID),
				attribute.String("format", name),
			))
		}
	}
}

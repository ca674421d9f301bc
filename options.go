package attackmap

import (
	"log/slog"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/caseforge/attackmap/attackconf"
	"github.com/caseforge/attackmap/casestore"
	"github.com/caseforge/attackmap/catalog"
	"github.com/caseforge/attackmap/render"
)

// CatalogProvider supplies the ATT&CK catalog snapshot the engine maps
// against. Both *catalog.Store (cached, refreshable) and *catalog.Fixed
// (static, for tests and offline use) satisfy it.
type CatalogProvider interface {
	Load() *catalog.Catalog
}

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

// engineConfig holds configuration for building an engine.
type engineConfig struct {
	logger        *slog.Logger
	tracer        trace.Tracer
	meter         metric.Meter
	provider      CatalogProvider
	store         casestore.Store
	minConfidence float64
	hasMinConf    bool
	outputDir     string
	fs            afero.Fs
	navigator     *render.NavigatorConfig
	conf          *attackconf.Config
}

// WithLogger sets the logger for the engine.
// If not provided, a default JSON logger writing to stdout is used.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(c *engineConfig) {
		c.logger = logger
	}
}

// WithTracer sets the OpenTelemetry tracer for distributed tracing.
// If not provided, tracing is disabled.
func WithTracer(tracer trace.Tracer) EngineOption {
	return func(c *engineConfig) {
		c.tracer = tracer
	}
}

// WithMeter sets the OpenTelemetry meter for engine metrics.
// If not provided, metrics are disabled.
func WithMeter(meter metric.Meter) EngineOption {
	return func(c *engineConfig) {
		c.meter = meter
	}
}

// WithCatalog sets the catalog provider the engine maps against.
// If not provided, the engine runs against an empty catalog: mapping still
// works from the built-in tables, and every match surfaces as unresolved
// in coverage reports.
func WithCatalog(p CatalogProvider) EngineOption {
	return func(c *engineConfig) {
		c.provider = p
	}
}

// WithCaseStore sets the store that accumulates matches per case.
// If not provided, an in-memory store is used. Stores passed in here are
// owned by the caller; Close does not close them.
func WithCaseStore(s casestore.Store) EngineOption {
	return func(c *engineConfig) {
		c.store = s
	}
}

// WithMinConfidence sets the confidence floor below which matches are
// discarded. Values are clamped to [0, 1]; the default of 0 keeps
// everything that clears the per-artifact thresholds.
func WithMinConfidence(v float64) EngineOption {
	return func(c *engineConfig) {
		c.minConfidence = v
		c.hasMinConf = true
	}
}

// WithOutputDir sets the directory dashboards are written to.
// The default is "dashboards".
func WithOutputDir(dir string) EngineOption {
	return func(c *engineConfig) {
		c.outputDir = dir
	}
}

// WithFilesystem sets the filesystem dashboards are written to.
// Intended for tests (afero.NewMemMapFs()); the default is the OS filesystem.
func WithFilesystem(fs afero.Fs) EngineOption {
	return func(c *engineConfig) {
		c.fs = fs
	}
}

// WithNavigatorConfig sets the scoring and gradient configuration for
// Navigator layer rendering. The default buckets confidence at 0.5 and 0.8
// on a 0-100 score scale.
func WithNavigatorConfig(nc render.NavigatorConfig) EngineOption {
	return func(c *engineConfig) {
		c.navigator = &nc
	}
}

// FromConfig wires the engine from a loaded configuration file: catalog
// source and cache, case store backend, mapper floor and custom mappings,
// navigator buckets, and output directory. Explicit options take precedence
// over the file regardless of argument order; resources built from the file
// (catalog store, redis client) are owned by the engine and closed by Close.
func FromConfig(conf *attackconf.Config) EngineOption {
	return func(c *engineConfig) {
		c.conf = conf
	}
}

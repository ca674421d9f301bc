package attackmap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/afero"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/caseforge/attackmap/attackconf"
	"github.com/caseforge/attackmap/casestore"
	"github.com/caseforge/attackmap/catalog"
	"github.com/caseforge/attackmap/coverage"
	"github.com/caseforge/attackmap/mapper"
	"github.com/caseforge/attackmap/render"
)

// Engine ties the concern packages together behind one case-scoped API:
// observations go in, matches accumulate per case, and coverage reports and
// dashboards are derived on demand from whatever has accumulated so far.
//
// All methods are safe for concurrent use.
type Engine struct {
	logger    *slog.Logger
	tracer    trace.Tracer
	meter     metric.Meter
	metrics   *engineMetrics
	provider  CatalogProvider
	mapper    *mapper.Mapper
	store     casestore.Store
	fs        afero.Fs
	outputDir string
	renderers map[render.Format]render.Renderer

	// owned holds resources built by New (from configuration or defaults);
	// Close closes these and nothing else.
	owned []io.Closer
}

// New creates a new mapping engine.
//
// With no options the engine maps against an empty catalog, accumulates
// matches in memory, and writes dashboards to ./dashboards on the OS
// filesystem.
//
// Example:
//
//	engine, err := attackmap.New(
//	    attackmap.WithLogger(logger),
//	    attackmap.FromConfig(conf),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
func New(opts ...EngineOption) (*Engine, error) {
	cfg := &engineConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	// Create default logger if not provided
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}

	if cfg.fs == nil {
		cfg.fs = afero.NewOsFs()
	}

	var owned []io.Closer

	// Materialize the configuration file into anything not set explicitly.
	if conf := cfg.conf; conf != nil {
		if cfg.provider == nil {
			store := catalog.NewStore(conf.Catalog.GetCachePath(),
				catalog.WithTTL(conf.Catalog.GetTTL()),
				catalog.WithFetcher(catalog.NewHTTPFetcher(conf.Catalog.GetSourceURL())),
				catalog.WithLogger(cfg.logger),
			)
			if conf.Catalog.GetAutoRefresh() {
				// The refresher stops when Close closes the owned store.
				store.StartAutoRefresh(context.Background(), conf.Catalog.GetRefreshInterval())
			}
			cfg.provider = store
			owned = append(owned, store)
		}

		if cfg.store == nil {
			s, err := storeFromConfig(conf, cfg.fs)
			if err != nil {
				closeAll(owned, cfg.logger)
				return nil, NewConfigurationError("New", err)
			}
			cfg.store = s
			owned = append(owned, s)
		}

		if !cfg.hasMinConf {
			cfg.minConfidence = conf.Mapper.GetMinConfidence()
			cfg.hasMinConf = true
		}
		if cfg.outputDir == "" {
			cfg.outputDir = conf.Dashboards.GetOutputDir()
		}
		if cfg.navigator == nil {
			nc := render.DefaultNavigatorConfig()
			nc.MaxScore = conf.Navigator.GetMaxScore()
			nc.LowMax = conf.Navigator.GetLowMax()
			nc.HighMin = conf.Navigator.GetHighMin()
			cfg.navigator = &nc
		}
	}

	// Built-in defaults for anything still unset
	if cfg.provider == nil {
		cfg.provider = catalog.NewFixed(catalog.Empty())
	}
	if cfg.store == nil {
		s := casestore.NewMemory()
		cfg.store = s
		owned = append(owned, s)
	}
	if cfg.outputDir == "" {
		cfg.outputDir = "dashboards"
	}

	nav := render.DefaultNavigatorConfig()
	if cfg.navigator != nil {
		nav = *cfg.navigator
	}

	mapperOpts := []mapper.Option{mapper.WithLogger(cfg.logger)}
	if cfg.hasMinConf {
		mapperOpts = append(mapperOpts, mapper.WithMinConfidence(cfg.minConfidence))
	}

	e := &Engine{
		logger:    cfg.logger,
		tracer:    cfg.tracer,
		meter:     cfg.meter,
		provider:  cfg.provider,
		mapper:    mapper.New(mapperOpts...),
		store:     cfg.store,
		fs:        cfg.fs,
		outputDir: cfg.outputDir,
		renderers: map[render.Format]render.Renderer{
			render.FormatSplunk:    render.NewSplunkRenderer(),
			render.FormatElastic:   render.NewElasticRenderer(),
			render.FormatNavigator: render.NewNavigatorRenderer(nav),
		},
		owned: owned,
	}

	if cfg.conf != nil {
		for _, cm := range cfg.conf.Mapper.GetCustomMappings() {
			if err := e.mapper.AddCustomMapping(mapper.ArtifactType(cm.ArtifactType), cm.TechniqueID, cm.Confidence); err != nil {
				closeAll(owned, cfg.logger)
				return nil, NewConfigurationError("New", err)
			}
		}
	}

	metrics, err := e.initMetrics()
	if err != nil {
		closeAll(owned, cfg.logger)
		return nil, NewConfigurationError("New", err)
	}
	e.metrics = metrics

	return e, nil
}

// storeFromConfig builds the case store backend named by the configuration.
func storeFromConfig(conf *attackconf.Config, fsys afero.Fs) (casestore.Store, error) {
	backend := conf.Store.GetBackend()
	switch backend {
	case "memory":
		return casestore.NewMemory(), nil
	case "file":
		return casestore.NewFile(fsys, conf.Store.GetDir())
	case "redis":
		return casestore.NewRedis(casestore.RedisOptions{URL: conf.Store.GetRedisURL()})
	default:
		return nil, fmt.Errorf("unknown case store backend %q (valid backends: memory, file, redis)", backend)
	}
}

// closeAll closes resources built during a failed construction.
func closeAll(closers []io.Closer, logger *slog.Logger) {
	for _, c := range closers {
		CloseWithLog(c, logger, "engine resource")
	}
}

// MapArtifacts scores a batch of forensic observations against the current
// catalog snapshot and appends the resulting matches to the case.
//
// Results are concatenated per observation and not deduplicated across the
// batch; coverage aggregation collapses duplicates later. An empty batch is
// a no-op. The returned slice is exactly what was appended.
func (e *Engine) MapArtifacts(ctx context.Context, caseID string, observations []mapper.Observation) ([]mapper.TechniqueMatch, error) {
	const op = "Engine.MapArtifacts"
	start := time.Now()

	if err := casestore.ValidateCaseID(caseID); err != nil {
		return nil, NewValidationError(op, err)
	}

	matches := e.mapper.MapAll(observations, e.provider.Load())

	if err := e.store.Append(ctx, caseID, matches); err != nil {
		return nil, NewStorageError(op, err).WithContext(map[string]any{
			"case_id": caseID,
			"matches": len(matches),
		})
	}

	e.logger.Info("mapped artifacts",
		"case_id", caseID,
		"observations", len(observations),
		"matches", len(matches))
	e.recordMapping(ctx, caseID, len(observations), matches, time.Since(start))

	return matches, nil
}

// Matches returns every match accumulated for the case, in append order.
// An unknown case yields an empty slice, not an error.
func (e *Engine) Matches(ctx context.Context, caseID string) ([]mapper.TechniqueMatch, error) {
	const op = "Engine.Matches"

	if err := casestore.ValidateCaseID(caseID); err != nil {
		return nil, NewValidationError(op, err)
	}

	matches, err := e.store.Matches(ctx, caseID)
	if err != nil {
		return nil, NewStorageError(op, err)
	}
	return matches, nil
}

// CoverageStatistics derives a coverage report from the matches accumulated
// for the case and the current catalog snapshot. Nothing is cached: calling
// it after further MapArtifacts batches reflects the new matches.
func (e *Engine) CoverageStatistics(ctx context.Context, caseID string) (coverage.Report, error) {
	const op = "Engine.CoverageStatistics"

	if err := casestore.ValidateCaseID(caseID); err != nil {
		return coverage.Report{}, NewValidationError(op, err)
	}

	matches, err := e.store.Matches(ctx, caseID)
	if err != nil {
		return coverage.Report{}, NewStorageError(op, err)
	}

	return coverage.Aggregate(matches, e.provider.Load()), nil
}

// GenerateDashboards renders the case's accumulated matches in each of the
// requested formats and writes one document per format under the output
// directory. It returns the written path per format.
//
// Format names are validated up front: a single unsupported name fails the
// whole call before anything is written. An empty format list renders every
// supported format. Repeated names render once.
func (e *Engine) GenerateDashboards(ctx context.Context, caseID string, formats []string) (map[render.Format]string, error) {
	const op = "Engine.GenerateDashboards"
	start := time.Now()

	if err := casestore.ValidateCaseID(caseID); err != nil {
		return nil, NewValidationError(op, err)
	}

	var parsed []render.Format
	if len(formats) == 0 {
		parsed = render.AllFormats()
	} else {
		seen := make(map[render.Format]bool, len(formats))
		for _, name := range formats {
			f, err := render.ParseFormat(name)
			if err != nil {
				return nil, NewValidationError(op, err)
			}
			if seen[f] {
				continue
			}
			seen[f] = true
			parsed = append(parsed, f)
		}
	}

	matches, err := e.store.Matches(ctx, caseID)
	if err != nil {
		return nil, NewStorageError(op, err)
	}
	report := coverage.Aggregate(matches, e.provider.Load())

	paths := make(map[render.Format]string, len(parsed))
	for _, f := range parsed {
		r, ok := e.renderers[f]
		if !ok {
			return nil, NewInternalError(op, fmt.Errorf("no renderer for format %s", f))
		}

		doc, err := r.Render(matches, report)
		if err != nil {
			return nil, NewRenderError(op, err).WithContext(map[string]any{"format": f.String()})
		}

		path, err := render.Save(e.fs, e.outputDir, caseID, f, doc)
		if err != nil {
			return nil, NewRenderError(op, err).WithContext(map[string]any{"format": f.String()})
		}
		paths[f] = path

		e.logger.Info("dashboard written",
			"case_id", caseID,
			"format", f.String(),
			"path", path)
	}

	e.recordDashboards(ctx, caseID, parsed, time.Since(start))

	return paths, nil
}

// AddCustomMapping registers an additional artifact-to-technique mapping
// that applies to all subsequent MapArtifacts calls. The technique does not
// have to exist in the current catalog; such matches surface as unresolved
// in coverage reports.
func (e *Engine) AddCustomMapping(artifactType mapper.ArtifactType, techniqueID string, confidence float64) error {
	if err := e.mapper.AddCustomMapping(artifactType, techniqueID, confidence); err != nil {
		return NewValidationError("Engine.AddCustomMapping", err)
	}
	return nil
}

// CustomMappings returns the registered custom mappings, ordered by artifact
// type then technique ID.
func (e *Engine) CustomMappings() []mapper.CustomMapping {
	return e.mapper.CustomMappings()
}

// ClearCase removes every match accumulated for the case. Clearing an
// unknown case is a no-op.
func (e *Engine) ClearCase(ctx context.Context, caseID string) error {
	const op = "Engine.ClearCase"

	if err := casestore.ValidateCaseID(caseID); err != nil {
		return NewValidationError(op, err)
	}

	if err := e.store.Clear(ctx, caseID); err != nil {
		return NewStorageError(op, err)
	}

	e.logger.Info("cleared case", "case_id", caseID)
	return nil
}

// Cases returns the IDs of every case with accumulated matches, sorted.
func (e *Engine) Cases(ctx context.Context) ([]string, error) {
	cases, err := e.store.Cases(ctx)
	if err != nil {
		return nil, NewStorageError("Engine.Cases", err)
	}
	return cases, nil
}

// CaseSummary condenses a case's state: how many raw matches have
// accumulated, the derived coverage report, and the strongest distinct
// techniques.
type CaseSummary struct {
	CaseID     string                  `json:"case_id"`
	MatchCount int                     `json:"match_count"`
	Report     coverage.Report         `json:"report"`
	TopMatches []mapper.TechniqueMatch `json:"top_matches,omitempty"`
}

// Summary derives a case summary from the accumulated matches. topN bounds
// the strongest-techniques list; zero or negative includes every distinct
// technique.
func (e *Engine) Summary(ctx context.Context, caseID string, topN int) (CaseSummary, error) {
	const op = "Engine.Summary"

	if err := casestore.ValidateCaseID(caseID); err != nil {
		return CaseSummary{}, NewValidationError(op, err)
	}

	matches, err := e.store.Matches(ctx, caseID)
	if err != nil {
		return CaseSummary{}, NewStorageError(op, err)
	}

	return CaseSummary{
		CaseID:     caseID,
		MatchCount: len(matches),
		Report:     coverage.Aggregate(matches, e.provider.Load()),
		TopMatches: coverage.Top(matches, topN),
	}, nil
}

// Catalog returns the current catalog snapshot. The snapshot may be empty
// if no catalog has been fetched or cached yet; mapping still works from
// the built-in tables against an empty snapshot.
func (e *Engine) Catalog() *catalog.Catalog {
	return e.provider.Load()
}

// RefreshCatalog refreshes the catalog snapshot from its upstream source
// when the provider supports it. Fixed catalogs have nothing to refresh;
// for them the call is a no-op.
func (e *Engine) RefreshCatalog(ctx context.Context, force bool) error {
	r, ok := e.provider.(interface {
		Refresh(ctx context.Context, force bool) error
	})
	if !ok {
		return nil
	}

	if err := r.Refresh(ctx, force); err != nil {
		return NewCatalogError("Engine.RefreshCatalog", err)
	}
	return nil
}

// CatalogHealth reports the catalog provider's health when it exposes one.
// The second return is false for providers without health reporting, such
// as fixed catalogs.
func (e *Engine) CatalogHealth() (catalog.HealthStatus, bool) {
	h, ok := e.provider.(interface {
		Health() catalog.HealthStatus
	})
	if !ok {
		return catalog.HealthStatus{}, false
	}
	return h.Health(), true
}

// Close releases resources the engine built itself: the catalog store and
// case store materialized from configuration or defaults. Stores injected
// with WithCaseStore or WithCatalog remain the caller's to close.
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.owned {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

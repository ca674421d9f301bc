package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/caseforge/attackmap/coverage"
	"github.com/caseforge/attackmap/mapper"
)

// ElasticIndexPattern is the index pattern the Kibana visualizations bind
// to. Match documents shipped to Elastic are expected under it.
const ElasticIndexPattern = "attackmap-matches-*"

// savedObjectNamespace seeds the deterministic saved-object ids. Importing
// the same dashboard twice updates objects in place instead of duplicating
// them.
var savedObjectNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("github.com/caseforge/attackmap/render"))

func savedObjectID(kind string) string {
	return uuid.NewSHA1(savedObjectNamespace, []byte(kind)).String()
}

// elasticSavedObject is one line of a Kibana NDJSON import.
type elasticSavedObject struct {
	ID         string             `json:"id"`
	Type       string             `json:"type"`
	Attributes map[string]any     `json:"attributes"`
	References []elasticReference `json:"references"`
}

type elasticReference struct {
	Name string `json:"name"`
	Type string `json:"type"`
	ID   string `json:"id"`
}

type elasticExportSummary struct {
	ExportedCount     int      `json:"exportedCount"`
	MissingRefCount   int      `json:"missingRefCount"`
	MissingReferences []string `json:"missingReferences"`
}

// ElasticRenderer renders a Kibana saved-object NDJSON bundle: an index
// pattern, a markdown summary panel carrying the computed coverage report,
// an index-pattern-backed technique table, and a dashboard tying them
// together.
type ElasticRenderer struct{}

// NewElasticRenderer returns a Kibana NDJSON renderer.
func NewElasticRenderer() *ElasticRenderer {
	return &ElasticRenderer{}
}

// Format implements Renderer.
func (r *ElasticRenderer) Format() Format {
	return FormatElastic
}

// Render implements Renderer.
func (r *ElasticRenderer) Render(matches []mapper.TechniqueMatch, report coverage.Report) ([]byte, error) {
	indexPatternID := savedObjectID("index-pattern")
	summaryID := savedObjectID("visualization/coverage-summary")
	tableID := savedObjectID("visualization/technique-table")
	dashboardID := savedObjectID("dashboard")

	objects := []elasticSavedObject{
		{
			ID:   indexPatternID,
			Type: "index-pattern",
			Attributes: map[string]any{
				"title":         ElasticIndexPattern,
				"timeFieldName": "@timestamp",
			},
			References: []elasticReference{},
		},
		{
			ID:   summaryID,
			Type: "visualization",
			Attributes: map[string]any{
				"title":       "ATT&CK Coverage Summary",
				"description": "Computed technique coverage for the case",
				"visState": mustJSONString(map[string]any{
					"title": "ATT&CK Coverage Summary",
					"type":  "markdown",
					"params": map[string]any{
						"fontSize":          12,
						"openLinksInNewTab": true,
						"markdown":          summaryMarkdown(matches, report),
					},
					"aggs": []any{},
				}),
				"uiStateJSON": "{}",
				"kibanaSavedObjectMeta": map[string]any{
					"searchSourceJSON": mustJSONString(map[string]any{
						"query":  map[string]any{"query": "", "language": "kuery"},
						"filter": []any{},
					}),
				},
			},
			References: []elasticReference{},
		},
		{
			ID:   tableID,
			Type: "visualization",
			Attributes: map[string]any{
				"title":       "Detected Techniques",
				"description": "Technique matches from the match index",
				"visState": mustJSONString(map[string]any{
					"title": "Detected Techniques",
					"type":  "table",
					"params": map[string]any{
						"perPage":                25,
						"showPartialRows":        false,
						"showMetricsAtAllLevels": false,
					},
					"aggs": []any{
						map[string]any{
							"id":      "1",
							"enabled": true,
							"type":    "count",
							"schema":  "metric",
							"params":  map[string]any{},
						},
						map[string]any{
							"id":      "2",
							"enabled": true,
							"type":    "terms",
							"schema":  "bucket",
							"params": map[string]any{
								"field":   "technique.id",
								"size":    100,
								"order":   "desc",
								"orderBy": "1",
							},
						},
						map[string]any{
							"id":      "3",
							"enabled": true,
							"type":    "terms",
							"schema":  "bucket",
							"params": map[string]any{
								"field":   "technique.tactic",
								"size":    20,
								"order":   "desc",
								"orderBy": "1",
							},
						},
					},
				}),
				"uiStateJSON": "{}",
				"kibanaSavedObjectMeta": map[string]any{
					"searchSourceJSON": mustJSONString(map[string]any{
						"query":        map[string]any{"query": "", "language": "kuery"},
						"filter":       []any{},
						"indexRefName": "kibanaSavedObjectMeta.searchSourceJSON.index",
					}),
				},
			},
			References: []elasticReference{
				{Name: "kibanaSavedObjectMeta.searchSourceJSON.index", Type: "index-pattern", ID: indexPatternID},
			},
		},
		{
			ID:   dashboardID,
			Type: "dashboard",
			Attributes: map[string]any{
				"title":       "ATT&CK Coverage",
				"description": fmt.Sprintf("%d of %d techniques detected (%.1f%%)", report.TechniquesDetected, report.TechniquesTotal, report.CoveragePercentage),
				"hits":        0,
				"timeRestore": false,
				"optionsJSON": mustJSONString(map[string]any{
					"useMargins":      true,
					"hidePanelTitles": false,
				}),
				"panelsJSON": mustJSONString([]any{
					map[string]any{
						"type":             "visualization",
						"panelIndex":       "1",
						"panelRefName":     "panel_1",
						"embeddableConfig": map[string]any{},
						"gridData":         map[string]any{"x": 0, "y": 0, "w": 20, "h": 16, "i": "1"},
					},
					map[string]any{
						"type":             "visualization",
						"panelIndex":       "2",
						"panelRefName":     "panel_2",
						"embeddableConfig": map[string]any{},
						"gridData":         map[string]any{"x": 20, "y": 0, "w": 28, "h": 16, "i": "2"},
					},
				}),
				"kibanaSavedObjectMeta": map[string]any{
					"searchSourceJSON": mustJSONString(map[string]any{
						"query":  map[string]any{"query": "", "language": "kuery"},
						"filter": []any{},
					}),
				},
			},
			References: []elasticReference{
				{Name: "panel_1", Type: "visualization", ID: summaryID},
				{Name: "panel_2", Type: "visualization", ID: tableID},
			},
		},
	}

	var buf bytes.Buffer
	for _, obj := range objects {
		line, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal saved object %s: %w", obj.Type, err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	summary, err := json.Marshal(elasticExportSummary{
		ExportedCount:     len(objects),
		MissingReferences: []string{},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal export summary: %w", err)
	}
	buf.Write(summary)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// summaryMarkdown builds the markdown body of the summary panel from the
// deduplicated matches and the coverage report.
func summaryMarkdown(matches []mapper.TechniqueMatch, report coverage.Report) string {
	deduped := mapper.Dedupe(matches)

	var b strings.Builder
	b.WriteString("## ATT&CK Coverage\n\n")
	fmt.Fprintf(&b, "**%d of %d techniques detected (%.1f%%)**\n\n", report.TechniquesDetected, report.TechniquesTotal, report.CoveragePercentage)

	if len(deduped) > 0 {
		b.WriteString("| Technique | Name | Tactics | Confidence |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, m := range deduped {
			fmt.Fprintf(&b, "| %s | %s | %s | %.2f |\n", m.TechniqueID, m.Name, strings.Join(m.Tactics, ", "), m.Confidence)
		}
		b.WriteString("\n")
	}

	if len(report.Tactics) > 0 {
		b.WriteString("| Tactic | Detected | Total |\n")
		b.WriteString("|---|---|---|\n")
		for _, tc := range report.Tactics {
			fmt.Fprintf(&b, "| %s | %d | %d |\n", tc.TacticName, tc.Detected, tc.Total)
		}
		b.WriteString("\n")
	}

	if len(report.UnresolvedIDs) > 0 {
		fmt.Fprintf(&b, "Not in catalog: %s\n", strings.Join(report.UnresolvedIDs, ", "))
	}
	return b.String()
}

func mustJSONString(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("render: marshal embedded JSON: %v", err))
	}
	return string(b)
}

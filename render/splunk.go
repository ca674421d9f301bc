package render

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/caseforge/attackmap/coverage"
	"github.com/caseforge/attackmap/mapper"
)

// splunkDashboard is a Splunk Dashboard Studio definition. The computed
// coverage values are embedded as ds.test data sources so the dashboard
// renders without any search infrastructure behind it.
type splunkDashboard struct {
	Version        string                         `json:"version"`
	Title          string                         `json:"title"`
	Description    string                         `json:"description"`
	DataSources    map[string]splunkDataSource    `json:"dataSources"`
	Visualizations map[string]splunkVisualization `json:"visualizations"`
	Layout         splunkLayout                   `json:"layout"`
}

type splunkDataSource struct {
	Type    string            `json:"type"`
	Name    string            `json:"name"`
	Options splunkDataOptions `json:"options"`
}

type splunkDataOptions struct {
	Data splunkTestData `json:"data"`
}

// splunkTestData is the ds.test payload: field descriptors plus
// column-major value arrays.
type splunkTestData struct {
	Fields  []splunkField `json:"fields"`
	Columns [][]string    `json:"columns"`
}

type splunkField struct {
	Name string `json:"name"`
}

type splunkVisualization struct {
	Type        string            `json:"type"`
	Title       string            `json:"title,omitempty"`
	DataSources map[string]string `json:"dataSources,omitempty"`
	Options     map[string]any    `json:"options,omitempty"`
}

type splunkLayout struct {
	Type      string             `json:"type"`
	Options   map[string]any     `json:"options"`
	Structure []splunkLayoutItem `json:"structure"`
}

type splunkLayoutItem struct {
	Item     string         `json:"item"`
	Type     string         `json:"type"`
	Position splunkPosition `json:"position"`
}

type splunkPosition struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// emptyColumns returns n empty value columns so a dashboard with no rows
// still carries well-formed arrays.
func emptyColumns(n int) [][]string {
	cols := make([][]string, n)
	for i := range cols {
		cols[i] = []string{}
	}
	return cols
}

// SplunkRenderer renders a Splunk Dashboard Studio document with a coverage
// single-value panel, a per-tactic column chart, and a detected-techniques
// table.
type SplunkRenderer struct{}

// NewSplunkRenderer returns a Splunk Dashboard Studio renderer.
func NewSplunkRenderer() *SplunkRenderer {
	return &SplunkRenderer{}
}

// Format implements Renderer.
func (r *SplunkRenderer) Format() Format {
	return FormatSplunk
}

// Render implements Renderer.
func (r *SplunkRenderer) Render(matches []mapper.TechniqueMatch, report coverage.Report) ([]byte, error) {
	deduped := mapper.Dedupe(matches)

	techniqueRows := splunkTestData{
		Fields: []splunkField{
			{Name: "technique"},
			{Name: "name"},
			{Name: "tactics"},
			{Name: "confidence"},
			{Name: "artifact"},
		},
		Columns: emptyColumns(5),
	}
	for _, m := range deduped {
		techniqueRows.Columns[0] = append(techniqueRows.Columns[0], m.TechniqueID)
		techniqueRows.Columns[1] = append(techniqueRows.Columns[1], m.Name)
		techniqueRows.Columns[2] = append(techniqueRows.Columns[2], strings.Join(m.Tactics, ", "))
		techniqueRows.Columns[3] = append(techniqueRows.Columns[3], fmt.Sprintf("%.2f", m.Confidence))
		techniqueRows.Columns[4] = append(techniqueRows.Columns[4], string(m.ArtifactType))
	}

	tacticRows := splunkTestData{
		Fields: []splunkField{
			{Name: "tactic"},
			{Name: "detected"},
			{Name: "total"},
		},
		Columns: emptyColumns(3),
	}
	for _, tc := range report.Tactics {
		tacticRows.Columns[0] = append(tacticRows.Columns[0], tc.TacticName)
		tacticRows.Columns[1] = append(tacticRows.Columns[1], fmt.Sprintf("%d", tc.Detected))
		tacticRows.Columns[2] = append(tacticRows.Columns[2], fmt.Sprintf("%d", tc.Total))
	}

	description := fmt.Sprintf("ATT&CK technique coverage from forensic artifacts: %d of %d techniques detected", report.TechniquesDetected, report.TechniquesTotal)
	if n := len(report.UnresolvedIDs); n > 0 {
		description += fmt.Sprintf(" (%d technique ids not in the catalog: %s)", n, strings.Join(report.UnresolvedIDs, ", "))
	}

	dashboard := splunkDashboard{
		Version:     "1.1",
		Title:       "ATT&CK Coverage",
		Description: description,
		DataSources: map[string]splunkDataSource{
			"ds_coverage": {
				Type: "ds.test",
				Name: "Coverage Percentage",
				Options: splunkDataOptions{Data: splunkTestData{
					Fields:  []splunkField{{Name: "coverage"}},
					Columns: [][]string{{fmt.Sprintf("%.1f", report.CoveragePercentage)}},
				}},
			},
			"ds_detected": {
				Type: "ds.test",
				Name: "Techniques Detected",
				Options: splunkDataOptions{Data: splunkTestData{
					Fields:  []splunkField{{Name: "detected"}},
					Columns: [][]string{{fmt.Sprintf("%d", report.TechniquesDetected)}},
				}},
			},
			"ds_tactics": {
				Type:    "ds.test",
				Name:    "Coverage by Tactic",
				Options: splunkDataOptions{Data: tacticRows},
			},
			"ds_techniques": {
				Type:    "ds.test",
				Name:    "Detected Techniques",
				Options: splunkDataOptions{Data: techniqueRows},
			},
		},
		Visualizations: map[string]splunkVisualization{
			"viz_coverage": {
				Type:        "splunk.singlevalue",
				Title:       "Coverage",
				DataSources: map[string]string{"primary": "ds_coverage"},
				Options:     map[string]any{"unit": "%", "majorColor": "#1182f3"},
			},
			"viz_detected": {
				Type:        "splunk.singlevalue",
				Title:       "Techniques Detected",
				DataSources: map[string]string{"primary": "ds_detected"},
			},
			"viz_tactics": {
				Type:        "splunk.column",
				Title:       "Coverage by Tactic",
				DataSources: map[string]string{"primary": "ds_tactics"},
				Options:     map[string]any{"stackMode": "auto"},
			},
			"viz_techniques": {
				Type:        "splunk.table",
				Title:       "Detected Techniques",
				DataSources: map[string]string{"primary": "ds_techniques"},
			},
		},
		Layout: splunkLayout{
			Type:    "grid",
			Options: map[string]any{"width": 1200},
			Structure: []splunkLayoutItem{
				{Item: "viz_coverage", Type: "block", Position: splunkPosition{X: 0, Y: 0, W: 600, H: 150}},
				{Item: "viz_detected", Type: "block", Position: splunkPosition{X: 600, Y: 0, W: 600, H: 150}},
				{Item: "viz_tactics", Type: "block", Position: splunkPosition{X: 0, Y: 150, W: 1200, H: 300}},
				{Item: "viz_techniques", Type: "block", Position: splunkPosition{X: 0, Y: 450, W: 1200, H: 400}},
			},
		},
	}

	doc, err := json.MarshalIndent(dashboard, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal splunk dashboard: %w", err)
	}
	return append(doc, '\n'), nil
}

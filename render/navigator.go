package render

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/caseforge/attackmap/coverage"
	"github.com/caseforge/attackmap/mapper"
)

// Navigator layer format constants. The layer version tracks the ATT&CK
// Navigator layer file schema, not the application release.
const (
	navigatorLayerVersion = "4.5"
	navigatorAppVersion   = "4.9.1"
	navigatorDomain       = "enterprise-attack"
)

// NavigatorConfig controls confidence-to-score scaling and the color
// buckets of the rendered heat map. Bucket boundaries are configuration,
// not magic numbers, so tests can pin the behavior exactly at the edges:
// confidence < LowMax is low, LowMax <= confidence < HighMin is medium,
// and confidence >= HighMin is high.
type NavigatorConfig struct {
	// MaxScore is the layer score for confidence 1.0. Scores scale
	// linearly from zero.
	MaxScore int

	// LowMax is the exclusive upper bound of the low bucket.
	LowMax float64

	// HighMin is the inclusive lower bound of the high bucket.
	HighMin float64

	// LowColor, MediumColor, and HighColor are the bucket cell colors.
	LowColor    string
	MediumColor string
	HighColor   string
}

// DefaultNavigatorConfig returns the standard 0-100 scaling with the
// green/yellow/red gradient at the 0.5 and 0.8 confidence boundaries.
func DefaultNavigatorConfig() NavigatorConfig {
	return NavigatorConfig{
		MaxScore:    100,
		LowMax:      0.5,
		HighMin:     0.8,
		LowColor:    "#8ec843",
		MediumColor: "#ffe766",
		HighColor:   "#ff6666",
	}
}

// Score scales a confidence value to the layer score range.
func (c NavigatorConfig) Score(confidence float64) int {
	return int(math.Round(confidence * float64(c.MaxScore)))
}

// Color returns the bucket color for a confidence value.
func (c NavigatorConfig) Color(confidence float64) string {
	switch {
	case confidence >= c.HighMin:
		return c.HighColor
	case confidence >= c.LowMax:
		return c.MediumColor
	default:
		return c.LowColor
	}
}

// navigatorLayer is the ATT&CK Navigator layer file document.
type navigatorLayer struct {
	Name        string              `json:"name"`
	Versions    navigatorVersions   `json:"versions"`
	Domain      string              `json:"domain"`
	Description string              `json:"description"`
	Sorting     int                 `json:"sorting"`
	Layout      navigatorLayout     `json:"layout"`
	Techniques  []layerTechnique    `json:"techniques"`
	Gradient    navigatorGradient   `json:"gradient"`
	LegendItems []navigatorLegend   `json:"legendItems"`
	Metadata    []navigatorMetadata `json:"metadata"`
}

type navigatorVersions struct {
	Layer     string `json:"layer"`
	Navigator string `json:"navigator"`
}

type navigatorLayout struct {
	Layout   string `json:"layout"`
	ShowID   bool   `json:"showID"`
	ShowName bool   `json:"showName"`
}

type layerTechnique struct {
	TechniqueID string `json:"techniqueID"`
	Score       int    `json:"score"`
	Color       string `json:"color"`
	Comment     string `json:"comment,omitempty"`
	Enabled     bool   `json:"enabled"`
}

type navigatorGradient struct {
	Colors   []string `json:"colors"`
	MinValue int      `json:"minValue"`
	MaxValue int      `json:"maxValue"`
}

type navigatorLegend struct {
	Label string `json:"label"`
	Color string `json:"color"`
}

type navigatorMetadata struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NavigatorRenderer renders an ATT&CK Navigator heat-map layer. Each
// detected technique becomes one cell scored from its confidence.
type NavigatorRenderer struct {
	config NavigatorConfig
}

// NewNavigatorRenderer returns a renderer using the given scaling and
// color configuration.
func NewNavigatorRenderer(config NavigatorConfig) *NavigatorRenderer {
	return &NavigatorRenderer{config: config}
}

// Format implements Renderer.
func (r *NavigatorRenderer) Format() Format {
	return FormatNavigator
}

// Config returns the renderer's scaling and bucket configuration.
func (r *NavigatorRenderer) Config() NavigatorConfig {
	return r.config
}

// Render implements Renderer.
func (r *NavigatorRenderer) Render(matches []mapper.TechniqueMatch, report coverage.Report) ([]byte, error) {
	deduped := mapper.Dedupe(matches)

	cells := make([]layerTechnique, 0, len(deduped))
	for _, m := range deduped {
		score := r.config.Score(m.Confidence)
		if score <= 0 {
			continue
		}
		cells = append(cells, layerTechnique{
			TechniqueID: m.TechniqueID,
			Score:       score,
			Color:       r.config.Color(m.Confidence),
			Comment:     strings.Join(m.Reasons, "; "),
			Enabled:     true,
		})
	}

	layer := navigatorLayer{
		Name: "ATT&CK Coverage",
		Versions: navigatorVersions{
			Layer:     navigatorLayerVersion,
			Navigator: navigatorAppVersion,
		},
		Domain:      navigatorDomain,
		Description: fmt.Sprintf("Techniques detected from forensic artifacts: %d of %d (%.1f%%)", report.TechniquesDetected, report.TechniquesTotal, report.CoveragePercentage),
		Sorting:     3,
		Layout: navigatorLayout{
			Layout:   "side",
			ShowID:   true,
			ShowName: true,
		},
		Techniques: cells,
		Gradient: navigatorGradient{
			Colors:   []string{r.config.LowColor, r.config.MediumColor, r.config.HighColor},
			MinValue: 0,
			MaxValue: r.config.MaxScore,
		},
		LegendItems: []navigatorLegend{
			{Label: fmt.Sprintf("low confidence (< %.2f)", r.config.LowMax), Color: r.config.LowColor},
			{Label: fmt.Sprintf("medium confidence (%.2f - %.2f)", r.config.LowMax, r.config.HighMin), Color: r.config.MediumColor},
			{Label: fmt.Sprintf("high confidence (>= %.2f)", r.config.HighMin), Color: r.config.HighColor},
		},
		Metadata: []navigatorMetadata{
			{Name: "techniques_detected", Value: fmt.Sprintf("%d", report.TechniquesDetected)},
			{Name: "techniques_total", Value: fmt.Sprintf("%d", report.TechniquesTotal)},
			{Name: "coverage_percentage", Value: fmt.Sprintf("%.1f", report.CoveragePercentage)},
		},
	}

	doc, err := json.MarshalIndent(layer, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal navigator layer: %w", err)
	}
	return append(doc, '\n'), nil
}

// Package render turns technique matches and coverage reports into dashboard
// documents for Splunk, Elastic, and the ATT&CK Navigator.
//
// Renderers are pure: they never touch the filesystem or network, never
// mutate their inputs, and produce byte-identical output for identical
// inputs. Writing the documents out is a separate step (Save) so callers can
// snapshot-test renders without any I/O.
package render

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/caseforge/attackmap/coverage"
	"github.com/caseforge/attackmap/mapper"
)

// ErrUnsupportedFormat is returned for format names outside the supported
// set.
var ErrUnsupportedFormat = errors.New("unsupported dashboard format")

// Format identifies a dashboard output format.
type Format string

const (
	// FormatSplunk renders a Splunk Dashboard Studio definition.
	FormatSplunk Format = "splunk"

	// FormatElastic renders Kibana saved objects as NDJSON.
	FormatElastic Format = "elastic"

	// FormatNavigator renders an ATT&CK Navigator layer.
	FormatNavigator Format = "navigator"
)

// IsValid returns true if the format is supported.
func (f Format) IsValid() bool {
	switch f {
	case FormatSplunk, FormatElastic, FormatNavigator:
		return true
	default:
		return false
	}
}

// String returns the string representation of the format.
func (f Format) String() string {
	return string(f)
}

// Filename returns the case-scoped output filename for the format. The
// Navigator layer owns the bare "<caseID>.json" name; the SIEM dashboards
// carry a format suffix so one case can emit all three side by side.
func (f Format) Filename(caseID string) string {
	switch f {
	case FormatSplunk:
		return caseID + "_splunk.json"
	case FormatElastic:
		return caseID + "_elastic.ndjson"
	case FormatNavigator:
		return caseID + ".json"
	default:
		return ""
	}
}

// AllFormats returns all supported formats.
func AllFormats() []Format {
	return []Format{
		FormatSplunk,
		FormatElastic,
		FormatNavigator,
	}
}

// ParseFormat parses a string into a Format value. Unknown names yield an
// error wrapping ErrUnsupportedFormat that lists the valid formats.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", fmt.Errorf("%w: %q (valid formats: %s)", ErrUnsupportedFormat, s, formatNames())
	}
	return f, nil
}

func formatNames() string {
	all := AllFormats()
	names := make([]string, len(all))
	for i, f := range all {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

// Renderer produces one dashboard document from matches and their coverage
// report.
type Renderer interface {
	// Format identifies the document this renderer produces.
	Format() Format

	// Render serializes the dashboard. It must not mutate matches or
	// report, and identical inputs must yield byte-identical output.
	Render(matches []mapper.TechniqueMatch, report coverage.Report) ([]byte, error)
}

// ForFormat returns the default renderer for the given format.
func ForFormat(f Format) (Renderer, error) {
	switch f {
	case FormatSplunk:
		return NewSplunkRenderer(), nil
	case FormatElastic:
		return NewElasticRenderer(), nil
	case FormatNavigator:
		return NewNavigatorRenderer(DefaultNavigatorConfig()), nil
	default:
		return nil, fmt.Errorf("%w: %q (valid formats: %s)", ErrUnsupportedFormat, f, formatNames())
	}
}

// Save writes a rendered document into dir using the format's case-scoped
// filename and returns the path written. The case ID must be a bare name;
// anything resembling a path is rejected before touching the filesystem.
func Save(fsys afero.Fs, dir, caseID string, format Format, doc []byte) (string, error) {
	if caseID == "" || strings.ContainsAny(caseID, `/\`) || caseID != filepath.Base(caseID) {
		return "", fmt.Errorf("invalid case id %q for dashboard filename", caseID)
	}
	if !format.IsValid() {
		return "", fmt.Errorf("%w: %q (valid formats: %s)", ErrUnsupportedFormat, format, formatNames())
	}
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}
	path := filepath.Join(dir, format.Filename(caseID))
	if err := afero.WriteFile(fsys, path, doc, 0o644); err != nil {
		return "", fmt.Errorf("failed to write dashboard %s: %w", path, err)
	}
	return path, nil
}

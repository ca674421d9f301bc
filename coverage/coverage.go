// Package coverage reduces technique matches to ATT&CK coverage statistics.
//
// Aggregation is pure: the same matches and catalog snapshot always produce
// the same report, which keeps rendered dashboards byte-stable. Duplicate
// technique IDs are collapsed to their highest-confidence occurrence before
// any counting.
package coverage

import (
	"sort"

	"github.com/caseforge/attackmap/catalog"
	"github.com/caseforge/attackmap/mapper"
)

// killChainOrder lists tactic short names in kill-chain order. Tactics
// outside this list sort alphabetically after it.
var killChainOrder = []string{
	"reconnaissance",
	"resource-development",
	"initial-access",
	"execution",
	"persistence",
	"privilege-escalation",
	"defense-evasion",
	"credential-access",
	"discovery",
	"lateral-movement",
	"collection",
	"command-and-control",
	"exfiltration",
	"impact",
}

var killChainRank = func() map[string]int {
	m := make(map[string]int, len(killChainOrder))
	for i, tactic := range killChainOrder {
		m[tactic] = i
	}
	return m
}()

// TacticCoverage is the detected-versus-total breakdown for one tactic.
// Counting is non-exclusive: a technique serving several tactics counts
// toward each of them.
type TacticCoverage struct {
	// Tactic is the kill-chain short name, e.g. "credential-access".
	Tactic string `json:"tactic"`

	// TacticName is the display name resolved from the catalog.
	TacticName string `json:"tactic_name"`

	// Detected counts distinct detected techniques belonging to the tactic.
	Detected int `json:"detected"`

	// Total counts all catalog techniques belonging to the tactic.
	Total int `json:"total"`

	// Percentage is Detected/Total expressed as 0-100.
	Percentage float64 `json:"percentage"`
}

// Report summarizes how much of the technique catalog a set of matches
// touches.
type Report struct {
	// TechniquesDetected counts distinct matched techniques present in the
	// catalog.
	TechniquesDetected int `json:"techniques_detected"`

	// TechniquesTotal is the catalog size.
	TechniquesTotal int `json:"techniques_total"`

	// CoveragePercentage is TechniquesDetected/TechniquesTotal as 0-100,
	// and 0.0 against an empty catalog.
	CoveragePercentage float64 `json:"coverage_percentage"`

	// UnresolvedIDs lists matched technique IDs missing from the catalog,
	// ascending. Unresolved matches are excluded from every percentage.
	UnresolvedIDs []string `json:"unresolved_ids,omitempty"`

	// Tactics is the per-tactic breakdown for every tactic referenced by
	// the catalog, in kill-chain order.
	Tactics []TacticCoverage `json:"tactics,omitempty"`
}

// Aggregate reduces matches to a coverage report against the given catalog
// snapshot. A nil or empty catalog yields zero totals, 0.0 percentage, and
// every matched technique reported as unresolved.
func Aggregate(matches []mapper.TechniqueMatch, cat *catalog.Catalog) Report {
	deduped := mapper.Dedupe(matches)

	detected := make(map[string]struct{}, len(deduped))
	var unresolved []string
	for _, m := range deduped {
		if cat.Has(m.TechniqueID) {
			detected[m.TechniqueID] = struct{}{}
		} else {
			unresolved = append(unresolved, m.TechniqueID)
		}
	}
	sort.Strings(unresolved)

	report := Report{
		TechniquesDetected: len(detected),
		TechniquesTotal:    cat.Len(),
		UnresolvedIDs:      unresolved,
	}
	if report.TechniquesTotal > 0 {
		report.CoveragePercentage = float64(report.TechniquesDetected) / float64(report.TechniquesTotal) * 100
	}

	report.Tactics = tacticBreakdown(detected, cat)
	return report
}

// tacticBreakdown builds per-tactic counts for every tactic referenced by
// the catalog.
func tacticBreakdown(detected map[string]struct{}, cat *catalog.Catalog) []TacticCoverage {
	shortNames := cat.TacticShortNames()
	if len(shortNames) == 0 {
		return nil
	}

	out := make([]TacticCoverage, 0, len(shortNames))
	for _, tactic := range shortNames {
		techniques := cat.ByTactic(tactic)
		tc := TacticCoverage{
			Tactic:     tactic,
			TacticName: cat.TacticName(tactic),
			Total:      len(techniques),
		}
		for _, tech := range techniques {
			if _, ok := detected[tech.ID]; ok {
				tc.Detected++
			}
		}
		if tc.Total > 0 {
			tc.Percentage = float64(tc.Detected) / float64(tc.Total) * 100
		}
		out = append(out, tc)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ri, iOK := killChainRank[out[i].Tactic]
		rj, jOK := killChainRank[out[j].Tactic]
		switch {
		case iOK && jOK:
			return ri < rj
		case iOK:
			return true
		case jOK:
			return false
		default:
			return out[i].Tactic < out[j].Tactic
		}
	})
	return out
}

// Top returns the n highest-confidence distinct techniques from matches.
// Pass n <= 0 for all of them.
func Top(matches []mapper.TechniqueMatch, n int) []mapper.TechniqueMatch {
	deduped := mapper.Dedupe(matches)
	if n <= 0 || n >= len(deduped) {
		return deduped
	}
	return deduped[:n]
}

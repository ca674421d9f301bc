package mapper

import "sort"

// TechniqueMatch is one scored mapping from an artifact observation to an
// ATT&CK technique.
type TechniqueMatch struct {
	// TechniqueID is the ATT&CK identifier, e.g. "T1059.001".
	TechniqueID string `json:"technique_id"`

	// Name is the technique's display name, resolved from the catalog when
	// present and falling back to the mapping table's authored name.
	Name string `json:"name"`

	// Tactics lists the tactic short names the technique belongs to.
	Tactics []string `json:"tactics,omitempty"`

	// Confidence is the mapping strength in [0,1].
	Confidence float64 `json:"confidence"`

	// ArtifactType names the artifact kind that produced this match.
	ArtifactType ArtifactType `json:"artifact_type"`

	// Reasons explains which signals contributed to the score.
	Reasons []string `json:"reasons,omitempty"`
}

// SortMatches orders matches by confidence descending, breaking ties by
// technique ID ascending. Sorting is stable and in place.
func SortMatches(matches []TechniqueMatch) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].TechniqueID < matches[j].TechniqueID
	})
}

// Dedupe collapses matches that share a technique ID, keeping the highest
// confidence occurrence. The result is freshly allocated and sorted with
// SortMatches; the input is not modified.
func Dedupe(matches []TechniqueMatch) []TechniqueMatch {
	best := make(map[string]TechniqueMatch, len(matches))
	for _, m := range matches {
		cur, ok := best[m.TechniqueID]
		if !ok || m.Confidence > cur.Confidence {
			best[m.TechniqueID] = m
		}
	}

	out := make([]TechniqueMatch, 0, len(best))
	for _, m := range best {
		out = append(out, m)
	}
	SortMatches(out)
	return out
}

// clamp01 bounds a confidence to [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

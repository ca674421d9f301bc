package mapper

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/caseforge/attackmap/catalog"
)

// ErrInvalidMapping is returned by AddCustomMapping for malformed artifact
// types, technique IDs, or out-of-range confidence values.
var ErrInvalidMapping = errors.New("invalid custom mapping")

var (
	techniqueIDRe  = regexp.MustCompile(`^T\d{4}(\.\d{3})?$`)
	artifactTypeRe = regexp.MustCompile(`^[a-z0-9_]+$`)
)

// CustomMapping is a runtime extension of the built-in mapping table.
type CustomMapping struct {
	// ArtifactType is the artifact kind the mapping applies to. It does
	// not have to be part of the built-in vocabulary.
	ArtifactType ArtifactType `json:"artifact_type"`

	// TechniqueID is the mapped ATT&CK identifier.
	TechniqueID string `json:"technique_id"`

	// Confidence is the authored base confidence in [0,1]. Custom
	// mappings carry no context or data rules, so this is also the final
	// confidence.
	Confidence float64 `json:"confidence"`
}

// Mapper scores artifact observations against the built-in table plus any
// custom mappings registered at runtime.
//
// Mapping is read-only with respect to the catalog: the caller passes the
// snapshot to score against, so a Mapper can serve many cases and catalog
// generations concurrently. All methods are safe for concurrent use.
type Mapper struct {
	minConfidence float64
	logger        *slog.Logger

	mu     sync.RWMutex
	custom map[ArtifactType]map[string]CustomMapping
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithMinConfidence sets the floor below which matches are dropped from Map
// output. Values are clamped to [0,1]; the default of 0 reports everything.
func WithMinConfidence(v float64) Option {
	return func(m *Mapper) {
		if math.IsNaN(v) {
			return
		}
		m.minConfidence = clamp01(v)
	}
}

// WithLogger sets the logger used for custom mapping changes.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Mapper) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// New creates a Mapper with the built-in vocabulary.
func New(opts ...Option) *Mapper {
	m := &Mapper{
		logger: slog.Default(),
		custom: make(map[ArtifactType]map[string]CustomMapping),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Map scores one observation against the catalog snapshot.
//
// Unknown artifact types produce an empty result, not an error. Matches for
// techniques absent from the catalog are still emitted, carrying the table's
// authored name; the coverage layer counts them as unresolved. The result is
// ordered by confidence descending, then technique ID ascending.
func (m *Mapper) Map(obs Observation, cat *catalog.Catalog) []TechniqueMatch {
	at := normalizeType(obs.ArtifactType)
	entry, known := baseTable[at]
	customs := m.customFor(at)

	matches := []TechniqueMatch{}
	if !known && len(customs) == 0 {
		return matches
	}

	overridden := make(map[string]bool, len(customs))
	for _, cm := range customs {
		overridden[cm.TechniqueID] = true
	}

	if known {
		for _, cand := range entry.candidates {
			if overridden[cand.id] {
				continue
			}
			if match, ok := m.score(cand, obs, at, cat); ok {
				matches = append(matches, match)
			}
		}
	}

	for _, cm := range customs {
		confidence := clamp01(cm.Confidence)
		if confidence < m.minConfidence {
			continue
		}
		matches = append(matches, resolve(cm.TechniqueID, "", nil, confidence, at,
			[]string{fmt.Sprintf("custom mapping for %s", at)}, cat))
	}

	SortMatches(matches)
	return matches
}

// MapAll scores a batch of observations, concatenating per-observation
// results. Matches are not deduplicated across observations; each retains
// the artifact that produced it, and aggregation collapses duplicates later.
func (m *Mapper) MapAll(observations []Observation, cat *catalog.Catalog) []TechniqueMatch {
	matches := []TechniqueMatch{}
	for _, obs := range observations {
		matches = append(matches, m.Map(obs, cat)...)
	}
	return matches
}

// AddCustomMapping registers an additional artifact-to-technique mapping.
//
// The artifact type may be new or may extend a built-in type; a custom
// mapping for a technique the built-in table already covers replaces the
// built-in candidate. The technique does not have to exist in the currently
// loaded catalog (mappings may be authored ahead of a catalog refresh);
// such matches surface as unresolved in coverage reports.
func (m *Mapper) AddCustomMapping(artifactType ArtifactType, techniqueID string, confidence float64) error {
	at := normalizeType(artifactType)
	if !artifactTypeRe.MatchString(string(at)) {
		return fmt.Errorf("%w: artifact type %q must be a snake_case tag", ErrInvalidMapping, artifactType)
	}

	id := strings.ToUpper(strings.TrimSpace(techniqueID))
	if !techniqueIDRe.MatchString(id) {
		return fmt.Errorf("%w: technique id %q is not an ATT&CK identifier", ErrInvalidMapping, techniqueID)
	}

	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidMapping, confidence)
	}

	m.mu.Lock()
	if m.custom[at] == nil {
		m.custom[at] = make(map[string]CustomMapping)
	}
	m.custom[at][id] = CustomMapping{ArtifactType: at, TechniqueID: id, Confidence: confidence}
	m.mu.Unlock()

	m.logger.Info("custom mapping added",
		slog.String("artifact_type", string(at)),
		slog.String("technique_id", id),
		slog.Float64("confidence", confidence),
	)
	return nil
}

// CustomMappings returns the registered custom mappings ordered by artifact
// type, then technique ID.
func (m *Mapper) CustomMappings() []CustomMapping {
	m.mu.RLock()
	var out []CustomMapping
	for _, byID := range m.custom {
		for _, cm := range byID {
			out = append(out, cm)
		}
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ArtifactType != out[j].ArtifactType {
			return out[i].ArtifactType < out[j].ArtifactType
		}
		return out[i].TechniqueID < out[j].TechniqueID
	})
	return out
}

// Threshold returns the recommended reporting threshold for an artifact
// type. Types outside the built-in vocabulary get DefaultThreshold.
func (m *Mapper) Threshold(artifactType ArtifactType) float64 {
	return thresholdFor(normalizeType(artifactType))
}

// MinConfidence returns the configured floor for reported matches.
func (m *Mapper) MinConfidence() float64 {
	return m.minConfidence
}

// customFor snapshots the custom mappings for one artifact type, ordered by
// technique ID.
func (m *Mapper) customFor(at ArtifactType) []CustomMapping {
	m.mu.RLock()
	byID := m.custom[at]
	out := make([]CustomMapping, 0, len(byID))
	for _, cm := range byID {
		out = append(out, cm)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].TechniqueID < out[j].TechniqueID })
	return out
}

// score applies the bonus algebra for one candidate. The boolean is false
// when the candidate is suppressed (unfired signal-only entry or confidence
// below the floor).
func (m *Mapper) score(cand candidate, obs Observation, at ArtifactType, cat *catalog.Catalog) (TechniqueMatch, bool) {
	confidence := cand.base
	reasons := []string{fmt.Sprintf("base mapping for %s", at)}
	signaled := false

	if obs.Context != "" {
		for _, p := range cand.context {
			if patternRes[p].MatchString(obs.Context) {
				confidence += ContextBonus
				signaled = true
				reasons = append(reasons, fmt.Sprintf("context matched %s", p))
				break
			}
		}
	}

	if len(obs.Data) > 0 && len(cand.data) > 0 {
		keys := make([]string, 0, len(cand.data))
		for k := range cand.data {
			keys = append(keys, k)
		}
		sort.Strings(keys)

	dataRules:
		for _, key := range keys {
			value, ok := obs.Data[key]
			if !ok {
				continue
			}
			lower := strings.ToLower(value)
			for _, want := range cand.data[key] {
				if strings.Contains(lower, want) {
					confidence += DataBonus
					signaled = true
					reasons = append(reasons, fmt.Sprintf("data field %s matched %s", key, want))
					break dataRules
				}
			}
		}
	}

	if cand.signalOnly && !signaled {
		return TechniqueMatch{}, false
	}

	confidence = clamp01(confidence)
	if confidence < m.minConfidence {
		return TechniqueMatch{}, false
	}
	return resolve(cand.id, cand.name, cand.tactics, confidence, at, reasons, cat), true
}

// resolve builds the final match, preferring catalog name and tactics over
// the table's authored fallbacks.
func resolve(id, fallbackName string, fallbackTactics []string, confidence float64, at ArtifactType, reasons []string, cat *catalog.Catalog) TechniqueMatch {
	name := fallbackName
	tactics := fallbackTactics
	if tech, ok := cat.Technique(id); ok {
		name = tech.Name
		if len(tech.Tactics) > 0 {
			tactics = tech.Tactics
		}
	}
	if name == "" {
		name = id
	}
	return TechniqueMatch{
		TechniqueID:  id,
		Name:         name,
		Tactics:      append([]string(nil), tactics...),
		Confidence:   confidence,
		ArtifactType: at,
		Reasons:      reasons,
	}
}

func normalizeType(at ArtifactType) ArtifactType {
	return ArtifactType(strings.ToLower(strings.TrimSpace(string(at))))
}

// Package catalog manages the MITRE ATT&CK technique catalog used by the
// mapping and coverage layers.
//
// A Catalog is an immutable snapshot of the ATT&CK knowledge base: techniques
// are fully modeled, while tactics, threat groups, software, and mitigations
// are carried as opaque JSON sections and queried on demand. Snapshots are
// produced by a Fetcher (typically from the upstream STIX bundle), persisted
// by a Store, and handed out by value to callers that must never observe
// partial updates.
package catalog

import (
	"encoding/json"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Technique is a single ATT&CK technique or sub-technique.
type Technique struct {
	// ID is the ATT&CK identifier, e.g. "T1003" or "T1059.001".
	ID string `json:"id"`

	// Name is the display name, e.g. "OS Credential Dumping".
	Name string `json:"name"`

	// Description is the upstream description text. May be empty for
	// catalogs built from minimal fixtures.
	Description string `json:"description,omitempty"`

	// Tactics lists the kill-chain short names this technique belongs to,
	// e.g. ["credential-access"]. A technique may serve several tactics.
	Tactics []string `json:"tactics,omitempty"`

	// Platforms lists the operating systems or environments the technique
	// applies to, e.g. ["Windows", "Linux"].
	Platforms []string `json:"platforms,omitempty"`

	// IsSubtechnique reports whether ID contains a sub-technique suffix.
	IsSubtechnique bool `json:"is_subtechnique,omitempty"`

	// ParentID is the parent technique for sub-techniques ("T1059" for
	// "T1059.001"), empty otherwise.
	ParentID string `json:"parent_id,omitempty"`

	// URL points at the upstream technique page.
	URL string `json:"url,omitempty"`
}

// HasTactic reports whether the technique belongs to the given tactic
// short name.
func (t Technique) HasTactic(tactic string) bool {
	for _, tc := range t.Tactics {
		if tc == tactic {
			return true
		}
	}
	return false
}

// Catalog is a versioned snapshot of the ATT&CK knowledge base.
//
// The zero value is not usable; construct snapshots with New, Empty, or a
// Fetcher. Catalogs are treated as immutable once built: the Store swaps
// whole snapshots rather than mutating one in place, so readers may hold a
// *Catalog across calls without locking.
type Catalog struct {
	// Version is the upstream content version, e.g. "14.1", or "unknown"
	// when the source does not carry one.
	Version string `json:"version"`

	// LastUpdated records when this snapshot was fetched or built.
	LastUpdated time.Time `json:"last_updated"`

	// Techniques maps ATT&CK technique ID to its definition.
	Techniques map[string]Technique `json:"techniques"`

	// Tactics, Groups, Software, and Mitigations are opaque pass-through
	// sections keyed by their ATT&CK identifiers (short name for tactics).
	// They are preserved byte-for-byte in the cache document and inspected
	// only through the lookup helpers below.
	Tactics     json.RawMessage `json:"tactics,omitempty"`
	Groups      json.RawMessage `json:"groups,omitempty"`
	Software    json.RawMessage `json:"software,omitempty"`
	Mitigations json.RawMessage `json:"mitigations,omitempty"`
}

// New builds a catalog snapshot from a technique list. Intended for tests and
// embedded fixtures; production snapshots come from a Fetcher.
func New(version string, techniques ...Technique) *Catalog {
	c := &Catalog{
		Version:     version,
		LastUpdated: time.Now().UTC(),
		Techniques:  make(map[string]Technique, len(techniques)),
	}
	for _, t := range techniques {
		c.Techniques[t.ID] = t
	}
	return c
}

// Empty returns the designated empty snapshot: no techniques, version
// "empty". Load surfaces hand it out instead of nil so callers can chain
// lookups without nil checks.
func Empty() *Catalog {
	return &Catalog{
		Version:    "empty",
		Techniques: map[string]Technique{},
	}
}

// IsEmpty reports whether the snapshot contains no techniques.
func (c *Catalog) IsEmpty() bool {
	return c == nil || len(c.Techniques) == 0
}

// Len returns the number of techniques in the snapshot.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Techniques)
}

// Technique looks up a technique by ATT&CK ID.
func (c *Catalog) Technique(id string) (Technique, bool) {
	if c == nil {
		return Technique{}, false
	}
	t, ok := c.Techniques[id]
	return t, ok
}

// Has reports whether the snapshot contains the given technique ID.
func (c *Catalog) Has(id string) bool {
	_, ok := c.Technique(id)
	return ok
}

// TechniqueIDs returns all technique IDs in ascending order.
func (c *Catalog) TechniqueIDs() []string {
	if c == nil {
		return nil
	}
	ids := make([]string, 0, len(c.Techniques))
	for id := range c.Techniques {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ByTactic returns the techniques belonging to the given tactic short name,
// ordered by technique ID.
func (c *Catalog) ByTactic(tactic string) []Technique {
	if c == nil {
		return nil
	}
	var out []Technique
	for _, id := range c.TechniqueIDs() {
		t := c.Techniques[id]
		if t.HasTactic(tactic) {
			out = append(out, t)
		}
	}
	return out
}

// TacticShortNames returns the sorted set of tactic short names referenced by
// at least one technique in the snapshot.
func (c *Catalog) TacticShortNames() []string {
	if c == nil {
		return nil
	}
	seen := make(map[string]struct{})
	for _, t := range c.Techniques {
		for _, tc := range t.Tactics {
			seen[tc] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// TacticName resolves a tactic short name ("credential-access") to its
// display name ("Credential Access") using the opaque tactics section.
// Falls back to title-casing the short name when the section lacks it.
func (c *Catalog) TacticName(short string) string {
	if c != nil && len(c.Tactics) > 0 {
		if name := gjson.GetBytes(c.Tactics, escapeKey(short)+".name"); name.Exists() {
			return name.String()
		}
	}
	words := strings.Split(short, "-")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// GroupNames returns the display names from the opaque groups section,
// sorted ascending.
func (c *Catalog) GroupNames() []string {
	return c.sectionNames(c.Groups)
}

// SoftwareNames returns the display names from the opaque software section,
// sorted ascending.
func (c *Catalog) SoftwareNames() []string {
	return c.sectionNames(c.Software)
}

// MitigationNames returns the display names from the opaque mitigations
// section, sorted ascending.
func (c *Catalog) MitigationNames() []string {
	return c.sectionNames(c.Mitigations)
}

// Section returns the raw entry for an identifier from one of the opaque
// sections ("tactics", "groups", "software", "mitigations"). The second
// return is false when the section or entry is absent.
func (c *Catalog) Section(section, id string) (json.RawMessage, bool) {
	if c == nil {
		return nil, false
	}
	var raw json.RawMessage
	switch section {
	case "tactics":
		raw = c.Tactics
	case "groups":
		raw = c.Groups
	case "software":
		raw = c.Software
	case "mitigations":
		raw = c.Mitigations
	default:
		return nil, false
	}
	if len(raw) == 0 {
		return nil, false
	}
	res := gjson.GetBytes(raw, escapeKey(id))
	if !res.Exists() {
		return nil, false
	}
	return json.RawMessage(res.Raw), true
}

func (c *Catalog) sectionNames(raw json.RawMessage) []string {
	if c == nil || len(raw) == 0 {
		return nil
	}
	var names []string
	gjson.ParseBytes(raw).ForEach(func(_, value gjson.Result) bool {
		if name := value.Get("name"); name.Exists() {
			names = append(names, name.String())
		}
		return true
	})
	sort.Strings(names)
	return names
}

// escapeKey escapes gjson path metacharacters in ATT&CK identifiers so that
// sub-technique IDs like "T1059.001" address a map key, not a nested path.
func escapeKey(key string) string {
	key = strings.ReplaceAll(key, `\`, `\\`)
	key = strings.ReplaceAll(key, ".", `\.`)
	key = strings.ReplaceAll(key, "*", `\*`)
	key = strings.ReplaceAll(key, "?", `\?`)
	return key
}

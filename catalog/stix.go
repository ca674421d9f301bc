package catalog

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// stixBundle is the top-level shape of an ATT&CK STIX 2.x bundle. Objects are
// kept raw and decoded per type.
type stixBundle struct {
	Type        string            `json:"type"`
	ID          string            `json:"id"`
	SpecVersion string            `json:"spec_version"`
	Objects     []json.RawMessage `json:"objects"`
}

type stixObject struct {
	Type string `json:"type"`
}

type stixExternalRef struct {
	SourceName string `json:"source_name"`
	ExternalID string `json:"external_id"`
	URL        string `json:"url"`
}

// attackID returns the mitre-attack identifier and URL from an external
// reference list, or empty strings when absent.
func attackID(refs []stixExternalRef) (id, url string) {
	for _, ref := range refs {
		if ref.SourceName == "mitre-attack" {
			return ref.ExternalID, ref.URL
		}
	}
	return "", ""
}

// ParseSTIXBundle converts a raw ATT&CK STIX bundle into a catalog snapshot.
//
// Revoked and deprecated attack-patterns are skipped. Tactics, intrusion
// sets, software, and mitigations are reduced to small opaque records keyed
// by their ATT&CK identifiers. The snapshot's LastUpdated is set to the time
// of parsing.
func ParseSTIXBundle(data []byte) (*Catalog, error) {
	var bundle stixBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("failed to parse STIX bundle: %w", err)
	}
	if bundle.Type != "bundle" {
		return nil, fmt.Errorf("unexpected STIX document type %q", bundle.Type)
	}

	c := &Catalog{
		Version:     "unknown",
		LastUpdated: time.Now().UTC(),
		Techniques:  make(map[string]Technique),
	}

	tactics := make(map[string]json.RawMessage)
	groups := make(map[string]json.RawMessage)
	software := make(map[string]json.RawMessage)
	mitigations := make(map[string]json.RawMessage)

	for _, objData := range bundle.Objects {
		var obj stixObject
		if err := json.Unmarshal(objData, &obj); err != nil {
			continue
		}

		switch obj.Type {
		case "x-mitre-collection":
			if v := parseCollectionVersion(objData); v != "" {
				c.Version = v
			}
		case "attack-pattern":
			if t, ok := parseTechnique(objData); ok {
				c.Techniques[t.ID] = t
			}
		case "x-mitre-tactic":
			parseSection(objData, tactics, tacticRecord)
		case "intrusion-set":
			parseSection(objData, groups, groupRecord)
		case "malware", "tool":
			parseSection(objData, software, softwareRecord(obj.Type))
		case "course-of-action":
			parseSection(objData, mitigations, mitigationRecord)
		}
	}

	if len(c.Techniques) == 0 {
		return nil, fmt.Errorf("STIX bundle contains no usable attack-patterns")
	}

	c.Tactics = marshalSection(tactics)
	c.Groups = marshalSection(groups)
	c.Software = marshalSection(software)
	c.Mitigations = marshalSection(mitigations)
	return c, nil
}

func parseCollectionVersion(data json.RawMessage) string {
	var raw struct {
		Version string `json:"x_mitre_version"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return ""
	}
	return raw.Version
}

func parseTechnique(data json.RawMessage) (Technique, bool) {
	var raw struct {
		Name            string `json:"name"`
		Description     string `json:"description"`
		KillChainPhases []struct {
			PhaseName string `json:"phase_name"`
		} `json:"kill_chain_phases"`
		Platforms      []string          `json:"x_mitre_platforms"`
		IsSubtechnique bool              `json:"x_mitre_is_subtechnique"`
		Deprecated     bool              `json:"x_mitre_deprecated"`
		Revoked        bool              `json:"revoked"`
		ExternalRefs   []stixExternalRef `json:"external_references"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Technique{}, false
	}
	if raw.Revoked || raw.Deprecated {
		return Technique{}, false
	}

	id, url := attackID(raw.ExternalRefs)
	if id == "" {
		return Technique{}, false
	}

	var tactics []string
	for _, kcp := range raw.KillChainPhases {
		tactics = append(tactics, kcp.PhaseName)
	}

	var parentID string
	if raw.IsSubtechnique && strings.Contains(id, ".") {
		parentID = strings.SplitN(id, ".", 2)[0]
	}

	return Technique{
		ID:             id,
		Name:           raw.Name,
		Description:    raw.Description,
		Tactics:        tactics,
		Platforms:      raw.Platforms,
		IsSubtechnique: raw.IsSubtechnique,
		ParentID:       parentID,
		URL:            url,
	}, true
}

// sectionFn reduces one STIX object to its opaque section key and record.
type sectionFn func(data json.RawMessage) (key string, record any, ok bool)

func parseSection(data json.RawMessage, dst map[string]json.RawMessage, fn sectionFn) {
	key, record, ok := fn(data)
	if !ok {
		return
	}
	raw, err := json.Marshal(record)
	if err != nil {
		return
	}
	dst[key] = raw
}

func tacticRecord(data json.RawMessage) (string, any, bool) {
	var raw struct {
		Name         string            `json:"name"`
		ShortName    string            `json:"x_mitre_shortname"`
		ExternalRefs []stixExternalRef `json:"external_references"`
	}
	if err := json.Unmarshal(data, &raw); err != nil || raw.ShortName == "" {
		return "", nil, false
	}
	id, url := attackID(raw.ExternalRefs)
	return raw.ShortName, map[string]string{
		"id":   id,
		"name": raw.Name,
		"url":  url,
	}, true
}

func groupRecord(data json.RawMessage) (string, any, bool) {
	var raw struct {
		Name         string            `json:"name"`
		Aliases      []string          `json:"aliases"`
		Deprecated   bool              `json:"x_mitre_deprecated"`
		Revoked      bool              `json:"revoked"`
		ExternalRefs []stixExternalRef `json:"external_references"`
	}
	if err := json.Unmarshal(data, &raw); err != nil || raw.Revoked || raw.Deprecated {
		return "", nil, false
	}
	id, _ := attackID(raw.ExternalRefs)
	if id == "" {
		return "", nil, false
	}
	return id, map[string]any{
		"name":    raw.Name,
		"aliases": raw.Aliases,
	}, true
}

func softwareRecord(stixType string) sectionFn {
	return func(data json.RawMessage) (string, any, bool) {
		var raw struct {
			Name         string            `json:"name"`
			Platforms    []string          `json:"x_mitre_platforms"`
			Deprecated   bool              `json:"x_mitre_deprecated"`
			Revoked      bool              `json:"revoked"`
			ExternalRefs []stixExternalRef `json:"external_references"`
		}
		if err := json.Unmarshal(data, &raw); err != nil || raw.Revoked || raw.Deprecated {
			return "", nil, false
		}
		id, _ := attackID(raw.ExternalRefs)
		if id == "" {
			return "", nil, false
		}
		return id, map[string]any{
			"name":      raw.Name,
			"type":      stixType,
			"platforms": raw.Platforms,
		}, true
	}
}

func mitigationRecord(data json.RawMessage) (string, any, bool) {
	var raw struct {
		Name         string            `json:"name"`
		Deprecated   bool              `json:"x_mitre_deprecated"`
		Revoked      bool              `json:"revoked"`
		ExternalRefs []stixExternalRef `json:"external_references"`
	}
	if err := json.Unmarshal(data, &raw); err != nil || raw.Revoked || raw.Deprecated {
		return "", nil, false
	}
	id, _ := attackID(raw.ExternalRefs)
	if id == "" {
		return "", nil, false
	}
	return id, map[string]string{"name": raw.Name}, true
}

// marshalSection serializes an opaque section with stable key order so cache
// documents are byte-stable across rebuilds of the same content.
func marshalSection(section map[string]json.RawMessage) json.RawMessage {
	if len(section) == 0 {
		return nil
	}
	keys := make([]string, 0, len(section))
	for k := range section {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		b.Write(kb)
		b.WriteByte(':')
		b.Write(section[k])
	}
	b.WriteByte('}')
	return json.RawMessage(b.String())
}

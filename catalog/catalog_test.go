package catalog

import (
	"reflect"
	"testing"
)

func testCatalog() *Catalog {
	c := New("test",
		Technique{ID: "T1003", Name: "OS Credential Dumping", Tactics: []string{"credential-access"}},
		Technique{ID: "T1003.001", Name: "LSASS Memory", Tactics: []string{"credential-access"}, IsSubtechnique: true, ParentID: "T1003"},
		Technique{ID: "T1059.001", Name: "PowerShell", Tactics: []string{"execution"}, IsSubtechnique: true, ParentID: "T1059"},
		Technique{ID: "T1078", Name: "Valid Accounts", Tactics: []string{"defense-evasion", "persistence", "privilege-escalation", "initial-access"}},
	)
	c.Tactics = []byte(`{"credential-access":{"id":"TA0006","name":"Credential Access"},"execution":{"id":"TA0002","name":"Execution"}}`)
	c.Groups = []byte(`{"G0007":{"name":"APT28","aliases":["Fancy Bear"]}}`)
	c.Software = []byte(`{"S0002":{"name":"Mimikatz","type":"tool"}}`)
	return c
}

func TestCatalog_Technique(t *testing.T) {
	c := testCatalog()

	tech, ok := c.Technique("T1003.001")
	if !ok {
		t.Fatal("Technique(T1003.001) not found")
	}
	if tech.Name != "LSASS Memory" {
		t.Errorf("Technique() Name = %v, want LSASS Memory", tech.Name)
	}
	if tech.ParentID != "T1003" {
		t.Errorf("Technique() ParentID = %v, want T1003", tech.ParentID)
	}

	if _, ok := c.Technique("T9999"); ok {
		t.Error("Technique(T9999) found, want missing")
	}
	if c.Has("T9999") {
		t.Error("Has(T9999) = true, want false")
	}
}

func TestCatalog_TechniqueIDsSorted(t *testing.T) {
	c := testCatalog()

	want := []string{"T1003", "T1003.001", "T1059.001", "T1078"}
	if got := c.TechniqueIDs(); !reflect.DeepEqual(got, want) {
		t.Errorf("TechniqueIDs() = %v, want %v", got, want)
	}
}

func TestCatalog_ByTactic(t *testing.T) {
	c := testCatalog()

	got := c.ByTactic("credential-access")
	if len(got) != 2 {
		t.Fatalf("ByTactic(credential-access) returned %d techniques, want 2", len(got))
	}
	if got[0].ID != "T1003" || got[1].ID != "T1003.001" {
		t.Errorf("ByTactic() order = [%s %s], want [T1003 T1003.001]", got[0].ID, got[1].ID)
	}

	if got := c.ByTactic("impact"); len(got) != 0 {
		t.Errorf("ByTactic(impact) returned %d techniques, want 0", len(got))
	}
}

func TestCatalog_TacticShortNames(t *testing.T) {
	c := testCatalog()

	want := []string{"credential-access", "defense-evasion", "execution", "initial-access", "persistence", "privilege-escalation"}
	if got := c.TacticShortNames(); !reflect.DeepEqual(got, want) {
		t.Errorf("TacticShortNames() = %v, want %v", got, want)
	}
}

func TestCatalog_TacticName(t *testing.T) {
	c := testCatalog()

	tests := []struct {
		short string
		want  string
	}{
		{"credential-access", "Credential Access"},
		{"execution", "Execution"},
		// Not in the tactics section, falls back to title case.
		{"lateral-movement", "Lateral Movement"},
		{"impact", "Impact"},
	}
	for _, tt := range tests {
		if got := c.TacticName(tt.short); got != tt.want {
			t.Errorf("TacticName(%s) = %v, want %v", tt.short, got, tt.want)
		}
	}
}

func TestCatalog_Sections(t *testing.T) {
	c := testCatalog()

	if got := c.GroupNames(); !reflect.DeepEqual(got, []string{"APT28"}) {
		t.Errorf("GroupNames() = %v, want [APT28]", got)
	}
	if got := c.SoftwareNames(); !reflect.DeepEqual(got, []string{"Mimikatz"}) {
		t.Errorf("SoftwareNames() = %v, want [Mimikatz]", got)
	}
	if got := c.MitigationNames(); got != nil {
		t.Errorf("MitigationNames() = %v, want nil", got)
	}

	raw, ok := c.Section("groups", "G0007")
	if !ok {
		t.Fatal("Section(groups, G0007) not found")
	}
	if len(raw) == 0 {
		t.Error("Section(groups, G0007) returned empty raw entry")
	}

	if _, ok := c.Section("groups", "G9999"); ok {
		t.Error("Section(groups, G9999) found, want missing")
	}
	if _, ok := c.Section("relationships", "R1"); ok {
		t.Error("Section(relationships, ...) found, want unknown section to be missing")
	}
}

func TestCatalog_Empty(t *testing.T) {
	e := Empty()

	if !e.IsEmpty() {
		t.Error("Empty().IsEmpty() = false, want true")
	}
	if e.Len() != 0 {
		t.Errorf("Empty().Len() = %d, want 0", e.Len())
	}
	if _, ok := e.Technique("T1003"); ok {
		t.Error("Empty().Technique(T1003) found, want missing")
	}

	var nilCat *Catalog
	if !nilCat.IsEmpty() {
		t.Error("nil catalog IsEmpty() = false, want true")
	}
	if nilCat.Len() != 0 {
		t.Error("nil catalog Len() != 0")
	}
}

func TestTechnique_HasTactic(t *testing.T) {
	tech := Technique{ID: "T1078", Tactics: []string{"defense-evasion", "persistence"}}

	if !tech.HasTactic("persistence") {
		t.Error("HasTactic(persistence) = false, want true")
	}
	if tech.HasTactic("impact") {
		t.Error("HasTactic(impact) = true, want false")
	}
}

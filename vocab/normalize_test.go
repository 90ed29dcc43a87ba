package vocab

import (
	"testing"

	"github.com/mleroux/kgraph/store"
)

func builtinVocabTypes() []store.VocabType {
	var out []store.VocabType
	for _, b := range Builtins() {
		out = append(out, store.VocabType{
			RelationshipType: b.Name,
			Category:         b.Category,
			IsBuiltin:        true,
			IsActive:         true,
		})
	}
	return out
}

func TestNormalizeTypeName(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"CAUSES", "CAUSES", false},
		{"causes", "CAUSES", false},
		{"part of", "PART_OF", false},
		{"  enables  ", "ENABLES", false},
		{"IS-TECHNIQUE-IN", "ISTECHNIQUEIN", false},
		{"orbits around!", "ORBITS_AROUND", false},
		{"9LIVES", "", true},
		{"_LEADING", "", true},
		{"", "", true},
		{"!!!", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeTypeName(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("NormalizeTypeName(%q) expected error, got %q", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("NormalizeTypeName(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeTypeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeTypeNameLength(t *testing.T) {
	long := "A"
	for len(long) < 100 {
		long += "X"
	}
	if _, err := NormalizeTypeName(long); err != nil {
		t.Errorf("100-char name should be valid: %v", err)
	}
	if _, err := NormalizeTypeName(long + "X"); err == nil {
		t.Error("101-char name should be rejected")
	}
}

func TestNormalizeCanonicalIdentity(t *testing.T) {
	n := NewNormalizer(builtinVocabTypes())
	for _, b := range Builtins() {
		m, ok := n.Normalize(b.Name)
		if !ok {
			t.Errorf("canonical %s did not match itself", b.Name)
			continue
		}
		if m.Type != b.Name || m.Category != b.Category || m.Score != 1.0 {
			t.Errorf("Normalize(%s) = %+v, want exact self match", b.Name, m)
		}
	}
}

func TestNormalizeStages(t *testing.T) {
	n := NewNormalizer(builtinVocabTypes())

	tests := []struct {
		name     string
		label    string
		wantType string
		wantCat  string
		minScore float64
		maxScore float64
		wantMiss bool
	}{
		{name: "exact lowercase", label: "causes", wantType: "CAUSES", wantCat: "causal", minScore: 1, maxScore: 1},
		{name: "exact padded", label: "  SUPPORTS ", wantType: "SUPPORTS", wantCat: "evidential", minScore: 1, maxScore: 1},
		{name: "canonical inverse stays exact", label: "MEASURED_BY", wantType: "MEASURED_BY", wantCat: "evidential", minScore: 1, maxScore: 1},
		{name: "non-canonical inverse rejected", label: "CAUSED_BY", wantMiss: true},
		{name: "prefix extension", label: "CONTRASTS", wantType: "CONTRASTS_WITH", wantCat: "similarity", minScore: 1, maxScore: 1},
		{name: "containment", label: "CONTRADICTS_WITH", wantType: "CONTRADICTS", wantCat: "logical", minScore: 1, maxScore: 1},
		{name: "stem inflection", label: "CAUSING", wantType: "CAUSES", wantCat: "causal", minScore: 0.6, maxScore: 0.99},
		{name: "typo", label: "CAUSSES", wantType: "CAUSES", wantCat: "causal", minScore: 0.8, maxScore: 0.99},
		{name: "genuinely new", label: "IS_TECHNIQUE_IN", wantMiss: true},
		{name: "garbage", label: "XQWZK", wantMiss: true},
		{name: "empty", label: "", wantMiss: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := n.Normalize(tt.label)
			if tt.wantMiss {
				if ok {
					t.Fatalf("Normalize(%q) = %+v, want no match", tt.label, m)
				}
				return
			}
			if !ok {
				t.Fatalf("Normalize(%q) found no match", tt.label)
			}
			if m.Type != tt.wantType || m.Category != tt.wantCat {
				t.Errorf("Normalize(%q) = (%s, %s), want (%s, %s)",
					tt.label, m.Type, m.Category, tt.wantType, tt.wantCat)
			}
			if m.Score < tt.minScore || m.Score > tt.maxScore {
				t.Errorf("Normalize(%q) score = %f, want in [%f, %f]",
					tt.label, m.Score, tt.minScore, tt.maxScore)
			}
		})
	}
}

func TestNormalizePrefixPicksShortest(t *testing.T) {
	n := NewNormalizer([]store.VocabType{
		{RelationshipType: "PROCESSES", Category: "operation", IsActive: true},
		{RelationshipType: "PROCESSES_DATA", Category: "operation", IsActive: true},
	})
	m, ok := n.Normalize("PROCESS")
	if !ok {
		t.Fatal("expected prefix match")
	}
	if m.Type != "PROCESSES" {
		t.Errorf("prefix match = %s, want PROCESSES (shortest)", m.Type)
	}
}

func TestNormalizeContainmentPicksLongest(t *testing.T) {
	n := NewNormalizer([]store.VocabType{
		{RelationshipType: "CONNECTS", Category: "interaction", IsActive: true},
		{RelationshipType: "CONNECTS_VIA", Category: "interaction", IsActive: true},
	})
	m, ok := n.Normalize("CONNECTS_VIA_NETWORK")
	if !ok {
		t.Fatal("expected containment match")
	}
	if m.Type != "CONNECTS_VIA" {
		t.Errorf("containment match = %s, want CONNECTS_VIA (longest)", m.Type)
	}
}

func TestNormalizerIgnoresInactive(t *testing.T) {
	n := NewNormalizer([]store.VocabType{
		{RelationshipType: "OLD_LINK", Category: "llm_generated", IsActive: false},
	})
	if m, ok := n.Normalize("OLD_LINK"); ok {
		t.Errorf("inactive type matched: %+v", m)
	}
}

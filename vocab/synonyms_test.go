package vocab

import (
	"math"
	"testing"
)

// Unit vectors with known pairwise cosines: alpha/bravo 0.93,
// alpha/charlie 0.75, bravo/charlie 0.6975 (just under moderate).
var (
	embAlpha   = []float32{1, 0, 0, 0}
	embBravo   = []float32{0.93, 0.3675595, 0, 0}
	embCharlie = []float32{0.75, 0, 0.6614378, 0}
	embDelta   = []float32{0, 0, 0, 1}
)

func TestFindSynonyms(t *testing.T) {
	embeddings := map[string][]float32{
		"ALPHA":   embAlpha,
		"BRAVO":   embBravo,
		"CHARLIE": embCharlie,
		"DELTA":   embDelta,
	}

	got := FindSynonyms(embeddings, 0) // 0 falls back to ModerateThreshold
	if len(got) != 2 {
		t.Fatalf("candidates = %d, want 2: %+v", len(got), got)
	}

	strong := got[0]
	if strong.TypeA != "ALPHA" || strong.TypeB != "BRAVO" {
		t.Errorf("strongest pair = %s/%s, want ALPHA/BRAVO", strong.TypeA, strong.TypeB)
	}
	if strong.Strength != StrengthStrong || strong.NeedsReview {
		t.Errorf("strong candidate = %+v, want strength strong without review", strong)
	}
	if math.Abs(strong.Similarity-0.93) > 1e-3 {
		t.Errorf("similarity = %f, want ~0.93", strong.Similarity)
	}

	moderate := got[1]
	if moderate.TypeA != "ALPHA" || moderate.TypeB != "CHARLIE" {
		t.Errorf("second pair = %s/%s, want ALPHA/CHARLIE", moderate.TypeA, moderate.TypeB)
	}
	if moderate.Strength != StrengthModerate || !moderate.NeedsReview {
		t.Errorf("moderate candidate = %+v, want strength moderate with review", moderate)
	}
}

func TestFindSynonymsThreshold(t *testing.T) {
	embeddings := map[string][]float32{
		"ALPHA":   embAlpha,
		"BRAVO":   embBravo,
		"CHARLIE": embCharlie,
	}

	got := FindSynonyms(embeddings, 0.9)
	if len(got) != 1 {
		t.Fatalf("candidates = %d, want only the strong pair: %+v", len(got), got)
	}
	if got[0].TypeA != "ALPHA" || got[0].TypeB != "BRAVO" {
		t.Errorf("pair = %s/%s, want ALPHA/BRAVO", got[0].TypeA, got[0].TypeB)
	}
}

func TestFindSynonymsExcludesInverses(t *testing.T) {
	embeddings := map[string][]float32{
		"MEASURES":    embAlpha,
		"MEASURED_BY": embAlpha,
	}

	if got := FindSynonyms(embeddings, 0); len(got) != 0 {
		t.Errorf("inverse pair surfaced as synonym: %+v", got)
	}
}

func TestFindSynonymsFor(t *testing.T) {
	existing := map[string][]float32{
		"MEASURES":    embAlpha, // the type itself, must be skipped
		"MEASURED_BY": embAlpha, // inverse, must be skipped
		"CAUSES":      embAlpha,
		"TRIGGERS":    embBravo,
		"LINKS":       embCharlie,
	}

	got := FindSynonymsFor("MEASURES", embAlpha, existing, 0)
	if len(got) != 3 {
		t.Fatalf("candidates = %d, want 3: %+v", len(got), got)
	}

	wantOrder := []string{"CAUSES", "TRIGGERS", "LINKS"}
	for i, want := range wantOrder {
		if got[i].TypeA != "MEASURES" || got[i].TypeB != want {
			t.Errorf("candidate %d = %s/%s, want MEASURES/%s", i, got[i].TypeA, got[i].TypeB, want)
		}
	}
}

func TestFindSynonymsForTieBreak(t *testing.T) {
	existing := map[string][]float32{
		"ZED": embAlpha,
		"ACE": embAlpha,
	}

	got := FindSynonymsFor("NEW_TYPE", embAlpha, existing, 0)
	if len(got) != 2 {
		t.Fatalf("candidates = %d, want 2", len(got))
	}
	if got[0].TypeB != "ACE" || got[1].TypeB != "ZED" {
		t.Errorf("equal similarities ordered [%s %s], want [ACE ZED]", got[0].TypeB, got[1].TypeB)
	}
}

func TestInversePair(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"MEASURES", "MEASURED_BY", true},
		{"MEASURED_BY", "MEASURES", true},
		{"CONNECTS", "CONNECTS_TO", true},
		{"GENERATED_BY", "GENERATES", true},
		{"CAUSES", "CAUSED_BY", true},
		{"CAUSES", "ENABLES", false},
		{"PART_OF", "PART", false},
		{"RESULTS_FROM", "RESULTS", false},
	}
	for _, tt := range tests {
		if got := InversePair(tt.a, tt.b); got != tt.want {
			t.Errorf("InversePair(%s, %s) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestPickSurvivor(t *testing.T) {
	tests := []struct {
		name       string
		a, b       TypeScore
		wantKeep   string
		wantDrop   string
		wantReason string
	}{
		{
			name:       "higher value wins",
			a:          TypeScore{RelationshipType: "REL_A", Value: 2.5},
			b:          TypeScore{RelationshipType: "REL_B", Value: 1},
			wantKeep:   "REL_A",
			wantDrop:   "REL_B",
			wantReason: "REL_A has the higher value score (2.50 vs 1.00)",
		},
		{
			name:       "higher value wins either side",
			a:          TypeScore{RelationshipType: "REL_A", Value: 1},
			b:          TypeScore{RelationshipType: "REL_B", Value: 2.5},
			wantKeep:   "REL_B",
			wantDrop:   "REL_A",
			wantReason: "REL_B has the higher value score (2.50 vs 1.00)",
		},
		{
			name:       "edges break value ties",
			a:          TypeScore{RelationshipType: "REL_A", Value: 1, EdgeCount: 10},
			b:          TypeScore{RelationshipType: "REL_B", Value: 1, EdgeCount: 3},
			wantKeep:   "REL_A",
			wantDrop:   "REL_B",
			wantReason: "REL_A has more edges (10 vs 3)",
		},
		{
			name:       "alphabetical last resort",
			a:          TypeScore{RelationshipType: "BETA", Value: 1, EdgeCount: 5},
			b:          TypeScore{RelationshipType: "ALPHA", Value: 1, EdgeCount: 5},
			wantKeep:   "ALPHA",
			wantDrop:   "BETA",
			wantReason: "alphabetical tiebreaker",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			keep, drop, reason := PickSurvivor(tt.a, tt.b)
			if keep != tt.wantKeep || drop != tt.wantDrop {
				t.Errorf("survivor = %s/%s, want %s/%s", keep, drop, tt.wantKeep, tt.wantDrop)
			}
			if reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

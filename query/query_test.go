package query

import (
	"strings"
	"testing"

	"github.com/mleroux/kgraph/store"
)

func TestRoundTo(t *testing.T) {
	tests := []struct {
		in     float64
		places int
		want   float64
	}{
		{0.4799999, 2, 0.48},
		{0.456, 2, 0.46},
		{0.43000001, 2, 0.43},
		{-0.155, 1, -0.2},
		{1.0, 2, 1.0},
	}
	for _, tt := range tests {
		if got := roundTo(tt.in, tt.places); got != tt.want {
			t.Errorf("roundTo(%v, %d) = %v, want %v", tt.in, tt.places, got, tt.want)
		}
	}
}

func TestPaginate(t *testing.T) {
	hits := []store.ConceptHit{
		{Concept: store.Concept{ConceptID: "a"}},
		{Concept: store.Concept{ConceptID: "b"}},
		{Concept: store.Concept{ConceptID: "c"}},
	}

	page := paginate(hits, 0, 2)
	if len(page) != 2 || page[0].ConceptID != "a" || page[1].ConceptID != "b" {
		t.Errorf("first page = %+v", page)
	}

	page = paginate(hits, 2, 2)
	if len(page) != 1 || page[0].ConceptID != "c" {
		t.Errorf("tail page = %+v", page)
	}

	if page = paginate(hits, 3, 2); page != nil {
		t.Errorf("past-end page = %+v", page)
	}
	if page = paginate(nil, 0, 10); page != nil {
		t.Errorf("empty page = %+v", page)
	}
}

func TestFlattenRows(t *testing.T) {
	rows := []map[string]interface{}{
		{"concept_id": "c-1", "label": "Tide"},
		{"concept_id": "c-2", "label": "Moon"},
		{"concept_id": "c-1", "label": "Tide"}, // duplicate node
		{"from_concept": "c-1", "to_concept": "c-2", "relation_type": "CAUSES"},
		{"count": int64(3)}, // aggregate row, neither shape
	}

	res := flattenRows(rows)
	if res.RowCount != 5 {
		t.Errorf("row count = %d", res.RowCount)
	}
	if len(res.Nodes) != 2 {
		t.Errorf("nodes = %+v", res.Nodes)
	}
	if len(res.Relationships) != 1 {
		t.Errorf("relationships = %+v", res.Relationships)
	}
	if res.Relationships[0]["relation_type"] != "CAUSES" {
		t.Errorf("relationship = %+v", res.Relationships[0])
	}
}

func TestFlattenRowsEmpty(t *testing.T) {
	res := flattenRows(nil)
	if res.RowCount != 0 || res.Nodes == nil || res.Relationships == nil {
		t.Errorf("empty result = %+v", res)
	}
}

func TestNoMatchErrorMessage(t *testing.T) {
	err := &NoMatchError{Query: "lunar tides", Threshold: 0.7}
	want := "No concepts found matching 'lunar tides' at 70% similarity"
	if err.Error() != want {
		t.Errorf("message = %q, want %q", err.Error(), want)
	}

	err = &NoMatchError{Query: "lunar tides", Threshold: 0.7, NearMisses: 1, SuggestedThreshold: 0.48}
	want = "No concepts found matching 'lunar tides' at 70% similarity. Try: --min-similarity 0.48 (1 near-miss concept available)"
	if err.Error() != want {
		t.Errorf("message = %q, want %q", err.Error(), want)
	}

	err = &NoMatchError{Query: "lunar tides", Threshold: 0.65, NearMisses: 3, SuggestedThreshold: 0.41}
	if !strings.Contains(err.Error(), "3 near-miss concepts available") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestSnippetForPicksRelevantSentence(t *testing.T) {
	content := "The first sentence talks about weather patterns. Harbor construction needed deep anchorage. Fishing boats stayed elsewhere."
	got := snippetFor(content, "harbor anchorage")
	// Neither neighbor scores, so the matching sentence stands alone.
	if got != "Harbor construction needed deep anchorage." {
		t.Errorf("snippet = %q", got)
	}
}

func TestSnippetForExtendsWithScoredNeighbor(t *testing.T) {
	content := "Harbor walls rose quickly. The harbor anchorage was deep. Nothing else mattered that year."
	got := snippetFor(content, "harbor anchorage")
	// Both harbor sentences score; the pair fits the length budget.
	want := "Harbor walls rose quickly. The harbor anchorage was deep."
	if got != want {
		t.Errorf("snippet = %q, want %q", got, want)
	}
}

func TestSnippetForFallsBackToHead(t *testing.T) {
	short := "No overlap with anything asked."
	if got := snippetFor(short, "harbor anchorage"); got != short {
		t.Errorf("short fallback = %q", got)
	}

	long := strings.Repeat("wordy filler text keeps going ", 20)
	got := snippetFor(long, "harbor anchorage")
	if len(got) > snippetMaxLen+3 {
		t.Errorf("fallback length = %d", len(got))
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("fallback = %q", got)
	}
}

func TestHeadPreviewShortPassthrough(t *testing.T) {
	if got := headPreview("short text"); got != "short text" {
		t.Errorf("preview = %q", got)
	}
}

func TestSignificantWordsFiltersStopWords(t *testing.T) {
	words := significantWords("These harbors WERE very deep there")
	if !words["harbors"] || !words["deep"] {
		t.Errorf("words = %v", words)
	}
	if words["these"] || words["were"] || words["very"] || words["there"] {
		t.Errorf("stop words leaked: %v", words)
	}
}

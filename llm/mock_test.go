package llm

import (
	"context"
	"math"
	"strings"
	"testing"
)

func TestMockEmbedDeterministic(t *testing.T) {
	p := NewMock(Config{Provider: "mock"})
	ctx := context.Background()

	a, err := p.Embed(ctx, []string{"machine learning"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := p.Embed(ctx, []string{"machine learning"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if len(a[0]) != 768 {
		t.Fatalf("dim = %d, want 768", len(a[0]))
	}
	for i := range a[0] {
		if a[0][i] != b[0][i] {
			t.Fatalf("embedding not deterministic at index %d: %v != %v", i, a[0][i], b[0][i])
		}
	}
}

func TestMockEmbedUnitNorm(t *testing.T) {
	p := NewMock(Config{Provider: "mock", Dim: 64})
	vecs, err := p.Embed(context.Background(), []string{"some text"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	var norm float64
	for _, v := range vecs[0] {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if math.Abs(norm-1.0) > 1e-5 {
		t.Errorf("norm = %f, want 1.0", norm)
	}
}

func TestMockEmbedDistinctTexts(t *testing.T) {
	p := NewMock(Config{Provider: "mock", Dim: 32})
	vecs, err := p.Embed(context.Background(), []string{"alpha", "beta"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	same := true
	for i := range vecs[0] {
		if vecs[0][i] != vecs[1][i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts produced identical embeddings")
	}
}

// ---

func TestMockExtractConcepts(t *testing.T) {
	p := NewMock(Config{Provider: "mock"})
	res, err := p.ExtractConcepts(context.Background(), ExtractRequest{
		ChunkText: "Neural networks learn representations. Gradient descent minimizes loss. Backpropagation computes gradients. Regularization prevents overfitting.",
	})
	if err != nil {
		t.Fatalf("ExtractConcepts: %v", err)
	}

	if got := len(res.Concepts); got != 3 {
		t.Fatalf("concepts = %d, want 3 (default cap)", got)
	}
	if res.Concepts[0].Label != "Neural Networks Learn" {
		t.Errorf("label = %q, want %q", res.Concepts[0].Label, "Neural Networks Learn")
	}
	if !strings.HasPrefix(res.Concepts[0].ID, "mock-concept-") {
		t.Errorf("id = %q, want mock-concept- prefix", res.Concepts[0].ID)
	}
	if len(res.Concepts[0].Instances) != 1 || res.Concepts[0].Instances[0].Relevance != 0.9 {
		t.Errorf("instances = %+v, want one quote at relevance 0.9", res.Concepts[0].Instances)
	}

	// Consecutive concepts are chained with RELATES_TO.
	if got := len(res.Relations); got != 2 {
		t.Fatalf("relations = %d, want 2", got)
	}
	for _, r := range res.Relations {
		if r.Type != "RELATES_TO" || r.Confidence != 0.85 {
			t.Errorf("relation = %+v, want RELATES_TO at 0.85", r)
		}
	}
}

func TestMockExtractProfiles(t *testing.T) {
	text := "One sentence here. Two sentences here. Three sentences here. Four sentences here. Five sentences here. Six sentences here."

	tests := []struct {
		model string
		want  int
	}{
		{"simple", 1},
		{"complex", 5},
		{"empty", 0},
		{"", 3},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			p := NewMock(Config{Provider: "mock", Model: tt.model})
			res, err := p.ExtractConcepts(context.Background(), ExtractRequest{ChunkText: text})
			if err != nil {
				t.Fatalf("ExtractConcepts: %v", err)
			}
			if got := len(res.Concepts); got != tt.want {
				t.Errorf("concepts = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMockExtractLinksToRecent(t *testing.T) {
	p := NewMock(Config{Provider: "mock", Model: "simple"})
	res, err := p.ExtractConcepts(context.Background(), ExtractRequest{
		ChunkText: "Attention mechanisms weight inputs.",
		Recent:    []RecentConcept{{ID: "c1", Label: "Transformer Models"}},
	})
	if err != nil {
		t.Fatalf("ExtractConcepts: %v", err)
	}

	if len(res.Relations) != 1 {
		t.Fatalf("relations = %d, want 1", len(res.Relations))
	}
	r := res.Relations[0]
	if r.Type != "BUILDS_ON" || r.To != "Transformer Models" || r.Confidence != 0.75 {
		t.Errorf("relation = %+v, want BUILDS_ON -> Transformer Models at 0.75", r)
	}
}

// ---

func TestMockTranslate(t *testing.T) {
	p := NewMock(Config{Provider: "mock"})
	code := "def add(a, b):\n    return a + b"
	got, err := p.TranslateToProse(context.Background(), TranslateRequest{Code: code, Language: "python"})
	if err != nil {
		t.Fatalf("TranslateToProse: %v", err)
	}
	if !strings.Contains(got, "Mock prose translation of code block") {
		t.Errorf("translation = %q, missing mock marker", got)
	}
	if !strings.Contains(got, "def add") {
		t.Errorf("translation = %q, missing code preview", got)
	}
}

func TestMockJudgeMerge(t *testing.T) {
	p := NewMock(Config{Provider: "mock"})
	ctx := context.Background()

	high, err := p.JudgeMerge(ctx, MergeJudgment{
		TypeA:      VocabType{Name: "STATUS", EdgeCount: 5},
		TypeB:      VocabType{Name: "HAS_STATUS", EdgeCount: 12},
		Similarity: 0.93,
	})
	if err != nil {
		t.Fatalf("JudgeMerge: %v", err)
	}
	if !high.Merge {
		t.Error("similarity 0.93 should merge")
	}
	if high.Keep != "HAS_STATUS" {
		t.Errorf("keep = %q, want HAS_STATUS (more edges)", high.Keep)
	}

	low, err := p.JudgeMerge(ctx, MergeJudgment{
		TypeA:      VocabType{Name: "CAUSES"},
		TypeB:      VocabType{Name: "PREVENTS"},
		Similarity: 0.4,
	})
	if err != nil {
		t.Fatalf("JudgeMerge: %v", err)
	}
	if low.Merge {
		t.Error("similarity 0.4 should not merge")
	}
	if low.Keep != "" {
		t.Errorf("keep = %q, want empty for skip", low.Keep)
	}
}

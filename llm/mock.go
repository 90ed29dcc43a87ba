package llm

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"unicode"
)

// mockProvider is a deterministic in-process provider for tests and
// offline development. Same input, same output, every time: embeddings
// are derived from a SHA-256 of the text, concepts from sentence
// hashes. No network, no model weights.
type mockProvider struct {
	// Dim is the embedding dimensionality to produce.
	Dim int
	// ConceptsPerChunk caps how many concepts extraction returns.
	ConceptsPerChunk int
}

// NewMock creates the deterministic mock provider. The model name
// selects an extraction profile: "simple" yields one concept per chunk,
// "complex" five, "empty" none, anything else three.
func NewMock(cfg Config) Provider {
	per := 3
	switch cfg.Model {
	case "simple":
		per = 1
	case "complex":
		per = 5
	case "empty":
		per = 0
	}
	dim := cfg.Dim
	if dim <= 0 {
		dim = 768
	}
	return &mockProvider{Dim: dim, ConceptsPerChunk: per}
}

func (m *mockProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = mockEmbedding(text, m.Dim)
	}
	return out, nil
}

// mockEmbedding maps text to a unit vector by cycling the SHA-256
// digest bytes across the requested dimensions.
func mockEmbedding(text string, dim int) []float32 {
	digest := sha256.Sum256([]byte(text))
	vec := make([]float32, dim)
	var norm float64
	for i := 0; i < dim; i++ {
		b := digest[i%len(digest)]
		v := float64(b)/255.0*2.0 - 1.0
		vec[i] = float32(v)
		norm += v * v
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}

func (m *mockProvider) ExtractConcepts(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	result := &ExtractResult{}
	if m.ConceptsPerChunk == 0 {
		return result, nil
	}

	sentences := splitMockSentences(req.ChunkText)
	for _, sentence := range sentences {
		if len(result.Concepts) >= m.ConceptsPerChunk {
			break
		}
		words := strings.Fields(sentence)
		if len(words) == 0 {
			continue
		}

		sum := md5.Sum([]byte(sentence))
		id := "mock-concept-" + hex.EncodeToString(sum[:])[:12]

		label := titleWords(words[:min(3, len(words))])
		terms := make([]string, 0, 2)
		for _, w := range words[:min(2, len(words))] {
			terms = append(terms, strings.ToLower(w))
		}

		quote := sentence
		if len(quote) > 200 {
			quote = quote[:200]
		}

		result.Concepts = append(result.Concepts, ExtractedConcept{
			ID:          id,
			Label:       label,
			SearchTerms: terms,
			Instances:   []ExtractedInstance{{Quote: quote, Relevance: 0.9}},
		})
	}

	// Chain consecutive concepts so graphs built from mock extractions
	// are connected, and anchor the chunk to prior context when any
	// exists.
	for i := 1; i < len(result.Concepts); i++ {
		result.Relations = append(result.Relations, ExtractedRelation{
			From:       result.Concepts[i-1].Label,
			To:         result.Concepts[i].Label,
			Type:       "RELATES_TO",
			Confidence: 0.85,
		})
	}
	if len(result.Concepts) > 0 && len(req.Recent) > 0 {
		result.Relations = append(result.Relations, ExtractedRelation{
			From:       result.Concepts[0].Label,
			To:         req.Recent[0].Label,
			Type:       "BUILDS_ON",
			Confidence: 0.75,
		})
	}
	return result, nil
}

func (m *mockProvider) TranslateToProse(ctx context.Context, req TranslateRequest) (string, error) {
	preview := req.Code
	if len(preview) > 100 {
		preview = preview[:100]
	}
	return fmt.Sprintf("Mock prose translation of code block (%d chars): %s", len(req.Code), preview), nil
}

func (m *mockProvider) JudgeMerge(ctx context.Context, req MergeJudgment) (*MergeVerdict, error) {
	v := &MergeVerdict{
		Merge:  req.Similarity >= 0.9,
		Reason: fmt.Sprintf("mock judgment at similarity %.3f", req.Similarity),
	}
	normalizeVerdict(v, req)
	return v, nil
}

func splitMockSentences(text string) []string {
	parts := strings.Split(text, ".")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func titleWords(words []string) string {
	titled := make([]string, len(words))
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		titled[i] = string(r)
	}
	return strings.Join(titled, " ")
}

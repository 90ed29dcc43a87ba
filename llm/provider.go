// Package llm provides the language-model operations the engine depends
// on: concept extraction, code-to-prose translation, merge judgment, and
// embedding generation. Providers wrap real APIs (OpenAI, Anthropic,
// Ollama) or a deterministic mock for tests.
package llm

import (
	"context"
	"fmt"
)

// Provider is the interface for LLM interactions. The engine never
// builds prompts itself; every language-model capability it needs is an
// operation here.
type Provider interface {
	// ExtractConcepts pulls concepts, evidence quotes, and typed
	// relationships out of a chunk of prose.
	ExtractConcepts(ctx context.Context, req ExtractRequest) (*ExtractResult, error)

	// TranslateToProse converts a code block into plain-English prose
	// describing what the code does.
	TranslateToProse(ctx context.Context, req TranslateRequest) (string, error)

	// JudgeMerge decides whether two relationship types are true synonyms
	// that should be merged.
	JudgeMerge(ctx context.Context, req MergeJudgment) (*MergeVerdict, error)

	// Embed generates embeddings for a batch of texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// ExtractRequest carries one chunk plus continuity context from earlier
// chunks of the same document.
type ExtractRequest struct {
	ChunkText string
	SourceID  string
	// Recent lists concepts already seen in this document so the model
	// reuses their labels instead of inventing near-duplicates.
	Recent []RecentConcept
}

// RecentConcept identifies a previously extracted concept.
type RecentConcept struct {
	ID    string
	Label string
}

// ExtractResult is the structured output of concept extraction.
type ExtractResult struct {
	Concepts  []ExtractedConcept
	Relations []ExtractedRelation
}

// ExtractedConcept is one concept the model found in a chunk.
type ExtractedConcept struct {
	// ID is the provider-assigned identifier. May be empty; the ingestion
	// pipeline assigns canonical IDs.
	ID          string
	Label       string
	SearchTerms []string
	Instances   []ExtractedInstance
}

// ExtractedInstance is a supporting quote for a concept.
type ExtractedInstance struct {
	Quote     string
	Relevance float64
}

// ExtractedRelation is a typed edge between two extracted concepts,
// referenced by label.
type ExtractedRelation struct {
	From       string
	To         string
	Type       string
	Confidence float64
}

// TranslateRequest is a code block to render as prose.
type TranslateRequest struct {
	Code     string
	Language string
}

// MergeJudgment asks whether two relationship types mean the same thing.
type MergeJudgment struct {
	TypeA      VocabType
	TypeB      VocabType
	Similarity float64
}

// VocabType describes one side of a merge judgment.
type VocabType struct {
	Name        string
	Description string
	EdgeCount   int
	ValueScore  float64
}

// MergeVerdict is the model's decision on a candidate pair.
type MergeVerdict struct {
	Merge  bool
	Keep   string // which type survives; empty when Merge is false
	Reason string
}

// Config configures an LLM provider.
type Config struct {
	Provider string `json:"provider"` // openai, anthropic, ollama, mock
	Model    string `json:"model"`
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"api_key"`
	// Dim is the embedding dimensionality. Only the mock provider reads
	// it; real providers produce whatever their model produces.
	Dim int `json:"dim,omitempty"`
}

// NewProvider creates an LLM provider from configuration.
func NewProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAI(cfg), nil
	case "anthropic":
		return NewAnthropic(cfg), nil
	case "ollama":
		return NewOllama(cfg), nil
	case "mock":
		return NewMock(cfg), nil
	case "":
		return nil, fmt.Errorf("llm provider not specified")
	default:
		return nil, fmt.Errorf("unknown llm provider: %s", cfg.Provider)
	}
}

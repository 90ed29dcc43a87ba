// Package query is the read side of the knowledge graph: semantic
// concept and source search, concept details, connection finding by
// text, and the raw SQL pass-through. Every operation embeds through
// the shared worker and reads through the store; nothing here mutates
// the graph beyond best-effort access counters.
package query

import (
	"context"
	"log/slog"
	"math"

	"github.com/mleroux/kgraph/analysis"
	"github.com/mleroux/kgraph/embed"
	"github.com/mleroux/kgraph/graph"
	"github.com/mleroux/kgraph/store"
	"github.com/mleroux/kgraph/vocab"
)

const (
	defaultSearchLimit   = 10
	defaultMinSimilarity = 0.7

	// hintFloor is the similarity floor for the second-chance search
	// that powers the threshold hint. Matches below it are noise.
	hintFloor = 0.3

	// maxSampleEvidence caps per-hit evidence previews in search
	// results. Full evidence lives in concept details.
	maxSampleEvidence = 3
)

// Engine answers read queries against the graph.
type Engine struct {
	store    *store.Store
	embedder *embed.Worker
	trav     *graph.Traverser
	vocab    *vocab.Manager
	analyzer *analysis.Analyzer
}

// New creates a query engine on top of the shared store, embedding
// worker, traverser, vocabulary manager, and analyzer.
func New(s *store.Store, w *embed.Worker, t *graph.Traverser, vm *vocab.Manager, an *analysis.Analyzer) *Engine {
	return &Engine{store: s, embedder: w, trav: t, vocab: vm, analyzer: an}
}

// grounding measures one concept against the SUPPORTS / CONTRADICTS
// evidence poles. Returns nil when the poles or the concept lack
// embeddings; search enrichment degrades instead of failing.
func (e *Engine) grounding(ctx context.Context, conceptID string) *float64 {
	emb, err := e.store.GetConceptEmbedding(ctx, conceptID)
	if err != nil {
		return nil
	}
	supports, err := e.store.GetVocabEmbedding(ctx, "SUPPORTS")
	if err != nil {
		slog.Warn("query: grounding unavailable, SUPPORTS pole missing", "error", err)
		return nil
	}
	contradicts, err := e.store.GetVocabEmbedding(ctx, "CONTRADICTS")
	if err != nil {
		slog.Warn("query: grounding unavailable, CONTRADICTS pole missing", "error", err)
		return nil
	}
	g := vocab.Grounding(emb, supports, contradicts)
	return &g
}

// roundTo rounds x to the given number of decimal places.
func roundTo(x float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(x*scale) / scale
}

package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/mleroux/kgraph/graph"
	"github.com/mleroux/kgraph/vocab"
)

// Diversity horizon bounds. Deeper walks blur the neighborhood into the
// whole graph; the metric stops meaning anything past three hops.
const (
	minDiversityHops     = 1
	maxDiversityHops     = 3
	defaultDiversityHops = 2
	defaultDiversityCap  = 100
)

// DiversityOptions bounds a diversity calculation.
type DiversityOptions struct {
	// MaxHops is the traversal depth, clamped to [1, 3]. Zero takes the
	// default of 2.
	MaxHops int
	// Limit caps the neighborhood size before the pairwise pass turns
	// quadratic. Zero takes the default of 100.
	Limit int
	// Grounding, when set, also produces the signed authenticated
	// diversity: sign(grounding) times the diversity score.
	Grounding *float64
}

// DiversityResult reports the semantic spread of a concept's
// neighborhood. A diverse neighborhood (independent domains pointing at
// the same concept) is a signal of authentic information; a tight
// cluster suggests circular sourcing.
type DiversityResult struct {
	// DiversityScore is 1 minus the mean pairwise cosine similarity of
	// neighbor embeddings. Nil when fewer than two neighbors have
	// embeddings.
	DiversityScore         *float64 `json:"diversity_score"`
	RelatedConceptCount    int      `json:"related_concept_count"`
	AvgPairwiseSimilarity  *float64 `json:"avg_pairwise_similarity"`
	Sampled                bool     `json:"sampled"`
	CalculationTimeMS      int64    `json:"calculation_time_ms"`
	Interpretation         string   `json:"interpretation"`
	AuthenticatedDiversity *float64 `json:"authenticated_diversity,omitempty"`
}

// Diversity measures the semantic diversity of a concept's N-hop
// neighborhood: walk omnidirectionally, collect neighbor embeddings,
// and return 1 minus their mean pairwise cosine similarity.
func (an *Analyzer) Diversity(ctx context.Context, conceptID string, opts DiversityOptions) (*DiversityResult, error) {
	start := time.Now()

	maxHops := opts.MaxHops
	if maxHops == 0 {
		maxHops = defaultDiversityHops
	}
	if maxHops < minDiversityHops {
		maxHops = minDiversityHops
	}
	if maxHops > maxDiversityHops {
		maxHops = maxDiversityHops
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultDiversityCap
	}

	if _, err := an.store.GetConcept(ctx, conceptID); err != nil {
		return nil, fmt.Errorf("analysis: diversity target: %w", err)
	}

	related, err := an.trav.Related(ctx, conceptID, graph.RelatedOptions{
		MaxDepth: maxHops,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("analysis: diversity neighborhood: %w", err)
	}

	if len(related) < 2 {
		return &DiversityResult{
			RelatedConceptCount: len(related),
			CalculationTimeMS:   time.Since(start).Milliseconds(),
			Interpretation:      "Insufficient related concepts (need at least 2)",
		}, nil
	}

	var embeddings [][]float32
	for _, rc := range related {
		emb, err := an.store.GetConceptEmbedding(ctx, rc.Concept.ConceptID)
		if err != nil {
			continue
		}
		embeddings = append(embeddings, emb)
	}
	if len(embeddings) < 2 {
		return &DiversityResult{
			RelatedConceptCount: len(related),
			CalculationTimeMS:   time.Since(start).Milliseconds(),
			Interpretation:      "Related concepts missing embeddings",
		}, nil
	}

	var sims []float64
	for i := 0; i < len(embeddings); i++ {
		for j := i + 1; j < len(embeddings); j++ {
			sims = append(sims, vocab.Cosine(embeddings[i], embeddings[j]))
		}
	}

	avgSim := stat.Mean(sims, nil)
	score := 1 - avgSim

	res := &DiversityResult{
		DiversityScore:        &score,
		RelatedConceptCount:   len(embeddings),
		AvgPairwiseSimilarity: &avgSim,
		Sampled:               len(related) >= limit,
		CalculationTimeMS:     time.Since(start).Milliseconds(),
		Interpretation:        interpretDiversity(score),
	}
	if opts.Grounding != nil {
		sign := 1.0
		if *opts.Grounding < 0 {
			sign = -1.0
		}
		auth := sign * score
		res.AuthenticatedDiversity = &auth
	}

	slog.Info("analysis: diversity calculated",
		"concept_id", conceptID,
		"score", score,
		"related", len(embeddings),
		"duration_ms", res.CalculationTimeMS)
	return res, nil
}

// interpretDiversity maps the score to the calibrated bands.
func interpretDiversity(score float64) string {
	switch {
	case score > 0.6:
		return "Very high diversity (strong signal of authentic/independent sources)"
	case score > 0.4:
		return "High diversity (likely independent sources)"
	case score > 0.2:
		return "Moderate diversity (some variation)"
	case score > 0.1:
		return "Low diversity (similar/repetitive evidence)"
	default:
		return "Very low diversity (likely synthetic/single-source)"
	}
}

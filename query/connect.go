package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mleroux/kgraph/graph"
)

// nearMissProbe is how many hits the phrase resolver fetches: enough
// to count near-misses when the best hit falls under the threshold.
const nearMissProbe = 5

// ConnectOptions configures connection search between two phrases.
type ConnectOptions struct {
	MaxHops       int
	MinSimilarity float64
	Ontology      string
}

// NoMatchError reports a phrase that resolved to no concept above the
// threshold. When near-misses exist it carries the threshold that
// would surface them.
type NoMatchError struct {
	Query              string  `json:"query"`
	Threshold          float64 `json:"threshold"`
	NearMisses         int     `json:"near_misses"`
	SuggestedThreshold float64 `json:"suggested_threshold,omitempty"`
}

func (e *NoMatchError) Error() string {
	pct := int(e.Threshold * 100)
	if e.NearMisses == 0 {
		return fmt.Sprintf("No concepts found matching '%s' at %d%% similarity", e.Query, pct)
	}
	plural := ""
	if e.NearMisses != 1 {
		plural = "s"
	}
	return fmt.Sprintf("No concepts found matching '%s' at %d%% similarity. Try: --min-similarity %.2f (%d near-miss concept%s available)",
		e.Query, pct, e.SuggestedThreshold, e.NearMisses, plural)
}

// MatchedConcept is the concept a search phrase resolved to.
type MatchedConcept struct {
	ConceptID  string  `json:"concept_id"`
	Label      string  `json:"label"`
	Similarity float64 `json:"similarity"`
}

// ConnectionResult is the outcome of a connect-by-search: both
// resolved endpoints and the shortest paths between them.
type ConnectionResult struct {
	From      MatchedConcept `json:"from"`
	To        MatchedConcept `json:"to"`
	Paths     []graph.Path   `json:"paths"`
	PathCount int            `json:"path_count"`
	MaxHops   int            `json:"max_hops"`
}

// FindConnectionBySearch resolves two phrases to their best-matching
// concepts and pathfinds between them. Either phrase failing to clear
// the threshold returns a *NoMatchError.
func (e *Engine) FindConnectionBySearch(ctx context.Context, fromQuery, toQuery string, opts ConnectOptions) (*ConnectionResult, error) {
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = defaultMinSimilarity
	}
	if opts.MaxHops <= 0 {
		opts.MaxHops = 5
	}

	from, err := e.resolvePhrase(ctx, fromQuery, opts)
	if err != nil {
		return nil, err
	}
	to, err := e.resolvePhrase(ctx, toQuery, opts)
	if err != nil {
		return nil, err
	}

	paths, err := e.trav.FindPaths(ctx, from.ConceptID, to.ConceptID, graph.PathOptions{MaxHops: opts.MaxHops})
	if err != nil {
		return nil, fmt.Errorf("query: find paths: %w", err)
	}
	if paths == nil {
		paths = []graph.Path{}
	}

	slog.Info("query: connection by search",
		"from", from.Label,
		"to", to.Label,
		"paths", len(paths))
	return &ConnectionResult{
		From:      from,
		To:        to,
		Paths:     paths,
		PathCount: len(paths),
		MaxHops:   opts.MaxHops,
	}, nil
}

// resolvePhrase embeds a phrase and picks the best concept at or above
// the threshold. On a miss it counts near-misses down at the floor so
// the error can suggest a workable threshold.
func (e *Engine) resolvePhrase(ctx context.Context, phrase string, opts ConnectOptions) (MatchedConcept, error) {
	emb, err := e.embedder.EmbedOne(ctx, phrase)
	if err != nil {
		return MatchedConcept{}, fmt.Errorf("query: embed %q: %w", phrase, err)
	}

	hits, err := e.store.VectorSearchConcepts(ctx, emb, nearMissProbe, opts.Ontology)
	if err != nil {
		return MatchedConcept{}, fmt.Errorf("query: vector search: %w", err)
	}

	if len(hits) > 0 && hits[0].Score >= opts.MinSimilarity {
		best := hits[0]
		return MatchedConcept{ConceptID: best.ConceptID, Label: best.Label, Similarity: best.Score}, nil
	}

	nm := &NoMatchError{Query: phrase, Threshold: opts.MinSimilarity}
	for _, h := range hits {
		if h.Score >= hintFloor && h.Score < opts.MinSimilarity {
			nm.NearMisses++
		}
	}
	if nm.NearMisses > 0 {
		// Hits are similarity-ordered; the best near-miss leads.
		nm.SuggestedThreshold = roundTo(hits[0].Score-0.02, 2)
	}
	return MatchedConcept{}, nm
}

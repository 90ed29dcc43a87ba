package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/mleroux/kgraph/analysis"
	"github.com/mleroux/kgraph/store"
)

// SearchOptions configures a semantic concept search.
type SearchOptions struct {
	Ontology         string
	Limit            int
	MinSimilarity    float64
	Offset           int
	IncludeGrounding bool
	IncludeEvidence  bool
	IncludeDiversity bool
}

// EvidenceSample is one evidence quote with enough provenance to find
// it again.
type EvidenceSample struct {
	Quote     string `json:"quote"`
	Document  string `json:"document"`
	Paragraph int    `json:"paragraph"`
	SourceID  string `json:"source_id"`
}

// ConceptResult is one enriched search hit.
type ConceptResult struct {
	ConceptID      string                    `json:"concept_id"`
	Label          string                    `json:"label"`
	Description    string                    `json:"description,omitempty"`
	Ontology       string                    `json:"ontology"`
	Similarity     float64                   `json:"similarity"`
	Documents      []string                  `json:"documents"`
	EvidenceCount  int                       `json:"evidence_count"`
	Grounding      *float64                  `json:"grounding,omitempty"`
	Diversity      *analysis.DiversityResult `json:"diversity,omitempty"`
	SampleEvidence []EvidenceSample          `json:"sample_evidence,omitempty"`
}

// SearchResponse is the concept search result page. When the threshold
// starved the result set, the below-threshold fields tell the caller
// what a lower threshold would have found.
type SearchResponse struct {
	Query               string          `json:"query"`
	Count               int             `json:"count"`
	Results             []ConceptResult `json:"results"`
	ThresholdUsed       float64         `json:"threshold_used"`
	Offset              int             `json:"offset"`
	BelowThresholdCount int             `json:"below_threshold_count,omitempty"`
	SuggestedThreshold  *float64        `json:"suggested_threshold,omitempty"`
	TopMatch            *ConceptResult  `json:"top_match,omitempty"`
}

// SearchConcepts embeds the query and returns concepts above the
// similarity threshold, paginated and enriched per the options.
func (e *Engine) SearchConcepts(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultSearchLimit
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = defaultMinSimilarity
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}

	start := time.Now()
	emb, err := e.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: embed %q: %w", query, err)
	}

	// Fetch past the page so threshold filtering cannot starve it.
	fetch := opts.Limit + opts.Offset + defaultSearchLimit
	hits, err := e.store.VectorSearchConcepts(ctx, emb, fetch, opts.Ontology)
	if err != nil {
		return nil, fmt.Errorf("query: vector search: %w", err)
	}

	var above []store.ConceptHit
	for _, h := range hits {
		if h.Score >= opts.MinSimilarity {
			above = append(above, h)
		}
	}

	page := paginate(above, opts.Offset, opts.Limit)
	results := make([]ConceptResult, 0, len(page))
	for _, h := range page {
		results = append(results, e.enrichHit(ctx, h, opts))
	}

	resp := &SearchResponse{
		Query:         query,
		Count:         len(results),
		Results:       results,
		ThresholdUsed: opts.MinSimilarity,
		Offset:        opts.Offset,
	}

	// A starved page gets a second-chance probe at the floor so the
	// caller learns what threshold would have matched.
	if len(results) < 3 && opts.MinSimilarity > hintFloor {
		e.thresholdHint(ctx, emb, opts, resp)
	}

	slog.Info("query: concept search",
		"query", query,
		"hits", len(results),
		"threshold", opts.MinSimilarity,
		"below_threshold", resp.BelowThresholdCount,
		"elapsed_ms", time.Since(start).Milliseconds())
	return resp, nil
}

// thresholdHint runs the floor-level probe and fills the
// below-threshold fields. The suggested threshold sits just under the
// weakest near-miss so adopting it surfaces all of them.
func (e *Engine) thresholdHint(ctx context.Context, emb []float32, opts SearchOptions, resp *SearchResponse) {
	hits, err := e.store.VectorSearchConcepts(ctx, emb, opts.Limit*2, opts.Ontology)
	if err != nil {
		slog.Warn("query: threshold hint probe failed", "error", err)
		return
	}

	var below []store.ConceptHit
	for _, h := range hits {
		if h.Score >= hintFloor && h.Score < opts.MinSimilarity {
			below = append(below, h)
		}
	}
	if len(below) == 0 {
		return
	}

	resp.BelowThresholdCount = len(below)

	weakest, best := below[0], below[0]
	for _, h := range below[1:] {
		if h.Score < weakest.Score {
			weakest = h
		}
		if h.Score > best.Score {
			best = h
		}
	}
	suggested := roundTo(weakest.Score-0.02, 2)
	resp.SuggestedThreshold = &suggested

	top := e.enrichHit(ctx, best, opts)
	resp.TopMatch = &top
}

// enrichHit hydrates one vector hit. Documents and evidence counts are
// cheap and always included; grounding, diversity, and sample quotes
// hang off the options. Enrichment failures degrade with a warning
// rather than sinking the whole search.
func (e *Engine) enrichHit(ctx context.Context, h store.ConceptHit, opts SearchOptions) ConceptResult {
	r := ConceptResult{
		ConceptID:   h.ConceptID,
		Label:       h.Label,
		Description: h.Description,
		Ontology:    h.Ontology,
		Similarity:  h.Score,
		Documents:   []string{},
	}

	docs, err := e.store.DocumentsForConcept(ctx, h.ConceptID)
	if err != nil {
		slog.Warn("query: document lookup failed", "concept", h.ConceptID, "error", err)
	} else if docs != nil {
		r.Documents = docs
	}

	instances, err := e.store.ListInstancesByConcept(ctx, h.ConceptID)
	if err != nil {
		slog.Warn("query: evidence lookup failed", "concept", h.ConceptID, "error", err)
	}
	r.EvidenceCount = len(instances)

	if opts.IncludeEvidence {
		for i, inst := range instances {
			if i >= maxSampleEvidence {
				break
			}
			r.SampleEvidence = append(r.SampleEvidence, EvidenceSample{
				Quote:     inst.Quote,
				Document:  inst.Document,
				Paragraph: inst.Paragraph,
				SourceID:  inst.SourceID,
			})
		}
	}

	if opts.IncludeGrounding || opts.IncludeDiversity {
		g := e.grounding(ctx, h.ConceptID)
		if opts.IncludeGrounding {
			r.Grounding = g
		}
		if opts.IncludeDiversity {
			div, err := e.analyzer.Diversity(ctx, h.ConceptID, analysis.DiversityOptions{Grounding: g})
			if err != nil {
				slog.Warn("query: diversity failed", "concept", h.ConceptID, "error", err)
			} else {
				r.Diversity = div
			}
		}
	}

	return r
}

func paginate(hits []store.ConceptHit, offset, limit int) []store.ConceptHit {
	if offset >= len(hits) {
		return nil
	}
	end := min(offset+limit, len(hits))
	return hits[offset:end]
}

// --- Source search ---

// SourceSearchOptions configures chunk-level semantic search.
type SourceSearchOptions struct {
	Ontology        string
	Limit           int
	MinSimilarity   float64
	IncludeConcepts bool
	IncludeFullText bool
}

// SourceResult is one matched source chunk. MatchedChunk is the
// excerpt most relevant to the query; the full text rides along only
// when asked for.
type SourceResult struct {
	SourceID     string                `json:"source_id"`
	Document     string                `json:"document"`
	Paragraph    int                   `json:"paragraph"`
	Similarity   float64               `json:"similarity"`
	MatchedChunk string                `json:"matched_chunk"`
	FullText     string                `json:"full_text,omitempty"`
	Concepts     []store.SourceConcept `json:"concepts,omitempty"`
}

// SourceSearchResponse is the source search result set.
type SourceSearchResponse struct {
	Query         string         `json:"query"`
	Count         int            `json:"count"`
	Results       []SourceResult `json:"results"`
	ThresholdUsed float64        `json:"threshold_used"`
}

// SearchSources finds source chunks semantically related to the query.
// Chunks carry no embeddings of their own; they are scored through the
// concepts extracted from them, so a chunk matches as well as its
// best-matching concept.
func (e *Engine) SearchSources(ctx context.Context, query string, opts SourceSearchOptions) (*SourceSearchResponse, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultSearchLimit
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = defaultMinSimilarity
	}

	start := time.Now()
	emb, err := e.embedder.EmbedOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: embed %q: %w", query, err)
	}

	// Several concepts usually point at the same chunk, so over-fetch
	// concept hits relative to the requested chunk count.
	hits, err := e.store.VectorSearchConcepts(ctx, emb, opts.Limit*4, opts.Ontology)
	if err != nil {
		return nil, fmt.Errorf("query: vector search: %w", err)
	}

	type scoredSource struct {
		src   store.Source
		score float64
	}
	bySource := make(map[string]scoredSource)
	for _, h := range hits {
		if h.Score < opts.MinSimilarity {
			continue
		}
		srcs, err := e.store.SourcesForConcept(ctx, h.ConceptID)
		if err != nil {
			slog.Warn("query: source lookup failed", "concept", h.ConceptID, "error", err)
			continue
		}
		for _, src := range srcs {
			if opts.Ontology != "" && src.Ontology != opts.Ontology {
				continue
			}
			if cur, ok := bySource[src.SourceID]; !ok || h.Score > cur.score {
				bySource[src.SourceID] = scoredSource{src: src, score: h.Score}
			}
		}
	}

	scored := make([]scoredSource, 0, len(bySource))
	for _, s := range bySource {
		scored = append(scored, s)
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].score != scored[j].score {
			return scored[i].score > scored[j].score
		}
		return scored[i].src.SourceID < scored[j].src.SourceID
	})
	if len(scored) > opts.Limit {
		scored = scored[:opts.Limit]
	}

	results := make([]SourceResult, 0, len(scored))
	for _, s := range scored {
		r := SourceResult{
			SourceID:     s.src.SourceID,
			Document:     s.src.Document,
			Paragraph:    s.src.Paragraph,
			Similarity:   s.score,
			MatchedChunk: snippetFor(s.src.FullText, query),
		}
		if opts.IncludeFullText {
			r.FullText = s.src.FullText
		}
		if opts.IncludeConcepts {
			concepts, err := e.store.ConceptsForSource(ctx, s.src.SourceID)
			if err != nil {
				slog.Warn("query: concepts-for-source failed", "source", s.src.SourceID, "error", err)
			} else {
				r.Concepts = concepts
			}
		}
		results = append(results, r)
	}

	slog.Info("query: source search",
		"query", query,
		"hits", len(results),
		"threshold", opts.MinSimilarity,
		"elapsed_ms", time.Since(start).Milliseconds())
	return &SourceSearchResponse{
		Query:         query,
		Count:         len(results),
		Results:       results,
		ThresholdUsed: opts.MinSimilarity,
	}, nil
}

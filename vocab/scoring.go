package vocab

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/mleroux/kgraph/store"
)

// Value score weights. Edge count dominates; traversal, bridge, and
// trend terms keep structurally or recently useful types alive even
// when their raw counts are small.
const (
	weightEdge      = 1.0
	weightTraversal = 0.5
	weightBridge    = 0.3
	weightTrend     = 0.2
)

// A bridge edge joins a rarely seen concept (below the source cutoff)
// to a heavily accessed one (above the destination cutoff). Types that
// carry bridges protect low-traffic knowledge from being orphaned.
const (
	bridgeSourceBelow = 10
	bridgeDestAbove   = 100
)

// trendWindowDays bounds how much traversal history feeds the trend
// term.
const trendWindowDays = 30

// TypeScore is the computed value of one relationship type.
type TypeScore struct {
	RelationshipType string  `json:"relationship_type"`
	Category         string  `json:"category,omitempty"`
	IsBuiltin        bool    `json:"is_builtin"`
	EdgeCount        int     `json:"edge_count"`
	AvgTraversal     float64 `json:"avg_traversal"`
	BridgeCount      int     `json:"bridge_count"`
	Trend            float64 `json:"trend"`
	Value            float64 `json:"value_score"`
}

// Breakdown splits a value score into its weighted components.
type Breakdown struct {
	Edge      float64 `json:"edge"`
	Traversal float64 `json:"traversal"`
	Bridge    float64 `json:"bridge"`
	Trend     float64 `json:"trend"`
	Total     float64 `json:"total"`
}

// Breakdown returns the weighted components of the score.
func (s TypeScore) Breakdown() Breakdown {
	b := Breakdown{
		Edge:      float64(s.EdgeCount) * weightEdge,
		Traversal: s.AvgTraversal / 100 * weightTraversal,
		Bridge:    float64(s.BridgeCount) / 10 * weightBridge,
		Trend:     math.Max(0, s.Trend) * weightTrend,
	}
	b.Total = b.Edge + b.Traversal + b.Bridge + b.Trend
	return b
}

// Scorer computes value scores over the live graph.
type Scorer struct {
	store *store.Store
}

// NewScorer returns a scorer bound to the store.
func NewScorer(st *store.Store) *Scorer {
	return &Scorer{store: st}
}

// ScoreAll scores every active vocabulary type.
func (sc *Scorer) ScoreAll(ctx context.Context) ([]TypeScore, error) {
	types, err := sc.store.ListVocabTypes(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list vocabulary: %w", err)
	}
	edgeCounts, err := sc.store.EdgeCountsByType(ctx)
	if err != nil {
		return nil, fmt.Errorf("edge counts: %w", err)
	}
	bridges, err := sc.store.BridgeCountsByType(ctx, bridgeSourceBelow, bridgeDestAbove)
	if err != nil {
		return nil, fmt.Errorf("bridge counts: %w", err)
	}

	scores := make([]TypeScore, 0, len(types))
	for _, t := range types {
		daily, err := sc.store.TraversalDailyCounts(ctx, t.RelationshipType, trendWindowDays)
		if err != nil {
			return nil, fmt.Errorf("traversal history for %s: %w", t.RelationshipType, err)
		}
		scores = append(scores, scoreType(t, edgeCounts[t.RelationshipType], bridges[t.RelationshipType], daily))
	}
	return scores, nil
}

// ScoreType scores a single type by name.
func (sc *Scorer) ScoreType(ctx context.Context, relationshipType string) (*TypeScore, error) {
	t, err := sc.store.GetVocabType(ctx, relationshipType)
	if err != nil {
		return nil, err
	}
	edgeCounts, err := sc.store.EdgeCountsByType(ctx)
	if err != nil {
		return nil, fmt.Errorf("edge counts: %w", err)
	}
	bridges, err := sc.store.BridgeCountsByType(ctx, bridgeSourceBelow, bridgeDestAbove)
	if err != nil {
		return nil, fmt.Errorf("bridge counts: %w", err)
	}
	daily, err := sc.store.TraversalDailyCounts(ctx, relationshipType, trendWindowDays)
	if err != nil {
		return nil, fmt.Errorf("traversal history: %w", err)
	}
	s := scoreType(*t, edgeCounts[relationshipType], bridges[relationshipType], daily)
	return &s, nil
}

func scoreType(t store.VocabType, edgeCount, bridgeCount int, daily []int) TypeScore {
	s := TypeScore{
		RelationshipType: t.RelationshipType,
		Category:         t.Category,
		IsBuiltin:        t.IsBuiltin,
		EdgeCount:        edgeCount,
		BridgeCount:      bridgeCount,
		Trend:            trendOf(daily),
	}
	if edgeCount > 0 {
		s.AvgTraversal = float64(t.TraversalCount) / float64(edgeCount)
	}
	s.Value = s.Breakdown().Total
	return s
}

// trendOf turns daily traversal counts into a growth proxy. Higher
// average with higher variation reads as active, spiky usage; graphs
// track traversal differentials rather than wall-clock recency.
func trendOf(daily []int) float64 {
	if len(daily) == 0 {
		return 0
	}
	xs := make([]float64, len(daily))
	for i, d := range daily {
		xs[i] = float64(d)
	}
	avg := stat.Mean(xs, nil)
	if avg <= 0 {
		return 0
	}
	variation := 0.0
	if len(xs) > 1 {
		variation = stat.StdDev(xs, nil)
	}
	return (avg / 10) * (1 + variation/100)
}

// LowValue filters non-builtin types scoring below threshold, lowest
// first. Builtins are never pruning candidates.
func LowValue(scores []TypeScore, threshold float64) []TypeScore {
	var out []TypeScore
	for _, s := range scores {
		if s.IsBuiltin || s.Value >= threshold {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Value < out[j].Value })
	return out
}

// ZeroEdge filters non-builtin types with no edges at all. Pruning
// these loses nothing.
func ZeroEdge(scores []TypeScore) []TypeScore {
	var out []TypeScore
	for _, s := range scores {
		if !s.IsBuiltin && s.EdgeCount == 0 {
			out = append(out, s)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Embedding math
// ---------------------------------------------------------------------------

// Cosine is the cosine similarity of two embedding vectors. Mismatched
// or zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Grounding scores an embedding against the evidential poles: its
// similarity to SUPPORTS minus its similarity to CONTRADICTS, clamped
// to [-1,1]. Positive means the embedding leans affirmative.
func Grounding(emb, supports, contradicts []float32) float64 {
	g := Cosine(emb, supports) - Cosine(emb, contradicts)
	if g > 1 {
		return 1
	}
	if g < -1 {
		return -1
	}
	return g
}

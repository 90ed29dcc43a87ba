// Package analysis runs embedding-space analytics over the concept
// graph: polarity-axis projection (where concepts sit between two
// opposing poles) and semantic diversity (how independent a concept's
// neighborhood is).
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/mleroux/kgraph/graph"
	"github.com/mleroux/kgraph/store"
	"github.com/mleroux/kgraph/vocab"
)

// ErrDegenerateAxis is returned when the two pole embeddings are nearly
// identical and no meaningful axis exists between them.
var ErrDegenerateAxis = errors.New("analysis: polarity poles too similar")

// Axis thresholds.
const (
	// minAxisMagnitude rejects degenerate pole pairs.
	minAxisMagnitude = 1e-8
	// directionBand is the neutral zone around the axis midpoint.
	directionBand = 0.3
	// strongAxisMagnitude separates strong axes from weak ones.
	strongAxisMagnitude = 0.8
)

// Analyzer computes polarity and diversity analytics. It reads concept
// embeddings from the store and walks neighborhoods through the
// traverser.
type Analyzer struct {
	store *store.Store
	trav  *graph.Traverser
}

// NewAnalyzer creates an analyzer over a store and traverser.
func NewAnalyzer(s *store.Store, t *graph.Traverser) *Analyzer {
	return &Analyzer{store: s, trav: t}
}

// ---------------------------------------------------------------------------
// Axis math

// Axis is a bidirectional semantic dimension between two pole
// embeddings. The vector points from the negative pole toward the
// positive pole and has unit length; Magnitude is the full semantic
// distance between the poles.
type Axis struct {
	vector    []float64
	negOrigin []float64
	posUnit   []float64
	negUnit   []float64

	Magnitude float64
}

// NewAxis builds the axis between two pole embeddings. Fails when the
// poles are so close that the gradient is numerically zero.
func NewAxis(positive, negative []float32) (*Axis, error) {
	if len(positive) == 0 || len(negative) == 0 || len(positive) != len(negative) {
		return nil, fmt.Errorf("analysis: pole embeddings must be non-empty and same length, got %d and %d",
			len(positive), len(negative))
	}

	gradient := make([]float64, len(positive))
	var norm float64
	for i := range positive {
		gradient[i] = float64(positive[i]) - float64(negative[i])
		norm += gradient[i] * gradient[i]
	}
	norm = math.Sqrt(norm)
	if norm < minAxisMagnitude {
		return nil, fmt.Errorf("%w: magnitude %.2e", ErrDegenerateAxis, norm)
	}

	a := &Axis{
		vector:    gradient,
		negOrigin: toFloat64(negative),
		posUnit:   unit(toFloat64(positive)),
		negUnit:   unit(toFloat64(negative)),
		Magnitude: norm,
	}
	for i := range a.vector {
		a.vector[i] /= norm
	}
	return a, nil
}

// Quality labels the axis by its magnitude. Short axes between
// near-synonymous poles produce unstable projections.
func (a *Axis) Quality() string {
	if a.Magnitude > strongAxisMagnitude {
		return "strong"
	}
	return "weak"
}

// Projection is one concept's placement on an axis.
type Projection struct {
	// Position in [-1, 1]: -1 at the negative pole, +1 at the positive
	// pole, 0 at the midpoint.
	Position float64 `json:"position"`
	// RawProjection is the unnormalized scalar projection measured from
	// the negative pole.
	RawProjection float64 `json:"raw_projection"`
	// AxisDistance is the orthogonal distance off the axis.
	AxisDistance float64 `json:"axis_distance"`
	// Direction is "positive", "negative", or "neutral".
	Direction string `json:"direction"`

	SimilarityToPositive float64 `json:"similarity_to_positive"`
	SimilarityToNegative float64 `json:"similarity_to_negative"`
}

// Project places one embedding on the axis.
func (a *Axis) Project(emb []float32) Projection {
	// Vector from the negative pole to the concept.
	cv := make([]float64, len(a.vector))
	for i := range cv {
		cv[i] = float64(emb[i]) - a.negOrigin[i]
	}

	var scalar float64
	for i := range cv {
		scalar += cv[i] * a.vector[i]
	}
	// Concepts beyond a pole clamp to the pole. Position is a reading
	// inside the pole interval, not an open-ended coordinate.
	position := (scalar/a.Magnitude)*2 - 1
	position = math.Max(-1, math.Min(1, position))

	var orth float64
	for i := range cv {
		d := cv[i] - scalar*a.vector[i]
		orth += d * d
	}

	direction := "neutral"
	switch {
	case position > directionBand:
		direction = "positive"
	case position < -directionBand:
		direction = "negative"
	}

	cu := unit(toFloat64(emb))
	return Projection{
		Position:             position,
		RawProjection:        scalar,
		AxisDistance:         math.Sqrt(orth),
		Direction:            direction,
		SimilarityToPositive: dot(cu, a.posUnit),
		SimilarityToNegative: dot(cu, a.negUnit),
	}
}

// ---------------------------------------------------------------------------
// Full axis analysis

// PolarityRequest selects the poles and candidates for an axis analysis.
type PolarityRequest struct {
	PositivePoleID string `json:"positive_pole_id"`
	NegativePoleID string `json:"negative_pole_id"`

	// CandidateIDs projects exactly these concepts. When empty and
	// AutoDiscover is set, candidates come from graph traversal around
	// the poles.
	CandidateIDs []string `json:"candidate_ids,omitempty"`
	AutoDiscover bool     `json:"auto_discover"`

	// MaxCandidates bounds auto-discovery (default 20; discovery may
	// return up to twice this to absorb pole-neighborhood overlap).
	MaxCandidates int `json:"max_candidates,omitempty"`
	// MaxHops is the discovery horizon from either pole (default 1).
	MaxHops int `json:"max_hops,omitempty"`

	// Accepted for request compatibility; the direct query path ignores
	// them.
	UseParallel      bool    `json:"use_parallel,omitempty"`
	DiscoverySlotPct float64 `json:"discovery_slot_pct,omitempty"`
	MaxWorkers       int     `json:"max_workers,omitempty"`
	ChunkSize        int     `json:"chunk_size,omitempty"`
	TimeoutSeconds   int     `json:"timeout_seconds,omitempty"`
}

// Pole describes one end of the axis in the result.
type Pole struct {
	ConceptID   string  `json:"concept_id"`
	Label       string  `json:"label"`
	Grounding   float64 `json:"grounding"`
	Description string  `json:"description,omitempty"`
}

// AxisInfo summarizes the computed axis.
type AxisInfo struct {
	PositivePole Pole    `json:"positive_pole"`
	NegativePole Pole    `json:"negative_pole"`
	Magnitude    float64 `json:"magnitude"`
	AxisQuality  string  `json:"axis_quality"`
}

// ConceptProjection is one candidate's placement plus its grounding.
type ConceptProjection struct {
	ConceptID    string    `json:"concept_id"`
	Label        string    `json:"label"`
	Position     float64   `json:"position"`
	AxisDistance float64   `json:"axis_distance"`
	Direction    string    `json:"direction"`
	Grounding    float64   `json:"grounding"`
	Alignment    Alignment `json:"alignment"`
}

// Alignment carries the candidate's raw similarity to each pole.
type Alignment struct {
	PositivePoleSimilarity float64 `json:"positive_pole_similarity"`
	NegativePoleSimilarity float64 `json:"negative_pole_similarity"`
}

// DirectionDistribution counts candidates per direction bucket.
type DirectionDistribution struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Neutral  int `json:"neutral"`
}

// PolarityStats aggregates the projections.
type PolarityStats struct {
	TotalConcepts         int                   `json:"total_concepts"`
	PositionRange         [2]float64            `json:"position_range"`
	MeanPosition          float64               `json:"mean_position"`
	StdDeviation          float64               `json:"std_deviation"`
	MeanAxisDistance      float64               `json:"mean_axis_distance"`
	DirectionDistribution DirectionDistribution `json:"direction_distribution"`
}

// Correlation reports how axis position tracks grounding strength. A
// strong correlation marks a value-laden axis; a weak one marks a
// descriptive axis.
type Correlation struct {
	PearsonR       float64 `json:"pearson_r"`
	PValue         float64 `json:"p_value"`
	Interpretation string  `json:"interpretation"`
	Strength       string  `json:"strength,omitempty"`
	Direction      string  `json:"direction,omitempty"`
}

// PolarityResult is the full axis analysis.
type PolarityResult struct {
	Axis                 AxisInfo            `json:"axis"`
	Projections          []ConceptProjection `json:"projections"`
	Statistics           PolarityStats       `json:"statistics"`
	GroundingCorrelation Correlation         `json:"grounding_correlation"`
}

// AnalyzePolarity builds the axis between two pole concepts and
// projects candidates onto it. Candidates come from the request or from
// traversal around the poles; individual candidate failures are logged
// and skipped.
func (an *Analyzer) AnalyzePolarity(ctx context.Context, req PolarityRequest) (*PolarityResult, error) {
	maxCandidates := req.MaxCandidates
	if maxCandidates <= 0 {
		maxCandidates = 20
	}
	maxHops := req.MaxHops
	if maxHops <= 0 {
		maxHops = 1
	}

	supports, contradicts := an.evidencePoles(ctx)

	pos, posEmb, err := an.loadConcept(ctx, req.PositivePoleID, supports, contradicts)
	if err != nil {
		return nil, fmt.Errorf("analysis: positive pole: %w", err)
	}
	neg, negEmb, err := an.loadConcept(ctx, req.NegativePoleID, supports, contradicts)
	if err != nil {
		return nil, fmt.Errorf("analysis: negative pole: %w", err)
	}

	axis, err := NewAxis(posEmb, negEmb)
	if err != nil {
		return nil, err
	}
	slog.Info("analysis: polarity axis built",
		"positive", pos.Label, "negative", neg.Label,
		"magnitude", axis.Magnitude, "quality", axis.Quality())

	candidates := req.CandidateIDs
	if len(candidates) == 0 && req.AutoDiscover {
		candidates, err = an.discoverCandidates(ctx, req.PositivePoleID, req.NegativePoleID, maxCandidates, maxHops)
		if err != nil {
			return nil, err
		}
		slog.Info("analysis: discovered axis candidates", "count", len(candidates))
	}

	projections := make([]ConceptProjection, 0, len(candidates))
	for _, id := range candidates {
		c, emb, err := an.loadConcept(ctx, id, supports, contradicts)
		if err != nil {
			slog.Warn("analysis: skipping candidate", "concept_id", id, "error", err)
			continue
		}
		p := axis.Project(emb)
		projections = append(projections, ConceptProjection{
			ConceptID:    c.ConceptID,
			Label:        c.Label,
			Position:     p.Position,
			AxisDistance: p.AxisDistance,
			Direction:    p.Direction,
			Grounding:    c.Grounding,
			Alignment: Alignment{
				PositivePoleSimilarity: p.SimilarityToPositive,
				NegativePoleSimilarity: p.SimilarityToNegative,
			},
		})
	}

	return &PolarityResult{
		Axis: AxisInfo{
			PositivePole: pos,
			NegativePole: neg,
			Magnitude:    axis.Magnitude,
			AxisQuality:  axis.Quality(),
		},
		Projections:          projections,
		Statistics:           summarizeProjections(projections),
		GroundingCorrelation: groundingCorrelation(projections),
	}, nil
}

// evidencePoles fetches the SUPPORTS and CONTRADICTS embeddings used
// for grounding. Missing embeddings degrade grounding to zero rather
// than failing the analysis.
func (an *Analyzer) evidencePoles(ctx context.Context) (supports, contradicts []float32) {
	var err error
	supports, err = an.store.GetVocabEmbedding(ctx, "SUPPORTS")
	if err != nil {
		slog.Warn("analysis: SUPPORTS embedding unavailable, grounding defaults to 0", "error", err)
	}
	contradicts, err = an.store.GetVocabEmbedding(ctx, "CONTRADICTS")
	if err != nil {
		slog.Warn("analysis: CONTRADICTS embedding unavailable, grounding defaults to 0", "error", err)
	}
	return supports, contradicts
}

// loadConcept fetches a concept row, its embedding, and its grounding.
func (an *Analyzer) loadConcept(ctx context.Context, conceptID string, supports, contradicts []float32) (Pole, []float32, error) {
	c, err := an.store.GetConcept(ctx, conceptID)
	if err != nil {
		return Pole{}, nil, err
	}
	emb, err := an.store.GetConceptEmbedding(ctx, conceptID)
	if err != nil {
		return Pole{}, nil, fmt.Errorf("concept %s has no embedding: %w", conceptID, err)
	}

	grounding := 0.0
	if len(supports) > 0 && len(contradicts) > 0 {
		grounding = vocab.Grounding(emb, supports, contradicts)
	}
	return Pole{
		ConceptID:   c.ConceptID,
		Label:       c.Label,
		Grounding:   grounding,
		Description: c.Description,
	}, emb, nil
}

// discoverCandidates unions the neighborhoods of both poles, excluding
// the poles themselves and anything without an embedding. The cap is
// doubled because the two neighborhoods usually overlap.
func (an *Analyzer) discoverCandidates(ctx context.Context, posID, negID string, maxCandidates, maxHops int) ([]string, error) {
	limit := maxCandidates * 2
	seen := map[string]bool{posID: true, negID: true}
	var out []string

	for _, pole := range []string{posID, negID} {
		related, err := an.trav.Related(ctx, pole, graph.RelatedOptions{
			MaxDepth: maxHops,
			Limit:    limit,
		})
		if err != nil {
			return nil, fmt.Errorf("analysis: discovering candidates from %s: %w", pole, err)
		}
		for _, rc := range related {
			if seen[rc.Concept.ConceptID] {
				continue
			}
			seen[rc.Concept.ConceptID] = true
			if _, err := an.store.GetConceptEmbedding(ctx, rc.Concept.ConceptID); err != nil {
				continue
			}
			out = append(out, rc.Concept.ConceptID)
			if len(out) >= limit {
				return out, nil
			}
		}
	}
	return out, nil
}

// summarizeProjections aggregates positions, distances, and direction
// buckets.
func summarizeProjections(projections []ConceptProjection) PolarityStats {
	st := PolarityStats{TotalConcepts: len(projections)}
	if len(projections) == 0 {
		return st
	}

	positions := make([]float64, len(projections))
	distances := make([]float64, len(projections))
	for i, p := range projections {
		positions[i] = p.Position
		distances[i] = p.AxisDistance
		switch p.Direction {
		case "positive":
			st.DirectionDistribution.Positive++
		case "negative":
			st.DirectionDistribution.Negative++
		default:
			st.DirectionDistribution.Neutral++
		}
	}

	minPos, maxPos := positions[0], positions[0]
	for _, p := range positions[1:] {
		minPos = math.Min(minPos, p)
		maxPos = math.Max(maxPos, p)
	}

	st.PositionRange = [2]float64{minPos, maxPos}
	st.MeanPosition = stat.Mean(positions, nil)
	st.StdDeviation = stat.PopStdDev(positions, nil)
	st.MeanAxisDistance = stat.Mean(distances, nil)
	return st
}

// groundingCorrelation computes Pearson r between axis positions and
// grounding strengths, with a two-sided p-value from the t distribution.
func groundingCorrelation(projections []ConceptProjection) Correlation {
	if len(projections) < 3 {
		return Correlation{
			PearsonR:       0,
			PValue:         1,
			Interpretation: "Insufficient data for correlation (need >=3 concepts)",
		}
	}

	positions := make([]float64, len(projections))
	groundings := make([]float64, len(projections))
	for i, p := range projections {
		positions[i] = p.Position
		groundings[i] = p.Grounding
	}

	r := stat.Correlation(positions, groundings, nil)
	if math.IsNaN(r) {
		// Zero variance on one side; no correlation is defined.
		return Correlation{
			PearsonR:       0,
			PValue:         1,
			Interpretation: "No correlation between axis position and grounding",
			Strength:       "weak",
			Direction:      "none",
		}
	}

	strength := "Weak"
	switch {
	case math.Abs(r) > 0.7:
		strength = "Strong"
	case math.Abs(r) > 0.4:
		strength = "Moderate"
	}

	var direction, interpretation string
	switch {
	case r > 0:
		direction = "positive"
		interpretation = fmt.Sprintf("%s positive correlation: concepts toward positive pole have higher grounding", strength)
	case r < 0:
		direction = "negative"
		interpretation = fmt.Sprintf("%s negative correlation: concepts toward negative pole have higher grounding", strength)
	default:
		direction = "none"
		interpretation = "No correlation between axis position and grounding"
	}

	return Correlation{
		PearsonR:       r,
		PValue:         pearsonPValue(r, len(projections)),
		Interpretation: interpretation,
		Strength:       strings.ToLower(strength),
		Direction:      direction,
	}
}

// pearsonPValue is the two-sided p-value for Pearson r under the null
// hypothesis of no correlation, via the t distribution with n-2 degrees
// of freedom.
func pearsonPValue(r float64, n int) float64 {
	if n < 3 {
		return 1
	}
	denom := 1 - r*r
	if denom <= 0 {
		return 0
	}
	t := math.Abs(r) * math.Sqrt(float64(n-2)/denom)
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(n - 2)}
	return 2 * dist.Survival(t)
}

// ---------------------------------------------------------------------------
// small vector helpers

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func unit(v []float64) []float64 {
	var norm float64
	for _, x := range v {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

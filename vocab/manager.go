package vocab

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/mleroux/kgraph/llm"
	"github.com/mleroux/kgraph/store"
)

var (
	// ErrBlocked is returned when the vocabulary has reached the
	// emergency limit and refuses new types.
	ErrBlocked = errors.New("vocab: vocabulary at emergency capacity")

	// ErrExpansionDisabled is returned when auto-expansion is turned
	// off and a label has no canonical match.
	ErrExpansionDisabled = errors.New("vocab: auto-expansion disabled")
)

// epistemicSampleLimit bounds how many edges feed a type's grounding
// classification.
const epistemicSampleLimit = 50

// Epistemic status values, derived from average grounding.
const (
	EpistemicAffirmative   = "AFFIRMATIVE"
	EpistemicContested     = "CONTESTED"
	EpistemicUnclassified  = "UNCLASSIFIED"
	EpistemicContradictory = "CONTRADICTORY"
	EpistemicInsufficient  = "INSUFFICIENT_DATA"
	EpistemicHistorical    = "HISTORICAL"
)

// Manager owns the vocabulary lifecycle: seeding, auto-expansion
// during ingestion, health analysis, and the consolidation loop.
type Manager struct {
	store    *store.Store
	provider llm.Provider
}

// NewManager returns a manager over the store using the provider for
// embeddings and merge judgments.
func NewManager(st *store.Store, provider llm.Provider) *Manager {
	return &Manager{store: st, provider: provider}
}

// DefaultConfig returns the seeded vocabulary configuration.
func DefaultConfig() store.VocabConfig {
	return store.VocabConfig{
		VocabMin:                         30,
		VocabMax:                         90,
		VocabEmergency:                   300,
		PruningMode:                      string(ModeHITL),
		AggressivenessProfile:            "aggressive",
		AutoExpandEnabled:                true,
		SynonymThresholdStrong:           StrongThreshold,
		SynonymThresholdModerate:         ModerateThreshold,
		LowValueThreshold:                1.0,
		ConsolidationSimilarityThreshold: 0.90,
	}
}

// Seed writes the builtin types, categories, curve profiles, and
// default configuration. Idempotent: existing rows are left alone.
func (m *Manager) Seed(ctx context.Context) error {
	for _, b := range builtins {
		_, _, err := m.store.UpsertVocabType(ctx, store.VocabType{
			RelationshipType: b.Name,
			Description:      b.Description,
			Category:         b.Category,
			IsBuiltin:        true,
		})
		if err != nil {
			return fmt.Errorf("seed type %s: %w", b.Name, err)
		}
	}
	for name, desc := range categories {
		if err := m.store.SeedCategory(ctx, name, desc); err != nil {
			return fmt.Errorf("seed category %s: %w", name, err)
		}
	}
	for _, p := range BuiltinProfiles() {
		if err := m.store.SeedProfile(ctx, p); err != nil {
			return fmt.Errorf("seed profile %s: %w", p.ProfileName, err)
		}
	}
	if err := m.store.SeedVocabConfig(ctx, DefaultConfig()); err != nil {
		return fmt.Errorf("seed config: %w", err)
	}
	return nil
}

// DescriptiveText renders a type as prose for embedding generation.
func DescriptiveText(name, description string) string {
	if description != "" {
		return name + ": " + description
	}
	return "relationship type: " + strings.ToLower(strings.ReplaceAll(name, "_", " "))
}

// ---------------------------------------------------------------------------
// Analysis
// ---------------------------------------------------------------------------

// Analysis is a vocabulary health snapshot.
type Analysis struct {
	Size           int               `json:"size"`
	Config         store.VocabConfig `json:"config"`
	Aggressiveness float64           `json:"aggressiveness"`
	Zone           string            `json:"zone"`
	Scores         []TypeScore       `json:"scores"`
	Synonyms       []Candidate       `json:"synonyms"`
	LowValue       []TypeScore       `json:"low_value"`
	ZeroEdge       []TypeScore       `json:"zero_edge"`
	Categories     map[string]int    `json:"categories"`
}

// Analyze computes the current vocabulary health: size against the
// configured thresholds, per-type value scores, synonym candidates,
// and pruning candidates.
func (m *Manager) Analyze(ctx context.Context) (*Analysis, error) {
	cfg, err := m.store.GetVocabConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("vocab config: %w", err)
	}
	size, err := m.store.CountActiveVocabTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("vocab size: %w", err)
	}

	curve := m.curveFor(ctx, cfg.AggressivenessProfile)
	aggr, zone := Aggressiveness(size, cfg.VocabMin, cfg.VocabMax, cfg.VocabEmergency, curve)

	scores, err := NewScorer(m.store).ScoreAll(ctx)
	if err != nil {
		return nil, err
	}
	embeddings, err := m.store.AllVocabEmbeddings(ctx)
	if err != nil {
		return nil, fmt.Errorf("vocab embeddings: %w", err)
	}

	byCategory := make(map[string]int)
	for _, s := range scores {
		cat := s.Category
		if cat == "" {
			cat = CategoryLLMGenerated
		}
		byCategory[cat]++
	}

	return &Analysis{
		Size:           size,
		Config:         *cfg,
		Aggressiveness: aggr,
		Zone:           zone,
		Scores:         scores,
		Synonyms:       FindSynonyms(embeddings, cfg.SynonymThresholdModerate),
		LowValue:       LowValue(scores, cfg.LowValueThreshold),
		ZeroEdge:       ZeroEdge(scores),
		Categories:     byCategory,
	}, nil
}

// curveFor loads a stored profile, falling back to the builtin
// aggressive curve when missing.
func (m *Manager) curveFor(ctx context.Context, profile string) *CubicBezier {
	p, err := m.store.GetProfile(ctx, profile)
	if err != nil {
		slog.Warn("vocab: unknown aggressiveness profile, using aggressive", "profile", profile)
		return NewCubicBezier(0.1, 0.0, 0.9, 1.0)
	}
	return CurveFor(*p)
}

// ---------------------------------------------------------------------------
// Auto-expansion
// ---------------------------------------------------------------------------

// EnsureResult reports how a label was resolved.
type EnsureResult struct {
	Type     string  `json:"type"`
	Category string  `json:"category,omitempty"`
	Created  bool    `json:"created"`
	Score    float64 `json:"score"`
}

// EnsureType resolves a free-form relationship label to a vocabulary
// type, normalizing onto the existing vocabulary first and
// auto-expanding when nothing matches. Expansion embeds the new type
// synchronously so later chunks of the same document can match it, and
// is refused outright at the emergency size limit.
func (m *Manager) EnsureType(ctx context.Context, label string) (*EnsureResult, error) {
	types, err := m.store.ListVocabTypes(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list vocabulary: %w", err)
	}

	if match, ok := NewNormalizer(types).Normalize(label); ok {
		return &EnsureResult{Type: match.Type, Category: match.Category, Score: match.Score}, nil
	}

	name, err := NormalizeTypeName(label)
	if err != nil {
		return nil, err
	}

	cfg, err := m.store.GetVocabConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("vocab config: %w", err)
	}
	if !cfg.AutoExpandEnabled {
		return nil, fmt.Errorf("%w: no match for %q", ErrExpansionDisabled, label)
	}

	size := len(types)
	curve := m.curveFor(ctx, cfg.AggressivenessProfile)
	if _, zone := Aggressiveness(size, cfg.VocabMin, cfg.VocabMax, cfg.VocabEmergency, curve); zone == ZoneBlock {
		return nil, fmt.Errorf("%w: %d active types", ErrBlocked, size)
	}

	_, created, err := m.store.UpsertVocabType(ctx, store.VocabType{
		RelationshipType: name,
		Description:      "LLM-generated relationship type from ingestion",
		Category:         CategoryLLMGenerated,
	})
	if err != nil {
		return nil, fmt.Errorf("insert type %s: %w", name, err)
	}
	if !created {
		// Raced with another chunk, or the sanitized name collided
		// with an inactive type. Use whatever is there.
		existing, err := m.store.GetVocabType(ctx, name)
		if err != nil {
			return nil, err
		}
		return &EnsureResult{Type: existing.RelationshipType, Category: existing.Category, Score: 1.0}, nil
	}

	result := &EnsureResult{Type: name, Category: CategoryLLMGenerated, Created: true, Score: 1.0}
	slog.Info("vocab: new relationship type accepted", "type", name)

	emb := m.embedType(ctx, name, "")
	if emb == nil {
		return result, nil
	}
	if cat := m.categorize(ctx, name, emb); cat != "" {
		result.Category = cat
	}
	return result, nil
}

// embedType generates and stores an embedding for a type. Best effort:
// a failure leaves the type pending for the embedding worker.
func (m *Manager) embedType(ctx context.Context, name, description string) []float32 {
	vecs, err := m.provider.Embed(ctx, []string{DescriptiveText(name, description)})
	if err != nil || len(vecs) == 0 {
		slog.Warn("vocab: synchronous embedding failed, leaving pending", "type", name, "error", err)
		return nil
	}
	if err := m.store.SetVocabEmbedding(ctx, name, vecs[0]); err != nil {
		slog.Warn("vocab: storing embedding failed", "type", name, "error", err)
		return nil
	}
	return vecs[0]
}

// categorize places a freshly embedded type, returning the assigned
// category or "" when below the confidence floor.
func (m *Manager) categorize(ctx context.Context, name string, emb []float32) string {
	embeddings, err := m.store.AllVocabEmbeddings(ctx)
	if err != nil {
		return ""
	}
	cat := NewCategorizer(embeddings)
	if !cat.Ready() {
		return ""
	}
	assignment, err := cat.Assign(name, emb)
	if err != nil || assignment.Category == "" {
		return ""
	}
	if err := m.store.SetVocabCategory(ctx, name, assignment.Category); err != nil {
		slog.Warn("vocab: category update failed", "type", name, "error", err)
		return ""
	}
	slog.Debug("vocab: type categorized",
		"type", name, "category", assignment.Category,
		"confidence", assignment.Confidence, "ambiguous", assignment.Ambiguous)
	return assignment.Category
}

// ---------------------------------------------------------------------------
// Consolidation
// ---------------------------------------------------------------------------

// ConsolidateResult summarizes one consolidation run.
type ConsolidateResult struct {
	InitialSize  int              `json:"initial_size"`
	FinalSize    int              `json:"final_size"`
	Iterations   int              `json:"iterations"`
	AutoExecuted []Recommendation `json:"auto_executed"`
	NeedsReview  []Recommendation `json:"needs_review"`
	Rejected     []Recommendation `json:"rejected"`
}

// Consolidate shrinks the vocabulary toward target by merging synonym
// pairs one at a time. Each iteration recomputes scores and candidates
// because every executed merge changes both; candidates are ranked by
// priority = similarity*2 - min(edge_count)/100, preferring confident
// merges of lightly used types. mode overrides the configured pruning
// mode when non-empty. The loop stops at target size, when candidates
// run out, or at the iteration cap.
func (m *Manager) Consolidate(ctx context.Context, target int, mode Mode) (*ConsolidateResult, error) {
	cfg, err := m.store.GetVocabConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("vocab config: %w", err)
	}
	if mode == "" {
		mode = Mode(cfg.PruningMode)
	}
	strategy, err := NewStrategy(mode, m.provider)
	if err != nil {
		return nil, err
	}

	types, err := m.store.ListVocabTypes(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list vocabulary: %w", err)
	}
	descriptions := make(map[string]string, len(types))
	for _, t := range types {
		descriptions[t.RelationshipType] = t.Description
	}
	strategy.Descriptions = descriptions

	initial := len(types)
	if target <= 0 {
		target = cfg.VocabMax
	}
	iterCap := max(10, initial/2)

	result := &ConsolidateResult{InitialSize: initial, FinalSize: initial}
	processed := make(map[string]bool)
	scorer := NewScorer(m.store)

	slog.Info("vocab: consolidation started",
		"initial_size", initial, "target", target, "mode", string(mode), "iteration_cap", iterCap)

	for result.Iterations < iterCap {
		size, err := m.store.CountActiveVocabTypes(ctx)
		if err != nil {
			return nil, fmt.Errorf("vocab size: %w", err)
		}
		result.FinalSize = size
		if size <= target {
			break
		}

		cand, scores, ok, err := m.nextCandidate(ctx, scorer, cfg.ConsolidationSimilarityThreshold, processed)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		result.Iterations++
		processed[pairKey(cand.TypeA, cand.TypeB)] = true

		rec := strategy.EvaluateSynonym(ctx, cand, scores[cand.TypeA], scores[cand.TypeB])
		slog.Debug("vocab: consolidation candidate",
			"type_a", cand.TypeA, "type_b", cand.TypeB,
			"similarity", cand.Similarity, "action", string(rec.Action), "execute", rec.Execute)

		switch {
		case rec.Execute && rec.Action == ActionMerge:
			merge, err := m.store.MergeVocabTypes(ctx, rec.Type, rec.Target,
				rec.Similarity, decidedBy(rec.Review), string(mode), rec.Reason)
			if err != nil {
				slog.Warn("vocab: merge failed",
					"source", rec.Type, "target", rec.Target, "error", err)
				rec.Execute = false
				rec.Reason = fmt.Sprintf("merge failed: %v", err)
				result.Rejected = append(result.Rejected, rec)
				continue
			}
			slog.Info("vocab: types merged",
				"source", rec.Type, "target", rec.Target,
				"edges_moved", merge.EdgesMoved, "similarity", rec.Similarity)
			result.AutoExecuted = append(result.AutoExecuted, rec)
		case rec.NeedsReview:
			result.NeedsReview = append(result.NeedsReview, rec)
		default:
			result.Rejected = append(result.Rejected, rec)
		}
	}

	size, err := m.store.CountActiveVocabTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("vocab size: %w", err)
	}
	result.FinalSize = size

	slog.Info("vocab: consolidation finished",
		"initial_size", result.InitialSize, "final_size", result.FinalSize,
		"iterations", result.Iterations, "merged", len(result.AutoExecuted))
	return result, nil
}

// nextCandidate recomputes scores and synonym candidates and returns
// the highest-priority unprocessed pair.
func (m *Manager) nextCandidate(ctx context.Context, scorer *Scorer, minSimilarity float64, processed map[string]bool) (Candidate, map[string]TypeScore, bool, error) {
	scoreList, err := scorer.ScoreAll(ctx)
	if err != nil {
		return Candidate{}, nil, false, err
	}
	scores := make(map[string]TypeScore, len(scoreList))
	for _, s := range scoreList {
		scores[s.RelationshipType] = s
	}

	embeddings, err := m.store.AllVocabEmbeddings(ctx)
	if err != nil {
		return Candidate{}, nil, false, fmt.Errorf("vocab embeddings: %w", err)
	}
	cands := FindSynonyms(embeddings, minSimilarity)

	sort.SliceStable(cands, func(i, j int) bool {
		return candidatePriority(cands[i], scores) > candidatePriority(cands[j], scores)
	})

	for _, c := range cands {
		if !processed[pairKey(c.TypeA, c.TypeB)] {
			return c, scores, true, nil
		}
	}
	return Candidate{}, scores, false, nil
}

func candidatePriority(c Candidate, scores map[string]TypeScore) float64 {
	edges := min(scores[c.TypeA].EdgeCount, scores[c.TypeB].EdgeCount)
	return c.Similarity*2 - float64(edges)/100
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func decidedBy(r ReviewLevel) string {
	switch r {
	case ReviewAI:
		return "ai"
	case ReviewHeuristic:
		return "heuristic"
	default:
		return "auto"
	}
}

// Restore reactivates a deprecated type. A type that was merged away
// is restored through its merge record so the moved edges come back;
// a plainly deprecated one is simply reactivated. Returns the number
// of edges moved back.
func (m *Manager) Restore(ctx context.Context, relationshipType string) (int, error) {
	merges, err := m.store.ListMerges(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("list merges: %w", err)
	}
	for _, mg := range merges {
		if mg.SourceType == relationshipType && mg.UndoneAt == "" {
			moved, err := m.store.RestoreMerge(ctx, mg.ID)
			if err != nil {
				return 0, fmt.Errorf("restore merge %d: %w", mg.ID, err)
			}
			slog.Info("vocab: merge restored",
				"type", relationshipType, "target", mg.TargetType, "edges_moved", moved)
			return moved, nil
		}
	}
	if err := m.store.ReactivateVocabType(ctx, relationshipType); err != nil {
		return 0, err
	}
	slog.Info("vocab: type reactivated", "type", relationshipType)
	return 0, nil
}

// ---------------------------------------------------------------------------
// Epistemic status
// ---------------------------------------------------------------------------

// ClassifyGrounding maps grounding samples onto an epistemic status.
// Fewer than 3 samples cannot support a classification.
func ClassifyGrounding(samples []float64) (string, float64) {
	if len(samples) == 0 {
		return EpistemicInsufficient, 0
	}
	var sum float64
	for _, s := range samples {
		sum += s
	}
	avg := sum / float64(len(samples))
	if len(samples) < 3 {
		return EpistemicInsufficient, avg
	}
	switch {
	case avg >= 0.66:
		return EpistemicAffirmative, avg
	case avg >= 0.33:
		return EpistemicContested, avg
	case avg >= -0.33:
		return EpistemicUnclassified, avg
	default:
		return EpistemicContradictory, avg
	}
}

// EpistemicStatus classifies a relationship type by the grounding of
// the concepts its edges originate from, measured against the SUPPORTS
// and CONTRADICTS poles. Deprecated types are HISTORICAL.
func (m *Manager) EpistemicStatus(ctx context.Context, relationshipType string) (string, float64, error) {
	t, err := m.store.GetVocabType(ctx, relationshipType)
	if err != nil {
		return "", 0, err
	}
	if !t.IsActive {
		return EpistemicHistorical, 0, nil
	}

	supports, err := m.store.GetVocabEmbedding(ctx, "SUPPORTS")
	if err != nil {
		return EpistemicInsufficient, 0, nil
	}
	contradicts, err := m.store.GetVocabEmbedding(ctx, "CONTRADICTS")
	if err != nil {
		return EpistemicInsufficient, 0, nil
	}

	edges, err := m.store.ListEdges(ctx, store.EdgeFilter{
		RelationType: relationshipType,
		Limit:        epistemicSampleLimit,
	})
	if err != nil {
		return "", 0, fmt.Errorf("list edges: %w", err)
	}

	var samples []float64
	for _, e := range edges {
		emb, err := m.store.GetConceptEmbedding(ctx, e.FromConcept)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return "", 0, fmt.Errorf("concept embedding: %w", err)
		}
		samples = append(samples, Grounding(emb, supports, contradicts))
	}

	status, avg := ClassifyGrounding(samples)
	return status, avg, nil
}

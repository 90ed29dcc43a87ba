package kgraph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mleroux/kgraph/jobs"
	"github.com/mleroux/kgraph/store"
	"github.com/mleroux/kgraph/vocab"
)

// VocabularyConfigChange reports a config update: the fields that
// actually changed and the resulting live config.
type VocabularyConfigChange struct {
	Changed []string           `json:"changed"`
	Config  *store.VocabConfig `json:"config"`
}

// RecommendationSet buckets pruning candidates by what the configured
// mode lets happen to them: executable now, queued for a human, or
// rejected outright.
type RecommendationSet struct {
	VocabularySize int                    `json:"vocabulary_size"`
	Zone           string                 `json:"zone"`
	Aggressiveness float64                `json:"aggressiveness"`
	AutoExecute    []vocab.Recommendation `json:"auto_execute"`
	NeedsReview    []vocab.Recommendation `json:"needs_review"`
	Rejected       []vocab.Recommendation `json:"rejected"`
}

// EpistemicReport classifies one relationship type by the grounding of
// the concepts it connects.
type EpistemicReport struct {
	RelationshipType string  `json:"relationship_type"`
	Status           string  `json:"status"`
	AvgGrounding     float64 `json:"avg_grounding"`
}

// VocabularyStatus runs a full vocabulary health analysis.
func (e *engine) VocabularyStatus(ctx context.Context) (*vocab.Analysis, error) {
	return e.vocabMgr.Analyze(ctx)
}

func (e *engine) ListVocabulary(ctx context.Context, activeOnly bool) ([]store.VocabType, error) {
	return e.store.ListVocabTypes(ctx, activeOnly)
}

func (e *engine) VocabularyConfig(ctx context.Context) (*store.VocabConfig, error) {
	return e.store.GetVocabConfig(ctx)
}

// UpdateVocabularyConfig applies a partial update to the live config
// row. A pruning mode in the update is validated before it lands.
func (e *engine) UpdateVocabularyConfig(ctx context.Context, u store.VocabConfigUpdate, updatedBy string) (*VocabularyConfigChange, error) {
	if u.PruningMode != nil {
		if _, err := vocab.ParseMode(*u.PruningMode); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
	}
	changed, err := e.store.UpdateVocabConfig(ctx, u, updatedBy)
	if err != nil {
		return nil, fmt.Errorf("updating vocabulary config: %w", err)
	}
	cfg, err := e.store.GetVocabConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading vocabulary config: %w", err)
	}
	if len(changed) > 0 {
		e.log.Info("vocab: config updated", "changed", changed, "by", updatedBy)
	}
	return &VocabularyConfigChange{Changed: changed, Config: cfg}, nil
}

func (e *engine) MergeHistory(ctx context.Context, limit int) ([]store.VocabMerge, error) {
	return e.store.ListMerges(ctx, limit)
}

// VocabularyRecommendations analyzes the vocabulary and runs every
// synonym and low-value candidate through the configured pruning
// strategy, without executing anything.
func (e *engine) VocabularyRecommendations(ctx context.Context) (*RecommendationSet, error) {
	an, err := e.vocabMgr.Analyze(ctx)
	if err != nil {
		return nil, fmt.Errorf("analyzing vocabulary: %w", err)
	}
	strategy, err := vocab.NewStrategy(vocab.Mode(an.Config.PruningMode), e.provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	scores := make(map[string]vocab.TypeScore, len(an.Scores))
	for _, sc := range an.Scores {
		scores[sc.RelationshipType] = sc
	}

	set := &RecommendationSet{
		VocabularySize: an.Size,
		Zone:           an.Zone,
		Aggressiveness: an.Aggressiveness,
		AutoExecute:    []vocab.Recommendation{},
		NeedsReview:    []vocab.Recommendation{},
		Rejected:       []vocab.Recommendation{},
	}
	bucket := func(rec vocab.Recommendation) {
		switch {
		case rec.Execute:
			set.AutoExecute = append(set.AutoExecute, rec)
		case rec.NeedsReview:
			set.NeedsReview = append(set.NeedsReview, rec)
		default:
			set.Rejected = append(set.Rejected, rec)
		}
	}

	for _, cand := range an.Synonyms {
		bucket(strategy.EvaluateSynonym(ctx, cand, scores[cand.TypeA], scores[cand.TypeB]))
	}
	for _, sc := range an.LowValue {
		bucket(strategy.EvaluateLowValue(ctx, sc))
	}
	for _, sc := range an.ZeroEdge {
		bucket(strategy.EvaluateLowValue(ctx, sc))
	}

	e.log.Info("vocab: recommendations generated",
		"size", an.Size,
		"zone", an.Zone,
		"auto_execute", len(set.AutoExecute),
		"needs_review", len(set.NeedsReview),
		"rejected", len(set.Rejected))
	return set, nil
}

// ConsolidateVocabulary shrinks the vocabulary toward the target size.
// An empty mode uses the configured one.
func (e *engine) ConsolidateVocabulary(ctx context.Context, target int, mode string) (*vocab.ConsolidateResult, error) {
	var m vocab.Mode
	if mode != "" {
		parsed, err := vocab.ParseMode(mode)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		m = parsed
	}
	if target <= 0 {
		return nil, fmt.Errorf("%w: consolidation target must be positive", ErrInvalidConfig)
	}
	res, err := e.vocabMgr.Consolidate(ctx, target, m)
	if err != nil {
		return nil, err
	}
	e.log.Info("vocab: consolidation finished",
		"initial", res.InitialSize,
		"final", res.FinalSize,
		"iterations", res.Iterations,
		"merged", len(res.AutoExecuted))
	return res, nil
}

// MergeVocabularyTypes manually folds sourceType into targetType. The
// recorded similarity comes from stored embeddings when both types
// have one.
func (e *engine) MergeVocabularyTypes(ctx context.Context, sourceType, targetType, reason, decidedBy string) (*store.VocabMerge, error) {
	if sourceType == "" || targetType == "" {
		return nil, fmt.Errorf("%w: source and target types are required", ErrInvalidConfig)
	}
	if sourceType == targetType {
		return nil, fmt.Errorf("%w: cannot merge a type into itself", ErrInvalidConfig)
	}
	if _, err := e.store.GetVocabType(ctx, sourceType); err != nil {
		return nil, notFound(err, ErrVocabTypeNotFound, sourceType)
	}
	if _, err := e.store.GetVocabType(ctx, targetType); err != nil {
		return nil, notFound(err, ErrVocabTypeNotFound, targetType)
	}

	var similarity float64
	srcEmb, srcErr := e.store.GetVocabEmbedding(ctx, sourceType)
	tgtEmb, tgtErr := e.store.GetVocabEmbedding(ctx, targetType)
	if srcErr == nil && tgtErr == nil {
		similarity = vocab.Cosine(srcEmb, tgtEmb)
	}

	if decidedBy == "" {
		decidedBy = "curator"
	}
	merge, err := e.store.MergeVocabTypes(ctx, sourceType, targetType, similarity, decidedBy, "manual", reason)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: type is not active", ErrVocabTypeNotFound)
		}
		return nil, fmt.Errorf("merging %s into %s: %w", sourceType, targetType, err)
	}
	e.log.Info("vocab: types merged",
		"source", sourceType,
		"target", targetType,
		"edges_moved", merge.EdgesMoved,
		"by", decidedBy)
	return merge, nil
}

// RestoreVocabularyType reactivates a deprecated type and relabels the
// edges its merge moved away, returning how many came back.
func (e *engine) RestoreVocabularyType(ctx context.Context, relationshipType string) (int, error) {
	n, err := e.vocabMgr.Restore(ctx, relationshipType)
	if err != nil {
		return 0, notFound(err, ErrVocabTypeNotFound, relationshipType)
	}
	e.log.Info("vocab: type restored", "type", relationshipType, "edges_restored", n)
	return n, nil
}

func (e *engine) EpistemicStatus(ctx context.Context, relationshipType string) (*EpistemicReport, error) {
	status, avg, err := e.vocabMgr.EpistemicStatus(ctx, relationshipType)
	if err != nil {
		return nil, notFound(err, ErrVocabTypeNotFound, relationshipType)
	}
	return &EpistemicReport{
		RelationshipType: relationshipType,
		Status:           status,
		AvgGrounding:     avg,
	}, nil
}

// RegenerateEmbeddings queues a background rebuild of vocabulary
// embeddings so callers can watch progress through the job surface.
func (e *engine) RegenerateEmbeddings(ctx context.Context, p jobs.RegenPayload) (*jobs.SubmitResult, error) {
	res, err := e.queue.Submit(ctx, jobs.SubmitOptions{
		Type:    jobs.TypeEmbeddingRegen,
		Payload: p,
		System:  true,
	})
	if err != nil {
		return nil, fmt.Errorf("submitting regeneration job: %w", err)
	}
	if res.Job != nil {
		e.log.Info("vocab: embedding regeneration queued",
			"job", res.Job.JobID,
			"only_missing", p.OnlyMissing,
			"only_stale", p.OnlyStale)
	}
	return res, nil
}

// --- Aggressiveness profiles ---

// CreateProfile adds a custom Bezier curve profile. Control points
// must stay in the unit square for the curve to be a valid easing.
func (e *engine) CreateProfile(ctx context.Context, p store.CurveProfile) (*store.CurveProfile, error) {
	if p.ProfileName == "" {
		return nil, fmt.Errorf("%w: profile name is required", ErrInvalidConfig)
	}
	for _, v := range []float64{p.ControlX1, p.ControlY1, p.ControlX2, p.ControlY2} {
		if v < 0 || v > 1 {
			return nil, fmt.Errorf("%w: control points must be in [0, 1]", ErrInvalidConfig)
		}
	}
	p.IsBuiltin = false
	created, err := e.store.CreateProfile(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("creating profile: %w", err)
	}
	if !created {
		return nil, fmt.Errorf("%w: %s", ErrProfileExists, p.ProfileName)
	}
	e.log.Info("vocab: profile created", "profile", p.ProfileName)
	return e.store.GetProfile(ctx, p.ProfileName)
}

func (e *engine) ListProfiles(ctx context.Context) ([]store.CurveProfile, error) {
	return e.store.ListProfiles(ctx)
}

// DeleteProfile removes a custom profile. Builtins stay.
func (e *engine) DeleteProfile(ctx context.Context, name string) error {
	p, err := e.store.GetProfile(ctx, name)
	if err != nil {
		return notFound(err, ErrProfileNotFound, name)
	}
	if p.IsBuiltin {
		return fmt.Errorf("%w: %s", ErrBuiltinProtected, name)
	}
	if err := e.store.DeleteProfile(ctx, name); err != nil {
		return notFound(err, ErrProfileNotFound, name)
	}
	e.log.Info("vocab: profile deleted", "profile", name)
	return nil
}

package vocab

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mleroux/kgraph/llm"
)

// Mode selects who makes tactical pruning decisions.
type Mode string

const (
	// ModeNaive executes only risk-free algorithmic decisions.
	ModeNaive Mode = "naive"
	// ModeHITL queues every decision for human approval.
	ModeHITL Mode = "hitl"
	// ModeAITL lets the model decide ambiguous cases; humans set
	// strategy through config.
	ModeAITL Mode = "aitl"
)

// ParseMode validates a pruning mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeNaive, ModeHITL, ModeAITL:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("invalid pruning mode %q", s)
	}
}

// Action is what should happen to a vocabulary type.
type Action string

const (
	ActionMerge     Action = "merge"
	ActionPrune     Action = "prune"
	ActionDeprecate Action = "deprecate"
	ActionSkip      Action = "skip"
)

// ReviewLevel records who signed off on a recommendation.
type ReviewLevel string

const (
	ReviewNone      ReviewLevel = "none"
	ReviewAI        ReviewLevel = "ai"
	ReviewHuman     ReviewLevel = "human"
	ReviewHeuristic ReviewLevel = "heuristic" // LLM was unavailable
)

// Recommendation is one pruning decision.
type Recommendation struct {
	Action      Action      `json:"action"`
	Type        string      `json:"type"`             // type acted on
	Target      string      `json:"target,omitempty"` // merge survivor
	Review      ReviewLevel `json:"review"`
	Execute     bool        `json:"execute"`
	NeedsReview bool        `json:"needs_review"`
	Similarity  float64     `json:"similarity,omitempty"`
	Reason      string      `json:"reason"`
}

// Strategy applies the mode decision matrix to pruning candidates.
//
//	                 naive       hitl          aitl
//	strong synonym   auto-merge  needs review  auto-merge
//	moderate synonym skip        needs review  LLM judgment
//	zero-edge type   auto-prune  needs review  auto-prune
//	low-value type   skip        needs review  LLM judgment
type Strategy struct {
	mode     Mode
	provider llm.Provider

	// Descriptions supplies type descriptions for LLM judgments.
	// Optional; judgments degrade gracefully without them.
	Descriptions map[string]string
}

// NewStrategy builds a strategy. AITL mode requires a provider.
func NewStrategy(mode Mode, provider llm.Provider) (*Strategy, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	if mode == ModeAITL && provider == nil {
		return nil, fmt.Errorf("aitl mode requires an LLM provider")
	}
	return &Strategy{mode: mode, provider: provider}, nil
}

// Mode returns the strategy's decision mode.
func (st *Strategy) Mode() Mode { return st.mode }

// EvaluateSynonym recommends an action for a synonym candidate given
// both types' value scores.
func (st *Strategy) EvaluateSynonym(ctx context.Context, cand Candidate, a, b TypeScore) Recommendation {
	keep, drop, why := PickSurvivor(a, b)

	if cand.Strength == StrengthStrong {
		rec := Recommendation{
			Action:     ActionMerge,
			Type:       drop,
			Target:     keep,
			Similarity: cand.Similarity,
			Reason:     fmt.Sprintf("strong synonym (%.3f); %s", cand.Similarity, why),
		}
		if st.mode == ModeHITL {
			rec.Review = ReviewHuman
			rec.NeedsReview = true
		} else {
			rec.Review = ReviewNone
			rec.Execute = true
		}
		return rec
	}

	// Moderate band.
	switch st.mode {
	case ModeNaive:
		return Recommendation{
			Action:     ActionSkip,
			Type:       drop,
			Target:     keep,
			Review:     ReviewNone,
			Similarity: cand.Similarity,
			Reason:     fmt.Sprintf("moderate synonym (%.3f); below the naive auto-merge bar", cand.Similarity),
		}
	case ModeHITL:
		return Recommendation{
			Action:      ActionMerge,
			Type:        drop,
			Target:      keep,
			Review:      ReviewHuman,
			NeedsReview: true,
			Similarity:  cand.Similarity,
			Reason:      fmt.Sprintf("moderate synonym (%.3f); %s", cand.Similarity, why),
		}
	default:
		return st.judgeSynonym(ctx, cand, a, b)
	}
}

// judgeSynonym asks the LLM to rule on a moderate pair. When the call
// fails the heuristic fallback decides instead and the recommendation
// is marked accordingly.
func (st *Strategy) judgeSynonym(ctx context.Context, cand Candidate, a, b TypeScore) Recommendation {
	verdict, err := st.provider.JudgeMerge(ctx, llm.MergeJudgment{
		TypeA:      st.judgeSide(a),
		TypeB:      st.judgeSide(b),
		Similarity: cand.Similarity,
	})
	if err != nil {
		slog.Warn("vocab: merge judgment failed, using heuristic",
			"type_a", a.RelationshipType, "type_b", b.RelationshipType, "error", err)
		return heuristicSynonym(cand, a, b)
	}

	if !verdict.Merge {
		return Recommendation{
			Action:     ActionSkip,
			Type:       cand.TypeA,
			Review:     ReviewAI,
			Similarity: cand.Similarity,
			Reason:     "model rejected merge: " + verdict.Reason,
		}
	}

	keep := verdict.Keep
	drop := cand.TypeA
	if drop == keep {
		drop = cand.TypeB
	}
	return Recommendation{
		Action:     ActionMerge,
		Type:       drop,
		Target:     keep,
		Review:     ReviewAI,
		Execute:    true,
		Similarity: cand.Similarity,
		Reason:     "model approved merge: " + verdict.Reason,
	}
}

func (st *Strategy) judgeSide(s TypeScore) llm.VocabType {
	return llm.VocabType{
		Name:        s.RelationshipType,
		Description: st.Descriptions[s.RelationshipType],
		EdgeCount:   s.EdgeCount,
		ValueScore:  s.Value,
	}
}

func heuristicSynonym(cand Candidate, a, b TypeScore) Recommendation {
	if cand.Similarity >= 0.80 {
		keep, drop, why := PickSurvivor(a, b)
		return Recommendation{
			Action:     ActionMerge,
			Type:       drop,
			Target:     keep,
			Review:     ReviewHeuristic,
			Execute:    true,
			Similarity: cand.Similarity,
			Reason:     fmt.Sprintf("heuristic merge at %.3f; %s", cand.Similarity, why),
		}
	}
	return Recommendation{
		Action:     ActionSkip,
		Type:       cand.TypeA,
		Review:     ReviewHeuristic,
		Similarity: cand.Similarity,
		Reason:     fmt.Sprintf("heuristic skip at %.3f; semantic distinction likely matters", cand.Similarity),
	}
}

// EvaluateLowValue recommends an action for a low-value or zero-edge
// type. Builtin types are never pruned.
func (st *Strategy) EvaluateLowValue(ctx context.Context, score TypeScore) Recommendation {
	if score.IsBuiltin {
		return Recommendation{
			Action: ActionSkip,
			Type:   score.RelationshipType,
			Review: ReviewNone,
			Reason: "builtin type",
		}
	}

	if score.EdgeCount == 0 {
		rec := Recommendation{
			Action: ActionPrune,
			Type:   score.RelationshipType,
			Reason: "zero edges; pruning loses nothing",
		}
		if st.mode == ModeHITL {
			rec.Review = ReviewHuman
			rec.NeedsReview = true
		} else {
			rec.Review = ReviewNone
			rec.Execute = true
		}
		return rec
	}

	switch st.mode {
	case ModeNaive:
		return Recommendation{
			Action: ActionSkip,
			Type:   score.RelationshipType,
			Review: ReviewNone,
			Reason: fmt.Sprintf("low value (%.2f) but %d live edges", score.Value, score.EdgeCount),
		}
	case ModeHITL:
		return Recommendation{
			Action:      ActionDeprecate,
			Type:        score.RelationshipType,
			Review:      ReviewHuman,
			NeedsReview: true,
			Reason:      fmt.Sprintf("low value (%.2f) with %d edges", score.Value, score.EdgeCount),
		}
	default:
		return heuristicLowValue(score)
	}
}

func heuristicLowValue(score TypeScore) Recommendation {
	if score.Value < 0.5 && score.BridgeCount == 0 {
		return Recommendation{
			Action:  ActionDeprecate,
			Type:    score.RelationshipType,
			Review:  ReviewAI,
			Execute: true,
			Reason:  fmt.Sprintf("value %.2f with no bridges", score.Value),
		}
	}
	return Recommendation{
		Action: ActionSkip,
		Type:   score.RelationshipType,
		Review: ReviewAI,
		Reason: fmt.Sprintf("value %.2f, %d bridges; structurally important", score.Value, score.BridgeCount),
	}
}

package vocab

import (
	"fmt"
	"sort"
)

// Category assignment thresholds. A type below the confident floor
// keeps its llm_generated marker for curator review; a runner-up above
// the ambiguity bar flags multi-category types.
const (
	categoryConfident = 0.50
	categoryHigh      = 0.70
	categoryAmbiguous = 0.70
)

// Assignment is the categorizer's verdict on one relationship type.
type Assignment struct {
	RelationshipType string             `json:"relationship_type"`
	Category         string             `json:"category,omitempty"`
	Confidence       float64            `json:"confidence"`
	HighConfidence   bool               `json:"high_confidence"`
	Ambiguous        bool               `json:"ambiguous"`
	RunnerUp         string             `json:"runner_up,omitempty"`
	RunnerUpScore    float64            `json:"runner_up_score,omitempty"`
	Scores           map[string]float64 `json:"scores"`
}

// Categorizer places new relationship types into categories by
// embedding similarity to each category's builtin seed types.
// Categories emerge from proximity, not fixed assignment: the score of
// a category is the max similarity to any of its seeds, so a type only
// needs to resemble one seed to belong.
type Categorizer struct {
	seeds map[string][][]float32
}

// NewCategorizer builds a categorizer over the given type embeddings.
// Only embeddings of builtin types are used as seeds; everything else
// in the map is ignored.
func NewCategorizer(embeddings map[string][]float32) *Categorizer {
	c := &Categorizer{seeds: make(map[string][][]float32)}
	for _, b := range builtins {
		if emb, ok := embeddings[b.Name]; ok {
			c.seeds[b.Category] = append(c.seeds[b.Category], emb)
		}
	}
	return c
}

// Ready reports whether enough seed embeddings are loaded to
// categorize at all.
func (c *Categorizer) Ready() bool {
	return len(c.seeds) > 0
}

// Assign computes category scores for a type embedding. Category is
// empty when no category clears the confidence floor.
func (c *Categorizer) Assign(relationshipType string, emb []float32) (*Assignment, error) {
	if len(emb) == 0 {
		return nil, fmt.Errorf("no embedding for relationship type %s", relationshipType)
	}
	if !c.Ready() {
		return nil, fmt.Errorf("no seed embeddings loaded")
	}

	scores := make(map[string]float64, len(c.seeds))
	for category, seedEmbs := range c.seeds {
		best := 0.0
		for _, seed := range seedEmbs {
			if sim := Cosine(emb, seed); sim > best {
				best = sim
			}
		}
		scores[category] = best
	}

	ordered := make([]string, 0, len(scores))
	for category := range scores {
		ordered = append(ordered, category)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if scores[ordered[i]] != scores[ordered[j]] {
			return scores[ordered[i]] > scores[ordered[j]]
		}
		return ordered[i] < ordered[j]
	})

	a := &Assignment{
		RelationshipType: relationshipType,
		Confidence:       scores[ordered[0]],
		Scores:           scores,
	}
	if a.Confidence >= categoryConfident {
		a.Category = ordered[0]
		a.HighConfidence = a.Confidence >= categoryHigh
	}
	if len(ordered) > 1 {
		a.RunnerUp = ordered[1]
		a.RunnerUpScore = scores[ordered[1]]
		a.Ambiguous = a.RunnerUpScore > categoryAmbiguous
	}
	return a, nil
}

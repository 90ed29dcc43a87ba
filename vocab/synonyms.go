package vocab

import (
	"fmt"
	"sort"
	"strings"
)

// Synonym similarity bands.
const (
	StrongThreshold   = 0.90 // auto-suggest merge
	ModerateThreshold = 0.70 // review needed; below this types are distinct
)

// Match strength labels.
const (
	StrengthStrong   = "strong"
	StrengthModerate = "moderate"
)

// Candidate is a potential synonym pair.
type Candidate struct {
	TypeA       string  `json:"type_a"`
	TypeB       string  `json:"type_b"`
	Similarity  float64 `json:"similarity"`
	Strength    string  `json:"strength"`
	NeedsReview bool    `json:"needs_review"`
}

func newCandidate(a, b string, sim float64) Candidate {
	c := Candidate{TypeA: a, TypeB: b, Similarity: sim}
	if sim >= StrongThreshold {
		c.Strength = StrengthStrong
	} else {
		c.Strength = StrengthModerate
		c.NeedsReview = true
	}
	return c
}

// FindSynonyms compares all pairs of type embeddings and returns pairs
// at or above minSimilarity, strongest first. Inverse pairs are
// excluded: MEASURES and MEASURED_BY embed close together but point in
// opposite directions and must never merge.
func FindSynonyms(embeddings map[string][]float32, minSimilarity float64) []Candidate {
	if minSimilarity <= 0 {
		minSimilarity = ModerateThreshold
	}

	names := make([]string, 0, len(embeddings))
	for name := range embeddings {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []Candidate
	for i, a := range names {
		for _, b := range names[i+1:] {
			if InversePair(a, b) {
				continue
			}
			sim := Cosine(embeddings[a], embeddings[b])
			if sim >= minSimilarity {
				out = append(out, newCandidate(a, b, sim))
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}

// FindSynonymsFor compares one type against the existing vocabulary,
// strongest first. Used to steer auto-expansion toward reuse.
func FindSynonymsFor(typ string, emb []float32, existing map[string][]float32, minSimilarity float64) []Candidate {
	if minSimilarity <= 0 {
		minSimilarity = ModerateThreshold
	}

	var out []Candidate
	for name, other := range existing {
		if name == typ || InversePair(typ, name) {
			continue
		}
		sim := Cosine(emb, other)
		if sim >= minSimilarity {
			out = append(out, newCandidate(typ, name, sim))
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		return out[i].TypeB < out[j].TypeB
	})
	return out
}

// InversePair reports whether one type is the _BY or _TO inverse of the
// other, like MEASURES vs MEASURED_BY or CONNECTS vs CONNECTS_TO.
// Detected by stripping the suffix and comparing stems.
func InversePair(a, b string) bool {
	return isInverseOf(a, b) || isInverseOf(b, a)
}

func isInverseOf(suffixed, base string) bool {
	var root string
	switch {
	case strings.HasSuffix(suffixed, "_BY"):
		root = strings.TrimSuffix(suffixed, "_BY")
	case strings.HasSuffix(suffixed, "_TO"):
		root = strings.TrimSuffix(suffixed, "_TO")
	default:
		return false
	}
	return stemKey(root) == stemKey(base)
}

// PickSurvivor decides which of a synonym pair to preserve: higher
// value score, then more edges, then alphabetical order.
func PickSurvivor(a, b TypeScore) (keep, drop, reason string) {
	switch {
	case a.Value > b.Value:
		return a.RelationshipType, b.RelationshipType,
			fmt.Sprintf("%s has the higher value score (%.2f vs %.2f)", a.RelationshipType, a.Value, b.Value)
	case b.Value > a.Value:
		return b.RelationshipType, a.RelationshipType,
			fmt.Sprintf("%s has the higher value score (%.2f vs %.2f)", b.RelationshipType, b.Value, a.Value)
	case a.EdgeCount > b.EdgeCount:
		return a.RelationshipType, b.RelationshipType,
			fmt.Sprintf("%s has more edges (%d vs %d)", a.RelationshipType, a.EdgeCount, b.EdgeCount)
	case b.EdgeCount > a.EdgeCount:
		return b.RelationshipType, a.RelationshipType,
			fmt.Sprintf("%s has more edges (%d vs %d)", b.RelationshipType, b.EdgeCount, a.EdgeCount)
	case a.RelationshipType < b.RelationshipType:
		return a.RelationshipType, b.RelationshipType, "alphabetical tiebreaker"
	default:
		return b.RelationshipType, a.RelationshipType, "alphabetical tiebreaker"
	}
}

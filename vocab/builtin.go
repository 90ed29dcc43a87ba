// Package vocab manages the controlled relationship vocabulary: the
// builtin type set, normalization of free-form LLM labels, value
// scoring, synonym detection, the aggressiveness curve, and the
// consolidation loop that keeps the vocabulary from growing without
// bound.
package vocab

// Builtin is one seeded relationship type.
type Builtin struct {
	Name        string
	Category    string
	Description string
}

var builtins = []Builtin{
	// causal
	{"CAUSES", "causal", "One concept directly brings about another"},
	{"ENABLES", "causal", "One concept makes another possible"},
	{"PREVENTS", "causal", "One concept stops another from occurring"},
	{"INFLUENCES", "causal", "One concept affects another without fully determining it"},
	{"RESULTS_FROM", "causal", "One concept is an outcome of another"},

	// composition
	{"PART_OF", "composition", "One concept is a component of another"},
	{"CONTAINS", "composition", "One concept includes another within it"},
	{"COMPOSED_OF", "composition", "One concept is built from another"},
	{"SUBSET_OF", "composition", "One concept is a narrower case of another"},
	{"INSTANCE_OF", "composition", "One concept is a concrete example of another"},
	{"COMPLEMENTS", "composition", "One concept completes or balances another"},

	// logical
	{"IMPLIES", "logical", "One concept logically entails another"},
	{"CONTRADICTS", "logical", "One concept is logically incompatible with another"},
	{"PRESUPPOSES", "logical", "One concept assumes another holds"},
	{"EQUIVALENT_TO", "logical", "Two concepts express the same proposition"},

	// evidential
	{"SUPPORTS", "evidential", "One concept provides evidence for another"},
	{"REFUTES", "evidential", "One concept provides evidence against another"},
	{"EXEMPLIFIES", "evidential", "One concept illustrates another"},
	{"MEASURED_BY", "evidential", "One concept is quantified through another"},

	// similarity
	{"SIMILAR_TO", "similarity", "Two concepts resemble each other"},
	{"ANALOGOUS_TO", "similarity", "Two concepts share structure across domains"},
	{"CONTRASTS_WITH", "similarity", "Two concepts differ in an instructive way"},
	{"OPPOSITE_OF", "similarity", "Two concepts are direct opposites"},

	// temporal
	{"PRECEDES", "temporal", "One concept comes before another"},
	{"CONCURRENT_WITH", "temporal", "Two concepts occur together"},
	{"EVOLVES_INTO", "temporal", "One concept develops into another over time"},

	// dependency
	{"DEPENDS_ON", "dependency", "One concept needs another to function"},
	{"REQUIRES", "dependency", "One concept is a precondition of another"},
	{"CONSUMES", "dependency", "One concept uses another up"},
	{"PRODUCES", "dependency", "One concept yields another"},

	// derivation
	{"DERIVED_FROM", "derivation", "One concept originates from another"},
	{"GENERATED_BY", "derivation", "One concept is created by another"},
	{"BASED_ON", "derivation", "One concept takes another as its foundation"},

	// operation
	{"ANALYZES", "operation", "One concept examines another"},
	{"CALCULATES", "operation", "One concept computes another"},
	{"PROCESSES", "operation", "One concept operates on another"},
	{"TRANSFORMS", "operation", "One concept converts another into a new form"},
	{"EVALUATES", "operation", "One concept assesses another"},

	// interaction
	{"INTEGRATES_WITH", "interaction", "One concept combines with another"},
	{"COMMUNICATES_WITH", "interaction", "One concept exchanges information with another"},
	{"CONNECTS_TO", "interaction", "One concept links to another"},
	{"INTERACTS_WITH", "interaction", "One concept acts on and reacts to another"},

	// modification
	{"CONFIGURES", "modification", "One concept sets another up"},
	{"UPDATES", "modification", "One concept revises another"},
	{"ENHANCES", "modification", "One concept strengthens another"},
	{"OPTIMIZES", "modification", "One concept tunes another for better performance"},
	{"IMPROVES", "modification", "One concept makes another better"},
}

var categories = map[string]string{
	"causal":       "Cause and effect relationships",
	"composition":  "Part-whole and membership structure",
	"logical":      "Entailment, contradiction, and equivalence",
	"evidential":   "Evidence for and against claims",
	"similarity":   "Resemblance, analogy, and contrast",
	"temporal":     "Ordering and co-occurrence in time",
	"dependency":   "Requirements and resource flow",
	"derivation":   "Origin and provenance",
	"operation":    "Computational and analytical actions",
	"interaction":  "Communication and combination",
	"modification": "Changes that reconfigure or improve",
}

// CategoryLLMGenerated marks types accepted through auto-expansion that
// the categorizer has not yet placed.
const CategoryLLMGenerated = "llm_generated"

// Builtins returns the seeded relationship types.
func Builtins() []Builtin {
	out := make([]Builtin, len(builtins))
	copy(out, builtins)
	return out
}

// Categories returns the category set with descriptions.
func Categories() map[string]string {
	out := make(map[string]string, len(categories))
	for k, v := range categories {
		out[k] = v
	}
	return out
}

// CategorySeeds groups builtin type names by category. The categorizer
// uses these as ground truth when placing new types.
func CategorySeeds() map[string][]string {
	seeds := make(map[string][]string, len(categories))
	for _, b := range builtins {
		seeds[b.Category] = append(seeds[b.Category], b.Name)
	}
	return seeds
}

// IsBuiltinType reports whether name is in the seeded vocabulary.
func IsBuiltinType(name string) bool {
	for _, b := range builtins {
		if b.Name == name {
			return true
		}
	}
	return false
}

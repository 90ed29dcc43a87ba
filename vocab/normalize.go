package vocab

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kljensen/snowball/english"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/mleroux/kgraph/store"
)

// fuzzyThreshold is the minimum sequence ratio for the final typo stage.
// Below it a label is accepted as a genuinely new type.
const fuzzyThreshold = 0.8

var typeNameRe = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,99}$`)

// NormalizeTypeName sanitizes a relationship type name: uppercase,
// spaces to underscores, everything else outside [A-Z0-9_] stripped.
// Returns an error when the result is not a valid type name.
func NormalizeTypeName(name string) (string, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	var b strings.Builder
	for _, r := range upper {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	out := b.String()
	if !typeNameRe.MatchString(out) {
		return "", fmt.Errorf("invalid relationship type name %q", name)
	}
	return out, nil
}

// Match is a resolved canonical type for a free-form label.
type Match struct {
	Type     string
	Category string
	Score    float64
}

// Normalizer maps free-form LLM relationship labels onto the active
// vocabulary. No match means the label should be accepted as a new
// type by auto-expansion; the normalizer never invents types itself.
type Normalizer struct {
	canonical []string
	category  map[string]string
}

// NewNormalizer builds a normalizer over the given vocabulary types.
// Inactive types are ignored.
func NewNormalizer(types []store.VocabType) *Normalizer {
	n := &Normalizer{category: make(map[string]string, len(types))}
	for _, t := range types {
		if !t.IsActive {
			continue
		}
		n.canonical = append(n.canonical, t.RelationshipType)
		n.category[t.RelationshipType] = t.Category
	}
	sort.Strings(n.canonical)
	return n
}

// Category returns the category of a canonical type, or "" if unknown.
func (n *Normalizer) Category(typ string) string {
	return n.category[typ]
}

// Normalize resolves a label through staged matching, first hit wins:
// exact, reverse-direction rejection, prefix, containment, stem
// equality, then fuzzy ratio. ok is false when nothing matched and the
// label should go to auto-expansion.
func (n *Normalizer) Normalize(label string) (Match, bool) {
	upper := strings.ToUpper(strings.TrimSpace(label))
	if upper == "" {
		return Match{}, false
	}

	// Exact.
	if _, ok := n.category[upper]; ok {
		return Match{Type: upper, Category: n.category[upper], Score: 1.0}, true
	}

	// Labels ending in _BY are inward-direction inverses. Collapsing
	// MEASURED_BY onto MEASURES would silently flip edge direction, so
	// they never match and flow to auto-expansion instead.
	if strings.HasSuffix(upper, "_BY") {
		return Match{}, false
	}

	// Prefix: a canonical type extends the label (CONTRASTS ->
	// CONTRASTS_WITH). Shortest extension wins. Structural matches are
	// unambiguous, so they score 1.0 like an exact hit.
	var prefixHit string
	for _, c := range n.canonical {
		if strings.HasPrefix(c, upper) {
			if prefixHit == "" || len(c) < len(prefixHit) {
				prefixHit = c
			}
		}
	}
	if prefixHit != "" {
		return Match{Type: prefixHit, Category: n.category[prefixHit], Score: 1.0}, true
	}

	// Containment: the label extends a canonical type
	// (CONTRADICTS_WITH -> CONTRADICTS). Longest canonical wins.
	var containHit string
	for _, c := range n.canonical {
		if strings.HasPrefix(upper, c) {
			if len(c) > len(containHit) {
				containHit = c
			}
		}
	}
	if containHit != "" {
		return Match{Type: containHit, Category: n.category[containHit], Score: 1.0}, true
	}

	// Stem equality catches inflections (CAUSING <-> CAUSES). Among
	// equal stems the closest surface form wins.
	labelStem := stemKey(upper)
	var stemHit string
	var stemScore float64
	for _, c := range n.canonical {
		if stemKey(c) != labelStem {
			continue
		}
		if r := seqRatio(upper, c); r > stemScore {
			stemHit, stemScore = c, r
		}
	}
	if stemHit != "" {
		return Match{Type: stemHit, Category: n.category[stemHit], Score: stemScore}, true
	}

	// Fuzzy, for typos only.
	var fuzzyHit string
	var fuzzyScore float64
	for _, c := range n.canonical {
		if r := seqRatio(upper, c); r > fuzzyScore {
			fuzzyHit, fuzzyScore = c, r
		}
	}
	if fuzzyScore >= fuzzyThreshold {
		return Match{Type: fuzzyHit, Category: n.category[fuzzyHit], Score: fuzzyScore}, true
	}

	return Match{}, false
}

// seqRatio is the character-level sequence similarity of two strings.
func seqRatio(a, b string) float64 {
	m := difflib.NewMatcher(strings.Split(a, ""), strings.Split(b, ""))
	return m.Ratio()
}

// stemKey reduces a type name to its Porter-stemmed form, token by
// token, so CAUSING and CAUSES collide while CAUSES and PAUSES do not.
func stemKey(typ string) string {
	parts := strings.Split(strings.ToLower(typ), "_")
	for i, p := range parts {
		parts[i] = english.Stem(p, false)
	}
	return strings.Join(parts, "_")
}

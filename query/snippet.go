package query

import (
	"strings"
	"unicode"
)

// snippetMaxLen is the approximate maximum character length for a
// matched-chunk excerpt.
const snippetMaxLen = 300

// snippetFor returns the chunk excerpt most relevant to the query: the
// highest-overlap sentence (plus its best neighbor when it fits) when
// the query terms appear in the chunk, otherwise the chunk head cut at
// a word boundary.
func snippetFor(content, query string) string {
	if s := relevantSentences(content, significantWords(query)); s != "" {
		return s
	}
	return headPreview(content)
}

// relevantSentences scores each sentence of content by word overlap
// with queryWords and returns the best one, extended with the stronger
// adjacent sentence when the pair stays within snippetMaxLen. Returns
// empty when nothing overlaps.
func relevantSentences(content string, queryWords map[string]bool) string {
	if len(queryWords) == 0 || content == "" {
		return ""
	}

	sentences := splitSentences(content)
	if len(sentences) == 0 {
		return ""
	}

	scores := make([]int, len(sentences))
	bestIdx, bestScore := 0, 0
	for i, s := range sentences {
		for w := range significantWords(s) {
			if queryWords[w] {
				scores[i]++
			}
		}
		if scores[i] > bestScore {
			bestScore = scores[i]
			bestIdx = i
		}
	}
	if bestScore == 0 {
		return ""
	}

	result := sentences[bestIdx]
	if len(result) < snippetMaxLen && len(sentences) > 1 {
		adjIdx, adjScore := -1, 0
		for _, delta := range []int{1, -1} {
			if j := bestIdx + delta; j >= 0 && j < len(sentences) && scores[j] > adjScore {
				adjScore = scores[j]
				adjIdx = j
			}
		}
		if adjIdx >= 0 && adjScore > 0 {
			combined := result + " " + sentences[adjIdx]
			if adjIdx < bestIdx {
				combined = sentences[adjIdx] + " " + result
			}
			if len(combined) <= snippetMaxLen {
				result = combined
			}
		}
	}
	return result
}

// headPreview truncates text near snippetMaxLen, preferring a word
// boundary in the back half.
func headPreview(text string) string {
	if len(text) <= snippetMaxLen {
		return text
	}
	cut := snippetMaxLen
	if idx := strings.LastIndexByte(text[:snippetMaxLen], ' '); idx > snippetMaxLen/2 {
		cut = idx
	}
	return strings.TrimSpace(text[:cut]) + "..."
}

// significantWords returns the set of lowercased words >= 4 characters,
// excluding common stop words.
func significantWords(text string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(w) >= 4 && !stopWords[w] {
			words[w] = true
		}
	}
	return words
}

// splitSentences splits text at period/question/exclamation boundaries
// followed by whitespace or end of string.
func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		cur.WriteRune(runes[i])
		if runes[i] == '.' || runes[i] == '?' || runes[i] == '!' {
			if i+1 >= len(runes) || runes[i+1] == ' ' || runes[i+1] == '\n' || runes[i+1] == '\t' {
				if s := strings.TrimSpace(cur.String()); s != "" {
					sentences = append(sentences, s)
				}
				cur.Reset()
			}
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// stopWords is a set of common English stop words excluded from
// overlap scoring.
var stopWords = map[string]bool{
	"that": true, "this": true, "with": true, "from": true,
	"have": true, "been": true, "were": true, "they": true,
	"their": true, "will": true, "would": true, "could": true,
	"should": true, "about": true, "which": true, "there": true,
	"these": true, "those": true, "then": true, "than": true,
	"them": true, "what": true, "when": true, "where": true,
	"your": true, "more": true, "some": true, "such": true,
	"only": true, "also": true, "very": true, "just": true,
	"into": true, "over": true, "each": true, "does": true,
	"most": true, "after": true, "before": true, "other": true,
	"being": true, "same": true, "both": true, "between": true,
}

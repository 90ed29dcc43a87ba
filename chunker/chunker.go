package chunker

import (
	"context"
	"strings"
)

// Bounds controls the chunking behaviour, all values in words.
type Bounds struct {
	Target int `json:"target,omitempty"` // Preferred chunk size; headings finalize once reached.
	Min    int `json:"min,omitempty"`    // Chunks below this are merged into their neighbour.
	Max    int `json:"max,omitempty"`    // Hard ceiling; oversized blocks are cut.
}

// Chunk is one store-ready slice of a processed document.
type Chunk struct {
	Text          string
	ChunkNumber   int // 1-based
	WordCount     int
	BoundaryType  string // "semantic", "hard_cut", "end_of_document"
	StartPosition int
	EndPosition   int
}

// Chunker groups typed blocks into word-budget chunks.
type Chunker struct {
	bounds Bounds
}

// New returns a Chunker with the given bounds.
// Zero-value fields are replaced with sensible defaults.
func New(bounds Bounds) *Chunker {
	if bounds.Target == 0 {
		bounds.Target = 1000
	}
	if bounds.Min == 0 {
		bounds.Min = 100
	}
	if bounds.Max == 0 {
		bounds.Max = 1500
	}
	return &Chunker{bounds: bounds}
}

// Chunk walks blocks in document order. A chunk finalizes at a heading
// once Target words accumulated (semantic boundary), or when the next
// block would push it past Max. A single block over Max words is cut at
// sentence ends near the window edge, else at exactly Max words. The
// final chunk is always marked end_of_document, and a trailing chunk
// below Min words folds into its predecessor unless that predecessor
// ends at a hard cut.
func (c *Chunker) Chunk(blocks []Block) []Chunk {
	var chunks []Chunk
	var cur []string
	curWords := 0
	offset := 0

	emit := func(text string, words int, boundary string) {
		chunks = append(chunks, Chunk{
			Text:          text,
			ChunkNumber:   len(chunks) + 1,
			WordCount:     words,
			BoundaryType:  boundary,
			StartPosition: offset,
			EndPosition:   offset + len(text),
		})
		offset += len(text) + 2 // separator between chunks
	}
	flush := func(boundary string) {
		if curWords == 0 {
			return
		}
		emit(strings.Join(cur, "\n\n"), curWords, boundary)
		cur = cur[:0]
		curWords = 0
	}

	for _, b := range blocks {
		text := strings.TrimSpace(b.Text)
		if text == "" {
			continue
		}
		words := wordCount(text)

		if b.Kind == BlockHeading && curWords >= c.bounds.Target {
			flush("semantic")
		}

		if words > c.bounds.Max {
			flush("semantic")
			pieces := c.hardSplit(text)
			for _, p := range pieces[:len(pieces)-1] {
				emit(p, wordCount(p), "hard_cut")
			}
			last := pieces[len(pieces)-1]
			cur = append(cur, last)
			curWords = wordCount(last)
			continue
		}

		if curWords+words > c.bounds.Max {
			flush("semantic")
		}

		cur = append(cur, text)
		curWords += words
	}
	flush("semantic")

	// A hard_cut predecessor already sits at the Max ceiling; the
	// remainder stays its own chunk.
	if n := len(chunks); n >= 2 && chunks[n-1].WordCount < c.bounds.Min &&
		chunks[n-2].BoundaryType != "hard_cut" {
		chunks = mergeTrailing(chunks)
	}
	if n := len(chunks); n > 0 {
		chunks[n-1].BoundaryType = "end_of_document"
	}
	return chunks
}

// Process runs the full preprocessing pipeline: markdown to typed
// blocks, code-to-prose translation, then word-budget chunking.
func Process(ctx context.Context, markdown string, tr *Translator, bounds Bounds) ([]Chunk, error) {
	blocks := ParseBlocks([]byte(markdown))
	if tr != nil {
		if err := tr.TranslateBlocks(ctx, blocks); err != nil {
			return nil, err
		}
	}
	return New(bounds).Chunk(blocks), nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// hardSplit cuts an oversized block into word windows. Within each
// window it prefers a sentence terminator in the last 20%; failing
// that it cuts at exactly Max words.
func (c *Chunker) hardSplit(text string) []string {
	words := strings.Fields(text)
	var pieces []string

	for len(words) > c.bounds.Max {
		cut := c.bounds.Max
		floor := int(float64(c.bounds.Max) * 0.8)
		for i := c.bounds.Max - 1; i >= floor; i-- {
			if endsSentence(words[i]) {
				cut = i + 1
				break
			}
		}
		pieces = append(pieces, strings.Join(words[:cut], " "))
		words = words[cut:]
	}
	if len(words) > 0 {
		pieces = append(pieces, strings.Join(words, " "))
	}
	return pieces
}

// mergeTrailing folds the last chunk into its predecessor, preserving
// the position arithmetic across the join separator.
func mergeTrailing(chunks []Chunk) []Chunk {
	n := len(chunks)
	prev, last := &chunks[n-2], chunks[n-1]
	prev.Text = prev.Text + "\n\n" + last.Text
	prev.WordCount += last.WordCount
	prev.EndPosition = last.EndPosition
	return chunks[:n-1]
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}

func endsSentence(word string) bool {
	if word == "" {
		return false
	}
	switch word[len(word)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

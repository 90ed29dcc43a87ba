package jobs

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/mleroux/kgraph/chunker"
)

// largeFileBytes is where the analysis starts warning about long
// processing times.
const largeFileBytes = 1 << 20

// minimalWordCount is the floor below which extraction yields few
// concepts.
const minimalWordCount = 100

// FileStats describes the submitted file before any processing.
type FileStats struct {
	Filename        string `json:"filename"`
	SizeBytes       int    `json:"size_bytes"`
	SizeHuman       string `json:"size_human"`
	WordCount       int    `json:"word_count"`
	EstimatedChunks int    `json:"estimated_chunks"`
}

// TokenEstimate brackets the expected model token spend for one
// ingestion.
type TokenEstimate struct {
	ExtractionLow  int `json:"extraction_low"`
	ExtractionHigh int `json:"extraction_high"`
	EmbeddingLow   int `json:"embedding_low"`
	EmbeddingHigh  int `json:"embedding_high"`
}

// Analysis is the pre-flight estimate attached to an ingestion job at
// submission time, so a caller can see what a job will roughly cost
// before it runs.
type Analysis struct {
	FileStats  FileStats     `json:"file_stats"`
	Tokens     TokenEstimate `json:"token_estimates"`
	Warnings   []string      `json:"warnings,omitempty"`
	AnalyzedAt string        `json:"analyzed_at"`
}

// AnalyzeIngest sizes up a document before it enters the queue.
// Chunk count assumes chunks land slightly under the target; token
// numbers combine a per-word share of the prompt with a fixed per-chunk
// overhead, and embedding cost scales with the five to eight concepts a
// chunk typically yields.
func AnalyzeIngest(filename string, content []byte, bounds chunker.Bounds) *Analysis {
	target := bounds.Target
	if target <= 0 {
		target = 1000
	}

	words := len(strings.Fields(string(content)))
	chunks := 0
	if words > 0 {
		chunks = int(math.Max(1, math.Round(float64(words)/(float64(target)*0.9))))
	}

	conceptsLow := chunks * 5
	conceptsHigh := chunks * 8

	a := &Analysis{
		FileStats: FileStats{
			Filename:        filename,
			SizeBytes:       len(content),
			SizeHuman:       humanSize(len(content)),
			WordCount:       words,
			EstimatedChunks: chunks,
		},
		Tokens: TokenEstimate{
			ExtractionLow:  int(float64(words)*0.5) + chunks*500,
			ExtractionHigh: int(float64(words)*0.5*1.6) + chunks*500,
			EmbeddingLow:   conceptsLow * 8,
			EmbeddingHigh:  conceptsHigh * 8,
		},
		AnalyzedAt: time.Now().UTC().Format(time.RFC3339),
	}

	if len(content) > largeFileBytes {
		low := minutesFor(chunks * 2)
		high := minutesFor(chunks * 5)
		a.Warnings = append(a.Warnings, fmt.Sprintf(
			"Large file: processing will take roughly %d-%d minutes.", low, high))
	}
	if words < minimalWordCount {
		a.Warnings = append(a.Warnings,
			"Very short document: extraction will yield few concepts.")
	}
	return a
}

// minutesFor converts a seconds estimate to whole minutes, never less
// than one.
func minutesFor(seconds int) int {
	m := (seconds + 59) / 60
	if m < 1 {
		m = 1
	}
	return m
}

func humanSize(n int) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := int64(n) / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}

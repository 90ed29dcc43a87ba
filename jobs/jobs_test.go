package jobs

import (
	"strings"
	"testing"

	"github.com/mleroux/kgraph/chunker"
	"github.com/mleroux/kgraph/store"
)

func TestNewJobID(t *testing.T) {
	id := NewJobID()
	if !strings.HasPrefix(id, "job_") {
		t.Fatalf("id %q missing job_ prefix", id)
	}
	if len(id) != len("job_")+12 {
		t.Errorf("id length = %d, want %d", len(id), len("job_")+12)
	}
	for _, r := range id[len("job_"):] {
		if !strings.ContainsRune("0123456789abcdef", r) {
			t.Errorf("id %q contains non-hex rune %q", id, r)
		}
	}
	if NewJobID() == id {
		t.Error("two ids collided")
	}
}

func TestDuplicateMessages(t *testing.T) {
	cases := []struct {
		status string
		want   string
	}{
		{store.JobProcessing, "This document is currently being processed (job job_1). Check job status for progress."},
		{store.JobQueued, "This document is queued for ingestion (job job_1). It will be processed soon."},
		{store.JobCompleted, "This document was already ingested (job job_1). Use force=true to re-ingest."},
	}
	for _, c := range cases {
		if got := duplicateMessage(c.status, "job_1"); got != c.want {
			t.Errorf("message for %s:\n  got  %q\n  want %q", c.status, got, c.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Pre-flight analysis
// ---------------------------------------------------------------------------

func TestAnalyzeIngest(t *testing.T) {
	content := []byte(strings.TrimSpace(strings.Repeat("pulsar ", 900)))
	a := AnalyzeIngest("pulsars.md", content, chunker.Bounds{})

	if a.FileStats.Filename != "pulsars.md" {
		t.Errorf("filename = %q", a.FileStats.Filename)
	}
	if a.FileStats.WordCount != 900 {
		t.Errorf("word count = %d, want 900", a.FileStats.WordCount)
	}
	if a.FileStats.SizeBytes != len(content) {
		t.Errorf("size = %d, want %d", a.FileStats.SizeBytes, len(content))
	}
	// 900 words against a 1000-word target lands in a single chunk.
	if a.FileStats.EstimatedChunks != 1 {
		t.Errorf("estimated chunks = %d, want 1", a.FileStats.EstimatedChunks)
	}

	if a.Tokens.ExtractionLow != 950 {
		t.Errorf("extraction low = %d, want 950", a.Tokens.ExtractionLow)
	}
	if a.Tokens.ExtractionHigh != 1220 {
		t.Errorf("extraction high = %d, want 1220", a.Tokens.ExtractionHigh)
	}
	if a.Tokens.EmbeddingLow != 40 || a.Tokens.EmbeddingHigh != 64 {
		t.Errorf("embedding estimate = %d..%d, want 40..64",
			a.Tokens.EmbeddingLow, a.Tokens.EmbeddingHigh)
	}

	if len(a.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", a.Warnings)
	}
	if a.AnalyzedAt == "" {
		t.Error("AnalyzedAt not stamped")
	}
}

func TestAnalyzeIngestScalesChunks(t *testing.T) {
	content := []byte(strings.Repeat("quasar ", 4500))
	a := AnalyzeIngest("survey.md", content, chunker.Bounds{})
	// 4500 / 900 effective words per chunk.
	if a.FileStats.EstimatedChunks != 5 {
		t.Errorf("estimated chunks = %d, want 5", a.FileStats.EstimatedChunks)
	}

	tight := AnalyzeIngest("survey.md", content, chunker.Bounds{Target: 500})
	if tight.FileStats.EstimatedChunks != 10 {
		t.Errorf("chunks at target 500 = %d, want 10", tight.FileStats.EstimatedChunks)
	}
}

func TestAnalyzeIngestWarnings(t *testing.T) {
	short := AnalyzeIngest("note.md", []byte("binary star"), chunker.Bounds{})
	if len(short.Warnings) != 1 || !strings.Contains(short.Warnings[0], "short") {
		t.Errorf("short-document warning missing: %v", short.Warnings)
	}
	if short.FileStats.EstimatedChunks != 1 {
		t.Errorf("tiny document chunks = %d, want 1", short.FileStats.EstimatedChunks)
	}

	large := AnalyzeIngest("atlas.md", []byte(strings.Repeat("nebula ", 160000)), chunker.Bounds{})
	found := false
	for _, w := range large.Warnings {
		if strings.Contains(w, "Large file") && strings.Contains(w, "minutes") {
			found = true
		}
	}
	if !found {
		t.Errorf("large-file warning missing: %v", large.Warnings)
	}
}

func TestAnalyzeIngestEmptyContent(t *testing.T) {
	a := AnalyzeIngest("empty.md", nil, chunker.Bounds{})
	if a.FileStats.WordCount != 0 || a.FileStats.EstimatedChunks != 0 {
		t.Errorf("empty content stats: %+v", a.FileStats)
	}
	if a.Tokens.ExtractionLow != 0 || a.Tokens.EmbeddingHigh != 0 {
		t.Errorf("empty content tokens: %+v", a.Tokens)
	}
}

func TestHumanSize(t *testing.T) {
	cases := []struct {
		n    int
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1536, "1.5 KB"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, c := range cases {
		if got := humanSize(c.n); got != c.want {
			t.Errorf("humanSize(%d) = %q, want %q", c.n, got, c.want)
		}
	}
}

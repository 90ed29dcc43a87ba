package chunker

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mleroux/kgraph/llm"
)

// ---------------------------------------------------------------------------
// ParseBlocks tests
// ---------------------------------------------------------------------------

const sampleDoc = `# Title

Opening paragraph with some words.

## Details

- first item
- second item

` + "```go\nfunc main() {\n\tprintln(\"hi\")\n}\n```" + `

Closing paragraph.
`

func TestParseBlocks(t *testing.T) {
	blocks := ParseBlocks([]byte(sampleDoc))

	wantKinds := []BlockKind{
		BlockHeading, BlockText, BlockHeading, BlockList, BlockCode, BlockText,
	}
	if len(blocks) != len(wantKinds) {
		t.Fatalf("expected %d blocks, got %d: %+v", len(wantKinds), len(blocks), blocks)
	}
	for i, want := range wantKinds {
		if blocks[i].Kind != want {
			t.Errorf("block[%d].Kind = %s, want %s", i, blocks[i].Kind, want)
		}
	}

	if blocks[0].Level != 1 || blocks[0].Text != "Title" {
		t.Errorf("title heading: %+v", blocks[0])
	}
	if blocks[2].Level != 2 || blocks[2].Text != "Details" {
		t.Errorf("details heading: %+v", blocks[2])
	}
	if blocks[3].Ordered {
		t.Error("dash list reported as ordered")
	}
	if !strings.Contains(blocks[3].Text, "first item") || !strings.Contains(blocks[3].Text, "second item") {
		t.Errorf("list text: %q", blocks[3].Text)
	}
	if blocks[4].Language != "go" {
		t.Errorf("fence language = %q, want go", blocks[4].Language)
	}
	if !strings.Contains(blocks[4].Text, "func main()") {
		t.Errorf("code text: %q", blocks[4].Text)
	}
}

func TestParseBlocksOffsets(t *testing.T) {
	blocks := ParseBlocks([]byte(sampleDoc))

	prevStart := -1
	for i, b := range blocks {
		if b.Start >= b.End {
			t.Errorf("block[%d] span [%d, %d) is empty", i, b.Start, b.End)
		}
		if b.Start < prevStart {
			t.Errorf("block[%d] starts before block[%d]", i, i-1)
		}
		prevStart = b.Start
	}

	// Offsets index the original source.
	if got := sampleDoc[blocks[1].Start:blocks[1].End]; !strings.Contains(got, "Opening paragraph") {
		t.Errorf("span slice = %q", got)
	}
}

func TestClassifyFence(t *testing.T) {
	tests := []struct {
		lang string
		want BlockKind
	}{
		{"mermaid", BlockMermaid},
		{"json", BlockJSON},
		{"yaml", BlockYAML},
		{"yml", BlockYAML},
		{"go", BlockCode},
		{"python", BlockCode},
		{"", BlockCode},
	}
	for _, tt := range tests {
		if got := classifyFence(tt.lang); got != tt.want {
			t.Errorf("classifyFence(%q) = %s, want %s", tt.lang, got, tt.want)
		}
	}
}

func TestOrderedListDetected(t *testing.T) {
	blocks := ParseBlocks([]byte("1. one\n2. two\n3. three\n"))
	if len(blocks) != 1 || blocks[0].Kind != BlockList {
		t.Fatalf("blocks = %+v", blocks)
	}
	if !blocks[0].Ordered {
		t.Error("numbered list not reported as ordered")
	}
}

// ---------------------------------------------------------------------------
// Translation tests
// ---------------------------------------------------------------------------

type failingProvider struct {
	llm.Provider
}

func (failingProvider) TranslateToProse(ctx context.Context, req llm.TranslateRequest) (string, error) {
	return "", errors.New("model overloaded")
}

func TestTranslateBlocksShortCodePlaceholder(t *testing.T) {
	blocks := []Block{
		{Kind: BlockCode, Language: "go", Text: "x := 1\ny := 2"},
		{Kind: BlockText, Text: "Prose stays untouched."},
	}

	tr := NewTranslator(llm.NewMock(llm.Config{}), 2, 0)
	if err := tr.TranslateBlocks(context.Background(), blocks); err != nil {
		t.Fatalf("translating: %v", err)
	}

	if blocks[0].Text != "[CODE BLOCK: go - 2 lines]" {
		t.Errorf("placeholder = %q", blocks[0].Text)
	}
	if blocks[1].Text != "Prose stays untouched." {
		t.Errorf("prose block modified: %q", blocks[1].Text)
	}
}

func TestTranslateBlocksCallsProvider(t *testing.T) {
	blocks := []Block{
		{Kind: BlockCode, Language: "go", Text: "func add(a, b int) int {\n\treturn a + b\n}\n// more"},
	}

	tr := NewTranslator(llm.NewMock(llm.Config{}), 2, 0)
	if err := tr.TranslateBlocks(context.Background(), blocks); err != nil {
		t.Fatalf("translating: %v", err)
	}

	if !strings.Contains(blocks[0].Text, "Mock prose translation") {
		t.Errorf("expected translated prose, got %q", blocks[0].Text)
	}
}

func TestTranslateBlocksFailureMarker(t *testing.T) {
	blocks := []Block{
		{Kind: BlockMermaid, Language: "mermaid", Text: "graph TD\nA-->B\nB-->C"},
	}

	tr := NewTranslator(failingProvider{}, 1, 0)
	if err := tr.TranslateBlocks(context.Background(), blocks); err != nil {
		t.Fatalf("translation failure must not abort: %v", err)
	}

	if blocks[0].Text != "[Translation failed: model overloaded]" {
		t.Errorf("failure marker = %q", blocks[0].Text)
	}
}

func TestScrubCodeResidue(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			"plain prose",
			"This function adds two numbers together.",
			"This function adds two numbers together.",
		},
		{
			"fenced block dropped",
			"The code does a lookup.\n```sql\nSELECT * FROM t\n```\nThen it returns.",
			"The code does a lookup.\nThen it returns.",
		},
		{
			"query keyword line dropped",
			"The query is:\nMATCH (n) RETURN n\nIt finds nodes.",
			"The query is:\nIt finds nodes.",
		},
		{
			"symbol line dropped",
			"Result shape:\n{[(=>)]}:::{}\nA map of values.",
			"Result shape:\nA map of values.",
		},
		{
			"inline backticks stripped",
			"Calls the `fetchRows` helper twice.",
			"Calls the  helper twice.",
		},
		{
			"dollar quote dropped",
			"Defines a body $$ BEGIN RETURN 1; END $$ inline.",
			"Defines a body  inline.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scrubCodeResidue(tt.in); got != tt.want {
				t.Errorf("scrubCodeResidue() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Chunking tests
// ---------------------------------------------------------------------------

func words(n int) string {
	w := make([]string, n)
	for i := range w {
		w[i] = "word"
	}
	return strings.Join(w, " ")
}

func TestChunkSingleSmallDocument(t *testing.T) {
	blocks := []Block{
		{Kind: BlockHeading, Level: 1, Text: "Title"},
		{Kind: BlockText, Text: "A short paragraph."},
	}

	chunks := New(Bounds{Target: 100, Min: 1, Max: 200}).Chunk(blocks)
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if c.ChunkNumber != 1 {
		t.Errorf("chunk number = %d, want 1", c.ChunkNumber)
	}
	if c.BoundaryType != "end_of_document" {
		t.Errorf("boundary = %q, want end_of_document", c.BoundaryType)
	}
	if c.WordCount != 4 {
		t.Errorf("word count = %d, want 4", c.WordCount)
	}
	if c.StartPosition != 0 || c.EndPosition != len(c.Text) {
		t.Errorf("positions [%d, %d) for text of len %d", c.StartPosition, c.EndPosition, len(c.Text))
	}
}

func TestChunkSemanticBoundaryAtHeading(t *testing.T) {
	blocks := []Block{
		{Kind: BlockText, Text: words(12)},
		{Kind: BlockHeading, Level: 2, Text: "Next Section"},
		{Kind: BlockText, Text: words(5)},
	}

	chunks := New(Bounds{Target: 10, Min: 2, Max: 50}).Chunk(blocks)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].BoundaryType != "semantic" {
		t.Errorf("chunk[0] boundary = %q, want semantic", chunks[0].BoundaryType)
	}
	if chunks[0].WordCount != 12 {
		t.Errorf("chunk[0] words = %d, want 12", chunks[0].WordCount)
	}
	if !strings.HasPrefix(chunks[1].Text, "Next Section") {
		t.Errorf("heading should start the new chunk: %q", chunks[1].Text)
	}
	if chunks[1].BoundaryType != "end_of_document" {
		t.Errorf("chunk[1] boundary = %q", chunks[1].BoundaryType)
	}
	if chunks[1].StartPosition != chunks[0].EndPosition+2 {
		t.Errorf("chunk[1] start = %d, want %d", chunks[1].StartPosition, chunks[0].EndPosition+2)
	}
}

func TestChunkForcedAtMax(t *testing.T) {
	blocks := []Block{
		{Kind: BlockText, Text: words(6)},
		{Kind: BlockText, Text: words(6)},
		{Kind: BlockText, Text: words(6)},
	}

	chunks := New(Bounds{Target: 100, Min: 1, Max: 10}).Chunk(blocks)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks[:2] {
		if c.BoundaryType != "semantic" {
			t.Errorf("chunk[%d] boundary = %q, want semantic", i, c.BoundaryType)
		}
		if c.WordCount != 6 {
			t.Errorf("chunk[%d] words = %d, want 6", i, c.WordCount)
		}
	}
}

func TestChunkHardCutOversizedBlock(t *testing.T) {
	blocks := []Block{{Kind: BlockText, Text: words(25)}}

	chunks := New(Bounds{Target: 100, Min: 1, Max: 10}).Chunk(blocks)
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	if chunks[0].BoundaryType != "hard_cut" || chunks[1].BoundaryType != "hard_cut" {
		t.Errorf("boundaries = %q, %q, want hard_cut", chunks[0].BoundaryType, chunks[1].BoundaryType)
	}
	if chunks[0].WordCount != 10 || chunks[1].WordCount != 10 || chunks[2].WordCount != 5 {
		t.Errorf("word counts = %d, %d, %d", chunks[0].WordCount, chunks[1].WordCount, chunks[2].WordCount)
	}
	if chunks[2].BoundaryType != "end_of_document" {
		t.Errorf("last boundary = %q", chunks[2].BoundaryType)
	}
}

func TestHardSplitPrefersSentenceEnd(t *testing.T) {
	c := New(Bounds{Target: 100, Min: 1, Max: 10})
	text := "a b c d e f g h end. j k"

	pieces := c.hardSplit(text)
	if len(pieces) != 2 {
		t.Fatalf("expected 2 pieces, got %d: %q", len(pieces), pieces)
	}
	if !strings.HasSuffix(pieces[0], "end.") {
		t.Errorf("first piece should cut after the sentence: %q", pieces[0])
	}
	if pieces[1] != "j k" {
		t.Errorf("remainder = %q", pieces[1])
	}
}

func TestChunkMergesTrailingFragment(t *testing.T) {
	blocks := []Block{
		{Kind: BlockText, Text: words(6)},
		{Kind: BlockHeading, Level: 2, Text: "Tiny Tail"},
	}

	chunks := New(Bounds{Target: 5, Min: 4, Max: 8}).Chunk(blocks)
	if len(chunks) != 1 {
		t.Fatalf("expected merged single chunk, got %d: %+v", len(chunks), chunks)
	}
	c := chunks[0]
	if c.WordCount != 8 {
		t.Errorf("merged word count = %d, want 8", c.WordCount)
	}
	if c.BoundaryType != "end_of_document" {
		t.Errorf("boundary = %q", c.BoundaryType)
	}
	if c.EndPosition != c.StartPosition+len(c.Text) {
		t.Errorf("merged positions inconsistent: [%d, %d) vs len %d",
			c.StartPosition, c.EndPosition, len(c.Text))
	}
}

func TestChunkHardCutRemainderSurvivesMinMerge(t *testing.T) {
	// One word over Max at default bounds leaves a single-word
	// remainder, far below Min. It must stay its own chunk instead of
	// folding back into the hard_cut chunk.
	blocks := []Block{{Kind: BlockText, Text: words(1501)}}

	chunks := New(Bounds{}).Chunk(blocks)
	if len(chunks) < 2 {
		t.Fatalf("expected >= 2 chunks, got %d: %+v", len(chunks), chunks)
	}
	if chunks[0].BoundaryType != "hard_cut" {
		t.Errorf("chunk[0] boundary = %q, want hard_cut", chunks[0].BoundaryType)
	}
	if chunks[0].WordCount > 1500 {
		t.Errorf("chunk[0] words = %d, want <= 1500", chunks[0].WordCount)
	}
	last := chunks[len(chunks)-1]
	if last.BoundaryType != "end_of_document" {
		t.Errorf("last boundary = %q", last.BoundaryType)
	}
	total := 0
	for _, c := range chunks {
		total += c.WordCount
	}
	if total != 1501 {
		t.Errorf("total words = %d, want 1501", total)
	}
}

func TestChunkPreservesWordSequence(t *testing.T) {
	doc := `# Replication

Database replication copies data across nodes. It protects against
machine loss.

## Failover

When the primary dies, a replica is promoted. Clients reconnect and
continue their work without data loss.
`
	blocks := ParseBlocks([]byte(doc))

	var wantWords []string
	for _, b := range blocks {
		wantWords = append(wantWords, strings.Fields(b.Text)...)
	}

	chunks := New(Bounds{Target: 10, Min: 1, Max: 20}).Chunk(blocks)
	var gotWords []string
	for _, c := range chunks {
		gotWords = append(gotWords, strings.Fields(c.Text)...)
	}

	if len(gotWords) != len(wantWords) {
		t.Fatalf("word count changed: got %d, want %d", len(gotWords), len(wantWords))
	}
	for i := range wantWords {
		if gotWords[i] != wantWords[i] {
			t.Fatalf("word[%d] = %q, want %q", i, gotWords[i], wantWords[i])
		}
	}
}

// ---------------------------------------------------------------------------
// Full pipeline
// ---------------------------------------------------------------------------

func TestProcess(t *testing.T) {
	doc := "# Setup\n\nInstall and configure the service.\n\n" +
		"```go\nfunc run() error {\n\treturn server.Listen()\n}\n```\n\n" +
		"Then verify the health endpoint."

	tr := NewTranslator(llm.NewMock(llm.Config{}), 2, 0)
	chunks, err := Process(context.Background(), doc, tr, Bounds{Target: 100, Min: 1, Max: 200})
	if err != nil {
		t.Fatalf("processing: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if !strings.Contains(chunks[0].Text, "Mock prose translation") {
		t.Errorf("code block not translated: %q", chunks[0].Text)
	}
	// The post-filter drops the RETURN-prefixed line of the mock's preview.
	if strings.Contains(chunks[0].Text, "return server.Listen()") {
		t.Errorf("code residue survived the post-filter: %q", chunks[0].Text)
	}
}

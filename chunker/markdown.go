package chunker

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// BlockKind classifies a top-level markdown block.
type BlockKind int

const (
	BlockHeading BlockKind = iota
	BlockText
	BlockList
	BlockCode
	BlockMermaid
	BlockJSON
	BlockYAML
	BlockOther
)

func (k BlockKind) String() string {
	switch k {
	case BlockHeading:
		return "heading"
	case BlockText:
		return "text"
	case BlockList:
		return "list"
	case BlockCode:
		return "code"
	case BlockMermaid:
		return "mermaid"
	case BlockJSON:
		return "json"
	case BlockYAML:
		return "yaml"
	default:
		return "other"
	}
}

// translatable reports whether blocks of this kind go through
// code-to-prose translation.
func (k BlockKind) translatable() bool {
	switch k {
	case BlockCode, BlockMermaid, BlockJSON, BlockYAML:
		return true
	}
	return false
}

// Block is one typed top-level unit of a markdown document, in document
// order. Start/End are byte offsets into the original source, kept for
// chunk provenance.
type Block struct {
	Kind     BlockKind
	Level    int    // heading depth, headings only
	Ordered  bool   // lists only
	Language string // code fences only
	Text     string
	Start    int
	End      int
}

// ParseBlocks parses markdown into ordered typed blocks using the
// goldmark AST. Container nodes (lists, blockquotes) are flattened to
// their text lines.
func ParseBlocks(source []byte) []Block {
	md := goldmark.New()
	doc := md.Parser().Parse(gmtext.NewReader(source))

	var blocks []Block
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		text, start, end := nodeText(n, source)
		if strings.TrimSpace(text) == "" {
			continue
		}

		b := Block{Text: text, Start: start, End: end}
		switch node := n.(type) {
		case *ast.Heading:
			b.Kind = BlockHeading
			b.Level = node.Level
		case *ast.FencedCodeBlock:
			lang := string(node.Language(source))
			b.Kind = classifyFence(lang)
			b.Language = lang
		case *ast.CodeBlock:
			b.Kind = BlockCode
		case *ast.List:
			b.Kind = BlockList
			b.Ordered = node.IsOrdered()
		case *ast.Paragraph, *ast.Blockquote:
			b.Kind = BlockText
		default:
			b.Kind = BlockOther
		}
		blocks = append(blocks, b)
	}
	return blocks
}

// classifyFence maps a fence language to a block kind.
func classifyFence(lang string) BlockKind {
	switch strings.ToLower(lang) {
	case "mermaid":
		return BlockMermaid
	case "json":
		return BlockJSON
	case "yaml", "yml":
		return BlockYAML
	default:
		return BlockCode
	}
}

// nodeText collects the raw source lines of a node and its descendants.
// Only leaf blocks carry line segments, so containers are flattened
// without double counting. Returns the text plus the byte span covered.
func nodeText(n ast.Node, source []byte) (string, int, int) {
	var b strings.Builder
	start, end := -1, -1

	var walk func(node ast.Node)
	walk = func(node ast.Node) {
		if lines := node.Lines(); lines != nil {
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				if start < 0 || seg.Start < start {
					start = seg.Start
				}
				if seg.Stop > end {
					end = seg.Stop
				}
				b.WriteString(strings.TrimRight(string(seg.Value(source)), "\n"))
				b.WriteString("\n")
			}
		}
		for c := node.FirstChild(); c != nil; c = c.NextSibling() {
			walk(c)
		}
	}
	walk(n)

	if start < 0 {
		start, end = 0, 0
	}
	return strings.TrimRight(b.String(), "\n"), start, end
}

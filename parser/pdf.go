package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/ledongthuc/pdf"
)

type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, data []byte) (*Result, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}

	totalPages := reader.NumPage()
	var b strings.Builder
	extracted := 0

	for i := 1; i <= totalPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip pages that fail to extract
			continue
		}

		md := pageToMarkdown(text)
		if md == "" {
			continue
		}
		b.WriteString(md)
		b.WriteString("\n\n")
		extracted++
	}

	if extracted == 0 {
		return nil, fmt.Errorf("no extractable text in PDF (%d pages)", totalPages)
	}

	return &Result{
		Markdown: strings.TrimSpace(b.String()),
		Format:   "pdf",
		Metadata: map[string]string{"pages": fmt.Sprintf("%d", totalPages)},
	}, nil
}

// pageToMarkdown rewrites one page of extracted text as markdown, promoting
// lines that look like headings.
func pageToMarkdown(text string) string {
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			b.WriteString("\n")
			continue
		}
		if isLikelyHeading(trimmed) {
			b.WriteString("\n")
			b.WriteString(strings.Repeat("#", headingLevel(trimmed)))
			b.WriteString(" ")
			b.WriteString(trimmed)
			b.WriteString("\n\n")
			continue
		}
		b.WriteString(trimmed)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String())
}

// isLikelyHeading detects all-caps lines, numbered sections ("1.1", "3.9.1")
// and common structural prefixes. Pure digits are not headings.
func isLikelyHeading(line string) bool {
	if len(line) < 3 || len(line) > 120 {
		return false
	}

	hasLetter := strings.IndexFunc(line, unicode.IsLetter) >= 0
	if hasLetter && len(line) < 100 && line == strings.ToUpper(line) {
		return true
	}

	if line[0] >= '0' && line[0] <= '9' && strings.Contains(line[:min(10, len(line))], ".") {
		return true
	}

	lower := strings.ToLower(line)
	for _, prefix := range []string{"section ", "chapter ", "part ", "appendix "} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

// headingLevel maps a heading to a markdown depth between 2 and 4. Numbered
// headings derive depth from their dot count.
func headingLevel(line string) int {
	numbering, _, _ := strings.Cut(line, " ")
	if dots := strings.Count(numbering, "."); dots > 0 {
		if dots > 3 {
			return 4
		}
		return dots + 1
	}
	return 2
}

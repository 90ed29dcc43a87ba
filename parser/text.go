package parser

import (
	"context"
	"fmt"
	"strings"
)

// MarkdownParser passes markdown through unchanged.
type MarkdownParser struct{}

func (p *MarkdownParser) SupportedFormats() []string { return []string{"md", "markdown"} }

func (p *MarkdownParser) Parse(ctx context.Context, data []byte) (*Result, error) {
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, fmt.Errorf("empty document")
	}
	return &Result{Markdown: content, Format: "md"}, nil
}

// TextParser handles plain text files. Text is already markdown-ish, so it
// passes through unchanged as well.
type TextParser struct{}

func (p *TextParser) SupportedFormats() []string { return []string{"txt"} }

func (p *TextParser) Parse(ctx context.Context, data []byte) (*Result, error) {
	content := strings.TrimSpace(string(data))
	if content == "" {
		return nil, fmt.Errorf("empty document")
	}
	return &Result{Markdown: content, Format: "txt"}, nil
}

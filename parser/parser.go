package parser

import "context"

// Result is the normalized output of document intake. Whatever the input
// format, downstream preprocessing always sees markdown-ish text.
type Result struct {
	Markdown string
	Format   string // "md", "txt", "pdf", "xlsx"
	Metadata map[string]string
}

// Parser converts one document format into markdown text.
type Parser interface {
	Parse(ctx context.Context, data []byte) (*Result, error)
	SupportedFormats() []string
}

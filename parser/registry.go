package parser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrUnsupported is returned for formats no registered parser handles.
var ErrUnsupported = errors.New("parser: unsupported format")

type Registry struct {
	parsers map[string]Parser
}

func NewRegistry() *Registry {
	r := &Registry{parsers: make(map[string]Parser)}
	for _, p := range []Parser{
		&MarkdownParser{},
		&TextParser{},
		&PDFParser{},
		&XLSXParser{},
	} {
		for _, f := range p.SupportedFormats() {
			r.parsers[f] = p
		}
	}
	return r
}

func (r *Registry) Get(format string) (Parser, error) {
	p, ok := r.parsers[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, format)
	}
	return p, nil
}

func (r *Registry) Register(format string, p Parser) {
	r.parsers[strings.ToLower(format)] = p
}

// Formats lists every registered format, sorted.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.parsers))
	for f := range r.parsers {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// ParseData dispatches in-memory content to the parser for format.
func (r *Registry) ParseData(ctx context.Context, data []byte, format string) (*Result, error) {
	p, err := r.Get(format)
	if err != nil {
		return nil, err
	}
	return p.Parse(ctx, data)
}

// ParseFile reads a file and dispatches on its extension.
func (r *Registry) ParseFile(ctx context.Context, path string) (*Result, error) {
	format := DetectFormat(path)
	p, err := r.Get(format)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	return p.Parse(ctx, data)
}

// DetectFormat derives the lowercase format from a filename extension.
func DetectFormat(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}

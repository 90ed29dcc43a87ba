package parser

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"
)

// ---------------------------------------------------------------------------
// Registry tests
// ---------------------------------------------------------------------------

func TestRegistryBuiltInParsers(t *testing.T) {
	reg := NewRegistry()

	for _, format := range []string{"md", "markdown", "txt", "pdf", "xlsx", "xls"} {
		t.Run(format, func(t *testing.T) {
			p, err := reg.Get(format)
			if err != nil {
				t.Fatalf("Get(%q) returned error: %v", format, err)
			}
			found := false
			for _, f := range p.SupportedFormats() {
				if f == format {
					found = true
					break
				}
			}
			if !found {
				t.Errorf("parser for %q does not list %q in SupportedFormats(): %v",
					format, format, p.SupportedFormats())
			}
		})
	}
}

func TestRegistryUnknown(t *testing.T) {
	reg := NewRegistry()

	for _, format := range []string{"docx", "pptx", "csv", "html", ""} {
		t.Run("format_"+format, func(t *testing.T) {
			p, err := reg.Get(format)
			if !errors.Is(err, ErrUnsupported) {
				t.Errorf("Get(%q) = %v, want ErrUnsupported", format, err)
			}
			if p != nil {
				t.Errorf("Get(%q) expected nil parser", format)
			}
		})
	}
}

func TestRegistryCustomParser(t *testing.T) {
	reg := NewRegistry()

	if _, err := reg.Get("custom"); err == nil {
		t.Fatal("expected error for unregistered format")
	}

	reg.Register("custom", &TextParser{})
	p, err := reg.Get("custom")
	if err != nil {
		t.Fatalf("Get(\"custom\") after Register returned error: %v", err)
	}
	if p == nil {
		t.Fatal("Get(\"custom\") returned nil after Register")
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"notes.md", "md"},
		{"NOTES.MD", "md"},
		{"dir/sub/report.pdf", "pdf"},
		{"budget.XLSX", "xlsx"},
		{"README", ""},
	}
	for _, tt := range tests {
		if got := DetectFormat(tt.path); got != tt.want {
			t.Errorf("DetectFormat(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Pass-through parsers
// ---------------------------------------------------------------------------

func TestMarkdownPassThrough(t *testing.T) {
	reg := NewRegistry()
	content := "# Title\n\nSome body text.\n\n## Section\n\nMore text."

	res, err := reg.ParseData(context.Background(), []byte(content), "md")
	if err != nil {
		t.Fatalf("parsing markdown: %v", err)
	}
	if res.Markdown != content {
		t.Errorf("markdown altered:\ngot:  %q\nwant: %q", res.Markdown, content)
	}
	if res.Format != "md" {
		t.Errorf("format = %q, want md", res.Format)
	}
}

func TestTextPassThrough(t *testing.T) {
	p := &TextParser{}

	res, err := p.Parse(context.Background(), []byte("plain text content\n"))
	if err != nil {
		t.Fatalf("parsing text: %v", err)
	}
	if res.Markdown != "plain text content" {
		t.Errorf("got %q", res.Markdown)
	}
}

func TestEmptyDocumentRejected(t *testing.T) {
	for _, p := range []Parser{&MarkdownParser{}, &TextParser{}} {
		if _, err := p.Parse(context.Background(), []byte("  \n\n ")); err == nil {
			t.Errorf("%T accepted an empty document", p)
		}
	}
}

// ---------------------------------------------------------------------------
// PDF page-to-markdown tests
// ---------------------------------------------------------------------------

func TestPageToMarkdown(t *testing.T) {
	text := `INTRODUCTION
This is the introduction section with some text.

1.1 Scope
The scope of this document covers requirements.

1.2.3 Details
Nested detail text.`

	md := pageToMarkdown(text)

	for _, want := range []string{
		"## INTRODUCTION",
		"## 1.1 Scope",
		"### 1.2.3 Details",
		"This is the introduction section with some text.",
		"The scope of this document covers requirements.",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
}

func TestPageToMarkdownEmpty(t *testing.T) {
	if got := pageToMarkdown("   \n\n   \n  "); got != "" {
		t.Errorf("expected empty markdown, got %q", got)
	}
}

func TestIsLikelyHeading(t *testing.T) {
	tests := []struct {
		name string
		line string
		want bool
	}{
		{"all_caps_short", "INTRODUCTION", true},
		{"all_caps_multi_word", "TERMS AND CONDITIONS", true},
		{"all_caps_too_short", "AB", false},
		{"pure_digits", "2024", false},

		{"numbered_1.1", "1.1 Scope", true},
		{"numbered_1.2.3", "1.2.3 Detailed Requirements", true},
		{"numbered_single_dot", "3. Overview", true},

		{"section_prefix", "Section 5 General", true},
		{"chapter_prefix", "Chapter 2 Architecture", true},
		{"part_prefix", "Part A Summary", true},
		{"appendix_prefix", "Appendix B Tables", true},

		{"regular_sentence", "This is a regular sentence.", false},
		{"lowercase_text", "some regular content here", false},
		{"mixed_case", "The system shall provide...", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isLikelyHeading(tt.line); got != tt.want {
				t.Errorf("isLikelyHeading(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}

func TestHeadingLevel(t *testing.T) {
	tests := []struct {
		heading string
		want    int
	}{
		{"1. Overview", 2},
		{"1.1 Scope", 2},
		{"1.2.3 Detailed", 3},
		{"7.3.1.2 Deep", 4},
		{"INTRODUCTION", 2},
		{"Section 5 General", 2},
	}
	for _, tt := range tests {
		if got := headingLevel(tt.heading); got != tt.want {
			t.Errorf("headingLevel(%q) = %d, want %d", tt.heading, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// XLSX tests
// ---------------------------------------------------------------------------

func TestXLSXToMarkdownTable(t *testing.T) {
	f := excelize.NewFile()
	for cell, value := range map[string]string{
		"A1": "Name", "B1": "Role",
		"A2": "replication", "B2": "availability",
		"A3": "sharding", "B3": "scalability",
	} {
		if err := f.SetCellValue("Sheet1", cell, value); err != nil {
			t.Fatalf("setting %s: %v", cell, err)
		}
	}
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("writing workbook: %v", err)
	}

	res, err := (&XLSXParser{}).Parse(context.Background(), buf.Bytes())
	if err != nil {
		t.Fatalf("parsing workbook: %v", err)
	}

	for _, want := range []string{
		"## Sheet1",
		"| Name | Role |",
		"| --- | --- |",
		"| replication | availability |",
	} {
		if !strings.Contains(res.Markdown, want) {
			t.Errorf("markdown missing %q:\n%s", want, res.Markdown)
		}
	}
	if res.Format != "xlsx" {
		t.Errorf("format = %q, want xlsx", res.Format)
	}
	if res.Metadata["sheets"] != "1" {
		t.Errorf("sheets = %q, want 1", res.Metadata["sheets"])
	}
}

func TestXLSXEmptyWorkbook(t *testing.T) {
	f := excelize.NewFile()
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("writing workbook: %v", err)
	}

	if _, err := (&XLSXParser{}).Parse(context.Background(), buf.Bytes()); err == nil {
		t.Error("expected error for workbook with no data")
	}
}

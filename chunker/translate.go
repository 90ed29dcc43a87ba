package chunker

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"

	"golang.org/x/sync/errgroup"

	"github.com/mleroux/kgraph/llm"
)

const (
	// minTranslateLines is the smallest code block worth an LLM call.
	// Shorter blocks are replaced with a placeholder.
	minTranslateLines = 3

	defaultTranslateWorkers = 3
	defaultTranslateTimeout = 60 * time.Second
)

// Translator converts code-like blocks into prose so that concept
// extraction never sees raw code.
type Translator struct {
	provider llm.Provider
	workers  int
	timeout  time.Duration
}

// NewTranslator returns a Translator running at most workers concurrent
// LLM calls. Zero-value arguments get defaults.
func NewTranslator(provider llm.Provider, workers int, timeout time.Duration) *Translator {
	if workers <= 0 {
		workers = defaultTranslateWorkers
	}
	if timeout <= 0 {
		timeout = defaultTranslateTimeout
	}
	return &Translator{provider: provider, workers: workers, timeout: timeout}
}

// TranslateBlocks rewrites every translatable block in place. Blocks
// under minTranslateLines become placeholders without an LLM call. A
// failed translation becomes a failure marker; it never aborts the
// document. The whole pass runs under a deadline of 1.5x the per-call
// timeout.
func (t *Translator) TranslateBlocks(ctx context.Context, blocks []Block) error {
	ctx, cancel := context.WithTimeout(ctx, time.Duration(1.5*float64(t.timeout)))
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)

	for i := range blocks {
		b := &blocks[i]
		if !b.Kind.translatable() {
			continue
		}

		lines := countLines(b.Text)
		if lines < minTranslateLines {
			b.Text = fmt.Sprintf("[CODE BLOCK: %s - %d lines]", languageLabel(b), lines)
			continue
		}

		g.Go(func() error {
			prose, err := t.provider.TranslateToProse(ctx, llm.TranslateRequest{
				Code:     b.Text,
				Language: languageLabel(b),
			})
			if err != nil {
				slog.Warn("chunker: code translation failed",
					"language", languageLabel(b), "lines", lines, "error", err)
				b.Text = fmt.Sprintf("[Translation failed: %s]", err)
				return nil
			}
			prose = scrubCodeResidue(prose)
			if prose == "" {
				b.Text = fmt.Sprintf("[CODE BLOCK: %s - %d lines]", languageLabel(b), lines)
				return nil
			}
			b.Text = prose
			return nil
		})
	}

	return g.Wait()
}

func languageLabel(b *Block) string {
	if b.Language != "" {
		return b.Language
	}
	return b.Kind.String()
}

func countLines(text string) int {
	return len(strings.Split(strings.TrimSpace(text), "\n"))
}

// ---------------------------------------------------------------------------
// Post-filter
// ---------------------------------------------------------------------------

// queryKeywords are statement openers that mark a line as leaked query
// syntax rather than prose.
var queryKeywords = []string{
	"SELECT", "INSERT", "UPDATE", "DELETE", "CREATE", "DROP", "ALTER",
	"MATCH", "MERGE", "RETURN", "WITH", "WHERE", "UNWIND", "CALL",
}

var (
	inlineCodeRe  = regexp.MustCompile("`[^`]*`")
	dollarQuoteRe = regexp.MustCompile(`\$\$[\s\S]*?\$\$`)
)

// scrubCodeResidue strips code that leaked into a prose translation:
// fenced blocks, inline backtick spans, dollar-quoted strings, lines
// opening with query keywords, and symbol-dominated lines.
func scrubCodeResidue(text string) string {
	text = dollarQuoteRe.ReplaceAllString(text, "")
	text = inlineCodeRe.ReplaceAllString(text, "")

	var out []string
	inFence := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if trimmed == "" {
			if len(out) > 0 && out[len(out)-1] != "" {
				out = append(out, "")
			}
			continue
		}
		if startsWithQueryKeyword(trimmed) {
			continue
		}
		if symbolRatio(trimmed) > 0.4 {
			continue
		}
		out = append(out, trimmed)
	}

	return strings.TrimSpace(strings.Join(out, "\n"))
}

func startsWithQueryKeyword(line string) bool {
	upper := strings.ToUpper(line)
	for _, kw := range queryKeywords {
		if upper == kw || strings.HasPrefix(upper, kw+" ") {
			return true
		}
	}
	return false
}

// symbolRatio is the share of non-space characters that are neither
// letters nor digits.
func symbolRatio(line string) float64 {
	total, symbols := 0, 0
	for _, r := range line {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			symbols++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(symbols) / float64(total)
}

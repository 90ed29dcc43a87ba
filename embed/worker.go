// Package embed funnels every embedding request through one worker so a
// local model is never hit by concurrent callers. The worker is also
// where batch jobs live: the builtin vocabulary cold start and the
// regeneration sweeps that backfill vocabulary and concept embeddings.
package embed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/semaphore"

	"github.com/mleroux/kgraph/llm"
	"github.com/mleroux/kgraph/store"
	"github.com/mleroux/kgraph/vocab"
)

// embedBatchSize bounds one provider call during batch regeneration.
const embedBatchSize = 32

// maxEmbedChars caps a single text sent to the embedding model. Most
// embedding models have an 8192-token window; ~24000 chars leaves
// headroom for tokenisers with unusual token/char ratios.
const maxEmbedChars = 24000

// maxErrorSamples bounds the error list carried in a batch result.
const maxErrorSamples = 10

// builtinInitComponent is the system_initialization_status row marking
// the builtin vocabulary cold start complete.
const builtinInitComponent = "builtin_vocabulary_embeddings"

// defaultRemoteConcurrency caps parallel requests against remote
// embedding providers.
const defaultRemoteConcurrency = 4

var errEmptyEmbedding = errors.New("empty embedding")

// Config names the embedding backend and its concurrency budget.
type Config struct {
	// Provider and Model are recorded on batch results so job payloads
	// say which backend produced the vectors.
	Provider string
	Model    string
	// RemoteConcurrency caps parallel requests for remote providers.
	// Local providers always serialize regardless.
	RemoteConcurrency int
}

// Worker is the single embedding entry point for the whole engine: the
// ingestion pipeline, the vocabulary manager, and the query core all
// embed through it.
type Worker struct {
	provider llm.Provider
	store    *store.Store
	sem      *semaphore.Weighted
	model    string
	backend  string
}

// NewWorker wraps an embedding provider. Local backends (ollama, mock)
// get a single request slot; remote backends run concurrently up to
// the configured cap.
func NewWorker(s *store.Store, provider llm.Provider, cfg Config) *Worker {
	slots := int64(cfg.RemoteConcurrency)
	if slots <= 0 {
		slots = defaultRemoteConcurrency
	}
	if localProvider(cfg.Provider) {
		slots = 1
	}
	return &Worker{
		provider: provider,
		store:    s,
		sem:      semaphore.NewWeighted(slots),
		model:    cfg.Model,
		backend:  cfg.Provider,
	}
}

// localProvider reports whether the backend runs on this device and
// needs serialized access.
func localProvider(name string) bool {
	switch name {
	case "ollama", "mock", "":
		return true
	}
	return false
}

// Embed generates embeddings for a batch of texts, each truncated to
// the model window. The call blocks until a request slot frees up or
// the context is cancelled.
func (w *Worker) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := w.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer w.sem.Release(1)

	bounded := make([]string, len(texts))
	for i, t := range texts {
		bounded[i] = truncateForEmbed(t)
	}
	return w.provider.Embed(ctx, bounded)
}

// EmbedOne embeds a single text.
func (w *Worker) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	embs, err := w.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embs) == 0 || len(embs[0]) == 0 {
		return nil, errEmptyEmbedding
	}
	return embs[0], nil
}

// truncateForEmbed cuts text to maxEmbedChars on a word boundary. With
// no space in the window the cut backs off to a rune boundary so the
// provider never sees a split rune.
func truncateForEmbed(text string) string {
	if len(text) <= maxEmbedChars {
		return text
	}
	cut := strings.LastIndex(text[:maxEmbedChars], " ")
	if cut <= 0 {
		cut = maxEmbedChars
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
	}
	return text[:cut]
}

// ---------------------------------------------------------------------------
// Batch jobs
// ---------------------------------------------------------------------------

// BatchResult summarizes one embedding batch job.
type BatchResult struct {
	TargetCount        int      `json:"target_count"`
	Processed          int      `json:"processed"`
	Failed             int      `json:"failed"`
	SuccessRate        float64  `json:"success_rate"`
	DurationMS         int64    `json:"duration_ms"`
	Model              string   `json:"model"`
	Provider           string   `json:"provider"`
	Errors             []string `json:"errors,omitempty"`
	AlreadyInitialized bool     `json:"already_initialized,omitempty"`
}

func (r *BatchResult) recordFailure(name string, err error) {
	r.Failed++
	if len(r.Errors) < maxErrorSamples {
		r.Errors = append(r.Errors, fmt.Sprintf("%s: %v", name, err))
	}
}

func (r *BatchResult) finish(start time.Time) {
	r.DurationMS = time.Since(start).Milliseconds()
	if r.TargetCount == 0 {
		r.SuccessRate = 100
		return
	}
	r.SuccessRate = math.Round(float64(r.Processed)/float64(r.TargetCount)*1000) / 10
}

// ProgressFunc receives counters after every committed batch.
type ProgressFunc func(processed, failed, total int)

// RegenOptions select the regeneration targets.
type RegenOptions struct {
	// OnlyMissing targets active types with no embedding yet.
	OnlyMissing bool
	// OnlyStale targets types whose embeddings were marked stale, for
	// example after an embedding model change.
	OnlyStale bool
	// BuiltinOnly drops non-builtin types from the target set.
	BuiltinOnly bool
}

// embedBatch embeds one batch and hands each vector to commit. A batch
// failure falls back to per-text calls so one oversized or rejected
// text does not lose the whole batch.
func (w *Worker) embedBatch(ctx context.Context, texts []string, key func(int) string, r *BatchResult, commit func(int, []float32)) {
	embs, err := w.Embed(ctx, texts)
	if err != nil {
		slog.Warn("embed: batch failed, falling back to individual",
			"size", len(texts), "error", err)
		for j, text := range texts {
			single, serr := w.Embed(ctx, []string{text})
			if serr != nil {
				r.recordFailure(key(j), serr)
				continue
			}
			if len(single) == 0 || len(single[0]) == 0 {
				r.recordFailure(key(j), errEmptyEmbedding)
				continue
			}
			commit(j, single[0])
		}
		return
	}
	for j, emb := range embs {
		if len(emb) == 0 {
			r.recordFailure(key(j), errEmptyEmbedding)
			continue
		}
		commit(j, emb)
	}
}

// RegenerateVocab (re)generates vocabulary-type embeddings, most used
// types first. With neither flag set every active type is regenerated.
func (w *Worker) RegenerateVocab(ctx context.Context, opts RegenOptions, progress ProgressFunc) (*BatchResult, error) {
	start := time.Now()

	var types []store.VocabType
	var err error
	switch {
	case opts.OnlyStale:
		types, err = w.store.VocabTypesNeedingEmbeddings(ctx, true)
	case opts.OnlyMissing:
		types, err = w.store.VocabTypesNeedingEmbeddings(ctx, false)
	default:
		types, err = w.store.ListVocabTypes(ctx, true)
	}
	if err != nil {
		return nil, fmt.Errorf("embed: list vocabulary: %w", err)
	}
	if opts.BuiltinOnly {
		kept := types[:0]
		for _, t := range types {
			if t.IsBuiltin {
				kept = append(kept, t)
			}
		}
		types = kept
	}

	result := &BatchResult{TargetCount: len(types), Model: w.model, Provider: w.backend}
	for i := 0; i < len(types); i += embedBatchSize {
		if err := ctx.Err(); err != nil {
			result.finish(start)
			return result, err
		}
		end := min(i+embedBatchSize, len(types))
		batch := types[i:end]
		texts := make([]string, len(batch))
		for j, t := range batch {
			texts[j] = vocab.DescriptiveText(t.RelationshipType, t.Description)
		}

		w.embedBatch(ctx, texts,
			func(j int) string { return batch[j].RelationshipType },
			result,
			func(j int, emb []float32) {
				if err := w.store.SetVocabEmbedding(ctx, batch[j].RelationshipType, emb); err != nil {
					slog.Warn("embed: storing vocabulary embedding failed",
						"type", batch[j].RelationshipType, "error", err)
					result.recordFailure(batch[j].RelationshipType, err)
					return
				}
				result.Processed++
			})
		if progress != nil {
			progress(result.Processed, result.Failed, result.TargetCount)
		}
	}

	result.finish(start)
	slog.Info("embed: vocabulary embeddings generated",
		"processed", result.Processed, "failed", result.Failed,
		"targets", result.TargetCount,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return result, nil
}

// InitializeBuiltins embeds builtin vocabulary types that have no
// embedding yet and marks the cold start complete. Idempotent: once the
// initialization row exists the call returns immediately, and a partial
// failure leaves the row unset so the next call retries the remainder.
func (w *Worker) InitializeBuiltins(ctx context.Context) (*BatchResult, error) {
	done, err := w.store.IsComponentInitialized(ctx, builtinInitComponent)
	if err != nil {
		return nil, fmt.Errorf("embed: init status: %w", err)
	}
	if done {
		return &BatchResult{
			AlreadyInitialized: true,
			SuccessRate:        100,
			Model:              w.model,
			Provider:           w.backend,
		}, nil
	}

	result, err := w.RegenerateVocab(ctx, RegenOptions{OnlyMissing: true, BuiltinOnly: true}, nil)
	if err != nil {
		return result, err
	}
	if result.Failed > 0 {
		return result, fmt.Errorf("embed: builtin initialization incomplete: %d of %d failed",
			result.Failed, result.TargetCount)
	}
	details := fmt.Sprintf("%d builtin types embedded", result.Processed)
	if err := w.store.MarkComponentInitialized(ctx, builtinInitComponent, details); err != nil {
		return result, fmt.Errorf("embed: mark initialized: %w", err)
	}
	slog.Info("embed: builtin vocabulary initialized", "embedded", result.Processed)
	return result, nil
}

// RegenerateConcepts backfills missing concept embeddings, most seen
// concepts first. An empty ontology sweeps all ontologies.
func (w *Worker) RegenerateConcepts(ctx context.Context, ontology string, limit int, progress ProgressFunc) (*BatchResult, error) {
	start := time.Now()
	concepts, err := w.store.ConceptsMissingEmbeddings(ctx, ontology, limit)
	if err != nil {
		return nil, fmt.Errorf("embed: list concepts: %w", err)
	}

	result := &BatchResult{TargetCount: len(concepts), Model: w.model, Provider: w.backend}
	for i := 0; i < len(concepts); i += embedBatchSize {
		if err := ctx.Err(); err != nil {
			result.finish(start)
			return result, err
		}
		end := min(i+embedBatchSize, len(concepts))
		batch := concepts[i:end]
		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = conceptText(c)
		}

		w.embedBatch(ctx, texts,
			func(j int) string { return batch[j].ConceptID },
			result,
			func(j int, emb []float32) {
				if err := w.store.UpsertConceptEmbedding(ctx, batch[j].ID, emb); err != nil {
					slog.Warn("embed: storing concept embedding failed",
						"concept", batch[j].ConceptID, "error", err)
					result.recordFailure(batch[j].ConceptID, err)
					return
				}
				result.Processed++
			})
		if progress != nil {
			progress(result.Processed, result.Failed, result.TargetCount)
		}
	}

	result.finish(start)
	slog.Info("embed: concept embeddings generated",
		"processed", result.Processed, "failed", result.Failed,
		"targets", result.TargetCount, "ontology", ontology,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return result, nil
}

// conceptText is the text embedded for an existing concept: label plus
// search terms, matching what ingestion embeds at creation time.
func conceptText(c store.Concept) string {
	if len(c.SearchTerms) == 0 {
		return c.Label
	}
	return c.Label + " " + strings.Join(c.SearchTerms, " ")
}

// Package graph builds the knowledge graph out of chunked documents and
// answers traversal queries over it. Ingestion is strictly serial per
// document: each chunk may link to concepts created by the chunks before
// it, which is what keeps re-extracted concepts deduplicated.
package graph

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mleroux/kgraph/chunker"
	"github.com/mleroux/kgraph/llm"
	"github.com/mleroux/kgraph/store"
	"github.com/mleroux/kgraph/vocab"
)

// defaultMatchThreshold is the similarity above which an extracted
// concept links to an existing node instead of creating a duplicate.
const defaultMatchThreshold = 0.85

// defaultCarryOver is how many previous chunks feed recent-concept
// context into extraction.
const defaultCarryOver = 3

// defaultContextConcepts caps the most-accessed concepts appended to
// the extraction context.
const defaultContextConcepts = 10

// defaultChunkTimeout caps extraction plus persistence for one chunk.
const defaultChunkTimeout = 90 * time.Second

// estimateTokens approximates token count using a word-based heuristic.
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	return int(math.Ceil(float64(words) * 1.3))
}

// Stats are the counters accumulated over one ingestion run.
type Stats struct {
	ChunksProcessed      int `json:"chunks_processed"`
	SourcesCreated       int `json:"sources_created"`
	ConceptsCreated      int `json:"concepts_created"`
	ConceptsLinked       int `json:"concepts_linked"`
	InstancesCreated     int `json:"instances_created"`
	RelationshipsCreated int `json:"relationships_created"`
	ExtractionTokens     int `json:"extraction_tokens"`
	EmbeddingTokens      int `json:"embedding_tokens"`
}

// Document is the metadata of the file being ingested. The provenance
// fields (SourceType, FilePath, Hostname, IngestedBy, JobID) are
// recorded on the document row but do not affect extraction.
type Document struct {
	Ontology    string
	DocumentID  string
	Filename    string
	ContentHash string
	FileExt     string
	FileSize    int64
	StorageKey  string
	SourceType  string
	FilePath    string
	Hostname    string
	IngestedBy  string
	JobID       string
}

// ProgressFunc receives a stats snapshot after every chunk commits.
type ProgressFunc func(stats Stats, chunk, total int)

// BuilderConfig tunes the ingestion pipeline. Zero values take the
// package defaults.
type BuilderConfig struct {
	MatchThreshold  float64
	CarryOverChunks int
	ContextConcepts int
	ChunkTimeout    time.Duration
}

// Builder turns semantic chunks into sources, concepts, evidence
// instances, and typed edges.
type Builder struct {
	store    *store.Store
	provider llm.Provider
	vocab    *vocab.Manager
	cfg      BuilderConfig
}

// NewBuilder creates an ingestion builder. The provider handles both
// extraction and embedding; production wiring passes the embedding
// worker so vector generation is funneled through one place.
func NewBuilder(s *store.Store, provider llm.Provider, vm *vocab.Manager, cfg BuilderConfig) *Builder {
	if cfg.MatchThreshold <= 0 {
		cfg.MatchThreshold = defaultMatchThreshold
	}
	if cfg.CarryOverChunks <= 0 {
		cfg.CarryOverChunks = defaultCarryOver
	}
	if cfg.ContextConcepts <= 0 {
		cfg.ContextConcepts = defaultContextConcepts
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = defaultChunkTimeout
	}
	return &Builder{store: s, provider: provider, vocab: vm, cfg: cfg}
}

// Ingest processes chunks strictly in document order and returns the
// accumulated statistics. A chunk where every concept fails aborts the
// run (an embedding outage would otherwise shred the whole document);
// the stats returned alongside the error cover the committed prefix.
func (b *Builder) Ingest(ctx context.Context, doc Document, chunks []chunker.Chunk, progress ProgressFunc) (*Stats, error) {
	stats := &Stats{}
	if len(chunks) == 0 {
		return stats, nil
	}
	if doc.Ontology == "" {
		return nil, fmt.Errorf("graph: ontology required")
	}
	if err := b.store.EnsureOntology(ctx, doc.Ontology); err != nil {
		return nil, fmt.Errorf("graph: ensure ontology %s: %w", doc.Ontology, err)
	}

	stem := sanitizeFilename(doc.Filename)
	start := time.Now()
	slog.Info("graph: ingesting document",
		"document", doc.DocumentID, "ontology", doc.Ontology, "chunks", len(chunks))

	// Carry-over window: the concepts each recent chunk produced, newest
	// last. Bounds the extraction prompt while letting adjacent chunks
	// share vocabulary.
	var window [][]llm.RecentConcept

	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if strings.TrimSpace(chunk.Text) == "" {
			slog.Debug("graph: skipping empty chunk", "chunk", chunk.ChunkNumber)
			continue
		}

		recent := b.recentContext(ctx, doc.Ontology, window)

		chunkCtx, cancel := context.WithTimeout(ctx, b.cfg.ChunkTimeout)
		chunkStart := time.Now()
		added, err := b.processChunk(chunkCtx, doc, stem, chunk, recent, stats)
		cancel()
		if err != nil {
			return stats, fmt.Errorf("graph: chunk %d: %w", chunk.ChunkNumber, err)
		}

		stats.ChunksProcessed++
		window = append(window, added)
		if len(window) > b.cfg.CarryOverChunks {
			window = window[1:]
		}

		slog.Info("graph: chunk ingested",
			"progress", fmt.Sprintf("%d/%d", i+1, len(chunks)),
			"document", doc.DocumentID,
			"concepts_created", stats.ConceptsCreated,
			"concepts_linked", stats.ConceptsLinked,
			"elapsed", time.Since(chunkStart).Round(time.Millisecond))
		if progress != nil {
			progress(*stats, i+1, len(chunks))
		}
	}

	ext := doc.FileExt
	if ext == "" {
		ext = strings.TrimPrefix(filepath.Ext(doc.Filename), ".")
	}
	if err := b.store.UpsertDocumentMeta(ctx, store.DocumentMeta{
		DocumentID:  doc.DocumentID,
		Ontology:    doc.Ontology,
		ContentHash: doc.ContentHash,
		Filename:    doc.Filename,
		FileExt:     ext,
		FileSize:    doc.FileSize,
		SourceType:  doc.SourceType,
		FilePath:    doc.FilePath,
		Hostname:    doc.Hostname,
		IngestedBy:  doc.IngestedBy,
		JobID:       doc.JobID,
		StorageKey:  doc.StorageKey,
		SourceCount: stats.SourcesCreated,
	}); err != nil {
		return stats, fmt.Errorf("graph: document meta %s: %w", doc.DocumentID, err)
	}
	if _, err := b.store.BumpEpoch(ctx); err != nil {
		slog.Warn("graph: epoch bump failed", "document", doc.DocumentID, "error", err)
	}

	slog.Info("graph: document ingested",
		"document", doc.DocumentID,
		"chunks", stats.ChunksProcessed,
		"concepts_created", stats.ConceptsCreated,
		"concepts_linked", stats.ConceptsLinked,
		"relationships", stats.RelationshipsCreated,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return stats, nil
}

// processChunk runs the per-chunk pipeline: source row, extraction,
// concept resolution, evidence, then edges. It returns the concepts this
// chunk contributed to the carry-over window.
func (b *Builder) processChunk(ctx context.Context, doc Document, stem string, chunk chunker.Chunk, recent []llm.RecentConcept, stats *Stats) ([]llm.RecentConcept, error) {
	sourceID := fmt.Sprintf("%s_chunk%d", stem, chunk.ChunkNumber)

	if err := b.store.InsertSources(ctx, []store.Source{{
		SourceID:        sourceID,
		Ontology:        doc.Ontology,
		Document:        doc.DocumentID,
		Paragraph:       chunk.ChunkNumber,
		FullText:        chunk.Text,
		FilePath:        doc.Filename,
		StorageKey:      doc.StorageKey,
		CharOffsetStart: chunk.StartPosition,
		CharOffsetEnd:   chunk.EndPosition,
		ChunkIndex:      chunk.ChunkNumber,
		BoundaryType:    chunk.BoundaryType,
	}}); err != nil {
		return nil, fmt.Errorf("insert source %s: %w", sourceID, err)
	}
	stats.SourcesCreated++

	result, err := b.provider.ExtractConcepts(ctx, llm.ExtractRequest{
		ChunkText: chunk.Text,
		SourceID:  sourceID,
		Recent:    recent,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction: %w", err)
	}
	stats.ExtractionTokens += estimateTokens(chunk.Text)

	// Resolution map from provider-scoped ids and labels to canonical
	// concept ids, pre-seeded with the carry-over window so relations
	// can reference concepts from earlier chunks.
	resolve := make(map[string]string, len(result.Concepts)+len(recent))
	for _, rc := range recent {
		resolve[strings.ToLower(rc.Label)] = rc.ID
	}

	var added []llm.RecentConcept
	var conceptErrs []string
	for _, ec := range result.Concepts {
		id, err := b.resolveConcept(ctx, doc.Ontology, sourceID, ec, stats)
		if err != nil {
			slog.Warn("graph: concept failed, skipping",
				"label", ec.Label, "source", sourceID, "error", err)
			conceptErrs = append(conceptErrs, err.Error())
			continue
		}
		if ec.ID != "" {
			resolve[strings.ToLower(ec.ID)] = id
		}
		resolve[strings.ToLower(ec.Label)] = id
		added = append(added, llm.RecentConcept{ID: id, Label: ec.Label})

		for _, inst := range ec.Instances {
			_, created, err := b.store.InsertInstance(ctx, store.Instance{
				ConceptID: id,
				SourceID:  sourceID,
				Quote:     inst.Quote,
				Relevance: inst.Relevance,
				Document:  doc.DocumentID,
				Paragraph: chunk.ChunkNumber,
			})
			if err != nil {
				slog.Warn("graph: instance failed, skipping", "concept", id, "error", err)
				continue
			}
			if created {
				stats.InstancesCreated++
			}
		}
	}
	if len(result.Concepts) > 0 && len(conceptErrs) == len(result.Concepts) {
		return nil, fmt.Errorf("all %d concepts failed; first error: %s",
			len(result.Concepts), conceptErrs[0])
	}

	for _, rel := range result.Relations {
		b.persistRelation(ctx, doc, sourceID, rel, resolve, stats)
	}
	return added, nil
}

// resolveConcept links an extracted concept to an existing node above
// the match threshold, or creates a new one with a deterministic
// source-scoped id.
func (b *Builder) resolveConcept(ctx context.Context, ontology, sourceID string, ec llm.ExtractedConcept, stats *Stats) (string, error) {
	text := conceptEmbedText(ec)
	embs, err := b.provider.Embed(ctx, []string{text})
	if err != nil {
		return "", fmt.Errorf("embed %q: %w", ec.Label, err)
	}
	if len(embs) == 0 {
		return "", fmt.Errorf("embed %q: empty batch", ec.Label)
	}
	stats.EmbeddingTokens += estimateTokens(text)

	hits, err := b.store.VectorSearchConcepts(ctx, embs[0], 1, ontology)
	if err != nil {
		return "", fmt.Errorf("vector search: %w", err)
	}
	if len(hits) > 0 && hits[0].Score >= b.cfg.MatchThreshold {
		hit := hits[0]
		if err := b.store.TouchConcept(ctx, hit.ConceptID); err != nil {
			return "", fmt.Errorf("touch %s: %w", hit.ConceptID, err)
		}
		if err := b.store.LinkConceptSource(ctx, hit.ConceptID, sourceID); err != nil {
			return "", fmt.Errorf("link %s: %w", hit.ConceptID, err)
		}
		stats.ConceptsLinked++
		return hit.ConceptID, nil
	}

	conceptID := sourceID + "_" + randomSuffix()
	rowID, err := b.store.InsertConcept(ctx, store.Concept{
		ConceptID:   conceptID,
		Ontology:    ontology,
		Label:       ec.Label,
		SearchTerms: ec.SearchTerms,
	})
	if err != nil {
		return "", fmt.Errorf("insert concept %q: %w", ec.Label, err)
	}
	if err := b.store.UpsertConceptEmbedding(ctx, rowID, embs[0]); err != nil {
		return "", fmt.Errorf("store embedding for %s: %w", conceptID, err)
	}
	if err := b.store.LinkConceptSource(ctx, conceptID, sourceID); err != nil {
		return "", fmt.Errorf("link %s: %w", conceptID, err)
	}
	stats.ConceptsCreated++
	return conceptID, nil
}

// persistRelation normalizes the relationship type through the
// vocabulary and writes the edge. Failures are logged and skipped; a bad
// relation never fails a chunk.
func (b *Builder) persistRelation(ctx context.Context, doc Document, sourceID string, rel llm.ExtractedRelation, resolve map[string]string, stats *Stats) {
	from, ok := b.lookupConcept(ctx, doc.Ontology, rel.From, resolve)
	if !ok {
		slog.Warn("graph: relation endpoint unknown, skipping",
			"from", rel.From, "to", rel.To, "type", rel.Type)
		return
	}
	to, ok := b.lookupConcept(ctx, doc.Ontology, rel.To, resolve)
	if !ok {
		slog.Warn("graph: relation endpoint unknown, skipping",
			"from", rel.From, "to", rel.To, "type", rel.Type)
		return
	}
	if from == to {
		return
	}

	ensured, err := b.vocab.EnsureType(ctx, rel.Type)
	if err != nil {
		slog.Warn("graph: relationship type rejected, skipping",
			"type", rel.Type, "error", err)
		return
	}

	confidence := rel.Confidence
	if confidence <= 0 {
		confidence = 1.0
	}
	_, created, err := b.store.UpsertEdge(ctx, store.Edge{
		Ontology:     doc.Ontology,
		FromConcept:  from,
		ToConcept:    to,
		RelationType: ensured.Type,
		Confidence:   confidence,
		Category:     ensured.Category,
		Source:       sourceID,
		CreatedBy:    "ingestion",
		JobID:        doc.JobID,
		DocumentID:   doc.DocumentID,
	})
	if err != nil {
		slog.Warn("graph: edge insert failed, skipping",
			"from", from, "to", to, "type", ensured.Type, "error", err)
		return
	}
	if !created {
		return
	}
	stats.RelationshipsCreated++
	if err := b.store.IncrementVocabUsage(ctx, ensured.Type, 1); err != nil {
		slog.Warn("graph: usage counter update failed", "type", ensured.Type, "error", err)
	}
}

// lookupConcept resolves a provider-scoped id or label to a canonical
// concept id, falling back to a label lookup for concepts older than
// the carry-over window.
func (b *Builder) lookupConcept(ctx context.Context, ontology, ref string, resolve map[string]string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(ref))
	if key == "" {
		return "", false
	}
	if id, ok := resolve[key]; ok {
		return id, true
	}
	c, err := b.store.GetConceptByLabel(ctx, ontology, strings.TrimSpace(ref))
	if err != nil {
		return "", false
	}
	resolve[key] = c.ConceptID
	return c.ConceptID, true
}

// recentContext flattens the carry-over window newest chunk first and
// appends the ontology's most accessed concepts.
func (b *Builder) recentContext(ctx context.Context, ontology string, window [][]llm.RecentConcept) []llm.RecentConcept {
	var out []llm.RecentConcept
	seen := make(map[string]bool)
	for i := len(window) - 1; i >= 0; i-- {
		for _, rc := range window[i] {
			if seen[rc.ID] {
				continue
			}
			seen[rc.ID] = true
			out = append(out, rc)
		}
	}

	popular, err := b.store.MostAccessedConcepts(ctx, ontology, b.cfg.ContextConcepts)
	if err != nil {
		slog.Warn("graph: most-accessed lookup failed", "error", err)
		return out
	}
	for _, c := range popular {
		if seen[c.ConceptID] {
			continue
		}
		seen[c.ConceptID] = true
		out = append(out, llm.RecentConcept{ID: c.ConceptID, Label: c.Label})
	}
	return out
}

// conceptEmbedText is the canonical text embedded for a concept: the
// label plus its search terms, which pulls paraphrases of the same
// concept together in vector space.
func conceptEmbedText(ec llm.ExtractedConcept) string {
	if len(ec.SearchTerms) == 0 {
		return ec.Label
	}
	return ec.Label + " " + strings.Join(ec.SearchTerms, " ")
}

var nonSourceIdent = regexp.MustCompile(`[^a-z0-9_-]+`)

// sanitizeFilename turns a filename into the stable stem used for
// source ids: extension dropped, lowercased, everything outside
// [a-z0-9_-] collapsed to underscores.
func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	base = strings.ToLower(base)
	base = nonSourceIdent.ReplaceAllString(base, "_")
	base = strings.Trim(base, "_")
	if base == "" {
		return "document"
	}
	return base
}

// randomSuffix is the 8-hex-char disambiguator appended to new concept
// ids so re-chunked documents never collide.
func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

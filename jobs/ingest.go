package jobs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/mleroux/kgraph/chunker"
	"github.com/mleroux/kgraph/graph"
	"github.com/mleroux/kgraph/parser"
	"github.com/mleroux/kgraph/store"
)

// IngestPayload is the queued form of one ingestion request. Content
// travels base64-encoded inside the job row, so a queued upload
// survives a restart.
type IngestPayload struct {
	Content     []byte         `json:"content"`
	Ontology    string         `json:"ontology"`
	Filename    string         `json:"filename"`
	ContentHash string         `json:"content_hash,omitempty"`
	SourceType  string         `json:"source_type,omitempty"`
	FilePath    string         `json:"file_path,omitempty"`
	Hostname    string         `json:"hostname,omitempty"`
	StorageKey  string         `json:"storage_key,omitempty"`
	Bounds      chunker.Bounds `json:"bounds,omitempty"`
}

// IngestResult is the job result recorded after a successful run.
type IngestResult struct {
	Ontology        string       `json:"ontology"`
	Filename        string       `json:"filename"`
	DocumentID      string       `json:"document_id"`
	ChunksProcessed int          `json:"chunks_processed"`
	Message         string       `json:"message,omitempty"`
	Stats           *graph.Stats `json:"stats,omitempty"`
}

// ingestProgress is the snapshot written into the job's progress
// column while chunks commit.
type ingestProgress struct {
	Stage                string  `json:"stage"`
	ChunksTotal          int     `json:"chunks_total"`
	ChunksProcessed      int     `json:"chunks_processed"`
	Percent              float64 `json:"percent"`
	ConceptsCreated      int     `json:"concepts_created,omitempty"`
	ConceptsLinked       int     `json:"concepts_linked,omitempty"`
	SourcesCreated       int     `json:"sources_created,omitempty"`
	InstancesCreated     int     `json:"instances_created,omitempty"`
	RelationshipsCreated int     `json:"relationships_created,omitempty"`
}

// Ingestor turns queued ingestion payloads into graph content: parse,
// chunk, then hand the chunks to the graph builder. The document id is
// the content hash, so identical content always maps to the same
// document.
type Ingestor struct {
	store      *store.Store
	parsers    *parser.Registry
	translator *chunker.Translator
	builder    *graph.Builder
}

// NewIngestor wires the ingestion worker. A nil translator skips
// code-to-prose translation.
func NewIngestor(s *store.Store, parsers *parser.Registry, tr *chunker.Translator, b *graph.Builder) *Ingestor {
	return &Ingestor{store: s, parsers: parsers, translator: tr, builder: b}
}

// Run executes one queued ingestion job.
func (ing *Ingestor) Run(ctx context.Context, job store.Job, update ProgressFunc) (*Outcome, error) {
	var p IngestPayload
	if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
		return nil, fmt.Errorf("jobs: ingest payload: %w", err)
	}
	res, err := ing.Execute(ctx, p, job.UserID, job.JobID, update)
	if err != nil {
		return nil, err
	}
	return &Outcome{Result: *res}, nil
}

// Execute runs the ingestion pipeline for one payload. The queue calls
// it through Run; synchronous ingestion calls it directly with a
// generated job id so provenance columns fill in either path.
func (ing *Ingestor) Execute(ctx context.Context, p IngestPayload, userID, jobID string, update ProgressFunc) (*IngestResult, error) {
	if p.Ontology == "" || p.Filename == "" {
		return nil, fmt.Errorf("jobs: ingest payload missing ontology or filename")
	}
	if len(p.Content) == 0 {
		return nil, fmt.Errorf("jobs: ingest payload has no content")
	}
	if update == nil {
		update = func(interface{}) {}
	}
	hash := p.ContentHash
	if hash == "" {
		sum := sha256.Sum256(p.Content)
		hash = hex.EncodeToString(sum[:])
	}

	format := parser.DetectFormat(p.Filename)
	parsed, err := ing.parsers.ParseData(ctx, p.Content, format)
	if err != nil {
		return nil, fmt.Errorf("jobs: parse %s: %w", p.Filename, err)
	}

	chunks, err := chunker.Process(ctx, parsed.Markdown, ing.translator, p.Bounds)
	if err != nil {
		return nil, fmt.Errorf("jobs: chunk %s: %w", p.Filename, err)
	}
	update(ingestProgress{Stage: "chunking_complete", ChunksTotal: len(chunks)})

	if len(chunks) == 0 {
		return &IngestResult{
			Ontology:   p.Ontology,
			Filename:   p.Filename,
			DocumentID: hash,
			Message:    "No chunks to process",
		}, nil
	}

	stats, err := ing.builder.Ingest(ctx, graph.Document{
		Ontology:    p.Ontology,
		DocumentID:  hash,
		Filename:    p.Filename,
		ContentHash: hash,
		FileSize:    int64(len(p.Content)),
		StorageKey:  p.StorageKey,
		SourceType:  p.SourceType,
		FilePath:    p.FilePath,
		Hostname:    p.Hostname,
		IngestedBy:  userID,
		JobID:       jobID,
	}, chunks, func(st graph.Stats, chunk, total int) {
		update(ingestProgress{
			Stage:                "processing",
			ChunksTotal:          total,
			ChunksProcessed:      chunk,
			Percent:              math.Round(float64(chunk)/float64(total)*1000) / 10,
			ConceptsCreated:      st.ConceptsCreated,
			ConceptsLinked:       st.ConceptsLinked,
			SourcesCreated:       st.SourcesCreated,
			InstancesCreated:     st.InstancesCreated,
			RelationshipsCreated: st.RelationshipsCreated,
		})
	})
	if err != nil {
		return nil, err
	}

	return &IngestResult{
		Ontology:        p.Ontology,
		Filename:        p.Filename,
		DocumentID:      hash,
		ChunksProcessed: stats.ChunksProcessed,
		Stats:           stats,
	}, nil
}

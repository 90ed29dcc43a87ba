package query

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mleroux/kgraph/analysis"
	"github.com/mleroux/kgraph/store"
)

// DetailsOptions configures concept detail enrichment.
type DetailsOptions struct {
	IncludeGrounding bool
	IncludeDiversity bool
	DiversityMaxHops int
}

// Provenance points an evidence quote back to the ingested file it
// came from.
type Provenance struct {
	DocumentID  string `json:"document_id"`
	Filename    string `json:"filename,omitempty"`
	ContentHash string `json:"content_hash,omitempty"`
	StorageKey  string `json:"storage_key,omitempty"`
	IngestedAt  string `json:"ingested_at,omitempty"`
}

// InstanceDetail is one evidence quote with its surrounding chunk text
// and file provenance.
type InstanceDetail struct {
	Quote      string      `json:"quote"`
	Relevance  float64     `json:"relevance"`
	SourceID   string      `json:"source_id"`
	Document   string      `json:"document"`
	Paragraph  int         `json:"paragraph"`
	FullText   string      `json:"full_text,omitempty"`
	Provenance *Provenance `json:"provenance,omitempty"`
}

// Relationship is one outbound edge annotated with its vocabulary
// category and epistemic status.
type Relationship struct {
	ToID            string  `json:"to_id"`
	ToLabel         string  `json:"to_label,omitempty"`
	RelationType    string  `json:"rel_type"`
	Confidence      float64 `json:"confidence"`
	Category        string  `json:"category,omitempty"`
	EpistemicStatus string  `json:"epistemic_status,omitempty"`
	CreatedBy       string  `json:"created_by,omitempty"`
	Source          string  `json:"source,omitempty"`
	JobID           string  `json:"job_id,omitempty"`
	DocumentID      string  `json:"document_id,omitempty"`
	CreatedAt       string  `json:"created_at"`
}

// ConceptDetails is the full read-side view of one concept: the node,
// where it was seen, every evidence quote, and every outbound edge.
type ConceptDetails struct {
	Concept       store.Concept             `json:"concept"`
	Documents     []string                  `json:"documents"`
	Instances     []InstanceDetail          `json:"instances"`
	Relationships []Relationship            `json:"relationships"`
	Grounding     *float64                  `json:"grounding,omitempty"`
	Diversity     *analysis.DiversityResult `json:"diversity,omitempty"`
}

// ConceptDetails assembles the detail view for one concept. Instances
// come back ordered by document then paragraph; relationships are
// outbound only, in insertion order.
func (e *Engine) ConceptDetails(ctx context.Context, conceptID string, opts DetailsOptions) (*ConceptDetails, error) {
	c, err := e.store.GetConcept(ctx, conceptID)
	if err != nil {
		return nil, fmt.Errorf("query: concept %s: %w", conceptID, err)
	}

	d := &ConceptDetails{
		Concept:       *c,
		Documents:     []string{},
		Instances:     []InstanceDetail{},
		Relationships: []Relationship{},
	}

	docs, err := e.store.DocumentsForConcept(ctx, conceptID)
	if err != nil {
		return nil, fmt.Errorf("query: documents for %s: %w", conceptID, err)
	}
	if docs != nil {
		d.Documents = docs
	}

	instances, err := e.store.ListInstancesByConcept(ctx, conceptID)
	if err != nil {
		return nil, fmt.Errorf("query: instances for %s: %w", conceptID, err)
	}

	provByDoc := make(map[string]*Provenance)
	for _, inst := range instances {
		det := InstanceDetail{
			Quote:     inst.Quote,
			Relevance: inst.Relevance,
			SourceID:  inst.SourceID,
			Document:  inst.Document,
			Paragraph: inst.Paragraph,
		}
		if src, err := e.store.GetSource(ctx, inst.SourceID); err == nil {
			det.FullText = src.FullText
		}
		det.Provenance = e.provenanceFor(ctx, inst.Document, provByDoc)
		d.Instances = append(d.Instances, det)
	}

	edges, err := e.store.OutboundEdges(ctx, conceptID)
	if err != nil {
		return nil, fmt.Errorf("query: edges for %s: %w", conceptID, err)
	}

	annByType := make(map[string]typeAnnotation)
	for _, edge := range edges {
		rel := Relationship{
			ToID:         edge.ToConcept,
			RelationType: edge.RelationType,
			Confidence:   edge.Confidence,
			Category:     edge.Category,
			CreatedBy:    edge.CreatedBy,
			Source:       edge.Source,
			JobID:        edge.JobID,
			DocumentID:   edge.DocumentID,
			CreatedAt:    edge.CreatedAt,
		}
		if to, err := e.store.GetConcept(ctx, edge.ToConcept); err == nil {
			rel.ToLabel = to.Label
		}
		ann := e.annotateType(ctx, edge.RelationType, annByType)
		if rel.Category == "" {
			rel.Category = ann.category
		}
		rel.EpistemicStatus = ann.status
		d.Relationships = append(d.Relationships, rel)
	}

	if opts.IncludeGrounding || opts.IncludeDiversity {
		g := e.grounding(ctx, conceptID)
		if opts.IncludeGrounding {
			d.Grounding = g
		}
		if opts.IncludeDiversity {
			div, err := e.analyzer.Diversity(ctx, conceptID, analysis.DiversityOptions{
				MaxHops:   opts.DiversityMaxHops,
				Grounding: g,
			})
			if err != nil {
				slog.Warn("query: diversity failed", "concept", conceptID, "error", err)
			} else {
				d.Diversity = div
			}
		}
	}

	slog.Info("query: concept details",
		"concept", conceptID,
		"instances", len(d.Instances),
		"relationships", len(d.Relationships))
	return d, nil
}

// provenanceFor resolves document provenance once per document id and
// caches it for the rest of the call. Documents without a meta row
// (pre-dating file tracking) yield nil.
func (e *Engine) provenanceFor(ctx context.Context, documentID string, cache map[string]*Provenance) *Provenance {
	if p, ok := cache[documentID]; ok {
		return p
	}
	meta, err := e.store.GetDocumentMeta(ctx, documentID)
	if err != nil {
		cache[documentID] = nil
		return nil
	}
	p := &Provenance{
		DocumentID:  meta.DocumentID,
		Filename:    meta.Filename,
		ContentHash: meta.ContentHash,
		StorageKey:  meta.StorageKey,
		IngestedAt:  meta.IngestedAt,
	}
	cache[documentID] = p
	return p
}

type typeAnnotation struct {
	category string
	status   string
}

// annotateType looks up the vocabulary category and epistemic status
// for a relationship type, caching per call since detail views repeat
// types heavily.
func (e *Engine) annotateType(ctx context.Context, relType string, cache map[string]typeAnnotation) typeAnnotation {
	if ann, ok := cache[relType]; ok {
		return ann
	}
	var ann typeAnnotation
	if vt, err := e.store.GetVocabType(ctx, relType); err == nil {
		ann.category = vt.Category
	}
	status, _, err := e.vocab.EpistemicStatus(ctx, relType)
	if err != nil {
		slog.Warn("query: epistemic status failed", "type", relType, "error", err)
	} else {
		ann.status = status
	}
	cache[relType] = ann
	return ann
}

package kgraph

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mleroux/kgraph/store"
	"github.com/mleroux/kgraph/vocab"
)

// EdgeSpec describes a curated relationship between two concepts. The
// relationship type is normalized through the vocabulary before the
// edge is written.
type EdgeSpec struct {
	Ontology     string  `json:"ontology"`
	FromConcept  string  `json:"from_concept"`
	ToConcept    string  `json:"to_concept"`
	RelationType string  `json:"relation_type"`
	Confidence   float64 `json:"confidence,omitempty"`
	CreatedBy    string  `json:"created_by,omitempty"`
}

// BatchConcept is one concept in a bulk import.
type BatchConcept struct {
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	SearchTerms []string `json:"search_terms,omitempty"`
}

// BatchEdge is one relationship in a bulk import, endpoints referenced
// by concept label.
type BatchEdge struct {
	FromLabel        string  `json:"from_label"`
	ToLabel          string  `json:"to_label"`
	RelationshipType string  `json:"relationship_type"`
	Confidence       float64 `json:"confidence,omitempty"`
}

// BatchRequest is a bulk concept-and-edge import into one ontology.
// MatchingMode "auto" (the default) resolves labels against existing
// concepts, exact label first and then by embedding similarity, before
// creating anything; "exact" matches by label only.
type BatchRequest struct {
	Ontology       string         `json:"ontology"`
	Concepts       []BatchConcept `json:"concepts"`
	Edges          []BatchEdge    `json:"edges"`
	MatchingMode   string         `json:"matching_mode,omitempty"`
	CreationMethod string         `json:"creation_method,omitempty"`
	UserID         string         `json:"user_id,omitempty"`
}

// BatchResult summarizes a bulk import. Item failures and duplicate
// edges land in Errors without failing the call; ConceptIDs maps every
// input label to the concept it resolved to.
type BatchResult struct {
	ConceptsCreated int               `json:"concepts_created"`
	ConceptsMatched int               `json:"concepts_matched"`
	EdgesCreated    int               `json:"edges_created"`
	Errors          []string          `json:"errors"`
	ConceptIDs      map[string]string `json:"concept_ids,omitempty"`
}

// curatedID returns a fresh identifier for a manually created concept.
// Pipeline concepts are scoped to their source chunk; curated ones get
// a flat namespace.
func curatedID() string {
	return "curated_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// conceptText is the canonical embedding text for a curated concept,
// matching what the ingestion pipeline embeds.
func conceptText(label string, searchTerms []string) string {
	if len(searchTerms) == 0 {
		return label
	}
	return label + " " + strings.Join(searchTerms, " ")
}

// --- Concepts ---

// CreateConcept adds a curated concept and embeds it immediately so it
// participates in matching and search from the moment it exists.
func (e *engine) CreateConcept(ctx context.Context, ontology, label, description string, searchTerms []string) (*store.Concept, error) {
	if ontology == "" || label == "" {
		return nil, fmt.Errorf("%w: ontology and label are required", ErrInvalidConfig)
	}
	if err := e.ensureWritable(ctx, ontology); err != nil {
		return nil, err
	}
	if err := e.store.EnsureOntology(ctx, ontology); err != nil {
		return nil, fmt.Errorf("ensuring ontology: %w", err)
	}

	emb, err := e.worker.EmbedOne(ctx, conceptText(label, searchTerms))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	conceptID := curatedID()
	rowID, err := e.store.InsertConcept(ctx, store.Concept{
		ConceptID:   conceptID,
		Ontology:    ontology,
		Label:       label,
		Description: description,
		SearchTerms: searchTerms,
	})
	if err != nil {
		return nil, fmt.Errorf("inserting concept: %w", err)
	}
	if err := e.store.UpsertConceptEmbedding(ctx, rowID, emb); err != nil {
		return nil, fmt.Errorf("storing embedding: %w", err)
	}

	e.log.Info("curate: concept created",
		"ontology", ontology, "concept", conceptID, "label", label)
	return e.store.GetConcept(ctx, conceptID)
}

func (e *engine) GetConcept(ctx context.Context, conceptID string) (*store.Concept, error) {
	c, err := e.store.GetConcept(ctx, conceptID)
	if err != nil {
		return nil, notFound(err, ErrConceptNotFound, conceptID)
	}
	return c, nil
}

// UpdateConcept edits a concept and regenerates its embedding. An
// empty label keeps the current one; a nil searchTerms slice keeps the
// current terms while an empty non-nil slice clears them.
func (e *engine) UpdateConcept(ctx context.Context, conceptID, label, description string, searchTerms []string) (*store.Concept, error) {
	existing, err := e.store.GetConcept(ctx, conceptID)
	if err != nil {
		return nil, notFound(err, ErrConceptNotFound, conceptID)
	}
	if err := e.ensureWritable(ctx, existing.Ontology); err != nil {
		return nil, err
	}

	if label == "" {
		label = existing.Label
	}
	if description == "" {
		description = existing.Description
	}
	if searchTerms == nil {
		searchTerms = existing.SearchTerms
	}

	if err := e.store.UpdateConcept(ctx, conceptID, label, description, searchTerms); err != nil {
		return nil, fmt.Errorf("updating concept: %w", err)
	}

	// The label or terms changed what this concept means in vector
	// space, so the embedding follows the text.
	emb, err := e.worker.EmbedOne(ctx, conceptText(label, searchTerms))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	if err := e.store.UpsertConceptEmbedding(ctx, existing.ID, emb); err != nil {
		return nil, fmt.Errorf("storing embedding: %w", err)
	}

	e.log.Info("curate: concept updated", "concept", conceptID, "label", label)
	return e.store.GetConcept(ctx, conceptID)
}

// DeleteConcept removes a concept only when nothing references it.
func (e *engine) DeleteConcept(ctx context.Context, conceptID string) error {
	existing, err := e.store.GetConcept(ctx, conceptID)
	if err != nil {
		return notFound(err, ErrConceptNotFound, conceptID)
	}
	if err := e.ensureWritable(ctx, existing.Ontology); err != nil {
		return err
	}

	edges, err := e.store.CountEdgesForConcept(ctx, conceptID)
	if err != nil {
		return fmt.Errorf("counting edges: %w", err)
	}
	instances, err := e.store.CountInstancesForConcept(ctx, conceptID)
	if err != nil {
		return fmt.Errorf("counting instances: %w", err)
	}
	if edges > 0 || instances > 0 {
		return fmt.Errorf("%w: %s has %d edges and %d evidence instances",
			ErrConceptInUse, conceptID, edges, instances)
	}

	if err := e.store.DeleteConcept(ctx, conceptID); err != nil {
		return fmt.Errorf("deleting concept: %w", err)
	}
	e.log.Info("curate: concept deleted", "concept", conceptID)
	return nil
}

func (e *engine) ListConcepts(ctx context.Context, ontology string, limit, offset int) ([]store.Concept, error) {
	return e.store.ListConcepts(ctx, ontology, limit, offset)
}

// --- Edges ---

// CreateEdge writes one curated relationship. Both endpoints must be
// existing concepts in the spec's ontology.
func (e *engine) CreateEdge(ctx context.Context, spec EdgeSpec) (*store.Edge, error) {
	if spec.Ontology == "" || spec.FromConcept == "" || spec.ToConcept == "" || spec.RelationType == "" {
		return nil, fmt.Errorf("%w: ontology, endpoints, and relation type are required", ErrInvalidConfig)
	}
	if err := e.ensureWritable(ctx, spec.Ontology); err != nil {
		return nil, err
	}

	from, err := e.store.GetConcept(ctx, spec.FromConcept)
	if err != nil {
		return nil, notFound(err, ErrConceptNotFound, spec.FromConcept)
	}
	to, err := e.store.GetConcept(ctx, spec.ToConcept)
	if err != nil {
		return nil, notFound(err, ErrConceptNotFound, spec.ToConcept)
	}
	if from.Ontology != spec.Ontology || to.Ontology != spec.Ontology {
		return nil, fmt.Errorf("%w: endpoints belong to a different ontology", ErrInvalidConfig)
	}

	ensured, err := e.vocabMgr.EnsureType(ctx, spec.RelationType)
	if err != nil {
		return nil, mapVocabErr(err, spec.RelationType)
	}

	confidence := spec.Confidence
	if confidence <= 0 {
		confidence = 1.0
	}
	if confidence > 1 {
		confidence = 1.0
	}
	createdBy := spec.CreatedBy
	if createdBy == "" {
		createdBy = "curation"
	}

	id, created, err := e.store.UpsertEdge(ctx, store.Edge{
		Ontology:     spec.Ontology,
		FromConcept:  spec.FromConcept,
		ToConcept:    spec.ToConcept,
		RelationType: ensured.Type,
		Confidence:   confidence,
		Category:     ensured.Category,
		CreatedBy:    createdBy,
	})
	if err != nil {
		return nil, fmt.Errorf("inserting edge: %w", err)
	}
	if !created {
		return nil, fmt.Errorf("%w: %s -[%s]-> %s",
			ErrDuplicateEdge, spec.FromConcept, ensured.Type, spec.ToConcept)
	}

	e.log.Info("curate: edge created",
		"ontology", spec.Ontology,
		"from", spec.FromConcept, "to", spec.ToConcept, "type", ensured.Type)
	return e.store.GetEdge(ctx, id)
}

// UpdateEdge changes an edge's confidence and, when non-empty, its
// category.
func (e *engine) UpdateEdge(ctx context.Context, edgeID int64, confidence float64, category string) (*store.Edge, error) {
	edge, err := e.store.GetEdge(ctx, edgeID)
	if err != nil {
		return nil, notFound(err, ErrEdgeNotFound, fmt.Sprint(edgeID))
	}
	if err := e.ensureWritable(ctx, edge.Ontology); err != nil {
		return nil, err
	}

	if confidence < 0 || confidence > 1 {
		return nil, fmt.Errorf("%w: confidence must be in [0, 1]", ErrInvalidConfig)
	}
	if category == "" {
		category = edge.Category
	}
	if err := e.store.UpdateEdge(ctx, edgeID, confidence, category); err != nil {
		return nil, notFound(err, ErrEdgeNotFound, fmt.Sprint(edgeID))
	}
	return e.store.GetEdge(ctx, edgeID)
}

func (e *engine) DeleteEdge(ctx context.Context, edgeID int64) error {
	edge, err := e.store.GetEdge(ctx, edgeID)
	if err != nil {
		return notFound(err, ErrEdgeNotFound, fmt.Sprint(edgeID))
	}
	if err := e.ensureWritable(ctx, edge.Ontology); err != nil {
		return err
	}
	if err := e.store.DeleteEdge(ctx, edgeID); err != nil {
		return notFound(err, ErrEdgeNotFound, fmt.Sprint(edgeID))
	}
	e.log.Info("curate: edge deleted",
		"edge", edgeID, "from", edge.FromConcept, "to", edge.ToConcept, "type", edge.RelationType)
	return nil
}

func (e *engine) ListEdges(ctx context.Context, f store.EdgeFilter) ([]store.Edge, error) {
	return e.store.ListEdges(ctx, f)
}

// --- Batch import ---

// BatchCreate bulk-imports concepts and edges. Re-running the same
// batch is idempotent: labels resolve to the concepts the first run
// created, and the duplicate edges show up in Errors instead of
// failing the call.
func (e *engine) BatchCreate(ctx context.Context, req BatchRequest) (*BatchResult, error) {
	if req.Ontology == "" {
		return nil, fmt.Errorf("%w: ontology is required", ErrInvalidConfig)
	}
	switch req.MatchingMode {
	case "", "auto", "exact":
	default:
		return nil, fmt.Errorf("%w: unknown matching mode %q", ErrInvalidConfig, req.MatchingMode)
	}
	if err := e.ensureWritable(ctx, req.Ontology); err != nil {
		return nil, err
	}
	if err := e.store.EnsureOntology(ctx, req.Ontology); err != nil {
		return nil, fmt.Errorf("ensuring ontology: %w", err)
	}

	res := &BatchResult{
		Errors:     []string{},
		ConceptIDs: make(map[string]string, len(req.Concepts)),
	}
	for _, bc := range req.Concepts {
		if bc.Label == "" {
			res.Errors = append(res.Errors, "concept with empty label skipped")
			continue
		}
		id, created, err := e.resolveBatchConcept(ctx, req, bc)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("concept %q: %v", bc.Label, err))
			continue
		}
		res.ConceptIDs[bc.Label] = id
		if created {
			res.ConceptsCreated++
		} else {
			res.ConceptsMatched++
		}
	}

	createdBy := req.CreationMethod
	if createdBy == "" {
		createdBy = "batch"
	}
	for _, be := range req.Edges {
		fromID, err := e.batchEndpoint(ctx, req.Ontology, res.ConceptIDs, be.FromLabel)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("edge from %q: %v", be.FromLabel, err))
			continue
		}
		toID, err := e.batchEndpoint(ctx, req.Ontology, res.ConceptIDs, be.ToLabel)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("edge to %q: %v", be.ToLabel, err))
			continue
		}

		ensured, err := e.vocabMgr.EnsureType(ctx, be.RelationshipType)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf(
				"edge type %q: %v", be.RelationshipType, mapVocabErr(err, be.RelationshipType)))
			continue
		}

		confidence := be.Confidence
		if confidence <= 0 || confidence > 1 {
			confidence = 1.0
		}
		_, created, err := e.store.UpsertEdge(ctx, store.Edge{
			Ontology:     req.Ontology,
			FromConcept:  fromID,
			ToConcept:    toID,
			RelationType: ensured.Type,
			Confidence:   confidence,
			Category:     ensured.Category,
			CreatedBy:    createdBy,
		})
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf(
				"edge %s -[%s]-> %s: %v", be.FromLabel, ensured.Type, be.ToLabel, err))
			continue
		}
		if !created {
			res.Errors = append(res.Errors, fmt.Sprintf(
				"duplicate edge: %s -[%s]-> %s", be.FromLabel, ensured.Type, be.ToLabel))
			continue
		}
		res.EdgesCreated++
	}

	e.log.Info("curate: batch import",
		"ontology", req.Ontology,
		"concepts_created", res.ConceptsCreated,
		"concepts_matched", res.ConceptsMatched,
		"edges_created", res.EdgesCreated,
		"errors", len(res.Errors))
	return res, nil
}

// resolveBatchConcept matches one batch concept against the graph or
// creates it, returning the concept ID and whether it was created.
func (e *engine) resolveBatchConcept(ctx context.Context, req BatchRequest, bc BatchConcept) (string, bool, error) {
	// Exact label match first: cheap, deterministic, and what makes a
	// re-run of the same batch land on the same concepts.
	if existing, err := e.store.GetConceptByLabel(ctx, req.Ontology, bc.Label); err == nil {
		return existing.ConceptID, false, nil
	}

	emb, err := e.worker.EmbedOne(ctx, conceptText(bc.Label, bc.SearchTerms))
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	if req.MatchingMode != "exact" {
		hits, err := e.store.VectorSearchConcepts(ctx, emb, 1, req.Ontology)
		if err != nil {
			return "", false, fmt.Errorf("vector search: %w", err)
		}
		if len(hits) > 0 && hits[0].Score >= e.cfg.MatchThreshold {
			return hits[0].ConceptID, false, nil
		}
	}

	conceptID := curatedID()
	rowID, err := e.store.InsertConcept(ctx, store.Concept{
		ConceptID:   conceptID,
		Ontology:    req.Ontology,
		Label:       bc.Label,
		Description: bc.Description,
		SearchTerms: bc.SearchTerms,
	})
	if err != nil {
		return "", false, fmt.Errorf("inserting: %w", err)
	}
	if err := e.store.UpsertConceptEmbedding(ctx, rowID, emb); err != nil {
		return "", false, fmt.Errorf("storing embedding: %w", err)
	}
	return conceptID, true, nil
}

// batchEndpoint resolves an edge endpoint label, preferring concepts
// handled earlier in the same batch.
func (e *engine) batchEndpoint(ctx context.Context, ontology string, known map[string]string, label string) (string, error) {
	if label == "" {
		return "", errors.New("empty label")
	}
	if id, ok := known[label]; ok {
		return id, nil
	}
	c, err := e.store.GetConceptByLabel(ctx, ontology, label)
	if err != nil {
		return "", fmt.Errorf("%w: no concept labeled %q", ErrConceptNotFound, label)
	}
	return c.ConceptID, nil
}

// mapVocabErr translates vocabulary-package sentinels into the
// engine's taxonomy.
func mapVocabErr(err error, relationshipType string) error {
	switch {
	case errors.Is(err, vocab.ErrBlocked):
		return fmt.Errorf("%w: cannot add %s", ErrVocabularyBlocked, relationshipType)
	case errors.Is(err, vocab.ErrExpansionDisabled):
		return fmt.Errorf("%w: %s is not in the vocabulary and auto-expansion is off",
			ErrInvalidRelationshipType, relationshipType)
	default:
		return err
	}
}

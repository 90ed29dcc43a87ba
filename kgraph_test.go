//go:build cgo

package kgraph

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mleroux/kgraph/query"
	"github.com/mleroux/kgraph/store"
)

// andromedaDoc has four sentences so mock extraction yields three
// concepts chained by relations in a single chunk.
const andromedaDoc = `The Andromeda Galaxy is on a collision course with the Milky Way.
Dark matter halos shape the rotation curves of spiral galaxies.
Stellar winds from massive stars enrich the interstellar medium.
Globular clusters orbit the galactic core on elliptical paths.`

const pulsarDoc = `Pulsars emit beams of radiation from their magnetic poles.
Millisecond pulsars spin hundreds of times per second.
Neutron star interiors may contain superfluid neutrons.`

func newTestEngine(t *testing.T) Engine {
	t.Helper()
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "kgraph.db")
	cfg.Extraction = LLMConfig{Provider: "mock", Model: "mock-extract"}
	cfg.Embedding = LLMConfig{Provider: "mock", Model: "mock-embed"}
	cfg.EmbeddingDim = 64

	eng, err := New(cfg)
	if err != nil {
		t.Fatalf("creating engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })
	return eng
}

func ingestDoc(t *testing.T, eng Engine, ontology, filename, content string) string {
	t.Helper()
	res, err := eng.Ingest(context.Background(), []byte(content),
		WithOntology(ontology), WithFilename(filename), WithUser("lyra"))
	if err != nil {
		t.Fatalf("ingesting %s: %v", filename, err)
	}
	return res.DocumentID
}

// waitForJob polls until the job reaches a terminal status.
func waitForJob(t *testing.T, eng Engine, jobID string) *store.Job {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		job, err := eng.GetJob(context.Background(), jobID)
		if err != nil {
			t.Fatalf("getting job %s: %v", jobID, err)
		}
		switch job.Status {
		case store.JobCompleted, store.JobFailed, store.JobCancelled:
			return job
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("job %s never finished", jobID)
	return nil
}

// --- Engine lifecycle ---

func TestNewSeedsVocabulary(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	types, err := eng.ListVocabulary(ctx, true)
	if err != nil {
		t.Fatalf("ListVocabulary: %v", err)
	}
	if len(types) < 40 {
		t.Errorf("builtin vocabulary size = %d, want >= 40", len(types))
	}

	cfg, err := eng.VocabularyConfig(ctx)
	if err != nil {
		t.Fatalf("VocabularyConfig: %v", err)
	}
	if cfg.PruningMode != "aitl" {
		t.Errorf("seeded pruning mode = %q, want %q", cfg.PruningMode, "aitl")
	}

	onts, err := eng.ListOntologies(ctx)
	if err != nil {
		t.Fatalf("ListOntologies: %v", err)
	}
	if len(onts) != 0 {
		t.Errorf("fresh engine has %d ontologies, want 0", len(onts))
	}
}

func TestNewRejectsBadProvider(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "bad.db")
	cfg.Extraction = LLMConfig{Provider: "abacus"}
	cfg.Embedding = LLMConfig{Provider: "mock"}

	if _, err := New(cfg); err == nil {
		t.Fatal("New accepted an unknown provider")
	}
}

// --- Ingestion ---

func TestIngest(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	res, err := eng.Ingest(ctx, []byte(andromedaDoc),
		WithOntology("astro"), WithFilename("andromeda.md"), WithUser("lyra"))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.DocumentID == "" {
		t.Fatal("empty document ID")
	}
	if res.ChunksProcessed != 1 {
		t.Errorf("chunks = %d, want 1", res.ChunksProcessed)
	}
	if res.Stats == nil {
		t.Fatal("nil stats")
	}
	if res.Stats.ConceptsCreated != 3 {
		t.Errorf("concepts created = %d, want 3", res.Stats.ConceptsCreated)
	}
	if res.Stats.RelationshipsCreated < 1 {
		t.Errorf("relationships created = %d, want >= 1", res.Stats.RelationshipsCreated)
	}
	if res.Stats.InstancesCreated != 3 {
		t.Errorf("instances created = %d, want 3", res.Stats.InstancesCreated)
	}

	docs, err := eng.ListDocuments(ctx, "astro")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("documents = %d, want 1", len(docs))
	}
	if docs[0].Filename != "andromeda.md" {
		t.Errorf("filename = %q, want %q", docs[0].Filename, "andromeda.md")
	}
	if docs[0].IngestedBy != "lyra" {
		t.Errorf("ingested_by = %q, want %q", docs[0].IngestedBy, "lyra")
	}
	if docs[0].ContentHash == "" {
		t.Error("document meta has no content hash")
	}
}

func TestIngestDuplicateSkipsAndForceReingests(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	first, err := eng.Ingest(ctx, []byte(andromedaDoc),
		WithOntology("astro"), WithFilename("andromeda.md"))
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	second, err := eng.Ingest(ctx, []byte(andromedaDoc),
		WithOntology("astro"), WithFilename("andromeda.md"))
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if second.Message != "content already ingested" {
		t.Errorf("duplicate message = %q", second.Message)
	}
	if second.DocumentID != first.DocumentID {
		t.Errorf("duplicate points at %s, want %s", second.DocumentID, first.DocumentID)
	}
	if second.ChunksProcessed != 0 {
		t.Errorf("duplicate processed %d chunks, want 0", second.ChunksProcessed)
	}

	forced, err := eng.Ingest(ctx, []byte(andromedaDoc),
		WithOntology("astro"), WithFilename("andromeda.md"), WithForce())
	if err != nil {
		t.Fatalf("forced Ingest: %v", err)
	}
	if forced.Message != "" {
		t.Errorf("forced ingest skipped: %q", forced.Message)
	}
	if forced.DocumentID == first.DocumentID {
		t.Error("forced ingest reused the original document ID")
	}
}

func TestIngestValidation(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.Ingest(ctx, nil, WithOntology("astro"))
	if !errors.Is(err, ErrMalformedDocument) {
		t.Errorf("empty content: got %v, want ErrMalformedDocument", err)
	}

	_, err = eng.Ingest(ctx, []byte(andromedaDoc))
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("missing ontology: got %v, want ErrInvalidConfig", err)
	}
}

func TestIngestFrozenOntology(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	ingestDoc(t, eng, "astro", "andromeda.md", andromedaDoc)

	if err := eng.FreezeOntology(ctx, "astro", true); err != nil {
		t.Fatalf("FreezeOntology: %v", err)
	}
	_, err := eng.Ingest(ctx, []byte(pulsarDoc), WithOntology("astro"), WithFilename("pulsars.md"))
	if !errors.Is(err, ErrOntologyFrozen) {
		t.Fatalf("ingest into frozen ontology: got %v, want ErrOntologyFrozen", err)
	}

	if err := eng.FreezeOntology(ctx, "astro", false); err != nil {
		t.Fatalf("unfreezing: %v", err)
	}
	if _, err := eng.Ingest(ctx, []byte(pulsarDoc),
		WithOntology("astro"), WithFilename("pulsars.md")); err != nil {
		t.Fatalf("ingest after unfreeze: %v", err)
	}
}

func TestVerifyChunkExtraction(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	docID := ingestDoc(t, eng, "astro", "andromeda.md", andromedaDoc)

	v, err := eng.VerifyChunkExtraction(ctx, docID)
	if err != nil {
		t.Fatalf("VerifyChunkExtraction: %v", err)
	}
	if v.ChunkCount != 1 {
		t.Errorf("chunk count = %d, want 1", v.ChunkCount)
	}
	if !v.OffsetsValid {
		t.Errorf("offsets flagged invalid: %v", v.Issues)
	}
	if v.HashVerified != nil {
		t.Error("hash verified without an object store")
	}
	if v.ContentHash == "" {
		t.Error("no content hash reported")
	}

	if _, err := eng.VerifyChunkExtraction(ctx, "doc_missing"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("missing document: got %v, want ErrDocumentNotFound", err)
	}
}

// --- Search ---

func TestSearchConcepts(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	created, err := eng.CreateConcept(ctx, "astro", "Dark Matter Halo",
		"Invisible mass shaping galactic rotation", nil)
	if err != nil {
		t.Fatalf("CreateConcept: %v", err)
	}

	resp, err := eng.SearchConcepts(ctx, "Dark Matter Halo", query.SearchOptions{Ontology: "astro"})
	if err != nil {
		t.Fatalf("SearchConcepts: %v", err)
	}
	if resp.Count < 1 {
		t.Fatalf("no results for exact label, response %+v", resp)
	}
	top := resp.Results[0]
	if top.ConceptID != created.ConceptID {
		t.Errorf("top hit = %s, want %s", top.ConceptID, created.ConceptID)
	}
	if top.Similarity < 0.99 {
		t.Errorf("exact match similarity = %.3f, want ~1.0", top.Similarity)
	}
}

// --- Concept curation ---

func TestConceptLifecycle(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	c, err := eng.CreateConcept(ctx, "astro", "Event Horizon",
		"Boundary beyond which light cannot escape", []string{"black hole", "schwarzschild"})
	if err != nil {
		t.Fatalf("CreateConcept: %v", err)
	}
	if !strings.HasPrefix(c.ConceptID, "curated_") {
		t.Errorf("concept ID = %q, want curated_ prefix", c.ConceptID)
	}
	if c.Ontology != "astro" || c.Label != "Event Horizon" {
		t.Errorf("stored concept = %+v", c)
	}

	got, err := eng.GetConcept(ctx, c.ConceptID)
	if err != nil {
		t.Fatalf("GetConcept: %v", err)
	}
	if len(got.SearchTerms) != 2 {
		t.Errorf("search terms = %v, want 2 entries", got.SearchTerms)
	}

	// Empty label keeps the old one; the description changes.
	upd, err := eng.UpdateConcept(ctx, c.ConceptID, "", "Null surface around a black hole", nil)
	if err != nil {
		t.Fatalf("UpdateConcept: %v", err)
	}
	if upd.Label != "Event Horizon" {
		t.Errorf("label after partial update = %q", upd.Label)
	}
	if upd.Description != "Null surface around a black hole" {
		t.Errorf("description after update = %q", upd.Description)
	}
	if len(upd.SearchTerms) != 2 {
		t.Errorf("nil terms cleared existing ones: %v", upd.SearchTerms)
	}

	list, err := eng.ListConcepts(ctx, "astro", 10, 0)
	if err != nil {
		t.Fatalf("ListConcepts: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("concepts listed = %d, want 1", len(list))
	}

	if err := eng.DeleteConcept(ctx, c.ConceptID); err != nil {
		t.Fatalf("DeleteConcept: %v", err)
	}
	if _, err := eng.GetConcept(ctx, c.ConceptID); !errors.Is(err, ErrConceptNotFound) {
		t.Errorf("after delete: got %v, want ErrConceptNotFound", err)
	}
}

func TestDeleteConceptInUse(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	from, err := eng.CreateConcept(ctx, "astro", "Supernova", "Stellar explosion", nil)
	if err != nil {
		t.Fatalf("CreateConcept: %v", err)
	}
	to, err := eng.CreateConcept(ctx, "astro", "Neutron Star", "Collapsed stellar core", nil)
	if err != nil {
		t.Fatalf("CreateConcept: %v", err)
	}
	edge, err := eng.CreateEdge(ctx, EdgeSpec{
		Ontology:     "astro",
		FromConcept:  from.ConceptID,
		ToConcept:    to.ConceptID,
		RelationType: "PRODUCES",
	})
	if err != nil {
		t.Fatalf("CreateEdge: %v", err)
	}

	if err := eng.DeleteConcept(ctx, from.ConceptID); !errors.Is(err, ErrConceptInUse) {
		t.Fatalf("deleting referenced concept: got %v, want ErrConceptInUse", err)
	}

	if err := eng.DeleteEdge(ctx, edge.ID); err != nil {
		t.Fatalf("DeleteEdge: %v", err)
	}
	if err := eng.DeleteConcept(ctx, from.ConceptID); err != nil {
		t.Fatalf("deleting after edge removal: %v", err)
	}
}

// --- Edge curation ---

func TestEdgeLifecycle(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	from, err := eng.CreateConcept(ctx, "astro", "Solar Flare", "Sudden radiation burst", nil)
	if err != nil {
		t.Fatalf("CreateConcept: %v", err)
	}
	to, err := eng.CreateConcept(ctx, "astro", "Aurora", "Atmospheric light display", nil)
	if err != nil {
		t.Fatalf("CreateConcept: %v", err)
	}

	edge, err := eng.CreateEdge(ctx, EdgeSpec{
		Ontology:     "astro",
		FromConcept:  from.ConceptID,
		ToConcept:    to.ConceptID,
		RelationType: "CAUSES",
	})
	if err != nil {
		t.Fatalf("CreateEdge: %v", err)
	}
	if edge.RelationType != "CAUSES" {
		t.Errorf("relation type = %q, want CAUSES", edge.RelationType)
	}
	if edge.Confidence != 1.0 {
		t.Errorf("default confidence = %v, want 1.0", edge.Confidence)
	}
	if edge.CreatedBy != "curation" {
		t.Errorf("created_by = %q, want curation", edge.CreatedBy)
	}
	if edge.Category != "causal" {
		t.Errorf("category = %q, want causal", edge.Category)
	}

	_, err = eng.CreateEdge(ctx, EdgeSpec{
		Ontology:     "astro",
		FromConcept:  from.ConceptID,
		ToConcept:    to.ConceptID,
		RelationType: "CAUSES",
	})
	if !errors.Is(err, ErrDuplicateEdge) {
		t.Fatalf("duplicate edge: got %v, want ErrDuplicateEdge", err)
	}

	upd, err := eng.UpdateEdge(ctx, edge.ID, 0.4, "")
	if err != nil {
		t.Fatalf("UpdateEdge: %v", err)
	}
	if upd.Confidence != 0.4 {
		t.Errorf("confidence after update = %v, want 0.4", upd.Confidence)
	}
	if upd.Category != "causal" {
		t.Errorf("empty category overwrote existing: %q", upd.Category)
	}

	if _, err := eng.UpdateEdge(ctx, edge.ID, 1.5, ""); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("confidence 1.5: got %v, want ErrInvalidConfig", err)
	}

	edges, err := eng.ListEdges(ctx, store.EdgeFilter{Ontology: "astro"})
	if err != nil {
		t.Fatalf("ListEdges: %v", err)
	}
	if len(edges) != 1 {
		t.Errorf("edges = %d, want 1", len(edges))
	}

	if err := eng.DeleteEdge(ctx, edge.ID); err != nil {
		t.Fatalf("DeleteEdge: %v", err)
	}
	if err := eng.DeleteEdge(ctx, edge.ID); !errors.Is(err, ErrEdgeNotFound) {
		t.Errorf("double delete: got %v, want ErrEdgeNotFound", err)
	}
}

func TestCreateEdgeCrossOntology(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	from, err := eng.CreateConcept(ctx, "astro", "Quasar", "Active galactic nucleus", nil)
	if err != nil {
		t.Fatalf("CreateConcept: %v", err)
	}
	to, err := eng.CreateConcept(ctx, "chemistry", "Redshift", "Wavelength stretching", nil)
	if err != nil {
		t.Fatalf("CreateConcept: %v", err)
	}

	_, err = eng.CreateEdge(ctx, EdgeSpec{
		Ontology:     "astro",
		FromConcept:  from.ConceptID,
		ToConcept:    to.ConceptID,
		RelationType: "CAUSES",
	})
	if err == nil {
		t.Fatal("edge across ontologies was accepted")
	}
}

// --- Batch import ---

func TestBatchCreateIdempotent(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	req := BatchRequest{
		Ontology: "astro",
		Concepts: []BatchConcept{
			{Label: "Solar Wind", Description: "Charged particle stream from the Sun"},
			{Label: "Magnetosphere", Description: "Region dominated by a planetary magnetic field"},
		},
		Edges: []BatchEdge{
			{FromLabel: "Solar Wind", ToLabel: "Magnetosphere", RelationshipType: "INTERACTS_WITH", Confidence: 0.9},
		},
	}

	first, err := eng.BatchCreate(ctx, req)
	if err != nil {
		t.Fatalf("first BatchCreate: %v", err)
	}
	if first.ConceptsCreated != 2 || first.ConceptsMatched != 0 {
		t.Errorf("first pass: created=%d matched=%d, want 2/0", first.ConceptsCreated, first.ConceptsMatched)
	}
	if first.EdgesCreated != 1 {
		t.Errorf("first pass edges = %d, want 1", first.EdgesCreated)
	}
	if len(first.Errors) != 0 {
		t.Errorf("first pass errors = %v", first.Errors)
	}

	second, err := eng.BatchCreate(ctx, req)
	if err != nil {
		t.Fatalf("second BatchCreate: %v", err)
	}
	if second.ConceptsCreated != 0 || second.ConceptsMatched != 2 {
		t.Errorf("second pass: created=%d matched=%d, want 0/2", second.ConceptsCreated, second.ConceptsMatched)
	}
	if second.EdgesCreated != 0 {
		t.Errorf("second pass edges = %d, want 0", second.EdgesCreated)
	}
	if len(second.Errors) != 1 || !strings.Contains(second.Errors[0], "duplicate edge") {
		t.Errorf("second pass errors = %v, want one duplicate edge", second.Errors)
	}

	concepts, err := eng.ListConcepts(ctx, "astro", 10, 0)
	if err != nil {
		t.Fatalf("ListConcepts: %v", err)
	}
	if len(concepts) != 2 {
		t.Errorf("concepts after repeat = %d, want 2", len(concepts))
	}
}

func TestBatchCreateUnknownMode(t *testing.T) {
	eng := newTestEngine(t)

	_, err := eng.BatchCreate(context.Background(), BatchRequest{
		Ontology:     "astro",
		MatchingMode: "telepathic",
		Concepts:     []BatchConcept{{Label: "Comet"}},
	})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("unknown matching mode: got %v, want ErrInvalidConfig", err)
	}
}

// --- Artifacts ---

func TestArtifactLifecycle(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	payload := []byte(`{"nodes": ["m31", "m33"], "layout": "force"}`)
	art, err := eng.CreateArtifact(ctx, ArtifactSpec{
		ArtifactType: "projection",
		Ontology:     "astro",
		Title:        "Local group layout",
		Content:      payload,
	})
	if err != nil {
		t.Fatalf("CreateArtifact: %v", err)
	}
	if !strings.HasPrefix(art.ArtifactID, "artifact_") {
		t.Errorf("artifact ID = %q, want artifact_ prefix", art.ArtifactID)
	}
	if art.RetentionPolicy != "temporary" {
		t.Errorf("default retention = %q, want temporary", art.RetentionPolicy)
	}
	if art.ExpiresAt == "" {
		t.Error("temporary artifact has no expiry")
	}
	if art.StorageKey != "" {
		t.Errorf("small payload went to object storage: %q", art.StorageKey)
	}
	if art.SizeBytes != int64(len(payload)) {
		t.Errorf("size = %d, want %d", art.SizeBytes, len(payload))
	}

	got, err := eng.GetArtifact(ctx, art.ArtifactID)
	if err != nil {
		t.Fatalf("GetArtifact: %v", err)
	}
	if got.ContentInline != string(payload) {
		t.Errorf("content = %q, want %q", got.ContentInline, payload)
	}

	perm, err := eng.CreateArtifact(ctx, ArtifactSpec{
		ArtifactType:    "report",
		Ontology:        "astro",
		Content:         []byte("survey summary"),
		RetentionPolicy: "permanent",
	})
	if err != nil {
		t.Fatalf("permanent CreateArtifact: %v", err)
	}
	if perm.ExpiresAt != "" {
		t.Errorf("permanent artifact expires at %q", perm.ExpiresAt)
	}

	list, err := eng.ListArtifacts(ctx, "projection", "astro", 10, 0)
	if err != nil {
		t.Fatalf("ListArtifacts: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("projection artifacts = %d, want 1", len(list))
	}

	if err := eng.DeleteArtifact(ctx, art.ArtifactID); err != nil {
		t.Fatalf("DeleteArtifact: %v", err)
	}
	if _, err := eng.GetArtifact(ctx, art.ArtifactID); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("after delete: got %v, want ErrArtifactNotFound", err)
	}
}

func TestArtifactValidation(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	_, err := eng.CreateArtifact(ctx, ArtifactSpec{ArtifactType: "projection"})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("empty content: got %v, want ErrInvalidConfig", err)
	}

	_, err = eng.CreateArtifact(ctx, ArtifactSpec{
		ArtifactType:    "projection",
		Content:         []byte("x"),
		RetentionPolicy: "eternal",
	})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("bad retention policy: got %v, want ErrInvalidConfig", err)
	}

	// No object store configured, so payloads past the inline threshold
	// have nowhere to go.
	big := strings.Repeat("z", 11*1024)
	_, err = eng.CreateArtifact(ctx, ArtifactSpec{
		ArtifactType: "projection",
		Content:      []byte(big),
	})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("oversized without object store: got %v, want ErrInvalidConfig", err)
	}
}

// --- Vocabulary ---

func TestVocabularyConfigUpdate(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	mode := "hitl"
	change, err := eng.UpdateVocabularyConfig(ctx, store.VocabConfigUpdate{PruningMode: &mode}, "lyra")
	if err != nil {
		t.Fatalf("UpdateVocabularyConfig: %v", err)
	}
	if len(change.Changed) != 1 || change.Changed[0] != "pruning_mode" {
		t.Errorf("changed = %v, want [pruning_mode]", change.Changed)
	}
	if change.Config.PruningMode != "hitl" {
		t.Errorf("live mode = %q, want hitl", change.Config.PruningMode)
	}

	bad := "vibes"
	if _, err := eng.UpdateVocabularyConfig(ctx, store.VocabConfigUpdate{PruningMode: &bad}, "lyra"); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("invalid mode: got %v, want ErrInvalidConfig", err)
	}
}

func TestVocabularyStatusAndRecommendations(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	an, err := eng.VocabularyStatus(ctx)
	if err != nil {
		t.Fatalf("VocabularyStatus: %v", err)
	}
	if an.Size < 40 {
		t.Errorf("analysis size = %d, want >= 40", an.Size)
	}
	if an.Zone == "" {
		t.Error("analysis has no zone")
	}

	recs, err := eng.VocabularyRecommendations(ctx)
	if err != nil {
		t.Fatalf("VocabularyRecommendations: %v", err)
	}
	if recs.VocabularySize != an.Size {
		t.Errorf("recommendation size = %d, want %d", recs.VocabularySize, an.Size)
	}
	if recs.AutoExecute == nil || recs.NeedsReview == nil || recs.Rejected == nil {
		t.Error("recommendation buckets must be non-nil")
	}
}

func TestMergeAndRestoreVocabularyType(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	merge, err := eng.MergeVocabularyTypes(ctx, "IMPROVES", "ENHANCES", "near synonyms", "lyra")
	if err != nil {
		t.Fatalf("MergeVocabularyTypes: %v", err)
	}
	if merge.SourceType != "IMPROVES" || merge.TargetType != "ENHANCES" {
		t.Errorf("merge = %s -> %s", merge.SourceType, merge.TargetType)
	}
	if merge.Mode != "manual" {
		t.Errorf("merge mode = %q, want manual", merge.Mode)
	}
	if merge.DecidedBy != "lyra" {
		t.Errorf("decided_by = %q, want lyra", merge.DecidedBy)
	}

	active, err := eng.ListVocabulary(ctx, true)
	if err != nil {
		t.Fatalf("ListVocabulary: %v", err)
	}
	for _, vt := range active {
		if vt.RelationshipType == "IMPROVES" {
			t.Fatal("merged type still active")
		}
	}

	hist, err := eng.MergeHistory(ctx, 10)
	if err != nil {
		t.Fatalf("MergeHistory: %v", err)
	}
	if len(hist) != 1 || hist[0].SourceType != "IMPROVES" {
		t.Errorf("history = %+v", hist)
	}

	// Merging the now-inactive type again is refused.
	if _, err := eng.MergeVocabularyTypes(ctx, "IMPROVES", "ENHANCES", "", ""); !errors.Is(err, ErrVocabTypeNotFound) {
		t.Errorf("re-merge of inactive type: got %v, want ErrVocabTypeNotFound", err)
	}

	moved, err := eng.RestoreVocabularyType(ctx, "IMPROVES")
	if err != nil {
		t.Fatalf("RestoreVocabularyType: %v", err)
	}
	if moved != 0 {
		t.Errorf("edges moved back = %d, want 0", moved)
	}
	vt, err := eng.ListVocabulary(ctx, true)
	if err != nil {
		t.Fatalf("ListVocabulary after restore: %v", err)
	}
	found := false
	for _, v := range vt {
		if v.RelationshipType == "IMPROVES" {
			found = true
		}
	}
	if !found {
		t.Error("restored type not active")
	}
}

func TestMergeVocabularyTypesValidation(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.MergeVocabularyTypes(ctx, "CAUSES", "CAUSES", "", ""); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("self merge: got %v, want ErrInvalidConfig", err)
	}
	if _, err := eng.MergeVocabularyTypes(ctx, "TELEPORTS", "CAUSES", "", ""); !errors.Is(err, ErrVocabTypeNotFound) {
		t.Errorf("unknown source: got %v, want ErrVocabTypeNotFound", err)
	}
}

func TestEpistemicStatus(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	rep, err := eng.EpistemicStatus(ctx, "SUPPORTS")
	if err != nil {
		t.Fatalf("EpistemicStatus: %v", err)
	}
	if rep.RelationshipType != "SUPPORTS" || rep.Status == "" {
		t.Errorf("report = %+v", rep)
	}

	if _, err := eng.EpistemicStatus(ctx, "LEVITATES"); !errors.Is(err, ErrVocabTypeNotFound) {
		t.Errorf("unknown type: got %v, want ErrVocabTypeNotFound", err)
	}
}

// --- Aggressiveness profiles ---

func TestProfileLifecycle(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	builtin, err := eng.ListProfiles(ctx)
	if err != nil {
		t.Fatalf("ListProfiles: %v", err)
	}
	if len(builtin) < 5 {
		t.Errorf("builtin profiles = %d, want >= 5", len(builtin))
	}

	p, err := eng.CreateProfile(ctx, store.CurveProfile{
		ProfileName: "slow-start",
		ControlX1:   0.8, ControlY1: 0.1,
		ControlX2: 0.9, ControlY2: 0.3,
		Description: "Hold back until the vocabulary is nearly full",
	})
	if err != nil {
		t.Fatalf("CreateProfile: %v", err)
	}
	if p.IsBuiltin {
		t.Error("custom profile marked builtin")
	}

	if _, err := eng.CreateProfile(ctx, store.CurveProfile{
		ProfileName: "slow-start",
		ControlX1:   0.5, ControlY1: 0.5,
		ControlX2: 0.5, ControlY2: 0.5,
	}); !errors.Is(err, ErrProfileExists) {
		t.Errorf("duplicate profile: got %v, want ErrProfileExists", err)
	}

	if _, err := eng.CreateProfile(ctx, store.CurveProfile{
		ProfileName: "off-curve",
		ControlX1:   1.4,
	}); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("control point out of range: got %v, want ErrInvalidConfig", err)
	}

	if err := eng.DeleteProfile(ctx, "linear"); !errors.Is(err, ErrBuiltinProtected) {
		t.Errorf("deleting builtin: got %v, want ErrBuiltinProtected", err)
	}
	if err := eng.DeleteProfile(ctx, "slow-start"); err != nil {
		t.Fatalf("DeleteProfile: %v", err)
	}
	if err := eng.DeleteProfile(ctx, "slow-start"); !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("deleting twice: got %v, want ErrProfileNotFound", err)
	}
}

// --- Background jobs ---

func TestSubmitIngestJob(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	res, err := eng.SubmitIngestJob(ctx, []byte(pulsarDoc),
		WithOntology("astro"), WithFilename("pulsars.md"), WithUser("lyra"))
	if err != nil {
		t.Fatalf("SubmitIngestJob: %v", err)
	}
	if res.Job == nil {
		t.Fatalf("no job in submit result: %+v", res)
	}
	if res.Job.Status != store.JobQueued {
		t.Errorf("fresh job status = %q, want queued", res.Job.Status)
	}

	job := waitForJob(t, eng, res.Job.JobID)
	if job.Status != store.JobCompleted {
		t.Fatalf("job finished as %q: %s", job.Status, job.Error)
	}

	docs, err := eng.ListDocuments(ctx, "astro")
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("documents after job = %d, want 1", len(docs))
	}
	if docs[0].JobID != job.JobID {
		t.Errorf("document job_id = %q, want %q", docs[0].JobID, job.JobID)
	}

	// The same content resubmitted reports the completed job.
	dup, err := eng.SubmitIngestJob(ctx, []byte(pulsarDoc),
		WithOntology("astro"), WithFilename("pulsars.md"))
	if err != nil {
		t.Fatalf("duplicate SubmitIngestJob: %v", err)
	}
	if dup.Duplicate == nil {
		t.Fatalf("duplicate not reported: %+v", dup)
	}
	if dup.Duplicate.ExistingJobID != job.JobID {
		t.Errorf("duplicate points at %q, want %q", dup.Duplicate.ExistingJobID, job.JobID)
	}

	jobList, err := eng.ListJobs(ctx, store.JobFilter{Ontology: "astro"})
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}
	if len(jobList) != 1 {
		t.Errorf("jobs listed = %d, want 1", len(jobList))
	}
}

func TestJobErrors(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()

	if _, err := eng.GetJob(ctx, "job_missing"); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("missing job: got %v, want ErrJobNotFound", err)
	}

	res, err := eng.SubmitIngestJob(ctx, []byte(andromedaDoc),
		WithOntology("astro"), WithFilename("andromeda.md"))
	if err != nil {
		t.Fatalf("SubmitIngestJob: %v", err)
	}
	job := waitForJob(t, eng, res.Job.JobID)

	if err := eng.CancelJob(ctx, job.JobID); !errors.Is(err, ErrJobNotCancellable) {
		t.Errorf("cancelling finished job: got %v, want ErrJobNotCancellable", err)
	}
	if err := eng.DeleteJob(ctx, job.JobID, false); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := eng.GetJob(ctx, job.JobID); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("after delete: got %v, want ErrJobNotFound", err)
	}
}

// --- Ontology administration ---

func TestDeleteOntologyCascades(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	ingestDoc(t, eng, "scratch", "andromeda.md", andromedaDoc)

	concepts, err := eng.ListConcepts(ctx, "scratch", 50, 0)
	if err != nil {
		t.Fatalf("ListConcepts: %v", err)
	}
	if len(concepts) == 0 {
		t.Fatal("ingest created no concepts")
	}

	if err := eng.DeleteOntology(ctx, "scratch"); err != nil {
		t.Fatalf("DeleteOntology: %v", err)
	}

	concepts, err = eng.ListConcepts(ctx, "scratch", 50, 0)
	if err != nil {
		t.Fatalf("ListConcepts after delete: %v", err)
	}
	if len(concepts) != 0 {
		t.Errorf("concepts survived ontology delete: %d", len(concepts))
	}
	docs, err := eng.ListDocuments(ctx, "scratch")
	if err != nil {
		t.Fatalf("ListDocuments after delete: %v", err)
	}
	if len(docs) != 0 {
		t.Errorf("documents survived ontology delete: %d", len(docs))
	}

	if err := eng.DeleteOntology(ctx, "scratch"); !errors.Is(err, ErrOntologyNotFound) {
		t.Errorf("double delete: got %v, want ErrOntologyNotFound", err)
	}
}

func TestFreezeMissingOntology(t *testing.T) {
	eng := newTestEngine(t)

	err := eng.FreezeOntology(context.Background(), "phantom", true)
	if !errors.Is(err, ErrOntologyNotFound) {
		t.Errorf("freezing missing ontology: got %v, want ErrOntologyNotFound", err)
	}
}

// --- Stats ---

func TestStats(t *testing.T) {
	eng := newTestEngine(t)
	ctx := context.Background()
	ingestDoc(t, eng, "astro", "andromeda.md", andromedaDoc)

	stats, err := eng.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Database == nil {
		t.Fatal("nil database stats")
	}
	if stats.Database.Ontologies != 1 {
		t.Errorf("ontologies = %d, want 1", stats.Database.Ontologies)
	}
	if stats.Database.Concepts != 3 {
		t.Errorf("concepts = %d, want 3", stats.Database.Concepts)
	}
	if stats.Database.VocabTypes < 40 {
		t.Errorf("vocab types = %d, want >= 40", stats.Database.VocabTypes)
	}
	if stats.Storage != nil {
		t.Error("storage stats without an object store")
	}
}

package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mleroux/kgraph"
	"github.com/mleroux/kgraph/analysis"
	"github.com/mleroux/kgraph/chunker"
	"github.com/mleroux/kgraph/graph"
	"github.com/mleroux/kgraph/jobs"
	"github.com/mleroux/kgraph/query"
	"github.com/mleroux/kgraph/store"
)

type handler struct {
	engine kgraph.Engine
}

func newHandler(e kgraph.Engine) *handler {
	return &handler{engine: e}
}

// callerID is the identity the gateway resolved for this request. The
// engine records it as provenance; it is not an authorization decision.
func callerID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// --- Ingestion ---

type ingestRequest struct {
	ContentB64 string `json:"content_b64,omitempty"`
	Content    string `json:"content,omitempty"`
	Ontology   string `json:"ontology"`
	Filename   string `json:"filename,omitempty"`
	SourceType string `json:"source_type,omitempty"`
	FilePath   string `json:"file_path,omitempty"`
	Force      bool   `json:"force,omitempty"`

	TargetWords int `json:"target_words,omitempty"`
	MinWords    int `json:"min_words,omitempty"`
	MaxWords    int `json:"max_words,omitempty"`
}

func (req *ingestRequest) decode() ([]byte, []kgraph.IngestOption, error) {
	var content []byte
	switch {
	case req.ContentB64 != "":
		data, err := base64.StdEncoding.DecodeString(req.ContentB64)
		if err != nil {
			return nil, nil, errors.New("content_b64 is not valid base64")
		}
		content = data
	case req.Content != "":
		content = []byte(req.Content)
	default:
		return nil, nil, errors.New("content or content_b64 is required")
	}

	opts := []kgraph.IngestOption{kgraph.WithOntology(req.Ontology)}
	if req.Filename != "" {
		opts = append(opts, kgraph.WithFilename(req.Filename))
	}
	if req.SourceType != "" {
		opts = append(opts, kgraph.WithSourceType(req.SourceType))
	}
	if req.FilePath != "" {
		opts = append(opts, kgraph.WithFilePath(req.FilePath))
	}
	if req.Force {
		opts = append(opts, kgraph.WithForce())
	}
	if req.TargetWords > 0 || req.MaxWords > 0 {
		opts = append(opts, kgraph.WithChunkBounds(chunker.Bounds{
			Target: req.TargetWords,
			Min:    req.MinWords,
			Max:    req.MaxWords,
		}))
	}
	return content, opts, nil
}

// POST /ingest
// Synchronous ingestion: parses, chunks, extracts, and stores in the
// request's lifetime. Long documents belong on POST /jobs/ingest.
func (h *handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 30*time.Minute)
	defer cancel()

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid JSON")
		return
	}
	content, opts, err := req.decode()
	if err != nil {
		writeInvalid(w, err.Error())
		return
	}
	if uid := callerID(r); uid != "" {
		opts = append(opts, kgraph.WithUser(uid))
	}

	res, err := h.engine.Ingest(ctx, content, opts...)
	if err != nil {
		writeErr(w, err)
		slog.Error("ingest error", "ontology", req.Ontology, "error", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /jobs/ingest
func (h *handler) handleSubmitIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid JSON")
		return
	}
	content, opts, err := req.decode()
	if err != nil {
		writeInvalid(w, err.Error())
		return
	}
	if uid := callerID(r); uid != "" {
		opts = append(opts, kgraph.WithUser(uid))
	}

	res, err := h.engine.SubmitIngestJob(r.Context(), content, opts...)
	if err != nil {
		writeErr(w, err)
		slog.Error("submit ingest error", "ontology", req.Ontology, "error", err)
		return
	}
	if res.Duplicate != nil {
		writeJSON(w, http.StatusOK, res)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// --- Jobs ---

// GET /jobs
func (h *handler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.engine.ListJobs(r.Context(), store.JobFilter{
		Status:        q.Get("status"),
		JobType:       q.Get("type"),
		Ontology:      q.Get("ontology"),
		UserID:        q.Get("user_id"),
		ExcludeSystem: boolParam(q.Get("exclude_system")),
		Limit:         intParam(q.Get("limit"), 0),
		Offset:        intParam(q.Get("offset"), 0),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": list, "count": len(list)})
}

// GET /jobs/{id}
func (h *handler) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.engine.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// POST /jobs/{id}/cancel
func (h *handler) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.CancelJob(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// DELETE /jobs/{id}
func (h *handler) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	force := boolParam(r.URL.Query().Get("force"))
	if err := h.engine.DeleteJob(r.Context(), r.PathValue("id"), force); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// DELETE /jobs
func (h *handler) handlePurgeJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var olderThan time.Duration
	if v := q.Get("older_than_hours"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil || hours < 0 {
			writeInvalid(w, "older_than_hours must be a non-negative integer")
			return
		}
		olderThan = time.Duration(hours) * time.Hour
	}
	n, err := h.engine.PurgeJobs(r.Context(), store.JobPurgeFilter{
		Status:     q.Get("status"),
		JobType:    q.Get("type"),
		SystemOnly: boolParam(q.Get("system_only")),
		OlderThan:  olderThan,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// --- Search and traversal ---

// POST /search/concepts
func (h *handler) handleSearchConcepts(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query            string  `json:"query"`
		Ontology         string  `json:"ontology,omitempty"`
		Limit            int     `json:"limit,omitempty"`
		MinSimilarity    float64 `json:"min_similarity,omitempty"`
		Offset           int     `json:"offset,omitempty"`
		IncludeGrounding bool    `json:"include_grounding,omitempty"`
		IncludeEvidence  bool    `json:"include_evidence,omitempty"`
		IncludeDiversity bool    `json:"include_diversity,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeInvalid(w, "query is required")
		return
	}

	res, err := h.engine.SearchConcepts(r.Context(), req.Query, query.SearchOptions{
		Ontology:         req.Ontology,
		Limit:            req.Limit,
		MinSimilarity:    req.MinSimilarity,
		Offset:           req.Offset,
		IncludeGrounding: req.IncludeGrounding,
		IncludeEvidence:  req.IncludeEvidence,
		IncludeDiversity: req.IncludeDiversity,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /search/sources
func (h *handler) handleSearchSources(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query           string  `json:"query"`
		Ontology        string  `json:"ontology,omitempty"`
		Limit           int     `json:"limit,omitempty"`
		MinSimilarity   float64 `json:"min_similarity,omitempty"`
		IncludeConcepts bool    `json:"include_concepts,omitempty"`
		IncludeFullText bool    `json:"include_full_text,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeInvalid(w, "query is required")
		return
	}

	res, err := h.engine.SearchSources(r.Context(), req.Query, query.SourceSearchOptions{
		Ontology:        req.Ontology,
		Limit:           req.Limit,
		MinSimilarity:   req.MinSimilarity,
		IncludeConcepts: req.IncludeConcepts,
		IncludeFullText: req.IncludeFullText,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /concepts/{id}/related
func (h *handler) handleRelatedConcepts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rel, err := h.engine.RelatedConcepts(r.Context(), r.PathValue("id"), graph.RelatedOptions{
		MaxDepth:         intParam(q.Get("max_depth"), 0),
		Types:            csvParam(q.Get("relationship_types")),
		IncludeEpistemic: csvParam(q.Get("include_epistemic")),
		ExcludeEpistemic: csvParam(q.Get("exclude_epistemic")),
		Limit:            intParam(q.Get("limit"), 0),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"related": rel, "count": len(rel)})
}

// GET /concepts/{id}/diversity
func (h *handler) handleDiversity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.engine.ConceptDiversity(r.Context(), r.PathValue("id"), analysis.DiversityOptions{
		MaxHops: intParam(q.Get("max_hops"), 0),
		Limit:   intParam(q.Get("limit"), 0),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /connect
func (h *handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromID  string `json:"from_id"`
		ToID    string `json:"to_id"`
		MaxHops int    `json:"max_hops,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid JSON")
		return
	}
	if req.FromID == "" || req.ToID == "" {
		writeInvalid(w, "from_id and to_id are required")
		return
	}

	res, err := h.engine.FindConnection(r.Context(), req.FromID, req.ToID,
		query.ConnectOptions{MaxHops: req.MaxHops})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /connect/search
func (h *handler) handleConnectBySearch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FromQuery     string  `json:"from_query"`
		ToQuery       string  `json:"to_query"`
		MaxHops       int     `json:"max_hops,omitempty"`
		MinSimilarity float64 `json:"min_similarity,omitempty"`
		Ontology      string  `json:"ontology,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid JSON")
		return
	}
	if req.FromQuery == "" || req.ToQuery == "" {
		writeInvalid(w, "from_query and to_query are required")
		return
	}

	res, err := h.engine.FindConnectionBySearch(r.Context(), req.FromQuery, req.ToQuery,
		query.ConnectOptions{
			MaxHops:       req.MaxHops,
			MinSimilarity: req.MinSimilarity,
			Ontology:      req.Ontology,
		})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /query
func (h *handler) handleRawQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		Limit int    `json:"limit,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid JSON")
		return
	}
	if req.Query == "" {
		writeInvalid(w, "query is required")
		return
	}

	res, err := h.engine.ExecuteQuery(r.Context(), req.Query, req.Limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /analysis/polarity
func (h *handler) handlePolarity(w http.ResponseWriter, r *http.Request) {
	var req analysis.PolarityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid JSON")
		return
	}
	if req.PositivePoleID == "" || req.NegativePoleID == "" {
		writeInvalid(w, "positive_pole_id and negative_pole_id are required")
		return
	}

	res, err := h.engine.AnalyzePolarity(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Curation ---

// GET /concepts
func (h *handler) handleListConcepts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ontology := q.Get("ontology")
	if ontology == "" {
		writeInvalid(w, "ontology is required")
		return
	}
	list, err := h.engine.ListConcepts(r.Context(), ontology,
		intParam(q.Get("limit"), 0), intParam(q.Get("offset"), 0))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"concepts": list, "count": len(list)})
}

// POST /concepts
func (h *handler) handleCreateConcept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Ontology    string   `json:"ontology"`
		Label       string   `json:"label"`
		Description string   `json:"description,omitempty"`
		SearchTerms []string `json:"search_terms,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid JSON")
		return
	}

	c, err := h.engine.CreateConcept(r.Context(), req.Ontology, req.Label, req.Description, req.SearchTerms)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// GET /concepts/{id}
func (h *handler) handleConceptDetails(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	det, err := h.engine.ConceptDetails(r.Context(), r.PathValue("id"), query.DetailsOptions{
		IncludeGrounding: boolParam(q.Get("include_grounding")),
		IncludeDiversity: boolParam(q.Get("include_diversity")),
		DiversityMaxHops: intParam(q.Get("diversity_max_hops"), 0),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, det)
}

// PUT /concepts/{id}
func (h *handler) handleUpdateConcept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Label       string   `json:"label,omitempty"`
		Description string   `json:"description,omitempty"`
		SearchTerms []string `json:"search_terms,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid JSON")
		return
	}

	c, err := h.engine.UpdateConcept(r.Context(), r.PathValue("id"), req.Label, req.Description, req.SearchTerms)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

// DELETE /concepts/{id}
func (h *handler) handleDeleteConcept(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteConcept(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /edges
func (h *handler) handleListEdges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.engine.ListEdges(r.Context(), store.EdgeFilter{
		Ontology:     q.Get("ontology"),
		RelationType: q.Get("relationship_type"),
		ConceptID:    q.Get("concept_id"),
		Limit:        intParam(q.Get("limit"), 0),
		Offset:       intParam(q.Get("offset"), 0),
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"edges": list, "count": len(list)})
}

// POST /edges
func (h *handler) handleCreateEdge(w http.ResponseWriter, r *http.Request) {
	var spec kgraph.EdgeSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeInvalid(w, "invalid JSON")
		return
	}
	if spec.CreatedBy == "" {
		spec.CreatedBy = callerID(r)
	}

	edge, err := h.engine.CreateEdge(r.Context(), spec)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, edge)
}

// PUT /edges/{id}
func (h *handler) handleUpdateEdge(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeInvalid(w, "invalid edge id")
		return
	}
	var req struct {
		Confidence float64 `json:"confidence,omitempty"`
		Category   string  `json:"category,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid JSON")
		return
	}

	edge, err := h.engine.UpdateEdge(r.Context(), id, req.Confidence, req.Category)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, edge)
}

// DELETE /edges/{id}
func (h *handler) handleDeleteEdge(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeInvalid(w, "invalid edge id")
		return
	}
	if err := h.engine.DeleteEdge(r.Context(), id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// POST /batch
func (h *handler) handleBatchCreate(w http.ResponseWriter, r *http.Request) {
	var req kgraph.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid JSON")
		return
	}
	if req.UserID == "" {
		req.UserID = callerID(r)
	}

	res, err := h.engine.BatchCreate(r.Context(), req)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// --- Artifacts ---

// GET /artifacts
func (h *handler) handleListArtifacts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.engine.ListArtifacts(r.Context(), q.Get("type"), q.Get("ontology"),
		intParam(q.Get("limit"), 0), intParam(q.Get("offset"), 0))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"artifacts": list, "count": len(list)})
}

// POST /artifacts
func (h *handler) handleCreateArtifact(w http.ResponseWriter, r *http.Request) {
	var spec kgraph.ArtifactSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeInvalid(w, "invalid JSON")
		return
	}
	if spec.OwnerID == "" {
		spec.OwnerID = callerID(r)
	}

	a, err := h.engine.CreateArtifact(r.Context(), spec)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

// GET /artifacts/{id}
func (h *handler) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	a, err := h.engine.GetArtifact(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// DELETE /artifacts/{id}
func (h *handler) handleDeleteArtifact(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteArtifact(r.Context(), r.PathValue("id")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Vocabulary administration ---

// GET /vocabulary
func (h *handler) handleListVocabulary(w http.ResponseWriter, r *http.Request) {
	activeOnly := boolParam(r.URL.Query().Get("active_only"))
	list, err := h.engine.ListVocabulary(r.Context(), activeOnly)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"types": list, "count": len(list)})
}

// GET /vocabulary/status
func (h *handler) handleVocabularyStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.VocabularyStatus(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /vocabulary/config
func (h *handler) handleVocabularyConfig(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.engine.VocabularyConfig(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// PATCH /vocabulary/config
func (h *handler) handleUpdateVocabularyConfig(w http.ResponseWriter, r *http.Request) {
	var req struct {
		VocabMin                         *int     `json:"vocab_min,omitempty"`
		VocabMax                         *int     `json:"vocab_max,omitempty"`
		VocabEmergency                   *int     `json:"vocab_emergency,omitempty"`
		PruningMode                      *string  `json:"pruning_mode,omitempty"`
		AggressivenessProfile            *string  `json:"aggressiveness_profile,omitempty"`
		AutoExpandEnabled                *bool    `json:"auto_expand_enabled,omitempty"`
		SynonymThresholdStrong           *float64 `json:"synonym_threshold_strong,omitempty"`
		SynonymThresholdModerate         *float64 `json:"synonym_threshold_moderate,omitempty"`
		LowValueThreshold                *float64 `json:"low_value_threshold,omitempty"`
		ConsolidationSimilarityThreshold *float64 `json:"consolidation_similarity_threshold,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid JSON")
		return
	}

	change, err := h.engine.UpdateVocabularyConfig(r.Context(), store.VocabConfigUpdate{
		VocabMin:                         req.VocabMin,
		VocabMax:                         req.VocabMax,
		VocabEmergency:                   req.VocabEmergency,
		PruningMode:                      req.PruningMode,
		AggressivenessProfile:            req.AggressivenessProfile,
		AutoExpandEnabled:                req.AutoExpandEnabled,
		SynonymThresholdStrong:           req.SynonymThresholdStrong,
		SynonymThresholdModerate:         req.SynonymThresholdModerate,
		LowValueThreshold:                req.LowValueThreshold,
		ConsolidationSimilarityThreshold: req.ConsolidationSimilarityThreshold,
	}, callerID(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, change)
}

// GET /vocabulary/history
func (h *handler) handleMergeHistory(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.MergeHistory(r.Context(), intParam(r.URL.Query().Get("limit"), 0))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"merges": list, "count": len(list)})
}

// GET /vocabulary/recommendations
func (h *handler) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.engine.VocabularyRecommendations(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// POST /vocabulary/consolidate
func (h *handler) handleConsolidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TargetSize int    `json:"target_size"`
		Mode       string `json:"mode,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid JSON")
		return
	}

	res, err := h.engine.ConsolidateVocabulary(r.Context(), req.TargetSize, req.Mode)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// POST /vocabulary/merge
func (h *handler) handleMergeTypes(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SourceType string `json:"source_type"`
		TargetType string `json:"target_type"`
		Reason     string `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid JSON")
		return
	}
	if req.SourceType == "" || req.TargetType == "" {
		writeInvalid(w, "source_type and target_type are required")
		return
	}

	merge, err := h.engine.MergeVocabularyTypes(r.Context(), req.SourceType, req.TargetType, req.Reason, callerID(r))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, merge)
}

// POST /vocabulary/restore
func (h *handler) handleRestoreType(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RelationshipType string `json:"relationship_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid JSON")
		return
	}
	if req.RelationshipType == "" {
		writeInvalid(w, "relationship_type is required")
		return
	}

	restored, err := h.engine.RestoreVocabularyType(r.Context(), req.RelationshipType)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"relationship_type": req.RelationshipType,
		"edges_restored":    restored,
	})
}

// GET /vocabulary/types/{type}/epistemic
func (h *handler) handleEpistemicStatus(w http.ResponseWriter, r *http.Request) {
	rep, err := h.engine.EpistemicStatus(r.Context(), r.PathValue("type"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// POST /vocabulary/embeddings/regenerate
func (h *handler) handleRegenerateEmbeddings(w http.ResponseWriter, r *http.Request) {
	var payload jobs.RegenPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil && !errors.Is(err, io.EOF) {
		writeInvalid(w, "invalid JSON")
		return
	}

	res, err := h.engine.RegenerateEmbeddings(r.Context(), payload)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

// GET /vocabulary/profiles
func (h *handler) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.ListProfiles(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"profiles": list, "count": len(list)})
}

// POST /vocabulary/profiles
func (h *handler) handleCreateProfile(w http.ResponseWriter, r *http.Request) {
	var p store.CurveProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeInvalid(w, "invalid JSON")
		return
	}

	created, err := h.engine.CreateProfile(r.Context(), p)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// DELETE /vocabulary/profiles/{name}
func (h *handler) handleDeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteProfile(r.Context(), r.PathValue("name")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// --- Ontologies and documents ---

// GET /ontologies
func (h *handler) handleListOntologies(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.ListOntologies(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ontologies": list, "count": len(list)})
}

// POST /ontologies/{name}/freeze
func (h *handler) handleFreezeOntology(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Frozen bool `json:"frozen"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeInvalid(w, "invalid JSON")
		return
	}

	name := r.PathValue("name")
	if err := h.engine.FreezeOntology(r.Context(), name, req.Frozen); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"ontology": name, "frozen": req.Frozen})
}

// DELETE /ontologies/{name}
func (h *handler) handleDeleteOntology(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteOntology(r.Context(), r.PathValue("name")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// GET /ontologies/{name}/documents
func (h *handler) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	list, err := h.engine.ListDocuments(r.Context(), r.PathValue("name"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"documents": list, "count": len(list)})
}

// GET /documents/{id}/verify
func (h *handler) handleVerifyDocument(w http.ResponseWriter, r *http.Request) {
	v, err := h.engine.VerifyChunkExtraction(r.Context(), r.PathValue("id"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// --- Admin ---

// GET /stats
func (h *handler) handleStats(w http.ResponseWriter, r *http.Request) {
	st, err := h.engine.Stats(r.Context())
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /health
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// --- Response plumbing ---

// errorBody is the wire shape for every failed request.
type errorBody struct {
	ErrorKind string      `json:"error_kind"`
	Message   string      `json:"message"`
	Details   interface{} `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeInvalid(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{
		ErrorKind: string(kgraph.KindInvalidInput),
		Message:   msg,
	})
}

// writeErr maps an engine error to its taxonomy kind and HTTP status.
// Phrase-resolution misses carry their near-miss hint in the details.
func writeErr(w http.ResponseWriter, err error) {
	var noMatch *query.NoMatchError
	if errors.As(err, &noMatch) {
		writeJSON(w, http.StatusNotFound, errorBody{
			ErrorKind: string(kgraph.KindNotFound),
			Message:   noMatch.Error(),
			Details:   noMatch,
		})
		return
	}

	kind := kgraph.Kind(err)
	status := http.StatusInternalServerError
	switch kind {
	case kgraph.KindNotFound:
		status = http.StatusNotFound
	case kgraph.KindConflict:
		status = http.StatusConflict
	case kgraph.KindInvalidInput:
		status = http.StatusBadRequest
	case kgraph.KindQuotaOrLimit:
		status = http.StatusTooManyRequests
	case kgraph.KindUpstreamUnavailable:
		status = http.StatusBadGateway
	}
	if kind == kgraph.KindFatal {
		slog.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorBody{ErrorKind: string(kind), Message: err.Error()})
}

// --- Parameter parsing ---

func intParam(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func boolParam(s string) bool {
	return s == "true" || s == "1" || s == "yes"
}

func csvParam(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

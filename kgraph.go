// Package kgraph builds and queries ontology-scoped knowledge graphs.
// Documents are parsed, chunked, and run through LLM concept extraction;
// the resulting concepts, evidence instances, and typed relationships
// land in an embedded SQLite store with vector search. A dynamic
// relationship vocabulary with pruning policies keeps the edge types
// coherent as the graph grows.
package kgraph

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mleroux/kgraph/analysis"
	"github.com/mleroux/kgraph/blob"
	"github.com/mleroux/kgraph/chunker"
	"github.com/mleroux/kgraph/embed"
	"github.com/mleroux/kgraph/graph"
	"github.com/mleroux/kgraph/jobs"
	"github.com/mleroux/kgraph/llm"
	"github.com/mleroux/kgraph/parser"
	"github.com/mleroux/kgraph/query"
	"github.com/mleroux/kgraph/store"
	"github.com/mleroux/kgraph/vocab"
)

// Engine is the main entry point for the knowledge-graph engine.
type Engine interface {
	// Ingest parses, chunks, extracts, and stores a document
	// synchronously, returning the final statistics. Content already
	// ingested into the ontology (by hash) is skipped unless forced.
	Ingest(ctx context.Context, content []byte, opts ...IngestOption) (*jobs.IngestResult, error)

	// SubmitIngestJob queues a document for background ingestion and
	// returns immediately with the job, or with the duplicate that
	// blocked it.
	SubmitIngestJob(ctx context.Context, content []byte, opts ...IngestOption) (*jobs.SubmitResult, error)

	// SearchConcepts runs semantic search over concept embeddings.
	SearchConcepts(ctx context.Context, q string, opts query.SearchOptions) (*query.SearchResponse, error)

	// SearchSources finds source chunks through their extracted concepts.
	SearchSources(ctx context.Context, q string, opts query.SourceSearchOptions) (*query.SourceSearchResponse, error)

	// ConceptDetails returns one concept with its documents, evidence
	// quotes, and outbound relationships.
	ConceptDetails(ctx context.Context, conceptID string, opts query.DetailsOptions) (*query.ConceptDetails, error)

	// RelatedConcepts walks the graph outward from a concept.
	RelatedConcepts(ctx context.Context, conceptID string, opts graph.RelatedOptions) ([]graph.RelatedConcept, error)

	// FindConnection pathfinds between two concepts by ID.
	FindConnection(ctx context.Context, fromID, toID string, opts query.ConnectOptions) (*query.ConnectionResult, error)

	// FindConnectionBySearch resolves two phrases to concepts and
	// pathfinds between them.
	FindConnectionBySearch(ctx context.Context, fromQuery, toQuery string, opts query.ConnectOptions) (*query.ConnectionResult, error)

	// ExecuteQuery runs a read-only SQL query through the store's
	// guardrails.
	ExecuteQuery(ctx context.Context, rawSQL string, limit int) (*query.RawResult, error)

	// AnalyzePolarity projects concepts onto an axis between two poles.
	AnalyzePolarity(ctx context.Context, req analysis.PolarityRequest) (*analysis.PolarityResult, error)

	// ConceptDiversity scores how varied a concept's neighborhood is.
	ConceptDiversity(ctx context.Context, conceptID string, opts analysis.DiversityOptions) (*analysis.DiversityResult, error)

	// CreateConcept adds a curated concept with a fresh embedding.
	CreateConcept(ctx context.Context, ontology, label, description string, searchTerms []string) (*store.Concept, error)

	// GetConcept fetches one concept by ID.
	GetConcept(ctx context.Context, conceptID string) (*store.Concept, error)

	// UpdateConcept edits a concept's text fields and re-embeds it.
	UpdateConcept(ctx context.Context, conceptID, label, description string, searchTerms []string) (*store.Concept, error)

	// DeleteConcept removes an unreferenced concept. Concepts with
	// edges or evidence instances are refused.
	DeleteConcept(ctx context.Context, conceptID string) error

	// ListConcepts pages through an ontology's concepts.
	ListConcepts(ctx context.Context, ontology string, limit, offset int) ([]store.Concept, error)

	// CreateEdge adds a typed relationship between two concepts. The
	// type is normalized through the vocabulary first.
	CreateEdge(ctx context.Context, spec EdgeSpec) (*store.Edge, error)

	// UpdateEdge changes an edge's confidence or category.
	UpdateEdge(ctx context.Context, edgeID int64, confidence float64, category string) (*store.Edge, error)

	// DeleteEdge removes one edge by ID.
	DeleteEdge(ctx context.Context, edgeID int64) error

	// ListEdges returns edges matching the filter, newest first.
	ListEdges(ctx context.Context, f store.EdgeFilter) ([]store.Edge, error)

	// BatchCreate inserts concepts and edges in bulk, resolving labels
	// to existing concepts by embedding similarity. Item failures are
	// collected, not fatal.
	BatchCreate(ctx context.Context, req BatchRequest) (*BatchResult, error)

	// CreateArtifact persists a derived output, inline or in the object
	// store depending on size.
	CreateArtifact(ctx context.Context, spec ArtifactSpec) (*store.Artifact, error)

	// GetArtifact fetches an artifact with its content materialized.
	GetArtifact(ctx context.Context, artifactID string) (*store.Artifact, error)

	// ListArtifacts pages artifact records without loading blob content.
	ListArtifacts(ctx context.Context, artifactType, ontology string, limit, offset int) ([]store.Artifact, error)

	// DeleteArtifact removes an artifact and its stored payload.
	DeleteArtifact(ctx context.Context, artifactID string) error

	// VocabularyStatus analyzes the vocabulary: size, zone, scores,
	// synonym candidates, and low-value types.
	VocabularyStatus(ctx context.Context) (*vocab.Analysis, error)

	// ListVocabulary returns relationship types, optionally active only.
	ListVocabulary(ctx context.Context, activeOnly bool) ([]store.VocabType, error)

	// VocabularyConfig returns the live consolidation policy.
	VocabularyConfig(ctx context.Context) (*store.VocabConfig, error)

	// UpdateVocabularyConfig applies a partial config update and
	// reports which fields changed.
	UpdateVocabularyConfig(ctx context.Context, u store.VocabConfigUpdate, updatedBy string) (*VocabularyConfigChange, error)

	// MergeHistory lists past vocabulary merges, newest first.
	MergeHistory(ctx context.Context, limit int) ([]store.VocabMerge, error)

	// VocabularyRecommendations evaluates pruning candidates under the
	// configured mode and buckets them by required action.
	VocabularyRecommendations(ctx context.Context) (*RecommendationSet, error)

	// ConsolidateVocabulary merges synonyms until the vocabulary
	// reaches the target size or candidates run out.
	ConsolidateVocabulary(ctx context.Context, target int, mode string) (*vocab.ConsolidateResult, error)

	// MergeVocabularyTypes manually folds one relationship type into
	// another, relabeling its edges.
	MergeVocabularyTypes(ctx context.Context, sourceType, targetType, reason, decidedBy string) (*store.VocabMerge, error)

	// RestoreVocabularyType undoes the most recent merge that
	// deprecated the type, returning how many edges were relabeled.
	RestoreVocabularyType(ctx context.Context, relationshipType string) (int, error)

	// EpistemicStatus classifies a relationship type by the grounding
	// of the concepts it connects.
	EpistemicStatus(ctx context.Context, relationshipType string) (*EpistemicReport, error)

	// RegenerateEmbeddings queues a background rebuild of vocabulary
	// type embeddings.
	RegenerateEmbeddings(ctx context.Context, p jobs.RegenPayload) (*jobs.SubmitResult, error)

	// CreateProfile adds a custom aggressiveness curve profile.
	CreateProfile(ctx context.Context, p store.CurveProfile) (*store.CurveProfile, error)

	// ListProfiles returns all aggressiveness profiles.
	ListProfiles(ctx context.Context) ([]store.CurveProfile, error)

	// DeleteProfile removes a custom profile. Builtins are refused.
	DeleteProfile(ctx context.Context, name string) error

	// GetJob fetches one job with its progress and result.
	GetJob(ctx context.Context, jobID string) (*store.Job, error)

	// ListJobs returns jobs matching the filter, newest first.
	ListJobs(ctx context.Context, f store.JobFilter) ([]store.Job, error)

	// CancelJob cancels a queued job.
	CancelJob(ctx context.Context, jobID string) error

	// DeleteJob removes a job record. Processing jobs need force.
	DeleteJob(ctx context.Context, jobID string, force bool) error

	// PurgeJobs bulk-deletes job history matching the filter.
	PurgeJobs(ctx context.Context, f store.JobPurgeFilter) (int, error)

	// ListOntologies returns every ontology with its frozen flag.
	ListOntologies(ctx context.Context) ([]store.Ontology, error)

	// FreezeOntology toggles write protection on an ontology.
	FreezeOntology(ctx context.Context, ontology string, frozen bool) error

	// DeleteOntology removes an ontology and all graph data under it,
	// including stored originals when an object store is configured.
	DeleteOntology(ctx context.Context, ontology string) error

	// ListDocuments returns ingestion metadata for an ontology.
	ListDocuments(ctx context.Context, ontology string) ([]store.DocumentMeta, error)

	// VerifyChunkExtraction checks a document's chunk offsets for
	// consistency and, when the original is retrievable, its hash.
	VerifyChunkExtraction(ctx context.Context, documentID string) (*ChunkVerification, error)

	// Stats returns row counts and, when configured, object store usage.
	Stats(ctx context.Context) (*EngineStats, error)

	// Store returns the underlying store for diagnostic access.
	Store() *store.Store

	// Close stops background workers and shuts the engine down.
	Close() error
}

// EngineStats aggregates database row counts with object-store usage.
type EngineStats struct {
	Database *store.Stats `json:"database"`
	Storage  *blob.Stats  `json:"storage,omitempty"`
}

// ChunkVerification reports whether a document's stored chunks are
// internally consistent. HashVerified is nil when the original bytes
// are not retrievable from the object store.
type ChunkVerification struct {
	DocumentID   string   `json:"document_id"`
	Ontology     string   `json:"ontology"`
	ChunkCount   int      `json:"chunk_count"`
	OffsetsValid bool     `json:"offsets_valid"`
	HashVerified *bool    `json:"hash_verified,omitempty"`
	ContentHash  string   `json:"content_hash,omitempty"`
	Issues       []string `json:"issues,omitempty"`
}

// IngestOption configures one ingestion call.
type IngestOption func(*ingestOptions)

type ingestOptions struct {
	ontology   string
	filename   string
	sourceType string
	filePath   string
	hostname   string
	userID     string
	bounds     chunker.Bounds
	force      bool
}

// WithOntology sets the target ontology. Required.
func WithOntology(name string) IngestOption {
	return func(o *ingestOptions) { o.ontology = name }
}

// WithFilename names the document; the extension selects the parser.
func WithFilename(name string) IngestOption {
	return func(o *ingestOptions) { o.filename = name }
}

// WithSourceType records how the content arrived (api, upload, sync).
func WithSourceType(sourceType string) IngestOption {
	return func(o *ingestOptions) { o.sourceType = sourceType }
}

// WithFilePath records the original path on the submitting host.
func WithFilePath(path string) IngestOption {
	return func(o *ingestOptions) { o.filePath = path }
}

// WithHostname overrides the recorded submitting host.
func WithHostname(hostname string) IngestOption {
	return func(o *ingestOptions) { o.hostname = hostname }
}

// WithUser attributes the ingestion to a caller identity.
func WithUser(userID string) IngestOption {
	return func(o *ingestOptions) { o.userID = userID }
}

// WithChunkBounds overrides the configured chunk size bounds.
func WithChunkBounds(b chunker.Bounds) IngestOption {
	return func(o *ingestOptions) { o.bounds = b }
}

// WithForce re-ingests content even when its hash is already known.
func WithForce() IngestOption {
	return func(o *ingestOptions) { o.force = true }
}

// Option configures engine construction.
type Option func(*engineOptions)

type engineOptions struct {
	logger *slog.Logger
}

// WithLogger sets the logger for engine-level events.
func WithLogger(l *slog.Logger) Option {
	return func(o *engineOptions) { o.logger = l }
}

// pipelineProvider is the provider handed to every component that both
// extracts and embeds. Extraction calls pass through to the extraction
// backend; Embed is rerouted through the worker so all vector
// generation shares one serialization point.
type pipelineProvider struct {
	llm.Provider
	worker *embed.Worker
}

func (p pipelineProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return p.worker.Embed(ctx, texts)
}

// engine is the concrete implementation of Engine.
type engine struct {
	cfg Config
	log *slog.Logger

	store     *store.Store
	objects   *blob.Client
	sources   *blob.Sources
	artifacts *blob.Artifacts
	retention *blob.Retention

	extractLLM llm.Provider
	embedLLM   llm.Provider
	worker     *embed.Worker
	provider   llm.Provider

	vocabMgr  *vocab.Manager
	builder   *graph.Builder
	traverser *graph.Traverser
	analyzer  *analysis.Analyzer
	querier   *query.Engine

	parsers    *parser.Registry
	translator *chunker.Translator
	ingestor   *jobs.Ingestor

	queue     *jobs.Queue
	scheduler *jobs.Scheduler
}

// New creates a kgraph engine with the given configuration and starts
// its background job queue.
func New(cfg Config, opts ...Option) (Engine, error) {
	options := &engineOptions{logger: slog.Default()}
	for _, o := range opts {
		o(options)
	}
	log := options.logger

	// Apply defaults for zero values
	if cfg.EmbeddingDim == 0 {
		cfg.EmbeddingDim = 768
	}
	if cfg.LLMTimeout == 0 {
		cfg.LLMTimeout = 60 * time.Second
	}
	if cfg.TranslationWorkers == 0 {
		cfg.TranslationWorkers = 3
	}
	if cfg.InlineArtifactThresholdBytes == 0 {
		cfg.InlineArtifactThresholdBytes = 10 * 1024
	}
	if cfg.Vocabulary == (VocabularyConfig{}) {
		cfg.Vocabulary = DefaultConfig().Vocabulary
	}
	dbPath := cfg.resolveDBPath()

	// Open store
	s, err := store.New(dbPath, cfg.EmbeddingDim)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	// Create LLM providers
	extractLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Extraction.Provider,
		Model:    cfg.Extraction.Model,
		BaseURL:  cfg.Extraction.BaseURL,
		APIKey:   cfg.Extraction.APIKey,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating extraction provider: %w", err)
	}

	embedLLM, err := llm.NewProvider(llm.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
		BaseURL:  cfg.Embedding.BaseURL,
		APIKey:   cfg.Embedding.APIKey,
		Dim:      cfg.EmbeddingDim,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}

	translateLLM := extractLLM
	if cfg.Translation.Provider != "" {
		translateLLM, err = llm.NewProvider(llm.Config{
			Provider: cfg.Translation.Provider,
			Model:    cfg.Translation.Model,
			BaseURL:  cfg.Translation.BaseURL,
			APIKey:   cfg.Translation.APIKey,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("creating translation provider: %w", err)
		}
	}

	// Connect object store when configured; the engine runs without one,
	// losing original-file retention and blob-backed artifacts.
	var (
		objects   *blob.Client
		sources   *blob.Sources
		artifacts *blob.Artifacts
		retention *blob.Retention
	)
	if cfg.ObjectStore.Endpoint != "" {
		objects, err = blob.NewClient(context.Background(), blob.Config{
			Endpoint:  cfg.ObjectStore.Endpoint,
			AccessKey: cfg.ObjectStore.AccessKey,
			SecretKey: cfg.ObjectStore.SecretKey,
			Bucket:    cfg.ObjectStore.Bucket,
			UseSSL:    cfg.ObjectStore.UseSSL,
		})
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("connecting object store: %w", err)
		}
		sources = blob.NewSources(objects)
		artifacts = blob.NewArtifacts(objects)
		retention = blob.NewRetention(objects)
	}

	// Create the embedding worker and the composite provider that
	// funnels every Embed call through it.
	worker := embed.NewWorker(s, embedLLM, embed.Config{
		Provider: cfg.Embedding.Provider,
		Model:    cfg.Embedding.Model,
	})
	provider := pipelineProvider{Provider: extractLLM, worker: worker}

	// Seed vocabulary config from the engine config before the manager
	// seeds its defaults; the first writer wins and the database row is
	// the runtime source of truth from then on.
	initCtx := context.Background()
	if err := s.SeedVocabConfig(initCtx, store.VocabConfig{
		VocabMin:                         cfg.Vocabulary.VocabMin,
		VocabMax:                         cfg.Vocabulary.VocabMax,
		VocabEmergency:                   cfg.Vocabulary.VocabEmergency,
		PruningMode:                      cfg.Vocabulary.PruningMode,
		AggressivenessProfile:            cfg.Vocabulary.AggressivenessProfile,
		AutoExpandEnabled:                cfg.Vocabulary.AutoExpand,
		SynonymThresholdStrong:           cfg.Vocabulary.SynonymThresholdStrong,
		SynonymThresholdModerate:         cfg.Vocabulary.SynonymThresholdModerate,
		LowValueThreshold:                cfg.Vocabulary.LowValueThreshold,
		ConsolidationSimilarityThreshold: cfg.Vocabulary.ConsolidationSimilarityThreshold,
	}); err != nil {
		s.Close()
		return nil, fmt.Errorf("seeding vocabulary config: %w", err)
	}

	vocabMgr := vocab.NewManager(s, provider)
	if err := vocabMgr.Seed(initCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("seeding vocabulary: %w", err)
	}

	// Embed builtin vocabulary types. Failure is survivable: epistemic
	// traversal filters degrade until a regeneration job succeeds.
	if res, err := worker.InitializeBuiltins(initCtx); err != nil {
		log.Warn("engine: builtin embedding init failed", "error", err)
	} else if !res.AlreadyInitialized {
		log.Info("engine: builtin vocabulary embedded",
			"processed", res.Processed, "failed", res.Failed)
	}

	// Create pipeline components
	builder := graph.NewBuilder(s, provider, vocabMgr, graph.BuilderConfig{
		MatchThreshold:  cfg.MatchThreshold,
		CarryOverChunks: cfg.CarryOverChunks,
		ChunkTimeout:    cfg.LLMTimeout,
	})
	traverser := graph.NewTraverser(s, vocabMgr)
	analyzer := analysis.NewAnalyzer(s, traverser)
	querier := query.New(s, worker, traverser, vocabMgr, analyzer)

	parsers := parser.NewRegistry()
	translator := chunker.NewTranslator(translateLLM, cfg.TranslationWorkers, cfg.LLMTimeout)
	ingestor := jobs.NewIngestor(s, parsers, translator, builder)

	// Start the job queue and maintenance scheduler. A typed-nil
	// *blob.Artifacts must not reach the sweeper's interface field.
	queue := jobs.NewQueue(s, jobs.Config{})
	var arty jobs.ArtifactBlobs
	if artifacts != nil {
		arty = artifacts
	}
	queue.Register(jobs.TypeIngest, 1, ingestor.Run)
	queue.Register(jobs.TypeEmbeddingRegen, 1, jobs.NewRegenerator(worker).Run)
	queue.Register(jobs.TypeArtifactCleanup, 1, jobs.NewSweeper(s, arty).Run)
	queue.Start(context.Background())

	scheduler := jobs.NewScheduler(queue, jobs.SchedulerConfig{})
	scheduler.Start(context.Background())

	log.Info("engine: ready",
		"db", dbPath,
		"embedding", cfg.Embedding.Provider,
		"extraction", cfg.Extraction.Provider,
		"object_store", objects != nil)

	return &engine{
		cfg:        cfg,
		log:        log,
		store:      s,
		objects:    objects,
		sources:    sources,
		artifacts:  artifacts,
		retention:  retention,
		extractLLM: extractLLM,
		embedLLM:   embedLLM,
		worker:     worker,
		provider:   provider,
		vocabMgr:   vocabMgr,
		builder:    builder,
		traverser:  traverser,
		analyzer:   analyzer,
		querier:    querier,
		parsers:    parsers,
		translator: translator,
		ingestor:   ingestor,
		queue:      queue,
		scheduler:  scheduler,
	}, nil
}

// --- Ingestion ---

// Ingest runs the full pipeline in the caller's goroutine.
func (e *engine) Ingest(ctx context.Context, content []byte, opts ...IngestOption) (*jobs.IngestResult, error) {
	o, err := e.resolveIngestOptions(content, opts)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	if err := e.ensureWritable(ctx, o.ontology); err != nil {
		return nil, err
	}
	if !o.force {
		if meta, err := e.store.GetDocumentMetaByHash(ctx, hash, o.ontology); err == nil {
			e.log.Info("ingest: content already ingested",
				"ontology", o.ontology, "document", meta.DocumentID, "filename", meta.Filename)
			return &jobs.IngestResult{
				Ontology:   o.ontology,
				Filename:   meta.Filename,
				DocumentID: meta.DocumentID,
				Message:    "content already ingested",
			}, nil
		}
	}

	payload, err := e.buildIngestPayload(ctx, content, hash, o)
	if err != nil {
		return nil, err
	}

	res, err := e.ingestor.Execute(ctx, payload, o.userID, "", nil)
	if err != nil {
		return nil, err
	}
	e.log.Info("ingest: complete",
		"ontology", o.ontology,
		"document", res.DocumentID,
		"chunks", res.ChunksProcessed,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// SubmitIngestJob queues the pipeline for the background workers.
func (e *engine) SubmitIngestJob(ctx context.Context, content []byte, opts ...IngestOption) (*jobs.SubmitResult, error) {
	o, err := e.resolveIngestOptions(content, opts)
	if err != nil {
		return nil, err
	}
	sum := sha256.Sum256(content)
	hash := hex.EncodeToString(sum[:])

	if err := e.ensureWritable(ctx, o.ontology); err != nil {
		return nil, err
	}
	if !o.force {
		if meta, err := e.store.GetDocumentMetaByHash(ctx, hash, o.ontology); err == nil {
			return &jobs.SubmitResult{Duplicate: &jobs.Duplicate{
				ExistingJobID: meta.JobID,
				Status:        "completed",
				CompletedAt:   meta.IngestedAt,
				Message:       fmt.Sprintf("content already ingested as %s", meta.DocumentID),
			}}, nil
		}
	}

	payload, err := e.buildIngestPayload(ctx, content, hash, o)
	if err != nil {
		return nil, err
	}

	res, err := e.queue.Submit(ctx, jobs.SubmitOptions{
		Type:        jobs.TypeIngest,
		Ontology:    o.ontology,
		UserID:      o.userID,
		ContentHash: hash,
		Payload:     payload,
		Analysis:    jobs.AnalyzeIngest(o.filename, content, o.bounds),
		Force:       o.force,
	})
	if err != nil {
		return nil, fmt.Errorf("submitting ingest job: %w", err)
	}
	if res.Job != nil {
		e.log.Info("ingest: queued",
			"ontology", o.ontology, "job", res.Job.JobID, "filename", o.filename)
	}
	return res, nil
}

// resolveIngestOptions applies defaults and validates the option set.
func (e *engine) resolveIngestOptions(content []byte, opts []IngestOption) (*ingestOptions, error) {
	if len(content) == 0 {
		return nil, fmt.Errorf("%w: empty content", ErrMalformedDocument)
	}
	o := &ingestOptions{
		filename:   "text_input.txt",
		sourceType: "api",
		bounds: chunker.Bounds{
			Target: e.cfg.ChunkTargetWords,
			Min:    e.cfg.ChunkMinWords,
			Max:    e.cfg.ChunkMaxWords,
		},
	}
	if host, err := os.Hostname(); err == nil {
		o.hostname = host
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.ontology == "" {
		return nil, fmt.Errorf("%w: ontology is required", ErrInvalidConfig)
	}
	return o, nil
}

// buildIngestPayload assembles the pipeline payload, storing the
// original bytes in the object store when one is configured.
func (e *engine) buildIngestPayload(ctx context.Context, content []byte, hash string, o *ingestOptions) (jobs.IngestPayload, error) {
	p := jobs.IngestPayload{
		Content:     content,
		Ontology:    o.ontology,
		Filename:    o.filename,
		ContentHash: hash,
		SourceType:  o.sourceType,
		FilePath:    o.filePath,
		Hostname:    o.hostname,
		Bounds:      o.bounds,
	}
	if e.sources != nil {
		obj, err := e.sources.Put(ctx, o.ontology, o.filename, "", content, hash)
		if err != nil {
			return p, fmt.Errorf("storing original: %w", err)
		}
		p.StorageKey = obj.Key
	}
	return p, nil
}

// --- Search and traversal ---

func (e *engine) SearchConcepts(ctx context.Context, q string, opts query.SearchOptions) (*query.SearchResponse, error) {
	return e.querier.SearchConcepts(ctx, q, opts)
}

func (e *engine) SearchSources(ctx context.Context, q string, opts query.SourceSearchOptions) (*query.SourceSearchResponse, error) {
	return e.querier.SearchSources(ctx, q, opts)
}

func (e *engine) ConceptDetails(ctx context.Context, conceptID string, opts query.DetailsOptions) (*query.ConceptDetails, error) {
	det, err := e.querier.ConceptDetails(ctx, conceptID, opts)
	if err != nil {
		return nil, notFound(err, ErrConceptNotFound, conceptID)
	}
	return det, nil
}

func (e *engine) RelatedConcepts(ctx context.Context, conceptID string, opts graph.RelatedOptions) ([]graph.RelatedConcept, error) {
	rel, err := e.traverser.Related(ctx, conceptID, opts)
	if err != nil {
		return nil, notFound(err, ErrConceptNotFound, conceptID)
	}
	return rel, nil
}

// FindConnection pathfinds between two known concept IDs. The result
// mirrors the search-phrase variant with exact-match endpoints.
func (e *engine) FindConnection(ctx context.Context, fromID, toID string, opts query.ConnectOptions) (*query.ConnectionResult, error) {
	if opts.MaxHops <= 0 {
		opts.MaxHops = 5
	}
	from, err := e.store.GetConcept(ctx, fromID)
	if err != nil {
		return nil, notFound(err, ErrConceptNotFound, fromID)
	}
	to, err := e.store.GetConcept(ctx, toID)
	if err != nil {
		return nil, notFound(err, ErrConceptNotFound, toID)
	}

	paths, err := e.traverser.FindPaths(ctx, fromID, toID, graph.PathOptions{MaxHops: opts.MaxHops})
	if err != nil {
		return nil, fmt.Errorf("finding paths: %w", err)
	}
	if paths == nil {
		paths = []graph.Path{}
	}
	return &query.ConnectionResult{
		From:      query.MatchedConcept{ConceptID: from.ConceptID, Label: from.Label, Similarity: 1.0},
		To:        query.MatchedConcept{ConceptID: to.ConceptID, Label: to.Label, Similarity: 1.0},
		Paths:     paths,
		PathCount: len(paths),
		MaxHops:   opts.MaxHops,
	}, nil
}

func (e *engine) FindConnectionBySearch(ctx context.Context, fromQuery, toQuery string, opts query.ConnectOptions) (*query.ConnectionResult, error) {
	return e.querier.FindConnectionBySearch(ctx, fromQuery, toQuery, opts)
}

func (e *engine) ExecuteQuery(ctx context.Context, rawSQL string, limit int) (*query.RawResult, error) {
	return e.querier.ExecuteQuery(ctx, rawSQL, limit)
}

// --- Analysis ---

func (e *engine) AnalyzePolarity(ctx context.Context, req analysis.PolarityRequest) (*analysis.PolarityResult, error) {
	return e.analyzer.AnalyzePolarity(ctx, req)
}

func (e *engine) ConceptDiversity(ctx context.Context, conceptID string, opts analysis.DiversityOptions) (*analysis.DiversityResult, error) {
	res, err := e.analyzer.Diversity(ctx, conceptID, opts)
	if err != nil {
		return nil, notFound(err, ErrConceptNotFound, conceptID)
	}
	return res, nil
}

// --- Jobs ---

func (e *engine) GetJob(ctx context.Context, jobID string) (*store.Job, error) {
	j, err := e.queue.Get(ctx, jobID)
	if err != nil {
		if errors.Is(err, jobs.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
		}
		return nil, err
	}
	return j, nil
}

func (e *engine) ListJobs(ctx context.Context, f store.JobFilter) ([]store.Job, error) {
	return e.queue.List(ctx, f)
}

func (e *engine) CancelJob(ctx context.Context, jobID string) error {
	err := e.queue.Cancel(ctx, jobID)
	switch {
	case err == nil:
		e.log.Info("engine: job cancelled", "job", jobID)
		return nil
	case errors.Is(err, jobs.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	case errors.Is(err, jobs.ErrNotCancellable):
		return fmt.Errorf("%w: %s", ErrJobNotCancellable, jobID)
	default:
		return err
	}
}

func (e *engine) DeleteJob(ctx context.Context, jobID string, force bool) error {
	err := e.queue.Delete(ctx, jobID, force)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, jobs.ErrNotFound):
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	case errors.Is(err, jobs.ErrStillProcessing):
		return fmt.Errorf("%w: %s", ErrJobRunning, jobID)
	default:
		return err
	}
}

func (e *engine) PurgeJobs(ctx context.Context, f store.JobPurgeFilter) (int, error) {
	n, err := e.queue.Purge(ctx, f)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.log.Info("engine: jobs purged", "removed", n)
	}
	return n, nil
}

// --- Ontologies and documents ---

func (e *engine) ListOntologies(ctx context.Context) ([]store.Ontology, error) {
	return e.store.ListOntologies(ctx)
}

func (e *engine) FreezeOntology(ctx context.Context, ontology string, frozen bool) error {
	if err := e.store.SetOntologyFrozen(ctx, ontology, frozen); err != nil {
		return notFound(err, ErrOntologyNotFound, ontology)
	}
	e.log.Info("engine: ontology freeze toggled", "ontology", ontology, "frozen", frozen)
	return nil
}

func (e *engine) DeleteOntology(ctx context.Context, ontology string) error {
	if err := e.store.DeleteOntology(ctx, ontology); err != nil {
		return notFound(err, ErrOntologyNotFound, ontology)
	}
	// Graph rows are gone; stored originals go best-effort.
	if e.sources != nil {
		if n, err := e.sources.DeleteOntology(ctx, ontology); err != nil {
			e.log.Warn("engine: ontology blob cleanup failed",
				"ontology", ontology, "error", err)
		} else if n > 0 {
			e.log.Info("engine: ontology blobs removed",
				"ontology", ontology, "objects", n)
		}
	}
	e.log.Info("engine: ontology deleted", "ontology", ontology)
	return nil
}

func (e *engine) ListDocuments(ctx context.Context, ontology string) ([]store.DocumentMeta, error) {
	return e.store.ListDocuments(ctx, ontology)
}

// VerifyChunkExtraction sanity-checks the stored chunks of a document:
// character offsets must be ordered and non-overlapping, and when the
// original bytes are still in the object store their hash must match
// what ingestion recorded.
func (e *engine) VerifyChunkExtraction(ctx context.Context, documentID string) (*ChunkVerification, error) {
	meta, err := e.store.GetDocumentMeta(ctx, documentID)
	if err != nil {
		return nil, notFound(err, ErrDocumentNotFound, documentID)
	}
	srcs, err := e.store.SourcesByDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("loading sources: %w", err)
	}

	v := &ChunkVerification{
		DocumentID:   documentID,
		Ontology:     meta.Ontology,
		ChunkCount:   len(srcs),
		OffsetsValid: true,
		ContentHash:  meta.ContentHash,
	}
	prevEnd := 0
	for _, src := range srcs {
		switch {
		case src.CharOffsetStart < 0 || src.CharOffsetEnd < src.CharOffsetStart:
			v.OffsetsValid = false
			v.Issues = append(v.Issues, fmt.Sprintf(
				"%s: inverted offsets [%d, %d)", src.SourceID, src.CharOffsetStart, src.CharOffsetEnd))
		case src.CharOffsetStart < prevEnd:
			v.OffsetsValid = false
			v.Issues = append(v.Issues, fmt.Sprintf(
				"%s: overlaps previous chunk at offset %d", src.SourceID, src.CharOffsetStart))
		}
		if src.CharOffsetEnd > prevEnd {
			prevEnd = src.CharOffsetEnd
		}
	}

	if e.sources != nil && meta.ContentHash != "" {
		data, _, err := e.sources.GetByHash(ctx, meta.Ontology, meta.ContentHash)
		switch {
		case errors.Is(err, blob.ErrNotFound):
			// Original was never stored or already cleaned up; offsets
			// remain the only signal.
		case err != nil:
			return nil, fmt.Errorf("fetching original: %w", err)
		default:
			sum := sha256.Sum256(data)
			ok := hex.EncodeToString(sum[:]) == meta.ContentHash
			v.HashVerified = &ok
			if !ok {
				v.Issues = append(v.Issues, "stored original does not match recorded content hash")
			}
			if meta.FileSize > 0 && int64(len(data)) != meta.FileSize {
				v.Issues = append(v.Issues, fmt.Sprintf(
					"stored original is %d bytes, metadata says %d", len(data), meta.FileSize))
			}
		}
	}
	return v, nil
}

// --- Admin ---

func (e *engine) Stats(ctx context.Context) (*EngineStats, error) {
	db, err := e.store.DBStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("database stats: %w", err)
	}
	out := &EngineStats{Database: db}
	if e.retention != nil {
		st, err := e.retention.Stats(ctx)
		if err != nil {
			e.log.Warn("engine: storage stats unavailable", "error", err)
		} else {
			out.Storage = st
		}
	}
	return out, nil
}

// Store returns the underlying store for diagnostic access.
func (e *engine) Store() *store.Store {
	return e.store
}

// Close stops the scheduler and queue, then closes the store.
func (e *engine) Close() error {
	e.scheduler.Stop()
	e.queue.Stop()
	err := e.store.Close()
	e.log.Info("engine: closed")
	return err
}

// --- Shared guards ---

// ensureWritable refuses writes into a frozen ontology. A missing
// ontology is writable: the ingestion pipeline creates it on first use.
func (e *engine) ensureWritable(ctx context.Context, ontology string) error {
	o, err := e.store.GetOntology(ctx, ontology)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("checking ontology %s: %w", ontology, err)
	}
	if o.Frozen {
		return fmt.Errorf("%w: %s", ErrOntologyFrozen, ontology)
	}
	return nil
}

// notFound converts a sql.ErrNoRows chain into the engine's sentinel
// for the entity; other errors pass through untouched.
func notFound(err, sentinel error, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", sentinel, id)
	}
	return err
}

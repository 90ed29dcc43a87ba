package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mleroux/kgraph"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := kgraph.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}

	// Override from environment variables.
	if v := os.Getenv("KGRAPH_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("KGRAPH_EXTRACTION_PROVIDER"); v != "" {
		cfg.Extraction.Provider = v
	}
	if v := os.Getenv("KGRAPH_EXTRACTION_MODEL"); v != "" {
		cfg.Extraction.Model = v
	}
	if v := os.Getenv("KGRAPH_EXTRACTION_BASE_URL"); v != "" {
		cfg.Extraction.BaseURL = v
	}
	if v := os.Getenv("KGRAPH_EXTRACTION_API_KEY"); v != "" {
		cfg.Extraction.APIKey = v
	}
	if v := os.Getenv("KGRAPH_EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("KGRAPH_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("KGRAPH_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("KGRAPH_EMBED_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("KGRAPH_S3_ENDPOINT"); v != "" {
		cfg.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("KGRAPH_S3_ACCESS_KEY"); v != "" {
		cfg.ObjectStore.AccessKey = v
	}
	if v := os.Getenv("KGRAPH_S3_SECRET_KEY"); v != "" {
		cfg.ObjectStore.SecretKey = v
	}
	if v := os.Getenv("KGRAPH_S3_BUCKET"); v != "" {
		cfg.ObjectStore.Bucket = v
	}

	// Fallback: check well-known provider env vars for API keys.
	if cfg.Extraction.APIKey == "" {
		switch cfg.Extraction.Provider {
		case "openai":
			cfg.Extraction.APIKey = os.Getenv("OPENAI_API_KEY")
		case "anthropic":
			cfg.Extraction.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	}
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == "openai" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	apiKey := os.Getenv("KGRAPH_API_KEY")
	corsOrigins := os.Getenv("KGRAPH_CORS_ORIGINS")

	engine, err := kgraph.New(cfg)
	if err != nil {
		slog.Error("creating engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	h := newHandler(engine)
	mux := http.NewServeMux()

	// Ingestion
	mux.HandleFunc("POST /ingest", h.handleIngest)
	mux.HandleFunc("POST /jobs/ingest", h.handleSubmitIngest)

	// Jobs
	mux.HandleFunc("GET /jobs", h.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", h.handleGetJob)
	mux.HandleFunc("POST /jobs/{id}/cancel", h.handleCancelJob)
	mux.HandleFunc("DELETE /jobs/{id}", h.handleDeleteJob)
	mux.HandleFunc("DELETE /jobs", h.handlePurgeJobs)

	// Search and traversal
	mux.HandleFunc("POST /search/concepts", h.handleSearchConcepts)
	mux.HandleFunc("POST /search/sources", h.handleSearchSources)
	mux.HandleFunc("GET /concepts/{id}/related", h.handleRelatedConcepts)
	mux.HandleFunc("GET /concepts/{id}/diversity", h.handleDiversity)
	mux.HandleFunc("POST /connect", h.handleConnect)
	mux.HandleFunc("POST /connect/search", h.handleConnectBySearch)
	mux.HandleFunc("POST /query", h.handleRawQuery)
	mux.HandleFunc("POST /analysis/polarity", h.handlePolarity)

	// Curation
	mux.HandleFunc("GET /concepts", h.handleListConcepts)
	mux.HandleFunc("POST /concepts", h.handleCreateConcept)
	mux.HandleFunc("GET /concepts/{id}", h.handleConceptDetails)
	mux.HandleFunc("PUT /concepts/{id}", h.handleUpdateConcept)
	mux.HandleFunc("DELETE /concepts/{id}", h.handleDeleteConcept)
	mux.HandleFunc("GET /edges", h.handleListEdges)
	mux.HandleFunc("POST /edges", h.handleCreateEdge)
	mux.HandleFunc("PUT /edges/{id}", h.handleUpdateEdge)
	mux.HandleFunc("DELETE /edges/{id}", h.handleDeleteEdge)
	mux.HandleFunc("POST /batch", h.handleBatchCreate)

	// Artifacts
	mux.HandleFunc("GET /artifacts", h.handleListArtifacts)
	mux.HandleFunc("POST /artifacts", h.handleCreateArtifact)
	mux.HandleFunc("GET /artifacts/{id}", h.handleGetArtifact)
	mux.HandleFunc("DELETE /artifacts/{id}", h.handleDeleteArtifact)

	// Vocabulary administration
	mux.HandleFunc("GET /vocabulary", h.handleListVocabulary)
	mux.HandleFunc("GET /vocabulary/status", h.handleVocabularyStatus)
	mux.HandleFunc("GET /vocabulary/config", h.handleVocabularyConfig)
	mux.HandleFunc("PATCH /vocabulary/config", h.handleUpdateVocabularyConfig)
	mux.HandleFunc("GET /vocabulary/history", h.handleMergeHistory)
	mux.HandleFunc("GET /vocabulary/recommendations", h.handleRecommendations)
	mux.HandleFunc("POST /vocabulary/consolidate", h.handleConsolidate)
	mux.HandleFunc("POST /vocabulary/merge", h.handleMergeTypes)
	mux.HandleFunc("POST /vocabulary/restore", h.handleRestoreType)
	mux.HandleFunc("GET /vocabulary/types/{type}/epistemic", h.handleEpistemicStatus)
	mux.HandleFunc("POST /vocabulary/embeddings/regenerate", h.handleRegenerateEmbeddings)
	mux.HandleFunc("GET /vocabulary/profiles", h.handleListProfiles)
	mux.HandleFunc("POST /vocabulary/profiles", h.handleCreateProfile)
	mux.HandleFunc("DELETE /vocabulary/profiles/{name}", h.handleDeleteProfile)

	// Ontologies and documents
	mux.HandleFunc("GET /ontologies", h.handleListOntologies)
	mux.HandleFunc("POST /ontologies/{name}/freeze", h.handleFreezeOntology)
	mux.HandleFunc("DELETE /ontologies/{name}", h.handleDeleteOntology)
	mux.HandleFunc("GET /ontologies/{name}/documents", h.handleListDocuments)
	mux.HandleFunc("GET /documents/{id}/verify", h.handleVerifyDocument)

	mux.HandleFunc("GET /stats", h.handleStats)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // synchronous ingest can be long
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

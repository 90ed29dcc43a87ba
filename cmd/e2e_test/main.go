// Command e2e_test exercises the full pipeline against a live engine:
// ingest a small markdown document, search it, walk the graph, and dump
// the vocabulary state. Providers default to the mock backend so the
// binary runs offline; set KGRAPH_E2E_PROVIDER=ollama (plus the usual
// env) to hit real models.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/mleroux/kgraph"
	"github.com/mleroux/kgraph/graph"
	"github.com/mleroux/kgraph/query"
)

const sampleDoc = `# Stellar Lifecycles

Massive stars fuse hydrogen into helium in their cores. When the core
exhausts its fuel, gravitational collapse triggers a supernova.

## Remnants

Supernova explosions seed the interstellar medium with heavy elements.
Neutron stars and black holes are the compact remnants left behind.

` + "```python\nfor star in catalog:\n    if star.mass > 8:\n        star.fate = \"supernova\"\n```\n"

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	provider := os.Getenv("KGRAPH_E2E_PROVIDER")
	if provider == "" {
		provider = "mock"
	}

	tmpDir, _ := os.MkdirTemp("", "kgraph-e2e-*")
	defer os.RemoveAll(tmpDir)

	cfg := kgraph.DefaultConfig()
	cfg.DBPath = tmpDir + "/e2e.db"
	cfg.Extraction = kgraph.LLMConfig{
		Provider: provider,
		Model:    os.Getenv("KGRAPH_EXTRACTION_MODEL"),
		BaseURL:  os.Getenv("KGRAPH_EXTRACTION_BASE_URL"),
		APIKey:   os.Getenv("KGRAPH_EXTRACTION_API_KEY"),
	}
	cfg.Embedding = kgraph.LLMConfig{
		Provider: provider,
		Model:    os.Getenv("KGRAPH_EMBED_MODEL"),
		BaseURL:  os.Getenv("KGRAPH_EMBED_BASE_URL"),
		APIKey:   os.Getenv("KGRAPH_EMBED_API_KEY"),
	}
	if provider == "mock" {
		cfg.EmbeddingDim = 64
	}

	engine, err := kgraph.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	// Ingest
	fmt.Fprintln(os.Stderr, "=== INGESTING sample document ===")
	res, err := engine.Ingest(ctx, []byte(sampleDoc),
		kgraph.WithOntology("e2e-astro"),
		kgraph.WithFilename("stellar_lifecycles.md"),
		kgraph.WithUser("e2e"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingest error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "document=%s chunks=%d\n", res.DocumentID, res.ChunksProcessed)
	if res.Stats != nil {
		fmt.Fprintf(os.Stderr, "concepts=%d created/%d linked edges=%d\n",
			res.Stats.ConceptsCreated, res.Stats.ConceptsLinked, res.Stats.RelationshipsCreated)
	}

	// Search
	fmt.Fprintln(os.Stderr, "\n=== SEARCHING ===")
	search, err := engine.SearchConcepts(ctx, "stellar collapse remnants", query.SearchOptions{
		Ontology:        "e2e-astro",
		Limit:           5,
		IncludeEvidence: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "search error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "hits=%d threshold=%.2f\n", search.Count, search.ThresholdUsed)

	// Neighborhood walk from the best hit.
	if search.Count > 0 {
		top := search.Results[0]
		rel, err := engine.RelatedConcepts(ctx, top.ConceptID, graph.RelatedOptions{MaxDepth: 2})
		if err != nil {
			fmt.Fprintf(os.Stderr, "related error: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "\n=== RELATED to %q: %d concepts ===\n", top.Label, len(rel))
	}

	// Vocabulary health after auto-expansion.
	status, err := engine.VocabularyStatus(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "vocabulary status error: %v\n", err)
		os.Exit(1)
	}

	out, _ := json.MarshalIndent(map[string]interface{}{
		"ingest":     res,
		"search":     search,
		"vocabulary": status,
	}, "", "  ")
	fmt.Println(string(out))
}

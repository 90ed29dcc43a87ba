package kgraph

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds all configuration for the kgraph engine.
type Config struct {
	// DBPath is the full path to the SQLite database file.
	// If empty, defaults to ~/.kgraph/<DBName>.db
	DBPath string `json:"db_path" yaml:"db_path"`

	// DBName is the name for the database (used when DBPath is empty).
	// Defaults to "kgraph".
	DBName string `json:"db_name" yaml:"db_name"`

	// StorageDir controls where the database is created when DBPath
	// is not explicitly set. Options: "home" (default) uses ~/.kgraph/,
	// "local" uses the current working directory.
	StorageDir string `json:"storage_dir" yaml:"storage_dir"`

	// LLM providers. Provider is one of: openai, anthropic, ollama, mock.
	Extraction  LLMConfig `json:"extraction" yaml:"extraction"`
	Embedding   LLMConfig `json:"embedding" yaml:"embedding"`
	Translation LLMConfig `json:"translation" yaml:"translation"` // optional: fast model for code-block translation (defaults to Extraction)

	// Object storage for original sources, artifact blobs, and
	// projection snapshots. Optional: when Endpoint is empty the engine
	// runs without an object store and artifact payloads must fit inline.
	ObjectStore ObjectStoreConfig `json:"object_store" yaml:"object_store"`

	// Chunking bounds in words.
	ChunkTargetWords int `json:"chunk_target_words" yaml:"chunk_target_words"`
	ChunkMinWords    int `json:"chunk_min_words" yaml:"chunk_min_words"`
	ChunkMaxWords    int `json:"chunk_max_words" yaml:"chunk_max_words"`

	// TranslationWorkers caps parallel code-block translations (default 3).
	TranslationWorkers int `json:"translation_workers" yaml:"translation_workers"`

	// LLMTimeout bounds each individual LLM call (default 60s).
	LLMTimeout time.Duration `json:"llm_timeout" yaml:"llm_timeout"`

	// CarryOverChunks is how many previous chunks feed recent-concept
	// context into extraction (default 3).
	CarryOverChunks int `json:"carry_over_chunks" yaml:"carry_over_chunks"`

	// MatchThreshold is the embedding similarity above which an extracted
	// concept links to an existing one instead of creating a duplicate.
	MatchThreshold float64 `json:"match_threshold" yaml:"match_threshold"`

	// Vocabulary consolidation thresholds and policy.
	Vocabulary VocabularyConfig `json:"vocabulary" yaml:"vocabulary"`

	// InlineArtifactThresholdBytes routes artifact payloads: smaller
	// payloads are stored inline, larger ones go to object storage.
	InlineArtifactThresholdBytes int `json:"inline_artifact_threshold_bytes" yaml:"inline_artifact_threshold_bytes"`

	// Embedding dimensions (must match model).
	EmbeddingDim int `json:"embedding_dim" yaml:"embedding_dim"`
}

// LLMConfig configures a single LLM provider endpoint.
type LLMConfig struct {
	Provider string `json:"provider" yaml:"provider"` // openai, anthropic, ollama, mock
	Model    string `json:"model" yaml:"model"`
	BaseURL  string `json:"base_url" yaml:"base_url"`
	APIKey   string `json:"api_key" yaml:"api_key"`
}

// ObjectStoreConfig configures the S3-compatible object store.
type ObjectStoreConfig struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
	Bucket    string `json:"bucket" yaml:"bucket"`
	UseSSL    bool   `json:"use_ssl" yaml:"use_ssl"`
}

// VocabularyConfig holds the consolidation policy knobs.
type VocabularyConfig struct {
	// Size thresholds driving the aggressiveness curve.
	VocabMin       int `json:"vocab_min" yaml:"vocab_min"`
	VocabMax       int `json:"vocab_max" yaml:"vocab_max"`
	VocabEmergency int `json:"vocab_emergency" yaml:"vocab_emergency"`

	// PruningMode selects the decision policy: naive, hitl, aitl.
	PruningMode string `json:"pruning_mode" yaml:"pruning_mode"`

	// AggressivenessProfile names a Bezier curve profile.
	AggressivenessProfile string `json:"aggressiveness_profile" yaml:"aggressiveness_profile"`

	// AutoExpand lets ingestion add unmatched relationship types to the
	// vocabulary instead of dropping the edges.
	AutoExpand bool `json:"auto_expand" yaml:"auto_expand"`

	// Synonym similarity bands.
	SynonymThresholdStrong   float64 `json:"synonym_threshold_strong" yaml:"synonym_threshold_strong"`
	SynonymThresholdModerate float64 `json:"synonym_threshold_moderate" yaml:"synonym_threshold_moderate"`

	// LowValueThreshold marks types for deprecation review.
	LowValueThreshold float64 `json:"low_value_threshold" yaml:"low_value_threshold"`

	// ConsolidationSimilarityThreshold is the auto-merge floor for the
	// AITL loop.
	ConsolidationSimilarityThreshold float64 `json:"consolidation_similarity_threshold" yaml:"consolidation_similarity_threshold"`
}

// DefaultConfig returns a Config with sensible defaults for local inference.
// Database is stored in ~/.kgraph/kgraph.db by default.
func DefaultConfig() Config {
	return Config{
		DBName:     "kgraph",
		StorageDir: "home",
		Extraction: LLMConfig{
			Provider: "ollama",
			Model:    "llama3.1:8b",
			BaseURL:  "http://localhost:11434",
		},
		Embedding: LLMConfig{
			Provider: "ollama",
			Model:    "nomic-embed-text",
			BaseURL:  "http://localhost:11434",
		},
		ChunkTargetWords:   1000,
		ChunkMinWords:      100,
		ChunkMaxWords:      1500,
		TranslationWorkers: 3,
		LLMTimeout:         60 * time.Second,
		CarryOverChunks:    3,
		MatchThreshold:     0.85,
		Vocabulary: VocabularyConfig{
			VocabMin:                         30,
			VocabMax:                         90,
			VocabEmergency:                   200,
			PruningMode:                      "aitl",
			AggressivenessProfile:            "aggressive",
			AutoExpand:                       true,
			SynonymThresholdStrong:           0.90,
			SynonymThresholdModerate:         0.70,
			LowValueThreshold:                1.0,
			ConsolidationSimilarityThreshold: 0.90,
		},
		InlineArtifactThresholdBytes: 10 * 1024,
		EmbeddingDim:                 768,
	}
}

// resolveDBPath computes the final database path from config fields.
func (c *Config) resolveDBPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}

	name := c.DBName
	if name == "" {
		name = "kgraph"
	}

	switch c.StorageDir {
	case "local", "cwd":
		return name + ".db"
	default: // "home" or empty
		home, err := os.UserHomeDir()
		if err != nil {
			return name + ".db" // fallback to cwd
		}
		dir := filepath.Join(home, ".kgraph")
		return filepath.Join(dir, name+".db")
	}
}

package store

import "fmt"

// schemaSQL returns the DDL for all tables. embeddingDim controls the
// vec0 virtual table dimensions.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Ontology registry. Every concept, edge, and source belongs to one.
CREATE TABLE IF NOT EXISTS ontologies (
    name TEXT PRIMARY KEY,
    frozen INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Document registry with content-addressed dedup
CREATE TABLE IF NOT EXISTS document_meta (
    document_id TEXT PRIMARY KEY,
    ontology TEXT NOT NULL REFERENCES ontologies(name),
    content_hash TEXT NOT NULL,
    filename TEXT NOT NULL,
    file_ext TEXT,
    file_size INTEGER,
    source_type TEXT,
    file_path TEXT,
    hostname TEXT,
    ingested_by TEXT,
    job_id TEXT,
    storage_key TEXT,
    source_count INTEGER DEFAULT 0,
    ingested_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Source chunks: the evidence layer beneath concepts
CREATE TABLE IF NOT EXISTS sources (
    id INTEGER PRIMARY KEY,
    source_id TEXT NOT NULL UNIQUE,
    ontology TEXT NOT NULL REFERENCES ontologies(name),
    document TEXT NOT NULL,
    paragraph INTEGER NOT NULL,
    full_text TEXT NOT NULL,
    file_path TEXT,
    content_type TEXT,
    storage_key TEXT,
    content_hash TEXT,
    char_offset_start INTEGER,
    char_offset_end INTEGER,
    chunk_index INTEGER,
    boundary_type TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Full-text search over source chunks
CREATE VIRTUAL TABLE IF NOT EXISTS sources_fts USING fts5(
    full_text,
    content='sources',
    content_rowid='id',
    tokenize='porter unicode61'
);

CREATE TRIGGER IF NOT EXISTS sources_ai AFTER INSERT ON sources BEGIN
    INSERT INTO sources_fts(rowid, full_text) VALUES (new.id, new.full_text);
END;
CREATE TRIGGER IF NOT EXISTS sources_ad AFTER DELETE ON sources BEGIN
    INSERT INTO sources_fts(sources_fts, rowid, full_text) VALUES ('delete', old.id, old.full_text);
END;
CREATE TRIGGER IF NOT EXISTS sources_au AFTER UPDATE ON sources BEGIN
    INSERT INTO sources_fts(sources_fts, rowid, full_text) VALUES ('delete', old.id, old.full_text);
    INSERT INTO sources_fts(rowid, full_text) VALUES (new.id, new.full_text);
END;

-- Concepts: the nodes of the knowledge graph
CREATE TABLE IF NOT EXISTS concepts (
    id INTEGER PRIMARY KEY,
    concept_id TEXT NOT NULL UNIQUE,
    ontology TEXT NOT NULL REFERENCES ontologies(name),
    label TEXT NOT NULL,
    description TEXT,
    search_terms JSON,
    created_at_epoch INTEGER NOT NULL,
    last_seen_epoch INTEGER NOT NULL,
    seen_count INTEGER NOT NULL DEFAULT 1
);

-- Concept embeddings via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_concepts USING vec0(
    concept_rowid INTEGER PRIMARY KEY,
    embedding float[%[1]d] distance_metric=cosine
);

-- Concept-to-source provenance
CREATE TABLE IF NOT EXISTS concept_sources (
    concept_id TEXT NOT NULL REFERENCES concepts(concept_id) ON DELETE CASCADE,
    source_id TEXT NOT NULL REFERENCES sources(source_id) ON DELETE CASCADE,
    PRIMARY KEY (concept_id, source_id)
);

-- Evidence quotes linking concepts to the exact text that supports them
CREATE TABLE IF NOT EXISTS instances (
    id INTEGER PRIMARY KEY,
    concept_id TEXT NOT NULL REFERENCES concepts(concept_id) ON DELETE CASCADE,
    source_id TEXT NOT NULL REFERENCES sources(source_id) ON DELETE CASCADE,
    quote TEXT NOT NULL,
    relevance REAL DEFAULT 0.0,
    document TEXT,
    paragraph INTEGER,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Typed edges between concepts
CREATE TABLE IF NOT EXISTS edges (
    id INTEGER PRIMARY KEY,
    ontology TEXT NOT NULL REFERENCES ontologies(name),
    from_concept TEXT NOT NULL REFERENCES concepts(concept_id) ON DELETE CASCADE,
    to_concept TEXT NOT NULL REFERENCES concepts(concept_id) ON DELETE CASCADE,
    relation_type TEXT NOT NULL,
    confidence REAL NOT NULL DEFAULT 1.0,
    category TEXT,
    source TEXT,
    created_by TEXT,
    job_id TEXT,
    document_id TEXT,
    previous_type TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(from_concept, to_concept, relation_type)
);

-- Relationship vocabulary
CREATE TABLE IF NOT EXISTS vocabulary_types (
    id INTEGER PRIMARY KEY,
    relationship_type TEXT NOT NULL UNIQUE,
    description TEXT,
    category TEXT,
    is_builtin INTEGER NOT NULL DEFAULT 0,
    is_active INTEGER NOT NULL DEFAULT 1,
    validation_status TEXT NOT NULL DEFAULT 'pending',
    usage_count INTEGER NOT NULL DEFAULT 0,
    traversal_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    deprecated_at DATETIME
);

-- Vocabulary type embeddings via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_vocab USING vec0(
    vocab_rowid INTEGER PRIMARY KEY,
    embedding float[%[1]d] distance_metric=cosine
);

-- Vocabulary categories
CREATE TABLE IF NOT EXISTS vocabulary_categories (
    name TEXT PRIMARY KEY,
    description TEXT
);

-- Merge history for vocabulary consolidation (reversible)
CREATE TABLE IF NOT EXISTS vocabulary_merges (
    id INTEGER PRIMARY KEY,
    source_type TEXT NOT NULL,
    target_type TEXT NOT NULL,
    similarity REAL,
    decided_by TEXT NOT NULL,
    mode TEXT,
    reason TEXT,
    edges_moved INTEGER DEFAULT 0,
    merged_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    undone_at DATETIME
);

-- Daily traversal buckets per relationship type, for trend scoring
CREATE TABLE IF NOT EXISTS traversal_stats (
    relationship_type TEXT NOT NULL,
    day TEXT NOT NULL,
    count INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (relationship_type, day)
);

-- Singleton vocabulary policy row
CREATE TABLE IF NOT EXISTS vocabulary_config (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    vocab_min INTEGER NOT NULL,
    vocab_max INTEGER NOT NULL,
    vocab_emergency INTEGER NOT NULL,
    pruning_mode TEXT NOT NULL,
    aggressiveness_profile TEXT NOT NULL,
    auto_expand_enabled INTEGER NOT NULL DEFAULT 1,
    synonym_threshold_strong REAL NOT NULL,
    synonym_threshold_moderate REAL NOT NULL,
    low_value_threshold REAL NOT NULL,
    consolidation_similarity_threshold REAL NOT NULL,
    updated_by TEXT,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Bezier curve profiles for consolidation aggressiveness
CREATE TABLE IF NOT EXISTS aggressiveness_profiles (
    profile_name TEXT PRIMARY KEY,
    control_x1 REAL NOT NULL,
    control_y1 REAL NOT NULL,
    control_x2 REAL NOT NULL,
    control_y2 REAL NOT NULL,
    description TEXT,
    is_builtin INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- Analysis artifacts: small payloads inline, large ones in object storage
CREATE TABLE IF NOT EXISTS artifacts (
    artifact_id TEXT PRIMARY KEY,
    artifact_type TEXT NOT NULL,
    representation TEXT,
    owner_id TEXT,
    graph_epoch INTEGER NOT NULL DEFAULT 0,
    ontology TEXT,
    title TEXT,
    parameters JSON,
    concept_ids JSON,
    content_inline TEXT,
    storage_key TEXT,
    content_hash TEXT,
    size_bytes INTEGER DEFAULT 0,
    retention_policy TEXT NOT NULL DEFAULT 'temporary',
    metadata JSON,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    expires_at DATETIME,
    CHECK ((content_inline IS NULL) <> (storage_key IS NULL))
);

-- Job queue
CREATE TABLE IF NOT EXISTS jobs (
    job_id TEXT PRIMARY KEY,
    job_type TEXT NOT NULL,
    ontology TEXT,
    status TEXT NOT NULL DEFAULT 'queued',
    content_hash TEXT,
    payload JSON,
    progress JSON,
    result JSON,
    error TEXT,
    analysis JSON,
    user_id TEXT,
    is_system INTEGER NOT NULL DEFAULT 0,
    artifact_id TEXT,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    started_at DATETIME,
    completed_at DATETIME
);

-- Monotone graph-change counter, stamped onto artifacts at creation
CREATE TABLE IF NOT EXISTS graph_epoch (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    epoch INTEGER NOT NULL DEFAULT 0,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

-- One-shot initialization markers (builtin embeddings, seed data)
CREATE TABLE IF NOT EXISTS system_initialization_status (
    component TEXT PRIMARY KEY,
    initialized INTEGER NOT NULL DEFAULT 0,
    initialized_at DATETIME,
    details TEXT
);

-- Indexes
CREATE INDEX IF NOT EXISTS idx_sources_ontology ON sources(ontology);
CREATE INDEX IF NOT EXISTS idx_sources_document ON sources(document);
CREATE INDEX IF NOT EXISTS idx_document_meta_hash ON document_meta(content_hash, ontology);
CREATE INDEX IF NOT EXISTS idx_concepts_ontology ON concepts(ontology);
CREATE INDEX IF NOT EXISTS idx_concepts_label ON concepts(label);
CREATE INDEX IF NOT EXISTS idx_instances_concept ON instances(concept_id);
CREATE INDEX IF NOT EXISTS idx_instances_source ON instances(source_id);
CREATE INDEX IF NOT EXISTS idx_edges_from ON edges(from_concept);
CREATE INDEX IF NOT EXISTS idx_edges_to ON edges(to_concept);
CREATE INDEX IF NOT EXISTS idx_edges_type ON edges(relation_type);
CREATE INDEX IF NOT EXISTS idx_edges_ontology ON edges(ontology);
CREATE INDEX IF NOT EXISTS idx_vocab_active ON vocabulary_types(is_active);
CREATE INDEX IF NOT EXISTS idx_artifacts_type ON artifacts(artifact_type);
CREATE INDEX IF NOT EXISTS idx_artifacts_expires ON artifacts(expires_at);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_hash ON jobs(content_hash);
`, embeddingDim)
}

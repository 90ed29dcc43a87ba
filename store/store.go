// Package store wraps the SQLite database holding the knowledge graph:
// concepts, edges, evidence, the relationship vocabulary, artifacts, and
// the job queue. Vector search runs through sqlite-vec virtual tables;
// source text search through FTS5.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	sqlite_vec.Auto()
}

// Store wraps the SQLite database for all kgraph persistence.
type Store struct {
	db           *sql.DB
	embeddingDim int
}

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including sqlite-vec and FTS5 virtual tables.
func New(dbPath string, embeddingDim int) (*Store, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Create schema
	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &Store{db: db, embeddingDim: embeddingDim}

	// Run pending migrations.
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for advanced queries.
func (s *Store) DB() *sql.DB {
	return s.db
}

// EmbeddingDim returns the configured embedding dimension.
func (s *Store) EmbeddingDim() int {
	return s.embeddingDim
}

// --- Ontology operations ---

// Ontology is a named namespace for a graph.
type Ontology struct {
	Name      string `json:"name"`
	Frozen    bool   `json:"frozen"`
	CreatedAt string `json:"created_at"`
}

// EnsureOntology creates the ontology row if it does not exist.
func (s *Store) EnsureOntology(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO ontologies (name) VALUES (?)", name)
	return err
}

// GetOntology retrieves a single ontology by name.
func (s *Store) GetOntology(ctx context.Context, name string) (*Ontology, error) {
	o := &Ontology{}
	var frozen int
	err := s.db.QueryRowContext(ctx,
		"SELECT name, frozen, created_at FROM ontologies WHERE name = ?", name).
		Scan(&o.Name, &frozen, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.Frozen = frozen != 0
	return o, nil
}

// ListOntologies returns all ontologies with their concept counts.
func (s *Store) ListOntologies(ctx context.Context) ([]Ontology, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, frozen, created_at FROM ontologies ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Ontology
	for rows.Next() {
		var o Ontology
		var frozen int
		if err := rows.Scan(&o.Name, &frozen, &o.CreatedAt); err != nil {
			return nil, err
		}
		o.Frozen = frozen != 0
		out = append(out, o)
	}
	return out, rows.Err()
}

// SetOntologyFrozen toggles the frozen flag. Frozen ontologies reject
// writes but keep serving reads.
func (s *Store) SetOntologyFrozen(ctx context.Context, name string, frozen bool) error {
	f := 0
	if frozen {
		f = 1
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE ontologies SET frozen = ? WHERE name = ?", f, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteOntology removes an ontology and every graph row under it:
// instances, concept-source links, edges, concept vectors, concepts,
// sources, and document metadata, all in one transaction. Job and
// artifact history rows keep their ontology column as a record of what
// ran. Returns sql.ErrNoRows when the ontology does not exist.
func (s *Store) DeleteOntology(ctx context.Context, name string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx,
			"SELECT 1 FROM ontologies WHERE name = ?", name).Scan(&exists)
		if err != nil {
			return err
		}

		for _, q := range []string{
			`DELETE FROM instances WHERE concept_id IN (
				SELECT concept_id FROM concepts WHERE ontology = ?)`,
			`DELETE FROM concept_sources WHERE concept_id IN (
				SELECT concept_id FROM concepts WHERE ontology = ?)`,
			"DELETE FROM edges WHERE ontology = ?",
			`DELETE FROM vec_concepts WHERE concept_rowid IN (
				SELECT id FROM concepts WHERE ontology = ?)`,
			"DELETE FROM concepts WHERE ontology = ?",
			"DELETE FROM sources WHERE ontology = ?",
			"DELETE FROM document_meta WHERE ontology = ?",
			"DELETE FROM ontologies WHERE name = ?",
		} {
			if _, err := tx.ExecContext(ctx, q, name); err != nil {
				return err
			}
		}
		return bumpEpochTx(ctx, tx)
	})
}

// --- Raw query ---

// RawQuery executes a read-only SELECT against the graph tables and
// returns rows as column-name maps. Statements that are not SELECT or
// WITH are rejected, and a LIMIT is injected when the caller omitted
// one so unbounded scans cannot hold the database.
func (s *Store) RawQuery(ctx context.Context, query string, maxRows int) ([]map[string]interface{}, error) {
	trimmed := strings.TrimSpace(query)
	trimmed = strings.TrimSuffix(trimmed, ";")
	if strings.Contains(trimmed, ";") {
		return nil, fmt.Errorf("multiple statements not allowed")
	}

	upper := strings.ToUpper(trimmed)
	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return nil, fmt.Errorf("only SELECT queries allowed")
	}

	if maxRows <= 0 {
		maxRows = 100
	}
	if !strings.Contains(upper, " LIMIT ") {
		trimmed = fmt.Sprintf("%s LIMIT %d", trimmed, maxRows)
	}

	rows, err := s.db.QueryContext(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, c := range cols {
			v := vals[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[c] = v
		}
		out = append(out, row)
		if len(out) >= maxRows {
			break
		}
	}
	return out, rows.Err()
}

// --- Graph epoch ---

// CurrentEpoch returns the graph-change counter. New databases start at
// zero.
func (s *Store) CurrentEpoch(ctx context.Context) (int64, error) {
	var epoch int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE((SELECT epoch FROM graph_epoch WHERE id = 1), 0)").Scan(&epoch)
	return epoch, err
}

// BumpEpoch increments the graph-change counter and returns the new
// value. Called once per graph-mutating operation so artifacts can be
// stamped with the graph state they were computed against.
func (s *Store) BumpEpoch(ctx context.Context) (int64, error) {
	var epoch int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := bumpEpochTx(ctx, tx); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx,
			"SELECT epoch FROM graph_epoch WHERE id = 1").Scan(&epoch)
	})
	return epoch, err
}

func bumpEpochTx(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO graph_epoch (id, epoch, updated_at) VALUES (1, 1, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET epoch = epoch + 1, updated_at = CURRENT_TIMESTAMP
	`)
	return err
}

// --- Stats ---

// Stats holds counts of key database objects.
type Stats struct {
	Ontologies int `json:"ontologies"`
	Concepts   int `json:"concepts"`
	Edges      int `json:"edges"`
	Sources    int `json:"sources"`
	Instances  int `json:"instances"`
	VocabTypes int `json:"vocabulary_types"`
	Artifacts  int `json:"artifacts"`
	Jobs       int `json:"jobs"`
}

// DBStats returns counts across the main tables.
func (s *Store) DBStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	queries := []struct {
		query string
		dest  *int
	}{
		{"SELECT COUNT(*) FROM ontologies", &stats.Ontologies},
		{"SELECT COUNT(*) FROM concepts", &stats.Concepts},
		{"SELECT COUNT(*) FROM edges", &stats.Edges},
		{"SELECT COUNT(*) FROM sources", &stats.Sources},
		{"SELECT COUNT(*) FROM instances", &stats.Instances},
		{"SELECT COUNT(*) FROM vocabulary_types WHERE is_active = 1", &stats.VocabTypes},
		{"SELECT COUNT(*) FROM artifacts", &stats.Artifacts},
		{"SELECT COUNT(*) FROM jobs", &stats.Jobs},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.query).Scan(q.dest); err != nil {
			return nil, fmt.Errorf("counting %s: %w", q.query, err)
		}
	}
	return stats, nil
}

// --- helpers ---

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func repeatPlaceholders(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}

// serializeFloat32 converts a float32 slice to little-endian bytes for sqlite-vec.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// deserializeFloat32 converts little-endian sqlite-vec bytes back to floats.
func deserializeFloat32(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"
)

// Concept is a node in the knowledge graph.
type Concept struct {
	ID             int64    `json:"-"`
	ConceptID      string   `json:"concept_id"`
	Ontology       string   `json:"ontology"`
	Label          string   `json:"label"`
	Description    string   `json:"description,omitempty"`
	SearchTerms    []string `json:"search_terms,omitempty"`
	CreatedAtEpoch int64    `json:"created_at_epoch"`
	LastSeenEpoch  int64    `json:"last_seen_epoch"`
	SeenCount      int      `json:"seen_count"`
}

// InsertConcept creates a concept row. Epochs default to now when unset.
func (s *Store) InsertConcept(ctx context.Context, c Concept) (int64, error) {
	now := time.Now().Unix()
	if c.CreatedAtEpoch == 0 {
		c.CreatedAtEpoch = now
	}
	if c.LastSeenEpoch == 0 {
		c.LastSeenEpoch = c.CreatedAtEpoch
	}
	if c.SeenCount == 0 {
		c.SeenCount = 1
	}

	terms, err := json.Marshal(c.SearchTerms)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO concepts (concept_id, ontology, label, description, search_terms,
			created_at_epoch, last_seen_epoch, seen_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ConceptID, c.Ontology, c.Label, c.Description, string(terms),
		c.CreatedAtEpoch, c.LastSeenEpoch, c.SeenCount)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func scanConcept(scan func(dest ...interface{}) error) (*Concept, error) {
	c := &Concept{}
	var desc, terms sql.NullString
	if err := scan(&c.ID, &c.ConceptID, &c.Ontology, &c.Label, &desc, &terms,
		&c.CreatedAtEpoch, &c.LastSeenEpoch, &c.SeenCount); err != nil {
		return nil, err
	}
	c.Description = desc.String
	if terms.Valid && terms.String != "" {
		_ = json.Unmarshal([]byte(terms.String), &c.SearchTerms)
	}
	return c, nil
}

const conceptColumns = `id, concept_id, ontology, label, description, search_terms,
	created_at_epoch, last_seen_epoch, seen_count`

// GetConcept retrieves a concept by its public id.
func (s *Store) GetConcept(ctx context.Context, conceptID string) (*Concept, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+conceptColumns+" FROM concepts WHERE concept_id = ?", conceptID)
	return scanConcept(row.Scan)
}

// GetConceptByLabel finds a concept by exact label within an ontology,
// case-insensitively.
func (s *Store) GetConceptByLabel(ctx context.Context, ontology, label string) (*Concept, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+conceptColumns+" FROM concepts WHERE ontology = ? AND label = ? COLLATE NOCASE LIMIT 1",
		ontology, label)
	return scanConcept(row.Scan)
}

// GetConceptsByIDs fetches concept rows for a set of public ids, batching
// the IN lists. Missing ids are silently absent from the result.
func (s *Store) GetConceptsByIDs(ctx context.Context, conceptIDs []string) ([]Concept, error) {
	const batchSize = 200

	var out []Concept
	for start := 0; start < len(conceptIDs); start += batchSize {
		end := min(start+batchSize, len(conceptIDs))
		batch := conceptIDs[start:end]

		ph := "?" + repeatPlaceholders(len(batch)-1)
		args := make([]interface{}, len(batch))
		for i, id := range batch {
			args[i] = id
		}

		rows, err := s.db.QueryContext(ctx,
			"SELECT "+conceptColumns+" FROM concepts WHERE concept_id IN ("+ph+")", args...)
		if err != nil {
			return nil, err
		}
		for rows.Next() {
			c, err := scanConcept(rows.Scan)
			if err != nil {
				rows.Close()
				return nil, err
			}
			out = append(out, *c)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, err
		}
		rows.Close()
	}
	return out, nil
}

// TouchConcept bumps last_seen_epoch and seen_count for a concept that
// was re-observed or traversed.
func (s *Store) TouchConcept(ctx context.Context, conceptID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE concepts SET last_seen_epoch = ?, seen_count = seen_count + 1
		WHERE concept_id = ?
	`, time.Now().Unix(), conceptID)
	return err
}

// UpdateConcept rewrites label, description, and search terms.
func (s *Store) UpdateConcept(ctx context.Context, conceptID, label, description string, searchTerms []string) error {
	terms, err := json.Marshal(searchTerms)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE concepts SET label = ?, description = ?, search_terms = ?
		WHERE concept_id = ?
	`, label, description, string(terms), conceptID)
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

// DeleteConcept removes a concept, its embedding, and (via cascade) its
// instances, provenance links, and edges.
func (s *Store) DeleteConcept(ctx context.Context, conceptID string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var rowid int64
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM concepts WHERE concept_id = ?", conceptID).Scan(&rowid)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM vec_concepts WHERE concept_rowid = ?", rowid); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM concepts WHERE concept_id = ?", conceptID)
		return err
	})
}

// ListConcepts pages through an ontology's concepts by label.
func (s *Store) ListConcepts(ctx context.Context, ontology string, limit, offset int) ([]Concept, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+conceptColumns+" FROM concepts WHERE ontology = ? ORDER BY label LIMIT ? OFFSET ?",
		ontology, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Concept
	for rows.Next() {
		c, err := scanConcept(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// MostAccessedConcepts returns the ontology's concepts with the highest
// seen counts. Ingestion feeds these to extraction as continuity context.
func (s *Store) MostAccessedConcepts(ctx context.Context, ontology string, limit int) ([]Concept, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+conceptColumns+" FROM concepts WHERE ontology = ? ORDER BY seen_count DESC, last_seen_epoch DESC LIMIT ?",
		ontology, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Concept
	for rows.Next() {
		c, err := scanConcept(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// --- Concept embeddings ---

// UpsertConceptEmbedding stores a vector embedding for a concept.
func (s *Store) UpsertConceptEmbedding(ctx context.Context, conceptRowID int64, embedding []float32) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO vec_concepts (concept_rowid, embedding) VALUES (?, ?)",
		conceptRowID, serializeFloat32(embedding))
	return err
}

// GetConceptEmbedding returns the stored vector for a concept, or
// sql.ErrNoRows when none exists.
func (s *Store) GetConceptEmbedding(ctx context.Context, conceptID string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT v.embedding FROM vec_concepts v
		JOIN concepts c ON c.id = v.concept_rowid
		WHERE c.concept_id = ?
	`, conceptID).Scan(&blob)
	if err != nil {
		return nil, err
	}
	return deserializeFloat32(blob), nil
}

// ConceptsMissingEmbeddings lists concepts with no vector row yet.
func (s *Store) ConceptsMissingEmbeddings(ctx context.Context, ontology string, limit int) ([]Concept, error) {
	if limit <= 0 {
		limit = 500
	}
	q := "SELECT " + conceptColumns + ` FROM concepts c
		WHERE NOT EXISTS (SELECT 1 FROM vec_concepts v WHERE v.concept_rowid = c.id)`
	args := []interface{}{}
	if ontology != "" {
		q += " AND c.ontology = ?"
		args = append(args, ontology)
	}
	q += " ORDER BY c.seen_count DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Concept
	for rows.Next() {
		c, err := scanConcept(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// ConceptHit is a vector search result with its similarity score.
type ConceptHit struct {
	Concept
	Score float64 `json:"score"`
}

// VectorSearchConcepts performs a KNN search over concept embeddings,
// scoped to one ontology when given. Over-fetches past the ontology
// filter so k survivors usually remain.
func (s *Store) VectorSearchConcepts(ctx context.Context, queryEmbedding []float32, k int, ontology string) ([]ConceptHit, error) {
	if k <= 0 {
		k = 10
	}
	fetch := k
	if ontology != "" {
		fetch = k * 4
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.distance, `+prefixColumns("c", conceptColumns)+`
		FROM vec_concepts v
		JOIN concepts c ON c.id = v.concept_rowid
		WHERE v.embedding MATCH ? AND k = ?
		ORDER BY v.distance
	`, serializeFloat32(queryEmbedding), fetch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []ConceptHit
	for rows.Next() {
		var h ConceptHit
		var distance float64
		var desc, terms sql.NullString
		if err := rows.Scan(&distance, &h.Concept.ID, &h.ConceptID, &h.Ontology, &h.Label,
			&desc, &terms, &h.CreatedAtEpoch, &h.LastSeenEpoch, &h.SeenCount); err != nil {
			return nil, err
		}
		if ontology != "" && h.Ontology != ontology {
			continue
		}
		h.Description = desc.String
		if terms.Valid && terms.String != "" {
			_ = json.Unmarshal([]byte(terms.String), &h.SearchTerms)
		}
		// Convert cosine distance to similarity score
		h.Score = 1.0 - distance
		hits = append(hits, h)
		if len(hits) >= k {
			break
		}
	}
	return hits, rows.Err()
}

// prefixColumns rewrites "a, b, c" to "t.a, t.b, t.c" for joined queries.
func prefixColumns(table, cols string) string {
	parts := strings.Split(cols, ",")
	for i, p := range parts {
		parts[i] = table + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}


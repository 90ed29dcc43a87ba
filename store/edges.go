package store

import (
	"context"
	"database/sql"
	"strings"
)

// Edge is a typed, directed relationship between two concepts.
type Edge struct {
	ID           int64   `json:"id"`
	Ontology     string  `json:"ontology"`
	FromConcept  string  `json:"from_concept"`
	ToConcept    string  `json:"to_concept"`
	RelationType string  `json:"relation_type"`
	Confidence   float64 `json:"confidence"`
	Category     string  `json:"category,omitempty"`
	Source       string  `json:"source,omitempty"`
	CreatedBy    string  `json:"created_by,omitempty"`
	JobID        string  `json:"job_id,omitempty"`
	DocumentID   string  `json:"document_id,omitempty"`
	PreviousType string  `json:"previous_type,omitempty"`
	CreatedAt    string  `json:"created_at"`
}

// UpsertEdge inserts an edge unless an identical (from, to, type) edge
// already exists. Returns the edge id and whether a new row was created.
func (s *Store) UpsertEdge(ctx context.Context, e Edge) (int64, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO edges (ontology, from_concept, to_concept, relation_type,
			confidence, category, source, created_by, job_id, document_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(from_concept, to_concept, relation_type) DO NOTHING
	`, e.Ontology, e.FromConcept, e.ToConcept, e.RelationType,
		e.Confidence, e.Category, e.Source, e.CreatedBy, e.JobID, e.DocumentID)
	if err != nil {
		return 0, false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, false, err
	}
	if n > 0 {
		id, err := res.LastInsertId()
		return id, true, err
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		SELECT id FROM edges WHERE from_concept = ? AND to_concept = ? AND relation_type = ?
	`, e.FromConcept, e.ToConcept, e.RelationType).Scan(&id)
	return id, false, err
}

func scanEdge(scan func(dest ...interface{}) error) (*Edge, error) {
	e := &Edge{}
	var category, source, createdBy, jobID, documentID, prevType sql.NullString
	if err := scan(&e.ID, &e.Ontology, &e.FromConcept, &e.ToConcept, &e.RelationType,
		&e.Confidence, &category, &source, &createdBy, &jobID, &documentID,
		&prevType, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Category = category.String
	e.Source = source.String
	e.CreatedBy = createdBy.String
	e.JobID = jobID.String
	e.DocumentID = documentID.String
	e.PreviousType = prevType.String
	return e, nil
}

const edgeColumns = `id, ontology, from_concept, to_concept, relation_type,
	confidence, category, source, created_by, job_id, document_id,
	previous_type, created_at`

// GetEdge retrieves one edge by id.
func (s *Store) GetEdge(ctx context.Context, id int64) (*Edge, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+edgeColumns+" FROM edges WHERE id = ?", id)
	return scanEdge(row.Scan)
}

// UpdateEdge rewrites confidence and category on an existing edge.
func (s *Store) UpdateEdge(ctx context.Context, id int64, confidence float64, category string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE edges SET confidence = ?, category = ? WHERE id = ?",
		confidence, category, id)
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

// DeleteEdge removes one edge by id.
func (s *Store) DeleteEdge(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM edges WHERE id = ?", id)
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

// EdgeFilter narrows ListEdges. Zero values mean no constraint.
type EdgeFilter struct {
	Ontology     string
	RelationType string
	ConceptID    string // matches either endpoint
	Limit        int
	Offset       int
}

// ListEdges returns edges matching the filter, newest first.
func (s *Store) ListEdges(ctx context.Context, f EdgeFilter) ([]Edge, error) {
	if f.Limit <= 0 {
		f.Limit = 100
	}

	var conds []string
	var args []interface{}
	if f.Ontology != "" {
		conds = append(conds, "ontology = ?")
		args = append(args, f.Ontology)
	}
	if f.RelationType != "" {
		conds = append(conds, "relation_type = ?")
		args = append(args, f.RelationType)
	}
	if f.ConceptID != "" {
		conds = append(conds, "(from_concept = ? OR to_concept = ?)")
		args = append(args, f.ConceptID, f.ConceptID)
	}

	q := "SELECT " + edgeColumns + " FROM edges"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		e, err := scanEdge(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// EdgesTouching returns every edge with either endpoint in the given
// concept set. This is the frontier expansion for graph traversal.
func (s *Store) EdgesTouching(ctx context.Context, conceptIDs []string) ([]Edge, error) {
	if len(conceptIDs) == 0 {
		return nil, nil
	}

	ph := "?" + repeatPlaceholders(len(conceptIDs)-1)
	q := "SELECT " + edgeColumns + " FROM edges WHERE from_concept IN (" + ph + ") OR to_concept IN (" + ph + ")"

	args := make([]interface{}, 0, len(conceptIDs)*2)
	for _, id := range conceptIDs {
		args = append(args, id)
	}
	for _, id := range conceptIDs {
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		e, err := scanEdge(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// OutboundEdges returns edges originating at a concept, oldest first.
func (s *Store) OutboundEdges(ctx context.Context, conceptID string) ([]Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+edgeColumns+" FROM edges WHERE from_concept = ? ORDER BY id", conceptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		e, err := scanEdge(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// CountEdgesForConcept returns how many edges touch a concept.
func (s *Store) CountEdgesForConcept(ctx context.Context, conceptID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM edges WHERE from_concept = ? OR to_concept = ?",
		conceptID, conceptID).Scan(&n)
	return n, err
}

// EdgeCountsByType returns edge counts keyed by relationship type.
func (s *Store) EdgeCountsByType(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT relation_type, COUNT(*) FROM edges GROUP BY relation_type")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

// BridgeCountsByType counts, per relationship type, edges that connect a
// rarely seen concept to a heavily accessed one. Such edges are structural
// bridges: pruning their type would orphan low-traffic knowledge.
func (s *Store) BridgeCountsByType(ctx context.Context, srcBelow, dstAbove int) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.relation_type, COUNT(*)
		FROM edges e
		JOIN concepts src ON src.concept_id = e.from_concept
		JOIN concepts dst ON dst.concept_id = e.to_concept
		WHERE src.seen_count < ? AND dst.seen_count > ?
		GROUP BY e.relation_type
	`, srcBelow, dstAbove)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			return nil, err
		}
		counts[t] = n
	}
	return counts, rows.Err()
}

// BatchUpsertEdges inserts many edges in one transaction, skipping
// duplicates. Returns how many rows were actually created.
func (s *Store) BatchUpsertEdges(ctx context.Context, edges []Edge) (int, error) {
	created := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO edges (ontology, from_concept, to_concept, relation_type,
				confidence, category, source, created_by, job_id, document_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(from_concept, to_concept, relation_type) DO NOTHING
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, e := range edges {
			res, err := stmt.ExecContext(ctx,
				e.Ontology, e.FromConcept, e.ToConcept, e.RelationType,
				e.Confidence, e.Category, e.Source, e.CreatedBy, e.JobID, e.DocumentID)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n > 0 {
				created++
			}
		}
		return nil
	})
	return created, err
}

// retypeEdgesTx moves every edge of fromType to toType inside an open
// transaction, recording the old type for reversal. Edges that would
// collide with an existing (from, to, toType) edge are deleted instead
// of moved. Returns the number of edges moved.
func retypeEdgesTx(ctx context.Context, tx *sql.Tx, fromType, toType string) (int, error) {
	if _, err := tx.ExecContext(ctx, `
		DELETE FROM edges WHERE relation_type = ? AND EXISTS (
			SELECT 1 FROM edges e2
			WHERE e2.from_concept = edges.from_concept
			  AND e2.to_concept = edges.to_concept
			  AND e2.relation_type = ?
		)`, fromType, toType); err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE edges SET relation_type = ?, previous_type = ?
		WHERE relation_type = ?
	`, toType, fromType, fromType)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// restoreEdgesTx reverses retypeEdgesTx for one recorded merge.
func restoreEdgesTx(ctx context.Context, tx *sql.Tx, sourceType, targetType string) (int, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE edges SET relation_type = previous_type, previous_type = NULL
		WHERE previous_type = ? AND relation_type = ?
	`, sourceType, targetType)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

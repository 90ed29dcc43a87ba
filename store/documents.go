package store

import (
	"context"
	"database/sql"
	"fmt"
)

// DocumentMeta tracks one ingested file per ontology, keyed by a stable
// document id and carrying the content hash used for idempotency checks.
// SourceType records where the content came from (file, stdin, api, url,
// synthetic) and the remaining provenance fields tie the record back to
// the machine, user, and job that ingested it.
type DocumentMeta struct {
	DocumentID  string `json:"document_id"`
	Ontology    string `json:"ontology"`
	ContentHash string `json:"content_hash"`
	Filename    string `json:"filename"`
	FileExt     string `json:"file_ext"`
	FileSize    int64  `json:"file_size"`
	SourceType  string `json:"source_type,omitempty"`
	FilePath    string `json:"file_path,omitempty"`
	Hostname    string `json:"hostname,omitempty"`
	IngestedBy  string `json:"ingested_by,omitempty"`
	JobID       string `json:"job_id,omitempty"`
	StorageKey  string `json:"storage_key,omitempty"`
	SourceCount int    `json:"source_count"`
	IngestedAt  string `json:"ingested_at"`
}

const documentMetaColumns = `document_id, ontology, content_hash, filename,
	COALESCE(file_ext, ''), COALESCE(file_size, 0), source_type, file_path,
	hostname, ingested_by, job_id, storage_key, source_count, ingested_at`

func scanDocumentMeta(scan func(dest ...interface{}) error) (*DocumentMeta, error) {
	d := &DocumentMeta{}
	var sourceType, filePath, hostname, ingestedBy, jobID, storageKey sql.NullString
	if err := scan(&d.DocumentID, &d.Ontology, &d.ContentHash, &d.Filename,
		&d.FileExt, &d.FileSize, &sourceType, &filePath,
		&hostname, &ingestedBy, &jobID, &storageKey, &d.SourceCount, &d.IngestedAt); err != nil {
		return nil, err
	}
	d.SourceType = sourceType.String
	d.FilePath = filePath.String
	d.Hostname = hostname.String
	d.IngestedBy = ingestedBy.String
	d.JobID = jobID.String
	d.StorageKey = storageKey.String
	return d, nil
}

// UpsertDocumentMeta inserts or refreshes a document record. Re-ingest
// of the same document id updates hash, size, provenance and source
// count in place.
func (s *Store) UpsertDocumentMeta(ctx context.Context, d DocumentMeta) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO document_meta (document_id, ontology, content_hash, filename, file_ext, file_size,
			source_type, file_path, hostname, ingested_by, job_id, storage_key, source_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			content_hash = excluded.content_hash,
			filename = excluded.filename,
			file_ext = excluded.file_ext,
			file_size = excluded.file_size,
			source_type = excluded.source_type,
			file_path = excluded.file_path,
			hostname = excluded.hostname,
			ingested_by = excluded.ingested_by,
			job_id = excluded.job_id,
			storage_key = excluded.storage_key,
			source_count = excluded.source_count,
			ingested_at = CURRENT_TIMESTAMP
	`, d.DocumentID, d.Ontology, d.ContentHash, d.Filename, d.FileExt, d.FileSize,
		nullable(d.SourceType), nullable(d.FilePath), nullable(d.Hostname),
		nullable(d.IngestedBy), nullable(d.JobID), nullable(d.StorageKey), d.SourceCount)
	return err
}

// GetDocumentMeta retrieves a document by id.
func (s *Store) GetDocumentMeta(ctx context.Context, documentID string) (*DocumentMeta, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+documentMetaColumns+" FROM document_meta WHERE document_id = ?", documentID)
	return scanDocumentMeta(row.Scan)
}

// GetDocumentMetaByHash finds a previously ingested document with the
// same content hash in the same ontology. Used to short-circuit
// re-ingestion of identical content.
func (s *Store) GetDocumentMetaByHash(ctx context.Context, contentHash, ontology string) (*DocumentMeta, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentMetaColumns+` FROM document_meta
		WHERE content_hash = ? AND ontology = ?
		ORDER BY ingested_at DESC LIMIT 1
	`, contentHash, ontology)
	return scanDocumentMeta(row.Scan)
}

// ListDocuments returns documents for an ontology ordered by recency.
func (s *Store) ListDocuments(ctx context.Context, ontology string) ([]DocumentMeta, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+documentMetaColumns+" FROM document_meta WHERE ontology = ? ORDER BY ingested_at DESC",
		ontology)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []DocumentMeta
	for rows.Next() {
		d, err := scanDocumentMeta(rows.Scan)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *d)
	}
	return docs, rows.Err()
}

// --- Source operations ---

// Source is one chunk of an ingested document, the evidence layer the
// graph points back into.
type Source struct {
	ID              int64  `json:"id"`
	SourceID        string `json:"source_id"`
	Ontology        string `json:"ontology"`
	Document        string `json:"document"`
	Paragraph       int    `json:"paragraph"`
	FullText        string `json:"full_text"`
	FilePath        string `json:"file_path,omitempty"`
	ContentType     string `json:"content_type,omitempty"`
	StorageKey      string `json:"storage_key,omitempty"`
	ContentHash     string `json:"content_hash,omitempty"`
	CharOffsetStart int    `json:"char_offset_start"`
	CharOffsetEnd   int    `json:"char_offset_end"`
	ChunkIndex      int    `json:"chunk_index"`
	BoundaryType    string `json:"boundary_type,omitempty"`
}

// InsertSources inserts a batch of source chunks in one transaction.
// Char offsets are validated before anything is written.
func (s *Store) InsertSources(ctx context.Context, sources []Source) error {
	for _, src := range sources {
		if src.CharOffsetStart < 0 || src.CharOffsetEnd < src.CharOffsetStart {
			return fmt.Errorf("source %s: invalid char offsets [%d, %d)",
				src.SourceID, src.CharOffsetStart, src.CharOffsetEnd)
		}
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO sources (source_id, ontology, document, paragraph, full_text,
				file_path, content_type, storage_key, content_hash,
				char_offset_start, char_offset_end, chunk_index, boundary_type)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(source_id) DO UPDATE SET
				full_text = excluded.full_text,
				storage_key = excluded.storage_key,
				content_hash = excluded.content_hash,
				char_offset_start = excluded.char_offset_start,
				char_offset_end = excluded.char_offset_end,
				boundary_type = excluded.boundary_type
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, src := range sources {
			if _, err := stmt.ExecContext(ctx,
				src.SourceID, src.Ontology, src.Document, src.Paragraph, src.FullText,
				src.FilePath, src.ContentType, src.StorageKey, src.ContentHash,
				src.CharOffsetStart, src.CharOffsetEnd, src.ChunkIndex, src.BoundaryType); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetSource retrieves a source chunk by its id.
func (s *Store) GetSource(ctx context.Context, sourceID string) (*Source, error) {
	src := &Source{}
	var filePath, contentType, storageKey, contentHash, boundary sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source_id, ontology, document, paragraph, full_text,
			file_path, content_type, storage_key, content_hash,
			COALESCE(char_offset_start, 0), COALESCE(char_offset_end, 0),
			COALESCE(chunk_index, 0), boundary_type
		FROM sources WHERE source_id = ?
	`, sourceID).Scan(&src.ID, &src.SourceID, &src.Ontology, &src.Document, &src.Paragraph,
		&src.FullText, &filePath, &contentType, &storageKey, &contentHash,
		&src.CharOffsetStart, &src.CharOffsetEnd, &src.ChunkIndex, &boundary)
	if err != nil {
		return nil, err
	}
	src.FilePath = filePath.String
	src.ContentType = contentType.String
	src.StorageKey = storageKey.String
	src.ContentHash = contentHash.String
	src.BoundaryType = boundary.String
	return src, nil
}

// SourceHit is a full-text search result with its BM25-derived score.
type SourceHit struct {
	Source
	Score float64 `json:"score"`
}

// SearchSources runs an FTS5 match over source text, scoped to one
// ontology when given.
func (s *Store) SearchSources(ctx context.Context, query, ontology string, limit int) ([]SourceHit, error) {
	if limit <= 0 {
		limit = 10
	}

	q := `
		SELECT f.rank, s.id, s.source_id, s.ontology, s.document, s.paragraph, s.full_text,
			COALESCE(s.chunk_index, 0), s.boundary_type
		FROM sources_fts f
		JOIN sources s ON s.id = f.rowid
		WHERE sources_fts MATCH ?`
	args := []interface{}{query}
	if ontology != "" {
		q += " AND s.ontology = ?"
		args = append(args, ontology)
	}
	q += " ORDER BY f.rank LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []SourceHit
	for rows.Next() {
		var h SourceHit
		var rank float64
		var boundary sql.NullString
		if err := rows.Scan(&rank, &h.ID, &h.SourceID, &h.Ontology, &h.Document,
			&h.Paragraph, &h.FullText, &h.ChunkIndex, &boundary); err != nil {
			return nil, err
		}
		// FTS5 rank is negative (lower = better), convert to positive score
		h.Score = -rank
		h.BoundaryType = boundary.String
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// SourcesByDocument returns all chunks of a document in chunk order.
func (s *Store) SourcesByDocument(ctx context.Context, document string) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_id, ontology, document, paragraph, full_text,
			COALESCE(char_offset_start, 0), COALESCE(char_offset_end, 0),
			COALESCE(chunk_index, 0), boundary_type
		FROM sources WHERE document = ? ORDER BY chunk_index
	`, document)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		var src Source
		var boundary sql.NullString
		if err := rows.Scan(&src.ID, &src.SourceID, &src.Ontology, &src.Document,
			&src.Paragraph, &src.FullText, &src.CharOffsetStart, &src.CharOffsetEnd,
			&src.ChunkIndex, &boundary); err != nil {
			return nil, err
		}
		src.BoundaryType = boundary.String
		out = append(out, src)
	}
	return out, rows.Err()
}

// DeleteDocumentData removes the sources, instances, and provenance
// links of one document, keeping concepts and edges. Used before
// re-ingesting changed content.
func (s *Store) DeleteDocumentData(ctx context.Context, document string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM instances WHERE source_id IN (
				SELECT source_id FROM sources WHERE document = ?
			)`, document); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM concept_sources WHERE source_id IN (
				SELECT source_id FROM sources WHERE document = ?
			)`, document); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM sources WHERE document = ?", document); err != nil {
			return err
		}
		return nil
	})
}

// --- Instance operations ---

// Instance is a verbatim quote evidencing a concept in a source chunk.
type Instance struct {
	ID        int64   `json:"id"`
	ConceptID string  `json:"concept_id"`
	SourceID  string  `json:"source_id"`
	Quote     string  `json:"quote"`
	Relevance float64 `json:"relevance"`
	Document  string  `json:"document"`
	Paragraph int     `json:"paragraph"`
}

// InsertInstance records an evidence quote, deduplicating on
// (concept, source, quote) so re-extraction does not multiply evidence.
// The bool reports whether a new row was created.
func (s *Store) InsertInstance(ctx context.Context, inst Instance) (int64, bool, error) {
	var existing int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM instances WHERE concept_id = ? AND source_id = ? AND quote = ?
	`, inst.ConceptID, inst.SourceID, inst.Quote).Scan(&existing)
	if err == nil {
		return existing, false, nil
	}
	if err != sql.ErrNoRows {
		return 0, false, err
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO instances (concept_id, source_id, quote, relevance, document, paragraph)
		VALUES (?, ?, ?, ?, ?, ?)
	`, inst.ConceptID, inst.SourceID, inst.Quote, inst.Relevance, inst.Document, inst.Paragraph)
	if err != nil {
		return 0, false, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// ListInstancesByConcept returns evidence quotes for a concept ordered
// by document then position.
func (s *Store) ListInstancesByConcept(ctx context.Context, conceptID string) ([]Instance, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, concept_id, source_id, quote, relevance, COALESCE(document, ''), COALESCE(paragraph, 0)
		FROM instances WHERE concept_id = ?
		ORDER BY document, paragraph
	`, conceptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Instance
	for rows.Next() {
		var inst Instance
		if err := rows.Scan(&inst.ID, &inst.ConceptID, &inst.SourceID, &inst.Quote,
			&inst.Relevance, &inst.Document, &inst.Paragraph); err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

// CountInstancesForConcept returns how many evidence quotes reference a
// concept.
func (s *Store) CountInstancesForConcept(ctx context.Context, conceptID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM instances WHERE concept_id = ?", conceptID).Scan(&n)
	return n, err
}

// LinkConceptSource records that a concept was observed in a source.
func (s *Store) LinkConceptSource(ctx context.Context, conceptID, sourceID string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO concept_sources (concept_id, source_id) VALUES (?, ?)",
		conceptID, sourceID)
	return err
}

// DocumentsForConcept returns the distinct documents whose sources
// evidence a concept.
func (s *Store) DocumentsForConcept(ctx context.Context, conceptID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT s.document
		FROM concept_sources cs
		JOIN sources s ON s.source_id = cs.source_id
		WHERE cs.concept_id = ?
		ORDER BY s.document
	`, conceptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SourcesForConcept returns the source chunks a concept was observed
// in, ordered by document then position.
func (s *Store) SourcesForConcept(ctx context.Context, conceptID string) ([]Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.source_id, s.ontology, s.document, s.paragraph, s.full_text,
			COALESCE(s.file_path, ''), COALESCE(s.content_type, ''), COALESCE(s.storage_key, ''),
			COALESCE(s.content_hash, ''), COALESCE(s.char_offset_start, 0), COALESCE(s.char_offset_end, 0),
			COALESCE(s.chunk_index, 0), COALESCE(s.boundary_type, '')
		FROM concept_sources cs
		JOIN sources s ON s.source_id = cs.source_id
		WHERE cs.concept_id = ?
		ORDER BY s.document, s.paragraph
	`, conceptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Source
	for rows.Next() {
		var src Source
		if err := rows.Scan(&src.ID, &src.SourceID, &src.Ontology, &src.Document, &src.Paragraph,
			&src.FullText, &src.FilePath, &src.ContentType, &src.StorageKey, &src.ContentHash,
			&src.CharOffsetStart, &src.CharOffsetEnd, &src.ChunkIndex, &src.BoundaryType); err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

// SourceConcept is a concept evidenced by a particular source, with the
// quote that ties them together.
type SourceConcept struct {
	ConceptID   string `json:"concept_id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Quote       string `json:"instance_quote"`
}

// ConceptsForSource returns the concepts extracted from one source
// chunk, each with its evidence quote.
func (s *Store) ConceptsForSource(ctx context.Context, sourceID string) ([]SourceConcept, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.concept_id, c.label, COALESCE(c.description, ''), i.quote
		FROM instances i
		JOIN concepts c ON c.concept_id = i.concept_id
		WHERE i.source_id = ?
		ORDER BY c.label
	`, sourceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SourceConcept
	for rows.Next() {
		var sc SourceConcept
		if err := rows.Scan(&sc.ConceptID, &sc.Label, &sc.Description, &sc.Quote); err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

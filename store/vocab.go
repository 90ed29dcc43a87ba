package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// VocabType is one relationship type in the controlled vocabulary.
type VocabType struct {
	ID               int64  `json:"-"`
	RelationshipType string `json:"relationship_type"`
	Description      string `json:"description,omitempty"`
	Category         string `json:"category,omitempty"`
	IsBuiltin        bool   `json:"is_builtin"`
	IsActive         bool   `json:"is_active"`
	ValidationStatus string `json:"validation_status"`
	UsageCount       int    `json:"usage_count"`
	TraversalCount   int    `json:"traversal_count"`
	CreatedAt        string `json:"created_at"`
	DeprecatedAt     string `json:"deprecated_at,omitempty"`
}

// UpsertVocabType creates a vocabulary type if it does not exist.
// Returns the rowid and whether a new row was created.
func (s *Store) UpsertVocabType(ctx context.Context, v VocabType) (int64, bool, error) {
	builtin := 0
	if v.IsBuiltin {
		builtin = 1
	}
	status := v.ValidationStatus
	if status == "" {
		status = "pending"
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO vocabulary_types (relationship_type, description, category, is_builtin, validation_status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(relationship_type) DO NOTHING
	`, v.RelationshipType, v.Description, v.Category, builtin, status)
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
	err = s.db.QueryRowContext(ctx,
		"SELECT id FROM vocabulary_types WHERE relationship_type = ?",
		v.RelationshipType).Scan(&id)
	return id, false, err
}

func scanVocabType(scan func(dest ...interface{}) error) (*VocabType, error) {
	v := &VocabType{}
	var desc, category, deprecated sql.NullString
	var builtin, active int
	if err := scan(&v.ID, &v.RelationshipType, &desc, &category, &builtin, &active,
		&v.ValidationStatus, &v.UsageCount, &v.TraversalCount, &v.CreatedAt, &deprecated); err != nil {
		return nil, err
	}
	v.Description = desc.String
	v.Category = category.String
	v.IsBuiltin = builtin != 0
	v.IsActive = active != 0
	v.DeprecatedAt = deprecated.String
	return v, nil
}

const vocabColumns = `id, relationship_type, description, category, is_builtin, is_active,
	validation_status, usage_count, traversal_count, created_at, deprecated_at`

// GetVocabType retrieves one vocabulary type by name.
func (s *Store) GetVocabType(ctx context.Context, relationshipType string) (*VocabType, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+vocabColumns+" FROM vocabulary_types WHERE relationship_type = ?",
		relationshipType)
	return scanVocabType(row.Scan)
}

// ListVocabTypes returns vocabulary types, optionally only active ones,
// ordered by usage.
func (s *Store) ListVocabTypes(ctx context.Context, activeOnly bool) ([]VocabType, error) {
	q := "SELECT " + vocabColumns + " FROM vocabulary_types"
	if activeOnly {
		q += " WHERE is_active = 1"
	}
	q += " ORDER BY usage_count DESC, relationship_type"

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VocabType
	for rows.Next() {
		v, err := scanVocabType(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// CountActiveVocabTypes returns the active vocabulary size.
func (s *Store) CountActiveVocabTypes(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM vocabulary_types WHERE is_active = 1").Scan(&n)
	return n, err
}

// IncrementVocabUsage adds delta to a type's usage count.
func (s *Store) IncrementVocabUsage(ctx context.Context, relationshipType string, delta int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE vocabulary_types SET usage_count = usage_count + ? WHERE relationship_type = ?",
		delta, relationshipType)
	return err
}

// RecordTraversal bumps the total and the daily traversal bucket for a
// relationship type. Trend scoring reads the daily buckets.
func (s *Store) RecordTraversal(ctx context.Context, relationshipType string) error {
	day := time.Now().UTC().Format("2006-01-02")
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"UPDATE vocabulary_types SET traversal_count = traversal_count + 1 WHERE relationship_type = ?",
			relationshipType); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO traversal_stats (relationship_type, day, count) VALUES (?, ?, 1)
			ON CONFLICT(relationship_type, day) DO UPDATE SET count = count + 1
		`, relationshipType, day)
		return err
	})
}

// TraversalDailyCounts returns the per-day traversal counts for a type
// over the most recent days, oldest first.
func (s *Store) TraversalDailyCounts(ctx context.Context, relationshipType string, days int) ([]int, error) {
	if days <= 0 {
		days = 30
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT count FROM traversal_stats
		WHERE relationship_type = ?
		ORDER BY day DESC LIMIT ?
	`, relationshipType, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []int
	for rows.Next() {
		var c int
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// Reverse to oldest-first.
	for i, j := 0, len(counts)-1; i < j; i, j = i+1, j-1 {
		counts[i], counts[j] = counts[j], counts[i]
	}
	return counts, nil
}

// --- Vocabulary embeddings ---

// SetVocabEmbedding stores the embedding for a vocabulary type and
// clears any stale validation mark.
func (s *Store) SetVocabEmbedding(ctx context.Context, relationshipType string, embedding []float32) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var rowid int64
		err := tx.QueryRowContext(ctx,
			"SELECT id FROM vocabulary_types WHERE relationship_type = ?",
			relationshipType).Scan(&rowid)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO vec_vocab (vocab_rowid, embedding) VALUES (?, ?)",
			rowid, serializeFloat32(embedding)); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE vocabulary_types SET validation_status = 'validated'
			WHERE relationship_type = ? AND validation_status IN ('pending', 'stale')
		`, relationshipType)
		return err
	})
}

// GetVocabEmbedding returns the embedding for one type.
func (s *Store) GetVocabEmbedding(ctx context.Context, relationshipType string) ([]float32, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT v.embedding FROM vec_vocab v
		JOIN vocabulary_types t ON t.id = v.vocab_rowid
		WHERE t.relationship_type = ?
	`, relationshipType).Scan(&blob)
	if err != nil {
		return nil, err
	}
	return deserializeFloat32(blob), nil
}

// AllVocabEmbeddings returns embeddings for every active type, keyed by
// relationship type. Synonym detection computes pairwise similarity
// over this map.
func (s *Store) AllVocabEmbeddings(ctx context.Context) (map[string][]float32, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.relationship_type, v.embedding
		FROM vec_vocab v
		JOIN vocabulary_types t ON t.id = v.vocab_rowid
		WHERE t.is_active = 1
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var name string
		var blob []byte
		if err := rows.Scan(&name, &blob); err != nil {
			return nil, err
		}
		out[name] = deserializeFloat32(blob)
	}
	return out, rows.Err()
}

// VocabTypesNeedingEmbeddings lists active types with no embedding, or
// marked stale when staleOnly is set, most used first.
func (s *Store) VocabTypesNeedingEmbeddings(ctx context.Context, staleOnly bool) ([]VocabType, error) {
	var q string
	if staleOnly {
		q = "SELECT " + vocabColumns + ` FROM vocabulary_types t
			WHERE t.is_active = 1 AND t.validation_status = 'stale'`
	} else {
		q = "SELECT " + vocabColumns + ` FROM vocabulary_types t
			WHERE t.is_active = 1 AND NOT EXISTS (SELECT 1 FROM vec_vocab v WHERE v.vocab_rowid = t.id)`
	}
	q += " ORDER BY t.is_builtin DESC, t.usage_count DESC, t.relationship_type"

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VocabType
	for rows.Next() {
		v, err := scanVocabType(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// MarkVocabEmbeddingsStale flags every active type for regeneration,
// typically after an embedding model change.
func (s *Store) MarkVocabEmbeddingsStale(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE vocabulary_types SET validation_status = 'stale' WHERE is_active = 1")
	return err
}

// SetVocabCategory updates a type's category, typically after the
// categorizer reassigns a computed one.
func (s *Store) SetVocabCategory(ctx context.Context, relationshipType, category string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE vocabulary_types SET category = ? WHERE relationship_type = ?",
		category, relationshipType)
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

// --- Deprecation and merges ---

// DeprecateVocabType retires a type without touching its edges.
func (s *Store) DeprecateVocabType(ctx context.Context, relationshipType string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE vocabulary_types
		SET is_active = 0, validation_status = 'deprecated', deprecated_at = CURRENT_TIMESTAMP
		WHERE relationship_type = ? AND is_active = 1
	`, relationshipType)
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

// ReactivateVocabType undoes a plain deprecation. Merged-away types are
// restored through RestoreMerge instead, which also moves edges back.
func (s *Store) ReactivateVocabType(ctx context.Context, relationshipType string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE vocabulary_types
		SET is_active = 1, validation_status = 'stale', deprecated_at = NULL
		WHERE relationship_type = ? AND is_active = 0
	`, relationshipType)
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

// VocabMerge is one recorded consolidation of two relationship types.
type VocabMerge struct {
	ID         int64   `json:"id"`
	SourceType string  `json:"source_type"`
	TargetType string  `json:"target_type"`
	Similarity float64 `json:"similarity"`
	DecidedBy  string  `json:"decided_by"`
	Mode       string  `json:"mode,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	EdgesMoved int     `json:"edges_moved"`
	MergedAt   string  `json:"merged_at"`
	UndoneAt   string  `json:"undone_at,omitempty"`
}

// MergeVocabTypes folds sourceType into targetType in one transaction:
// edges are retyped with their old type recorded, usage moves to the
// target, the source is deactivated and its embedding dropped, and a
// reversible merge record is written. Returns the merge record.
func (s *Store) MergeVocabTypes(ctx context.Context, sourceType, targetType string, similarity float64, decidedBy, mode, reason string) (*VocabMerge, error) {
	var rec *VocabMerge
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var sourceID int64
		if err := tx.QueryRowContext(ctx,
			"SELECT id FROM vocabulary_types WHERE relationship_type = ? AND is_active = 1",
			sourceType).Scan(&sourceID); err != nil {
			return fmt.Errorf("source type %s: %w", sourceType, err)
		}
		var targetID int64
		if err := tx.QueryRowContext(ctx,
			"SELECT id FROM vocabulary_types WHERE relationship_type = ? AND is_active = 1",
			targetType).Scan(&targetID); err != nil {
			return fmt.Errorf("target type %s: %w", targetType, err)
		}

		moved, err := retypeEdgesTx(ctx, tx, sourceType, targetType)
		if err != nil {
			return fmt.Errorf("retyping edges: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE vocabulary_types SET usage_count = usage_count + ?,
				traversal_count = traversal_count + (SELECT traversal_count FROM vocabulary_types WHERE id = ?)
			WHERE id = ?
		`, moved, sourceID, targetID); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE vocabulary_types
			SET is_active = 0, validation_status = 'merged', deprecated_at = CURRENT_TIMESTAMP
			WHERE id = ?
		`, sourceID); err != nil {
			return err
		}

		// Drop the source's embedding so similarity scans never see a
		// retired type.
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM vec_vocab WHERE vocab_rowid = ?", sourceID); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx, `
			INSERT INTO vocabulary_merges (source_type, target_type, similarity, decided_by, mode, reason, edges_moved)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, sourceType, targetType, similarity, decidedBy, mode, reason, moved)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}

		rec = &VocabMerge{
			ID:         id,
			SourceType: sourceType,
			TargetType: targetType,
			Similarity: similarity,
			DecidedBy:  decidedBy,
			Mode:       mode,
			Reason:     reason,
			EdgesMoved: moved,
		}
		return nil
	})
	return rec, err
}

// RestoreMerge reverses a recorded merge: retyped edges move back, the
// source type is reactivated and marked for embedding regeneration.
// Returns how many edges were restored.
func (s *Store) RestoreMerge(ctx context.Context, mergeID int64) (int, error) {
	restored := 0
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var m VocabMerge
		var undone sql.NullString
		err := tx.QueryRowContext(ctx, `
			SELECT source_type, target_type, edges_moved, undone_at
			FROM vocabulary_merges WHERE id = ?
		`, mergeID).Scan(&m.SourceType, &m.TargetType, &m.EdgesMoved, &undone)
		if err != nil {
			return err
		}
		if undone.Valid {
			return fmt.Errorf("merge %d already undone at %s", mergeID, undone.String)
		}

		n, err := restoreEdgesTx(ctx, tx, m.SourceType, m.TargetType)
		if err != nil {
			return err
		}
		restored = n

		if _, err := tx.ExecContext(ctx, `
			UPDATE vocabulary_types
			SET is_active = 1, validation_status = 'stale', deprecated_at = NULL,
				usage_count = ?
			WHERE relationship_type = ?
		`, n, m.SourceType); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE vocabulary_types SET usage_count = MAX(usage_count - ?, 0) WHERE relationship_type = ?",
			n, m.TargetType); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE vocabulary_merges SET undone_at = CURRENT_TIMESTAMP WHERE id = ?", mergeID)
		return err
	})
	return restored, err
}

// ListMerges returns merge history, newest first.
func (s *Store) ListMerges(ctx context.Context, limit int) ([]VocabMerge, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_type, target_type, COALESCE(similarity, 0), decided_by,
			COALESCE(mode, ''), COALESCE(reason, ''), edges_moved, merged_at, undone_at
		FROM vocabulary_merges ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VocabMerge
	for rows.Next() {
		var m VocabMerge
		var undone sql.NullString
		if err := rows.Scan(&m.ID, &m.SourceType, &m.TargetType, &m.Similarity,
			&m.DecidedBy, &m.Mode, &m.Reason, &m.EdgesMoved, &m.MergedAt, &undone); err != nil {
			return nil, err
		}
		m.UndoneAt = undone.String
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- Vocabulary config ---

// VocabConfig is the singleton consolidation policy row.
type VocabConfig struct {
	VocabMin                         int     `json:"vocab_min"`
	VocabMax                         int     `json:"vocab_max"`
	VocabEmergency                   int     `json:"vocab_emergency"`
	PruningMode                      string  `json:"pruning_mode"`
	AggressivenessProfile            string  `json:"aggressiveness_profile"`
	AutoExpandEnabled                bool    `json:"auto_expand_enabled"`
	SynonymThresholdStrong           float64 `json:"synonym_threshold_strong"`
	SynonymThresholdModerate         float64 `json:"synonym_threshold_moderate"`
	LowValueThreshold                float64 `json:"low_value_threshold"`
	ConsolidationSimilarityThreshold float64 `json:"consolidation_similarity_threshold"`
	UpdatedBy                        string  `json:"updated_by,omitempty"`
	UpdatedAt                        string  `json:"updated_at,omitempty"`
}

// SeedVocabConfig writes the singleton config row if absent.
func (s *Store) SeedVocabConfig(ctx context.Context, c VocabConfig) error {
	auto := 0
	if c.AutoExpandEnabled {
		auto = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO vocabulary_config
			(id, vocab_min, vocab_max, vocab_emergency, pruning_mode, aggressiveness_profile,
			 auto_expand_enabled, synonym_threshold_strong, synonym_threshold_moderate,
			 low_value_threshold, consolidation_similarity_threshold)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.VocabMin, c.VocabMax, c.VocabEmergency, c.PruningMode, c.AggressivenessProfile,
		auto, c.SynonymThresholdStrong, c.SynonymThresholdModerate,
		c.LowValueThreshold, c.ConsolidationSimilarityThreshold)
	return err
}

// GetVocabConfig reads the singleton config row.
func (s *Store) GetVocabConfig(ctx context.Context) (*VocabConfig, error) {
	c := &VocabConfig{}
	var auto int
	var updatedBy sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT vocab_min, vocab_max, vocab_emergency, pruning_mode, aggressiveness_profile,
			auto_expand_enabled, synonym_threshold_strong, synonym_threshold_moderate,
			low_value_threshold, consolidation_similarity_threshold, updated_by, updated_at
		FROM vocabulary_config WHERE id = 1
	`).Scan(&c.VocabMin, &c.VocabMax, &c.VocabEmergency, &c.PruningMode, &c.AggressivenessProfile,
		&auto, &c.SynonymThresholdStrong, &c.SynonymThresholdModerate,
		&c.LowValueThreshold, &c.ConsolidationSimilarityThreshold, &updatedBy, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.AutoExpandEnabled = auto != 0
	c.UpdatedBy = updatedBy.String
	return c, nil
}

// VocabConfigUpdate carries partial config changes. Nil fields are left
// untouched.
type VocabConfigUpdate struct {
	VocabMin                         *int
	VocabMax                         *int
	VocabEmergency                   *int
	PruningMode                      *string
	AggressivenessProfile            *string
	AutoExpandEnabled                *bool
	SynonymThresholdStrong           *float64
	SynonymThresholdModerate         *float64
	LowValueThreshold                *float64
	ConsolidationSimilarityThreshold *float64
}

// UpdateVocabConfig applies the non-nil fields of the update and
// returns the names of the columns changed.
func (s *Store) UpdateVocabConfig(ctx context.Context, u VocabConfigUpdate, updatedBy string) ([]string, error) {
	var sets []string
	var args []interface{}
	var fields []string

	add := func(col string, val interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
		fields = append(fields, col)
	}

	if u.VocabMin != nil {
		add("vocab_min", *u.VocabMin)
	}
	if u.VocabMax != nil {
		add("vocab_max", *u.VocabMax)
	}
	if u.VocabEmergency != nil {
		add("vocab_emergency", *u.VocabEmergency)
	}
	if u.PruningMode != nil {
		add("pruning_mode", *u.PruningMode)
	}
	if u.AggressivenessProfile != nil {
		add("aggressiveness_profile", *u.AggressivenessProfile)
	}
	if u.AutoExpandEnabled != nil {
		v := 0
		if *u.AutoExpandEnabled {
			v = 1
		}
		add("auto_expand_enabled", v)
	}
	if u.SynonymThresholdStrong != nil {
		add("synonym_threshold_strong", *u.SynonymThresholdStrong)
	}
	if u.SynonymThresholdModerate != nil {
		add("synonym_threshold_moderate", *u.SynonymThresholdModerate)
	}
	if u.LowValueThreshold != nil {
		add("low_value_threshold", *u.LowValueThreshold)
	}
	if u.ConsolidationSimilarityThreshold != nil {
		add("consolidation_similarity_threshold", *u.ConsolidationSimilarityThreshold)
	}

	if len(sets) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}

	sets = append(sets, "updated_by = ?", "updated_at = CURRENT_TIMESTAMP")
	args = append(args, updatedBy)

	q := "UPDATE vocabulary_config SET " + strings.Join(sets, ", ") + " WHERE id = 1"
	if _, err := s.db.ExecContext(ctx, q, args...); err != nil {
		return nil, err
	}
	return fields, nil
}

// --- Aggressiveness profiles ---

// CurveProfile is a named cubic Bezier easing profile.
type CurveProfile struct {
	ProfileName string  `json:"profile_name"`
	ControlX1   float64 `json:"control_x1"`
	ControlY1   float64 `json:"control_y1"`
	ControlX2   float64 `json:"control_x2"`
	ControlY2   float64 `json:"control_y2"`
	Description string  `json:"description,omitempty"`
	IsBuiltin   bool    `json:"is_builtin"`
	CreatedAt   string  `json:"created_at,omitempty"`
}

// SeedProfile inserts a builtin profile if absent.
func (s *Store) SeedProfile(ctx context.Context, p CurveProfile) error {
	builtin := 0
	if p.IsBuiltin {
		builtin = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO aggressiveness_profiles
			(profile_name, control_x1, control_y1, control_x2, control_y2, description, is_builtin)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, p.ProfileName, p.ControlX1, p.ControlY1, p.ControlX2, p.ControlY2, p.Description, builtin)
	return err
}

// CreateProfile inserts a custom profile. Returns false when the name
// is already taken.
func (s *Store) CreateProfile(ctx context.Context, p CurveProfile) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO aggressiveness_profiles
			(profile_name, control_x1, control_y1, control_x2, control_y2, description, is_builtin)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(profile_name) DO NOTHING
	`, p.ProfileName, p.ControlX1, p.ControlY1, p.ControlX2, p.ControlY2, p.Description)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetProfile retrieves one profile by name.
func (s *Store) GetProfile(ctx context.Context, name string) (*CurveProfile, error) {
	p := &CurveProfile{}
	var desc sql.NullString
	var builtin int
	err := s.db.QueryRowContext(ctx, `
		SELECT profile_name, control_x1, control_y1, control_x2, control_y2, description, is_builtin, created_at
		FROM aggressiveness_profiles WHERE profile_name = ?
	`, name).Scan(&p.ProfileName, &p.ControlX1, &p.ControlY1, &p.ControlX2, &p.ControlY2,
		&desc, &builtin, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.Description = desc.String
	p.IsBuiltin = builtin != 0
	return p, nil
}

// ListProfiles returns all profiles, builtin first.
func (s *Store) ListProfiles(ctx context.Context) ([]CurveProfile, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT profile_name, control_x1, control_y1, control_x2, control_y2, description, is_builtin, created_at
		FROM aggressiveness_profiles ORDER BY is_builtin DESC, profile_name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CurveProfile
	for rows.Next() {
		var p CurveProfile
		var desc sql.NullString
		var builtin int
		if err := rows.Scan(&p.ProfileName, &p.ControlX1, &p.ControlY1, &p.ControlX2, &p.ControlY2,
			&desc, &builtin, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.Description = desc.String
		p.IsBuiltin = builtin != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProfile removes a custom profile by name.
func (s *Store) DeleteProfile(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM aggressiveness_profiles WHERE profile_name = ?", name)
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

// --- Categories ---

// SeedCategory inserts a vocabulary category if absent.
func (s *Store) SeedCategory(ctx context.Context, name, description string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO vocabulary_categories (name, description) VALUES (?, ?)",
		name, description)
	return err
}

// ListCategories returns all vocabulary categories.
func (s *Store) ListCategories(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name, COALESCE(description, '') FROM vocabulary_categories ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, desc string
		if err := rows.Scan(&name, &desc); err != nil {
			return nil, err
		}
		out[name] = desc
	}
	return out, rows.Err()
}

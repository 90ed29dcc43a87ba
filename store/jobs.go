package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Job statuses. Jobs move queued -> processing -> terminal.
const (
	JobQueued     = "queued"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
	JobCancelled  = "cancelled"
)

// Job is one row in the job queue. Payload, Progress, Result and
// Analysis hold JSON blobs owned by the worker for that job type.
type Job struct {
	JobID       string `json:"job_id"`
	JobType     string `json:"job_type"`
	Ontology    string `json:"ontology,omitempty"`
	Status      string `json:"status"`
	ContentHash string `json:"content_hash,omitempty"`
	Payload     string `json:"payload,omitempty"`
	Progress    string `json:"progress,omitempty"`
	Result      string `json:"result,omitempty"`
	Error       string `json:"error,omitempty"`
	Analysis    string `json:"analysis,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	IsSystem    bool   `json:"is_system"`
	ArtifactID  string `json:"artifact_id,omitempty"`
	CreatedAt   string `json:"created_at"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
}

// InsertJob enqueues a job. Status defaults to queued.
func (s *Store) InsertJob(ctx context.Context, j Job) error {
	if j.Status == "" {
		j.Status = JobQueued
	}
	system := 0
	if j.IsSystem {
		system = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (job_id, job_type, ontology, status, content_hash, payload, analysis, user_id, is_system)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.JobID, j.JobType, j.Ontology, j.Status, j.ContentHash, j.Payload, nullable(j.Analysis), j.UserID, system)
	return err
}

func scanJob(scan func(dest ...interface{}) error) (*Job, error) {
	j := &Job{}
	var ontology, contentHash, payload, progress, result, jobErr, analysis sql.NullString
	var userID, artifactID, startedAt, completedAt sql.NullString
	var system int
	if err := scan(&j.JobID, &j.JobType, &ontology, &j.Status, &contentHash, &payload, &progress,
		&result, &jobErr, &analysis, &userID, &system, &artifactID, &j.CreatedAt, &startedAt, &completedAt); err != nil {
		return nil, err
	}
	j.Ontology = ontology.String
	j.ContentHash = contentHash.String
	j.Payload = payload.String
	j.Progress = progress.String
	j.Result = result.String
	j.Error = jobErr.String
	j.Analysis = analysis.String
	j.UserID = userID.String
	j.IsSystem = system != 0
	j.ArtifactID = artifactID.String
	j.StartedAt = startedAt.String
	j.CompletedAt = completedAt.String
	return j, nil
}

const jobColumns = `job_id, job_type, ontology, status, content_hash, payload, progress,
	result, error, analysis, user_id, is_system, artifact_id, created_at, started_at, completed_at`

// GetJob retrieves one job.
func (s *Store) GetJob(ctx context.Context, jobID string) (*Job, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE job_id = ?", jobID)
	return scanJob(row.Scan)
}

// MarkJobProcessing moves a queued job to processing and stamps
// started_at. A no-op when the job already left the queue.
func (s *Store) MarkJobProcessing(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, started_at = COALESCE(started_at, CURRENT_TIMESTAMP)
		WHERE job_id = ? AND status = ?
	`, JobProcessing, jobID, JobQueued)
	return err
}

// UpdateJobProgress replaces the job's progress blob. Terminal jobs are
// left untouched so a straggling worker update cannot scribble on a
// finished record.
func (s *Store) UpdateJobProgress(ctx context.Context, jobID, progressJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET progress = ?
		WHERE job_id = ? AND status NOT IN (?, ?, ?)
	`, progressJSON, jobID, JobCompleted, JobFailed, JobCancelled)
	return err
}

// CompleteJob records a successful result and stamps completed_at.
// Jobs already in a terminal state keep their original outcome.
func (s *Store) CompleteJob(ctx context.Context, jobID, resultJSON string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, result = ?, completed_at = CURRENT_TIMESTAMP
		WHERE job_id = ? AND status NOT IN (?, ?, ?)
	`, JobCompleted, resultJSON, jobID, JobCompleted, JobFailed, JobCancelled)
	return err
}

// FailJob records the failure reason and stamps completed_at. Jobs
// already in a terminal state keep their original outcome.
func (s *Store) FailJob(ctx context.Context, jobID, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, error = ?, completed_at = CURRENT_TIMESTAMP
		WHERE job_id = ? AND status NOT IN (?, ?, ?)
	`, JobFailed, errMsg, jobID, JobCompleted, JobFailed, JobCancelled)
	return err
}

// CompleteJobWithArtifact stores the job's artifact and marks the job
// completed in one transaction, so a crash can never leave a completed
// job pointing at a missing artifact.
func (s *Store) CompleteJobWithArtifact(ctx context.Context, jobID, resultJSON string, a Artifact) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := insertArtifactTx(ctx, tx, a); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, result = ?, artifact_id = ?, completed_at = CURRENT_TIMESTAMP
			WHERE job_id = ? AND status NOT IN (?, ?, ?)
		`, JobCompleted, resultJSON, a.ArtifactID, jobID, JobCompleted, JobFailed, JobCancelled)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			// Roll back the artifact insert too: the job is gone or
			// already terminal, so the artifact has no owner.
			return fmt.Errorf("store: job %s not completable", jobID)
		}
		return nil
	})
}

// CancelJob cancels a job if it has not started. Returns false when the
// job exists but was past cancellation.
func (s *Store) CancelJob(ctx context.Context, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, completed_at = CURRENT_TIMESTAMP
		WHERE job_id = ? AND status = ?
	`, JobCancelled, jobID, JobQueued)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClaimNextJob atomically takes the oldest queued job (optionally of
// one type) and marks it processing. Returns nil when the queue is
// empty.
func (s *Store) ClaimNextJob(ctx context.Context, jobType string) (*Job, error) {
	var claimed *Job
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		q := "SELECT job_id FROM jobs WHERE status = ?"
		args := []interface{}{JobQueued}
		if jobType != "" {
			q += " AND job_type = ?"
			args = append(args, jobType)
		}
		q += " ORDER BY created_at LIMIT 1"

		var jobID string
		err := tx.QueryRowContext(ctx, q, args...).Scan(&jobID)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, started_at = CURRENT_TIMESTAMP WHERE job_id = ?
		`, JobProcessing, jobID); err != nil {
			return err
		}

		row := tx.QueryRowContext(ctx,
			"SELECT "+jobColumns+" FROM jobs WHERE job_id = ?", jobID)
		j, err := scanJob(row.Scan)
		if err != nil {
			return err
		}
		claimed = j
		return nil
	})
	return claimed, err
}

// JobFilter narrows ListJobs. Zero values mean no constraint.
type JobFilter struct {
	Status        string
	JobType       string
	Ontology      string
	UserID        string
	ExcludeSystem bool
	Limit         int
	Offset        int
}

// ListJobs returns jobs matching the filter, newest first.
func (s *Store) ListJobs(ctx context.Context, f JobFilter) ([]Job, error) {
	if f.Limit <= 0 {
		f.Limit = 50
	}

	var conds []string
	var args []interface{}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.JobType != "" {
		conds = append(conds, "job_type = ?")
		args = append(args, f.JobType)
	}
	if f.Ontology != "" {
		conds = append(conds, "ontology = ?")
		args = append(args, f.Ontology)
	}
	if f.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.ExcludeSystem {
		conds = append(conds, "is_system = 0")
	}

	q := "SELECT " + jobColumns + " FROM jobs"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *j)
	}
	return out, rows.Err()
}

// FindDuplicateJob returns the newest job with the same content hash
// and ontology that completed or is still in flight. Used to
// short-circuit duplicate ingest submissions.
func (s *Store) FindDuplicateJob(ctx context.Context, contentHash, ontology string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE content_hash = ? AND ontology = ? AND status IN (?, ?, ?)
		ORDER BY created_at DESC LIMIT 1
	`, contentHash, ontology, JobCompleted, JobProcessing, JobQueued)
	return scanJob(row.Scan)
}

// DeleteJob removes one job. In-flight jobs are refused unless force is
// set.
func (s *Store) DeleteJob(ctx context.Context, jobID string, force bool) (bool, error) {
	q := "DELETE FROM jobs WHERE job_id = ?"
	args := []interface{}{jobID}
	if !force {
		q += " AND status != ?"
		args = append(args, JobProcessing)
	}
	res, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// JobPurgeFilter selects jobs for bulk deletion. Processing jobs are
// never purged.
type JobPurgeFilter struct {
	Status     string
	JobType    string
	SystemOnly bool
	OlderThan  time.Duration
}

// PurgeJobs bulk-deletes jobs matching the filter, skipping any still
// processing. Returns how many were removed.
func (s *Store) PurgeJobs(ctx context.Context, f JobPurgeFilter) (int, error) {
	conds := []string{"status != ?"}
	args := []interface{}{JobProcessing}

	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.JobType != "" {
		conds = append(conds, "job_type = ?")
		args = append(args, f.JobType)
	}
	if f.SystemOnly {
		conds = append(conds, "is_system = 1")
	}
	if f.OlderThan > 0 {
		cutoff := time.Now().UTC().Add(-f.OlderThan).Format("2006-01-02 15:04:05")
		conds = append(conds, "created_at < ?")
		args = append(args, cutoff)
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM jobs WHERE "+strings.Join(conds, " AND "), args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// --- Artifact operations ---

// Artifact is a stored analysis result. Small payloads live inline in
// ContentInline; larger ones live in object storage under StorageKey.
// Exactly one of the two is set.
type Artifact struct {
	ArtifactID      string   `json:"artifact_id"`
	ArtifactType    string   `json:"artifact_type"`
	Representation  string   `json:"representation,omitempty"`
	OwnerID         string   `json:"owner_id,omitempty"`
	GraphEpoch      int64    `json:"graph_epoch"`
	Ontology        string   `json:"ontology,omitempty"`
	Title           string   `json:"title,omitempty"`
	Parameters      string   `json:"parameters,omitempty"`
	ConceptIDs      []string `json:"concept_ids,omitempty"`
	ContentInline   string   `json:"content_inline,omitempty"`
	StorageKey      string   `json:"storage_key,omitempty"`
	ContentHash     string   `json:"content_hash,omitempty"`
	SizeBytes       int64    `json:"size_bytes"`
	RetentionPolicy string   `json:"retention_policy"`
	Metadata        string   `json:"metadata,omitempty"`
	CreatedAt       string   `json:"created_at"`
	ExpiresAt       string   `json:"expires_at,omitempty"`
}

// InsertArtifact stores an artifact record.
func (s *Store) InsertArtifact(ctx context.Context, a Artifact) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return insertArtifactTx(ctx, tx, a)
	})
}

func insertArtifactTx(ctx context.Context, tx *sql.Tx, a Artifact) error {
	var expires interface{}
	if a.ExpiresAt != "" {
		expires = a.ExpiresAt
	}
	ids, err := json.Marshal(a.ConceptIDs)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO artifacts (artifact_id, artifact_type, representation, owner_id,
			graph_epoch, ontology, title, parameters, concept_ids, content_inline,
			storage_key, content_hash, size_bytes, retention_policy, metadata, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, a.ArtifactID, a.ArtifactType, nullable(a.Representation), nullable(a.OwnerID),
		a.GraphEpoch, a.Ontology, a.Title, nullable(a.Parameters), string(ids),
		nullable(a.ContentInline), nullable(a.StorageKey), a.ContentHash,
		a.SizeBytes, a.RetentionPolicy, nullable(a.Metadata), expires)
	return err
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func scanArtifact(scan func(dest ...interface{}) error) (*Artifact, error) {
	a := &Artifact{}
	var representation, owner, ontology, title, params, ids sql.NullString
	var inline, storageKey, hash, metadata, expires sql.NullString
	if err := scan(&a.ArtifactID, &a.ArtifactType, &representation, &owner,
		&a.GraphEpoch, &ontology, &title, &params, &ids, &inline,
		&storageKey, &hash, &a.SizeBytes, &a.RetentionPolicy, &metadata,
		&a.CreatedAt, &expires); err != nil {
		return nil, err
	}
	a.Representation = representation.String
	a.OwnerID = owner.String
	a.Ontology = ontology.String
	a.Title = title.String
	a.Parameters = params.String
	if ids.Valid && ids.String != "" {
		_ = json.Unmarshal([]byte(ids.String), &a.ConceptIDs)
	}
	a.ContentInline = inline.String
	a.StorageKey = storageKey.String
	a.ContentHash = hash.String
	a.Metadata = metadata.String
	a.ExpiresAt = expires.String
	return a, nil
}

const artifactColumns = `artifact_id, artifact_type, representation, owner_id,
	graph_epoch, ontology, title, parameters, concept_ids, content_inline,
	storage_key, content_hash, size_bytes, retention_policy, metadata, created_at, expires_at`

// GetArtifact retrieves one artifact record.
func (s *Store) GetArtifact(ctx context.Context, artifactID string) (*Artifact, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+artifactColumns+" FROM artifacts WHERE artifact_id = ?", artifactID)
	return scanArtifact(row.Scan)
}

// ListArtifacts returns artifacts filtered by type and ontology, newest
// first.
func (s *Store) ListArtifacts(ctx context.Context, artifactType, ontology string, limit, offset int) ([]Artifact, error) {
	if limit <= 0 {
		limit = 50
	}

	var conds []string
	var args []interface{}
	if artifactType != "" {
		conds = append(conds, "artifact_type = ?")
		args = append(args, artifactType)
	}
	if ontology != "" {
		conds = append(conds, "ontology = ?")
		args = append(args, ontology)
	}

	q := "SELECT " + artifactColumns + " FROM artifacts"
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		a, err := scanArtifact(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// DeleteArtifact removes one artifact record.
func (s *Store) DeleteArtifact(ctx context.Context, artifactID string) error {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM artifacts WHERE artifact_id = ?", artifactID)
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

// ExpiredArtifacts lists artifacts whose expiry has passed.
func (s *Store) ExpiredArtifacts(ctx context.Context, now time.Time) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+artifactColumns+" FROM artifacts WHERE expires_at IS NOT NULL AND expires_at < ?",
		now.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		a, err := scanArtifact(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ArtifactsOfType lists every artifact of one type, newest first. The
// retention sweep uses this to keep only the most recent N.
func (s *Store) ArtifactsOfType(ctx context.Context, artifactType string) ([]Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+artifactColumns+" FROM artifacts WHERE artifact_type = ? ORDER BY created_at DESC",
		artifactType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Artifact
	for rows.Next() {
		a, err := scanArtifact(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

// ArtifactTypes returns the distinct artifact types present.
func (s *Store) ArtifactTypes(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT artifact_type FROM artifacts")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// --- System initialization markers ---

// IsComponentInitialized reports whether a one-shot initialization has
// already run.
func (s *Store) IsComponentInitialized(ctx context.Context, component string) (bool, error) {
	var initialized int
	err := s.db.QueryRowContext(ctx,
		"SELECT initialized FROM system_initialization_status WHERE component = ?",
		component).Scan(&initialized)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return initialized != 0, nil
}

// MarkComponentInitialized records that a one-shot initialization
// finished.
func (s *Store) MarkComponentInitialized(ctx context.Context, component, details string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_initialization_status (component, initialized, initialized_at, details)
		VALUES (?, 1, CURRENT_TIMESTAMP, ?)
		ON CONFLICT(component) DO UPDATE SET
			initialized = 1, initialized_at = CURRENT_TIMESTAMP, details = excluded.details
	`, component, details)
	return err
}

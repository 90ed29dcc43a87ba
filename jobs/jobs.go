// Package jobs is the asynchronous work queue behind ingestion,
// embedding regeneration, and artifact cleanup. Jobs persist in the
// store, so a restart picks up where the process left off: workers
// claim the oldest queued job of their type, bounded by a per-type
// concurrency limit. Status only moves forward; once a job completes,
// fails, or is cancelled nothing rewrites its outcome.
package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/mleroux/kgraph/store"
)

// Job types the engine registers workers for.
const (
	TypeIngest          = "ingestion"
	TypeEmbeddingRegen  = "embedding_regeneration"
	TypeArtifactCleanup = "artifact_cleanup"
)

const defaultPollInterval = time.Second

// completedReingestWindow is how long a completed ingestion blocks an
// identical re-submission before it is allowed through again without
// force.
const completedReingestWindow = 30 * 24 * time.Hour

var (
	ErrNotFound        = errors.New("jobs: job not found")
	ErrNotCancellable  = errors.New("jobs: job cannot be cancelled")
	ErrStillProcessing = errors.New("jobs: job is processing")
	ErrUnknownType     = errors.New("jobs: no worker registered for job type")
)

// NewJobID returns a fresh queue identifier, "job_" plus twelve hex
// characters.
func NewJobID() string {
	return "job_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// ProgressFunc lets a handler publish a progress snapshot. The value is
// serialized into the job row; snapshots that arrive after the job went
// terminal are dropped.
type ProgressFunc func(progress interface{})

// Outcome is what a handler returns on success. Result becomes the
// job's result JSON; a non-nil Artifact is stored in the same
// transaction that marks the job completed.
type Outcome struct {
	Result   interface{}
	Artifact *store.Artifact
}

// Handler executes one claimed job.
type Handler func(ctx context.Context, job store.Job, update ProgressFunc) (*Outcome, error)

type registration struct {
	handler Handler
	sem     *semaphore.Weighted
}

// Config tunes the queue. Zero values take the defaults.
type Config struct {
	PollInterval time.Duration
}

// Queue dispatches persisted jobs to registered handlers.
type Queue struct {
	store *store.Store
	poll  time.Duration

	mu       sync.Mutex
	handlers map[string]*registration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewQueue creates a queue over the given store. Call Register for
// each job type, then Start.
func NewQueue(s *store.Store, cfg Config) *Queue {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Queue{
		store:    s,
		poll:     cfg.PollInterval,
		handlers: make(map[string]*registration),
	}
}

// Register installs the handler for a job type. maxConcurrent bounds
// how many jobs of that type run at once; values below one mean
// serial.
func (q *Queue) Register(jobType string, maxConcurrent int, h Handler) {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[jobType] = &registration{
		handler: h,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
	}
}

// Start launches the dispatch loop. Stop cancels it and waits for
// in-flight jobs to record their outcome.
func (q *Queue) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.wg.Add(1)
	go q.dispatch(runCtx)
	slog.Info("jobs: queue started", "poll", q.poll)
}

// Stop halts dispatching and blocks until running jobs finish.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
	slog.Info("jobs: queue stopped")
}

func (q *Queue) dispatch(ctx context.Context) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.claimReady(ctx)
		}
	}
}

// claimReady fills every free worker slot with the oldest queued job
// of its type.
func (q *Queue) claimReady(ctx context.Context) {
	q.mu.Lock()
	types := make([]string, 0, len(q.handlers))
	for t := range q.handlers {
		types = append(types, t)
	}
	q.mu.Unlock()
	sort.Strings(types)

	for _, jobType := range types {
		q.mu.Lock()
		reg := q.handlers[jobType]
		q.mu.Unlock()

		for reg.sem.TryAcquire(1) {
			job, err := q.store.ClaimNextJob(ctx, jobType)
			if err != nil {
				reg.sem.Release(1)
				slog.Warn("jobs: claim failed", "type", jobType, "error", err)
				break
			}
			if job == nil {
				reg.sem.Release(1)
				break
			}
			q.wg.Add(1)
			go q.execute(ctx, reg, job)
		}
	}
}

func (q *Queue) execute(ctx context.Context, reg *registration, job *store.Job) {
	defer q.wg.Done()
	defer reg.sem.Release(1)

	start := time.Now()
	slog.Info("jobs: job started", "job_id", job.JobID, "type", job.JobType)

	update := func(progress interface{}) {
		raw, err := json.Marshal(progress)
		if err != nil {
			slog.Warn("jobs: progress not serializable", "job_id", job.JobID, "error", err)
			return
		}
		if err := q.store.UpdateJobProgress(ctx, job.JobID, string(raw)); err != nil {
			slog.Warn("jobs: progress update failed", "job_id", job.JobID, "error", err)
		}
	}

	outcome, err := runHandler(ctx, reg.handler, *job, update)

	// Terminal writes survive shutdown: the work already happened, and
	// losing the outcome would strand the job in processing forever.
	final := context.WithoutCancel(ctx)

	if err == nil && outcome != nil && outcome.Result != nil {
		if _, merr := json.Marshal(outcome.Result); merr != nil {
			err = fmt.Errorf("jobs: result not serializable: %w", merr)
		}
	}
	if err != nil {
		slog.Warn("jobs: job failed",
			"job_id", job.JobID, "type", job.JobType, "error", err,
			"elapsed", time.Since(start).Round(time.Millisecond))
		if ferr := q.store.FailJob(final, job.JobID, err.Error()); ferr != nil {
			slog.Error("jobs: failure not recorded", "job_id", job.JobID, "error", ferr)
		}
		return
	}

	result := "{}"
	if outcome != nil && outcome.Result != nil {
		raw, _ := json.Marshal(outcome.Result)
		result = string(raw)
	}
	if outcome != nil && outcome.Artifact != nil {
		err = q.store.CompleteJobWithArtifact(final, job.JobID, result, *outcome.Artifact)
	} else {
		err = q.store.CompleteJob(final, job.JobID, result)
	}
	if err != nil {
		slog.Error("jobs: completion not recorded", "job_id", job.JobID, "error", err)
		return
	}
	slog.Info("jobs: job completed",
		"job_id", job.JobID, "type", job.JobType,
		"elapsed", time.Since(start).Round(time.Millisecond))
}

// runHandler converts a handler panic into an error so one bad job
// cannot take the whole process down.
func runHandler(ctx context.Context, h Handler, job store.Job, update ProgressFunc) (outcome *Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = nil
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, job, update)
}

// ---------------------------------------------------------------------------
// Submission
// ---------------------------------------------------------------------------

// SubmitOptions describe one job submission. Payload and Analysis are
// serialized to JSON; ContentHash enables the duplicate check, which
// Force bypasses.
type SubmitOptions struct {
	Type        string
	Ontology    string
	UserID      string
	ContentHash string
	Payload     interface{}
	Analysis    interface{}
	Force       bool
	System      bool
}

// Duplicate describes the prior job that blocked a submission.
type Duplicate struct {
	ExistingJobID string          `json:"existing_job_id"`
	Status        string          `json:"status"`
	CreatedAt     string          `json:"created_at"`
	CompletedAt   string          `json:"completed_at,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Message       string          `json:"message"`
}

// SubmitResult holds either the queued job or the duplicate that
// blocked it, never both.
type SubmitResult struct {
	Job       *store.Job `json:"job,omitempty"`
	Duplicate *Duplicate `json:"duplicate,omitempty"`
}

// Submit enqueues a job. When the content hash matches a queued,
// processing, or recently completed job in the same ontology, the
// submission is refused and the prior job returned instead; failed
// runs never block a retry.
func (q *Queue) Submit(ctx context.Context, opts SubmitOptions) (*SubmitResult, error) {
	q.mu.Lock()
	_, registered := q.handlers[opts.Type]
	q.mu.Unlock()
	if !registered {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, opts.Type)
	}

	if opts.ContentHash != "" && !opts.Force {
		dup, err := q.duplicateOf(ctx, opts.ContentHash, opts.Ontology)
		if err != nil {
			return nil, err
		}
		if dup != nil {
			slog.Info("jobs: duplicate submission refused",
				"existing_job_id", dup.ExistingJobID, "status", dup.Status)
			return &SubmitResult{Duplicate: dup}, nil
		}
	}

	payload := ""
	if opts.Payload != nil {
		raw, err := json.Marshal(opts.Payload)
		if err != nil {
			return nil, fmt.Errorf("jobs: payload not serializable: %w", err)
		}
		payload = string(raw)
	}
	analysis := ""
	if opts.Analysis != nil {
		raw, err := json.Marshal(opts.Analysis)
		if err != nil {
			return nil, fmt.Errorf("jobs: analysis not serializable: %w", err)
		}
		analysis = string(raw)
	}

	job := store.Job{
		JobID:       NewJobID(),
		JobType:     opts.Type,
		Ontology:    opts.Ontology,
		ContentHash: opts.ContentHash,
		Payload:     payload,
		Analysis:    analysis,
		UserID:      opts.UserID,
		IsSystem:    opts.System,
	}
	if err := q.store.InsertJob(ctx, job); err != nil {
		return nil, fmt.Errorf("jobs: enqueue: %w", err)
	}
	job.Status = store.JobQueued
	slog.Info("jobs: job queued",
		"job_id", job.JobID, "type", job.JobType, "ontology", opts.Ontology)
	return &SubmitResult{Job: &job}, nil
}

func (q *Queue) duplicateOf(ctx context.Context, contentHash, ontology string) (*Duplicate, error) {
	prior, err := q.store.FindDuplicateJob(ctx, contentHash, ontology)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jobs: duplicate check: %w", err)
	}

	if prior.Status == store.JobCompleted {
		// Old enough completions are allowed through again; an
		// unparseable timestamp stays blocked.
		if done, perr := time.Parse("2006-01-02 15:04:05", prior.CompletedAt); perr == nil {
			if time.Since(done) > completedReingestWindow {
				return nil, nil
			}
		}
	}

	d := &Duplicate{
		ExistingJobID: prior.JobID,
		Status:        prior.Status,
		CreatedAt:     prior.CreatedAt,
		CompletedAt:   prior.CompletedAt,
		Message:       duplicateMessage(prior.Status, prior.JobID),
	}
	if prior.Result != "" {
		d.Result = json.RawMessage(prior.Result)
	}
	return d, nil
}

func duplicateMessage(status, jobID string) string {
	switch status {
	case store.JobProcessing:
		return fmt.Sprintf("This document is currently being processed (job %s). Check job status for progress.", jobID)
	case store.JobQueued:
		return fmt.Sprintf("This document is queued for ingestion (job %s). It will be processed soon.", jobID)
	default:
		return fmt.Sprintf("This document was already ingested (job %s). Use force=true to re-ingest.", jobID)
	}
}

// ---------------------------------------------------------------------------
// Inspection and lifecycle
// ---------------------------------------------------------------------------

// Get retrieves one job.
func (q *Queue) Get(ctx context.Context, jobID string) (*store.Job, error) {
	job, err := q.store.GetJob(ctx, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

// List returns jobs matching the filter, newest first.
func (q *Queue) List(ctx context.Context, f store.JobFilter) ([]store.Job, error) {
	return q.store.ListJobs(ctx, f)
}

// Cancel cancels a queued job. Jobs already running or finished return
// ErrNotCancellable.
func (q *Queue) Cancel(ctx context.Context, jobID string) error {
	ok, err := q.store.CancelJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("jobs: cancel %s: %w", jobID, err)
	}
	if ok {
		slog.Info("jobs: job cancelled", "job_id", jobID)
		return nil
	}
	if _, err := q.store.GetJob(ctx, jobID); errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	} else if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrNotCancellable, jobID)
}

// Delete removes one job record. A processing job is refused unless
// force is set.
func (q *Queue) Delete(ctx context.Context, jobID string, force bool) error {
	ok, err := q.store.DeleteJob(ctx, jobID, force)
	if err != nil {
		return fmt.Errorf("jobs: delete %s: %w", jobID, err)
	}
	if ok {
		return nil
	}
	job, err := q.store.GetJob(ctx, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, jobID)
	}
	if err != nil {
		return err
	}
	if job.Status == store.JobProcessing {
		return fmt.Errorf("%w: %s", ErrStillProcessing, jobID)
	}
	return fmt.Errorf("jobs: delete %s: not removed", jobID)
}

// Purge bulk-deletes job records matching the filter. Processing jobs
// always survive.
func (q *Queue) Purge(ctx context.Context, f store.JobPurgeFilter) (int, error) {
	return q.store.PurgeJobs(ctx, f)
}

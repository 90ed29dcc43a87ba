package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mleroux/kgraph/embed"
	"github.com/mleroux/kgraph/store"
)

// ---------------------------------------------------------------------------
// Artifact expiry sweep
// ---------------------------------------------------------------------------

// ArtifactBlobs is the slice of object storage the sweeper needs.
type ArtifactBlobs interface {
	Delete(ctx context.Context, key string) error
}

// SweepReport summarizes one artifact-expiry sweep.
type SweepReport struct {
	ExpiredFound int `json:"expired_found"`
	Deleted      int `json:"deleted"`
	OrphanErrors int `json:"orphan_errors"`
}

// Sweeper removes expired artifacts. The blob payload goes first and
// the row last, so a failed blob delete leaves the row behind for the
// next sweep to retry instead of orphaning the object.
type Sweeper struct {
	store *store.Store
	blobs ArtifactBlobs
}

// NewSweeper wires the artifact sweeper. A nil blob store is allowed
// when artifacts are inline-only; blob-backed rows then count as
// orphan errors until one is configured.
func NewSweeper(s *store.Store, blobs ArtifactBlobs) *Sweeper {
	return &Sweeper{store: s, blobs: blobs}
}

// SweepExpired deletes every artifact whose expiry passed before now.
func (sw *Sweeper) SweepExpired(ctx context.Context, now time.Time) (*SweepReport, error) {
	expired, err := sw.store.ExpiredArtifacts(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("jobs: list expired artifacts: %w", err)
	}

	report := &SweepReport{ExpiredFound: len(expired)}
	for _, a := range expired {
		if a.StorageKey != "" {
			if sw.blobs == nil {
				report.OrphanErrors++
				slog.Warn("jobs: expired artifact has blob but no blob store",
					"artifact_id", a.ArtifactID, "key", a.StorageKey)
				continue
			}
			if err := sw.blobs.Delete(ctx, a.StorageKey); err != nil {
				report.OrphanErrors++
				slog.Warn("jobs: artifact blob delete failed",
					"artifact_id", a.ArtifactID, "key", a.StorageKey, "error", err)
				continue
			}
		}
		if err := sw.store.DeleteArtifact(ctx, a.ArtifactID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				// Raced another sweep; the artifact is gone either way.
				report.Deleted++
				continue
			}
			report.OrphanErrors++
			slog.Warn("jobs: artifact row delete failed",
				"artifact_id", a.ArtifactID, "error", err)
			continue
		}
		report.Deleted++
	}

	if report.ExpiredFound > 0 {
		slog.Info("jobs: artifact sweep",
			"expired_found", report.ExpiredFound,
			"deleted", report.Deleted,
			"orphan_errors", report.OrphanErrors)
	}
	return report, nil
}

// Run adapts the sweep to the queue's handler contract.
func (sw *Sweeper) Run(ctx context.Context, _ store.Job, _ ProgressFunc) (*Outcome, error) {
	report, err := sw.SweepExpired(ctx, time.Now())
	if err != nil {
		return nil, err
	}
	return &Outcome{Result: report}, nil
}

// ---------------------------------------------------------------------------
// Embedding regeneration
// ---------------------------------------------------------------------------

// RegenPayload selects the embedding-regeneration targets. Zero values
// regenerate every active vocabulary type.
type RegenPayload struct {
	OnlyMissing bool `json:"only_missing,omitempty"`
	OnlyStale   bool `json:"only_stale,omitempty"`
}

type regenProgress struct {
	Stage     string `json:"stage"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Total     int    `json:"total"`
}

// Regenerator runs vocabulary embedding regeneration as a queue job,
// so long rebuilds report progress and land in job history like any
// other run.
type Regenerator struct {
	worker *embed.Worker
}

// NewRegenerator wires the regeneration worker.
func NewRegenerator(w *embed.Worker) *Regenerator {
	return &Regenerator{worker: w}
}

// Run executes one regeneration job.
func (r *Regenerator) Run(ctx context.Context, job store.Job, update ProgressFunc) (*Outcome, error) {
	var p RegenPayload
	if job.Payload != "" {
		if err := json.Unmarshal([]byte(job.Payload), &p); err != nil {
			return nil, fmt.Errorf("jobs: regeneration payload: %w", err)
		}
	}

	result, err := r.worker.RegenerateVocab(ctx, embed.RegenOptions{
		OnlyMissing: p.OnlyMissing,
		OnlyStale:   p.OnlyStale,
	}, func(processed, failed, total int) {
		update(regenProgress{
			Stage:     "embedding",
			Processed: processed,
			Failed:    failed,
			Total:     total,
		})
	})
	if err != nil {
		return nil, err
	}
	return &Outcome{Result: result}, nil
}

// ---------------------------------------------------------------------------
// Recurring maintenance
// ---------------------------------------------------------------------------

// SchedulerConfig tunes the maintenance cadence. Zero values take the
// defaults: hourly checks, a daily artifact sweep, 48h retention for
// completed and cancelled jobs, 7 days for failed ones.
type SchedulerConfig struct {
	CheckInterval      time.Duration
	SweepInterval      time.Duration
	CompletedRetention time.Duration
	FailedRetention    time.Duration
}

// Scheduler drives the recurring maintenance: pruning old job history
// and queueing the artifact-expiry sweep as a system job, so the
// sweep's outcome is inspectable like any other run.
type Scheduler struct {
	queue *Queue

	check              time.Duration
	sweepEvery         time.Duration
	completedRetention time.Duration
	failedRetention    time.Duration

	mu        sync.Mutex
	lastSweep time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates the maintenance scheduler over a queue.
func NewScheduler(q *Queue, cfg SchedulerConfig) *Scheduler {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Hour
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 24 * time.Hour
	}
	if cfg.CompletedRetention <= 0 {
		cfg.CompletedRetention = 48 * time.Hour
	}
	if cfg.FailedRetention <= 0 {
		cfg.FailedRetention = 7 * 24 * time.Hour
	}
	return &Scheduler{
		queue:              q,
		check:              cfg.CheckInterval,
		sweepEvery:         cfg.SweepInterval,
		completedRetention: cfg.CompletedRetention,
		failedRetention:    cfg.FailedRetention,
	}
}

// Start launches the maintenance loop.
func (sc *Scheduler) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	sc.cancel = cancel
	sc.wg.Add(1)
	go func() {
		defer sc.wg.Done()
		ticker := time.NewTicker(sc.check)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				sc.tick(runCtx)
			}
		}
	}()
	slog.Info("jobs: scheduler started",
		"check", sc.check, "sweep_every", sc.sweepEvery)
}

// Stop halts the maintenance loop.
func (sc *Scheduler) Stop() {
	if sc.cancel != nil {
		sc.cancel()
	}
	sc.wg.Wait()
}

// tick prunes expired job history and, once per sweep interval, queues
// the artifact cleanup job.
func (sc *Scheduler) tick(ctx context.Context) {
	for _, p := range []struct {
		status    string
		olderThan time.Duration
	}{
		{store.JobCompleted, sc.completedRetention},
		{store.JobCancelled, sc.completedRetention},
		{store.JobFailed, sc.failedRetention},
	} {
		n, err := sc.queue.Purge(ctx, store.JobPurgeFilter{
			Status:    p.status,
			OlderThan: p.olderThan,
		})
		if err != nil {
			slog.Warn("jobs: history prune failed", "status", p.status, "error", err)
			continue
		}
		if n > 0 {
			slog.Info("jobs: history pruned", "status", p.status, "removed", n)
		}
	}

	sc.mu.Lock()
	due := time.Since(sc.lastSweep) >= sc.sweepEvery
	sc.mu.Unlock()
	if !due {
		return
	}
	if err := sc.queueSweep(ctx); err != nil {
		slog.Warn("jobs: sweep submission failed", "error", err)
		return
	}
	sc.mu.Lock()
	sc.lastSweep = time.Now()
	sc.mu.Unlock()
}

// queueSweep submits the artifact cleanup job unless one is already
// queued or running.
func (sc *Scheduler) queueSweep(ctx context.Context) error {
	for _, status := range []string{store.JobQueued, store.JobProcessing} {
		open, err := sc.queue.List(ctx, store.JobFilter{
			JobType: TypeArtifactCleanup,
			Status:  status,
			Limit:   1,
		})
		if err != nil {
			return err
		}
		if len(open) > 0 {
			return nil
		}
	}
	_, err := sc.queue.Submit(ctx, SubmitOptions{Type: TypeArtifactCleanup, System: true})
	return err
}

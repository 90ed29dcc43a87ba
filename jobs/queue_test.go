//go:build cgo

package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mleroux/kgraph/chunker"
	"github.com/mleroux/kgraph/embed"
	"github.com/mleroux/kgraph/graph"
	"github.com/mleroux/kgraph/llm"
	"github.com/mleroux/kgraph/parser"
	"github.com/mleroux/kgraph/store"
	"github.com/mleroux/kgraph/vocab"
)

func newTestQueue(t *testing.T) (*Queue, *store.Store) {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "jobs.db"), 4)
	if err != nil {
		t.Fatalf("creating store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return NewQueue(s, Config{PollInterval: 10 * time.Millisecond}), s
}

func waitForStatus(t *testing.T, q *Queue, jobID, want string) *store.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		job, err := q.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("getting %s: %v", jobID, err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %s", jobID, want)
	return nil
}

func backdate(t *testing.T, s *store.Store, column, jobID string, age time.Duration) {
	t.Helper()
	stamp := time.Now().UTC().Add(-age).Format("2006-01-02 15:04:05")
	if _, err := s.DB().Exec(
		"UPDATE jobs SET "+column+" = ? WHERE job_id = ?", stamp, jobID); err != nil {
		t.Fatalf("backdating %s: %v", jobID, err)
	}
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

func TestQueueRunsHandler(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	q.Register("echo", 2, func(ctx context.Context, job store.Job, update ProgressFunc) (*Outcome, error) {
		update(map[string]interface{}{"stage": "halfway"})
		return &Outcome{Result: map[string]string{"echoed": job.Ontology}}, nil
	})

	res, err := q.Submit(ctx, SubmitOptions{Type: "echo", Ontology: "astro", UserID: "lyra"})
	if err != nil {
		t.Fatalf("submitting: %v", err)
	}
	if res.Job == nil || res.Duplicate != nil {
		t.Fatalf("submit result = %+v", res)
	}

	q.Start(ctx)
	defer q.Stop()

	job := waitForStatus(t, q, res.Job.JobID, store.JobCompleted)
	if job.StartedAt == "" || job.CompletedAt == "" {
		t.Errorf("timestamps not stamped: %+v", job)
	}
	if !strings.Contains(job.Result, `"echoed":"astro"`) {
		t.Errorf("result = %q", job.Result)
	}
	if !strings.Contains(job.Progress, `"stage":"halfway"`) {
		t.Errorf("progress = %q", job.Progress)
	}
	if job.UserID != "lyra" {
		t.Errorf("user = %q, want lyra", job.UserID)
	}
}

func TestQueueSerializesPerType(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	var mu sync.Mutex
	active, maxActive := 0, 0
	q.Register("slow", 1, func(ctx context.Context, job store.Job, update ProgressFunc) (*Outcome, error) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()

		time.Sleep(20 * time.Millisecond)

		mu.Lock()
		active--
		mu.Unlock()
		return nil, nil
	})

	var ids []string
	for i := 0; i < 3; i++ {
		res, err := q.Submit(ctx, SubmitOptions{Type: "slow"})
		if err != nil {
			t.Fatalf("submitting %d: %v", i, err)
		}
		ids = append(ids, res.Job.JobID)
	}

	q.Start(ctx)
	defer q.Stop()
	for _, id := range ids {
		waitForStatus(t, q, id, store.JobCompleted)
	}

	mu.Lock()
	defer mu.Unlock()
	if maxActive != 1 {
		t.Errorf("max concurrent slow jobs = %d, want 1", maxActive)
	}
}

func TestHandlerFailureAndPanic(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	q.Register("erring", 1, func(ctx context.Context, job store.Job, update ProgressFunc) (*Outcome, error) {
		return nil, errors.New("telescope misaligned")
	})
	q.Register("panicking", 1, func(ctx context.Context, job store.Job, update ProgressFunc) (*Outcome, error) {
		panic("lens shattered")
	})

	failing, err := q.Submit(ctx, SubmitOptions{Type: "erring"})
	if err != nil {
		t.Fatal(err)
	}
	panicking, err := q.Submit(ctx, SubmitOptions{Type: "panicking"})
	if err != nil {
		t.Fatal(err)
	}

	q.Start(ctx)
	defer q.Stop()

	job := waitForStatus(t, q, failing.Job.JobID, store.JobFailed)
	if job.Error != "telescope misaligned" {
		t.Errorf("error = %q", job.Error)
	}
	job = waitForStatus(t, q, panicking.Job.JobID, store.JobFailed)
	if !strings.Contains(job.Error, "panic: lens shattered") {
		t.Errorf("panic error = %q", job.Error)
	}
}

func TestArtifactCompletion(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()

	q.Register("report", 1, func(ctx context.Context, job store.Job, update ProgressFunc) (*Outcome, error) {
		return &Outcome{
			Result: map[string]int{"rows": 3},
			Artifact: &store.Artifact{
				ArtifactID:      "art_report_1",
				ArtifactType:    "vocabulary_report",
				ContentInline:   `{"rows":3}`,
				SizeBytes:       10,
				RetentionPolicy: "temporary",
			},
		}, nil
	})

	res, err := q.Submit(ctx, SubmitOptions{Type: "report", System: true})
	if err != nil {
		t.Fatal(err)
	}

	q.Start(ctx)
	defer q.Stop()

	job := waitForStatus(t, q, res.Job.JobID, store.JobCompleted)
	if job.ArtifactID != "art_report_1" {
		t.Errorf("artifact link = %q", job.ArtifactID)
	}
	if !job.IsSystem {
		t.Error("system flag dropped")
	}
	if _, err := s.GetArtifact(ctx, "art_report_1"); err != nil {
		t.Errorf("artifact missing: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Submission and duplicates
// ---------------------------------------------------------------------------

func TestSubmitUnknownType(t *testing.T) {
	q, _ := newTestQueue(t)
	if _, err := q.Submit(context.Background(), SubmitOptions{Type: "mystery"}); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("submit unregistered type = %v, want ErrUnknownType", err)
	}
}

func TestSubmitDuplicatePolicy(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()
	q.Register(TypeIngest, 1, func(ctx context.Context, job store.Job, update ProgressFunc) (*Outcome, error) {
		return nil, nil
	})

	// A queued job blocks an identical submission.
	first, err := q.Submit(ctx, SubmitOptions{Type: TypeIngest, Ontology: "astro", ContentHash: "h_queued"})
	if err != nil {
		t.Fatal(err)
	}
	res, err := q.Submit(ctx, SubmitOptions{Type: TypeIngest, Ontology: "astro", ContentHash: "h_queued"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Job != nil || res.Duplicate == nil {
		t.Fatalf("duplicate not detected: %+v", res)
	}
	if res.Duplicate.ExistingJobID != first.Job.JobID || res.Duplicate.Status != store.JobQueued {
		t.Errorf("duplicate = %+v", res.Duplicate)
	}
	if !strings.Contains(res.Duplicate.Message, "queued for ingestion") {
		t.Errorf("message = %q", res.Duplicate.Message)
	}

	// The same hash in another ontology is not a duplicate.
	other, err := q.Submit(ctx, SubmitOptions{Type: TypeIngest, Ontology: "legal", ContentHash: "h_queued"})
	if err != nil {
		t.Fatal(err)
	}
	if other.Job == nil {
		t.Fatalf("cross-ontology submission blocked: %+v", other)
	}

	// Force bypasses the check.
	forced, err := q.Submit(ctx, SubmitOptions{Type: TypeIngest, Ontology: "astro", ContentHash: "h_queued", Force: true})
	if err != nil {
		t.Fatal(err)
	}
	if forced.Job == nil {
		t.Fatalf("force did not bypass: %+v", forced)
	}

	// A failed run never blocks a retry.
	failed, err := q.Submit(ctx, SubmitOptions{Type: TypeIngest, Ontology: "astro", ContentHash: "h_failed"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MarkJobProcessing(ctx, failed.Job.JobID); err != nil {
		t.Fatal(err)
	}
	if err := s.FailJob(ctx, failed.Job.JobID, "boom"); err != nil {
		t.Fatal(err)
	}
	retry, err := q.Submit(ctx, SubmitOptions{Type: TypeIngest, Ontology: "astro", ContentHash: "h_failed"})
	if err != nil {
		t.Fatal(err)
	}
	if retry.Job == nil {
		t.Fatalf("failed run blocked a retry: %+v", retry)
	}

	// A fresh completion blocks and carries the prior result.
	done, err := q.Submit(ctx, SubmitOptions{Type: TypeIngest, Ontology: "astro", ContentHash: "h_done"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MarkJobProcessing(ctx, done.Job.JobID); err != nil {
		t.Fatal(err)
	}
	if err := s.CompleteJob(ctx, done.Job.JobID, `{"concepts":5}`); err != nil {
		t.Fatal(err)
	}
	res, err = q.Submit(ctx, SubmitOptions{Type: TypeIngest, Ontology: "astro", ContentHash: "h_done"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Duplicate == nil || !strings.Contains(res.Duplicate.Message, "already ingested") {
		t.Fatalf("completed duplicate: %+v", res)
	}
	if string(res.Duplicate.Result) != `{"concepts":5}` {
		t.Errorf("duplicate result = %s", res.Duplicate.Result)
	}

	// Old completions are allowed through again.
	backdate(t, s, "completed_at", done.Job.JobID, 31*24*time.Hour)
	res, err = q.Submit(ctx, SubmitOptions{Type: TypeIngest, Ontology: "astro", ContentHash: "h_done"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Job == nil {
		t.Fatalf("31-day-old completion still blocked: %+v", res)
	}
}

// ---------------------------------------------------------------------------
// Cancellation and deletion
// ---------------------------------------------------------------------------

func TestCancelLifecycle(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	q.Register("idle", 1, func(ctx context.Context, job store.Job, update ProgressFunc) (*Outcome, error) {
		return nil, nil
	})

	res, err := q.Submit(ctx, SubmitOptions{Type: "idle"})
	if err != nil {
		t.Fatal(err)
	}
	if err := q.Cancel(ctx, res.Job.JobID); err != nil {
		t.Fatalf("cancelling queued job: %v", err)
	}
	job, err := q.Get(ctx, res.Job.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if job.Status != store.JobCancelled || job.CompletedAt == "" {
		t.Errorf("cancelled job: %+v", job)
	}

	if err := q.Cancel(ctx, res.Job.JobID); !errors.Is(err, ErrNotCancellable) {
		t.Errorf("re-cancel = %v, want ErrNotCancellable", err)
	}
	if err := q.Cancel(ctx, "job_missing00000"); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancel missing = %v, want ErrNotFound", err)
	}
}

func TestDeleteRefusesProcessing(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()
	q.Register("idle", 1, func(ctx context.Context, job store.Job, update ProgressFunc) (*Outcome, error) {
		return nil, nil
	})

	res, err := q.Submit(ctx, SubmitOptions{Type: "idle"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.MarkJobProcessing(ctx, res.Job.JobID); err != nil {
		t.Fatal(err)
	}

	if err := q.Delete(ctx, res.Job.JobID, false); !errors.Is(err, ErrStillProcessing) {
		t.Fatalf("delete processing = %v, want ErrStillProcessing", err)
	}
	if err := q.Delete(ctx, res.Job.JobID, true); err != nil {
		t.Fatalf("forced delete: %v", err)
	}
	if _, err := q.Get(ctx, res.Job.JobID); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted job still readable: %v", err)
	}
	if err := q.Delete(ctx, res.Job.JobID, false); !errors.Is(err, ErrNotFound) {
		t.Errorf("delete missing = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// Ingestion worker
// ---------------------------------------------------------------------------

func newTestIngestor(t *testing.T, s *store.Store) *Ingestor {
	t.Helper()
	provider := llm.NewMock(llm.Config{Dim: 4})
	vm := vocab.NewManager(s, provider)
	if err := vm.Seed(context.Background()); err != nil {
		t.Fatalf("seeding vocabulary: %v", err)
	}
	builder := graph.NewBuilder(s, provider, vm, graph.BuilderConfig{})
	return NewIngestor(s, parser.NewRegistry(), nil, builder)
}

func TestIngestionThroughQueue(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()
	q.Register(TypeIngest, 2, newTestIngestor(t, s).Run)

	markdown := "# Star Formation\n\nProtostars collapse under gravity. Dust clouds cool slowly. Fusion ignites at the core."
	payload := IngestPayload{
		Content:     []byte(markdown),
		Ontology:    "astro",
		Filename:    "stars.md",
		ContentHash: "starhash0001",
		SourceType:  "api",
		Hostname:    "observatory-1",
	}
	res, err := q.Submit(ctx, SubmitOptions{
		Type:        TypeIngest,
		Ontology:    "astro",
		UserID:      "lyra",
		ContentHash: "starhash0001",
		Payload:     payload,
		Analysis:    AnalyzeIngest("stars.md", payload.Content, chunker.Bounds{}),
	})
	if err != nil {
		t.Fatalf("submitting: %v", err)
	}
	if !strings.Contains(res.Job.Analysis, "file_stats") {
		t.Errorf("analysis not attached: %q", res.Job.Analysis)
	}

	q.Start(ctx)
	defer q.Stop()

	job := waitForStatus(t, q, res.Job.JobID, store.JobCompleted)

	var result IngestResult
	if err := json.Unmarshal([]byte(job.Result), &result); err != nil {
		t.Fatalf("result %q: %v", job.Result, err)
	}
	if result.DocumentID != "starhash0001" || result.ChunksProcessed != 1 {
		t.Errorf("result = %+v", result)
	}
	if result.Stats == nil || result.Stats.ConceptsCreated == 0 {
		t.Errorf("stats = %+v", result.Stats)
	}

	var progress ingestProgress
	if err := json.Unmarshal([]byte(job.Progress), &progress); err != nil {
		t.Fatalf("progress %q: %v", job.Progress, err)
	}
	if progress.Stage != "processing" || progress.Percent != 100 {
		t.Errorf("final progress = %+v", progress)
	}

	meta, err := s.GetDocumentMeta(ctx, "starhash0001")
	if err != nil {
		t.Fatalf("document meta: %v", err)
	}
	if meta.JobID != job.JobID || meta.IngestedBy != "lyra" {
		t.Errorf("provenance = %+v", meta)
	}
	if meta.SourceType != "api" || meta.Hostname != "observatory-1" {
		t.Errorf("source provenance = %+v", meta)
	}
}

func TestIngestionEmptyDocument(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()
	q.Register(TypeIngest, 1, newTestIngestor(t, s).Run)

	res, err := q.Submit(ctx, SubmitOptions{
		Type:     TypeIngest,
		Ontology: "astro",
		Payload: IngestPayload{
			Content:  []byte("   \n\n   "),
			Ontology: "astro",
			Filename: "blank.md",
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	q.Start(ctx)
	defer q.Stop()

	job := waitForStatus(t, q, res.Job.JobID, store.JobCompleted)
	var result IngestResult
	if err := json.Unmarshal([]byte(job.Result), &result); err != nil {
		t.Fatalf("result %q: %v", job.Result, err)
	}
	if result.Message != "No chunks to process" || result.ChunksProcessed != 0 {
		t.Errorf("empty-document result = %+v", result)
	}
}

// ---------------------------------------------------------------------------
// Embedding regeneration worker
// ---------------------------------------------------------------------------

func TestRegenerationThroughQueue(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()

	provider := llm.NewMock(llm.Config{Dim: 4})
	vm := vocab.NewManager(s, provider)
	if err := vm.Seed(ctx); err != nil {
		t.Fatalf("seeding vocabulary: %v", err)
	}
	worker := embed.NewWorker(s, provider, embed.Config{Provider: "mock", Model: "mock-embed"})
	q.Register(TypeEmbeddingRegen, 1, NewRegenerator(worker).Run)

	res, err := q.Submit(ctx, SubmitOptions{
		Type:    TypeEmbeddingRegen,
		Payload: RegenPayload{OnlyMissing: true},
		System:  true,
	})
	if err != nil {
		t.Fatal(err)
	}

	q.Start(ctx)
	defer q.Stop()

	job := waitForStatus(t, q, res.Job.JobID, store.JobCompleted)
	var result embed.BatchResult
	if err := json.Unmarshal([]byte(job.Result), &result); err != nil {
		t.Fatalf("result %q: %v", job.Result, err)
	}
	if result.TargetCount != 47 || result.Processed != 47 || result.Failed != 0 {
		t.Errorf("regeneration = %d/%d/%d (target/processed/failed), want 47/47/0",
			result.TargetCount, result.Processed, result.Failed)
	}

	missing, err := s.VocabTypesNeedingEmbeddings(ctx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 0 {
		t.Errorf("%d types still missing embeddings", len(missing))
	}
}

// ---------------------------------------------------------------------------
// Artifact sweep
// ---------------------------------------------------------------------------

type fakeBlobs struct {
	mu      sync.Mutex
	deleted []string
	failKey string
}

func (f *fakeBlobs) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if key == f.failKey {
		return fmt.Errorf("storage unreachable")
	}
	f.deleted = append(f.deleted, key)
	return nil
}

func TestSweepExpiredArtifacts(t *testing.T) {
	_, s := newTestQueue(t)
	ctx := context.Background()

	past := time.Now().UTC().Add(-time.Hour).Format("2006-01-02 15:04:05")
	future := time.Now().UTC().Add(24 * time.Hour).Format("2006-01-02 15:04:05")
	for _, a := range []store.Artifact{
		{ArtifactID: "art_inline", ArtifactType: "report", ContentInline: "{}",
			SizeBytes: 2, RetentionPolicy: "temporary", ExpiresAt: past},
		{ArtifactID: "art_blob", ArtifactType: "report", StorageKey: "artifacts/report/ok.json",
			SizeBytes: 9, RetentionPolicy: "temporary", ExpiresAt: past},
		{ArtifactID: "art_stuck", ArtifactType: "report", StorageKey: "artifacts/report/stuck.json",
			SizeBytes: 9, RetentionPolicy: "temporary", ExpiresAt: past},
		{ArtifactID: "art_fresh", ArtifactType: "report", ContentInline: "{}",
			SizeBytes: 2, RetentionPolicy: "temporary", ExpiresAt: future},
	} {
		if err := s.InsertArtifact(ctx, a); err != nil {
			t.Fatalf("inserting %s: %v", a.ArtifactID, err)
		}
	}

	blobs := &fakeBlobs{failKey: "artifacts/report/stuck.json"}
	report, err := NewSweeper(s, blobs).SweepExpired(ctx, time.Now())
	if err != nil {
		t.Fatalf("sweeping: %v", err)
	}
	if report.ExpiredFound != 3 || report.Deleted != 2 || report.OrphanErrors != 1 {
		t.Errorf("report = %+v, want 3 found, 2 deleted, 1 orphan", report)
	}
	if len(blobs.deleted) != 1 || blobs.deleted[0] != "artifacts/report/ok.json" {
		t.Errorf("blob deletes = %v", blobs.deleted)
	}

	// The failed blob keeps its row for the next sweep to retry.
	if _, err := s.GetArtifact(ctx, "art_stuck"); err != nil {
		t.Errorf("stuck artifact row removed: %v", err)
	}
	for _, gone := range []string{"art_inline", "art_blob"} {
		if _, err := s.GetArtifact(ctx, gone); err == nil {
			t.Errorf("artifact %s survived the sweep", gone)
		}
	}
	if _, err := s.GetArtifact(ctx, "art_fresh"); err != nil {
		t.Errorf("unexpired artifact removed: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Maintenance scheduler
// ---------------------------------------------------------------------------

func TestSchedulerTick(t *testing.T) {
	q, s := newTestQueue(t)
	ctx := context.Background()
	q.Register(TypeArtifactCleanup, 1, NewSweeper(s, nil).Run)

	finish := func(id, status string) {
		t.Helper()
		if err := s.InsertJob(ctx, store.Job{JobID: id, JobType: TypeIngest}); err != nil {
			t.Fatal(err)
		}
		if err := s.MarkJobProcessing(ctx, id); err != nil {
			t.Fatal(err)
		}
		if status == store.JobFailed {
			if err := s.FailJob(ctx, id, "boom"); err != nil {
				t.Fatal(err)
			}
			return
		}
		if err := s.CompleteJob(ctx, id, "{}"); err != nil {
			t.Fatal(err)
		}
	}

	finish("job_old_done", store.JobCompleted)
	backdate(t, s, "created_at", "job_old_done", 72*time.Hour)
	finish("job_new_done", store.JobCompleted)
	finish("job_old_fail", store.JobFailed)
	backdate(t, s, "created_at", "job_old_fail", 72*time.Hour)

	sc := NewScheduler(q, SchedulerConfig{})
	sc.tick(ctx)

	// Completed past 48h is pruned; failed keeps its 7-day window.
	if _, err := q.Get(ctx, "job_old_done"); !errors.Is(err, ErrNotFound) {
		t.Errorf("old completed job survived prune: %v", err)
	}
	if _, err := q.Get(ctx, "job_new_done"); err != nil {
		t.Errorf("recent completed job pruned: %v", err)
	}
	if _, err := q.Get(ctx, "job_old_fail"); err != nil {
		t.Errorf("three-day-old failed job pruned early: %v", err)
	}

	sweeps, err := q.List(ctx, store.JobFilter{JobType: TypeArtifactCleanup, Status: store.JobQueued})
	if err != nil {
		t.Fatal(err)
	}
	if len(sweeps) != 1 {
		t.Fatalf("queued sweeps = %d, want 1", len(sweeps))
	}
	if !sweeps[0].IsSystem {
		t.Error("sweep job not marked system")
	}

	// Within the sweep interval nothing new is queued.
	sc.tick(ctx)
	sweeps, _ = q.List(ctx, store.JobFilter{JobType: TypeArtifactCleanup, Status: store.JobQueued})
	if len(sweeps) != 1 {
		t.Errorf("second tick queued another sweep: %d", len(sweeps))
	}

	// Even when due, an open sweep suppresses a new submission.
	sc.mu.Lock()
	sc.lastSweep = time.Time{}
	sc.mu.Unlock()
	sc.tick(ctx)
	sweeps, _ = q.List(ctx, store.JobFilter{JobType: TypeArtifactCleanup, Status: store.JobQueued})
	if len(sweeps) != 1 {
		t.Errorf("open sweep did not suppress resubmission: %d", len(sweeps))
	}
}

package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"video-batch-processor/internal/models"
	"video-batch-processor/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDispatcher(t *testing.T, st *store.Store, exec Executor, workers int, grace time.Duration) *Dispatcher {
	t.Helper()
	d := New(st, exec, Config{Workers: workers, CancelGrace: grace, Logger: testLogger()})
	d.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = d.Stop(ctx)
	})
	return d
}

func waitForStatus(t *testing.T, st *store.Store, id string, want models.Status, timeout time.Duration) models.Job {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := st.Get(id)
		if err == nil && job.Status == want {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	job, _ := st.Get(id)
	t.Fatalf("job %s never reached %s (last status %s)", id, want, job.Status)
	return models.Job{}
}

func TestSubmitAndComplete(t *testing.T) {
	st := store.New()
	exec := ExecutorFunc(func(_ context.Context, _ models.Job, report ProgressFunc) (*models.Result, error) {
		report(0.5, "halfway")
		return &models.Result{OutputPath: "out.mp4"}, nil
	})
	d := newTestDispatcher(t, st, exec, 2, time.Second)

	job, err := d.Submit("transcode", map[string]any{"input": "in.mp4"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != models.StatusPending {
		t.Fatalf("expected pending at submit, got %s", job.Status)
	}

	done := waitForStatus(t, st, job.ID, models.StatusCompleted, 2*time.Second)
	if done.Progress != 1.0 {
		t.Fatalf("expected progress 1.0, got %f", done.Progress)
	}
	if done.Result == nil || done.Result.OutputPath != "out.mp4" {
		t.Fatalf("expected result to be recorded, got %+v", done.Result)
	}
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Fatal("expected started_at and completed_at to be set")
	}
	if done.WorkerSlot != nil {
		t.Fatal("expected worker_slot to be cleared at terminal state")
	}
	if done.Error != "" {
		t.Fatalf("unexpected error %q", done.Error)
	}
}

func TestFIFOOrderSingleWorker(t *testing.T) {
	st := store.New()
	var mu sync.Mutex
	var order []string
	exec := ExecutorFunc(func(_ context.Context, job models.Job, _ ProgressFunc) (*models.Result, error) {
		mu.Lock()
		order = append(order, job.Operation)
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		return nil, nil
	})
	d := newTestDispatcher(t, st, exec, 1, time.Second)

	a, _ := d.Submit("a", nil)
	b, _ := d.Submit("b", nil)
	c, _ := d.Submit("c", nil)

	waitForStatus(t, st, a.ID, models.StatusCompleted, 2*time.Second)
	waitForStatus(t, st, b.ID, models.StatusCompleted, 2*time.Second)
	waitForStatus(t, st, c.ID, models.StatusCompleted, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Fatalf("expected FIFO order a,b,c got %v", order)
	}
}

func TestConcurrencyCap(t *testing.T) {
	st := store.New()
	var mu sync.Mutex
	running, peak := 0, 0
	exec := ExecutorFunc(func(_ context.Context, _ models.Job, _ ProgressFunc) (*models.Result, error) {
		mu.Lock()
		running++
		if running > peak {
			peak = running
		}
		mu.Unlock()
		time.Sleep(30 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
		return nil, nil
	})
	d := newTestDispatcher(t, st, exec, 3, time.Second)

	ids := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		job, err := d.Submit("work", nil)
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		waitForStatus(t, st, id, models.StatusCompleted, 5*time.Second)
	}

	mu.Lock()
	defer mu.Unlock()
	if peak > 3 {
		t.Fatalf("expected at most 3 concurrent jobs, observed %d", peak)
	}
	if peak == 0 {
		t.Fatal("executor never ran")
	}
}

func TestFailureIsolation(t *testing.T) {
	st := store.New()
	exec := ExecutorFunc(func(_ context.Context, job models.Job, _ ProgressFunc) (*models.Result, error) {
		if job.Operation == "bad" {
			return nil, errors.New("codec exploded")
		}
		time.Sleep(10 * time.Millisecond)
		return nil, nil
	})
	d := newTestDispatcher(t, st, exec, 3, time.Second)

	good1, _ := d.Submit("good", nil)
	bad, _ := d.Submit("bad", nil)
	good2, _ := d.Submit("good", nil)

	failed := waitForStatus(t, st, bad.ID, models.StatusFailed, 2*time.Second)
	if failed.Error != "codec exploded" {
		t.Fatalf("expected failure message recorded, got %q", failed.Error)
	}
	if failed.Result != nil {
		t.Fatal("failed job must not carry a result")
	}
	waitForStatus(t, st, good1.ID, models.StatusCompleted, 2*time.Second)
	waitForStatus(t, st, good2.ID, models.StatusCompleted, 2*time.Second)
}

func TestCancelPendingJob(t *testing.T) {
	st := store.New()
	release := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, _ models.Job, _ ProgressFunc) (*models.Result, error) {
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	d := newTestDispatcher(t, st, exec, 1, time.Second)
	t.Cleanup(func() { close(release) })

	blocker, _ := d.Submit("block", nil)
	waitForStatus(t, st, blocker.ID, models.StatusProcessing, 2*time.Second)

	victim, _ := d.Submit("victim", nil)
	got, err := d.Cancel(victim.ID)
	if err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if got.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if got.StartedAt != nil || got.WorkerSlot != nil {
		t.Fatal("cancelled pending job must never have been assigned a worker")
	}
	if got.CompletedAt == nil {
		t.Fatal("expected completed_at on cancellation")
	}
}

func TestCancelProcessingCooperative(t *testing.T) {
	st := store.New()
	exec := ExecutorFunc(func(ctx context.Context, _ models.Job, _ ProgressFunc) (*models.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	d := newTestDispatcher(t, st, exec, 1, time.Second)

	job, _ := d.Submit("long", nil)
	waitForStatus(t, st, job.ID, models.StatusProcessing, 2*time.Second)

	if _, err := d.Cancel(job.ID); err != nil {
		t.Fatalf("cancel processing: %v", err)
	}
	done := waitForStatus(t, st, job.ID, models.StatusCancelled, 2*time.Second)
	if done.Error != "" {
		t.Fatalf("cancelled job must not record an error, got %q", done.Error)
	}
}

func TestCancelProcessingStubbornExecutor(t *testing.T) {
	st := store.New()
	release := make(chan struct{})
	exec := ExecutorFunc(func(_ context.Context, _ models.Job, _ ProgressFunc) (*models.Result, error) {
		// Ignores the stop signal entirely.
		<-release
		return nil, nil
	})
	d := newTestDispatcher(t, st, exec, 1, 50*time.Millisecond)
	t.Cleanup(func() { close(release) })

	job, _ := d.Submit("stubborn", nil)
	waitForStatus(t, st, job.ID, models.StatusProcessing, 2*time.Second)

	if _, err := d.Cancel(job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	done := waitForStatus(t, st, job.ID, models.StatusCancelled, 2*time.Second)
	if done.Message != "termination forced after grace period" {
		t.Fatalf("expected forced-termination message, got %q", done.Message)
	}
}

func TestCancelTerminalAndUnknown(t *testing.T) {
	st := store.New()
	exec := ExecutorFunc(func(_ context.Context, _ models.Job, _ ProgressFunc) (*models.Result, error) {
		return nil, nil
	})
	d := newTestDispatcher(t, st, exec, 1, time.Second)

	job, _ := d.Submit("quick", nil)
	waitForStatus(t, st, job.ID, models.StatusCompleted, 2*time.Second)

	got, err := d.Cancel(job.ID)
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Fatalf("cancel must not disturb a terminal job, got %s", got.Status)
	}

	if _, err := d.Cancel("no-such-job"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestProgressClampAndMonotonic(t *testing.T) {
	st := store.New()
	reported := make(chan struct{})
	release := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, _ models.Job, report ProgressFunc) (*models.Result, error) {
		report(0.3, "encoding")
		report(0.1, "")
		report(-5, "")
		report(1.7, "")
		close(reported)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})
	d := newTestDispatcher(t, st, exec, 1, time.Second)

	job, _ := d.Submit("transcode", nil)
	<-reported

	got, err := st.Get(job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	// 0.3 must survive the 0.1 regression; 1.7 clamps to 1.0 and wins.
	if got.Progress != 1.0 {
		t.Fatalf("expected clamped progress 1.0, got %f", got.Progress)
	}
	if got.Message != "encoding" {
		t.Fatalf("expected message to stick, got %q", got.Message)
	}

	close(release)
	waitForStatus(t, st, job.ID, models.StatusCompleted, 2*time.Second)
}

func TestProgressRegressionIgnored(t *testing.T) {
	st := store.New()
	reported := make(chan struct{})
	release := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, _ models.Job, report ProgressFunc) (*models.Result, error) {
		report(0.3, "")
		report(0.1, "")
		close(reported)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})
	d := newTestDispatcher(t, st, exec, 1, time.Second)

	job, _ := d.Submit("transcode", nil)
	<-reported

	got, _ := st.Get(job.ID)
	if got.Progress != 0.3 {
		t.Fatalf("expected progress to stay at 0.3, got %f", got.Progress)
	}
	close(release)
	waitForStatus(t, st, job.ID, models.StatusCompleted, 2*time.Second)
}

func TestSubmitAfterStop(t *testing.T) {
	st := store.New()
	exec := ExecutorFunc(func(_ context.Context, _ models.Job, _ ProgressFunc) (*models.Result, error) {
		return nil, nil
	})
	d := New(st, exec, Config{Workers: 1, Logger: testLogger()})
	d.Start()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if _, err := d.Submit("late", nil); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestStopCancelsActiveJobs(t *testing.T) {
	st := store.New()
	exec := ExecutorFunc(func(ctx context.Context, _ models.Job, _ ProgressFunc) (*models.Result, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	d := New(st, exec, Config{Workers: 1, CancelGrace: time.Second, Logger: testLogger()})
	d.Start()

	job, _ := d.Submit("long", nil)
	waitForStatus(t, st, job.ID, models.StatusProcessing, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Stop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded from forced stop, got %v", err)
	}

	got, _ := st.Get(job.ID)
	if got.Status != models.StatusCancelled {
		t.Fatalf("expected active job cancelled on shutdown, got %s", got.Status)
	}
}

func TestDeleteQueuedAndProcessing(t *testing.T) {
	st := store.New()
	release := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, _ models.Job, _ ProgressFunc) (*models.Result, error) {
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	d := newTestDispatcher(t, st, exec, 1, time.Second)
	t.Cleanup(func() { close(release) })

	blocker, _ := d.Submit("block", nil)
	waitForStatus(t, st, blocker.ID, models.StatusProcessing, 2*time.Second)

	queued, _ := d.Submit("queued", nil)
	if err := d.Delete(queued.ID); err != nil {
		t.Fatalf("delete queued: %v", err)
	}
	if _, err := st.Get(queued.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected record gone, got %v", err)
	}

	if err := d.Delete(blocker.ID); !errors.Is(err, store.ErrProcessing) {
		t.Fatalf("expected ErrProcessing, got %v", err)
	}
}

func TestStatsReflectQueueAndActive(t *testing.T) {
	st := store.New()
	release := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, _ models.Job, _ ProgressFunc) (*models.Result, error) {
		select {
		case <-release:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	d := newTestDispatcher(t, st, exec, 1, time.Second)
	t.Cleanup(func() { close(release) })

	blocker, _ := d.Submit("block", nil)
	waitForStatus(t, st, blocker.ID, models.StatusProcessing, 2*time.Second)
	d.Submit("waiting", nil)

	stats := d.Stats()
	if stats.Active != 1 {
		t.Fatalf("expected 1 active, got %d", stats.Active)
	}
	if stats.QueueDepth != 1 {
		t.Fatalf("expected queue depth 1, got %d", stats.QueueDepth)
	}
	if stats.Workers != 1 {
		t.Fatalf("expected 1 worker, got %d", stats.Workers)
	}
}

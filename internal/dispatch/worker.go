package dispatch

import (
	"context"
	"fmt"
	"time"

	"video-batch-processor/internal/models"
	"video-batch-processor/internal/telemetry"
)

type execOutcome struct {
	result *models.Result
	err    error
}

func (d *Dispatcher) workerLoop(slot int) {
	defer d.wg.Done()
	for {
		job, ctx, ok := d.next(slot)
		if !ok {
			return
		}
		d.runJob(ctx, slot, job)
	}
}

// runJob drives one executor invocation and writes exactly one terminal
// transition for the job. The executor runs in its own goroutine so the
// worker can enforce the cancellation grace period; a stop-ignoring executor
// is abandoned, never waited on indefinitely.
func (d *Dispatcher) runJob(ctx context.Context, slot int, job models.Job) {
	logger := d.logger.With("job_id", job.ID, "operation", job.Operation, "slot", slot)
	logger.Info("job started")
	telemetry.JobsProcessing.Inc()
	defer telemetry.JobsProcessing.Dec()
	started := time.Now()

	outc := make(chan execOutcome, 1)
	go func() {
		res, err := d.exec.Execute(ctx, job, d.progressFunc(job.ID))
		outc <- execOutcome{result: res, err: err}
	}()

	var out execOutcome
	forced := false
	select {
	case out = <-outc:
	case <-ctx.Done():
		timer := time.NewTimer(d.grace)
		select {
		case out = <-outc:
			timer.Stop()
		case <-timer.C:
			forced = true
		}
	}

	now := time.Now().UTC()
	var final models.Status
	_, err := d.store.Update(job.ID, func(j *models.Job) {
		if j.Status != models.StatusProcessing {
			final = j.Status
			return
		}
		j.CompletedAt = &now
		j.WorkerSlot = nil
		switch {
		case forced:
			j.Status = models.StatusCancelled
			j.Message = "termination forced after grace period"
		case out.err == nil:
			j.Status = models.StatusCompleted
			j.Progress = 1.0
			j.Result = out.result
		case ctx.Err() != nil:
			j.Status = models.StatusCancelled
		default:
			j.Status = models.StatusFailed
			j.Error = out.err.Error()
		}
		final = j.Status
	})
	if err != nil {
		panic(fmt.Sprintf("dispatch: processing job %s missing from registry: %v", job.ID, err))
	}

	d.mu.Lock()
	delete(d.active, job.ID)
	d.mu.Unlock()

	elapsed := time.Since(started)
	switch final {
	case models.StatusCompleted:
		telemetry.JobsCompleted.Inc()
		logger.Info("job completed", "elapsed", elapsed)
	case models.StatusFailed:
		telemetry.JobsFailed.Inc()
		logger.Warn("job failed", "elapsed", elapsed, "error", out.err)
	case models.StatusCancelled:
		telemetry.JobsCancelled.Inc()
		if forced {
			logger.Warn("job cancelled, executor ignored stop signal", "elapsed", elapsed)
		} else {
			logger.Info("job cancelled", "elapsed", elapsed)
		}
	}
}

// progressFunc builds the progress sink for one job. Fractions are clamped
// to [0,1], regressions are dropped, and writes against records that already
// left processing are ignored, so stored progress never decreases and never
// touches a terminal record.
func (d *Dispatcher) progressFunc(id string) ProgressFunc {
	return func(fraction float64, message string) {
		if fraction < 0 {
			fraction = 0
		} else if fraction > 1 {
			fraction = 1
		}
		_, _ = d.store.Update(id, func(j *models.Job) {
			if j.Status != models.StatusProcessing {
				return
			}
			if fraction > j.Progress {
				j.Progress = fraction
			}
			if message != "" {
				j.Message = message
			}
		})
	}
}

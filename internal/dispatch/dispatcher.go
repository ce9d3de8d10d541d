// Package dispatch contains the job dispatch engine: a FIFO admission queue
// feeding a fixed pool of worker slots, with cooperative cancellation and
// monotonic progress tracking against the job registry.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"video-batch-processor/internal/models"
	"video-batch-processor/internal/queue"
	"video-batch-processor/internal/store"
	"video-batch-processor/internal/telemetry"
)

var (
	// ErrAlreadyTerminal reports a cancellation against a finished job. The
	// snapshot returned alongside it carries the terminal status; callers
	// should treat this as informational rather than a failure.
	ErrAlreadyTerminal = errors.New("dispatch: job already in a terminal state")
	// ErrStopped rejects submissions once shutdown has begun.
	ErrStopped = errors.New("dispatch: dispatcher stopped")
)

// Config controls the dispatcher.
type Config struct {
	// Workers is the number of concurrent execution slots.
	Workers int
	// CancelGrace bounds how long a worker waits for the executor to honor
	// a stop signal before the job is marked cancelled regardless.
	CancelGrace time.Duration
	Logger      *slog.Logger
}

// Dispatcher owns the pending queue and the worker pool. Jobs are admitted
// strictly in submission order, at most Workers of them processing at once.
type Dispatcher struct {
	store  *store.Store
	exec   Executor
	grace  time.Duration
	logger *slog.Logger

	// mu guards the pending queue, the active map, and the stopped flag.
	// Store status changes for queued jobs happen under mu as well, so a
	// concurrent Cancel always finds a pending job in the queue and a
	// processing job in the active map, never neither.
	mu      sync.Mutex
	cond    *sync.Cond
	pending *queue.FIFO
	active  map[string]context.CancelFunc
	stopped bool

	workers int
	wg      sync.WaitGroup
}

// New wires a dispatcher against the registry and executor. Call Start to
// launch the worker slots.
func New(st *store.Store, exec Executor, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	d := &Dispatcher{
		store:   st,
		exec:    exec,
		grace:   cfg.CancelGrace,
		logger:  cfg.Logger,
		pending: queue.NewFIFO(),
		active:  make(map[string]context.CancelFunc),
		workers: cfg.Workers,
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

// Start launches the worker slots.
func (d *Dispatcher) Start() {
	d.logger.Info("dispatcher starting", "workers", d.workers, "cancel_grace", d.grace)
	for slot := 0; slot < d.workers; slot++ {
		d.wg.Add(1)
		go d.workerLoop(slot)
	}
}

// Stop shuts the pool down. New submissions are rejected immediately and
// idle workers exit; busy workers finish their current jobs unless ctx
// expires first, in which case active jobs receive a stop signal and each
// worker winds down within the grace period. Queued jobs stay pending.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	d.cond.Broadcast()
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.mu.Lock()
		for id, cancel := range d.active {
			d.logger.Warn("cancelling active job on shutdown", "job_id", id)
			cancel()
		}
		d.mu.Unlock()
		<-done
		return ctx.Err()
	}
}

// Submit records a new pending job and queues it for admission. It returns
// immediately and never blocks on execution; the pending queue is unbounded.
func (d *Dispatcher) Submit(operation string, parameters map[string]any) (models.Job, error) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return models.Job{}, ErrStopped
	}
	job := d.store.Create(operation, parameters)
	d.pending.Push(job.ID)
	telemetry.QueueDepth.Set(float64(d.pending.Len()))
	d.cond.Signal()
	d.mu.Unlock()

	telemetry.JobsSubmitted.Inc()
	d.logger.Info("job submitted", "job_id", job.ID, "operation", operation)
	return job, nil
}

// Cancel requests termination of a job. A job still waiting in the queue is
// removed and marked cancelled on the spot; a processing job has its stop
// signal fired and is marked cancelled by its worker within the grace bound.
// Terminal jobs are left untouched and reported via ErrAlreadyTerminal.
// Cancel never blocks on execution.
func (d *Dispatcher) Cancel(id string) (models.Job, error) {
	d.mu.Lock()
	if d.pending.Remove(id) {
		telemetry.QueueDepth.Set(float64(d.pending.Len()))
		job, err := d.store.Update(id, func(j *models.Job) {
			now := time.Now().UTC()
			j.Status = models.StatusCancelled
			j.CompletedAt = &now
		})
		d.mu.Unlock()
		if err != nil {
			panic(fmt.Sprintf("dispatch: queued job %s missing from registry: %v", id, err))
		}
		telemetry.JobsCancelled.Inc()
		d.logger.Info("pending job cancelled", "job_id", id)
		return job, nil
	}
	cancel, running := d.active[id]
	d.mu.Unlock()

	if running {
		cancel()
		d.logger.Info("cancellation signalled", "job_id", id)
		return d.store.Get(id)
	}

	job, err := d.store.Get(id)
	if err != nil {
		return models.Job{}, err
	}
	if job.Status.Terminal() {
		return job, ErrAlreadyTerminal
	}
	panic(fmt.Sprintf("dispatch: job %s neither queued, active, nor terminal (status %s)", id, job.Status))
}

// Delete removes a job record, dropping it from the pending queue first so a
// queued id never outlives its record. Deleting a processing job is refused;
// cancel it first.
func (d *Dispatcher) Delete(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.pending.Remove(id) {
		telemetry.QueueDepth.Set(float64(d.pending.Len()))
	}
	return d.store.Delete(id)
}

// Stats reports queue and pool occupancy.
type Stats struct {
	QueueDepth int `json:"queue_size"`
	Active     int `json:"active_workers"`
	Workers    int `json:"max_workers"`
}

func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{QueueDepth: d.pending.Len(), Active: len(d.active), Workers: d.workers}
}

// next blocks until a pending job can be admitted to the given slot, or
// returns false once the dispatcher is stopped. The dequeue, the
// pending->processing transition, and the cancel-func registration happen in
// one critical section; see the lock comment on Dispatcher.
func (d *Dispatcher) next(slot int) (models.Job, context.Context, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for {
		if d.stopped {
			return models.Job{}, nil, false
		}
		id, ok := d.pending.Pop()
		if !ok {
			d.cond.Wait()
			continue
		}
		telemetry.QueueDepth.Set(float64(d.pending.Len()))

		var prev models.Status
		job, err := d.store.Update(id, func(j *models.Job) {
			prev = j.Status
			if prev != models.StatusPending {
				return
			}
			now := time.Now().UTC()
			s := slot
			j.Status = models.StatusProcessing
			j.StartedAt = &now
			j.WorkerSlot = &s
		})
		if err != nil {
			panic(fmt.Sprintf("dispatch: queued job %s missing from registry: %v", id, err))
		}
		if prev != models.StatusPending {
			panic(fmt.Sprintf("dispatch: job %s admitted twice (status %s)", id, prev))
		}

		ctx, cancel := context.WithCancel(context.Background())
		d.active[id] = cancel
		return job, ctx, true
	}
}

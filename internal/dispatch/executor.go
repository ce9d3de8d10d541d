package dispatch

import (
	"context"

	"video-batch-processor/internal/models"
)

// ProgressFunc relays fractional completion in [0,1] and an optional short
// status message into the job record. Implementations may call it from any
// goroutine; out-of-range and regressing values are dropped by the sink.
type ProgressFunc func(fraction float64, message string)

// Executor performs the long-running work behind a job. Implementations must
// treat ctx cancellation as the cooperative stop signal; work that outlives
// a cancelled ctx beyond the dispatcher's grace period is abandoned and the
// job is marked cancelled without it.
type Executor interface {
	Execute(ctx context.Context, job models.Job, report ProgressFunc) (*models.Result, error)
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, job models.Job, report ProgressFunc) (*models.Result, error)

func (f ExecutorFunc) Execute(ctx context.Context, job models.Job, report ProgressFunc) (*models.Result, error) {
	return f(ctx, job, report)
}

var _ Executor = (ExecutorFunc)(nil)

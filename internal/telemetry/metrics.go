package telemetry

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once sync.Once

	JobsSubmitted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "video_jobs_submitted_total", Help: "Total jobs submitted"})
	JobsCompleted    = prometheus.NewCounter(prometheus.CounterOpts{Name: "video_jobs_completed_total", Help: "Jobs completed successfully"})
	JobsFailed       = prometheus.NewCounter(prometheus.CounterOpts{Name: "video_jobs_failed_total", Help: "Jobs that failed"})
	JobsCancelled    = prometheus.NewCounter(prometheus.CounterOpts{Name: "video_jobs_cancelled_total", Help: "Jobs cancelled before or during execution"})
	RateLimitRejects = prometheus.NewCounter(prometheus.CounterOpts{Name: "video_rate_limit_rejects_total", Help: "Submissions rejected by the rate limiter"})
	QueueDepth       = prometheus.NewGauge(prometheus.GaugeOpts{Name: "video_queue_depth", Help: "Jobs waiting for a worker slot"})
	JobsProcessing   = prometheus.NewGauge(prometheus.GaugeOpts{Name: "video_jobs_processing", Help: "Jobs currently executing"})
)

// Handler exposes the /metrics HTTP handler with a singleton registry.
func Handler() http.Handler {
	once.Do(func() {
		prometheus.MustRegister(
			JobsSubmitted,
			JobsCompleted,
			JobsFailed,
			JobsCancelled,
			RateLimitRejects,
			QueueDepth,
			JobsProcessing,
		)
	})
	return promhttp.Handler()
}

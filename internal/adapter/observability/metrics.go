package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTPRequestsTotal counts API requests by route/method/status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	// HTTPRequestDuration observes API latency.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"route", "method"},
	)

	// RemoteRequestsTotal counts remote video-API calls by operation and outcome.
	RemoteRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "video_api_requests_total",
			Help: "Total number of remote video API requests",
		},
		[]string{"operation", "outcome"},
	)
	// RemoteRequestDuration observes remote video-API latency by operation.
	RemoteRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "video_api_request_duration_seconds",
			Help:    "Remote video API request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"operation"},
	)

	// QueueDepth tracks the current depth of each TaskBus queue.
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "taskbus_queue_depth",
			Help: "Current number of tasks waiting in each queue",
		},
		[]string{"queue"},
	)
	// ActiveJobs tracks the active-set size.
	ActiveJobs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_active_jobs",
			Help: "Number of job ids currently owned by a worker",
		},
	)
	// AccountsLeased tracks currently leased accounts.
	AccountsLeased = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "accounts_leased",
			Help: "Number of accounts currently leased by generators",
		},
	)

	// JobsCompletedTotal counts jobs reaching done.
	JobsCompletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of jobs completed successfully",
		},
	)
	// JobsFailedTotal counts terminal failures by error class.
	JobsFailedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_failed_total",
			Help: "Total number of jobs failed",
		},
		[]string{"reason"},
	)
	// JobRetriesTotal counts stage re-enqueues by error class.
	JobRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_retries_total",
			Help: "Total number of per-class job retries",
		},
		[]string{"reason"},
	)

	// DownloadBytes observes downloaded artifact sizes.
	DownloadBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "download_bytes",
			Help:    "Distribution of downloaded video sizes in bytes",
			Buckets: prometheus.ExponentialBuckets(10_000, 4, 8),
		},
	)
)

var metricsOnce sync.Once

// InitMetrics registers all collectors exactly once.
func InitMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(RemoteRequestsTotal)
		prometheus.MustRegister(RemoteRequestDuration)
		prometheus.MustRegister(QueueDepth)
		prometheus.MustRegister(ActiveJobs)
		prometheus.MustRegister(AccountsLeased)
		prometheus.MustRegister(JobsCompletedTotal)
		prometheus.MustRegister(JobsFailedTotal)
		prometheus.MustRegister(JobRetriesTotal)
		prometheus.MustRegister(DownloadBytes)
	})
}

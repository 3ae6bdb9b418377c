// Package metrics holds the Prometheus collectors for the reminder core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ReminderJobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminder_job_runs_total",
			Help: "Delivery job runs by result",
		},
		[]string{"result"}, // result: ok, skipped, error
	)

	RemindersProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "reminders_processed_total",
			Help: "Due reminders handled by the delivery job",
		},
		[]string{"status"}, // status: sent, error, deferred
	)

	ReminderJobRunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "reminder_job_run_duration_seconds",
			Help:    "Duration of a single delivery job run",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)
)

func RecordJobRun(result string, duration time.Duration) {
	ReminderJobRuns.WithLabelValues(result).Inc()
	ReminderJobRunDuration.Observe(duration.Seconds())
}

func IncrementReminderProcessed(status string) {
	RemindersProcessed.WithLabelValues(status).Inc()
}

package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ingest"

var (
	jobsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "jobs_total",
		Help:      "Number of job attempts grouped by kind, service and outcome.",
	}, []string{"kind", "service", "outcome"})

	jobDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "job_duration_seconds",
		Help:      "Wall time of one job attempt.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"kind", "service"})

	rateLimitedCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "rate_limited_total",
		Help:      "Number of provider rate-limit responses that caused a re-dispatch.",
	}, []string{"service"})

	eventsWrittenCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_written_total",
		Help:      "Canonical event writes grouped by service and outcome.",
	}, []string{"service", "action"})
)

func init() {
	prometheus.MustRegister(jobsCounter, jobDuration, rateLimitedCounter, eventsWrittenCounter)
}

// Job outcomes.
const (
	OutcomeSucceeded   = "succeeded"
	OutcomeRetrying    = "retrying"
	OutcomeFailed      = "failed"
	OutcomeRateLimited = "rate_limited"
	OutcomeDeferred    = "deferred"
)

func RecordJob(kind, service, outcome string, took time.Duration) {
	jobsCounter.WithLabelValues(kind, service, outcome).Inc()
	jobDuration.WithLabelValues(kind, service).Observe(took.Seconds())
}

func RecordRateLimited(service string) {
	rateLimitedCounter.WithLabelValues(service).Inc()
}

// RecordEventWritten counts one canonical event write; action is the write outcome.
func RecordEventWritten(service, action string) {
	eventsWrittenCounter.WithLabelValues(service, action).Inc()
}

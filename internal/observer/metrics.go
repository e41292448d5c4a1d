package observer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsEnabled = true // Flag to control metric collection

	// Labels
	dbOperationLabels    = []string{"operation", "entity", "status"}
	replayOutcomeLabels  = []string{"mode", "outcome"}
	replayEndpointLabels = []string{"status"}

	// Ingestion counters
	deadLettersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deadletter_service_dead_letters_created_total",
		Help: "Total number of dead letter records created.",
	})
	deadLettersDuplicateTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deadletter_service_dead_letters_duplicate_total",
		Help: "Total number of failure notifications folded into an existing record.",
	})
	ingestDecodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deadletter_service_ingest_decode_errors_total",
		Help: "Total number of inbound envelopes that failed to decode.",
	})

	// Ingest worker gauges/counters
	ingestFetchRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deadletter_service_ingest_fetch_requests_total",
		Help: "Total number of fetch requests made to the notification stream.",
	})
	ingestFetchErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deadletter_service_ingest_fetch_errors_total",
		Help: "Total number of errors encountered during notification fetch requests.",
	})
	ingestQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deadletter_service_ingest_queue_length",
		Help: "Current number of notifications waiting in the internal worker channel.",
	})
	ingestWorkersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deadletter_service_ingest_workers_active",
		Help: "Current number of active goroutines in the ingest worker pool.",
	})

	// Replay metrics
	replayAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deadletter_service_replay_attempts_total",
			Help: "Total number of replay attempts, labeled by mode and aggregate outcome.",
		},
		replayOutcomeLabels,
	)
	replayEndpointRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deadletter_service_replay_endpoint_requests_total",
			Help: "Total number of individual endpoint deliveries during replay fan-out.",
		},
		replayEndpointLabels,
	)
	replayDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "deadletter_service_replay_duration_seconds",
		Help:    "Histogram of end-to-end replay durations including fan-out.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~20s
	})

	// Storage metrics
	dbOperationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "deadletter_service_db_operation_duration_seconds",
			Help:    "Histogram of database operation durations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		dbOperationLabels,
	)
	staleVersionConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deadletter_service_stale_version_conflicts_total",
		Help: "Total number of optimistic-concurrency conflicts observed on update.",
	})
	txRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deadletter_service_tx_retries_total",
		Help: "Total number of transaction retries after a transient conflict.",
	})
)

// InitMetrics toggles metric collection. Disabled collection keeps the
// registry registered but skips observation calls.
func InitMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IncDeadLetterCreated increments the created counter.
func IncDeadLetterCreated() {
	if metricsEnabled {
		deadLettersCreatedTotal.Inc()
	}
}

// IncDeadLetterDuplicate increments the idempotent-duplicate counter.
func IncDeadLetterDuplicate() {
	if metricsEnabled {
		deadLettersDuplicateTotal.Inc()
	}
}

// IncIngestDecodeError increments the envelope decode failure counter.
func IncIngestDecodeError() {
	if metricsEnabled {
		ingestDecodeErrorsTotal.Inc()
	}
}

// IncIngestFetchRequest increments the fetch request counter.
func IncIngestFetchRequest() {
	if metricsEnabled {
		ingestFetchRequestsTotal.Inc()
	}
}

// IncIngestFetchError increments the fetch error counter.
func IncIngestFetchError() {
	if metricsEnabled {
		ingestFetchErrorsTotal.Inc()
	}
}

// SetIngestQueueLength records the current worker channel depth.
func SetIngestQueueLength(n int) {
	if metricsEnabled {
		ingestQueueLength.Set(float64(n))
	}
}

// SetIngestWorkersActive records the current pool occupancy.
func SetIngestWorkersActive(n int) {
	if metricsEnabled {
		ingestWorkersActive.Set(float64(n))
	}
}

// IncReplayAttempt counts a replay by mode and aggregate outcome.
func IncReplayAttempt(mode, outcome string) {
	if metricsEnabled {
		replayAttemptsTotal.WithLabelValues(mode, outcome).Inc()
	}
}

// IncReplayEndpointRequest counts an individual endpoint delivery.
func IncReplayEndpointRequest(success bool) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	replayEndpointRequestsTotal.WithLabelValues(status).Inc()
}

// ObserveReplayDuration records an end-to-end replay duration.
func ObserveReplayDuration(d time.Duration) {
	if metricsEnabled {
		replayDurationSeconds.Observe(d.Seconds())
	}
}

// ObserveDbOperationDuration records a database operation duration.
func ObserveDbOperationDuration(operation, entity string, d time.Duration, err error) {
	if !metricsEnabled {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	dbOperationDurationSeconds.WithLabelValues(operation, entity, status).Observe(d.Seconds())
}

// IncStaleVersionConflict counts an optimistic-concurrency conflict.
func IncStaleVersionConflict() {
	if metricsEnabled {
		staleVersionConflictsTotal.Inc()
	}
}

// IncTxRetry counts a transient-conflict transaction retry.
func IncTxRetry() {
	if metricsEnabled {
		txRetriesTotal.Inc()
	}
}

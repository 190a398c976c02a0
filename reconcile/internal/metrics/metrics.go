package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Extraction
	RecordsExtracted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drc_records_extracted_total",
			Help: "Records read from the case-management source",
		},
		[]string{"category"},
	)

	PageFetchErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drc_page_fetch_errors_total",
			Help: "Failed page fetches, by retryability",
		},
		[]string{"category", "retryable"},
	)

	// Envelopes
	EnvelopesBuilt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drc_envelopes_built_total",
			Help: "Envelopes built per category",
		},
		[]string{"category"},
	)

	EnvelopeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drc_envelope_errors_total",
			Help: "Records excluded from an envelope for failing validation",
		},
		[]string{"category"},
	)

	// Dispatch
	DispatchAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drc_dispatch_attempts_total",
			Help: "Outbound delivery attempts by outcome",
		},
		[]string{"category", "outcome"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drc_dispatch_duration_seconds",
			Help:    "Latency of a single delivery attempt",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"category"},
	)

	RateLimitWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "drc_dispatch_rate_limit_waits_total",
			Help: "Times a delivery waited for the outbound throttle",
		},
	)

	// Acknowledgements
	AcksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drc_acks_received_total",
			Help: "Acknowledgements processed, by result (success, error, unmatched)",
		},
		[]string{"category", "result", "transport"},
	)

	// Audit
	AuditWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drc_audit_writes_total",
			Help: "Audit rows written by table and event type",
		},
		[]string{"table", "event_type"},
	)

	AuditWriteErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drc_audit_write_errors_total",
			Help: "Failed audit writes",
		},
		[]string{"table"},
	)

	AuditPurged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drc_audit_purged_total",
			Help: "Rows removed by retention",
		},
		[]string{"table"},
	)

	// Runs
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drc_runs_total",
			Help: "Reconciliation runs by category and status",
		},
		[]string{"category", "status"},
	)

	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drc_run_duration_seconds",
			Help:    "Wall time of a reconciliation run",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"category"},
	)

	LastRunTimestamp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "drc_last_run_timestamp_seconds",
			Help: "Unix time the last run for a category finished",
		},
		[]string{"category"},
	)

	DLQWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drc_dlq_writes_total",
			Help: "Records written to the dead-letter queue by reason",
		},
		[]string{"reason"},
	)
)

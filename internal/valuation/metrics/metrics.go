package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AttemptsTotal tracks valuation attempts by result ("success" or a failure reason)
	AttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "valuator_attempts_total",
			Help: "Total number of valuation attempts",
		},
		[]string{"result"},
	)

	// AttemptDuration tracks how long one browser interaction takes
	AttemptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "valuator_attempt_duration_seconds",
			Help:    "Valuation attempt latency in seconds",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 45, 60, 90},
		},
		[]string{"result"},
	)

	// RecordsProcessed tracks records moved to a terminal queue
	RecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "valuator_records_processed_total",
			Help: "Total number of records moved out of the pending queue",
		},
		[]string{"outcome"},
	)

	// BrowserRetries tracks retries scheduled by the browser-level retry
	BrowserRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "valuator_browser_retries_total",
			Help: "Total number of browser-level retries",
		},
	)

	// BatchRestarts tracks systemic restarts of the batch loop
	BatchRestarts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "valuator_batch_restarts_total",
			Help: "Total number of batch-level restarts",
		},
	)

	// BrowserRecycles tracks browser process replacements by outcome
	BrowserRecycles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "valuator_browser_recycles_total",
			Help: "Total number of browser process recycles",
		},
		[]string{"trigger", "status"},
	)

	// MemoryUsage tracks the last resident memory sample of the process tree
	MemoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "valuator_memory_rss_bytes",
			Help: "Resident memory of the valuator process and its browser children",
		},
	)

	// ControllerState is 1 for the current batch controller state
	ControllerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "valuator_controller_state",
			Help: "Current batch controller state (1 = active)",
		},
		[]string{"state"},
	)

	// PersistErrors tracks failed writes to the persistence gateway
	PersistErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "valuator_persist_errors_total",
			Help: "Total number of persistence gateway errors",
		},
		[]string{"operation"},
	)

	// DBConnectionPoolUsage tracks open connections as a percentage of the pool
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "valuator_db_connection_pool_usage_percent",
			Help: "Open database connections as a percentage of the maximum",
		},
	)
)

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Request intake metrics
	// ============================================
	RequestsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_requests_submitted_total",
			Help: "Total verification requests accepted for processing",
		},
		[]string{"source"},
	)

	RequestsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_requests_rejected_total",
			Help: "Total verification requests rejected at intake",
		},
		[]string{"reason"},
	)

	RequestsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_requests_completed_total",
			Help: "Total verification requests driven to a terminal state",
		},
		[]string{"status"},
	)

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oracle_queue_depth",
		Help: "Number of requests currently pending",
	})

	// ============================================
	// Identity provider metrics
	// ============================================
	ProviderCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "oracle_provider_call_duration_seconds",
			Help:    "Identity provider call duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)

	// ============================================
	// Ledger write metrics
	// ============================================
	LedgerWriteAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oracle_ledger_write_attempts_total",
		Help: "Total verification transactions submitted to the chain",
	})

	LedgerWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_ledger_write_failures_total",
			Help: "Total failed verification transaction submissions",
		},
		[]string{"error_type"},
	)

	LedgerConfirmDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "oracle_ledger_confirm_duration_seconds",
		Help:    "Time from transaction submission to confirmation",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 180},
	})

	SignerBalance = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "oracle_signer_balance_ether",
			Help: "Balance of the oracle signing address in ether",
		},
		[]string{"address"},
	)

	// ============================================
	// Event source metrics
	// ============================================
	EventSourceConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "oracle_event_source_connected",
		Help: "Event source connection status (1=connected, 0=disconnected)",
	})

	EventsObserved = promauto.NewCounter(prometheus.CounterOpts{
		Name: "oracle_events_observed_total",
		Help: "Total verification request events observed on chain",
	})

	EventListenerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "oracle_event_listener_errors_total",
			Help: "Total event listener errors",
		},
		[]string{"error_type"},
	)
)

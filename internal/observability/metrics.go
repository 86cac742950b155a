package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	StreamEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_entries_total",
			Help: "Stream entries seen by the consumer framework, by outcome",
		},
		[]string{"stream", "outcome"},
	)
	StreamHandlerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stream_handler_duration_seconds",
			Help:    "Handler invocation duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"stream"},
	)
	DLQEntriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dlq_entries_total",
			Help: "Entries routed to dead-letter streams",
		},
		[]string{"stream"},
	)

	ModelSelectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_selections_total",
			Help: "Model selections by model and pool",
		},
		[]string{"model", "pool"},
	)
	ModelRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "model_requests_total",
			Help: "Model request outcomes",
		},
		[]string{"model", "outcome"},
	)
	ModelRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "model_request_duration_seconds",
			Help:    "Model request duration in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"model"},
	)
	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "model_circuit_state",
			Help: "Circuit state per model (0 closed, 1 open, 2 half-open)",
		},
		[]string{"model"},
	)

	GlitchesValidatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glitches_validated_total",
			Help: "Validator decisions by outcome (confirmed, rejected)",
		},
		[]string{"outcome"},
	)
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Channel sends by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)
	DispatchJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dispatch_jobs_total",
			Help: "Per-tier-group dispatch jobs scheduled",
		},
		[]string{"group"},
	)
)

// InitMetrics registers all collectors with the default registry. Call once
// per process.
func InitMetrics() {
	prometheus.MustRegister(StreamEntriesTotal)
	prometheus.MustRegister(StreamHandlerDuration)
	prometheus.MustRegister(DLQEntriesTotal)
	prometheus.MustRegister(ModelSelectionsTotal)
	prometheus.MustRegister(ModelRequestsTotal)
	prometheus.MustRegister(ModelRequestDuration)
	prometheus.MustRegister(CircuitState)
	prometheus.MustRegister(GlitchesValidatedTotal)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(DispatchJobsTotal)
}

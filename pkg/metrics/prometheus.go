package metrics

import (
	"strconv"

	"FinAlloc/internal/domain/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	messagesSent  *prometheus.CounterVec
	errorsTotal   *prometheus.CounterVec
	lastPrice     *prometheus.GaugeVec
	latency       *prometheus.HistogramVec
	providerCalls *prometheus.CounterVec
	cacheLookups  *prometheus.CounterVec
	optimizations *prometheus.CounterVec
	driftEvals    *prometheus.CounterVec
}

// New creates a recorder on the default registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder on reg, so tests can use a throwaway registry.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		messagesSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finalloc_messages_sent_total",
				Help: "Total number of messages handed to a backend",
			},
			[]string{"backend", "key"},
		),
		errorsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finalloc_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		lastPrice: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "finalloc_last_price",
				Help: "Last recorded price for a symbol",
			},
			[]string{"symbol"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "finalloc_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		providerCalls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finalloc_provider_calls_total",
				Help: "Provider calls by outcome",
			},
			[]string{"provider", "class", "outcome"},
		),
		cacheLookups: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finalloc_cache_lookups_total",
				Help: "Tiered cache lookups by outcome (hit, miss, stale)",
			},
			[]string{"class", "outcome"},
		),
		optimizations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finalloc_optimizations_total",
				Help: "Optimizer runs by result status",
			},
			[]string{"status"},
		),
		driftEvals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "finalloc_drift_evaluations_total",
				Help: "Drift evaluations by whether a rebalance was triggered",
			},
			[]string{"triggered"},
		),
	}
}

func (r *Recorder) RecordMessageSent(backend, key string) {
	r.messagesSent.WithLabelValues(backend, key).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLastPrice(symbol string, price float64) {
	r.lastPrice.WithLabelValues(symbol).Set(price)
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) RecordProviderCall(provider string, class models.DataClass, outcome string) {
	r.providerCalls.WithLabelValues(provider, string(class), outcome).Inc()
}

func (r *Recorder) RecordCacheLookup(class models.DataClass, outcome string) {
	r.cacheLookups.WithLabelValues(string(class), outcome).Inc()
}

func (r *Recorder) RecordOptimization(status models.OptimizerStatus) {
	r.optimizations.WithLabelValues(string(status)).Inc()
}

func (r *Recorder) RecordDriftEvaluation(triggered bool) {
	r.driftEvals.WithLabelValues(strconv.FormatBool(triggered)).Inc()
}

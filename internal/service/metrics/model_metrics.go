package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	ModelLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "finalloc",
			Subsystem: "signals",
			Name:      "model_latency_seconds",
			Help:      "Latency of model predictions",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"model"},
	)

	ModelErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "finalloc",
			Subsystem: "signals",
			Name:      "model_errors_total",
			Help:      "Prediction errors by model",
		},
		[]string{"model"},
	)
)

// Register adds the model collectors to the default registry once.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(ModelLatency, ModelErrors)
	})
}

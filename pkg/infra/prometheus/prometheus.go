package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var registry = prometheus.NewRegistry()

var registerer = prometheus.WrapRegistererWith(nil, registry)

var (
	// Store latency buckets in milliseconds; the store budget is a handful of
	// milliseconds, so most of the resolution sits under 10ms.
	storeLatencyBuckets = []float64{
		0.5, 1, 2.5,
		5, 10, 25,
		50, 100, 250,
	}

	AdmissionDecisions = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgelimit_admission_decisions_total",
			Help: "Admission decisions by category, tier and outcome",
		},
		[]string{"category", "tier", "decision"},
	)

	AdmissionFailOpen = promauto.With(registerer).NewCounterVec(
		prometheus.CounterOpts{
			Name: "edgelimit_admission_fail_open_total",
			Help: "Checks admitted because the counter store was unavailable",
		},
		[]string{"category", "reason"},
	)

	StoreLatency = promauto.With(registerer).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "edgelimit_store_latency_ms",
			Help:    "Counter store round-trip latency in milliseconds",
			Buckets: storeLatencyBuckets,
		},
		[]string{"operation"},
	)

	SweptKeys = promauto.With(registerer).NewCounter(
		prometheus.CounterOpts{
			Name: "edgelimit_swept_keys_total",
			Help: "Empty window keys removed by the maintenance sweeper",
		},
	)
)

func Initialize() {
	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
}

// Registry exposes the private registry for the /metrics handler.
func Registry() *prometheus.Registry {
	return registry
}

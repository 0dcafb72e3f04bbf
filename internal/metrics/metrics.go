// Package metrics exposes Prometheus collectors for pool and client
// observability, following the registration pattern of a typical
// production Go service: package-level collectors registered once.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registry *prometheus.Registry
	initOnce sync.Once
)

// Collectors for the connection pool and send loop.
var (
	PoolBorrowedGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "httpengine_pool_borrowed",
		Help: "Current number of connections lent out by the pool.",
	})

	PoolAvailableGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "httpengine_pool_available",
		Help: "Current number of idle connections sitting in the pool.",
	})

	PoolWaitingGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "httpengine_pool_waiting",
		Help: "Current number of callers blocked in borrow.",
	})

	PoolFactoryTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "httpengine_pool_factory_total",
		Help: "Total number of connections constructed by the pool factory.",
	})

	PoolDisposeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "httpengine_pool_dispose_total",
		Help: "Total number of connections disposed, by reason.",
	}, []string{"reason"})

	BorrowDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "httpengine_borrow_duration_seconds",
		Help:    "Time spent blocked inside Pool.Borrow.",
		Buckets: prometheus.DefBuckets,
	})

	SendDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "httpengine_send_duration_seconds",
		Help:    "Total time spent inside Client.Send, including retries.",
		Buckets: prometheus.DefBuckets,
	})
)

// Init registers all collectors with a new registry and returns it.
// Safe to call multiple times; only the first call registers.
func Init() *prometheus.Registry {
	initOnce.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			PoolBorrowedGauge,
			PoolAvailableGauge,
			PoolWaitingGauge,
			PoolFactoryTotal,
			PoolDisposeTotal,
			BorrowDuration,
			SendDuration,
			prometheus.NewGoCollector(),
		)
	})
	return registry
}

// Registry returns the metrics registry (nil until Init is called).
func Registry() *prometheus.Registry {
	return registry
}

// SetPoolGauges updates the three pool occupancy gauges from a single
// quiescent snapshot so they never disagree mid-update.
func SetPoolGauges(borrowed, available, waiting int) {
	PoolBorrowedGauge.Set(float64(borrowed))
	PoolAvailableGauge.Set(float64(available))
	PoolWaitingGauge.Set(float64(waiting))
}

// RecordDispose increments the dispose counter for the given reason
// ("error", "upgrade", "hijacked").
func RecordDispose(reason string) {
	PoolDisposeTotal.WithLabelValues(reason).Inc()
}

// Package metrics exposes Prometheus counters and gauges for the
// invocation dataplane, following the teacher's internal/metrics/prometheus.go
// pattern (a private registry, MustRegister'd collectors, served over
// promhttp). Reduced from the teacher's dashboard-plus-Prometheus dual
// store down to Prometheus only: this dataplane has no console/dashboard
// surface in scope (spec.md §1), so the in-process JSON time-series store
// the teacher also carries has no consumer here.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

// Metrics wraps the registry and collectors this dataplane's components
// touch: the Invoke handler, the Warm Pool, the Autoscaler, and the Idle
// Watchdog.
type Metrics struct {
	registry *prometheus.Registry

	InvocationsTotal  *prometheus.CounterVec
	InvocationLatency *prometheus.HistogramVec
	ColdStartsTotal   prometheus.Counter
	WarmStartsTotal   prometheus.Counter
	ThrottledTotal    *prometheus.CounterVec

	QueueDepth    *prometheus.GaugeVec
	PoolState     *prometheus.GaugeVec // labels: function, state (warm_idle|busy|stopped|dead)
	AutoscaleRestarts *prometheus.CounterVec
	AutoscaleCreates  *prometheus.CounterVec
	WatchdogStops     *prometheus.CounterVec
	WatchdogRemoves   *prometheus.CounterVec
}

var global *Metrics

// Init creates the Prometheus registry and registers every collector.
// Namespace is typically "lambdah".
func Init(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		InvocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "invocations_total", Help: "Total function invocations.",
		}, []string{"function", "outcome"}),
		InvocationLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "invocation_duration_ms", Help: "Invocation duration in ms.", Buckets: defaultBuckets,
		}, []string{"function"}),
		ColdStartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "cold_starts_total", Help: "Total cold starts.",
		}),
		WarmStartsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "warm_starts_total", Help: "Total warm starts.",
		}),
		ThrottledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "throttled_total", Help: "Total TooManyRequestsException rejections.",
		}, []string{"function"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth", Help: "Current per-function queue depth.",
		}, []string{"function"}),
		PoolState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_containers", Help: "Warm pool container count by state.",
		}, []string{"function", "state"}),
		AutoscaleRestarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "autoscale_restarts_total", Help: "Stopped containers restarted by the autoscaler.",
		}, []string{"function"}),
		AutoscaleCreates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "autoscale_creates_total", Help: "New containers created by the autoscaler.",
		}, []string{"function"}),
		WatchdogStops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "watchdog_stops_total", Help: "Containers stopped for soft idle.",
		}, []string{"function"}),
		WatchdogRemoves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "watchdog_removes_total", Help: "Containers removed for hard idle.",
		}, []string{"function"}),
	}

	registry.MustRegister(
		m.InvocationsTotal, m.InvocationLatency, m.ColdStartsTotal, m.WarmStartsTotal,
		m.ThrottledTotal, m.QueueDepth, m.PoolState, m.AutoscaleRestarts, m.AutoscaleCreates,
		m.WatchdogStops, m.WatchdogRemoves,
	)
	global = m
	return m
}

// Global returns the process-wide Metrics, initializing a default
// namespace ("lambdah") if Init hasn't been called yet.
func Global() *Metrics {
	if global == nil {
		return Init("lambdah")
	}
	return global
}

// Handler returns the http.Handler serving /metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

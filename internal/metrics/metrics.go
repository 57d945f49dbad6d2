// Package metrics exposes Prometheus collectors for the export lifecycle.
//
// Collectors live on a private registry so tests and multiple servers in one
// process never conflict. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "segexport"

// Metrics holds the export collectors.
type Metrics struct {
	registry *prometheus.Registry

	operationsStarted prometheus.Counter
	segmentsAppended  prometheus.Counter
	rowsAppended      prometheus.Counter
	completions       *prometheus.CounterVec
	completeDuration  *prometheus.HistogramVec
	outputBytes       *prometheus.HistogramVec
	completesInFlight prometheus.Gauge
	cleanups          prometheus.Counter
	swept             prometheus.Counter
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operationsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_started_total",
			Help:      "Export operations begun.",
		}),
		segmentsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segments_appended_total",
			Help:      "Non-empty pages stored as segments.",
		}),
		rowsAppended: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_appended_total",
			Help:      "Rows stored across all segments.",
		}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_total",
			Help:      "Complete calls by output format and result.",
		}, []string{"format", "result"}),
		completeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "complete_duration_seconds",
			Help:      "Time spent assembling and encoding output.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"format"}),
		outputBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "output_bytes",
			Help:      "Size of produced workbooks and archives.",
			Buckets:   prometheus.ExponentialBuckets(16<<10, 4, 8),
		}, []string{"format"}),
		completesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "completes_in_flight",
			Help:      "Complete calls currently holding a limiter slot.",
		}),
		cleanups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanups_total",
			Help:      "Operations released by Cleanup.",
		}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_swept_total",
			Help:      "Abandoned operations removed by the janitor.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.operationsStarted,
		m.segmentsAppended,
		m.rowsAppended,
		m.completions,
		m.completeDuration,
		m.outputBytes,
		m.completesInFlight,
		m.cleanups,
		m.swept,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) OperationStarted() {
	if m == nil {
		return
	}
	m.operationsStarted.Inc()
}

func (m *Metrics) SegmentAppended(rows int) {
	if m == nil {
		return
	}
	m.segmentsAppended.Inc()
	m.rowsAppended.Add(float64(rows))
}

// CompleteFinished records one Complete call. size is ignored on failure.
func (m *Metrics) CompleteFinished(format string, err error, elapsed time.Duration, size int) {
	if m == nil {
		return
	}
	if err != nil {
		m.completions.WithLabelValues(format, "error").Inc()
		return
	}
	m.completions.WithLabelValues(format, "ok").Inc()
	m.completeDuration.WithLabelValues(format).Observe(elapsed.Seconds())
	m.outputBytes.WithLabelValues(format).Observe(float64(size))
}

func (m *Metrics) CompleteStarted() {
	if m == nil {
		return
	}
	m.completesInFlight.Inc()
}

func (m *Metrics) CompleteReleased() {
	if m == nil {
		return
	}
	m.completesInFlight.Dec()
}

func (m *Metrics) CleanedUp() {
	if m == nil {
		return
	}
	m.cleanups.Inc()
}

func (m *Metrics) Swept(n int) {
	if m == nil {
		return
	}
	m.swept.Add(float64(n))
}

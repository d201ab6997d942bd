// Package metrics provides Prometheus instrumentation for list synchronization runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "list_sync"

// Metrics holds the instruments updated by the sync engine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	recordsRead    *prometheus.CounterVec
	recordsWritten *prometheus.CounterVec
	pageFailures   *prometheus.CounterVec
	writeFailures  *prometheus.CounterVec
	runs           *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
}

// New creates the instruments and registers them with reg.
// If reg is nil, it returns nil (no-op metrics).
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		recordsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_read_total",
			Help:      "Number of records fetched from the source",
		}, []string{"source"}),
		recordsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_written_total",
			Help:      "Number of records accepted by the destination",
		}, []string{"source"}),
		pageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "page_failures_total",
			Help:      "Number of page fetches that failed",
		}, []string{"source"}),
		writeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_failures_total",
			Help:      "Number of batch writes that failed",
		}, []string{"source"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Number of finished runs by result",
		}, []string{"source", "result"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall clock duration of runs",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1800},
		}, []string{"source"}),
	}

	for _, c := range []prometheus.Collector{
		m.recordsRead, m.recordsWritten, m.pageFailures, m.writeFailures, m.runs, m.runDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordsRead adds n fetched records for a source
func (m *Metrics) RecordsRead(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsRead.WithLabelValues(source).Add(float64(n))
}

// RecordsWritten adds n accepted records for a source
func (m *Metrics) RecordsWritten(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.recordsWritten.WithLabelValues(source).Add(float64(n))
}

// PageFailed counts a failed page fetch
func (m *Metrics) PageFailed(source string) {
	if m == nil {
		return
	}
	m.pageFailures.WithLabelValues(source).Inc()
}

// WriteFailed counts a failed batch write
func (m *Metrics) WriteFailed(source string) {
	if m == nil {
		return
	}
	m.writeFailures.WithLabelValues(source).Inc()
}

// RunFinished records the result and duration of a run
func (m *Metrics) RunFinished(source string, success bool, seconds float64) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.runs.WithLabelValues(source, result).Inc()
	m.runDuration.WithLabelValues(source).Observe(seconds)
}

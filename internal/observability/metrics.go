// Package observability exposes Prometheus metrics for the pipeline.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters and histograms for pipeline runs.
type Metrics struct {
	RunsTotal     *prometheus.CounterVec // labels: status={success,failed}
	FetchesTotal  *prometheus.CounterVec // labels: source={forecast,revision}, outcome={success,error}
	RowsInserted  *prometheus.CounterVec // labels: table={weather,revision}
	GateFailures  prometheus.Counter
	StageDuration *prometheus.HistogramVec // labels: stage
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()

	prometheus.MustRegister(
		m.RunsTotal,
		m.FetchesTotal,
		m.RowsInserted,
		m.GateFailures,
		m.StageDuration,
	)

	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidemark",
			Name:      "runs_total",
			Help:      "Completed pipeline runs by terminal status.",
		}, []string{"status"}),
		FetchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidemark",
			Name:      "fetches_total",
			Help:      "External API fetch attempts by source and outcome.",
		}, []string{"source", "outcome"}),
		RowsInserted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tidemark",
			Name:      "rows_inserted_total",
			Help:      "Fact rows written to core tables.",
		}, []string{"table"}),
		GateFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tidemark",
			Name:      "gate_failures_total",
			Help:      "Quality gate evaluations that blocked the mart refresh.",
		}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tidemark",
			Name:      "stage_duration_seconds",
			Help:      "Duration of each pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"stage"}),
	}
}

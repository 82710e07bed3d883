// Package metrics exposes run and row counters for Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ekaya-inc/ekaya-etl/pkg/etl"
	"github.com/ekaya-inc/ekaya-etl/pkg/models"
)

const metricsNamespace = "ekaya_etl"

// Collector is a prometheus.Collector fed by the runner as an etl.Observer.
type Collector struct {
	rows        *prometheus.CounterVec
	batches     *prometheus.CounterVec
	runs        *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	openSources prometheus.GaugeFunc
}

var _ etl.Observer = (*Collector)(nil)

// NewCollector returns a new Collector. openSources reports the number of
// cached source connections.
func NewCollector(openSources func() int) *Collector {
	if openSources == nil {
		openSources = func() int { return 0 }
	}
	return &Collector{
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "rows_total",
				Help:      "Rows processed, by table mapping and outcome.",
			}, []string{"mapping", "outcome"},
		),
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "batches_committed_total",
				Help:      "Batches committed to the target store.",
			}, []string{"mapping"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "runs_total",
				Help:      "Finished runs, by table mapping and status.",
			}, []string{"mapping", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "run_duration_seconds",
				Help:      "Wall time of finished runs.",
				Buckets:   []float64{1, 5, 15, 60, 300, 900, 3600, 10800},
			}, []string{"mapping"},
		),
		openSources: prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "open_source_connections",
				Help:      "Source connection pools currently cached.",
			}, func() float64 { return float64(openSources()) },
		),
	}
}

// RowDone is part of the etl.Observer interface.
func (c *Collector) RowDone(mapping string, outcome etl.OutcomeKind) {
	c.rows.WithLabelValues(mapping, outcome.String()).Inc()
}

// BatchCommitted is part of the etl.Observer interface.
func (c *Collector) BatchCommitted(mapping string) {
	c.batches.WithLabelValues(mapping).Inc()
}

// RunFinished is part of the etl.Observer interface.
func (c *Collector) RunFinished(mapping string, status models.ImportStatus, elapsed time.Duration) {
	c.runs.WithLabelValues(mapping, string(status)).Inc()
	c.runDuration.WithLabelValues(mapping).Observe(elapsed.Seconds())
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.rows.Describe(ch)
	c.batches.Describe(ch)
	c.runs.Describe(ch)
	c.runDuration.Describe(ch)
	c.openSources.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.rows.Collect(ch)
	c.batches.Collect(ch)
	c.runs.Collect(ch)
	c.runDuration.Collect(ch)
	c.openSources.Collect(ch)
}

// NewRegistry returns a private registry holding c and the Go runtime collectors.
func NewRegistry(c *Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		c,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves reg in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	polls      *prometheus.CounterVec
	rows       *prometheus.CounterVec
	alerts     *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	processing prometheus.Gauge
}

// New registers the recorder on the default registry. Call it once per process.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry registers the recorder's collectors on reg.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		polls: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claritypull_polls_total",
				Help: "Symbol polls by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		rows: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claritypull_rows_total",
				Help: "Observation rows by what happened to them",
			},
			[]string{"kind"},
		),
		alerts: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claritypull_alerts_total",
				Help: "New momentum alerts detected",
			},
			[]string{"market"},
		),
		errors: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "claritypull_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "claritypull_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"operation"},
		),
		processing: f.NewGauge(prometheus.GaugeOpts{
			Name: "claritypull_symbols_processing",
			Help: "Symbols currently in the processing state",
		}),
	}
}

// RecordPoll counts one finished symbol poll.
func (r *Recorder) RecordPoll(mode, outcome string) {
	r.polls.WithLabelValues(mode, outcome).Inc()
}

// RecordRows adds n rows of the given kind (inserted, updated, unchanged, rejected).
func (r *Recorder) RecordRows(kind string, n int) {
	if n <= 0 {
		return
	}
	r.rows.WithLabelValues(kind).Add(float64(n))
}

func (r *Recorder) RecordAlerts(market string, n int) {
	if n <= 0 {
		return
	}
	r.alerts.WithLabelValues(market).Add(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errors.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}

func (r *Recorder) SetProcessing(delta float64) {
	r.processing.Add(delta)
}

// Nop discards every measurement.
type Nop struct{}

func (Nop) RecordPoll(string, string) {}
func (Nop) RecordRows(string, int) {}
func (Nop) RecordAlerts(string, int) {}
func (Nop) RecordError(string) {}
func (Nop) RecordLatency(string, float64) {}
func (Nop) SetProcessing(float64) {}

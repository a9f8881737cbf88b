package ingest

import "github.com/prometheus/client_golang/prometheus"

const (
	metricNamespace = "cnpjgraph"

	MetricRecords           = "records_total"
	MetricWrites            = "writes_total"
	MetricInFlight          = "writes_in_flight"
	MetricBackpressureWaits = "backpressure_waits_total"
)

// Record outcomes, the label values of MetricRecords.
const (
	RecordAdmitted = "admitted"
	RecordFiltered = "filtered"
	RecordSkipped  = "skipped"
)

// Metrics are the pipeline's Prometheus collectors.
//
// Collectors are created per Metrics value and registered on the caller's
// registerer, so tests can use a private registry.
type Metrics struct {
	Records           *prometheus.CounterVec
	Writes            *prometheus.CounterVec
	InFlight          prometheus.Gauge
	BackpressureWaits prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Records: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      MetricRecords,
				Help:      "Extract lines by outcome (admitted, filtered, skipped).",
			},
			[]string{"outcome"},
		),
		Writes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      MetricWrites,
				Help:      "Graph writes by operation and outcome.",
			},
			[]string{"op", "outcome"},
		),
		InFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricNamespace,
				Name:      MetricInFlight,
				Help:      "Graph writes issued but not yet acknowledged.",
			},
		),
		BackpressureWaits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricNamespace,
				Name:      MetricBackpressureWaits,
				Help:      "Times the reader paused at the in-flight high-water mark.",
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.Records, m.Writes, m.InFlight, m.BackpressureWaits)
	}
	return m
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// HistogramBuckets are latency buckets in milliseconds. Vendor round trips
// (verifyReceipt, OAuth exchange, Play lookup) land in the upper half.
var HistogramBuckets = []float64{
	5, 10, 25, 50, 100, 250, 500,
	750, 1000, 1500, 2000, 3000, 5000,
	10000, 20000, 30000,
}

// MetricType selects the prometheus collector built by NewMetric.
type MetricType string

const (
	MetricTypeCounterVec   MetricType = "counter_vec"
	MetricTypeHistogramVec MetricType = "histogram_vec"
	MetricTypeSummaryVec   MetricType = "summary_vec"
)

// Metric describes one collector before registration.
type Metric struct {
	Collector   prometheus.Collector
	Name        string
	Description string
	Type        MetricType
	Labels      []string
}

// NewMetric builds the collector described by m. Unknown types yield nil.
func NewMetric(m *Metric, subsystem string) prometheus.Collector {
	switch m.Type {
	case MetricTypeCounterVec:
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      m.Name,
			Help:      m.Description,
		}, m.Labels)
	case MetricTypeHistogramVec:
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      m.Name,
			Help:      m.Description,
			Buckets:   HistogramBuckets,
		}, m.Labels)
	case MetricTypeSummaryVec:
		return prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      m.Name,
			Help:      m.Description,
		}, m.Labels)
	}
	return nil
}

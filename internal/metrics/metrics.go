// Package metrics exposes Prometheus metrics for ingestion runs.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "ingest"

// Metrics holds the ingestion metrics on a private registry.
type Metrics struct {
	RunsTotal            *prometheus.CounterVec
	RecordsTotal         *prometheus.CounterVec
	RunDuration          prometheus.Histogram
	LastSuccessPartition prometheus.Gauge

	registry *prometheus.Registry
	enabled  bool

	mu         sync.Mutex
	newestDone time.Time
}

// New creates the metric set. A disabled instance accepts every call and
// records nothing.
func New(enabled bool) *Metrics {
	m := &Metrics{
		enabled:  enabled,
		registry: prometheus.NewRegistry(),
	}
	if !enabled {
		return m
	}

	m.RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Partition runs by final status",
		},
		[]string{"status"}, // "success", "partial", "error"
	)

	m.RecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Issue records by outcome",
		},
		[]string{"outcome"}, // "read", "accepted", "rejected", "written"
	)

	m.RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a partition run",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	m.LastSuccessPartition = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_partition_timestamp",
			Help:      "Unix time of the newest partition that finished without error",
		},
	)

	m.registry.MustRegister(
		m.RunsTotal,
		m.RecordsTotal,
		m.RunDuration,
		m.LastSuccessPartition,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler returns an HTTP handler for the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IsEnabled returns true if metrics are enabled.
func (m *Metrics) IsEnabled() bool {
	return m != nil && m.enabled
}

// RunCounts are the per-run record tallies.
type RunCounts struct {
	Read, Accepted, Rejected, Written int
}

// ObserveRun records one finished partition run. partition is the run's
// partition start, used for the last-success gauge when status is not "error".
func (m *Metrics) ObserveRun(status string, counts RunCounts, took time.Duration, partition time.Time) {
	if !m.IsEnabled() {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	m.RecordsTotal.WithLabelValues("read").Add(float64(counts.Read))
	m.RecordsTotal.WithLabelValues("accepted").Add(float64(counts.Accepted))
	m.RecordsTotal.WithLabelValues("rejected").Add(float64(counts.Rejected))
	m.RecordsTotal.WithLabelValues("written").Add(float64(counts.Written))
	m.RunDuration.Observe(took.Seconds())

	if status == "error" || partition.IsZero() {
		return
	}
	// Backfills run old partitions; the gauge only moves forward.
	m.mu.Lock()
	defer m.mu.Unlock()
	if partition.After(m.newestDone) {
		m.newestDone = partition
		m.LastSuccessPartition.Set(float64(partition.Unix()))
	}
}

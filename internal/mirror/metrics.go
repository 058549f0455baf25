package mirror

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// mirrorRecordsTotal counts records copied into the local cluster.
	mirrorRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logbus",
			Subsystem: "mirror",
			Name:      "records_total",
			Help:      "Total number of records mirrored from a source into the local cluster",
		},
		[]string{"namespace", "name", "source"},
	)

	// mirrorLagRecords tracks how far each source is from fully mirrored.
	mirrorLagRecords = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "logbus",
			Subsystem: "mirror",
			Name:      "lag_records",
			Help:      "Number of source records not yet mirrored, as of the last pass that reached the source",
		},
		[]string{"namespace", "name", "source"},
	)

	// mirrorSourceHealthy reports per-source reachability.
	mirrorSourceHealthy = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "logbus",
			Subsystem: "mirror",
			Name:      "source_healthy",
			Help:      "Whether the last mirror pass for the source completed without errors (1) or not (0)",
		},
		[]string{"namespace", "name", "source"},
	)

	// mirrorCheckpointFlushesTotal counts checkpoint table writes.
	mirrorCheckpointFlushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logbus",
			Subsystem: "mirror",
			Name:      "checkpoint_flushes_total",
			Help:      "Total number of successful checkpoint table writes",
		},
		[]string{"namespace", "name"},
	)

	// mirrorLastPassDurationSeconds tracks the duration of the last full pass.
	mirrorLastPassDurationSeconds = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "logbus",
			Subsystem: "mirror",
			Name:      "last_pass_duration_seconds",
			Help:      "Duration of the last mirror pass over all sources in seconds",
		},
		[]string{"namespace", "name"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		mirrorRecordsTotal,
		mirrorLagRecords,
		mirrorSourceHealthy,
		mirrorCheckpointFlushesTotal,
		mirrorLastPassDurationSeconds,
	)
}

// Metrics records mirror metrics for one cluster.
type Metrics struct {
	namespace string
	name      string
}

// NewMetrics creates a Metrics instance for the given cluster.
func NewMetrics(namespace, name string) *Metrics {
	return &Metrics{namespace: namespace, name: name}
}

// AddRecords adds to the mirrored record counter for one source.
func (m *Metrics) AddRecords(source string, count int64) {
	if count > 0 {
		mirrorRecordsTotal.WithLabelValues(m.namespace, m.name, source).Add(float64(count))
	}
}

// SetLag sets the lag gauge for one source.
func (m *Metrics) SetLag(source string, lag int64) {
	mirrorLagRecords.WithLabelValues(m.namespace, m.name, source).Set(float64(lag))
}

// SetSourceHealthy sets the per-source health gauge.
func (m *Metrics) SetSourceHealthy(source string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	mirrorSourceHealthy.WithLabelValues(m.namespace, m.name, source).Set(value)
}

// IncrementCheckpointFlushes counts one successful checkpoint table write.
func (m *Metrics) IncrementCheckpointFlushes() {
	mirrorCheckpointFlushesTotal.WithLabelValues(m.namespace, m.name).Inc()
}

// SetLastPassDuration records the duration of the last pass in seconds.
func (m *Metrics) SetLastPassDuration(durationSeconds float64) {
	mirrorLastPassDurationSeconds.WithLabelValues(m.namespace, m.name).Set(durationSeconds)
}

// Clear removes all mirror series for this cluster, including every source
// label, so a deleted cluster stops exporting stale values.
func (m *Metrics) Clear() {
	labels := prometheus.Labels{"namespace": m.namespace, "name": m.name}
	mirrorRecordsTotal.DeletePartialMatch(labels)
	mirrorLagRecords.DeletePartialMatch(labels)
	mirrorSourceHealthy.DeletePartialMatch(labels)
	mirrorCheckpointFlushesTotal.DeleteLabelValues(m.namespace, m.name)
	mirrorLastPassDurationSeconds.DeleteLabelValues(m.namespace, m.name)
}

// ClearSource removes the series of one source, used when a source is removed
// from the spec.
func (m *Metrics) ClearSource(source string) {
	mirrorRecordsTotal.DeleteLabelValues(m.namespace, m.name, source)
	mirrorLagRecords.DeleteLabelValues(m.namespace, m.name, source)
	mirrorSourceHealthy.DeleteLabelValues(m.namespace, m.name, source)
}

package upgrade

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

// UpgradeStatus is the value of the per-cluster status gauge.
type UpgradeStatus int

const (
	// UpgradeStatusNone indicates no upgrade is in progress.
	UpgradeStatusNone UpgradeStatus = 0
	// UpgradeStatusRunning indicates a rollout is in progress.
	UpgradeStatusRunning UpgradeStatus = 1
	// UpgradeStatusSuccess indicates the last rollout succeeded.
	UpgradeStatusSuccess UpgradeStatus = 2
	// UpgradeStatusHalted indicates the last rollout halted on a failure.
	UpgradeStatusHalted UpgradeStatus = 3
)

var (
	// upgradeStatusGauge tracks the current upgrade status per cluster.
	// Values: 0=none, 1=running, 2=success, 3=halted.
	upgradeStatusGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "logbus",
			Subsystem: "upgrade",
			Name:      "status",
			Help:      "Current upgrade status per cluster (0=none, 1=running, 2=success, 3=halted)",
		},
		[]string{"namespace", "name"},
	)

	// upgradeDurationHistogram tracks the total duration of rollouts.
	upgradeDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "logbus",
			Subsystem: "upgrade",
			Name:      "duration_seconds",
			Help:      "Total duration of rolling upgrades in seconds",
			Buckets:   []float64{60, 120, 300, 600, 900, 1200, 1800, 3600},
		},
		[]string{"namespace", "name", "from_version", "to_version"},
	)

	// upgradeOrdinalDurationHistogram tracks per-broker replacement time.
	upgradeOrdinalDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "logbus",
			Subsystem: "upgrade",
			Name:      "ordinal_duration_seconds",
			Help:      "Duration to replace and re-ready each broker in seconds",
			Buckets:   []float64{10, 30, 60, 120, 180, 300, 600},
		},
		[]string{"namespace", "name"},
	)

	// upgradeInProgressGauge indicates whether a rollout is underway.
	upgradeInProgressGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "logbus",
			Subsystem: "upgrade",
			Name:      "in_progress",
			Help:      "Whether a rolling upgrade is in progress (1) or not (0)",
		},
		[]string{"namespace", "name"},
	)

	// upgradePartitionGauge tracks the current StatefulSet partition.
	upgradePartitionGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "logbus",
			Subsystem: "upgrade",
			Name:      "partition",
			Help:      "Current StatefulSet rolling-update partition during an upgrade",
		},
		[]string{"namespace", "name"},
	)

	// upgradeOrdinalsCompletedGauge tracks how many brokers finished.
	upgradeOrdinalsCompletedGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "logbus",
			Subsystem: "upgrade",
			Name:      "ordinals_completed",
			Help:      "Number of brokers replaced and readiness-checked in the current upgrade",
		},
		[]string{"namespace", "name"},
	)

	// upgradeReadinessTimeoutsCounter counts halted ordinals.
	upgradeReadinessTimeoutsCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logbus",
			Subsystem: "upgrade",
			Name:      "readiness_timeouts_total",
			Help:      "Total number of ordinals that failed broker readiness within the budget",
		},
		[]string{"namespace", "name"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		upgradeStatusGauge,
		upgradeDurationHistogram,
		upgradeOrdinalDurationHistogram,
		upgradeInProgressGauge,
		upgradePartitionGauge,
		upgradeOrdinalsCompletedGauge,
		upgradeReadinessTimeoutsCounter,
	)
}

// Metrics records upgrade metrics for one cluster.
type Metrics struct {
	namespace string
	name      string
}

// NewMetrics creates a Metrics instance for the given cluster.
func NewMetrics(namespace, name string) *Metrics {
	return &Metrics{
		namespace: namespace,
		name:      name,
	}
}

// SetStatus sets the current upgrade status.
func (m *Metrics) SetStatus(status UpgradeStatus) {
	upgradeStatusGauge.WithLabelValues(m.namespace, m.name).Set(float64(status))
}

// RecordDuration records the total duration of a completed rollout.
func (m *Metrics) RecordDuration(durationSeconds float64, fromVersion, toVersion string) {
	upgradeDurationHistogram.WithLabelValues(m.namespace, m.name, fromVersion, toVersion).Observe(durationSeconds)
}

// RecordOrdinalDuration records how long one broker took to replace.
func (m *Metrics) RecordOrdinalDuration(durationSeconds float64) {
	upgradeOrdinalDurationHistogram.WithLabelValues(m.namespace, m.name).Observe(durationSeconds)
}

// SetInProgress sets whether a rollout is underway.
func (m *Metrics) SetInProgress(inProgress bool) {
	value := 0.0
	if inProgress {
		value = 1.0
	}
	upgradeInProgressGauge.WithLabelValues(m.namespace, m.name).Set(value)
}

// SetPartition records the current StatefulSet partition.
func (m *Metrics) SetPartition(partition int32) {
	upgradePartitionGauge.WithLabelValues(m.namespace, m.name).Set(float64(partition))
}

// SetOrdinalsCompleted records how many brokers have finished.
func (m *Metrics) SetOrdinalsCompleted(count int32) {
	upgradeOrdinalsCompletedGauge.WithLabelValues(m.namespace, m.name).Set(float64(count))
}

// IncrementReadinessTimeouts counts an ordinal halting the rollout.
func (m *Metrics) IncrementReadinessTimeouts() {
	upgradeReadinessTimeoutsCounter.WithLabelValues(m.namespace, m.name).Inc()
}

// Clear removes all per-cluster series (used on deletion).
func (m *Metrics) Clear() {
	upgradeStatusGauge.DeleteLabelValues(m.namespace, m.name)
	upgradeInProgressGauge.DeleteLabelValues(m.namespace, m.name)
	upgradePartitionGauge.DeleteLabelValues(m.namespace, m.name)
	upgradeOrdinalsCompletedGauge.DeleteLabelValues(m.namespace, m.name)
	upgradeReadinessTimeoutsCounter.DeleteLabelValues(m.namespace, m.name)
}

package logbuscluster

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
)

var (
	reconcileDurationHistogram = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "logbus",
			Name:      "reconcile_duration_seconds",
			Help:      "Duration of reconciliation loops in seconds",
			// Buckets chosen to capture fast reconciles and longer tail up to 60s.
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"namespace", "name", "controller"},
	)

	reconcileErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "logbus",
			Name:      "reconcile_errors_total",
			Help:      "Total number of reconciliation errors",
		},
		[]string{"namespace", "name", "controller", "reason"},
	)

	clusterReadyReplicasGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "logbus",
			Name:      "cluster_ready_replicas",
			Help:      "Number of Ready broker replicas for a LogbusCluster",
		},
		[]string{"namespace", "name"},
	)

	clusterPhaseGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "logbus",
			Name:      "cluster_phase",
			Help:      "Current phase of a LogbusCluster (1 = active phase)",
		},
		[]string{"namespace", "name", "phase"},
	)
)

func init() {
	metrics.Registry.MustRegister(
		reconcileDurationHistogram,
		reconcileErrorsTotal,
		clusterReadyReplicasGauge,
		clusterPhaseGauge,
	)
}

// ReconcileMetrics provides helpers to record reconcile-level metrics for a
// specific LogbusCluster.
type ReconcileMetrics struct {
	namespace  string
	name       string
	controller string
}

// NewReconcileMetrics creates a new ReconcileMetrics instance.
func NewReconcileMetrics(namespace, name, controller string) *ReconcileMetrics {
	return &ReconcileMetrics{
		namespace:  namespace,
		name:       name,
		controller: controller,
	}
}

// ObserveDuration records the duration of a reconcile loop in seconds.
func (m *ReconcileMetrics) ObserveDuration(durationSeconds float64) {
	reconcileDurationHistogram.
		WithLabelValues(m.namespace, m.name, m.controller).
		Observe(durationSeconds)
}

// IncrementError increments the reconcile error counter with the given reason.
// Reason values should be low-cardinality strings.
func (m *ReconcileMetrics) IncrementError(reason string) {
	reconcileErrorsTotal.
		WithLabelValues(m.namespace, m.name, m.controller, reason).
		Inc()
}

// ClusterMetrics provides helpers to record per-cluster state metrics.
type ClusterMetrics struct {
	namespace string
	name      string
}

// NewClusterMetrics creates a new ClusterMetrics instance.
func NewClusterMetrics(namespace, name string) *ClusterMetrics {
	return &ClusterMetrics{
		namespace: namespace,
		name:      name,
	}
}

// SetReadyReplicas records the number of Ready replicas for the cluster.
func (m *ClusterMetrics) SetReadyReplicas(readyReplicas int32) {
	clusterReadyReplicasGauge.
		WithLabelValues(m.namespace, m.name).
		Set(float64(readyReplicas))
}

// SetPhase records the current phase for the cluster. The gauge is set to 1
// for the active phase and 0 for every other phase so Prometheus queries can
// select the active one without relying on series retention.
func (m *ClusterMetrics) SetPhase(phase logbusv1alpha1.ClusterPhase) {
	for _, p := range allPhases() {
		value := 0.0
		if p == phase {
			value = 1.0
		}
		clusterPhaseGauge.
			WithLabelValues(m.namespace, m.name, string(p)).
			Set(value)
	}
}

// Clear removes all per-cluster metrics for this cluster. Called during
// finalization to avoid leaving stale series after deletion.
func (m *ClusterMetrics) Clear() {
	clusterReadyReplicasGauge.
		DeleteLabelValues(m.namespace, m.name)

	for _, phase := range allPhases() {
		clusterPhaseGauge.
			DeleteLabelValues(m.namespace, m.name, string(phase))
	}
}

func allPhases() []logbusv1alpha1.ClusterPhase {
	return []logbusv1alpha1.ClusterPhase{
		logbusv1alpha1.ClusterPhasePending,
		logbusv1alpha1.ClusterPhaseCreating,
		logbusv1alpha1.ClusterPhaseReady,
		logbusv1alpha1.ClusterPhaseScaling,
		logbusv1alpha1.ClusterPhaseUpgrading,
		logbusv1alpha1.ClusterPhaseDegraded,
		logbusv1alpha1.ClusterPhaseDeleting,
	}
}

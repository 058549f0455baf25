package logbuscluster

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/constants"
	"github.com/logbus-io/logbus-operator/internal/kube"
	"github.com/logbus-io/logbus-operator/internal/status"
	"github.com/logbus-io/logbus-operator/internal/upgrade"
)

// updateStatus is the single status write of a successful reconcile pass.
// Sub-reconcilers mutate cluster.Status in memory; this is where the
// aggregate view (phase, Available, observedGeneration) is derived and
// persisted.
func (r *LogbusClusterReconciler) updateStatus(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster, pass *passResult) error {
	sts := &appsv1.StatefulSet{}
	stsFound := true
	if err := r.Get(ctx, types.NamespacedName{Namespace: cluster.Namespace, Name: cluster.Name}, sts); err != nil {
		if !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to get StatefulSet %s/%s for status update: %w", cluster.Namespace, cluster.Name, err)
		}
		stsFound = false
	}

	desired := desiredReplicas(cluster)
	var readyReplicas int32
	if stsFound {
		readyReplicas = sts.Status.ReadyReplicas
	}
	available := stsFound && desired > 0 && readyReplicas == desired

	cluster.Status.Replicas = desired
	cluster.Status.ReadyReplicas = readyReplicas
	if pass.infra != nil {
		cluster.Status.ConfigRevision = pass.infra.ConfigHash
	}

	// The first time every replica reports ready, the spec version becomes
	// the known running version. From then on only a completed rolling
	// upgrade moves it.
	if cluster.Status.CurrentVersion == "" && available {
		cluster.Status.CurrentVersion = cluster.Spec.Version
		logger.Info("Cluster reached full readiness for the first time", "version", cluster.Spec.Version)
	}

	setAvailableCondition(cluster, available, readyReplicas, desired)

	// Degraded=False is the default; anything that set it True this pass
	// (gateway missing, halted upgrade, image verification) wins.
	if !status.IsTrue(cluster.Status.Conditions, string(logbusv1alpha1.ConditionDegraded)) {
		status.False(&cluster.Status.Conditions, cluster.Generation,
			string(logbusv1alpha1.ConditionDegraded), constants.ReasonReconciling,
			"No degradation has been recorded by the controller")
	}

	// The upgrade state machine owns UpgradeInProgress while a rollout is
	// recorded in status.
	if cluster.Status.Upgrade == nil {
		status.False(&cluster.Status.Conditions, cluster.Generation,
			string(logbusv1alpha1.ConditionUpgradeInProgress), constants.ReasonIdle,
			"No upgrade is currently in progress")
	}

	cluster.Status.Phase = computePhase(cluster, available, stsFound)

	// A pass that reached the status reporter applied the whole structural
	// spec; the generation is observed even when an optional dependency
	// (Gateway API) left the cluster degraded.
	cluster.Status.ObservedGeneration = cluster.Generation

	clusterMetrics := NewClusterMetrics(cluster.Namespace, cluster.Name)
	clusterMetrics.SetReadyReplicas(readyReplicas)
	clusterMetrics.SetPhase(cluster.Status.Phase)

	if err := r.writeStatus(ctx, cluster); err != nil {
		return err
	}

	logger.Info("Updated status for LogbusCluster",
		"phase", cluster.Status.Phase,
		"readyReplicas", readyReplicas,
		"currentVersion", cluster.Status.CurrentVersion,
		"observedGeneration", cluster.Status.ObservedGeneration)

	return nil
}

// updateStatusForPaused records that the cluster is not being evaluated
// without touching phase or the structural conditions.
func (r *LogbusClusterReconciler) updateStatusForPaused(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster) error {
	if cluster.Status.Phase == "" {
		cluster.Status.Phase = logbusv1alpha1.ClusterPhasePending
	}

	status.Unknown(&cluster.Status.Conditions, cluster.Generation,
		string(logbusv1alpha1.ConditionAvailable), constants.ReasonPaused,
		"Reconciliation is paused; availability is not being evaluated")

	if err := r.writeStatus(ctx, cluster); err != nil {
		return err
	}

	logger.Info("Updated status for paused LogbusCluster")
	return nil
}

// writeStatus persists cluster.Status with server-side apply. SSA carries no
// resourceVersion precondition, so a status patch made mid-pass by the
// upgrade state machine does not conflict with this write.
func (r *LogbusClusterReconciler) writeStatus(ctx context.Context, cluster *logbusv1alpha1.LogbusCluster) error {
	applyCluster := &logbusv1alpha1.LogbusCluster{
		TypeMeta: metav1.TypeMeta{
			APIVersion: logbusv1alpha1.GroupVersion.String(),
			Kind:       "LogbusCluster",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      cluster.Name,
			Namespace: cluster.Namespace,
		},
		Status: cluster.Status,
	}

	applyConfig, err := kube.ToApplyConfiguration(applyCluster, r.Client)
	if err != nil {
		return fmt.Errorf("failed to convert cluster status to ApplyConfiguration: %w", err)
	}

	if err := r.Status().Apply(ctx, applyConfig,
		client.FieldOwner(constants.FieldManager),
		client.ForceOwnership,
	); err != nil {
		return fmt.Errorf("failed to update status for LogbusCluster %s/%s: %w", cluster.Namespace, cluster.Name, err)
	}

	return nil
}

// computePhase derives the coarse phase with a fixed precedence: Deleting,
// then Degraded, then Upgrading, then the structural states.
func computePhase(cluster *logbusv1alpha1.LogbusCluster, available, stsFound bool) logbusv1alpha1.ClusterPhase {
	switch {
	case !cluster.DeletionTimestamp.IsZero():
		return logbusv1alpha1.ClusterPhaseDeleting
	case status.IsTrue(cluster.Status.Conditions, string(logbusv1alpha1.ConditionDegraded)),
		upgrade.IsUpgradeHalted(&cluster.Status):
		return logbusv1alpha1.ClusterPhaseDegraded
	case upgrade.IsUpgradeInProgress(&cluster.Status):
		return logbusv1alpha1.ClusterPhaseUpgrading
	case available:
		return logbusv1alpha1.ClusterPhaseReady
	case !stsFound:
		return logbusv1alpha1.ClusterPhasePending
	case cluster.Status.CurrentVersion == "":
		// Never reached full readiness; still building out.
		return logbusv1alpha1.ClusterPhaseCreating
	default:
		// Established cluster with a replica count in motion.
		return logbusv1alpha1.ClusterPhaseScaling
	}
}

func setAvailableCondition(cluster *logbusv1alpha1.LogbusCluster, available bool, readyReplicas, desired int32) {
	switch {
	case available:
		status.True(&cluster.Status.Conditions, cluster.Generation,
			string(logbusv1alpha1.ConditionAvailable), reasonAllReplicasReady,
			fmt.Sprintf("All %d replicas are ready", readyReplicas))
	case readyReplicas == 0:
		status.False(&cluster.Status.Conditions, cluster.Generation,
			string(logbusv1alpha1.ConditionAvailable), reasonNoReplicasReady,
			"No replicas are ready yet")
	default:
		status.False(&cluster.Status.Conditions, cluster.Generation,
			string(logbusv1alpha1.ConditionAvailable), reasonNotAllReplicasReady,
			fmt.Sprintf("Only %d/%d replicas are ready", readyReplicas, desired))
	}
}

func desiredReplicas(cluster *logbusv1alpha1.LogbusCluster) int32 {
	if cluster.Spec.Replicas == 0 {
		// Matches the CRD default applied by the API server.
		return 3
	}
	return cluster.Spec.Replicas
}

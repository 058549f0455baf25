package rolling

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/constants"
	operatorerrors "github.com/logbus-io/logbus-operator/internal/errors"
	"github.com/logbus-io/logbus-operator/internal/upgrade"
)

// advanceRollout moves the partition walk forward by at most one ordinal.
// Returns true when every broker runs the target revision.
// Returns (false, nil) while waiting on a condition; the caller requeues.
func (m *Manager) advanceRollout(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster, sts *appsv1.StatefulSet, metrics *upgrade.Metrics) (bool, error) {
	progress := cluster.Status.Upgrade
	if progress == nil {
		return false, fmt.Errorf("upgrade progress is nil")
	}

	partition := progress.UpdatePartition
	if partition == 0 {
		logger.Info("All brokers have been replaced")
		return true, nil
	}

	// The walk replaces the highest unreplaced ordinal next.
	targetOrdinal := partition - 1
	podName := fmt.Sprintf("%s-%d", cluster.Name, targetOrdinal)

	logger.Info("Processing broker for upgrade",
		"pod", podName,
		"ordinal", targetOrdinal,
		"partition", partition)

	stepStart := time.Now()

	if expired, elapsed := m.ordinalBudgetExpired(progress); expired {
		upgrade.SetUpgradeHalted(&cluster.Status, targetOrdinal, cluster.Generation)
		return false, operatorerrors.WrapUpgradeReadinessTimeout(
			fmt.Errorf("broker %s did not report readiness within %v (elapsed %v)",
				podName, constants.UpgradeOrdinalTimeout, elapsed.Round(time.Second)))
	}

	// Lower the partition so the StatefulSet controller replaces this
	// ordinal. Re-applying the same value on later passes is a no-op.
	if err := m.setStatefulSetPartition(ctx, cluster, targetOrdinal); err != nil {
		return false, operatorerrors.WrapTransientAPI(fmt.Errorf("failed to update partition: %w", err))
	}

	replaced, err := m.podOnTargetRevision(ctx, logger, cluster, sts, podName)
	if err != nil {
		return false, err
	}
	if !replaced {
		return false, nil
	}

	ready, err := m.brokerReady(ctx, logger, cluster, targetOrdinal)
	if err != nil {
		return false, err
	}
	if !ready {
		return false, nil
	}

	upgrade.SetUpgradeProgress(&cluster.Status, targetOrdinal, cluster.Spec.Replicas, cluster.Generation)

	stepDuration := time.Since(stepStart).Seconds()
	metrics.RecordOrdinalDuration(stepDuration)
	metrics.SetOrdinalsCompleted(progress.CompletedOrdinals)
	metrics.SetPartition(targetOrdinal)

	logger.Info("Broker upgrade step completed",
		"pod", podName,
		"remainingPartition", targetOrdinal)

	if targetOrdinal > 0 {
		return false, nil
	}

	return true, nil
}

// ordinalBudgetExpired checks the cumulative readiness deadline. Each
// completed ordinal extends the budget by UpgradeOrdinalTimeout, so a slow
// but progressing rollout is never halted while a stuck ordinal is.
func (m *Manager) ordinalBudgetExpired(progress *logbusv1alpha1.UpgradeProgress) (bool, time.Duration) {
	if progress.StartedAt == nil {
		return false, 0
	}
	elapsed := time.Since(progress.StartedAt.Time)
	budget := time.Duration(progress.CompletedOrdinals+1) * constants.UpgradeOrdinalTimeout
	return elapsed > budget, elapsed
}

// setStatefulSetPartition updates the rolling-update partition using a
// strategic merge patch. SSA is deliberately not used here: an apply patch
// would need the full StatefulSet spec to pass validation, while MergeFrom
// sends only the partition diff and leaves every other field untouched.
func (m *Manager) setStatefulSetPartition(ctx context.Context, cluster *logbusv1alpha1.LogbusCluster, partition int32) error {
	sts := &appsv1.StatefulSet{}
	stsName := types.NamespacedName{
		Namespace: cluster.Namespace,
		Name:      cluster.Name,
	}

	if err := m.client.Get(ctx, stsName, sts); err != nil {
		return fmt.Errorf("failed to get StatefulSet: %w", err)
	}

	updated := sts.DeepCopy()
	updated.Spec.UpdateStrategy.Type = appsv1.RollingUpdateStatefulSetStrategyType
	updated.Spec.UpdateStrategy.RollingUpdate = &appsv1.RollingUpdateStatefulSetStrategy{
		Partition: &partition,
	}

	if err := m.client.Patch(ctx, updated, client.MergeFrom(sts)); err != nil {
		return fmt.Errorf("failed to patch StatefulSet partition: %w", err)
	}

	return nil
}

// podOnTargetRevision checks that the pod at the walk position exists, runs
// the StatefulSet's update revision, and passes its kubelet readiness
// probe. Level-triggered: (false, nil) means check again next pass.
func (m *Manager) podOnTargetRevision(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster, sts *appsv1.StatefulSet, podName string) (bool, error) {
	pod := &corev1.Pod{}
	if err := m.client.Get(ctx, types.NamespacedName{
		Namespace: cluster.Namespace,
		Name:      podName,
	}, pod); err != nil {
		if apierrors.IsNotFound(err) {
			logger.V(1).Info("Pod not found; waiting for replacement", "pod", podName)
			return false, nil
		}
		return false, operatorerrors.WrapTransientAPI(fmt.Errorf("failed to get pod %s: %w", podName, err))
	}

	// Until the StatefulSet controller replaces the pod, the old one can
	// still be running and ready; the revision label tells them apart.
	if sts.Status.UpdateRevision != "" {
		if pod.Labels[appsv1.ControllerRevisionHashLabelKey] != sts.Status.UpdateRevision {
			logger.V(1).Info("Pod still on previous revision; waiting",
				"pod", podName,
				"podRevision", pod.Labels[appsv1.ControllerRevisionHashLabelKey],
				"updateRevision", sts.Status.UpdateRevision)
			return false, nil
		}
	}

	if !isPodReady(pod) {
		logger.V(1).Info("Waiting for pod to become ready", "pod", podName, "phase", pod.Status.Phase)
		return false, nil
	}

	return true, nil
}

// brokerReady asks the replaced broker itself whether it has rejoined the
// cluster and caught up. Kubelet readiness alone is not sufficient: a
// broker can serve its health endpoint while still replaying segments.
func (m *Manager) brokerReady(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster, ordinal int32) (bool, error) {
	api, err := m.brokers.ForPod(cluster.Namespace, cluster.Name, ordinal)
	if err != nil {
		if operatorerrors.IsTransientConnection(err) {
			logger.V(1).Info("Transient error creating broker client", "ordinal", ordinal, "error", err)
			return false, nil
		}
		return false, fmt.Errorf("failed to create broker client for ordinal %d: %w", ordinal, err)
	}

	checkCtx, cancel := context.WithTimeout(ctx, upgrade.DefaultReadyCheckTimeout)
	defer cancel()

	resp, err := api.Ready(checkCtx)
	if err != nil {
		logger.V(1).Info("Broker readiness check failed; will retry", "ordinal", ordinal, "error", err)
		return false, nil
	}
	if !resp.Ready {
		logger.V(1).Info("Broker not ready yet", "ordinal", ordinal, "message", resp.Message)
		return false, nil
	}

	logger.Info("Broker reports ready", "ordinal", ordinal)
	return true, nil
}

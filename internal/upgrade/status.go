package upgrade

import (
	"fmt"

	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/constants"
)

// SetUpgradeStarted initializes Status.Upgrade when a rollout begins. The
// partition starts at replicas, which locks the StatefulSet so no pod is
// replaced before the walk reaches it.
func SetUpgradeStarted(status *logbusv1alpha1.LogbusClusterStatus, from, to string, replicas int32, generation int64) {
	now := metav1.Now()

	status.Upgrade = &logbusv1alpha1.UpgradeProgress{
		TargetVersion:     to,
		FromVersion:       from,
		StartedAt:         &now,
		UpdatePartition:   replicas,
		CompletedOrdinals: 0,
	}

	status.Phase = logbusv1alpha1.ClusterPhaseUpgrading

	meta.SetStatusCondition(&status.Conditions, metav1.Condition{
		Type:               string(logbusv1alpha1.ConditionUpgradeInProgress),
		Status:             metav1.ConditionTrue,
		ObservedGeneration: generation,
		Reason:             ReasonUpgradeStarted,
		Message:            fmt.Sprintf(MessageUpgradeStarted, from, to),
	})

	meta.SetStatusCondition(&status.Conditions, metav1.Condition{
		Type:               string(logbusv1alpha1.ConditionDegraded),
		Status:             metav1.ConditionFalse,
		ObservedGeneration: generation,
		Reason:             ReasonUpgradeStarted,
		Message:            "Upgrade in progress",
	})
}

// SetUpgradeProgress records one completed ordinal and the new partition.
func SetUpgradeProgress(status *logbusv1alpha1.LogbusClusterStatus, partition, totalReplicas int32, generation int64) {
	if status.Upgrade == nil {
		return
	}

	status.Upgrade.UpdatePartition = partition
	status.Upgrade.CompletedOrdinals++

	meta.SetStatusCondition(&status.Conditions, metav1.Condition{
		Type:               string(logbusv1alpha1.ConditionUpgradeInProgress),
		Status:             metav1.ConditionTrue,
		ObservedGeneration: generation,
		Reason:             ReasonUpgradeInProgress,
		Message:            fmt.Sprintf(MessageUpgradeInProgress, status.Upgrade.CompletedOrdinals, totalReplicas, partition),
	})
}

// SetUpgradeComplete clears Status.Upgrade and records the new version.
func SetUpgradeComplete(status *logbusv1alpha1.LogbusClusterStatus, version string, generation int64) {
	var fromVersion string
	if status.Upgrade != nil {
		fromVersion = status.Upgrade.FromVersion
	}

	status.Upgrade = nil
	status.CurrentVersion = version
	status.Phase = logbusv1alpha1.ClusterPhaseReady

	meta.SetStatusCondition(&status.Conditions, metav1.Condition{
		Type:               string(logbusv1alpha1.ConditionUpgradeInProgress),
		Status:             metav1.ConditionFalse,
		ObservedGeneration: generation,
		Reason:             ReasonUpgradeComplete,
		Message:            fmt.Sprintf(MessageUpgradeComplete, fromVersion, version),
	})
}

// SetUpgradeHalted marks the rollout halted at a specific ordinal. The
// upgrade progress is preserved so the walk resumes from the same partition
// once the operator intervenes; no further pods are replaced until then.
func SetUpgradeHalted(status *logbusv1alpha1.LogbusClusterStatus, ordinal int32, generation int64) {
	if status.Upgrade != nil {
		status.Upgrade.FailedOrdinal = &ordinal
	}

	status.Phase = logbusv1alpha1.ClusterPhaseDegraded

	message := fmt.Sprintf(MessageUpgradeHalted, ordinal, constants.AnnotationRetryUpgrade)

	meta.SetStatusCondition(&status.Conditions, metav1.Condition{
		Type:               string(logbusv1alpha1.ConditionUpgradeInProgress),
		Status:             metav1.ConditionFalse,
		ObservedGeneration: generation,
		Reason:             ReasonUpgradeHalted,
		Message:            message,
	})

	meta.SetStatusCondition(&status.Conditions, metav1.Condition{
		Type:               string(logbusv1alpha1.ConditionDegraded),
		Status:             metav1.ConditionTrue,
		ObservedGeneration: generation,
		Reason:             ReasonReadinessTimeout,
		Message:            message,
	})
}

// ClearUpgradeHalt resumes a halted rollout after the retry annotation was
// consumed. The failed ordinal is forgotten; the partition is untouched so
// the same ordinal is attempted again. StartedAt restarts so the time the
// rollout sat halted does not count against the readiness budget.
func ClearUpgradeHalt(status *logbusv1alpha1.LogbusClusterStatus, generation int64) {
	if status.Upgrade != nil {
		status.Upgrade.FailedOrdinal = nil
		now := metav1.Now()
		status.Upgrade.StartedAt = &now
	}

	status.Phase = logbusv1alpha1.ClusterPhaseUpgrading

	meta.SetStatusCondition(&status.Conditions, metav1.Condition{
		Type:               string(logbusv1alpha1.ConditionUpgradeInProgress),
		Status:             metav1.ConditionTrue,
		ObservedGeneration: generation,
		Reason:             ReasonRetryRequested,
		Message:            "Retry requested; resuming rolling upgrade",
	})

	meta.SetStatusCondition(&status.Conditions, metav1.Condition{
		Type:               string(logbusv1alpha1.ConditionDegraded),
		Status:             metav1.ConditionFalse,
		ObservedGeneration: generation,
		Reason:             ReasonRetryRequested,
		Message:            "Retry requested; resuming rolling upgrade",
	})
}

// SetUpgradeFailed marks the rollout failed for reasons other than an
// ordinal readiness timeout. Progress is preserved for inspection.
func SetUpgradeFailed(status *logbusv1alpha1.LogbusClusterStatus, reason, message string, generation int64) {
	status.Phase = logbusv1alpha1.ClusterPhaseDegraded

	meta.SetStatusCondition(&status.Conditions, metav1.Condition{
		Type:               string(logbusv1alpha1.ConditionUpgradeInProgress),
		Status:             metav1.ConditionFalse,
		ObservedGeneration: generation,
		Reason:             reason,
		Message:            message,
	})

	meta.SetStatusCondition(&status.Conditions, metav1.Condition{
		Type:               string(logbusv1alpha1.ConditionDegraded),
		Status:             metav1.ConditionTrue,
		ObservedGeneration: generation,
		Reason:             reason,
		Message:            message,
	})
}

// SetUpgradePaused reports a suspended rollout without dropping progress.
func SetUpgradePaused(status *logbusv1alpha1.LogbusClusterStatus, generation int64) {
	meta.SetStatusCondition(&status.Conditions, metav1.Condition{
		Type:               string(logbusv1alpha1.ConditionUpgradeInProgress),
		Status:             metav1.ConditionFalse,
		ObservedGeneration: generation,
		Reason:             ReasonUpgradePaused,
		Message:            "Upgrade paused; set spec.paused=false to resume",
	})
}

// ClearUpgrade abandons the rollout without marking it complete. Used when
// spec.version changes mid-rollout; the next pass re-evaluates from scratch.
func ClearUpgrade(status *logbusv1alpha1.LogbusClusterStatus, reason, message string, generation int64) {
	status.Upgrade = nil

	meta.SetStatusCondition(&status.Conditions, metav1.Condition{
		Type:               string(logbusv1alpha1.ConditionUpgradeInProgress),
		Status:             metav1.ConditionFalse,
		ObservedGeneration: generation,
		Reason:             reason,
		Message:            message,
	})
}

// SetDowngradeBlocked reports a refused downgrade request.
func SetDowngradeBlocked(status *logbusv1alpha1.LogbusClusterStatus, from, to string, generation int64) {
	meta.SetStatusCondition(&status.Conditions, metav1.Condition{
		Type:               string(logbusv1alpha1.ConditionDegraded),
		Status:             metav1.ConditionTrue,
		ObservedGeneration: generation,
		Reason:             ReasonDowngradeBlocked,
		Message:            fmt.Sprintf(MessageDowngradeBlocked, from, to),
	})
}

// SetInvalidVersion reports an unparseable target version.
func SetInvalidVersion(status *logbusv1alpha1.LogbusClusterStatus, version string, err error, generation int64) {
	meta.SetStatusCondition(&status.Conditions, metav1.Condition{
		Type:               string(logbusv1alpha1.ConditionDegraded),
		Status:             metav1.ConditionTrue,
		ObservedGeneration: generation,
		Reason:             ReasonInvalidVersion,
		Message:            fmt.Sprintf(MessageInvalidVersion, version, err),
	})
}

// SetClusterNotReady reports that the rollout cannot begin yet.
func SetClusterNotReady(status *logbusv1alpha1.LogbusClusterStatus, reason string, generation int64) {
	meta.SetStatusCondition(&status.Conditions, metav1.Condition{
		Type:               string(logbusv1alpha1.ConditionUpgradeInProgress),
		Status:             metav1.ConditionFalse,
		ObservedGeneration: generation,
		Reason:             ReasonClusterNotReady,
		Message:            fmt.Sprintf(MessageClusterNotReady, reason),
	})
}

// IsUpgradeInProgress reports whether a rollout is underway.
func IsUpgradeInProgress(status *logbusv1alpha1.LogbusClusterStatus) bool {
	return status != nil && status.Upgrade != nil
}

// IsUpgradeHalted reports whether a rollout is halted on a failed ordinal.
func IsUpgradeHalted(status *logbusv1alpha1.LogbusClusterStatus) bool {
	return status != nil && status.Upgrade != nil && status.Upgrade.FailedOrdinal != nil
}

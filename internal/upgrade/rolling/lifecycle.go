package rolling

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	operatorerrors "github.com/logbus-io/logbus-operator/internal/errors"
	"github.com/logbus-io/logbus-operator/internal/logging"
	"github.com/logbus-io/logbus-operator/internal/upgrade"
)

// initializeUpgrade records the rollout start and locks the StatefulSet by
// raising the partition to replicas, so no pod is replaced before the walk
// releases it.
func (m *Manager) initializeUpgrade(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster) error {
	fromVersion := cluster.Status.CurrentVersion
	toVersion := cluster.Spec.Version

	logger.Info("Initializing rolling upgrade",
		"from", fromVersion,
		"to", toVersion,
		"replicas", cluster.Spec.Replicas)

	upgrade.SetUpgradeStarted(&cluster.Status, fromVersion, toVersion, cluster.Spec.Replicas, cluster.Generation)

	if err := m.setStatefulSetPartition(ctx, cluster, cluster.Spec.Replicas); err != nil {
		return operatorerrors.WrapTransientAPI(fmt.Errorf("failed to lock StatefulSet partition: %w", err))
	}

	if err := m.patchStatusSSA(ctx, cluster); err != nil {
		return operatorerrors.WrapTransientAPI(fmt.Errorf("failed to record upgrade start: %w", err))
	}

	logging.LogAuditEvent(logger, "UpgradeStarted", map[string]string{
		"cluster_namespace": cluster.Namespace,
		"cluster_name":      cluster.Name,
		"from_version":      fromVersion,
		"target_version":    toVersion,
	})

	return nil
}

// finalizeUpgrade clears the rollout state and records the new version.
func (m *Manager) finalizeUpgrade(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster, metrics *upgrade.Metrics) error {
	var upgradeDuration float64
	var fromVersion string

	if cluster.Status.Upgrade != nil && cluster.Status.Upgrade.StartedAt != nil {
		upgradeDuration = time.Since(cluster.Status.Upgrade.StartedAt.Time).Seconds()
		fromVersion = cluster.Status.Upgrade.FromVersion
	}

	upgrade.SetUpgradeComplete(&cluster.Status, cluster.Spec.Version, cluster.Generation)

	if err := m.patchStatusSSA(ctx, cluster); err != nil {
		return operatorerrors.WrapTransientAPI(fmt.Errorf("failed to record upgrade completion: %w", err))
	}

	if upgradeDuration > 0 {
		metrics.RecordDuration(upgradeDuration, fromVersion, cluster.Spec.Version)
	}
	metrics.SetInProgress(false)
	metrics.SetStatus(upgrade.UpgradeStatusSuccess)
	metrics.SetOrdinalsCompleted(0)
	metrics.SetPartition(0)

	logging.LogAuditEvent(logger, "UpgradeCompleted", map[string]string{
		"cluster_namespace": cluster.Namespace,
		"cluster_name":      cluster.Name,
		"from_version":      fromVersion,
		"target_version":    cluster.Spec.Version,
	})

	logger.Info("Rolling upgrade completed",
		"version", cluster.Spec.Version,
		"durationSeconds", upgradeDuration)

	return nil
}

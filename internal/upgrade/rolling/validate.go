package rolling

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	operatorerrors "github.com/logbus-io/logbus-operator/internal/errors"
	"github.com/logbus-io/logbus-operator/internal/upgrade"
)

// detectUpgradeState determines whether a rollout is needed or resuming.
func (m *Manager) detectUpgradeState(logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster, sts *appsv1.StatefulSet) (upgradeNeeded, resumeUpgrade bool) {
	if cluster.Status.Upgrade != nil {
		logger.Info("Resuming in-progress upgrade",
			"fromVersion", cluster.Status.Upgrade.FromVersion,
			"targetVersion", cluster.Status.Upgrade.TargetVersion,
			"partition", cluster.Status.Upgrade.UpdatePartition)
		return false, true
	}

	if cluster.Spec.Version != cluster.Status.CurrentVersion {
		logger.Info("Upgrade detected",
			"from", cluster.Status.CurrentVersion,
			"to", cluster.Spec.Version)
		return true, false
	}

	// A pod-template change without a version change (new config hash,
	// re-pinned image digest) surfaces as a StatefulSet revision diff and
	// walks through the same readiness gate.
	if sts.Status.UpdateRevision != "" && sts.Status.UpdateRevision != sts.Status.CurrentRevision {
		logger.Info("Pod template revision change detected; rolling through readiness gate",
			"currentRevision", sts.Status.CurrentRevision,
			"updateRevision", sts.Status.UpdateRevision)
		return true, false
	}

	logger.V(1).Info("No upgrade needed")
	return false, false
}

// validateUpgrade rejects invalid or backward version targets before a
// fresh rollout starts. These are spec errors: no amount of retrying helps
// until the operator edits the cluster.
func (m *Manager) validateUpgrade(logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster) error {
	if err := upgrade.ValidateVersion(cluster.Spec.Version); err != nil {
		upgrade.SetInvalidVersion(&cluster.Status, cluster.Spec.Version, err, cluster.Generation)
		return operatorerrors.WrapSpecValidation(fmt.Errorf("invalid target version: %w", err))
	}

	if cluster.Status.CurrentVersion != "" {
		if upgrade.IsDowngrade(cluster.Status.CurrentVersion, cluster.Spec.Version) {
			logger.Info("Downgrade requested and refused",
				"from", cluster.Status.CurrentVersion,
				"to", cluster.Spec.Version)
			upgrade.SetDowngradeBlocked(&cluster.Status, cluster.Status.CurrentVersion, cluster.Spec.Version, cluster.Generation)
			return operatorerrors.WrapSpecValidation(fmt.Errorf("downgrade from %s to %s is not allowed",
				cluster.Status.CurrentVersion, cluster.Spec.Version))
		}

		change, _ := upgrade.CompareVersions(cluster.Status.CurrentVersion, cluster.Spec.Version)
		if change == upgrade.VersionChangeMajor {
			logger.Info("Major version upgrade detected",
				"from", cluster.Status.CurrentVersion,
				"to", cluster.Spec.Version)
		}
		if upgrade.IsSkipMinorUpgrade(cluster.Status.CurrentVersion, cluster.Spec.Version) {
			logger.Info("Upgrade skips intermediate minor versions; segment format migrations are only tested between adjacent minors",
				"from", cluster.Status.CurrentVersion,
				"to", cluster.Spec.Version)
		}
	}

	return nil
}

// clusterReadyForRollout reports whether every broker is present and ready,
// which is required before a fresh rollout may reduce availability further.
func (m *Manager) clusterReadyForRollout(ctx context.Context, cluster *logbusv1alpha1.LogbusCluster, sts *appsv1.StatefulSet) (bool, string, error) {
	if sts.Status.ReadyReplicas != cluster.Spec.Replicas {
		return false, fmt.Sprintf("not all replicas are ready (%d/%d)",
			sts.Status.ReadyReplicas, cluster.Spec.Replicas), nil
	}

	pods, err := m.getClusterPods(ctx, cluster)
	if err != nil {
		return false, "", operatorerrors.WrapTransientAPI(fmt.Errorf("failed to list cluster pods: %w", err))
	}
	if len(pods) != int(cluster.Spec.Replicas) {
		return false, fmt.Sprintf("unexpected number of pods (%d/%d)",
			len(pods), cluster.Spec.Replicas), nil
	}

	return true, "", nil
}

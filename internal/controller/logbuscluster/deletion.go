package logbuscluster

import (
	"context"

	"github.com/go-logr/logr"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/infra"
	"github.com/logbus-io/logbus-operator/internal/mirror"
	"github.com/logbus-io/logbus-operator/internal/tiering"
	"github.com/logbus-io/logbus-operator/internal/upgrade"
)

// handleDeletion runs cleanup while the finalizer is still attached. Owned
// Kubernetes objects are garbage-collected via owner references; what needs
// explicit handling is data with a lifecycle of its own (PVCs, archived
// segments), cached admin clients, and per-cluster metric series.
func (r *LogbusClusterReconciler) handleDeletion(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster) error {
	policy := cluster.Spec.DeletionPolicy
	if policy == "" {
		policy = logbusv1alpha1.DeletionPolicyRetain
	}

	logger.Info("Applying deletionPolicy for LogbusCluster", "deletionPolicy", string(policy))

	// Drop per-cluster metric series so deleted clusters do not linger as
	// stale gauges.
	NewClusterMetrics(cluster.Namespace, cluster.Name).Clear()
	upgrade.NewMetrics(cluster.Namespace, cluster.Name).Clear()
	mirror.NewManager(r.Client, r.Scheme, r.Brokers).ClearMetrics(cluster)

	tieringManager := tiering.NewManager(r.Client, r.Scheme, r.Brokers, r.StorageFor)
	tieringManager.ClearMetrics(cluster)

	if policy == logbusv1alpha1.DeletionPolicyDelete {
		if err := tieringManager.PurgeArchive(ctx, logger, cluster); err != nil {
			return err
		}
	}

	if err := infra.NewManager(r.Client, r.Scheme).Cleanup(ctx, logger, cluster, policy); err != nil {
		return err
	}

	// Cached admin clients for this cluster's pods are useless once the pods
	// are gone.
	if forgetter, ok := r.Brokers.(interface{ Forget(namespace, clusterName string) }); ok {
		forgetter.Forget(cluster.Namespace, cluster.Name)
	}

	return nil
}

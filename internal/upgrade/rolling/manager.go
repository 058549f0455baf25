// Package rolling drives version and configuration rollouts for a
// LogbusCluster one broker at a time, highest ordinal first, gated on
// application-level readiness of each replaced broker.
package rolling

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/constants"
	operatorerrors "github.com/logbus-io/logbus-operator/internal/errors"
	"github.com/logbus-io/logbus-operator/internal/logbus"
	"github.com/logbus-io/logbus-operator/internal/logging"
	recon "github.com/logbus-io/logbus-operator/internal/reconcile"
	"github.com/logbus-io/logbus-operator/internal/upgrade"
)

// Manager reconciles rolling upgrades for a LogbusCluster. It owns the
// StatefulSet's rolling-update partition: the structural reconciler never
// changes it, so every pod replacement during an upgrade is explicitly
// released here.
type Manager struct {
	client  client.Client
	scheme  *runtime.Scheme
	brokers logbus.AdminClients
}

// NewManager constructs a Manager. The brokers argument provides admin-API
// clients for per-pod readiness checks; tests substitute fakes.
func NewManager(c client.Client, scheme *runtime.Scheme, brokers logbus.AdminClients) *Manager {
	return &Manager{
		client:  c,
		scheme:  scheme,
		brokers: brokers,
	}
}

// Reconcile advances the rolling upgrade state machine by at most one
// ordinal. It is level-triggered: every wait returns a requeue, never
// sleeps.
//
// The state machine:
//  1. Detection: a new rollout is needed, one is resuming, or neither.
//  2. Halt gate: a halted rollout stays halted until the spec changes or
//     the retry annotation is consumed.
//  3. Validation: target version parses, downgrades are refused, and the
//     cluster is fully ready before a fresh rollout starts.
//  4. Initialization: progress recorded, partition locked at replicas.
//  5. Ordinal walk: partition lowered one step, replaced broker verified
//     against the admin API before the next step.
//  6. Finalization: progress cleared, currentVersion updated.
func (m *Manager) Reconcile(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster) (recon.Result, error) {
	logger = logger.WithValues(
		"specVersion", cluster.Spec.Version,
		"currentVersion", cluster.Status.CurrentVersion,
	)

	metrics := upgrade.NewMetrics(cluster.Namespace, cluster.Name)

	// Until the first full readiness pass records a version, the cluster is
	// still being created and pods come up on the spec version directly.
	if cluster.Status.CurrentVersion == "" {
		logger.V(1).Info("Cluster has no recorded version yet; skipping upgrade reconciliation")
		return recon.Result{}, nil
	}

	sts := &appsv1.StatefulSet{}
	if err := m.client.Get(ctx, types.NamespacedName{Namespace: cluster.Namespace, Name: cluster.Name}, sts); err != nil {
		if apierrors.IsNotFound(err) {
			logger.V(1).Info("StatefulSet not found; structural reconciliation has not created it yet")
			return recon.Result{RequeueAfter: constants.RequeueStandard}, nil
		}
		return recon.Result{}, operatorerrors.WrapTransientAPI(fmt.Errorf("failed to get StatefulSet: %w", err))
	}

	upgradeNeeded, resumeUpgrade := m.detectUpgradeState(logger, cluster, sts)

	if !upgradeNeeded && !resumeUpgrade {
		metrics.SetInProgress(false)
		metrics.SetStatus(upgrade.UpgradeStatusNone)
		return recon.Result{}, nil
	}

	// The target moved mid-rollout. Abandon the old walk; the next block
	// re-evaluates against the new target from scratch.
	if resumeUpgrade && cluster.Status.Upgrade != nil && cluster.Spec.Version != cluster.Status.Upgrade.TargetVersion {
		logger.Info("Target version changed during upgrade; restarting rollout",
			"previousTarget", cluster.Status.Upgrade.TargetVersion,
			"newTarget", cluster.Spec.Version)
		upgrade.ClearUpgrade(&cluster.Status, upgrade.ReasonVersionMismatch,
			fmt.Sprintf("Target version changed from %s to %s during upgrade",
				cluster.Status.Upgrade.TargetVersion, cluster.Spec.Version),
			cluster.Generation)
	}

	// A halted rollout performs no further mutation until a human bumps the
	// retry annotation (consumed here) or edits the spec (handled above).
	if upgrade.IsUpgradeHalted(&cluster.Status) {
		retried, err := m.consumeRetryAnnotation(ctx, logger, cluster)
		if err != nil {
			return recon.Result{}, err
		}
		if !retried {
			metrics.SetInProgress(false)
			metrics.SetStatus(upgrade.UpgradeStatusHalted)
			logger.V(1).Info("Upgrade halted; waiting for spec change or retry annotation",
				"failedOrdinal", *cluster.Status.Upgrade.FailedOrdinal)
			return recon.Result{}, nil
		}
		upgrade.ClearUpgradeHalt(&cluster.Status, cluster.Generation)
	}

	if cluster.Status.Upgrade == nil {
		if err := m.validateUpgrade(logger, cluster); err != nil {
			return recon.Result{}, err
		}

		ready, reason, err := m.clusterReadyForRollout(ctx, cluster, sts)
		if err != nil {
			return recon.Result{}, err
		}
		if !ready {
			logger.Info("Cluster not ready for rollout; waiting", "reason", reason)
			upgrade.SetClusterNotReady(&cluster.Status, reason, cluster.Generation)
			return recon.Result{RequeueAfter: constants.RequeueStandard}, nil
		}

		if err := m.initializeUpgrade(ctx, logger, cluster); err != nil {
			return recon.Result{}, err
		}
	}

	metrics.SetInProgress(true)
	metrics.SetStatus(upgrade.UpgradeStatusRunning)
	if cluster.Status.Upgrade != nil {
		metrics.SetOrdinalsCompleted(cluster.Status.Upgrade.CompletedOrdinals)
		metrics.SetPartition(cluster.Status.Upgrade.UpdatePartition)
	}

	completed, err := m.advanceRollout(ctx, logger, cluster, sts, metrics)
	if err != nil {
		if operatorerrors.IsUpgradeReadinessTimeout(err) {
			// advanceRollout already recorded the halt in status.
			metrics.IncrementReadinessTimeouts()
			metrics.SetStatus(upgrade.UpgradeStatusHalted)
		} else {
			upgrade.SetUpgradeFailed(&cluster.Status, upgrade.ReasonUpgradeFailed, err.Error(), cluster.Generation)
			metrics.SetStatus(upgrade.UpgradeStatusHalted)
		}
		if statusErr := m.patchStatusSSA(ctx, cluster); statusErr != nil {
			logger.Error(statusErr, "Failed to update status after upgrade failure")
		}
		return recon.Result{}, err
	}

	if !completed {
		// Persist progress so a restarted operator resumes mid-walk instead
		// of relocking from scratch.
		if err := m.patchStatusSSA(ctx, cluster); err != nil {
			return recon.Result{}, operatorerrors.WrapTransientAPI(fmt.Errorf("failed to update upgrade progress: %w", err))
		}
		return recon.Result{RequeueAfter: constants.RequeueShort}, nil
	}

	if err := m.finalizeUpgrade(ctx, logger, cluster, metrics); err != nil {
		return recon.Result{}, err
	}

	return recon.Result{}, nil
}

// consumeRetryAnnotation removes the retry annotation from the cluster if
// present. Returns true when the annotation was present and removed, which
// authorizes exactly one resume of a halted rollout.
func (m *Manager) consumeRetryAnnotation(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster) (bool, error) {
	if _, ok := cluster.Annotations[constants.AnnotationRetryUpgrade]; !ok {
		return false, nil
	}

	patched := cluster.DeepCopy()
	delete(patched.Annotations, constants.AnnotationRetryUpgrade)
	if err := m.client.Patch(ctx, patched, client.MergeFrom(cluster)); err != nil {
		return false, operatorerrors.WrapTransientAPI(fmt.Errorf("failed to consume retry annotation: %w", err))
	}
	cluster.Annotations = patched.Annotations

	logging.LogAuditEvent(logger, "UpgradeRetry", map[string]string{
		"cluster_namespace": cluster.Namespace,
		"cluster_name":      cluster.Name,
		"target_version":    cluster.Spec.Version,
	})

	return true, nil
}

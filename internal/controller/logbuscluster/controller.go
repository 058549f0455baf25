// Package logbuscluster contains the top-level reconciler for the
// LogbusCluster custom resource. Each pass runs the sub-reconcilers in a
// fixed order (validation, image verification, infrastructure, rolling
// upgrade, mirroring, tiering) and publishes the observed state with a
// single status write at the end.
package logbuscluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	appsv1 "k8s.io/api/apps/v1"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/constants"
	operatorerrors "github.com/logbus-io/logbus-operator/internal/errors"
	"github.com/logbus-io/logbus-operator/internal/infra"
	"github.com/logbus-io/logbus-operator/internal/logbus"
	"github.com/logbus-io/logbus-operator/internal/mirror"
	recon "github.com/logbus-io/logbus-operator/internal/reconcile"
	"github.com/logbus-io/logbus-operator/internal/security"
	"github.com/logbus-io/logbus-operator/internal/status"
	"github.com/logbus-io/logbus-operator/internal/tiering"
	"github.com/logbus-io/logbus-operator/internal/upgrade/rolling"
	"github.com/logbus-io/logbus-operator/internal/validation"
)

// LogbusClusterReconciler reconciles a LogbusCluster object.
type LogbusClusterReconciler struct {
	client.Client
	Scheme *runtime.Scheme

	// Brokers provides admin-API clients for broker pods and external mirror
	// sources. Tests substitute fakes.
	Brokers logbus.AdminClients

	// StorageFor overrides object-storage construction for tiering. Nil
	// selects the S3 client built from the cluster's tieredStorage spec.
	StorageFor tiering.StorageFactory

	// Verifier checks image signatures before rollouts. Initialized in
	// SetupWithManager so its caches survive across reconciles.
	Verifier *security.ImageVerifier
}

// passResult carries per-pass data from the sub-reconcilers into the status
// reporter.
type passResult struct {
	infra           *infra.ReconcileResult
	gatewayDegraded bool
	rolling         recon.Result
}

// Reconcile moves the observed cluster state toward the declared spec. The
// pass is level-triggered end to end: every wait is expressed as a requeue
// and a pass over a converged cluster performs zero mutating API calls.
func (r *LogbusClusterReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	reconcileMetrics := NewReconcileMetrics(req.Namespace, req.Name, controllerName)
	startTime := time.Now()
	var reconcileErr error
	defer func() {
		reconcileMetrics.ObserveDuration(time.Since(startTime).Seconds())
		if reconcileErr != nil {
			// Low-cardinality reason; classification can grow later without
			// changing the metric shape.
			reconcileMetrics.IncrementError(constants.ReasonError)
		}
	}()

	logger := log.FromContext(ctx).WithValues(
		"cluster_namespace", req.Namespace,
		"cluster_name", req.Name,
		"controller", controllerName,
		"reconcile_id", time.Now().UnixNano(),
	)

	logger.Info("Reconciling LogbusCluster")

	cluster := &logbusv1alpha1.LogbusCluster{}
	if err := r.Get(ctx, req.NamespacedName, cluster); err != nil {
		if apierrors.IsNotFound(err) {
			logger.Info("LogbusCluster resource not found; assuming it was deleted")
			return ctrl.Result{}, nil
		}

		reconcileErr = fmt.Errorf("failed to get LogbusCluster %s/%s: %w", req.Namespace, req.Name, err)
		return ctrl.Result{}, reconcileErr
	}

	if !cluster.DeletionTimestamp.IsZero() {
		logger.Info("LogbusCluster is marked for deletion")
		if containsFinalizer(cluster.Finalizers, logbusv1alpha1.LogbusClusterFinalizer) {
			if err := r.handleDeletion(ctx, logger, cluster); err != nil {
				reconcileErr = err
				return ctrl.Result{}, reconcileErr
			}

			cluster.Finalizers = removeFinalizer(cluster.Finalizers, logbusv1alpha1.LogbusClusterFinalizer)
			if err := r.Update(ctx, cluster); err != nil {
				reconcileErr = fmt.Errorf("failed to remove finalizer from LogbusCluster %s/%s: %w", cluster.Namespace, cluster.Name, err)
				return ctrl.Result{}, reconcileErr
			}
		}

		return ctrl.Result{}, nil
	}

	if !containsFinalizer(cluster.Finalizers, logbusv1alpha1.LogbusClusterFinalizer) {
		cluster.Finalizers = append(cluster.Finalizers, logbusv1alpha1.LogbusClusterFinalizer)
		if err := r.Update(ctx, cluster); err != nil {
			reconcileErr = fmt.Errorf("failed to add finalizer to LogbusCluster %s/%s: %w", cluster.Namespace, cluster.Name, err)
			return ctrl.Result{}, reconcileErr
		}

		// Requeue to observe the resource with the finalizer attached.
		return ctrl.Result{}, nil
	}

	if cluster.Spec.Paused {
		logger.Info("Reconciliation is paused for LogbusCluster")
		if err := r.updateStatusForPaused(ctx, logger, cluster); err != nil {
			reconcileErr = err
			return ctrl.Result{}, reconcileErr
		}
		return ctrl.Result{}, nil
	}

	result, err := r.reconcilePass(ctx, logger, cluster)
	if err != nil {
		reconcileErr = err
		if requeue, after := operatorerrors.ShouldRequeue(err); requeue && after > 0 {
			logger.V(1).Info("Reconcile pass failed with a retryable error", "requeueAfter", after, "error", err)
			return ctrl.Result{RequeueAfter: after}, nil
		}
		return ctrl.Result{}, reconcileErr
	}

	return ctrl.Result{RequeueAfter: result.RequeueAfter}, nil
}

// reconcilePass runs one full reconcile over a live, non-paused cluster.
func (r *LogbusClusterReconciler) reconcilePass(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster) (recon.Result, error) {
	pass := &passResult{}

	if halted, err := r.reconcileValidation(ctx, logger, cluster); err != nil || halted {
		// An invalid spec is permanent until edited; only the safety net
		// requeue applies.
		return recon.Result{RequeueAfter: safetyNetRequeue()}, err
	}

	verifiedImageDigest, err := r.verifyImage(ctx, logger, cluster)
	if err != nil {
		return recon.Result{}, err
	}

	if err := r.reconcileInfra(ctx, logger, cluster, verifiedImageDigest, pass); err != nil {
		return recon.Result{}, err
	}

	if err := r.reconcileUpgrade(ctx, logger, cluster, pass); err != nil {
		return recon.Result{}, err
	}

	if err := r.reconcileMirroring(ctx, logger, cluster); err != nil {
		return recon.Result{}, err
	}

	if err := r.reconcileTiering(ctx, logger, cluster); err != nil {
		return recon.Result{}, err
	}

	if err := r.updateStatus(ctx, logger, cluster, pass); err != nil {
		return recon.Result{}, err
	}

	requeue := r.nextRequeue(cluster, pass)
	logger.V(1).Info("Reconciliation complete", "requeueAfter", requeue)
	return recon.Result{RequeueAfter: requeue}, nil
}

// reconcileValidation checks the spec semantically and, when a StatefulSet
// already exists, refuses storage shrinks. A validation failure is recorded
// on the Validated condition without advancing observedGeneration, so
// status.observedGeneration always names the last generation that actually
// reconciled.
func (r *LogbusClusterReconciler) reconcileValidation(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster) (bool, error) {
	err := validation.Validate(cluster)
	if err == nil {
		live := &appsv1.StatefulSet{}
		getErr := r.Get(ctx, types.NamespacedName{Namespace: cluster.Namespace, Name: cluster.Name}, live)
		switch {
		case getErr == nil:
			err = validation.ValidateStorageResize(cluster, live)
		case apierrors.IsNotFound(getErr):
			// First pass; nothing to compare against.
		default:
			return false, operatorerrors.WrapTransientAPI(fmt.Errorf("failed to get StatefulSet for resize validation: %w", getErr))
		}
	}

	if err != nil {
		if !operatorerrors.IsSpecValidation(err) {
			return false, err
		}

		logger.Info("Spec validation failed", "error", err)
		status.False(&cluster.Status.Conditions, cluster.Generation,
			string(logbusv1alpha1.ConditionValidated), reasonSpecInvalid, err.Error())
		if statusErr := r.writeStatus(ctx, cluster); statusErr != nil {
			return true, statusErr
		}
		return true, nil
	}

	status.True(&cluster.Status.Conditions, cluster.Generation,
		string(logbusv1alpha1.ConditionValidated), reasonSpecAccepted, "Spec passed semantic validation")
	return false, nil
}

// verifyImage runs the Cosign preflight when spec.imageVerification is
// enabled and returns the digest-pinned image reference. Verification
// failure blocks the pass; the pod template is never moved to an unverified
// image.
func (r *LogbusClusterReconciler) verifyImage(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster) (string, error) {
	if cluster.Spec.ImageVerification == nil || !cluster.Spec.ImageVerification.Enabled {
		return "", nil
	}

	var digest string
	var err error
	if r.Verifier != nil {
		config := security.VerifyConfig{
			PublicKey:        cluster.Spec.ImageVerification.PublicKey,
			IgnoreTlog:       cluster.Spec.ImageVerification.IgnoreTlog,
			ImagePullSecrets: cluster.Spec.ImagePullSecrets,
			Namespace:        cluster.Namespace,
		}
		digest, err = r.Verifier.Verify(ctx, cluster.Spec.Image, config)
	} else {
		digest, err = security.VerifyImageForCluster(ctx, logger, r.Client, cluster, cluster.Spec.Image)
	}
	if err != nil {
		status.True(&cluster.Status.Conditions, cluster.Generation,
			string(logbusv1alpha1.ConditionDegraded), reasonImageVerificationFailed,
			fmt.Sprintf("Image verification failed: %v", err))
		if statusErr := r.writeStatus(ctx, cluster); statusErr != nil {
			return "", statusErr
		}
		return "", operatorerrors.WrapExternalDependency(fmt.Errorf("image verification failed: %w", err))
	}

	logger.Info("Image verified", "digest", digest)
	return digest, nil
}

func (r *LogbusClusterReconciler) reconcileInfra(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster, verifiedImageDigest string, pass *passResult) error {
	logger.V(1).Info("Reconciling infrastructure for LogbusCluster")

	manager := infra.NewManager(r.Client, r.Scheme)
	result, err := manager.Reconcile(ctx, logger, cluster, verifiedImageDigest)
	pass.infra = result

	if err != nil {
		if errors.Is(err, infra.ErrGatewayAPIMissing) {
			// Everything except the TCPRoute converged; report and carry on.
			status.True(&cluster.Status.Conditions, cluster.Generation,
				string(logbusv1alpha1.ConditionDegraded), reasonGatewayAPIMissing,
				"Gateway API CRDs are not installed but spec.gateway.enabled is true; install the CRDs or disable spec.gateway to clear this condition")
			pass.gatewayDegraded = true
			return nil
		}

		status.False(&cluster.Status.Conditions, cluster.Generation,
			string(logbusv1alpha1.ConditionInfrastructureReady), reasonInfrastructureError,
			fmt.Sprintf("Failed to reconcile owned objects: %v", err))
		if statusErr := r.writeStatus(ctx, cluster); statusErr != nil {
			logger.Error(statusErr, "Failed to record infrastructure error in status")
		}
		return err
	}

	status.True(&cluster.Status.Conditions, cluster.Generation,
		string(logbusv1alpha1.ConditionInfrastructureReady), reasonInfrastructureApplied,
		"All owned objects match the desired state")
	return nil
}

func (r *LogbusClusterReconciler) reconcileUpgrade(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster, pass *passResult) error {
	logger.V(1).Info("Reconciling rolling upgrade for LogbusCluster")

	manager := rolling.NewManager(r.Client, r.Scheme, r.Brokers)
	result, err := manager.Reconcile(ctx, logger, cluster)
	pass.rolling = result
	return err
}

func (r *LogbusClusterReconciler) reconcileMirroring(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster) error {
	logger.V(1).Info("Reconciling mirroring for LogbusCluster")

	manager := mirror.NewManager(r.Client, r.Scheme, r.Brokers)
	return manager.Reconcile(ctx, logger, cluster)
}

func (r *LogbusClusterReconciler) reconcileTiering(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster) error {
	logger.V(1).Info("Reconciling tiered storage for LogbusCluster")

	manager := tiering.NewManager(r.Client, r.Scheme, r.Brokers, r.StorageFor)
	return manager.Reconcile(ctx, logger, cluster)
}

// nextRequeue picks the tightest interval the pass needs. The safety net
// catches drift on otherwise idle clusters; active mirroring, pending
// archival, and in-flight upgrades all want faster passes.
func (r *LogbusClusterReconciler) nextRequeue(cluster *logbusv1alpha1.LogbusCluster, pass *passResult) time.Duration {
	requeue := safetyNetRequeue()

	if pass.rolling.RequeueAfter > 0 && pass.rolling.RequeueAfter < requeue {
		requeue = pass.rolling.RequeueAfter
	}

	if mirroringConfigured(cluster) && constants.RequeueShort < requeue {
		requeue = constants.RequeueShort
	}

	if tieringPending(cluster) && constants.RequeueStandard < requeue {
		requeue = constants.RequeueStandard
	}

	return requeue
}

// safetyNetRequeue returns the drift-detection interval with jitter so
// many clusters reconciled by one operator do not requeue in lockstep.
func safetyNetRequeue() time.Duration {
	jitterNanos := time.Now().UnixNano() % int64(constants.RequeueSafetyNetJitter)
	return constants.RequeueSafetyNetBase + time.Duration(jitterNanos)
}

func mirroringConfigured(cluster *logbusv1alpha1.LogbusCluster) bool {
	return cluster.Spec.Mirroring != nil && len(cluster.Spec.Mirroring.Sources) > 0
}

// tieringPending reports whether archival work is outstanding: segments
// still hot or mid-upload while tiering is enabled.
func tieringPending(cluster *logbusv1alpha1.LogbusCluster) bool {
	if cluster.Spec.TieredStorage == nil || !cluster.Spec.TieredStorage.Enabled {
		return false
	}
	t := cluster.Status.Tiering
	if t == nil {
		return true
	}
	return t.HotSegments > 0 || t.UploadingSegments > 0
}

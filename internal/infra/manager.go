// Package infra compiles a LogbusCluster spec into its owned Kubernetes
// objects and keeps them converged.
//
// The compile step is pure and deterministic: the same spec always yields
// byte-identical desired objects, with defaulting done explicitly in the
// builders rather than left to API-server defaulting. Convergence is driven
// by a content hash recorded on every owned object (see apply.go); a pass
// over an already-converged cluster performs zero mutating API calls.
package infra

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/brokerconfig"
	"github.com/logbus-io/logbus-operator/internal/constants"
	"github.com/logbus-io/logbus-operator/internal/revision"
)

const (
	configVolumeName = constants.VolumeConfig
	dataVolumeName   = constants.VolumeData

	logbusConfigMountPath = constants.PathConfig
	logbusDataPath        = constants.PathData
	logbusBinaryName      = constants.BinaryNameLogbus

	// Logbus images run as a fixed non-root user. The pod security context
	// pins these IDs so data files on the PVC stay readable across image
	// updates even if the image metadata changes.
	logbusUserID  = int64(1000)
	logbusGroupID = int64(1000)

	// terminationGracePeriodSeconds leaves the broker enough time to close
	// open segments and hand off partition leadership on shutdown.
	terminationGracePeriodSeconds = int64(120)
)

// Manager compiles and reconciles the owned Kubernetes objects for a
// LogbusCluster: the broker StatefulSet, headless and client Services, the
// rendered configuration ConfigMap, and the optional TCPRoute and
// ServiceMonitor.
type Manager struct {
	client client.Client
	scheme *runtime.Scheme
}

// NewManager constructs a Manager that uses the provided Kubernetes client.
// The scheme is used to set owner references on owned objects for garbage
// collection.
func NewManager(c client.Client, scheme *runtime.Scheme) *Manager {
	return &Manager{
		client: c,
		scheme: scheme,
	}
}

// ReconcileResult carries the identifiers derived from the compiled desired
// state. Callers use Revision to detect pending rolling upgrades and
// ConfigHash to report the active configuration revision in status.
type ReconcileResult struct {
	// Revision identifies the desired pod template. It changes when the
	// image, version, or rendered configuration changes, and never when only
	// the replica count changes.
	Revision string

	// ConfigHash is the hash of the rendered broker configuration.
	ConfigHash string
}

// Reconcile ensures every owned object matches the state compiled from the
// given LogbusCluster.
//
// verifiedImageDigest is the digest-pinned image reference produced by image
// verification (for example "ghcr.io/logbus-io/logbus@sha256:..."); when
// non-empty it replaces the tag-based reference in the pod template. Empty
// means verification is disabled.
//
// Objects are applied in dependency order: configuration first, then
// Services, then the StatefulSet. Optional objects (TCPRoute, ServiceMonitor)
// are reconciled last so that deletions of no-longer-desired optionals always
// happen after the creates and updates of the same pass.
//
// A missing Gateway API installation while spec.gateway.enabled is true is
// reported as ErrGatewayAPIMissing after all other objects have been
// reconciled; callers surface it as a degraded condition rather than aborting
// the pass.
func (m *Manager) Reconcile(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster, verifiedImageDigest string) (*ReconcileResult, error) {
	infraDetails := brokerconfig.InfrastructureDetails{
		HeadlessServiceName: headlessServiceName(cluster),
		Namespace:           cluster.Namespace,
		ClientPort:          constants.PortClient,
		InterBrokerPort:     constants.PortInterBroker,
	}

	renderedConfig, err := brokerconfig.RenderHCL(cluster, infraDetails)
	if err != nil {
		return nil, fmt.Errorf("failed to render config.hcl for LogbusCluster %s/%s: %w", cluster.Namespace, cluster.Name, err)
	}

	configContent := string(renderedConfig)
	configHash := computeConfigHash(configContent)
	rev := revision.LogbusClusterRevision(cluster.Spec.Image, cluster.Spec.Version, configHash)

	result := &ReconcileResult{
		Revision:   rev,
		ConfigHash: configHash,
	}

	if err := m.ensureConfigMap(ctx, logger, cluster, configContent); err != nil {
		return result, err
	}

	if err := m.ensureHeadlessService(ctx, logger, cluster); err != nil {
		return result, err
	}

	if err := m.ensureClientService(ctx, logger, cluster); err != nil {
		return result, err
	}

	if err := m.ensureStatefulSet(ctx, logger, cluster, configHash, rev, verifiedImageDigest); err != nil {
		return result, err
	}

	if err := m.ensureServiceMonitor(ctx, logger, cluster); err != nil {
		return result, err
	}

	if err := m.ensureTCPRoute(ctx, logger, cluster); err != nil {
		return result, err
	}

	return result, nil
}

// Cleanup removes resources that owner-reference garbage collection does not
// cover when a LogbusCluster is deleted. Owned objects (StatefulSet,
// Services, ConfigMaps, routes) are cascade-deleted by Kubernetes; the data
// PVCs created from the StatefulSet volume claim template are not.
//
// PVCs are only removed under DeletionPolicyDelete. Under Retain they are
// left in place so the log data survives the cluster object.
//
// It is safe to call Cleanup multiple times; missing resources are treated as
// already deleted.
func (m *Manager) Cleanup(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster, policy logbusv1alpha1.DeletionPolicy) error {
	if policy == "" {
		policy = logbusv1alpha1.DeletionPolicyRetain
	}

	logger = logger.WithValues("deletionPolicy", string(policy))

	if policy != logbusv1alpha1.DeletionPolicyDelete {
		logger.Info("Retaining data PVCs for deleted LogbusCluster")
		return nil
	}

	logger.Info("Deleting data PVCs for deleted LogbusCluster")
	if err := m.deletePVCs(ctx, cluster); err != nil {
		return fmt.Errorf("failed to delete PVCs for LogbusCluster %s/%s: %w", cluster.Namespace, cluster.Name, err)
	}

	return nil
}

// deletePVCs removes the data PersistentVolumeClaims created from the
// StatefulSet volume claim template.
func (m *Manager) deletePVCs(ctx context.Context, cluster *logbusv1alpha1.LogbusCluster) error {
	var pvcList corev1.PersistentVolumeClaimList
	if err := m.client.List(ctx, &pvcList,
		client.InNamespace(cluster.Namespace),
		client.MatchingLabels(map[string]string{
			constants.LabelLogbusCluster: cluster.Name,
		}),
	); err != nil {
		return err
	}

	for i := range pvcList.Items {
		pvc := &pvcList.Items[i]
		if err := m.client.Delete(ctx, pvc); err != nil && !apierrors.IsNotFound(err) {
			return err
		}
	}

	return nil
}

// Helper functions used across multiple files

func infraLabels(cluster *logbusv1alpha1.LogbusCluster) map[string]string {
	return map[string]string{
		constants.LabelAppName:       constants.LabelValueAppNameLogbus,
		constants.LabelAppInstance:   cluster.Name,
		constants.LabelAppManagedBy:  constants.LabelValueAppManagedByLogbusOperator,
		constants.LabelLogbusCluster: cluster.Name,
	}
}

// podSelectorLabels returns the labels the StatefulSet selector and the
// Services match pods on. The set is deliberately stable: it never includes
// the revision label, because the selector is immutable and Services must
// keep routing to old-revision pods during a rolling upgrade.
func podSelectorLabels(cluster *logbusv1alpha1.LogbusCluster) map[string]string {
	labels := infraLabels(cluster)
	labels[constants.LabelLogbusComponent] = constants.LabelValueComponentBroker
	return labels
}

// podTemplateLabels returns the full pod template label set: the selector
// labels, the pod-template revision, and any user-supplied pod labels.
// Operator-owned keys always win over user labels.
func podTemplateLabels(cluster *logbusv1alpha1.LogbusCluster, rev string) map[string]string {
	labels := make(map[string]string, len(cluster.Spec.PodLabels)+6)
	for k, v := range cluster.Spec.PodLabels {
		labels[k] = v
	}
	for k, v := range podSelectorLabels(cluster) {
		labels[k] = v
	}
	labels[constants.LabelLogbusRevision] = rev
	return labels
}

func configMapName(cluster *logbusv1alpha1.LogbusCluster) string {
	return cluster.Name + constants.SuffixConfigMap
}

func headlessServiceName(cluster *logbusv1alpha1.LogbusCluster) string {
	return cluster.Name + constants.SuffixHeadless
}

func clientServiceName(cluster *logbusv1alpha1.LogbusCluster) string {
	return cluster.Name
}

func statefulSetName(cluster *logbusv1alpha1.LogbusCluster) string {
	return cluster.Name
}

func tcpRouteName(cluster *logbusv1alpha1.LogbusCluster) string {
	return cluster.Name
}

func serviceMonitorName(cluster *logbusv1alpha1.LogbusCluster) string {
	return cluster.Name
}

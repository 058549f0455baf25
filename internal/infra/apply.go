package infra

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/constants"
	operatorerrors "github.com/logbus-io/logbus-operator/internal/errors"
	"github.com/logbus-io/logbus-operator/internal/kube"
)

// computeConfigHash returns the hex-encoded sha256 of the rendered broker
// configuration. The hash is stamped onto the pod template as an annotation
// so configuration changes roll the StatefulSet.
func computeConfigHash(configContent string) string {
	sum := sha256.Sum256([]byte(configContent))
	return hex.EncodeToString(sum[:])
}

// computeAppliedHash returns the hex-encoded sha256 of the object's
// reconciler-managed content. The applied-hash annotation itself is excluded
// so the hash stays stable across passes.
//
// Desired objects are built fresh on every pass with explicit defaults and
// only the fields this operator manages, so hashing the serialized form is
// equivalent to hashing the managed field set. encoding/json emits map keys
// in sorted order, which keeps the hash deterministic for labels and
// annotations.
func computeAppliedHash(obj client.Object) (string, error) {
	copied, ok := obj.DeepCopyObject().(client.Object)
	if !ok {
		return "", fmt.Errorf("object %T does not implement client.Object after deep copy", obj)
	}

	if annotations := copied.GetAnnotations(); annotations != nil {
		delete(annotations, constants.AnnotationAppliedHash)
		copied.SetAnnotations(annotations)
	}

	// The upgrade walk owns spec.updateStrategy (the rolling-update
	// partition). Clear it before hashing so partition movements between
	// passes never make an otherwise-converged StatefulSet look dirty.
	if sts, ok := copied.(*appsv1.StatefulSet); ok {
		sts.Spec.UpdateStrategy = appsv1.StatefulSetUpdateStrategy{}
	}

	raw, err := json.Marshal(copied)
	if err != nil {
		return "", fmt.Errorf("failed to serialize %T for hashing: %w", obj, err)
	}

	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// getLive fetches the current cluster state of the named object into the
// provided value and returns it. A nil object (without error) means the
// object does not exist.
func (m *Manager) getLive(ctx context.Context, key types.NamespacedName, into client.Object) (client.Object, error) {
	if err := m.client.Get(ctx, key, into); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, nil
		}
		if operatorerrors.IsTransientAPI(err) {
			return nil, operatorerrors.WrapTransientAPI(fmt.Errorf("failed to get %s/%s: %w", key.Namespace, key.Name, err))
		}
		return nil, fmt.Errorf("failed to get %s/%s: %w", key.Namespace, key.Name, err)
	}
	return into, nil
}

// applyObject converges one owned object using Server-Side Apply.
//
// live is the current cluster state of the object, or nil when it does not
// exist; callers fetch it themselves because several of them also need to
// inspect live fields (the StatefulSet path reads the live volume claim for
// resize validation). The applied-hash annotation on the live object gates
// the write: when it matches the hash of the freshly built desired content,
// the pass performs no mutating API call for this object.
//
// An existing object whose controller owner-reference points at anything
// other than cluster is never adopted or modified. The conflict surfaces as
// ErrOwnershipConflict and stays until an operator resolves it by hand.
func (m *Manager) applyObject(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster, desired client.Object, live client.Object) error {
	if err := controllerutil.SetControllerReference(cluster, desired, m.scheme); err != nil {
		return fmt.Errorf("failed to set owner reference on %s/%s: %w", desired.GetNamespace(), desired.GetName(), err)
	}

	hash, err := computeAppliedHash(desired)
	if err != nil {
		return err
	}

	kind := desired.GetObjectKind().GroupVersionKind().Kind

	if live != nil {
		if owner := metav1.GetControllerOf(live); owner != nil && owner.UID != cluster.UID {
			return operatorerrors.WrapOwnershipConflict(fmt.Errorf(
				"%s %s/%s is controlled by %s %q; refusing to adopt or modify it",
				kind, desired.GetNamespace(), desired.GetName(), owner.Kind, owner.Name))
		}

		if live.GetAnnotations()[constants.AnnotationAppliedHash] == hash {
			logger.V(1).Info("Object already converged; skipping apply", "kind", kind, "name", desired.GetName())
			return nil
		}
	}

	annotations := desired.GetAnnotations()
	if annotations == nil {
		annotations = make(map[string]string, 1)
	}
	annotations[constants.AnnotationAppliedHash] = hash
	desired.SetAnnotations(annotations)

	var lastErr error
	for attempt := 1; attempt <= constants.ApplyConflictRetries; attempt++ {
		// Apply patches carry no resourceVersion precondition; strip anything
		// a previous round-trip may have populated before retrying.
		desired.SetResourceVersion("")

		err := m.applyOnce(ctx, desired)
		if err == nil {
			if attempt > 1 {
				logger.V(1).Info("Apply succeeded after conflict retry", "kind", kind, "name", desired.GetName(), "attempt", attempt)
			}
			return nil
		}

		if apierrors.IsConflict(err) {
			lastErr = err
			continue
		}

		if operatorerrors.IsTransientAPI(err) {
			return operatorerrors.WrapTransientAPI(fmt.Errorf("failed to apply %s %s/%s: %w", kind, desired.GetNamespace(), desired.GetName(), err))
		}
		return fmt.Errorf("failed to apply %s %s/%s: %w", kind, desired.GetNamespace(), desired.GetName(), err)
	}

	return operatorerrors.WrapTransientAPI(fmt.Errorf(
		"apply of %s %s/%s kept conflicting after %d attempts: %w",
		kind, desired.GetNamespace(), desired.GetName(), constants.ApplyConflictRetries, lastErr))
}

// applyOnce performs a single Server-Side Apply of the desired object.
// Typed objects go through the apply patch; unstructured content (optional
// CRD-backed objects like the ServiceMonitor) goes through the
// ApplyConfiguration form, which keeps the explicit GVK intact.
func (m *Manager) applyOnce(ctx context.Context, desired client.Object) error {
	if u, ok := desired.(*unstructured.Unstructured); ok {
		applyConfig, err := kube.ToApplyConfiguration(u, nil)
		if err != nil {
			return err
		}
		return m.client.Apply(ctx, applyConfig,
			client.ForceOwnership,
			client.FieldOwner(constants.FieldManager),
		)
	}

	return m.client.Patch(ctx, desired, client.Apply,
		client.ForceOwnership,
		client.FieldOwner(constants.FieldManager),
	)
}

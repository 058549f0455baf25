package security

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
)

// VerifyImageForCluster verifies an image reference using the cluster's
// ImageVerification configuration and returns a digest reference
// ("repo@sha256:...") suitable for pinning in the pod template. When image
// verification is disabled it returns an empty digest and a nil error.
func VerifyImageForCluster(ctx context.Context, logger logr.Logger, k8sClient client.Client, cluster *logbusv1alpha1.LogbusCluster, imageRef string) (string, error) {
	if cluster == nil {
		return "", fmt.Errorf("cluster is required")
	}
	if cluster.Spec.ImageVerification == nil || !cluster.Spec.ImageVerification.Enabled {
		return "", nil
	}
	if imageRef == "" {
		return "", fmt.Errorf("image reference is required")
	}
	if cluster.Spec.ImageVerification.PublicKey == "" {
		return "", fmt.Errorf("image verification is enabled but no public key is provided")
	}

	verifier := NewImageVerifier(logger, k8sClient)
	config := VerifyConfig{
		PublicKey:        cluster.Spec.ImageVerification.PublicKey,
		IgnoreTlog:       cluster.Spec.ImageVerification.IgnoreTlog,
		ImagePullSecrets: cluster.Spec.ImagePullSecrets,
		Namespace:        cluster.Namespace,
	}

	return verifier.Verify(ctx, imageRef, config)
}

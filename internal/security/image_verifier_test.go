package security

import (
	"context"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
)

func TestVerifyRequiresPublicKey(t *testing.T) {
	verifier := NewImageVerifier(logr.Discard(), fake.NewClientBuilder().Build())

	_, err := verifier.Verify(context.Background(), "ghcr.io/logbus-io/logbus:1.4.2", VerifyConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "public key is required")
}

func TestVerifyRejectsMalformedReference(t *testing.T) {
	verifier := NewImageVerifier(logr.Discard(), fake.NewClientBuilder().Build())

	_, err := verifier.Verify(context.Background(), "not a valid ref!", VerifyConfig{PublicKey: "key"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse image reference")
}

func TestVerifyImageForClusterDisabled(t *testing.T) {
	cluster := &logbusv1alpha1.LogbusCluster{
		ObjectMeta: metav1.ObjectMeta{Name: "primary", Namespace: "default"},
		Spec: logbusv1alpha1.LogbusClusterSpec{
			Image:   "ghcr.io/logbus-io/logbus:1.4.2",
			Version: "1.4.2",
		},
	}

	digest, err := VerifyImageForCluster(context.Background(), logr.Discard(), fake.NewClientBuilder().Build(), cluster, cluster.Spec.Image)
	require.NoError(t, err)
	assert.Empty(t, digest)
}

func TestVerifyImageForClusterRequiresKey(t *testing.T) {
	cluster := &logbusv1alpha1.LogbusCluster{
		ObjectMeta: metav1.ObjectMeta{Name: "primary", Namespace: "default"},
		Spec: logbusv1alpha1.LogbusClusterSpec{
			Image:             "ghcr.io/logbus-io/logbus:1.4.2",
			Version:           "1.4.2",
			ImageVerification: &logbusv1alpha1.ImageVerificationSpec{Enabled: true},
		},
	}

	_, err := VerifyImageForCluster(context.Background(), logr.Discard(), fake.NewClientBuilder().Build(), cluster, cluster.Spec.Image)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no public key")
}

func TestVerificationCache(t *testing.T) {
	cache := newVerificationCache()

	assert.False(t, cache.isVerified("repo@sha256:abc", "key-a"))

	cache.markVerified("repo@sha256:abc", "key-a")
	assert.True(t, cache.isVerified("repo@sha256:abc", "key-a"))

	// A different key must re-verify the same digest.
	assert.False(t, cache.isVerified("repo@sha256:abc", "key-b"))
}

func TestBuildKeychainMergesSecrets(t *testing.T) {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "registry-creds", Namespace: "default"},
		Type:       corev1.SecretTypeDockerConfigJson,
		Data: map[string][]byte{
			corev1.DockerConfigJsonKey: []byte(`{"auths":{"ghcr.io":{"username":"ci","password":"hunter2"}}}`),
		},
	}
	c := fake.NewClientBuilder().WithObjects(secret).Build()
	verifier := NewImageVerifier(logr.Discard(), c)

	keychain, err := verifier.buildKeychain(context.Background(),
		[]corev1.LocalObjectReference{{Name: "registry-creds"}}, "default")
	require.NoError(t, err)
	require.NotNil(t, keychain)

	dck, ok := keychain.(*dockerConfigKeychain)
	require.True(t, ok)
	assert.Equal(t, "ci", dck.auths["ghcr.io"].Username)
}

func TestBuildKeychainRejectsWrongSecretType(t *testing.T) {
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "registry-creds", Namespace: "default"},
		Type:       corev1.SecretTypeOpaque,
		Data:       map[string][]byte{"foo": []byte("bar")},
	}
	c := fake.NewClientBuilder().WithObjects(secret).Build()
	verifier := NewImageVerifier(logr.Discard(), c)

	_, err := verifier.buildKeychain(context.Background(),
		[]corev1.LocalObjectReference{{Name: "registry-creds"}}, "default")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected")
}

func TestBuildKeychainNoSecrets(t *testing.T) {
	verifier := NewImageVerifier(logr.Discard(), fake.NewClientBuilder().Build())

	keychain, err := verifier.buildKeychain(context.Background(), nil, "default")
	require.NoError(t, err)
	assert.Nil(t, keychain)
}

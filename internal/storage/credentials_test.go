package storage

import (
	"context"
	"strings"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
)

var testScheme = func() *runtime.Scheme {
	scheme := runtime.NewScheme()
	_ = clientgoscheme.AddToScheme(scheme)
	return scheme
}()

func newTestClient(t *testing.T, objs ...client.Object) client.Client {
	t.Helper()
	builder := fake.NewClientBuilder().WithScheme(testScheme)
	if len(objs) > 0 {
		builder = builder.WithObjects(objs...)
	}
	return builder.Build()
}

func TestLoadCredentials_EmptyName(t *testing.T) {
	ctx := context.Background()
	k8sClient := newTestClient(t)

	creds, err := LoadCredentials(ctx, k8sClient, "", "default")
	if err != nil {
		t.Fatalf("LoadCredentials() with empty name should not error, got: %v", err)
	}
	if creds != nil {
		t.Fatalf("LoadCredentials() with empty name should return nil, got: %+v", creds)
	}
}

func TestLoadCredentials_SecretNotFound(t *testing.T) {
	ctx := context.Background()
	k8sClient := newTestClient(t)

	_, err := LoadCredentials(ctx, k8sClient, "missing", "default")
	if err == nil {
		t.Fatal("LoadCredentials() should error when Secret is missing")
	}
}

func TestLoadCredentials_FullSecret(t *testing.T) {
	ctx := context.Background()
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "archive-creds", Namespace: "default"},
		Data: map[string][]byte{
			SecretKeyAccessKeyID:     []byte("AKIAEXAMPLE"),
			SecretKeySecretAccessKey: []byte("secret"),
			SecretKeySessionToken:    []byte("token"),
			SecretKeyRegion:          []byte("eu-west-1"),
			SecretKeyCACert:          []byte("-----BEGIN CERTIFICATE-----"),
		},
	}
	k8sClient := newTestClient(t, secret)

	creds, err := LoadCredentials(ctx, k8sClient, "archive-creds", "default")
	if err != nil {
		t.Fatalf("LoadCredentials() error = %v", err)
	}
	if creds.AccessKeyID != "AKIAEXAMPLE" {
		t.Errorf("AccessKeyID = %q, want %q", creds.AccessKeyID, "AKIAEXAMPLE")
	}
	if creds.SecretAccessKey != "secret" {
		t.Errorf("SecretAccessKey = %q, want %q", creds.SecretAccessKey, "secret")
	}
	if creds.SessionToken != "token" {
		t.Errorf("SessionToken = %q, want %q", creds.SessionToken, "token")
	}
	if creds.Region != "eu-west-1" {
		t.Errorf("Region = %q, want %q", creds.Region, "eu-west-1")
	}
	if len(creds.CACert) == 0 {
		t.Error("CACert should be loaded")
	}
}

func TestLoadCredentials_HalfPairRejected(t *testing.T) {
	ctx := context.Background()
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "archive-creds", Namespace: "default"},
		Data: map[string][]byte{
			SecretKeyAccessKeyID: []byte("AKIAEXAMPLE"),
		},
	}
	k8sClient := newTestClient(t, secret)

	_, err := LoadCredentials(ctx, k8sClient, "archive-creds", "default")
	if err == nil {
		t.Fatal("LoadCredentials() should reject an access key without a secret key")
	}
	if !strings.Contains(err.Error(), "must contain both") {
		t.Errorf("error should explain the pairing requirement, got: %v", err)
	}
}

func TestLoadCredentials_EmptySecretAllowsDefaultChain(t *testing.T) {
	ctx := context.Background()
	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "archive-creds", Namespace: "default"},
	}
	k8sClient := newTestClient(t, secret)

	creds, err := LoadCredentials(ctx, k8sClient, "archive-creds", "default")
	if err != nil {
		t.Fatalf("LoadCredentials() error = %v", err)
	}
	if creds == nil {
		t.Fatal("LoadCredentials() should return non-nil creds for an existing Secret")
	}
	if creds.AccessKeyID != "" || creds.SecretAccessKey != "" {
		t.Error("empty Secret should yield empty static credentials")
	}
}

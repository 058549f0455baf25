package storage

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// SecretKey constants define the expected keys in credentials Secrets.
const (
	// SecretKeyAccessKeyID is the key for the access key ID.
	SecretKeyAccessKeyID = "accessKeyId"
	// SecretKeySecretAccessKey is the key for the secret access key.
	SecretKeySecretAccessKey = "secretAccessKey"
	// SecretKeySessionToken is the optional key for session tokens.
	SecretKeySessionToken = "sessionToken"
	// SecretKeyRegion is the optional key for region override.
	SecretKeyRegion = "region"
	// SecretKeyCACert is the optional key for a custom CA certificate.
	SecretKeyCACert = "caCert"
)

// Credentials holds the parsed credentials from a Kubernetes Secret.
type Credentials struct {
	// AccessKeyID is the access key for authentication.
	AccessKeyID string
	// SecretAccessKey is the secret key for authentication.
	SecretAccessKey string
	// SessionToken is an optional session token for temporary credentials.
	SessionToken string
	// Region is an optional region override.
	Region string
	// CACert is an optional PEM-encoded CA certificate.
	CACert []byte
}

// LoadCredentials loads storage credentials from a Kubernetes Secret in the
// given namespace. Cross-namespace references are not allowed. If secretName
// is empty, returns nil, indicating the default credential chain should be
// used.
func LoadCredentials(ctx context.Context, c client.Client, secretName, namespace string) (*Credentials, error) {
	if secretName == "" {
		return nil, nil
	}

	secret := &corev1.Secret{}
	if err := c.Get(ctx, types.NamespacedName{
		Namespace: namespace,
		Name:      secretName,
	}, secret); err != nil {
		return nil, fmt.Errorf("failed to get credentials Secret %s/%s: %w", namespace, secretName, err)
	}

	creds := &Credentials{}

	// The static keys may legitimately be absent when workload identity is in
	// use; only reject half-specified pairs.
	if v, ok := secret.Data[SecretKeyAccessKeyID]; ok {
		creds.AccessKeyID = string(v)
	}
	if v, ok := secret.Data[SecretKeySecretAccessKey]; ok {
		creds.SecretAccessKey = string(v)
	}

	if (creds.AccessKeyID != "" && creds.SecretAccessKey == "") ||
		(creds.AccessKeyID == "" && creds.SecretAccessKey != "") {
		return nil, fmt.Errorf("credentials Secret %s/%s must contain both %s and %s, or neither",
			namespace, secretName, SecretKeyAccessKeyID, SecretKeySecretAccessKey)
	}

	if v, ok := secret.Data[SecretKeySessionToken]; ok {
		creds.SessionToken = string(v)
	}
	if v, ok := secret.Data[SecretKeyRegion]; ok {
		creds.Region = string(v)
	}
	if v, ok := secret.Data[SecretKeyCACert]; ok {
		creds.CACert = v
	}

	return creds, nil
}

// NewS3ClientFromCredentials creates a new S3Client using loaded credentials.
// If creds is nil, the client uses the default credential chain. A region
// from the Secret overrides the spec region; if neither is set the client
// falls back to us-east-1, which S3-compatible stores accept.
func NewS3ClientFromCredentials(ctx context.Context, endpoint, bucket, region string, creds *Credentials, usePathStyle bool) (*S3Client, error) {
	cfg := S3ClientConfig{
		Endpoint:     endpoint,
		Bucket:       bucket,
		Region:       region,
		UsePathStyle: usePathStyle,
	}

	if creds != nil {
		cfg.AccessKeyID = creds.AccessKeyID
		cfg.SecretAccessKey = creds.SecretAccessKey
		cfg.SessionToken = creds.SessionToken
		cfg.CACert = creds.CACert
		if creds.Region != "" {
			cfg.Region = creds.Region
		}
	}

	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	return NewS3Client(ctx, cfg)
}

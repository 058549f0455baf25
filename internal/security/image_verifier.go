// Package security verifies broker container images with Cosign before the
// operator rolls them out. Verification resolves the tag to a digest so the
// StatefulSet can pin exactly the bytes that were verified.
package security

import (
	"context"
	"crypto"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	ggcrremote "github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/sigstore/cosign/v3/pkg/cosign"
	ociremote "github.com/sigstore/cosign/v3/pkg/oci/remote"
	"github.com/sigstore/cosign/v3/pkg/signature"
	"github.com/sigstore/sigstore-go/pkg/root"
	"github.com/sigstore/sigstore-go/pkg/tuf"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// VerifyConfig carries the per-cluster verification parameters.
type VerifyConfig struct {
	// PublicKey is the PEM-encoded Cosign public key the image signature
	// must verify against.
	PublicKey string
	// IgnoreTlog skips transparency-log verification. Air-gapped clusters
	// that sign with a static key cannot reach Rekor.
	IgnoreTlog bool
	// ImagePullSecrets authenticate against private registries.
	ImagePullSecrets []corev1.LocalObjectReference
	// Namespace is where the pull secrets live.
	Namespace string
}

// ImageVerifier verifies container image signatures using Cosign. Verified
// digests are cached in memory so a converged cluster does not hit the
// registry on every reconcile pass.
type ImageVerifier struct {
	logger logr.Logger
	cache  *verificationCache
	client client.Client

	trustedOnce     sync.Once
	trustedMaterial root.TrustedMaterial
	trustedErr      error
}

// NewImageVerifier creates an ImageVerifier. The client is used to read
// ImagePullSecrets for private registry authentication.
func NewImageVerifier(logger logr.Logger, k8sClient client.Client) *ImageVerifier {
	return &ImageVerifier{
		logger: logger,
		cache:  newVerificationCache(),
		client: k8sClient,
	}
}

// Verify checks the signature of imageRef against the configured public key
// and returns the resolved digest reference (for example
// "ghcr.io/logbus-io/logbus@sha256:..."). The digest is what callers should
// pin in pod templates so the verified bytes and the running bytes cannot
// diverge between verification and rollout.
func (v *ImageVerifier) Verify(ctx context.Context, imageRef string, config VerifyConfig) (string, error) {
	if config.PublicKey == "" {
		return "", fmt.Errorf("public key is required for image verification")
	}

	ref, err := name.ParseReference(imageRef)
	if err != nil {
		return "", fmt.Errorf("failed to parse image reference %q: %w", imageRef, err)
	}

	keychain, err := v.buildKeychain(ctx, config.ImagePullSecrets, config.Namespace)
	if err != nil {
		return "", fmt.Errorf("failed to build keychain for image pull secrets: %w", err)
	}

	digest, err := v.resolveDigest(ref, keychain)
	if err != nil {
		return "", fmt.Errorf("failed to resolve digest for %q: %w", imageRef, err)
	}

	if v.cache.isVerified(digest, config.PublicKey) {
		v.logger.V(1).Info("Image verification cache hit", "digest", digest)
		return digest, nil
	}

	v.logger.Info("Verifying image signature", "image", imageRef, "ignoreTlog", config.IgnoreTlog)
	if err := v.verifySignatures(ctx, ref, keychain, config); err != nil {
		return "", fmt.Errorf("image verification failed for %q: %w", imageRef, err)
	}

	v.cache.markVerified(digest, config.PublicKey)
	v.logger.Info("Image verification succeeded", "image", imageRef, "digest", digest)

	return digest, nil
}

func (v *ImageVerifier) verifySignatures(ctx context.Context, ref name.Reference, keychain authn.Keychain, config VerifyConfig) error {
	verifier, err := signature.LoadPublicKeyRaw([]byte(config.PublicKey), crypto.SHA256)
	if err != nil {
		return fmt.Errorf("failed to create verifier from public key: %w", err)
	}

	var remoteOpts []ociremote.Option
	if keychain != nil {
		remoteOpts = append(remoteOpts, ociremote.WithRemoteOptions(ggcrremote.WithAuthFromKeychain(keychain)))
	}

	co := &cosign.CheckOpts{
		SigVerifier:        verifier,
		IgnoreTlog:         config.IgnoreTlog,
		RegistryClientOpts: remoteOpts,
	}

	if !config.IgnoreTlog {
		material, err := v.trusted()
		if err != nil {
			return fmt.Errorf("failed to load sigstore trusted root for transparency log verification: %w", err)
		}
		co.TrustedMaterial = material
	}

	sigs, bundleVerified, err := cosign.VerifyImageSignatures(ctx, ref, co)
	if err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	if len(sigs) == 0 {
		return fmt.Errorf("no signatures found")
	}

	v.logger.V(1).Info("Image signatures verified",
		"image", ref.String(),
		"signatures", len(sigs),
		"bundleVerified", bundleVerified,
		"rekorVerified", !config.IgnoreTlog)

	return nil
}

// trusted fetches the sigstore trusted root via TUF once per process. The
// result is shared across clusters since the trusted root is global.
func (v *ImageVerifier) trusted() (root.TrustedMaterial, error) {
	v.trustedOnce.Do(func() {
		opts := tuf.DefaultOptions()
		v.trustedMaterial, v.trustedErr = root.FetchTrustedRootWithOptions(opts)
	})
	return v.trustedMaterial, v.trustedErr
}

// resolveDigest turns a tag reference into a digest reference with a registry
// HEAD request. A reference that is already a digest is returned as is.
func (v *ImageVerifier) resolveDigest(ref name.Reference, keychain authn.Keychain) (string, error) {
	if d, ok := ref.(name.Digest); ok {
		return d.String(), nil
	}

	var opts []ggcrremote.Option
	if keychain != nil {
		opts = append(opts, ggcrremote.WithAuthFromKeychain(keychain))
	}

	desc, err := ggcrremote.Head(ref, opts...)
	if err != nil {
		return "", err
	}

	digestRef, err := name.NewDigest(fmt.Sprintf("%s@%s", ref.Context().Name(), desc.Digest.String()))
	if err != nil {
		return "", err
	}
	return digestRef.String(), nil
}

// buildKeychain constructs a keychain from ImagePullSecrets by reading the
// referenced Secrets and merging their docker configs. Returns nil when no
// secrets are configured.
func (v *ImageVerifier) buildKeychain(ctx context.Context, imagePullSecrets []corev1.LocalObjectReference, namespace string) (authn.Keychain, error) {
	if len(imagePullSecrets) == 0 || v.client == nil {
		return nil, nil
	}

	type dockerConfig struct {
		Auths map[string]dockerAuthConfig `json:"auths"`
	}

	combined := make(map[string]dockerAuthConfig)

	for _, secretRef := range imagePullSecrets {
		secret := &corev1.Secret{}
		if err := v.client.Get(ctx, types.NamespacedName{
			Namespace: namespace,
			Name:      secretRef.Name,
		}, secret); err != nil {
			return nil, fmt.Errorf("failed to get ImagePullSecret %s/%s: %w", namespace, secretRef.Name, err)
		}

		var dockerConfigKey string
		switch secret.Type {
		case corev1.SecretTypeDockerConfigJson:
			dockerConfigKey = corev1.DockerConfigJsonKey
		case corev1.SecretTypeDockercfg:
			dockerConfigKey = corev1.DockerConfigKey
		default:
			return nil, fmt.Errorf("ImagePullSecret %s/%s has type %s, expected %s or %s",
				namespace, secretRef.Name, secret.Type, corev1.SecretTypeDockerConfigJson, corev1.SecretTypeDockercfg)
		}

		data, ok := secret.Data[dockerConfigKey]
		if !ok {
			return nil, fmt.Errorf("ImagePullSecret %s/%s missing key %s", namespace, secretRef.Name, dockerConfigKey)
		}

		var parsed dockerConfig
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse docker config from ImagePullSecret %s/%s: %w", namespace, secretRef.Name, err)
		}

		// Later secrets override earlier ones for the same registry.
		for registry, auth := range parsed.Auths {
			combined[registry] = auth
		}
	}

	if len(combined) == 0 {
		return nil, nil
	}

	return &dockerConfigKeychain{auths: combined}, nil
}

// dockerAuthConfig is a single docker auth config entry.
type dockerAuthConfig struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Auth     string `json:"auth,omitempty"`
}

// dockerConfigKeychain implements authn.Keychain over merged docker configs.
type dockerConfigKeychain struct {
	auths map[string]dockerAuthConfig
}

func (k *dockerConfigKeychain) Resolve(resource authn.Resource) (authn.Authenticator, error) {
	if auth, ok := k.auths[resource.RegistryStr()]; ok {
		if auth.Username != "" || auth.Password != "" || auth.Auth != "" {
			return &authn.Basic{
				Username: auth.Username,
				Password: auth.Password,
			}, nil
		}
	}
	return authn.Anonymous, nil
}

// verificationCache records digests that already verified against a given
// public key.
type verificationCache struct {
	mu    sync.RWMutex
	cache map[string]bool
}

func newVerificationCache() *verificationCache {
	return &verificationCache{
		cache: make(map[string]bool),
	}
}

func (c *verificationCache) isVerified(digest, publicKey string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cache[cacheKey(digest, publicKey)]
}

func (c *verificationCache) markVerified(digest, publicKey string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[cacheKey(digest, publicKey)] = true
}

// cacheKey is keyed on the digest rather than the tag so a retagged image is
// always re-verified.
func cacheKey(digest, publicKey string) string {
	keyHash := sha256.Sum256([]byte(publicKey))
	return fmt.Sprintf("%s@%x", digest, keyHash[:8])
}

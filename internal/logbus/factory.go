package logbus

import (
	"fmt"
	"strings"
	"sync"

	"github.com/logbus-io/logbus-operator/internal/constants"
)

// Credentials carries basic-auth material for a remote broker admin endpoint.
type Credentials struct {
	Username string
	Password string
	// CACert is an optional PEM-encoded CA bundle for the source endpoint.
	CACert []byte
}

// Factory builds admin API clients from a shared configuration template and
// caches in-cluster clients per endpoint, so repeated reconcile passes reuse
// transports instead of piling up idle connections.
type Factory struct {
	template ClientConfig

	mu      sync.Mutex
	clients map[string]*Client
}

var _ AdminClients = (*Factory)(nil)

// NewFactory returns a factory that creates clients based on the provided
// template. The template's BaseURL and credentials are ignored; per-endpoint
// values are derived by the For* methods.
func NewFactory(template ClientConfig) *Factory {
	t := template
	t.BaseURL = ""
	t.Username = ""
	t.Password = ""
	return &Factory{
		template: t,
		clients:  make(map[string]*Client),
	}
}

// PodURL returns the admin endpoint of one broker pod, addressed through the
// cluster's headless Service.
func PodURL(namespace, clusterName string, ordinal int32) string {
	return fmt.Sprintf("http://%s-%d.%s%s.%s.svc:%d",
		clusterName, ordinal, clusterName, constants.SuffixHeadless, namespace, constants.PortAdmin)
}

// ClusterURL returns the admin endpoint behind the cluster's client Service.
func ClusterURL(namespace, clusterName string) string {
	return fmt.Sprintf("http://%s.%s.svc:%d", clusterName, namespace, constants.PortAdmin)
}

// ForPod returns a cached client for one broker pod's admin endpoint.
func (f *Factory) ForPod(namespace, clusterName string, ordinal int32) (AdminAPI, error) {
	return f.cached(PodURL(namespace, clusterName, ordinal))
}

// ForCluster returns a cached client for the cluster's client Service.
func (f *Factory) ForCluster(namespace, clusterName string) (AdminAPI, error) {
	return f.cached(ClusterURL(namespace, clusterName))
}

// ForSource returns a client for a mirror source bootstrap server. Source
// clients are not cached: credentials and TLS settings vary per source and
// may rotate between passes.
func (f *Factory) ForSource(server string, useTLS, insecureSkipVerify bool, creds *Credentials) (AdminAPI, error) {
	scheme := "http"
	if useTLS {
		scheme = "https"
	}

	cfg := f.template
	cfg.BaseURL = fmt.Sprintf("%s://%s", scheme, server)
	cfg.InsecureSkipVerify = insecureSkipVerify
	if creds != nil {
		cfg.Username = creds.Username
		cfg.Password = creds.Password
		cfg.CACert = creds.CACert
	}
	return NewClient(cfg)
}

// Forget drops cached clients belonging to one cluster. Called when the
// cluster is deleted so transports do not outlive it.
func (f *Factory) Forget(namespace, clusterName string) {
	podHost := fmt.Sprintf(".%s%s.%s.svc:", clusterName, constants.SuffixHeadless, namespace)
	clusterHost := fmt.Sprintf("//%s.%s.svc:", clusterName, namespace)

	f.mu.Lock()
	defer f.mu.Unlock()
	for baseURL := range f.clients {
		if strings.Contains(baseURL, podHost) || strings.Contains(baseURL, clusterHost) {
			delete(f.clients, baseURL)
		}
	}
}

func (f *Factory) cached(baseURL string) (*Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if c, ok := f.clients[baseURL]; ok {
		return c, nil
	}

	cfg := f.template
	cfg.BaseURL = baseURL
	c, err := NewClient(cfg)
	if err != nil {
		return nil, err
	}
	f.clients[baseURL] = c
	return c, nil
}

package infra

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-logr/logr"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	gatewayv1alpha2 "sigs.k8s.io/gateway-api/apis/v1alpha2"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/constants"
	operatorerrors "github.com/logbus-io/logbus-operator/internal/errors"
)

// ErrGatewayAPIMissing reports that spec.gateway requests a TCPRoute but the
// Gateway API CRDs are not installed. Callers surface it as a degraded
// condition instead of failing the whole pass.
var ErrGatewayAPIMissing = errors.New("gateway API CRDs not installed")

const (
	serviceMonitorAPIVersion = "monitoring.coreos.com/v1"
	serviceMonitorKind       = "ServiceMonitor"

	defaultScrapeInterval = "30s"
)

// optionalObject describes one owned object that only exists for certain
// spec shapes. The reconcile helper deletes it when it is disabled or its
// configuration no longer yields a valid object, and otherwise converges it
// through the same hash-gated apply as every other owned object.
type optionalObject struct {
	kind       string
	apiVersion string

	enabled bool
	name    types.NamespacedName

	logKey string

	deleteDisabledMsg string
	deleteInvalidMsg  string

	newEmpty     func() client.Object
	buildDesired func() (client.Object, bool)

	// degradeOnCRDMissing maps a missing CRD to ErrGatewayAPIMissing instead
	// of silently skipping; used for the Gateway API where the user asked
	// for routing they cannot get.
	degradeOnCRDMissing bool
}

func (m *Manager) reconcileOptionalObject(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster, opts optionalObject) error {
	deleteIfExists := func(msg string) error {
		empty := opts.newEmpty()
		if err := m.client.Get(ctx, opts.name, empty); err != nil {
			if operatorerrors.IsCRDMissingError(err) || apierrors.IsNotFound(err) {
				return nil
			}
			return fmt.Errorf("failed to get %s %s/%s: %w", opts.kind, opts.name.Namespace, opts.name.Name, err)
		}

		if msg != "" {
			logger.Info(msg, opts.logKey, opts.name.Name)
		}

		if err := m.client.Delete(ctx, empty); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to delete %s %s/%s: %w", opts.kind, opts.name.Namespace, opts.name.Name, err)
		}
		return nil
	}

	if !opts.enabled {
		return deleteIfExists(opts.deleteDisabledMsg)
	}

	desired, valid := opts.buildDesired()
	if !valid || desired == nil {
		return deleteIfExists(opts.deleteInvalidMsg)
	}

	desired.GetObjectKind().SetGroupVersionKind(schema.FromAPIVersionAndKind(opts.apiVersion, opts.kind))

	live := opts.newEmpty()
	liveObj := client.Object(nil)
	if err := m.client.Get(ctx, opts.name, live); err != nil {
		if operatorerrors.IsCRDMissingError(err) {
			if opts.degradeOnCRDMissing {
				return ErrGatewayAPIMissing
			}
			logger.Info("CRD for optional object not installed; skipping", "kind", opts.kind, opts.logKey, opts.name.Name)
			return nil
		}
		if !apierrors.IsNotFound(err) {
			return fmt.Errorf("failed to get %s %s/%s: %w", opts.kind, opts.name.Namespace, opts.name.Name, err)
		}
	} else {
		liveObj = live
	}

	if err := m.applyObject(ctx, logger, cluster, desired, liveObj); err != nil {
		if operatorerrors.IsCRDMissingError(err) {
			if opts.degradeOnCRDMissing {
				return ErrGatewayAPIMissing
			}
			logger.Info("CRD for optional object not installed; skipping", "kind", opts.kind, opts.logKey, opts.name.Name)
			return nil
		}
		return fmt.Errorf("failed to ensure %s %s/%s: %w", opts.kind, opts.name.Namespace, opts.name.Name, err)
	}

	return nil
}

// ensureTCPRoute manages the Gateway API TCPRoute exposing the client
// listener through a shared Gateway. The broker protocol is plain TCP, so
// the L4 route type is the only one that fits.
func (m *Manager) ensureTCPRoute(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster) error {
	gw := cluster.Spec.Gateway

	return m.reconcileOptionalObject(ctx, logger, cluster, optionalObject{
		kind:       "TCPRoute",
		apiVersion: gatewayv1alpha2.GroupVersion.String(),
		enabled:    gw != nil && gw.Enabled,
		name: types.NamespacedName{
			Namespace: cluster.Namespace,
			Name:      tcpRouteName(cluster),
		},
		logKey:            "tcproute",
		deleteDisabledMsg: "Gateway no longer enabled; deleting TCPRoute",
		deleteInvalidMsg:  "Gateway configuration invalid; deleting TCPRoute",
		newEmpty:          func() client.Object { return &gatewayv1alpha2.TCPRoute{} },
		buildDesired: func() (client.Object, bool) {
			route := buildTCPRoute(cluster)
			return route, route != nil
		},
		degradeOnCRDMissing: true,
	})
}

// buildTCPRoute constructs the TCPRoute for the cluster. Returns nil when
// the gateway configuration is incomplete.
func buildTCPRoute(cluster *logbusv1alpha1.LogbusCluster) *gatewayv1alpha2.TCPRoute {
	gw := cluster.Spec.Gateway
	if gw == nil || !gw.Enabled {
		return nil
	}
	if gw.GatewayRef == nil || strings.TrimSpace(gw.GatewayRef.Name) == "" {
		return nil
	}

	gatewayNamespace := strings.TrimSpace(gw.GatewayRef.Namespace)
	if gatewayNamespace == "" {
		gatewayNamespace = cluster.Namespace
	}

	gatewayNS := gatewayv1alpha2.Namespace(gatewayNamespace)
	backendPort := gatewayv1alpha2.PortNumber(effectiveClientPort(cluster))

	parentRef := gatewayv1alpha2.ParentReference{
		Name:      gatewayv1alpha2.ObjectName(gw.GatewayRef.Name),
		Namespace: &gatewayNS,
	}
	if gw.SectionName != nil && strings.TrimSpace(*gw.SectionName) != "" {
		sectionName := gatewayv1alpha2.SectionName(strings.TrimSpace(*gw.SectionName))
		parentRef.SectionName = &sectionName
	}

	return &gatewayv1alpha2.TCPRoute{
		ObjectMeta: metav1.ObjectMeta{
			Name:      tcpRouteName(cluster),
			Namespace: cluster.Namespace,
			Labels:    infraLabels(cluster),
		},
		Spec: gatewayv1alpha2.TCPRouteSpec{
			CommonRouteSpec: gatewayv1alpha2.CommonRouteSpec{
				ParentRefs: []gatewayv1alpha2.ParentReference{parentRef},
			},
			Rules: []gatewayv1alpha2.TCPRouteRule{
				{
					BackendRefs: []gatewayv1alpha2.BackendRef{
						{
							BackendObjectReference: gatewayv1alpha2.BackendObjectReference{
								Name: gatewayv1alpha2.ObjectName(clientServiceName(cluster)),
								Port: &backendPort,
							},
						},
					},
				},
			},
		},
	}
}

// ensureServiceMonitor manages the Prometheus-operator ServiceMonitor
// scraping the broker metrics port. The type lives behind an optional CRD,
// so it is built as unstructured content; a cluster without the Prometheus
// operator installed just logs and moves on.
func (m *Manager) ensureServiceMonitor(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster) error {
	monitoring := cluster.Spec.Monitoring
	enabled := monitoring != nil && monitoring.ServiceMonitor != nil && monitoring.ServiceMonitor.Enabled

	return m.reconcileOptionalObject(ctx, logger, cluster, optionalObject{
		kind:       serviceMonitorKind,
		apiVersion: serviceMonitorAPIVersion,
		enabled:    enabled,
		name: types.NamespacedName{
			Namespace: cluster.Namespace,
			Name:      serviceMonitorName(cluster),
		},
		logKey:            "servicemonitor",
		deleteDisabledMsg: "ServiceMonitor no longer enabled; deleting",
		newEmpty: func() client.Object {
			u := &unstructured.Unstructured{}
			u.SetGroupVersionKind(schema.FromAPIVersionAndKind(serviceMonitorAPIVersion, serviceMonitorKind))
			return u
		},
		buildDesired: func() (client.Object, bool) {
			return buildServiceMonitor(cluster), true
		},
	})
}

func buildServiceMonitor(cluster *logbusv1alpha1.LogbusCluster) *unstructured.Unstructured {
	interval := defaultScrapeInterval
	var scrapeTimeout string
	if sm := cluster.Spec.Monitoring.ServiceMonitor; sm != nil {
		if sm.Interval != "" {
			interval = sm.Interval
		}
		scrapeTimeout = sm.ScrapeTimeout
	}

	endpoint := map[string]interface{}{
		"port":     constants.PortNameMetrics,
		"path":     "/metrics",
		"interval": interval,
	}
	if scrapeTimeout != "" {
		endpoint["scrapeTimeout"] = scrapeTimeout
	}

	u := &unstructured.Unstructured{
		Object: map[string]interface{}{
			"apiVersion": serviceMonitorAPIVersion,
			"kind":       serviceMonitorKind,
			"spec": map[string]interface{}{
				"selector": map[string]interface{}{
					"matchLabels": map[string]interface{}{
						constants.LabelLogbusCluster: cluster.Name,
					},
				},
				"endpoints": []interface{}{endpoint},
			},
		},
	}
	u.SetName(serviceMonitorName(cluster))
	u.SetNamespace(cluster.Namespace)
	u.SetLabels(infraLabels(cluster))

	return u
}

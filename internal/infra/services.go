package infra

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/intstr"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/constants"
)

// ensureHeadlessService converges the headless Service that provides stable
// per-pod DNS for broker discovery and inter-broker replication. Addresses
// are published before pods report ready: a booting broker has to resolve
// its peers to join the cluster in the first place.
func (m *Manager) ensureHeadlessService(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster) error {
	name := headlessServiceName(cluster)

	live, err := m.getLive(ctx, types.NamespacedName{Namespace: cluster.Namespace, Name: name}, &corev1.Service{})
	if err != nil {
		return err
	}

	desired := buildHeadlessService(cluster)
	if err := m.applyObject(ctx, logger, cluster, desired, live); err != nil {
		return fmt.Errorf("failed to ensure headless Service %s/%s: %w", cluster.Namespace, name, err)
	}

	return nil
}

// ensureClientService converges the client-facing Service exposing the
// client and metrics ports. Type and annotations come from spec.service so
// cloud load-balancer integrations keep working.
func (m *Manager) ensureClientService(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster) error {
	name := clientServiceName(cluster)

	live, err := m.getLive(ctx, types.NamespacedName{Namespace: cluster.Namespace, Name: name}, &corev1.Service{})
	if err != nil {
		return err
	}

	desired := buildClientService(cluster)
	if err := m.applyObject(ctx, logger, cluster, desired, live); err != nil {
		return fmt.Errorf("failed to ensure client Service %s/%s: %w", cluster.Namespace, name, err)
	}

	return nil
}

func buildHeadlessService(cluster *logbusv1alpha1.LogbusCluster) *corev1.Service {
	return &corev1.Service{
		TypeMeta: metav1.TypeMeta{
			Kind:       "Service",
			APIVersion: "v1",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      headlessServiceName(cluster),
			Namespace: cluster.Namespace,
			Labels:    infraLabels(cluster),
		},
		Spec: corev1.ServiceSpec{
			ClusterIP:                corev1.ClusterIPNone,
			Selector:                 podSelectorLabels(cluster),
			PublishNotReadyAddresses: true,
			Ports: []corev1.ServicePort{
				{
					Name:       constants.PortNameInterBroker,
					Port:       constants.PortInterBroker,
					TargetPort: intstr.FromString(constants.PortNameInterBroker),
					Protocol:   corev1.ProtocolTCP,
				},
				{
					Name:       constants.PortNameAdmin,
					Port:       constants.PortAdmin,
					TargetPort: intstr.FromString(constants.PortNameAdmin),
					Protocol:   corev1.ProtocolTCP,
				},
			},
		},
	}
}

// effectiveClientPort returns the client port exposed on the client Service,
// honoring the spec.service override.
func effectiveClientPort(cluster *logbusv1alpha1.LogbusCluster) int32 {
	if svc := cluster.Spec.Service; svc != nil && svc.ClientPort > 0 {
		return svc.ClientPort
	}
	return constants.PortClient
}

func buildClientService(cluster *logbusv1alpha1.LogbusCluster) *corev1.Service {
	svcType := corev1.ServiceTypeClusterIP
	var annotations map[string]string

	if svc := cluster.Spec.Service; svc != nil {
		if svc.Type != "" {
			svcType = svc.Type
		}
		annotations = svc.Annotations
	}

	return &corev1.Service{
		TypeMeta: metav1.TypeMeta{
			Kind:       "Service",
			APIVersion: "v1",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:        clientServiceName(cluster),
			Namespace:   cluster.Namespace,
			Labels:      infraLabels(cluster),
			Annotations: annotations,
		},
		Spec: corev1.ServiceSpec{
			Type:     svcType,
			Selector: podSelectorLabels(cluster),
			Ports: []corev1.ServicePort{
				{
					Name:       constants.PortNameClient,
					Port:       effectiveClientPort(cluster),
					TargetPort: intstr.FromString(constants.PortNameClient),
					Protocol:   corev1.ProtocolTCP,
				},
				{
					Name:       constants.PortNameMetrics,
					Port:       constants.PortMetrics,
					TargetPort: intstr.FromString(constants.PortNameMetrics),
					Protocol:   corev1.ProtocolTCP,
				},
			},
		},
	}
}

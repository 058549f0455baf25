package infra

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/constants"
)

// ensureConfigMap converges the ConfigMap carrying the rendered config.hcl.
// Broker pods mount it read-only; a content change rolls the StatefulSet via
// the config-hash pod annotation, not via this object.
func (m *Manager) ensureConfigMap(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster, configContent string) error {
	name := configMapName(cluster)

	live, err := m.getLive(ctx, types.NamespacedName{Namespace: cluster.Namespace, Name: name}, &corev1.ConfigMap{})
	if err != nil {
		return err
	}

	desired := buildConfigMap(cluster, configContent)
	if err := m.applyObject(ctx, logger, cluster, desired, live); err != nil {
		return fmt.Errorf("failed to ensure ConfigMap %s/%s: %w", cluster.Namespace, name, err)
	}

	return nil
}

func buildConfigMap(cluster *logbusv1alpha1.LogbusCluster, configContent string) *corev1.ConfigMap {
	return &corev1.ConfigMap{
		TypeMeta: metav1.TypeMeta{
			Kind:       "ConfigMap",
			APIVersion: "v1",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      configMapName(cluster),
			Namespace: cluster.Namespace,
			Labels:    infraLabels(cluster),
		},
		Data: map[string]string{
			constants.ConfigFileName: configContent,
		},
	}
}

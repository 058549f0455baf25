package rolling

import (
	"context"
	"sort"
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"
	"sigs.k8s.io/controller-runtime/pkg/client"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/constants"
)

// getClusterPods returns the cluster's broker pods sorted by ordinal,
// highest first. Pods that carry the cluster labels but do not follow the
// StatefulSet naming pattern are excluded.
func (m *Manager) getClusterPods(ctx context.Context, cluster *logbusv1alpha1.LogbusCluster) ([]corev1.Pod, error) {
	podList := &corev1.PodList{}
	labelSelector := labels.SelectorFromSet(map[string]string{
		constants.LabelAppInstance:  cluster.Name,
		constants.LabelAppName:      constants.LabelValueAppNameLogbus,
		constants.LabelAppManagedBy: constants.LabelValueAppManagedByLogbusOperator,
	})

	if err := m.client.List(ctx, podList,
		client.InNamespace(cluster.Namespace),
		client.MatchingLabelsSelector{Selector: labelSelector},
	); err != nil {
		return nil, err
	}

	filtered := make([]corev1.Pod, 0, len(podList.Items))
	prefix := cluster.Name + "-"
	for _, pod := range podList.Items {
		if !strings.HasPrefix(pod.Name, prefix) {
			continue
		}
		suffix := pod.Name[len(prefix):]
		if ordinal, err := strconv.Atoi(suffix); err == nil && ordinal >= 0 {
			filtered = append(filtered, pod)
		}
	}

	sort.Slice(filtered, func(i, j int) bool {
		return extractOrdinal(filtered[i].Name) > extractOrdinal(filtered[j].Name)
	})

	return filtered, nil
}

// isPodReady checks the pod's kubelet Ready condition.
func isPodReady(pod *corev1.Pod) bool {
	for _, condition := range pod.Status.Conditions {
		if condition.Type == corev1.PodReady && condition.Status == corev1.ConditionTrue {
			return true
		}
	}
	return false
}

// extractOrdinal parses the ordinal from a StatefulSet pod name, so
// "cluster-2" yields 2. Malformed names yield 0.
func extractOrdinal(podName string) int {
	parts := strings.Split(podName, "-")
	if len(parts) < 2 {
		return 0
	}
	ordinal, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0
	}
	return ordinal
}

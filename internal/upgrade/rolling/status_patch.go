package rolling

import (
	"context"
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/kube"
)

const ssaFieldOwner = "logbus-upgrade-manager"

// patchStatusSSA persists upgrade progress via Server-Side Apply under the
// upgrade manager's own field owner. A restarted operator then resumes the
// walk from the recorded partition instead of relocking from scratch, and
// the apply never conflicts with the main reconciler's status writes.
func (m *Manager) patchStatusSSA(ctx context.Context, cluster *logbusv1alpha1.LogbusCluster) error {
	applyCluster := &logbusv1alpha1.LogbusCluster{
		TypeMeta: metav1.TypeMeta{
			APIVersion: logbusv1alpha1.GroupVersion.String(),
			Kind:       "LogbusCluster",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      cluster.Name,
			Namespace: cluster.Namespace,
		},
		Status: cluster.Status,
	}

	applyConfig, err := kube.ToApplyConfiguration(applyCluster, m.client)
	if err != nil {
		return fmt.Errorf("failed to convert cluster to ApplyConfiguration: %w", err)
	}

	return m.client.Status().Apply(ctx, applyConfig,
		client.FieldOwner(ssaFieldOwner),
	)
}

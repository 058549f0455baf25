package logbuscluster

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/constants"
)

func testDataPVC(cluster *logbusv1alpha1.LogbusCluster, ordinal string) *corev1.PersistentVolumeClaim {
	return &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      constants.VolumeData + "-" + cluster.Name + "-" + ordinal,
			Namespace: cluster.Namespace,
			Labels: map[string]string{
				constants.LabelLogbusCluster: cluster.Name,
			},
		},
	}
}

func deleteCluster(t *testing.T, h *testHarness, cluster *logbusv1alpha1.LogbusCluster) {
	t.Helper()
	require.NoError(t, h.client.Delete(context.Background(), h.getCluster(t, cluster)))
}

func TestDeletionRetainPolicyKeepsData(t *testing.T) {
	cluster := testCluster()
	h := newHarness(t, cluster, testDataPVC(cluster, "0"), testDataPVC(cluster, "1"))

	h.objStore.Put("default/primary/orders/0/00000000000000000000.seg", []byte("segment"))

	deleteCluster(t, h, cluster)
	h.reconcile(t, cluster)

	// Finalizer removed, object gone.
	err := h.client.Get(context.Background(),
		types.NamespacedName{Namespace: "default", Name: "primary"}, &logbusv1alpha1.LogbusCluster{})
	assert.True(t, apierrors.IsNotFound(err))

	// Data PVCs and archived objects survive under Retain.
	pvcs := &corev1.PersistentVolumeClaimList{}
	require.NoError(t, h.client.List(context.Background(), pvcs))
	assert.Len(t, pvcs.Items, 2)
	assert.Len(t, h.objStore.Keys(), 1)
}

func TestDeletionDeletePolicyRemovesData(t *testing.T) {
	cluster := testCluster()
	cluster.Spec.DeletionPolicy = logbusv1alpha1.DeletionPolicyDelete
	cluster.Spec.TieredStorage = &logbusv1alpha1.TieredStorageSpec{
		Enabled: true,
		Bucket:  "logbus-archive",
	}
	h := newHarness(t, cluster, testDataPVC(cluster, "0"), testDataPVC(cluster, "1"))

	h.objStore.Put("default/primary/orders/0/00000000000000000000.seg", []byte("segment"))
	h.objStore.Put("default/primary/orders/1/00000000000000004096.seg", []byte("segment"))
	// Another cluster sharing the bucket must be untouched.
	h.objStore.Put("default/other/orders/0/00000000000000000000.seg", []byte("segment"))

	deleteCluster(t, h, cluster)
	h.reconcile(t, cluster)

	err := h.client.Get(context.Background(),
		types.NamespacedName{Namespace: "default", Name: "primary"}, &logbusv1alpha1.LogbusCluster{})
	assert.True(t, apierrors.IsNotFound(err))

	pvcs := &corev1.PersistentVolumeClaimList{}
	require.NoError(t, h.client.List(context.Background(), pvcs))
	assert.Empty(t, pvcs.Items)

	keys := h.objStore.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, "default/other/orders/0/00000000000000000000.seg", keys[0])
}

func TestDeletionWithoutFinalizerIsNoop(t *testing.T) {
	// A cluster deleted before the finalizer was ever attached simply goes
	// away; reconcile must not error on the tombstone.
	h := newHarness(t)

	result, err := h.reconciler.Reconcile(context.Background(), ctrl.Request{
		NamespacedName: types.NamespacedName{Namespace: "default", Name: "primary"},
	})
	require.NoError(t, err)
	assert.Zero(t, result.RequeueAfter)
}

package tiering

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/logbus"
	"github.com/logbus-io/logbus-operator/internal/logbus/logbustest"
	"github.com/logbus-io/logbus-operator/internal/status"
	"github.com/logbus-io/logbus-operator/internal/storage"
	"github.com/logbus-io/logbus-operator/internal/storage/storagetest"
)

func tieredCluster() *logbusv1alpha1.LogbusCluster {
	return &logbusv1alpha1.LogbusCluster{
		ObjectMeta: metav1.ObjectMeta{
			Name:       "primary",
			Namespace:  "default",
			Generation: 1,
		},
		Spec: logbusv1alpha1.LogbusClusterSpec{
			Replicas: 1,
			TieredStorage: &logbusv1alpha1.TieredStorageSpec{
				Enabled:                   true,
				HotTierRetentionHours:     24,
				Bucket:                    "logbus-archive",
				CredentialsSecret:         "archive-creds",
				LocalDeletionGraceMinutes: 30,
			},
		},
	}
}

type tieringHarness struct {
	manager  *Manager
	client   client.Client
	brokers  *logbustest.FakeClients
	objStore *storagetest.FakeObjectStorage
}

func newTieringHarness(t *testing.T, cluster *logbusv1alpha1.LogbusCluster) *tieringHarness {
	t.Helper()
	scheme := testScheme(t)
	c := fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjects(cluster).
		Build()

	brokers := logbustest.NewFakeClients()
	objStore := storagetest.NewFakeObjectStorage()
	storageFor := func(context.Context, client.Client, *logbusv1alpha1.LogbusCluster) (storage.ObjectStorage, error) {
		return objStore, nil
	}

	return &tieringHarness{
		manager:  NewManager(c, scheme, brokers, storageFor),
		client:   c,
		brokers:  brokers,
		objStore: objStore,
	}
}

// closedSegment returns a sealed segment descriptor whose checksum matches
// data, closed the given duration before now.
func closedSegment(topic string, partition int32, baseOffset int64, data []byte, age time.Duration) logbus.SegmentInfo {
	closedAt := time.Now().UTC().Add(-age)
	sum := sha256.Sum256(data)
	return logbus.SegmentInfo{
		Topic:      topic,
		Partition:  partition,
		BaseOffset: baseOffset,
		SizeBytes:  int64(len(data)),
		Closed:     true,
		ClosedAt:   &closedAt,
		Checksum:   hex.EncodeToString(sum[:]),
	}
}

func tieringCondition(cluster *logbusv1alpha1.LogbusCluster) *metav1.Condition {
	return status.Get(cluster.Status.Conditions, string(logbusv1alpha1.ConditionTieringHealthy))
}

func TestReconcile_DisabledClearsStatus(t *testing.T) {
	cluster := tieredCluster()
	cluster.Spec.TieredStorage = nil
	cluster.Status.Tiering = &logbusv1alpha1.TieringStatus{ArchivedSegments: 3}
	status.True(&cluster.Status.Conditions, 1, string(logbusv1alpha1.ConditionTieringHealthy), ReasonArchivalHealthy, "")

	h := newTieringHarness(t, cluster)
	if err := h.manager.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if cluster.Status.Tiering != nil {
		t.Error("tiering status not cleared when tiering is disabled")
	}
	if tieringCondition(cluster) != nil {
		t.Error("TieringHealthy condition not removed when tiering is disabled")
	}
}

func TestReconcile_SkipsDuringUpgrade(t *testing.T) {
	cluster := tieredCluster()
	cluster.Status.Phase = logbusv1alpha1.ClusterPhaseUpgrading

	h := newTieringHarness(t, cluster)
	if err := h.manager.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	cm := &corev1.ConfigMap{}
	err := h.client.Get(context.Background(), types.NamespacedName{
		Namespace: "default", Name: StateConfigMapName("primary"),
	}, cm)
	if !apierrors.IsNotFound(err) {
		t.Errorf("archive state ConfigMap Get error = %v, want NotFound during upgrade", err)
	}
}

func TestReconcile_YoungSegmentStaysHot(t *testing.T) {
	cluster := tieredCluster()
	data := []byte("young-segment-bytes")

	broker := logbustest.NewReadyBroker(0, "1.4.0")
	broker.AddTopic("orders", 1)
	broker.AddSegment(closedSegment("orders", 0, 0, data, 23*time.Hour), data)

	h := newTieringHarness(t, cluster)
	h.brokers.SetPod("default", "primary", 0, broker)

	if err := h.manager.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if got := len(h.objStore.Uploads()); got != 0 {
		t.Errorf("uploads = %d, want 0 for a segment inside hot retention", got)
	}
	if cluster.Status.Tiering == nil {
		t.Fatal("tiering status not published")
	}
	if cluster.Status.Tiering.HotSegments != 1 {
		t.Errorf("HotSegments = %d, want 1", cluster.Status.Tiering.HotSegments)
	}
	if cluster.Status.Tiering.ArchivedSegments != 0 {
		t.Errorf("ArchivedSegments = %d, want 0", cluster.Status.Tiering.ArchivedSegments)
	}
	cond := tieringCondition(cluster)
	if cond == nil || cond.Status != metav1.ConditionTrue {
		t.Errorf("TieringHealthy = %+v, want True", cond)
	}
}

func TestReconcile_ArchivesAgedSegmentExactlyOnce(t *testing.T) {
	cluster := tieredCluster()
	data := []byte("aged-segment-bytes")

	broker := logbustest.NewReadyBroker(0, "1.4.0")
	broker.AddTopic("orders", 1)
	broker.AddSegment(closedSegment("orders", 0, 0, data, 25*time.Hour), data)

	h := newTieringHarness(t, cluster)
	h.brokers.SetPod("default", "primary", 0, broker)

	if err := h.manager.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	wantKey := "default/primary/orders/0/0.seg"
	stored, ok := h.objStore.Object(wantKey)
	if !ok {
		t.Fatalf("object %q not uploaded, stored keys: %v", wantKey, h.objStore.Keys())
	}
	if string(stored) != string(data) {
		t.Error("uploaded bytes differ from segment bytes")
	}
	if cluster.Status.Tiering == nil || cluster.Status.Tiering.ArchivedSegments != 1 {
		t.Errorf("tiering status = %+v, want 1 archived segment", cluster.Status.Tiering)
	}
	if cluster.Status.Tiering.LastArchiveTime == nil {
		t.Error("LastArchiveTime not set after archival")
	}

	// A second pass over the same segment must not upload again.
	if err := h.manager.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if got := len(h.objStore.Uploads()); got != 1 {
		t.Errorf("uploads after second pass = %d, want 1", got)
	}
}

func TestReconcile_ChecksumMismatchRevertsToHot(t *testing.T) {
	cluster := tieredCluster()
	data := []byte("segment-bytes")

	info := closedSegment("orders", 0, 0, data, 25*time.Hour)
	info.Checksum = "deadbeef"

	broker := logbustest.NewReadyBroker(0, "1.4.0")
	broker.AddTopic("orders", 1)
	broker.AddSegment(info, data)

	h := newTieringHarness(t, cluster)
	h.brokers.SetPod("default", "primary", 0, broker)

	if err := h.manager.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	wantKey := "default/primary/orders/0/0.seg"
	if _, ok := h.objStore.Object(wantKey); ok {
		t.Error("mismatched object left in the bucket")
	}
	if got := h.objStore.Deletes(); len(got) != 1 || got[0] != wantKey {
		t.Errorf("deletes = %v, want [%s]", got, wantKey)
	}

	table, err := h.manager.store.Load(context.Background(), cluster)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	entry, ok := table.Get("orders", 0, 0)
	if !ok || entry.State != SegmentHot {
		t.Errorf("table entry = %+v (found %v), want Hot for retry", entry, ok)
	}

	cond := tieringCondition(cluster)
	if cond == nil || cond.Status != metav1.ConditionFalse || cond.Reason != ReasonArchivalErrors {
		t.Errorf("TieringHealthy = %+v, want False/%s", cond, ReasonArchivalErrors)
	}
}

func TestReconcile_ResumesInterruptedUploadWithoutReupload(t *testing.T) {
	cluster := tieredCluster()
	data := []byte("interrupted-segment-bytes")

	broker := logbustest.NewReadyBroker(0, "1.4.0")
	broker.AddTopic("orders", 1)
	broker.AddSegment(closedSegment("orders", 0, 0, data, 25*time.Hour), data)

	h := newTieringHarness(t, cluster)
	h.brokers.SetPod("default", "primary", 0, broker)

	// A previous pass marked the segment Uploading and finished the upload
	// remotely before crashing.
	table := NewArchiveTable()
	table.Set(ArchiveEntry{
		Topic: "orders", Partition: 0, BaseOffset: 0,
		SizeBytes: int64(len(data)), State: SegmentUploading,
	})
	if err := h.manager.store.Persist(context.Background(), cluster, table); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	h.objStore.Put("default/primary/orders/0/0.seg", data)

	if err := h.manager.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if got := len(h.objStore.Uploads()); got != 0 {
		t.Errorf("uploads = %d, want 0 when the remote object is already complete", got)
	}
	stored, err := h.manager.store.Load(context.Background(), cluster)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	entry, ok := stored.Get("orders", 0, 0)
	if !ok || entry.State != SegmentArchived {
		t.Errorf("table entry = %+v (found %v), want Archived", entry, ok)
	}
}

func TestReconcile_StorageUnavailableDegradesWithoutError(t *testing.T) {
	cluster := tieredCluster()
	scheme := testScheme(t)
	c := fake.NewClientBuilder().WithScheme(scheme).WithObjects(cluster).Build()

	manager := NewManager(c, scheme, logbustest.NewFakeClients(),
		func(context.Context, client.Client, *logbusv1alpha1.LogbusCluster) (storage.ObjectStorage, error) {
			return nil, errors.New("credentials secret not found")
		})

	if err := manager.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("Reconcile() error = %v, want nil for storage trouble", err)
	}

	cond := tieringCondition(cluster)
	if cond == nil || cond.Status != metav1.ConditionFalse || cond.Reason != ReasonStorageUnavailable {
		t.Errorf("TieringHealthy = %+v, want False/%s", cond, ReasonStorageUnavailable)
	}
}

func TestReconcile_UnreachableBrokerReportsErrors(t *testing.T) {
	cluster := tieredCluster()
	cluster.Spec.Replicas = 2

	broker := logbustest.NewReadyBroker(0, "1.4.0")
	h := newTieringHarness(t, cluster)
	h.brokers.SetPod("default", "primary", 0, broker)
	// Ordinal 1 is never registered, so enumeration is incomplete.

	if err := h.manager.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	cond := tieringCondition(cluster)
	if cond == nil || cond.Status != metav1.ConditionFalse || cond.Reason != ReasonArchivalErrors {
		t.Errorf("TieringHealthy = %+v, want False/%s", cond, ReasonArchivalErrors)
	}
}

func TestReconcile_ReclaimsLocalBytesAfterGrace(t *testing.T) {
	cluster := tieredCluster()
	data := []byte("reclaimable-segment-bytes")
	info := closedSegment("orders", 0, 0, data, 48*time.Hour)

	broker := logbustest.NewReadyBroker(0, "1.4.0")
	broker.AddTopic("orders", 1)
	broker.AddSegment(info, data)

	h := newTieringHarness(t, cluster)
	h.brokers.SetPod("default", "primary", 0, broker)

	archivedAt := time.Now().UTC().Add(-time.Hour)
	table := NewArchiveTable()
	table.Set(ArchiveEntry{
		Topic: "orders", Partition: 0, BaseOffset: 0,
		SizeBytes: info.SizeBytes, Checksum: info.Checksum,
		State: SegmentArchived, ArchivedAt: &archivedAt,
	})
	if err := h.manager.store.Persist(context.Background(), cluster, table); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	if err := h.manager.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	releases := broker.ReleaseCalls()
	if len(releases) != 1 {
		t.Fatalf("release calls = %d, want 1", len(releases))
	}
	want := logbustest.SegmentKey{Topic: "orders", Partition: 0, BaseOffset: 0}
	if releases[0] != want {
		t.Errorf("release call = %+v, want %+v", releases[0], want)
	}

	stored, err := h.manager.store.Load(context.Background(), cluster)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	entry, _ := stored.Get("orders", 0, 0)
	if !entry.LocalDeleted {
		t.Error("entry.LocalDeleted = false after reclamation")
	}
	if cluster.Status.Tiering == nil || cluster.Status.Tiering.LastCleanupTime == nil {
		t.Error("LastCleanupTime not published after a sweep")
	}
}

func TestReconcile_ReclaimWithinGraceIsDeferred(t *testing.T) {
	cluster := tieredCluster()
	data := []byte("fresh-archive-bytes")
	info := closedSegment("orders", 0, 0, data, 48*time.Hour)

	broker := logbustest.NewReadyBroker(0, "1.4.0")
	broker.AddTopic("orders", 1)
	broker.AddSegment(info, data)

	h := newTieringHarness(t, cluster)
	h.brokers.SetPod("default", "primary", 0, broker)

	archivedAt := time.Now().UTC().Add(-5 * time.Minute)
	table := NewArchiveTable()
	table.Set(ArchiveEntry{
		Topic: "orders", Partition: 0, BaseOffset: 0,
		SizeBytes: info.SizeBytes, Checksum: info.Checksum,
		State: SegmentArchived, ArchivedAt: &archivedAt,
	})
	if err := h.manager.store.Persist(context.Background(), cluster, table); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	if err := h.manager.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if got := broker.ReleaseCalls(); len(got) != 0 {
		t.Errorf("release calls = %v, want none inside the deletion grace", got)
	}
}

func TestReconcile_ReclaimSweepGatedBySchedule(t *testing.T) {
	cluster := tieredCluster()
	cluster.Spec.TieredStorage.CleanupSchedule = "@daily"
	data := []byte("gated-segment-bytes")
	info := closedSegment("orders", 0, 0, data, 48*time.Hour)

	broker := logbustest.NewReadyBroker(0, "1.4.0")
	broker.AddTopic("orders", 1)
	broker.AddSegment(info, data)

	h := newTieringHarness(t, cluster)
	h.brokers.SetPod("default", "primary", 0, broker)

	archivedAt := time.Now().UTC().Add(-2 * time.Hour)
	lastCleanup := time.Now().UTC()
	table := NewArchiveTable()
	table.LastCleanupAt = &lastCleanup
	table.Set(ArchiveEntry{
		Topic: "orders", Partition: 0, BaseOffset: 0,
		SizeBytes: info.SizeBytes, Checksum: info.Checksum,
		State: SegmentArchived, ArchivedAt: &archivedAt,
	})
	if err := h.manager.store.Persist(context.Background(), cluster, table); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	if err := h.manager.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if got := broker.ReleaseCalls(); len(got) != 0 {
		t.Errorf("release calls = %v, want none before the next scheduled sweep", got)
	}
}

func TestPurgeArchive(t *testing.T) {
	cluster := tieredCluster()
	h := newTieringHarness(t, cluster)
	h.objStore.Put("default/primary/orders/0/0.seg", []byte("a"))
	h.objStore.Put("default/primary/orders/0/4096.seg", []byte("b"))
	h.objStore.Put("default/other/orders/0/0.seg", []byte("c"))

	if err := h.manager.PurgeArchive(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("PurgeArchive() error = %v", err)
	}

	keys := h.objStore.Keys()
	if len(keys) != 1 || keys[0] != "default/other/orders/0/0.seg" {
		t.Errorf("remaining keys = %v, want only the other cluster's object", keys)
	}
}

package mirror

import (
	"context"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/meta"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/constants"
	"github.com/logbus-io/logbus-operator/internal/logbus/logbustest"
)

func testCluster(sources ...logbusv1alpha1.MirrorSource) *logbusv1alpha1.LogbusCluster {
	cluster := &logbusv1alpha1.LogbusCluster{
		ObjectMeta: metav1.ObjectMeta{
			Name:       "test-cluster",
			Namespace:  "default",
			UID:        "cluster-uid",
			Generation: 1,
		},
		Spec: logbusv1alpha1.LogbusClusterSpec{
			Replicas: 3,
			Image:    "logbus/logbus:1.4.2",
			Version:  "1.4.2",
		},
	}
	if len(sources) > 0 {
		cluster.Spec.Mirroring = &logbusv1alpha1.MirroringSpec{Sources: sources}
	}
	return cluster
}

func testSource(name, server string) logbusv1alpha1.MirrorSource {
	return logbusv1alpha1.MirrorSource{
		Name:              name,
		BootstrapServers:  []string{server},
		TopicWhitelist:    []string{"*"},
		WorkerCount:       2,
		MaxRecordsPerPass: 100,
	}
}

func newTestManager(t *testing.T, clients *logbustest.FakeClients, objs ...client.Object) (*Manager, client.Client) {
	t.Helper()
	scheme := testScheme(t)
	builder := fake.NewClientBuilder().WithScheme(scheme)
	if len(objs) > 0 {
		builder = builder.WithObjects(objs...)
	}
	k8sClient := builder.Build()
	return NewManager(k8sClient, scheme, clients), k8sClient
}

func storedTable(t *testing.T, c client.Client, cluster *logbusv1alpha1.LogbusCluster) *CheckpointTable {
	t.Helper()
	cm := &corev1.ConfigMap{}
	if err := c.Get(context.Background(), types.NamespacedName{
		Namespace: cluster.Namespace,
		Name:      StateConfigMapName(cluster.Name),
	}, cm); err != nil {
		t.Fatalf("failed to get mirror state ConfigMap: %v", err)
	}
	table, err := DecodeCheckpoints(cm.Data[constants.StateKeyCheckpoints])
	if err != nil {
		t.Fatalf("failed to decode stored table: %v", err)
	}
	return table
}

func mirroringCondition(cluster *logbusv1alpha1.LogbusCluster) *metav1.Condition {
	return meta.FindStatusCondition(cluster.Status.Conditions, string(logbusv1alpha1.ConditionMirroringHealthy))
}

func TestReconcile_CopiesRecordsFromSource(t *testing.T) {
	source := logbustest.NewReadyBroker(0, "1.4.2")
	source.AddTopic("orders", 2)
	source.SeedRecords("orders", 0, "a", "b", "c")
	source.SeedRecords("orders", 1, "d")

	target := logbustest.NewReadyBroker(0, "1.4.2")

	clients := logbustest.NewFakeClients()
	clients.SetSource("src-0.upstream:9640", source)
	clients.SetCluster("default", "test-cluster", target)

	cluster := testCluster(testSource("upstream", "src-0.upstream:9640"))
	m, k8sClient := newTestManager(t, clients, cluster)

	if err := m.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if got := target.Log("orders", 0); len(got) != 3 {
		t.Errorf("target orders/0 has %d records, want 3", len(got))
	} else if string(got[0].Value) != "a" || string(got[2].Value) != "c" {
		t.Errorf("target orders/0 values = %q..%q, want a..c", got[0].Value, got[2].Value)
	}
	if got := target.Log("orders", 1); len(got) != 1 || string(got[0].Value) != "d" {
		t.Errorf("target orders/1 = %v, want single record d", got)
	}

	if len(cluster.Status.Mirroring) != 1 {
		t.Fatalf("got %d source statuses, want 1", len(cluster.Status.Mirroring))
	}
	srcStatus := cluster.Status.Mirroring[0]
	if !srcStatus.Healthy {
		t.Errorf("source unhealthy: %s", srcStatus.Message)
	}
	if srcStatus.AssignedPartitions != 2 {
		t.Errorf("AssignedPartitions = %d, want 2", srcStatus.AssignedPartitions)
	}
	if srcStatus.MirroredRecords != 4 {
		t.Errorf("MirroredRecords = %d, want 4", srcStatus.MirroredRecords)
	}
	if srcStatus.LagRecords != 0 {
		t.Errorf("LagRecords = %d, want 0", srcStatus.LagRecords)
	}
	if srcStatus.LastSyncTime == nil {
		t.Error("LastSyncTime not set after healthy pass")
	}

	cond := mirroringCondition(cluster)
	if cond == nil || cond.Status != metav1.ConditionTrue {
		t.Fatalf("MirroringHealthy = %+v, want True", cond)
	}

	table := storedTable(t, k8sClient, cluster)
	cp, ok := table.Get("upstream", "orders", 0)
	if !ok || cp.SourceOffset != 3 || cp.Records != 3 {
		t.Errorf("stored orders/0 = %+v (present=%v), want offset 3", cp, ok)
	}
}

func TestReconcile_ExactlyOnceAcrossLostAck(t *testing.T) {
	source := logbustest.NewReadyBroker(0, "1.4.2")
	source.AddTopic("orders", 1)
	source.SeedRecords("orders", 0, "a", "b", "c")

	target := logbustest.NewReadyBroker(0, "1.4.2")
	target.FailNextProduceAfterAppend = true

	clients := logbustest.NewFakeClients()
	clients.SetSource("src-0.upstream:9640", source)
	clients.SetCluster("default", "test-cluster", target)

	src := testSource("upstream", "src-0.upstream:9640")
	src.ExactlyOnce = true
	cluster := testCluster(src)
	m, k8sClient := newTestManager(t, clients, cluster)

	// First pass: the target appends durably but the acknowledgement is
	// lost. The checkpoint must not advance.
	if err := m.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("first Reconcile() error = %v", err)
	}
	if cluster.Status.Mirroring[0].Healthy {
		t.Error("source reported healthy despite lost acknowledgement")
	}
	if cond := mirroringCondition(cluster); cond == nil || cond.Status != metav1.ConditionFalse {
		t.Fatalf("MirroringHealthy = %+v, want False", cond)
	}
	if len(target.Log("orders", 0)) != 3 {
		t.Fatalf("target has %d records after lost ack, want 3 (durably appended)", len(target.Log("orders", 0)))
	}

	// Second pass replays the same batch with the same idempotency key; the
	// target deduplicates and the checkpoint advances.
	if err := m.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if got := target.Log("orders", 0); len(got) != 3 {
		t.Fatalf("target has %d records after replay, want exactly 3", len(got))
	}
	if !cluster.Status.Mirroring[0].Healthy {
		t.Errorf("source still unhealthy after replay: %s", cluster.Status.Mirroring[0].Message)
	}
	if cluster.Status.Mirroring[0].MirroredRecords != 3 {
		t.Errorf("MirroredRecords = %d, want 3", cluster.Status.Mirroring[0].MirroredRecords)
	}

	calls := target.ProduceCalls()
	if len(calls) != 2 {
		t.Fatalf("got %d produce calls, want 2", len(calls))
	}
	wantKey := "upstream/orders/0/0"
	for i, call := range calls {
		if call.IdempotencyKey != wantKey {
			t.Errorf("produce call %d key = %q, want %q", i, call.IdempotencyKey, wantKey)
		}
	}

	table := storedTable(t, k8sClient, cluster)
	cp, ok := table.Get("upstream", "orders", 0)
	if !ok || cp.SourceOffset != 3 || cp.Records != 3 {
		t.Errorf("stored orders/0 = %+v (present=%v), want offset 3 records 3", cp, ok)
	}
}

func TestReconcile_SourceUnreachableDoesNotBlockOthers(t *testing.T) {
	alpha := logbustest.NewReadyBroker(0, "1.4.2")
	alpha.AddTopic("orders", 1)
	alpha.SeedRecords("orders", 0, "a", "b")

	target := logbustest.NewReadyBroker(0, "1.4.2")

	clients := logbustest.NewFakeClients()
	clients.SetSource("alpha-0.alpha:9640", alpha)
	// beta's server is never registered, so every connect attempt fails.
	clients.SetCluster("default", "test-cluster", target)

	cluster := testCluster(
		testSource("alpha", "alpha-0.alpha:9640"),
		testSource("beta", "beta-0.beta:9640"),
	)
	m, _ := newTestManager(t, clients, cluster)

	if err := m.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("Reconcile() error = %v, want nil despite unreachable source", err)
	}

	if got := target.Log("orders", 0); len(got) != 2 {
		t.Errorf("healthy source copied %d records, want 2", len(got))
	}

	if len(cluster.Status.Mirroring) != 2 {
		t.Fatalf("got %d source statuses, want 2", len(cluster.Status.Mirroring))
	}
	// Statuses are sorted by name.
	if cluster.Status.Mirroring[0].Name != "alpha" || !cluster.Status.Mirroring[0].Healthy {
		t.Errorf("alpha status = %+v, want healthy", cluster.Status.Mirroring[0])
	}
	if cluster.Status.Mirroring[1].Name != "beta" || cluster.Status.Mirroring[1].Healthy {
		t.Errorf("beta status = %+v, want unhealthy", cluster.Status.Mirroring[1])
	}
	if cluster.Status.Mirroring[1].Message == "" {
		t.Error("beta status has no message")
	}

	cond := mirroringCondition(cluster)
	if cond == nil || cond.Status != metav1.ConditionFalse {
		t.Fatalf("MirroringHealthy = %+v, want False", cond)
	}
	if !strings.Contains(cond.Message, "beta") {
		t.Errorf("condition message %q does not name the failing source", cond.Message)
	}
}

func TestReconcile_ResumesFromStoredCheckpoint(t *testing.T) {
	source := logbustest.NewReadyBroker(0, "1.4.2")
	source.AddTopic("orders", 1)
	source.SeedRecords("orders", 0, "a", "b", "c", "d", "e")

	target := logbustest.NewReadyBroker(0, "1.4.2")

	clients := logbustest.NewFakeClients()
	clients.SetSource("src-0.upstream:9640", source)
	clients.SetCluster("default", "test-cluster", target)

	cluster := testCluster(testSource("upstream", "src-0.upstream:9640"))

	stored := NewCheckpointTable()
	stored.Set("upstream", "orders", 0, Checkpoint{SourceOffset: 2, TargetOffset: 1, Records: 2})
	encoded, err := EncodeCheckpoints(stored)
	if err != nil {
		t.Fatalf("EncodeCheckpoints() error = %v", err)
	}
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: StateConfigMapName(cluster.Name), Namespace: cluster.Namespace},
		Data:       map[string]string{constants.StateKeyCheckpoints: encoded},
	}

	m, k8sClient := newTestManager(t, clients, cluster, cm)

	if err := m.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	got := target.Log("orders", 0)
	if len(got) != 3 {
		t.Fatalf("target has %d records, want 3 (resume after offset 2)", len(got))
	}
	if string(got[0].Value) != "c" || string(got[2].Value) != "e" {
		t.Errorf("target values = %q..%q, want c..e", got[0].Value, got[2].Value)
	}

	table := storedTable(t, k8sClient, cluster)
	cp, _ := table.Get("upstream", "orders", 0)
	if cp.SourceOffset != 5 || cp.Records != 5 {
		t.Errorf("stored checkpoint = %+v, want offset 5 records 5", cp)
	}
	if cluster.Status.Mirroring[0].MirroredRecords != 5 {
		t.Errorf("MirroredRecords = %d, want 5", cluster.Status.Mirroring[0].MirroredRecords)
	}
}

func TestReconcile_MaxRecordsPerPassBoundsWork(t *testing.T) {
	source := logbustest.NewReadyBroker(0, "1.4.2")
	source.AddTopic("orders", 1)
	source.SeedRecords("orders", 0, "r0", "r1", "r2", "r3", "r4", "r5", "r6", "r7", "r8", "r9")

	target := logbustest.NewReadyBroker(0, "1.4.2")

	clients := logbustest.NewFakeClients()
	clients.SetSource("src-0.upstream:9640", source)
	clients.SetCluster("default", "test-cluster", target)

	src := testSource("upstream", "src-0.upstream:9640")
	src.MaxRecordsPerPass = 4
	cluster := testCluster(src)
	m, _ := newTestManager(t, clients, cluster)

	if err := m.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("first Reconcile() error = %v", err)
	}
	if got := len(target.Log("orders", 0)); got != 4 {
		t.Errorf("after first pass target has %d records, want 4", got)
	}
	if lag := cluster.Status.Mirroring[0].LagRecords; lag != 6 {
		t.Errorf("after first pass LagRecords = %d, want 6", lag)
	}

	if err := m.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("second Reconcile() error = %v", err)
	}
	if got := len(target.Log("orders", 0)); got != 8 {
		t.Errorf("after second pass target has %d records, want 8", got)
	}
	if lag := cluster.Status.Mirroring[0].LagRecords; lag != 2 {
		t.Errorf("after second pass LagRecords = %d, want 2", lag)
	}
}

func TestReconcile_TopicFiltersApplied(t *testing.T) {
	source := logbustest.NewReadyBroker(0, "1.4.2")
	source.AddTopic("orders", 1)
	source.AddTopic("orders-internal", 1)
	source.AddTopic("payments", 1)
	source.SeedRecords("orders", 0, "a")
	source.SeedRecords("orders-internal", 0, "b")
	source.SeedRecords("payments", 0, "c")

	target := logbustest.NewReadyBroker(0, "1.4.2")

	clients := logbustest.NewFakeClients()
	clients.SetSource("src-0.upstream:9640", source)
	clients.SetCluster("default", "test-cluster", target)

	src := testSource("upstream", "src-0.upstream:9640")
	src.TopicWhitelist = []string{"orders*"}
	src.TopicBlacklist = []string{"*-internal"}
	cluster := testCluster(src)
	m, _ := newTestManager(t, clients, cluster)

	if err := m.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if got := len(target.Log("orders", 0)); got != 1 {
		t.Errorf("orders copied %d records, want 1", got)
	}
	if got := len(target.Log("orders-internal", 0)); got != 0 {
		t.Errorf("blacklisted topic copied %d records, want 0", got)
	}
	if got := len(target.Log("payments", 0)); got != 0 {
		t.Errorf("non-whitelisted topic copied %d records, want 0", got)
	}
	if cluster.Status.Mirroring[0].AssignedPartitions != 1 {
		t.Errorf("AssignedPartitions = %d, want 1", cluster.Status.Mirroring[0].AssignedPartitions)
	}
}

func TestReconcile_CredentialsSecretMissing(t *testing.T) {
	target := logbustest.NewReadyBroker(0, "1.4.2")
	clients := logbustest.NewFakeClients()
	clients.SetCluster("default", "test-cluster", target)

	src := testSource("upstream", "src-0.upstream:9640")
	src.CredentialsSecret = "upstream-creds"
	cluster := testCluster(src)
	m, _ := newTestManager(t, clients, cluster)

	if err := m.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("Reconcile() error = %v, want nil with unhealthy source", err)
	}

	srcStatus := cluster.Status.Mirroring[0]
	if srcStatus.Healthy {
		t.Error("source reported healthy with missing credentials Secret")
	}
	if !strings.Contains(srcStatus.Message, "not found") {
		t.Errorf("status message = %q, want mention of missing Secret", srcStatus.Message)
	}
}

func TestReconcile_NoMirroringConfigured(t *testing.T) {
	cluster := testCluster()
	cluster.Status.Mirroring = []logbusv1alpha1.MirrorSourceStatus{{Name: "stale", Healthy: true}}
	meta.SetStatusCondition(&cluster.Status.Conditions, metav1.Condition{
		Type:   string(logbusv1alpha1.ConditionMirroringHealthy),
		Status: metav1.ConditionTrue,
		Reason: ReasonAllSourcesHealthy,
	})

	m, _ := newTestManager(t, logbustest.NewFakeClients(), cluster)

	if err := m.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if cluster.Status.Mirroring != nil {
		t.Errorf("Mirroring status = %+v, want cleared", cluster.Status.Mirroring)
	}
	if cond := mirroringCondition(cluster); cond != nil {
		t.Errorf("MirroringHealthy condition still present: %+v", cond)
	}
}

func TestReconcile_SecondBootstrapServerUsed(t *testing.T) {
	source := logbustest.NewReadyBroker(0, "1.4.2")
	source.AddTopic("orders", 1)
	source.SeedRecords("orders", 0, "a")

	target := logbustest.NewReadyBroker(0, "1.4.2")

	clients := logbustest.NewFakeClients()
	// Only the second configured server is registered.
	clients.SetSource("src-1.upstream:9640", source)
	clients.SetCluster("default", "test-cluster", target)

	src := testSource("upstream", "src-0.upstream:9640")
	src.BootstrapServers = []string{"src-0.upstream:9640", "src-1.upstream:9640"}
	cluster := testCluster(src)
	m, _ := newTestManager(t, clients, cluster)

	if err := m.Reconcile(context.Background(), logr.Discard(), cluster); err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}

	if !cluster.Status.Mirroring[0].Healthy {
		t.Errorf("source unhealthy despite working fallback server: %s", cluster.Status.Mirroring[0].Message)
	}
	if got := len(target.Log("orders", 0)); got != 1 {
		t.Errorf("copied %d records via fallback server, want 1", got)
	}
}

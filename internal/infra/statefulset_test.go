package infra

import (
	"context"
	"testing"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/logbus-io/logbus-operator/internal/constants"
	operatorerrors "github.com/logbus-io/logbus-operator/internal/errors"
)

func TestBuildStatefulSet_Defaults(t *testing.T) {
	cluster := newInfraCluster("defaults", "default")
	cluster.Spec.Replicas = 0
	cluster.Spec.Storage.Size = ""

	sts, err := buildStatefulSet(cluster, "hash", "rev1", "")
	if err != nil {
		t.Fatalf("buildStatefulSet failed: %v", err)
	}

	if got := *sts.Spec.Replicas; got != defaultReplicas {
		t.Fatalf("expected %d default replicas, got %d", defaultReplicas, got)
	}
	if sts.Spec.PodManagementPolicy != appsv1.ParallelPodManagement {
		t.Fatal("brokers must start in parallel")
	}
	if sts.Spec.UpdateStrategy.RollingUpdate != nil || sts.Spec.UpdateStrategy.Type != "" {
		t.Fatal("builder must not set the update strategy")
	}
	if sts.Spec.ServiceName != headlessServiceName(cluster) {
		t.Fatalf("unexpected service name %q", sts.Spec.ServiceName)
	}

	if len(sts.Spec.VolumeClaimTemplates) != 1 {
		t.Fatalf("expected exactly one volume claim template, got %d", len(sts.Spec.VolumeClaimTemplates))
	}
	pvc := sts.Spec.VolumeClaimTemplates[0]
	if pvc.Name != constants.VolumeData {
		t.Fatalf("unexpected PVC name %q", pvc.Name)
	}
	want := resource.MustParse(defaultStorageSize)
	if got := pvc.Spec.Resources.Requests[corev1.ResourceStorage]; got.Cmp(want) != 0 {
		t.Fatalf("expected default storage size %s, got %s", want.String(), got.String())
	}

	if sts.Spec.Template.Spec.Affinity == nil || sts.Spec.Template.Spec.Affinity.PodAntiAffinity == nil {
		t.Fatal("expected a default pod anti-affinity")
	}
	if got := *sts.Spec.Template.Spec.TerminationGracePeriodSeconds; got != terminationGracePeriodSeconds {
		t.Fatalf("expected termination grace period %d, got %d", terminationGracePeriodSeconds, got)
	}

	sc := sts.Spec.Template.Spec.SecurityContext
	if sc == nil || *sc.RunAsUser != logbusUserID || *sc.FSGroup != logbusGroupID {
		t.Fatal("pod security context must pin the broker UID/GID")
	}
}

func TestBuildStatefulSet_BrokerContainer(t *testing.T) {
	cluster := newInfraCluster("broker", "default")

	sts, err := buildStatefulSet(cluster, "confhash", "rev2", "")
	if err != nil {
		t.Fatalf("buildStatefulSet failed: %v", err)
	}

	containers := sts.Spec.Template.Spec.Containers
	if len(containers) != 1 {
		t.Fatalf("expected one container, got %d", len(containers))
	}
	c := containers[0]

	if c.Name != constants.ContainerNameLogbus {
		t.Fatalf("unexpected container name %q", c.Name)
	}
	if c.Image != cluster.Spec.Image {
		t.Fatalf("unexpected image %q", c.Image)
	}

	portNames := map[string]int32{}
	for _, p := range c.Ports {
		portNames[p.Name] = p.ContainerPort
	}
	if portNames[constants.PortNameClient] != constants.PortClient ||
		portNames[constants.PortNameInterBroker] != constants.PortInterBroker ||
		portNames[constants.PortNameAdmin] != constants.PortAdmin ||
		portNames[constants.PortNameMetrics] != constants.PortMetrics {
		t.Fatalf("unexpected port layout: %v", portNames)
	}

	if c.ReadinessProbe == nil || c.ReadinessProbe.HTTPGet == nil || c.ReadinessProbe.HTTPGet.Path != constants.APIPathReady {
		t.Fatal("readiness probe must hit the admin ready endpoint")
	}
	if c.LivenessProbe == nil || c.LivenessProbe.TCPSocket == nil {
		t.Fatal("liveness probe must only check the TCP listener")
	}
	if c.StartupProbe == nil || c.StartupProbe.FailureThreshold < 10 {
		t.Fatal("startup probe must tolerate a long log replay")
	}

	mounts := map[string]string{}
	for _, vm := range c.VolumeMounts {
		mounts[vm.Name] = vm.MountPath
	}
	if mounts[configVolumeName] != logbusConfigMountPath {
		t.Fatalf("config mount missing, got %v", mounts)
	}
	if mounts[dataVolumeName] != logbusDataPath {
		t.Fatalf("data mount missing, got %v", mounts)
	}
}

func TestBuildStatefulSet_DigestOverridesImage(t *testing.T) {
	cluster := newInfraCluster("pinned", "default")
	digest := "logbus/logbus@sha256:cafe"

	sts, err := buildStatefulSet(cluster, "h", "r", digest)
	if err != nil {
		t.Fatalf("buildStatefulSet failed: %v", err)
	}
	if got := sts.Spec.Template.Spec.Containers[0].Image; got != digest {
		t.Fatalf("expected digest-pinned image, got %q", got)
	}
}

func TestBuildStatefulSet_UserPodMetadataNeverOverridesOperatorKeys(t *testing.T) {
	cluster := newInfraCluster("meta", "default")
	cluster.Spec.PodLabels = map[string]string{
		"team":                       "data-platform",
		constants.LabelLogbusCluster: "spoofed",
	}
	cluster.Spec.PodAnnotations = map[string]string{
		"example.com/scrape":           "true",
		constants.AnnotationConfigHash: "spoofed",
	}

	sts, err := buildStatefulSet(cluster, "realhash", "rev3", "")
	if err != nil {
		t.Fatalf("buildStatefulSet failed: %v", err)
	}

	labels := sts.Spec.Template.Labels
	if labels["team"] != "data-platform" {
		t.Fatal("user labels must be carried through")
	}
	if labels[constants.LabelLogbusCluster] != cluster.Name {
		t.Fatal("operator labels must win over user labels")
	}
	if labels[constants.LabelLogbusRevision] != "rev3" {
		t.Fatal("revision label missing from pod template")
	}

	annotations := sts.Spec.Template.Annotations
	if annotations["example.com/scrape"] != "true" {
		t.Fatal("user annotations must be carried through")
	}
	if annotations[constants.AnnotationConfigHash] != "realhash" {
		t.Fatal("config-hash annotation must win over user annotations")
	}
}

func TestEnsureStatefulSet_PreservesLivePartition(t *testing.T) {
	scheme := newInfraScheme(t)
	cluster := newInfraCluster("upgrading", "default")
	c := fake.NewClientBuilder().WithScheme(scheme).Build()
	m := NewManager(c, scheme)
	ctx := context.Background()

	if err := m.ensureStatefulSet(ctx, testLogger(), cluster, "hash-a", "rev-a", ""); err != nil {
		t.Fatalf("initial ensure failed: %v", err)
	}

	// Simulate the upgrade walk pinning the partition.
	live := &appsv1.StatefulSet{}
	key := types.NamespacedName{Namespace: "default", Name: statefulSetName(cluster)}
	if err := c.Get(ctx, key, live); err != nil {
		t.Fatalf("failed to get StatefulSet: %v", err)
	}
	live.Spec.UpdateStrategy = appsv1.StatefulSetUpdateStrategy{
		Type: appsv1.RollingUpdateStatefulSetStrategyType,
		RollingUpdate: &appsv1.RollingUpdateStatefulSetStrategy{
			Partition: ptr.To(int32(2)),
		},
	}
	if err := c.Update(ctx, live); err != nil {
		t.Fatalf("failed to pin partition: %v", err)
	}

	// A config change forces a structural re-apply; the partition must ride
	// through it untouched.
	if err := m.ensureStatefulSet(ctx, testLogger(), cluster, "hash-b", "rev-b", ""); err != nil {
		t.Fatalf("re-ensure failed: %v", err)
	}

	after := &appsv1.StatefulSet{}
	if err := c.Get(ctx, key, after); err != nil {
		t.Fatalf("failed to get StatefulSet: %v", err)
	}
	if after.Spec.UpdateStrategy.RollingUpdate == nil || after.Spec.UpdateStrategy.RollingUpdate.Partition == nil {
		t.Fatal("partition was dropped by the structural apply")
	}
	if got := *after.Spec.UpdateStrategy.RollingUpdate.Partition; got != 2 {
		t.Fatalf("partition moved from 2 to %d", got)
	}
	if after.Spec.Template.Labels[constants.LabelLogbusRevision] != "rev-b" {
		t.Fatal("pod template revision should have advanced")
	}
}

func TestEnsureStatefulSet_RejectsStorageShrink(t *testing.T) {
	scheme := newInfraScheme(t)
	cluster := newInfraCluster("shrink", "default")
	cluster.Spec.Storage.Size = "100Gi"
	c := fake.NewClientBuilder().WithScheme(scheme).Build()
	m := NewManager(c, scheme)
	ctx := context.Background()

	if err := m.ensureStatefulSet(ctx, testLogger(), cluster, "h", "r", ""); err != nil {
		t.Fatalf("initial ensure failed: %v", err)
	}

	cluster.Spec.Storage.Size = "10Gi"
	err := m.ensureStatefulSet(ctx, testLogger(), cluster, "h", "r", "")
	if err == nil {
		t.Fatal("expected storage shrink to be rejected")
	}
	if !operatorerrors.IsSpecValidation(err) {
		t.Fatalf("expected a spec validation error, got: %v", err)
	}
}

func TestBuildStatefulSet_UserAffinityWins(t *testing.T) {
	cluster := newInfraCluster("affinity", "default")
	cluster.Spec.Affinity = &corev1.Affinity{
		NodeAffinity: &corev1.NodeAffinity{},
	}

	sts, err := buildStatefulSet(cluster, "h", "r", "")
	if err != nil {
		t.Fatalf("buildStatefulSet failed: %v", err)
	}
	affinity := sts.Spec.Template.Spec.Affinity
	if affinity.NodeAffinity == nil {
		t.Fatal("user affinity must be used verbatim")
	}
	if affinity.PodAntiAffinity != nil {
		t.Fatal("default anti-affinity must not be merged into user affinity")
	}
}

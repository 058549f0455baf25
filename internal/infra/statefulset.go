package infra

import (
	"context"
	"fmt"
	"path"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/constants"
	"github.com/logbus-io/logbus-operator/internal/validation"
)

const (
	defaultReplicas    = int32(3)
	defaultStorageSize = "100Gi"

	envHostname = "HOSTNAME"
	envPodIP    = "POD_IP"
)

// ensureStatefulSet converges the broker StatefulSet.
//
// The desired object never mentions spec.updateStrategy: the rolling upgrade
// walk owns the partition, and structural applies must not move it. When the
// live StatefulSet carries a partition, the value is copied into the desired
// object verbatim so a Server-Side Apply that does fire leaves it in place.
func (m *Manager) ensureStatefulSet(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster, configHash, rev, verifiedImageDigest string) error {
	name := statefulSetName(cluster)

	live, err := m.getLive(ctx, types.NamespacedName{Namespace: cluster.Namespace, Name: name}, &appsv1.StatefulSet{})
	if err != nil {
		return err
	}

	var liveSts *appsv1.StatefulSet
	if live != nil {
		liveSts = live.(*appsv1.StatefulSet)
		if err := validation.ValidateStorageResize(cluster, liveSts); err != nil {
			return err
		}
	}

	desired, err := buildStatefulSet(cluster, configHash, rev, verifiedImageDigest)
	if err != nil {
		return fmt.Errorf("failed to build StatefulSet for LogbusCluster %s/%s: %w", cluster.Namespace, cluster.Name, err)
	}

	if liveSts != nil && liveSts.Spec.UpdateStrategy.RollingUpdate != nil && liveSts.Spec.UpdateStrategy.RollingUpdate.Partition != nil {
		desired.Spec.UpdateStrategy = appsv1.StatefulSetUpdateStrategy{
			Type: liveSts.Spec.UpdateStrategy.Type,
			RollingUpdate: &appsv1.RollingUpdateStatefulSetStrategy{
				Partition: ptr.To(*liveSts.Spec.UpdateStrategy.RollingUpdate.Partition),
			},
		}
	}

	if err := m.applyObject(ctx, logger, cluster, desired, live); err != nil {
		return fmt.Errorf("failed to ensure StatefulSet %s/%s: %w", cluster.Namespace, name, err)
	}

	return nil
}

func buildStatefulSet(cluster *logbusv1alpha1.LogbusCluster, configHash, rev, verifiedImageDigest string) (*appsv1.StatefulSet, error) {
	pvc, err := buildStatefulSetPVC(cluster)
	if err != nil {
		return nil, err
	}

	podLabels, podAnnotations := buildPodLabelsAndAnnotations(cluster, rev, configHash)

	return &appsv1.StatefulSet{
		TypeMeta: metav1.TypeMeta{
			Kind:       "StatefulSet",
			APIVersion: "apps/v1",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      statefulSetName(cluster),
			Namespace: cluster.Namespace,
			Labels:    infraLabels(cluster),
		},
		Spec: appsv1.StatefulSetSpec{
			ServiceName: headlessServiceName(cluster),
			Replicas:    ptr.To(desiredReplicas(cluster)),
			Selector: &metav1.LabelSelector{
				MatchLabels: podSelectorLabels(cluster),
			},
			// Brokers discover their peers through the headless Service and
			// form quorum among themselves; ordered startup would deadlock
			// the initial bootstrap.
			PodManagementPolicy: appsv1.ParallelPodManagement,
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels:      podLabels,
					Annotations: podAnnotations,
				},
				Spec: corev1.PodSpec{
					TerminationGracePeriodSeconds: ptr.To(terminationGracePeriodSeconds),
					ImagePullSecrets:              cluster.Spec.ImagePullSecrets,
					NodeSelector:                  cluster.Spec.NodeSelector,
					Tolerations:                   cluster.Spec.Tolerations,
					Affinity:                      buildAffinity(cluster),
					SecurityContext:               buildPodSecurityContext(),
					Containers: []corev1.Container{
						buildBrokerContainer(cluster, verifiedImageDigest),
					},
					Volumes: buildPodVolumes(cluster),
				},
			},
			VolumeClaimTemplates: []corev1.PersistentVolumeClaim{pvc},
		},
	}, nil
}

func desiredReplicas(cluster *logbusv1alpha1.LogbusCluster) int32 {
	if cluster.Spec.Replicas == 0 {
		return defaultReplicas
	}
	return cluster.Spec.Replicas
}

// brokerImage returns the container image reference. A digest-pinned
// reference from image verification wins over the spec reference.
func brokerImage(cluster *logbusv1alpha1.LogbusCluster, verifiedImageDigest string) string {
	if verifiedImageDigest != "" {
		return verifiedImageDigest
	}
	return cluster.Spec.Image
}

// buildPodLabelsAndAnnotations merges user-supplied pod metadata with the
// operator's own. Operator keys win on collision: the selector labels and the
// revision label drive pod adoption and upgrade tracking and must never be
// overridden from the spec.
func buildPodLabelsAndAnnotations(cluster *logbusv1alpha1.LogbusCluster, rev, configHash string) (map[string]string, map[string]string) {
	labels := podTemplateLabels(cluster, rev)

	annotations := make(map[string]string, len(cluster.Spec.PodAnnotations)+1)
	for k, v := range cluster.Spec.PodAnnotations {
		annotations[k] = v
	}
	// Rolls the StatefulSet when the rendered configuration changes.
	annotations[constants.AnnotationConfigHash] = configHash

	return labels, annotations
}

func buildStatefulSetPVC(cluster *logbusv1alpha1.LogbusCluster) (corev1.PersistentVolumeClaim, error) {
	sizeSpec := cluster.Spec.Storage.Size
	if sizeSpec == "" {
		sizeSpec = defaultStorageSize
	}

	size, err := resource.ParseQuantity(sizeSpec)
	if err != nil {
		return corev1.PersistentVolumeClaim{}, fmt.Errorf("invalid storage size %q: %w", sizeSpec, err)
	}

	pvc := corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:   dataVolumeName,
			Labels: infraLabels(cluster),
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{
				corev1.ReadWriteOnce,
			},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{
					corev1.ResourceStorage: size,
				},
			},
		},
	}

	if cluster.Spec.Storage.StorageClassName != nil && *cluster.Spec.Storage.StorageClassName != "" {
		className := *cluster.Spec.Storage.StorageClassName
		pvc.Spec.StorageClassName = &className
	}

	return pvc, nil
}

func buildPodSecurityContext() *corev1.PodSecurityContext {
	return &corev1.PodSecurityContext{
		RunAsNonRoot: ptr.To(true),
		RunAsUser:    ptr.To(logbusUserID),
		RunAsGroup:   ptr.To(logbusGroupID),
		FSGroup:      ptr.To(logbusGroupID),
		SeccompProfile: &corev1.SeccompProfile{
			Type: corev1.SeccompProfileTypeRuntimeDefault,
		},
	}
}

// buildAffinity returns the user-supplied affinity, or a default preferred
// pod anti-affinity that spreads brokers across nodes. Losing several brokers
// to one node failure defeats the replication factor.
func buildAffinity(cluster *logbusv1alpha1.LogbusCluster) *corev1.Affinity {
	if cluster.Spec.Affinity != nil {
		return cluster.Spec.Affinity
	}

	return &corev1.Affinity{
		PodAntiAffinity: &corev1.PodAntiAffinity{
			PreferredDuringSchedulingIgnoredDuringExecution: []corev1.WeightedPodAffinityTerm{
				{
					Weight: 100,
					PodAffinityTerm: corev1.PodAffinityTerm{
						LabelSelector: &metav1.LabelSelector{
							MatchLabels: podSelectorLabels(cluster),
						},
						TopologyKey: "kubernetes.io/hostname",
					},
				},
			},
		},
	}
}

func buildPodVolumes(cluster *logbusv1alpha1.LogbusCluster) []corev1.Volume {
	return []corev1.Volume{
		{
			Name: configVolumeName,
			VolumeSource: corev1.VolumeSource{
				ConfigMap: &corev1.ConfigMapVolumeSource{
					LocalObjectReference: corev1.LocalObjectReference{
						Name: configMapName(cluster),
					},
				},
			},
		},
	}
}

func buildBrokerContainer(cluster *logbusv1alpha1.LogbusCluster, verifiedImageDigest string) corev1.Container {
	pullPolicy := cluster.Spec.ImagePullPolicy
	if pullPolicy == "" {
		pullPolicy = corev1.PullIfNotPresent
	}

	return corev1.Container{
		Name:            constants.ContainerNameLogbus,
		Image:           brokerImage(cluster, verifiedImageDigest),
		ImagePullPolicy: pullPolicy,
		Command:         []string{"/" + constants.BinaryNameLogbus},
		Args: []string{
			"server",
			"--config", path.Join(logbusConfigMountPath, constants.ConfigFileName),
		},
		Env: []corev1.EnvVar{
			{
				// The broker derives its node ID from the pod name.
				Name: envHostname,
				ValueFrom: &corev1.EnvVarSource{
					FieldRef: &corev1.ObjectFieldSelector{
						FieldPath: "metadata.name",
					},
				},
			},
			{
				Name: envPodIP,
				ValueFrom: &corev1.EnvVarSource{
					FieldRef: &corev1.ObjectFieldSelector{
						FieldPath: "status.podIP",
					},
				},
			},
		},
		Ports: []corev1.ContainerPort{
			{
				Name:          constants.PortNameClient,
				ContainerPort: constants.PortClient,
				Protocol:      corev1.ProtocolTCP,
			},
			{
				Name:          constants.PortNameInterBroker,
				ContainerPort: constants.PortInterBroker,
				Protocol:      corev1.ProtocolTCP,
			},
			{
				Name:          constants.PortNameAdmin,
				ContainerPort: constants.PortAdmin,
				Protocol:      corev1.ProtocolTCP,
			},
			{
				Name:          constants.PortNameMetrics,
				ContainerPort: constants.PortMetrics,
				Protocol:      corev1.ProtocolTCP,
			},
		},
		VolumeMounts: []corev1.VolumeMount{
			{
				Name:      configVolumeName,
				MountPath: logbusConfigMountPath,
				ReadOnly:  true,
			},
			{
				Name:      dataVolumeName,
				MountPath: logbusDataPath,
			},
		},
		Resources: cluster.Spec.Resources,
		SecurityContext: &corev1.SecurityContext{
			AllowPrivilegeEscalation: ptr.To(false),
			ReadOnlyRootFilesystem:   ptr.To(true),
			RunAsNonRoot:             ptr.To(true),
			Capabilities: &corev1.Capabilities{
				Drop: []corev1.Capability{"ALL"},
			},
		},
		// Startup tolerates log replay after an unclean shutdown; readiness
		// tracks the broker's own view of being caught up and serving.
		// Liveness only checks that the listener accepts connections, so a
		// broker that is merely lagging is never killed.
		StartupProbe: &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				HTTPGet: &corev1.HTTPGetAction{
					Path: constants.APIPathReady,
					Port: intstr.FromString(constants.PortNameAdmin),
				},
			},
			PeriodSeconds:    10,
			FailureThreshold: 30,
		},
		ReadinessProbe: &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				HTTPGet: &corev1.HTTPGetAction{
					Path: constants.APIPathReady,
					Port: intstr.FromString(constants.PortNameAdmin),
				},
			},
			InitialDelaySeconds: 5,
			PeriodSeconds:       10,
			FailureThreshold:    3,
		},
		LivenessProbe: &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				TCPSocket: &corev1.TCPSocketAction{
					Port: intstr.FromString(constants.PortNameClient),
				},
			},
			InitialDelaySeconds: 30,
			PeriodSeconds:       15,
			FailureThreshold:    4,
		},
	}
}

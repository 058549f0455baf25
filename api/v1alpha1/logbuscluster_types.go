/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	apiextensionsv1 "k8s.io/apiextensions-apiserver/pkg/apis/apiextensions/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// DeletionPolicy defines what happens to externally archived data when the CR is deleted.
// +kubebuilder:validation:Enum=Retain;Delete
type DeletionPolicy string

const (
	// LogbusClusterFinalizer is the finalizer used to ensure cleanup logic
	// runs before a LogbusCluster is fully deleted.
	LogbusClusterFinalizer = "logbus.io/logbuscluster-finalizer"

	// DeletionPolicyRetain keeps archived segments in object storage when the cluster is deleted.
	DeletionPolicyRetain DeletionPolicy = "Retain"
	// DeletionPolicyDelete removes the cluster's archive prefix from object storage on deletion.
	DeletionPolicyDelete DeletionPolicy = "Delete"
)

// ClusterPhase is a high-level summary of cluster state.
// +kubebuilder:validation:Enum=Pending;Creating;Ready;Scaling;Upgrading;Degraded;Deleting
type ClusterPhase string

const (
	// ClusterPhasePending indicates the spec has been accepted but no owned
	// objects exist yet (or the spec failed validation).
	ClusterPhasePending ClusterPhase = "Pending"
	// ClusterPhaseCreating indicates owned objects exist but the broker
	// replicas have not all become ready for the first time.
	ClusterPhaseCreating ClusterPhase = "Creating"
	// ClusterPhaseReady indicates all owned objects are converged and every
	// replica reports ready.
	ClusterPhaseReady ClusterPhase = "Ready"
	// ClusterPhaseScaling indicates a replica-count change is being rolled out.
	ClusterPhaseScaling ClusterPhase = "Scaling"
	// ClusterPhaseUpgrading indicates a version/image rollout is in progress.
	ClusterPhaseUpgrading ClusterPhase = "Upgrading"
	// ClusterPhaseDegraded indicates the operator has detected a problem that
	// requires attention before reconciliation can make further progress.
	ClusterPhaseDegraded ClusterPhase = "Degraded"
	// ClusterPhaseDeleting indicates the cluster is being finalized.
	ClusterPhaseDeleting ClusterPhase = "Deleting"
)

// ConditionType identifies a specific aspect of cluster health or lifecycle.
// This type is kept as a strong string alias to avoid stringly-typed code.
type ConditionType string

const (
	// ConditionValidated indicates whether the spec passed semantic validation.
	ConditionValidated ConditionType = "Validated"
	// ConditionInfrastructureReady indicates whether all owned objects have
	// been applied and are hash-converged.
	ConditionInfrastructureReady ConditionType = "InfrastructureReady"
	// ConditionAvailable indicates whether the broker cluster is generally available.
	ConditionAvailable ConditionType = "Available"
	// ConditionUpgradeInProgress indicates whether a rolling upgrade is currently running.
	ConditionUpgradeInProgress ConditionType = "UpgradeInProgress"
	// ConditionMirroringHealthy indicates whether all configured mirror sources
	// are reachable and advancing their checkpoints.
	ConditionMirroringHealthy ConditionType = "MirroringHealthy"
	// ConditionTieringHealthy indicates whether tiered-storage archival is
	// operating without errors.
	ConditionTieringHealthy ConditionType = "TieringHealthy"
	// ConditionDegraded indicates the operator has detected a problem requiring attention.
	ConditionDegraded ConditionType = "Degraded"
)

// StorageSpec configures the broker's local log storage.
type StorageSpec struct {
	// Size is the persistent volume size per replica, e.g. "100Gi".
	// +kubebuilder:default="100Gi"
	// +optional
	Size string `json:"size,omitempty"`
	// StorageClassName selects the StorageClass for the data volume claim.
	// +optional
	StorageClassName *string `json:"storageClassName,omitempty"`
	// SegmentBytes is the maximum size of a single log segment before it is closed.
	// +kubebuilder:default=1073741824
	// +kubebuilder:validation:Minimum=1048576
	// +optional
	SegmentBytes int64 `json:"segmentBytes,omitempty"`
	// RetentionHours is the broker-side retention window for log data.
	// Zero means unlimited retention.
	// +kubebuilder:validation:Minimum=0
	// +optional
	RetentionHours int32 `json:"retentionHours,omitempty"`
	// RetentionBytes caps the total bytes retained per partition.
	// Zero means no byte-based cap.
	// +kubebuilder:validation:Minimum=0
	// +optional
	RetentionBytes int64 `json:"retentionBytes,omitempty"`
}

// ReplicationSpec configures partition replication defaults for the broker.
type ReplicationSpec struct {
	// DefaultReplicationFactor is the replication factor applied to newly
	// created topics. Must not exceed spec.replicas.
	// +kubebuilder:default=3
	// +kubebuilder:validation:Minimum=1
	// +optional
	DefaultReplicationFactor int32 `json:"defaultReplicationFactor,omitempty"`
	// MinInsyncReplicas is the minimum in-sync replica count required for a
	// durable write. Must not exceed DefaultReplicationFactor.
	// +kubebuilder:default=2
	// +kubebuilder:validation:Minimum=1
	// +optional
	MinInsyncReplicas int32 `json:"minInsyncReplicas,omitempty"`
}

// ServiceSpec customizes the client-facing Service.
type ServiceSpec struct {
	// Type is the Kubernetes Service type for client traffic.
	// +kubebuilder:validation:Enum=ClusterIP;NodePort;LoadBalancer
	// +kubebuilder:default=ClusterIP
	// +optional
	Type corev1.ServiceType `json:"type,omitempty"`
	// ClientPort overrides the advertised client port.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:validation:Maximum=65535
	// +optional
	ClientPort int32 `json:"clientPort,omitempty"`
	// Annotations are added to the client Service (for cloud LB configuration).
	// +optional
	Annotations map[string]string `json:"annotations,omitempty"`
}

// GatewayReference identifies a Gateway API Gateway to attach routes to.
type GatewayReference struct {
	// Name of the Gateway.
	// +kubebuilder:validation:MinLength=1
	Name string `json:"name"`
	// Namespace of the Gateway. Defaults to the cluster namespace.
	// +optional
	Namespace string `json:"namespace,omitempty"`
}

// GatewaySpec enables TCPRoute attachment of the client listener to a Gateway.
type GatewaySpec struct {
	// Enabled turns Gateway API route management on.
	// +optional
	Enabled bool `json:"enabled,omitempty"`
	// GatewayRef is the Gateway to attach the TCPRoute to.
	// +optional
	GatewayRef *GatewayReference `json:"gatewayRef,omitempty"`
	// SectionName selects a specific listener section on the Gateway.
	// +optional
	SectionName *string `json:"sectionName,omitempty"`
}

// ServiceMonitorSpec configures the optional Prometheus Operator scrape object.
type ServiceMonitorSpec struct {
	// Enabled creates a ServiceMonitor for the metrics port.
	// +optional
	Enabled bool `json:"enabled,omitempty"`
	// Interval is the scrape interval, e.g. "30s".
	// +optional
	Interval string `json:"interval,omitempty"`
	// ScrapeTimeout is the per-scrape timeout, e.g. "10s".
	// +optional
	ScrapeTimeout string `json:"scrapeTimeout,omitempty"`
}

// MonitoringSpec groups observability-related owned objects.
type MonitoringSpec struct {
	// +optional
	ServiceMonitor *ServiceMonitorSpec `json:"serviceMonitor,omitempty"`
}

// MirrorTLSSpec configures transport security towards a mirror source.
type MirrorTLSSpec struct {
	// Enabled selects HTTPS for the source admin endpoints.
	// +optional
	Enabled bool `json:"enabled,omitempty"`
	// InsecureSkipVerify disables server certificate verification.
	// Intended for test environments only.
	// +optional
	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty"`
}

// MirrorSource describes one external cluster whose topics are mirrored into
// this cluster.
type MirrorSource struct {
	// Name uniquely identifies the source within this cluster's spec. It is
	// part of checkpoint identity, so renaming a source resets its progress.
	// +kubebuilder:validation:MinLength=1
	// +kubebuilder:validation:MaxLength=63
	// +kubebuilder:validation:Pattern=`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`
	Name string `json:"name"`
	// BootstrapServers are the admin API base endpoints of the source cluster,
	// e.g. "source-0.source-headless.ns.svc:9640".
	// +kubebuilder:validation:MinItems=1
	BootstrapServers []string `json:"bootstrapServers"`
	// TopicWhitelist holds glob patterns selecting topics to mirror.
	// An empty list mirrors nothing.
	// +kubebuilder:validation:MinItems=1
	TopicWhitelist []string `json:"topicWhitelist"`
	// TopicBlacklist holds glob patterns excluding topics even when whitelisted.
	// +optional
	TopicBlacklist []string `json:"topicBlacklist,omitempty"`
	// ConsumerGroupID is the group identity presented to the source cluster.
	// Defaults to "logbus-mirror-<cluster>-<source>".
	// +optional
	ConsumerGroupID string `json:"consumerGroupId,omitempty"`
	// WorkerCount is the number of mirror workers partitions are spread over.
	// Assignment is a deterministic hash, so changing this re-shuffles
	// partition ownership but never loses checkpoints.
	// +kubebuilder:default=1
	// +kubebuilder:validation:Minimum=1
	// +optional
	WorkerCount int32 `json:"workerCount,omitempty"`
	// ExactlyOnce gates checkpoint advancement on durable target
	// acknowledgment and tags every produced batch with an idempotency key so
	// replays after a crash are deduplicated instead of double-applied. When
	// false, checkpoints may advance optimistically, trading possible
	// duplicates on crash-restart for lower latency.
	// +optional
	ExactlyOnce bool `json:"exactlyOnce,omitempty"`
	// MaxRecordsPerPass bounds how many records are copied per partition in a
	// single reconcile pass.
	// +kubebuilder:default=500
	// +kubebuilder:validation:Minimum=1
	// +optional
	MaxRecordsPerPass int32 `json:"maxRecordsPerPass,omitempty"`
	// TLS configures transport security for the source admin endpoints.
	// +optional
	TLS *MirrorTLSSpec `json:"tls,omitempty"`
	// CredentialsSecret names a Secret in the cluster namespace holding
	// "username" and "password" keys (and optionally "caCert") for the source.
	// The operator only ever reads this Secret.
	// +optional
	CredentialsSecret string `json:"credentialsSecret,omitempty"`
}

// MirroringSpec declares zero or more mirror sources.
type MirroringSpec struct {
	// +optional
	// +listType=map
	// +listMapKey=name
	Sources []MirrorSource `json:"sources,omitempty"`
}

// TieredStorageSpec configures hot/warm segment tiering to object storage.
type TieredStorageSpec struct {
	// Enabled turns segment archival on.
	// +optional
	Enabled bool `json:"enabled,omitempty"`
	// Provider selects the object storage backend.
	// +kubebuilder:validation:Enum=s3
	// +kubebuilder:default=s3
	// +optional
	Provider string `json:"provider,omitempty"`
	// HotTierRetentionHours is the age after which a closed segment becomes
	// eligible for archival.
	// +kubebuilder:validation:Minimum=1
	HotTierRetentionHours int32 `json:"hotTierRetentionHours"`
	// Bucket is the object storage bucket name.
	// +kubebuilder:validation:MinLength=1
	Bucket string `json:"bucket"`
	// Prefix is an optional key prefix within the bucket.
	// +optional
	Prefix string `json:"prefix,omitempty"`
	// Endpoint is the object storage endpoint. Empty selects the provider default.
	// +optional
	Endpoint string `json:"endpoint,omitempty"`
	// Region is the bucket region. For S3-compatible stores any non-empty
	// value is accepted.
	// +optional
	Region string `json:"region,omitempty"`
	// CredentialsSecret names a Secret holding "accessKeyId" and
	// "secretAccessKey" keys (and optionally "sessionToken", "region",
	// "caCert"). The operator only ever reads this Secret.
	// +kubebuilder:validation:MinLength=1
	CredentialsSecret string `json:"credentialsSecret"`
	// LocalDeletionGraceMinutes is how long an Archived segment's local bytes
	// are kept before they may be reclaimed, so reads already resolved to the
	// local copy do not fail.
	// +kubebuilder:default=60
	// +kubebuilder:validation:Minimum=0
	// +optional
	LocalDeletionGraceMinutes int32 `json:"localDeletionGraceMinutes,omitempty"`
	// CleanupSchedule is a cron expression gating local-byte reclamation
	// sweeps. Archival itself is not affected by this schedule.
	// +kubebuilder:default="@hourly"
	// +optional
	CleanupSchedule string `json:"cleanupSchedule,omitempty"`
}

// ImageVerificationSpec enables Cosign signature verification of the broker
// image before an upgrade is allowed to start.
type ImageVerificationSpec struct {
	// Enabled turns signature verification on.
	// +optional
	Enabled bool `json:"enabled,omitempty"`
	// PublicKey is the PEM-encoded Cosign public key to verify against.
	// +optional
	PublicKey string `json:"publicKey,omitempty"`
	// IgnoreTlog skips Rekor transparency log verification (for air-gapped
	// registries signed with a private key only).
	// +optional
	IgnoreTlog bool `json:"ignoreTlog,omitempty"`
}

// LogbusClusterSpec defines the desired state of a LogbusCluster.
type LogbusClusterSpec struct {
	// Replicas is the number of broker replicas.
	// +kubebuilder:default=3
	// +kubebuilder:validation:Minimum=1
	// +optional
	Replicas int32 `json:"replicas,omitempty"`

	// Image is the broker container image, e.g. "logbus/logbus:1.4.2".
	// +kubebuilder:validation:MinLength=1
	Image string `json:"image"`

	// Version is the broker version this cluster should run. A change to
	// Version (or Image) triggers a rolling upgrade.
	// +kubebuilder:validation:MinLength=1
	Version string `json:"version"`

	// ImagePullPolicy for the broker container.
	// +optional
	ImagePullPolicy corev1.PullPolicy `json:"imagePullPolicy,omitempty"`

	// ImagePullSecrets for private registries.
	// +optional
	ImagePullSecrets []corev1.LocalObjectReference `json:"imagePullSecrets,omitempty"`

	// Paused suspends all reconciliation for this cluster when true.
	// +optional
	Paused bool `json:"paused,omitempty"`

	// Storage configures the local log tier.
	// +optional
	Storage StorageSpec `json:"storage,omitempty"`

	// Resources are the compute resources for the broker container.
	// +optional
	Resources corev1.ResourceRequirements `json:"resources,omitempty"`

	// Affinity overrides the default anti-affinity rules.
	// +optional
	Affinity *corev1.Affinity `json:"affinity,omitempty"`

	// Tolerations for broker pods.
	// +optional
	Tolerations []corev1.Toleration `json:"tolerations,omitempty"`

	// NodeSelector for broker pods.
	// +optional
	NodeSelector map[string]string `json:"nodeSelector,omitempty"`

	// PodAnnotations are added to broker pods.
	// +optional
	PodAnnotations map[string]string `json:"podAnnotations,omitempty"`

	// PodLabels are added to broker pods.
	// +optional
	PodLabels map[string]string `json:"podLabels,omitempty"`

	// Replication configures topic replication defaults.
	// +optional
	Replication *ReplicationSpec `json:"replication,omitempty"`

	// Service customizes the client-facing Service.
	// +optional
	Service *ServiceSpec `json:"service,omitempty"`

	// Gateway enables Gateway API TCPRoute management for client traffic.
	// +optional
	Gateway *GatewaySpec `json:"gateway,omitempty"`

	// Monitoring configures optional observability owned objects.
	// +optional
	Monitoring *MonitoringSpec `json:"monitoring,omitempty"`

	// Mirroring declares external clusters to mirror into this one.
	// +optional
	Mirroring *MirroringSpec `json:"mirroring,omitempty"`

	// TieredStorage configures segment archival to object storage.
	// +optional
	TieredStorage *TieredStorageSpec `json:"tieredStorage,omitempty"`

	// ImageVerification gates upgrades on Cosign signature verification.
	// +optional
	ImageVerification *ImageVerificationSpec `json:"imageVerification,omitempty"`

	// DeletionPolicy controls what happens to archived object-storage data
	// when the cluster is deleted. Kubernetes objects are always
	// garbage-collected via owner references.
	// +kubebuilder:default=Retain
	// +optional
	DeletionPolicy DeletionPolicy `json:"deletionPolicy,omitempty"`

	// ExtraConfig holds free-form broker configuration merged into the
	// rendered config file. Keys here cannot override operator-owned stanzas.
	// +optional
	ExtraConfig *apiextensionsv1.JSON `json:"extraConfig,omitempty"`
}

// UpgradeProgress tracks an in-flight rolling upgrade.
type UpgradeProgress struct {
	// TargetVersion is the version being rolled out.
	TargetVersion string `json:"targetVersion"`
	// FromVersion is the version the cluster ran before the upgrade started.
	// +optional
	FromVersion string `json:"fromVersion,omitempty"`
	// StartedAt is when the upgrade began.
	// +optional
	StartedAt *metav1.Time `json:"startedAt,omitempty"`
	// UpdatePartition is the current StatefulSet rolling-update partition.
	// Ordinals >= UpdatePartition have been replaced.
	// +optional
	UpdatePartition int32 `json:"updatePartition,omitempty"`
	// CompletedOrdinals counts replicas that passed app-level readiness on the
	// new version.
	// +optional
	CompletedOrdinals int32 `json:"completedOrdinals,omitempty"`
	// FailedOrdinal is set when an ordinal failed readiness within the bounded
	// wait and progression halted.
	// +optional
	FailedOrdinal *int32 `json:"failedOrdinal,omitempty"`
}

// MirrorSourceStatus summarizes one mirror source's progress.
type MirrorSourceStatus struct {
	// Name matches spec.mirroring.sources[].name.
	Name string `json:"name"`
	// AssignedPartitions is the number of source partitions currently matched
	// by the topic filters.
	// +optional
	AssignedPartitions int32 `json:"assignedPartitions,omitempty"`
	// MirroredRecords is the cumulative number of records committed to the
	// target for this source.
	// +optional
	MirroredRecords int64 `json:"mirroredRecords,omitempty"`
	// LagRecords is the total number of source records not yet mirrored, as
	// of the last pass that could reach the source.
	// +optional
	LagRecords int64 `json:"lagRecords,omitempty"`
	// Healthy indicates the source was reachable and mirroring advanced (or
	// had nothing to do) on the last pass.
	// +optional
	Healthy bool `json:"healthy,omitempty"`
	// LastSyncTime is when a checkpoint for this source last advanced.
	// +optional
	LastSyncTime *metav1.Time `json:"lastSyncTime,omitempty"`
	// Message carries the most recent error for an unhealthy source.
	// +optional
	Message string `json:"message,omitempty"`
}

// TieringStatus summarizes tiered-storage progress.
type TieringStatus struct {
	// +optional
	HotSegments int32 `json:"hotSegments,omitempty"`
	// +optional
	UploadingSegments int32 `json:"uploadingSegments,omitempty"`
	// +optional
	ArchivedSegments int32 `json:"archivedSegments,omitempty"`
	// LastArchiveTime is when a segment last transitioned to Archived.
	// +optional
	LastArchiveTime *metav1.Time `json:"lastArchiveTime,omitempty"`
	// LastCleanupTime is when a local-reclamation sweep last ran.
	// +optional
	LastCleanupTime *metav1.Time `json:"lastCleanupTime,omitempty"`
}

// LogbusClusterStatus defines the observed state of a LogbusCluster.
// It is written exclusively by the operator's status reporter, once per
// reconcile pass.
type LogbusClusterStatus struct {
	// Phase is the coarse cluster state. Ready implies ObservedGeneration
	// equals metadata.generation and all owned objects are hash-converged.
	// +optional
	Phase ClusterPhase `json:"phase,omitempty"`

	// Conditions describe specific aspects of cluster state. Transition
	// timestamps only change on actual state transitions.
	// +optional
	// +listType=map
	// +listMapKey=type
	Conditions []metav1.Condition `json:"conditions,omitempty"`

	// ObservedGeneration is the spec generation that was last fully reconciled.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// Replicas is the desired replica count last applied.
	// +optional
	Replicas int32 `json:"replicas,omitempty"`

	// ReadyReplicas is the number of broker replicas reporting ready.
	// +optional
	ReadyReplicas int32 `json:"readyReplicas,omitempty"`

	// CurrentVersion is the broker version the cluster is known to run.
	// During an upgrade it remains the pre-upgrade version until completion.
	// +optional
	CurrentVersion string `json:"currentVersion,omitempty"`

	// ConfigRevision is the short revision hash of the rendered broker config.
	// +optional
	ConfigRevision string `json:"configRevision,omitempty"`

	// Upgrade tracks an in-flight rolling upgrade, nil otherwise.
	// +optional
	Upgrade *UpgradeProgress `json:"upgrade,omitempty"`

	// Mirroring holds per-source mirror progress.
	// +optional
	// +listType=map
	// +listMapKey=name
	Mirroring []MirrorSourceStatus `json:"mirroring,omitempty"`

	// Tiering summarizes tiered-storage state.
	// +optional
	Tiering *TieringStatus `json:"tiering,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:path=logbusclusters,scope=Namespaced,shortName=lbc
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Replicas",type=integer,JSONPath=`.spec.replicas`
// +kubebuilder:printcolumn:name="Ready",type=integer,JSONPath=`.status.readyReplicas`
// +kubebuilder:printcolumn:name="Version",type=string,JSONPath=`.status.currentVersion`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// LogbusCluster is the Schema for the logbusclusters API.
type LogbusCluster struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	// Spec defines the desired state of LogbusCluster.
	Spec LogbusClusterSpec `json:"spec"`

	// Status defines the observed state of LogbusCluster.
	// +optional
	Status LogbusClusterStatus `json:"status"`
}

// +kubebuilder:object:root=true

// LogbusClusterList contains a list of LogbusCluster.
type LogbusClusterList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata"`
	Items           []LogbusCluster `json:"items"`
}

func init() {
	SchemeBuilder.Register(&LogbusCluster{}, &LogbusClusterList{})
}

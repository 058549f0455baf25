// Package validation performs reconcile-time semantic validation of
// LogbusCluster specs.
//
// Structural validation (types, enums, ranges) is enforced by the CRD schema.
// This package covers the cross-field invariants the schema cannot express.
// A failed validation is permanent for the current generation: the reconciler
// surfaces it as a condition and makes no further progress until the spec is
// edited.
package validation

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/robfig/cron/v3"
	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/util/validation/field"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/brokerconfig"
	"github.com/logbus-io/logbus-operator/internal/constants"
	operatorerrors "github.com/logbus-io/logbus-operator/internal/errors"
)

const (
	defaultReplicas          = int32(3)
	defaultReplicationFactor = int32(3)
	defaultMinInsyncReplicas = int32(2)
	defaultStorageSize       = "100Gi"

	minSegmentBytes = int64(1 << 20)
)

// cronParser parses tiered-storage cleanup schedules. Descriptors such as
// "@hourly" are allowed because the CRD defaults to one.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks the cross-field invariants of a LogbusCluster spec. A
// non-nil return is always a spec validation error in the operator taxonomy.
func Validate(cluster *logbusv1alpha1.LogbusCluster) error {
	if cluster == nil {
		return operatorerrors.WrapSpecValidation(fmt.Errorf("cluster is required"))
	}

	var allErrs field.ErrorList
	allErrs = append(allErrs, validateCore(cluster)...)
	allErrs = append(allErrs, validateStorage(cluster)...)
	allErrs = append(allErrs, validateReplication(cluster)...)
	allErrs = append(allErrs, validateGateway(cluster)...)
	allErrs = append(allErrs, validateMirroring(cluster)...)
	allErrs = append(allErrs, validateTieredStorage(cluster)...)
	allErrs = append(allErrs, validateExtraConfig(cluster)...)

	if len(allErrs) > 0 {
		return operatorerrors.WrapSpecValidation(apierrors.NewInvalid(
			logbusv1alpha1.GroupVersion.WithKind("LogbusCluster").GroupKind(),
			cluster.Name,
			allErrs,
		))
	}

	return nil
}

// ValidateStorageResize rejects shrinking the data volume of an existing
// cluster. Growing is allowed; most storage classes support online expansion
// but none support shrinking, and silently recreating volumes would lose log
// data.
func ValidateStorageResize(cluster *logbusv1alpha1.LogbusCluster, live *appsv1.StatefulSet) error {
	if cluster == nil || live == nil {
		return nil
	}

	current, ok := dataVolumeRequest(live)
	if !ok {
		return nil
	}

	desiredSize := cluster.Spec.Storage.Size
	if desiredSize == "" {
		desiredSize = defaultStorageSize
	}
	desired, err := resource.ParseQuantity(desiredSize)
	if err != nil {
		return operatorerrors.WrapSpecValidation(fmt.Errorf("invalid storage size %q: %w", desiredSize, err))
	}

	if desired.Cmp(current) < 0 {
		return operatorerrors.WrapSpecValidation(fmt.Errorf(
			"storage size cannot be shrunk from %s to %s; volume shrinking is not supported",
			current.String(), desired.String(),
		))
	}

	return nil
}

func dataVolumeRequest(sts *appsv1.StatefulSet) (resource.Quantity, bool) {
	for _, claim := range sts.Spec.VolumeClaimTemplates {
		if claim.Name != constants.VolumeData {
			continue
		}
		qty, ok := claim.Spec.Resources.Requests[corev1.ResourceStorage]
		return qty, ok
	}
	return resource.Quantity{}, false
}

func effectiveReplicas(cluster *logbusv1alpha1.LogbusCluster) int32 {
	if cluster.Spec.Replicas == 0 {
		return defaultReplicas
	}
	return cluster.Spec.Replicas
}

func validateCore(cluster *logbusv1alpha1.LogbusCluster) field.ErrorList {
	var allErrs field.ErrorList
	specPath := field.NewPath("spec")

	if cluster.Spec.Replicas < 0 {
		allErrs = append(allErrs, field.Invalid(specPath.Child("replicas"), cluster.Spec.Replicas, "replica count must not be negative"))
	}
	if strings.TrimSpace(cluster.Spec.Image) == "" {
		allErrs = append(allErrs, field.Required(specPath.Child("image"), "broker image is required"))
	}
	if strings.TrimSpace(cluster.Spec.Version) == "" {
		allErrs = append(allErrs, field.Required(specPath.Child("version"), "broker version is required"))
	}

	return allErrs
}

func validateStorage(cluster *logbusv1alpha1.LogbusCluster) field.ErrorList {
	var allErrs field.ErrorList
	storagePath := field.NewPath("spec", "storage")
	storage := cluster.Spec.Storage

	if storage.Size != "" {
		if _, err := resource.ParseQuantity(storage.Size); err != nil {
			allErrs = append(allErrs, field.Invalid(storagePath.Child("size"), storage.Size,
				fmt.Sprintf("invalid quantity: %v", err)))
		}
	}
	if storage.SegmentBytes != 0 && storage.SegmentBytes < minSegmentBytes {
		allErrs = append(allErrs, field.Invalid(storagePath.Child("segmentBytes"), storage.SegmentBytes,
			fmt.Sprintf("segment size must be at least %d bytes", minSegmentBytes)))
	}
	if storage.RetentionHours < 0 {
		allErrs = append(allErrs, field.Invalid(storagePath.Child("retentionHours"), storage.RetentionHours, "retention must not be negative"))
	}
	if storage.RetentionBytes < 0 {
		allErrs = append(allErrs, field.Invalid(storagePath.Child("retentionBytes"), storage.RetentionBytes, "retention must not be negative"))
	}

	return allErrs
}

// validateReplication enforces minInsyncReplicas <= defaultReplicationFactor
// <= replicas on the effective (defaulted) values. A durable write needs
// minInsyncReplicas acknowledgments, which is unsatisfiable when the
// replication factor exceeds the broker count.
func validateReplication(cluster *logbusv1alpha1.LogbusCluster) field.ErrorList {
	var allErrs field.ErrorList
	replicas := effectiveReplicas(cluster)

	factor := defaultReplicationFactor
	minInsync := defaultMinInsyncReplicas
	explicit := cluster.Spec.Replication != nil
	if explicit {
		if cluster.Spec.Replication.DefaultReplicationFactor != 0 {
			factor = cluster.Spec.Replication.DefaultReplicationFactor
		}
		if cluster.Spec.Replication.MinInsyncReplicas != 0 {
			minInsync = cluster.Spec.Replication.MinInsyncReplicas
		}
	}

	replicationPath := field.NewPath("spec", "replication")

	if minInsync > factor {
		allErrs = append(allErrs, field.Invalid(replicationPath.Child("minInsyncReplicas"), minInsync,
			fmt.Sprintf("must not exceed defaultReplicationFactor (%d)", factor)))
	}
	if factor > replicas {
		if explicit {
			allErrs = append(allErrs, field.Invalid(replicationPath.Child("defaultReplicationFactor"), factor,
				fmt.Sprintf("must not exceed spec.replicas (%d)", replicas)))
		} else {
			allErrs = append(allErrs, field.Invalid(field.NewPath("spec", "replicas"), replicas,
				fmt.Sprintf("the defaulted replication factor (%d) exceeds the replica count; set spec.replication explicitly for clusters smaller than %d replicas", factor, factor)))
		}
	}

	return allErrs
}

func validateGateway(cluster *logbusv1alpha1.LogbusCluster) field.ErrorList {
	gateway := cluster.Spec.Gateway
	if gateway == nil || !gateway.Enabled {
		return nil
	}

	var allErrs field.ErrorList
	gatewayPath := field.NewPath("spec", "gateway")

	if gateway.GatewayRef == nil {
		allErrs = append(allErrs, field.Required(gatewayPath.Child("gatewayRef"), "a gateway reference is required when gateway routing is enabled"))
	} else if strings.TrimSpace(gateway.GatewayRef.Name) == "" {
		allErrs = append(allErrs, field.Required(gatewayPath.Child("gatewayRef", "name"), "gateway name is required"))
	}

	return allErrs
}

func validateMirroring(cluster *logbusv1alpha1.LogbusCluster) field.ErrorList {
	mirroring := cluster.Spec.Mirroring
	if mirroring == nil || len(mirroring.Sources) == 0 {
		return nil
	}

	var allErrs field.ErrorList
	sourcesPath := field.NewPath("spec", "mirroring", "sources")
	seen := make(map[string]struct{}, len(mirroring.Sources))

	for i, source := range mirroring.Sources {
		sourcePath := sourcesPath.Index(i)

		if source.Name == "" {
			allErrs = append(allErrs, field.Required(sourcePath.Child("name"), "mirror source name is required"))
		} else if _, dup := seen[source.Name]; dup {
			allErrs = append(allErrs, field.Duplicate(sourcePath.Child("name"), source.Name))
		} else {
			seen[source.Name] = struct{}{}
		}

		if len(source.BootstrapServers) == 0 {
			allErrs = append(allErrs, field.Required(sourcePath.Child("bootstrapServers"), "at least one bootstrap server is required"))
		}
		for j, server := range source.BootstrapServers {
			if strings.TrimSpace(server) == "" {
				allErrs = append(allErrs, field.Invalid(sourcePath.Child("bootstrapServers").Index(j), server, "bootstrap server must not be empty"))
			}
		}

		if len(source.TopicWhitelist) == 0 {
			allErrs = append(allErrs, field.Required(sourcePath.Child("topicWhitelist"), "at least one topic pattern is required"))
		}
		allErrs = append(allErrs, validateTopicPatterns(sourcePath.Child("topicWhitelist"), source.TopicWhitelist)...)
		allErrs = append(allErrs, validateTopicPatterns(sourcePath.Child("topicBlacklist"), source.TopicBlacklist)...)

		if source.WorkerCount < 0 {
			allErrs = append(allErrs, field.Invalid(sourcePath.Child("workerCount"), source.WorkerCount, "worker count must not be negative"))
		}
		if source.MaxRecordsPerPass < 0 {
			allErrs = append(allErrs, field.Invalid(sourcePath.Child("maxRecordsPerPass"), source.MaxRecordsPerPass, "record budget must not be negative"))
		}
	}

	return allErrs
}

func validateTopicPatterns(basePath *field.Path, patterns []string) field.ErrorList {
	var allErrs field.ErrorList
	for i, pattern := range patterns {
		if pattern == "" {
			allErrs = append(allErrs, field.Invalid(basePath.Index(i), pattern, "topic pattern must not be empty"))
			continue
		}
		if _, err := path.Match(pattern, "probe"); err != nil {
			allErrs = append(allErrs, field.Invalid(basePath.Index(i), pattern,
				fmt.Sprintf("invalid glob pattern: %v", err)))
		}
	}
	return allErrs
}

func validateTieredStorage(cluster *logbusv1alpha1.LogbusCluster) field.ErrorList {
	tiered := cluster.Spec.TieredStorage
	if tiered == nil || !tiered.Enabled {
		return nil
	}

	var allErrs field.ErrorList
	tieredPath := field.NewPath("spec", "tieredStorage")

	if strings.TrimSpace(tiered.Bucket) == "" {
		allErrs = append(allErrs, field.Required(tieredPath.Child("bucket"), "a bucket is required when tiered storage is enabled"))
	}
	if strings.TrimSpace(tiered.CredentialsSecret) == "" {
		allErrs = append(allErrs, field.Required(tieredPath.Child("credentialsSecret"), "a credentials secret is required when tiered storage is enabled"))
	}
	if tiered.HotTierRetentionHours < 1 {
		allErrs = append(allErrs, field.Invalid(tieredPath.Child("hotTierRetentionHours"), tiered.HotTierRetentionHours, "hot tier retention must be at least one hour"))
	}
	if tiered.Provider != "" && tiered.Provider != "s3" {
		allErrs = append(allErrs, field.NotSupported(tieredPath.Child("provider"), tiered.Provider, []string{"s3"}))
	}
	if tiered.LocalDeletionGraceMinutes < 0 {
		allErrs = append(allErrs, field.Invalid(tieredPath.Child("localDeletionGraceMinutes"), tiered.LocalDeletionGraceMinutes, "grace period must not be negative"))
	}
	if tiered.CleanupSchedule != "" {
		if _, err := cronParser.Parse(tiered.CleanupSchedule); err != nil {
			allErrs = append(allErrs, field.Invalid(tieredPath.Child("cleanupSchedule"), tiered.CleanupSchedule,
				fmt.Sprintf("invalid cron expression: %v", err)))
		}
	}

	return allErrs
}

func validateExtraConfig(cluster *logbusv1alpha1.LogbusCluster) field.ErrorList {
	extra := cluster.Spec.ExtraConfig
	if extra == nil || len(extra.Raw) == 0 {
		return nil
	}

	var allErrs field.ErrorList
	extraPath := field.NewPath("spec", "extraConfig")

	var decoded map[string]interface{}
	if err := json.Unmarshal(extra.Raw, &decoded); err != nil {
		allErrs = append(allErrs, field.Invalid(extraPath, string(extra.Raw),
			fmt.Sprintf("must be an object: %v", err)))
		return allErrs
	}

	for key := range decoded {
		if brokerconfig.IsReservedConfigKey(key) {
			allErrs = append(allErrs, field.Forbidden(extraPath.Key(key),
				fmt.Sprintf("configuration key %q is managed by the operator and cannot be overridden", key)))
		}
	}

	return allErrs
}

package tiering

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/robfig/cron/v3"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/logbus"
	"github.com/logbus-io/logbus-operator/internal/status"
	"github.com/logbus-io/logbus-operator/internal/storage"
)

// Condition reasons reported on TieringHealthy.
const (
	ReasonArchivalHealthy    = "ArchivalHealthy"
	ReasonArchivalErrors     = "ArchivalErrors"
	ReasonStorageUnavailable = "StorageUnavailable"
)

const defaultCleanupSchedule = "@hourly"

// scheduleParser accepts standard five-field cron plus descriptors such as
// "@hourly", the same grammar spec validation accepts.
var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// StorageFactory builds the object storage client for a cluster. Swapped for
// a fake in tests.
type StorageFactory func(ctx context.Context, c client.Client, cluster *logbusv1alpha1.LogbusCluster) (storage.ObjectStorage, error)

// DefaultStorageFactory reads the credentials Secret referenced by the
// tiered-storage spec and builds an S3 client. Path-style addressing is used
// whenever a custom endpoint is set, which is what S3-compatible stores
// expect.
func DefaultStorageFactory(ctx context.Context, c client.Client, cluster *logbusv1alpha1.LogbusCluster) (storage.ObjectStorage, error) {
	tiered := cluster.Spec.TieredStorage
	creds, err := storage.LoadCredentials(ctx, c, tiered.CredentialsSecret, cluster.Namespace)
	if err != nil {
		return nil, err
	}
	usePathStyle := tiered.Endpoint != ""
	return storage.NewS3ClientFromCredentials(ctx, tiered.Endpoint, tiered.Bucket, tiered.Region, creds, usePathStyle)
}

// Manager archives closed segments to object storage for a LogbusCluster.
// Each Reconcile performs one level-triggered pass: enumerate, upload what
// became eligible, reclaim what aged out, one state table write at the end.
type Manager struct {
	client     client.Client
	scheme     *runtime.Scheme
	brokers    logbus.AdminClients
	storageFor StorageFactory
	store      *Store
}

// NewManager constructs a Manager. A nil storageFor selects
// DefaultStorageFactory.
func NewManager(c client.Client, scheme *runtime.Scheme, brokers logbus.AdminClients, storageFor StorageFactory) *Manager {
	if storageFor == nil {
		storageFor = DefaultStorageFactory
	}
	return &Manager{
		client:     c,
		scheme:     scheme,
		brokers:    brokers,
		storageFor: storageFor,
		store:      NewStore(c, scheme),
	}
}

// Reconcile runs one archival pass. Broker or object storage trouble is
// reported through TieringHealthy and never returned as an error, so a slow
// bucket cannot block structural reconciliation; only state table read/write
// failures propagate.
func (m *Manager) Reconcile(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster) error {
	tiered := cluster.Spec.TieredStorage
	if tiered == nil || !tiered.Enabled {
		cluster.Status.Tiering = nil
		status.Remove(&cluster.Status.Conditions, string(logbusv1alpha1.ConditionTieringHealthy))
		return nil
	}

	logger = logger.WithValues("component", "tiering")

	// Segments move between brokers while an upgrade walks the pods; archival
	// resumes once the walk is done.
	if cluster.Status.Phase == logbusv1alpha1.ClusterPhaseUpgrading {
		logger.V(1).Info("Skipping archival pass during upgrade")
		return nil
	}

	metrics := NewMetrics(cluster.Namespace, cluster.Name)

	table, err := m.store.Load(ctx, cluster)
	if err != nil {
		return err
	}

	objStore, err := m.storageFor(ctx, m.client, cluster)
	if err != nil {
		logger.Error(err, "Object storage unavailable")
		m.publishStatus(cluster, table, 0, metrics)
		m.setHealthCondition(cluster, false, ReasonStorageUnavailable, err.Error())
		return nil
	}

	segments, passErrs := m.enumerateClosedSegments(ctx, cluster)
	enumComplete := len(passErrs) == 0

	now := time.Now().UTC()
	planned, hotYoung, marked := planArchival(table, segments, tiered.HotTierRetentionHours, now)

	// Uploading states are persisted before any bytes move, so a crash
	// mid-pass is distinguishable from an upload that never started.
	if marked {
		if err := m.store.Persist(ctx, cluster, table); err != nil {
			return err
		}
	}

	dirty := false
	for _, plan := range planned {
		if err := m.archiveSegment(ctx, logger, cluster, objStore, table, plan, metrics); err != nil {
			logger.Error(err, "Failed to archive segment",
				"topic", plan.seg.info.Topic,
				"partition", plan.seg.info.Partition,
				"baseOffset", plan.seg.info.BaseOffset)
			metrics.IncrementFailures()
			passErrs = append(passErrs, err)
		}
		dirty = true
	}

	reclaimed, swept, err := m.reclaimLocal(ctx, logger, tiered, table, segments, enumComplete, now)
	if err != nil {
		passErrs = append(passErrs, err)
	}
	if swept {
		dirty = true
	}
	metrics.AddReclaimed(reclaimed)

	if dirty || marked {
		if err := m.store.Persist(ctx, cluster, table); err != nil {
			return err
		}
	}

	m.publishStatus(cluster, table, hotYoung, metrics)

	if len(passErrs) > 0 {
		m.setHealthCondition(cluster, false, ReasonArchivalErrors, passErrs[0].Error())
	} else {
		_, _, archived := table.CountByState()
		m.setHealthCondition(cluster, true, ReasonArchivalHealthy,
			fmt.Sprintf("%d segments archived", archived))
	}
	return nil
}

// PurgeArchive removes every archived object of the cluster from the bucket.
// Called on deletion when deletionPolicy is Delete.
func (m *Manager) PurgeArchive(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster) error {
	tiered := cluster.Spec.TieredStorage
	if tiered == nil || !tiered.Enabled {
		return nil
	}

	objStore, err := m.storageFor(ctx, m.client, cluster)
	if err != nil {
		return fmt.Errorf("failed to build object storage client for purge: %w", err)
	}

	prefix := ArchivePrefix(cluster)
	logger.Info("Purging archived segments", "prefix", prefix)
	return objStore.DeletePrefix(ctx, prefix)
}

// ClearMetrics removes all tiering metric series for the cluster. Called on
// cluster deletion.
func (m *Manager) ClearMetrics(cluster *logbusv1alpha1.LogbusCluster) {
	NewMetrics(cluster.Namespace, cluster.Name).Clear()
}

// ArchivePrefix returns the object key prefix holding every segment of the
// cluster, "<prefix>/<namespace>/<name>/". Namespace and name scope the
// prefix so two clusters can share a bucket.
func ArchivePrefix(cluster *logbusv1alpha1.LogbusCluster) string {
	base := fmt.Sprintf("%s/%s/", cluster.Namespace, cluster.Name)
	prefix := strings.Trim(cluster.Spec.TieredStorage.Prefix, "/")
	if prefix == "" {
		return base
	}
	return prefix + "/" + base
}

// objectKey returns the deterministic object key for one segment:
// <archivePrefix><topic>/<partition>/<baseOffset>.seg. Determinism is what
// lets an interrupted upload be found and completed by a later pass.
func objectKey(cluster *logbusv1alpha1.LogbusCluster, info logbus.SegmentInfo) string {
	return fmt.Sprintf("%s%s/%d/%d.seg", ArchivePrefix(cluster), info.Topic, info.Partition, info.BaseOffset)
}

// cleanupDue reports whether a reclamation sweep is due. The first sweep is
// due immediately; after that the schedule gates.
func cleanupDue(expr string, last *time.Time, now time.Time) (bool, error) {
	if expr == "" {
		expr = defaultCleanupSchedule
	}
	schedule, err := scheduleParser.Parse(expr)
	if err != nil {
		return false, fmt.Errorf("invalid cleanup schedule %q: %w", expr, err)
	}
	if last == nil || last.IsZero() {
		return true, nil
	}
	return !now.Before(schedule.Next(*last)), nil
}

func (m *Manager) publishStatus(cluster *logbusv1alpha1.LogbusCluster, table *ArchiveTable, hotYoung int32, metrics *Metrics) {
	tableHot, uploading, archived := table.CountByState()
	hot := hotYoung + tableHot

	tieringStatus := &logbusv1alpha1.TieringStatus{
		HotSegments:       hot,
		UploadingSegments: uploading,
		ArchivedSegments:  archived,
	}
	if at := table.LastArchiveTime(); at != nil {
		t := metav1.NewTime(*at)
		tieringStatus.LastArchiveTime = &t
	}
	if table.LastCleanupAt != nil {
		t := metav1.NewTime(*table.LastCleanupAt)
		tieringStatus.LastCleanupTime = &t
	}
	cluster.Status.Tiering = tieringStatus
	metrics.SetSegmentCounts(hot, uploading, archived)
}

func (m *Manager) setHealthCondition(cluster *logbusv1alpha1.LogbusCluster, healthy bool, reason, message string) {
	if healthy {
		status.True(&cluster.Status.Conditions, cluster.Generation,
			string(logbusv1alpha1.ConditionTieringHealthy), reason, message)
		return
	}
	status.False(&cluster.Status.Conditions, cluster.Generation,
		string(logbusv1alpha1.ConditionTieringHealthy), reason, message)
}

// Package tiering archives closed log segments to object storage and
// reclaims their local bytes after a grace period. Per-segment state moves
// Hot -> Uploading -> Archived through a TOML table in the cluster's
// archive-state ConfigMap; Archived never regresses, so interrupted passes
// re-enter the machine idempotently.
package tiering

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/constants"
	operatorerrors "github.com/logbus-io/logbus-operator/internal/errors"
)

// SegmentState is the archival state of one closed segment.
type SegmentState string

const (
	// SegmentHot means the segment exists only on broker disks.
	SegmentHot SegmentState = "Hot"
	// SegmentUploading means an upload was started; the remote object may or
	// may not be complete.
	SegmentUploading SegmentState = "Uploading"
	// SegmentArchived means the remote object exists and its checksum was
	// verified. Archived is terminal.
	SegmentArchived SegmentState = "Archived"
)

// ArchiveEntry tracks one segment through the archival state machine.
type ArchiveEntry struct {
	Topic      string `toml:"topic"`
	Partition  int32  `toml:"partition"`
	BaseOffset int64  `toml:"base_offset"`
	SizeBytes  int64  `toml:"size_bytes"`
	// Checksum is the hex SHA-256 of the segment bytes, recorded when the
	// upload was verified.
	Checksum string       `toml:"checksum,omitempty"`
	State    SegmentState `toml:"state"`
	// ArchivedAt is when the segment reached Archived.
	ArchivedAt *time.Time `toml:"archived_at,omitempty"`
	// LocalDeleted means the brokers were told the local bytes may go. The
	// entry is kept so the object's provenance stays auditable.
	LocalDeleted bool `toml:"local_deleted,omitempty"`
}

// ArchiveTable is the archival state of one cluster, keyed
// "topic/partition/baseOffset".
type ArchiveTable struct {
	// LastCleanupAt gates the reclamation sweep on the cleanup schedule.
	LastCleanupAt *time.Time              `toml:"last_cleanup_at,omitempty"`
	Segments      map[string]ArchiveEntry `toml:"segments"`
}

// NewArchiveTable returns an empty table.
func NewArchiveTable() *ArchiveTable {
	return &ArchiveTable{Segments: map[string]ArchiveEntry{}}
}

// SegmentKey renders the table key for one segment.
func SegmentKey(topic string, partition int32, baseOffset int64) string {
	return fmt.Sprintf("%s/%d/%d", topic, partition, baseOffset)
}

// Get returns the entry for one segment.
func (t *ArchiveTable) Get(topic string, partition int32, baseOffset int64) (ArchiveEntry, bool) {
	entry, ok := t.Segments[SegmentKey(topic, partition, baseOffset)]
	return entry, ok
}

// Set replaces the entry for one segment.
func (t *ArchiveTable) Set(entry ArchiveEntry) {
	if t.Segments == nil {
		t.Segments = map[string]ArchiveEntry{}
	}
	t.Segments[SegmentKey(entry.Topic, entry.Partition, entry.BaseOffset)] = entry
}

// Merge folds other into t. An Archived entry is never replaced by a
// non-Archived one, and LocalDeleted sticks once set; everything else takes
// the incoming side, so a checksum-mismatch revert to Hot persists.
func (t *ArchiveTable) Merge(other *ArchiveTable) {
	if other == nil {
		return
	}
	if t.Segments == nil {
		t.Segments = map[string]ArchiveEntry{}
	}
	for key, theirs := range other.Segments {
		ours, exists := t.Segments[key]
		if !exists {
			t.Segments[key] = theirs
			continue
		}
		if ours.State == SegmentArchived && theirs.State != SegmentArchived {
			continue
		}
		if ours.State == SegmentArchived && ours.LocalDeleted {
			theirs.LocalDeleted = true
		}
		t.Segments[key] = theirs
	}
	if other.LastCleanupAt != nil {
		if t.LastCleanupAt == nil || other.LastCleanupAt.After(*t.LastCleanupAt) {
			t.LastCleanupAt = other.LastCleanupAt
		}
	}
}

// CountByState tallies entries per state.
func (t *ArchiveTable) CountByState() (hot, uploading, archived int32) {
	for _, entry := range t.Segments {
		switch entry.State {
		case SegmentUploading:
			uploading++
		case SegmentArchived:
			archived++
		default:
			hot++
		}
	}
	return hot, uploading, archived
}

// LastArchiveTime returns the most recent ArchivedAt, or nil when nothing was
// archived yet.
func (t *ArchiveTable) LastArchiveTime() *time.Time {
	var last *time.Time
	for _, entry := range t.Segments {
		if entry.ArchivedAt == nil {
			continue
		}
		if last == nil || entry.ArchivedAt.After(*last) {
			at := *entry.ArchivedAt
			last = &at
		}
	}
	return last
}

// EncodeArchive renders the table as TOML.
func EncodeArchive(table *ArchiveTable) (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(table); err != nil {
		return "", fmt.Errorf("failed to encode archive table: %w", err)
	}
	return buf.String(), nil
}

// DecodeArchive parses a TOML archive table.
func DecodeArchive(data string) (*ArchiveTable, error) {
	table := NewArchiveTable()
	if err := toml.Unmarshal([]byte(data), table); err != nil {
		return nil, fmt.Errorf("failed to decode archive table: %w", err)
	}
	if table.Segments == nil {
		table.Segments = map[string]ArchiveEntry{}
	}
	return table, nil
}

// StateConfigMapName returns the name of the cluster's archive-state ConfigMap.
func StateConfigMapName(clusterName string) string {
	return clusterName + constants.SuffixArchiveState
}

// Store reads and writes the archive table in the archive-state ConfigMap,
// with the same read-modify-write discipline as the mirror checkpoint store:
// plain Update, conflict retry, merge before every write.
type Store struct {
	client client.Client
	scheme *runtime.Scheme
}

// NewStore constructs a Store.
func NewStore(c client.Client, scheme *runtime.Scheme) *Store {
	return &Store{client: c, scheme: scheme}
}

// Load returns the cluster's archive table, creating the ConfigMap if needed.
func (s *Store) Load(ctx context.Context, cluster *logbusv1alpha1.LogbusCluster) (*ArchiveTable, error) {
	name := StateConfigMapName(cluster.Name)

	cm := &corev1.ConfigMap{}
	err := s.client.Get(ctx, types.NamespacedName{Namespace: cluster.Namespace, Name: name}, cm)
	if apierrors.IsNotFound(err) {
		if createErr := s.create(ctx, cluster); createErr != nil {
			return nil, createErr
		}
		return NewArchiveTable(), nil
	}
	if err != nil {
		return nil, operatorerrors.WrapTransientAPI(fmt.Errorf("failed to get archive state ConfigMap %s/%s: %w", cluster.Namespace, name, err))
	}

	raw := cm.Data[constants.StateKeyArchive]
	if raw == "" {
		return NewArchiveTable(), nil
	}

	table, err := DecodeArchive(raw)
	if err != nil {
		// Resetting would re-upload everything and, worse, re-release local
		// bytes tracking would be lost. Surface the corruption instead.
		return nil, fmt.Errorf("archive state ConfigMap %s/%s is corrupt: %w", cluster.Namespace, name, err)
	}
	return table, nil
}

// Persist writes the table back, merging with the stored copy first.
func (s *Store) Persist(ctx context.Context, cluster *logbusv1alpha1.LogbusCluster, table *ArchiveTable) error {
	name := StateConfigMapName(cluster.Name)

	var lastErr error
	for attempt := 1; attempt <= constants.ApplyConflictRetries; attempt++ {
		cm := &corev1.ConfigMap{}
		err := s.client.Get(ctx, types.NamespacedName{Namespace: cluster.Namespace, Name: name}, cm)
		if apierrors.IsNotFound(err) {
			if createErr := s.create(ctx, cluster); createErr != nil {
				return createErr
			}
			continue
		}
		if err != nil {
			return operatorerrors.WrapTransientAPI(fmt.Errorf("failed to get archive state ConfigMap %s/%s: %w", cluster.Namespace, name, err))
		}

		merged := NewArchiveTable()
		if raw := cm.Data[constants.StateKeyArchive]; raw != "" {
			if stored, decodeErr := DecodeArchive(raw); decodeErr == nil {
				merged.Merge(stored)
			}
		}
		merged.Merge(table)

		encoded, err := EncodeArchive(merged)
		if err != nil {
			return err
		}

		if cm.Data == nil {
			cm.Data = map[string]string{}
		}
		cm.Data[constants.StateKeyArchive] = encoded

		err = s.client.Update(ctx, cm)
		if err == nil {
			return nil
		}
		if apierrors.IsConflict(err) {
			lastErr = err
			continue
		}
		return operatorerrors.WrapTransientAPI(fmt.Errorf("failed to update archive state ConfigMap %s/%s: %w", cluster.Namespace, name, err))
	}

	return operatorerrors.WrapTransientAPI(fmt.Errorf(
		"archive state ConfigMap %s/%s kept conflicting after %d attempts: %w",
		cluster.Namespace, name, constants.ApplyConflictRetries, lastErr))
}

func (s *Store) create(ctx context.Context, cluster *logbusv1alpha1.LogbusCluster) error {
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      StateConfigMapName(cluster.Name),
			Namespace: cluster.Namespace,
			Labels: map[string]string{
				constants.LabelLogbusCluster: cluster.Name,
				constants.LabelAppManagedBy:  constants.LabelValueAppManagedByLogbusOperator,
			},
		},
		Data: map[string]string{},
	}
	if err := controllerutil.SetControllerReference(cluster, cm, s.scheme); err != nil {
		return fmt.Errorf("failed to set owner reference on archive state ConfigMap: %w", err)
	}
	if err := s.client.Create(ctx, cm); err != nil && !apierrors.IsAlreadyExists(err) {
		return operatorerrors.WrapTransientAPI(fmt.Errorf("failed to create archive state ConfigMap %s/%s: %w", cluster.Namespace, cm.Name, err))
	}
	return nil
}

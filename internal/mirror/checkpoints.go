// Package mirror copies records from external Logbus clusters into the local
// one. Topic selection, partition assignment, and per-partition progress are
// all deterministic, so any operator replica can resume a pass exactly where
// the previous one stopped.
package mirror

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

// Checkpoint records mirror progress for one source partition.
type Checkpoint struct {
	// SourceOffset is the next offset to fetch from the source.
	SourceOffset int64 `toml:"source_offset"`
	// TargetOffset is the last offset the local cluster assigned to records
	// mirrored from this partition.
	TargetOffset int64 `toml:"target_offset"`
	// Records is the cumulative number of records mirrored for this partition.
	Records int64 `toml:"records"`
	// UpdatedAt is when this checkpoint last advanced.
	UpdatedAt time.Time `toml:"updated_at"`
}

// SourceCheckpoints holds one source's checkpoints, keyed "topic/partition".
type SourceCheckpoints struct {
	Partitions map[string]Checkpoint `toml:"partitions"`
}

// CheckpointTable is the full mirror progress table of one cluster. The
// source name is part of checkpoint identity, so renaming a source in the
// spec abandons its rows and starts that source from the beginning.
type CheckpointTable struct {
	Sources map[string]SourceCheckpoints `toml:"sources"`
}

// NewCheckpointTable returns an empty table.
func NewCheckpointTable() *CheckpointTable {
	return &CheckpointTable{Sources: map[string]SourceCheckpoints{}}
}

// PartitionKey renders the table key for one partition.
func PartitionKey(topic string, partition int32) string {
	return fmt.Sprintf("%s/%d", topic, partition)
}

// Get returns the checkpoint for one source partition. A zero checkpoint and
// false mean the partition has never been mirrored and fetching starts at
// offset zero.
func (t *CheckpointTable) Get(source, topic string, partition int32) (Checkpoint, bool) {
	sc, ok := t.Sources[source]
	if !ok {
		return Checkpoint{}, false
	}
	cp, ok := sc.Partitions[PartitionKey(topic, partition)]
	return cp, ok
}

// Set replaces the checkpoint for one source partition.
func (t *CheckpointTable) Set(source, topic string, partition int32, cp Checkpoint) {
	if t.Sources == nil {
		t.Sources = map[string]SourceCheckpoints{}
	}
	sc, ok := t.Sources[source]
	if !ok {
		sc = SourceCheckpoints{Partitions: map[string]Checkpoint{}}
	}
	if sc.Partitions == nil {
		sc.Partitions = map[string]Checkpoint{}
	}
	sc.Partitions[PartitionKey(topic, partition)] = cp
	t.Sources[source] = sc
}

// Merge folds other into t, keeping for every source partition whichever
// side has fetched further. Offsets never move backward, so a slow writer
// racing a faster one cannot roll progress back.
func (t *CheckpointTable) Merge(other *CheckpointTable) {
	if other == nil {
		return
	}
	if t.Sources == nil {
		t.Sources = map[string]SourceCheckpoints{}
	}
	for source, theirs := range other.Sources {
		ours, ok := t.Sources[source]
		if !ok {
			ours = SourceCheckpoints{Partitions: map[string]Checkpoint{}}
		}
		if ours.Partitions == nil {
			ours.Partitions = map[string]Checkpoint{}
		}
		for key, cp := range theirs.Partitions {
			current, exists := ours.Partitions[key]
			if !exists || cp.SourceOffset > current.SourceOffset {
				ours.Partitions[key] = cp
			}
		}
		t.Sources[source] = ours
	}
}

// EncodeCheckpoints renders the table as TOML.
func EncodeCheckpoints(table *CheckpointTable) (string, error) {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(table); err != nil {
		return "", fmt.Errorf("failed to encode checkpoint table: %w", err)
	}
	return buf.String(), nil
}

// DecodeCheckpoints parses a TOML checkpoint table.
func DecodeCheckpoints(data string) (*CheckpointTable, error) {
	table := NewCheckpointTable()
	if err := toml.Unmarshal([]byte(data), table); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint table: %w", err)
	}
	if table.Sources == nil {
		table.Sources = map[string]SourceCheckpoints{}
	}
	return table, nil
}

// StateConfigMapName returns the name of the cluster's mirror-state ConfigMap.
func StateConfigMapName(clusterName string) string {
	return clusterName + constants.SuffixMirrorState
}

// Store reads and writes the checkpoint table in the cluster's mirror-state
// ConfigMap. The ConfigMap is owned by the cluster but updated with plain
// read-modify-write rather than Server-Side Apply: the table is runtime state
// written by whichever operator replica holds the lease, not declared
// configuration.
type Store struct {
	client client.Client
	scheme *runtime.Scheme
}

// NewStore constructs a Store backed by the given Kubernetes client. The
// scheme is used to set the owner reference when the ConfigMap is first
// created.
func NewStore(c client.Client, scheme *runtime.Scheme) *Store {
	return &Store{client: c, scheme: scheme}
}

// Load returns the cluster's checkpoint table. A missing ConfigMap is created
// empty so the first persist cannot race cluster deletion, and an empty table
// is returned.
func (s *Store) Load(ctx context.Context, cluster *logbusv1alpha1.LogbusCluster) (*CheckpointTable, error) {
	name := StateConfigMapName(cluster.Name)

	cm := &corev1.ConfigMap{}
	err := s.client.Get(ctx, types.NamespacedName{Namespace: cluster.Namespace, Name: name}, cm)
	if apierrors.IsNotFound(err) {
		if createErr := s.create(ctx, cluster); createErr != nil {
			return nil, createErr
		}
		return NewCheckpointTable(), nil
	}
	if err != nil {
		return nil, operatorerrors.WrapTransientAPI(fmt.Errorf("failed to get mirror state ConfigMap %s/%s: %w", cluster.Namespace, name, err))
	}

	raw := cm.Data[constants.StateKeyCheckpoints]
	if raw == "" {
		return NewCheckpointTable(), nil
	}

	table, err := DecodeCheckpoints(raw)
	if err != nil {
		// A table that does not parse is not silently reset: starting from an
		// empty table would re-copy every partition from offset zero.
		return nil, fmt.Errorf("mirror state ConfigMap %s/%s is corrupt: %w", cluster.Namespace, name, err)
	}
	return table, nil
}

// Persist writes the table back, merging with whatever is stored so offsets
// only ever advance. Update conflicts re-read and re-merge up to
// ApplyConflictRetries times before giving up with a transient error.
func (s *Store) Persist(ctx context.Context, cluster *logbusv1alpha1.LogbusCluster, table *CheckpointTable) error {
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
			return operatorerrors.WrapTransientAPI(fmt.Errorf("failed to get mirror state ConfigMap %s/%s: %w", cluster.Namespace, name, err))
		}

		merged := NewCheckpointTable()
		if raw := cm.Data[constants.StateKeyCheckpoints]; raw != "" {
			stored, decodeErr := DecodeCheckpoints(raw)
			if decodeErr == nil {
				merged.Merge(stored)
			}
			// A stored table that no longer parses is overwritten by the
			// in-memory one; the alternative is wedging mirroring forever.
		}
		merged.Merge(table)

		encoded, err := EncodeCheckpoints(merged)
		if err != nil {
			return err
		}

		if cm.Data == nil {
			cm.Data = map[string]string{}
		}
		cm.Data[constants.StateKeyCheckpoints] = encoded

		err = s.client.Update(ctx, cm)
		if err == nil {
			return nil
		}
		if apierrors.IsConflict(err) {
			lastErr = err
			continue
		}
		return operatorerrors.WrapTransientAPI(fmt.Errorf("failed to update mirror state ConfigMap %s/%s: %w", cluster.Namespace, name, err))
	}

	return operatorerrors.WrapTransientAPI(fmt.Errorf(
		"mirror state ConfigMap %s/%s kept conflicting after %d attempts: %w",
		cluster.Namespace, name, constants.ApplyConflictRetries, lastErr))
}

// create makes the empty state ConfigMap owned by the cluster so deletion
// cascades through garbage collection.
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
		return fmt.Errorf("failed to set owner reference on mirror state ConfigMap: %w", err)
	}
	if err := s.client.Create(ctx, cm); err != nil && !apierrors.IsAlreadyExists(err) {
		return operatorerrors.WrapTransientAPI(fmt.Errorf("failed to create mirror state ConfigMap %s/%s: %w", cluster.Namespace, cm.Name, err))
	}
	return nil
}

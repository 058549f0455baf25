package tiering

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/go-logr/logr"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	"github.com/logbus-io/logbus-operator/internal/logbus"
	"github.com/logbus-io/logbus-operator/internal/storage"
)

// hostedSegment couples one closed segment with the broker pods currently
// serving a replica of it.
type hostedSegment struct {
	info logbus.SegmentInfo
	pods []logbus.AdminAPI
}

// plannedSegment is one segment the current pass will archive.
type plannedSegment struct {
	seg *hostedSegment
	// resume means the stored entry was already Uploading when the pass
	// started; the remote object may exist and is checked before re-upload.
	resume bool
}

// enumerateClosedSegments asks every broker pod for its segments and merges
// the answers. Replicated segments are listed by several pods; each appears
// once, with all its hosting pods attached. An unreachable pod is recorded
// and skipped, since its partitions usually have replicas elsewhere.
func (m *Manager) enumerateClosedSegments(ctx context.Context, cluster *logbusv1alpha1.LogbusCluster) (map[string]*hostedSegment, []error) {
	segments := map[string]*hostedSegment{}
	var errs []error

	for ordinal := int32(0); ordinal < cluster.Spec.Replicas; ordinal++ {
		pod, err := m.brokers.ForPod(cluster.Namespace, cluster.Name, ordinal)
		if err != nil {
			errs = append(errs, fmt.Errorf("broker %d unavailable: %w", ordinal, err))
			continue
		}
		topics, err := pod.ListTopics(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to list topics on broker %d: %w", ordinal, err))
			continue
		}
		for _, topic := range topics {
			for partition := int32(0); partition < topic.Partitions; partition++ {
				segs, err := pod.ListSegments(ctx, topic.Name, partition)
				if err != nil {
					errs = append(errs, fmt.Errorf("failed to list segments of %s/%d on broker %d: %w", topic.Name, partition, ordinal, err))
					continue
				}
				for _, info := range segs {
					if !info.Closed {
						continue
					}
					key := SegmentKey(info.Topic, info.Partition, info.BaseOffset)
					if existing, ok := segments[key]; ok {
						existing.pods = append(existing.pods, pod)
						continue
					}
					segments[key] = &hostedSegment{info: info, pods: []logbus.AdminAPI{pod}}
				}
			}
		}
	}
	return segments, errs
}

// planArchival walks the enumerated segments and decides this pass's work.
// Segments past the hot retention get an Uploading entry; entries already
// Uploading from an interrupted pass are planned as resumes regardless of
// age. Archived entries are skipped. The returned hotYoung counts closed
// segments still inside the retention window. The marked flag reports
// whether the table changed and must be persisted before uploads start.
func planArchival(table *ArchiveTable, segments map[string]*hostedSegment, retentionHours int32, now time.Time) (planned []plannedSegment, hotYoung int32, marked bool) {
	cutoff := now.Add(-time.Duration(retentionHours) * time.Hour)

	keys := make([]string, 0, len(segments))
	for key := range segments {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		seg := segments[key]
		entry, exists := table.Segments[key]
		if exists && entry.State == SegmentArchived {
			continue
		}
		resume := exists && entry.State == SegmentUploading

		if !resume {
			if seg.info.ClosedAt == nil || seg.info.ClosedAt.After(cutoff) {
				hotYoung++
				continue
			}
			table.Set(ArchiveEntry{
				Topic:      seg.info.Topic,
				Partition:  seg.info.Partition,
				BaseOffset: seg.info.BaseOffset,
				SizeBytes:  seg.info.SizeBytes,
				State:      SegmentUploading,
			})
			marked = true
		}
		planned = append(planned, plannedSegment{seg: seg, resume: resume})
	}
	return planned, hotYoung, marked
}

// archiveSegment moves one segment Uploading -> Archived. The segment bytes
// are streamed from a hosting broker straight to object storage while a
// SHA-256 runs alongside; the digest must match what the broker reported for
// the sealed segment, otherwise the remote object is deleted and the entry
// reverts to Hot for a retry on the next pass.
func (m *Manager) archiveSegment(ctx context.Context, logger logr.Logger, cluster *logbusv1alpha1.LogbusCluster, objStore storage.ObjectStorage, table *ArchiveTable, plan plannedSegment, metrics *Metrics) error {
	info := plan.seg.info
	key := objectKey(cluster, info)

	// A resumed upload may already be complete remotely; finishing without
	// re-upload keeps archival exactly once per segment.
	if plan.resume {
		head, err := objStore.Head(ctx, key)
		if err == nil && head != nil && head.Size == info.SizeBytes {
			m.completeArchival(table, info, info.Checksum)
			metrics.RecordArchived(info.SizeBytes)
			logger.V(1).Info("Completed interrupted archival without re-upload",
				"topic", info.Topic, "partition", info.Partition, "baseOffset", info.BaseOffset)
			return nil
		}
	}

	reader, err := plan.seg.pods[0].SegmentReader(ctx, info.Topic, info.Partition, info.BaseOffset)
	if err != nil {
		m.revertToHot(table, info)
		return fmt.Errorf("failed to open segment %s: %w", SegmentKey(info.Topic, info.Partition, info.BaseOffset), err)
	}
	defer func() { _ = reader.Close() }()

	hasher := sha256.New()
	tee := io.TeeReader(reader, hasher)
	if err := objStore.Upload(ctx, key, tee, info.SizeBytes); err != nil {
		m.revertToHot(table, info)
		return fmt.Errorf("failed to upload segment %s: %w", SegmentKey(info.Topic, info.Partition, info.BaseOffset), err)
	}

	sum := hex.EncodeToString(hasher.Sum(nil))
	if info.Checksum != "" && sum != info.Checksum {
		// The bytes that landed remotely are not the bytes the broker sealed.
		if delErr := objStore.Delete(ctx, key); delErr != nil {
			logger.Error(delErr, "Failed to delete mismatched archive object", "key", key)
		}
		m.revertToHot(table, info)
		return fmt.Errorf("checksum mismatch for segment %s: broker reported %s, upload hashed to %s",
			SegmentKey(info.Topic, info.Partition, info.BaseOffset), info.Checksum, sum)
	}

	m.completeArchival(table, info, sum)
	metrics.RecordArchived(info.SizeBytes)
	logger.Info("Archived segment",
		"topic", info.Topic, "partition", info.Partition,
		"baseOffset", info.BaseOffset, "sizeBytes", info.SizeBytes)
	return nil
}

func (m *Manager) completeArchival(table *ArchiveTable, info logbus.SegmentInfo, checksum string) {
	now := time.Now().UTC()
	table.Set(ArchiveEntry{
		Topic:      info.Topic,
		Partition:  info.Partition,
		BaseOffset: info.BaseOffset,
		SizeBytes:  info.SizeBytes,
		Checksum:   checksum,
		State:      SegmentArchived,
		ArchivedAt: &now,
	})
}

func (m *Manager) revertToHot(table *ArchiveTable, info logbus.SegmentInfo) {
	table.Set(ArchiveEntry{
		Topic:      info.Topic,
		Partition:  info.Partition,
		BaseOffset: info.BaseOffset,
		SizeBytes:  info.SizeBytes,
		State:      SegmentHot,
	})
}

// reclaimLocal releases local bytes of Archived segments older than the
// deletion grace, gated on the cleanup schedule. Entries stay in the table
// with LocalDeleted set. The swept result reports whether a sweep ran at
// all, which is also what advances LastCleanupAt. enumComplete guards the
// no-broker-serves-it shortcut: with a pod unreachable, an absent listing
// does not mean the bytes are gone.
func (m *Manager) reclaimLocal(ctx context.Context, logger logr.Logger, tiered *logbusv1alpha1.TieredStorageSpec, table *ArchiveTable, segments map[string]*hostedSegment, enumComplete bool, now time.Time) (int, bool, error) {
	due, err := cleanupDue(tiered.CleanupSchedule, table.LastCleanupAt, now)
	if err != nil {
		return 0, false, err
	}
	if !due {
		return 0, false, nil
	}

	grace := time.Duration(tiered.LocalDeletionGraceMinutes) * time.Minute

	reclaimed := 0
	var firstErr error
	for key, entry := range table.Segments {
		if entry.State != SegmentArchived || entry.LocalDeleted {
			continue
		}
		if entry.ArchivedAt == nil || now.Sub(*entry.ArchivedAt) < grace {
			continue
		}

		hosted, listed := segments[key]
		if !listed {
			if !enumComplete {
				continue
			}
			// No broker serves the segment anymore; the bytes are gone.
			entry.LocalDeleted = true
			table.Segments[key] = entry
			reclaimed++
			continue
		}

		released := true
		for _, pod := range hosted.pods {
			if err := pod.ReleaseSegment(ctx, entry.Topic, entry.Partition, entry.BaseOffset); err != nil {
				logger.Error(err, "Failed to release local segment bytes",
					"topic", entry.Topic, "partition", entry.Partition, "baseOffset", entry.BaseOffset)
				if firstErr == nil {
					firstErr = err
				}
				released = false
				break
			}
		}
		if released {
			entry.LocalDeleted = true
			table.Segments[key] = entry
			reclaimed++
		}
	}

	sweepAt := now
	table.LastCleanupAt = &sweepAt
	return reclaimed, true, firstErr
}

package mirror

import (
	"context"
	"fmt"
	"time"

	logbusv1alpha1 "github.com/logbus-io/logbus-operator/api/v1alpha1"
	operatorerrors "github.com/logbus-io/logbus-operator/internal/errors"
	"github.com/logbus-io/logbus-operator/internal/logbus"
)

const defaultMaxRecordsPerPass = 500

// partitionResult is one partition's outcome for a pass.
type partitionResult struct {
	Ref partitionRef
	// Checkpoint is the post-pass checkpoint. Meaningful only when Advanced.
	Checkpoint Checkpoint
	// Advanced reports whether the checkpoint moved and must be written back.
	Advanced bool
	// Copied is the number of records mirrored by this pass.
	Copied int64
	// Lag is the number of source records not yet mirrored after this pass.
	Lag int64
	Err error
}

// runWorker copies each assigned partition once, sequentially. Workers share
// the checkpoint table read-only and never touch each other's results, so no
// locking is needed; the manager folds results back into the table after all
// workers finish.
func runWorker(ctx context.Context, source, target logbus.AdminAPI, src *logbusv1alpha1.MirrorSource, refs []partitionRef, table *CheckpointTable) []partitionResult {
	results := make([]partitionResult, 0, len(refs))
	for _, ref := range refs {
		cp, _ := table.Get(src.Name, ref.Topic, ref.Partition)
		results = append(results, copyPartition(ctx, source, target, src, ref, cp))
	}
	return results
}

// copyPartition fetches one bounded batch from the source partition and
// produces it to the same topic and partition locally.
//
// With exactlyOnce the batch carries the idempotency key
// "<source>/<topic>/<partition>/<firstSourceOffset>" and the checkpoint
// advances only after the target acknowledged the append. A replay after a
// lost acknowledgment re-fetches the same batch, re-sends the same key, and
// the target answers Duplicate without appending again, so the checkpoint
// still advances exactly once per record.
//
// Without exactlyOnce no key is sent and delivery is at least once: an
// acknowledgment lost before the checkpoint persists means the batch is
// appended a second time on the next pass.
func copyPartition(ctx context.Context, source, target logbus.AdminAPI, src *logbusv1alpha1.MirrorSource, ref partitionRef, cp Checkpoint) partitionResult {
	result := partitionResult{Ref: ref, Checkpoint: cp}

	maxRecords := src.MaxRecordsPerPass
	if maxRecords <= 0 {
		maxRecords = defaultMaxRecordsPerPass
	}

	fetched, err := source.FetchRecords(ctx, logbus.FetchRequest{
		Topic:      ref.Topic,
		Partition:  ref.Partition,
		Offset:     cp.SourceOffset,
		MaxRecords: maxRecords,
	})
	if err != nil {
		result.Err = operatorerrors.WrapExternalDependency(fmt.Errorf(
			"failed to fetch %s from source %s: %w", PartitionKey(ref.Topic, ref.Partition), src.Name, err))
		return result
	}

	if len(fetched.Records) == 0 {
		// The source may have reclaimed the checkpointed range; resume at the
		// next offset it still serves instead of refetching a hole forever.
		if fetched.NextOffset > cp.SourceOffset {
			result.Checkpoint.SourceOffset = fetched.NextOffset
			result.Checkpoint.UpdatedAt = time.Now().UTC()
			result.Advanced = true
		}
		result.Lag = lagBehind(fetched.HighWatermark, result.Checkpoint.SourceOffset)
		return result
	}

	records := make([]logbus.Record, len(fetched.Records))
	for i, rec := range fetched.Records {
		// The target assigns its own offsets; only payload and timestamp
		// carry over.
		records[i] = logbus.Record{Key: rec.Key, Value: rec.Value, Timestamp: rec.Timestamp}
	}

	produce := logbus.ProduceRequest{
		Topic:     ref.Topic,
		Partition: ref.Partition,
		Records:   records,
	}
	if src.ExactlyOnce {
		produce.IdempotencyKey = fmt.Sprintf("%s/%s/%d/%d", src.Name, ref.Topic, ref.Partition, fetched.Records[0].Offset)
	}

	acked, err := target.ProduceRecords(ctx, produce)
	if err != nil {
		result.Err = fmt.Errorf("failed to produce %s to local cluster for source %s: %w",
			PartitionKey(ref.Topic, ref.Partition), src.Name, err)
		result.Lag = lagBehind(fetched.HighWatermark, cp.SourceOffset)
		return result
	}

	result.Checkpoint = Checkpoint{
		SourceOffset: fetched.NextOffset,
		TargetOffset: acked.LastOffset,
		Records:      cp.Records + int64(len(records)),
		UpdatedAt:    time.Now().UTC(),
	}
	result.Advanced = true
	result.Copied = int64(len(records))
	result.Lag = lagBehind(fetched.HighWatermark, result.Checkpoint.SourceOffset)
	return result
}

func lagBehind(highWatermark, sourceOffset int64) int64 {
	if highWatermark <= sourceOffset {
		return 0
	}
	return highWatermark - sourceOffset
}

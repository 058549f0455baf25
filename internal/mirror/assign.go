package mirror

import (
	"hash/fnv"
	"path"
	"sort"

	"github.com/logbus-io/logbus-operator/internal/logbus"
)

// partitionRef identifies one source partition to mirror.
type partitionRef struct {
	Topic     string
	Partition int32
}

// selectTopics filters the source's topics to those matching at least one
// whitelist glob and no blacklist glob. Invalid patterns were rejected at
// validation time; here they simply never match.
func selectTopics(topics []logbus.TopicInfo, whitelist, blacklist []string) []logbus.TopicInfo {
	selected := make([]logbus.TopicInfo, 0, len(topics))
	for _, topic := range topics {
		if !matchesAny(topic.Name, whitelist) {
			continue
		}
		if matchesAny(topic.Name, blacklist) {
			continue
		}
		selected = append(selected, topic)
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].Name < selected[j].Name })
	return selected
}

func matchesAny(name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := path.Match(pattern, name); err == nil && ok {
			return true
		}
	}
	return false
}

// assignPartitions spreads the selected partitions over workerCount workers
// using an FNV-1a hash of "topic/partition". The hash is stable across
// operator restarts and worker count changes only move the partitions whose
// hash bucket changed, so there is no rebalance storm and checkpoints stay
// valid under any assignment.
func assignPartitions(topics []logbus.TopicInfo, workerCount int32) [][]partitionRef {
	if workerCount < 1 {
		workerCount = 1
	}
	assignments := make([][]partitionRef, workerCount)
	for _, topic := range topics {
		for partition := int32(0); partition < topic.Partitions; partition++ {
			worker := assignWorker(topic.Name, partition, workerCount)
			assignments[worker] = append(assignments[worker], partitionRef{Topic: topic.Name, Partition: partition})
		}
	}
	return assignments
}

// assignWorker returns the worker index owning one partition.
func assignWorker(topic string, partition int32, workerCount int32) int32 {
	h := fnv.New32a()
	h.Write([]byte(PartitionKey(topic, partition)))
	return int32(h.Sum32() % uint32(workerCount))
}

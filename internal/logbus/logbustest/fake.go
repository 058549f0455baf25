// Package logbustest provides in-memory fakes of the broker admin API for
// unit tests. FakeBroker models a single broker: seeded partitions, closed
// segments with checksums, and idempotent produce. FakeClients hands fakes
// out in place of the real client factory.
package logbustest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/logbus-io/logbus-operator/internal/logbus"
)

// SegmentKey identifies one segment in release-call records.
type SegmentKey struct {
	Topic      string
	Partition  int32
	BaseOffset int64
}

// FakeBroker is an in-memory implementation of logbus.AdminAPI.
// The zero value is usable; configure fields before handing it to code
// under test. All methods are safe for concurrent use.
type FakeBroker struct {
	mu sync.Mutex

	// ReadyResponse is returned by Ready. Defaults to not ready.
	ReadyResponse logbus.ReadyResponse
	// ReadyErr, ListErr, FetchErr, ProduceErr force the matching calls to
	// fail when non-nil.
	ReadyErr   error
	ListErr    error
	FetchErr   error
	ProduceErr error

	// FailNextProduceAfterAppend makes the next produce append its records
	// durably but return an error, simulating a lost acknowledgement.
	FailNextProduceAfterAppend bool

	topics      []logbus.TopicInfo
	segments    map[string][]logbus.SegmentInfo
	segmentData map[string][]byte
	logs        map[string][]logbus.Record
	applied     map[string]logbus.ProduceResponse

	produceCalls []logbus.ProduceRequest
	releaseCalls []SegmentKey
}

var _ logbus.AdminAPI = (*FakeBroker)(nil)

// NewReadyBroker returns a broker that reports ready with the given version.
func NewReadyBroker(brokerID int32, version string) *FakeBroker {
	return &FakeBroker{
		ReadyResponse: logbus.ReadyResponse{
			Ready:    true,
			BrokerID: brokerID,
			Version:  version,
		},
	}
}

func partitionKey(topic string, partition int32) string {
	return fmt.Sprintf("%s/%d", topic, partition)
}

func segmentKey(topic string, partition int32, baseOffset int64) string {
	return fmt.Sprintf("%s/%d/%d", topic, partition, baseOffset)
}

// AddTopic registers a topic in ListTopics responses.
func (b *FakeBroker) AddTopic(name string, partitions int32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics = append(b.topics, logbus.TopicInfo{Name: name, Partitions: partitions})
}

// AddSegment registers a segment and its raw bytes.
func (b *FakeBroker) AddSegment(info logbus.SegmentInfo, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.segments == nil {
		b.segments = make(map[string][]logbus.SegmentInfo)
		b.segmentData = make(map[string][]byte)
	}
	key := partitionKey(info.Topic, info.Partition)
	b.segments[key] = append(b.segments[key], info)
	sort.Slice(b.segments[key], func(i, j int) bool {
		return b.segments[key][i].BaseOffset < b.segments[key][j].BaseOffset
	})
	b.segmentData[segmentKey(info.Topic, info.Partition, info.BaseOffset)] = data
}

// SeedRecords appends records to a partition's log without going through
// produce, for use as mirror-source fixtures.
func (b *FakeBroker) SeedRecords(topic string, partition int32, values ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.logs == nil {
		b.logs = make(map[string][]logbus.Record)
	}
	key := partitionKey(topic, partition)
	for _, v := range values {
		b.logs[key] = append(b.logs[key], logbus.Record{
			Offset: int64(len(b.logs[key])),
			Value:  []byte(v),
		})
	}
}

// Log returns a copy of a partition's record log.
func (b *FakeBroker) Log(topic string, partition int32) []logbus.Record {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := partitionKey(topic, partition)
	out := make([]logbus.Record, len(b.logs[key]))
	copy(out, b.logs[key])
	return out
}

// ProduceCalls returns a copy of every produce request received.
func (b *FakeBroker) ProduceCalls() []logbus.ProduceRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]logbus.ProduceRequest, len(b.produceCalls))
	copy(out, b.produceCalls)
	return out
}

// ReleaseCalls returns a copy of every segment release received.
func (b *FakeBroker) ReleaseCalls() []SegmentKey {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SegmentKey, len(b.releaseCalls))
	copy(out, b.releaseCalls)
	return out
}

// Ready implements logbus.AdminAPI.
func (b *FakeBroker) Ready(_ context.Context) (*logbus.ReadyResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ReadyErr != nil {
		return nil, b.ReadyErr
	}
	resp := b.ReadyResponse
	return &resp, nil
}

// ListTopics implements logbus.AdminAPI.
func (b *FakeBroker) ListTopics(_ context.Context) ([]logbus.TopicInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ListErr != nil {
		return nil, b.ListErr
	}
	out := make([]logbus.TopicInfo, len(b.topics))
	copy(out, b.topics)
	return out, nil
}

// ListSegments implements logbus.AdminAPI.
func (b *FakeBroker) ListSegments(_ context.Context, topic string, partition int32) ([]logbus.SegmentInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ListErr != nil {
		return nil, b.ListErr
	}
	segs := b.segments[partitionKey(topic, partition)]
	out := make([]logbus.SegmentInfo, len(segs))
	copy(out, segs)
	return out, nil
}

// SegmentReader implements logbus.AdminAPI.
func (b *FakeBroker) SegmentReader(_ context.Context, topic string, partition int32, baseOffset int64) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.segmentData[segmentKey(topic, partition, baseOffset)]
	if !ok {
		return nil, fmt.Errorf("segment %s/%d/%d not found", topic, partition, baseOffset)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// ReleaseSegment implements logbus.AdminAPI.
func (b *FakeBroker) ReleaseSegment(_ context.Context, topic string, partition int32, baseOffset int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseCalls = append(b.releaseCalls, SegmentKey{Topic: topic, Partition: partition, BaseOffset: baseOffset})
	return nil
}

// FetchRecords implements logbus.AdminAPI.
func (b *FakeBroker) FetchRecords(_ context.Context, fetch logbus.FetchRequest) (*logbus.FetchResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FetchErr != nil {
		return nil, b.FetchErr
	}

	log := b.logs[partitionKey(fetch.Topic, fetch.Partition)]
	high := int64(len(log))

	start := fetch.Offset
	if start < 0 {
		start = 0
	}
	if start > high {
		start = high
	}
	end := start + int64(fetch.MaxRecords)
	if fetch.MaxRecords <= 0 || end > high {
		end = high
	}

	records := make([]logbus.Record, end-start)
	copy(records, log[start:end])

	return &logbus.FetchResponse{
		Records:       records,
		HighWatermark: high,
		NextOffset:    end,
	}, nil
}

// ProduceRecords implements logbus.AdminAPI. Batches with an idempotency key
// the broker already applied are acknowledged as duplicates without
// appending again, matching broker behavior.
func (b *FakeBroker) ProduceRecords(_ context.Context, produce logbus.ProduceRequest) (*logbus.ProduceResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ProduceErr != nil {
		return nil, b.ProduceErr
	}

	b.produceCalls = append(b.produceCalls, produce)

	if produce.IdempotencyKey != "" {
		if resp, ok := b.applied[produce.IdempotencyKey]; ok {
			dup := resp
			dup.Duplicate = true
			return &dup, nil
		}
	}

	if b.logs == nil {
		b.logs = make(map[string][]logbus.Record)
	}
	key := partitionKey(produce.Topic, produce.Partition)
	first := int64(len(b.logs[key]))
	for i, rec := range produce.Records {
		rec.Offset = first + int64(i)
		b.logs[key] = append(b.logs[key], rec)
	}
	resp := logbus.ProduceResponse{
		FirstOffset: first,
		LastOffset:  first + int64(len(produce.Records)) - 1,
	}

	if produce.IdempotencyKey != "" {
		if b.applied == nil {
			b.applied = make(map[string]logbus.ProduceResponse)
		}
		b.applied[produce.IdempotencyKey] = resp
	}

	if b.FailNextProduceAfterAppend {
		b.FailNextProduceAfterAppend = false
		return nil, fmt.Errorf("connection reset before acknowledgement")
	}

	return &resp, nil
}

// FakeClients is an in-memory implementation of logbus.AdminClients.
type FakeClients struct {
	mu sync.Mutex

	pods     map[string]logbus.AdminAPI
	clusters map[string]logbus.AdminAPI
	sources  map[string]logbus.AdminAPI

	// PodErr, ClusterErr, SourceErr force the matching lookups to fail.
	PodErr     error
	ClusterErr error
	SourceErr  error
}

var _ logbus.AdminClients = (*FakeClients)(nil)

// NewFakeClients returns an empty registry.
func NewFakeClients() *FakeClients {
	return &FakeClients{
		pods:     make(map[string]logbus.AdminAPI),
		clusters: make(map[string]logbus.AdminAPI),
		sources:  make(map[string]logbus.AdminAPI),
	}
}

// SetPod registers the broker returned for one pod ordinal.
func (f *FakeClients) SetPod(namespace, clusterName string, ordinal int32, api logbus.AdminAPI) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pods[fmt.Sprintf("%s/%s/%d", namespace, clusterName, ordinal)] = api
}

// SetCluster registers the broker returned for a cluster's client service.
func (f *FakeClients) SetCluster(namespace, clusterName string, api logbus.AdminAPI) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clusters[fmt.Sprintf("%s/%s", namespace, clusterName)] = api
}

// SetSource registers the broker returned for a mirror source server.
func (f *FakeClients) SetSource(server string, api logbus.AdminAPI) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources[server] = api
}

// ForPod implements logbus.AdminClients.
func (f *FakeClients) ForPod(namespace, clusterName string, ordinal int32) (logbus.AdminAPI, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PodErr != nil {
		return nil, f.PodErr
	}
	api, ok := f.pods[fmt.Sprintf("%s/%s/%d", namespace, clusterName, ordinal)]
	if !ok {
		return nil, fmt.Errorf("no fake broker registered for pod %s/%s-%d", namespace, clusterName, ordinal)
	}
	return api, nil
}

// ForCluster implements logbus.AdminClients.
func (f *FakeClients) ForCluster(namespace, clusterName string) (logbus.AdminAPI, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ClusterErr != nil {
		return nil, f.ClusterErr
	}
	api, ok := f.clusters[fmt.Sprintf("%s/%s", namespace, clusterName)]
	if !ok {
		return nil, fmt.Errorf("no fake broker registered for cluster %s/%s", namespace, clusterName)
	}
	return api, nil
}

// ForSource implements logbus.AdminClients.
func (f *FakeClients) ForSource(server string, _, _ bool, _ *logbus.Credentials) (logbus.AdminAPI, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SourceErr != nil {
		return nil, f.SourceErr
	}
	api, ok := f.sources[server]
	if !ok {
		return nil, fmt.Errorf("no fake broker registered for source %s", server)
	}
	return api, nil
}

package logbus

import (
	"context"
	"io"
)

// AdminAPI describes the broker admin operations the operator depends on.
// *Client implements it; tests substitute fakes.
type AdminAPI interface {
	// Ready returns the broker's own application-level readiness. The
	// response is populated even when the broker reports not ready.
	Ready(ctx context.Context) (*ReadyResponse, error)

	// ListTopics returns the topics hosted by the cluster.
	ListTopics(ctx context.Context) ([]TopicInfo, error)

	// ListSegments returns the segments of one partition, oldest first.
	ListSegments(ctx context.Context, topic string, partition int32) ([]SegmentInfo, error)

	// SegmentReader streams the raw bytes of a closed segment.
	// The caller must close the returned reader.
	SegmentReader(ctx context.Context, topic string, partition int32, baseOffset int64) (io.ReadCloser, error)

	// ReleaseSegment tells the broker an archived segment's local bytes may
	// be reclaimed.
	ReleaseSegment(ctx context.Context, topic string, partition int32, baseOffset int64) error

	// FetchRecords reads a bounded batch of records from one partition.
	FetchRecords(ctx context.Context, fetch FetchRequest) (*FetchResponse, error)

	// ProduceRecords appends a batch of records to one partition, honoring
	// the request's idempotency key.
	ProduceRecords(ctx context.Context, produce ProduceRequest) (*ProduceResponse, error)
}

// AdminClients abstracts client construction so the upgrade, mirror, and
// tiering managers can be tested against fakes.
type AdminClients interface {
	// ForPod returns a client for one broker pod's admin endpoint, addressed
	// through the cluster's headless Service.
	ForPod(namespace, clusterName string, ordinal int32) (AdminAPI, error)

	// ForCluster returns a client for the cluster's client Service, which
	// load-balances over ready brokers.
	ForCluster(namespace, clusterName string) (AdminAPI, error)

	// ForSource returns a client for a mirror source bootstrap server.
	ForSource(server string, useTLS, insecureSkipVerify bool, creds *Credentials) (AdminAPI, error)
}

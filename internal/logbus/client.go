// Package logbus provides the HTTP client for the Logbus broker admin API.
// The operator uses it for app-level readiness gating during rolling
// upgrades, for segment inventory and release in tiered storage, and for the
// bounded fetch/produce steps of mirroring.
package logbus

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/logbus-io/logbus-operator/internal/constants"
)

const (
	// DefaultConnectionTimeout is the default timeout for establishing connections.
	DefaultConnectionTimeout = 5 * time.Second
	// DefaultRequestTimeout is the default timeout for individual API requests.
	DefaultRequestTimeout = 10 * time.Second
	// DefaultStreamTimeout bounds segment streaming reads. Closed segments can
	// be large, so this is far looser than the request timeout.
	DefaultStreamTimeout = 30 * time.Minute
)

// ReadyResponse represents the response from GET /v1/ready.
// The endpoint returns 200 when the broker has joined the cluster and its
// partitions are caught up, 503 otherwise. The body is populated either way.
type ReadyResponse struct {
	// Ready indicates the broker passed its own application-level checks.
	Ready bool `json:"ready"`
	// BrokerID is the ordinal-derived broker identifier.
	BrokerID int32 `json:"broker_id"`
	// Version is the broker build version.
	Version string `json:"version,omitempty"`
	// Message optionally explains why the broker is not ready.
	Message string `json:"message,omitempty"`
}

// TopicInfo describes one topic as reported by GET /v1/topics.
type TopicInfo struct {
	Name       string `json:"name"`
	Partitions int32  `json:"partitions"`
}

// SegmentInfo describes one log segment as reported by GET /v1/segments.
type SegmentInfo struct {
	Topic      string `json:"topic"`
	Partition  int32  `json:"partition"`
	BaseOffset int64  `json:"base_offset"`
	EndOffset  int64  `json:"end_offset"`
	SizeBytes  int64  `json:"size_bytes"`
	// Closed reports whether the segment is sealed. Only closed segments are
	// eligible for archival; the active segment is never archived.
	Closed   bool       `json:"closed"`
	ClosedAt *time.Time `json:"closed_at,omitempty"`
	// Checksum is the broker-computed SHA-256 of the segment bytes, hex
	// encoded. Present only for closed segments.
	Checksum string `json:"checksum,omitempty"`
}

// Record is a single message in fetch and produce payloads. Key and Value are
// base64 in the wire form, which encoding/json handles for []byte.
type Record struct {
	Offset    int64  `json:"offset,omitempty"`
	Key       []byte `json:"key,omitempty"`
	Value     []byte `json:"value"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// FetchRequest is the payload for POST /v1/records/fetch.
type FetchRequest struct {
	Topic      string `json:"topic"`
	Partition  int32  `json:"partition"`
	Offset     int64  `json:"offset"`
	MaxRecords int32  `json:"max_records"`
}

// FetchResponse is the response from POST /v1/records/fetch.
type FetchResponse struct {
	Records []Record `json:"records"`
	// HighWatermark is the offset of the next record the partition will
	// assign. Records == empty and NextOffset == HighWatermark means caught up.
	HighWatermark int64 `json:"high_watermark"`
	// NextOffset is where the next fetch should resume.
	NextOffset int64 `json:"next_offset"`
}

// ProduceRequest is the payload for POST /v1/records/produce.
type ProduceRequest struct {
	Topic     string `json:"topic"`
	Partition int32  `json:"partition"`
	// IdempotencyKey deduplicates replays of the same batch. A broker that
	// already applied the key acknowledges without appending again.
	IdempotencyKey string   `json:"idempotency_key,omitempty"`
	Records        []Record `json:"records"`
}

// ProduceResponse is the response from POST /v1/records/produce.
type ProduceResponse struct {
	FirstOffset int64 `json:"first_offset"`
	LastOffset  int64 `json:"last_offset"`
	// Duplicate is true when the idempotency key was already applied and no
	// records were appended by this call.
	Duplicate bool `json:"duplicate,omitempty"`
}

// Client provides access to a single broker's admin API endpoints.
type Client struct {
	baseURL      string
	username     string
	password     string
	httpClient   *http.Client
	streamClient *http.Client

	state *clientState
}

// ClientConfig holds configuration for creating a new Client.
type ClientConfig struct {
	// BaseURL is the broker admin API URL
	// (e.g., "http://logbus-0.logbus-headless.ns.svc:9640").
	BaseURL string
	// Username and Password enable HTTP basic auth. Both empty disables auth,
	// which is the in-cluster default.
	Username string
	Password string
	// CACert is the PEM-encoded CA certificate for TLS verification.
	// If empty, the system certificate pool is used.
	CACert []byte
	// InsecureSkipVerify disables TLS certificate verification. Only honored
	// for mirror sources that explicitly opt in.
	InsecureSkipVerify bool
	// ConnectionTimeout is the timeout for establishing connections.
	// Defaults to DefaultConnectionTimeout if zero.
	ConnectionTimeout time.Duration
	// RequestTimeout is the timeout for individual requests.
	// Defaults to DefaultRequestTimeout if zero.
	RequestTimeout time.Duration

	// RateLimitDisabled disables the per-client rate limiter.
	RateLimitDisabled bool
	// RateLimitQPS is the rate limit applied to admin API calls.
	// Defaults to 4.0 if zero or negative.
	RateLimitQPS float64
	// RateLimitBurst is the burst size for the rate limiter.
	// Defaults to 8 if zero or negative.
	RateLimitBurst int
}

// NewClient creates a new broker admin API client with the given configuration.
func NewClient(config ClientConfig) (*Client, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}

	connectionTimeout := config.ConnectionTimeout
	if connectionTimeout == 0 {
		connectionTimeout = DefaultConnectionTimeout
	}
	requestTimeout := config.RequestTimeout
	if requestTimeout == 0 {
		requestTimeout = DefaultRequestTimeout
	}

	parsedURL, err := url.Parse(config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid baseURL %q: %w", config.BaseURL, err)
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	if parsedURL.Hostname() != "" {
		tlsConfig.ServerName = parsedURL.Hostname()
	}
	if len(config.CACert) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(config.CACert) {
			return nil, fmt.Errorf("failed to parse CA certificate")
		}
		tlsConfig.RootCAs = pool
	}
	if config.InsecureSkipVerify {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 -- explicit opt-in per mirror source
	}

	transport := &http.Transport{
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: connectionTimeout,
		DisableKeepAlives:   false,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
	}

	var state *clientState
	if !config.RateLimitDisabled {
		state = newClientState(config)
	}

	return &Client{
		baseURL:  config.BaseURL,
		username: config.Username,
		password: config.Password,
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   requestTimeout,
		},
		streamClient: &http.Client{
			Transport: transport,
			Timeout:   DefaultStreamTimeout,
		},
		state: state,
	}, nil
}

// Ready queries the broker readiness endpoint and returns the broker's own
// view of its state. The endpoint returns 200 when ready and 503 when not;
// the body is parsed in both cases, so callers should gate on Ready rather
// than on the absence of an error.
func (c *Client) Ready(ctx context.Context) (*ReadyResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, constants.APIPathReady, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create readiness request: %w", err)
	}

	_, body, err := c.doAndReadAll(req, nil, "failed to query readiness endpoint")
	if err != nil {
		return nil, err
	}

	var ready ReadyResponse
	if err := json.Unmarshal(body, &ready); err != nil {
		return nil, fmt.Errorf("failed to parse readiness response: %w", err)
	}
	return &ready, nil
}

// ListTopics returns the topics hosted by the cluster this broker belongs to.
func (c *Client) ListTopics(ctx context.Context) ([]TopicInfo, error) {
	req, err := c.newRequest(ctx, http.MethodGet, constants.APIPathTopics, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create topics request: %w", err)
	}

	resp, body, err := c.doAndReadAll(req, nil, "failed to list topics")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list topics failed with status %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Topics []TopicInfo `json:"topics"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse topics response: %w", err)
	}
	return out.Topics, nil
}

// ListSegments returns the segments of one partition, oldest first.
func (c *Client) ListSegments(ctx context.Context, topic string, partition int32) ([]SegmentInfo, error) {
	path := fmt.Sprintf("%s?topic=%s&partition=%d",
		constants.APIPathSegments, url.QueryEscape(topic), partition)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create segments request: %w", err)
	}

	resp, body, err := c.doAndReadAll(req, nil, "failed to list segments")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list segments failed with status %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Segments []SegmentInfo `json:"segments"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse segments response: %w", err)
	}
	return out.Segments, nil
}

// SegmentReader streams the raw bytes of a closed segment. The caller must
// close the returned reader. The stream uses a long timeout independent of
// the regular request timeout.
func (c *Client) SegmentReader(ctx context.Context, topic string, partition int32, baseOffset int64) (io.ReadCloser, error) {
	path := fmt.Sprintf("%s?topic=%s&partition=%d&base_offset=%d",
		constants.APIPathSegmentData, url.QueryEscape(topic), partition, baseOffset)
	req, err := c.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment data request: %w", err)
	}

	resp, err := c.doRequest(req, c.streamClient, "failed to stream segment")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer drainAndClose(resp)
		if c.state != nil {
			c.state.after(false)
		}
		return nil, fmt.Errorf("segment stream failed with status %d", resp.StatusCode)
	}
	if c.state != nil {
		c.state.after(true)
	}
	return resp.Body, nil
}

// ReleaseSegment tells the broker an archived segment's local bytes may be
// reclaimed. The broker keeps serving the segment until it decides to drop
// the local copy.
func (c *Client) ReleaseSegment(ctx context.Context, topic string, partition int32, baseOffset int64) error {
	payload, err := json.Marshal(map[string]interface{}{
		"topic":       topic,
		"partition":   partition,
		"base_offset": baseOffset,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal release request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, constants.APIPathSegmentRelease, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create release request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, body, err := c.doAndReadAll(req, nil, "failed to release segment")
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("release segment failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

// FetchRecords reads a bounded batch of records from one partition starting
// at the requested offset.
func (c *Client) FetchRecords(ctx context.Context, fetch FetchRequest) (*FetchResponse, error) {
	payload, err := json.Marshal(fetch)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fetch request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, constants.APIPathRecordsFetch, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, body, err := c.doAndReadAll(req, nil, "failed to fetch records")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch records failed with status %d: %s", resp.StatusCode, string(body))
	}

	var out FetchResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse fetch response: %w", err)
	}
	return &out, nil
}

// ProduceRecords appends a batch of records to one partition. When the
// request carries an idempotency key the broker deduplicates replays and the
// response reports Duplicate instead of appending twice.
func (c *Client) ProduceRecords(ctx context.Context, produce ProduceRequest) (*ProduceResponse, error) {
	payload, err := json.Marshal(produce)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal produce request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, constants.APIPathRecordsProduce, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create produce request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, body, err := c.doAndReadAll(req, nil, "failed to produce records")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("produce records failed with status %d: %s", resp.StatusCode, string(body))
	}

	var out ProduceResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to parse produce response: %w", err)
	}
	return &out, nil
}

// BaseURL returns the endpoint this client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

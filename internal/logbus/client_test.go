package logbus

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewClient(t *testing.T) {
	tests := []struct {
		name    string
		config  ClientConfig
		wantErr bool
	}{
		{
			name: "valid config with URL only",
			config: ClientConfig{
				BaseURL: "http://localhost:9640",
			},
			wantErr: false,
		},
		{
			name: "valid config with basic auth",
			config: ClientConfig{
				BaseURL:  "https://source.example.com:9640",
				Username: "mirror",
				Password: "secret",
			},
			wantErr: false,
		},
		{
			name:    "empty URL",
			config:  ClientConfig{},
			wantErr: true,
		},
		{
			name: "invalid CA cert",
			config: ClientConfig{
				BaseURL: "https://localhost:9640",
				CACert:  []byte("not a valid cert"),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.config)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestClient_Ready(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
		response   ReadyResponse
		wantReady  bool
	}{
		{
			name:       "ready broker",
			statusCode: http.StatusOK,
			response: ReadyResponse{
				Ready:    true,
				BrokerID: 2,
				Version:  "2.3.0",
			},
			wantReady: true,
		},
		{
			name:       "catching up broker reports 503 with body",
			statusCode: http.StatusServiceUnavailable,
			response: ReadyResponse{
				Ready:    false,
				BrokerID: 2,
				Message:  "replaying partition logs",
			},
			wantReady: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v1/ready" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				w.WriteHeader(tt.statusCode)
				_ = json.NewEncoder(w).Encode(tt.response)
			}))
			defer server.Close()

			client, err := NewClient(ClientConfig{BaseURL: server.URL, RateLimitDisabled: true})
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}

			ready, err := client.Ready(context.Background())
			if err != nil {
				t.Fatalf("Ready() error = %v", err)
			}
			if ready.Ready != tt.wantReady {
				t.Errorf("Ready = %v, want %v", ready.Ready, tt.wantReady)
			}
			if ready.BrokerID != 2 {
				t.Errorf("BrokerID = %d, want 2", ready.BrokerID)
			}
		})
	}
}

func TestClient_ListSegments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/segments" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("topic"); got != "orders" {
			t.Errorf("topic query = %q, want %q", got, "orders")
		}
		if got := r.URL.Query().Get("partition"); got != "3" {
			t.Errorf("partition query = %q, want %q", got, "3")
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"segments": []SegmentInfo{
				{Topic: "orders", Partition: 3, BaseOffset: 0, EndOffset: 999, SizeBytes: 4096, Closed: true, Checksum: "ab12"},
				{Topic: "orders", Partition: 3, BaseOffset: 1000, EndOffset: 1042, SizeBytes: 128, Closed: false},
			},
		})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL, RateLimitDisabled: true})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	segments, err := client.ListSegments(context.Background(), "orders", 3)
	if err != nil {
		t.Fatalf("ListSegments() error = %v", err)
	}
	if len(segments) != 2 {
		t.Fatalf("len(segments) = %d, want 2", len(segments))
	}
	if !segments[0].Closed || segments[0].Checksum != "ab12" {
		t.Errorf("first segment = %+v, want closed with checksum", segments[0])
	}
	if segments[1].Closed {
		t.Error("active segment should not be closed")
	}
}

func TestClient_ProduceRecords_IdempotencyKey(t *testing.T) {
	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/records/produce" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		var req ProduceRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode produce request: %v", err)
		}
		gotKey = req.IdempotencyKey
		_ = json.NewEncoder(w).Encode(ProduceResponse{FirstOffset: 100, LastOffset: 101, Duplicate: false})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL, RateLimitDisabled: true})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	resp, err := client.ProduceRecords(context.Background(), ProduceRequest{
		Topic:          "orders",
		Partition:      3,
		IdempotencyKey: "upstream/orders/3/512",
		Records:        []Record{{Value: []byte("a")}, {Value: []byte("b")}},
	})
	if err != nil {
		t.Fatalf("ProduceRecords() error = %v", err)
	}
	if gotKey != "upstream/orders/3/512" {
		t.Errorf("idempotency key = %q, want %q", gotKey, "upstream/orders/3/512")
	}
	if resp.LastOffset != 101 {
		t.Errorf("LastOffset = %d, want 101", resp.LastOffset)
	}
	if resp.Duplicate {
		t.Error("Duplicate should be false for a fresh batch")
	}
}

func TestClient_ServerErrorClassifiedAsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL, RateLimitDisabled: true})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = client.ListTopics(context.Background())
	if err == nil {
		t.Fatal("ListTopics() against a failing broker should error")
	}
	if !errors.Is(err, ErrBrokerUnavailable) {
		t.Errorf("expected ErrBrokerUnavailable, got %v", err)
	}
}

func TestClient_SegmentReader_Streams(t *testing.T) {
	payload := []byte("raw segment bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/segments/data" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("base_offset"); got != "512" {
			t.Errorf("base_offset query = %q, want %q", got, "512")
		}
		_, _ = w.Write(payload)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL, RateLimitDisabled: true})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	rc, err := client.SegmentReader(context.Background(), "orders", 3, 512)
	if err != nil {
		t.Fatalf("SegmentReader() error = %v", err)
	}
	defer func() {
		_ = rc.Close()
	}()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("reading segment stream: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("segment bytes = %q, want %q", got, payload)
	}
}

func TestClient_BasicAuthApplied(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "mirror" || pass != "secret" {
			t.Errorf("basic auth = (%q, %q, %v), want (mirror, secret, true)", user, pass, ok)
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"topics": []TopicInfo{}})
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{
		BaseURL:           server.URL,
		Username:          "mirror",
		Password:          "secret",
		RateLimitDisabled: true,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if _, err := client.ListTopics(context.Background()); err != nil {
		t.Fatalf("ListTopics() error = %v", err)
	}
}

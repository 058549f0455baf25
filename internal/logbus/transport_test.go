package logbus

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func TestClient_CircuitBreakerBlocksAfterSustainedFailure(t *testing.T) {
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{
		BaseURL:        server.URL,
		RateLimitQPS:   1000,
		RateLimitBurst: 1000,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	ctx := context.Background()
	for i := 0; i < breakerFailureThreshold; i++ {
		if _, err := client.ListTopics(ctx); err == nil {
			t.Fatalf("attempt %d: expected error", i)
		}
	}

	if got := atomic.LoadInt32(&requests); got != breakerFailureThreshold {
		t.Fatalf("expected %d requests before circuit open, got %d", breakerFailureThreshold, got)
	}

	// The next attempt should be blocked without hitting the server.
	_, err = client.ListTopics(ctx)
	if err == nil {
		t.Fatal("expected error while circuit open")
	}
	if !errors.Is(err, ErrBrokerUnavailable) {
		t.Fatalf("expected ErrBrokerUnavailable, got %v", err)
	}
	if got := atomic.LoadInt32(&requests); got != breakerFailureThreshold {
		t.Fatalf("expected circuit breaker to block without new request; got %d requests", got)
	}
}

func TestClient_SuccessResetsFailureCount(t *testing.T) {
	var fail atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"topics":[]}`))
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{
		BaseURL:        server.URL,
		RateLimitQPS:   1000,
		RateLimitBurst: 1000,
	})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	ctx := context.Background()

	// A handful of failures, then a success, then more failures: the breaker
	// must not open because the success reset the count.
	fail.Store(true)
	for i := 0; i < breakerFailureThreshold-1; i++ {
		_, _ = client.ListTopics(ctx)
	}
	fail.Store(false)
	if _, err := client.ListTopics(ctx); err != nil {
		t.Fatalf("ListTopics() after recovery error = %v", err)
	}
	fail.Store(true)
	if _, err := client.ListTopics(ctx); err == nil {
		t.Fatal("expected failure")
	}

	client.state.mu.Lock()
	open := client.state.state == circuitOpen
	client.state.mu.Unlock()
	if open {
		t.Fatal("circuit should not be open after a success reset the failure count")
	}
}

package errors

import (
	"errors"
	"fmt"
	"net"
	"testing"
	"time"
)

// timeoutError implements net.Error with Timeout() == true.
type timeoutError struct{}

func (*timeoutError) Error() string   { return "operation timed out" }
func (*timeoutError) Timeout() bool   { return true }
func (*timeoutError) Temporary() bool { return false }

func TestIsTransientConnection(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "connection refused",
			err:  errors.New("connection refused"),
			want: true,
		},
		{
			name: "dial tcp error",
			err:  errors.New("dial tcp 127.0.0.1:9640: connect: connection refused"),
			want: true,
		},
		{
			name: "context deadline exceeded",
			err:  errors.New("context deadline exceeded"),
			want: true,
		},
		{
			name: "DNS error",
			err:  &net.DNSError{Err: "no such host", Name: "logbus-0.logbus-headless"},
			want: true,
		},
		{
			name: "timeout net.Error",
			err:  &timeoutError{},
			want: true,
		},
		{
			name: "non-transient error",
			err:  errors.New("invalid configuration"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransientConnection(tt.err); got != tt.want {
				t.Errorf("IsTransientConnection(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTransientAPI(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "sentinel error",
			err:  ErrTransientAPI,
			want: true,
		},
		{
			name: "wrapped sentinel error",
			err:  fmt.Errorf("apply StatefulSet: %w", ErrTransientAPI),
			want: true,
		},
		{
			name: "rate limited",
			err:  errors.New("the server has received too many requests"),
			want: true,
		},
		{
			name: "service unavailable",
			err:  errors.New("503 service unavailable"),
			want: true,
		},
		{
			name: "connection error counts as transient API",
			err:  errors.New("dial tcp: connection reset by peer"),
			want: true,
		},
		{
			name: "validation error is not transient",
			err:  ErrSpecValidation,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransientAPI(tt.err); got != tt.want {
				t.Errorf("IsTransientAPI(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrapIdempotency(t *testing.T) {
	base := errors.New("boom")

	wrapped := WrapConflict(base)
	if !IsConflict(wrapped) {
		t.Fatalf("WrapConflict(%v) not classified as conflict", base)
	}

	// Wrapping an already-classified error must not stack sentinels.
	double := WrapConflict(wrapped)
	if double != wrapped {
		t.Errorf("WrapConflict(wrapped) = %v, want identical error", double)
	}

	if WrapConflict(nil) != nil {
		t.Error("WrapConflict(nil) should be nil")
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("bucket does not exist")
	wrapped := WrapExternalDependency(fmt.Errorf("upload segment: %w", cause))

	if !errors.Is(wrapped, ErrExternalDependency) {
		t.Error("wrapped error lost its classification")
	}
	if !errors.Is(wrapped, cause) {
		t.Error("wrapped error lost its cause")
	}
}

func TestIsPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "spec validation",
			err:  WrapSpecValidation(errors.New("replicas must be >= 1")),
			want: true,
		},
		{
			name: "ownership conflict",
			err:  WrapOwnershipConflict(errors.New("Service owned by someone else")),
			want: true,
		},
		{
			name: "upgrade readiness timeout",
			err:  WrapUpgradeReadinessTimeout(errors.New("ordinal 2 not ready after 10m")),
			want: true,
		},
		{
			name: "transient API",
			err:  ErrTransientAPI,
			want: false,
		},
		{
			name: "conflict",
			err:  ErrConflict,
			want: false,
		},
		{
			name: "external dependency",
			err:  ErrExternalDependency,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPermanent(tt.err); got != tt.want {
				t.Errorf("IsPermanent(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestShouldRequeue(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantRetry bool
		wantAfter time.Duration
	}{
		{
			name:      "nil error",
			err:       nil,
			wantRetry: false,
			wantAfter: 0,
		},
		{
			name:      "transient API error retries shortly",
			err:       WrapTransientAPI(errors.New("apiserver hiccup")),
			wantRetry: true,
			wantAfter: 5 * time.Second,
		},
		{
			name:      "conflict retries shortly",
			err:       WrapConflict(errors.New("the object has been modified")),
			wantRetry: true,
			wantAfter: 5 * time.Second,
		},
		{
			name:      "external dependency backs off longer",
			err:       WrapExternalDependency(errors.New("s3 unreachable")),
			wantRetry: true,
			wantAfter: 30 * time.Second,
		},
		{
			name:      "spec validation does not retry",
			err:       WrapSpecValidation(errors.New("bad spec")),
			wantRetry: false,
			wantAfter: 0,
		},
		{
			name:      "ownership conflict does not retry",
			err:       WrapOwnershipConflict(errors.New("foreign owner")),
			wantRetry: false,
			wantAfter: 0,
		},
		{
			name:      "upgrade timeout does not retry",
			err:       WrapUpgradeReadinessTimeout(errors.New("halted")),
			wantRetry: false,
			wantAfter: 0,
		},
		{
			name:      "unknown error retries with workqueue backoff",
			err:       errors.New("something odd"),
			wantRetry: true,
			wantAfter: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotRetry, gotAfter := ShouldRequeue(tt.err)
			if gotRetry != tt.wantRetry || gotAfter != tt.wantAfter {
				t.Errorf("ShouldRequeue(%v) = (%v, %v), want (%v, %v)",
					tt.err, gotRetry, gotAfter, tt.wantRetry, tt.wantAfter)
			}
		})
	}
}

func TestIsCRDMissingError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
		{
			name: "no matches for kind",
			err:  errors.New(`no matches for kind "TCPRoute" in version "gateway.networking.k8s.io/v1alpha2"`),
			want: true,
		},
		{
			name: "unregistered type",
			err:  errors.New("no kind is registered for the type v1.ServiceMonitor"),
			want: true,
		},
		{
			name: "other not found",
			err:  errors.New("pods \"logbus-0\" not found"),
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsCRDMissingError(tt.err); got != tt.want {
				t.Errorf("IsCRDMissingError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

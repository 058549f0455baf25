package errors

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Transient errors indicate temporary conditions that should be retried.
// These errors typically result in requeue with a delay.

// ErrTransientAPI indicates a temporary Kubernetes API or network failure
// that should be retried with backoff. This includes rate limiting, apiserver
// unavailability, timeouts, and connection errors.
var ErrTransientAPI = errors.New("transient API error")

// ErrConflict indicates an optimistic-concurrency conflict on a managed
// object. Conflicts are retried with a refetch within the same pass; if the
// retry budget is exhausted the pass fails as transient.
var ErrConflict = errors.New("conflict")

// ErrExternalDependency indicates a failure of a system outside the cluster,
// such as the archive object store or a mirror source. These are retried with
// backoff but surfaced distinctly in status.
var ErrExternalDependency = errors.New("external dependency error")

// Permanent errors indicate configuration or state issues that require user
// intervention. These errors should NOT be requeued automatically;
// reconciliation should wait for user changes.

// ErrSpecValidation indicates the desired state itself is invalid. The
// cluster is not touched until the spec changes.
var ErrSpecValidation = errors.New("spec validation error")

// ErrOwnershipConflict indicates an object the operator expected to own
// carries a foreign or missing owner reference. The operator never adopts or
// overwrites such objects; a human has to resolve the ownership.
var ErrOwnershipConflict = errors.New("ownership conflict")

// ErrUpgradeReadinessTimeout indicates a replaced ordinal failed app-level
// readiness within the bounded wait. The upgrade halts, there is no automatic
// rollback, and progression resumes only on a spec change or an explicit
// retry annotation.
var ErrUpgradeReadinessTimeout = errors.New("upgrade readiness timeout")

// IsTransientConnection checks if an error looks like a transient network
// failure: timeouts, connection refused, DNS failures, and similar issues.
func IsTransientConnection(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"connection refused",
		"connection reset",
		"connection timeout",
		"context deadline exceeded",
		"timeout",
		"i/o timeout",
		"no such host",
		"network is unreachable",
		"temporary failure",
		"dial tcp",
		"connection closed",
		"broken pipe",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

// IsTransientAPI checks if an error is a transient API error.
func IsTransientAPI(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrTransientAPI) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	transientPatterns := []string{
		"rate limit",
		"too many requests",
		"service unavailable",
		"internal server error",
		"etcdserver",
	}

	for _, pattern := range transientPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}

	return IsTransientConnection(err)
}

// IsConflict checks if an error is an optimistic-concurrency conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsExternalDependency checks if an error is an external dependency error.
func IsExternalDependency(err error) bool {
	return errors.Is(err, ErrExternalDependency)
}

// IsSpecValidation checks if an error is a spec validation error.
func IsSpecValidation(err error) bool {
	return errors.Is(err, ErrSpecValidation)
}

// IsOwnershipConflict checks if an error is an ownership conflict.
func IsOwnershipConflict(err error) bool {
	return errors.Is(err, ErrOwnershipConflict)
}

// IsUpgradeReadinessTimeout checks if an error is an upgrade readiness timeout.
func IsUpgradeReadinessTimeout(err error) bool {
	return errors.Is(err, ErrUpgradeReadinessTimeout)
}

// WrapTransientAPI wraps an error as a transient API error.
// If the error is already transient, it is returned as-is.
func WrapTransientAPI(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrTransientAPI) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrTransientAPI, err)
}

// WrapConflict wraps an error as a conflict error.
func WrapConflict(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrConflict) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrConflict, err)
}

// WrapExternalDependency wraps an error as an external dependency error.
func WrapExternalDependency(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrExternalDependency) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrExternalDependency, err)
}

// WrapSpecValidation wraps an error as a spec validation error.
func WrapSpecValidation(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrSpecValidation) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrSpecValidation, err)
}

// WrapOwnershipConflict wraps an error as an ownership conflict.
func WrapOwnershipConflict(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrOwnershipConflict) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrOwnershipConflict, err)
}

// WrapUpgradeReadinessTimeout wraps an error as an upgrade readiness timeout.
func WrapUpgradeReadinessTimeout(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, ErrUpgradeReadinessTimeout) {
		return err
	}

	return fmt.Errorf("%w: %w", ErrUpgradeReadinessTimeout, err)
}

// IsTransient checks if an error is transient (should be retried).
func IsTransient(err error) bool {
	return IsTransientAPI(err) || IsConflict(err) || IsExternalDependency(err)
}

// IsPermanent checks if an error is permanent (requires user intervention or
// a spec change). Permanent errors are not requeued automatically.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}

	return IsSpecValidation(err) || IsOwnershipConflict(err) || IsUpgradeReadinessTimeout(err)
}

// ShouldRequeue determines if an error should trigger a requeue.
// Transient errors should requeue; permanent errors should not.
// Returns (shouldRequeue, requeueAfter). A zero requeueAfter with
// shouldRequeue true leaves backoff to the workqueue rate limiter.
func ShouldRequeue(err error) (bool, time.Duration) {
	if err == nil {
		return false, 0
	}

	if IsPermanent(err) {
		return false, 0
	}

	if IsExternalDependency(err) {
		return true, 30 * time.Second
	}

	if IsConflict(err) || IsTransientAPI(err) {
		return true, 5 * time.Second
	}

	// Unknown errors default to requeue with workqueue backoff.
	return true, 0
}

// IsCRDMissingError checks if an error indicates that a CRD is not installed.
func IsCRDMissingError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "no matches for kind") ||
		strings.Contains(errStr, "no kind is registered for the type") ||
		strings.Contains(errStr, "could not find the requested resource")
}

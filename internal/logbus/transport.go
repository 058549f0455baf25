package logbus

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/logbus-io/logbus-operator/internal/constants"
	operatorerrors "github.com/logbus-io/logbus-operator/internal/errors"
)

const (
	defaultRateLimitQPS   = 4.0
	defaultRateLimitBurst = 8

	// With the default limit of 4rps, 40 consecutive failures means roughly
	// ten seconds of sustained failure before the breaker opens. Short blips
	// heal without tripping it.
	breakerFailureThreshold = 40
	breakerOpenDuration     = 30 * time.Second
)

type circuitState int

const (
	circuitClosed circuitState = iota
	circuitOpen
	circuitHalfOpen
)

// clientState manages rate limiting and circuit breaking for one broker
// endpoint. Readiness probing during upgrades and per-partition mirroring can
// hammer a struggling broker; the limiter and breaker keep the operator from
// making a bad situation worse.
type clientState struct {
	limiter *rate.Limiter

	mu               sync.Mutex
	state            circuitState
	failures         int
	openUntil        time.Time
	halfOpenInFlight bool
}

func newClientState(cfg ClientConfig) *clientState {
	qps := cfg.RateLimitQPS
	if qps <= 0 {
		qps = defaultRateLimitQPS
	}
	burst := cfg.RateLimitBurst
	if burst <= 0 {
		burst = defaultRateLimitBurst
	}
	return &clientState{
		limiter: rate.NewLimiter(rate.Limit(qps), burst),
	}
}

func (s *clientState) allow(ctx context.Context) error {
	if s == nil {
		return nil
	}

	now := time.Now()
	s.mu.Lock()
	switch s.state {
	case circuitOpen:
		if now.Before(s.openUntil) {
			until := s.openUntil
			s.mu.Unlock()
			return fmt.Errorf("%w: circuit breaker open (retry after %s)",
				ErrBrokerUnavailable, time.Until(until).Truncate(time.Second))
		}
		s.state = circuitHalfOpen
		s.halfOpenInFlight = false
	case circuitHalfOpen:
		if s.halfOpenInFlight {
			s.mu.Unlock()
			return fmt.Errorf("%w: circuit breaker half-open, probe in flight", ErrBrokerUnavailable)
		}
	case circuitClosed:
	}

	wasProbe := false
	if s.state == circuitHalfOpen {
		s.halfOpenInFlight = true
		wasProbe = true
	}
	s.mu.Unlock()

	if err := s.limiter.Wait(ctx); err != nil {
		if wasProbe {
			s.mu.Lock()
			s.halfOpenInFlight = false
			s.mu.Unlock()
		}
		return err
	}
	return nil
}

func (s *clientState) after(success bool) {
	if s == nil {
		return
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case circuitHalfOpen:
		s.halfOpenInFlight = false
		if success {
			s.state = circuitClosed
			s.failures = 0
			s.openUntil = time.Time{}
			return
		}
		s.state = circuitOpen
		s.failures = breakerFailureThreshold
		s.openUntil = now.Add(breakerOpenDuration)
	case circuitOpen:
		// allow() handles the transition to half-open when openUntil expires.
		// A success while open is unexpected since allow() blocks, but close
		// the circuit rather than risk stuck-open behavior.
		if success {
			s.state = circuitClosed
			s.failures = 0
			s.openUntil = time.Time{}
		}
	case circuitClosed:
		if success {
			s.failures = 0
			return
		}
		s.failures++
		if s.failures >= breakerFailureThreshold {
			s.state = circuitOpen
			s.openUntil = now.Add(breakerOpenDuration)
		}
	}
}

func (c *Client) newRequest(ctx context.Context, method string, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}
	return req, nil
}

func (c *Client) doRequest(req *http.Request, httpClient *http.Client, op string) (*http.Response, error) {
	if httpClient == nil {
		httpClient = c.httpClient
	}

	if c.state != nil {
		if err := c.state.allow(req.Context()); err != nil {
			return nil, err
		}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		if c.state != nil {
			c.state.after(false)
		}
		wrapped := fmt.Errorf("%s: %w", op, err)
		if operatorerrors.IsTransientConnection(err) {
			return nil, operatorerrors.WrapTransientAPI(wrapped)
		}
		return nil, wrapped
	}
	return resp, nil
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}

func (c *Client) doAndReadAll(req *http.Request, httpClient *http.Client, op string) (*http.Response, []byte, error) {
	resp, err := c.doRequest(req, httpClient, op)
	if err != nil {
		return nil, nil, err
	}

	defer drainAndClose(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if c.state != nil {
			c.state.after(false)
		}
		return nil, nil, fmt.Errorf("%s: failed to read response body: %w", op, err)
	}

	// The readiness endpoint encodes state in its HTTP status code (503 while
	// catching up), so it must not be classified as broker overload.
	if req.URL != nil && req.URL.Path != constants.APIPathReady {
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			if c.state != nil {
				c.state.after(false)
			}
			return nil, nil, fmt.Errorf("%s: %w (status %d): %s", op, ErrBrokerUnavailable, resp.StatusCode, string(body))
		}
	}

	if c.state != nil {
		c.state.after(true)
	}
	return resp, body, nil
}

package logbus

import "errors"

// ErrBrokerUnavailable indicates the broker admin API is overloaded or the
// client circuit breaker is open. Callers classify it by context: the rolling
// upgrade treats it as "not ready yet", mirroring as an external dependency
// failure of the source.
var ErrBrokerUnavailable = errors.New("broker admin API unavailable")

package connection

import (
	"fmt"
	"time"
)

// ConnectionError reports an authentication or network failure while
// establishing or recovering the session. It is surfaced to the caller and
// not retried beyond the bounded reconnect policy.
type ConnectionError struct {
	Op  string // "connect", "reconnect" or "execute"
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection %s failed: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TimeoutError reports a command whose wall-clock duration exceeded its
// deadline. Timeouts count toward the circuit breaker.
type TimeoutError struct {
	Command string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("command timed out after %v", e.Timeout)
}

// CircuitOpenError is returned without any network attempt while the
// breaker is open.
type CircuitOpenError struct {
	RetryAt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker open until %s", e.RetryAt.Format(time.RFC3339))
}

// Package connection maintains exactly one logical session to a remote
// host. It serializes recovery through a single-flight reconnect while
// allowing concurrent command execution, bounds repeated failures with a
// circuit breaker and enforces a per-command timeout.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/remotediag/remotediag/internal/transport"
)

// Options tunes the connection manager. Zero values fall back to the
// documented defaults.
type Options struct {
	CommandTimeout    time.Duration // default 15s
	FailureThreshold  int           // consecutive transport failures before the breaker opens, default 3
	Cooldown          time.Duration // breaker cool-down window, default 30s
	ReconnectAttempts int           // bounded reconnect attempts, default 5
	ReconnectBackoff  time.Duration // initial backoff between reconnect attempts, default 500ms
}

func (o Options) withDefaults() Options {
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = 15 * time.Second
	}
	if o.FailureThreshold <= 0 {
		o.FailureThreshold = 3
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 30 * time.Second
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = 5
	}
	if o.ReconnectBackoff <= 0 {
		o.ReconnectBackoff = 500 * time.Millisecond
	}
	return o
}

// Manager owns the remote session. All command execution flows through
// Execute; the session itself is never handed out.
type Manager struct {
	transport transport.Transport
	opts      Options
	logger    *slog.Logger
	breaker   *breaker

	reconnects singleflight.Group

	// baseCtx is cancelled by Disconnect so in-flight commands receive a
	// cancellation error.
	baseCtx context.Context
	cancel  context.CancelFunc
}

// NewManager creates a manager around the given transport. The transport
// is owned by the manager from this point on.
func NewManager(t transport.Transport, opts Options, logger *slog.Logger) *Manager {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		transport: t,
		opts:      opts,
		logger:    logger.With("component", "connection_manager"),
		breaker:   newBreaker(opts.FailureThreshold, opts.Cooldown),
		baseCtx:   ctx,
		cancel:    cancel,
	}
}

// Connect establishes the session. It does not retry; callers decide
// whether to proceed degraded when the initial connect fails.
func (m *Manager) Connect(ctx context.Context) error {
	if err := m.transport.Connect(ctx); err != nil {
		return &ConnectionError{Op: "connect", Err: err}
	}
	m.logger.Info("session established", "addr", m.transport.Addr())
	return nil
}

// Execute runs a command on the session, enforcing the per-command
// timeout. While the breaker is open it fails immediately with
// CircuitOpenError and no network attempt. A first transport-level fault
// triggers one (single-flight) reconnect and one retry; a second
// consecutive fault is reported as ConnectionError.
func (m *Manager) Execute(ctx context.Context, command string, timeout time.Duration) (transport.Result, error) {
	if err := m.baseCtx.Err(); err != nil {
		return transport.Result{}, &ConnectionError{Op: "execute", Err: fmt.Errorf("manager is shut down: %w", err)}
	}
	if timeout <= 0 {
		timeout = m.opts.CommandTimeout
	}

	if err := m.breaker.allow(); err != nil {
		return transport.Result{}, err
	}

	logger := m.logger.With("command_id", uuid.NewString())

	runCtx, cancelRun := context.WithTimeout(ctx, timeout)
	defer cancelRun()
	stop := context.AfterFunc(m.baseCtx, cancelRun)
	defer stop()

	res, err := m.transport.Run(runCtx, command)
	if err != nil {
		if ferr := m.classifyFault(runCtx, command, timeout, err); ferr != nil {
			return transport.Result{}, ferr
		}

		// Connection-level fault: recover once, then retry the command once.
		logger.Warn("command hit transport fault, reconnecting", "error", err)
		if rerr := m.reconnect(ctx); rerr != nil {
			m.recordFailure(logger)
			return transport.Result{}, &ConnectionError{Op: "reconnect", Err: rerr}
		}

		res, err = m.transport.Run(runCtx, command)
		if err != nil {
			if ferr := m.classifyFault(runCtx, command, timeout, err); ferr != nil {
				return transport.Result{}, ferr
			}
			m.recordFailure(logger)
			return transport.Result{}, &ConnectionError{Op: "execute", Err: err}
		}
	}

	m.breaker.success()
	logger.Debug("command completed", "exit_code", res.ExitCode)
	return res, nil
}

// classifyFault maps context-related Run errors to their typed results.
// It returns nil for connection-level faults, which the caller handles
// through the reconnect path.
func (m *Manager) classifyFault(runCtx context.Context, command string, timeout time.Duration, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(runCtx.Err(), context.DeadlineExceeded):
		// Aborted commands count toward the breaker: the remote side may
		// still be holding resources.
		m.recordFailure(m.logger)
		return &TimeoutError{Command: command, Timeout: timeout}
	case m.baseCtx.Err() != nil:
		return &ConnectionError{Op: "execute", Err: fmt.Errorf("session shut down: %w", m.baseCtx.Err())}
	case errors.Is(err, context.Canceled):
		// Caller cancellation is not a remote-host problem; it neither
		// counts as a failure nor as a success. It must still release a
		// half-open probe slot, or no later call could ever probe.
		m.breaker.abortProbe()
		return err
	default:
		return nil
	}
}

func (m *Manager) recordFailure(logger *slog.Logger) {
	m.breaker.failure()
	state, failures := m.breaker.snapshot()
	logger.Warn("transport failure recorded",
		"consecutive_failures", failures,
		"breaker_state", state.String(),
	)
}

// reconnect funnels concurrent recovery attempts into a single flight.
// Waiters observe the shared outcome; a caller whose context expires
// stops waiting without aborting the shared attempt.
func (m *Manager) reconnect(ctx context.Context) error {
	ch := m.reconnects.DoChan("reconnect", func() (any, error) {
		return nil, m.reconnectLocked()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.baseCtx.Done():
		return m.baseCtx.Err()
	case r := <-ch:
		return r.Err
	}
}

// reconnectLocked performs the bounded reconnect loop. It runs on the
// manager's base context so one caller's timeout cannot abort recovery
// that other callers are waiting on.
func (m *Manager) reconnectLocked() error {
	backoff := retry.WithMaxRetries(uint64(m.opts.ReconnectAttempts-1), retry.NewExponential(m.opts.ReconnectBackoff))

	attempt := 0
	err := retry.Do(m.baseCtx, backoff, func(ctx context.Context) error {
		attempt++
		m.transport.Close()
		if err := m.transport.Connect(ctx); err != nil {
			m.logger.Warn("reconnect attempt failed",
				"attempt", attempt,
				"max_attempts", m.opts.ReconnectAttempts,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reconnect gave up after %d attempts: %w", attempt, err)
	}

	m.logger.Info("session re-established", "addr", m.transport.Addr(), "attempts", attempt)
	return nil
}

// Disconnect releases the session. It is idempotent and safe to call from
// a shutdown handler; in-flight commands are cancelled.
func (m *Manager) Disconnect() error {
	m.cancel()

	var errs error
	if err := m.transport.Close(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if errs != nil {
		return fmt.Errorf("disconnect: %w", errs)
	}
	m.logger.Info("session released")
	return nil
}

// Package transport provides the remote command-execution channel used by
// the connection manager. Implementations cover SSH (Linux/Unix hosts) and
// WinRM (Windows hosts).
package transport

import (
	"context"
	"errors"
)

// Result holds the outcome of a single remote command. A non-zero ExitCode
// is a normal result, not a transport failure.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ErrNotConnected is returned by Run when no session has been established.
var ErrNotConnected = errors.New("transport: not connected")

// Transport is a live command channel to a single remote host.
// Run may be called concurrently over one established connection;
// Connect and Close must not be called concurrently with each other.
type Transport interface {
	// Connect establishes the remote session using the configured
	// credentials. Calling Connect on a connected transport replaces the
	// existing session.
	Connect(ctx context.Context) error

	// Run executes a command on the established session. A returned error
	// indicates a transport-level fault (lost connection, cancellation);
	// remote commands that exit non-zero return a Result and a nil error.
	Run(ctx context.Context, command string) (Result, error)

	// Close tears down the session. Safe to call multiple times.
	Close() error

	// Addr returns the remote endpoint in host:port form.
	Addr() string
}

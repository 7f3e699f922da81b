package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/masterzen/winrm"
)

// WinRMOptions configures a WinRM transport for Windows hosts.
type WinRMOptions struct {
	Host        string
	Port        int
	Username    string
	Password    string
	UseHTTPS    bool
	DialTimeout time.Duration
}

// WinRMTransport runs commands over WinRM. Unlike SSH there is no
// long-lived TCP connection; Connect validates the endpoint by opening
// and closing a shell, matching how command execution will behave.
type WinRMTransport struct {
	opts   WinRMOptions
	logger *slog.Logger

	mu     sync.RWMutex
	client *winrm.Client
}

// NewWinRM creates a WinRM transport. The endpoint is not validated until
// Connect is called.
func NewWinRM(opts WinRMOptions, logger *slog.Logger) *WinRMTransport {
	if opts.Port == 0 {
		opts.Port = 5985
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}
	return &WinRMTransport{
		opts:   opts,
		logger: logger.With("component", "winrm_transport"),
	}
}

// Addr returns the remote endpoint in host:port form.
func (t *WinRMTransport) Addr() string {
	return net.JoinHostPort(t.opts.Host, strconv.Itoa(t.opts.Port))
}

// Connect creates the WinRM client and validates it by opening a shell.
func (t *WinRMTransport) Connect(ctx context.Context) error {
	endpoint := winrm.NewEndpoint(t.opts.Host, t.opts.Port, t.opts.UseHTTPS, false, nil, nil, nil, t.opts.DialTimeout)

	client, err := winrm.NewClient(endpoint, t.opts.Username, t.opts.Password)
	if err != nil {
		return fmt.Errorf("WinRM client creation failed: %w", err)
	}

	// Opening a shell exercises authentication and the HTTP endpoint.
	shell, err := client.CreateShell()
	if err != nil {
		return fmt.Errorf("WinRM shell creation failed: %w", err)
	}
	shell.Close()

	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	t.logger.Debug("WinRM endpoint validated",
		"addr", t.Addr(),
		"user", t.opts.Username,
	)
	return nil
}

// Run executes a command through cmd.exe on the remote host.
func (t *WinRMTransport) Run(ctx context.Context, command string) (Result, error) {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()

	if client == nil {
		return Result{}, ErrNotConnected
	}

	stdout, stderr, exitCode, err := client.RunWithContextWithString(ctx, command, "")
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("command transport failure: %w", err)
	}

	return Result{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}, nil
}

// Close drops the client. WinRM shells are opened per command, so there is
// no live connection to tear down.
func (t *WinRMTransport) Close() error {
	t.mu.Lock()
	t.client = nil
	t.mu.Unlock()
	return nil
}

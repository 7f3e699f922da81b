package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/crypto/ssh"
)

// SSHOptions configures an SSH transport. Either Password or
// PrivateKeyPath must be set; when both are set the key is tried first.
type SSHOptions struct {
	Host           string
	Port           int
	Username       string
	Password       string
	PrivateKeyPath string // supports leading ~ for the current home directory
	Passphrase     string
	DialTimeout    time.Duration
}

// SSHTransport runs commands over a single ssh.Client. Each Run opens its
// own session, so concurrent commands share one TCP connection.
type SSHTransport struct {
	opts   SSHOptions
	logger *slog.Logger

	mu     sync.RWMutex
	client *ssh.Client
}

// NewSSH creates an SSH transport. The connection is not established until
// Connect is called.
func NewSSH(opts SSHOptions, logger *slog.Logger) *SSHTransport {
	if opts.Port == 0 {
		opts.Port = 22
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}
	return &SSHTransport{
		opts:   opts,
		logger: logger.With("component", "ssh_transport"),
	}
}

// Addr returns the remote endpoint in host:port form.
func (t *SSHTransport) Addr() string {
	return net.JoinHostPort(t.opts.Host, strconv.Itoa(t.opts.Port))
}

// Connect dials the remote host and performs the SSH handshake. An existing
// client is closed and replaced.
func (t *SSHTransport) Connect(ctx context.Context) error {
	cfg, err := t.clientConfig()
	if err != nil {
		return err
	}

	addr := t.Addr()
	dialer := net.Dialer{Timeout: t.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if err != nil {
		conn.Close()
		return fmt.Errorf("SSH handshake failed: %w", err)
	}

	t.mu.Lock()
	old := t.client
	t.client = ssh.NewClient(sshConn, chans, reqs)
	t.mu.Unlock()

	if old != nil {
		old.Close()
	}

	t.logger.Debug("SSH connection established",
		"addr", addr,
		"user", t.opts.Username,
	)
	return nil
}

// clientConfig builds the ssh.ClientConfig from the configured credentials.
func (t *SSHTransport) clientConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	if t.opts.PrivateKeyPath != "" {
		keyPath, err := expandHome(t.opts.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve key path: %w", err)
		}
		keyData, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}

		var signer ssh.Signer
		if t.opts.Passphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(t.opts.Passphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyData)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if t.opts.Password != "" {
		authMethods = append(authMethods, ssh.Password(t.opts.Password))
	}

	if len(authMethods) == 0 {
		return nil, errors.New("no authentication method provided (password or private key required)")
	}

	return &ssh.ClientConfig{
		User:            t.opts.Username,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         t.opts.DialTimeout,
	}, nil
}

// Run executes a command in a fresh session. Cancelling the context aborts
// the wait and tears down the session so the remote process is not left
// holding the channel.
func (t *SSHTransport) Run(ctx context.Context, command string) (Result, error) {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()

	if client == nil {
		return Result{}, ErrNotConnected
	}

	session, err := client.NewSession()
	if err != nil {
		return Result{}, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(command)
	}()

	select {
	case <-ctx.Done():
		// Best effort: signal then close the channel to unblock the remote side.
		session.Signal(ssh.SIGKILL)
		session.Close()
		return Result{}, ctx.Err()
	case err := <-done:
		if err == nil {
			return Result{Stdout: stdout.String(), Stderr: stderr.String()}, nil
		}
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return Result{
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
				ExitCode: exitErr.ExitStatus(),
			}, nil
		}
		return Result{}, fmt.Errorf("command transport failure: %w", err)
	}
}

// Close tears down the SSH client. Safe to call multiple times.
func (t *SSHTransport) Close() error {
	t.mu.Lock()
	client := t.client
	t.client = nil
	t.mu.Unlock()

	var errs error
	if client != nil {
		if err := client.Close(); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

// expandHome resolves a leading ~ in a path to the current home directory.
func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}

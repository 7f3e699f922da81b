package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	testCases := []struct {
		name string
		path string
		want string
	}{
		{"Tilde alone", "~", home},
		{"Tilde prefix", "~/.ssh/id_ed25519", filepath.Join(home, ".ssh/id_ed25519")},
		{"Absolute path untouched", "/etc/keys/id", "/etc/keys/id"},
		{"Relative path untouched", "keys/id", "keys/id"},
		{"Tilde mid-path untouched", "/tmp/~", "/tmp/~"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := expandHome(tc.path)
			if err != nil {
				t.Fatalf("expandHome failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("expandHome(%q) = %q, want %q", tc.path, got, tc.want)
			}
		})
	}
}

func TestClientConfigRequiresCredentials(t *testing.T) {
	tr := NewSSH(SSHOptions{Host: "h", Username: "u"}, testLogger())
	if _, err := tr.clientConfig(); err == nil {
		t.Error("expected an error without password or key")
	}
}

func TestClientConfigPasswordAuth(t *testing.T) {
	tr := NewSSH(SSHOptions{Host: "h", Username: "u", Password: "p"}, testLogger())
	cfg, err := tr.clientConfig()
	if err != nil {
		t.Fatalf("clientConfig failed: %v", err)
	}
	if cfg.User != "u" {
		t.Errorf("expected user u, got %s", cfg.User)
	}
	if len(cfg.Auth) != 1 {
		t.Errorf("expected one auth method, got %d", len(cfg.Auth))
	}
}

func TestClientConfigMissingKeyFile(t *testing.T) {
	tr := NewSSH(SSHOptions{
		Host:           "h",
		Username:       "u",
		PrivateKeyPath: filepath.Join(t.TempDir(), "missing_key"),
	}, testLogger())
	if _, err := tr.clientConfig(); err == nil {
		t.Error("expected an error for a missing key file")
	}
}

func TestRunWithoutConnect(t *testing.T) {
	tr := NewSSH(SSHOptions{Host: "h", Username: "u", Password: "p"}, testLogger())
	_, err := tr.Run(context.Background(), "uptime")
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestDefaultPort(t *testing.T) {
	tr := NewSSH(SSHOptions{Host: "example"}, testLogger())
	if tr.Addr() != "example:22" {
		t.Errorf("expected example:22, got %s", tr.Addr())
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	tr := NewSSH(SSHOptions{Host: "h", Username: "u", Password: "p"}, testLogger())
	if err := tr.Close(); err != nil {
		t.Errorf("Close on an unconnected transport should be a no-op, got %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
}

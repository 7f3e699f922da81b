package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/remotediag/remotediag/internal/connection"
	"github.com/remotediag/remotediag/internal/platform"
	"github.com/remotediag/remotediag/internal/transport"
)

// fakeRunner records the command it received and plays back a scripted
// outcome.
type fakeRunner struct {
	lastCommand string
	lastTimeout time.Duration
	result      transport.Result
	err         error
}

func (f *fakeRunner) Execute(ctx context.Context, command string, timeout time.Duration) (transport.Result, error) {
	f.lastCommand = command
	f.lastTimeout = timeout
	return f.result, f.err
}

func newTestServer(runner Runner) *Server {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(runner, platform.Linux(), logger)
}

func postCommand(t *testing.T, handler http.Handler, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/command", bytes.NewReader(payload))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(&fakeRunner{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestPlatformEndpoint(t *testing.T) {
	srv := newTestServer(&fakeRunner{})
	req := httptest.NewRequest(http.MethodGet, "/v1/platform", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp platformResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ID != "linux" {
		t.Errorf("expected linux, got %s", resp.ID)
	}
	if len(resp.ToolModules) == 0 {
		t.Error("expected tool modules")
	}
}

func TestCommandRemoteFiltering(t *testing.T) {
	runner := &fakeRunner{result: transport.Result{Stdout: "filtered remotely\n"}}
	srv := newTestServer(runner)

	rec := postCommand(t, srv.Routes(), map[string]any{
		"command": "dmesg",
		"filter":  map[string]any{"pattern": "error", "case_insensitive": true, "tail": 20},
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	want := "dmesg | grep -iE -- 'error' | tail -n 20"
	if runner.lastCommand != want {
		t.Errorf("command sent = %q, want %q", runner.lastCommand, want)
	}
}

func TestCommandLocalFiltering(t *testing.T) {
	runner := &fakeRunner{result: transport.Result{Stdout: "foo\nError\nbar\nERRORX\n"}}
	srv := newTestServer(runner)

	rec := postCommand(t, srv.Routes(), map[string]any{
		"command":        "cat /var/log/app.log",
		"filter":         map[string]any{"pattern": "ERROR", "case_insensitive": true},
		"filter_locally": true,
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	// Local filtering must not modify the remote command.
	if runner.lastCommand != "cat /var/log/app.log" {
		t.Errorf("remote command was modified: %q", runner.lastCommand)
	}
	var resp commandResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Stdout != "Error\nERRORX" {
		t.Errorf("filtered stdout = %q, want %q", resp.Stdout, "Error\nERRORX")
	}
}

func TestCommandNonZeroExitIsOK(t *testing.T) {
	runner := &fakeRunner{result: transport.Result{Stderr: "not found", ExitCode: 1}}
	srv := newTestServer(runner)

	rec := postCommand(t, srv.Routes(), map[string]any{"command": "ls /nope"})
	if rec.Code != http.StatusOK {
		t.Fatalf("non-zero exit is an ordinary result, got status %d", rec.Code)
	}
	var resp commandResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.ExitCode != 1 || resp.Stderr != "not found" {
		t.Errorf("unexpected response: %+v", resp)
	}
}

func TestCommandErrorMapping(t *testing.T) {
	testCases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			"Circuit open",
			&connection.CircuitOpenError{RetryAt: time.Now().Add(time.Minute)},
			http.StatusServiceUnavailable,
			"CIRCUIT_OPEN",
		},
		{
			"Timeout",
			&connection.TimeoutError{Command: "x", Timeout: time.Second},
			http.StatusGatewayTimeout,
			"COMMAND_TIMEOUT",
		},
		{
			"Connection failure",
			&connection.ConnectionError{Op: "reconnect", Err: errors.New("refused")},
			http.StatusBadGateway,
			"CONNECTION_FAILED",
		},
		{
			"Unknown failure",
			errors.New("weird"),
			http.StatusInternalServerError,
			"EXECUTION_FAILED",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(&fakeRunner{err: tc.err})
			rec := postCommand(t, srv.Routes(), map[string]any{"command": "uptime"})

			if rec.Code != tc.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tc.wantStatus)
			}
			var resp ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode error response: %v", err)
			}
			if resp.Error.Code != tc.wantCode {
				t.Errorf("code = %s, want %s", resp.Error.Code, tc.wantCode)
			}
			if resp.Error.RequestID == "" {
				t.Error("error responses must carry the request id")
			}
		})
	}
}

func TestCommandValidation(t *testing.T) {
	testCases := []struct {
		name string
		body map[string]any
	}{
		{"Missing command", map[string]any{}},
		{"Negative head", map[string]any{"command": "x", "filter": map[string]any{"head": -1}}},
		{"Bad count mode", map[string]any{"command": "x", "filter": map[string]any{"count": "chars"}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(&fakeRunner{})
			rec := postCommand(t, srv.Routes(), tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", rec.Code)
			}
		})
	}
}

func TestCommandTimeoutForwarded(t *testing.T) {
	runner := &fakeRunner{}
	srv := newTestServer(runner)

	rec := postCommand(t, srv.Routes(), map[string]any{"command": "uptime", "timeout_ms": 2500})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if runner.lastTimeout != 2500*time.Millisecond {
		t.Errorf("timeout = %v, want 2.5s", runner.lastTimeout)
	}
}

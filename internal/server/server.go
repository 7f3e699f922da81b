// Package server is the HTTP boundary over the diagnostics core. It
// translates requests into Execute calls and filter specs, and maps the
// core's typed errors onto status codes. All user-facing formatting lives
// here; the core packages never produce it.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/remotediag/remotediag/internal/connection"
	"github.com/remotediag/remotediag/internal/filter"
	"github.com/remotediag/remotediag/internal/platform"
	"github.com/remotediag/remotediag/internal/transport"
)

// Runner is the slice of the connection manager the server needs.
type Runner interface {
	Execute(ctx context.Context, command string, timeout time.Duration) (transport.Result, error)
}

// Server serves the diagnostics API for one remote host.
type Server struct {
	runner   Runner
	platform *platform.Platform
	logger   *slog.Logger
}

// New creates a server around an established runner and the detected
// platform profile.
func New(runner Runner, plat *platform.Platform, logger *slog.Logger) *Server {
	return &Server{
		runner:   runner,
		platform: plat,
		logger:   logger.With("component", "server"),
	}
}

// Routes builds the HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(recovery(s.logger))
	r.Use(requestLogger(s.logger))

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/platform", s.handlePlatform)
		r.Post("/command", s.handleCommand)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type platformResponse struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"display_name"`
	Capabilities []string `json:"capabilities"`
	ToolModules  []string `json:"tool_modules"`
}

func (s *Server) handlePlatform(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, http.StatusOK, platformResponse{
		ID:           s.platform.ID,
		DisplayName:  s.platform.DisplayName,
		Capabilities: s.platform.Capabilities,
		ToolModules:  s.platform.ToolModules,
	})
}

type filterRequest struct {
	Pattern         string `json:"pattern"`
	CaseInsensitive bool   `json:"case_insensitive"`
	Sort            bool   `json:"sort"`
	Unique          bool   `json:"unique"`
	Head            int    `json:"head"`
	Tail            int    `json:"tail"`
	Count           string `json:"count"`
}

type commandRequest struct {
	Command   string         `json:"command"`
	TimeoutMS int            `json:"timeout_ms"`
	Filter    *filterRequest `json:"filter,omitempty"`

	// FilterLocally applies the filter to fetched output in-process
	// instead of appending it to the remote command. Output is identical
	// either way.
	FilterLocally bool `json:"filter_locally"`
}

type commandResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[commandRequest](w, r)
	if !ok {
		return
	}
	if req.Command == "" {
		sendError(w, r, http.StatusBadRequest, "INVALID_COMMAND", "command is required", nil)
		return
	}

	var spec filter.Spec
	if req.Filter != nil {
		spec = filter.Spec{
			Pattern:         req.Filter.Pattern,
			CaseInsensitive: req.Filter.CaseInsensitive,
			Sort:            req.Filter.Sort,
			Unique:          req.Filter.Unique,
			Head:            req.Filter.Head,
			Tail:            req.Filter.Tail,
			Count:           filter.CountMode(req.Filter.Count),
		}
		if err := spec.Validate(); err != nil {
			sendError(w, r, http.StatusBadRequest, "INVALID_FILTER", "invalid filter spec", err.Error())
			return
		}
	}

	command := req.Command
	if !req.FilterLocally {
		command += spec.RemoteSuffix()
	}

	res, err := s.runner.Execute(r.Context(), command, time.Duration(req.TimeoutMS)*time.Millisecond)
	if err != nil {
		s.sendExecuteError(w, r, err)
		return
	}

	if req.FilterLocally {
		res.Stdout = spec.Apply(res.Stdout)
	}

	sendJSON(w, http.StatusOK, commandResponse{
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
	})
}

// sendExecuteError maps the core error taxonomy onto HTTP status codes.
func (s *Server) sendExecuteError(w http.ResponseWriter, r *http.Request, err error) {
	var circuitErr *connection.CircuitOpenError
	var timeoutErr *connection.TimeoutError
	var connErr *connection.ConnectionError

	switch {
	case errors.As(err, &circuitErr):
		sendError(w, r, http.StatusServiceUnavailable, "CIRCUIT_OPEN", "remote host is failing, retry later", err.Error())
	case errors.As(err, &timeoutErr):
		sendError(w, r, http.StatusGatewayTimeout, "COMMAND_TIMEOUT", "command exceeded its deadline", err.Error())
	case errors.As(err, &connErr):
		sendError(w, r, http.StatusBadGateway, "CONNECTION_FAILED", "could not reach the remote host", err.Error())
	default:
		sendError(w, r, http.StatusInternalServerError, "EXECUTION_FAILED", "command execution failed", err.Error())
	}
}

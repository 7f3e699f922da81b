package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/remotediag/remotediag/internal/config"
	"github.com/remotediag/remotediag/internal/connection"
	"github.com/remotediag/remotediag/internal/platform"
	"github.com/remotediag/remotediag/internal/probe"
	"github.com/remotediag/remotediag/internal/server"
	"github.com/remotediag/remotediag/internal/transport"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional, env vars apply either way)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logger
	logger := initLogger(cfg.Logging)
	logger.Info("Starting remote diagnostics server",
		"remote_host", cfg.Remote.Host,
		"remote_port", cfg.Remote.Port,
		"transport", cfg.Remote.Transport,
	)

	// Pre-connect probing: reachability first, then SNMP identity if a
	// community string is configured. Failures are informational only.
	if err := probe.CheckPort(cfg.Remote.Host, cfg.Remote.Port, cfg.Probe.GetProbeTimeout()); err != nil {
		logger.Warn("Remote port not reachable", "error", err)
	}
	if cfg.Probe.SNMPCommunity != "" {
		identity, err := probe.SNMPIdentity(cfg.Remote.Host, cfg.Probe.SNMPPort, cfg.Probe.SNMPCommunity, cfg.Probe.GetProbeTimeout())
		if err != nil {
			logger.Warn("SNMP identity probe failed", "error", err)
		} else {
			logger.Info("Remote host identity",
				"hostname", identity.Hostname,
				"sys_descr", identity.SysDescr,
			)
		}
	}

	// Build the transport and connection manager
	manager := connection.NewManager(
		buildTransport(cfg, logger),
		connection.Options{
			CommandTimeout:    cfg.Remote.GetCommandTimeout(),
			FailureThreshold:  cfg.Remote.MaxConsecutiveFailures,
			Cooldown:          cfg.Remote.GetCooldown(),
			ReconnectAttempts: cfg.Remote.ReconnectAttempts,
			ReconnectBackoff:  cfg.Remote.GetReconnectBackoff(),
		},
		logger,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A failed initial connect is degraded, not fatal: the manager
	// reconnects on first use.
	if err := manager.Connect(ctx); err != nil {
		logger.Warn("Initial connect failed, continuing degraded", "error", err)
	}

	// Platform detection runs once at startup and always selects a profile.
	registry := platform.NewRegistry(logger)
	for _, p := range platform.Builtin() {
		registry.Register(p)
	}
	plat := registry.Detect(ctx, func(ctx context.Context, command string) (transport.Result, error) {
		return manager.Execute(ctx, command, cfg.Remote.GetCommandTimeout())
	})
	logger.Info("Operating profile selected",
		"platform", plat.ID,
		"display_name", plat.DisplayName,
		"tool_modules", plat.ToolModules,
	)

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      server.New(manager, plat, logger).Routes(),
		ReadTimeout:  cfg.Server.GetReadTimeout(),
		WriteTimeout: cfg.Server.GetWriteTimeout(),
	}

	// Start server in goroutine
	go func() {
		logger.Info("HTTP server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Server failed", "error", err)
			manager.Disconnect()
			os.Exit(1)
		}
	}()

	// Graceful shutdown: the session must be released on every exit path.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	if err := manager.Disconnect(); err != nil {
		logger.Error("Session release failed", "error", err)
	}

	logger.Info("Server stopped gracefully")
}

// buildTransport selects the session transport from config.
func buildTransport(cfg *config.Config, logger *slog.Logger) transport.Transport {
	if cfg.Remote.Transport == "winrm" {
		return transport.NewWinRM(transport.WinRMOptions{
			Host:        cfg.Remote.Host,
			Port:        cfg.Remote.Port,
			Username:    cfg.Remote.Username,
			Password:    cfg.Remote.Password,
			DialTimeout: cfg.Remote.GetDialTimeout(),
		}, logger)
	}
	return transport.NewSSH(transport.SSHOptions{
		Host:           cfg.Remote.Host,
		Port:           cfg.Remote.Port,
		Username:       cfg.Remote.Username,
		Password:       cfg.Remote.Password,
		PrivateKeyPath: cfg.Remote.PrivateKeyPath,
		Passphrase:     cfg.Remote.Passphrase,
		DialTimeout:    cfg.Remote.GetDialTimeout(),
	}, logger)
}

func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

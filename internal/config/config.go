// Package config
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Remote  RemoteConfig  `yaml:"remote"`
	Server  ServerConfig  `yaml:"server"`
	Probe   ProbeConfig   `yaml:"probe"`
	Logging LoggingConfig `yaml:"logging"`
}

// RemoteConfig describes the single remote host the process diagnoses.
type RemoteConfig struct {
	Host      string `yaml:"host" validate:"required"`
	Port      int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
	Transport string `yaml:"transport" validate:"omitempty,oneof=ssh winrm"`
	Username  string `yaml:"username" validate:"required"`

	// Either password or private_key_path must be set. The key path
	// supports a leading ~.
	Password       string `yaml:"password"`
	PrivateKeyPath string `yaml:"private_key_path"`
	Passphrase     string `yaml:"passphrase"`

	DialTimeoutMS          int `yaml:"dial_timeout_ms"`
	CommandTimeoutMS       int `yaml:"command_timeout_ms"`
	MaxConsecutiveFailures int `yaml:"max_consecutive_failures"`
	CooldownMS             int `yaml:"cooldown_ms"`
	ReconnectAttempts      int `yaml:"reconnect_attempts"`
	ReconnectBackoffMS     int `yaml:"reconnect_backoff_ms"`
}

type ServerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port" validate:"omitempty,min=1,max=65535"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
}

// ProbeConfig tunes the optional pre-connect host probing. SNMP identity
// lookup only happens when a community string is configured.
type ProbeConfig struct {
	SNMPCommunity string `yaml:"snmp_community"`
	SNMPPort      int    `yaml:"snmp_port" validate:"omitempty,min=1,max=65535"`
	TimeoutMS     int    `yaml:"timeout_ms"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

// Load reads configuration from an optional YAML file, applies environment
// variable overrides and defaults, and validates the result. An empty path
// configures from environment variables alone.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate ensures all required configuration values are set.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	// Either password or private_key_path is required for the session.
	if c.Remote.Password == "" && c.Remote.PrivateKeyPath == "" {
		return fmt.Errorf("either password or private_key_path is required")
	}
	if c.Remote.Transport == "winrm" && c.Remote.Password == "" {
		return fmt.Errorf("password is required for winrm transport")
	}

	return nil
}

// applyEnvOverrides checks for environment variables with DIAG_ prefix.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DIAG_HOST"); v != "" {
		cfg.Remote.Host = v
	}
	if v := os.Getenv("DIAG_PORT"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Remote.Port)
	}
	if v := os.Getenv("DIAG_TRANSPORT"); v != "" {
		cfg.Remote.Transport = v
	}
	if v := os.Getenv("DIAG_USERNAME"); v != "" {
		cfg.Remote.Username = v
	}
	if v := os.Getenv("DIAG_PASSWORD"); v != "" {
		cfg.Remote.Password = v
	}
	if v := os.Getenv("DIAG_PRIVATE_KEY_PATH"); v != "" {
		cfg.Remote.PrivateKeyPath = v
	}
	if v := os.Getenv("DIAG_PASSPHRASE"); v != "" {
		cfg.Remote.Passphrase = v
	}
	if v := os.Getenv("DIAG_COMMAND_TIMEOUT_MS"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Remote.CommandTimeoutMS)
	}
	if v := os.Getenv("DIAG_MAX_CONSECUTIVE_FAILURES"); v != "" {
		fmt.Sscanf(v, "%d", &cfg.Remote.MaxConsecutiveFailures)
	}
	if v := os.Getenv("DIAG_SNMP_COMMUNITY"); v != "" {
		cfg.Probe.SNMPCommunity = v
	}
	if v := os.Getenv("DIAG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// applyDefaults fills unset fields with the documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Remote.Transport == "" {
		cfg.Remote.Transport = "ssh"
	}
	if cfg.Remote.Port == 0 {
		if cfg.Remote.Transport == "winrm" {
			cfg.Remote.Port = 5985
		} else {
			cfg.Remote.Port = 22
		}
	}
	if cfg.Remote.DialTimeoutMS == 0 {
		cfg.Remote.DialTimeoutMS = 10000
	}
	if cfg.Remote.CommandTimeoutMS == 0 {
		cfg.Remote.CommandTimeoutMS = 15000
	}
	if cfg.Remote.MaxConsecutiveFailures == 0 {
		cfg.Remote.MaxConsecutiveFailures = 3
	}
	if cfg.Remote.CooldownMS == 0 {
		cfg.Remote.CooldownMS = 30000
	}
	if cfg.Remote.ReconnectAttempts == 0 {
		cfg.Remote.ReconnectAttempts = 5
	}
	if cfg.Remote.ReconnectBackoffMS == 0 {
		cfg.Remote.ReconnectBackoffMS = 500
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeoutMS == 0 {
		cfg.Server.ReadTimeoutMS = 30000
	}
	if cfg.Server.WriteTimeoutMS == 0 {
		cfg.Server.WriteTimeoutMS = 60000
	}
	if cfg.Probe.SNMPPort == 0 {
		cfg.Probe.SNMPPort = 161
	}
	if cfg.Probe.TimeoutMS == 0 {
		cfg.Probe.TimeoutMS = 2000
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// GetDialTimeout returns the transport dial timeout as a duration.
func (r *RemoteConfig) GetDialTimeout() time.Duration {
	return time.Duration(r.DialTimeoutMS) * time.Millisecond
}

// GetCommandTimeout returns the per-command timeout as a duration.
func (r *RemoteConfig) GetCommandTimeout() time.Duration {
	return time.Duration(r.CommandTimeoutMS) * time.Millisecond
}

// GetCooldown returns the breaker cool-down window as a duration.
func (r *RemoteConfig) GetCooldown() time.Duration {
	return time.Duration(r.CooldownMS) * time.Millisecond
}

// GetReconnectBackoff returns the initial reconnect backoff as a duration.
func (r *RemoteConfig) GetReconnectBackoff() time.Duration {
	return time.Duration(r.ReconnectBackoffMS) * time.Millisecond
}

// GetReadTimeout returns the read timeout as a duration.
func (s *ServerConfig) GetReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

// GetWriteTimeout returns the write timeout as a duration.
func (s *ServerConfig) GetWriteTimeout() time.Duration {
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

// GetProbeTimeout returns the probe timeout as a duration.
func (p *ProbeConfig) GetProbeTimeout() time.Duration {
	return time.Duration(p.TimeoutMS) * time.Millisecond
}

// Package config loads the ohsh configuration file and merges it with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/All-Hands-AI/agent-sdk-go/internal/environment"
)

// Config holds all ohsh configuration, loaded from ~/.ohsh/config.yaml and
// overridable through OHSH_* environment variables.
type Config struct {
	// Backend names the terminal backend to use. Empty means auto-probe.
	Backend string `yaml:"backend"`

	// WorkDir is the starting directory for terminal sessions. Empty means
	// the process working directory.
	WorkDir string `yaml:"work_dir"`

	// NoChangeTimeoutSeconds is the soft timeout applied to commands
	// executed without an explicit timeout.
	NoChangeTimeoutSeconds int `yaml:"no_change_timeout_seconds"`

	// LogLevel controls logging verbosity.
	LogLevel string `yaml:"log_level"`

	// HistoryEnabled controls whether completed commands are recorded to
	// the history database.
	HistoryEnabled bool `yaml:"history_enabled"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Backend:                "",
		NoChangeTimeoutSeconds: 30,
		LogLevel:               "info",
		HistoryEnabled:         true,
	}
}

// LoadConfig reads the config file at path and applies environment
// overrides. A missing file is not an error; defaults apply.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if backend := environment.GetBackend(); backend != "" {
		cfg.Backend = backend
	}
	if timeout := environment.GetNoChangeTimeout(); timeout > 0 {
		cfg.NoChangeTimeoutSeconds = int(timeout / time.Second)
	}

	return cfg, nil
}

// NoChangeTimeout returns the configured soft timeout as a duration.
func (c *Config) NoChangeTimeout() time.Duration {
	return time.Duration(c.NoChangeTimeoutSeconds) * time.Second
}

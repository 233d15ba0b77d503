// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the Lectern session client.
type Config struct {
	// Endpoints holds the external service URLs. All are required.
	Endpoints EndpointsConfig `yaml:"endpoints"`

	// Identity describes the local participant.
	Identity IdentityConfig `yaml:"identity"`

	// Session tunes connection and correlation behavior.
	Session SessionConfig `yaml:"session"`

	// Audio configures the capture pipeline.
	Audio AudioConfig `yaml:"audio"`

	// Paths configures local state locations.
	Paths PathsConfig `yaml:"paths"`
}

// EndpointsConfig holds the externally provided service endpoints.
// These must never be hardcoded; a missing endpoint is a configuration
// error, not a prompt to guess a default host.
type EndpointsConfig struct {
	// TokenService is the base URL of the room/token issuance service
	// (POST /generate-room, DELETE /sessions/{id}).
	TokenService string `yaml:"token_service"`

	// Worker is the participant identity of the browser-automation
	// worker inside the room. Relay commands are addressed to it.
	Worker string `yaml:"worker"`

	// DiagramGenerator is the base URL of the diagram-text generator
	// used by the visualization handler.
	DiagramGenerator string `yaml:"diagram_generator"`
}

// IdentityConfig describes the local participant.
type IdentityConfig struct {
	// UserID is the stable identifier of the local user.
	UserID string `yaml:"user_id"`

	// DisplayName is shown to other participants.
	DisplayName string `yaml:"display_name"`

	// AgentPrefix is the identity prefix that marks the remote AI
	// agent participant (default "agent/").
	AgentPrefix string `yaml:"agent_prefix"`
}

// SessionConfig tunes connection and correlation behavior.
type SessionConfig struct {
	// AwaitTimeout is the default deadline for send-and-await browser
	// actions.
	AwaitTimeout time.Duration `yaml:"await_timeout"`

	// RPCTimeout is the deadline for unary RPC calls.
	RPCTimeout time.Duration `yaml:"rpc_timeout"`

	// StatusPollInterval is how often the session status URL is polled
	// while the session manager id is unresolved.
	StatusPollInterval time.Duration `yaml:"status_poll_interval"`
}

// AudioConfig configures the capture pipeline.
type AudioConfig struct {
	// SampleRate is the capture sample rate in Hz.
	SampleRate int `yaml:"sample_rate"`

	// Device names the capture device; empty selects the default.
	Device string `yaml:"device"`
}

// PathsConfig configures local state locations.
type PathsConfig struct {
	// State is where the board snapshot and episode spool live.
	State string `yaml:"state"`

	// Seed is an optional JSONC board seed file loaded at startup.
	Seed string `yaml:"seed"`
}

// Default returns the base configuration. Endpoint fields deliberately
// have no defaults — they must come from the file.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		Identity: IdentityConfig{
			AgentPrefix: "agent/",
		},
		Session: SessionConfig{
			AwaitTimeout:       30 * time.Second,
			RPCTimeout:         15 * time.Second,
			StatusPollInterval: 2 * time.Second,
		},
		Audio: AudioConfig{
			SampleRate: 48000,
		},
		Paths: PathsConfig{
			State: filepath.Join(homeDir, ".cache", "lectern"),
		},
	}
}

// Load loads configuration from the file named by LECTERN_CONFIG.
// There are no fallbacks: if the variable is unset, Load fails.
func Load() (*Config, error) {
	path := os.Getenv("LECTERN_CONFIG")
	if path == "" {
		return nil, &ConfigError{Problems: []string{
			"LECTERN_CONFIG environment variable not set; point it at your lectern.yaml or pass --config",
		}}
	}
	return LoadFile(path)
}

// LoadFile loads configuration from an explicit path, expands path
// variables, and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration, collecting every problem rather
// than stopping at the first.
func (c *Config) Validate() error {
	var problems []string

	if c.Endpoints.TokenService == "" {
		problems = append(problems, "endpoints.token_service is required")
	}
	if c.Endpoints.Worker == "" {
		problems = append(problems, "endpoints.worker is required")
	}
	if c.Endpoints.DiagramGenerator == "" {
		problems = append(problems, "endpoints.diagram_generator is required")
	}
	if c.Identity.UserID == "" {
		problems = append(problems, "identity.user_id is required")
	}
	if c.Session.AwaitTimeout <= 0 {
		problems = append(problems, "session.await_timeout must be positive")
	}
	if c.Audio.SampleRate <= 0 {
		problems = append(problems, "audio.sample_rate must be positive")
	}

	if len(problems) > 0 {
		return &ConfigError{Problems: problems}
	}
	return nil
}

// EnsurePaths creates the configured state directory if missing.
func (c *Config) EnsurePaths() error {
	if c.Paths.State == "" {
		return nil
	}
	if err := os.MkdirAll(c.Paths.State, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", c.Paths.State, err)
	}
	return nil
}

// ConfigError reports missing or invalid required configuration. It is
// fatal: the caller must not retry with the same configuration.
type ConfigError struct {
	Problems []string
}

func (e *ConfigError) Error() string {
	if len(e.Problems) == 1 {
		return "config: " + e.Problems[0]
	}
	return fmt.Sprintf("config: %d problems: %v", len(e.Problems), e.Problems)
}

// IsConfigError reports whether err is a *ConfigError.
func IsConfigError(err error) bool {
	var configErr *ConfigError
	return errors.As(err, &configErr)
}

// expandVariables expands ${VAR} and ${VAR:-default} in path fields.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func (c *Config) expandVariables() {
	c.Paths.State = expandVars(c.Paths.State)
	c.Paths.Seed = expandVars(c.Paths.Seed)
}

func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

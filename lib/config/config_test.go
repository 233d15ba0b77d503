// Copyright 2026 The Lectern Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "lectern.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const validConfig = `
endpoints:
  token_service: https://tokens.example.com
  worker: worker/chrome-1
  diagram_generator: https://diagrams.example.com
identity:
  user_id: user-42
  display_name: Pat
`

func TestLoadFileValid(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Endpoints.TokenService != "https://tokens.example.com" {
		t.Errorf("TokenService = %q", cfg.Endpoints.TokenService)
	}
	if cfg.Identity.AgentPrefix != "agent/" {
		t.Errorf("AgentPrefix default = %q, want agent/", cfg.Identity.AgentPrefix)
	}
	if cfg.Session.AwaitTimeout <= 0 {
		t.Error("AwaitTimeout default missing")
	}
}

func TestLoadFileMissingEndpointsCollectsAll(t *testing.T) {
	_, err := LoadFile(writeConfig(t, "identity:\n  user_id: u\n"))
	if err == nil {
		t.Fatal("LoadFile accepted config with no endpoints")
	}
	if !IsConfigError(err) {
		t.Fatalf("error type = %T, want *ConfigError", err)
	}
	message := err.Error()
	for _, want := range []string{"token_service", "worker", "diagram_generator"} {
		if !strings.Contains(message, want) {
			t.Errorf("error %q does not mention %s", message, want)
		}
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv("LECTERN_CONFIG", "")
	if _, err := Load(); !IsConfigError(err) {
		t.Fatalf("Load without LECTERN_CONFIG: err = %v, want *ConfigError", err)
	}
}

func TestExpandVariablesInPaths(t *testing.T) {
	t.Setenv("LECTERN_TEST_ROOT", "/tmp/lectern-test")
	cfg, err := LoadFile(writeConfig(t, validConfig+"paths:\n  state: ${LECTERN_TEST_ROOT}/state\n"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Paths.State != "/tmp/lectern-test/state" {
		t.Errorf("State = %q", cfg.Paths.State)
	}
}

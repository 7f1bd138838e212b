// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Backends, 2)
	assert.True(t, cfg.Context.DistillationEnabled)
}

func TestLoadFromPathMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Routing.MaxAttempts, cfg.Routing.MaxAttempts)
}

func TestLoadFromPathParsesAndFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
version = "1"

[routing]
max_attempts = 5

[context]
distillation_enabled = false

[[backends]]
id = "my-cloud"
kind = "openrouter"
role = "reasoner"
model = "openrouter/auto"
max_context_tokens = 100000

[quota.my-cloud]
requests_per_minute = 30
token_budget = 500000
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	cfg, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Routing.MaxAttempts)
	// Unset values fall back to defaults.
	assert.Equal(t, Default().Routing.RetryBaseDelayMS, cfg.Routing.RetryBaseDelayMS)
	assert.False(t, cfg.Context.DistillationEnabled)
	require.Len(t, cfg.Backends, 1)
	assert.Equal(t, "my-cloud", cfg.Backends[0].ID)
	require.Contains(t, cfg.Quota, "my-cloud")
	assert.Equal(t, 500000, cfg.Quota["my-cloud"].TokenBudget)
}

func TestValidateRejectsBadConfigs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no_backends", func(c *Config) { c.Backends = nil }},
		{"empty_id", func(c *Config) { c.Backends[0].ID = "" }},
		{"duplicate_id", func(c *Config) { c.Backends[1].ID = c.Backends[0].ID }},
		{"unknown_kind", func(c *Config) { c.Backends[0].Kind = "carrier-pigeon" }},
		{"unknown_role", func(c *Config) { c.Backends[0].Role = "oracle" }},
		{"zero_context", func(c *Config) { c.Backends[0].MaxContextTokens = 0 }},
		{"bad_delegate", func(c *Config) { c.Context.DelegateBackend = "ghost" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("CONDUIT_OPENROUTER_KEY", "sk-test-123")
	t.Setenv("CONDUIT_OLLAMA_URL", "http://gpu-box:11434")
	t.Setenv("CONDUIT_DISTILLATION", "false")

	cfg := Default()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "sk-test-123", cfg.Backends[0].APIKey)
	assert.Equal(t, "http://gpu-box:11434", cfg.Backends[1].BaseURL)
	assert.False(t, cfg.Context.DistillationEnabled)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := Default()
	cfg.Routing.MaxAttempts = 7
	require.NoError(t, Save(cfg, path))

	loaded, err := LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.Routing.MaxAttempts)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/jeranaias/conduit/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete conduit configuration.
type Config struct {
	Version string `toml:"version"`

	Routing  RoutingConfig   `toml:"routing"`
	Context  ContextConfig   `toml:"context"`
	Memory   MemoryConfig    `toml:"memory"`
	Backends []BackendConfig `toml:"backends"`
	Quota    map[string]QuotaConfig `toml:"quota"`
}

// RoutingConfig tunes chain selection and retry behavior.
type RoutingConfig struct {
	// Headroom is the fraction of a backend's context window kept
	// free during eligibility checks.
	Headroom float64 `toml:"headroom"`
	// MaxAttempts is the per-backend retry ceiling.
	MaxAttempts int `toml:"max_attempts"`
	// RetryBaseDelayMS is the initial backoff delay in milliseconds.
	RetryBaseDelayMS int `toml:"retry_base_delay_ms"`
	// RetryMaxDelayMS caps the backoff delay in milliseconds.
	RetryMaxDelayMS int `toml:"retry_max_delay_ms"`
	// AttemptTimeoutSecs bounds each attempt's wall-clock time.
	AttemptTimeoutSecs int `toml:"attempt_timeout_secs"`
}

// ContextConfig tunes the context tier manager.
type ContextConfig struct {
	// DistillationEnabled gates the delegate summarization call.
	DistillationEnabled bool `toml:"distillation_enabled"`
	// DelegateBackend is the backend ID used for distillation.
	DelegateBackend string `toml:"delegate_backend"`
	// DelegateModel overrides the delegate's default model.
	DelegateModel string `toml:"delegate_model"`
	// KeepRecent is how many session messages survive distillation
	// verbatim.
	KeepRecent int `toml:"keep_recent"`
	// SessionMaxMessages bounds the session ring by count.
	SessionMaxMessages int `toml:"session_max_messages"`
	// SessionMaxTokens bounds the session ring by token estimate.
	SessionMaxTokens int `toml:"session_max_tokens"`
}

// MemoryConfig tunes the persistent tier.
type MemoryConfig struct {
	// Enabled gates persistent retrieval entirely.
	Enabled bool `toml:"enabled"`
	// Path is the SQLite file. Empty uses ~/.conduit/memory.db.
	Path string `toml:"path"`
	// RetrieveLimit caps injected snippets per bind.
	RetrieveLimit int `toml:"retrieve_limit"`
}

// BackendConfig declares one backend instance.
type BackendConfig struct {
	// ID is the backend identifier used everywhere else.
	ID string `toml:"id"`
	// Kind selects the adapter: "openrouter" or "ollama".
	Kind string `toml:"kind"`
	// Role is the routing role: reasoner, coder, parser, local.
	Role string `toml:"role"`
	// Model is the default model for this backend.
	Model string `toml:"model"`
	// BaseURL overrides the provider endpoint.
	BaseURL string `toml:"base_url"`
	// APIKey authenticates cloud providers. The CONDUIT_<ID>_KEY
	// environment variable overrides it.
	APIKey string `toml:"api_key"`
	// MaxContextTokens is the declared window size.
	MaxContextTokens int `toml:"max_context_tokens"`
	// SupportsTools marks tool-calling capability.
	SupportsTools bool `toml:"supports_tools"`
	// AttemptTimeoutSecs overrides the global per-attempt timeout.
	AttemptTimeoutSecs int `toml:"attempt_timeout_secs"`
}

// QuotaConfig is the per-backend quota table entry.
type QuotaConfig struct {
	RequestsPerMinute float64 `toml:"requests_per_minute"`
	Burst             int     `toml:"burst"`
	TokenBudget       int     `toml:"token_budget"`
}

// AttemptTimeout returns the backend's attempt timeout, zero when
// unset.
func (b BackendConfig) AttemptTimeout() time.Duration {
	return time.Duration(b.AttemptTimeoutSecs) * time.Second
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns the built-in configuration: an OpenRouter reasoner
// with a local Ollama fallback, distillation through OpenRouter.
func Default() *Config {
	return &Config{
		Version: "1",
		Routing: RoutingConfig{
			Headroom:           0.20,
			MaxAttempts:        3,
			RetryBaseDelayMS:   500,
			RetryMaxDelayMS:    8000,
			AttemptTimeoutSecs: 120,
		},
		Context: ContextConfig{
			DistillationEnabled: true,
			DelegateBackend:     "openrouter",
			KeepRecent:          3,
			SessionMaxMessages:  100,
			SessionMaxTokens:    48000,
		},
		Memory: MemoryConfig{
			Enabled:       true,
			RetrieveLimit: 3,
		},
		Backends: []BackendConfig{
			{
				ID:               "openrouter",
				Kind:             "openrouter",
				Role:             "reasoner",
				Model:            "openrouter/auto",
				MaxContextTokens: 200000,
				SupportsTools:    true,
			},
			{
				ID:               "ollama",
				Kind:             "ollama",
				Role:             "local",
				Model:            "qwen2.5-coder:7b",
				BaseURL:          "http://localhost:11434",
				MaxContextTokens: 8192,
			},
		},
	}
}

// =============================================================================
// LOADING
// =============================================================================

// Dir returns the conduit configuration directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".conduit"), nil
}

// Path returns the default configuration file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load reads the configuration from the default path, falling back to
// built-in defaults when no file exists. Environment overrides apply
// either way.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath reads the configuration from an explicit path. A
// missing file yields defaults, not an error.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnvOverrides()
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as TOML. The write is atomic so a
// crash mid-save cannot corrupt the file a running watcher reloads.
func Save(cfg *Config, path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return err
	}
	return util.AtomicWriteFile(path, buf.Bytes(), 0600)
}

// fillDefaults patches zero values left by a sparse file.
func (c *Config) fillDefaults() {
	def := Default()
	if c.Routing.Headroom <= 0 || c.Routing.Headroom >= 1 {
		c.Routing.Headroom = def.Routing.Headroom
	}
	if c.Routing.MaxAttempts <= 0 {
		c.Routing.MaxAttempts = def.Routing.MaxAttempts
	}
	if c.Routing.RetryBaseDelayMS <= 0 {
		c.Routing.RetryBaseDelayMS = def.Routing.RetryBaseDelayMS
	}
	if c.Routing.RetryMaxDelayMS <= 0 {
		c.Routing.RetryMaxDelayMS = def.Routing.RetryMaxDelayMS
	}
	if c.Routing.AttemptTimeoutSecs <= 0 {
		c.Routing.AttemptTimeoutSecs = def.Routing.AttemptTimeoutSecs
	}
	if c.Context.KeepRecent <= 0 {
		c.Context.KeepRecent = def.Context.KeepRecent
	}
	if c.Context.SessionMaxMessages <= 0 {
		c.Context.SessionMaxMessages = def.Context.SessionMaxMessages
	}
	if c.Context.SessionMaxTokens <= 0 {
		c.Context.SessionMaxTokens = def.Context.SessionMaxTokens
	}
	if c.Memory.RetrieveLimit <= 0 {
		c.Memory.RetrieveLimit = def.Memory.RetrieveLimit
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variables over the loaded
// configuration:
//   - CONDUIT_<BACKEND-ID>_KEY: overrides the backend's api_key
//     (dashes in the ID become underscores)
//   - CONDUIT_DISTILLATION: "0"/"false" disables distillation
//   - CONDUIT_MEMORY: "0"/"false" disables persistent memory
//   - CONDUIT_OLLAMA_URL: overrides every ollama backend's base_url
func (c *Config) ApplyEnvOverrides() {
	for i := range c.Backends {
		envKey := "CONDUIT_" + strings.ToUpper(strings.ReplaceAll(c.Backends[i].ID, "-", "_")) + "_KEY"
		if key := os.Getenv(envKey); key != "" {
			c.Backends[i].APIKey = key
		}
		if c.Backends[i].Kind == "ollama" {
			if url := os.Getenv("CONDUIT_OLLAMA_URL"); url != "" {
				c.Backends[i].BaseURL = url
			}
		}
	}
	if v := os.Getenv("CONDUIT_DISTILLATION"); v != "" {
		c.Context.DistillationEnabled = parseBool(v, c.Context.DistillationEnabled)
	}
	if v := os.Getenv("CONDUIT_MEMORY"); v != "" {
		c.Memory.Enabled = parseBool(v, c.Memory.Enabled)
	}
}

func parseBool(s string, fallback bool) bool {
	b, err := strconv.ParseBool(s)
	if err != nil {
		return fallback
	}
	return b
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks structural consistency.
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("config: at least one backend required")
	}
	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.ID == "" {
			return fmt.Errorf("config: backend with empty id")
		}
		if seen[b.ID] {
			return fmt.Errorf("config: duplicate backend id %q", b.ID)
		}
		seen[b.ID] = true
		switch b.Kind {
		case "openrouter", "ollama":
		default:
			return fmt.Errorf("config: backend %q has unknown kind %q", b.ID, b.Kind)
		}
		switch b.Role {
		case "reasoner", "coder", "parser", "local":
		default:
			return fmt.Errorf("config: backend %q has unknown role %q", b.ID, b.Role)
		}
		if b.MaxContextTokens <= 0 {
			return fmt.Errorf("config: backend %q needs max_context_tokens", b.ID)
		}
	}
	if c.Context.DistillationEnabled && c.Context.DelegateBackend != "" && !seen[c.Context.DelegateBackend] {
		return fmt.Errorf("config: delegate_backend %q is not a configured backend", c.Context.DelegateBackend)
	}
	return nil
}

// Package config loads the TermNet configuration file (JSON5), applies
// defaults and environment overrides, and resolves provider API keys from
// the system keyring.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
	"github.com/zalando/go-keyring"
)

// keyringService namespaces TermNet secrets in the OS keyring.
const keyringService = "termnet"

// Config is the root configuration.
type Config struct {
	LogLevel string `json:"log_level"` // debug, info, warn, error

	Provider ProviderConfig `json:"provider"`
	Agent    AgentConfig    `json:"agent"`
	Gateway  GatewayConfig  `json:"gateway"`
	Tools    ToolsConfig    `json:"tools"`
	Safety   SafetyConfig   `json:"safety"`
	Notify   NotifyConfig   `json:"notify"`
	Notes    NotesConfig    `json:"notes"`
	Browser  BrowserConfig  `json:"browser"`
	Tracing  TracingConfig  `json:"tracing"`
}

// ProviderConfig selects and parameterizes the completion backend.
type ProviderConfig struct {
	Name       string                 `json:"name"` // "openai" or "ollama"
	Model      string                 `json:"model"`
	BaseURL    string                 `json:"base_url"`
	APIKey     string                 `json:"api_key"`     // prefer keyring_key over inline keys
	KeyringKey string                 `json:"keyring_key"` // keyring account name for the API key
	Options    map[string]interface{} `json:"options"`     // passed through to the backend
}

// AgentConfig tunes the loop.
type AgentConfig struct {
	MaxSteps              int    `json:"max_steps"`
	MaxMalformedRetries   int    `json:"max_malformed_retries"`
	MaxUnknownToolRetries int    `json:"max_unknown_tool_retries"`
	ContextTokens         int    `json:"context_tokens"` // token budget for the model context
	GuardAction           string `json:"guard_action"`   // log, warn, block, off
	Reflect               bool   `json:"reflect"`
	DebounceMs            int    `json:"debounce_ms"`
}

// GatewayConfig tunes the WebSocket server.
type GatewayConfig struct {
	Enabled   bool   `json:"enabled"`
	Addr      string `json:"addr"`
	Token     string `json:"token"`
	RateRPM   int    `json:"rate_rpm"`
	RateBurst int    `json:"rate_burst"`
}

// ToolsConfig locates the manifest and tunes invocation policy.
type ToolsConfig struct {
	ManifestPath     string `json:"manifest_path"`
	RatePerHour      int    `json:"rate_per_hour"` // 0 disables tool rate limiting
	ScrubCredentials bool   `json:"scrub_credentials"`
	HotReload        bool   `json:"hot_reload"`
}

// RuleSpec is one user-supplied safety rule.
type RuleSpec struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	Reason  string `json:"reason"`
}

// SafetyConfig extends the built-in rule tables. Extra deny rules are
// evaluated after the built-in deny list and still strictly before any warn
// rule.
type SafetyConfig struct {
	ExtraDeny []RuleSpec `json:"extra_deny"`
	ExtraWarn []RuleSpec `json:"extra_warn"`
}

// NotifyConfig locates the notification store.
type NotifyConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// NotesConfig locates the note database.
type NotesConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// BrowserConfig tunes the shared Chrome session.
type BrowserConfig struct {
	Enabled    bool `json:"enabled"`
	Headless   bool `json:"headless"`
	MaxResults int  `json:"max_results"`
}

// TracingConfig enables OTLP span export.
type TracingConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// Default returns the configuration used when no file exists. Paths are
// rooted under the user data directory.
func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		LogLevel: "info",
		Provider: ProviderConfig{
			Name:    "ollama",
			Model:   "llama3.1",
			BaseURL: "http://localhost:11434",
		},
		Agent: AgentConfig{
			MaxSteps:              10,
			MaxMalformedRetries:   2,
			MaxUnknownToolRetries: 2,
			ContextTokens:         12000,
			GuardAction:           "warn",
			DebounceMs:            0,
		},
		Gateway: GatewayConfig{
			Enabled:   true,
			Addr:      "127.0.0.1:8765",
			RateRPM:   60,
			RateBurst: 10,
		},
		Tools: ToolsConfig{
			ManifestPath:     filepath.Join(dataDir, "tools.yaml"),
			ScrubCredentials: true,
			HotReload:        true,
		},
		Notify: NotifyConfig{
			Enabled: true,
			Path:    filepath.Join(dataDir, "notifications.json"),
		},
		Notes: NotesConfig{
			Enabled: true,
			Path:    filepath.Join(dataDir, "notes.db"),
		},
		Browser: BrowserConfig{
			Enabled:    true,
			Headless:   true,
			MaxResults: 20,
		},
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "termnet")
	}
	return ".termnet"
}

// Load reads the config file, layering file values over defaults, then
// environment overrides, then keyring resolution. A missing file is not an
// error; defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json5.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// fall through to defaults
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := resolveAPIKey(cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides layers TERMNET_* variables over the file values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TERMNET_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("TERMNET_PROVIDER"); v != "" {
		cfg.Provider.Name = v
	}
	if v := os.Getenv("TERMNET_MODEL"); v != "" {
		cfg.Provider.Model = v
	}
	if v := os.Getenv("TERMNET_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("TERMNET_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("TERMNET_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("TERMNET_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Token = v
	}
	if v := os.Getenv("TERMNET_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Agent.MaxSteps = n
		}
	}
}

// resolveAPIKey pulls the provider key from the OS keyring when the config
// names a keyring account and no inline or env key is set.
func resolveAPIKey(cfg *Config) error {
	if cfg.Provider.APIKey != "" || cfg.Provider.KeyringKey == "" {
		return nil
	}
	key, err := keyring.Get(keyringService, cfg.Provider.KeyringKey)
	if err != nil {
		return fmt.Errorf("keyring lookup for %q: %w", cfg.Provider.KeyringKey, err)
	}
	cfg.Provider.APIKey = key
	return nil
}

// StoreAPIKey saves a provider API key under the given keyring account.
func StoreAPIKey(account, key string) error {
	return keyring.Set(keyringService, account, key)
}

func (c *Config) validate() error {
	switch c.Provider.Name {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unknown provider %q", c.Provider.Name)
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("provider.model is required")
	}
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be positive")
	}
	switch c.Agent.GuardAction {
	case "", "log", "warn", "block", "off":
	default:
		return fmt.Errorf("unknown guard_action %q", c.Agent.GuardAction)
	}
	if c.Gateway.Enabled && c.Gateway.Addr == "" {
		return fmt.Errorf("gateway.addr is required when the gateway is enabled")
	}
	return nil
}

// Package config provides configuration loading and structs for the NDW
// generation gateway.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Debug     bool            `yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Providers []ProviderConfig `yaml:"providers"`
	Prefetch  PrefetchConfig  `yaml:"prefetch"`
	Review    ReviewConfig    `yaml:"review"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// OfflineAllow permits /generate to return a canned offline doc when no
	// provider is configured, instead of 503.
	OfflineAllow bool `yaml:"offline_allow"`
	// TestMode swaps every provider for the deterministic in-process stub.
	TestMode bool `yaml:"test_mode"`
}

// StorageConfig holds filesystem paths for persisted state.
type StorageConfig struct {
	PrefetchDir    string `yaml:"prefetch_dir"`
	SignatureStore string `yaml:"signature_store"`
	CounterPath    string `yaml:"counter_path"`
	// SignatureBackend selects "file" (default) or "sqlite".
	SignatureBackend string `yaml:"signature_backend"`
}

// ProviderConfig describes one upstream LLM provider.
type ProviderConfig struct {
	Name          string `yaml:"name"`
	Kind          string `yaml:"kind"` // "openai" or "gemini"
	BaseURL       string `yaml:"base_url"`
	Model         string `yaml:"model"`
	FallbackModel string `yaml:"fallback_model"`
	APIKeyEnv     string `yaml:"api_key_env"`
	Burst         bool   `yaml:"burst"`
	Forced        bool   `yaml:"forced"`
	BackoffSecs   int    `yaml:"backoff_seconds"`
	TimeoutSecs   int    `yaml:"timeout_seconds"`
}

// PrefetchConfig holds the prefetch/top-up tuning knobs.
type PrefetchConfig struct {
	PrewarmCount int `yaml:"prewarm_count"`
	LowWater     int `yaml:"low_water"`
	FillTo       int `yaml:"fill_to"`
	ReviewBatch  int `yaml:"review_batch"`
	MaxWorkers   int `yaml:"max_workers"`
	// ServeDelayMS is the prefetch-hit serve delay in milliseconds.
	ServeDelayMS int `yaml:"serve_delay_ms"`
}

// ReviewConfig controls the compliance reviewer.
type ReviewConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ProviderName  string `yaml:"provider_name"`
	RepairName    string `yaml:"repair_name"`
}

// RateLimitConfig controls the "gen" token bucket.
type RateLimitConfig struct {
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
}

// Load reads and parses the config file at path, expands paths, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	ApplyDefaults(&cfg)

	configDir := filepath.Dir(path)
	cfg.Storage.PrefetchDir = expandPath(cfg.Storage.PrefetchDir, configDir)
	cfg.Storage.SignatureStore = expandPath(cfg.Storage.SignatureStore, configDir)
	cfg.Storage.CounterPath = expandPath(cfg.Storage.CounterPath, configDir)

	return &cfg, nil
}

// Save writes the config to path. Used by operational tooling to persist a
// generated/edited configuration.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// expandPath converts a path to absolute. Paths starting with "./" are relative to configDir;
// other relative paths are relative to the home directory.
func expandPath(path string, configDir string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "./") || path == "." {
		return filepath.Join(configDir, path)
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, path)
	}
	return path
}

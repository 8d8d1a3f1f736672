// Package config provides configuration management for snapcase.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	json "github.com/goccy/go-json"
)

// Defaults.
const (
	DefaultPort     = 4470
	DefaultMaxConns = 4
	DefaultBusKind  = "local"
)

// Config holds all runtime settings.
type Config struct {
	Port     int `json:"port"`
	MaxConns int `json:"max_conns"`

	// Bus selects the cross-context transport: "local" for in-process,
	// "redis" for out-of-process UI surfaces.
	Bus       string `json:"bus"`
	RedisAddr string `json:"redis_addr,omitempty"`

	// Browser bridge. An empty DevToolsURL disables the bridge and the
	// coordinator runs with fakes (tests, headless development).
	DevToolsURL string `json:"devtools_url,omitempty"`

	// Recording.
	FFmpegBinary string `json:"ffmpeg_binary,omitempty"`
	Display      string `json:"display,omitempty"`

	// Case storage collaborators. Empty base URL disables upload hand-off.
	UploadBaseURL string `json:"upload_base_url,omitempty"`
	UploadToken   string `json:"upload_token,omitempty"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Port:     DefaultPort,
		MaxConns: DefaultMaxConns,
		Bus:      DefaultBusKind,
	}
}

var (
	current *Config
	mu      sync.RWMutex
)

// DataDir returns the snapcase data directory.
func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".snapcase")
}

// DBPath returns the durable store path.
func DBPath() string {
	return filepath.Join(DataDir(), "snapcase.db")
}

// SettingsPath returns the settings file path.
func SettingsPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

// EnsureDataDir creates the data directory if missing.
func EnsureDataDir() error {
	return os.MkdirAll(DataDir(), 0o755)
}

// EnsureAll creates the data directory and a default settings file when none
// exists yet.
func EnsureAll() error {
	if err := EnsureDataDir(); err != nil {
		return err
	}
	if _, err := os.Stat(SettingsPath()); os.IsNotExist(err) {
		return Default().Save()
	}
	return nil
}

// Load reads settings from disk, filling gaps with defaults, and caches the
// result for Get.
func Load() (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			setCurrent(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = DefaultMaxConns
	}
	if cfg.Bus == "" {
		cfg.Bus = DefaultBusKind
	}
	setCurrent(cfg)
	return cfg, nil
}

// Save writes the configuration to the settings file.
func (c *Config) Save() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(SettingsPath(), data, 0o644)
}

// Get returns the last loaded configuration, or defaults when Load has not
// run yet.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if current == nil {
		return Default()
	}
	return current
}

func setCurrent(cfg *Config) {
	mu.Lock()
	current = cfg
	mu.Unlock()
}

// Package config loads agent configuration from defaults, an optional YAML
// file and TEAMSYNC_ environment variables.
package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. A double underscore
// separates levels: TEAMSYNC_API__BASE_URL sets api.base_url.
const EnvPrefix = "TEAMSYNC_"

// Config is the full agent configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Store     StoreConfig     `koanf:"store"`
	API       APIConfig       `koanf:"api"`
	Bridge    BridgeConfig    `koanf:"bridge"`
	Scheduler SchedulerConfig `koanf:"scheduler"`
	Log       LogConfig       `koanf:"log"`
}

// ServerConfig is the listen address of the agent's HTTP/WebSocket surface.
type ServerConfig struct {
	Host string `koanf:"host" validate:"required"`
	Port int    `koanf:"port" validate:"min=1,max=65535"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// StoreConfig locates the durable queue.
type StoreConfig struct {
	DataDir string `koanf:"data_dir" validate:"required"`
}

// APIConfig describes the remote API that queued mutations are replayed against.
type APIConfig struct {
	BaseURL        string        `koanf:"base_url" validate:"required,url"`
	RequestTimeout time.Duration `koanf:"request_timeout" validate:"min=1000000"`
	RateLimit      float64       `koanf:"rate_limit" validate:"min=0"`
}

// BridgeConfig tunes the foreground window bridge.
type BridgeConfig struct {
	AuthTokenTimeout time.Duration `koanf:"auth_token_timeout" validate:"min=1000000"`
}

// SchedulerConfig tunes the sync trigger scheduler.
type SchedulerConfig struct {
	SyncTag       string        `koanf:"sync_tag" validate:"required"`
	ProbeInterval time.Duration `koanf:"probe_interval" validate:"min=1000000"`
}

// LogConfig sets the log level.
type LogConfig struct {
	Level string `koanf:"level" validate:"omitempty,oneof=debug info warn warning error DEBUG INFO WARN WARNING ERROR"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8090,
		},
		Store: StoreConfig{
			DataDir: "./data",
		},
		API: APIConfig{
			BaseURL:        "http://127.0.0.1:8080",
			RequestTimeout: 30 * time.Second,
			RateLimit:      10,
		},
		Bridge: BridgeConfig{
			AuthTokenTimeout: 5 * time.Second,
		},
		Scheduler: SchedulerConfig{
			SyncTag:       "sync-queue",
			ProbeInterval: 30 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration. path may be empty, in which case only
// defaults and environment variables apply.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := Default()
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.API.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.API.BaseURL), "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// envKey maps TEAMSYNC_API__BASE_URL to api.base_url.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	return strings.ReplaceAll(strings.ToLower(s), "__", ".")
}

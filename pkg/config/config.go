// Package config loads browserd configuration from a YAML file and
// BROWSERD_* environment variables on top of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/browserd/pkg/browser"
	"github.com/entrhq/browserd/pkg/cache"
	"github.com/entrhq/browserd/pkg/driver"
	"github.com/entrhq/browserd/pkg/pool"
	"github.com/entrhq/browserd/pkg/session"
	"github.com/entrhq/browserd/pkg/targeting"
)

// EnvPrefix prefixes every environment override, e.g. BROWSERD_POOL_MAX_PROCESSES.
const EnvPrefix = "BROWSERD"

// Config is the complete service configuration.
type Config struct {
	Browser BrowserConfig `yaml:"browser" json:"browser" envconfig:"BROWSER"`
	Pool    PoolConfig    `yaml:"pool" json:"pool" envconfig:"POOL"`
	Session SessionConfig `yaml:"session" json:"session" envconfig:"SESSION"`
	Cache   cache.Config  `yaml:"cache" json:"cache" envconfig:"CACHE"`
	Server  ServerConfig  `yaml:"server" json:"server" envconfig:"SERVER"`
	Logging LoggingConfig `yaml:"logging" json:"logging" envconfig:"LOG"`
}

// BrowserConfig holds defaults applied to new sessions.
type BrowserConfig struct {
	Type          string          `yaml:"type" json:"type" envconfig:"TYPE"`
	Headless      bool            `yaml:"headless" json:"headless" envconfig:"HEADLESS"`
	Viewport      driver.Viewport `yaml:"viewport" json:"viewport" envconfig:"VIEWPORT"`
	ActionTimeout time.Duration   `yaml:"action_timeout" json:"action_timeout" envconfig:"ACTION_TIMEOUT"`
	CDPEndpoint   string          `yaml:"cdp_endpoint" json:"cdp_endpoint" envconfig:"CDP_ENDPOINT"`
	ChromePath    string          `yaml:"chrome_path" json:"chrome_path" envconfig:"CHROME_PATH"`
	// InteractiveRoles extends the clickable selector; glob patterns are allowed.
	InteractiveRoles []string `yaml:"interactive_roles" json:"interactive_roles" envconfig:"INTERACTIVE_ROLES"`
}

// PoolConfig bounds browser processes.
type PoolConfig struct {
	MaxProcesses          int `yaml:"max_processes" json:"max_processes" envconfig:"MAX_PROCESSES"`
	MaxContextsPerProcess int `yaml:"max_contexts_per_process" json:"max_contexts_per_process" envconfig:"MAX_CONTEXTS_PER_PROCESS"`
}

// SessionConfig controls idle reaping.
type SessionConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout" json:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval" envconfig:"SWEEP_INTERVAL"`
	CloseTimeout  time.Duration `yaml:"close_timeout" json:"close_timeout" envconfig:"CLOSE_TIMEOUT"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	Addr            string          `yaml:"addr" json:"addr" envconfig:"ADDR"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" json:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" json:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig is a per-client token bucket.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled" json:"enabled" envconfig:"ENABLED"`
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requests_per_second" envconfig:"RPS"`
	Burst             int     `yaml:"burst" json:"burst" envconfig:"BURST"`
}

// LoggingConfig selects level, encoding and destination.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" json:"level" envconfig:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" json:"format" envconfig:"FORMAT"`
	// Output is file, stderr or stdout.
	Output string `yaml:"output" json:"output" envconfig:"OUTPUT"`
	// Dir holds per-run log files when Output is file. Defaults to ~/.browserd/logs.
	Dir string `yaml:"dir" json:"dir" envconfig:"DIR"`
}

// Default returns a configuration suitable for a single local service.
func Default() *Config {
	return &Config{
		Browser: BrowserConfig{
			Type:     driver.Chromium,
			Headless: true,
			Viewport: driver.Viewport{
				Width:  pool.DefaultViewportWidth,
				Height: pool.DefaultViewportHeight,
			},
			ActionTimeout:    pool.DefaultActionTimeout,
			CDPEndpoint:      browser.DefaultCDPEndpoint,
			InteractiveRoles: append([]string(nil), targeting.DefaultInteractiveRoles...),
		},
		Pool: PoolConfig{
			MaxProcesses:          pool.DefaultMaxProcesses,
			MaxContextsPerProcess: pool.DefaultMaxContextsPerProcess,
		},
		Session: SessionConfig{
			IdleTimeout:  session.DefaultIdleTimeout,
			CloseTimeout: 30 * time.Second,
		},
		Cache: cache.DefaultConfig(),
		Server: ServerConfig{
			Addr:            "127.0.0.1:8931",
			ShutdownTimeout: 15 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerSecond: 20,
				Burst:             40,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "file",
		},
	}
}

// DefaultPath returns ~/.browserd/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(home, ".browserd", "config.yaml"), nil
}

// LoadFile reads a YAML file over the defaults. Keys absent from the file keep
// their default values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Load builds the effective configuration: defaults, then the file at path
// (when path is empty the default path is used if it exists), then
// environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		if p, err := DefaultPath(); err == nil {
			path = p
		}
	}

	cfg := Default()
	if path != "" {
		loaded, err := LoadFile(path)
		switch {
		case err == nil:
			cfg = loaded
		case !explicit && errors.Is(err, os.ErrNotExist):
		default:
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from BROWSERD_* environment variables. Unset
// variables leave the current value in place.
func (c *Config) ApplyEnv() error {
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	switch c.Browser.Type {
	case driver.Chromium, driver.Firefox, driver.WebKit:
	default:
		return fmt.Errorf("invalid browser type: %s (must be 'chromium', 'firefox', or 'webkit')", c.Browser.Type)
	}
	if c.Browser.Viewport.Width <= 0 || c.Browser.Viewport.Height <= 0 {
		return fmt.Errorf("viewport must be positive, got %dx%d", c.Browser.Viewport.Width, c.Browser.Viewport.Height)
	}
	if c.Browser.ActionTimeout <= 0 {
		return fmt.Errorf("action_timeout must be positive")
	}

	if c.Pool.MaxProcesses < 1 {
		return fmt.Errorf("max_processes must be at least 1")
	}
	if c.Pool.MaxContextsPerProcess < 1 {
		return fmt.Errorf("max_contexts_per_process must be at least 1")
	}

	if c.Session.IdleTimeout <= 0 {
		return fmt.Errorf("idle_timeout must be positive")
	}
	if c.Session.SweepInterval < 0 || c.Session.CloseTimeout < 0 {
		return fmt.Errorf("sweep_interval and close_timeout cannot be negative")
	}

	if err := c.Cache.Validate(); err != nil {
		return err
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server address is required")
	}
	if c.Server.RateLimit.Enabled && (c.Server.RateLimit.RequestsPerSecond <= 0 || c.Server.RateLimit.Burst < 1) {
		return fmt.Errorf("rate limit requires positive requests_per_second and burst")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format: %s (must be 'json' or 'console')", c.Logging.Format)
	}
	switch c.Logging.Output {
	case "file", "stderr", "stdout":
	default:
		return fmt.Errorf("invalid log output: %s (must be 'file', 'stderr', or 'stdout')", c.Logging.Output)
	}
	return nil
}

// ServiceConfig converts the file layout into the browser service configuration.
func (c *Config) ServiceConfig() browser.Config {
	return browser.Config{
		Pool: pool.Config{
			MaxProcesses:          c.Pool.MaxProcesses,
			MaxContextsPerProcess: c.Pool.MaxContextsPerProcess,
			Headless:              c.Browser.Headless,
			DefaultFlavor:         c.Browser.Type,
			Viewport:              c.Browser.Viewport,
			ActionTimeout:         c.Browser.ActionTimeout,
		},
		Reaper: session.ReaperConfig{
			IdleTimeout:  c.Session.IdleTimeout,
			Interval:     c.Session.SweepInterval,
			CloseTimeout: c.Session.CloseTimeout,
		},
		Cache:            c.Cache,
		InteractiveRoles: c.Browser.InteractiveRoles,
		CDPEndpoint:      c.Browser.CDPEndpoint,
		ChromePath:       c.Browser.ChromePath,
	}
}

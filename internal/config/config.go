package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds the complete saori host configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Module    ModuleConfig    `yaml:"module" toml:"module"`
	Pool      PoolConfig      `yaml:"pool" toml:"pool"`
	WebSocket WebSocketConfig `yaml:"websocket" toml:"websocket"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
	Watch     WatchConfig     `yaml:"watch" toml:"watch"`
}

type ServerConfig struct {
	Address      string    `yaml:"address" toml:"address"`
	Path         string    `yaml:"path" toml:"path"`
	MaxBodyBytes int64     `yaml:"max_body_bytes" toml:"max_body_bytes"`
	HTTP2        bool      `yaml:"http2" toml:"http2"`
	HTTP3        bool      `yaml:"http3" toml:"http3"`
	TLS          TLSConfig `yaml:"tls" toml:"tls"`
	HTTPRedirect bool      `yaml:"http_redirect" toml:"http_redirect"`
}

type TLSConfig struct {
	Auto bool       `yaml:"auto" toml:"auto"`
	Cert string     `yaml:"cert" toml:"cert"`
	Key  string     `yaml:"key" toml:"key"`
	ACME ACMEConfig `yaml:"acme" toml:"acme"`
}

type ACMEConfig struct {
	Email    string   `yaml:"email" toml:"email"`
	Domains  []string `yaml:"domains" toml:"domains"`
	CacheDir string   `yaml:"cache_dir" toml:"cache_dir"`
	Staging  bool     `yaml:"staging" toml:"staging"`
}

// ModuleMode selects how pool workers run the SAORI module.
type ModuleMode string

const (
	ModeEmbedded ModuleMode = "embedded" // in-process, over pipes
	ModeProcess  ModuleMode = "process"  // child process, over stdin/stdout
)

type ModuleConfig struct {
	Name      string            `yaml:"name" toml:"name"`
	Mode      ModuleMode        `yaml:"mode" toml:"mode"`
	Command   []string          `yaml:"command" toml:"command"`     // process mode: argv of the worker
	Env       map[string]string `yaml:"env" toml:"env"`             // extra environment for process workers
	Functions []string          `yaml:"functions" toml:"functions"` // empty means every built-in
}

type PoolConfig struct {
	MinWorkers      int      `yaml:"min_workers" toml:"min_workers"`
	MaxWorkers      int      `yaml:"max_workers" toml:"max_workers"`
	MaxJobs         int      `yaml:"max_jobs" toml:"max_jobs"`
	AllocateTimeout Duration `yaml:"allocate_timeout" toml:"allocate_timeout"`
	RequestTimeout  Duration `yaml:"request_timeout" toml:"request_timeout"`
}

type WebSocketConfig struct {
	Enabled        bool     `yaml:"enabled" toml:"enabled"`
	Path           string   `yaml:"path" toml:"path"`
	MaxConnections int      `yaml:"max_connections" toml:"max_connections"`
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

type LogConfig struct {
	Level      string `yaml:"level" toml:"level"`
	Format     string `yaml:"format" toml:"format"`
	Output     string `yaml:"output" toml:"output"` // stdout, stderr or a file path
	MaxSizeMB  int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" toml:"max_age_days"`
	Compress   bool   `yaml:"compress" toml:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

type WatchConfig struct {
	Enabled  bool     `yaml:"enabled" toml:"enabled"`
	Paths    []string `yaml:"paths" toml:"paths"`
	Debounce Duration `yaml:"debounce" toml:"debounce"`
}

// Duration is a time.Duration that unmarshals from strings like "30s"
// in both YAML and TOML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads config from a YAML or TOML file, applying defaults for
// missing values. Files ending in .toml are parsed as TOML.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if c.Pool.MinWorkers < 1 {
		return fmt.Errorf("pool.min_workers must be >= 1, got %d", c.Pool.MinWorkers)
	}
	if c.Pool.MaxWorkers < c.Pool.MinWorkers {
		return fmt.Errorf("pool.max_workers (%d) must be >= pool.min_workers (%d)", c.Pool.MaxWorkers, c.Pool.MinWorkers)
	}
	if c.Pool.MaxJobs < 0 {
		return fmt.Errorf("pool.max_jobs must be >= 0, got %d", c.Pool.MaxJobs)
	}

	switch c.Module.Mode {
	case ModeEmbedded:
	case ModeProcess:
		if len(c.Module.Command) == 0 {
			return fmt.Errorf("module.command is required in process mode")
		}
	default:
		return fmt.Errorf("module.mode must be 'embedded' or 'process', got %q", c.Module.Mode)
	}

	if c.Server.Address == "" {
		return fmt.Errorf("server.address is required")
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with '/', got %q", c.Server.Path)
	}
	if c.Server.MaxBodyBytes < 0 {
		return fmt.Errorf("server.max_body_bytes must be >= 0, got %d", c.Server.MaxBodyBytes)
	}
	if c.WebSocket.Enabled && !strings.HasPrefix(c.WebSocket.Path, "/") {
		return fmt.Errorf("websocket.path must start with '/', got %q", c.WebSocket.Path)
	}
	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with '/', got %q", c.Metrics.Path)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "text" {
		return fmt.Errorf("logging.format must be 'json' or 'text', got %q", c.Logging.Format)
	}
	return nil
}

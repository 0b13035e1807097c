// Package config loads the jobletd daemon configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/loykin/jobletd/internal/env"
	"github.com/loykin/jobletd/internal/joblet"
	"github.com/loykin/jobletd/internal/logger"
	"github.com/loykin/jobletd/internal/metrics"
	tlsconf "github.com/loykin/jobletd/internal/tls"
	"github.com/spf13/viper"
)

const (
	DefaultMaxConcurrent = 4
	DefaultPollInterval  = 5 * time.Second
	DefaultListen        = "127.0.0.1:8080"
	DefaultBasePath      = "/api"
)

const (
	LockNone = "none"
	LockFile = "file"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config represents the top-level TOML structure.
type Config struct {
	BaseDir       string        `toml:"base_dir" mapstructure:"base_dir"`
	MaxConcurrent int           `toml:"max_concurrent_processes" mapstructure:"max_concurrent_processes"`
	PollInterval  time.Duration `toml:"poll_interval" mapstructure:"poll_interval"`
	Factory       string        `toml:"factory" mapstructure:"factory"`
	WorkDir       string        `toml:"work_dir" mapstructure:"work_dir"`
	Env           []string      `toml:"env" mapstructure:"env"`
	EnvFiles      []string      `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv      bool          `toml:"use_os_env" mapstructure:"use_os_env"`
	Log           logger.Config `toml:"log" mapstructure:"log"`
	Server        ServerConfig  `toml:"server" mapstructure:"server"`
	Metrics       MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	Lock          LockConfig    `toml:"lock" mapstructure:"lock"`
	History       []string      `toml:"history" mapstructure:"history"`

	// path is the file the configuration was read from.
	path string
}

type ServerConfig struct {
	Enabled  bool           `toml:"enabled" mapstructure:"enabled"`
	Listen   string         `toml:"listen" mapstructure:"listen"`
	BasePath string         `toml:"base_path" mapstructure:"base_path"`
	TLS      tlsconf.Config `toml:"tls" mapstructure:"tls"`
}

type MetricsConfig struct {
	// Listen serves /metrics on its own address. Empty disables the endpoint.
	Listen    string                 `toml:"listen" mapstructure:"listen"`
	Resources metrics.ResourceConfig `toml:"resources" mapstructure:"resources"`
}

type LockConfig struct {
	Type string `toml:"type" mapstructure:"type"` // none or file
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("max_concurrent_processes", DefaultMaxConcurrent)
	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("factory", joblet.CommandFactory)
	v.SetDefault("use_os_env", true)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.base_path", DefaultBasePath)
	v.SetDefault("lock.type", LockFile)
	v.SetDefault("metrics.resources.interval", 5*time.Second)
	v.SetDefault("metrics.resources.max_history", 100)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var c Config
	// defaults alone always decode
	_ = v.Unmarshal(&c)
	return &c
}

// Load reads and validates a TOML configuration file. Relative directories
// are resolved against the file's directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	c.path = path
	root := filepath.Dir(path)
	c.BaseDir = resolve(root, c.BaseDir)
	c.WorkDir = resolve(root, c.WorkDir)
	c.Log.File.Dir = resolve(root, c.Log.File.Dir)
	c.Log.File.Path = resolve(root, c.Log.File.Path)
	c.Server.TLS.Dir = resolve(root, c.Server.TLS.Dir)
	c.Server.TLS.CertFile = resolve(root, c.Server.TLS.CertFile)
	c.Server.TLS.KeyFile = resolve(root, c.Server.TLS.KeyFile)
	for i, f := range c.EnvFiles {
		c.EnvFiles[i] = resolve(root, f)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func resolve(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(root, p)
}

// Path returns the file the configuration was loaded from, if any.
func (c *Config) Path() string { return c.path }

// Validate checks required values and ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.BaseDir == "" {
		errs = append(errs, errors.New("base_dir is required"))
	}
	if c.MaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent_processes must be at least 1, got %d", c.MaxConcurrent))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval))
	}
	if c.Factory == "" {
		errs = append(errs, errors.New("factory is required"))
	}
	switch c.Lock.Type {
	case LockNone, LockFile:
	default:
		errs = append(errs, fmt.Errorf("lock.type must be %q or %q, got %q", LockNone, LockFile, c.Lock.Type))
	}
	if c.Server.Enabled && c.Server.Listen == "" {
		errs = append(errs, errors.New("server.listen is required when the server is enabled"))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path must start with '/', got %q", c.Server.BasePath))
	}
	if c.Server.Enabled {
		if err := c.Server.TLS.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Metrics.Resources.Enabled && c.Metrics.Resources.Interval <= 0 {
		errs = append(errs, errors.New("metrics.resources.interval must be positive"))
	}
	for _, kv := range c.Env {
		if strings.IndexByte(kv, '=') <= 0 {
			errs = append(errs, fmt.Errorf("env entry %q is not KEY=VALUE", kv))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// GlobalEnv merges the daemon-wide variables handed to every joblet.
// Precedence: env_files in order, then the top-level env list.
// The OS environment is not included; see Environment.
func (c *Config) GlobalEnv() (map[string]string, error) {
	m := make(map[string]string)
	for _, p := range c.EnvFiles {
		pairs, err := loadEnvFile(p)
		if err != nil {
			return nil, err
		}
		for k, v := range pairs {
			m[k] = v
		}
	}
	for k, v := range env.Parse(c.Env) {
		m[k] = v
	}
	return m, nil
}

// Environment builds the base environment of joblet processes: the OS
// environment when use_os_env is set, an empty one otherwise, with GlobalEnv
// layered on top.
func (c *Config) Environment() (*env.Env, error) {
	vars, err := c.GlobalEnv()
	if err != nil {
		return nil, err
	}
	e := env.New()
	if c.UseOSEnv {
		e.FromOS()
	} else {
		e.Empty()
	}
	return e.WithMap(vars), nil
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries sorted by key.
func LoadEnvFile(path string) ([]string, error) {
	m, err := loadEnvFile(path)
	if err != nil {
		return nil, err
	}
	return env.Pairs(m), nil
}

// loadEnvFile parses KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) (map[string]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, fmt.Errorf("read env file: %w", err)
	}
	m := make(map[string]string)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			m[strings.TrimSpace(line[:i])] = strings.TrimSpace(line[i+1:])
		}
	}
	return m, nil
}

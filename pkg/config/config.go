// Package config resolves torc's layered configuration. Built-in
// defaults are overridden by /etc/torc/config.toml, then the XDG
// config dir, then ./torc.toml, then TORC_* environment variables,
// then CLI flags, with later layers winning.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides. Nested keys use
// `__` as the path separator, e.g. TORC_SERVER__LISTEN for
// server.listen.
const EnvPrefix = "TORC"

// Config is the fully resolved torc configuration.
type Config struct {
	Server     Server     `mapstructure:"server"`
	Database   Database   `mapstructure:"database"`
	Claim      Claim      `mapstructure:"claim"`
	Reconciler Reconciler `mapstructure:"reconciler"`
	Metrics    Metrics    `mapstructure:"metrics"`
	Client     Client     `mapstructure:"client"`
}

// Server configures the API server.
type Server struct {
	Listen   string `mapstructure:"listen"`
	AuthFile string `mapstructure:"auth_file"`
	LogJSON  bool   `mapstructure:"log_json"`
	LogLevel string `mapstructure:"log_level"`
}

// Database configures the embedded store.
type Database struct {
	Path string `mapstructure:"path"`
}

// Claim configures the claim coordinator.
type Claim struct {
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
}

// Reconciler configures the background sweep loop.
type Reconciler struct {
	Interval    time.Duration `mapstructure:"interval"`
	NodeTimeout time.Duration `mapstructure:"node_timeout"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled bool `mapstructure:"enabled"`
}

// Client configures the CLI side of torc: where the server lives and
// what credentials to present.
type Client struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// Loader resolves configuration with layered precedence: defaults, then
// each file in Paths (lowest first, missing files skipped), then
// TORC_* environment variables, then bound CLI flags.
type Loader struct {
	// Paths are the layered config files, lowest precedence first.
	Paths []string

	// File, when non-empty (--config on the CLI), replaces Paths.
	File string

	flagBindings map[string]*pflag.Flag
}

// DefaultPaths returns the standard config file locations: system,
// user (XDG), then project directory.
func DefaultPaths() []string {
	return []string{
		"/etc/torc/config.toml",
		filepath.Join(userConfigDir(), "torc", "config.toml"),
		"torc.toml",
	}
}

func userConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config")
}

// BindFlag maps a CLI flag onto a config key at highest precedence.
// The flag only overrides when it was actually set.
func (l *Loader) BindFlag(key string, flag *pflag.Flag) {
	if l.flagBindings == nil {
		l.flagBindings = make(map[string]*pflag.Flag)
	}
	l.flagBindings[key] = flag
}

// Load resolves the layered configuration.
func (l *Loader) Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	paths := l.Paths
	if l.File != "" {
		paths = []string{l.File}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			// An explicitly requested file must exist; search-path
			// entries are optional.
			if l.File != "" {
				return nil, fmt.Errorf("config file %s: %w", path, err)
			}
			continue
		}
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("config file %s: %w", path, err)
		}
	}

	for key, flag := range l.flagBindings {
		if err := v.BindPFlag(key, flag); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", key, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load resolves configuration from the default locations with no CLI
// flags bound.
func Load() (*Config, error) {
	l := &Loader{Paths: DefaultPaths()}
	return l.Load()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", "127.0.0.1:8080")
	v.SetDefault("server.auth_file", "")
	v.SetDefault("server.log_json", false)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("database.path", "torc.db")
	v.SetDefault("claim.wait_timeout", "10s")
	v.SetDefault("reconciler.interval", "60s")
	v.SetDefault("reconciler.node_timeout", "180s")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("client.url", "http://127.0.0.1:8080")
	v.SetDefault("client.username", "")
	v.SetDefault("client.password", "")
}

// Validate rejects configurations the server cannot run with.
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen must not be empty")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Claim.WaitTimeout <= 0 {
		return fmt.Errorf("claim.wait_timeout must be positive, got %s", c.Claim.WaitTimeout)
	}
	if c.Reconciler.Interval <= 0 {
		return fmt.Errorf("reconciler.interval must be positive, got %s", c.Reconciler.Interval)
	}
	if c.Reconciler.NodeTimeout <= 0 {
		return fmt.Errorf("reconciler.node_timeout must be positive, got %s", c.Reconciler.NodeTimeout)
	}
	return nil
}

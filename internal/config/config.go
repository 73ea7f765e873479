// Package config loads cxdir settings from file and environment.
//
// Precedence, highest first: environment (CXDIR_ prefix, dots become
// underscores, e.g. CXDIR_CONCREXIT_SECRET), config file, defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CXDIR"

// ConfigName is the base name searched for in the config paths.
const ConfigName = "cxdir"

const redacted = "********"

// Config is the full process configuration.
type Config struct {
	Concrexit ConcrexitConfig `mapstructure:"concrexit" toml:"concrexit" yaml:"concrexit"`
	Cache     CacheConfig     `mapstructure:"cache" toml:"cache" yaml:"cache"`
	Schedule  ScheduleConfig  `mapstructure:"schedule" toml:"schedule" yaml:"schedule"`
	Dashboard DashboardConfig `mapstructure:"dashboard" toml:"dashboard" yaml:"dashboard"`
	Keycloak  KeycloakConfig  `mapstructure:"keycloak" toml:"keycloak" yaml:"keycloak"`
	Log       LogConfig       `mapstructure:"log" toml:"log" yaml:"log"`
}

// ConcrexitConfig points at the remote member directory.
type ConcrexitConfig struct {
	Host    string        `mapstructure:"host" toml:"host" yaml:"host"`
	Secret  string        `mapstructure:"secret" toml:"secret" yaml:"secret"`
	Quota   string        `mapstructure:"quota" toml:"quota" yaml:"quota"`
	Timeout time.Duration `mapstructure:"timeout" toml:"timeout" yaml:"timeout"`
}

// CacheConfig locates the SQLite cache.
type CacheConfig struct {
	Path      string `mapstructure:"path" toml:"path" yaml:"path"`
	ReadConns int    `mapstructure:"read_conns" toml:"read_conns" yaml:"read_conns"`
}

// ScheduleConfig holds cron specs for the two passes.
type ScheduleConfig struct {
	Groups     string `mapstructure:"groups" toml:"groups" yaml:"groups"`
	Users      string `mapstructure:"users" toml:"users" yaml:"users"`
	RunOnStart bool   `mapstructure:"run_on_start" toml:"run_on_start" yaml:"run_on_start"`
}

// DashboardConfig controls the status server.
type DashboardConfig struct {
	Enabled bool `mapstructure:"enabled" toml:"enabled" yaml:"enabled"`
	Port    int  `mapstructure:"port" toml:"port" yaml:"port"`
}

// KeycloakConfig points at the identity host's user registry.
// An empty URL disables the host push.
type KeycloakConfig struct {
	URL            string `mapstructure:"url" toml:"url" yaml:"url"`
	Realm          string `mapstructure:"realm" toml:"realm" yaml:"realm"`
	ClientID       string `mapstructure:"client_id" toml:"client_id" yaml:"client_id"`
	ClientSecret   string `mapstructure:"client_secret" toml:"client_secret" yaml:"client_secret"`
	QuotaAttribute string `mapstructure:"quota_attribute" toml:"quota_attribute" yaml:"quota_attribute"`
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level      string `mapstructure:"level" toml:"level" yaml:"level"`
	Format     string `mapstructure:"format" toml:"format" yaml:"format"`
	File       string `mapstructure:"file" toml:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" toml:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" toml:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" toml:"max_age_days" yaml:"max_age_days"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Concrexit: ConcrexitConfig{
			Host:    "https://thalia.nu",
			Quota:   "100MB",
			Timeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			Path:      filepath.Join(".cxdir", "cache.db"),
			ReadConns: 4,
		},
		Schedule: ScheduleConfig{
			Groups:     "@every 15m",
			Users:      "@every 1h",
			RunOnStart: true,
		},
		Dashboard: DashboardConfig{
			Enabled: true,
			Port:    8080,
		},
		Keycloak: KeycloakConfig{
			QuotaAttribute: "quota",
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "console",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
	}
}

// setDefaults registers every key so environment overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("concrexit.host", d.Concrexit.Host)
	v.SetDefault("concrexit.secret", d.Concrexit.Secret)
	v.SetDefault("concrexit.quota", d.Concrexit.Quota)
	v.SetDefault("concrexit.timeout", d.Concrexit.Timeout)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("cache.read_conns", d.Cache.ReadConns)
	v.SetDefault("schedule.groups", d.Schedule.Groups)
	v.SetDefault("schedule.users", d.Schedule.Users)
	v.SetDefault("schedule.run_on_start", d.Schedule.RunOnStart)
	v.SetDefault("dashboard.enabled", d.Dashboard.Enabled)
	v.SetDefault("dashboard.port", d.Dashboard.Port)
	v.SetDefault("keycloak.url", d.Keycloak.URL)
	v.SetDefault("keycloak.realm", d.Keycloak.Realm)
	v.SetDefault("keycloak.client_id", d.Keycloak.ClientID)
	v.SetDefault("keycloak.client_secret", d.Keycloak.ClientSecret)
	v.SetDefault("keycloak.quota_attribute", d.Keycloak.QuotaAttribute)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
}

// Loaded is a configuration together with the file it came from.
type Loaded struct {
	*Config

	// File is the config file that was read, or "" when none was found.
	File string
}

// Load reads configuration. An explicit path must exist; without one the
// standard locations are searched and a missing file is not an error.
func Load(path string) (*Loaded, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(ConfigName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", ConfigName))
		}
		v.AddConfigPath(filepath.Join("/etc", ConfigName))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Loaded{Config: cfg, File: v.ConfigFileUsed()}, nil
}

// Validate checks the settings that would otherwise fail late.
func (c *Config) Validate() error {
	var errs []error

	if c.Concrexit.Host == "" {
		errs = append(errs, errors.New("concrexit.host is required"))
	} else if u, err := url.Parse(c.Concrexit.Host); err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs = append(errs, fmt.Errorf("concrexit.host %q is not an http(s) URL", c.Concrexit.Host))
	}

	if c.Concrexit.Timeout <= 0 {
		errs = append(errs, errors.New("concrexit.timeout must be positive"))
	}

	if c.Cache.Path == "" {
		errs = append(errs, errors.New("cache.path is required"))
	}

	for key, spec := range map[string]string{"schedule.groups": c.Schedule.Groups, "schedule.users": c.Schedule.Users} {
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s %q: %w", key, spec, err))
		}
	}

	if c.Dashboard.Port < 1 || c.Dashboard.Port > 65535 {
		errs = append(errs, fmt.Errorf("dashboard.port %d out of range", c.Dashboard.Port))
	}

	if c.Keycloak.URL != "" && c.Keycloak.Realm == "" {
		errs = append(errs, errors.New("keycloak.realm is required when keycloak.url is set"))
	}

	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.Log.Format != "console" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be console or json", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	if out.Concrexit.Secret != "" {
		out.Concrexit.Secret = redacted
	}
	if out.Keycloak.ClientSecret != "" {
		out.Keycloak.ClientSecret = redacted
	}
	return &out
}

// WriteDefault writes the default configuration as TOML to path.
// An existing file is only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(Default()); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

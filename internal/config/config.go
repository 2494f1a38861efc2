// Package config loads engine, remote, scheduler and logging settings from
// defaults, an optional config file and NOOR_* environment variables.
package config

import (
	stderrors "errors"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/kimhsiao/noorsync/backend/internal/errors"
	"github.com/kimhsiao/noorsync/backend/internal/logging"
	"github.com/kimhsiao/noorsync/backend/internal/sync/content"
)

// EnvPrefix prefixes every environment override, e.g. NOOR_REMOTE_BASE_URL.
const EnvPrefix = "NOOR"

// Config is the resolved configuration.
type Config struct {
	DataDir   string          `mapstructure:"data_dir"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Log       LogConfig       `mapstructure:"log"`
	Desktop   DesktopConfig   `mapstructure:"desktop"`
}

// RemoteConfig configures the sync server client.
type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SyncConfig configures the engine.
type SyncConfig struct {
	ContentTypes   []string      `mapstructure:"content_types"`
	MaxAge         time.Duration `mapstructure:"max_age"`
	StaleLockAfter time.Duration `mapstructure:"stale_lock_after"`
	Concurrency    int           `mapstructure:"concurrency"`
}

// SchedulerConfig configures background syncing.
type SchedulerConfig struct {
	SyncInterval  time.Duration `mapstructure:"sync_interval"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// DesktopConfig configures the desktop HTTP server.
type DesktopConfig struct {
	Addr string `mapstructure:"addr"`
}

// LoggingOptions converts the log section for logging.Configure.
func (c LogConfig) LoggingOptions() (logging.Options, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return logging.Options{}, errors.Wrap(errors.ErrConfigInvalid, "invalid log.level", err)
	}
	return logging.Options{
		Level:      string(level),
		File:       c.File,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}, nil
}

// Loader reads configuration through viper.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a Loader with defaults and environment overrides set.
// configFile may be empty, in which case ./noorsync.{yaml,json,toml} and
// $HOME/.noorsync/ are searched and a missing file is not an error.
func NewLoader(configFile string) *Loader {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("noorsync")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.noorsync")
	}

	return &Loader{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")

	v.SetDefault("remote.base_url", "")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", 30*time.Second)

	v.SetDefault("sync.content_types", content.DefaultContentTypes())
	v.SetDefault("sync.max_age", 24*time.Hour)
	v.SetDefault("sync.stale_lock_after", 10*time.Minute)
	v.SetDefault("sync.concurrency", 4)

	v.SetDefault("scheduler.sync_interval", 15*time.Minute)
	v.SetDefault("scheduler.check_interval", time.Minute)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", false)

	v.SetDefault("desktop.addr", "localhost:8090")
}

// Load reads the config file, if any, and returns the validated result.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			return nil, errors.Wrap(errors.ErrConfigInvalid, "failed to read config file", err)
		}
	}
	return l.decode()
}

// ConfigFile returns the file in use, or "" when running on defaults.
func (l *Loader) ConfigFile() string {
	return l.v.ConfigFileUsed()
}

// Watch calls onChange with the new configuration whenever the config file
// changes on disk. Invalid edits are logged and ignored.
func (l *Loader) Watch(onChange func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		cfg, err := l.decode()
		if err != nil {
			logging.Warn("Ignoring invalid config change", map[string]interface{}{
				"file":  e.Name,
				"error": err.Error(),
			})
			return
		}
		logging.Info("Configuration reloaded", map[string]interface{}{"file": e.Name})
		onChange(cfg)
	})
	l.v.WatchConfig()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.ErrConfigInvalid, "failed to decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New(errors.ErrConfigInvalid, "data_dir is required")
	}
	if c.Remote.BaseURL != "" && !strings.HasPrefix(c.Remote.BaseURL, "http://") && !strings.HasPrefix(c.Remote.BaseURL, "https://") {
		return errors.Newf(errors.ErrConfigInvalid, "remote.base_url must be an http(s) URL, got %q", c.Remote.BaseURL)
	}
	if c.Remote.Timeout <= 0 {
		return errors.New(errors.ErrConfigInvalid, "remote.timeout must be positive")
	}
	if len(c.Sync.ContentTypes) == 0 {
		return errors.New(errors.ErrConfigInvalid, "sync.content_types must not be empty")
	}
	for _, ct := range c.Sync.ContentTypes {
		if strings.TrimSpace(ct) == "" {
			return errors.New(errors.ErrConfigInvalid, "sync.content_types contains an empty name")
		}
	}
	if c.Sync.MaxAge <= 0 {
		return errors.New(errors.ErrConfigInvalid, "sync.max_age must be positive")
	}
	if c.Sync.StaleLockAfter <= 0 {
		return errors.New(errors.ErrConfigInvalid, "sync.stale_lock_after must be positive")
	}
	if c.Sync.Concurrency < 1 {
		return errors.New(errors.ErrConfigInvalid, "sync.concurrency must be at least 1")
	}
	if c.Scheduler.SyncInterval <= 0 || c.Scheduler.CheckInterval <= 0 {
		return errors.New(errors.ErrConfigInvalid, "scheduler intervals must be positive")
	}
	if _, err := c.Log.LoggingOptions(); err != nil {
		return err
	}
	return nil
}

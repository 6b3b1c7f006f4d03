// Package config loads outboxd settings from a config file, a .env file and
// OUTBOX_* environment variables, in increasing order of precedence.
//
// Keys:
//
//	db.driver          sqlite or postgres (default sqlite)
//	db.dsn             file path or postgres DSN (default outbox.db)
//	backend.url        PostgREST base URL; empty runs capture-only
//	backend.api_key    sent as apikey and bearer token
//	backend.timeout    HTTP client timeout (default 30s)
//	probe.interval     connectivity probe period (default 15s)
//	probe.timeout      single probe deadline (default 5s)
//	sync.cron          optional periodic drain, e.g. "@every 5m"
//	sync.max_attempts  dead-letter threshold, 0 disables (default 0)
//	sync.call_timeout  per-job backend deadline (default 30s)
//	http.addr          status API listen address (default 127.0.0.1:8787)
//	log.level          debug, info, warn, error (default info)
//	log.format         text or json (default text)
//	log.file           rotate logs into this file instead of stderr
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/jdziat/durable-outbox/pkg/security"
	"github.com/jdziat/durable-outbox/pkg/storage"
)

// EnvPrefix is prepended to every environment override, e.g. OUTBOX_DB_DSN.
const EnvPrefix = "OUTBOX"

// Config is the full outboxd configuration.
type Config struct {
	DB      DBConfig      `mapstructure:"db"`
	Backend BackendConfig `mapstructure:"backend"`
	Probe   ProbeConfig   `mapstructure:"probe"`
	Sync    SyncConfig    `mapstructure:"sync"`
	HTTP    HTTPConfig    `mapstructure:"http"`
	Log     LogConfig     `mapstructure:"log"`
}

type DBConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type BackendConfig struct {
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type ProbeConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type SyncConfig struct {
	Cron        string        `mapstructure:"cron"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("db.driver", storage.DriverSQLite)
	v.SetDefault("db.dsn", "outbox.db")
	v.SetDefault("backend.url", "")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("probe.interval", 15*time.Second)
	v.SetDefault("probe.timeout", 5*time.Second)
	v.SetDefault("sync.cron", "")
	v.SetDefault("sync.max_attempts", 0)
	v.SetDefault("sync.call_timeout", 30*time.Second)
	v.SetDefault("http.addr", "127.0.0.1:8787")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
}

// Loader reads and re-reads configuration.
type Loader struct {
	v      *viper.Viper
	logger *slog.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*loaderOptions)

type loaderOptions struct {
	envFile string
	logger  *slog.Logger
}

// WithEnvFile loads variables from path before reading the environment.
// A missing file is ignored. Default ".env".
func WithEnvFile(path string) LoaderOption {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithLogger sets the logger used for reload messages.
func WithLogger(l *slog.Logger) LoaderOption {
	return func(o *loaderOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

// NewLoader prepares a loader. When configFile is empty an optional
// outboxd.{yaml,json,toml} in the working directory is used.
func NewLoader(configFile string, opts ...LoaderOption) (*Loader, error) {
	o := loaderOptions{envFile: ".env", logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", o.envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("outboxd")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	return &Loader{v: v, logger: o.logger}, nil
}

// File returns the config file in use, "" when settings come only from
// defaults and the environment.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

// Load decodes and validates the current settings.
func (l *Loader) Load() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Watch calls fn with the new settings whenever the config file changes.
// Invalid edits are logged and skipped. It is a no-op without a config file.
func (l *Loader) Watch(fn func(*Config)) {
	if l.File() == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := l.Load()
		if err != nil {
			l.logger.Warn("ignoring invalid config change", "file", e.Name, "error", err)
			return
		}
		l.logger.Debug("config reloaded", "file", e.Name, "op", e.Op.String())
		fn(cfg)
	})
	l.v.WatchConfig()
}

// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case storage.DriverSQLite, storage.DriverPostgres:
	default:
		return fmt.Errorf("db.driver: unsupported driver %q", c.DB.Driver)
	}
	if strings.TrimSpace(c.DB.DSN) == "" {
		return errors.New("db.dsn: required")
	}
	if c.Sync.MaxAttempts < 0 || c.Sync.MaxAttempts > security.MaxAttempts {
		return fmt.Errorf("sync.max_attempts: must be between 0 and %d", security.MaxAttempts)
	}
	if c.Sync.Cron != "" {
		if _, err := cron.ParseStandard(c.Sync.Cron); err != nil {
			return fmt.Errorf("sync.cron: %w", err)
		}
	}
	if c.Probe.Interval <= 0 {
		return errors.New("probe.interval: must be positive")
	}
	if c.Sync.CallTimeout < 0 || c.Backend.Timeout < 0 || c.Probe.Timeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	return nil
}

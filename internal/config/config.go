// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Download DownloadConfig `mapstructure:"download"`
	DB       DBConfig       `mapstructure:"db"`
	Fetchers FetchersConfig `mapstructure:"fetchers"`
	Session  SessionConfig  `mapstructure:"session"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int `mapstructure:"port"`
	ShutdownTimeout int `mapstructure:"shutdown_timeout_seconds"`
}

// JobsConfig governs the executor and job lifecycle behavior.
type JobsConfig struct {
	MaxConcurrent     int `mapstructure:"max_concurrent"`
	StaleAfterMinutes int `mapstructure:"stale_after_minutes"`
	SweepInterval     int `mapstructure:"sweep_interval_minutes"`
	CleanupAfterDays  int `mapstructure:"cleanup_after_days"`
}

// DownloadConfig sets the artifact root all file paths are relative to.
type DownloadConfig struct {
	Root string `mapstructure:"root"`
}

// DBConfig selects and configures the persistence provider.
type DBConfig struct {
	// Provider is sqlite, postgres, or memory.
	Provider string `mapstructure:"provider"`
	// Path is the SQLite database file (sqlite provider only).
	Path string `mapstructure:"path"`
	// DSN is the Postgres connection string (postgres provider only).
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// FetchersConfig configures the platform fetcher adapters.
type FetchersConfig struct {
	YtdlpBinary    string `mapstructure:"ytdlp_binary"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	UserAgent      string `mapstructure:"user_agent"`
}

// SessionConfig controls the session cookie.
type SessionConfig struct {
	SecureCookies bool `mapstructure:"secure_cookies"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("COLLECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_seconds", 15)
	v.SetDefault("jobs.max_concurrent", 3)
	v.SetDefault("jobs.stale_after_minutes", 30)
	v.SetDefault("jobs.sweep_interval_minutes", 0)
	v.SetDefault("jobs.cleanup_after_days", 0)
	v.SetDefault("download.root", "./downloads")
	v.SetDefault("db.provider", "sqlite")
	v.SetDefault("db.path", "./data/collector.db")
	v.SetDefault("fetchers.ytdlp_binary", "yt-dlp")
	v.SetDefault("fetchers.timeout_seconds", 0)
	v.SetDefault("fetchers.user_agent", "collector/0.1")
	v.SetDefault("session.secure_cookies", false)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "info")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Jobs.MaxConcurrent <= 0 {
		return fmt.Errorf("jobs.max_concurrent must be > 0")
	}
	if c.Jobs.StaleAfterMinutes <= 0 {
		return fmt.Errorf("jobs.stale_after_minutes must be > 0")
	}
	if c.Download.Root == "" {
		return fmt.Errorf("download.root is required")
	}
	switch c.DB.Provider {
	case "sqlite":
		if c.DB.Path == "" {
			return fmt.Errorf("db.path is required for the sqlite provider")
		}
	case "postgres":
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres provider")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown db.provider %q", c.DB.Provider)
	}
	return nil
}

// StaleWindow returns the staleness window as a duration.
func (c Config) StaleWindow() time.Duration {
	return time.Duration(c.Jobs.StaleAfterMinutes) * time.Minute
}

// SweepInterval returns the optional periodic reconciliation interval;
// zero disables the sweep.
func (c Config) SweepInterval() time.Duration {
	return time.Duration(c.Jobs.SweepInterval) * time.Minute
}

// ShutdownTimeout bounds graceful drain at exit.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownTimeout) * time.Second
}

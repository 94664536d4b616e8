package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  shutdown_timeout_seconds: 5
jobs:
  max_concurrent: 6
  stale_after_minutes: 10
  sweep_interval_minutes: 2
  cleanup_after_days: 7
download:
  root: /srv/collector
db:
  provider: postgres
  dsn: postgres://collector:pw@localhost:5432/collector
  max_conns: 8
fetchers:
  ytdlp_binary: /usr/local/bin/yt-dlp
  timeout_seconds: 120
  user_agent: real-agent
session:
  secure_cookies: true
logging:
  development: false
  level: warn
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Jobs.MaxConcurrent != 6 || cfg.Jobs.CleanupAfterDays != 7 {
		t.Fatalf("expected jobs overrides to apply: %+v", cfg.Jobs)
	}
	if cfg.Download.Root != "/srv/collector" {
		t.Fatalf("expected download root override, got %q", cfg.Download.Root)
	}
	if cfg.DB.Provider != "postgres" || cfg.DB.MaxConns != 8 {
		t.Fatalf("expected postgres db config: %+v", cfg.DB)
	}
	if cfg.Fetchers.YtdlpBinary != "/usr/local/bin/yt-dlp" || cfg.Fetchers.UserAgent != "real-agent" {
		t.Fatalf("expected fetcher overrides to apply: %+v", cfg.Fetchers)
	}
	if !cfg.Session.SecureCookies {
		t.Fatalf("expected secure cookies enabled")
	}
	if cfg.Logging.Development || cfg.Logging.Level != "warn" {
		t.Fatalf("expected logging overrides to apply: %+v", cfg.Logging)
	}
	if got := cfg.StaleWindow(); got != 10*time.Minute {
		t.Fatalf("expected stale window 10m, got %v", got)
	}
	if got := cfg.SweepInterval(); got != 2*time.Minute {
		t.Fatalf("expected sweep interval 2m, got %v", got)
	}
	if got := cfg.ShutdownTimeout(); got != 5*time.Second {
		t.Fatalf("expected shutdown timeout 5s, got %v", got)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Jobs.MaxConcurrent != 3 || cfg.Jobs.StaleAfterMinutes != 30 {
		t.Fatalf("expected default job limits: %+v", cfg.Jobs)
	}
	if cfg.DB.Provider != "sqlite" || cfg.DB.Path == "" {
		t.Fatalf("expected sqlite defaults: %+v", cfg.DB)
	}
	if cfg.SweepInterval() != 0 {
		t.Fatalf("expected sweep disabled by default, got %v", cfg.SweepInterval())
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:   ServerConfig{Port: 8080},
		Jobs:     JobsConfig{MaxConcurrent: 3, StaleAfterMinutes: 30},
		Download: DownloadConfig{Root: "./downloads"},
		DB:       DBConfig{Provider: "sqlite", Path: "./data/collector.db"},
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "invalid port",
			cfg: func() Config {
				c := base
				c.Server.Port = 0
				return c
			}(),
			want: "server.port",
		},
		{
			name: "invalid max concurrent",
			cfg: func() Config {
				c := base
				c.Jobs.MaxConcurrent = 0
				return c
			}(),
			want: "jobs.max_concurrent",
		},
		{
			name: "invalid stale window",
			cfg: func() Config {
				c := base
				c.Jobs.StaleAfterMinutes = 0
				return c
			}(),
			want: "jobs.stale_after_minutes",
		},
		{
			name: "missing download root",
			cfg: func() Config {
				c := base
				c.Download.Root = ""
				return c
			}(),
			want: "download.root",
		},
		{
			name: "sqlite missing path",
			cfg: func() Config {
				c := base
				c.DB.Path = ""
				return c
			}(),
			want: "db.path",
		},
		{
			name: "postgres missing dsn",
			cfg: func() Config {
				c := base
				c.DB.Provider = "postgres"
				c.DB.DSN = ""
				return c
			}(),
			want: "db.dsn",
		},
		{
			name: "unknown provider",
			cfg: func() Config {
				c := base
				c.DB.Provider = "oracle"
				return c
			}(),
			want: "db.provider",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

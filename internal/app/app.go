// Package app initializes and holds the long-lived services, acting as the
// dependency injection container for the collector binary.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/mgrall/collector/internal/api"
	"github.com/mgrall/collector/internal/clock/system"
	"github.com/mgrall/collector/internal/collector"
	"github.com/mgrall/collector/internal/config"
	"github.com/mgrall/collector/internal/executor"
	"github.com/mgrall/collector/internal/fetcher/web"
	"github.com/mgrall/collector/internal/fetcher/ytdlp"
	"github.com/mgrall/collector/internal/id/uuid"
	"github.com/mgrall/collector/internal/jobs"
	"github.com/mgrall/collector/internal/progress"
	"github.com/mgrall/collector/internal/progress/sinks"
	"github.com/mgrall/collector/internal/sandbox"
	"github.com/mgrall/collector/internal/scrape"
	"github.com/mgrall/collector/internal/session"
	"github.com/mgrall/collector/internal/store"
	"github.com/mgrall/collector/internal/store/memory"
	"github.com/mgrall/collector/internal/store/postgres"
	"github.com/mgrall/collector/internal/store/sqlite"
)

// App holds every long-lived service for the collector. It is built once
// at startup and torn down by Close.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	service  *jobs.Service
	executor *executor.Executor
	hub      *progress.Hub
	handler  http.Handler
	tunables *store.TypedSettings
	closers  []func()
}

// repositories groups one provider's stores.
type repositories struct {
	jobs     store.JobRepository
	files    store.FileRepository
	settings store.SettingsRepository
	close    func()
}

// New builds the full service graph for cfg. ctx is the process lifetime
// context; cancellation stops job admission and interrupts queued work.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(cfg.Download.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create download root: %w", err)
	}
	box, err := sandbox.New(cfg.Download.Root)
	if err != nil {
		return nil, err
	}

	repos, err := openRepositories(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &App{cfg: cfg, logger: logger}
	if repos.close != nil {
		a.closers = append(a.closers, repos.close)
	}

	clk := system.New()
	a.service = jobs.New(
		repos.jobs,
		repos.files,
		box.Root(),
		clk,
		uuid.NewGenerator(),
		logger.Named("jobs"),
		jobs.WithStaleWindow(cfg.StaleWindow()),
	)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	a.hub = progress.NewHub(
		progress.Config{Logger: logger.Named("events")},
		promSink,
		sinks.NewLogSink(logger.Named("events")),
	)

	orch := scrape.New(
		a.service,
		repos.files,
		buildFetchers(cfg, box.Root(), logger),
		a.hub,
		clk,
		box.Root(),
		logger.Named("scrape"),
	)

	a.executor, err = executor.New(ctx, orch, cfg.Jobs.MaxConcurrent, logger.Named("executor"))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.service.SetCanceller(a.executor)

	server := api.NewServer(
		ctx,
		a.service,
		a.executor,
		repos.settings,
		box,
		session.NewManager(cfg.Session.SecureCookies),
		registry,
		logger.Named("api"),
	)
	a.handler = server.Handler()
	a.tunables = store.NewTypedSettings(repos.settings)

	return a, nil
}

// openRepositories picks the persistence provider from cfg.
func openRepositories(ctx context.Context, cfg config.Config, logger *zap.Logger) (repositories, error) {
	switch cfg.DB.Provider {
	case "sqlite":
		if dir := filepath.Dir(cfg.DB.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return repositories{}, fmt.Errorf("create database dir: %w", err)
			}
		}
		db, err := sqlite.Open(cfg.DB.Path)
		if err != nil {
			return repositories{}, err
		}
		logger.Info("using sqlite store", zap.String("path", cfg.DB.Path))
		return repositories{
			jobs:     sqlite.NewJobRepository(db),
			files:    sqlite.NewFileRepository(db),
			settings: sqlite.NewSettingsRepository(db),
			close:    func() { closeDB(db, logger) },
		}, nil

	case "postgres":
		pool, err := postgres.Connect(ctx, postgres.Config{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return repositories{}, err
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return repositories{}, err
		}
		jobsRepo, err := postgres.NewJobRepository(pool)
		if err != nil {
			pool.Close()
			return repositories{}, err
		}
		filesRepo, err := postgres.NewFileRepository(pool)
		if err != nil {
			pool.Close()
			return repositories{}, err
		}
		settingsRepo, err := postgres.NewSettingsRepository(pool)
		if err != nil {
			pool.Close()
			return repositories{}, err
		}
		logger.Info("using postgres store")
		return repositories{
			jobs:     jobsRepo,
			files:    filesRepo,
			settings: settingsRepo,
			close:    pool.Close,
		}, nil

	case "memory":
		logger.Info("using in-memory store; jobs will not survive restarts")
		return repositories{
			jobs:     memory.NewJobRepository(),
			files:    memory.NewFileRepository(),
			settings: memory.NewSettingsRepository(),
		}, nil

	default:
		return repositories{}, fmt.Errorf("unknown db.provider %q", cfg.DB.Provider)
	}
}

// buildFetchers registers one fetcher per routed platform.
func buildFetchers(cfg config.Config, root string, logger *zap.Logger) map[collector.Platform]collector.Fetcher {
	timeout := time.Duration(cfg.Fetchers.TimeoutSeconds) * time.Second
	fetchers := map[collector.Platform]collector.Fetcher{
		collector.PlatformWeb: web.New(web.Config{
			Root:      root,
			UserAgent: cfg.Fetchers.UserAgent,
			Timeout:   timeout,
			Logger:    logger.Named("fetcher.web"),
		}),
	}
	for _, platform := range []collector.Platform{collector.PlatformYouTube, collector.PlatformInstagram} {
		fetchers[platform] = ytdlp.New(ytdlp.Config{
			Binary:    cfg.Fetchers.YtdlpBinary,
			Root:      root,
			Platform:  platform,
			Timeout:   timeout,
			UserAgent: cfg.Fetchers.UserAgent,
			Logger:    logger.Named("fetcher." + string(platform)),
		})
	}
	return fetchers
}

// Handler returns the HTTP handler for the API surface.
func (a *App) Handler() http.Handler {
	return a.handler
}

// Service exposes the job service for maintenance loops.
func (a *App) Service() *jobs.Service {
	return a.service
}

// RunMaintenance blocks running the optional periodic loops until ctx is
// cancelled: the stale-job sweep and the old-job cleanup.
func (a *App) RunMaintenance(ctx context.Context) {
	sweep := a.cfg.SweepInterval()
	var sweepC <-chan time.Time
	if sweep > 0 {
		t := time.NewTicker(sweep)
		defer t.Stop()
		sweepC = t.C
	}

	var cleanupC <-chan time.Time
	if a.cfg.Jobs.CleanupAfterDays > 0 {
		t := time.NewTicker(24 * time.Hour)
		defer t.Stop()
		cleanupC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweepC:
			if n, err := a.service.ReconcileStale(ctx); err != nil {
				a.logger.Error("stale sweep failed", zap.Error(err))
			} else if n > 0 {
				a.logger.Info("stale sweep reconciled jobs", zap.Int("count", n))
			}
		case <-cleanupC:
			// Operators can retune the retention window at runtime through
			// the settings API; the config value is the fallback.
			days, err := a.tunables.GetInt(ctx, "cleanup_after_days", a.cfg.Jobs.CleanupAfterDays)
			if err != nil {
				a.logger.Warn("reading cleanup_after_days setting", zap.Error(err))
			}
			if days <= 0 {
				continue
			}
			maxAge := time.Duration(days) * 24 * time.Hour
			if n, err := a.service.CleanupOldJobs(ctx, maxAge); err != nil {
				a.logger.Error("job cleanup failed", zap.Error(err))
			} else if n > 0 {
				a.logger.Info("old jobs cleaned up", zap.Int("count", n))
			}
		}
	}
}

// Drain waits for in-flight jobs to finish, bounded by ctx.
func (a *App) Drain(ctx context.Context) error {
	return a.executor.Wait(ctx)
}

// Close flushes the event hub and releases the store.
func (a *App) Close() {
	if a.hub != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("event hub close", zap.Error(err))
		}
	}
	for _, fn := range a.closers {
		fn()
	}
}

func closeDB(db *sql.DB, logger *zap.Logger) {
	if err := db.Close(); err != nil {
		logger.Warn("closing database", zap.Error(err))
	}
}

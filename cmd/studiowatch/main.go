package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/eargollo/studiowatch/internal/api"
	"github.com/eargollo/studiowatch/internal/commerce"
	"github.com/eargollo/studiowatch/internal/config"
	"github.com/eargollo/studiowatch/internal/db"
	"github.com/eargollo/studiowatch/internal/match"
	"github.com/eargollo/studiowatch/internal/scheduler"
	"github.com/eargollo/studiowatch/internal/templates"
	"github.com/eargollo/studiowatch/internal/watcher"
	"github.com/eargollo/studiowatch/internal/watchlog"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── Logging (initial, overridden below once config is loaded) ──────────
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// ── Config ─────────────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	// ── Process lock ───────────────────────────────────────────────────────
	lock, err := db.Lock(cfg.DBPath)
	if err != nil {
		if errors.Is(err, db.ErrLocked) {
			slog.Error("another studiowatch process owns the database", "db_path", cfg.DBPath)
		} else {
			slog.Error("acquire lock", "error", err)
		}
		os.Exit(1)
	}
	defer lock.Unlock()

	// ── Database ───────────────────────────────────────────────────────────
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.RunMigrations(database); err != nil {
		slog.Error("run migrations", "error", err)
		os.Exit(1)
	}

	if dbSettings, err := db.LoadSettings(database); err == nil {
		config.MergeDBSettings(cfg, dbSettings)
	}
	slog.Info("studiowatch starting",
		"version", version,
		"log_level", cfg.LogLevel,
		"http_addr", cfg.HTTPAddr,
		"db_path", cfg.DBPath,
		"watch_path", cfg.WatchPath)

	store := watchlog.New(database)
	// Folders left mid-upload by a previous process go back to matched.
	if _, err := store.RecoverStuckUploads(context.Background()); err != nil {
		slog.Warn("recover stuck uploads", "error", err)
	}

	// ── Collaborators ──────────────────────────────────────────────────────
	client := commerce.NewClient(cfg.Commerce.BaseURL, cfg.Commerce.Token, nil)
	cache := match.NewCache(client, cfg.CatalogTTL())
	matcher := match.NewMatcher(cache, cfg.IncludeDrafts, slog.Default())

	deps := watcher.Deps{
		Store:   store,
		Matcher: matcher,
		Drafts:  commerce.NewDraftCreator(client, slog.Default()),
		Logger:  slog.Default(),
	}
	if cfg.Templates.BaseURL != "" {
		deps.Templates = templates.New(cfg.Templates.BaseURL, cfg.Templates.ByPreset, slog.Default())
	}

	orch := watcher.New(watcher.Config{
		WatchPath:          cfg.WatchPath,
		Stabilize:          cfg.StabilizeDuration(),
		MaxWait:            cfg.MaxWaitDuration(),
		MountPoll:          cfg.MountPollInterval(),
		DownstreamTimeout:  cfg.DownstreamTimeout(),
		AutoApplyTemplates: cfg.AutoApplyTemplates,
	}, deps)

	if *cfg.AutoStart {
		if err := orch.Start(watcher.StartOptions{}); err != nil {
			slog.Warn("watcher auto-start", "error", err)
		}
	}

	// ── Scheduler ──────────────────────────────────────────────────────────
	sched := scheduler.New(slog.Default())
	if cfg.RescanSchedule != "" {
		if err := sched.SetJob(cfg.RescanSchedule, func() {
			if orch.State() != watcher.Running {
				return
			}
			slog.Info("scheduled rescan triggered")
			if _, err := orch.Scan(context.Background()); err != nil {
				slog.Warn("scheduled rescan", "error", err)
			}
		}); err != nil {
			slog.Warn("invalid cron expression", "expr", cfg.RescanSchedule, "error", err)
		}
	}
	sched.Start()
	defer sched.Stop()

	// ── HTTP server ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := api.New(cfg.HTTPAddr, api.Deps{
		DB:      database,
		Store:   store,
		Watcher: orch,
		Sched:   sched,
		Catalog: matcher,
		Version: version,
	})
	runErr := srv.Run(ctx)

	orch.Stop()
	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := orch.Drain(drainCtx); err != nil {
		slog.Warn("pipeline tasks still running at exit", "error", err)
	}
	cancel()

	if runErr != nil {
		slog.Error("server error", "error", runErr)
		os.Exit(1)
	}
	slog.Info("studiowatch stopped")
}

// parseLogLevel converts a config string ("debug", "info", "warn", "error")
// to its slog.Level equivalent. Unknown values default to Info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

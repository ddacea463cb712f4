package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/arena/config"
	"github.com/alejandrodnm/arena/internal/adapters/llm"
	"github.com/alejandrodnm/arena/internal/adapters/notify"
	"github.com/alejandrodnm/arena/internal/adapters/polymarket"
	"github.com/alejandrodnm/arena/internal/adapters/storage"
	"github.com/alejandrodnm/arena/internal/application/engine"
	"github.com/alejandrodnm/arena/internal/domain"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	daemon := flag.Bool("daemon", false, "run scheduled jobs until interrupted")
	serve := flag.Bool("serve", false, "expose the manual-trigger HTTP API (daemon mode)")
	cycle := flag.Bool("cycle", false, "run one decision cycle and exit")
	snapshot := flag.Bool("snapshot", false, "run one snapshot sweep and exit")
	settle := flag.Bool("settle", false, "run one settlement pass and exit")
	startCohort := flag.Bool("start-cohort", false, "start a new cohort and exit")
	force := flag.Bool("force", false, "with -start-cohort: ignore the active-cohort precondition")
	report := flag.Bool("report", false, "print the latest cohort leaderboard and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	slog.Info("arena starting",
		"config", *configPath,
		"daemon", *daemon,
		"serve", *serve,
		"dsn", cfg.Storage.DSN,
	)

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := seedModels(ctx, store, cfg.Models); err != nil {
		slog.Error("failed to seed model registry", "err", err)
		os.Exit(1)
	}

	markets := polymarket.NewClient(cfg.API.GammaBase)
	decider := llm.NewClient(cfg.LLM.Base, cfg.LLM.APIKey)
	notifier := notify.NewConsole()

	engCfg := engine.Config{
		InitialBalance:   cfg.Arena.InitialBalance,
		MinBetUSD:        cfg.Arena.MinBetUSD,
		MaxBetFraction:   cfg.Arena.MaxBetFraction,
		DecisionRetries:  cfg.Arena.DecisionRetries,
		DecisionTimeout:  cfg.DecisionTimeout(),
		SnapshotInterval: cfg.SnapshotInterval(),
		MarketLimit:      cfg.Arena.MarketLimit,
		Methodology:      cfg.Arena.Methodology,
	}
	eng := engine.New(engCfg, store, markets, decider, notifier)

	switch {
	case *cycle:
		exitOn(runCycle(ctx, eng))
	case *snapshot:
		exitOn(runSnapshot(ctx, eng))
	case *settle:
		exitOn(runSettle(ctx, eng))
	case *startCohort:
		exitOn(runStartCohort(ctx, eng, *force))
	case *report:
		exitOn(runReport(ctx, eng))
	case *daemon || *serve:
		exitOn(runDaemon(ctx, cfg, eng, *serve))
	default:
		flag.Usage()
		os.Exit(2)
	}

	slog.Info("arena stopped cleanly")
}

// seedModels syncs the configured model registry into the store at startup.
func seedModels(ctx context.Context, store *storage.SQLiteStorage, models []config.ModelConfig) error {
	if len(models) == 0 {
		slog.Warn("no models configured; cohort starts will be skipped")
		return nil
	}
	now := time.Now().UTC()
	rows := make([]domain.Model, 0, len(models))
	for _, m := range models {
		active := true
		if m.Active != nil {
			active = *m.Active
		}
		name := m.Name
		if name == "" {
			name = m.ID
		}
		rows = append(rows, domain.Model{
			ID:        m.ID,
			Name:      name,
			Provider:  m.Provider,
			Active:    active,
			CreatedAt: now,
		})
	}
	return store.UpsertModels(ctx, rows)
}

func exitOn(err error) {
	if err != nil {
		slog.Error("run failed", "err", err)
		os.Exit(1)
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

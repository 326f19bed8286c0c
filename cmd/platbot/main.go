package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/devjwplat/platbot/internal/api"
	"github.com/devjwplat/platbot/internal/clock"
	"github.com/devjwplat/platbot/internal/config"
	"github.com/devjwplat/platbot/internal/feed"
	"github.com/devjwplat/platbot/internal/health"
	"github.com/devjwplat/platbot/internal/leader"
	"github.com/devjwplat/platbot/internal/milestone"
	"github.com/devjwplat/platbot/internal/notify"
	"github.com/devjwplat/platbot/internal/player"
	"github.com/devjwplat/platbot/internal/store"
	"github.com/devjwplat/platbot/internal/telemetry"
	"github.com/devjwplat/platbot/internal/vote"

	// Register store drivers so they are available via store.Open.
	_ "github.com/devjwplat/platbot/internal/store/memstore"
	_ "github.com/devjwplat/platbot/internal/store/postgres"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Load configuration.
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup telemetry.
	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	clk := clock.Real{}

	// Open store using the configured driver (postgres or memory).
	repos, err := store.Open(ctx, cfg.Database, clk)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer repos.Closer.Close()

	logger.InfoContext(ctx, "connected to store", slog.String("driver", cfg.Database.Driver))

	// The change feed only exists on the postgres driver; the memory
	// driver falls back to an idle hub and relies on snapshot polling.
	var source feed.Source
	if cfg.Database.Driver == "postgres" {
		listener := feed.NewListener(cfg.Database.DSN(), logger)
		if err := listener.Start(ctx); err != nil {
			return fmt.Errorf("starting change feed: %w", err)
		}
		source = listener
	} else {
		source = feed.NewHub()
	}

	// Milestone notifications go to Slack when a webhook is configured.
	var notifier notify.Notifier = notify.Nop{}
	if cfg.Slack.WebhookURL != "" {
		notifier = notify.NewSlack(cfg.Slack.WebhookURL)
	} else {
		logger.Warn("slack webhook not configured, milestone messages disabled")
	}

	// Initialize managers.
	playerMgr := player.NewManager(repos.Players, repos.Events, logger, tp.TracerProvider)
	watcher := milestone.NewWatcher(repos.Players, source, notifier, logger, tp.TracerProvider, clk, milestone.Config{
		Milestones:   cfg.Game.Milestones,
		PollInterval: cfg.Game.PollInterval,
		HistorySize:  cfg.Game.HistorySize,
	})
	engine := vote.NewEngine(repos, source, logger, tp.TracerProvider, clk, vote.Config{
		Window:              cfg.Game.VotingWindow,
		AllowSelfNomination: cfg.Game.AllowSelfNomination,
	})

	// Setup health checks.
	healthHandler := health.NewHandler(clk,
		health.Checker{
			Name:  "database",
			Check: repos.Ping,
		},
	)

	// HTTP server: health endpoints plus the JSON API (runs on all replicas).
	apiHandler := api.NewHandler(playerMgr, engine, watcher, logger)

	router := chi.NewRouter()
	router.Get("/healthz", healthHandler.LivenessHandler())
	router.Get("/readyz", healthHandler.ReadinessHandler())
	router.Mount("/api", apiHandler.Routes())

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
		}
	}()

	// startCore is the work that only the leader should run: the watcher,
	// the nomination fan-out and the expired-vote sweep.
	startCore := func(ctx context.Context) {
		var wg sync.WaitGroup

		wg.Add(3)
		go func() {
			defer wg.Done()
			if runErr := watcher.Run(ctx); runErr != nil {
				logger.ErrorContext(ctx, "watcher stopped", slog.Any("error", runErr))
			}
		}()
		go func() {
			defer wg.Done()
			if runErr := engine.Run(ctx); runErr != nil {
				logger.ErrorContext(ctx, "vote engine stopped", slog.Any("error", runErr))
			}
		}()
		go func() {
			defer wg.Done()
			engine.Sweep(ctx, cfg.Game.ResolveInterval)
		}()

		healthHandler.SetReady(true)
		logger.InfoContext(ctx, "platbot is running", slog.String("version", version))

		<-ctx.Done()
		healthHandler.SetReady(false)
		wg.Wait()
	}

	if cfg.LeaderElection.Enabled {
		logger.InfoContext(ctx, "leader election enabled, waiting for leadership...")

		if leaderErr := leader.Run(ctx, cfg.LeaderElection, logger, startCore, func() {
			logger.Info("lost leadership, shutting down...")
			cancel()
		}); leaderErr != nil {
			return fmt.Errorf("leader election: %w", leaderErr)
		}
	} else {
		startCore(ctx)
	}

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}

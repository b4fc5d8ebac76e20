package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/overlaphq/overlap/internal/classify"
	"github.com/overlaphq/overlap/internal/config"
	ghmeta "github.com/overlaphq/overlap/internal/github"
	"github.com/overlaphq/overlap/internal/health"
	"github.com/overlaphq/overlap/internal/ingest"
	"github.com/overlaphq/overlap/internal/metrics"
	"github.com/overlaphq/overlap/internal/notify"
	"github.com/overlaphq/overlap/internal/overlap"
	"github.com/overlaphq/overlap/internal/server"
	"github.com/overlaphq/overlap/internal/store"
	"github.com/overlaphq/overlap/internal/stream"
	"github.com/overlaphq/overlap/internal/sweep"
	"github.com/overlaphq/overlap/internal/tasks"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	// Load config
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Str("db_driver", cfg.DBDriver).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Bool("github_enabled", cfg.GitHubEnabled()).
		Msg("starting overlapd")

	// Context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Relational store
	st, err := store.New(cfg.DBDriver, cfg.DBDSN, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open store")
	}
	defer st.Close()

	// Health checker
	checker := health.NewChecker(logger)
	checker.Register("store", func(ctx context.Context) health.Status {
		if err := st.Ping(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})

	// Metrics
	m := metrics.New()

	// Background task runner
	runner := tasks.NewRunner(tasks.Config{
		Workers:   cfg.TaskWorkers,
		QueueSize: cfg.TaskQueueSize,
	}, m, logger)
	runner.Start(ctx)
	defer runner.Stop()

	// Overlap notification (optional)
	var notifier overlap.Notifier
	if cfg.SlackEnabled() {
		notifier = notify.NewSlackNotifier(cfg.SlackBotToken, cfg.SlackChannel, logger)
		logger.Info().Str("channel", cfg.SlackChannel).Msg("Slack overlap alerts enabled")
	} else {
		logger.Info().Msg("Slack not configured, overlap alerts disabled")
	}

	// Overlap detection
	detector := overlap.NewDetector(st, notifier, m, cfg.OverlapResultCap, logger)

	// Classification
	rules, err := config.LoadScopeRules(cfg.ScopeRulesPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load scope rules")
	}
	classifier := classify.NewHeuristic(rules)
	enricher := classify.NewEnricher(st, classifier, cfg.EnrichThrottle, logger)

	// Repo metadata enrichment (optional)
	var repoEnricher ingest.RepoEnricher
	if cfg.GitHubEnabled() {
		repoEnricher = ghmeta.NewRepoEnricher(cfg.GitHubToken, st, logger)
		logger.Info().Msg("GitHub repo metadata enrichment enabled")
	} else {
		logger.Info().Msg("GitHub not configured, repo metadata enrichment disabled")
	}

	// Ingestion pipeline
	lifecycle := ingest.NewLifecycle(ingest.LifecycleConfig{
		StaleTimeout: cfg.StaleTimeout,
		EndedTimeout: cfg.EndedTimeout,
	})
	planner := ingest.NewPlanner(st, lifecycle, cfg.EnrichEveryEvents, logger)
	pipeline := ingest.NewPipeline(st, planner, runner, detector, enricher, repoEnricher, m, logger)

	// Live stream
	publisher := stream.NewPublisher(st, stream.Config{
		PollInterval:      cfg.StreamPollInterval,
		KeepaliveInterval: cfg.StreamKeepaliveInterval,
	}, m, logger)

	// Staleness sweep
	sweeper := sweep.NewSweeper(st, cfg.StaleTimeout, cfg.EndedTimeout, m, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		sweeper.Loop(ctx, cfg.SweepInterval)
	}()

	// HTTP API
	handlers := server.NewHandlers(pipeline, st, publisher, sweeper, checker, ctx, logger)
	srv := server.New(server.Config{
		ListenAddr: cfg.ListenAddr,
		Auth: server.AuthConfig{
			Mode:      cfg.AuthMode,
			JWTSecret: cfg.JWTSecret,
		},
		RateLimit: server.RateLimitConfig{
			RPS:   cfg.RateLimitRPS,
			Burst: cfg.RateLimitBurst,
		},
		CORSOrigins: cfg.CORSOrigins,
	}, handlers, m, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(); err != nil {
			logger.Error().Err(err).Msg("api server error")
			cancel()
		}
	}()

	// Wait for shutdown signal
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-ctx.Done():
	}

	cancel()

	shutdownDone := make(chan struct{})
	go func() {
		if err := srv.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}
		runner.Stop()
		wg.Wait()
		close(shutdownDone)
	}()

	select {
	case <-shutdownDone:
		logger.Info().Msg("overlapd stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("shutdown timed out")
	}
}

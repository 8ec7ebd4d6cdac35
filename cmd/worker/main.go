// Package main is the entry point of the background worker. It runs the
// periodic jobs without serving HTTP: sweeping idle sessions, rebuilding
// leaderboard rows and archiving expired quests. Deployments that want job
// isolation run this next to an API server started with SCHEDULER_ENABLED
// set to false.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sensai-hub/active-learning-core/config"
	"github.com/sensai-hub/active-learning-core/internal/application/command"
	"github.com/sensai-hub/active-learning-core/internal/application/eventhandler"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
	"github.com/sensai-hub/active-learning-core/internal/infrastructure/external/directory"
	"github.com/sensai-hub/active-learning-core/internal/infrastructure/messaging"
	"github.com/sensai-hub/active-learning-core/internal/infrastructure/persistence/postgres"
	"github.com/sensai-hub/active-learning-core/internal/infrastructure/persistence/redis"
	"github.com/sensai-hub/active-learning-core/internal/infrastructure/scheduler"
	"github.com/sensai-hub/active-learning-core/internal/infrastructure/scheduler/jobs"
	"github.com/sensai-hub/active-learning-core/internal/infrastructure/service"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := newLogger(cfg)
	slog.SetDefault(log)

	log.Info("starting worker",
		slog.String("version", cfg.App.Version),
		slog.String("environment", string(cfg.App.Environment)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer conn.Close()

	if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	cacheCfg := redis.DefaultConfig()
	cacheCfg.Host = cfg.Redis.Host
	cacheCfg.Port = cfg.Redis.Port
	cacheCfg.Password = cfg.Redis.Password
	cacheCfg.DB = cfg.Redis.DB
	cacheCfg.PoolSize = cfg.Redis.PoolSize
	cacheCfg.MinIdleConns = cfg.Redis.MinIdleConns
	cache, err := redis.NewCache(cacheCfg)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer cache.Close()

	sessionRepo := postgres.NewSessionRepository(conn)
	questRepo := postgres.NewQuestRepository(conn)
	tokenLedger := postgres.NewTokenLedger(conn)

	dirCfg := directory.DefaultClientConfig(cfg.Directory.BaseURL)
	dirCfg.APIKey = cfg.Directory.APIKey
	dirCfg.Timeout = cfg.Directory.RequestTimeout
	dirCfg.MaxRetries = cfg.Directory.MaxRetries
	dirCfg.Logger = log
	dirClient := directory.NewClient(dirCfg)

	// The sweep closes sessions, and closed sessions drive quest
	// evaluation and leaderboard invalidation, so the worker carries the
	// same event pipeline as the API server.
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log
	bus := messaging.NewInMemoryEventBus(busCfg)
	defer bus.Close()

	dispatcherCfg := messaging.DefaultDispatcherConfig()
	dispatcherCfg.Logger = log
	dispatcher := messaging.NewDispatcher(dispatcherCfg)
	if err := dispatcher.Attach(bus); err != nil {
		return fmt.Errorf("attach dispatcher: %w", err)
	}

	metricsSource := service.NewMetricsSource(sessionRepo, questRepo, dirClient, dirClient, log)

	lbCache := redis.NewLeaderboardCache(cache)
	aggregator := service.NewLeaderboardAggregator(
		lbCache, redis.NewRecomputeGuard(cache), dirClient, metricsSource, metricsSource,
		service.AggregatorConfig{
			FreshTTL:         cfg.Engine.LeaderboardFreshTTL,
			LockTTL:          cfg.Engine.RecomputeLockTTL,
			RecomputeTimeout: cfg.Engine.RecomputeLockTTL,
			MaxGlobalUsers:   cfg.Engine.MaxGlobalUsers,
			Logger:           log,
		},
	)

	tracker := command.NewSessionTracker(sessionRepo, bus, command.DefaultSessionTrackerConfig())
	grantToken := command.NewGrantTokenHandler(tokenLedger, bus, command.GrantTokenHandlerConfig{
		MaxActive: cfg.Engine.MaxActiveTokens,
		Expiry:    cfg.Engine.TokenExpiry,
	})

	sessionClosed := eventhandler.NewSessionClosedHandler(
		questRepo, metricsSource, dirClient, aggregator, bus, log)
	if err := dispatcher.Register(shared.EventSessionClosed, "on_session_closed", sessionClosed.Handle); err != nil {
		return fmt.Errorf("register handler: %w", err)
	}
	if err := dispatcher.Register(shared.EventSessionExpired, "on_session_expired", sessionClosed.Handle); err != nil {
		return fmt.Errorf("register handler: %w", err)
	}

	if cfg.Features.IsEnabled(config.FeatureAutoRewardTokens, "") {
		questCompleted := eventhandler.NewQuestCompletedHandler(grantToken, log)
		if err := dispatcher.Register(shared.EventQuestCompleted, "on_quest_completed", questCompleted.Handle); err != nil {
			return fmt.Errorf("register handler: %w", err)
		}
	}

	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:   log,
		Timezone: time.UTC,
	})

	if cfg.Features.IsEnabled(config.FeatureIdleSweep, "") {
		job := jobs.NewSweepIdleSessionsJob(tracker, log, jobs.DefaultSweepIdleSessionsConfig())
		if err := sched.Register(job, scheduler.NewIntervalSchedule(cfg.Scheduler.SweepIdleInterval)); err != nil {
			return fmt.Errorf("register job: %w", err)
		}
	}
	if cfg.Features.IsEnabled(config.FeatureLeaderboardRebuild, "") {
		job := jobs.NewRebuildLeaderboardJob(aggregator, log, jobs.DefaultRebuildLeaderboardConfig())
		if err := sched.Register(job, scheduler.NewIntervalSchedule(cfg.Scheduler.RebuildLeaderboardInterval)); err != nil {
			return fmt.Errorf("register job: %w", err)
		}
	}
	if cfg.Features.IsEnabled(config.FeatureQuestArchival, "") {
		job := jobs.NewArchiveQuestsJob(questRepo, lbCache, log, jobs.DefaultArchiveQuestsConfig())
		archiveSchedule, err := scheduler.NewCronSchedule(cfg.Scheduler.ArchiveQuestsCron)
		if err != nil {
			return fmt.Errorf("parse archive cron: %w", err)
		}
		if err := sched.Register(job, archiveSchedule); err != nil {
			return fmt.Errorf("register job: %w", err)
		}
	}

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	log.Info("worker running")
	<-ctx.Done()

	log.Info("shutdown signal received")
	if err := sched.Stop(); err != nil {
		log.Error("scheduler stop", slog.Any("error", err))
	}

	log.Info("shutdown complete")
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Observability.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Observability.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With(slog.String("app", cfg.App.Name+"-worker"))
}

// Package main is the entry point of the active learning API server. It
// wires the session engine, quest evaluator, grace token ledger and the
// leaderboard read side behind one HTTP surface, plus the background jobs
// that keep derived data current.
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
	"github.com/sensai-hub/active-learning-core/internal/application/query"
	"github.com/sensai-hub/active-learning-core/internal/domain/shared"
	"github.com/sensai-hub/active-learning-core/internal/infrastructure/external/directory"
	"github.com/sensai-hub/active-learning-core/internal/infrastructure/messaging"
	"github.com/sensai-hub/active-learning-core/internal/infrastructure/persistence/postgres"
	"github.com/sensai-hub/active-learning-core/internal/infrastructure/persistence/redis"
	"github.com/sensai-hub/active-learning-core/internal/infrastructure/scheduler"
	"github.com/sensai-hub/active-learning-core/internal/infrastructure/scheduler/jobs"
	"github.com/sensai-hub/active-learning-core/internal/infrastructure/service"
	httpapi "github.com/sensai-hub/active-learning-core/internal/interface/http"
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

	log.Info("starting active-learning-core",
		slog.String("version", cfg.App.Version),
		slog.String("environment", string(cfg.App.Environment)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─────────────────────────────────────────────────────────────────────
	// Storage
	// ─────────────────────────────────────────────────────────────────────

	conn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer conn.Close()

	if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database migrated")

	cache, err := redis.NewCache(redisConfig(cfg))
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer cache.Close()

	sessionRepo := postgres.NewSessionRepository(conn)
	questRepo := postgres.NewQuestRepository(conn)
	tokenLedger := postgres.NewTokenLedger(conn)

	// ─────────────────────────────────────────────────────────────────────
	// External services
	// ─────────────────────────────────────────────────────────────────────

	dirClient := directory.NewClient(directoryConfig(cfg, log))

	// ─────────────────────────────────────────────────────────────────────
	// Messaging
	// ─────────────────────────────────────────────────────────────────────

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

	// ─────────────────────────────────────────────────────────────────────
	// Application services
	// ─────────────────────────────────────────────────────────────────────

	metricsSource := service.NewMetricsSource(sessionRepo, questRepo, dirClient, dirClient, log)

	lbCache := redis.NewLeaderboardCache(cache)
	guard := redis.NewRecomputeGuard(cache)
	aggregator := service.NewLeaderboardAggregator(
		lbCache, guard, dirClient, metricsSource, metricsSource,
		service.AggregatorConfig{
			FreshTTL:         cfg.Engine.LeaderboardFreshTTL,
			LockTTL:          cfg.Engine.RecomputeLockTTL,
			RecomputeTimeout: cfg.Engine.RecomputeLockTTL,
			MaxGlobalUsers:   cfg.Engine.MaxGlobalUsers,
			Logger:           log,
		},
	)

	tracker := command.NewSessionTracker(sessionRepo, bus, command.DefaultSessionTrackerConfig())
	createQuest := command.NewCreateQuestHandler(questRepo, bus)
	grantToken := command.NewGrantTokenHandler(tokenLedger, bus, command.GrantTokenHandlerConfig{
		MaxActive: cfg.Engine.MaxActiveTokens,
		Expiry:    cfg.Engine.TokenExpiry,
	})
	applyGrace := command.NewApplyGraceHandler(tokenLedger, questRepo, metricsSource, bus)

	getLeaderboard := query.NewGetLeaderboardHandler(aggregator)
	getSessionMetrics := query.NewGetSessionMetricsHandler(sessionRepo)
	getQuestProgress := query.NewGetQuestProgressHandler(questRepo, metricsSource, dirClient)
	getProfile := query.NewGetProfileHandler(sessionRepo, questRepo, tokenLedger)

	// ─────────────────────────────────────────────────────────────────────
	// Event handlers. Quest evaluation and leaderboard invalidation both
	// chase session closes; reward token grants chase quest completions.
	// ─────────────────────────────────────────────────────────────────────

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

	// ─────────────────────────────────────────────────────────────────────
	// Background jobs
	// ─────────────────────────────────────────────────────────────────────

	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		sched = buildScheduler(cfg, log, tracker, aggregator, questRepo, lbCache)
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer func() { _ = sched.Stop() }()
	}

	// ─────────────────────────────────────────────────────────────────────
	// HTTP server
	// ─────────────────────────────────────────────────────────────────────

	health := httpapi.NewHealthChecker(cfg.App.Version, 5*time.Second)
	health.AddCheck("postgres", conn.Ping)
	health.AddCheck("redis", cache.Ping)
	if cfg.Directory.BaseURL != "" {
		health.AddCheck("directory", func(ctx context.Context) error {
			if !dirClient.IsHealthy(ctx) {
				return fmt.Errorf("directory unreachable")
			}
			return nil
		})
	}

	server := httpapi.NewServer(httpConfig(cfg), httpapi.Dependencies{
		SessionTracker:    tracker,
		CreateQuest:       createQuest,
		GrantToken:        grantToken,
		ApplyGrace:        applyGrace,
		GetLeaderboard:    getLeaderboard,
		GetSessionMetrics: getSessionMetrics,
		GetQuestProgress:  getQuestProgress,
		GetProfile:        getProfile,
		Logger:            log,
		HealthChecker:     health,
		Features:          cfg.Features,
	})

	errCh := server.StartAsync()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", slog.Any("error", err))
	}

	log.Info("shutdown complete")
	return nil
}

// buildScheduler registers the periodic jobs the feature flags allow.
func buildScheduler(
	cfg *config.Config,
	log *slog.Logger,
	tracker *command.SessionTracker,
	aggregator *service.LeaderboardAggregator,
	questRepo *postgres.QuestRepository,
	lbCache *redis.LeaderboardCache,
) *scheduler.Scheduler {
	sched := scheduler.NewScheduler(scheduler.SchedulerConfig{
		Logger:   log,
		Timezone: time.UTC,
	})

	if cfg.Features.IsEnabled(config.FeatureIdleSweep, "") {
		job := jobs.NewSweepIdleSessionsJob(tracker, log, jobs.DefaultSweepIdleSessionsConfig())
		_ = sched.Register(job, scheduler.NewIntervalSchedule(cfg.Scheduler.SweepIdleInterval))
	}

	if cfg.Features.IsEnabled(config.FeatureLeaderboardRebuild, "") {
		job := jobs.NewRebuildLeaderboardJob(aggregator, log, jobs.DefaultRebuildLeaderboardConfig())
		_ = sched.Register(job, scheduler.NewIntervalSchedule(cfg.Scheduler.RebuildLeaderboardInterval))
	}

	if cfg.Features.IsEnabled(config.FeatureQuestArchival, "") {
		job := jobs.NewArchiveQuestsJob(questRepo, lbCache, log, jobs.DefaultArchiveQuestsConfig())
		archiveSchedule, err := scheduler.NewCronSchedule(cfg.Scheduler.ArchiveQuestsCron)
		if err != nil {
			log.Warn("bad archive cron, using daily default", slog.Any("error", err))
			archiveSchedule = scheduler.MustCronSchedule("0 3 * * *")
		}
		_ = sched.Register(job, archiveSchedule)
	}

	return sched
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

	return slog.New(handler).With(slog.String("app", cfg.App.Name))
}

func redisConfig(cfg *config.Config) redis.Config {
	rc := redis.DefaultConfig()
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout
	return rc
}

func directoryConfig(cfg *config.Config, log *slog.Logger) directory.ClientConfig {
	dc := directory.DefaultClientConfig(cfg.Directory.BaseURL)
	dc.APIKey = cfg.Directory.APIKey
	dc.Timeout = cfg.Directory.RequestTimeout
	dc.MaxRetries = cfg.Directory.MaxRetries
	dc.BreakerConfig.FailureThreshold = cfg.Directory.BreakerThreshold
	dc.BreakerConfig.Timeout = cfg.Directory.BreakerTimeout
	dc.BreakerConfig.MaxHalfOpenRequests = cfg.Directory.BreakerHalfOpenMax
	dc.Logger = log
	dc.Debug = cfg.App.Debug
	return dc
}

func httpConfig(cfg *config.Config) httpapi.Config {
	hc := httpapi.DefaultConfig()
	hc.Host = cfg.HTTP.Host
	hc.Port = cfg.HTTP.Port
	hc.ReadTimeout = cfg.HTTP.ReadTimeout
	hc.WriteTimeout = cfg.HTTP.WriteTimeout
	hc.IdleTimeout = cfg.HTTP.IdleTimeout
	hc.EnableCORS = cfg.HTTP.EnableCORS
	hc.AllowedOrigins = cfg.HTTP.AllowedOrigins
	hc.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	hc.APIKeys = cfg.HTTP.APIKeys
	return hc
}

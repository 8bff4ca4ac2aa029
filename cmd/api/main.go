package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vitalsense/clinical-signal-engine/internal/api/rest"
	"github.com/vitalsense/clinical-signal-engine/internal/domain/rule"
	"github.com/vitalsense/clinical-signal-engine/internal/infrastructure/cache"
	"github.com/vitalsense/clinical-signal-engine/internal/infrastructure/config"
	"github.com/vitalsense/clinical-signal-engine/internal/infrastructure/database"
	"github.com/vitalsense/clinical-signal-engine/internal/infrastructure/events"
	"github.com/vitalsense/clinical-signal-engine/internal/infrastructure/instrumentation"
	"github.com/vitalsense/clinical-signal-engine/internal/infrastructure/repository"
	"github.com/vitalsense/clinical-signal-engine/internal/infrastructure/telemetry"
	"github.com/vitalsense/clinical-signal-engine/internal/metrics"
	"github.com/vitalsense/clinical-signal-engine/internal/service/alerting"
	analysissvc "github.com/vitalsense/clinical-signal-engine/internal/service/analysis"
	"github.com/vitalsense/clinical-signal-engine/internal/service/ingestion"
	"github.com/vitalsense/clinical-signal-engine/internal/service/ruleengine"
	"github.com/vitalsense/clinical-signal-engine/internal/service/rules"
)

func main() {
	var (
		configPath   = flag.String("config", "", "path to configuration file")
		migrate      = flag.Bool("migrate", false, "run database migrations and exit")
		contractPath = flag.String("contract", "", "OpenAPI document for request/response contract validation")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := telemetry.SetupLogger(cfg.LogLevel)
	if err != nil {
		slog.Error("failed to setup logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger, *migrate, *contractPath); err != nil {
		logger.Error("api server failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, migrate bool, contractPath string) error {
	infraLogger, err := newInfraLogger(cfg.Environment)
	if err != nil {
		return fmt.Errorf("infrastructure logger: %w", err)
	}
	defer infraLogger.Sync() //nolint:errcheck // stderr sync failure is unactionable

	if migrate {
		if err := database.RunMigrations(cfg.Database.URL, "migrations", infraLogger); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
		logger.Info("migrations completed")
		return nil
	}

	provider, err := telemetry.Initialize(ctx, &telemetry.Config{
		ServiceName:    "cse-api",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		ExportTimeout:  cfg.Telemetry.ExportTimeout,
		BatchTimeout:   cfg.Telemetry.BatchTimeout,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	pool, err := database.NewConnectionPool(&cfg.Database, infraLogger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer pool.Close()

	checkers := []rest.HealthChecker{
		rest.NewDatabaseHealthChecker(pool),
		rest.NewSystemHealthChecker(),
	}

	// Redis is a fast path, not a dependency: the engine serves every
	// query from postgres when the cache is down.
	var (
		alertCache   alerting.AlertCache
		historyCache rest.HistoryCache
	)
	redisCache, err := cache.NewRedisCache(&cfg.Redis, infraLogger)
	if err != nil {
		logger.Warn("redis unavailable, running without cache", "error", err)
	} else {
		defer redisCache.Close()
		alertCache = cache.NewAlertCache(redisCache, infraLogger, cfg.Redis.ActiveAlertTTL)
		historyCache = cache.NewTrendCache(redisCache, infraLogger, cfg.Redis.TrendTTL)
		if cp, ok := redisCache.(interface{ Client() *redis.Client }); ok {
			checkers = append(checkers, rest.NewRedisHealthChecker(cp.Client()))
		}
	}

	publisherCfg := events.DefaultPublisherConfig()
	publisherCfg.QueueSize = cfg.Events.BufferSize
	publisherCfg.Workers = cfg.Events.Workers
	publisherCfg.MaxRetries = cfg.Events.MaxRetries
	publisherCfg.RetryBackoff = cfg.Events.RetryBackoff
	publisher, err := events.NewAlertEventPublisher(ctx, infraLogger, publisherCfg)
	if err != nil {
		return fmt.Errorf("event publisher: %w", err)
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("event publisher close failed", "error", err)
		}
	}()
	checkers = append(checkers, rest.NewPublisherHealthChecker(publisher))

	registry, err := metrics.NewRegistry("clinical-signal-engine")
	if err != nil {
		return fmt.Errorf("metrics registry: %w", err)
	}

	measurementRepo := repository.NewMeasurementRepository(pool.DB())
	analysisRepo := repository.NewAnalysisRepository(pool.DB())
	alertRepo := repository.NewAlertRepository(pool.DB())
	ruleRepo := repository.NewRuleRepository(pool.DB())

	analyzer := instrumentation.NewAnalysisTracedService(
		analysissvc.NewService(measurementRepo, analysisRepo, logger, analysissvc.Config{
			TrendWindowDays:           cfg.Analysis.TrendWindowDays,
			TrendThresholdPercent:     cfg.Analysis.TrendThresholdPercent,
			FluctuationMinSignChanges: cfg.Analysis.FluctuationMinSignChanges,
			FluctuationRangePercent:   cfg.Analysis.FluctuationRangePercent,
			ConfidenceTargetSamples:   cfg.Analysis.ConfidenceTargetSamples,
			MildMaxPercent:            cfg.Analysis.MildMaxPercent,
			ModerateMaxPercent:        cfg.Analysis.ModerateMaxPercent,
			SevereMaxPercent:          cfg.Analysis.SevereMaxPercent,
		}),
		registry,
	)

	engine := ruleengine.NewService(rule.DefaultThresholdTable(), logger, ruleengine.Config{
		CorrelationWindow:          time.Duration(cfg.Correlation.WindowMinutes) * time.Minute,
		MaxSignalsPerPatient:       cfg.Correlation.MaxSignalsPerPatient,
		EmergencyMultiple:          cfg.Analysis.EmergencyMultiple,
		CriticalEscalationPath:     cfg.Alerting.EscalationPath,
		CriticalEscalationMinutes:  cfg.Alerting.CriticalEscalationMinutes,
		EmergencyEscalationMinutes: cfg.Alerting.EmergencyEscalationMinutes,
	})

	alertingSvc := alerting.NewService(alertRepo, publisher, alertCache, logger, alerting.Config{
		SweepInterval: cfg.Alerting.SweepInterval,
		AlertTTL:      cfg.Alerting.AlertTTL,
	})

	rulesSvc := rules.NewService(ruleRepo, engine, logger)
	if err := rulesSvc.Reload(ctx); err != nil {
		return fmt.Errorf("loading rule set: %w", err)
	}

	pipeline := ingestion.NewService(measurementRepo, analyzer, engine, alertingSvc, publisher, ingestion.Config{
		Workers:   cfg.Ingestion.Workers,
		QueueSize: cfg.Ingestion.QueueSize,
	})
	if err := pipeline.Start(); err != nil {
		return fmt.Errorf("starting ingestion pipeline: %w", err)
	}
	defer pipeline.Stop()

	if err := alertingSvc.Start(ctx); err != nil {
		return fmt.Errorf("starting alert sweep: %w", err)
	}
	defer alertingSvc.Stop()

	go pollProcessMetrics(ctx, pool, publisher, pipeline, engine, registry)

	server, err := rest.NewServer(rest.ServerDeps{
		Config: cfg,
		Logger: logger,
		Services: rest.Services{
			Ingestion: pipeline,
			Analysis:  analyzer,
			Alerting:  alertingSvc,
			Rules:     rulesSvc,
		},
		HistoryCache:   historyCache,
		Publisher:      publisher,
		Metrics:        registry,
		MetricsHandler: MetricsHandler(),
		HealthCheckers: checkers,
		ContractPath:   contractPath,
		Contract:       rest.DefaultContractConfig(),
	})
	if err != nil {
		return fmt.Errorf("building server: %w", err)
	}

	return server.Start(ctx)
}

// newInfraLogger builds the zap logger the infrastructure layer uses.
func newInfraLogger(environment string) (*zap.Logger, error) {
	if environment == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

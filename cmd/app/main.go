package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"club-entitlements/internal/config"
	"club-entitlements/internal/domain/ports/adapter"
	"club-entitlements/internal/infra/api"
	"club-entitlements/internal/infra/cache"
	pg "club-entitlements/internal/infra/db/postgres"
	"club-entitlements/internal/infra/logging"
	"club-entitlements/internal/infra/metrics"
	"club-entitlements/internal/infra/payment"
	red "club-entitlements/internal/infra/redis"
	"club-entitlements/internal/infra/sched"
	"club-entitlements/internal/usecase"
)

// set with -ldflags at build time
var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "console logging and unredacted secrets")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		// logger is not configured yet
		logging.New(config.LogConfig{}, true).Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit, cfg.Billing.Gateway)

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	if cfg.Database.Migrate {
		if err := pg.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
	}

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis")
	}
	defer redisClient.Close()

	// ---- Repositories ----
	tenantRepo := pg.NewTenantRepo(pool)
	assignmentRepo := pg.NewAssignmentRepo(pool)
	featureRepo := pg.NewFeatureRepo(pool)
	matrixRepo := pg.NewPlanFeatureRepoCacheDecorator(pg.NewPlanFeatureRepo(pool), cfg.Cache.MatrixTTL)
	overrideRepo := pg.NewOverrideRepo(pool)
	eventRepo := pg.NewSubscriptionEventRepo(pool)
	historyRepo := pg.NewPlanHistoryRepo(pool)
	tm := pg.NewTxManager(pool)

	// ---- Capability cache ----
	var capCache adapter.CapabilityCache
	switch cfg.Cache.Backend {
	case "redis":
		capCache = red.NewCapabilityCache(redisClient, cfg.Cache.TTL, logger)
	default:
		capCache = cache.NewMemoryCache(cfg.Cache.Shards, cfg.Cache.TTL, nil)
	}
	logger.Info().Str("backend", cfg.Cache.Backend).Dur("ttl", cfg.Cache.TTL).Dur("matrix_ttl", cfg.Cache.MatrixTTL).Msg("capability cache ready")

	// ---- Billing ----
	gateway, parser, err := payment.New(cfg.Billing, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("billing gateway")
	}
	catalog, err := cfg.PlanCatalog()
	if err != nil {
		logger.Fatal().Err(err).Msg("plan catalog")
	}

	// ---- Use cases ----
	resolver := usecase.NewCapabilityResolver(tenantRepo, assignmentRepo, featureRepo, matrixRepo, overrideRepo, eventRepo, tm, nil, logger)
	entitlementUC := usecase.NewEntitlementUseCase(resolver, capCache, featureRepo, nil, logger)
	tenantUC := usecase.NewTenantUseCase(tenantRepo, assignmentRepo, historyRepo, tm, nil, logger)
	lifecycleUC := usecase.NewLifecycleUseCase(tenantRepo, assignmentRepo, eventRepo, historyRepo, gateway, catalog, capCache, tm,
		usecase.LifecycleConfig{
			Cooldown:        cfg.Lifecycle.Cooldown,
			ProrateUpgrades: cfg.Billing.ProrateUpgrades,
			CallTimeout:     cfg.Billing.CallTimeout,
		}, nil, logger)
	overrideUC := usecase.NewOverrideUseCase(tenantRepo, featureRepo, overrideRepo, eventRepo, capCache, tm, nil, logger)
	auditUC := usecase.NewAuditUseCase(tenantRepo, eventRepo, historyRepo, logger)
	webhookUC := usecase.NewWebhookUseCase(parser, tenantRepo, assignmentRepo, eventRepo, historyRepo, catalog, capCache, tm,
		usecase.WebhookConfig{PastDueThreshold: cfg.Lifecycle.PastDueThreshold}, nil, logger)
	pendingUC := usecase.NewPendingChangeUseCase(tenantRepo, lifecycleUC,
		usecase.SweepConfig{BatchSize: cfg.Scheduler.BatchSize, Concurrency: cfg.Scheduler.Concurrency}, nil, logger)

	// ---- HTTP ----
	srv := api.NewServer(api.Config{
		Port:             cfg.HTTP.Port,
		RequestTimeout:   cfg.HTTP.RequestTimeout,
		ReadTimeout:      cfg.HTTP.ReadTimeout,
		WriteTimeout:     cfg.HTTP.WriteTimeout,
		TenantHeader:     cfg.HTTP.TenantHeader,
		TenantWriteLimit: cfg.HTTP.TenantWriteLimit,
		WebhookRPS:       cfg.Webhook.RatePerSecond,
		WebhookBurst:     cfg.Webhook.Burst,
		WebhookMaxBody:   cfg.Webhook.MaxBodyBytes,
		AdminAPIKey:      cfg.Admin.APIKey,
		AdminJWTSecret:   cfg.Admin.JWTSecret,
		AdminJWTTTL:      cfg.Admin.JWTTTL,
	}, api.Deps{
		Tenants:      tenantUC,
		Entitlements: entitlementUC,
		Lifecycle:    lifecycleUC,
		Overrides:    overrideUC,
		Audit:        auditUC,
		Webhooks:     webhookUC,
		Limiter:      red.NewRateLimiter(redisClient),
		Ready: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				return err
			}
			return redisClient.Ping(ctx)
		},
	}, logger)

	worker := sched.NewPendingChangeWorker(sched.PendingChangeWorkerConfig{
		Interval:   cfg.Scheduler.Interval,
		LockTTL:    cfg.Scheduler.LockTTL,
		RunOnStart: cfg.Scheduler.RunOnStart,
	}, pendingUC, red.NewLocker(redisClient), logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start() })
	g.Go(func() error {
		if err := worker.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		pg.ReportPoolStats(gctx, pool, 15*time.Second)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown requested")
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("exited with error")
		os.Exit(1)
	}
	logger.Info().Msg("bye")
}

package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"club-entitlements/internal/config"
	"club-entitlements/internal/domain/model"
	"club-entitlements/internal/domain/ports/adapter"
	"club-entitlements/internal/infra/cache"
	pg "club-entitlements/internal/infra/db/postgres"
	"club-entitlements/internal/infra/logging"
	red "club-entitlements/internal/infra/redis"
	"club-entitlements/internal/usecase"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	catalogPath := flag.String("catalog", "catalog.yaml", "path to feature catalog YAML")
	migrate := flag.Bool("migrate", true, "run migrations before seeding")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		logging.New(config.LogConfig{}, true).Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.Log, true)

	doc, err := config.LoadCatalog(*catalogPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("catalog")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	if *migrate {
		if err := pg.Migrate(ctx, pool, logger); err != nil {
			logger.Fatal().Err(err).Msg("migrate")
		}
	}

	// a running app with the redis backend must see the flush
	var capCache adapter.CapabilityCache
	switch cfg.Cache.Backend {
	case "redis":
		client, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer client.Close()
		capCache = red.NewCapabilityCache(client, cfg.Cache.TTL, logger)
	default:
		capCache = cache.NewMemoryCache(cfg.Cache.Shards, cfg.Cache.TTL, nil)
	}

	catalog, err := cfg.PlanCatalog()
	if err != nil {
		logger.Fatal().Err(err).Msg("plan catalog")
	}

	uc := usecase.NewCatalogUseCase(pg.NewFeatureRepo(pool), pg.NewPlanFeatureRepo(pool), capCache, catalog, pg.NewTxManager(pool), logger)
	rep, err := uc.Apply(ctx, toSpec(doc))
	if err != nil {
		logger.Fatal().Err(err).Msg("seed catalog")
	}
	fmt.Printf("seeded %d features and %d plan defaults\n", rep.Features, rep.Defaults)
}

func toSpec(doc *config.CatalogFile) usecase.CatalogSpec {
	var spec usecase.CatalogSpec
	for _, f := range doc.Features {
		spec.Features = append(spec.Features, usecase.FeatureSpec{
			Key:      f.Key,
			Type:     model.ValueType(f.Type),
			Category: f.Category,
			Active:   f.IsActive(),
		})
		for _, plan := range f.PlanCodes() {
			spec.Defaults = append(spec.Defaults, usecase.PlanDefault{
				Plan:       model.PlanCode(plan),
				FeatureKey: f.Key,
				Value:      f.Defaults[plan],
			})
		}
	}
	return spec
}

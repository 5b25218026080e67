package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"bulkgen/internal/adapter/repo"
	"bulkgen/internal/engine"
	"bulkgen/internal/infra"
	"bulkgen/internal/providers"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: db connection failed")
	}
	defer pool.Close()

	cipher, err := infra.NewCredentialCipher(cfg.CredentialKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: failed to configure credential cipher")
	}

	jobs := repo.NewJobRepository(pool)
	cacheRepo := repo.NewCacheRepository(pool)
	usage := repo.NewUsageRepository(pool)

	cache := engine.NewResponseCache(cacheRepo, logger)
	batch := engine.NewBatchProcessor(cache, logger)
	registry := providers.NewRegistry(nil)
	executor := engine.NewExecutor(jobs, batch, registry, cipher, usage, cfg.BatchSize, logger)
	scheduler := engine.NewScheduler(jobs, jobs, executor, engine.SchedulerConfig{
		ClaimLimit:    cfg.ClaimLimit,
		StaleAfter:    cfg.StaleAfter,
		MaxJobRetries: cfg.MaxJobRetries,
	}, logger)

	if err := run(ctx, cfg, scheduler, cache, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("worker: stopped with error")
	}
	logger.Info().Msg("worker: stopped")
}

func run(ctx context.Context, cfg *infra.Config, scheduler *engine.Scheduler, cache *engine.ResponseCache, logger infra.Logger) error {
	logger.Info().
		Dur("tick", cfg.SchedulerTick).
		Int("claim_limit", cfg.ClaimLimit).
		Msg("worker: started")

	tick := time.NewTicker(cfg.SchedulerTick)
	defer tick.Stop()
	sweep := time.NewTicker(cfg.CacheSweepTick)
	defer sweep.Stop()

	// One immediate tick so a restart picks up queued work without waiting.
	scheduler.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			scheduler.RunOnce(ctx)
		case <-sweep.C:
			removed, err := cache.Sweep(ctx)
			if err != nil {
				logger.Warn().Err(err).Msg("worker: cache sweep failed")
			} else if removed > 0 {
				logger.Info().Int64("entries", removed).Msg("worker: cache sweep done")
			}
		}
	}
}

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"bulkgen/internal/adapter/repo"
	httpapi "bulkgen/internal/http"
	"bulkgen/internal/http/handlers"
	"bulkgen/internal/infra"
	"bulkgen/internal/stream"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx := context.Background()
	pool, err := infra.NewDBPool(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to connect database")
	}
	defer pool.Close()

	cipher, err := infra.NewCredentialCipher(cfg.CredentialKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure credential cipher")
	}

	jobs := repo.NewJobRepository(pool)
	notifier := repo.NewPollNotifier(jobs, 0, logger)
	publisher := stream.NewPublisher(jobs, notifier, cfg.DebounceWindow, cfg.HeartbeatTick, logger)

	app := handlers.NewApp(logger, jobs, cipher, publisher)
	router := httpapi.NewRouter(app, cfg)
	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().Msgf("api: listening on :%s", cfg.Port)
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: failed to shutdown server")
	}
	logger.Info().Msg("api: stopped")
}

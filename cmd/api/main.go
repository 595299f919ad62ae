package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"estatevault-backend/internal/config"
	"estatevault-backend/internal/interfaces/router"
	"estatevault-backend/internal/pkg/logger"

	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load: " + err.Error())
	}
	logger.Setup(cfg.LogLevel, cfg.Env)

	a, err := router.CreateApp(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("app create failed")
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.DB != nil {
		sqlDB, err := a.DB.DB()
		if err != nil {
			log.Fatal().Err(err).Msg("postgres: get DB")
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			log.Fatal().Err(err).Msg("postgres connection failed")
		}
		log.Info().Msg("Postgres connected")
	} else {
		log.Warn().Msg("no database configured; ledger routes are disabled")
	}
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	log.Info().Msg("Redis connected")

	if a.Services != nil {
		if n, err := a.Services.Mirror.RetryPending(ctx); err != nil {
			log.Warn().Err(err).Msg("mirror outbox retry failed")
		} else if n > 0 {
			log.Info().Int("groups", n).Msg("re-queued pending mirror events")
		}
		go a.Services.Scheduler.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Server running")
		errCh <- a.Fiber.Listen(":" + cfg.Port)
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("server stopped")
		}
	}
	if err := a.Fiber.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Warn().Err(err).Msg("shutdown incomplete")
	}
}

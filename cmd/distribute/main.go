// Command distribute runs one rent distribution batch and prints the summary.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"estatevault-backend/internal/application/distribution"
	"estatevault-backend/internal/config"
	"estatevault-backend/internal/domain"
	"estatevault-backend/internal/infrastructure/database"
	"estatevault-backend/internal/infrastructure/metrics"
	"estatevault-backend/internal/interfaces/router"
	"estatevault-backend/internal/middleware"
	"estatevault-backend/internal/pkg/logger"
	"estatevault-backend/internal/pkg/validation"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	flagSet := pflag.NewFlagSet("distribute", pflag.ContinueOnError)
	properties := flagSet.StringArray("property", nil, "limit the run to this property id (repeatable)")
	dryRun := flagSet.Bool("dry-run", false, "compute the distribution without writing")
	triggeredBy := flagSet.String("triggered-by", "cli", "recorded on the run")
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	ids := make([]uuid.UUID, 0, len(*properties))
	for _, raw := range *properties {
		id, err := validation.UUID("property", raw)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return 2
		}
		ids = append(ids, id)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load:", err)
		return 1
	}
	logger.Setup(cfg.LogLevel, cfg.Env)
	if cfg.DatabaseURL == "" {
		log.Error().Msg("no database configured")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		log.Error().Err(err).Msg("database open failed")
		return 1
	}
	var rdb *redis.Client
	if c, err := middleware.NewRedisClient(cfg.RedisURL); err != nil {
		log.Warn().Err(err).Msg("bad REDIS_URL; run is only guarded within this process")
	} else if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		log.Warn().Err(err).Msg("redis unavailable; run is only guarded within this process")
	} else {
		rdb = c
		defer rdb.Close()
	}

	svc := router.NewServices(ctx, cfg, db, rdb, metrics.New(nil))
	defer svc.Close()

	summary, err := svc.Coordinator.Run(ctx, distribution.RunOptions{
		PropertyIDs: ids,
		DryRun:      *dryRun,
		TriggeredBy: *triggeredBy,
	})
	if err != nil {
		log.Error().Err(err).Msg("distribution not started")
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(summary)
	if summary.Status != domain.RunStatusCompleted {
		return 1
	}
	return 0
}

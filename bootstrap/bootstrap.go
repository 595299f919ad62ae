package bootstrap

import (
	"estatevault-backend/internal/config"
	"estatevault-backend/internal/interfaces/router"
	"estatevault-backend/internal/pkg/logger"

	"github.com/gofiber/fiber/v2"
)

// New creates the Fiber app for serverless deployment (the api handler
// imports this package, not internal). Background work such as the
// distribution scheduler is not started here; use cmd/distribute on a cron.
func New() (*fiber.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Setup(cfg.LogLevel, cfg.Env)
	a, err := router.CreateApp(cfg)
	if err != nil {
		return nil, err
	}
	return a.Fiber, nil
}

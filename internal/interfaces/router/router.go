package router

import (
	"context"

	healthsvc "estatevault-backend/internal/application/health"
	holdsvc "estatevault-backend/internal/application/holdings"
	txsvc "estatevault-backend/internal/application/transactions"
	vaultsvc "estatevault-backend/internal/application/vault"
	"estatevault-backend/internal/config"
	"estatevault-backend/internal/infrastructure/database"
	"estatevault-backend/internal/infrastructure/metrics"
	authhandler "estatevault-backend/internal/interfaces/handlers/auth"
	borrowhandler "estatevault-backend/internal/interfaces/handlers/borrow"
	healthhandler "estatevault-backend/internal/interfaces/handlers/health"
	holdhandler "estatevault-backend/internal/interfaces/handlers/holdings"
	payhandler "estatevault-backend/internal/interfaces/handlers/payments"
	renthandler "estatevault-backend/internal/interfaces/handlers/rent"
	txhandler "estatevault-backend/internal/interfaces/handlers/transactions"
	vaulthandler "estatevault-backend/internal/interfaces/handlers/vault"
	"estatevault-backend/internal/middleware"
	"estatevault-backend/internal/pkg/constants"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// App is the HTTP app plus the resources the process owns.
type App struct {
	Fiber    *fiber.App
	DB       *gorm.DB
	Redis    *redis.Client
	Services *Services
}

// Close releases everything CreateApp opened.
func (a *App) Close() {
	if a.Services != nil {
		a.Services.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
}

func CreateApp(cfg *config.Config) (*App, error) {
	app := fiber.New(fiber.Config{
		DisableStartupMessage:   true,
		ErrorHandler:            middleware.ErrorHandler,
		EnableTrustedProxyCheck: true,
	})
	out := &App{Fiber: app}

	app.Use(middleware.CORS(middleware.CORSConfig{
		AllowedSuffix: cfg.FrontendURLEndsWith,
		DevPassword:   cfg.DevPassword,
	}))

	// Mounted before the session middleware so the raw body reaches signature verification.
	stripeWebhook := &payhandler.WebhookHandler{WebhookSecret: cfg.StripeWebhookSecret}
	app.Post("/api/v1/stripe/webhook", func(c *fiber.Ctx) error {
		if stripeWebhook.DB == nil {
			return c.Status(fiber.StatusServiceUnavailable).SendString("Webhook Error: database not configured")
		}
		return stripeWebhook.HandleWebhook(c)
	})

	rdb, err := middleware.NewRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	out.Redis = rdb
	app.Use(middleware.Session(rdb))
	app.Use(middleware.Tracing())
	app.Use(middleware.HealthMarker(rdb))
	app.Use(middleware.RouteLogger())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))

	checker := &healthsvc.Checker{Redis: rdb}
	hh := &healthhandler.Handlers{Checker: checker, HealthAdminKey: cfg.HealthAdminKey}
	app.Get("/reset", hh.Reset)
	app.Get("/health/json", hh.JSON)
	app.Get("/health/errors", hh.Errors)

	sessionCfg := middleware.SessionConfig{
		Secret:            cfg.SessionSecret,
		RedisURL:          cfg.RedisURL,
		AllowCrossSiteDev: cfg.AllowCrossSiteDev,
		IsProduction:      cfg.Env == "production",
	}
	ah := &authhandler.Handlers{Rdb: rdb, Config: sessionCfg}
	authGroup := app.Group("/api/v1/auth")
	authGroup.Get("/me", ah.Me)
	authGroup.Delete("/logout", ah.Logout)

	if cfg.DatabaseURL == "" {
		return out, nil
	}
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		out.Close()
		return nil, err
	}
	out.DB = db
	stripeWebhook.DB = db
	checker.DB = &healthsvc.GormPinger{DB: db}
	checker.Ledger = db

	svc := NewServices(context.Background(), cfg, db, rdb, m)
	out.Services = svc
	checker.Distribution = svc.Coordinator

	mountLedgerRoutes(app, db, svc)
	return out, nil
}

func mountLedgerRoutes(app *fiber.App, db *gorm.DB, svc *Services) {
	api := app.Group("/api/v1", middleware.RequireAuth())
	view := middleware.AuthorizePermission(constants.ViewData)

	vh := &vaulthandler.Handlers{Service: &vaultsvc.Service{DB: db}, Intents: svc.Funds}
	vg := api.Group("/vault")
	vg.Get("/view-vault", view, vh.ViewVault)
	vg.Patch("/link-wallet", view, vh.LinkWallet)
	vg.Post("/create-deposit-intent", view, vh.CreateDepositIntent)
	vg.Post("/reset", middleware.AuthorizePermission(constants.ResetVault), vh.Reset)

	hh := &holdhandler.Handlers{Service: &holdsvc.Service{DB: db}, Intents: svc.Funds}
	hg := api.Group("/holdings")
	hg.Get("/view-holdings", view, hh.ViewHoldings)
	hg.Post("/purchase-intent", view, hh.PurchaseIntent)

	bh := &borrowhandler.Handlers{Service: svc.Lending}
	borrow := middleware.AuthorizePermission(constants.Borrow)
	bg := api.Group("/borrow")
	bg.Post("/estimate", view, bh.Estimate)
	bg.Post("/open-position", borrow, bh.OpenPosition)
	bg.Post("/repay", borrow, bh.Repay)
	bg.Get("/view-positions", view, bh.ViewPositions)
	bg.Get("/view-position/:position_id", view, bh.ViewPosition)

	rh := &renthandler.Handlers{Rent: svc.Rent, Runner: svc.Coordinator}
	manage := middleware.AuthorizePermission(constants.ManageRent)
	run := middleware.AuthorizePermission(constants.RunDistribution)
	rg := api.Group("/rent")
	rg.Post("/create-payment", manage, rh.CreatePayment)
	rg.Get("/view-payments", manage, rh.ViewPayments)
	rg.Post("/run-distribution", run, rh.RunDistribution)
	rg.Get("/view-history", run, rh.ViewHistory)
	rg.Get("/view-distributions", view, rh.ViewDistributions)

	th := &txhandler.Handlers{Service: &txsvc.Service{DB: db}}
	api.Get("/transactions/get-transactions", view, th.GetTransactions)
}

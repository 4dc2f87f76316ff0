package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"cursive-backend/cache"
	"cursive-backend/config"
	"cursive-backend/controllers"
	"cursive-backend/database"
	"cursive-backend/jobs"
	"cursive-backend/middlewares"
	"cursive-backend/routes"
	"cursive-backend/services"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	cfg.Log.ConfigureLogging()
	middlewares.ConfigureJWT(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	// ---- Database
	if err := database.Connect(&cfg.Database); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}
	defer database.Close()
	if err := database.Migrate(database.DB); err != nil {
		logrus.WithError(err).Fatal("Failed to run migrations")
	}

	// ---- Services
	var checkout services.CheckoutProvider
	if cfg.Stripe.StripeEnabled() {
		checkout = services.NewStripeCheckout(&cfg.Stripe, cfg.Server.PublicAppURL)
	} else {
		logrus.Warn("STRIPE_SECRET_KEY not set, card payments disabled")
	}
	purchases := services.NewPurchaseService(checkout, services.NewMailer(&cfg.SMTP), cfg.Server.PublicAppURL)
	idempotency := services.NewIdempotencyStore(database.DB, cfg.Idempotency.TTL, cfg.Idempotency.StaleAfter)
	webhooks := services.NewStripeWebhookService(database.DB, purchases)

	// ---- Fiber app with global error handler + body limit
	app := fiber.New(fiber.Config{
		ErrorHandler: middlewares.ErrorHandler,
		BodyLimit:    cfg.Server.BodyLimitBytes,
		ReadTimeout:  cfg.Server.ReadTimeout,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency} ${locals:requestid}\n",
		Output: logrus.StandardLogger().Writer(),
	}))

	// ---- CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowCredentials: false, // using Bearer tokens, not cookies
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, Idempotency-Key",
		ExposeHeaders:    middlewares.HeaderIdempotentReplayed,
	}))

	// ---- Global rate limiter, shared through Redis when configured
	limiterCfg := limiter.Config{
		Max:        cfg.Server.RateLimitMax,
		Expiration: cfg.Server.RateLimitWindow,
		Next: func(c *fiber.Ctx) bool {
			return c.Path() == "/health" || c.Path() == "/api/webhooks/stripe"
		},
	}
	if cfg.Redis.URL != "" {
		storage, err := cache.NewRedisStorage(cfg.Redis.URL, "")
		if err != nil {
			logrus.WithError(err).Warn("Redis unavailable, rate limiter falls back to memory")
		} else {
			defer storage.Close()
			limiterCfg.Storage = storage
		}
	}
	app.Use(limiter.New(limiterCfg))

	// ---- Routes
	routes.Register(app, routes.Handlers{
		Marketplace: &controllers.MarketplaceController{
			Purchases:    purchases,
			DefaultLimit: cfg.Server.DefaultPageLimit,
			MaxLimit:     cfg.Server.MaxPageLimit,
			MaxLeads:     cfg.Server.MaxLeadsPerBuy,
		},
		Webhooks: &controllers.WebhookController{
			Service:       webhooks,
			WebhookSecret: cfg.Stripe.WebhookSecret,
		},
		Idempotency: idempotency,
	})

	// ---- Background jobs
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go jobs.NewIdempotencyCleanup(idempotency, cfg.Idempotency.CleanupInterval).Run(ctx)

	// ---- Start
	go func() {
		logrus.WithField("addr", cfg.Server.Address()).Info("API server starting")
		if err := app.Listen(cfg.Server.Address()); err != nil {
			logrus.WithError(err).Error("Server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down")
	if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
		logrus.WithError(err).Error("Graceful shutdown failed")
	}
}

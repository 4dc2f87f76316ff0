package routes

import (
	"github.com/gofiber/fiber/v2"

	"cursive-backend/controllers"
	"cursive-backend/middlewares"
	"cursive-backend/services"
)

// Handlers bundles the controllers and stores the routes depend on.
type Handlers struct {
	Marketplace *controllers.MarketplaceController
	Webhooks    *controllers.WebhookController
	Idempotency *services.IdempotencyStore
}

// Register wires all HTTP routes.
func Register(app *fiber.App, h Handlers) {
	app.Get("/health", controllers.Health)

	api := app.Group("/api")

	// Public auth endpoints
	api.Post("/auth/register", controllers.Register)
	api.Post("/auth/login", controllers.Login)

	// Provider callbacks (signature-verified, no JWT)
	api.Post("/webhooks/stripe", h.Webhooks.HandleStripe)

	// Protected endpoints (JWT auth)
	protected := api.Group("/marketplace")
	protected.Use(middlewares.IsAuthenticatedHeader())

	// Idempotency guard FIRST (not tied to request TX)
	protected.Use(middlewares.Idempotency(h.Idempotency))

	// Then per-request workspace transaction (commits/rolls back)
	protected.Use(middlewares.WorkspaceTx())

	protected.Get("/leads", h.Marketplace.ListLeads)
	protected.Get("/credits", h.Marketplace.Credits)
	protected.Post("/purchase", h.Marketplace.Purchase)
	protected.Get("/purchase", h.Marketplace.GetPurchase)
}

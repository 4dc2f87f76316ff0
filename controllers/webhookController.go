package controllers

import (
	"cursive-backend/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76/webhook"
)

// WebhookController receives provider callbacks. Routes are public; the
// payload signature is the authentication.
type WebhookController struct {
	Service       *services.StripeWebhookService
	WebhookSecret string
}

func (wc *WebhookController) HandleStripe(c *fiber.Ctx) error {
	if wc.WebhookSecret == "" {
		return fiber.NewError(fiber.StatusServiceUnavailable, "stripe webhooks not configured")
	}

	payload := append([]byte(nil), c.Body()...)
	event, err := webhook.ConstructEventWithOptions(payload, c.Get("Stripe-Signature"), wc.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		logrus.WithError(err).Warn("Rejected stripe webhook with invalid signature")
		return fiber.NewError(fiber.StatusBadRequest, "invalid signature")
	}

	if err := wc.Service.Handle(c.UserContext(), event); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "webhook processing failed")
	}
	return c.JSON(fiber.Map{"received": true})
}

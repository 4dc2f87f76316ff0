package controllers

import (
	"context"
	"time"

	"cursive-backend/database"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

func Health(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	if err := database.Ping(ctx, database.DB); err != nil {
		logrus.WithError(err).Warn("Health check failed")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

package middlewares

import (
	"errors"

	"cursive-backend/services"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// ErrorHandler centralizes error responses and keeps messages sanitized.
func ErrorHandler(c *fiber.Ctx, err error) error {
	// 1) Fiber errors (use their status code + message)
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"message": fe.Message})
	}

	// 2) Business rule violations (status + code + payload)
	var be *services.BusinessError
	if errors.As(err, &be) {
		body := fiber.Map{
			"success": false,
			"message": be.Message,
			"code":    be.Code,
		}
		if be.Details != nil {
			body["details"] = be.Details
		}
		return c.Status(be.Status).JSON(body)
	}

	// 3) Validation errors (400 + per-field info)
	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		out := make(map[string]string, len(ve))
		for _, fe := range ve {
			out[fe.Field()] = fe.Tag()
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"message": "validation failed",
			"errors":  out,
		})
	}

	// 4) Unknown errors (500)
	logrus.WithFields(logrus.Fields{
		"method":       c.Method(),
		"path":         c.Path(),
		"workspace_id": WorkspaceID(c),
		"request_id":   c.GetRespHeader(fiber.HeaderXRequestID),
	}).WithError(err).Error("internal error")
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"message": "internal server error",
	})
}

package middlewares

import (
	"strings"

	"cursive-backend/database"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const (
	localTx          = "tx"
	localAfterCommit = "afterCommit"
)

// WorkspaceTx opens a per-request DB transaction for authenticated requests.
// Order: run AFTER IsAuthenticatedHeader() (so workspaceID is present),
// and AFTER Idempotency() (so idempotency records aren't tied to the handler TX).
func WorkspaceTx() fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		if strings.TrimSpace(WorkspaceID(c)) == "" {
			// Public endpoints (e.g., /login) have no workspace; just proceed.
			return c.Next()
		}

		tx := database.DB.WithContext(c.UserContext()).Begin()
		if tx.Error != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to begin transaction")
		}

		defer func() {
			if r := recover(); r != nil {
				_ = tx.Rollback()
				panic(r) // re-panic after rollback so Fiber's recover middleware can catch
			}
			if err != nil {
				_ = tx.Rollback()
				return
			}
			// Handlers that answer with an error status without returning an error still roll back.
			if status := c.Response().StatusCode(); status >= fiber.StatusBadRequest {
				_ = tx.Rollback()
				return
			}
			if e := tx.Commit().Error; e != nil {
				logrus.WithError(e).Error("tx commit failed")
				err = fiber.NewError(fiber.StatusInternalServerError, "transaction commit failed")
				return
			}
			runAfterCommit(c)
		}()

		c.Locals(localTx, tx)

		err = c.Next()
		return err
	}
}

// AfterCommit schedules fn to run once the request transaction commits.
// Without a request transaction fn runs immediately.
func AfterCommit(c *fiber.Ctx, fn func()) {
	if c.Locals(localTx) == nil {
		fn()
		return
	}
	hooks, _ := c.Locals(localAfterCommit).([]func())
	c.Locals(localAfterCommit, append(hooks, fn))
}

func runAfterCommit(c *fiber.Ctx) {
	hooks, _ := c.Locals(localAfterCommit).([]func())
	for _, fn := range hooks {
		fn()
	}
}

package middlewares

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"cursive-backend/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const (
	HeaderIdempotencyKey      = "Idempotency-Key"
	HeaderIdempotentReplayed  = "Idempotent-Replayed"
	localIdempotencyKey       = "idempotencyKey"
	maxIdempotencyKeyLength   = 128
	bodyIdempotencyKeyJSONKey = "idempotencyKey"
)

// Idempotency guards mutating requests that carry a key, either in the
// Idempotency-Key header or as "idempotencyKey" in the JSON body.
// Run it AFTER IsAuthenticatedHeader() and BEFORE WorkspaceTx() so the
// ledger rows are written outside the handler transaction.
func Idempotency(store *services.IdempotencyStore) fiber.Handler {
	return func(c *fiber.Ctx) (err error) {
		method := strings.ToUpper(c.Method())
		if method != fiber.MethodPost && method != fiber.MethodPut && method != fiber.MethodPatch && method != fiber.MethodDelete {
			return c.Next()
		}

		key, err := requestIdempotencyKey(c)
		if err != nil {
			return err
		}
		if key == "" {
			return c.Next()
		}

		workspaceID := WorkspaceID(c)
		userID := UserID(c)
		if workspaceID == "" || userID == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "auth context missing")
		}

		scope := services.IdempotencyScope{
			WorkspaceID: workspaceID,
			UserID:      userID,
			Endpoint:    method + " " + c.Path(),
			Key:         key,
			RequestHash: requestHash(method, c.Path(), c.Body(), workspaceID, userID),
		}
		log := logrus.WithFields(logrus.Fields{
			"workspace_id":    workspaceID,
			"endpoint":        scope.Endpoint,
			"idempotency_key": key,
		})

		rec, decision, err := store.Begin(c.UserContext(), scope)
		if err != nil {
			return err
		}
		if decision == services.IdempotencyReplay {
			log.Debug("Replaying stored idempotent response")
			c.Set(HeaderIdempotentReplayed, "true")
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Status(rec.ResponseStatus).Send(rec.ResponseBody)
		}

		c.Locals(localIdempotencyKey, key)

		defer func() {
			if r := recover(); r != nil {
				if ferr := store.Fail(c.UserContext(), scope, fmt.Sprintf("panic: %v", r)); ferr != nil {
					log.WithError(ferr).Error("Could not release idempotency key")
				}
				panic(r)
			}
		}()

		if err = c.Next(); err != nil {
			if ferr := store.Fail(c.UserContext(), scope, err.Error()); ferr != nil {
				log.WithError(ferr).Error("Could not release idempotency key")
			}
			return err
		}

		status := c.Response().StatusCode()
		if status >= 200 && status < 300 {
			if cerr := store.Complete(c.UserContext(), scope, status, c.Response().Body()); cerr != nil {
				log.WithError(cerr).Error("Could not store idempotent response")
			}
			return nil
		}
		if ferr := store.Fail(c.UserContext(), scope, fmt.Sprintf("status %d", status)); ferr != nil {
			log.WithError(ferr).Error("Could not release idempotency key")
		}
		return nil
	}
}

// IdempotencyKey returns the key accepted for this request, if any.
func IdempotencyKey(c *fiber.Ctx) string {
	key, _ := c.Locals(localIdempotencyKey).(string)
	return key
}

func requestIdempotencyKey(c *fiber.Ctx) (string, error) {
	key := strings.TrimSpace(c.Get(HeaderIdempotencyKey))
	if key == "" {
		key = bodyIdempotencyKey(c.Body())
	}
	if len(key) > maxIdempotencyKeyLength {
		return "", fiber.NewError(fiber.StatusBadRequest, "Idempotency-Key too long")
	}
	return key, nil
}

func bodyIdempotencyKey(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return ""
	}
	raw, ok := probe[bodyIdempotencyKeyJSONKey]
	if !ok {
		return ""
	}
	var key string
	if err := json.Unmarshal(raw, &key); err != nil {
		return ""
	}
	return strings.TrimSpace(key)
}

// requestHash builds a deterministic fingerprint: method|path|body|workspace|user.
func requestHash(method, path string, body []byte, workspaceID, userID string) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{'\n'})
	h.Write([]byte(path))
	h.Write([]byte{'\n'})
	h.Write(canonicalBody(body))
	h.Write([]byte{'\n'})
	h.Write([]byte(workspaceID))
	h.Write([]byte{'\n'})
	h.Write([]byte(userID))
	return hex.EncodeToString(h.Sum(nil))
}

// canonicalBody re-encodes JSON bodies so whitespace and key order do not
// change the hash. Anything that is not JSON is hashed as sent.
func canonicalBody(body []byte) []byte {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return body
	}
	out, err := json.Marshal(v)
	if err != nil {
		return body
	}
	return out
}

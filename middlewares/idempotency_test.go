package middlewares

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cursive-backend/services"
	"cursive-backend/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// idempotencyApp fakes authentication and counts handler executions.
func idempotencyApp(store *services.IdempotencyStore, calls *int32, status int) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Use(func(c *fiber.Ctx) error {
		c.Locals(localUserID, "user-1")
		c.Locals(localWorkspaceID, "ws-1")
		return c.Next()
	})
	app.Use(Idempotency(store))
	app.Post("/orders", func(c *fiber.Ctx) error {
		n := atomic.AddInt32(calls, 1)
		return c.Status(status).JSON(fiber.Map{"call": n, "key": IdempotencyKey(c)})
	})
	return app
}

func post(t *testing.T, app *fiber.App, body string, headers map[string]string) (*http.Response, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/orders", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(raw)
}

func TestIdempotencyReplaysHeaderKey(t *testing.T) {
	store := services.NewIdempotencyStore(testutil.NewDB(t), time.Hour, time.Minute)
	var calls int32
	app := idempotencyApp(store, &calls, http.StatusCreated)
	headers := map[string]string{HeaderIdempotencyKey: "order-1"}

	first, firstBody := post(t, app, `{"sku":"a"}`, headers)
	second, secondBody := post(t, app, `{"sku":"a"}`, headers)

	assert.Equal(t, http.StatusCreated, first.StatusCode)
	assert.Equal(t, http.StatusCreated, second.StatusCode)
	assert.Equal(t, firstBody, secondBody)
	assert.Equal(t, "true", second.Header.Get(HeaderIdempotentReplayed))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
	assert.Contains(t, firstBody, `"key":"order-1"`)
}

func TestIdempotencyReadsKeyFromBody(t *testing.T) {
	store := services.NewIdempotencyStore(testutil.NewDB(t), time.Hour, time.Minute)
	var calls int32
	app := idempotencyApp(store, &calls, http.StatusOK)

	_, _ = post(t, app, `{"sku":"a","idempotencyKey":"body-key"}`, nil)
	// Same document with different key order and whitespace.
	resp, _ := post(t, app, `{ "idempotencyKey": "body-key",  "sku": "a" }`, nil)

	assert.Equal(t, "true", resp.Header.Get(HeaderIdempotentReplayed))
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestIdempotencyWithoutKeyAlwaysRuns(t *testing.T) {
	store := services.NewIdempotencyStore(testutil.NewDB(t), time.Hour, time.Minute)
	var calls int32
	app := idempotencyApp(store, &calls, http.StatusOK)

	post(t, app, `{"sku":"a"}`, nil)
	post(t, app, `{"sku":"a"}`, nil)
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestIdempotencyInFlightConflict(t *testing.T) {
	db := testutil.NewDB(t)
	store := services.NewIdempotencyStore(db, time.Hour, time.Minute)
	var calls int32
	app := idempotencyApp(store, &calls, http.StatusOK)

	body := `{"sku":"a"}`
	_, _, err := store.Begin(context.Background(), services.IdempotencyScope{
		WorkspaceID: "ws-1",
		UserID:      "user-1",
		Endpoint:    "POST /orders",
		Key:         "busy",
		RequestHash: requestHash(http.MethodPost, "/orders", []byte(body), "ws-1", "user-1"),
	})
	require.NoError(t, err)

	resp, raw := post(t, app, body, map[string]string{HeaderIdempotencyKey: "busy"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, raw, services.CodeIdempotencyInFlight)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestIdempotencyDoesNotCacheErrors(t *testing.T) {
	store := services.NewIdempotencyStore(testutil.NewDB(t), time.Hour, time.Minute)
	var calls int32
	app := idempotencyApp(store, &calls, http.StatusBadRequest)
	headers := map[string]string{HeaderIdempotencyKey: "retry-me"}

	post(t, app, `{}`, headers)
	resp, _ := post(t, app, `{}`, headers)

	assert.Empty(t, resp.Header.Get(HeaderIdempotentReplayed))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestIdempotencyRejectsLongKeys(t *testing.T) {
	store := services.NewIdempotencyStore(testutil.NewDB(t), time.Hour, time.Minute)
	var calls int32
	app := idempotencyApp(store, &calls, http.StatusOK)

	resp, _ := post(t, app, `{}`, map[string]string{HeaderIdempotencyKey: strings.Repeat("k", 129)})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestCanonicalBody(t *testing.T) {
	assert.Equal(t, canonicalBody([]byte(`{"b":1,"a":[1,2]}`)), canonicalBody([]byte(`{ "a": [1, 2], "b": 1 }`)))
	assert.Equal(t, []byte("not json"), canonicalBody([]byte("not json")))
}

package controllers_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cursive-backend/controllers"
	"cursive-backend/middlewares"
	"cursive-backend/models"
	"cursive-backend/routes"
	"cursive-backend/services"
	"cursive-backend/testutil"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76/webhook"
	"gorm.io/gorm"
)

const testWebhookSecret = "whsec_test_secret"

type apiFixture struct {
	app     *fiber.App
	db      *gorm.DB
	ws      models.Workspace
	user    models.User
	partner models.Partner
	token   string
}

func newAPIFixture(t *testing.T, balance string) *apiFixture {
	t.Helper()
	db := testutil.NewDB(t)
	testutil.UseGlobalDB(t, db)
	middlewares.ConfigureJWT("test-secret", time.Hour)

	purchases := services.NewPurchaseService(nil, nil, "https://app.test")
	app := fiber.New(fiber.Config{ErrorHandler: middlewares.ErrorHandler})
	routes.Register(app, routes.Handlers{
		Marketplace: &controllers.MarketplaceController{
			Purchases:    purchases,
			DefaultLimit: 25,
			MaxLimit:     100,
			MaxLeads:     100,
		},
		Webhooks: &controllers.WebhookController{
			Service:       services.NewStripeWebhookService(db, purchases),
			WebhookSecret: testWebhookSecret,
		},
		Idempotency: services.NewIdempotencyStore(db, time.Hour, time.Minute),
	})

	ws := testutil.SeedWorkspace(t, db, balance)
	user := testutil.SeedUser(t, db, ws.ID, "buyer@acme.example")
	token, err := middlewares.GenerateJWT(user.ID, ws.ID)
	require.NoError(t, err)

	return &apiFixture{
		app:     app,
		db:      db,
		ws:      ws,
		user:    user,
		partner: testutil.SeedPartner(t, db),
		token:   token,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, out
}

func decode(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(raw, &m), string(raw))
	return m
}

func (f *apiFixture) balance(t *testing.T) string {
	t.Helper()
	var ws models.Workspace
	require.NoError(t, f.db.First(&ws, "id = ?", f.ws.ID).Error)
	return ws.CreditBalance.StringFixed(2)
}

func TestPurchaseWithCreditsOverHTTP(t *testing.T) {
	f := newAPIFixture(t, "1.00")
	ids := []string{
		testutil.SeedLead(t, f.db, f.partner.ID, "0.05").ID,
		testutil.SeedLead(t, f.db, f.partner.ID, "0.05").ID,
		testutil.SeedLead(t, f.db, f.partner.ID, "0.05").ID,
	}

	resp, raw := f.do(t, http.MethodPost, "/api/marketplace/purchase", map[string]any{
		"leadIds":       ids,
		"paymentMethod": "credits",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	body := decode(t, raw)
	assert.Equal(t, true, body["success"])
	assert.InDelta(t, 0.85, body["creditsRemaining"], 1e-9)
	assert.InDelta(t, 0.15, body["totalPrice"], 1e-9)
	assert.Len(t, body["leads"], 3)
	assert.Equal(t, "0.85", f.balance(t))
}

func TestPurchaseReplaysIdempotentResponse(t *testing.T) {
	f := newAPIFixture(t, "1.00")
	lead := testutil.SeedLead(t, f.db, f.partner.ID, "0.05")
	payload := map[string]any{
		"leadIds":        []string{lead.ID},
		"paymentMethod":  "credits",
		"idempotencyKey": uuid.NewString(),
	}

	first, firstBody := f.do(t, http.MethodPost, "/api/marketplace/purchase", payload, nil)
	require.Equal(t, http.StatusOK, first.StatusCode, string(firstBody))
	assert.Empty(t, first.Header.Get(middlewares.HeaderIdempotentReplayed))

	second, secondBody := f.do(t, http.MethodPost, "/api/marketplace/purchase", payload, nil)
	require.Equal(t, http.StatusOK, second.StatusCode, string(secondBody))
	assert.Equal(t, "true", second.Header.Get(middlewares.HeaderIdempotentReplayed))
	assert.Equal(t, firstBody, secondBody)

	assert.Equal(t, "0.95", f.balance(t))
	var purchases int64
	require.NoError(t, f.db.Model(&models.Purchase{}).Count(&purchases).Error)
	assert.EqualValues(t, 1, purchases)

	var stored models.Purchase
	require.NoError(t, f.db.First(&stored).Error)
	assert.Equal(t, payload["idempotencyKey"], stored.IdempotencyKey)
}

func TestPurchaseKeyReusedWithDifferentBody(t *testing.T) {
	f := newAPIFixture(t, "1.00")
	a := testutil.SeedLead(t, f.db, f.partner.ID, "0.05")
	b := testutil.SeedLead(t, f.db, f.partner.ID, "0.05")
	key := uuid.NewString()

	resp, raw := f.do(t, http.MethodPost, "/api/marketplace/purchase", map[string]any{
		"leadIds": []string{a.ID}, "paymentMethod": "credits", "idempotencyKey": key,
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	resp, raw = f.do(t, http.MethodPost, "/api/marketplace/purchase", map[string]any{
		"leadIds": []string{b.ID}, "paymentMethod": "credits", "idempotencyKey": key,
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, services.CodeIdempotencyMismatch, decode(t, raw)["code"])
	assert.True(t, func() bool {
		var l models.Lead
		require.NoError(t, f.db.First(&l, "id = ?", b.ID).Error)
		return l.Available()
	}())
}

func TestPurchaseInsufficientCreditsCanBeRetried(t *testing.T) {
	f := newAPIFixture(t, "0.10")
	ids := []string{
		testutil.SeedLead(t, f.db, f.partner.ID, "0.05").ID,
		testutil.SeedLead(t, f.db, f.partner.ID, "0.05").ID,
		testutil.SeedLead(t, f.db, f.partner.ID, "0.05").ID,
	}
	key := uuid.NewString()
	payload := map[string]any{"leadIds": ids, "paymentMethod": "credits"}
	headers := map[string]string{middlewares.HeaderIdempotencyKey: key}

	resp, raw := f.do(t, http.MethodPost, "/api/marketplace/purchase", payload, headers)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode(t, raw)
	assert.Equal(t, services.CodeInsufficientCredits, body["code"])
	assert.Equal(t, "0.10", f.balance(t))

	require.NoError(t, f.db.Model(&models.Workspace{}).Where("id = ?", f.ws.ID).
		Update("credit_balance", "5.00").Error)

	resp, raw = f.do(t, http.MethodPost, "/api/marketplace/purchase", payload, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	assert.Empty(t, resp.Header.Get(middlewares.HeaderIdempotentReplayed))
	assert.Equal(t, "4.85", f.balance(t))
}

func TestPurchaseValidation(t *testing.T) {
	f := newAPIFixture(t, "1.00")
	lead := testutil.SeedLead(t, f.db, f.partner.ID, "0.05")

	cases := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"no leads", map[string]any{"leadIds": []string{}, "paymentMethod": "credits"}, "leadIds"},
		{"not a uuid", map[string]any{"leadIds": []string{"abc"}, "paymentMethod": "credits"}, "leadIds[0]"},
		{"duplicate ids", map[string]any{"leadIds": []string{lead.ID, lead.ID}, "paymentMethod": "credits"}, "leadIds"},
		{"unknown method", map[string]any{"leadIds": []string{lead.ID}, "paymentMethod": "paypal"}, "paymentMethod"},
		{"bad idempotency key", map[string]any{"leadIds": []string{lead.ID}, "paymentMethod": "credits", "idempotencyKey": "nope"}, "idempotencyKey"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, raw := f.do(t, http.MethodPost, "/api/marketplace/purchase", tc.body, nil)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode, string(raw))
			body := decode(t, raw)
			assert.Equal(t, "validation failed", body["message"])
			errs, ok := body["errors"].(map[string]any)
			require.True(t, ok)
			assert.Contains(t, errs, tc.field)
		})
	}
}

func TestPurchaseUnavailableLeads(t *testing.T) {
	f := newAPIFixture(t, "1.00")
	missing := uuid.NewString()

	resp, raw := f.do(t, http.MethodPost, "/api/marketplace/purchase", map[string]any{
		"leadIds": []string{missing}, "paymentMethod": "credits",
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode(t, raw)
	assert.Equal(t, services.CodeLeadsUnavailable, body["code"])
	details := body["details"].(map[string]any)
	assert.Equal(t, []any{missing}, details["unavailableLeadIds"])
}

func TestPurchaseWithStripeWhenDisabled(t *testing.T) {
	f := newAPIFixture(t, "1.00")
	lead := testutil.SeedLead(t, f.db, f.partner.ID, "0.05")

	resp, raw := f.do(t, http.MethodPost, "/api/marketplace/purchase", map[string]any{
		"leadIds": []string{lead.ID}, "paymentMethod": "stripe",
	}, nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, services.CodePaymentUnavailable, decode(t, raw)["code"])
}

func TestPurchaseRequiresAuth(t *testing.T) {
	f := newAPIFixture(t, "1.00")
	f.token = ""
	resp, _ := f.do(t, http.MethodPost, "/api/marketplace/purchase", map[string]any{}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	f.token = "not-a-jwt"
	resp, _ = f.do(t, http.MethodGet, "/api/marketplace/leads", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestGetPurchaseAndHistory(t *testing.T) {
	f := newAPIFixture(t, "1.00")
	lead := testutil.SeedLead(t, f.db, f.partner.ID, "0.05")

	resp, raw := f.do(t, http.MethodPost, "/api/marketplace/purchase", map[string]any{
		"leadIds": []string{lead.ID}, "paymentMethod": "credits",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	purchaseID := decode(t, raw)["purchase"].(map[string]any)["id"].(string)

	resp, raw = f.do(t, http.MethodGet, "/api/marketplace/purchase?purchaseId="+purchaseID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	body := decode(t, raw)
	leads := body["leads"].([]any)
	require.Len(t, leads, 1)
	assert.Equal(t, "hank@globex.example", leads[0].(map[string]any)["email"])
	items := body["purchase"].(map[string]any)["items"].([]any)
	require.Len(t, items, 1)
	item := items[0].(map[string]any)
	assert.Equal(t, lead.ID, item["lead_id"])
	for _, field := range []string{"partner_id", "commission_rate", "commission_amount", "commission_bonuses"} {
		assert.NotContains(t, item, field)
	}

	resp, raw = f.do(t, http.MethodGet, "/api/marketplace/purchase", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	assert.EqualValues(t, 1, decode(t, raw)["total"])

	resp, _ = f.do(t, http.MethodGet, "/api/marketplace/purchase?purchaseId=not-a-uuid", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Another workspace cannot see it.
	other := testutil.SeedWorkspace(t, f.db, "0")
	otherUser := testutil.SeedUser(t, f.db, other.ID, "other@acme.example")
	token, err := middlewares.GenerateJWT(otherUser.ID, other.ID)
	require.NoError(t, err)
	f.token = token
	resp, raw = f.do(t, http.MethodGet, "/api/marketplace/purchase?purchaseId="+purchaseID, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, services.CodeNotFound, decode(t, raw)["code"])
}

func TestGetPendingPurchaseMasksLeads(t *testing.T) {
	f := newAPIFixture(t, "0.00")
	lead := testutil.SeedLead(t, f.db, f.partner.ID, "1.00")
	pending := models.Purchase{
		WorkspaceID:     f.ws.ID,
		BuyerUserID:     f.user.ID,
		TotalLeads:      1,
		TotalPrice:      decimal.RequireFromString("1.00"),
		PaymentMethod:   models.PaymentMethodStripe,
		Status:          models.PurchaseStatusPending,
		StripeSessionID: "cs_test_pending",
		Items: []models.PurchaseItem{{
			LeadID:           lead.ID,
			PartnerID:        f.partner.ID,
			PriceAtPurchase:  decimal.RequireFromString("1.00"),
			CommissionRate:   decimal.RequireFromString("0.30"),
			CommissionAmount: decimal.RequireFromString("0.30"),
		}},
	}
	require.NoError(t, f.db.Create(&pending).Error)

	resp, raw := f.do(t, http.MethodGet, "/api/marketplace/purchase?purchaseId="+pending.ID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	body := decode(t, raw)
	assert.Equal(t, "pending", body["purchase"].(map[string]any)["status"])
	leads := body["leads"].([]any)
	require.Len(t, leads, 1)
	got := leads[0].(map[string]any)
	assert.Equal(t, "h***@globex.example", got["email"])
	assert.Equal(t, "*******0100", got["phone"])
	assert.Equal(t, "******o", got["last_name"])
	assert.NotContains(t, string(raw), "hank@globex.example")
	assert.NotContains(t, string(raw), "Scorpio")
}

func TestPurchaseTrimsPaddedLeadIDs(t *testing.T) {
	f := newAPIFixture(t, "1.00")
	lead := testutil.SeedLead(t, f.db, f.partner.ID, "0.05")

	resp, raw := f.do(t, http.MethodPost, "/api/marketplace/purchase", map[string]any{
		"leadIds":       []string{"  " + lead.ID + " "},
		"paymentMethod": " credits ",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	assert.Equal(t, "0.95", f.balance(t))
}

func TestListLeadsMasksContactDetails(t *testing.T) {
	f := newAPIFixture(t, "1.00")
	testutil.SeedLead(t, f.db, f.partner.ID, "0.05")
	testutil.SeedLead(t, f.db, f.partner.ID, "1.50")

	resp, raw := f.do(t, http.MethodGet, "/api/marketplace/leads?maxPrice=1&limit=10", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	body := decode(t, raw)
	assert.EqualValues(t, 1, body["total"])
	lead := body["leads"].([]any)[0].(map[string]any)
	assert.Equal(t, "h***@globex.example", lead["email"])
	assert.Equal(t, "*******0100", lead["phone"])
	assert.Equal(t, "******o", lead["last_name"])
}

func TestCreditsEndpoint(t *testing.T) {
	f := newAPIFixture(t, "3.00")
	resp, raw := f.do(t, http.MethodGet, "/api/marketplace/credits", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	body := decode(t, raw)
	assert.InDelta(t, 3.0, body["balance"], 1e-9)
	assert.Empty(t, body["transactions"])
}

func TestRegisterAndLoginOverHTTP(t *testing.T) {
	f := newAPIFixture(t, "0")
	f.token = ""

	resp, raw := f.do(t, http.MethodPost, "/api/auth/register", map[string]any{
		"workspace_name":   "Initech",
		"first_name":       "Peter",
		"last_name":        "Gibbons",
		"email":            "peter@initech.example",
		"password":         "tps-reports",
		"password_confirm": "tps-reports",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(raw))
	assert.NotEmpty(t, decode(t, raw)["token"])

	resp, raw = f.do(t, http.MethodPost, "/api/auth/register", map[string]any{
		"workspace_name":   "Initech",
		"first_name":       "Peter",
		"last_name":        "Gibbons",
		"email":            "peter@initech.example",
		"password":         "tps-reports",
		"password_confirm": "tps-reports",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, services.CodeEmailTaken, decode(t, raw)["code"])

	resp, raw = f.do(t, http.MethodPost, "/api/auth/login", map[string]any{
		"email": "peter@initech.example", "password": "tps-reports",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))
	f.token = decode(t, raw)["token"].(string)

	resp, raw = f.do(t, http.MethodGet, "/api/marketplace/credits", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(raw))

	f.token = ""
	resp, _ = f.do(t, http.MethodPost, "/api/auth/login", map[string]any{
		"email": "peter@initech.example", "password": "wrong-password",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func signedWebhook(t *testing.T, f *apiFixture, payload []byte, secret string) *http.Response {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
	})
	req := httptest.NewRequest(http.MethodPost, "/api/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)
	resp, err := f.app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	return resp
}

func TestStripeWebhookSignature(t *testing.T) {
	f := newAPIFixture(t, "0")
	payload := []byte(fmt.Sprintf(`{"id":"evt_sig","object":"event","type":"charge.refunded","data":{"object":{"id":"ch_1"}},"created":%d}`, time.Now().Unix()))

	resp := signedWebhook(t, f, payload, "whsec_wrong")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = signedWebhook(t, f, payload, testWebhookSecret)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var rec models.WebhookEvent
	require.NoError(t, f.db.First(&rec, "event_id = ?", "evt_sig").Error)
	assert.Equal(t, "charge.refunded", rec.EventType)
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t, "0")
	resp, raw := f.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode(t, raw)["status"])
}

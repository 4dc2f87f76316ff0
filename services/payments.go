package services

import (
	"context"
	"fmt"
	"strings"

	"cursive-backend/config"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
)

// CheckoutLine is one lead on a hosted checkout page.
type CheckoutLine struct {
	LeadID      string
	Description string
	Price       decimal.Decimal
}

type CheckoutRequest struct {
	PurchaseID    string
	WorkspaceID   string
	CustomerEmail string
	Lines         []CheckoutLine
}

type CheckoutSession struct {
	ID  string
	URL string
}

// CheckoutProvider creates hosted payment pages.
type CheckoutProvider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
}

// StripeCheckout creates Stripe Checkout Sessions in payment mode.
type StripeCheckout struct {
	api        *client.API
	currency   string
	successURL string
	cancelURL  string
}

func NewStripeCheckout(cfg *config.StripeConfig, publicAppURL string) *StripeCheckout {
	api := &client.API{}
	api.Init(cfg.SecretKey, nil)

	base := strings.TrimRight(publicAppURL, "/")
	return &StripeCheckout{
		api:        api,
		currency:   cfg.Currency,
		successURL: base + cfg.SuccessPath,
		cancelURL:  base + cfg.CancelPath,
	}
}

func (s *StripeCheckout) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Lines))
	for _, line := range req.Lines {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(s.currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(line.Description),
				},
				UnitAmount: stripe.Int64(ToCents(line.Price)),
			},
			Quantity: stripe.Int64(1),
		})
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         lineItems,
		SuccessURL:        stripe.String(strings.ReplaceAll(s.successURL, "{PURCHASE_ID}", req.PurchaseID)),
		CancelURL:         stripe.String(s.cancelURL),
		ClientReferenceID: stripe.String(req.PurchaseID),
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	params.Context = ctx
	params.AddMetadata(MetadataPurchaseID, req.PurchaseID)
	params.AddMetadata(MetadataWorkspaceID, req.WorkspaceID)
	params.AddMetadata(MetadataKind, MetadataKindMarketplacePurchase)
	params.SetIdempotencyKey("checkout-" + req.PurchaseID)

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe checkout session: %w", err)
	}
	return &CheckoutSession{ID: sess.ID, URL: sess.URL}, nil
}

// Metadata keys attached to checkout sessions and read back by the webhook.
const (
	MetadataPurchaseID              = "purchase_id"
	MetadataWorkspaceID             = "workspace_id"
	MetadataKind                    = "type"
	MetadataKindMarketplacePurchase = "marketplace_purchase"
)

var hundred = decimal.NewFromInt(100)

// ToCents converts a dollar amount to integer cents, rounding half-up.
func ToCents(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

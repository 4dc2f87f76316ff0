package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"cursive-backend/models"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const ProviderStripe = "stripe"

// Stripe event types handled by StripeWebhookService.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventCheckoutExpired       = "checkout.session.expired"
	EventCheckoutAsyncPaid     = "checkout.session.async_payment_succeeded"
	EventCheckoutAsyncFailed   = "checkout.session.async_payment_failed"
	EventSubscriptionCreated   = "customer.subscription.created"
	EventSubscriptionUpdated   = "customer.subscription.updated"
	EventSubscriptionDeleted   = "customer.subscription.deleted"
	EventInvoicePaymentSuccess = "invoice.payment_succeeded"
	EventInvoicePaymentFailed  = "invoice.payment_failed"
)

// StripeWebhookService applies verified Stripe events. Every event is
// recorded once in webhook_events; redelivered events that already
// processed are acknowledged without side effects.
type StripeWebhookService struct {
	db        *gorm.DB
	purchases *PurchaseService
	now       func() time.Time
}

func NewStripeWebhookService(db *gorm.DB, purchases *PurchaseService) *StripeWebhookService {
	return &StripeWebhookService{
		db:        db,
		purchases: purchases,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes one event. A returned error asks the provider to retry.
func (s *StripeWebhookService) Handle(ctx context.Context, event stripe.Event) error {
	eventType := string(event.Type)
	log := logrus.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"event_type": eventType,
	})

	var raw []byte
	if event.Data != nil {
		raw = event.Data.Raw
	}

	rec := models.WebhookEvent{
		Provider:  ProviderStripe,
		EventID:   event.ID,
		EventType: eventType,
		Payload:   datatypes.JSON(raw),
	}
	db := s.db.WithContext(ctx)
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if res.Error != nil {
		return fmt.Errorf("record webhook event: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if err := db.Where("provider = ? AND event_id = ?", ProviderStripe, event.ID).First(&rec).Error; err != nil {
			return fmt.Errorf("load webhook event: %w", err)
		}
		if rec.ProcessedAt != nil {
			log.Debug("Duplicate webhook event ignored")
			return nil
		}
	}

	err := s.dispatch(ctx, eventType, raw)
	updates := map[string]any{"processing_error": ""}
	if err != nil {
		updates["processing_error"] = err.Error()
		log.WithError(err).Error("Webhook processing failed")
	} else {
		updates["processed_at"] = s.now()
	}
	if uerr := db.Model(&models.WebhookEvent{}).Where("id = ?", rec.ID).Updates(updates).Error; uerr != nil {
		log.WithError(uerr).Warn("Could not update webhook event status")
	}
	return err
}

func (s *StripeWebhookService) dispatch(ctx context.Context, eventType string, raw []byte) error {
	switch eventType {
	case EventCheckoutCompleted, EventCheckoutExpired, EventCheckoutAsyncPaid, EventCheckoutAsyncFailed:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(raw, &sess); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}
		switch eventType {
		case EventCheckoutCompleted:
			return s.checkoutCompleted(ctx, &sess)
		case EventCheckoutAsyncPaid:
			return s.settleCheckout(ctx, purchaseIDFromSession(&sess))
		case EventCheckoutAsyncFailed:
			return s.failCheckout(ctx, &sess, "delayed payment failed")
		}
		return s.failCheckout(ctx, &sess, "checkout session expired")

	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return s.subscriptionChanged(ctx, eventType, &sub)

	case EventInvoicePaymentSuccess, EventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return s.invoicePayment(ctx, eventType, &inv)
	}

	logrus.WithField("event_type", eventType).Debug("Unhandled webhook event type")
	return nil
}

func purchaseIDFromSession(sess *stripe.CheckoutSession) string {
	if sess.Metadata != nil {
		if kind := sess.Metadata[MetadataKind]; kind != "" && kind != MetadataKindMarketplacePurchase {
			return ""
		}
		if id := sess.Metadata[MetadataPurchaseID]; id != "" {
			return id
		}
	}
	return sess.ClientReferenceID
}

func (s *StripeWebhookService) checkoutCompleted(ctx context.Context, sess *stripe.CheckoutSession) error {
	purchaseID := purchaseIDFromSession(sess)
	if purchaseID == "" {
		return nil
	}
	if sess.PaymentStatus != "" && sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid &&
		sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
		logrus.WithFields(logrus.Fields{
			"purchase_id":    purchaseID,
			"payment_status": sess.PaymentStatus,
		}).Info("Checkout completed without payment, waiting for async settlement")
		return nil
	}

	return s.settleCheckout(ctx, purchaseID)
}

// settleCheckout completes a paid purchase. The buyer is mailed only by the
// call that made the transition.
func (s *StripeWebhookService) settleCheckout(ctx context.Context, purchaseID string) error {
	if purchaseID == "" {
		return nil
	}
	purchase, settled, err := s.purchases.CompleteCheckout(ctx, s.db, purchaseID)
	if errors.Is(err, ErrPurchaseNotFound) {
		logrus.WithField("purchase_id", purchaseID).Warn("Checkout completed for unknown purchase")
		return nil
	}
	if err != nil {
		return err
	}
	if settled {
		s.purchases.SendConfirmation(ctx, s.db, purchase)
	}
	return nil
}

func (s *StripeWebhookService) failCheckout(ctx context.Context, sess *stripe.CheckoutSession, reason string) error {
	purchaseID := purchaseIDFromSession(sess)
	if purchaseID == "" {
		return nil
	}
	return s.purchases.FailCheckout(ctx, s.db, purchaseID, reason)
}

// resolveWorkspace finds the workspace a Stripe object belongs to, first by
// metadata and then by the stored Stripe customer id.
func (s *StripeWebhookService) resolveWorkspace(ctx context.Context, metadata map[string]string, customerID string) (string, error) {
	if id := metadata[MetadataWorkspaceID]; id != "" {
		return id, nil
	}
	if customerID == "" {
		return "", nil
	}
	var ws models.Workspace
	err := s.db.WithContext(ctx).Select("id").First(&ws, "stripe_customer_id = ?", customerID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	return ws.ID, nil
}

func (s *StripeWebhookService) subscriptionChanged(ctx context.Context, eventType string, sub *stripe.Subscription) error {
	customerID := ""
	if sub.Customer != nil {
		customerID = sub.Customer.ID
	}
	workspaceID, err := s.resolveWorkspace(ctx, sub.Metadata, customerID)
	if err != nil {
		return err
	}
	if workspaceID == "" {
		logrus.WithFields(logrus.Fields{
			"subscription_id": sub.ID,
			"customer_id":     customerID,
		}).Warn("Subscription event for unknown workspace ignored")
		return nil
	}

	status := string(sub.Status)
	if eventType == EventSubscriptionDeleted {
		status = string(stripe.SubscriptionStatusCanceled)
	}
	var periodEnd *time.Time
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		periodEnd = &t
	}

	row := models.Subscription{
		WorkspaceID:          workspaceID,
		StripeCustomerID:     customerID,
		StripeSubscriptionID: sub.ID,
		Status:               status,
		CurrentPeriodEnd:     periodEnd,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "stripe_subscription_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"workspace_id", "stripe_customer_id", "status",
			"current_period_end", "cancel_at_period_end", "updated_at",
		}),
	}).Create(&row).Error
}

func (s *StripeWebhookService) invoicePayment(ctx context.Context, eventType string, inv *stripe.Invoice) error {
	if inv.Subscription == nil || inv.Subscription.ID == "" {
		return nil
	}
	updates := map[string]any{"last_invoice_status": "paid"}
	if eventType == EventInvoicePaymentFailed {
		updates["last_invoice_status"] = "payment_failed"
		updates["status"] = string(stripe.SubscriptionStatusPastDue)
	}
	res := s.db.WithContext(ctx).Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", inv.Subscription.ID).
		Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update subscription from invoice: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		logrus.WithField("subscription_id", inv.Subscription.ID).Warn("Invoice event for unknown subscription")
	}
	return nil
}

package models

import "time"

// Subscription mirrors the Stripe subscription state of a workspace.
type Subscription struct {
	ID                   uint       `json:"id" gorm:"primaryKey"`
	WorkspaceID          string     `json:"workspace_id" gorm:"size:36;not null;index"`
	StripeCustomerID     string     `json:"stripe_customer_id" gorm:"size:64;index"`
	StripeSubscriptionID string     `json:"stripe_subscription_id" gorm:"size:64;not null;uniqueIndex"`
	Status               string     `json:"status" gorm:"size:32;not null"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	LastInvoiceStatus    string     `json:"last_invoice_status" gorm:"size:32"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

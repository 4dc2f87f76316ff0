package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	PaymentMethodCredits = "credits"
	PaymentMethodStripe  = "stripe"

	PurchaseStatusPending   = "pending"
	PurchaseStatusCompleted = "completed"
	PurchaseStatusFailed    = "failed"
)

// Purchase groups the leads one workspace bought in one transaction.
type Purchase struct {
	ID              string          `json:"id" gorm:"primaryKey;size:36"`
	WorkspaceID     string          `json:"workspace_id" gorm:"size:36;not null;index"`
	BuyerUserID     string          `json:"buyer_user_id" gorm:"size:36"`
	TotalLeads      int             `json:"total_leads" gorm:"not null"`
	TotalPrice      decimal.Decimal `json:"total_price" gorm:"type:numeric(12,2);not null"`
	PaymentMethod   string          `json:"payment_method" gorm:"size:20;not null"`
	Status          string          `json:"status" gorm:"size:20;not null;index"`
	StripeSessionID string          `json:"stripe_session_id,omitempty" gorm:"size:255;index"`
	IdempotencyKey  string          `json:"-" gorm:"size:128"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	Items           []PurchaseItem  `json:"items,omitempty" gorm:"foreignKey:PurchaseID;constraint:OnDelete:CASCADE"`
	CreatedAt       time.Time       `json:"created_at"`
	CompletedAt     *time.Time      `json:"completed_at"`
}

func (Purchase) TableName() string {
	return "marketplace_purchases"
}

func (purchase *Purchase) BeforeCreate(tx *gorm.DB) (err error) {
	if purchase.ID == "" {
		purchase.ID = uuid.NewString()
	}
	return
}

// LeadIDs lists the leads on the purchase in item order.
func (purchase *Purchase) LeadIDs() []string {
	ids := make([]string, 0, len(purchase.Items))
	for _, item := range purchase.Items {
		ids = append(ids, item.LeadID)
	}
	return ids
}

// PurchaseItem snapshots price and commission at the time of sale so later
// partner rate changes never touch historical payouts. Partner payout fields
// stay out of buyer-facing JSON.
type PurchaseItem struct {
	ID                uint            `json:"id" gorm:"primaryKey"`
	PurchaseID        string          `json:"-" gorm:"size:36;not null;index"`
	LeadID            string          `json:"lead_id" gorm:"size:36;not null;index"`
	PartnerID         string          `json:"-" gorm:"size:36;not null;index"`
	PriceAtPurchase   decimal.Decimal `json:"price_at_purchase" gorm:"type:numeric(12,2);not null"`
	CommissionRate    decimal.Decimal `json:"-" gorm:"type:numeric(6,4);not null"`
	CommissionAmount  decimal.Decimal `json:"-" gorm:"type:numeric(12,4);not null"`
	CommissionBonuses datatypes.JSON  `json:"-"`
	CreatedAt         time.Time       `json:"created_at"`
}

func (PurchaseItem) TableName() string {
	return "marketplace_purchase_items"
}

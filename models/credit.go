package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const CreditReasonMarketplacePurchase = "marketplace_purchase"

// CreditTransaction is an append-only ledger row for every balance change.
type CreditTransaction struct {
	ID           uint            `json:"id" gorm:"primaryKey"`
	WorkspaceID  string          `json:"workspace_id" gorm:"size:36;not null;index:idx_credit_tx_workspace_created,priority:1"`
	Amount       decimal.Decimal `json:"amount" gorm:"type:numeric(12,2);not null"`
	BalanceAfter decimal.Decimal `json:"balance_after" gorm:"type:numeric(12,2);not null"`
	Reason       string          `json:"reason" gorm:"size:50;not null"`
	PurchaseID   *string         `json:"purchase_id,omitempty" gorm:"size:36;index"`
	CreatedAt    time.Time       `json:"created_at" gorm:"index:idx_credit_tx_workspace_created,priority:2"`
}

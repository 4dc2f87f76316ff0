package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Workspace is the tenant boundary: one customer account.
type Workspace struct {
	ID               string          `json:"id" gorm:"primaryKey;size:36"`
	Name             string          `json:"name" gorm:"not null"`
	CreditBalance    decimal.Decimal `json:"credit_balance" gorm:"type:numeric(12,2);not null;default:0"`
	StripeCustomerID string          `json:"-" gorm:"size:64;index"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (workspace *Workspace) BeforeCreate(tx *gorm.DB) (err error) {
	if workspace.ID == "" {
		workspace.ID = uuid.NewString()
	}
	return
}

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Partner lists leads on the marketplace and earns commission on each sale.
// Rates and VerificationPassRate are fractions (0.30 == 30%) maintained by
// the partner scoring jobs.
type Partner struct {
	ID                   string          `json:"id" gorm:"primaryKey;size:36"`
	Name                 string          `json:"name" gorm:"not null"`
	Email                string          `json:"email" gorm:"size:255"`
	BaseCommissionRate   decimal.Decimal `json:"base_commission_rate" gorm:"type:numeric(6,4);not null;default:0"`
	BonusCommissionRate  decimal.Decimal `json:"bonus_commission_rate" gorm:"type:numeric(6,4);not null;default:0"`
	VerificationPassRate decimal.Decimal `json:"verification_pass_rate" gorm:"type:numeric(6,4);not null;default:0"`
	TotalLeadsSold       int             `json:"total_leads_sold" gorm:"not null;default:0"`
	TotalEarnings        decimal.Decimal `json:"total_earnings" gorm:"type:numeric(12,4);not null;default:0"`
	PendingBalance       decimal.Decimal `json:"pending_balance" gorm:"type:numeric(12,4);not null;default:0"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

func (partner *Partner) BeforeCreate(tx *gorm.DB) (err error) {
	if partner.ID == "" {
		partner.ID = uuid.NewString()
	}
	return
}

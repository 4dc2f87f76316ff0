package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	LeadStatusAvailable = "available"
	LeadStatusSold      = "sold"
	LeadStatusRemoved   = "removed"
)

// Lead is a contact/company record a partner listed on the marketplace.
// Once SoldAt is set the row is never modified again.
type Lead struct {
	ID                string          `json:"id" gorm:"primaryKey;size:36"`
	PartnerID         string          `json:"partner_id" gorm:"size:36;not null;index"`
	Partner           *Partner        `json:"-" gorm:"foreignKey:PartnerID;references:ID"`
	CompanyName       string          `json:"company_name"`
	FirstName         string          `json:"first_name"`
	LastName          string          `json:"last_name"`
	Email             string          `json:"email"`
	Phone             string          `json:"phone"`
	JobTitle          string          `json:"job_title"`
	Industry          string          `json:"industry" gorm:"index"`
	State             string          `json:"state" gorm:"size:2;index"`
	IntentScore       int             `json:"intent_score"`
	MarketplaceStatus string          `json:"marketplace_status" gorm:"size:20;not null;default:available;index"`
	MarketplacePrice  decimal.Decimal `json:"marketplace_price" gorm:"type:numeric(12,2);not null;default:0"`
	SoldAt            *time.Time      `json:"sold_at"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (lead *Lead) BeforeCreate(tx *gorm.DB) (err error) {
	if lead.ID == "" {
		lead.ID = uuid.NewString()
	}
	return
}

// Available reports whether the lead may still be sold.
func (lead Lead) Available() bool {
	return lead.MarketplaceStatus == LeadStatusAvailable && lead.SoldAt == nil
}

package services

import (
	"context"
	"fmt"
	"strings"

	"cursive-backend/models"
	"cursive-backend/utils"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// LeadFilter narrows the marketplace listing.
type LeadFilter struct {
	Industry string
	State    string
	MinScore int
	MaxPrice *decimal.Decimal
	Limit    int
	Offset   int
}

// ListAvailableLeads returns leads that can currently be bought, newest first.
func ListAvailableLeads(ctx context.Context, db *gorm.DB, f LeadFilter) ([]models.Lead, int64, error) {
	q := db.WithContext(ctx).Model(&models.Lead{}).
		Where("marketplace_status = ? AND sold_at IS NULL", models.LeadStatusAvailable)

	if f.Industry != "" {
		q = q.Where("LOWER(industry) = ?", strings.ToLower(f.Industry))
	}
	if f.State != "" {
		q = q.Where("state = ?", strings.ToUpper(f.State))
	}
	if f.MinScore > 0 {
		q = q.Where("intent_score >= ?", f.MinScore)
	}
	if f.MaxPrice != nil {
		q = q.Where("marketplace_price <= ?", *f.MaxPrice)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count leads: %w", err)
	}
	leads := []models.Lead{}
	if err := q.Order("created_at DESC").Order("id").Limit(f.Limit).Offset(f.Offset).Find(&leads).Error; err != nil {
		return nil, 0, fmt.Errorf("list leads: %w", err)
	}
	return leads, total, nil
}

// MaskContact hides the contact fields of a lead that has not been paid for.
func MaskContact(l models.Lead) models.Lead {
	l.LastName = utils.MaskTail(l.LastName, 1)
	l.Email = utils.MaskEmail(l.Email)
	l.Phone = utils.MaskPhone(l.Phone)
	return l
}

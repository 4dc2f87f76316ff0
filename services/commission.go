package services

import (
	"time"

	"cursive-backend/models"

	"github.com/shopspring/decimal"
)

var (
	DefaultBaseCommissionRate = decimal.RequireFromString("0.30")
	MaxCommissionRate         = decimal.RequireFromString("0.50")

	qualityTopThreshold  = decimal.RequireFromString("0.95")
	qualityTopBonus      = decimal.RequireFromString("0.05")
	qualityGoodThreshold = decimal.RequireFromString("0.90")
	qualityGoodBonus     = decimal.RequireFromString("0.02")

	freshWeekBonus  = decimal.RequireFromString("0.05")
	freshMonthBonus = decimal.RequireFromString("0.02")

	volumeBonus = decimal.RequireFromString("0.05")
)

const (
	freshWeek       = 7 * 24 * time.Hour
	freshMonth      = 30 * 24 * time.Hour
	volumeThreshold = 100

	commissionAmountPlaces = 4
)

// CommissionPartner carries the partner quality signals the rate depends on.
type CommissionPartner struct {
	BaseRate             decimal.Decimal
	BonusRate            decimal.Decimal
	VerificationPassRate decimal.Decimal
	LeadsSoldThisMonth   int
}

type CommissionInput struct {
	SalePrice     decimal.Decimal
	Partner       CommissionPartner
	LeadCreatedAt time.Time
	SoldAt        time.Time
}

// CommissionBreakdown is persisted on each purchase item as JSON.
type CommissionBreakdown struct {
	Base      decimal.Decimal `json:"base"`
	Quality   decimal.Decimal `json:"quality"`
	Freshness decimal.Decimal `json:"freshness"`
	Volume    decimal.Decimal `json:"volume"`
	Partner   decimal.Decimal `json:"partner"`
	Capped    bool            `json:"capped"`
}

type CommissionResult struct {
	Rate      decimal.Decimal
	Amount    decimal.Decimal
	Breakdown CommissionBreakdown
}

// CommissionPartnerFrom maps the stored partner row to calculator input.
func CommissionPartnerFrom(p *models.Partner, soldThisMonth int) CommissionPartner {
	if p == nil {
		return CommissionPartner{LeadsSoldThisMonth: soldThisMonth}
	}
	return CommissionPartner{
		BaseRate:             p.BaseCommissionRate,
		BonusRate:            p.BonusCommissionRate,
		VerificationPassRate: p.VerificationPassRate,
		LeadsSoldThisMonth:   soldThisMonth,
	}
}

// CalculateCommission stacks the tier bonuses on top of the partner base
// rate and applies the result to the sale price. The rate is clamped to
// [0, MaxCommissionRate].
func CalculateCommission(in CommissionInput) CommissionResult {
	b := CommissionBreakdown{
		Base:      in.Partner.BaseRate,
		Quality:   decimal.Zero,
		Freshness: decimal.Zero,
		Volume:    decimal.Zero,
		Partner:   in.Partner.BonusRate,
	}
	if b.Base.IsZero() {
		b.Base = DefaultBaseCommissionRate
	}

	switch {
	case in.Partner.VerificationPassRate.GreaterThanOrEqual(qualityTopThreshold):
		b.Quality = qualityTopBonus
	case in.Partner.VerificationPassRate.GreaterThanOrEqual(qualityGoodThreshold):
		b.Quality = qualityGoodBonus
	}

	age := in.SoldAt.Sub(in.LeadCreatedAt)
	if age < 0 {
		age = 0
	}
	switch {
	case age <= freshWeek:
		b.Freshness = freshWeekBonus
	case age <= freshMonth:
		b.Freshness = freshMonthBonus
	}

	if in.Partner.LeadsSoldThisMonth >= volumeThreshold {
		b.Volume = volumeBonus
	}

	rate := b.Base.Add(b.Quality).Add(b.Freshness).Add(b.Volume).Add(b.Partner)
	if rate.GreaterThan(MaxCommissionRate) {
		rate = MaxCommissionRate
		b.Capped = true
	}
	if rate.IsNegative() {
		rate = decimal.Zero
	}

	amount := in.SalePrice.Mul(rate).Round(commissionAmountPlaces)
	if amount.IsNegative() {
		amount = decimal.Zero
	}

	return CommissionResult{Rate: rate, Amount: amount, Breakdown: b}
}

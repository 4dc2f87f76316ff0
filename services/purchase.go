package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"cursive-backend/models"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PurchaseRequest is a validated buy order from one workspace member.
type PurchaseRequest struct {
	WorkspaceID    string
	UserID         string
	LeadIDs        []string
	PaymentMethod  string
	IdempotencyKey string
}

// PurchaseResult is returned for both payment paths. Credits purchases
// carry CreditsRemaining; Stripe purchases carry the checkout session.
type PurchaseResult struct {
	Purchase         *models.Purchase
	Leads            []models.Lead
	TotalPrice       decimal.Decimal
	CreditsRemaining *decimal.Decimal
	CheckoutURL      string
	SessionID        string
}

// PurchaseDetail is a purchase with the lead records it bought. Contact
// fields are masked unless the purchase completed.
type PurchaseDetail struct {
	Purchase         models.Purchase `json:"purchase"`
	Leads            []models.Lead   `json:"leads"`
	ContactsReleased bool            `json:"contacts_released"`
}

// PurchaseService runs the marketplace purchase workflow. Methods taking a
// *gorm.DB expect the caller to own the surrounding transaction.
type PurchaseService struct {
	checkout CheckoutProvider
	mailer   Mailer
	appURL   string
	now      func() time.Time
}

// NewPurchaseService wires the flow. checkout may be nil when card payments
// are not configured.
func NewPurchaseService(checkout CheckoutProvider, mailer Mailer, appURL string) *PurchaseService {
	return &PurchaseService{
		checkout: checkout,
		mailer:   mailer,
		appURL:   strings.TrimRight(appURL, "/"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Purchase validates the leads, snapshots commissions and dispatches payment.
// Any returned error must roll the transaction back.
func (s *PurchaseService) Purchase(ctx context.Context, tx *gorm.DB, req PurchaseRequest) (*PurchaseResult, error) {
	tx = tx.WithContext(ctx)
	now := s.now()

	req.LeadIDs = uniqueIDs(req.LeadIDs)
	if len(req.LeadIDs) == 0 {
		return nil, NewBusinessError(http.StatusBadRequest, CodeLeadsUnavailable, "no leads selected")
	}
	if req.PaymentMethod == models.PaymentMethodStripe && s.checkout == nil {
		return nil, ErrStripeDisabled
	}

	leads, err := s.lockAvailableLeads(tx, req.LeadIDs)
	if err != nil {
		return nil, err
	}

	var already []string
	if err := tx.Model(&models.PurchaseItem{}).
		Joins("JOIN marketplace_purchases ON marketplace_purchases.id = marketplace_purchase_items.purchase_id").
		Where("marketplace_purchases.workspace_id = ? AND marketplace_purchases.status = ?", req.WorkspaceID, models.PurchaseStatusCompleted).
		Where("marketplace_purchase_items.lead_id IN ?", req.LeadIDs).
		Pluck("marketplace_purchase_items.lead_id", &already).Error; err != nil {
		return nil, fmt.Errorf("duplicate purchase check: %w", err)
	}
	if len(already) > 0 {
		sort.Strings(already)
		return nil, NewBusinessError(http.StatusBadRequest, CodeAlreadyPurchased,
			"some leads were already purchased by this workspace").
			WithDetails(map[string]any{"alreadyPurchasedLeadIds": already})
	}

	total := decimal.Zero
	for _, l := range leads {
		total = total.Add(l.MarketplacePrice)
	}

	items, err := s.buildItems(tx, leads, now)
	if err != nil {
		return nil, err
	}

	purchase := &models.Purchase{
		WorkspaceID:    req.WorkspaceID,
		BuyerUserID:    req.UserID,
		TotalLeads:     len(leads),
		TotalPrice:     total,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: req.IdempotencyKey,
		Items:          items,
	}

	log := logrus.WithFields(logrus.Fields{
		"workspace_id":   req.WorkspaceID,
		"payment_method": req.PaymentMethod,
		"lead_count":     len(leads),
		"total_price":    total.StringFixed(2),
	})

	switch req.PaymentMethod {
	case models.PaymentMethodCredits:
		remaining, err := s.payWithCredits(tx, purchase, now)
		if err != nil {
			return nil, err
		}
		log.WithField("purchase_id", purchase.ID).Info("Marketplace purchase completed with credits")
		for i := range leads {
			leads[i].MarketplaceStatus = models.LeadStatusSold
			leads[i].SoldAt = &now
		}
		return &PurchaseResult{
			Purchase:         purchase,
			Leads:            leads,
			TotalPrice:       total,
			CreditsRemaining: &remaining,
		}, nil

	case models.PaymentMethodStripe:
		session, err := s.startCheckout(ctx, tx, purchase, leads)
		if err != nil {
			return nil, err
		}
		log.WithFields(logrus.Fields{
			"purchase_id": purchase.ID,
			"session_id":  session.ID,
		}).Info("Marketplace checkout session created")
		return &PurchaseResult{
			Purchase:    purchase,
			Leads:       leads,
			TotalPrice:  total,
			CheckoutURL: session.URL,
			SessionID:   session.ID,
		}, nil
	}

	return nil, fmt.Errorf("unsupported payment method %q", req.PaymentMethod)
}

// lockAvailableLeads loads the leads FOR UPDATE and rejects the request when
// any of them is missing, unlisted or already sold.
func (s *PurchaseService) lockAvailableLeads(tx *gorm.DB, ids []string) ([]models.Lead, error) {
	var leads []models.Lead
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).
		Order("id").
		Find(&leads).Error; err != nil {
		return nil, fmt.Errorf("load leads: %w", err)
	}

	found := make(map[string]*models.Lead, len(leads))
	for i := range leads {
		found[leads[i].ID] = &leads[i]
	}
	var unavailable []string
	for _, id := range ids {
		l, ok := found[id]
		if !ok || !l.Available() {
			unavailable = append(unavailable, id)
		}
	}
	if len(unavailable) > 0 {
		sort.Strings(unavailable)
		return nil, errLeadsUnavailable(unavailable)
	}
	return leads, nil
}

// buildItems computes the commission snapshot for every lead.
func (s *PurchaseService) buildItems(tx *gorm.DB, leads []models.Lead, now time.Time) ([]models.PurchaseItem, error) {
	partnerIDs := make([]string, 0, len(leads))
	seen := map[string]bool{}
	for _, l := range leads {
		if !seen[l.PartnerID] {
			seen[l.PartnerID] = true
			partnerIDs = append(partnerIDs, l.PartnerID)
		}
	}

	var partners []models.Partner
	if err := tx.Where("id IN ?", partnerIDs).Find(&partners).Error; err != nil {
		return nil, fmt.Errorf("load partners: %w", err)
	}
	byID := make(map[string]*models.Partner, len(partners))
	for i := range partners {
		byID[partners[i].ID] = &partners[i]
	}

	volume, err := partnerMonthVolume(tx, partnerIDs, now)
	if err != nil {
		return nil, err
	}

	items := make([]models.PurchaseItem, 0, len(leads))
	for _, l := range leads {
		res := CalculateCommission(CommissionInput{
			SalePrice:     l.MarketplacePrice,
			Partner:       CommissionPartnerFrom(byID[l.PartnerID], volume[l.PartnerID]),
			LeadCreatedAt: l.CreatedAt,
			SoldAt:        now,
		})
		bonuses, err := json.Marshal(res.Breakdown)
		if err != nil {
			return nil, fmt.Errorf("encode commission breakdown: %w", err)
		}
		items = append(items, models.PurchaseItem{
			LeadID:            l.ID,
			PartnerID:         l.PartnerID,
			PriceAtPurchase:   l.MarketplacePrice,
			CommissionRate:    res.Rate,
			CommissionAmount:  res.Amount,
			CommissionBonuses: datatypes.JSON(bonuses),
		})
	}
	return items, nil
}

// partnerMonthVolume counts leads each partner sold since the start of the
// calendar month of now.
func partnerMonthVolume(tx *gorm.DB, partnerIDs []string, now time.Time) (map[string]int, error) {
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	var rows []struct {
		PartnerID string
		Sold      int
	}
	if err := tx.Model(&models.PurchaseItem{}).
		Select("marketplace_purchase_items.partner_id AS partner_id, COUNT(*) AS sold").
		Joins("JOIN marketplace_purchases ON marketplace_purchases.id = marketplace_purchase_items.purchase_id").
		Where("marketplace_purchases.status = ? AND marketplace_purchases.completed_at >= ?", models.PurchaseStatusCompleted, monthStart).
		Where("marketplace_purchase_items.partner_id IN ?", partnerIDs).
		Group("marketplace_purchase_items.partner_id").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("partner volume: %w", err)
	}

	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.PartnerID] = r.Sold
	}
	return out, nil
}

// payWithCredits checks the balance before touching any lead, then sells
// the leads, deducts the balance and credits partners.
func (s *PurchaseService) payWithCredits(tx *gorm.DB, purchase *models.Purchase, now time.Time) (decimal.Decimal, error) {
	var ws models.Workspace
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&ws, "id = ?", purchase.WorkspaceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, ErrWorkspaceNotFound
		}
		return decimal.Zero, fmt.Errorf("load workspace: %w", err)
	}

	if ws.CreditBalance.LessThan(purchase.TotalPrice) {
		return decimal.Zero, NewBusinessError(http.StatusBadRequest, CodeInsufficientCredits, "insufficient credits").
			WithDetails(map[string]any{
				"required":  purchase.TotalPrice,
				"available": ws.CreditBalance,
			})
	}

	purchase.Status = models.PurchaseStatusCompleted
	purchase.CompletedAt = &now
	if err := tx.Create(purchase).Error; err != nil {
		return decimal.Zero, fmt.Errorf("create purchase: %w", err)
	}

	if err := markLeadsSold(tx, purchase.LeadIDs(), now); err != nil {
		return decimal.Zero, err
	}

	remaining := ws.CreditBalance.Sub(purchase.TotalPrice)
	if err := tx.Model(&models.Workspace{}).Where("id = ?", ws.ID).
		Update("credit_balance", remaining).Error; err != nil {
		return decimal.Zero, fmt.Errorf("deduct credits: %w", err)
	}

	purchaseID := purchase.ID
	if err := tx.Create(&models.CreditTransaction{
		WorkspaceID:  ws.ID,
		Amount:       purchase.TotalPrice.Neg(),
		BalanceAfter: remaining,
		Reason:       models.CreditReasonMarketplacePurchase,
		PurchaseID:   &purchaseID,
	}).Error; err != nil {
		return decimal.Zero, fmt.Errorf("record credit transaction: %w", err)
	}

	if err := creditPartners(tx, purchase.Items); err != nil {
		return decimal.Zero, err
	}
	return remaining, nil
}

// startCheckout persists a pending purchase and opens a hosted checkout for it.
func (s *PurchaseService) startCheckout(ctx context.Context, tx *gorm.DB, purchase *models.Purchase, leads []models.Lead) (*CheckoutSession, error) {
	purchase.Status = models.PurchaseStatusPending
	if err := tx.Create(purchase).Error; err != nil {
		return nil, fmt.Errorf("create purchase: %w", err)
	}

	var buyer models.User
	if purchase.BuyerUserID != "" {
		if err := tx.Select("email").First(&buyer, "id = ?", purchase.BuyerUserID).Error; err != nil &&
			!errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("load buyer: %w", err)
		}
	}

	lines := make([]CheckoutLine, 0, len(leads))
	for _, l := range leads {
		lines = append(lines, CheckoutLine{
			LeadID:      l.ID,
			Description: leadDescription(l),
			Price:       l.MarketplacePrice,
		})
	}

	session, err := s.checkout.CreateCheckoutSession(ctx, CheckoutRequest{
		PurchaseID:    purchase.ID,
		WorkspaceID:   purchase.WorkspaceID,
		CustomerEmail: buyer.Email,
		Lines:         lines,
	})
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}

	purchase.StripeSessionID = session.ID
	if err := tx.Model(&models.Purchase{}).Where("id = ?", purchase.ID).
		Update("stripe_session_id", session.ID).Error; err != nil {
		return nil, fmt.Errorf("store checkout session: %w", err)
	}
	return session, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func leadDescription(l models.Lead) string {
	parts := []string{"Marketplace lead"}
	if l.Industry != "" {
		parts = append(parts, l.Industry)
	}
	if l.State != "" {
		parts = append(parts, l.State)
	}
	return strings.Join(parts, " · ")
}

// markLeadsSold flips the leads to sold only if every one of them is still
// unsold. The conditional UPDATE is the source of truth against double sales.
func markLeadsSold(tx *gorm.DB, ids []string, now time.Time) error {
	res := tx.Model(&models.Lead{}).
		Where("id IN ? AND sold_at IS NULL AND marketplace_status = ?", ids, models.LeadStatusAvailable).
		Updates(map[string]any{
			"marketplace_status": models.LeadStatusSold,
			"sold_at":            now,
			"updated_at":         now,
		})
	if res.Error != nil {
		return fmt.Errorf("mark leads sold: %w", res.Error)
	}
	if res.RowsAffected != int64(len(ids)) {
		return errLeadsUnavailable(ids)
	}
	return nil
}

// creditPartners adds each item's commission to its partner balance.
func creditPartners(tx *gorm.DB, items []models.PurchaseItem) error {
	type payout struct {
		amount decimal.Decimal
		leads  int
	}
	payouts := map[string]*payout{}
	var ids []string
	for _, item := range items {
		p, ok := payouts[item.PartnerID]
		if !ok {
			p = &payout{amount: decimal.Zero}
			payouts[item.PartnerID] = p
			ids = append(ids, item.PartnerID)
		}
		p.amount = p.amount.Add(item.CommissionAmount)
		p.leads++
	}
	sort.Strings(ids)

	var partners []models.Partner
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id IN ?", ids).Order("id").Find(&partners).Error; err != nil {
		return fmt.Errorf("lock partners: %w", err)
	}
	for _, partner := range partners {
		p := payouts[partner.ID]
		if err := tx.Model(&models.Partner{}).Where("id = ?", partner.ID).Updates(map[string]any{
			"pending_balance":  partner.PendingBalance.Add(p.amount),
			"total_earnings":   partner.TotalEarnings.Add(p.amount),
			"total_leads_sold": partner.TotalLeadsSold + p.leads,
		}).Error; err != nil {
			return fmt.Errorf("credit partner %s: %w", partner.ID, err)
		}
	}
	return nil
}

// GetPurchase returns a purchase with its leads, scoped to the workspace.
func (s *PurchaseService) GetPurchase(ctx context.Context, db *gorm.DB, workspaceID, purchaseID string) (*PurchaseDetail, error) {
	var p models.Purchase
	err := db.WithContext(ctx).Preload("Items").
		Where("id = ? AND workspace_id = ?", purchaseID, workspaceID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("load purchase: %w", err)
	}

	leads := []models.Lead{}
	if len(p.Items) > 0 {
		if err := db.WithContext(ctx).Where("id IN ?", p.LeadIDs()).Order("id").Find(&leads).Error; err != nil {
			return nil, fmt.Errorf("load purchase leads: %w", err)
		}
	}
	released := p.Status == models.PurchaseStatusCompleted
	if !released {
		for i := range leads {
			leads[i] = MaskContact(leads[i])
		}
	}
	return &PurchaseDetail{Purchase: p, Leads: leads, ContactsReleased: released}, nil
}

// ListPurchases pages through a workspace's purchase history, newest first.
func (s *PurchaseService) ListPurchases(ctx context.Context, db *gorm.DB, workspaceID string, limit, offset int) ([]models.Purchase, int64, error) {
	q := db.WithContext(ctx).Model(&models.Purchase{}).Where("workspace_id = ?", workspaceID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count purchases: %w", err)
	}
	purchases := []models.Purchase{}
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&purchases).Error; err != nil {
		return nil, 0, fmt.Errorf("list purchases: %w", err)
	}
	return purchases, total, nil
}

// CompleteCheckout settles a pending card purchase once the provider reports
// payment. settled is true only for the call that moved the purchase to
// completed; replays return the stored purchase with settled false. When a
// lead was sold elsewhere in the meantime the purchase is marked failed.
func (s *PurchaseService) CompleteCheckout(ctx context.Context, db *gorm.DB, purchaseID string) (purchase *models.Purchase, settled bool, err error) {
	now := s.now()
	purchase = &models.Purchase{}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Preload("Items").
			First(purchase, "id = ?", purchaseID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrPurchaseNotFound
			}
			return fmt.Errorf("load purchase: %w", err)
		}
		if purchase.Status != models.PurchaseStatusPending {
			return nil
		}

		if err := markLeadsSold(tx, purchase.LeadIDs(), now); err != nil {
			return err
		}
		if err := tx.Model(&models.Purchase{}).Where("id = ?", purchase.ID).Updates(map[string]any{
			"status":       models.PurchaseStatusCompleted,
			"completed_at": now,
		}).Error; err != nil {
			return fmt.Errorf("complete purchase: %w", err)
		}
		if err := creditPartners(tx, purchase.Items); err != nil {
			return err
		}
		purchase.Status = models.PurchaseStatusCompleted
		purchase.CompletedAt = &now
		settled = true
		return nil
	})

	var be *BusinessError
	if errors.As(err, &be) && be.Code == CodeLeadsUnavailable {
		logrus.WithFields(logrus.Fields{
			"purchase_id": purchaseID,
		}).Warn("Paid checkout could not be fulfilled, leads sold elsewhere; refund required")
		if ferr := s.FailCheckout(ctx, db, purchaseID, "leads no longer available at payment time"); ferr != nil {
			return nil, false, ferr
		}
		purchase.Status = models.PurchaseStatusFailed
		return purchase, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return purchase, settled, nil
}

// FailCheckout marks a pending purchase failed. Settled purchases are left as-is.
func (s *PurchaseService) FailCheckout(ctx context.Context, db *gorm.DB, purchaseID, reason string) error {
	return db.WithContext(ctx).Model(&models.Purchase{}).
		Where("id = ? AND status = ?", purchaseID, models.PurchaseStatusPending).
		Updates(map[string]any{
			"status":         models.PurchaseStatusFailed,
			"failure_reason": reason,
		}).Error
}

// SendConfirmation emails the buyer. Failures are logged and never returned:
// the purchase outcome does not depend on mail delivery.
func (s *PurchaseService) SendConfirmation(ctx context.Context, db *gorm.DB, purchase *models.Purchase) {
	log := logrus.WithField("purchase_id", purchase.ID)
	if s.mailer == nil || purchase.BuyerUserID == "" {
		return
	}

	var buyer models.User
	if err := db.WithContext(ctx).First(&buyer, "id = ?", purchase.BuyerUserID).Error; err != nil {
		log.WithError(err).Warn("Could not load buyer for purchase confirmation")
		return
	}

	err := s.mailer.SendPurchaseConfirmation(PurchaseConfirmation{
		To:            buyer.Email,
		BuyerName:     buyer.FullName(),
		PurchaseID:    purchase.ID,
		TotalLeads:    purchase.TotalLeads,
		TotalPrice:    purchase.TotalPrice,
		PaymentMethod: purchase.PaymentMethod,
		DownloadURL:   s.appURL + "/marketplace/purchases/" + purchase.ID,
	})
	if err != nil {
		log.WithError(err).Error("Purchase confirmation email failed")
	}
}

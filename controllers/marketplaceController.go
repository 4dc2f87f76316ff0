package controllers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cursive-backend/database"
	"cursive-backend/middlewares"
	"cursive-backend/models"
	"cursive-backend/services"
	"cursive-backend/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// MarketplaceController serves the buyer side of the lead marketplace.
type MarketplaceController struct {
	Purchases    *services.PurchaseService
	DefaultLimit int
	MaxLimit     int
	MaxLeads     int
}

type purchaseDTO struct {
	LeadIDs        []string `json:"leadIds" validate:"required,min=1,max=100,unique,dive,uuid"`
	PaymentMethod  string   `json:"paymentMethod" validate:"required,oneof=credits stripe"`
	IdempotencyKey string   `json:"idempotencyKey" validate:"omitempty,uuid"`
}

// maskedLead is what a buyer sees before paying for a lead.
type maskedLead struct {
	ID               string          `json:"id"`
	CompanyName      string          `json:"company_name"`
	FirstName        string          `json:"first_name"`
	LastName         string          `json:"last_name"`
	Email            string          `json:"email"`
	Phone            string          `json:"phone"`
	JobTitle         string          `json:"job_title"`
	Industry         string          `json:"industry"`
	State            string          `json:"state"`
	IntentScore      int             `json:"intent_score"`
	MarketplacePrice decimal.Decimal `json:"marketplace_price"`
	CreatedAt        time.Time       `json:"created_at"`
}

func maskLead(l models.Lead) maskedLead {
	l = services.MaskContact(l)
	return maskedLead{
		ID:               l.ID,
		CompanyName:      l.CompanyName,
		FirstName:        l.FirstName,
		LastName:         l.LastName,
		Email:            l.Email,
		Phone:            l.Phone,
		JobTitle:         l.JobTitle,
		Industry:         l.Industry,
		State:            l.State,
		IntentScore:      l.IntentScore,
		MarketplacePrice: l.MarketplacePrice,
		CreatedAt:        l.CreatedAt,
	}
}

// ListLeads returns the leads currently for sale with contact details masked.
func (mc *MarketplaceController) ListLeads(c *fiber.Ctx) error {
	db, err := database.GetWorkspaceDB(c)
	if err != nil {
		return err
	}

	limit, offset := utils.Page(c.Query("limit"), c.Query("offset"), mc.DefaultLimit, mc.MaxLimit)
	filter := services.LeadFilter{
		Industry: c.Query("industry"),
		State:    c.Query("state"),
		MinScore: utils.ParseIntDefault(c.Query("minScore"), 0),
		MaxPrice: utils.ParseMoney(c.Query("maxPrice")),
		Limit:    limit,
		Offset:   offset,
	}

	leads, total, err := services.ListAvailableLeads(c.UserContext(), db, filter)
	if err != nil {
		return err
	}

	out := make([]maskedLead, 0, len(leads))
	for _, l := range leads {
		out = append(out, maskLead(l))
	}
	return c.JSON(fiber.Map{
		"leads":  out,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// Purchase buys leads with credits or starts a card checkout.
func (mc *MarketplaceController) Purchase(c *fiber.Ctx) error {
	var data purchaseDTO
	if err := middlewares.BindAndValidate(c, &data); err != nil {
		return err
	}
	if mc.MaxLeads > 0 && len(data.LeadIDs) > mc.MaxLeads {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("at most %d leads per purchase", mc.MaxLeads))
	}

	db, err := database.GetWorkspaceDB(c)
	if err != nil {
		return err
	}

	key := middlewares.IdempotencyKey(c)
	if key == "" {
		key = data.IdempotencyKey
	}

	result, err := mc.Purchases.Purchase(c.UserContext(), db, services.PurchaseRequest{
		WorkspaceID:    middlewares.WorkspaceID(c),
		UserID:         middlewares.UserID(c),
		LeadIDs:        data.LeadIDs,
		PaymentMethod:  data.PaymentMethod,
		IdempotencyKey: key,
	})
	if err != nil {
		return err
	}

	if data.PaymentMethod == models.PaymentMethodStripe {
		return c.JSON(fiber.Map{
			"success":     true,
			"purchaseId":  result.Purchase.ID,
			"checkoutUrl": result.CheckoutURL,
			"sessionId":   result.SessionID,
		})
	}

	purchase := result.Purchase
	middlewares.AfterCommit(c, func() {
		go mc.Purchases.SendConfirmation(context.Background(), database.DB, purchase)
	})

	return c.JSON(fiber.Map{
		"success":          true,
		"purchase":         purchase,
		"leads":            result.Leads,
		"totalPrice":       result.TotalPrice,
		"creditsRemaining": result.CreditsRemaining,
	})
}

// GetPurchase returns one purchase with its leads when purchaseId is given,
// otherwise the workspace's purchase history.
func (mc *MarketplaceController) GetPurchase(c *fiber.Ctx) error {
	db, err := database.GetWorkspaceDB(c)
	if err != nil {
		return err
	}
	workspaceID := middlewares.WorkspaceID(c)

	purchaseID := c.Query("purchaseId")
	if purchaseID == "" {
		limit, offset := utils.Page(c.Query("limit"), c.Query("offset"), mc.DefaultLimit, mc.MaxLimit)
		purchases, total, err := mc.Purchases.ListPurchases(c.UserContext(), db, workspaceID, limit, offset)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{
			"purchases": purchases,
			"total":     total,
			"limit":     limit,
			"offset":    offset,
		})
	}

	if _, err := uuid.Parse(purchaseID); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid purchaseId")
	}

	detail, err := mc.Purchases.GetPurchase(c.UserContext(), db, workspaceID, purchaseID)
	if errors.Is(err, services.ErrPurchaseNotFound) {
		logrus.WithFields(logrus.Fields{
			"workspace_id": workspaceID,
			"purchase_id":  purchaseID,
		}).Debug("Purchase lookup outside workspace or unknown")
	}
	if err != nil {
		return err
	}
	if !detail.ContactsReleased {
		leads := make([]maskedLead, 0, len(detail.Leads))
		for _, l := range detail.Leads {
			leads = append(leads, maskLead(l))
		}
		return c.JSON(fiber.Map{
			"success":  true,
			"purchase": detail.Purchase,
			"leads":    leads,
		})
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"purchase": detail.Purchase,
		"leads":    detail.Leads,
	})
}

// Credits returns the workspace balance and its latest ledger rows.
func (mc *MarketplaceController) Credits(c *fiber.Ctx) error {
	db, err := database.GetWorkspaceDB(c)
	if err != nil {
		return err
	}
	limit, _ := utils.Page(c.Query("limit"), "", mc.DefaultLimit, mc.MaxLimit)

	summary, err := services.GetCreditSummary(c.UserContext(), db, middlewares.WorkspaceID(c), limit)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"balance":      summary.Workspace.CreditBalance,
		"transactions": summary.Transactions,
	})
}

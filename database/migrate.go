package database

import (
	"fmt"

	"cursive-backend/models"

	"gorm.io/gorm"
)

// Migrate applies (idempotent) schema migrations:
// - AutoMigrate (tables/columns/index tags)
// - Composite indexes used by the purchase flow
// - CHECK constraints on money columns (PostgreSQL only)
func Migrate(db *gorm.DB) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&models.Workspace{},
			&models.User{},
			&models.Partner{},
			&models.Lead{},
			&models.Purchase{},
			&models.PurchaseItem{},
			&models.IdempotencyKey{},
			&models.CreditTransaction{},
			&models.Subscription{},
			&models.WebhookEvent{},
		); err != nil {
			return fmt.Errorf("automigrate failed: %w", err)
		}

		indexes := []string{
			`CREATE INDEX IF NOT EXISTS idx_leads_marketplace_available ON leads (marketplace_status, created_at) WHERE sold_at IS NULL`,
			`CREATE INDEX IF NOT EXISTS idx_purchases_workspace_created ON marketplace_purchases (workspace_id, created_at)`,
			`CREATE INDEX IF NOT EXISTS idx_purchase_items_purchase_lead ON marketplace_purchase_items (purchase_id, lead_id)`,
		}
		for _, stmt := range indexes {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("index migration failed on: %s - %w", stmt, err)
			}
		}

		if tx.Dialector.Name() != "postgres" {
			return nil
		}

		checks := []struct{ table, name, expr string }{
			{"workspaces", "chk_workspaces_credit_balance_nonneg", "credit_balance >= 0"},
			{"leads", "chk_leads_marketplace_price_nonneg", "marketplace_price >= 0"},
			{"marketplace_purchases", "chk_purchases_total_price_nonneg", "total_price >= 0"},
			{"marketplace_purchase_items", "chk_purchase_items_commission_nonneg", "commission_amount >= 0"},
		}
		for _, chk := range checks {
			stmt := fmt.Sprintf(`DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_constraint
		WHERE conrelid = '%s'::regclass
		  AND conname  = '%s'
	) THEN
		ALTER TABLE %s
		ADD CONSTRAINT %s
		CHECK (%s);
	END IF;
END $$;`, chk.table, chk.name, chk.table, chk.name, chk.expr)
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("check constraint migration failed: %w", err)
			}
		}

		return nil
	})
}

package services

import (
	"context"
	"errors"
	"fmt"

	"cursive-backend/models"

	"gorm.io/gorm"
)

// CreditSummary is a workspace balance with its latest ledger rows.
type CreditSummary struct {
	Workspace    models.Workspace           `json:"workspace"`
	Transactions []models.CreditTransaction `json:"transactions"`
}

func GetCreditSummary(ctx context.Context, db *gorm.DB, workspaceID string, limit int) (*CreditSummary, error) {
	var ws models.Workspace
	if err := db.WithContext(ctx).First(&ws, "id = ?", workspaceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWorkspaceNotFound
		}
		return nil, fmt.Errorf("load workspace: %w", err)
	}

	txs := []models.CreditTransaction{}
	if err := db.WithContext(ctx).Where("workspace_id = ?", workspaceID).
		Order("created_at DESC").Order("id DESC").Limit(limit).Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("load credit transactions: %w", err)
	}
	return &CreditSummary{Workspace: ws, Transactions: txs}, nil
}

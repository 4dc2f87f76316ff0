package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cursive-backend/models"

	"gorm.io/gorm"
)

type Registration struct {
	WorkspaceName string
	FirstName     string
	LastName      string
	Email         string
	Password      string
}

// RegisterWorkspace creates a workspace and its owner in one transaction.
func RegisterWorkspace(ctx context.Context, db *gorm.DB, reg Registration) (*models.User, error) {
	email := strings.ToLower(strings.TrimSpace(reg.Email))
	var user models.User

	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("email = ?", email).Count(&count).Error; err != nil {
			return fmt.Errorf("check email: %w", err)
		}
		if count > 0 {
			return ErrEmailTaken
		}

		ws := models.Workspace{Name: strings.TrimSpace(reg.WorkspaceName)}
		if err := tx.Create(&ws).Error; err != nil {
			return fmt.Errorf("create workspace: %w", err)
		}

		user = models.User{
			WorkspaceID: ws.ID,
			FirstName:   strings.TrimSpace(reg.FirstName),
			LastName:    strings.TrimSpace(reg.LastName),
			Email:       email,
		}
		if err := user.SetPassword(reg.Password); err != nil {
			return fmt.Errorf("hash password: %w", err)
		}
		if err := tx.Create(&user).Error; err != nil {
			return fmt.Errorf("create user: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Authenticate checks credentials and returns the user.
func Authenticate(ctx context.Context, db *gorm.DB, email, password string) (*models.User, error) {
	var user models.User
	err := db.WithContext(ctx).Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidLogin
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if err := user.ComparePassword(password); err != nil {
		return nil, ErrInvalidLogin
	}
	return &user, nil
}

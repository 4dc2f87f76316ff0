package controllers

import (
	"cursive-backend/database"
	"cursive-backend/middlewares"
	"cursive-backend/services"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type registerDTO struct {
	WorkspaceName   string `json:"workspace_name" validate:"required,max=200"`
	FirstName       string `json:"first_name" validate:"required,max=100"`
	LastName        string `json:"last_name" validate:"required,max=100"`
	Email           string `json:"email" validate:"required,email,max=255"`
	Password        string `json:"password" validate:"required,min=8,max=72"`
	PasswordConfirm string `json:"password_confirm" validate:"required,eqfield=Password"`
}

type loginDTO struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func Register(c *fiber.Ctx) error {
	var data registerDTO
	if err := middlewares.BindAndValidate(c, &data); err != nil {
		return err
	}

	user, err := services.RegisterWorkspace(c.UserContext(), database.DB, services.Registration{
		WorkspaceName: data.WorkspaceName,
		FirstName:     data.FirstName,
		LastName:      data.LastName,
		Email:         data.Email,
		Password:      data.Password,
	})
	if err != nil {
		return err
	}

	token, err := middlewares.GenerateJWT(user.ID, user.WorkspaceID)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"user_id":      user.ID,
		"workspace_id": user.WorkspaceID,
	}).Info("Workspace registered")

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"token":        token,
		"user":         user,
		"workspace_id": user.WorkspaceID,
	})
}

func Login(c *fiber.Ctx) error {
	var data loginDTO
	if err := middlewares.BindAndValidate(c, &data); err != nil {
		return err
	}

	user, err := services.Authenticate(c.UserContext(), database.DB, data.Email, data.Password)
	if err != nil {
		return err
	}

	token, err := middlewares.GenerateJWT(user.ID, user.WorkspaceID)
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"token":        token,
		"workspace_id": user.WorkspaceID,
	})
}

package middlewares

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bindDTO struct {
	IDs   []string `json:"ids" validate:"required,dive,uuid"`
	Email string   `json:"email" validate:"required,email"`
}

func bindRequest(t *testing.T, body string) (bindDTO, error) {
	t.Helper()
	var got bindDTO
	var bindErr error
	app := fiber.New()
	app.Post("/", func(c *fiber.Ctx) error {
		bindErr = BindAndValidate(c, &got)
		return c.SendStatus(fiber.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	return got, bindErr
}

func TestBindAndValidateTrimsBeforeValidating(t *testing.T) {
	got, err := bindRequest(t, `{"ids":[" 6f1c2d3e-4a5b-4c6d-8e7f-9a0b1c2d3e4f "],"email":"  ada@acme.example "}`)
	require.NoError(t, err)
	assert.Equal(t, []string{"6f1c2d3e-4a5b-4c6d-8e7f-9a0b1c2d3e4f"}, got.IDs)
	assert.Equal(t, "ada@acme.example", got.Email)
}

func TestBindAndValidateReportsJSONFieldNames(t *testing.T) {
	_, err := bindRequest(t, `{"ids":["nope"],"email":"ada@acme.example"}`)
	var verrs validator.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "ids[0]", verrs[0].Field())

	_, err = bindRequest(t, `{"ids":`)
	var ferr *fiber.Error
	require.True(t, errors.As(err, &ferr))
	assert.Equal(t, fiber.StatusBadRequest, ferr.Code)
}

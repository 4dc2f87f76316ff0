package services

import (
	"fmt"
	"net/http"
)

// Error codes returned to API clients alongside the message.
const (
	CodeLeadsUnavailable    = "LEADS_UNAVAILABLE"
	CodeAlreadyPurchased    = "ALREADY_PURCHASED"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodePaymentUnavailable  = "PAYMENT_METHOD_UNAVAILABLE"
	CodeNotFound            = "NOT_FOUND"
	CodeIdempotencyInFlight = "IDEMPOTENCY_IN_PROGRESS"
	CodeIdempotencyMismatch = "IDEMPOTENCY_KEY_REUSED"
	CodeInvalidCredentials  = "INVALID_CREDENTIALS"
	CodeEmailTaken          = "EMAIL_TAKEN"
)

// BusinessError is a rule violation the client can act on. The HTTP error
// handler renders it with its own status instead of a generic 500.
type BusinessError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

func (e *BusinessError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// WithDetails returns a copy carrying a client-facing payload.
func (e *BusinessError) WithDetails(details any) *BusinessError {
	cp := *e
	cp.Details = details
	return &cp
}

func NewBusinessError(status int, code, message string) *BusinessError {
	return &BusinessError{Status: status, Code: code, Message: message}
}

var (
	ErrWorkspaceNotFound = NewBusinessError(http.StatusNotFound, CodeNotFound, "workspace not found")
	ErrPurchaseNotFound  = NewBusinessError(http.StatusNotFound, CodeNotFound, "purchase not found")
	ErrStripeDisabled    = NewBusinessError(http.StatusBadRequest, CodePaymentUnavailable, "card checkout is not available")
	ErrInvalidLogin      = NewBusinessError(http.StatusUnauthorized, CodeInvalidCredentials, "invalid credentials")
	ErrEmailTaken        = NewBusinessError(http.StatusBadRequest, CodeEmailTaken, "email already exists")

	ErrIdempotencyInFlight = NewBusinessError(http.StatusConflict, CodeIdempotencyInFlight,
		"a request with this idempotency key is already being processed")
	ErrIdempotencyMismatch = NewBusinessError(http.StatusUnprocessableEntity, CodeIdempotencyMismatch,
		"idempotency key reused with a different request")
)

// errLeadsUnavailable builds the 400 listing leads that cannot be sold.
func errLeadsUnavailable(ids []string) *BusinessError {
	return NewBusinessError(http.StatusBadRequest, CodeLeadsUnavailable,
		"some leads are no longer available").
		WithDetails(map[string]any{"unavailableLeadIds": ids})
}

package bankaccount

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/congo_custody/internal/middleware"
)

// Handler exposes bank account HTTP endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a bank account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type addRequest struct {
	Currency          string `json:"currency"`
	BankName          string `json:"bank_name"`
	AccountHolderName string `json:"account_holder_name"`
	IBAN              string `json:"iban"`
	SWIFT             string `json:"swift"`
	AccountNumber     string `json:"account_number"`
	RoutingNumber     string `json:"routing_number"`
}

type accountResponse struct {
	ID                string     `json:"id"`
	Currency          string     `json:"currency"`
	BankName          string     `json:"bank_name"`
	AccountHolderName string     `json:"account_holder_name"`
	AccountType       string     `json:"account_type"`
	MaskedIdentifier  string     `json:"masked_identifier"`
	IsVerified        bool       `json:"is_verified"`
	VerifiedAt        *time.Time `json:"verified_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

func toResponse(a Account) accountResponse {
	return accountResponse{
		ID:                a.ID,
		Currency:          a.Currency,
		BankName:          a.BankName,
		AccountHolderName: a.AccountHolderName,
		AccountType:       string(a.Details.Type()),
		MaskedIdentifier:  a.MaskedIdentifier(),
		IsVerified:        a.IsVerified,
		VerifiedAt:        a.VerifiedAt,
		CreatedAt:         a.CreatedAt,
	}
}

// Add registers a bank account for the caller.
func (h *Handler) Add(c *fiber.Ctx) error {
	var req addRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	acct, err := h.service.Add(c.UserContext(), middleware.Principal(c).UserID, AddInput{
		Currency:          req.Currency,
		BankName:          req.BankName,
		AccountHolderName: req.AccountHolderName,
		IBAN:              req.IBAN,
		SWIFT:             req.SWIFT,
		AccountNumber:     req.AccountNumber,
		RoutingNumber:     req.RoutingNumber,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(acct))
}

// List returns the caller's accounts with masked identifiers.
func (h *Handler) List(c *fiber.Ctx) error {
	accounts, err := h.service.List(c.UserContext(), middleware.Principal(c).UserID, c.Query("currency"))
	if err != nil {
		return err
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toResponse(a))
	}
	return c.JSON(fiber.Map{"data": out})
}

// Delete removes one of the caller's accounts.
func (h *Handler) Delete(c *fiber.Ctx) error {
	if err := h.service.Delete(c.UserContext(), middleware.Principal(c).UserID, c.Params("id")); err != nil {
		return err
	}
	return c.SendStatus(http.StatusNoContent)
}

// Verify is the admin action marking an account verified.
func (h *Handler) Verify(c *fiber.Ctx) error {
	acct, err := h.service.Verify(c.UserContext(), c.Params("id"), middleware.Principal(c).UserID)
	if err != nil {
		return err
	}
	return c.JSON(toResponse(acct))
}

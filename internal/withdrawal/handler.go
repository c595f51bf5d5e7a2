package withdrawal

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_custody/internal/apperr"
	"github.com/congo-pay/congo_custody/internal/middleware"
	"github.com/congo-pay/congo_custody/internal/pagination"
)

// Handler exposes withdrawal HTTP endpoints for users, admins and the executor.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type fiatRequest struct {
	Currency      string `json:"currency"`
	Amount        string `json:"amount"`
	BankAccountID string `json:"bank_account_id"`
	TwoFACode     string `json:"two_fa_code"`
}

type cryptoRequest struct {
	Currency           string `json:"currency"`
	Amount             string `json:"amount"`
	DestinationAddress string `json:"destination_address"`
	Network            string `json:"network"`
	TwoFACode          string `json:"two_fa_code"`
}

type withdrawalResponse struct {
	ID                    string     `json:"id"`
	Kind                  Kind       `json:"kind"`
	Currency              string     `json:"currency"`
	Amount                string     `json:"amount"`
	Fee                   string     `json:"fee"`
	NetworkFee            string     `json:"network_fee"`
	PlatformFee           string     `json:"platform_fee"`
	TotalAmount           string     `json:"total_amount"`
	NetAmount             string     `json:"net_amount"`
	Status                Status     `json:"status"`
	BankAccountID         string     `json:"bank_account_id,omitempty"`
	DestinationAddress    string     `json:"destination_address,omitempty"`
	Network               string     `json:"network,omitempty"`
	TransactionHash       string     `json:"transaction_hash,omitempty"`
	Confirmations         int        `json:"confirmations,omitempty"`
	RequiresAdminApproval bool       `json:"requires_admin_approval"`
	ReferenceNumber       string     `json:"reference_number"`
	RejectionReason       string     `json:"rejection_reason,omitempty"`
	ErrorMessage          string     `json:"error_message,omitempty"`
	AdminApprovedAt       *time.Time `json:"admin_approved_at,omitempty"`
	CompletedAt           *time.Time `json:"completed_at,omitempty"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
}

func toResponse(w Withdrawal) withdrawalResponse {
	return withdrawalResponse{
		ID:                    w.ID,
		Kind:                  w.Kind,
		Currency:              w.Currency,
		Amount:                w.Amount.String(),
		Fee:                   w.Fee.String(),
		NetworkFee:            w.NetworkFee.String(),
		PlatformFee:           w.PlatformFee.String(),
		TotalAmount:           w.TotalAmount.String(),
		NetAmount:             w.NetAmount().String(),
		Status:                w.Status,
		BankAccountID:         w.BankAccountID,
		DestinationAddress:    w.DestinationAddress,
		Network:               w.Network,
		TransactionHash:       w.TransactionHash,
		Confirmations:         w.Confirmations,
		RequiresAdminApproval: w.RequiresAdminApproval,
		ReferenceNumber:       w.ReferenceNumber,
		RejectionReason:       w.RejectionReason,
		ErrorMessage:          w.ErrorMessage,
		AdminApprovedAt:       w.AdminApprovedAt,
		CompletedAt:           w.CompletedAt,
		CreatedAt:             w.CreatedAt,
		UpdatedAt:             w.UpdatedAt,
	}
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Decimal{}, apperr.Validation("amount must be a decimal number")
	}
	return amount, nil
}

// CreateFiat handles POST /withdrawals/fiat.
func (h *Handler) CreateFiat(c *fiber.Ctx) error {
	var req fiatRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}
	w, err := h.service.CreateFiat(c.UserContext(), FiatInput{
		UserID:        middleware.Principal(c).UserID,
		Currency:      req.Currency,
		Amount:        amount,
		BankAccountID: req.BankAccountID,
		TwoFACode:     req.TwoFACode,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(w))
}

// CreateCrypto handles POST /withdrawals/crypto.
func (h *Handler) CreateCrypto(c *fiber.Ctx) error {
	var req cryptoRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return err
	}
	w, err := h.service.CreateCrypto(c.UserContext(), CryptoInput{
		UserID:             middleware.Principal(c).UserID,
		Currency:           req.Currency,
		Amount:             amount,
		DestinationAddress: req.DestinationAddress,
		Network:            req.Network,
		TwoFACode:          req.TwoFACode,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(w))
}

func (h *Handler) Get(c *fiber.Ctx) error {
	w, err := h.service.Get(c.UserContext(), middleware.Principal(c).UserID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toResponse(w))
}

func (h *Handler) List(c *fiber.Ctx) error {
	filter, err := parseFilter(c)
	if err != nil {
		return err
	}
	page := pagination.New(c.QueryInt("page", 1), c.QueryInt("size", pagination.DefaultSize))
	items, total, err := h.service.List(c.UserContext(), middleware.Principal(c).UserID, filter, page)
	if err != nil {
		return err
	}
	return c.JSON(listResponse(items, total, page))
}

func (h *Handler) Cancel(c *fiber.Ctx) error {
	w, err := h.service.Cancel(c.UserContext(), middleware.Principal(c).UserID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toResponse(w))
}

// ListAdmin handles GET /admin/withdrawals, defaulting to the PENDING queue.
func (h *Handler) ListAdmin(c *fiber.Ctx) error {
	filter, err := parseFilter(c)
	if err != nil {
		return err
	}
	if c.Query("status") == "" {
		filter.Status = StatusPending
	}
	filter.UserID = c.Query("user_id")
	page := pagination.New(c.QueryInt("page", 1), c.QueryInt("size", pagination.DefaultSize))
	items, total, err := h.service.ListAdmin(c.UserContext(), filter, page)
	if err != nil {
		return err
	}
	return c.JSON(listResponse(items, total, page))
}

type reviewRequest struct {
	Notes  string `json:"notes"`
	Reason string `json:"reason"`
}

func (h *Handler) Approve(c *fiber.Ctx) error {
	var req reviewRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	w, err := h.service.Approve(c.UserContext(), middleware.Principal(c).UserID, c.Params("id"), req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(toResponse(w))
}

func (h *Handler) Reject(c *fiber.Ctx) error {
	var req reviewRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.Reject(c.UserContext(), middleware.Principal(c).UserID, c.Params("id"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(toResponse(w))
}

type executorRequest struct {
	Reference       string `json:"reference"`
	TransactionHash string `json:"transaction_hash"`
	Confirmations   int    `json:"confirmations"`
	Error           string `json:"error"`
}

// Processing, Complete and Fail are the executor callbacks.
func (h *Handler) Processing(c *fiber.Ctx) error {
	var req executorRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.MarkProcessing(c.UserContext(), c.Params("id"), req.Reference)
	if err != nil {
		return err
	}
	return c.JSON(toResponse(w))
}

func (h *Handler) Complete(c *fiber.Ctx) error {
	var req executorRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.Complete(c.UserContext(), c.Params("id"), CompletionInput{
		TransactionHash: req.TransactionHash,
		Confirmations:   req.Confirmations,
	})
	if err != nil {
		return err
	}
	return c.JSON(toResponse(w))
}

func (h *Handler) Fail(c *fiber.Ctx) error {
	var req executorRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	w, err := h.service.Fail(c.UserContext(), c.Params("id"), req.Error)
	if err != nil {
		return err
	}
	return c.JSON(toResponse(w))
}

func parseFilter(c *fiber.Ctx) (ListFilter, error) {
	var f ListFilter
	if raw := c.Query("status"); raw != "" {
		st, ok := ParseStatus(strings.ToUpper(raw))
		if !ok {
			return f, apperr.Validation("unknown status %q", raw)
		}
		f.Status = st
	}
	if raw := c.Query("kind"); raw != "" {
		k, ok := ParseKind(strings.ToUpper(raw))
		if !ok {
			return f, apperr.Validation("unknown kind %q", raw)
		}
		f.Kind = k
	}
	f.Currency = c.Query("currency")
	return f, nil
}

func listResponse(items []Withdrawal, total int, page pagination.Page) fiber.Map {
	out := make([]withdrawalResponse, 0, len(items))
	for _, w := range items {
		out = append(out, toResponse(w))
	}
	return fiber.Map{"data": out, "total": total, "page": page.Number, "size": page.Size}
}

package deposit

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_custody/internal/apperr"
	"github.com/congo-pay/congo_custody/internal/middleware"
	"github.com/congo-pay/congo_custody/internal/pagination"
)

// Handler exposes HTTP endpoints for deposit requests.
type Handler struct {
	service *Service
}

// NewHandler constructs a deposit handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Create registers an expected inbound transfer.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req CreateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		return apperr.Validation("amount must be a decimal number")
	}
	d, err := h.service.Create(c.UserContext(), middleware.Principal(c).UserID, CreateInput{
		Currency:      req.Currency,
		Amount:        amount,
		BankAccountID: req.BankAccountID,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toResponse(d))
}

func (h *Handler) Get(c *fiber.Ctx) error {
	d, err := h.service.Get(c.UserContext(), middleware.Principal(c).UserID, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toResponse(d))
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

// ListAdmin returns deposits across users, PENDING by default.
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

func (h *Handler) Approve(c *fiber.Ctx) error {
	return h.review(c, h.service.Approve)
}

func (h *Handler) Reject(c *fiber.Ctx) error {
	return h.review(c, h.service.Reject)
}

func (h *Handler) review(c *fiber.Ctx, fn func(ctx context.Context, adminID, id, notes string) (Deposit, error)) error {
	var req ReviewRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	d, err := fn(c.UserContext(), middleware.Principal(c).UserID, c.Params("id"), req.Notes)
	if err != nil {
		return err
	}
	return c.JSON(toResponse(d))
}

// Complete is called once the transfer is seen on the bank statement.
func (h *Handler) Complete(c *fiber.Ctx) error {
	d, err := h.service.Complete(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(toResponse(d))
}

func parseFilter(c *fiber.Ctx) (ListFilter, error) {
	f := ListFilter{Currency: c.Query("currency")}
	if raw := c.Query("status"); raw != "" {
		st, ok := ParseStatus(strings.ToUpper(raw))
		if !ok {
			return f, apperr.Validation("unknown status %q", raw)
		}
		f.Status = st
	}
	return f, nil
}

func listResponse(items []Deposit, total int, page pagination.Page) fiber.Map {
	out := make([]Response, 0, len(items))
	for _, d := range items {
		out = append(out, toResponse(d))
	}
	return fiber.Map{"data": out, "total": total, "page": page.Number, "size": page.Size}
}

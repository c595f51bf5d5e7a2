package wallet

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_custody/internal/apperr"
	"github.com/congo-pay/congo_custody/internal/ledger"
	"github.com/congo-pay/congo_custody/internal/middleware"
	"github.com/congo-pay/congo_custody/internal/pagination"
)

// Handler exposes balance, history and admin correction endpoints.
type Handler struct {
	service *Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type balanceResponse struct {
	Currency  string    `json:"currency"`
	Available string    `json:"available"`
	Locked    string    `json:"locked"`
	Total     string    `json:"total"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toBalanceResponse(b ledger.Balance) balanceResponse {
	return balanceResponse{
		Currency:  b.Currency,
		Available: b.Available.String(),
		Locked:    b.Locked.String(),
		Total:     b.Total().String(),
		UpdatedAt: b.UpdatedAt,
	}
}

type entryResponse struct {
	ID            string            `json:"id"`
	Currency      string            `json:"currency"`
	Type          ledger.EntryType  `json:"type"`
	Amount        string            `json:"amount"`
	BalanceBefore string            `json:"balance_before"`
	BalanceAfter  string            `json:"balance_after"`
	ReferenceID   string            `json:"reference_id"`
	ReferenceType string            `json:"reference_type"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Balances returns every balance of the caller.
func (h *Handler) Balances(c *fiber.Ctx) error {
	balances, err := h.service.Balances(c.UserContext(), middleware.Principal(c).UserID)
	if err != nil {
		return err
	}
	out := make([]balanceResponse, 0, len(balances))
	for _, b := range balances {
		out = append(out, toBalanceResponse(b))
	}
	return c.JSON(fiber.Map{"data": out})
}

// Transactions is the paginated ledger view.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	filter := ledger.Filter{Currency: c.Query("currency")}
	if raw := c.Query("type"); raw != "" {
		for _, part := range strings.Split(raw, ",") {
			t, ok := ledger.ParseEntryType(strings.ToUpper(strings.TrimSpace(part)))
			if !ok {
				return apperr.Validation("unknown transaction type %q", part)
			}
			filter.Types = append(filter.Types, t)
		}
	}
	from, err := parseDate(c.Query("start_date"), false)
	if err != nil {
		return err
	}
	to, err := parseDate(c.Query("end_date"), true)
	if err != nil {
		return err
	}
	filter.From, filter.To = from, to

	page := pagination.New(c.QueryInt("page", 1), c.QueryInt("size", pagination.DefaultSize))
	entries, total, err := h.service.History(c.UserContext(), middleware.Principal(c).UserID, filter, page)
	if err != nil {
		return err
	}
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, entryResponse{
			ID:            e.ID,
			Currency:      e.Currency,
			Type:          e.Type,
			Amount:        e.Amount.String(),
			BalanceBefore: e.BalanceBefore.String(),
			BalanceAfter:  e.BalanceAfter.String(),
			ReferenceID:   e.ReferenceID,
			ReferenceType: e.ReferenceType,
			Metadata:      e.Metadata,
			CreatedAt:     e.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"data": out, "total": total, "page": page.Number, "size": page.Size})
}

// parseDate accepts RFC 3339 or a plain date; a plain end date covers the whole day.
func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, apperr.Validation("invalid date %q", raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

type adjustmentRequest struct {
	UserID      string `json:"user_id"`
	Currency    string `json:"currency"`
	Amount      string `json:"amount"`
	Reason      string `json:"reason"`
	ReferenceID string `json:"reference_id"`
}

// Adjust is the admin correction endpoint.
func (h *Handler) Adjust(c *fiber.Ctx) error {
	var req adjustmentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(req.Amount))
	if err != nil {
		return apperr.Validation("amount must be a decimal number")
	}
	b, err := h.service.Adjust(c.UserContext(), middleware.Principal(c).UserID, AdjustmentInput{
		UserID:      req.UserID,
		Currency:    req.Currency,
		Amount:      amount,
		Reason:      req.Reason,
		ReferenceID: req.ReferenceID,
	})
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(toBalanceResponse(b))
}

// Reconcile reports ledger drift for one user and currency.
func (h *Handler) Reconcile(c *fiber.Ctx) error {
	r, err := h.service.Reconcile(c.UserContext(), c.Params("userId"), c.Params("currency"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"user_id":    r.UserID,
		"currency":   r.Currency,
		"available":  r.Available.String(),
		"locked":     r.Locked.String(),
		"total":      r.Total.String(),
		"ledger_sum": r.LedgerSum.String(),
		"drift":      r.Drift.String(),
		"consistent": r.Consistent,
		"checked_at": r.CheckedAt,
	})
}

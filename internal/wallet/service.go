package wallet

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_custody/internal/apperr"
	"github.com/congo-pay/congo_custody/internal/ledger"
	"github.com/congo-pay/congo_custody/internal/money"
	"github.com/congo-pay/congo_custody/internal/pagination"
)

// Service is the read side of the balance store plus admin corrections.
type Service struct {
	book   ledger.Book
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds a wallet service instance.
func NewService(book ledger.Book, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{book: book, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Balances lists every currency the user holds.
func (s *Service) Balances(ctx context.Context, userID string) ([]ledger.Balance, error) {
	balances, err := s.book.Balances(ctx, userID)
	if err != nil {
		s.logger.Error("list balances failed", slog.String("user_id", userID), slog.Any("error", err))
		return nil, apperr.Internal(err)
	}
	return balances, nil
}

// Balance returns one currency, zero when the user never held it.
func (s *Service) Balance(ctx context.Context, userID, currency string) (ledger.Balance, error) {
	cur, err := money.MustCurrency(currency)
	if err != nil {
		return ledger.Balance{}, err
	}
	b, err := s.book.Balance(ctx, userID, cur.Code)
	if err != nil {
		s.logger.Error("read balance failed", slog.String("user_id", userID), slog.Any("error", err))
		return ledger.Balance{}, apperr.Internal(err)
	}
	return b, nil
}

// History returns the user's ledger entries, newest first.
func (s *Service) History(ctx context.Context, userID string, filter ledger.Filter, page pagination.Page) ([]ledger.Entry, int, error) {
	if filter.Currency != "" {
		cur, err := money.MustCurrency(filter.Currency)
		if err != nil {
			return nil, 0, err
		}
		filter.Currency = cur.Code
	}
	if filter.From != nil && filter.To != nil && filter.From.After(*filter.To) {
		return nil, 0, apperr.Validation("start_date must not be after end_date")
	}
	entries, total, err := s.book.Entries(ctx, userID, filter, page)
	if err != nil {
		s.logger.Error("list ledger entries failed", slog.String("user_id", userID), slog.Any("error", err))
		return nil, 0, apperr.Internal(err)
	}
	return entries, total, nil
}

// Reconcile checks Σ entries against the available balance. Both are read
// under the balance lock so a concurrent mutation cannot show up as drift.
func (s *Service) Reconcile(ctx context.Context, userID, currency string) (Reconciliation, error) {
	cur, err := money.MustCurrency(currency)
	if err != nil {
		return Reconciliation{}, err
	}
	var sum decimal.Decimal
	b, err := s.book.WithBalance(ctx, userID, cur.Code, func(ctx context.Context, _ *ledger.Account) error {
		var err error
		sum, err = s.book.Sum(ctx, userID, cur.Code)
		return err
	})
	if err != nil {
		s.logger.Error("reconcile ledger failed", slog.String("user_id", userID), slog.Any("error", err))
		return Reconciliation{}, apperr.Internal(err)
	}

	r := Reconciliation{
		UserID:    userID,
		Currency:  cur.Code,
		Available: b.Available,
		Locked:    b.Locked,
		Total:     b.Total(),
		LedgerSum: sum,
		Drift:     b.Available.Sub(sum),
		CheckedAt: s.now(),
	}
	r.Consistent = r.Drift.IsZero()
	if !r.Consistent {
		s.logger.Error("ledger drift detected",
			slog.String("user_id", userID),
			slog.String("currency", r.Currency),
			slog.String("available", r.Available.String()),
			slog.String("ledger_sum", r.LedgerSum.String()),
			slog.String("drift", r.Drift.String()))
	}
	return r, nil
}

// Adjust applies a signed admin correction. It never rewrites history; the
// offsetting entry references whatever record it corrects.
func (s *Service) Adjust(ctx context.Context, adminID string, in AdjustmentInput) (ledger.Balance, error) {
	cur, err := money.MustCurrency(in.Currency)
	if err != nil {
		return ledger.Balance{}, err
	}
	if err := money.CheckScale(cur, in.Amount); err != nil {
		return ledger.Balance{}, err
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return ledger.Balance{}, apperr.Validation("adjustment reason is required")
	}
	if strings.TrimSpace(in.UserID) == "" {
		return ledger.Balance{}, apperr.Validation("user_id is required")
	}

	ref := ledger.Reference{
		ID:       in.ReferenceID,
		Type:     "admin_adjustment",
		Metadata: map[string]string{"admin_id": adminID, "reason": reason},
	}
	if ref.ID == "" {
		ref.ID = uuid.NewString()
	}

	b, err := s.book.WithBalance(ctx, in.UserID, cur.Code, func(_ context.Context, acct *ledger.Account) error {
		return acct.Adjust(in.Amount, ref)
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			s.logger.Error("admin adjustment failed", slog.String("user_id", in.UserID), slog.Any("error", err))
		}
		return ledger.Balance{}, err
	}
	s.logger.Warn("admin balance adjustment",
		slog.String("admin_id", adminID),
		slog.String("user_id", in.UserID),
		slog.String("currency", cur.Code),
		slog.String("amount", in.Amount.String()),
		slog.String("reason", reason))
	return b, nil
}

package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_custody/internal/apperr"
	"github.com/congo-pay/congo_custody/internal/pagination"
)

var (
	// ErrInsufficientFunds occurs when the available balance cannot cover a hold or debit.
	ErrInsufficientFunds = &apperr.Error{Kind: apperr.KindValidation, Message: "insufficient balance"}

	// ErrLockedShortfall means a release or settlement exceeds the locked balance.
	// It indicates a bookkeeping bug, never a user error.
	ErrLockedShortfall = &apperr.Error{Kind: apperr.KindInternal, Message: "locked balance too low"}
)

// EntryType classifies a ledger entry.
type EntryType string

const (
	EntryDeposit          EntryType = "DEPOSIT"
	EntryWithdrawal       EntryType = "WITHDRAWAL"
	EntryWithdrawalRefund EntryType = "WITHDRAWAL_REFUND"
	EntryTradeBuy         EntryType = "TRADE_BUY"
	EntryTradeSell        EntryType = "TRADE_SELL"
	EntryFee              EntryType = "FEE"
	EntryRefund           EntryType = "REFUND"
	EntryAdminAdjustment  EntryType = "ADMIN_ADJUSTMENT"
)

// ParseEntryType accepts the canonical upper-case names.
func ParseEntryType(s string) (EntryType, bool) {
	switch t := EntryType(s); t {
	case EntryDeposit, EntryWithdrawal, EntryWithdrawalRefund, EntryTradeBuy,
		EntryTradeSell, EntryFee, EntryRefund, EntryAdminAdjustment:
		return t, true
	}
	return "", false
}

// Entry is an immutable record of one balance change. BalanceBefore and
// BalanceAfter refer to the available balance.
type Entry struct {
	ID            string
	UserID        string
	Currency      string
	Type          EntryType
	Amount        decimal.Decimal
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal
	ReferenceID   string
	ReferenceType string
	Metadata      map[string]string
	CreatedAt     time.Time
}

// Balance is the current state for one (user, currency) pair.
type Balance struct {
	UserID    string
	Currency  string
	Available decimal.Decimal
	Locked    decimal.Decimal
	UpdatedAt time.Time
}

func (b Balance) Total() decimal.Decimal { return b.Available.Add(b.Locked) }

// Reference links an entry to the record that caused it.
type Reference struct {
	ID       string
	Type     string
	Metadata map[string]string
}

// Filter narrows an entry listing. Zero fields match everything; time bounds are inclusive.
type Filter struct {
	Currency string
	Types    []EntryType
	From     *time.Time
	To       *time.Time
}

func (f Filter) matches(e Entry) bool {
	if f.Currency != "" && e.Currency != f.Currency {
		return false
	}
	if len(f.Types) > 0 {
		found := false
		for _, t := range f.Types {
			if t == e.Type {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

// Book is the atomic balance store. Every balance mutation goes through
// WithBalance, which serialises work per (user, currency) and persists the
// balance together with the entries produced by the Account mutators.
type Book interface {
	WithBalance(ctx context.Context, userID, currency string, fn func(ctx context.Context, acct *Account) error) (Balance, error)
	Balance(ctx context.Context, userID, currency string) (Balance, error)
	Balances(ctx context.Context, userID string) ([]Balance, error)
	Entries(ctx context.Context, userID string, filter Filter, page pagination.Page) ([]Entry, int, error)
	Sum(ctx context.Context, userID, currency string) (decimal.Decimal, error)
}

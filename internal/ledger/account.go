package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_custody/internal/apperr"
)

// Account is the locked view of one balance handed to WithBalance callbacks.
// Changes are buffered and only persisted when the callback returns nil.
type Account struct {
	balance Balance
	entries []Entry
	dirty   bool
	now     time.Time
}

func newAccount(b Balance, now time.Time) *Account {
	return &Account{balance: b, now: now}
}

// Balance returns the state including changes made so far in this callback.
func (a *Account) Balance() Balance { return a.balance }

// Hold moves amount from available to locked and records a negative entry.
func (a *Account) Hold(amount decimal.Decimal, typ EntryType, ref Reference) error {
	if err := positive(amount); err != nil {
		return err
	}
	if a.balance.Available.LessThan(amount) {
		return ErrInsufficientFunds
	}
	a.record(typ, amount.Neg(), ref)
	a.balance.Locked = a.balance.Locked.Add(amount)
	return nil
}

// Release returns a held amount to available and records a positive entry.
func (a *Account) Release(amount decimal.Decimal, typ EntryType, ref Reference) error {
	if err := positive(amount); err != nil {
		return err
	}
	if a.balance.Locked.LessThan(amount) {
		return ErrLockedShortfall
	}
	a.balance.Locked = a.balance.Locked.Sub(amount)
	a.record(typ, amount, ref)
	return nil
}

// Settle removes a held amount for good. The outflow was already recorded by
// Hold, so no entry is written.
func (a *Account) Settle(amount decimal.Decimal) error {
	if err := positive(amount); err != nil {
		return err
	}
	if a.balance.Locked.LessThan(amount) {
		return ErrLockedShortfall
	}
	a.balance.Locked = a.balance.Locked.Sub(amount)
	a.dirty = true
	return nil
}

// Credit adds amount to available.
func (a *Account) Credit(amount decimal.Decimal, typ EntryType, ref Reference) error {
	if err := positive(amount); err != nil {
		return err
	}
	a.record(typ, amount, ref)
	return nil
}

// Adjust applies a signed ADMIN_ADJUSTMENT; available may not go negative.
func (a *Account) Adjust(amount decimal.Decimal, ref Reference) error {
	if amount.IsZero() {
		return apperr.Validation("adjustment amount must not be zero")
	}
	if a.balance.Available.Add(amount).IsNegative() {
		return ErrInsufficientFunds
	}
	a.record(EntryAdminAdjustment, amount, ref)
	return nil
}

func (a *Account) record(typ EntryType, amount decimal.Decimal, ref Reference) {
	before := a.balance.Available
	after := before.Add(amount)
	a.balance.Available = after
	a.dirty = true
	a.entries = append(a.entries, Entry{
		ID:            uuid.NewString(),
		UserID:        a.balance.UserID,
		Currency:      a.balance.Currency,
		Type:          typ,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		ReferenceID:   ref.ID,
		ReferenceType: ref.Type,
		Metadata:      ref.Metadata,
		CreatedAt:     a.now,
	})
}

func positive(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperr.Validation("amount must be a positive number")
	}
	return nil
}

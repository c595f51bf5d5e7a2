package wallet

import (
	"time"

	"github.com/shopspring/decimal"
)

// Reconciliation compares the live available balance with the sum of its
// ledger entries. A non-zero Drift is a bookkeeping bug; it is reported, never corrected.
type Reconciliation struct {
	UserID     string
	Currency   string
	Available  decimal.Decimal
	Locked     decimal.Decimal
	Total      decimal.Decimal
	LedgerSum  decimal.Decimal
	Drift      decimal.Decimal
	Consistent bool
	CheckedAt  time.Time
}

// AdjustmentInput is an admin correction applied as an ADMIN_ADJUSTMENT entry.
type AdjustmentInput struct {
	UserID   string
	Currency string
	// Amount is signed; negative values debit available funds.
	Amount      decimal.Decimal
	Reason      string
	ReferenceID string
}

package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SeedBalance is a test helper that credits available funds through a DEPOSIT
// entry so the ledger stays reconcilable.
func SeedBalance(b Book, userID, currency string, amount decimal.Decimal) error {
	_, err := b.WithBalance(context.Background(), userID, currency, func(_ context.Context, acct *Account) error {
		return acct.Credit(amount, EntryDeposit, Reference{ID: "seed", Type: "seed"})
	})
	return err
}

// SetClock overrides the entry timestamp source of an in-memory book.
func (b *InMemoryBook) SetClock(now func() time.Time) {
	b.mu.Lock()
	b.now = now
	b.mu.Unlock()
}

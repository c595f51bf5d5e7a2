package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_custody/internal/pagination"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestInMemoryBook_HoldMovesAvailableToLocked(t *testing.T) {
	b := NewInMemory()
	ctx := context.Background()
	if err := SeedBalance(b, "user-1", "USD", dec("1000")); err != nil {
		t.Fatalf("seed: %v", err)
	}

	bal, err := b.WithBalance(ctx, "user-1", "usd", func(_ context.Context, acct *Account) error {
		return acct.Hold(dec("1000"), EntryWithdrawal, Reference{ID: "wd-1", Type: "withdrawal"})
	})
	if err != nil {
		t.Fatalf("hold: %v", err)
	}
	if !bal.Available.IsZero() || !bal.Locked.Equal(dec("1000")) {
		t.Fatalf("expected available 0 locked 1000, got %s/%s", bal.Available, bal.Locked)
	}
	if !bal.Total().Equal(dec("1000")) {
		t.Fatalf("hold must not change total, got %s", bal.Total())
	}

	entries, total, err := b.Entries(ctx, "user-1", Filter{Types: []EntryType{EntryWithdrawal}}, pagination.New(1, 10))
	if err != nil || total != 1 {
		t.Fatalf("expected one withdrawal entry, got %d %v", total, err)
	}
	e := entries[0]
	if !e.Amount.Equal(dec("-1000")) || !e.BalanceBefore.Equal(dec("1000")) || !e.BalanceAfter.IsZero() {
		t.Fatalf("unexpected entry %+v", e)
	}
}

func TestInMemoryBook_InsufficientFundsLeavesStateUntouched(t *testing.T) {
	b := NewInMemory()
	ctx := context.Background()
	_ = SeedBalance(b, "user-1", "USD", dec("100"))

	_, err := b.WithBalance(ctx, "user-1", "USD", func(_ context.Context, acct *Account) error {
		return acct.Hold(dec("100.01"), EntryWithdrawal, Reference{ID: "wd-1"})
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	bal, _ := b.Balance(ctx, "user-1", "USD")
	if !bal.Available.Equal(dec("100")) || !bal.Locked.IsZero() {
		t.Fatalf("balance changed after failed hold: %+v", bal)
	}
	if _, n, _ := b.Entries(ctx, "user-1", Filter{}, pagination.New(1, 10)); n != 1 {
		t.Fatalf("expected only the seed entry, got %d", n)
	}
}

func TestInMemoryBook_CallbackErrorRollsBack(t *testing.T) {
	b := NewInMemory()
	ctx := context.Background()
	_ = SeedBalance(b, "user-1", "EUR", dec("50"))

	boom := errors.New("persist failed")
	_, err := b.WithBalance(ctx, "user-1", "EUR", func(_ context.Context, acct *Account) error {
		if err := acct.Hold(dec("20"), EntryWithdrawal, Reference{ID: "wd"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	bal, _ := b.Balance(ctx, "user-1", "EUR")
	if !bal.Available.Equal(dec("50")) || !bal.Locked.IsZero() {
		t.Fatalf("expected rollback, got %+v", bal)
	}
}

func TestInMemoryBook_ReleaseAndSettle(t *testing.T) {
	b := NewInMemory()
	ctx := context.Background()
	_ = SeedBalance(b, "user-1", "USD", dec("300"))

	_, err := b.WithBalance(ctx, "user-1", "USD", func(_ context.Context, acct *Account) error {
		if err := acct.Hold(dec("100"), EntryWithdrawal, Reference{ID: "a"}); err != nil {
			return err
		}
		return acct.Hold(dec("100"), EntryWithdrawal, Reference{ID: "b"})
	})
	if err != nil {
		t.Fatalf("holds: %v", err)
	}

	bal, err := b.WithBalance(ctx, "user-1", "USD", func(_ context.Context, acct *Account) error {
		if err := acct.Release(dec("100"), EntryWithdrawalRefund, Reference{ID: "a"}); err != nil {
			return err
		}
		return acct.Settle(dec("100"))
	})
	if err != nil {
		t.Fatalf("release/settle: %v", err)
	}
	if !bal.Available.Equal(dec("200")) || !bal.Locked.IsZero() {
		t.Fatalf("unexpected balance %+v", bal)
	}

	sum, _ := b.Sum(ctx, "user-1", "USD")
	if !sum.Equal(bal.Available) {
		t.Fatalf("ledger sum %s must equal available %s", sum, bal.Available)
	}

	_, err = b.WithBalance(ctx, "user-1", "USD", func(_ context.Context, acct *Account) error {
		return acct.Settle(dec("1"))
	})
	if !errors.Is(err, ErrLockedShortfall) {
		t.Fatalf("expected locked shortfall, got %v", err)
	}
}

func TestInMemoryBook_AdjustCannotGoNegative(t *testing.T) {
	b := NewInMemory()
	ctx := context.Background()
	_ = SeedBalance(b, "user-1", "BTC", dec("0.5"))

	if _, err := b.WithBalance(ctx, "user-1", "BTC", func(_ context.Context, acct *Account) error {
		return acct.Adjust(dec("-0.6"), Reference{ID: "adj-1", Type: "admin"})
	}); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	bal, err := b.WithBalance(ctx, "user-1", "BTC", func(_ context.Context, acct *Account) error {
		return acct.Adjust(dec("-0.2"), Reference{ID: "adj-2", Type: "admin"})
	})
	if err != nil || !bal.Available.Equal(dec("0.3")) {
		t.Fatalf("expected 0.3 after adjustment, got %s %v", bal.Available, err)
	}
}

func TestInMemoryBook_ConcurrentHoldsNeverOverdraw(t *testing.T) {
	b := NewInMemory()
	ctx := context.Background()
	_ = SeedBalance(b, "user-1", "USD", dec("100"))

	const workers = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := b.WithBalance(ctx, "user-1", "USD", func(_ context.Context, acct *Account) error {
				return acct.Hold(dec("15"), EntryWithdrawal, Reference{ID: fmt.Sprintf("wd-%d", i)})
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			} else if !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("hold %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if succeeded != 6 {
		t.Fatalf("expected exactly 6 holds of 15 from 100, got %d", succeeded)
	}
	bal, _ := b.Balance(ctx, "user-1", "USD")
	if !bal.Available.Equal(dec("10")) || !bal.Locked.Equal(dec("90")) {
		t.Fatalf("unexpected balance %+v", bal)
	}
	sum, _ := b.Sum(ctx, "user-1", "USD")
	if !sum.Equal(bal.Available) {
		t.Fatalf("ledger sum %s drifted from available %s", sum, bal.Available)
	}
}

func TestInMemoryBook_EntryChainIsContinuous(t *testing.T) {
	b := NewInMemory()
	ctx := context.Background()
	_ = SeedBalance(b, "user-1", "USD", dec("500"))
	for i := 0; i < 5; i++ {
		_, err := b.WithBalance(ctx, "user-1", "USD", func(_ context.Context, acct *Account) error {
			if err := acct.Hold(dec("40"), EntryWithdrawal, Reference{ID: fmt.Sprint(i)}); err != nil {
				return err
			}
			return acct.Release(dec("10"), EntryWithdrawalRefund, Reference{ID: fmt.Sprint(i)})
		})
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
	}

	entries, total, _ := b.Entries(ctx, "user-1", Filter{Currency: "usd"}, pagination.New(1, 100))
	if total != 11 {
		t.Fatalf("expected 11 entries, got %d", total)
	}
	// newest first: walk backwards through the chain
	for i := len(entries) - 1; i > 0; i-- {
		older, newer := entries[i], entries[i-1]
		if !older.BalanceAfter.Equal(newer.BalanceBefore) {
			t.Fatalf("chain broken between %s and %s", older.ID, newer.ID)
		}
		if !newer.BalanceAfter.Equal(newer.BalanceBefore.Add(newer.Amount)) {
			t.Fatalf("entry %s does not add up", newer.ID)
		}
	}
}

func TestInMemoryBook_EntriesFilterAndPage(t *testing.T) {
	b := NewInMemory()
	ctx := context.Background()
	day := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	current := day
	b.SetClock(func() time.Time { return current })

	_ = SeedBalance(b, "user-1", "USD", dec("100"))
	current = day.Add(24 * time.Hour)
	_ = SeedBalance(b, "user-1", "EUR", dec("100"))
	current = day.Add(48 * time.Hour)
	_ = SeedBalance(b, "user-1", "USD", dec("5"))
	_ = SeedBalance(b, "user-2", "USD", dec("5"))

	from := day.Add(24 * time.Hour)
	to := day.Add(48 * time.Hour)
	entries, total, _ := b.Entries(ctx, "user-1", Filter{From: &from, To: &to}, pagination.New(1, 10))
	if total != 2 || len(entries) != 2 {
		t.Fatalf("expected inclusive bounds to match 2 entries, got %d", total)
	}
	if entries[0].Currency != "USD" {
		t.Fatalf("expected newest first, got %s", entries[0].Currency)
	}

	entries, total, _ = b.Entries(ctx, "user-1", Filter{Currency: "USD"}, pagination.New(2, 1))
	if total != 2 || len(entries) != 1 || !entries[0].Amount.Equal(dec("100")) {
		t.Fatalf("unexpected second page %+v (total %d)", entries, total)
	}

	balances, _ := b.Balances(ctx, "user-1")
	if len(balances) != 2 || balances[0].Currency != "EUR" {
		t.Fatalf("unexpected balances %+v", balances)
	}
}

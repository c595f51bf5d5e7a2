package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_custody/internal/money"
	"github.com/congo-pay/congo_custody/internal/pagination"
)

type balanceKey struct {
	userID   string
	currency string
}

// InMemoryBook is a concurrency-safe Book for tests and local runs. Each
// (user, currency) pair has its own mutex, so unrelated balances never wait
// on each other.
type InMemoryBook struct {
	mu       sync.RWMutex
	balances map[balanceKey]Balance
	entries  []Entry
	locks    map[balanceKey]*sync.Mutex
	now      func() time.Time
}

// NewInMemory creates an empty in-memory book.
func NewInMemory() *InMemoryBook {
	return &InMemoryBook{
		balances: make(map[balanceKey]Balance),
		locks:    make(map[balanceKey]*sync.Mutex),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (b *InMemoryBook) keyLock(k balanceKey) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[k]
	if !ok {
		l = &sync.Mutex{}
		b.locks[k] = l
	}
	return l
}

func (b *InMemoryBook) WithBalance(ctx context.Context, userID, currency string, fn func(ctx context.Context, acct *Account) error) (Balance, error) {
	k := balanceKey{userID: userID, currency: money.Normalize(currency)}
	l := b.keyLock(k)
	l.Lock()
	defer l.Unlock()

	b.mu.RLock()
	bal, ok := b.balances[k]
	clock := b.now
	b.mu.RUnlock()
	if !ok {
		bal = Balance{UserID: k.userID, Currency: k.currency, Available: decimal.Zero, Locked: decimal.Zero}
	}

	acct := newAccount(bal, clock())
	if err := fn(ctx, acct); err != nil {
		return Balance{}, err
	}
	if !acct.dirty {
		return acct.balance, nil
	}

	acct.balance.UpdatedAt = acct.now
	b.mu.Lock()
	b.balances[k] = acct.balance
	b.entries = append(b.entries, acct.entries...)
	b.mu.Unlock()
	return acct.balance, nil
}

func (b *InMemoryBook) Balance(_ context.Context, userID, currency string) (Balance, error) {
	k := balanceKey{userID: userID, currency: money.Normalize(currency)}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if bal, ok := b.balances[k]; ok {
		return bal, nil
	}
	return Balance{UserID: k.userID, Currency: k.currency}, nil
}

func (b *InMemoryBook) Balances(_ context.Context, userID string) ([]Balance, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Balance
	for k, bal := range b.balances {
		if k.userID == userID {
			out = append(out, bal)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Currency < out[j].Currency })
	return out, nil
}

func (b *InMemoryBook) Entries(_ context.Context, userID string, filter Filter, page pagination.Page) ([]Entry, int, error) {
	if filter.Currency != "" {
		filter.Currency = money.Normalize(filter.Currency)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	var matched []Entry
	for i := len(b.entries) - 1; i >= 0; i-- {
		e := b.entries[i]
		if e.UserID == userID && filter.matches(e) {
			matched = append(matched, e)
		}
	}
	start, end := page.Slice(len(matched))
	return matched[start:end], len(matched), nil
}

func (b *InMemoryBook) Sum(_ context.Context, userID, currency string) (decimal.Decimal, error) {
	currency = money.Normalize(currency)
	b.mu.RLock()
	defer b.mu.RUnlock()
	sum := decimal.Zero
	for _, e := range b.entries {
		if e.UserID == userID && e.Currency == currency {
			sum = sum.Add(e.Amount)
		}
	}
	return sum, nil
}

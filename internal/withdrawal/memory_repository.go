package withdrawal

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/congo_custody/internal/pagination"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Withdrawal
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]Withdrawal)}
}

func (r *memoryRepository) Create(_ context.Context, w Withdrawal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[w.ID]; exists {
		return errors.New("withdrawal exists")
	}
	for _, existing := range r.storage {
		if existing.ReferenceNumber == w.ReferenceNumber {
			return errors.New("duplicate reference number")
		}
	}
	r.storage[w.ID] = w
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Withdrawal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.storage[id]
	if !ok {
		return Withdrawal{}, ErrNotFound
	}
	return w, nil
}

func (r *memoryRepository) Update(_ context.Context, w Withdrawal, from Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.storage[w.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != from {
		return ErrStaleStatus
	}
	r.storage[w.ID] = w
	return nil
}

func (r *memoryRepository) List(_ context.Context, filter ListFilter, page pagination.Page) ([]Withdrawal, int, error) {
	r.mu.RLock()
	var matched []Withdrawal
	for _, w := range r.storage {
		if filter.matches(w) {
			matched = append(matched, w)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	start, end := page.Slice(len(matched))
	return matched[start:end], len(matched), nil
}

func (r *memoryRepository) DailyUsage(_ context.Context, userID, currency string, since time.Time) (Usage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u := Usage{Amount: decimal.Zero}
	for _, w := range r.storage {
		if w.UserID != userID || w.Currency != currency || w.CreatedAt.Before(since) {
			continue
		}
		if w.Status == StatusCancelled || w.Status == StatusRejected {
			continue
		}
		u.Amount = u.Amount.Add(w.Amount)
		u.Count++
	}
	return u, nil
}

func (r *memoryRepository) BankAccountInUse(_ context.Context, bankAccountID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, w := range r.storage {
		if w.BankAccountID == bankAccountID && !w.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

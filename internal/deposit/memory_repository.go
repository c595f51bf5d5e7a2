package deposit

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/congo-pay/congo_custody/internal/pagination"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Deposit
	refs    map[string]struct{}
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{storage: make(map[string]Deposit), refs: make(map[string]struct{})}
}

func (r *memoryRepository) Create(_ context.Context, d Deposit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[d.ID]; exists {
		return errors.New("deposit exists")
	}
	if _, taken := r.refs[d.ReferenceCode]; taken {
		return ErrDuplicateReference
	}
	r.storage[d.ID] = d
	r.refs[d.ReferenceCode] = struct{}{}
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Deposit, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.storage[id]
	if !ok {
		return Deposit{}, ErrNotFound
	}
	return d, nil
}

func (r *memoryRepository) Update(_ context.Context, d Deposit, from Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.storage[d.ID]
	if !ok {
		return ErrNotFound
	}
	if current.Status != from {
		return ErrStaleStatus
	}
	r.storage[d.ID] = d
	return nil
}

func (r *memoryRepository) List(_ context.Context, filter ListFilter, page pagination.Page) ([]Deposit, int, error) {
	r.mu.RLock()
	var matched []Deposit
	for _, d := range r.storage {
		if filter.matches(d) {
			matched = append(matched, d)
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

func (r *memoryRepository) BankAccountInUse(_ context.Context, bankAccountID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.storage {
		if d.BankAccountID == bankAccountID && d.Status.Open() {
			return true, nil
		}
	}
	return false, nil
}

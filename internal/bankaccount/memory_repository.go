package bankaccount

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type memoryRepository struct {
	mu      sync.RWMutex
	storage map[string]Account
	deleted map[string]bool
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewMemoryRepository constructs an in-memory repository for tests.
func NewMemoryRepository() Repository {
	return &memoryRepository{
		storage: make(map[string]Account),
		deleted: make(map[string]bool),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (r *memoryRepository) Lock(ctx context.Context, userID, currency string, fn func(ctx context.Context) error) error {
	key := userID + ":" + currency
	r.locksMu.Lock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	r.locksMu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn(ctx)
}

func (r *memoryRepository) Create(_ context.Context, acct Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.storage[acct.ID]; exists {
		return errors.New("bank account exists")
	}
	r.storage[acct.ID] = acct
	return nil
}

func (r *memoryRepository) Get(_ context.Context, id string) (Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	acct, ok := r.storage[id]
	if !ok || r.deleted[id] {
		return Account{}, ErrNotFound
	}
	return acct, nil
}

func (r *memoryRepository) ListByUser(_ context.Context, userID, currency string) ([]Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Account
	for id, acct := range r.storage {
		if r.deleted[id] || acct.UserID != userID {
			continue
		}
		if currency != "" && acct.Currency != currency {
			continue
		}
		out = append(out, acct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *memoryRepository) MarkVerified(_ context.Context, id, verifiedBy string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	target, ok := r.storage[id]
	if !ok || r.deleted[id] {
		return ErrNotFound
	}
	for otherID, acct := range r.storage {
		if otherID == id || acct.UserID != target.UserID || acct.Currency != target.Currency || !acct.IsVerified {
			continue
		}
		acct.IsVerified = false
		acct.VerifiedAt = nil
		acct.VerifiedBy = ""
		r.storage[otherID] = acct
	}
	verifiedAt := at
	target.IsVerified = true
	target.VerifiedAt = &verifiedAt
	target.VerifiedBy = verifiedBy
	r.storage[id] = target
	return nil
}

func (r *memoryRepository) SoftDelete(_ context.Context, id string, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	acct, ok := r.storage[id]
	if !ok || r.deleted[id] {
		return ErrNotFound
	}
	acct.IsVerified = false
	r.storage[id] = acct
	r.deleted[id] = true
	return nil
}

package twofactor

import (
	"context"
	"sync"
	"time"
)

// AttemptStore tracks failed verification attempts per user inside a sliding window.
type AttemptStore interface {
	Failures(ctx context.Context, userID string, now time.Time) (int, error)
	RecordFailure(ctx context.Context, userID string, now time.Time) error
	Reset(ctx context.Context, userID string) error
}

// MemoryStore keeps attempts in process and evicts users idle longer than the window.
type MemoryStore struct {
	window time.Duration
	mu     sync.Mutex
	byUser map[string][]time.Time
	hits   uint64
}

func NewMemoryStore(window time.Duration) *MemoryStore {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &MemoryStore{window: window, byUser: make(map[string][]time.Time)}
}

func (s *MemoryStore) Failures(_ context.Context, userID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.prune(userID, now)
	return len(kept), nil
}

func (s *MemoryStore) RecordFailure(_ context.Context, userID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.prune(userID, now)
	s.byUser[userID] = append(kept, now)

	s.hits++
	if s.hits%256 == 0 {
		s.evict(now)
	}
	return nil
}

func (s *MemoryStore) Reset(_ context.Context, userID string) error {
	s.mu.Lock()
	delete(s.byUser, userID)
	s.mu.Unlock()
	return nil
}

// prune drops attempts older than the window; caller holds mu.
func (s *MemoryStore) prune(userID string, now time.Time) []time.Time {
	attempts := s.byUser[userID]
	cutoff := now.Add(-s.window)
	i := 0
	for i < len(attempts) && !attempts[i].After(cutoff) {
		i++
	}
	kept := attempts[i:]
	if len(kept) == 0 {
		delete(s.byUser, userID)
		return nil
	}
	s.byUser[userID] = kept
	return kept
}

func (s *MemoryStore) evict(now time.Time) {
	cutoff := now.Add(-s.window)
	for user, attempts := range s.byUser {
		if len(attempts) == 0 || !attempts[len(attempts)-1].After(cutoff) {
			delete(s.byUser, user)
		}
	}
}

// size reports tracked users; used by tests.
func (s *MemoryStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byUser)
}

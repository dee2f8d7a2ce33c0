package policy

import "sync"

// Store holds the current policy and supports atomic swaps so the gating
// rule can change at runtime without restarting the engine.
type Store struct {
	mu sync.RWMutex
	p  Policy
}

// NewStore creates a store with the given initial policy.
func NewStore(p Policy) *Store {
	return &Store{p: p}
}

// Current returns the active policy.
func (s *Store) Current() Policy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.p
}

// Swap replaces the active policy.
func (s *Store) Swap(p Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.p = p
}

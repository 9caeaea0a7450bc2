package cart

import "sync"

// Sessions holds one cart per member for the life of the process. Carts are never persisted.
type Sessions struct {
	mu    sync.Mutex
	carts map[string]*Store
}

func NewSessions() *Sessions {
	return &Sessions{carts: make(map[string]*Store)}
}

// Get returns the member's cart, creating an empty one on first use.
func (s *Sessions) Get(userID string) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[userID]
	if !ok {
		c = NewStore()
		s.carts[userID] = c
	}
	return c
}

// Drop forgets the member's cart entirely.
func (s *Sessions) Drop(userID string) {
	s.mu.Lock()
	delete(s.carts, userID)
	s.mu.Unlock()
}

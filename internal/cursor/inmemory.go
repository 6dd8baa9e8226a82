package cursor

import (
	"context"
	"sync"
	"time"
)

// InMemoryStore holds the cursor for the process lifetime only (dry runs, tests).
type InMemoryStore struct {
	mu    sync.RWMutex
	state State
	set   bool
	saves []int64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Load(_ context.Context) (State, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state, s.set, nil
}

func (s *InMemoryStore) Save(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = State{ID: id, UpdatedAt: time.Now().UTC()}
	s.set = true
	s.saves = append(s.saves, id)
	return nil
}

// History returns every id saved so far, in order.
func (s *InMemoryStore) History() []int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int64, len(s.saves))
	copy(out, s.saves)
	return out
}

func (s *InMemoryStore) Close() error { return nil }

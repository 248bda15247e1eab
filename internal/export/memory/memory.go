// Package memory is an in-process LedgerWriter for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"gestionale/internal/core"
)

type Store struct {
	mu    sync.Mutex
	items []core.Movement
}

func New() *Store {
	return &Store{}
}

// AppendMovement stores the movement and returns a synthetic row reference.
func (s *Store) AppendMovement(_ context.Context, m core.Movement) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, m)
	return fmt.Sprintf("mem:%d", len(s.items)), nil
}

// Movements returns a copy of everything appended so far.
func (s *Store) Movements() []core.Movement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Movement(nil), s.items...)
}

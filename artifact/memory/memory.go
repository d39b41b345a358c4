// Package memory implements an in-process artifact.Store. Intended as the
// front tier of a tiered store, and for tests.
package memory

import (
	"context"
	"sync"

	"github.com/poseworks/posepool/artifact"
)

var _ artifact.Store = (*Store)(nil)

// Store is a fully in-memory artifact store. Safe for concurrent use.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New returns a new empty Store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Get implements artifact.Store.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, artifact.ErrNotFound
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Put implements artifact.Store.
func (s *Store) Put(_ context.Context, key string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	s.data[key] = cp
	s.mu.Unlock()
	return nil
}

// Len returns the number of cached artifacts.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

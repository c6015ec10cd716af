// Package memory provides an in-memory implementation of ports.Store.
// Useful for testing and for sessions that must not touch disk.
package memory

import (
	"maps"
	"slices"
	"sync"

	"github.com/tejashwikalptaru/tunedeck/internal/domain"
	"github.com/tejashwikalptaru/tunedeck/internal/ports"
)

const repoType = "memory"

// ErrInjected is returned by operations switched to fail in tests.
var ErrInjected = domain.NewRepositoryError("inject", repoType, "", "injected failure", nil)

// Store implements ports.Store with a map.
//
// Thread-safe: All operations protected by sync.RWMutex.
type Store struct {
	docs map[string][]byte
	mu   sync.RWMutex

	failLoad bool
	failSave bool
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		docs: make(map[string][]byte),
	}
}

// Load returns a copy of the document stored under key.
func (s *Store) Load(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.failLoad {
		return nil, ErrInjected
	}
	data, ok := s.docs[key]
	if !ok {
		return nil, domain.ErrKeyNotFound
	}
	return slices.Clone(data), nil
}

// Save stores a copy of data under key.
func (s *Store) Save(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failSave {
		return ErrInjected
	}
	s.docs[key] = slices.Clone(data)
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.docs, key)
	return nil
}

// Keys returns the stored keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Sorted(maps.Keys(s.docs))
}

// SetFailLoad makes Load return ErrInjected.
func (s *Store) SetFailLoad(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLoad = fail
}

// SetFailSave makes Save return ErrInjected.
func (s *Store) SetFailSave(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSave = fail
}

// Verify interface implementation
var _ ports.Store = (*Store)(nil)

// Package preferences provides a ports.Store on top of fyne.Preferences.
// Documents are stored as JSON strings under their key.
package preferences

import (
	"sync"

	"fyne.io/fyne/v2"

	"github.com/tejashwikalptaru/tunedeck/internal/domain"
	"github.com/tejashwikalptaru/tunedeck/internal/ports"
)

// Store implements ports.Store using Fyne preferences.
// An empty string is treated as a missing key.
//
// Thread-safe: All operations protected by sync.RWMutex.
type Store struct {
	prefs fyne.Preferences
	mu    sync.RWMutex
}

// NewStore creates a new preferences store.
// The preferences parameter should be obtained from fyne.App.Preferences().
func NewStore(prefs fyne.Preferences) *Store {
	return &Store{
		prefs: prefs,
	}
}

// Load returns the document stored under key.
func (s *Store) Load(key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value := s.prefs.String(key)
	if value == "" {
		return nil, domain.ErrKeyNotFound
	}
	return []byte(value), nil
}

// Save replaces the document stored under key.
func (s *Store) Save(key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prefs.SetString(key, string(data))
	return nil
}

// Delete removes the document stored under key.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prefs.RemoveValue(key)
	return nil
}

// Verify that Store implements the Store interface
var _ ports.Store = (*Store)(nil)

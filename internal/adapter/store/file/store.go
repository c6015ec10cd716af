// Package file provides a ports.Store that keeps one JSON file per key.
package file

import (
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/tejashwikalptaru/tunedeck/internal/domain"
	"github.com/tejashwikalptaru/tunedeck/internal/ports"
)

const repoType = "file"

// Store writes each document to <dir>/<key>.json. Writes go to a temporary
// file first and are renamed into place, so readers never see a partial
// document.
//
// Thread-safe: All operations protected by sync.RWMutex.
type Store struct {
	logger *slog.Logger
	fs     afero.Fs
	dir    string
	mu     sync.RWMutex
}

// NewStore creates a store rooted at dir on fsys. The directory is created
// on first write.
func NewStore(logger *slog.Logger, fsys afero.Fs, dir string) *Store {
	return &Store{
		logger: logger.With(slog.String("store", repoType)),
		fs:     fsys,
		dir:    dir,
	}
}

func (s *Store) path(key string) (string, error) {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return "", domain.NewValidationError("key", key, "must be a plain file name")
	}
	return filepath.Join(s.dir, key+".json"), nil
}

// Load returns the document stored under key.
func (s *Store) Load(key string) ([]byte, error) {
	path, err := s.path(key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := afero.ReadFile(s.fs, path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, domain.NewRepositoryError("load", repoType, key, "failed to read file", err)
	}
	return data, nil
}

// Save replaces the document stored under key.
func (s *Store) Save(key string, data []byte) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.MkdirAll(s.dir, 0o750); err != nil {
		return domain.NewRepositoryError("save", repoType, key, "failed to create directory", err)
	}

	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o600); err != nil {
		return domain.NewRepositoryError("save", repoType, key, "failed to write temporary file", err)
	}
	if err := s.fs.Rename(tmp, path); err != nil {
		_ = s.fs.Remove(tmp)
		return domain.NewRepositoryError("save", repoType, key, "failed to replace file", err)
	}

	s.logger.Debug("document saved", slog.String("key", key), slog.Int("bytes", len(data)))
	return nil
}

// Delete removes the document stored under key.
func (s *Store) Delete(key string) error {
	path, err := s.path(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.fs.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return domain.NewRepositoryError("delete", repoType, key, "failed to remove file", err)
	}
	return nil
}

// Verify that Store implements the Store interface
var _ ports.Store = (*Store)(nil)

// Package bolt provides a bbolt-backed implementation of ports.Store.
// All documents live in one bucket, keyed by document name.
package bolt

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/tejashwikalptaru/tunedeck/internal/domain"
	"github.com/tejashwikalptaru/tunedeck/internal/ports"
)

const repoType = "bolt"

// BucketName is the bucket holding every document.
var BucketName = []byte("tunedeck")

// Store implements ports.Store on a bbolt database file.
//
// Thread-safe: bbolt serializes writers and allows concurrent readers.
type Store struct {
	logger *slog.Logger
	db     *bolt.DB
	path   string
}

// Open opens (or creates) the database at path and ensures the bucket exists.
func Open(logger *slog.Logger, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, domain.NewRepositoryError("open", repoType, "", "failed to create directory", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, domain.NewRepositoryError("open", repoType, "", fmt.Sprintf("failed to open %s", path), err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(BucketName)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, domain.NewRepositoryError("open", repoType, "", "failed to create bucket", err)
	}

	logger.Debug("bolt store opened", slog.String("path", path))

	return &Store{
		logger: logger.With(slog.String("store", repoType)),
		db:     db,
		path:   path,
	}, nil
}

// Load returns a copy of the document stored under key.
func (s *Store) Load(key string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketName)
		if bucket == nil {
			return domain.ErrKeyNotFound
		}
		value := bucket.Get([]byte(key))
		if value == nil {
			return domain.ErrKeyNotFound
		}
		// value is only valid inside the transaction
		data = make([]byte, len(value))
		copy(data, value)
		return nil
	})
	if errors.Is(err, domain.ErrKeyNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, domain.NewRepositoryError("load", repoType, key, "read transaction failed", err)
	}
	return data, nil
}

// Save replaces the document stored under key.
func (s *Store) Save(key string, data []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(BucketName)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(key), data)
	})
	if err != nil {
		return domain.NewRepositoryError("save", repoType, key, "write transaction failed", err)
	}
	return nil
}

// Delete removes the document stored under key.
func (s *Store) Delete(key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(BucketName)
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
	if err != nil {
		return domain.NewRepositoryError("delete", repoType, key, "write transaction failed", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return domain.NewRepositoryError("close", repoType, "", "failed to close database", err)
	}
	return nil
}

// Verify that Store implements the Store interface
var _ ports.Store = (*Store)(nil)

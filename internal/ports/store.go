// Package ports define storage interfaces for persistence abstraction.
// These interfaces allow swapping the persistence mechanism (bbolt, files, preferences).
package ports

// Persisted document keys.
const (
	KeySavedPlaylists = "saved_playlists"
	KeyFavoriteSongs  = "favorites_songs"
	KeyRecentlyPlayed = "recently_played_songs"
)

// Store is a key to JSON document store.
// Every write is a full-document rewrite of the key; last write wins.
//
// Thread-safety: Implementations must be thread-safe.
type Store interface {
	// Load returns the document stored under key.
	// If the key was never saved, returns (nil, domain.ErrKeyNotFound).
	Load(key string) ([]byte, error)

	// Save replaces the document stored under key.
	//
	// Returns an error if the write fails.
	Save(key string, data []byte) error

	// Delete removes the document stored under key.
	// Deleting a missing key is a no-op.
	Delete(key string) error
}

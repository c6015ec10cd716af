package bolt

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/tejashwikalptaru/tunedeck/internal/domain"
	"github.com/tejashwikalptaru/tunedeck/internal/logger"
	"github.com/tejashwikalptaru/tunedeck/internal/ports"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(logger.NewTestLogger(), filepath.Join(t.TempDir(), "data", "tunedeck.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_LoadMissingKey(t *testing.T) {
	store := openTestStore(t)

	data, err := store.Load(ports.KeySavedPlaylists)
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
	assert.Nil(t, data)
}

func TestStore_SaveLoadDelete(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Save(ports.KeyFavoriteSongs, []byte(`[1,2,3]`)))

	data, err := store.Load(ports.KeyFavoriteSongs)
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2,3]`, string(data))

	// last write wins
	require.NoError(t, store.Save(ports.KeyFavoriteSongs, []byte(`[4]`)))
	data, err = store.Load(ports.KeyFavoriteSongs)
	require.NoError(t, err)
	assert.JSONEq(t, `[4]`, string(data))

	require.NoError(t, store.Delete(ports.KeyFavoriteSongs))
	_, err = store.Load(ports.KeyFavoriteSongs)
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)

	// deleting again is a no-op
	assert.NoError(t, store.Delete(ports.KeyFavoriteSongs))
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tunedeck.db")

	store, err := Open(logger.NewTestLogger(), path)
	require.NoError(t, err)
	require.NoError(t, store.Save(ports.KeyRecentlyPlayed, []byte(`[9,8]`)))
	require.NoError(t, store.Close())

	store, err = Open(logger.NewTestLogger(), path)
	require.NoError(t, err)
	defer store.Close()

	data, err := store.Load(ports.KeyRecentlyPlayed)
	require.NoError(t, err)
	assert.JSONEq(t, `[9,8]`, string(data))

	err = store.db.View(func(tx *bolt.Tx) error {
		assert.NotNil(t, tx.Bucket(BucketName))
		return nil
	})
	require.NoError(t, err)
}

func TestStore_LoadReturnsCopy(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.Save("k", []byte("abc")))

	data, err := store.Load("k")
	require.NoError(t, err)
	data[0] = 'z'

	again, err := store.Load("k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(again))
}

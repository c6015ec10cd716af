package service

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/tunedeck/internal/adapter/eventbus"
	"github.com/tejashwikalptaru/tunedeck/internal/adapter/store/memory"
	"github.com/tejashwikalptaru/tunedeck/internal/domain"
	"github.com/tejashwikalptaru/tunedeck/internal/logger"
	"github.com/tejashwikalptaru/tunedeck/internal/ports"
)

type playlistFixture struct {
	service   *PlaylistService
	store     *memory.Store
	clock     *clockwork.FakeClock
	persister *Persister
	events    *eventLog
}

func newTestPlaylistService(t *testing.T, opts ...PlaylistOption) *playlistFixture {
	t.Helper()

	log := logger.NewTestLogger()
	store := memory.NewStore()
	bus := eventbus.NewSyncEventBus(log)
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	persister := NewPersister(log, 0)
	events := &eventLog{}
	bus.SubscribeAll(events.handle)

	opts = append([]PlaylistOption{WithPlaylistClock(clock)}, opts...)
	svc := NewPlaylistService(log, store, bus, persister, opts...)

	t.Cleanup(func() {
		persister.Close()
		_ = bus.Close()
	})

	return &playlistFixture{
		service:   svc,
		store:     store,
		clock:     clock,
		persister: persister,
		events:    events,
	}
}

func (f *playlistFixture) raw(t *testing.T, key string) string {
	t.Helper()
	data, err := f.store.Load(key)
	require.NoError(t, err)
	return string(data)
}

func TestPlaylistService_AllPlaylists_EmptyStore(t *testing.T) {
	f := newTestPlaylistService(t)

	all := f.service.AllPlaylists()
	require.Len(t, all, 1)
	assert.Equal(t, domain.FavoritesPlaylistID, all[0].ID)
	assert.Equal(t, "Favorites", all[0].Name)
	assert.Equal(t, "Your favorite songs", all[0].Description)
	assert.Empty(t, all[0].SongIDs)
}

func TestPlaylistService_AllPlaylists_FavoritesLast(t *testing.T) {
	f := newTestPlaylistService(t)

	a := f.service.CreatePlaylist("Road Trip", "")
	b := f.service.CreatePlaylist("Focus", "deep work")
	require.True(t, f.service.AddToFavorites(7))

	all := f.service.AllPlaylists()
	require.Len(t, all, 3)
	assert.Equal(t, a.ID, all[0].ID)
	assert.Equal(t, b.ID, all[1].ID)
	assert.Equal(t, domain.FavoritesPlaylistID, all[2].ID)
	assert.Equal(t, []int64{7}, all[2].SongIDs)
}

func TestPlaylistService_AllPlaylists_MalformedData(t *testing.T) {
	f := newTestPlaylistService(t)
	require.NoError(t, f.store.Save(ports.KeySavedPlaylists, []byte(`{not json`)))

	all := f.service.AllPlaylists()
	require.Len(t, all, 1)
	assert.True(t, all[0].IsFavorites())
}

func TestPlaylistService_AllPlaylists_LoadFailure(t *testing.T) {
	f := newTestPlaylistService(t)
	f.service.CreatePlaylist("Mix", "")
	f.store.SetFailLoad(true)

	all := f.service.AllPlaylists()
	require.Len(t, all, 1)
	assert.True(t, all[0].IsFavorites())
}

func TestPlaylistService_StoredFormat(t *testing.T) {
	f := newTestPlaylistService(t)

	p := f.service.CreatePlaylist("Mix", "weekend")
	require.True(t, f.service.AddSongToPlaylist(p.ID, 42))

	var records []map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.raw(t, ports.KeySavedPlaylists)), &records))
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, p.ID, rec["id"])
	assert.Equal(t, "Mix", rec["name"])
	assert.Equal(t, "weekend", rec["description"])
	assert.Equal(t, []any{float64(42)}, rec["songIds"])
	assert.Equal(t, float64(f.clock.Now().UnixMilli()), rec["dateCreated"])
	assert.Equal(t, float64(f.clock.Now().UnixMilli()), rec["dateModified"])
	assert.NotContains(t, rec, "coverArtUri")
}

func TestPlaylistService_ReadsStoredFormat(t *testing.T) {
	f := newTestPlaylistService(t)
	raw := `[{"id":"p1","name":"Old","description":"","songIds":[3,1,2],` +
		`"dateCreated":1700000000000,"dateModified":1700000001000,"coverArtUri":"content://art/1","extra":true}]`
	require.NoError(t, f.store.Save(ports.KeySavedPlaylists, []byte(raw)))

	p, ok := f.service.PlaylistByID("p1")
	require.True(t, ok)
	assert.Equal(t, "Old", p.Name)
	assert.Equal(t, []int64{3, 1, 2}, p.SongIDs)
	assert.Equal(t, int64(1700000000000), p.DateCreated.UnixMilli())
	assert.Equal(t, int64(1700000001000), p.DateModified.UnixMilli())
	assert.Equal(t, "content://art/1", p.CoverArtURI)
}

func TestPlaylistService_SavePlaylist_ReplacesByID(t *testing.T) {
	f := newTestPlaylistService(t)

	p := f.service.CreatePlaylist("Mix", "")
	p.Name = "Renamed"
	require.True(t, f.service.SavePlaylist(p))

	all := f.service.AllPlaylists()
	require.Len(t, all, 2)
	assert.Equal(t, "Renamed", all[0].Name)
}

func TestPlaylistService_SavePlaylist_NeverStoresFavorites(t *testing.T) {
	f := newTestPlaylistService(t)

	fav := domain.FavoritesPlaylist([]int64{5, 6}, f.clock.Now())
	require.True(t, f.service.SavePlaylist(fav))

	assert.JSONEq(t, `[5,6]`, f.raw(t, ports.KeyFavoriteSongs))
	_, err := f.store.Load(ports.KeySavedPlaylists)
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)

	f.service.CreatePlaylist("Mix", "")
	assert.NotContains(t, f.raw(t, ports.KeySavedPlaylists), domain.FavoritesPlaylistID)
}

func TestPlaylistService_SavePlaylist_WriteFailure(t *testing.T) {
	f := newTestPlaylistService(t)
	f.store.SetFailSave(true)

	assert.False(t, f.service.SavePlaylist(domain.NewPlaylist("p1", "Mix", "", f.clock.Now())))
	assert.Empty(t, f.events.ofType(domain.EventPlaylistsChanged))
}

func TestPlaylistService_DeletePlaylist(t *testing.T) {
	f := newTestPlaylistService(t)

	a := f.service.CreatePlaylist("A", "")
	b := f.service.CreatePlaylist("B", "")

	require.True(t, f.service.DeletePlaylist(a.ID))

	all := f.service.AllPlaylists()
	require.Len(t, all, 2)
	assert.Equal(t, b.ID, all[0].ID)

	_, ok := f.service.PlaylistByID(a.ID)
	assert.False(t, ok)

	deleted := f.events.ofType(domain.EventPlaylistsChanged)
	last := deleted[len(deleted)-1].(domain.PlaylistsChangedEvent)
	assert.Equal(t, a.ID, last.PlaylistID)
	assert.False(t, last.Saved)
}

func TestPlaylistService_DeleteFavoritesRefused(t *testing.T) {
	f := newTestPlaylistService(t)
	require.True(t, f.service.AddToFavorites(1))

	assert.False(t, f.service.DeletePlaylist(domain.FavoritesPlaylistID))
	assert.True(t, f.service.IsFavorite(1))
}

func TestPlaylistService_PlaylistByID(t *testing.T) {
	f := newTestPlaylistService(t)

	_, ok := f.service.PlaylistByID("missing")
	assert.False(t, ok)

	fav, ok := f.service.PlaylistByID(domain.FavoritesPlaylistID)
	require.True(t, ok)
	assert.True(t, fav.IsFavorites())
}

func TestPlaylistService_CreatePlaylist(t *testing.T) {
	f := newTestPlaylistService(t)

	a := f.service.CreatePlaylist("A", "first")
	b := f.service.CreatePlaylist("B", "")

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "first", a.Description)
	assert.Empty(t, a.SongIDs)
	assert.Equal(t, f.clock.Now(), a.DateCreated)
}

func TestPlaylistService_AddSongToPlaylist(t *testing.T) {
	f := newTestPlaylistService(t)
	p := f.service.CreatePlaylist("Mix", "")

	f.clock.Advance(time.Minute)
	require.True(t, f.service.AddSongToPlaylist(p.ID, 1))
	require.True(t, f.service.AddSongToPlaylist(p.ID, 2))
	require.True(t, f.service.AddSongToPlaylist(p.ID, 1))

	got, ok := f.service.PlaylistByID(p.ID)
	require.True(t, ok)
	assert.Equal(t, []int64{1, 2}, got.SongIDs)
	assert.Equal(t, f.clock.Now().UnixMilli(), got.DateModified.UnixMilli())
	assert.Equal(t, p.DateCreated.UnixMilli(), got.DateCreated.UnixMilli())

	assert.False(t, f.service.AddSongToPlaylist("missing", 1))
}

func TestPlaylistService_RemoveSongFromPlaylist(t *testing.T) {
	f := newTestPlaylistService(t)
	p := f.service.CreatePlaylist("Mix", "")
	f.service.AddSongToPlaylist(p.ID, 1)
	f.service.AddSongToPlaylist(p.ID, 2)

	require.True(t, f.service.RemoveSongFromPlaylist(p.ID, 1))

	got, _ := f.service.PlaylistByID(p.ID)
	assert.Equal(t, []int64{2}, got.SongIDs)
	assert.False(t, f.service.RemoveSongFromPlaylist("missing", 2))
}

func TestPlaylistService_FavoritesRouting(t *testing.T) {
	f := newTestPlaylistService(t)

	require.True(t, f.service.AddSongToPlaylist(domain.FavoritesPlaylistID, 9))
	assert.True(t, f.service.IsFavorite(9))
	assert.JSONEq(t, `[9]`, f.raw(t, ports.KeyFavoriteSongs))

	require.True(t, f.service.RemoveSongFromPlaylist(domain.FavoritesPlaylistID, 9))
	assert.False(t, f.service.IsFavorite(9))
	assert.JSONEq(t, `[]`, f.raw(t, ports.KeyFavoriteSongs))

	_, err := f.store.Load(ports.KeySavedPlaylists)
	assert.ErrorIs(t, err, domain.ErrKeyNotFound)
}

func TestPlaylistService_MoveSongInPlaylist(t *testing.T) {
	f := newTestPlaylistService(t)
	p := f.service.CreatePlaylist("Mix", "")
	for _, id := range []int64{1, 2, 3} {
		f.service.AddSongToPlaylist(p.ID, id)
	}

	require.True(t, f.service.MoveSongInPlaylist(p.ID, 0, 2))
	got, _ := f.service.PlaylistByID(p.ID)
	assert.Equal(t, []int64{2, 3, 1}, got.SongIDs)

	// Out of range leaves the order alone
	require.True(t, f.service.MoveSongInPlaylist(p.ID, 0, 5))
	got, _ = f.service.PlaylistByID(p.ID)
	assert.Equal(t, []int64{2, 3, 1}, got.SongIDs)

	assert.False(t, f.service.MoveSongInPlaylist("missing", 0, 1))
}

func TestPlaylistService_MoveSongInFavorites(t *testing.T) {
	f := newTestPlaylistService(t)
	for _, id := range []int64{1, 2, 3} {
		f.service.AddToFavorites(id)
	}

	require.True(t, f.service.MoveSongInPlaylist(domain.FavoritesPlaylistID, 2, 0))
	assert.Equal(t, []int64{3, 1, 2}, f.service.FavoriteIDs())
}

func TestPlaylistService_MoveFavoritesKeepsConcurrentAdds(t *testing.T) {
	f := newTestPlaylistService(t)
	require.True(t, f.service.AddToFavorites(1))
	require.True(t, f.service.AddToFavorites(2))

	const adds = 50
	var wg sync.WaitGroup
	for i := range adds {
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.service.MoveSongInPlaylist(domain.FavoritesPlaylistID, 0, 1)
		}()
		go func() {
			defer wg.Done()
			f.service.AddToFavorites(int64(100 + i))
		}()
	}
	wg.Wait()

	ids := f.service.FavoriteIDs()
	assert.Len(t, ids, adds+2)
	for i := range adds {
		assert.Contains(t, ids, int64(100+i))
	}
}

func TestPlaylistService_Favorites(t *testing.T) {
	f := newTestPlaylistService(t)

	assert.True(t, f.service.AddToFavorites(1))
	assert.True(t, f.service.AddToFavorites(2))
	assert.True(t, f.service.AddToFavorites(1))
	assert.Equal(t, []int64{1, 2}, f.service.FavoriteIDs())

	assert.True(t, f.service.RemoveFromFavorites(3))
	assert.True(t, f.service.RemoveFromFavorites(1))
	assert.Equal(t, []int64{2}, f.service.FavoriteIDs())

	// Only actual changes publish
	events := f.events.ofType(domain.EventFavoritesChanged)
	require.Len(t, events, 3)
	assert.Equal(t, []int64{2}, events[2].(domain.FavoritesChangedEvent).SongIDs)
}

func TestPlaylistService_ToggleFavorite(t *testing.T) {
	f := newTestPlaylistService(t)

	fav, ok := f.service.ToggleFavorite(4)
	assert.True(t, ok)
	assert.True(t, fav)
	assert.True(t, f.service.IsFavorite(4))

	fav, ok = f.service.ToggleFavorite(4)
	assert.True(t, ok)
	assert.False(t, fav)
	assert.False(t, f.service.IsFavorite(4))
}

func TestPlaylistService_MalformedFavorites(t *testing.T) {
	f := newTestPlaylistService(t)
	require.NoError(t, f.store.Save(ports.KeyFavoriteSongs, []byte(`"oops"`)))

	assert.Empty(t, f.service.FavoriteIDs())
	assert.False(t, f.service.IsFavorite(1))

	require.True(t, f.service.AddToFavorites(1))
	assert.Equal(t, []int64{1}, f.service.FavoriteIDs())
}

func TestPlaylistService_AddToRecentlyPlayed(t *testing.T) {
	f := newTestPlaylistService(t)

	for _, id := range []int64{1, 2, 3, 2} {
		require.True(t, f.service.AddToRecentlyPlayed(id))
	}

	assert.Equal(t, []int64{2, 3, 1}, f.service.RecentlyPlayedIDs())
	assert.JSONEq(t, `[2,3,1]`, f.raw(t, ports.KeyRecentlyPlayed))
}

func TestPlaylistService_RecentlyPlayedCap(t *testing.T) {
	f := newTestPlaylistService(t)

	for id := int64(1); id <= 150; id++ {
		f.service.AddToRecentlyPlayed(id)
	}

	ids := f.service.RecentlyPlayedIDs()
	require.Len(t, ids, DefaultRecentlyPlayedLimit)
	assert.Equal(t, int64(150), ids[0])
	assert.Equal(t, int64(51), ids[len(ids)-1])
}

func TestPlaylistService_RecentlyPlayedCustomLimit(t *testing.T) {
	f := newTestPlaylistService(t, WithRecentlyPlayedLimit(3))

	for id := int64(1); id <= 5; id++ {
		f.service.AddToRecentlyPlayed(id)
	}
	assert.Equal(t, []int64{5, 4, 3}, f.service.RecentlyPlayedIDs())
}

func TestPlaylistService_RecentlyPlayedMalformedRestarts(t *testing.T) {
	f := newTestPlaylistService(t)
	require.NoError(t, f.store.Save(ports.KeyRecentlyPlayed, []byte(`[1,2,`)))

	assert.Empty(t, f.service.RecentlyPlayedIDs())

	require.True(t, f.service.AddToRecentlyPlayed(8))
	assert.Equal(t, []int64{8}, f.service.RecentlyPlayedIDs())
}

func TestPlaylistService_RecordPlayedUsesPersister(t *testing.T) {
	f := newTestPlaylistService(t)

	f.service.RecordPlayed(1)
	f.service.RecordPlayed(2)
	f.persister.Flush()

	assert.Equal(t, []int64{2, 1}, f.service.RecentlyPlayedIDs())

	events := f.events.ofType(domain.EventRecentlyPlayedChanged)
	require.Len(t, events, 2)
	assert.Equal(t, []int64{2, 1}, events[1].(domain.RecentlyPlayedChangedEvent).SongIDs)
}

func TestPlaylistService_RecordPlayedWithoutPersister(t *testing.T) {
	store := memory.NewStore()
	svc := NewPlaylistService(logger.NewTestLogger(), store, nil, nil)

	svc.RecordPlayed(5)
	assert.Equal(t, []int64{5}, svc.RecentlyPlayedIDs())
}

func TestPlaylistService_RecordPlayedAfterClose(t *testing.T) {
	f := newTestPlaylistService(t)
	f.persister.Close()

	f.service.RecordPlayed(5)
	assert.Empty(t, f.service.RecentlyPlayedIDs())
}

func TestPlaylistService_ConcurrentWrites(t *testing.T) {
	f := newTestPlaylistService(t)
	p := f.service.CreatePlaylist("Mix", "")

	done := make(chan struct{})
	for i := range 10 {
		go func() {
			defer func() { done <- struct{}{} }()
			f.service.AddSongToPlaylist(p.ID, int64(i))
			f.service.AddToFavorites(int64(i))
		}()
	}
	for range 10 {
		<-done
	}

	got, _ := f.service.PlaylistByID(p.ID)
	assert.Len(t, got.SongIDs, 10, fmt.Sprint(got.SongIDs))
	assert.Len(t, f.service.FavoriteIDs(), 10)
}

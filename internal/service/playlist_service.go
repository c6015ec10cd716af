package service

import (
	"encoding/json"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/tejashwikalptaru/tunedeck/internal/domain"
	"github.com/tejashwikalptaru/tunedeck/internal/ports"
)

// DefaultRecentlyPlayedLimit caps the recently played history.
const DefaultRecentlyPlayedLimit = 100

// PlaylistOption customizes a PlaylistService.
type PlaylistOption func(*PlaylistService)

// WithPlaylistClock sets the clock used to stamp playlist changes.
func WithPlaylistClock(clock clockwork.Clock) PlaylistOption {
	return func(s *PlaylistService) {
		s.clock = clock
	}
}

// WithRecentlyPlayedLimit sets how many recently played IDs are kept.
func WithRecentlyPlayedLimit(limit int) PlaylistOption {
	return func(s *PlaylistService) {
		if limit > 0 {
			s.recentLimit = limit
		}
	}
}

// PlaylistService persists saved playlists, favorites and the recently played
// history through a key/value store.
//
// Reads never fail: missing or unreadable data yields an empty default.
// Writes report success as a bool and log the cause on failure.
type PlaylistService struct {
	// Dependencies (injected)
	logger    *slog.Logger
	store     ports.Store
	bus       ports.EventBus
	persister *Persister
	clock     clockwork.Clock

	recentLimit int

	// Serializes read-modify-write cycles on the store.
	mu sync.Mutex
}

// NewPlaylistService creates a playlist service. persister may be nil, in
// which case RecordPlayed writes on the caller's goroutine.
func NewPlaylistService(
	logger *slog.Logger,
	store ports.Store,
	bus ports.EventBus,
	persister *Persister,
	opts ...PlaylistOption,
) *PlaylistService {
	s := &PlaylistService{
		logger:      logger.With(slog.String("service", "PlaylistService")),
		store:       store,
		bus:         bus,
		persister:   persister,
		clock:       clockwork.NewRealClock(),
		recentLimit: DefaultRecentlyPlayedLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// playlistRecord is the stored shape of a saved playlist.
type playlistRecord struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	SongIDs      []int64 `json:"songIds"`
	DateCreated  int64   `json:"dateCreated"`
	DateModified int64   `json:"dateModified"`
	CoverArtURI  string  `json:"coverArtUri,omitempty"`
}

func toRecord(p domain.Playlist) playlistRecord {
	ids := p.SongIDs
	if ids == nil {
		ids = []int64{}
	}
	return playlistRecord{
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		SongIDs:      ids,
		DateCreated:  p.DateCreated.UnixMilli(),
		DateModified: p.DateModified.UnixMilli(),
		CoverArtURI:  p.CoverArtURI,
	}
}

func (r playlistRecord) toPlaylist(now time.Time) domain.Playlist {
	p := domain.Playlist{
		ID:           r.ID,
		Name:         r.Name,
		Description:  r.Description,
		SongIDs:      r.SongIDs,
		DateCreated:  now,
		DateModified: now,
		CoverArtURI:  r.CoverArtURI,
	}
	if p.SongIDs == nil {
		p.SongIDs = []int64{}
	}
	if r.DateCreated != 0 {
		p.DateCreated = time.UnixMilli(r.DateCreated)
	}
	if r.DateModified != 0 {
		p.DateModified = time.UnixMilli(r.DateModified)
	}
	return p
}

// AllPlaylists returns the saved playlists followed by Favorites. Unreadable
// saved data yields only Favorites.
func (s *PlaylistService) AllPlaylists() []domain.Playlist {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.allPlaylistsLocked()
}

func (s *PlaylistService) allPlaylistsLocked() []domain.Playlist {
	favorites := domain.FavoritesPlaylist(s.favoriteIDsLocked(), s.clock.Now())

	saved, err := s.loadSavedLocked()
	if err != nil {
		s.logger.Warn("failed to read saved playlists", slog.Any("error", err))
		return []domain.Playlist{favorites}
	}
	return append(saved, favorites)
}

func (s *PlaylistService) loadSavedLocked() ([]domain.Playlist, error) {
	data, err := s.store.Load(ports.KeySavedPlaylists)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return []domain.Playlist{}, nil
	}
	if err != nil {
		return nil, err
	}

	var records []playlistRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, domain.NewRepositoryError("decode", "playlists", ports.KeySavedPlaylists, "malformed playlist data", err)
	}

	now := s.clock.Now()
	playlists := make([]domain.Playlist, 0, len(records))
	for _, r := range records {
		if r.ID == domain.FavoritesPlaylistID {
			continue
		}
		playlists = append(playlists, r.toPlaylist(now))
	}
	return playlists, nil
}

func (s *PlaylistService) writeSavedLocked(playlists []domain.Playlist) bool {
	records := make([]playlistRecord, 0, len(playlists))
	for _, p := range playlists {
		if p.IsFavorites() {
			continue
		}
		records = append(records, toRecord(p))
	}
	data, err := json.Marshal(records)
	if err != nil {
		s.logger.Error("failed to encode playlists", slog.Any("error", err))
		return false
	}
	if err := s.store.Save(ports.KeySavedPlaylists, data); err != nil {
		s.logger.Error("failed to save playlists", slog.Any("error", err))
		return false
	}
	return true
}

// SavePlaylist inserts or replaces p by ID. Saving Favorites stores its song
// list under the favorites key instead.
func (s *PlaylistService) SavePlaylist(p domain.Playlist) bool {
	if p.IsFavorites() {
		return s.saveFavorites(p.SongIDs)
	}

	s.mu.Lock()
	ok := s.savePlaylistLocked(p)
	s.mu.Unlock()

	if ok {
		s.publish(domain.NewPlaylistsChangedEvent(p.ID, true))
	}
	return ok
}

func (s *PlaylistService) savePlaylistLocked(p domain.Playlist) bool {
	current := s.allPlaylistsLocked()
	updated := make([]domain.Playlist, 0, len(current)+1)
	for _, existing := range current {
		if existing.ID != p.ID && !existing.IsFavorites() {
			updated = append(updated, existing)
		}
	}
	updated = append(updated, p)
	return s.writeSavedLocked(updated)
}

// DeletePlaylist removes the playlist. Favorites cannot be deleted.
func (s *PlaylistService) DeletePlaylist(id string) bool {
	if id == domain.FavoritesPlaylistID {
		s.logger.Debug("refusing to delete favorites")
		return false
	}

	s.mu.Lock()
	current := s.allPlaylistsLocked()
	remaining := slices.DeleteFunc(current, func(p domain.Playlist) bool {
		return p.ID == id || p.IsFavorites()
	})
	ok := s.writeSavedLocked(remaining)
	s.mu.Unlock()

	if ok {
		s.publish(domain.NewPlaylistsChangedEvent(id, false))
	}
	return ok
}

// PlaylistByID returns the playlist with the given ID, Favorites included.
func (s *PlaylistService) PlaylistByID(id string) (domain.Playlist, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playlistByIDLocked(id)
}

func (s *PlaylistService) playlistByIDLocked(id string) (domain.Playlist, bool) {
	if id == domain.FavoritesPlaylistID {
		return domain.FavoritesPlaylist(s.favoriteIDsLocked(), s.clock.Now()), true
	}
	for _, p := range s.allPlaylistsLocked() {
		if p.ID == id {
			return p, true
		}
	}
	return domain.Playlist{}, false
}

// CreatePlaylist creates and saves an empty playlist with a fresh ID.
func (s *PlaylistService) CreatePlaylist(name, description string) domain.Playlist {
	p := domain.NewPlaylist(uuid.NewString(), name, description, s.clock.Now())
	if !s.SavePlaylist(p) {
		s.logger.Warn("created playlist was not persisted", slog.String("playlist_id", p.ID))
	}
	return p
}

// AddSongToPlaylist appends songID to the playlist. Favorites is routed to the
// favorites list.
func (s *PlaylistService) AddSongToPlaylist(playlistID string, songID int64) bool {
	if playlistID == domain.FavoritesPlaylistID {
		return s.AddToFavorites(songID)
	}
	return s.updatePlaylist(playlistID, func(p domain.Playlist, now time.Time) domain.Playlist {
		return p.AddSong(songID, now)
	})
}

// RemoveSongFromPlaylist removes songID from the playlist. Favorites is routed
// to the favorites list.
func (s *PlaylistService) RemoveSongFromPlaylist(playlistID string, songID int64) bool {
	if playlistID == domain.FavoritesPlaylistID {
		return s.RemoveFromFavorites(songID)
	}
	return s.updatePlaylist(playlistID, func(p domain.Playlist, now time.Time) domain.Playlist {
		return p.RemoveSong(songID, now)
	})
}

// MoveSongInPlaylist moves the song at from to position to.
func (s *PlaylistService) MoveSongInPlaylist(playlistID string, from, to int) bool {
	if playlistID == domain.FavoritesPlaylistID {
		return s.updateFavorites(func(ids []int64) ([]int64, bool) {
			now := s.clock.Now()
			return domain.FavoritesPlaylist(ids, now).MoveSong(from, to, now).SongIDs, true
		})
	}
	return s.updatePlaylist(playlistID, func(p domain.Playlist, now time.Time) domain.Playlist {
		return p.MoveSong(from, to, now)
	})
}

func (s *PlaylistService) updatePlaylist(id string, update func(domain.Playlist, time.Time) domain.Playlist) bool {
	s.mu.Lock()
	p, found := s.playlistByIDLocked(id)
	if !found {
		s.mu.Unlock()
		s.logger.Debug("playlist not found", slog.String("playlist_id", id))
		return false
	}
	ok := s.savePlaylistLocked(update(p, s.clock.Now()))
	s.mu.Unlock()

	if ok {
		s.publish(domain.NewPlaylistsChangedEvent(id, true))
	}
	return ok
}

// FavoriteIDs returns the favorite song IDs in insertion order.
func (s *PlaylistService) FavoriteIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.favoriteIDsLocked()
}

func (s *PlaylistService) favoriteIDsLocked() []int64 {
	ids, err := s.loadIDsLocked(ports.KeyFavoriteSongs)
	if err != nil {
		s.logger.Warn("failed to read favorites", slog.Any("error", err))
		return []int64{}
	}
	return ids
}

// IsFavorite reports whether songID is a favorite.
func (s *PlaylistService) IsFavorite(songID int64) bool {
	return slices.Contains(s.FavoriteIDs(), songID)
}

// AddToFavorites adds songID to favorites. Already present counts as success.
func (s *PlaylistService) AddToFavorites(songID int64) bool {
	return s.updateFavorites(func(ids []int64) ([]int64, bool) {
		if slices.Contains(ids, songID) {
			return ids, false
		}
		return append(ids, songID), true
	})
}

// RemoveFromFavorites removes songID from favorites. Absent counts as success.
func (s *PlaylistService) RemoveFromFavorites(songID int64) bool {
	return s.updateFavorites(func(ids []int64) ([]int64, bool) {
		idx := slices.Index(ids, songID)
		if idx < 0 {
			return ids, false
		}
		return slices.Delete(ids, idx, idx+1), true
	})
}

// ToggleFavorite flips the favorite status of songID and returns the new
// status along with whether the write succeeded.
func (s *PlaylistService) ToggleFavorite(songID int64) (favorite bool, ok bool) {
	ok = s.updateFavorites(func(ids []int64) ([]int64, bool) {
		if idx := slices.Index(ids, songID); idx >= 0 {
			favorite = false
			return slices.Delete(ids, idx, idx+1), true
		}
		favorite = true
		return append(ids, songID), true
	})
	return favorite, ok
}

func (s *PlaylistService) saveFavorites(ids []int64) bool {
	return s.updateFavorites(func([]int64) ([]int64, bool) {
		return ids, true
	})
}

// updateFavorites applies update to the stored favorites in one locked
// read-modify-write. update reports whether anything changed; an unchanged
// list is not written and counts as success.
func (s *PlaylistService) updateFavorites(update func(ids []int64) ([]int64, bool)) bool {
	s.mu.Lock()
	ids, changed := update(s.favoriteIDsLocked())
	if !changed {
		s.mu.Unlock()
		return true
	}
	ok := s.writeIDsLocked(ports.KeyFavoriteSongs, ids)
	s.mu.Unlock()

	if ok {
		s.publish(domain.NewFavoritesChangedEvent(slices.Clone(ids)))
	}
	return ok
}

// AddToRecentlyPlayed moves songID to the front of the history, dropping any
// earlier entry and trimming to the configured limit. Unreadable history is
// replaced by a list holding only songID.
func (s *PlaylistService) AddToRecentlyPlayed(songID int64) bool {
	s.mu.Lock()
	ids, err := s.loadIDsLocked(ports.KeyRecentlyPlayed)
	if err != nil {
		s.logger.Warn("resetting unreadable recently played history", slog.Any("error", err))
		ids = []int64{}
	}

	ids = slices.DeleteFunc(ids, func(id int64) bool { return id == songID })
	ids = slices.Insert(ids, 0, songID)
	if len(ids) > s.recentLimit {
		ids = ids[:s.recentLimit]
	}
	ok := s.writeIDsLocked(ports.KeyRecentlyPlayed, ids)
	s.mu.Unlock()

	if ok {
		s.publish(domain.NewRecentlyPlayedChangedEvent(slices.Clone(ids)))
	}
	return ok
}

// RecentlyPlayedIDs returns the history, most recent first.
func (s *PlaylistService) RecentlyPlayedIDs() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.loadIDsLocked(ports.KeyRecentlyPlayed)
	if err != nil {
		s.logger.Warn("failed to read recently played", slog.Any("error", err))
		return []int64{}
	}
	return ids
}

// RecordPlayed queues a recently played update on the persister.
func (s *PlaylistService) RecordPlayed(songID int64) {
	if s.persister == nil {
		s.AddToRecentlyPlayed(songID)
		return
	}
	if !s.persister.Submit(func() { s.AddToRecentlyPlayed(songID) }) {
		s.logger.Debug("recently played update dropped", slog.Int64("song_id", songID))
	}
}

func (s *PlaylistService) loadIDsLocked(key string) ([]int64, error) {
	data, err := s.store.Load(key)
	if errors.Is(err, domain.ErrKeyNotFound) {
		return []int64{}, nil
	}
	if err != nil {
		return nil, err
	}

	var ids []int64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, domain.NewRepositoryError("decode", "playlists", key, "malformed id list", err)
	}
	if ids == nil {
		ids = []int64{}
	}
	return ids, nil
}

func (s *PlaylistService) writeIDsLocked(key string, ids []int64) bool {
	if ids == nil {
		ids = []int64{}
	}
	data, err := json.Marshal(ids)
	if err != nil {
		s.logger.Error("failed to encode id list", slog.String("key", key), slog.Any("error", err))
		return false
	}
	if err := s.store.Save(key, data); err != nil {
		s.logger.Error("failed to save id list", slog.String("key", key), slog.Any("error", err))
		return false
	}
	return true
}

func (s *PlaylistService) publish(event domain.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event)
}

var _ PlayHistory = (*PlaylistService)(nil)

package service

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/tejashwikalptaru/tunedeck/internal/domain"
	"github.com/tejashwikalptaru/tunedeck/internal/ports"
)

// RecentlyAddedLimit caps the recently added browse listing.
const RecentlyAddedLimit = 50

// itemSeparator joins the parts of composite browse item IDs such as
// "artist|album" and "genre|year".
const itemSeparator = "|"

// PlaylistLookup is the slice of the playlist service the library needs to
// resolve favorites, history and playlists into tracks.
type PlaylistLookup interface {
	FavoriteIDs() []int64
	RecentlyPlayedIDs() []int64
	PlaylistByID(id string) (domain.Playlist, bool)
}

// LibraryOption customizes a LibraryService.
type LibraryOption func(*LibraryService)

// WithLibraryClock sets the clock used to time scans.
func WithLibraryClock(clock clockwork.Clock) LibraryOption {
	return func(s *LibraryService) {
		s.clock = clock
	}
}

// LibraryService caches the tracks produced by a media index and answers
// search and browse queries over them.
// All operations are thread-safe via sync.RWMutex.
type LibraryService struct {
	// Dependencies (injected)
	logger    *slog.Logger
	index     ports.MediaIndex
	bus       ports.EventBus
	playlists PlaylistLookup
	clock     clockwork.Clock

	// State
	songs      []domain.Track
	expanded   map[string]bool
	scanning   bool
	cancelScan context.CancelFunc

	// Concurrency control
	mu sync.RWMutex
}

// NewLibraryService creates a library service. playlists may be nil, in which
// case favorites, history and playlist lookups are empty.
func NewLibraryService(
	logger *slog.Logger,
	index ports.MediaIndex,
	bus ports.EventBus,
	playlists PlaylistLookup,
	opts ...LibraryOption,
) *LibraryService {
	s := &LibraryService{
		logger:    logger.With(slog.String("service", "LibraryService")),
		index:     index,
		bus:       bus,
		playlists: playlists,
		clock:     clockwork.NewRealClock(),
		songs:     []domain.Track{},
		expanded:  make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Refresh rescans the media index and replaces the cached songs, sorted by
// title. On failure the cache is left untouched.
func (s *LibraryService) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.scanning {
		s.mu.Unlock()
		return domain.NewServiceError("LibraryService", "Refresh", "scan already in progress", domain.ErrScanInProgress)
	}
	s.scanning = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancelScan = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.scanning = false
		s.cancelScan = nil
		s.mu.Unlock()
	}()

	s.publish(domain.NewScanStartedEvent())
	start := s.clock.Now()

	tracks, err := s.index.Scan(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			err = domain.ErrScanCancelled
		}
		s.logger.Warn("library scan failed", slog.Any("error", err))
		s.publish(domain.NewScanFailedEvent(err))
		return domain.NewServiceError("LibraryService", "Refresh", "scan failed", err)
	}

	sorted := slices.Clone(tracks)
	slices.SortStableFunc(sorted, func(a, b domain.Track) int {
		return cmp.Compare(strings.ToLower(a.DisplayTitle()), strings.ToLower(b.DisplayTitle()))
	})

	s.mu.Lock()
	s.songs = sorted
	s.mu.Unlock()

	elapsed := s.clock.Since(start)
	s.logger.Info("library refreshed", slog.Int("songs", len(sorted)), slog.Duration("elapsed", elapsed))
	s.publish(domain.NewScanCompletedEvent(len(sorted), elapsed))
	s.publish(domain.NewLibraryUpdatedEvent(len(sorted)))
	return nil
}

// CancelScan cancels the running scan, if any.
func (s *LibraryService) CancelScan() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.scanning {
		return domain.NewServiceError("LibraryService", "CancelScan", "no scan in progress", nil)
	}
	if s.cancelScan != nil {
		s.cancelScan()
	}
	return nil
}

// IsScanning returns true if a scan is currently in progress.
func (s *LibraryService) IsScanning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scanning
}

// Songs returns a copy of the cached songs.
func (s *LibraryService) Songs() []domain.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.songs)
}

// SongByID returns the cached song with the given ID.
func (s *LibraryService) SongByID(id int64) (domain.Track, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := domain.IndexOfTrack(s.songs, id); i >= 0 {
		return s.songs[i], true
	}
	return domain.Track{}, false
}

// SongsByIDs resolves ids in order, skipping IDs not in the library.
func (s *LibraryService) SongsByIDs(ids []int64) []domain.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.songsByIDsLocked(ids)
}

func (s *LibraryService) songsByIDsLocked(ids []int64) []domain.Track {
	byID := make(map[int64]domain.Track, len(s.songs))
	for _, t := range s.songs {
		byID[t.ID] = t
	}
	out := make([]domain.Track, 0, len(ids))
	for _, id := range ids {
		if t, ok := byID[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Search returns songs whose title, artist or album contains query,
// ignoring case. A blank query returns every song.
func (s *LibraryService) Search(query string) []domain.Track {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return s.Songs()
	}

	return s.filter(func(t domain.Track) bool {
		return strings.Contains(strings.ToLower(t.Title), query) ||
			strings.Contains(strings.ToLower(t.Artist), query) ||
			strings.Contains(strings.ToLower(t.Album), query)
	})
}

func (s *LibraryService) filter(keep func(domain.Track) bool) []domain.Track {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Track, 0)
	for _, t := range s.songs {
		if keep(t) {
			out = append(out, t)
		}
	}
	return out
}

// Artists lists every artist with their song count, sorted by name.
func (s *LibraryService) Artists() []domain.CategoryItem {
	return s.group(domain.CategoryArtist, func(t domain.Track) (string, string, string) {
		return t.DisplayArtist(), t.DisplayArtist(), ""
	})
}

// Albums lists every album, keyed by artist and album so same-named albums of
// different artists stay apart.
func (s *LibraryService) Albums() []domain.CategoryItem {
	return s.group(domain.CategoryAlbum, func(t domain.Track) (string, string, string) {
		return AlbumItemID(t.DisplayArtist(), t.DisplayAlbum()), t.DisplayAlbum(), t.DisplayArtist()
	})
}

// Genres lists every genre with its song count, sorted by name.
func (s *LibraryService) Genres() []domain.CategoryItem {
	return s.group(domain.CategoryGenre, func(t domain.Track) (string, string, string) {
		return t.DisplayGenre(), t.DisplayGenre(), ""
	})
}

// Years lists every known release year, newest first. Tracks without a year
// are left out.
func (s *LibraryService) Years() []domain.CategoryItem {
	items := s.group(domain.CategoryYear, func(t domain.Track) (string, string, string) {
		if t.Year <= 0 {
			return "", "", ""
		}
		year := strconv.Itoa(t.Year)
		return year, year, ""
	})
	slices.Reverse(items)
	return items
}

// group buckets the cached songs by key. An empty key skips the track.
func (s *LibraryService) group(
	category domain.Category,
	key func(domain.Track) (id, name, description string),
) []domain.CategoryItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byID := make(map[string]*domain.CategoryItem)
	for _, t := range s.songs {
		id, name, description := key(t)
		if id == "" {
			continue
		}
		lookup := strings.ToLower(id)
		item, ok := byID[lookup]
		if !ok {
			item = &domain.CategoryItem{
				ID:          id,
				Name:        name,
				Category:    category,
				Description: description,
			}
			byID[lookup] = item
		}
		item.SongCount++
	}

	items := make([]domain.CategoryItem, 0, len(byID))
	for _, item := range byID {
		items = append(items, *item)
	}
	slices.SortFunc(items, func(a, b domain.CategoryItem) int {
		return cmp.Or(
			cmp.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)),
			cmp.Compare(strings.ToLower(a.Description), strings.ToLower(b.Description)),
		)
	})
	return items
}

// AlbumsByArtist groups albums under their artist, both sorted by name.
func (s *LibraryService) AlbumsByArtist() []domain.ArtistGroup {
	albums := s.Albums()

	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]domain.ArtistGroup, 0)
	index := make(map[string]int)
	for _, album := range albums {
		lookup := strings.ToLower(album.Description)
		i, ok := index[lookup]
		if !ok {
			i = len(groups)
			index[lookup] = i
			groups = append(groups, domain.ArtistGroup{
				ArtistName: album.Description,
				Albums:     []domain.CategoryItem{},
				Expanded:   s.expanded[album.Description],
			})
		}
		groups[i].Albums = append(groups[i].Albums, album)
		groups[i].TotalSongs += album.SongCount
	}

	slices.SortFunc(groups, func(a, b domain.ArtistGroup) int {
		return cmp.Compare(strings.ToLower(a.ArtistName), strings.ToLower(b.ArtistName))
	})
	return groups
}

// ToggleArtistGroup flips the expanded state of an artist group and returns
// the new state. Unknown artists return false, false.
func (s *LibraryService) ToggleArtistGroup(artistName string) (expanded bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	known := slices.ContainsFunc(s.songs, func(t domain.Track) bool {
		return t.DisplayArtist() == artistName
	})
	if !known {
		return false, false
	}
	s.expanded[artistName] = !s.expanded[artistName]
	return s.expanded[artistName], true
}

// CategorySongs returns the songs behind a browse item.
//
// Artist and genre match case-insensitively. Album item IDs are either
// "artist|album" or a bare album name, and the result is in track-number
// order. Genre-year item IDs are "genre|year" and year item IDs the bare
// year. Unknown categories return
// every song.
func (s *LibraryService) CategorySongs(category domain.Category, itemID string) []domain.Track {
	switch category {
	case domain.CategoryArtist:
		return s.filter(func(t domain.Track) bool {
			return strings.EqualFold(t.DisplayArtist(), itemID)
		})
	case domain.CategoryAlbum:
		return s.albumSongs(itemID)
	case domain.CategoryGenre:
		return s.filter(func(t domain.Track) bool {
			return strings.EqualFold(t.DisplayGenre(), itemID)
		})
	case domain.CategoryGenreYear:
		genre, yearText, _ := strings.Cut(itemID, itemSeparator)
		year, err := strconv.Atoi(yearText)
		if err != nil {
			return []domain.Track{}
		}
		return s.GenreYearSongs(genre, year)
	case domain.CategoryYear:
		year, err := strconv.Atoi(itemID)
		if err != nil {
			return []domain.Track{}
		}
		return s.SongsByYear(year)
	case domain.CategoryPlaylist:
		return s.PlaylistSongs(itemID)
	case domain.CategoryFavorites:
		return s.Favorites()
	case domain.CategoryRecentlyPlayed:
		return s.RecentlyPlayed()
	case domain.CategoryRecentlyAdded:
		return s.RecentlyAdded()
	default:
		return s.Songs()
	}
}

func (s *LibraryService) albumSongs(itemID string) []domain.Track {
	artist, album, composite := strings.Cut(itemID, itemSeparator)
	if !composite {
		album = itemID
	}
	songs := s.filter(func(t domain.Track) bool {
		if composite && !strings.EqualFold(t.DisplayArtist(), artist) {
			return false
		}
		return strings.EqualFold(t.DisplayAlbum(), album)
	})
	slices.SortStableFunc(songs, func(a, b domain.Track) int {
		return cmp.Compare(a.TrackNumber, b.TrackNumber)
	})
	return songs
}

// SongsByYear returns the songs released in year.
func (s *LibraryService) SongsByYear(year int) []domain.Track {
	return s.filter(func(t domain.Track) bool {
		return t.Year == year
	})
}

// GenreYearSongs returns the songs of a genre released in year.
func (s *LibraryService) GenreYearSongs(genre string, year int) []domain.Track {
	return s.filter(func(t domain.Track) bool {
		return t.Year == year && strings.EqualFold(t.DisplayGenre(), genre)
	})
}

// PlaylistSongs resolves a playlist's song IDs in playlist order.
func (s *LibraryService) PlaylistSongs(playlistID string) []domain.Track {
	if s.playlists == nil {
		return []domain.Track{}
	}
	p, ok := s.playlists.PlaylistByID(playlistID)
	if !ok {
		return []domain.Track{}
	}
	return s.SongsByIDs(p.SongIDs)
}

// Favorites returns the favorite songs in library order.
func (s *LibraryService) Favorites() []domain.Track {
	if s.playlists == nil {
		return []domain.Track{}
	}
	favorites := s.playlists.FavoriteIDs()
	return s.filter(func(t domain.Track) bool {
		return slices.Contains(favorites, t.ID)
	})
}

// RecentlyPlayed returns the recently played songs, most recent first.
func (s *LibraryService) RecentlyPlayed() []domain.Track {
	if s.playlists == nil {
		return []domain.Track{}
	}
	return s.SongsByIDs(s.playlists.RecentlyPlayedIDs())
}

// RecentlyAdded returns the newest songs by date added.
func (s *LibraryService) RecentlyAdded() []domain.Track {
	songs := s.Songs()
	slices.SortStableFunc(songs, func(a, b domain.Track) int {
		return b.DateAdded.Compare(a.DateAdded)
	})
	if len(songs) > RecentlyAddedLimit {
		songs = songs[:RecentlyAddedLimit]
	}
	return songs
}

// CategoryContext builds the playlist context for a browse item, ready to
// hand to the session coordinator.
func (s *LibraryService) CategoryContext(category domain.Category, itemID string) *domain.PlaylistContext {
	songs := s.CategorySongs(category, itemID)

	var name string
	switch category {
	case domain.CategoryAllSongs, "":
		return domain.AllSongsContext(songs)
	case domain.CategoryAlbum:
		if _, album, ok := strings.Cut(itemID, itemSeparator); ok {
			name = album
		} else {
			name = itemID
		}
	case domain.CategoryGenreYear:
		genre, year, _ := strings.Cut(itemID, itemSeparator)
		name = genre + " (" + year + ")"
	case domain.CategoryPlaylist:
		name = itemID
		if s.playlists != nil {
			if p, ok := s.playlists.PlaylistByID(itemID); ok {
				name = p.Name
			}
		}
	case domain.CategoryFavorites, domain.CategoryRecentlyPlayed, domain.CategoryRecentlyAdded:
		name = category.DisplayName()
	default:
		name = itemID
	}
	return domain.NewPlaylistContext(category, itemID, name, songs)
}

// Shutdown cancels any running scan.
func (s *LibraryService) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scanning && s.cancelScan != nil {
		s.cancelScan()
	}
}

func (s *LibraryService) publish(event domain.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(event)
}

// AlbumItemID builds the browse item ID of an album.
func AlbumItemID(artist, album string) string {
	return artist + itemSeparator + album
}

// GenreYearItemID builds the browse item ID of a genre within a year.
func GenreYearItemID(genre string, year int) string {
	return genre + itemSeparator + strconv.Itoa(year)
}

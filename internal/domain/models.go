// Package domain contains core business models and logic with no external dependencies.
// This package defines the fundamental entities of the tunedeck playback session core.
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Track represents a single playable audio item with its metadata.
// Tracks are produced by a media index scan and never mutated afterwards.
type Track struct {
	// ID is unique and stable for a given scan
	ID int64 `json:"id"`

	Title       string `json:"title"`
	Artist      string `json:"artist"`
	Album       string `json:"album"`
	Genre       string `json:"genre"`
	TrackNumber int    `json:"track"`
	Year        int    `json:"year"`

	// Duration is the total length of the track
	Duration time.Duration `json:"duration"`

	// URI is the playable locator handed to the playback engine
	URI string `json:"uri"`

	// ArtworkURI is an optional locator for album artwork
	ArtworkURI string `json:"artworkUri,omitempty"`

	DateAdded time.Time `json:"dateAdded"`
	Size      int64     `json:"size"`
	MimeType  string    `json:"mimeType"`
}

// MediaID returns the identifier the playback engine reports on track transitions.
func (t Track) MediaID() string {
	return strconv.FormatInt(t.ID, 10)
}

// DisplayTitle returns the title or "Unknown Title" when blank.
func (t Track) DisplayTitle() string {
	return orUnknown(t.Title, "Title")
}

// DisplayArtist returns the artist or "Unknown Artist" when blank.
func (t Track) DisplayArtist() string {
	return orUnknown(t.Artist, "Artist")
}

// DisplayAlbum returns the album or "Unknown Album" when blank.
func (t Track) DisplayAlbum() string {
	return orUnknown(t.Album, "Album")
}

// DisplayGenre returns the genre or "Unknown Genre" when blank.
func (t Track) DisplayGenre() string {
	return orUnknown(t.Genre, "Genre")
}

// FormattedDuration formats the duration as MM:SS.
func (t Track) FormattedDuration() string {
	return formatClock(t.Duration)
}

func orUnknown(value, field string) string {
	if strings.TrimSpace(value) == "" {
		return "Unknown " + field
	}
	return value
}

func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}

// ParseMediaID converts an engine media identifier back into a track ID.
func ParseMediaID(mediaID string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(mediaID), 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// PlaybackPhase represents the current playback phase reported to observers.
type PlaybackPhase int

const (
	// PhaseStopped indicates playback is stopped
	PhaseStopped PlaybackPhase = iota

	// PhasePlaying indicates playback is active
	PhasePlaying

	// PhasePaused indicates playback is paused
	PhasePaused

	// PhaseLoading indicates the engine is buffering
	PhaseLoading

	// PhaseError indicates the engine reported an error
	PhaseError
)

// String returns a human-readable representation of the playback phase.
func (p PlaybackPhase) String() string {
	switch p {
	case PhaseStopped:
		return "stopped"
	case PhasePlaying:
		return "playing"
	case PhasePaused:
		return "paused"
	case PhaseLoading:
		return "loading"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText encodes the phase by name.
func (p PlaybackPhase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// PlayerState is the published playback state of the session.
// Shuffle and repeat-one are never both enabled.
type PlayerState struct {
	Phase          PlaybackPhase `json:"phase"`
	CurrentTrack   *Track        `json:"currentTrack,omitempty"`
	Position       time.Duration `json:"position"`
	Duration       time.Duration `json:"duration"`
	ShuffleEnabled bool          `json:"shuffle"`
	RepeatEnabled  bool          `json:"repeat"`
}

// Progress returns the playback progress clamped to [0, 1].
func (s PlayerState) Progress() float64 {
	if s.Duration <= 0 {
		return 0
	}
	p := float64(s.Position) / float64(s.Duration)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}

// FormattedPosition formats the current position as MM:SS.
func (s PlayerState) FormattedPosition() string {
	return formatClock(s.Position)
}

// FormattedDuration formats the track duration as MM:SS.
func (s PlayerState) FormattedDuration() string {
	return formatClock(s.Duration)
}

// Category is the browsing scope that produced a queue.
type Category string

const (
	CategoryAllSongs       Category = "all_songs"
	CategoryArtist         Category = "artist"
	CategoryAlbum          Category = "album"
	CategoryGenre          Category = "genre"
	CategoryGenreYear      Category = "genre_year"
	CategoryYear           Category = "year"
	CategoryPlaylist       Category = "playlist"
	CategoryRecentlyAdded  Category = "recently_added"
	CategoryRecentlyPlayed Category = "recently_played"
	CategoryFavorites      Category = "favorites"
)

// DisplayName returns the heading shown for a category.
func (c Category) DisplayName() string {
	switch c {
	case CategoryAllSongs:
		return "All Songs"
	case CategoryArtist:
		return "Artists"
	case CategoryAlbum:
		return "Albums"
	case CategoryGenre:
		return "Genres"
	case CategoryGenreYear:
		return "Genres by Year"
	case CategoryYear:
		return "Years"
	case CategoryPlaylist:
		return "Playlists"
	case CategoryRecentlyAdded:
		return "Recently Added"
	case CategoryRecentlyPlayed:
		return "Recently Played"
	case CategoryFavorites:
		return "Favorites"
	default:
		return string(c)
	}
}

// PlaylistContext describes the browsing scope of the active queue.
// OriginalOrder is the restoration point when shuffle is disabled and is
// never modified after construction.
type PlaylistContext struct {
	Category      Category `json:"category"`
	ItemID        string   `json:"itemId,omitempty"`
	ItemName      string   `json:"itemName,omitempty"`
	AllSongs      []Track  `json:"-"`
	OriginalOrder []Track  `json:"-"`
}

// NewPlaylistContext creates a context whose shuffle pool and original order
// are both the given tracks. The slices are copied.
func NewPlaylistContext(category Category, itemID, itemName string, tracks []Track) *PlaylistContext {
	return &PlaylistContext{
		Category:      category,
		ItemID:        itemID,
		ItemName:      itemName,
		AllSongs:      cloneTracks(tracks),
		OriginalOrder: cloneTracks(tracks),
	}
}

// AllSongsContext is the default context used when a queue is started
// without an explicit browsing scope.
func AllSongsContext(tracks []Track) *PlaylistContext {
	return NewPlaylistContext(CategoryAllSongs, "", "All Songs", tracks)
}

// Clone returns a deep copy of the context.
func (c *PlaylistContext) Clone() *PlaylistContext {
	if c == nil {
		return nil
	}
	return &PlaylistContext{
		Category:      c.Category,
		ItemID:        c.ItemID,
		ItemName:      c.ItemName,
		AllSongs:      cloneTracks(c.AllSongs),
		OriginalOrder: cloneTracks(c.OriginalOrder),
	}
}

// IndexOfTrack returns the index of the track with the given ID, or -1.
func IndexOfTrack(tracks []Track, id int64) int {
	for i := range tracks {
		if tracks[i].ID == id {
			return i
		}
	}
	return -1
}

func cloneTracks(tracks []Track) []Track {
	out := make([]Track, len(tracks))
	copy(out, tracks)
	return out
}

// CategoryItem is one entry of a browse listing (an artist, album, genre or year).
type CategoryItem struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	SongCount   int      `json:"songCount"`
	Category    Category `json:"category"`
	Description string   `json:"description,omitempty"`
	ImageURI    string   `json:"imageUri,omitempty"`
}

// SongCountText returns "1 song" or "N songs".
func (c CategoryItem) SongCountText() string {
	return pluralize(c.SongCount, "song")
}

// ArtistGroup is an artist with their albums grouped together.
type ArtistGroup struct {
	ArtistName string         `json:"artist"`
	Albums     []CategoryItem `json:"albums"`
	TotalSongs int            `json:"totalSongs"`
	Expanded   bool           `json:"expanded"`
}

// AlbumCountText returns e.g. "2 albums, 13 songs".
func (g ArtistGroup) AlbumCountText() string {
	return pluralize(len(g.Albums), "album") + ", " + pluralize(g.TotalSongs, "song")
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}

// ScanProgress represents the progress of a media index scan.
type ScanProgress struct {
	// CurrentFile is the file currently being scanned
	CurrentFile string

	// FilesScanned is the number of files processed so far
	FilesScanned int

	// TracksFound is the number of valid music tracks found
	TracksFound int
}

package domain

import (
	"fmt"
	"slices"
	"time"
)

// FavoritesPlaylistID is the fixed identifier of the synthetic Favorites playlist.
const FavoritesPlaylistID = "favorites_playlist"

// Playlist is an ordered, duplicate-free collection of track IDs.
//
// Mutating methods return a new value and leave the receiver untouched.
// DateModified only advances when the song list actually changes.
type Playlist struct {
	ID           string
	Name         string
	Description  string
	SongIDs      []int64
	DateCreated  time.Time
	DateModified time.Time
	CoverArtURI  string
}

// NewPlaylist creates an empty playlist stamped with now.
func NewPlaylist(id, name, description string, now time.Time) Playlist {
	return Playlist{
		ID:           id,
		Name:         name,
		Description:  description,
		SongIDs:      []int64{},
		DateCreated:  now,
		DateModified: now,
	}
}

// FavoritesPlaylist builds the synthetic Favorites playlist from its song IDs.
func FavoritesPlaylist(songIDs []int64, now time.Time) Playlist {
	p := NewPlaylist(FavoritesPlaylistID, "Favorites", "Your favorite songs", now)
	p.SongIDs = slices.Clone(songIDs)
	return p
}

// IsFavorites reports whether this is the reserved Favorites playlist.
func (p Playlist) IsFavorites() bool {
	return p.ID == FavoritesPlaylistID
}

// SongCount returns the number of songs in the playlist.
func (p Playlist) SongCount() int {
	return len(p.SongIDs)
}

// ContainsSong reports whether the song is in the playlist.
func (p Playlist) ContainsSong(songID int64) bool {
	return slices.Contains(p.SongIDs, songID)
}

// AddSong appends the song unless it is already present.
func (p Playlist) AddSong(songID int64, now time.Time) Playlist {
	if p.ContainsSong(songID) {
		return p
	}
	out := p.clone()
	out.SongIDs = append(out.SongIDs, songID)
	out.DateModified = now
	return out
}

// RemoveSong removes the song if present.
func (p Playlist) RemoveSong(songID int64, now time.Time) Playlist {
	idx := slices.Index(p.SongIDs, songID)
	if idx < 0 {
		return p
	}
	out := p.clone()
	out.SongIDs = slices.Delete(out.SongIDs, idx, idx+1)
	out.DateModified = now
	return out
}

// MoveSong moves the song at from to position to. Out-of-range indices
// return the playlist unchanged.
func (p Playlist) MoveSong(from, to int, now time.Time) Playlist {
	n := len(p.SongIDs)
	if from < 0 || from >= n || to < 0 || to >= n {
		return p
	}
	out := p.clone()
	id := out.SongIDs[from]
	out.SongIDs = slices.Delete(out.SongIDs, from, from+1)
	out.SongIDs = slices.Insert(out.SongIDs, to, id)
	out.DateModified = now
	return out
}

// TotalDuration sums the duration of the given tracks that belong to the playlist.
func (p Playlist) TotalDuration(tracks []Track) time.Duration {
	var total time.Duration
	for _, t := range tracks {
		if p.ContainsSong(t.ID) {
			total += t.Duration
		}
	}
	return total
}

// FormattedDuration formats the total duration as H:MM:SS, or MM:SS under an hour.
func (p Playlist) FormattedDuration(tracks []Track) string {
	total := int64(p.TotalDuration(tracks) / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%02d:%02d", minutes, seconds)
}

func (p Playlist) clone() Playlist {
	out := p
	out.SongIDs = slices.Clone(p.SongIDs)
	if out.SongIDs == nil {
		out.SongIDs = []int64{}
	}
	return out
}

// Package ports define interfaces for dependency inversion.
// These interfaces allow the core session logic to remain independent of external frameworks.
package ports

import (
	"time"

	"github.com/tejashwikalptaru/tunedeck/internal/domain"
)

// QueueItem is one entry of the queue handed to a playback engine.
type QueueItem struct {
	// MediaID is reported back by the engine on track transitions
	MediaID string

	// URI is the playable locator
	URI string

	// Title and Artist are informational only (now-playing metadata)
	Title  string
	Artist string

	// Duration is a hint; engines that read it from the media ignore it
	Duration time.Duration
}

// PlaybackEngine is the interface for the external player that owns the real queue.
// The session coordinator treats it as an actuator: it loads queues, issues
// transport commands and reads position, while the engine reports back through
// an EngineListener.
//
// Implementations must be thread-safe. Listener callbacks must never be invoked
// on the goroutine of the caller that triggered them; engines deliver callbacks
// from their own goroutine so callers may hold locks while issuing commands.
type PlaybackEngine interface {
	// Queue methods

	// LoadQueue replaces the engine queue, selects startIndex and positions
	// playback at startPosition. It does not start playback by itself.
	//
	// Returns an error if the queue is empty, the index is out of range or
	// the engine rejects the items.
	LoadQueue(items []QueueItem, startIndex int, startPosition time.Duration) error

	// Transport methods

	// Play starts or resumes playback of the current queue entry.
	Play() error

	// Pause pauses playback, preserving the position.
	Pause() error

	// Stop stops playback and rewinds the current entry.
	Stop() error

	// Seek sets the playback position within the current entry.
	Seek(position time.Duration) error

	// Navigation methods

	// HasNext reports whether Next would move to another entry.
	HasNext() bool

	// HasPrevious reports whether Previous would move to another entry.
	HasPrevious() bool

	// Next moves to the next entry. The resulting transition is reported
	// through EngineListener.OnTrackTransition.
	Next() error

	// Previous moves to the previous entry.
	Previous() error

	// Mode methods

	// SetShuffle forwards the shuffle flag to the engine.
	SetShuffle(enabled bool) error

	// SetRepeatOne enables or clears repeat-one mode.
	SetRepeatOne(enabled bool) error

	// State query methods

	// IsPlaying returns true while audio is actively playing.
	IsPlaying() bool

	// Position returns the position within the current entry.
	Position() time.Duration

	// Duration returns the duration of the current entry, or 0 if unknown.
	Duration() time.Duration

	// Lifecycle methods

	// SetListener registers the single listener receiving engine callbacks.
	// Passing nil removes the listener.
	SetListener(listener EngineListener)

	// Release frees the engine. No callbacks are delivered after Release returns.
	Release() error
}

// EngineListener receives callbacks from a PlaybackEngine.
type EngineListener interface {
	// OnTrackTransition is called when the engine moved to the entry with mediaID.
	OnTrackTransition(mediaID string)

	// OnPlayingChanged is called when the engine starts or stops producing audio.
	OnPlayingChanged(playing bool)

	// OnPhaseChanged is called when the engine playback phase changes.
	OnPhaseChanged(phase domain.PlaybackPhase)

	// OnShuffleChanged is called when the shuffle flag changed on the engine side.
	OnShuffleChanged(enabled bool)

	// OnRepeatChanged is called when repeat-one changed on the engine side.
	OnRepeatChanged(enabled bool)
}

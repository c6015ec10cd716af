// Package domain defines events for the event-driven architecture.
// Events are how the session coordinator and services publish state to observers.
package domain

import (
	"time"
)

// Event is the base interface for all events in the system.
// All events must implement this interface to be published via the event bus.
type Event interface {
	// Type returns the event type identifier
	Type() EventType

	// Timestamp returns when the event occurred
	Timestamp() time.Time
}

// EventType is a string identifier for different event types.
type EventType string

// Event type constants define all possible events in the system.
const (
	// Session events
	EventPlayerStateChanged EventType = "player.state_changed"
	EventQueueChanged       EventType = "queue.changed"
	EventTrackTransition    EventType = "track.transition"

	// Persistence events
	EventPlaylistsChanged      EventType = "playlists.changed"
	EventFavoritesChanged      EventType = "favorites.changed"
	EventRecentlyPlayedChanged EventType = "recently_played.changed"

	// Library events
	EventScanStarted    EventType = "scan.started"
	EventScanCompleted  EventType = "scan.completed"
	EventScanFailed     EventType = "scan.failed"
	EventLibraryUpdated EventType = "library.updated"
)

// EventHandler is a function that handles events.
type EventHandler func(event Event)

// SubscriptionID uniquely identifies an event subscription.
type SubscriptionID string

// baseEvent provides common event functionality.
// All concrete events should embed this struct.
type baseEvent struct {
	timestamp time.Time
}

// Timestamp returns when the event occurred.
func (e baseEvent) Timestamp() time.Time {
	return e.timestamp
}

func newBaseEvent() baseEvent {
	return baseEvent{timestamp: time.Now()}
}

// PlayerStateChangedEvent is published whenever the published PlayerState changes.
type PlayerStateChangedEvent struct {
	baseEvent
	State PlayerState
}

// Type returns the event type.
func (e PlayerStateChangedEvent) Type() EventType {
	return EventPlayerStateChanged
}

// NewPlayerStateChangedEvent creates a new PlayerStateChangedEvent.
func NewPlayerStateChangedEvent(state PlayerState) PlayerStateChangedEvent {
	return PlayerStateChangedEvent{
		baseEvent: newBaseEvent(),
		State:     state,
	}
}

// QueueChangedEvent is published when the active queue or its index changes.
type QueueChangedEvent struct {
	baseEvent
	Queue   []Track
	Index   int
	Context *PlaylistContext
}

// Type returns the event type.
func (e QueueChangedEvent) Type() EventType {
	return EventQueueChanged
}

// NewQueueChangedEvent creates a new QueueChangedEvent.
func NewQueueChangedEvent(queue []Track, index int, ctx *PlaylistContext) QueueChangedEvent {
	return QueueChangedEvent{
		baseEvent: newBaseEvent(),
		Queue:     queue,
		Index:     index,
		Context:   ctx,
	}
}

// TrackTransitionEvent is published when the engine moved to another queue entry
// and the coordinator resolved it.
type TrackTransitionEvent struct {
	baseEvent
	Track Track
	Index int
}

// Type returns the event type.
func (e TrackTransitionEvent) Type() EventType {
	return EventTrackTransition
}

// NewTrackTransitionEvent creates a new TrackTransitionEvent.
func NewTrackTransitionEvent(track Track, index int) TrackTransitionEvent {
	return TrackTransitionEvent{
		baseEvent: newBaseEvent(),
		Track:     track,
		Index:     index,
	}
}

// PlaylistsChangedEvent is published after a playlist write.
type PlaylistsChangedEvent struct {
	baseEvent
	PlaylistID string
	Saved      bool
}

// Type returns the event type.
func (e PlaylistsChangedEvent) Type() EventType {
	return EventPlaylistsChanged
}

// NewPlaylistsChangedEvent creates a new PlaylistsChangedEvent.
func NewPlaylistsChangedEvent(playlistID string, saved bool) PlaylistsChangedEvent {
	return PlaylistsChangedEvent{
		baseEvent:  newBaseEvent(),
		PlaylistID: playlistID,
		Saved:      saved,
	}
}

// FavoritesChangedEvent is published after the favorites list changed.
type FavoritesChangedEvent struct {
	baseEvent
	SongIDs []int64
}

// Type returns the event type.
func (e FavoritesChangedEvent) Type() EventType {
	return EventFavoritesChanged
}

// NewFavoritesChangedEvent creates a new FavoritesChangedEvent.
func NewFavoritesChangedEvent(ids []int64) FavoritesChangedEvent {
	return FavoritesChangedEvent{
		baseEvent: newBaseEvent(),
		SongIDs:   ids,
	}
}

// RecentlyPlayedChangedEvent is published after the recently played history changed.
type RecentlyPlayedChangedEvent struct {
	baseEvent
	SongIDs []int64
}

// Type returns the event type.
func (e RecentlyPlayedChangedEvent) Type() EventType {
	return EventRecentlyPlayedChanged
}

// NewRecentlyPlayedChangedEvent creates a new RecentlyPlayedChangedEvent.
func NewRecentlyPlayedChangedEvent(ids []int64) RecentlyPlayedChangedEvent {
	return RecentlyPlayedChangedEvent{
		baseEvent: newBaseEvent(),
		SongIDs:   ids,
	}
}

// ScanStartedEvent is published when a library scan starts.
type ScanStartedEvent struct {
	baseEvent
}

// Type returns the event type.
func (e ScanStartedEvent) Type() EventType {
	return EventScanStarted
}

// NewScanStartedEvent creates a new ScanStartedEvent.
func NewScanStartedEvent() ScanStartedEvent {
	return ScanStartedEvent{baseEvent: newBaseEvent()}
}

// ScanCompletedEvent is published when a library scan completes.
type ScanCompletedEvent struct {
	baseEvent
	TracksFound int
	Elapsed     time.Duration
}

// Type returns the event type.
func (e ScanCompletedEvent) Type() EventType {
	return EventScanCompleted
}

// NewScanCompletedEvent creates a new ScanCompletedEvent.
func NewScanCompletedEvent(found int, elapsed time.Duration) ScanCompletedEvent {
	return ScanCompletedEvent{
		baseEvent:   newBaseEvent(),
		TracksFound: found,
		Elapsed:     elapsed,
	}
}

// ScanFailedEvent is published when a library scan fails or is cancelled.
type ScanFailedEvent struct {
	baseEvent
	Error error
}

// Type returns the event type.
func (e ScanFailedEvent) Type() EventType {
	return EventScanFailed
}

// NewScanFailedEvent creates a new ScanFailedEvent.
func NewScanFailedEvent(err error) ScanFailedEvent {
	return ScanFailedEvent{
		baseEvent: newBaseEvent(),
		Error:     err,
	}
}

// LibraryUpdatedEvent is published when the cached song list was replaced.
type LibraryUpdatedEvent struct {
	baseEvent
	SongCount int
}

// Type returns the event type.
func (e LibraryUpdatedEvent) Type() EventType {
	return EventLibraryUpdated
}

// NewLibraryUpdatedEvent creates a new LibraryUpdatedEvent.
func NewLibraryUpdatedEvent(count int) LibraryUpdatedEvent {
	return LibraryUpdatedEvent{
		baseEvent: newBaseEvent(),
		SongCount: count,
	}
}

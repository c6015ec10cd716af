// Package service provides the playback session logic for tunedeck.
package service

import (
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tejashwikalptaru/tunedeck/internal/domain"
	"github.com/tejashwikalptaru/tunedeck/internal/ports"
)

// DefaultPollInterval is the cadence of position sampling while playing.
const DefaultPollInterval = time.Second

// PlayHistory records tracks the user started. Implementations must not block.
type PlayHistory interface {
	RecordPlayed(songID int64)
}

// CoordinatorOption customizes a SessionCoordinator.
type CoordinatorOption func(*SessionCoordinator)

// WithClock sets the clock driving the position poll loop.
func WithClock(clock clockwork.Clock) CoordinatorOption {
	return func(c *SessionCoordinator) {
		c.clock = clock
	}
}

// WithPollInterval sets the position poll interval.
func WithPollInterval(interval time.Duration) CoordinatorOption {
	return func(c *SessionCoordinator) {
		if interval > 0 {
			c.pollInterval = interval
		}
	}
}

// WithRand sets the random source used for shuffling.
func WithRand(rng *rand.Rand) CoordinatorOption {
	return func(c *SessionCoordinator) {
		c.rng = rng
	}
}

// SessionCoordinator owns the active queue, its index, the playlist context
// that produced it and the published PlayerState, and keeps them consistent
// with the engine across shuffle/repeat toggles and engine track transitions.
//
// All state is guarded by one mutex. The engine is called with the lock held;
// engines deliver listener callbacks on their own goroutine, so a callback
// never re-enters a locked coordinator. Events are published after the lock is
// released, in the order their snapshots were taken. Bus handlers may read the
// coordinator but must not call its mutating methods synchronously.
type SessionCoordinator struct {
	// Dependencies (injected)
	logger  *slog.Logger
	engine  ports.PlaybackEngine
	bus     ports.EventBus
	history PlayHistory
	clock   clockwork.Clock
	rng     *rand.Rand

	// State
	queue   []domain.Track
	index   int
	context *domain.PlaylistContext
	state   domain.PlayerState

	pollInterval time.Duration

	// Publication order: every snapshot takes a ticket under mu and waits for
	// its turn before reaching the bus
	nextTicket uint64
	pubMu      sync.Mutex
	pubCond    *sync.Cond
	pubTurn    uint64

	// Concurrency control
	mu          sync.Mutex
	stopPoll    chan struct{}
	pollRunning bool
	pollWg      sync.WaitGroup
	closed      bool
}

// NewSessionCoordinator creates a coordinator, registers it as the engine
// listener and starts the position poll loop. history may be nil.
func NewSessionCoordinator(
	logger *slog.Logger,
	engine ports.PlaybackEngine,
	bus ports.EventBus,
	history PlayHistory,
	opts ...CoordinatorOption,
) *SessionCoordinator {
	c := &SessionCoordinator{
		logger:       logger.With(slog.String("service", "SessionCoordinator")),
		engine:       engine,
		bus:          bus,
		history:      history,
		clock:        clockwork.NewRealClock(),
		index:        -1,
		pollInterval: DefaultPollInterval,
		stopPoll:     make(chan struct{}),
		state:        domain.PlayerState{Phase: domain.PhaseStopped},
	}
	c.pubCond = sync.NewCond(&c.pubMu)
	for _, opt := range opts {
		opt(c)
	}

	engine.SetListener(c)
	c.startPollLoop()

	c.logger.Debug("session coordinator initialized", slog.Duration("poll_interval", c.pollInterval))
	return c
}

// ShufflePlaylist returns a new ordering of tracks with tracks[pivot] first and
// the remaining tracks uniformly permuted. An out-of-range pivot shuffles every
// track. The input is not modified.
func ShufflePlaylist(tracks []domain.Track, pivot int, rng *rand.Rand) []domain.Track {
	shuffle := rand.Shuffle
	if rng != nil {
		shuffle = rng.Shuffle
	}

	if pivot < 0 || pivot >= len(tracks) {
		out := make([]domain.Track, len(tracks))
		copy(out, tracks)
		shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
		return out
	}

	out := make([]domain.Track, 0, len(tracks))
	out = append(out, tracks[pivot])
	out = append(out, tracks[:pivot]...)
	out = append(out, tracks[pivot+1:]...)

	rest := out[1:]
	shuffle(len(rest), func(i, j int) { rest[i], rest[j] = rest[j], rest[i] })
	return out
}

// StartPlaylist replaces the active queue with tracks and starts playing
// tracks[startIndex]. A nil context defaults to the all-songs context of
// tracks. Empty input or an out-of-range index is ignored.
func (c *SessionCoordinator) StartPlaylist(tracks []domain.Track, startIndex int, pctx *domain.PlaylistContext) {
	if len(tracks) == 0 || startIndex < 0 || startIndex >= len(tracks) {
		c.logger.Debug("ignoring start request",
			slog.Int("tracks", len(tracks)),
			slog.Int("start_index", startIndex))
		return
	}

	c.mu.Lock()
	if pctx == nil {
		pctx = domain.AllSongsContext(tracks)
	} else {
		pctx = pctx.Clone()
	}

	var queue []domain.Track
	index := startIndex
	if c.state.ShuffleEnabled {
		queue = ShufflePlaylist(tracks, startIndex, c.rng)
		index = 0
	} else {
		queue = make([]domain.Track, len(tracks))
		copy(queue, tracks)
	}

	c.queue = queue
	c.index = index
	c.context = pctx

	current := queue[index]
	c.state.CurrentTrack = &current
	c.state.Position = 0
	c.state.Duration = current.Duration
	c.state.Phase = domain.PhasePlaying

	if err := c.engine.LoadQueue(queueItems(queue), index, 0); err != nil {
		c.logger.Error("engine rejected queue", slog.Any("error", err), slog.Int("tracks", len(queue)))
		c.state.Phase = domain.PhaseError
	} else if err := c.engine.Play(); err != nil {
		c.logger.Error("engine failed to play", slog.Any("error", err))
		c.state.Phase = domain.PhaseError
	}

	c.logger.Info("playlist started",
		slog.String("category", string(pctx.Category)),
		slog.String("item", pctx.ItemName),
		slog.Int("tracks", len(queue)),
		slog.Int("index", index),
		slog.Bool("shuffled", c.state.ShuffleEnabled))

	pub := c.snapshotEventsLocked(true)
	c.mu.Unlock()

	c.publish(pub)
	if c.history != nil {
		c.history.RecordPlayed(current.ID)
	}
}

// PlaySong plays a single track as a one-entry queue.
func (c *SessionCoordinator) PlaySong(track domain.Track) {
	c.StartPlaylist([]domain.Track{track}, 0, nil)
}

// SetShuffleEnabled switches shuffle on or off. Enabling shuffle turns
// repeat-one off and rebuilds the queue as a shuffle of the context's songs
// with the current track first; disabling restores the context's original
// order. Position and play/pause phase are preserved. Without an active
// context the flag is only forwarded to the engine.
func (c *SessionCoordinator) SetShuffleEnabled(enabled bool) {
	c.mu.Lock()

	if enabled {
		c.setRepeatLocked(false)
	}

	current := c.state.CurrentTrack
	if c.context != nil && len(c.queue) > 0 && current != nil {
		var order []domain.Track
		if enabled {
			order = ShufflePlaylist(c.context.AllSongs, domain.IndexOfTrack(c.context.AllSongs, current.ID), c.rng)
		} else {
			order = c.context.OriginalOrder
		}

		if c.reloadLocked(order, current.ID) {
			c.logger.Debug("queue rebuilt for shuffle",
				slog.Bool("enabled", enabled),
				slog.Int("index", c.index))
		}
		if !enabled {
			c.forwardShuffleLocked(false)
		}
	} else {
		c.forwardShuffleLocked(enabled)
	}

	c.state.ShuffleEnabled = enabled

	pub := c.snapshotEventsLocked(true)
	c.mu.Unlock()

	c.publish(pub)
}

// SetRepeatEnabled switches repeat-one on or off. Enabling repeat turns
// shuffle off first, restoring the context's original order if shuffle was on.
func (c *SessionCoordinator) SetRepeatEnabled(enabled bool) {
	c.mu.Lock()
	wasShuffled := c.state.ShuffleEnabled
	c.setRepeatLocked(enabled)
	pub := c.snapshotEventsLocked(wasShuffled && enabled)
	c.mu.Unlock()

	c.publish(pub)
}

// setRepeatLocked applies the repeat toggle. Caller must hold the lock.
func (c *SessionCoordinator) setRepeatLocked(enabled bool) {
	if enabled && c.state.ShuffleEnabled {
		c.state.ShuffleEnabled = false
		c.forwardShuffleLocked(false)

		if current := c.state.CurrentTrack; c.context != nil && current != nil {
			c.reloadLocked(c.context.OriginalOrder, current.ID)
		}
	}

	if err := c.engine.SetRepeatOne(enabled); err != nil {
		c.logger.Warn("engine rejected repeat mode", slog.Any("error", err), slog.Bool("enabled", enabled))
	}
	c.state.RepeatEnabled = enabled
}

// reloadLocked loads order into the engine positioned on the track with
// currentID, keeping the engine position and the playing phase. Returns false
// and leaves the queue untouched if the track is not in order or the engine
// rejects the queue. Caller must hold the lock.
func (c *SessionCoordinator) reloadLocked(order []domain.Track, currentID int64) bool {
	index := domain.IndexOfTrack(order, currentID)
	if index < 0 {
		c.logger.Debug("current track not in rebuilt order, keeping queue", slog.Int64("track_id", currentID))
		return false
	}

	position := c.engine.Position()
	wasPlaying := c.state.Phase == domain.PhasePlaying

	if err := c.engine.LoadQueue(queueItems(order), index, position); err != nil {
		c.logger.Error("engine rejected rebuilt queue", slog.Any("error", err))
		return false
	}
	if wasPlaying {
		if err := c.engine.Play(); err != nil {
			c.logger.Error("engine failed to resume after rebuild", slog.Any("error", err))
		}
	}

	c.queue = make([]domain.Track, len(order))
	copy(c.queue, order)
	c.index = index
	c.state.Position = position
	return true
}

func (c *SessionCoordinator) forwardShuffleLocked(enabled bool) {
	if err := c.engine.SetShuffle(enabled); err != nil {
		c.logger.Warn("engine rejected shuffle mode", slog.Any("error", err), slog.Bool("enabled", enabled))
	}
}

// AdvanceNext asks the engine to move to the next entry. The published track
// changes when the engine reports the transition.
func (c *SessionCoordinator) AdvanceNext() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.engine.HasNext() {
		c.logger.Debug("no next entry")
		return
	}
	if err := c.engine.Next(); err != nil {
		c.logger.Warn("engine failed to advance", slog.Any("error", err))
	}
}

// AdvancePrevious asks the engine to move to the previous entry.
func (c *SessionCoordinator) AdvancePrevious() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.engine.HasPrevious() {
		c.logger.Debug("no previous entry")
		return
	}
	if err := c.engine.Previous(); err != nil {
		c.logger.Warn("engine failed to go back", slog.Any("error", err))
	}
}

// TogglePlayPause pauses when the engine is playing and plays otherwise.
func (c *SessionCoordinator) TogglePlayPause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	if c.engine.IsPlaying() {
		err = c.engine.Pause()
	} else {
		err = c.engine.Play()
	}
	if err != nil {
		c.logger.Debug("toggle play/pause ignored", slog.Any("error", err))
	}
}

// Play resumes playback of the current entry.
func (c *SessionCoordinator) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.engine.Play(); err != nil {
		c.logger.Debug("play ignored", slog.Any("error", err))
	}
}

// Pause pauses playback.
func (c *SessionCoordinator) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.engine.Pause(); err != nil {
		c.logger.Debug("pause ignored", slog.Any("error", err))
	}
}

// Stop stops playback and publishes a stopped phase at position zero.
func (c *SessionCoordinator) Stop() {
	c.mu.Lock()
	if err := c.engine.Stop(); err != nil {
		c.logger.Warn("engine failed to stop", slog.Any("error", err))
	}
	c.state.Phase = domain.PhaseStopped
	c.state.Position = 0
	pub := c.snapshotEventsLocked(false)
	c.mu.Unlock()

	c.publish(pub)
}

// SeekTo moves the playback position and publishes it immediately.
func (c *SessionCoordinator) SeekTo(position time.Duration) {
	c.mu.Lock()
	if err := c.engine.Seek(position); err != nil {
		c.mu.Unlock()
		c.logger.Debug("seek ignored", slog.Any("error", err), slog.Duration("position", position))
		return
	}
	c.state.Position = position
	pub := c.snapshotEventsLocked(false)
	c.mu.Unlock()

	c.publish(pub)
}

// State returns a snapshot of the published player state.
func (c *SessionCoordinator) State() domain.PlayerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateSnapshotLocked()
}

// Queue returns a copy of the active queue and the current index (-1 when empty).
func (c *SessionCoordinator) Queue() ([]domain.Track, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Track, len(c.queue))
	copy(out, c.queue)
	return out, c.index
}

// Context returns a copy of the active playlist context, or nil before
// anything was played.
func (c *SessionCoordinator) Context() *domain.PlaylistContext {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.context.Clone()
}

// OnTrackTransition resolves the engine media ID against the active queue and
// publishes the new current track. Unknown IDs are dropped.
func (c *SessionCoordinator) OnTrackTransition(mediaID string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	id, ok := domain.ParseMediaID(mediaID)
	index := -1
	if ok {
		index = domain.IndexOfTrack(c.queue, id)
	}
	if index < 0 {
		c.mu.Unlock()
		c.logger.Debug("dropping transition to unknown media", slog.String("media_id", mediaID))
		return
	}

	track := c.queue[index]
	sameTrack := c.state.CurrentTrack != nil && c.state.CurrentTrack.ID == track.ID
	if sameTrack && index == c.index {
		c.mu.Unlock()
		return
	}

	c.index = index
	c.state.CurrentTrack = &track
	c.state.Duration = track.Duration
	if !sameTrack {
		c.state.Position = 0
	}

	pub := c.snapshotEventsLocked(true)
	c.mu.Unlock()

	c.logger.Debug("track transition", slog.Int64("track_id", track.ID), slog.Int("index", index))
	pub.events = append(pub.events, domain.NewTrackTransitionEvent(track, index))
	c.publish(pub)
}

// OnPlayingChanged reflects the engine playing flag as playing or paused.
// Losing the playing flag does not override a stopped or error phase.
func (c *SessionCoordinator) OnPlayingChanged(playing bool) {
	if playing {
		c.OnPhaseChanged(domain.PhasePlaying)
		return
	}

	c.mu.Lock()
	phase := c.state.Phase
	c.mu.Unlock()
	if phase == domain.PhaseStopped || phase == domain.PhaseError {
		return
	}
	c.OnPhaseChanged(domain.PhasePaused)
}

// OnPhaseChanged reflects the engine-reported playback phase.
func (c *SessionCoordinator) OnPhaseChanged(phase domain.PlaybackPhase) {
	c.mu.Lock()
	if c.closed || c.state.Phase == phase {
		c.mu.Unlock()
		return
	}
	c.state.Phase = phase
	pub := c.snapshotEventsLocked(false)
	c.mu.Unlock()

	c.publish(pub)
}

// OnShuffleChanged reflects a shuffle change made on the engine side.
// Turning shuffle on clears the published repeat flag.
func (c *SessionCoordinator) OnShuffleChanged(enabled bool) {
	c.mu.Lock()
	if c.closed || c.state.ShuffleEnabled == enabled {
		c.mu.Unlock()
		return
	}
	c.state.ShuffleEnabled = enabled
	if enabled {
		c.state.RepeatEnabled = false
	}
	pub := c.snapshotEventsLocked(false)
	c.mu.Unlock()

	c.publish(pub)
}

// OnRepeatChanged reflects a repeat-one change made on the engine side.
// Turning repeat on clears the published shuffle flag.
func (c *SessionCoordinator) OnRepeatChanged(enabled bool) {
	c.mu.Lock()
	if c.closed || c.state.RepeatEnabled == enabled {
		c.mu.Unlock()
		return
	}
	c.state.RepeatEnabled = enabled
	if enabled {
		c.state.ShuffleEnabled = false
	}
	pub := c.snapshotEventsLocked(false)
	c.mu.Unlock()

	c.publish(pub)
}

// Shutdown stops the poll loop and waits for it to exit, then detaches from
// the engine. The engine may be released once Shutdown returns.
func (c *SessionCoordinator) Shutdown() {
	c.mu.Lock()
	if c.pollRunning {
		close(c.stopPoll)
		c.pollRunning = false
	}
	c.closed = true
	// Release lock before waiting for goroutine to exit (to avoid deadlock)
	c.mu.Unlock()

	c.pollWg.Wait()
	c.engine.SetListener(nil)

	c.logger.Debug("session coordinator shut down")
}

// startPollLoop starts the goroutine sampling position while playing.
// Each iteration sleeps first and then samples, so iterations never overlap.
func (c *SessionCoordinator) startPollLoop() {
	c.mu.Lock()
	if c.pollRunning {
		c.mu.Unlock()
		return
	}
	c.pollRunning = true
	c.pollWg.Add(1)
	stop := c.stopPoll
	c.mu.Unlock()

	go func() {
		defer c.pollWg.Done()

		for {
			select {
			case <-stop:
				return
			case <-c.clock.After(c.pollInterval):
			}

			c.samplePosition()
		}
	}()
}

// samplePosition republishes position and duration if the engine is playing.
func (c *SessionCoordinator) samplePosition() {
	c.mu.Lock()
	if c.closed || !c.engine.IsPlaying() {
		c.mu.Unlock()
		return
	}

	c.state.Position = c.engine.Position()
	if d := c.engine.Duration(); d > 0 {
		c.state.Duration = d
	}
	c.state.Phase = domain.PhasePlaying
	if c.index >= 0 && c.index < len(c.queue) {
		current := c.queue[c.index]
		c.state.CurrentTrack = &current
	}

	pub := c.snapshotEventsLocked(false)
	c.mu.Unlock()

	c.publish(pub)
}

func (c *SessionCoordinator) stateSnapshotLocked() domain.PlayerState {
	state := c.state
	if state.CurrentTrack != nil {
		track := *state.CurrentTrack
		state.CurrentTrack = &track
	}
	return state
}

// publication is a batch of events stamped with its place in publish order.
type publication struct {
	ticket uint64
	events []domain.Event
}

// snapshotEventsLocked builds the events describing the current state and
// reserves their publish slot. Caller must hold the lock and must pass the
// result to publish.
func (c *SessionCoordinator) snapshotEventsLocked(queueChanged bool) publication {
	events := []domain.Event{domain.NewPlayerStateChangedEvent(c.stateSnapshotLocked())}
	if queueChanged {
		queue := make([]domain.Track, len(c.queue))
		copy(queue, c.queue)
		events = append(events, domain.NewQueueChangedEvent(queue, c.index, c.context.Clone()))
	}
	pub := publication{ticket: c.nextTicket, events: events}
	c.nextTicket++
	return pub
}

// publish delivers pub once every earlier snapshot has been delivered, so
// observers never see an older state after a newer one.
func (c *SessionCoordinator) publish(pub publication) {
	c.pubMu.Lock()
	for c.pubTurn != pub.ticket {
		c.pubCond.Wait()
	}
	c.pubMu.Unlock()

	if c.bus != nil {
		for _, event := range pub.events {
			c.bus.Publish(event)
		}
	}

	c.pubMu.Lock()
	c.pubTurn++
	c.pubCond.Broadcast()
	c.pubMu.Unlock()
}

func queueItems(tracks []domain.Track) []ports.QueueItem {
	items := make([]ports.QueueItem, len(tracks))
	for i, t := range tracks {
		items[i] = ports.QueueItem{
			MediaID:  t.MediaID(),
			URI:      t.URI,
			Title:    t.DisplayTitle(),
			Artist:   t.DisplayArtist(),
			Duration: t.Duration,
		}
	}
	return items
}

// Verify that SessionCoordinator implements the EngineListener interface
var _ ports.EngineListener = (*SessionCoordinator)(nil)

// Package mock provides an in-memory implementation of the PlaybackEngine interface.
// It simulates a queue-based player for tests and for running without an audio backend.
package mock

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/tejashwikalptaru/tunedeck/internal/domain"
	"github.com/tejashwikalptaru/tunedeck/internal/ports"
)

const engineName = "mock"

// defaultDuration is used for queue items without a duration hint.
const defaultDuration = 3 * time.Minute

// Engine is a mock implementation of the PlaybackEngine interface.
// It simulates playback in memory without producing audio.
//
// Like a real player, the play-when-ready flag survives LoadQueue: replacing
// the queue while playing keeps playing from the new entry.
//
// Thread-safety: This implementation is thread-safe. Listener callbacks are
// delivered on a dedicated goroutine, never on the caller's goroutine.
type Engine struct {
	// Dependencies
	logger *slog.Logger

	listener ports.EngineListener
	dispatch *dispatcher

	// Queue state
	items    []ports.QueueItem
	index    int
	position time.Duration
	playing  bool
	phase    domain.PlaybackPhase

	// Modes
	shuffle   bool
	repeatOne bool

	// Counters (for assertions in tests)
	loads    int
	released bool

	stopSim chan struct{}
	simWG   sync.WaitGroup

	mu sync.RWMutex

	// Behavior configuration (for testing error scenarios)
	failLoad bool
	failPlay bool
}

// NewEngine creates a new mock playback engine.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		logger:   logger.With(slog.String("engine", engineName)),
		dispatch: newDispatcher(),
		index:    -1,
		phase:    domain.PhaseStopped,
	}
}

// SetFailLoad configures the mock to fail loading queues (for testing).
func (m *Engine) SetFailLoad(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLoad = fail
}

// SetFailPlay configures the mock to fail playback (for testing).
func (m *Engine) SetFailPlay(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failPlay = fail
}

// SetListener registers the listener receiving engine callbacks.
func (m *Engine) SetListener(listener ports.EngineListener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listener = listener
}

// LoadQueue replaces the queue and positions playback at startIndex.
func (m *Engine) LoadQueue(items []ports.QueueItem, startIndex int, startPosition time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return domain.ErrEngineReleased
	}
	if m.failLoad {
		return domain.NewEngineError(engineName, "load", "mock load failed", nil)
	}
	if len(items) == 0 {
		return domain.ErrQueueEmpty
	}
	if startIndex < 0 || startIndex >= len(items) {
		return domain.ErrInvalidIndex
	}

	m.items = make([]ports.QueueItem, len(items))
	copy(m.items, items)
	m.index = startIndex
	m.position = clampPosition(startPosition, m.durationLocked())
	m.loads++

	if m.playing {
		m.setPhaseLocked(domain.PhasePlaying)
	} else {
		m.setPhaseLocked(domain.PhasePaused)
	}
	m.notifyTransitionLocked()

	m.logger.Debug("queue loaded",
		slog.Int("items", len(items)),
		slog.Int("start_index", startIndex),
		slog.Duration("start_position", m.position))
	return nil
}

// Play starts or resumes playback.
func (m *Engine) Play() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return domain.ErrEngineReleased
	}
	if m.failPlay {
		return domain.ErrPlaybackFailed
	}
	if len(m.items) == 0 {
		return domain.ErrQueueEmpty
	}

	m.setPlayingLocked(true)
	m.setPhaseLocked(domain.PhasePlaying)
	return nil
}

// Pause pauses playback.
func (m *Engine) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return domain.ErrEngineReleased
	}
	if len(m.items) == 0 {
		return nil
	}

	m.setPlayingLocked(false)
	m.setPhaseLocked(domain.PhasePaused)
	return nil
}

// Stop stops playback and rewinds the current entry.
func (m *Engine) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return domain.ErrEngineReleased
	}

	m.position = 0
	m.setPlayingLocked(false)
	m.setPhaseLocked(domain.PhaseStopped)
	return nil
}

// Seek sets the playback position.
func (m *Engine) Seek(position time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return domain.ErrEngineReleased
	}
	if len(m.items) == 0 {
		return domain.ErrQueueEmpty
	}
	if position < 0 || position > m.durationLocked() {
		return domain.ErrInvalidPosition
	}

	m.position = position
	return nil
}

// HasNext reports whether a later entry exists. Repeat-one does not affect navigation.
func (m *Engine) HasNext() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.released && m.index >= 0 && m.index < len(m.items)-1
}

// HasPrevious reports whether an earlier entry exists.
func (m *Engine) HasPrevious() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.released && m.index > 0
}

// Next moves to the next entry.
func (m *Engine) Next() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return domain.ErrEngineReleased
	}
	if m.index < 0 || m.index >= len(m.items)-1 {
		return domain.ErrEndOfQueue
	}

	m.index++
	m.position = 0
	m.notifyTransitionLocked()
	return nil
}

// Previous moves to the previous entry.
func (m *Engine) Previous() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return domain.ErrEngineReleased
	}
	if m.index <= 0 {
		return domain.ErrStartOfQueue
	}

	m.index--
	m.position = 0
	m.notifyTransitionLocked()
	return nil
}

// SetShuffle records the shuffle flag. The mock plays its queue in the order it was loaded.
func (m *Engine) SetShuffle(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return domain.ErrEngineReleased
	}
	m.shuffle = enabled
	return nil
}

// SetRepeatOne enables or clears repeat-one mode.
func (m *Engine) SetRepeatOne(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released {
		return domain.ErrEngineReleased
	}
	m.repeatOne = enabled
	return nil
}

// IsPlaying returns true while playback is active.
func (m *Engine) IsPlaying() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.playing
}

// Position returns the current playback position.
func (m *Engine) Position() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.position
}

// Duration returns the duration of the current entry.
func (m *Engine) Duration() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.durationLocked()
}

// Release stops the simulation clock and the callback goroutine.
// It must not be called from a listener callback.
func (m *Engine) Release() error {
	m.mu.Lock()
	if m.released {
		m.mu.Unlock()
		return nil
	}
	m.released = true
	m.playing = false
	m.listener = nil
	stop := m.stopSim
	m.stopSim = nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	m.simWG.Wait()
	m.dispatch.close()
	return nil
}

// Simulate advances playback by step on every tick of clock until Release.
// Used when running the application without an audio backend.
func (m *Engine) Simulate(clock clockwork.Clock, step time.Duration) {
	m.mu.Lock()
	if m.released || m.stopSim != nil {
		m.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	m.stopSim = stop
	m.mu.Unlock()

	ticker := clock.NewTicker(step)
	m.simWG.Add(1)
	go func() {
		defer m.simWG.Done()
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.Chan():
				m.Advance(step)
			}
		}
	}()
}

// Advance simulates playback progress (for testing).
// Reaching the end of an entry repeats it in repeat-one mode, moves to the
// next entry when there is one, or stops at the end of the queue.
func (m *Engine) Advance(delta time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.released || !m.playing || m.index < 0 {
		return
	}

	m.position += delta
	duration := m.durationLocked()
	if m.position < duration {
		return
	}

	switch {
	case m.repeatOne:
		m.position = 0
		m.notifyTransitionLocked()
	case m.index < len(m.items)-1:
		m.index++
		m.position = 0
		m.notifyTransitionLocked()
	default:
		m.position = duration
		m.setPlayingLocked(false)
		m.setPhaseLocked(domain.PhaseStopped)
	}
}

// SimulateTransition reports a transition to an arbitrary media ID without
// touching the queue (for testing desynchronization).
func (m *Engine) SimulateTransition(mediaID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifyLocked(func(l ports.EngineListener) { l.OnTrackTransition(mediaID) })
}

// SimulatePhase forces the engine into phase, as if reported by the backend.
func (m *Engine) SimulatePhase(phase domain.PlaybackPhase) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setPhaseLocked(phase)
}

// SimulateModeChange reports shuffle and repeat flags changed on the engine side,
// e.g. from a notification control.
func (m *Engine) SimulateModeChange(shuffle, repeatOne bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if shuffle != m.shuffle {
		m.shuffle = shuffle
		m.notifyLocked(func(l ports.EngineListener) { l.OnShuffleChanged(shuffle) })
	}
	if repeatOne != m.repeatOne {
		m.repeatOne = repeatOne
		m.notifyLocked(func(l ports.EngineListener) { l.OnRepeatChanged(repeatOne) })
	}
}

// Sync blocks until all callbacks queued so far were delivered (for testing).
func (m *Engine) Sync() {
	m.dispatch.sync()
}

// Queue returns a copy of the loaded queue and the current index (for testing).
func (m *Engine) Queue() ([]ports.QueueItem, int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ports.QueueItem, len(m.items))
	copy(out, m.items)
	return out, m.index
}

// ShuffleEnabled returns the shuffle flag last set (for testing).
func (m *Engine) ShuffleEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.shuffle
}

// RepeatOneEnabled returns the repeat-one flag last set (for testing).
func (m *Engine) RepeatOneEnabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.repeatOne
}

// LoadCount returns how many queues were loaded (for testing).
func (m *Engine) LoadCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loads
}

// Released reports whether Release was called (for testing).
func (m *Engine) Released() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.released
}

func (m *Engine) durationLocked() time.Duration {
	if m.index < 0 || m.index >= len(m.items) {
		return 0
	}
	if d := m.items[m.index].Duration; d > 0 {
		return d
	}
	return defaultDuration
}

func (m *Engine) setPlayingLocked(playing bool) {
	if m.playing == playing {
		return
	}
	m.playing = playing
	m.notifyLocked(func(l ports.EngineListener) { l.OnPlayingChanged(playing) })
}

func (m *Engine) setPhaseLocked(phase domain.PlaybackPhase) {
	if m.phase == phase {
		return
	}
	m.phase = phase
	m.notifyLocked(func(l ports.EngineListener) { l.OnPhaseChanged(phase) })
}

func (m *Engine) notifyTransitionLocked() {
	mediaID := m.items[m.index].MediaID
	m.notifyLocked(func(l ports.EngineListener) { l.OnTrackTransition(mediaID) })
}

// notifyLocked queues a callback for the listener registered right now.
func (m *Engine) notifyLocked(call func(ports.EngineListener)) {
	listener := m.listener
	if listener == nil || m.released {
		return
	}
	m.dispatch.enqueue(func() { call(listener) })
}

func clampPosition(pos, duration time.Duration) time.Duration {
	if pos < 0 {
		return 0
	}
	if duration > 0 && pos > duration {
		return duration
	}
	return pos
}

// Verify that Engine implements the PlaybackEngine interface
var _ ports.PlaybackEngine = (*Engine)(nil)

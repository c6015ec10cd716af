// Package mpd implements ports.PlaybackEngine on top of a Music Player Daemon
// server. MPD owns the real queue; the engine mirrors it into listener
// callbacks by idling on the player and options subsystems.
package mpd

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/fhs/gompd/v2/mpd"

	"github.com/tejashwikalptaru/tunedeck/internal/domain"
	"github.com/tejashwikalptaru/tunedeck/internal/ports"
)

const engineName = "mpd"

// Config holds the MPD server coordinates.
type Config struct {
	Host     string
	Port     int
	Password string
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Engine drives an MPD server.
//
// Thread-safety: commands are serialized by a mutex. Listener callbacks run on
// the watcher goroutine with no engine lock held.
type Engine struct {
	logger *slog.Logger
	cfg    Config

	mu       sync.Mutex
	client   *mpd.Client
	watcher  *mpd.Watcher
	listener ports.EngineListener
	media    map[string]string // mediaKey(URI) -> media ID
	last     snapshot
	released bool

	done chan struct{}
	wg   sync.WaitGroup
}

// Dial connects to the server and starts watching it.
func Dial(logger *slog.Logger, cfg Config) (*Engine, error) {
	e := &Engine{
		logger: logger.With(slog.String("engine", engineName)),
		cfg:    cfg,
		media:  make(map[string]string),
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	err := e.connectLocked()
	if err == nil {
		e.last, err = e.snapshotLocked()
	}
	e.mu.Unlock()
	if err != nil {
		e.closeClient()
		return nil, err
	}

	watcher, err := mpd.NewWatcher("tcp", cfg.Addr(), cfg.Password, "player", "options", "playlist")
	if err != nil {
		e.closeClient()
		return nil, domain.NewEngineError(engineName, "watch", "failed to create watcher", err)
	}
	e.watcher = watcher

	e.wg.Add(1)
	go e.watch()

	e.logger.Info("connected to mpd", slog.String("addr", cfg.Addr()))
	return e, nil
}

// connectLocked establishes the command connection (must hold lock).
func (e *Engine) connectLocked() error {
	client, err := mpd.DialAuthenticated("tcp", e.cfg.Addr(), e.cfg.Password)
	if err != nil {
		return domain.NewEngineError(engineName, "connect", fmt.Sprintf("failed to connect to %s", e.cfg.Addr()), err)
	}
	e.client = client
	return nil
}

// ensureConnectedLocked pings the server and reconnects if the connection
// dropped (must hold lock).
func (e *Engine) ensureConnectedLocked() error {
	if e.released {
		return domain.ErrEngineReleased
	}
	if e.client == nil {
		return e.connectLocked()
	}
	if err := e.client.Ping(); err != nil {
		e.logger.Warn("mpd connection lost, reconnecting", slog.Any("error", err))
		_ = e.client.Close()
		e.client = nil
		return e.connectLocked()
	}
	return nil
}

// command runs fn against a live connection.
func (e *Engine) command(op string, fn func(*mpd.Client) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureConnectedLocked(); err != nil {
		return err
	}
	if err := fn(e.client); err != nil {
		return domain.NewEngineError(engineName, op, "command failed", err)
	}
	return nil
}

// LoadQueue replaces the MPD queue and selects startIndex at startPosition.
// The current play/pause state carries over to the new entry.
func (e *Engine) LoadQueue(items []ports.QueueItem, startIndex int, startPosition time.Duration) error {
	if len(items) == 0 {
		return domain.ErrQueueEmpty
	}
	if startIndex < 0 || startIndex >= len(items) {
		return domain.ErrInvalidIndex
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureConnectedLocked(); err != nil {
		return err
	}

	status, err := e.client.Status()
	if err != nil {
		return domain.NewEngineError(engineName, "load", "failed to read status", err)
	}
	wasPlaying := status["state"] == "play"

	cmd := e.client.BeginCommandList()
	cmd.Clear()
	for _, item := range items {
		cmd.Add(item.URI)
	}
	if err := cmd.End(); err != nil {
		return domain.NewEngineError(engineName, "load", "failed to replace queue", err)
	}

	media := make(map[string]string, len(items))
	for _, item := range items {
		media[mediaKey(item.URI)] = item.MediaID
	}
	e.media = media

	if startPosition < 0 {
		startPosition = 0
	}
	if err := e.client.SeekPos(startIndex, startPosition); err != nil {
		return domain.NewEngineError(engineName, "load", "failed to select start entry", err)
	}
	if !wasPlaying {
		if err := e.client.Pause(true); err != nil {
			return domain.NewEngineError(engineName, "load", "failed to hold playback", err)
		}
	}

	e.logger.Debug("queue loaded",
		slog.Int("items", len(items)),
		slog.Int("start_index", startIndex),
		slog.Duration("start_position", startPosition))
	return nil
}

// Play starts or resumes playback.
func (e *Engine) Play() error {
	return e.command("play", func(c *mpd.Client) error {
		status, err := c.Status()
		if err != nil {
			return err
		}
		if status["state"] == "pause" {
			return c.Pause(false)
		}
		return c.Play(-1)
	})
}

// Pause pauses playback.
func (e *Engine) Pause() error {
	return e.command("pause", func(c *mpd.Client) error {
		return c.Pause(true)
	})
}

// Stop stops playback.
func (e *Engine) Stop() error {
	return e.command("stop", func(c *mpd.Client) error {
		return c.Stop()
	})
}

// Seek moves within the current entry.
func (e *Engine) Seek(position time.Duration) error {
	if position < 0 {
		return domain.ErrInvalidPosition
	}
	return e.command("seek", func(c *mpd.Client) error {
		return c.SeekCur(position, false)
	})
}

// HasNext reports whether MPD has a next entry queued.
func (e *Engine) HasNext() bool {
	s, ok := e.status()
	return ok && s.hasNext()
}

// HasPrevious reports whether the current entry is not the first.
func (e *Engine) HasPrevious() bool {
	s, ok := e.status()
	return ok && s.songPos > 0
}

// Next skips to the next entry.
func (e *Engine) Next() error {
	return e.command("next", func(c *mpd.Client) error {
		return c.Next()
	})
}

// Previous skips to the previous entry.
func (e *Engine) Previous() error {
	return e.command("previous", func(c *mpd.Client) error {
		return c.Previous()
	})
}

// SetShuffle maps to MPD random mode.
func (e *Engine) SetShuffle(enabled bool) error {
	return e.command("shuffle", func(c *mpd.Client) error {
		return c.Random(enabled)
	})
}

// SetRepeatOne maps to MPD repeat plus single mode.
func (e *Engine) SetRepeatOne(enabled bool) error {
	return e.command("repeat", func(c *mpd.Client) error {
		if err := c.Repeat(enabled); err != nil {
			return err
		}
		return c.Single(enabled)
	})
}

// IsPlaying returns true while MPD is playing.
func (e *Engine) IsPlaying() bool {
	s, ok := e.status()
	return ok && s.phase == domain.PhasePlaying
}

// Position returns the elapsed time of the current entry.
func (e *Engine) Position() time.Duration {
	s, _ := e.status()
	return s.elapsed
}

// Duration returns the length of the current entry.
func (e *Engine) Duration() time.Duration {
	s, _ := e.status()
	return s.duration
}

// SetListener registers the listener.
func (e *Engine) SetListener(listener ports.EngineListener) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.listener = listener
}

// status reads a fresh snapshot without notifying the listener.
func (e *Engine) status() (snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureConnectedLocked(); err != nil {
		return snapshot{}, false
	}
	s, err := e.snapshotLocked()
	if err != nil {
		e.logger.Debug("status query failed", slog.Any("error", err))
		return snapshot{}, false
	}
	return s, true
}

func (e *Engine) snapshotLocked() (snapshot, error) {
	status, err := e.client.Status()
	if err != nil {
		return snapshot{}, domain.NewEngineError(engineName, "status", "failed to read status", err)
	}
	song, err := e.client.CurrentSong()
	if err != nil {
		return snapshot{}, domain.NewEngineError(engineName, "status", "failed to read current song", err)
	}
	return parseSnapshot(status, song, e.media), nil
}

// watch turns idle notifications into listener callbacks.
func (e *Engine) watch() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case subsystem, ok := <-e.watcher.Event:
			if !ok {
				return
			}
			e.logger.Debug("mpd subsystem changed", slog.String("subsystem", subsystem))
			e.refresh()
		case err, ok := <-e.watcher.Error:
			if !ok {
				return
			}
			e.logger.Error("mpd watcher error", slog.Any("error", err))
		}
	}
}

// refresh compares the server state with the last one seen and reports the
// differences. The listener runs without the engine lock.
func (e *Engine) refresh() {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return
	}
	if err := e.ensureConnectedLocked(); err != nil {
		e.mu.Unlock()
		e.logger.Warn("cannot refresh mpd state", slog.Any("error", err))
		return
	}
	next, err := e.snapshotLocked()
	if err != nil {
		e.mu.Unlock()
		e.logger.Warn("cannot refresh mpd state", slog.Any("error", err))
		return
	}
	prev := e.last
	e.last = next
	listener := e.listener
	e.mu.Unlock()

	if listener != nil {
		notify(listener, prev, next)
	}
}

// Release stops watching and closes the connection. Safe to call twice.
func (e *Engine) Release() error {
	e.mu.Lock()
	if e.released {
		e.mu.Unlock()
		return nil
	}
	e.released = true
	e.listener = nil
	e.mu.Unlock()

	close(e.done)
	var watchErr error
	if e.watcher != nil {
		watchErr = e.watcher.Close()
	}
	e.wg.Wait()

	if err := e.closeClient(); err != nil {
		return err
	}
	return watchErr
}

func (e *Engine) closeClient() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

var _ ports.PlaybackEngine = (*Engine)(nil)

package filesystem

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
)

// DefaultDebounce is how long the watcher waits for changes to settle.
const DefaultDebounce = 2 * time.Second

// Watcher reports changes below the music folders. Bursts of events within
// the debounce window collapse into a single onChange call.
type Watcher struct {
	logger   *slog.Logger
	watcher  *fsnotify.Watcher
	clock    clockwork.Clock
	debounce time.Duration
	onChange func()

	mu      sync.Mutex
	pending clockwork.Timer
	gen     uint64
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewWatcher starts watching roots and every folder below them. onChange runs
// on the watcher's timer goroutine.
func NewWatcher(
	logger *slog.Logger,
	roots []string,
	debounce time.Duration,
	clock clockwork.Clock,
	onChange func(),
) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	w := &Watcher{
		logger:   logger.With(slog.String("component", "library_watcher")),
		watcher:  fw,
		clock:    clock,
		debounce: debounce,
		onChange: onChange,
		done:     make(chan struct{}),
	}

	for _, root := range roots {
		if err := w.addTree(root); err != nil {
			_ = fw.Close()
			return nil, err
		}
	}

	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// addTree watches dir and all folders below it. fsnotify watches are not
// recursive, so each folder is added on its own.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return fmt.Errorf("failed to watch %s: %w", dir, err)
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		w.logger.Debug("watching folder", slog.String("path", path))
		return nil
	})
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("file watcher error", slog.Any("error", err))
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logger.Warn("failed to watch new folder", slog.String("path", event.Name), slog.Any("error", err))
			}
			w.schedule()
			return
		}
	}
	if relevant(event) {
		w.schedule()
	}
}

// relevant reports whether event can change the scanned library.
func relevant(event fsnotify.Event) bool {
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Write) {
		return false
	}
	// Removed folders have no extension and cannot be stat'ed any more
	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		return IsSupported(event.Name) || filepath.Ext(event.Name) == ""
	}
	return IsSupported(event.Name)
}

// schedule restarts the debounce timer.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}
	if w.pending != nil {
		w.pending.Stop()
	}
	w.gen++
	gen := w.gen
	w.pending = w.clock.AfterFunc(w.debounce, func() { w.fire(gen) })
}

func (w *Watcher) fire(gen uint64) {
	w.mu.Lock()
	stale := w.closed || gen != w.gen
	if !stale {
		w.pending = nil
	}
	w.mu.Unlock()

	if stale || w.onChange == nil {
		return
	}
	w.logger.Debug("library folders changed")
	w.onChange()
}

// Close stops watching. Pending notifications are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.pending != nil {
		w.pending.Stop()
		w.pending = nil
	}
	w.mu.Unlock()

	close(w.done)
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

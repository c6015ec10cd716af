package filesystem

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tejashwikalptaru/tunedeck/internal/logger"
)

func TestWatcher_NotifiesOnNewAudioFile(t *testing.T) {
	root := t.TempDir()
	var calls atomic.Int32

	w, err := NewWatcher(logger.NewTestLogger(), []string{root}, 20*time.Millisecond, nil, func() {
		calls.Add(1)
	})
	require.NoError(t, err)
	defer func() { assert.NoError(t, w.Close()) }()

	require.NoError(t, os.WriteFile(filepath.Join(root, "song.mp3"), []byte("x"), 0o600))

	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_WatchesNewSubfolders(t *testing.T) {
	root := t.TempDir()
	var calls atomic.Int32

	w, err := NewWatcher(logger.NewTestLogger(), []string{root}, 20*time.Millisecond, nil, func() {
		calls.Add(1)
	})
	require.NoError(t, err)
	defer func() { assert.NoError(t, w.Close()) }()

	sub := filepath.Join(root, "album")
	require.NoError(t, os.Mkdir(sub, 0o750))
	require.Eventually(t, func() bool { return calls.Load() >= 1 }, 2*time.Second, 10*time.Millisecond)

	before := calls.Load()
	require.NoError(t, os.WriteFile(filepath.Join(sub, "track.flac"), []byte("x"), 0o600))
	require.Eventually(t, func() bool { return calls.Load() > before }, 2*time.Second, 10*time.Millisecond)
}

func TestWatcher_MissingRoot(t *testing.T) {
	_, err := NewWatcher(logger.NewTestLogger(), []string{filepath.Join(t.TempDir(), "missing")}, 0, nil, nil)
	assert.Error(t, err)
}

func TestWatcher_DebounceCollapsesBursts(t *testing.T) {
	root := t.TempDir()
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32

	w, err := NewWatcher(logger.NewTestLogger(), []string{root}, time.Second, clock, func() {
		calls.Add(1)
	})
	require.NoError(t, err)
	defer func() { assert.NoError(t, w.Close()) }()

	for range 3 {
		w.handle(fsnotify.Event{Name: filepath.Join(root, "a.mp3"), Op: fsnotify.Write})
		clock.Advance(500 * time.Millisecond)
	}
	assert.Zero(t, calls.Load())

	clock.Advance(time.Second)
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
}

func TestWatcher_CloseDropsPending(t *testing.T) {
	root := t.TempDir()
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32

	w, err := NewWatcher(logger.NewTestLogger(), []string{root}, time.Second, clock, func() {
		calls.Add(1)
	})
	require.NoError(t, err)

	w.handle(fsnotify.Event{Name: filepath.Join(root, "a.mp3"), Op: fsnotify.Create})
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	clock.Advance(2 * time.Second)
	assert.Zero(t, calls.Load())
}

func TestRelevant(t *testing.T) {
	tests := []struct {
		name  string
		event fsnotify.Event
		want  bool
	}{
		{"audio write", fsnotify.Event{Name: "/m/a.mp3", Op: fsnotify.Write}, true},
		{"audio create", fsnotify.Event{Name: "/m/a.flac", Op: fsnotify.Create}, true},
		{"image write", fsnotify.Event{Name: "/m/cover.jpg", Op: fsnotify.Write}, false},
		{"chmod only", fsnotify.Event{Name: "/m/a.mp3", Op: fsnotify.Chmod}, false},
		{"folder removed", fsnotify.Event{Name: "/m/album", Op: fsnotify.Remove}, true},
		{"audio renamed", fsnotify.Event{Name: "/m/a.ogg", Op: fsnotify.Rename}, true},
		{"text removed", fsnotify.Event{Name: "/m/notes.txt", Op: fsnotify.Remove}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, relevant(tt.event))
		})
	}
}

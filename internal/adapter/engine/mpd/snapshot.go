package mpd

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/tejashwikalptaru/tunedeck/internal/domain"
	"github.com/tejashwikalptaru/tunedeck/internal/ports"
)

// snapshot is the part of the MPD status the engine reports on.
type snapshot struct {
	phase       domain.PlaybackPhase
	mediaID     string
	songPos     int
	nextSongPos int
	queueLength int
	elapsed     time.Duration
	duration    time.Duration
	random      bool
	repeatOne   bool
}

func (s snapshot) hasNext() bool {
	if s.nextSongPos >= 0 {
		return true
	}
	return s.songPos >= 0 && s.songPos < s.queueLength-1
}

// parseSnapshot reads the status and currentsong responses. Files not loaded
// through LoadQueue keep an empty media ID.
func parseSnapshot(status, song map[string]string, media map[string]string) snapshot {
	s := snapshot{
		phase:       parsePhase(status["state"]),
		songPos:     parseInt(status["song"], -1),
		nextSongPos: parseInt(status["nextsong"], -1),
		queueLength: parseInt(status["playlistlength"], 0),
		elapsed:     parseSeconds(status["elapsed"]),
		duration:    parseSeconds(status["duration"]),
		random:      status["random"] == "1",
		repeatOne:   status["repeat"] == "1" && status["single"] == "1",
	}

	// Older servers only report "time" as elapsed:total
	if s.duration == 0 {
		if elapsed, total, ok := strings.Cut(status["time"], ":"); ok {
			s.duration = parseSeconds(total)
			if s.elapsed == 0 {
				s.elapsed = parseSeconds(elapsed)
			}
		}
	}

	if file := song["file"]; file != "" {
		s.mediaID = media[mediaKey(file)]
	}
	return s
}

// mediaKey maps a queued URI and the file MPD reports for it to the same key.
// Local files come back as a bare path even when added as file:// URIs.
func mediaKey(uri string) string {
	return strings.TrimPrefix(uri, "file://")
}

func parsePhase(state string) domain.PlaybackPhase {
	switch state {
	case "play":
		return domain.PhasePlaying
	case "pause":
		return domain.PhasePaused
	default:
		return domain.PhaseStopped
	}
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return n
}

func parseSeconds(value string) time.Duration {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f < 0 {
		return 0
	}
	return time.Duration(math.Round(f * float64(time.Second)))
}

// notify reports every difference between prev and next to listener.
// The transition is reported before the phase so the receiver resolves the
// new entry before reacting to playback starting.
func notify(listener ports.EngineListener, prev, next snapshot) {
	if next.mediaID != "" && (next.mediaID != prev.mediaID || next.songPos != prev.songPos) {
		listener.OnTrackTransition(next.mediaID)
	}
	wasPlaying := prev.phase == domain.PhasePlaying
	playing := next.phase == domain.PhasePlaying
	if wasPlaying != playing {
		listener.OnPlayingChanged(playing)
	}
	if next.phase != prev.phase {
		listener.OnPhaseChanged(next.phase)
	}
	if next.random != prev.random {
		listener.OnShuffleChanged(next.random)
	}
	if next.repeatOne != prev.repeatOne {
		listener.OnRepeatChanged(next.repeatOne)
	}
}

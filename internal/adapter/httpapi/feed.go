package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/olahol/melody"

	"github.com/tejashwikalptaru/tunedeck/internal/domain"
)

// feedMessage is one websocket frame.
type feedMessage struct {
	Type  domain.EventType `json:"type"`
	State stateJSON        `json:"state"`
}

// handleFeedConnect sends the current state to a new client so it does not
// wait for the next change.
func (s *Server) handleFeedConnect(session *melody.Session) {
	data, err := json.Marshal(feedMessage{
		Type:  domain.EventPlayerStateChanged,
		State: newStateJSON(s.session.State()),
	})
	if err != nil {
		s.logger.Error("encoding state", slog.Any("error", err))
		return
	}
	if err := session.Write(data); err != nil {
		s.logger.Debug("sending initial state", slog.Any("error", err))
	}
}

func (s *Server) broadcastState(event domain.Event) {
	e, ok := event.(domain.PlayerStateChangedEvent)
	if !ok {
		return
	}
	data, err := json.Marshal(feedMessage{
		Type:  e.Type(),
		State: newStateJSON(e.State),
	})
	if err != nil {
		s.logger.Error("encoding state", slog.Any("error", err))
		return
	}
	if err := s.feed.Broadcast(data); err != nil && !errors.Is(err, melody.ErrClosed) {
		s.logger.Warn("broadcasting state", slog.Any("error", err))
	}
}

package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"

	"github.com/tejashwikalptaru/tunedeck/internal/domain"
)

const maxBodyBytes = 1 << 20

type stateJSON struct {
	Phase        string        `json:"phase"`
	CurrentTrack *domain.Track `json:"currentTrack,omitempty"`
	PositionMs   int64         `json:"positionMs"`
	DurationMs   int64         `json:"durationMs"`
	Shuffle      bool          `json:"shuffle"`
	Repeat       bool          `json:"repeat"`
}

func newStateJSON(state domain.PlayerState) stateJSON {
	return stateJSON{
		Phase:        state.Phase.String(),
		CurrentTrack: state.CurrentTrack,
		PositionMs:   state.Position.Milliseconds(),
		DurationMs:   state.Duration.Milliseconds(),
		Shuffle:      state.ShuffleEnabled,
		Repeat:       state.RepeatEnabled,
	}
}

type queueJSON struct {
	Tracks  []domain.Track          `json:"tracks"`
	Index   int                     `json:"index"`
	Context *domain.PlaylistContext `json:"context,omitempty"`
}

type playlistJSON struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Description  string  `json:"description"`
	SongIDs      []int64 `json:"songIds"`
	DateCreated  int64   `json:"dateCreated"`
	DateModified int64   `json:"dateModified"`
	CoverArtURI  string  `json:"coverArtUri,omitempty"`
}

func newPlaylistJSON(p domain.Playlist) playlistJSON {
	ids := p.SongIDs
	if ids == nil {
		ids = []int64{}
	}
	return playlistJSON{
		ID:           p.ID,
		Name:         p.Name,
		Description:  p.Description,
		SongIDs:      ids,
		DateCreated:  p.DateCreated.UnixMilli(),
		DateModified: p.DateModified.UnixMilli(),
		CoverArtURI:  p.CoverArtURI,
	}
}

type seekRequest struct {
	PositionMs int64 `json:"positionMs" validate:"min=0"`
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

type startRequest struct {
	SongIDs    []int64 `json:"songIds" validate:"required_without=Category,dive,gt=0"`
	StartIndex int     `json:"startIndex" validate:"min=0"`
	Category   string  `json:"category" validate:"omitempty,oneof=all_songs artist album genre genre_year year playlist recently_added recently_played favorites"`
	ItemID     string  `json:"itemId"`
}

type createPlaylistRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=1000"`
}

type errorJSON struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("writing response", slog.Any("error", err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	s.logger.Debug("request failed",
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Any("error", err))
	s.writeJSON(w, status, errorJSON{
		Error:     err.Error(),
		RequestID: middleware.GetReqID(r.Context()),
	})
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, r, http.StatusBadRequest, errors.New("invalid request body"))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			err = domain.NewValidationError(first.Field(), first.Value(), "failed "+first.Tag()+" check")
		}
		s.writeError(w, r, http.StatusBadRequest, err)
		return false
	}
	return true
}

func (s *Server) getState(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, newStateJSON(s.session.State()))
}

func (s *Server) getQueue(w http.ResponseWriter, _ *http.Request) {
	tracks, index := s.session.Queue()
	s.writeJSON(w, http.StatusOK, queueJSON{
		Tracks:  tracks,
		Index:   index,
		Context: s.session.Context(),
	})
}

// command runs a parameterless session operation and replies with the
// resulting state.
func (s *Server) command(op func(Session)) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		op(s.session)
		s.writeJSON(w, http.StatusOK, newStateJSON(s.session.State()))
	}
}

func (s *Server) seek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.session.SeekTo(time.Duration(req.PositionMs) * time.Millisecond)
	s.writeJSON(w, http.StatusOK, newStateJSON(s.session.State()))
}

func (s *Server) setShuffle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.session.SetShuffleEnabled(*req.Enabled)
	s.writeJSON(w, http.StatusOK, newStateJSON(s.session.State()))
}

func (s *Server) setRepeat(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if !s.decode(w, r, &req) {
		return
	}
	s.session.SetRepeatEnabled(*req.Enabled)
	s.writeJSON(w, http.StatusOK, newStateJSON(s.session.State()))
}

// start replaces the queue. With a category the browse context supplies the
// shuffle pool, and the songs default to the context's songs.
func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if !s.decode(w, r, &req) {
		return
	}

	var pctx *domain.PlaylistContext
	if req.Category != "" {
		pctx = s.library.CategoryContext(domain.Category(req.Category), req.ItemID)
	}

	var tracks []domain.Track
	if len(req.SongIDs) > 0 {
		tracks = s.library.SongsByIDs(req.SongIDs)
	} else {
		tracks = pctx.OriginalOrder
	}

	if len(tracks) == 0 {
		s.writeError(w, r, http.StatusNotFound, domain.ErrTrackNotFound)
		return
	}
	if req.StartIndex >= len(tracks) {
		s.writeError(w, r, http.StatusBadRequest, domain.ErrInvalidIndex)
		return
	}

	s.session.StartPlaylist(tracks, req.StartIndex, pctx)
	s.writeJSON(w, http.StatusOK, newStateJSON(s.session.State()))
}

func (s *Server) listSongs(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	var songs []domain.Track
	if query == "" {
		songs = s.library.Songs()
	} else {
		songs = s.library.Search(query)
	}
	if songs == nil {
		songs = []domain.Track{}
	}
	s.writeJSON(w, http.StatusOK, songs)
}

func (s *Server) recentlyPlayed(w http.ResponseWriter, _ *http.Request) {
	songs := s.library.RecentlyPlayed()
	if songs == nil {
		songs = []domain.Track{}
	}
	s.writeJSON(w, http.StatusOK, songs)
}

func (s *Server) listPlaylists(w http.ResponseWriter, _ *http.Request) {
	playlists := s.playlists.AllPlaylists()
	out := make([]playlistJSON, len(playlists))
	for i, p := range playlists {
		out[i] = newPlaylistJSON(p)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) createPlaylist(w http.ResponseWriter, r *http.Request) {
	var req createPlaylistRequest
	if !s.decode(w, r, &req) {
		return
	}
	p := s.playlists.CreatePlaylist(strings.TrimSpace(req.Name), req.Description)
	s.writeJSON(w, http.StatusCreated, newPlaylistJSON(p))
}

func (s *Server) deletePlaylist(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == domain.FavoritesPlaylistID {
		s.writeError(w, r, http.StatusConflict, domain.ErrFavoritesImmutable)
		return
	}
	if !s.playlists.DeletePlaylist(id) {
		s.writeError(w, r, http.StatusInternalServerError, errors.New("failed to delete playlist"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) toggleFavorite(w http.ResponseWriter, r *http.Request) {
	songID, err := strconv.ParseInt(chi.URLParam(r, "songID"), 10, 64)
	if err != nil || songID <= 0 {
		s.writeError(w, r, http.StatusBadRequest, domain.NewValidationError("songID", chi.URLParam(r, "songID"), "must be a positive integer"))
		return
	}
	favorite, ok := s.playlists.ToggleFavorite(songID)
	if !ok {
		s.writeError(w, r, http.StatusInternalServerError, errors.New("failed to update favorites"))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"songId":   songID,
		"favorite": favorite,
	})
}

// Package httpapi exposes the playback session over HTTP: a JSON control
// surface under /api and a websocket state feed at /ws.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/olahol/melody"

	"github.com/tejashwikalptaru/tunedeck/internal/domain"
	"github.com/tejashwikalptaru/tunedeck/internal/ports"
)

const (
	requestTimeout  = 10 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Session is the playback control the API drives.
type Session interface {
	StartPlaylist(tracks []domain.Track, startIndex int, pctx *domain.PlaylistContext)
	SetShuffleEnabled(enabled bool)
	SetRepeatEnabled(enabled bool)
	AdvanceNext()
	AdvancePrevious()
	TogglePlayPause()
	Play()
	Pause()
	Stop()
	SeekTo(position time.Duration)
	State() domain.PlayerState
	Queue() ([]domain.Track, int)
	Context() *domain.PlaylistContext
}

// Library resolves songs and browse contexts.
type Library interface {
	Songs() []domain.Track
	SongsByIDs(ids []int64) []domain.Track
	Search(query string) []domain.Track
	RecentlyPlayed() []domain.Track
	CategoryContext(category domain.Category, itemID string) *domain.PlaylistContext
}

// Playlists manages saved playlists and favorites.
type Playlists interface {
	AllPlaylists() []domain.Playlist
	CreatePlaylist(name, description string) domain.Playlist
	DeletePlaylist(id string) bool
	ToggleFavorite(songID int64) (favorite bool, ok bool)
}

// Config holds the listener settings.
type Config struct {
	Listen         string
	AllowedOrigins []string
}

// Server serves the control API and the state feed.
type Server struct {
	logger    *slog.Logger
	cfg       Config
	bus       ports.EventBus
	session   Session
	library   Library
	playlists Playlists

	validate *validator.Validate
	feed     *melody.Melody
	subID    domain.SubscriptionID
	router   chi.Router
}

// NewServer builds the router and subscribes the websocket feed to player
// state changes. Call Close to unsubscribe.
func NewServer(
	logger *slog.Logger,
	cfg Config,
	bus ports.EventBus,
	session Session,
	library Library,
	playlists Playlists,
) *Server {
	s := &Server{
		logger:    logger.With(slog.String("component", "httpapi")),
		cfg:       cfg,
		bus:       bus,
		session:   session,
		library:   library,
		playlists: playlists,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		feed:      melody.New(),
	}
	s.feed.HandleConnect(s.handleFeedConnect)
	s.subID = bus.Subscribe(domain.EventPlayerStateChanged, s.broadcastState)
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		if err := s.feed.HandleRequest(w, r); err != nil {
			s.logger.Error("handling websocket request", slog.Any("error", err))
		}
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.NoCache)
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/state", s.getState)
		r.Get("/queue", s.getQueue)

		r.Post("/play", s.command(Session.Play))
		r.Post("/pause", s.command(Session.Pause))
		r.Post("/toggle", s.command(Session.TogglePlayPause))
		r.Post("/stop", s.command(Session.Stop))
		r.Post("/next", s.command(Session.AdvanceNext))
		r.Post("/previous", s.command(Session.AdvancePrevious))
		r.Post("/seek", s.seek)
		r.Post("/shuffle", s.setShuffle)
		r.Post("/repeat", s.setRepeat)
		r.Post("/start", s.start)

		r.Get("/songs", s.listSongs)
		r.Get("/recent", s.recentlyPlayed)

		r.Route("/playlists", func(r chi.Router) {
			r.Get("/", s.listPlaylists)
			r.Post("/", s.createPlaylist)
			r.Delete("/{id}", s.deletePlaylist)
		})
		r.Post("/favorites/{songID}/toggle", s.toggleFavorite)
	})

	return r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on the configured address until ctx is canceled, then shuts
// the server down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: requestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.logger.Info("http api listening", slog.String("addr", ln.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	// Websocket sessions are hijacked and not tracked by Shutdown
	if err := s.feed.Close(); err != nil && !errors.Is(err, melody.ErrClosed) {
		s.logger.Warn("closing websocket feed", slog.Any("error", err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	<-errCh
	s.logger.Info("http api stopped")
	return nil
}

// Close unsubscribes from the bus and disconnects websocket clients.
func (s *Server) Close() error {
	s.bus.Unsubscribe(s.subID)
	if err := s.feed.Close(); err != nil && !errors.Is(err, melody.ErrClosed) {
		return err
	}
	return nil
}

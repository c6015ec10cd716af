// Package app provides application-level orchestration and dependency injection.
// This package wires together all components and manages the application lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	fyneapp "fyne.io/fyne/v2/app"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/tejashwikalptaru/tunedeck/internal/adapter/engine/mock"
	"github.com/tejashwikalptaru/tunedeck/internal/adapter/engine/mpd"
	"github.com/tejashwikalptaru/tunedeck/internal/adapter/eventbus"
	"github.com/tejashwikalptaru/tunedeck/internal/adapter/httpapi"
	"github.com/tejashwikalptaru/tunedeck/internal/adapter/library/filesystem"
	"github.com/tejashwikalptaru/tunedeck/internal/adapter/store/bolt"
	"github.com/tejashwikalptaru/tunedeck/internal/adapter/store/file"
	"github.com/tejashwikalptaru/tunedeck/internal/adapter/store/memory"
	"github.com/tejashwikalptaru/tunedeck/internal/adapter/store/preferences"
	"github.com/tejashwikalptaru/tunedeck/internal/config"
	"github.com/tejashwikalptaru/tunedeck/internal/domain"
	"github.com/tejashwikalptaru/tunedeck/internal/logger"
	"github.com/tejashwikalptaru/tunedeck/internal/ports"
	"github.com/tejashwikalptaru/tunedeck/internal/service"
)

// AppID identifies the application to Fyne preferences.
const AppID = "com.tunedeck.app"

// mockStep is how often the mock engine advances playback.
const mockStep = 250 * time.Millisecond

// progressEvery is how many scanned files pass between progress log lines.
const progressEvery = 200

// Options holds everything New needs. Only Config is required.
type Options struct {
	Config config.Config

	// Logger defaults to one built from Config.LogLevel and Config.LogFormat
	Logger *slog.Logger

	// Fs backs the media scanner and the file store; defaults to the OS
	Fs afero.Fs

	// Clock drives the poll loop, timestamps and the mock engine
	Clock clockwork.Clock

	// FyneApp provides preferences for the preferences store; created on
	// demand when nil
	FyneApp fyne.App
}

// Application is the root application structure that holds all dependencies.
//
// The Application struct is responsible for:
// - Creating and wiring all dependencies
// - Running the background work (library scans, HTTP API)
// - Shutting everything down in dependency order
type Application struct {
	// Core dependencies
	logger *slog.Logger
	cfg    config.Config
	clock  clockwork.Clock

	// Infrastructure
	eventBus  *eventbus.SyncEventBus
	store     ports.Store
	engine    ports.PlaybackEngine
	scanner   *filesystem.Scanner
	watcher   *filesystem.Watcher
	persister *service.Persister

	// Services
	playlistService *service.PlaylistService
	libraryService  *service.LibraryService
	coordinator     *service.SessionCoordinator

	api *httpapi.Server

	// rescan is signaled by the library watcher
	rescan chan struct{}

	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates the application with all dependencies wired. Nothing runs in
// the background until Run is called, apart from the engine itself.
func New(opts Options) (*Application, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	a := &Application{
		cfg:    cfg,
		logger: opts.Logger,
		clock:  opts.Clock,
		rescan: make(chan struct{}, 1),
	}
	if a.logger == nil {
		a.logger = logger.NewLogger(logger.FromSettings(cfg.LogLevel, cfg.LogFormat))
	}
	if a.clock == nil {
		a.clock = clockwork.NewRealClock()
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	a.logger.Info("initializing application",
		slog.String("version", GetVersionInfo().FullString()),
		slog.String("store", cfg.Store.Backend),
		slog.String("engine", cfg.Engine.Backend))

	// Step 1: Event bus
	a.eventBus = eventbus.NewSyncEventBus(a.logger)
	a.eventBus.SubscribeAll(func(event domain.Event) {
		a.logger.Debug("event", slog.String("type", string(event.Type())))
	})

	// Step 2: Store
	store, err := openStore(a.logger, cfg.Store, fs, opts.FyneApp)
	if err != nil {
		_ = a.eventBus.Close()
		return nil, err
	}
	a.store = store

	// Step 3: Playback engine
	engine, err := a.openEngine(cfg.Engine)
	if err != nil {
		_ = a.closeStore()
		_ = a.eventBus.Close()
		return nil, err
	}
	a.engine = engine

	// Step 4: Services
	a.persister = service.NewPersister(a.logger, service.DefaultPersistQueueSize)

	a.playlistService = service.NewPlaylistService(a.logger, a.store, a.eventBus, a.persister,
		service.WithPlaylistClock(a.clock),
		service.WithRecentlyPlayedLimit(cfg.Session.RecentlyPlayedLimit))

	scanOpts := []filesystem.Option{
		filesystem.WithProgress(func(p domain.ScanProgress) {
			if p.FilesScanned%progressEvery == 0 {
				a.logger.Debug("scanning library",
					slog.Int("files", p.FilesScanned),
					slog.Int("tracks", p.TracksFound))
			}
		}),
	}
	if cfg.Engine.Backend == config.EngineMPD && cfg.Engine.MusicRoot != "" {
		scanOpts = append(scanOpts, filesystem.WithMusicRoot(cfg.Engine.MusicRoot))
	}
	a.scanner = filesystem.NewScanner(a.logger, fs, cfg.Library.Roots, scanOpts...)

	a.libraryService = service.NewLibraryService(a.logger, a.scanner, a.eventBus, a.playlistService,
		service.WithLibraryClock(a.clock))

	a.coordinator = service.NewSessionCoordinator(a.logger, a.engine, a.eventBus, a.playlistService,
		service.WithClock(a.clock),
		service.WithPollInterval(cfg.Session.PollInterval.Std()))

	// Step 5: Library watcher (optional)
	if cfg.Library.Watch && len(cfg.Library.Roots) > 0 {
		watcher, err := filesystem.NewWatcher(a.logger, cfg.Library.Roots, cfg.Library.Debounce.Std(), a.clock, a.requestRescan)
		if err != nil {
			a.logger.Warn("library watcher disabled", slog.Any("error", err))
		} else {
			a.watcher = watcher
		}
	}

	// Step 6: HTTP API (optional)
	if cfg.API.Enabled {
		a.api = httpapi.NewServer(a.logger,
			httpapi.Config{Listen: cfg.API.Listen, AllowedOrigins: cfg.API.AllowedOrigins},
			a.eventBus, a.coordinator, a.libraryService, a.playlistService)
	}

	return a, nil
}

func openStore(log *slog.Logger, cfg config.Store, fs afero.Fs, fyneApp fyne.App) (ports.Store, error) {
	switch cfg.Backend {
	case config.StoreBolt:
		store, err := bolt.Open(log, cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
		return store, nil
	case config.StoreFile:
		return file.NewStore(log, fs, cfg.Path), nil
	case config.StorePreferences:
		if fyneApp == nil {
			fyneApp = fyneapp.NewWithID(AppID)
		}
		return preferences.NewStore(fyneApp.Preferences()), nil
	case config.StoreMemory:
		return memory.NewStore(), nil
	default:
		return nil, domain.NewValidationError("store.backend", cfg.Backend, "unknown store backend")
	}
}

func (a *Application) openEngine(cfg config.Engine) (ports.PlaybackEngine, error) {
	switch cfg.Backend {
	case config.EngineMock:
		engine := mock.NewEngine(a.logger)
		engine.Simulate(a.clock, mockStep)
		return engine, nil
	case config.EngineMPD:
		engine, err := mpd.Dial(a.logger, mpd.Config{
			Host:     cfg.MPDHost,
			Port:     cfg.MPDPort,
			Password: cfg.MPDPassword,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize playback engine: %w", err)
		}
		return engine, nil
	default:
		return nil, domain.NewValidationError("engine.backend", cfg.Backend, "unknown engine backend")
	}
}

// requestRescan queues a library refresh; bursts collapse into one.
func (a *Application) requestRescan() {
	select {
	case a.rescan <- struct{}{}:
	default:
	}
}

// Run scans the library, serves the HTTP API when enabled and rescans on
// folder changes. It blocks until ctx is canceled or the API fails.
func (a *Application) Run(ctx context.Context) error {
	a.logger.Info("tunedeck started")

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.refreshLibrary(ctx)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-a.rescan:
				a.refreshLibrary(ctx)
			}
		}
	})

	if a.api != nil {
		g.Go(func() error {
			return a.api.Serve(ctx)
		})
	}

	err := g.Wait()
	a.logger.Info("tunedeck stopped")
	return err
}

func (a *Application) refreshLibrary(ctx context.Context) {
	err := a.libraryService.Refresh(ctx)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrScanCancelled), errors.Is(err, domain.ErrScanInProgress):
		a.logger.Debug("library refresh skipped", slog.Any("error", err))
	default:
		a.logger.Warn("library refresh failed", slog.Any("error", err))
	}
}

// Coordinator returns the playback session coordinator.
func (a *Application) Coordinator() *service.SessionCoordinator {
	return a.coordinator
}

// Library returns the library service.
func (a *Application) Library() *service.LibraryService {
	return a.libraryService
}

// Playlists returns the playlist service.
func (a *Application) Playlists() *service.PlaylistService {
	return a.playlistService
}

// EventBus returns the application event bus.
func (a *Application) EventBus() ports.EventBus {
	return a.eventBus
}

// API returns the HTTP API server, or nil when disabled.
func (a *Application) API() *httpapi.Server {
	return a.api
}

// Shutdown stops every component in dependency order: the coordinator's poll
// loop before the engine, queued writes before the store. Safe to call more
// than once.
func (a *Application) Shutdown() error {
	a.shutdownOnce.Do(func() {
		a.logger.Info("shutting down application")
		var errs []error

		if a.api != nil {
			if err := a.api.Close(); err != nil {
				errs = append(errs, fmt.Errorf("http api: %w", err))
			}
		}
		if a.watcher != nil {
			if err := a.watcher.Close(); err != nil {
				errs = append(errs, fmt.Errorf("library watcher: %w", err))
			}
		}
		a.libraryService.Shutdown()
		a.coordinator.Shutdown()

		if err := a.engine.Release(); err != nil {
			errs = append(errs, fmt.Errorf("playback engine: %w", err))
		}

		a.persister.Close()
		if err := a.closeStore(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}

		if err := a.eventBus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("event bus: %w", err))
		}

		a.shutdownErr = errors.Join(errs...)
		a.logger.Info("application shutdown complete")
	})
	return a.shutdownErr
}

func (a *Application) closeStore() error {
	if closer, ok := a.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

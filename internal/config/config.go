// Package config loads and validates the tunedeck configuration file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"

	"github.com/tejashwikalptaru/tunedeck/internal/domain"
)

const (
	// AppName names the config and data folders.
	AppName = "tunedeck"

	// EnvConfig overrides the config file location.
	EnvConfig = "TUNEDECK_CONFIG"

	// FileName is the config file name inside the config folder.
	FileName = "config.toml"
)

// Store backends.
const (
	StoreBolt        = "bolt"
	StoreFile        = "file"
	StorePreferences = "preferences"
	StoreMemory      = "memory"
)

// Engine backends.
const (
	EngineMock = "mock"
	EngineMPD  = "mpd"
)

// Duration is a time.Duration written as text ("1s", "250ms") in TOML.
type Duration time.Duration

// UnmarshalText parses a Go duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText formats the duration as a Go duration string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config is the root of the config file.
type Config struct {
	LogLevel  string  `toml:"log_level" validate:"oneof=debug info warn warning error"`
	LogFormat string  `toml:"log_format" validate:"oneof=text json"`
	Store     Store   `toml:"store"`
	Library   Library `toml:"library"`
	Engine    Engine  `toml:"engine"`
	Session   Session `toml:"session"`
	API       API     `toml:"api"`
}

// Store selects where playlists, favorites and history are kept.
type Store struct {
	Backend string `toml:"backend" validate:"oneof=bolt file preferences memory"`

	// Path is the bolt database file or the folder of the file backend
	Path string `toml:"path"`
}

// Library lists the music folders to index.
type Library struct {
	Roots    []string `toml:"roots" validate:"dive,required"`
	Watch    bool     `toml:"watch"`
	Debounce Duration `toml:"debounce"`
}

// Engine selects the playback engine.
type Engine struct {
	Backend     string `toml:"backend" validate:"oneof=mock mpd"`
	MPDHost     string `toml:"mpd_host" validate:"required_if=Backend mpd"`
	MPDPort     int    `toml:"mpd_port" validate:"min=1,max=65535"`
	MPDPassword string `toml:"mpd_password"`

	// MusicRoot is the MPD music directory; tracks below it are addressed
	// relative to it. MPD refuses file:// URIs from remote clients, so it is
	// required with the mpd backend.
	MusicRoot string `toml:"music_root" validate:"required_if=Backend mpd"`
}

// Session tunes the playback session.
type Session struct {
	PollInterval        Duration `toml:"poll_interval"`
	RecentlyPlayedLimit int      `toml:"recently_played_limit" validate:"min=1,max=10000"`
}

// API configures the HTTP control surface.
type API struct {
	Enabled        bool     `toml:"enabled"`
	Listen         string   `toml:"listen" validate:"hostname_port"`
	AllowedOrigins []string `toml:"allowed_origins" validate:"dive,required"`
}

// Defaults returns the configuration used when no file exists.
func Defaults() Config {
	roots := []string{}
	if xdg.UserDirs.Music != "" {
		roots = append(roots, xdg.UserDirs.Music)
	}
	return Config{
		LogLevel:  "info",
		LogFormat: "text",
		Store: Store{
			Backend: StoreBolt,
			Path:    filepath.Join(xdg.DataHome, AppName, AppName+".db"),
		},
		Library: Library{
			Roots:    roots,
			Watch:    true,
			Debounce: Duration(2 * time.Second),
		},
		Engine: Engine{
			Backend: EngineMock,
			MPDHost: "localhost",
			MPDPort: 6600,
		},
		Session: Session{
			PollInterval:        Duration(time.Second),
			RecentlyPlayedLimit: 100,
		},
		API: API{
			Enabled:        true,
			Listen:         "127.0.0.1:8640",
			AllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		},
	}
}

// Path returns the config file location: $TUNEDECK_CONFIG if set, otherwise
// config.toml under the XDG config home.
func Path() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return filepath.Join(xdg.ConfigHome, AppName, FileName)
}

// Load reads the config file at path. Values missing from the file keep their
// defaults. A missing file is created with the defaults.
func Load(fsys afero.Fs, path string) (Config, error) {
	cfg := Defaults()

	data, err := afero.ReadFile(fsys, path)
	if errors.Is(err, fs.ErrNotExist) {
		if err := Save(fsys, path, cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Save writes cfg to path, creating the folder if needed.
func Save(fsys afero.Fs, path string, cfg Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := fsys.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("failed to create config folder: %w", err)
	}
	if err := afero.WriteFile(fsys, path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and returns a *domain.ValidationError
// for the first violation.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return domain.NewValidationError(first.Namespace(), first.Value(), "failed "+first.Tag()+" check")
		}
		return fmt.Errorf("validation failed: %w", err)
	}
	if c.Session.PollInterval.Std() <= 0 {
		return domain.NewValidationError("Config.Session.PollInterval", c.Session.PollInterval.Std(), "must be positive")
	}
	if c.Library.Debounce.Std() < 0 {
		return domain.NewValidationError("Config.Library.Debounce", c.Library.Debounce.Std(), "must not be negative")
	}
	if c.Store.Backend != StoreMemory && c.Store.Backend != StorePreferences && c.Store.Path == "" {
		return domain.NewValidationError("Config.Store.Path", c.Store.Path, "required for "+c.Store.Backend+" store")
	}
	return nil
}

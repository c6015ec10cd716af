// Package filesystem implements ports.MediaIndex by walking music folders and
// reading embedded tags, and watches those folders for changes.
package filesystem

import (
	"context"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/dhowden/tag"
	"github.com/spf13/afero"

	"github.com/tejashwikalptaru/tunedeck/internal/domain"
	"github.com/tejashwikalptaru/tunedeck/internal/ports"
)

// mimeTypes maps supported extensions to the MIME type reported for them.
var mimeTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".flac": "audio/flac",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/opus",
	".m4a":  "audio/mp4",
	".m4b":  "audio/mp4",
	".mp4":  "audio/mp4",
	".aac":  "audio/aac",
	".wav":  "audio/wav",
	".aif":  "audio/aiff",
	".aiff": "audio/aiff",
	".wma":  "audio/x-ms-wma",
	".dsf":  "audio/dsf",
}

// IsSupported reports whether path has a supported audio extension.
func IsSupported(path string) bool {
	_, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]
	return ok
}

// SupportedExtensions returns the supported extensions, sorted.
func SupportedExtensions() []string {
	exts := make([]string, 0, len(mimeTypes))
	for ext := range mimeTypes {
		exts = append(exts, ext)
	}
	slices.Sort(exts)
	return exts
}

// Option customizes a Scanner.
type Option func(*Scanner)

// WithMusicRoot makes URIs of files under root relative to it, the way an MPD
// server addresses its music directory. Files outside root keep file:// URIs.
func WithMusicRoot(root string) Option {
	return func(s *Scanner) {
		s.musicRoot = filepath.Clean(root)
	}
}

// WithProgress registers a callback invoked after every audio file.
func WithProgress(fn func(domain.ScanProgress)) Option {
	return func(s *Scanner) {
		s.progress = fn
	}
}

// Scanner walks root folders on an afero filesystem and turns every
// supported audio file into a Track.
type Scanner struct {
	logger    *slog.Logger
	fs        afero.Fs
	roots     []string
	musicRoot string
	progress  func(domain.ScanProgress)
}

// NewScanner creates a scanner over roots.
func NewScanner(logger *slog.Logger, fs afero.Fs, roots []string, opts ...Option) *Scanner {
	s := &Scanner{
		logger: logger.With(slog.String("component", "filesystem_scanner")),
		fs:     fs,
		roots:  slices.Clone(roots),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Roots returns the scanned folders.
func (s *Scanner) Roots() []string {
	return slices.Clone(s.roots)
}

// Scan walks every root and returns the tracks found, ordered by path.
// Unreadable folders and files are skipped.
func (s *Scanner) Scan(ctx context.Context) ([]domain.Track, error) {
	tracks := make([]domain.Track, 0)
	seen := make(map[int64]bool)
	scanned := 0

	for _, root := range s.roots {
		err := afero.Walk(s.fs, root, func(path string, info os.FileInfo, err error) error {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if err != nil {
				s.logger.Debug("skipping unreadable path", slog.String("path", path), slog.Any("error", err))
				return nil
			}
			if info.IsDir() || !IsSupported(path) {
				return nil
			}

			track := s.readTrack(path, info)
			scanned++
			if !seen[track.ID] {
				seen[track.ID] = true
				tracks = append(tracks, track)
			}
			if s.progress != nil {
				s.progress(domain.ScanProgress{
					CurrentFile:  path,
					FilesScanned: scanned,
					TracksFound:  len(tracks),
				})
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	slices.SortFunc(tracks, func(a, b domain.Track) int {
		return strings.Compare(a.URI, b.URI)
	})
	s.logger.Debug("scan finished", slog.Int("tracks", len(tracks)), slog.Int("roots", len(s.roots)))
	return tracks, nil
}

// readTrack builds a track from file info and whatever tags can be read.
func (s *Scanner) readTrack(path string, info os.FileInfo) domain.Track {
	ext := strings.ToLower(filepath.Ext(path))
	track := domain.Track{
		ID:        TrackID(path),
		Title:     strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		URI:       s.uri(path),
		DateAdded: info.ModTime(),
		Size:      info.Size(),
		MimeType:  mimeTypes[ext],
	}

	file, err := s.fs.Open(path)
	if err != nil {
		s.logger.Debug("cannot open audio file", slog.String("path", path), slog.Any("error", err))
		return track
	}
	defer file.Close()

	metadata, err := tag.ReadFrom(file)
	if err != nil || metadata == nil {
		return track
	}

	if title := strings.TrimSpace(metadata.Title()); title != "" {
		track.Title = title
	}
	track.Artist = strings.TrimSpace(metadata.Artist())
	if track.Artist == "" {
		track.Artist = strings.TrimSpace(metadata.AlbumArtist())
	}
	track.Album = strings.TrimSpace(metadata.Album())
	track.Genre = strings.TrimSpace(metadata.Genre())
	if year := metadata.Year(); year > 0 {
		track.Year = year
	}
	track.TrackNumber, _ = metadata.Track()

	return track
}

func (s *Scanner) uri(path string) string {
	clean := filepath.Clean(path)
	if s.musicRoot != "" {
		if rel, err := filepath.Rel(s.musicRoot, clean); err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return filepath.ToSlash(rel)
		}
	}
	if abs, err := filepath.Abs(clean); err == nil {
		clean = abs
	}
	return "file://" + filepath.ToSlash(clean)
}

// TrackID derives a stable positive ID from a file path.
func TrackID(path string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(filepath.ToSlash(filepath.Clean(path))))
	id := int64(h.Sum64() & 0x7fffffffffffffff)
	if id == 0 {
		id = 1
	}
	return id
}

var _ ports.MediaIndex = (*Scanner)(nil)

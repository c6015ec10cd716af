package ports

import (
	"context"

	"github.com/tejashwikalptaru/tunedeck/internal/domain"
)

// MediaIndex produces the list of playable tracks.
// Any implementation (filesystem walk + tag parsing, remote catalog) satisfies it.
type MediaIndex interface {
	// Scan returns every track the index knows about.
	// The context cancels long-running scans.
	Scan(ctx context.Context) ([]domain.Track, error)
}

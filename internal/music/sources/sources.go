package sources

import (
	"context"
	"strings"

	"quaver/internal/music/track"
)

const (
	SourceYouTube    = "youtube"
	SourceSoundCloud = "soundcloud"
	SourceStream     = "stream"
)

// Provider turns user input into playable track descriptors for one
// platform. Providers are tried in registration order; the first whose
// Matches accepts a locator owns it.
type Provider interface {
	// Name returns the string identifier ("youtube", "stream", etc.)
	Name() string

	// Matches checks if this provider can handle the given locator.
	Matches(locator string) bool

	// Resolve turns a locator or search query into one or more tracks.
	// Metadata only: no audio is fetched here.
	Resolve(ctx context.Context, query string) ([]*track.Descriptor, error)

	// SupportsSearch reports whether free-text queries can be resolved.
	SupportsSearch() bool
}

func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

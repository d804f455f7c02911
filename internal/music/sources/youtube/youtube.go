package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	yt "github.com/kkdai/youtube/v2"
	"github.com/raitonoberu/ytsearch"

	"quaver/internal/music/sources"
	"quaver/internal/music/track"
)

type YouTubeProvider struct {
	client *yt.Client
}

func New() *YouTubeProvider {
	return &YouTubeProvider{
		client: &yt.Client{
			HTTPClient: &http.Client{Timeout: 15 * time.Second},
		},
	}
}

func (p *YouTubeProvider) Name() string {
	return sources.SourceYouTube
}

func (p *YouTubeProvider) SupportsSearch() bool {
	return true
}

func (p *YouTubeProvider) Matches(locator string) bool {
	return isYouTubeURL(locator)
}

func (p *YouTubeProvider) Resolve(ctx context.Context, query string) ([]*track.Descriptor, error) {
	query = strings.TrimSpace(query)

	if !sources.IsURL(query) {
		return p.resolveSearch(ctx, query)
	}
	if isPlaylistURL(query) {
		return p.resolvePlaylist(ctx, query)
	}
	if !isVideoURL(query) {
		return nil, fmt.Errorf("%w: %s", track.ErrInvalidLocator, query)
	}
	return p.resolveVideo(ctx, cleanVideoURL(query))
}

// resolveVideo fetches lightweight metadata for a single video URL.
func (p *YouTubeProvider) resolveVideo(ctx context.Context, url string) ([]*track.Descriptor, error) {
	video, err := p.client.GetVideoContext(ctx, url)
	if err != nil {
		return nil, classifyResolve(err)
	}
	return []*track.Descriptor{p.describe(video.ID, video.Title, video.Duration, bestThumbnail(video.Thumbnails))}, nil
}

// resolvePlaylist expands a playlist URL into per-entry descriptors in
// playlist order. Entry metadata comes from the playlist page itself, so
// expansion costs one request regardless of size.
func (p *YouTubeProvider) resolvePlaylist(ctx context.Context, url string) ([]*track.Descriptor, error) {
	playlist, err := p.client.GetPlaylistContext(ctx, url)
	if err != nil {
		if transient(err) {
			return nil, fmt.Errorf("%w: playlist fetch: %v", track.ErrTransient, err)
		}
		return nil, fmt.Errorf("%w: %v", track.ErrPlaylistUnavailable, err)
	}
	if len(playlist.Videos) == 0 {
		return nil, fmt.Errorf("%w: playlist is empty", track.ErrPlaylistUnavailable)
	}

	out := make([]*track.Descriptor, 0, len(playlist.Videos))
	for _, entry := range playlist.Videos {
		out = append(out, p.describe(entry.ID, entry.Title, entry.Duration, bestThumbnail(entry.Thumbnails)))
	}
	return out, nil
}

// resolveSearch runs a provider search limited to the single best match.
func (p *YouTubeProvider) resolveSearch(ctx context.Context, query string) ([]*track.Descriptor, error) {
	search := ytsearch.VideoSearch(query)
	result, err := search.Next()
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", track.ErrTransient, err)
	}
	if len(result.Videos) == 0 {
		return nil, fmt.Errorf("%w: %q", track.ErrNoResults, query)
	}

	best := result.Videos[0]
	return p.resolveVideo(ctx, watchURL(best.ID))
}

func (p *YouTubeProvider) describe(id, title string, duration time.Duration, thumbnail string) *track.Descriptor {
	return &track.Descriptor{
		Title:         title,
		DurationLabel: track.FormatDuration(duration),
		ThumbnailURL:  thumbnail,
		SourceURL:     watchURL(id),
		SourceName:    sources.SourceYouTube,
		// YouTube offers no seekable direct stream worth trusting for
		// long playback, so the audio is materialized first.
		Kind:      track.KindDownloadRequired,
		ContentID: id,
	}
}

// classifyResolve maps client failures onto the resolution taxonomy.
func classifyResolve(err error) error {
	var ps yt.ErrPlayabiltyStatus
	if errors.As(err, &ps) {
		reason := strings.ToLower(ps.Reason)
		switch {
		case strings.Contains(reason, "sign in"), strings.Contains(reason, "age"):
			return fmt.Errorf("%w: %s", track.ErrProviderAuth, ps.Reason)
		default:
			return fmt.Errorf("%w: %s", track.ErrInvalidLocator, ps.Reason)
		}
	}
	if transient(err) {
		return fmt.Errorf("%w: %v", track.ErrTransient, err)
	}
	return fmt.Errorf("%w: %v", track.ErrInvalidLocator, err)
}

func transient(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func bestThumbnail(thumbs yt.Thumbnails) string {
	best := ""
	width := uint(0)
	for _, t := range thumbs {
		if t.Width >= width {
			width = t.Width
			best = t.URL
		}
	}
	return best
}

func watchURL(id string) string {
	return "https://www.youtube.com/watch?v=" + id
}

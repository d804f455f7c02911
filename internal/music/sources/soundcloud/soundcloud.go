package soundcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"quaver/internal/music/sources"
	"quaver/internal/music/track"
)

var trackURLRegex = regexp.MustCompile(`^https?://(www\.|m\.)?soundcloud\.com/[\w\-]+/[\w\-]+`)

type SoundCloudProvider struct {
	client *http.Client
	oembed string
}

func New() *SoundCloudProvider {
	return &SoundCloudProvider{
		client: &http.Client{Timeout: 10 * time.Second},
		oembed: "https://soundcloud.com/oembed",
	}
}

func (p *SoundCloudProvider) Name() string {
	return sources.SourceSoundCloud
}

func (p *SoundCloudProvider) SupportsSearch() bool {
	return false
}

func (p *SoundCloudProvider) Matches(locator string) bool {
	return trackURLRegex.MatchString(locator)
}

// Resolve fetches title and thumbnail through the public oEmbed endpoint.
// SoundCloud exposes no track length there; the label stays unknown until
// playback.
func (p *SoundCloudProvider) Resolve(ctx context.Context, query string) ([]*track.Descriptor, error) {
	if !p.Matches(query) {
		return nil, fmt.Errorf("%w: %s", track.ErrInvalidLocator, query)
	}

	endpoint := p.oembed + "?format=json&url=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", track.ErrInvalidLocator, err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: oembed: %v", track.ErrTransient, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: oembed status %d", track.ErrProviderAuth, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", track.ErrNoResults, query)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: oembed status %d", track.ErrTransient, resp.StatusCode)
	}

	var meta struct {
		Title        string `json:"title"`
		ThumbnailURL string `json:"thumbnail_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("%w: oembed decode: %v", track.ErrTransient, err)
	}

	return []*track.Descriptor{{
		Title:         meta.Title,
		DurationLabel: "?",
		ThumbnailURL:  meta.ThumbnailURL,
		SourceURL:     query,
		SourceName:    sources.SourceSoundCloud,
		Kind:          track.KindDownloadRequired,
		ContentID:     track.HashContentID(query),
	}}, nil
}

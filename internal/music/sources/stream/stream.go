// Package stream resolves direct audio locators: internet radio stations
// and plain links to audio files. Validation goes by response headers, not
// by URL shape, so it is the last provider tried.
package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"quaver/internal/music/sources"
	"quaver/internal/music/track"
)

var validContentTypes = []string{
	"audio/",
	"video/",
	"application/vnd.apple.mpegurl",
	"application/x-mpegurl",
	"application/ogg",
	"application/x-scpls",
	"application/octet-stream", // risky but often used for streams
}

type StreamProvider struct {
	client *http.Client
}

func New() *StreamProvider {
	return &StreamProvider{
		client: &http.Client{
			Timeout: 5 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
	}
}

func (p *StreamProvider) Name() string {
	return sources.SourceStream
}

func (p *StreamProvider) SupportsSearch() bool {
	return false
}

func (p *StreamProvider) Matches(locator string) bool {
	if !sources.IsURL(locator) {
		return false
	}
	ok, _, _ := p.probe(context.Background(), locator)
	return ok
}

func (p *StreamProvider) Resolve(ctx context.Context, query string) ([]*track.Descriptor, error) {
	ok, station, err := p.probe(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", track.ErrTransient, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: not an audio stream: %s", track.ErrInvalidLocator, query)
	}

	title := station
	if title == "" {
		title = streamTitle(query)
	}

	return []*track.Descriptor{{
		Title:         title,
		DurationLabel: "live",
		SourceURL:     query,
		SourceName:    sources.SourceStream,
		Kind:          track.KindDirectStream,
		ContentID:     track.HashContentID(query),
	}}, nil
}

// probe checks stream validity via content-type and playlist-extension
// heuristics. It also picks up the icy-name header when the station
// announces one.
func (p *StreamProvider) probe(ctx context.Context, rawURL string) (bool, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false, "", err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := p.client.Do(req)
	if err != nil || resp.StatusCode >= 400 {
		// Some stations refuse HEAD outright; retry with GET.
		req, gerr := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if gerr != nil {
			return false, "", gerr
		}
		req.Header.Set("User-Agent", "Mozilla/5.0")
		resp, err = p.client.Do(req)
		if err != nil {
			return false, "", err
		}
	}
	defer resp.Body.Close()

	contentType := resp.Header.Get("Content-Type")
	station := resp.Header.Get("icy-name")
	finalURL := resp.Request.URL.String()

	if isAllowedType(contentType) || isLikelyPlaylist(finalURL) {
		return true, station, nil
	}
	return false, "", nil
}

func isAllowedType(contentType string) bool {
	if idx := strings.Index(contentType, ";"); idx != -1 {
		contentType = strings.TrimSpace(contentType[:idx])
	}
	for _, allowed := range validContentTypes {
		if strings.HasPrefix(contentType, allowed) {
			return true
		}
	}
	return false
}

func isLikelyPlaylist(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	switch strings.ToLower(path.Ext(u.Path)) {
	case ".m3u", ".m3u8", ".pls", ".xspf", ".asx":
		return true
	}
	return false
}

func streamTitle(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	return u.Host
}

// Package acquire turns resolved descriptors into playable audio. Direct
// streams are opened live; download-required tracks are fully materialized
// into the cache dir before the player sees them.
package acquire

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"quaver/internal/music/janitor"
	"quaver/internal/music/track"
)

// Source is a ready-to-play audio input: either a live byte stream or a
// path to a fully written local file. Exactly one of the two is set.
type Source struct {
	Reader io.ReadCloser
	Path   string
}

func (s *Source) Close() {
	if s != nil && s.Reader != nil {
		s.Reader.Close()
	}
}

type downloadFunc func(ctx context.Context, sourceURL, dest string) error

type Acquirer struct {
	cacheDir string
	client   *http.Client
	download downloadFunc
	log      zerolog.Logger

	mu       sync.Mutex
	inflight map[string]*sync.Mutex
}

func New(cacheDir string, log zerolog.Logger) *Acquirer {
	return &Acquirer{
		cacheDir: cacheDir,
		client:   &http.Client{Timeout: 10 * time.Second},
		download: ytdlpDownload,
		log:      log.With().Str("component", "acquirer").Logger(),
		inflight: make(map[string]*sync.Mutex),
	}
}

// destLock serializes downloads per destination file. Two guilds asking
// for the same content at once must not race yt-dlp against itself; the
// loser of the lock finds the finished file and reuses it.
func (a *Acquirer) destLock(dest string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.inflight[dest]
	if !ok {
		l = &sync.Mutex{}
		a.inflight[dest] = l
	}
	return l
}

// Acquire revalidates the locator, then produces the audio source for the
// descriptor's kind. On a download-required track the artifact handle is
// attached to the descriptor before returning.
func (a *Acquirer) Acquire(ctx context.Context, d *track.Descriptor) (*Source, error) {
	if err := a.revalidate(ctx, d); err != nil {
		return nil, err
	}

	switch d.Kind {
	case track.KindDirectStream:
		return a.openStream(ctx, d)
	case track.KindDownloadRequired:
		return a.downloadTrack(ctx, d)
	default:
		return nil, fmt.Errorf("%w: unknown source kind %d", track.ErrLocatorInvalidated, d.Kind)
	}
}

// revalidate is the cheap staleness check before committing resources.
func (a *Acquirer) revalidate(ctx context.Context, d *track.Descriptor) error {
	u, err := url.Parse(d.SourceURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("%w: %s", track.ErrLocatorInvalidated, d.SourceURL)
	}
	if d.ContentID == "" {
		return fmt.Errorf("%w: descriptor has no content id", track.ErrLocatorInvalidated)
	}

	if d.Kind == track.KindDirectStream {
		req, err := http.NewRequestWithContext(ctx, http.MethodHead, d.SourceURL, nil)
		if err != nil {
			return fmt.Errorf("%w: %v", track.ErrLocatorInvalidated, err)
		}
		req.Header.Set("User-Agent", "Mozilla/5.0")
		resp, err := a.client.Do(req)
		if err != nil {
			// HEAD refusal is common on radio servers; let the GET decide.
			return nil
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("%w: status %d", track.ErrLocatorInvalidated, resp.StatusCode)
		}
	}
	return nil
}

// openStream opens the live byte stream for a direct locator. No temp file
// is created on this path, so there is nothing for the janitor to own.
func (a *Acquirer) openStream(ctx context.Context, d *track.Descriptor) (*Source, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.SourceURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", track.ErrLocatorInvalidated, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	// Streams run far longer than the client timeout; strip it for the GET.
	streamClient := &http.Client{Transport: a.client.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: open stream: %v", track.ErrDownloadFailed, err)
	}
	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", track.ErrLocatorInvalidated, resp.StatusCode)
	}

	a.log.Debug().Str("url", d.SourceURL).Msg("opened direct stream")
	return &Source{Reader: resp.Body}, nil
}

// downloadTrack materializes the audio into the cache dir. The file name
// is derived from the content id, so re-acquiring the same track reuses
// the finished file instead of downloading again.
func (a *Acquirer) downloadTrack(ctx context.Context, d *track.Descriptor) (*Source, error) {
	if err := os.MkdirAll(a.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: cache dir: %v", track.ErrDownloadFailed, err)
	}

	dest := filepath.Join(a.cacheDir, janitor.ArtifactPrefix+d.ContentID+".audio")

	lock := a.destLock(dest)
	lock.Lock()
	defer lock.Unlock()

	if fi, err := os.Stat(dest); err == nil && fi.Size() > 0 {
		a.log.Debug().Str("file", dest).Msg("reusing cached download")
		d.Artifact = janitor.NewArtifact(dest)
		return &Source{Path: dest}, nil
	}

	if err := a.download(ctx, d.SourceURL, dest); err != nil {
		// No orphaned partials: whatever was written goes before the
		// error does.
		os.Remove(dest)
		os.Remove(dest + ".part")
		return nil, err
	}

	fi, err := os.Stat(dest)
	if err != nil || fi.Size() == 0 {
		os.Remove(dest)
		return nil, fmt.Errorf("%w: empty download", track.ErrDownloadFailed)
	}

	a.log.Info().Str("file", dest).Int64("bytes", fi.Size()).Str("title", d.Title).Msg("download complete")
	d.Artifact = janitor.NewArtifact(dest)
	return &Source{Path: dest}, nil
}

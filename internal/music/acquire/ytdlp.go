package acquire

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"quaver/internal/music/track"
)

// ytdlpDownload shells out to yt-dlp for the actual fetch. yt-dlp writes
// through a .part file and renames on completion, which pairs with the
// partial cleanup in downloadTrack.
func ytdlpDownload(ctx context.Context, sourceURL, dest string) error {
	cmd := exec.CommandContext(ctx, "yt-dlp",
		"-f", "bestaudio",
		"-o", dest,
		"--no-playlist",
		"--no-overwrites",
		"--ignore-config",
		"--no-warnings",
		"-4",
		sourceURL,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", track.ErrDownloadFailed, ctx.Err())
		}
		return classifyDownload(err, stderr.String())
	}
	return nil
}

// classifyDownload maps yt-dlp failures onto the closed acquisition
// taxonomy so the user sees the precise reason instead of a generic one.
func classifyDownload(err error, stderr string) error {
	msg := strings.ToLower(stderr)
	switch {
	case strings.Contains(msg, "sign in to confirm your age"),
		strings.Contains(msg, "age-restricted"):
		return fmt.Errorf("%w: %v", track.ErrAgeRestricted, err)
	case strings.Contains(msg, "private video"),
		strings.Contains(msg, "this track is private"):
		return fmt.Errorf("%w: %v", track.ErrTrackPrivate, err)
	case strings.Contains(msg, "not available in your country"),
		strings.Contains(msg, "geo restriction"):
		return fmt.Errorf("%w: %v", track.ErrRegionBlocked, err)
	case strings.Contains(msg, "premieres in"),
		strings.Contains(msg, "premiere will begin"):
		return fmt.Errorf("%w: %v", track.ErrPremiereNotStarted, err)
	case strings.Contains(msg, "video unavailable"),
		strings.Contains(msg, "404"),
		strings.Contains(msg, "403"):
		return fmt.Errorf("%w: %v", track.ErrLocatorInvalidated, err)
	default:
		firstLine := stderr
		if idx := strings.IndexByte(firstLine, '\n'); idx > 0 {
			firstLine = firstLine[:idx]
		}
		return fmt.Errorf("%w: %v: %s", track.ErrDownloadFailed, err, strings.TrimSpace(firstLine))
	}
}

package track

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"quaver/internal/music/janitor"
)

// SourceKind tells the acquisition layer how a track's audio has to be
// obtained before it can be fed to the player.
type SourceKind int

const (
	// KindDirectStream means the locator can be opened and piped as-is.
	KindDirectStream SourceKind = iota
	// KindDownloadRequired means the audio must be fully materialized
	// into a local file before playback.
	KindDownloadRequired
)

func (k SourceKind) String() string {
	switch k {
	case KindDirectStream:
		return "direct-stream"
	case KindDownloadRequired:
		return "download-required"
	default:
		return "unknown"
	}
}

// Descriptor is a resolved, playable item. Everything except Artifact is
// immutable once the resolver returns it; Artifact is attached once by the
// acquirer and released exactly once through the janitor.
type Descriptor struct {
	Title         string
	DurationLabel string
	ThumbnailURL  string
	SourceURL     string
	SourceName    string
	Kind          SourceKind
	ContentID     string
	RequestedBy   string

	Artifact *janitor.Artifact
}

// LoopCopy returns a fresh descriptor for loop-mode re-enqueue. The copy
// never carries the artifact: a download-required track is fetched again
// on its next turn, a direct stream has nothing to carry.
func (d *Descriptor) LoopCopy() *Descriptor {
	c := *d
	c.Artifact = nil
	return &c
}

// FormatDuration renders a track length the way queue embeds show it.
func FormatDuration(d time.Duration) string {
	if d <= 0 {
		return "live"
	}
	d = d.Round(time.Second)
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	s := (d % time.Minute) / time.Second
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}

// HashContentID derives a stable content id for locators that have no
// platform-native id. Temp artifacts are named from it, so a repeated
// acquisition of the same locator lands on the same file.
func HashContentID(locator string) string {
	sum := sha1.Sum([]byte(locator))
	return hex.EncodeToString(sum[:])[:16]
}

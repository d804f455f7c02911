package track

import "errors"

// Resolution errors. These are expected outcomes, not faults: the queue is
// untouched and the caller reports them to the user.
var (
	ErrInvalidLocator      = errors.New("locator is not a supported URL")
	ErrNoResults           = errors.New("no results for query")
	ErrPlaylistUnavailable = errors.New("playlist is unavailable")
	ErrProviderAuth        = errors.New("provider rejected authorization")

	// ErrTransient marks a resolver-internal fault (network timeout and
	// the like). Callers may retry once; everything above is final.
	ErrTransient = errors.New("transient resolver failure")
)

// Acquisition errors. The scheduler skips the track, forces cleanup and
// advances the queue on any of these.
var (
	ErrLocatorInvalidated = errors.New("locator is stale or expired")
	ErrAgeRestricted      = errors.New("track is age-restricted")
	ErrTrackPrivate       = errors.New("track is private")
	ErrRegionBlocked      = errors.New("track is blocked in this region")
	ErrPremiereNotStarted = errors.New("premiere has not started yet")
	ErrDownloadFailed     = errors.New("audio download failed")
)

// IsResolution reports whether err belongs to the closed resolution taxonomy.
func IsResolution(err error) bool {
	return errors.Is(err, ErrInvalidLocator) ||
		errors.Is(err, ErrNoResults) ||
		errors.Is(err, ErrPlaylistUnavailable) ||
		errors.Is(err, ErrProviderAuth)
}

// IsAcquisition reports whether err belongs to the closed acquisition taxonomy.
func IsAcquisition(err error) bool {
	return errors.Is(err, ErrLocatorInvalidated) ||
		errors.Is(err, ErrAgeRestricted) ||
		errors.Is(err, ErrTrackPrivate) ||
		errors.Is(err, ErrRegionBlocked) ||
		errors.Is(err, ErrPremiereNotStarted) ||
		errors.Is(err, ErrDownloadFailed)
}

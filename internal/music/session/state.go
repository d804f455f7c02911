package session

// State is the playback state machine of one guild's session. Transitions
// are applied only by the session's scheduler goroutine, one at a time.
type State int32

const (
	// StateIdle: no current track; the queue may still hold entries.
	StateIdle State = iota
	// StateResolving: fetching the next track's audio.
	StateResolving
	StatePlaying
	StatePaused
	// StateStopping: teardown in progress; the session is on its way out
	// of the registry.
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateResolving:
		return "resolving"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

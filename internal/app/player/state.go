// Package player provides the narration transport state machine: the track
// queue, auto-advance, and the playback-attempt discipline that keeps stale
// asynchronous callbacks from corrupting state.
package player

// State represents the player state.
type State int

const (
	StateIdle      State = iota // Nothing playing; queue may be empty or populated
	StateLoading                // Fetching narration text for the current track
	StateSpeaking               // Narration in progress
	StateAdvancing              // Inter-track pause before the next track
	StateStopped                // Explicit stop; auto-advance suppressed until the next play
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateSpeaking:
		return "speaking"
	case StateAdvancing:
		return "advancing"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsPlaying reports whether the state counts as live playback.
func (s State) IsPlaying() bool {
	return s == StateLoading || s == StateSpeaking || s == StateAdvancing
}

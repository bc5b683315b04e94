// Package player provides the playback coordinator, the single
// authoritative owner of playback state.
package player

// State represents the playback state.
type State int

const (
	StateStopped State = iota // No session loaded
	StateLoading              // Fetching playlist / handing the first file to the backend
	StatePlaying              // Track is playing
	StatePaused               // Track is paused
	StateError                // Backend failure; next intent forces recovery
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

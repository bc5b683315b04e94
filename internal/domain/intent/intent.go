// Package intent provides the ControlIntent domain entity.
//
// A ControlIntent is a normalized playback command. Every trigger surface
// (REST handlers, WebSocket clients, physical buttons, NFC tag scans)
// produces intents of the same shape; the playback coordinator consumes
// each intent exactly once.
package intent

import "time"

// Type represents a normalized playback command type.
type Type int

const (
	TypePlay         Type = iota // Start playback (or resume when paused)
	TypePause                    // Pause playback
	TypeResume                   // Resume paused playback
	TypeStop                     // Stop playback and clear the session
	TypeNext                     // Advance to the next track
	TypePrevious                 // Go back to the previous track
	TypeToggle                   // Pause when playing, resume when paused
	TypeSetVolume                // Set or adjust the output volume
	TypeLoadPlaylist             // Load a playlist and start playing
	TypeSeek                     // Seek within the current track
)

// String returns the string representation of the intent type.
func (t Type) String() string {
	switch t {
	case TypePlay:
		return "play"
	case TypePause:
		return "pause"
	case TypeResume:
		return "resume"
	case TypeStop:
		return "stop"
	case TypeNext:
		return "next"
	case TypePrevious:
		return "previous"
	case TypeToggle:
		return "toggle"
	case TypeSetVolume:
		return "set_volume"
	case TypeLoadPlaylist:
		return "load_playlist"
	case TypeSeek:
		return "seek"
	default:
		return "unknown"
	}
}

// ParseType parses a wire-level intent type string.
func ParseType(s string) (Type, bool) {
	switch s {
	case "play":
		return TypePlay, true
	case "pause":
		return TypePause, true
	case "resume":
		return TypeResume, true
	case "stop":
		return TypeStop, true
	case "next":
		return TypeNext, true
	case "previous":
		return TypePrevious, true
	case "toggle":
		return TypeToggle, true
	case "set_volume":
		return TypeSetVolume, true
	case "load_playlist":
		return TypeLoadPlaylist, true
	case "seek":
		return TypeSeek, true
	default:
		return 0, false
	}
}

// Source identifies which control surface produced an intent.
type Source string

const (
	SourceAPI       Source = "api"
	SourceWebSocket Source = "websocket"
	SourceButton    Source = "physical_button"
	SourceNFC       Source = "nfc_tag"
	SourceInternal  Source = "internal" // monitor-generated (auto-pause, auto-advance)
)

// Intent is a normalized, source-tagged playback command.
type Intent struct {
	Type   Type
	Source Source

	// ClientOpID correlates a client-issued command with its acknowledgment.
	// Empty for physical and internal triggers.
	ClientOpID string

	// ReplyTo is the broadcaster subscription that should receive the
	// acknowledgment. Empty when no ack is wanted.
	ReplyTo string

	// LoadPlaylist parameters.
	PlaylistID int64
	StartTrack int

	// SetVolume parameters. Volume is an absolute 0-100 level, nil when
	// the request carries none; VolumeDelta is a relative step (used by
	// the rotary encoder). Exactly one applies: a non-zero delta takes
	// precedence. Requests carrying neither are rejected.
	Volume      *int
	VolumeDelta int

	// Seek parameter: offset relative to the current position.
	SeekOffset time.Duration
}

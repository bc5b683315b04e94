// Package nfc provides the tag association session state machine.
package nfc

import "time"

// SessionState represents the lifecycle state of an association session.
type SessionState int

const (
	StateListening SessionState = iota // Waiting for a tag scan
	StateSuccess                       // Tag bound to the target playlist
	StateFailure                       // Binding failed (persistence error)
	StateExpired                       // Timed out before a tag was scanned
)

// String returns the string representation of the session state.
func (s SessionState) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state is final.
func (s SessionState) Terminal() bool {
	return s != StateListening
}

// Session is a time-bounded workflow binding a physical NFC tag to a
// playlist. Only sessions in StateListening count as active; terminal
// sessions linger for a grace period so callers can still read their
// outcome, then are swept away.
type Session struct {
	ID         string
	PlaylistID int64
	State      SessionState
	TagID      string // Bound tag UID, set on success
	CreatedAt  time.Time
	CompletedAt time.Time // Zero while listening
}

// DetectionAction describes how a tag detection was consumed.
type DetectionAction struct {
	Action       string       `json:"action"` // "association_success" or "association_failure"
	SessionID    string       `json:"session_id"`
	PlaylistID   int64        `json:"playlist_id"`
	SessionState SessionState `json:"-"`
	StateName    string       `json:"session_state"`
}

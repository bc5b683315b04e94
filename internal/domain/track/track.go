// Package track provides the Track domain entity.
package track

import "time"

// Track represents a single audio file in the local library.
type Track struct {
	Number   int           // Position within its playlist (1-based)
	Filename string        // Absolute path to the audio file
	Duration time.Duration // Decoded duration (zero if unknown)
}

// Title returns a display name for the track.
// Falls back to the filename when no richer metadata exists.
func (t Track) Title() string {
	return t.Filename
}

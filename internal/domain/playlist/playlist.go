// Package playlist provides the Playlist domain entity.
package playlist

import (
	"time"

	"github.com/tagtune/tagtune/internal/domain/track"
)

// Playlist represents an ordered collection of tracks, optionally bound
// to a physical NFC tag.
type Playlist struct {
	ID       int64         // Database ID
	Title    string        // Display title
	Tracks   []track.Track // Tracks ordered by number
	NFCTagID string        // Bound tag UID, empty if unbound
}

// TrackCount returns the number of tracks.
func (p *Playlist) TrackCount() int {
	return len(p.Tracks)
}

// TrackAt returns the track at the given index.
func (p *Playlist) TrackAt(index int) (track.Track, bool) {
	if index < 0 || index >= len(p.Tracks) {
		return track.Track{}, false
	}
	return p.Tracks[index], true
}

// TotalDuration returns the total duration of all tracks.
func (p *Playlist) TotalDuration() time.Duration {
	var total time.Duration
	for _, t := range p.Tracks {
		total += t.Duration
	}
	return total
}

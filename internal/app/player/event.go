package player

// Event type strings carried in the broadcast envelope.
const (
	EventStateChanged   = "state_changed"
	EventTrackChanged   = "track_changed"
	EventPlaylistLoaded = "playlist_loaded"
	EventPlaylistEnded  = "playlist_ended"
	EventPlaybackError  = "playback_error"
	EventVolumeChanged  = "volume_changed"
)

// StatePayload describes a playback state transition.
type StatePayload struct {
	State      string `json:"state"`
	PlaylistID int64  `json:"playlist_id,omitempty"`
	TrackIndex int    `json:"track_index"`
	Auto       bool   `json:"auto,omitempty"` // monitor-driven (tag removal, finish)
}

// TrackPayload describes the track that just became current.
type TrackPayload struct {
	PlaylistID  int64   `json:"playlist_id"`
	TrackIndex  int     `json:"track_index"`
	TrackNumber int     `json:"track_number"`
	Filename    string  `json:"filename"`
	DurationSec float64 `json:"duration_sec"`
	Auto        bool    `json:"auto,omitempty"`
}

// PlaylistLoadedPayload describes a completed playlist load.
type PlaylistLoadedPayload struct {
	PlaylistID int64  `json:"playlist_id"`
	Title      string `json:"title"`
	TrackCount int    `json:"track_count"`
	StartTrack int    `json:"start_track"`
}

// PlaylistEndedPayload marks the natural end of a playlist.
type PlaylistEndedPayload struct {
	PlaylistID int64 `json:"playlist_id"`
}

// ErrorPayload surfaces a backend failure to clients.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// VolumePayload carries the output volume after a change.
type VolumePayload struct {
	Volume int `json:"volume"`
}

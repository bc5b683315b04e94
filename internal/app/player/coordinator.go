package player

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/tagtune/tagtune/internal/domain/intent"
	"github.com/tagtune/tagtune/internal/domain/playlist"
)

// Validation errors: rejected synchronously, no state change.
var (
	ErrNoSession         = errors.New("no active playback session")
	ErrNoTrack           = errors.New("no track playing")
	ErrNotPaused         = errors.New("not paused")
	ErrUnknownPlaylist   = errors.New("unknown playlist")
	ErrEmptyPlaylist     = errors.New("playlist has no tracks")
	ErrInvalidTrackIndex = errors.New("track index out of range")
	ErrInvalidVolume     = errors.New("volume must be between 0 and 100")
	ErrUnknownTag        = errors.New("tag is not associated with a playlist")
	ErrUnknownIntent     = errors.New("unknown intent type")
)

// PlaylistRepository is the persistence collaborator the coordinator
// reads playlists from.
type PlaylistRepository interface {
	GetPlaylist(ctx context.Context, id int64) (*playlist.Playlist, error)
	GetPlaylistByNFC(ctx context.Context, tagID string) (*playlist.Playlist, error)
}

// Events receives sequenced state changes and per-client acks.
// Satisfied by broadcast.Broadcaster.
type Events interface {
	Broadcast(eventType string, data any, playlistID int64) uint64
	Ack(subscriptionID, clientOpID string, success bool, data any, message string)
}

// AssociationGuard lets the tag-presence monitor yield to an in-flight
// NFC association targeting the current playlist.
type AssociationGuard interface {
	HasListeningFor(playlistID int64) bool
}

// Config holds coordinator configuration.
type Config struct {
	FinishPollInterval   time.Duration // Poll cadence for track-finished detection
	PresencePollInterval time.Duration // Poll cadence for the tag-presence monitor
	TagPauseThreshold    time.Duration // Tag silence beyond this auto-pauses playback
	Loop                 bool          // Wrap to track 0 instead of stopping at playlist end
	InitialVolume        int           // Output volume at startup (0-100)
}

func (c *Config) applyDefaults() {
	if c.FinishPollInterval <= 0 {
		c.FinishPollInterval = 200 * time.Millisecond
	}
	if c.PresencePollInterval <= 0 {
		c.PresencePollInterval = 200 * time.Millisecond
	}
	if c.TagPauseThreshold <= 0 {
		c.TagPauseThreshold = 2 * time.Second
	}
	if c.InitialVolume <= 0 {
		c.InitialVolume = 70
	}
}

// Session is the current playback session. Mutated only by the
// coordinator under its serialization lock; everyone else receives
// copies through accessors and events.
type Session struct {
	Playlist       *playlist.Playlist
	Index          int
	StartedAt      time.Time
	LastTransition time.Time
}

// Coordinator owns the playback state machine. Every control operation,
// regardless of source, funnels through one mutex that stays held across
// repository and backend calls: a second concurrent intent queues behind
// the first instead of racing it, so each accepted intent maps to
// exactly one backend call, in arrival order.
type Coordinator struct {
	mu      sync.Mutex
	state   State
	session *Session
	volume  int
	lastErr *ErrorPayload

	// Tag presence tracking for NFC-driven playback.
	currentTag  string
	lastTagSeen time.Time
	tagPaused   bool // paused by the presence monitor, not a human

	backend Backend
	repo    PlaylistRepository
	events  Events
	guard   AssociationGuard
	config  Config
}

// New creates a playback coordinator. guard may be nil when no NFC
// association machinery is wired in.
func New(backend Backend, repo PlaylistRepository, events Events, guard AssociationGuard, cfg Config) *Coordinator {
	cfg.applyDefaults()
	return &Coordinator{
		state:   StateStopped,
		volume:  cfg.InitialVolume,
		backend: backend,
		repo:    repo,
		events:  events,
		guard:   guard,
		config:  cfg,
	}
}

// Submit applies one control intent and emits the acknowledgment for
// client-issued operations. The returned error is the synchronous
// rejection (validation or backend failure) surfaced to the caller.
func (c *Coordinator) Submit(ctx context.Context, in intent.Intent) error {
	err := c.apply(ctx, in)

	if in.ClientOpID != "" && in.ReplyTo != "" {
		if err != nil {
			c.events.Ack(in.ReplyTo, in.ClientOpID, false, nil, err.Error())
		} else {
			c.events.Ack(in.ReplyTo, in.ClientOpID, true, c.Status(), "")
		}
	}

	if err != nil {
		zlog.Warn().Msgf("player: intent rejected: type=%s source=%s: %v", in.Type, in.Source, err)
	}
	return err
}

func (c *Coordinator) apply(ctx context.Context, in intent.Intent) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	zlog.Debug().Msgf("player: intent: type=%s source=%s state=%s", in.Type, in.Source, c.state)

	// Any intent arriving in ERROR first forces a clean STOPPED before
	// being applied, so one backend failure never wedges the box.
	if c.state == StateError {
		c.forceStopLocked()
	}

	switch in.Type {
	case intent.TypeLoadPlaylist:
		return c.loadPlaylistLocked(ctx, in.PlaylistID, in.StartTrack, false)

	case intent.TypePlay:
		switch c.state {
		case StatePlaying:
			return nil
		case StatePaused:
			return c.resumeLocked(false)
		default:
			return ErrNoSession
		}

	case intent.TypePause:
		return c.pauseLocked(false)

	case intent.TypeResume:
		if c.state != StatePaused {
			return ErrNotPaused
		}
		return c.resumeLocked(false)

	case intent.TypeToggle:
		switch c.state {
		case StatePlaying:
			return c.pauseLocked(false)
		case StatePaused:
			return c.resumeLocked(false)
		default:
			return ErrNoTrack
		}

	case intent.TypeStop:
		return c.stopLocked()

	case intent.TypeNext:
		if c.session == nil {
			return ErrNoSession
		}
		return c.advanceLocked(false)

	case intent.TypePrevious:
		if c.session == nil {
			return ErrNoSession
		}
		prev := c.session.Index - 1
		if prev < 0 {
			prev = 0
		}
		return c.playTrackLocked(prev, false)

	case intent.TypeSetVolume:
		return c.setVolumeLocked(in)

	case intent.TypeSeek:
		return c.seekLocked(in.SeekOffset)

	default:
		return ErrUnknownIntent
	}
}

// HandleTag processes an ordinary tag detection (association sessions
// have already had their chance to consume it). A new or changed tag
// loads its playlist; the same tag while a session is live is a
// keep-alive, or a resume if the presence monitor paused us.
func (c *Coordinator) HandleTag(ctx context.Context, tagID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateError {
		c.forceStopLocked()
	}

	if c.session != nil && c.currentTag == tagID {
		c.lastTagSeen = time.Now()
		if c.state == StatePaused && c.tagPaused {
			zlog.Info().Msgf("player: tag reappeared, resuming: tag=%s", tagID)
			return c.resumeLocked(true)
		}
		return nil
	}

	pl, err := c.repo.GetPlaylistByNFC(ctx, tagID)
	if err != nil {
		zlog.Warn().Msgf("player: scanned tag has no playlist: tag=%s: %v", tagID, err)
		return errors.Wrapf(ErrUnknownTag, "tag %s", tagID)
	}

	if err := c.loadLocked(ctx, pl, 0, false); err != nil {
		return err
	}
	c.currentTag = tagID
	c.lastTagSeen = time.Now()
	return nil
}

// Run drives the track-finished poller and the tag-presence monitor
// until ctx is done.
func (c *Coordinator) Run(ctx context.Context) {
	go c.finishLoop(ctx)
	go c.presenceLoop(ctx)
}

// Status returns a snapshot of the current playback state.
func (c *Coordinator) Status() *Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := &Status{
		State:      c.state.String(),
		TrackIndex: -1,
		Volume:     c.volume,
		LastError:  c.lastErr,
	}
	if c.session != nil {
		st.PlaylistID = c.session.Playlist.ID
		st.PlaylistTitle = c.session.Playlist.Title
		st.TrackIndex = c.session.Index
		if t, ok := c.session.Playlist.TrackAt(c.session.Index); ok {
			st.Track = &TrackPayload{
				PlaylistID:  c.session.Playlist.ID,
				TrackIndex:  c.session.Index,
				TrackNumber: t.Number,
				Filename:    t.Filename,
				DurationSec: t.Duration.Seconds(),
			}
		}
		if c.state == StatePlaying || c.state == StatePaused {
			st.ElapsedSec = c.backend.Position().Seconds()
		}
	}
	return st
}

// Status is a read-only snapshot handed to API clients.
type Status struct {
	State         string        `json:"state"`
	PlaylistID    int64         `json:"playlist_id,omitempty"`
	PlaylistTitle string        `json:"playlist_title,omitempty"`
	TrackIndex    int           `json:"track_index"`
	Track         *TrackPayload `json:"track,omitempty"`
	ElapsedSec    float64       `json:"elapsed_sec"`
	Volume        int           `json:"volume"`
	LastError     *ErrorPayload `json:"last_error,omitempty"`
}

// State returns the current playback state. Blocks while a control
// operation is in flight, so there is never a half-applied state to
// observe.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Volume returns the current output volume.
func (c *Coordinator) Volume() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// Close stops playback and releases backend resources.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.forceStopLocked()
	if err := c.backend.Cleanup(); err != nil {
		zlog.Warn().Msgf("player: backend cleanup: %v", err)
	}
}

// --- locked transition helpers ---

func (c *Coordinator) loadPlaylistLocked(ctx context.Context, playlistID int64, startTrack int, auto bool) error {
	pl, err := c.repo.GetPlaylist(ctx, playlistID)
	if err != nil {
		return errors.Wrapf(ErrUnknownPlaylist, "playlist %d", playlistID)
	}
	if err := c.loadLocked(ctx, pl, startTrack, auto); err != nil {
		return err
	}
	// A manual load detaches playback from whatever tag was tracked.
	c.currentTag = ""
	return nil
}

func (c *Coordinator) loadLocked(_ context.Context, pl *playlist.Playlist, startTrack int, auto bool) error {
	if pl.TrackCount() == 0 {
		return errors.Wrapf(ErrEmptyPlaylist, "playlist %d", pl.ID)
	}
	if startTrack < 0 || startTrack >= pl.TrackCount() {
		return errors.Wrapf(ErrInvalidTrackIndex, "start track %d of %d", startTrack, pl.TrackCount())
	}

	// Replace the session wholesale; a load from any state supersedes
	// the previous session.
	if c.state == StatePlaying || c.state == StatePaused {
		if err := c.backend.Stop(); err != nil {
			zlog.Warn().Msgf("player: stopping previous track before load: %v", err)
		}
	}

	now := time.Now()
	c.session = &Session{
		Playlist:       pl,
		Index:          startTrack,
		StartedAt:      now,
		LastTransition: now,
	}
	c.tagPaused = false
	c.setStateLocked(StateLoading, auto)

	if err := c.playTrackLocked(startTrack, auto); err != nil {
		return err
	}

	c.events.Broadcast(EventPlaylistLoaded, &PlaylistLoadedPayload{
		PlaylistID: pl.ID,
		Title:      pl.Title,
		TrackCount: pl.TrackCount(),
		StartTrack: startTrack,
	}, pl.ID)
	zlog.Info().Msgf("player: playlist loaded: playlist_id=%d title=%s tracks=%d start=%d",
		pl.ID, pl.Title, pl.TrackCount(), startTrack)
	return nil
}

// playTrackLocked hands one file to the backend and transitions to
// PLAYING. Backend failures transition to ERROR.
func (c *Coordinator) playTrackLocked(index int, auto bool) error {
	t, ok := c.session.Playlist.TrackAt(index)
	if !ok {
		return errors.Wrapf(ErrInvalidTrackIndex, "track %d of %d", index, c.session.Playlist.TrackCount())
	}

	if err := c.backend.PlayFile(t.Filename); err != nil {
		c.errorLocked(err)
		return err
	}

	c.session.Index = index
	c.tagPaused = false
	c.setStateLocked(StatePlaying, auto)

	c.events.Broadcast(EventTrackChanged, &TrackPayload{
		PlaylistID:  c.session.Playlist.ID,
		TrackIndex:  index,
		TrackNumber: t.Number,
		Filename:    t.Filename,
		DurationSec: t.Duration.Seconds(),
		Auto:        auto,
	}, c.session.Playlist.ID)
	return nil
}

// advanceLocked moves to the next track; past the end it either wraps
// (loop policy) or ends the playlist.
func (c *Coordinator) advanceLocked(auto bool) error {
	next := c.session.Index + 1
	if next >= c.session.Playlist.TrackCount() {
		if c.config.Loop {
			next = 0
		} else {
			playlistID := c.session.Playlist.ID
			if err := c.stopLocked(); err != nil {
				return err
			}
			c.events.Broadcast(EventPlaylistEnded, &PlaylistEndedPayload{PlaylistID: playlistID}, playlistID)
			zlog.Info().Msgf("player: playlist ended: playlist_id=%d", playlistID)
			return nil
		}
	}
	return c.playTrackLocked(next, auto)
}

func (c *Coordinator) pauseLocked(auto bool) error {
	if c.state != StatePlaying {
		// Pausing while already paused (or stopped) is a deliberate
		// no-op: no duplicate backend call, no event.
		if c.state == StatePaused {
			return nil
		}
		return ErrNoTrack
	}
	if err := c.backend.Pause(); err != nil {
		c.errorLocked(err)
		return err
	}
	c.tagPaused = auto
	c.setStateLocked(StatePaused, auto)
	return nil
}

func (c *Coordinator) resumeLocked(auto bool) error {
	if c.state != StatePaused {
		return ErrNotPaused
	}
	if err := c.backend.Resume(); err != nil {
		c.errorLocked(err)
		return err
	}
	c.tagPaused = false
	if !auto {
		// A manual resume overrides the presence monitor until the tag
		// state changes again.
		c.lastTagSeen = time.Now()
	}
	c.setStateLocked(StatePlaying, auto)
	return nil
}

func (c *Coordinator) stopLocked() error {
	if c.state == StateStopped {
		return nil
	}
	if err := c.backend.Stop(); err != nil {
		c.errorLocked(err)
		return err
	}
	c.session = nil
	c.currentTag = ""
	c.tagPaused = false
	c.setStateLocked(StateStopped, false)
	return nil
}

// forceStopLocked is the ERROR recovery path: best-effort backend stop,
// session cleared, no error propagation.
func (c *Coordinator) forceStopLocked() {
	if err := c.backend.Stop(); err != nil {
		zlog.Debug().Msgf("player: force stop: %v", err)
	}
	c.session = nil
	c.currentTag = ""
	c.tagPaused = false
	if c.state != StateStopped {
		c.setStateLocked(StateStopped, false)
	}
}

func (c *Coordinator) setVolumeLocked(in intent.Intent) error {
	var target int
	switch {
	case in.VolumeDelta != 0:
		target = c.volume + in.VolumeDelta
		if target < 0 {
			target = 0
		}
		if target > 100 {
			target = 100
		}
	case in.Volume != nil:
		target = *in.Volume
		if target < 0 || target > 100 {
			return ErrInvalidVolume
		}
	default:
		// Neither an absolute level nor a delta: a malformed request,
		// not a request to mute.
		return ErrInvalidVolume
	}

	if err := c.backend.SetVolume(target); err != nil {
		c.errorLocked(err)
		return err
	}
	if target == c.volume {
		return nil
	}
	c.volume = target
	c.events.Broadcast(EventVolumeChanged, &VolumePayload{Volume: target}, c.playlistIDLocked())
	return nil
}

func (c *Coordinator) seekLocked(offset time.Duration) error {
	if c.state != StatePlaying && c.state != StatePaused {
		return ErrNoTrack
	}
	pos := c.backend.Position() + offset
	if pos < 0 {
		pos = 0
	}
	if d := c.backend.Duration(); d > 0 && pos > d {
		pos = d
	}
	if err := c.backend.Seek(pos); err != nil {
		c.errorLocked(err)
		return err
	}
	return nil
}

// errorLocked records a backend failure: ERROR state, error event with
// taxonomy code. The process keeps running; the next intent recovers.
func (c *Coordinator) errorLocked(err error) {
	code := CodeOf(err)
	c.lastErr = &ErrorPayload{Code: string(code), Message: err.Error()}
	zlog.Error().Msgf("player: backend failure: code=%s: %v", code, err)
	c.setStateLocked(StateError, false)
	c.events.Broadcast(EventPlaybackError, c.lastErr, c.playlistIDLocked())
}

// setStateLocked applies a state transition and broadcasts it.
func (c *Coordinator) setStateLocked(s State, auto bool) {
	if c.state == s {
		return
	}
	c.state = s
	payload := &StatePayload{State: s.String(), TrackIndex: -1, Auto: auto}
	if c.session != nil {
		c.session.LastTransition = time.Now()
		payload.PlaylistID = c.session.Playlist.ID
		payload.TrackIndex = c.session.Index
	}
	c.events.Broadcast(EventStateChanged, payload, payload.PlaylistID)
}

func (c *Coordinator) playlistIDLocked() int64 {
	if c.session == nil {
		return 0
	}
	return c.session.Playlist.ID
}

// --- background monitors ---

// finishLoop polls the backend for track completion. "Finished" is
// inferred when the backend reports not-busy while we believe a track
// is playing, or when the reported position has reached the duration.
func (c *Coordinator) finishLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.FinishPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkFinished()
		}
	}
}

func (c *Coordinator) checkFinished() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePlaying || c.session == nil {
		return
	}

	finished := !c.backend.IsBusy()
	if !finished {
		if d := c.backend.Duration(); d > 0 && c.backend.Position() >= d {
			finished = true
		}
	}
	if !finished {
		return
	}

	zlog.Debug().Msgf("player: track finished: playlist_id=%d index=%d",
		c.session.Playlist.ID, c.session.Index)
	if err := c.advanceLocked(true); err != nil {
		zlog.Error().Msgf("player: auto-advance failed: %v", err)
	}
}

// presenceLoop auto-pauses tag-triggered playback when the tag has not
// been re-detected within the pause threshold. It yields while an
// association session is listening for the current playlist, so manual
// association work always wins over ambient presence.
func (c *Coordinator) presenceLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.PresencePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.checkPresence()
		}
	}
}

func (c *Coordinator) checkPresence() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StatePlaying || c.session == nil || c.currentTag == "" {
		return
	}
	if time.Since(c.lastTagSeen) <= c.config.TagPauseThreshold {
		return
	}
	if c.guard != nil && c.guard.HasListeningFor(c.session.Playlist.ID) {
		return
	}

	zlog.Info().Msgf("player: tag absent beyond threshold, pausing: tag=%s", c.currentTag)
	if err := c.pauseLocked(true); err != nil {
		zlog.Error().Msgf("player: auto-pause failed: %v", err)
	}
}

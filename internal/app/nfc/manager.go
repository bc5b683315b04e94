package nfc

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"
)

var ErrUnknownSession = errors.New("unknown association session")

// Repository persists tag-to-playlist bindings.
type Repository interface {
	UpdateNFCTagAssociation(ctx context.Context, playlistID int64, tagID string) error
}

// Notifier publishes association lifecycle events to observers.
// Satisfied by broadcast.Broadcaster.
type Notifier interface {
	Broadcast(eventType string, data any, playlistID int64) uint64
}

// Config holds association manager configuration.
type Config struct {
	ListenTimeout time.Duration // How long a session listens before expiring
	GracePeriod   time.Duration // How long terminal sessions stay retrievable
	SweepInterval time.Duration // Background sweep cadence
}

// Manager owns the association session map. Session creation and tag
// processing are mutually exclusive; no other component mutates sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	repo     Repository
	notifier Notifier
	config   Config
}

// NewManager creates a new association session manager.
func NewManager(repo Repository, notifier Notifier, cfg Config) *Manager {
	if cfg.ListenTimeout <= 0 {
		cfg.ListenTimeout = 30 * time.Second
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = 2 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 500 * time.Millisecond
	}
	return &Manager{
		sessions: make(map[string]*Session),
		repo:     repo,
		notifier: notifier,
		config:   cfg,
	}
}

// StartAssociation opens a listening session for the given playlist.
// If a listening session already targets that playlist, the existing
// session is returned instead of creating a duplicate.
func (m *Manager) StartAssociation(playlistID int64) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.State == StateListening && s.PlaylistID == playlistID {
			return copySession(s)
		}
	}

	s := &Session{
		ID:         uuid.New().String(),
		PlaylistID: playlistID,
		State:      StateListening,
		CreatedAt:  time.Now(),
	}
	m.sessions[s.ID] = s

	zlog.Info().Msgf("nfc: association session started: session_id=%s playlist_id=%d", s.ID, playlistID)
	m.notifyLocked(s)

	return copySession(s)
}

// ProcessTagDetection offers a scanned tag UID to the association
// machinery. If any listening session exists, the tag is bound to that
// session's target playlist and the detection is consumed (handled is
// true); otherwise handled is false and the caller should forward the
// detection to ordinary playback triggering.
func (m *Manager) ProcessTagDetection(ctx context.Context, tagID string) (*DetectionAction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var target *Session
	for _, s := range m.sessions {
		if s.State == StateListening {
			target = s
			break
		}
	}
	if target == nil {
		return nil, false
	}

	target.CompletedAt = time.Now()
	if err := m.repo.UpdateNFCTagAssociation(ctx, target.PlaylistID, tagID); err != nil {
		target.State = StateFailure
		zlog.Error().Msgf("nfc: failed to persist association: session_id=%s playlist_id=%d tag=%s: %v",
			target.ID, target.PlaylistID, tagID, err)
		m.notifyLocked(target)
		return &DetectionAction{
			Action:       "association_failure",
			SessionID:    target.ID,
			PlaylistID:   target.PlaylistID,
			SessionState: StateFailure,
			StateName:    StateFailure.String(),
		}, true
	}

	target.State = StateSuccess
	target.TagID = tagID
	zlog.Info().Msgf("nfc: tag associated: session_id=%s playlist_id=%d tag=%s",
		target.ID, target.PlaylistID, tagID)
	m.notifyLocked(target)

	return &DetectionAction{
		Action:       "association_success",
		SessionID:    target.ID,
		PlaylistID:   target.PlaylistID,
		SessionState: StateSuccess,
		StateName:    StateSuccess.String(),
	}, true
}

// GetSession returns the session with the given ID, terminal or not,
// as long as it has not been swept.
func (m *Manager) GetSession(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return copySession(s), nil
}

// ActiveSessions returns only listening sessions. Terminal sessions are
// never reported as active, so a completed association can not block
// concurrent operations.
func (m *Manager) ActiveSessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*Session, 0)
	for _, s := range m.sessions {
		if s.State == StateListening {
			out = append(out, copySession(s))
		}
	}
	return out
}

// HasListeningFor reports whether a listening session targets the given
// playlist. The playback coordinator consults this before letting the
// tag-presence monitor override manual association work.
func (m *Manager) HasListeningFor(playlistID int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.State == StateListening && s.PlaylistID == playlistID {
			return true
		}
	}
	return false
}

// Run drives expiry and the terminal-session sweep until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep expires overdue listening sessions and purges terminal sessions
// past the grace period.
func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, s := range m.sessions {
		switch {
		case s.State == StateListening:
			if now.Sub(s.CreatedAt) > m.config.ListenTimeout {
				s.State = StateExpired
				s.CompletedAt = now
				zlog.Info().Msgf("nfc: association session expired: session_id=%s playlist_id=%d", s.ID, s.PlaylistID)
				m.notifyLocked(s)
			}
		case now.Sub(s.CompletedAt) > m.config.GracePeriod:
			delete(m.sessions, id)
		}
	}
}

// notifyLocked publishes a session state change. Must be called with
// m.mu held; the notifier never calls back into the manager.
func (m *Manager) notifyLocked(s *Session) {
	if m.notifier == nil {
		return
	}
	m.notifier.Broadcast("association_update", &DetectionAction{
		Action:       "association_update",
		SessionID:    s.ID,
		PlaylistID:   s.PlaylistID,
		SessionState: s.State,
		StateName:    s.State.String(),
	}, s.PlaylistID)
}

func copySession(s *Session) *Session {
	c := *s
	return &c
}

package nfc

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepo records persisted associations and can be forced to fail.
type fakeRepo struct {
	associations map[int64]string
	fail         bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{associations: make(map[int64]string)}
}

func (r *fakeRepo) UpdateNFCTagAssociation(_ context.Context, playlistID int64, tagID string) error {
	if r.fail {
		return errors.New("persistence unavailable")
	}
	r.associations[playlistID] = tagID
	return nil
}

func testConfig() Config {
	return Config{
		ListenTimeout: 50 * time.Millisecond,
		GracePeriod:   40 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
	}
}

func TestManager_StartAssociationIsIdempotentPerPlaylist(t *testing.T) {
	m := NewManager(newFakeRepo(), nil, testConfig())

	first := m.StartAssociation(1)
	second := m.StartAssociation(1)
	other := m.StartAssociation(2)

	assert.Equal(t, first.ID, second.ID,
		"second start for the same playlist must return the existing session")
	assert.NotEqual(t, first.ID, other.ID)
	assert.Len(t, m.ActiveSessions(), 2)
}

func TestManager_TagDetectionBindsAndCompletesSession(t *testing.T) {
	repo := newFakeRepo()
	m := NewManager(repo, nil, testConfig())

	s := m.StartAssociation(7)
	action, handled := m.ProcessTagDetection(context.Background(), "04:AB:CD:EF")

	require.True(t, handled)
	assert.Equal(t, "association_success", action.Action)
	assert.Equal(t, "success", action.StateName)
	assert.Equal(t, s.ID, action.SessionID)
	assert.Equal(t, "04:AB:CD:EF", repo.associations[7])

	// SUCCESS is not "active", but the session stays retrievable.
	assert.Empty(t, m.ActiveSessions())
	got, err := m.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, got.State)
	assert.Equal(t, "04:AB:CD:EF", got.TagID)
}

func TestManager_TerminalSessionIsSweptAfterGracePeriod(t *testing.T) {
	m := NewManager(newFakeRepo(), nil, testConfig())
	s := m.StartAssociation(1)
	_, handled := m.ProcessTagDetection(context.Background(), "tag-1")
	require.True(t, handled)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	assert.Eventually(t, func() bool {
		_, err := m.GetSession(s.ID)
		return errors.Is(err, ErrUnknownSession)
	}, time.Second, 5*time.Millisecond, "session must become unreachable after the grace period")
}

func TestManager_DetectionWithoutListeningSessionIsNotHandled(t *testing.T) {
	m := NewManager(newFakeRepo(), nil, testConfig())

	action, handled := m.ProcessTagDetection(context.Background(), "tag-1")
	assert.False(t, handled,
		"without a listening session the detection goes to playback triggering")
	assert.Nil(t, action)
}

func TestManager_PersistenceFailureMarksSessionFailed(t *testing.T) {
	repo := newFakeRepo()
	repo.fail = true
	m := NewManager(repo, nil, testConfig())

	s := m.StartAssociation(3)
	action, handled := m.ProcessTagDetection(context.Background(), "tag-1")

	require.True(t, handled, "a failed binding still consumes the detection")
	assert.Equal(t, "association_failure", action.Action)

	got, err := m.GetSession(s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailure, got.State)
	assert.Empty(t, m.ActiveSessions())
}

func TestManager_ListeningSessionExpires(t *testing.T) {
	m := NewManager(newFakeRepo(), nil, testConfig())
	s := m.StartAssociation(1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	assert.Eventually(t, func() bool {
		got, err := m.GetSession(s.ID)
		return err == nil && got.State == StateExpired
	}, time.Second, 5*time.Millisecond)

	assert.Empty(t, m.ActiveSessions())
	assert.False(t, m.HasListeningFor(1))
}

func TestManager_HasListeningFor(t *testing.T) {
	m := NewManager(newFakeRepo(), nil, testConfig())
	m.StartAssociation(5)

	assert.True(t, m.HasListeningFor(5))
	assert.False(t, m.HasListeningFor(6))

	_, handled := m.ProcessTagDetection(context.Background(), "tag-1")
	require.True(t, handled)
	assert.False(t, m.HasListeningFor(5),
		"a completed session no longer inhibits playback")
}

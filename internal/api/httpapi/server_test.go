package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tagtune/tagtune/internal/app/nfc"
	"github.com/tagtune/tagtune/internal/app/player"
	"github.com/tagtune/tagtune/internal/domain/intent"
	"github.com/tagtune/tagtune/internal/domain/track"
	"github.com/tagtune/tagtune/internal/infra/config"
	"github.com/tagtune/tagtune/internal/infra/store"
)

type fakePlayer struct {
	submitted []intent.Intent
	tags      []string
	err       error
}

func (f *fakePlayer) Submit(_ context.Context, in intent.Intent) error {
	f.submitted = append(f.submitted, in)
	return f.err
}

func (f *fakePlayer) HandleTag(_ context.Context, tagID string) error {
	f.tags = append(f.tags, tagID)
	return f.err
}

func (f *fakePlayer) Status() *player.Status {
	return &player.Status{State: "stopped", TrackIndex: -1, Volume: 70}
}

type fakeAssociations struct {
	started   []int64
	listening bool
	sessions  map[string]*nfc.Session
}

func (f *fakeAssociations) ProcessTagDetection(_ context.Context, tagID string) (*nfc.DetectionAction, bool) {
	if !f.listening {
		return nil, false
	}
	return &nfc.DetectionAction{Action: "association_success", SessionID: "sess-1"}, true
}

func (f *fakeAssociations) StartAssociation(playlistID int64) *nfc.Session {
	f.started = append(f.started, playlistID)
	return &nfc.Session{ID: "sess-1", PlaylistID: playlistID, State: nfc.StateListening, CreatedAt: time.Now()}
}

func (f *fakeAssociations) GetSession(id string) (*nfc.Session, error) {
	s, ok := f.sessions[id]
	if !ok {
		return nil, nfc.ErrUnknownSession
	}
	return s, nil
}

func (f *fakeAssociations) ActiveSessions() []*nfc.Session {
	var out []*nfc.Session
	for _, s := range f.sessions {
		out = append(out, s)
	}
	return out
}

func newTestServer(t *testing.T) (*httptest.Server, *fakePlayer, *fakeAssociations, *store.Store) {
	t.Helper()

	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	p := &fakePlayer{}
	a := &fakeAssociations{sessions: map[string]*nfc.Session{}}

	cfg := &config.Config{}
	require.NoError(t, defaults.Set(cfg))

	mux := http.NewServeMux()
	New(p, a, st, cfg).Register(mux)

	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts, p, a, st
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestServer_Status(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/status")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "stopped", body["state"])
}

func TestServer_SubmitIntent(t *testing.T) {
	ts, p, _, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/intents", map[string]any{
		"type":        "play",
		"playlist_id": 3,
		"client_op_id": "op-7",
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	require.Len(t, p.submitted, 1)
	assert.Equal(t, intent.TypePlay, p.submitted[0].Type)
	assert.Equal(t, intent.SourceAPI, p.submitted[0].Source)
	assert.Equal(t, int64(3), p.submitted[0].PlaylistID)
	assert.Equal(t, "op-7", p.submitted[0].ClientOpID)
}

func TestServer_SubmitIntentErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       map[string]any
		playerErr  error
		wantStatus int
	}{
		{
			name:       "unknown type",
			body:       map[string]any{"type": "warp"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown playlist",
			body:       map[string]any{"type": "load_playlist", "playlist_id": 99},
			playerErr:  player.ErrUnknownPlaylist,
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "no session",
			body:       map[string]any{"type": "next"},
			playerErr:  player.ErrNoSession,
			wantStatus: http.StatusConflict,
		},
		{
			name:       "invalid volume",
			body:       map[string]any{"type": "set_volume", "volume": 400},
			playerErr:  player.ErrInvalidVolume,
			wantStatus: http.StatusUnprocessableEntity,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, p, _, _ := newTestServer(t)
			p.err = tt.playerErr

			resp := postJSON(t, ts.URL+"/api/v1/intents", tt.body)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			body := decodeBody(t, resp)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestServer_PlaylistLifecycle(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/playlists", map[string]any{
		"title": "Morning",
		"tracks": []map[string]any{
			{"filename": "a.mp3", "duration_ms": 90000},
			{"filename": "b.mp3", "duration_ms": 120000},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody(t, resp)
	id := int64(created["id"].(float64))
	require.NotZero(t, id)

	resp, err := http.Get(ts.URL + "/api/v1/playlists")
	require.NoError(t, err)
	listed := decodeBody(t, resp)
	assert.Len(t, listed["playlists"], 1)

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/v1/playlists/"+jsonID(id), nil)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(ts.URL + "/api/v1/playlists/" + jsonID(id))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestServer_PlaylistValidation(t *testing.T) {
	ts, _, _, _ := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/v1/playlists", map[string]any{"title": ""})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/v1/playlists", map[string]any{
		"title":  "No name track",
		"tracks": []map[string]any{{"duration_ms": 1000}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestServer_Associate(t *testing.T) {
	ts, _, a, st := newTestServer(t)

	pl, err := st.CreatePlaylist(context.Background(), "Tagged", []track.Track{{Filename: "a.mp3"}})
	require.NoError(t, err)

	resp := postJSON(t, ts.URL+"/api/v1/playlists/"+jsonID(pl.ID)+"/associate", nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "listening", body["state"])
	assert.Equal(t, []int64{pl.ID}, a.started)

	// Unknown playlist never opens a session.
	resp = postJSON(t, ts.URL+"/api/v1/playlists/999/associate", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
	assert.Len(t, a.started, 1)
}

func TestServer_GetAssociation(t *testing.T) {
	ts, _, a, _ := newTestServer(t)
	a.sessions["sess-9"] = &nfc.Session{
		ID: "sess-9", PlaylistID: 4, State: nfc.StateSuccess,
		TagID: "04:a2", CreatedAt: time.Now(), CompletedAt: time.Now(),
	}

	resp, err := http.Get(ts.URL + "/api/v1/associations/sess-9")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, "success", body["state"])
	assert.Equal(t, "04:a2", body["tag_id"])

	resp, err = http.Get(ts.URL + "/api/v1/associations/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestServer_TagScanRouting(t *testing.T) {
	ts, p, a, _ := newTestServer(t)

	// No listening session: the scan drives playback.
	resp := postJSON(t, ts.URL+"/api/v1/tags/scan", map[string]any{"tag_id": "04:a2"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "playback", body["consumed_by"])
	assert.Equal(t, []string{"04:a2"}, p.tags)

	// A listening session swallows the scan before playback sees it.
	a.listening = true
	resp = postJSON(t, ts.URL+"/api/v1/tags/scan", map[string]any{"tag_id": "04:a2"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body = decodeBody(t, resp)
	assert.Equal(t, "association", body["consumed_by"])
	assert.Len(t, p.tags, 1)
}

func TestServer_ErrorResponsesCarryConfiguredMessage(t *testing.T) {
	cfg := &config.Config{}
	require.NoError(t, defaults.Set(cfg))

	tests := []struct {
		name        string
		playerErr   error
		wantMessage string
	}{
		{
			name:        "unknown tag",
			playerErr:   player.ErrUnknownTag,
			wantMessage: cfg.Messages.UnknownTag,
		},
		{
			name:        "empty playlist",
			playerErr:   player.ErrEmptyPlaylist,
			wantMessage: cfg.Messages.PlaylistEmpty,
		},
		{
			name:        "no session",
			playerErr:   player.ErrNoSession,
			wantMessage: cfg.Messages.NothingPlaying,
		},
		{
			name:        "unmapped error",
			playerErr:   errors.New("speaker caught fire"),
			wantMessage: cfg.Messages.DefaultError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts, p, _, _ := newTestServer(t)
			p.err = tt.playerErr

			resp := postJSON(t, ts.URL+"/api/v1/tags/scan", map[string]any{"tag_id": "04:a2"})
			body := decodeBody(t, resp)
			assert.Equal(t, tt.wantMessage, body["message"])
			assert.NotEmpty(t, body["error"])
		})
	}

	// Store rejections get the playlist message too.
	ts, _, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/v1/playlists/424242")
	require.NoError(t, err)
	body := decodeBody(t, resp)
	assert.Equal(t, cfg.Messages.PlaylistMissing, body["message"])
}

func TestServer_TagScanUnknownTag(t *testing.T) {
	ts, p, _, _ := newTestServer(t)
	p.err = player.ErrUnknownTag

	resp := postJSON(t, ts.URL+"/api/v1/tags/scan", map[string]any{"tag_id": "de:ad"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, ts.URL+"/api/v1/tags/scan", map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func jsonID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// Package httpapi exposes the JSON control API.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/tagtune/tagtune/internal/app/nfc"
	"github.com/tagtune/tagtune/internal/app/player"
	"github.com/tagtune/tagtune/internal/domain/intent"
	"github.com/tagtune/tagtune/internal/domain/playlist"
	"github.com/tagtune/tagtune/internal/domain/track"
	"github.com/tagtune/tagtune/internal/infra/config"
	"github.com/tagtune/tagtune/internal/infra/store"
)

// Player is the playback surface the API drives.
type Player interface {
	Submit(ctx context.Context, in intent.Intent) error
	HandleTag(ctx context.Context, tagID string) error
	Status() *player.Status
}

// Associations manages tag association sessions. A scanned tag is
// offered to ProcessTagDetection first; only unconsumed detections
// reach playback.
type Associations interface {
	StartAssociation(playlistID int64) *nfc.Session
	ProcessTagDetection(ctx context.Context, tagID string) (*nfc.DetectionAction, bool)
	GetSession(id string) (*nfc.Session, error)
	ActiveSessions() []*nfc.Session
}

// Playlists is the persistence surface the API exposes.
type Playlists interface {
	CreatePlaylist(ctx context.Context, title string, tracks []track.Track) (*playlist.Playlist, error)
	GetPlaylist(ctx context.Context, id int64) (*playlist.Playlist, error)
	ListPlaylists(ctx context.Context) ([]playlist.Playlist, error)
	DeletePlaylist(ctx context.Context, id int64) error
}

// Server handles the /api/v1 routes.
type Server struct {
	player       Player
	associations Associations
	playlists    Playlists
	config       *config.Config
}

// New creates the API server.
func New(p Player, a Associations, pl Playlists, cfg *config.Config) *Server {
	return &Server{player: p, associations: a, playlists: pl, config: cfg}
}

// Register mounts the API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("POST /api/v1/intents", s.handleIntent)
	mux.HandleFunc("GET /api/v1/playlists", s.handleListPlaylists)
	mux.HandleFunc("POST /api/v1/playlists", s.handleCreatePlaylist)
	mux.HandleFunc("GET /api/v1/playlists/{id}", s.handleGetPlaylist)
	mux.HandleFunc("DELETE /api/v1/playlists/{id}", s.handleDeletePlaylist)
	mux.HandleFunc("POST /api/v1/playlists/{id}/associate", s.handleAssociate)
	mux.HandleFunc("GET /api/v1/associations", s.handleListAssociations)
	mux.HandleFunc("GET /api/v1/associations/{id}", s.handleGetAssociation)
	mux.HandleFunc("POST /api/v1/tags/scan", s.handleTagScan)
}

type tagScanRequest struct {
	TagID string `json:"tag_id"`
}

// handleTagScan feeds one tag detection into the system, standing in
// for a hardware reader. An association session in listening state
// consumes the scan; otherwise it drives playback.
func (s *Server) handleTagScan(w http.ResponseWriter, r *http.Request) {
	var req tagScanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
		return
	}
	if req.TagID == "" {
		s.writeError(w, http.StatusUnprocessableEntity, errors.New("tag_id is required"))
		return
	}

	if action, handled := s.associations.ProcessTagDetection(r.Context(), req.TagID); handled {
		writeJSON(w, http.StatusOK, map[string]any{"consumed_by": "association", "result": action})
		return
	}

	if err := s.player.HandleTag(r.Context(), req.TagID); err != nil {
		s.writeError(w, intentStatusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"consumed_by": "playback", "status": s.player.Status()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.player.Status())
}

type intentRequest struct {
	Type        string `json:"type"`
	ClientOpID  string `json:"client_op_id,omitempty"`
	PlaylistID  int64  `json:"playlist_id,omitempty"`
	StartTrack  int    `json:"start_track,omitempty"`
	Volume      *int   `json:"volume,omitempty"`
	VolumeDelta int    `json:"volume_delta,omitempty"`
	SeekMs      int64  `json:"seek_ms,omitempty"`
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	var req intentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
		return
	}

	typ, ok := intent.ParseType(req.Type)
	if !ok {
		s.writeError(w, http.StatusBadRequest, errors.Newf("unknown intent type %q", req.Type))
		return
	}

	in := intent.Intent{
		Type:        typ,
		Source:      intent.SourceAPI,
		ClientOpID:  req.ClientOpID,
		PlaylistID:  req.PlaylistID,
		StartTrack:  req.StartTrack,
		Volume:      req.Volume,
		VolumeDelta: req.VolumeDelta,
		SeekOffset:  time.Duration(req.SeekMs) * time.Millisecond,
	}

	if err := s.player.Submit(r.Context(), in); err != nil {
		s.writeError(w, intentStatusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.player.Status())
}

// intentStatusCode maps playback rejections onto HTTP status codes.
func intentStatusCode(err error) int {
	switch {
	case errors.Is(err, player.ErrUnknownPlaylist), errors.Is(err, player.ErrUnknownTag):
		return http.StatusNotFound
	case errors.Is(err, player.ErrNoSession),
		errors.Is(err, player.ErrNoTrack),
		errors.Is(err, player.ErrNotPaused):
		return http.StatusConflict
	case errors.Is(err, player.ErrEmptyPlaylist),
		errors.Is(err, player.ErrInvalidTrackIndex),
		errors.Is(err, player.ErrInvalidVolume):
		return http.StatusUnprocessableEntity
	case errors.Is(err, player.ErrUnknownIntent):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type trackRequest struct {
	Filename   string `json:"filename"`
	DurationMs int64  `json:"duration_ms"`
}

type createPlaylistRequest struct {
	Title  string         `json:"title"`
	Tracks []trackRequest `json:"tracks"`
}

func (s *Server) handleCreatePlaylist(w http.ResponseWriter, r *http.Request) {
	var req createPlaylistRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, errors.Wrap(err, "invalid request body"))
		return
	}
	if req.Title == "" {
		s.writeError(w, http.StatusUnprocessableEntity, errors.New("title is required"))
		return
	}

	tracks := make([]track.Track, 0, len(req.Tracks))
	for i, tr := range req.Tracks {
		if tr.Filename == "" {
			s.writeError(w, http.StatusUnprocessableEntity, errors.Newf("track %d: filename is required", i+1))
			return
		}
		tracks = append(tracks, track.Track{
			Filename: tr.Filename,
			Duration: time.Duration(tr.DurationMs) * time.Millisecond,
		})
	}

	pl, err := s.playlists.CreatePlaylist(r.Context(), req.Title, tracks)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, playlistResponse(pl))
}

func (s *Server) handleListPlaylists(w http.ResponseWriter, r *http.Request) {
	all, err := s.playlists.ListPlaylists(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]map[string]any, 0, len(all))
	for i := range all {
		out = append(out, playlistResponse(&all[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{"playlists": out})
}

func (s *Server) handleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	pl, err := s.playlists.GetPlaylist(r.Context(), id)
	if err != nil {
		s.writeError(w, storeStatusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, playlistResponse(pl))
}

func (s *Server) handleDeletePlaylist(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	if err := s.playlists.DeletePlaylist(r.Context(), id); err != nil {
		s.writeError(w, storeStatusCode(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAssociate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	// The playlist must exist before a tag can be pointed at it.
	if _, err := s.playlists.GetPlaylist(r.Context(), id); err != nil {
		s.writeError(w, storeStatusCode(err), err)
		return
	}
	session := s.associations.StartAssociation(id)
	writeJSON(w, http.StatusAccepted, sessionResponse(session))
}

func (s *Server) handleListAssociations(w http.ResponseWriter, r *http.Request) {
	sessions := s.associations.ActiveSessions()
	out := make([]map[string]any, 0, len(sessions))
	for _, session := range sessions {
		out = append(out, sessionResponse(session))
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleGetAssociation(w http.ResponseWriter, r *http.Request) {
	session, err := s.associations.GetSession(r.PathValue("id"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(session))
}

func playlistResponse(pl *playlist.Playlist) map[string]any {
	tracks := make([]map[string]any, 0, len(pl.Tracks))
	for _, tr := range pl.Tracks {
		tracks = append(tracks, map[string]any{
			"number":      tr.Number,
			"filename":    tr.Filename,
			"duration_ms": tr.Duration.Milliseconds(),
		})
	}
	resp := map[string]any{
		"id":     pl.ID,
		"title":  pl.Title,
		"tracks": tracks,
	}
	if pl.NFCTagID != "" {
		resp["nfc_tag_id"] = pl.NFCTagID
	}
	return resp
}

func sessionResponse(s *nfc.Session) map[string]any {
	resp := map[string]any{
		"id":          s.ID,
		"playlist_id": s.PlaylistID,
		"state":       s.State.String(),
		"created_at":  s.CreatedAt.Format(time.RFC3339),
	}
	if s.TagID != "" {
		resp["tag_id"] = s.TagID
	}
	if !s.CompletedAt.IsZero() {
		resp["completed_at"] = s.CompletedAt.Format(time.RFC3339)
	}
	return resp
}

func storeStatusCode(err error) int {
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, errors.New("invalid playlist id"))
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Error().Msgf("api: failed to encode response: %v", err)
	}
}

// writeError emits the machine error plus the configured human-readable
// message for it.
func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{
		"error":   err.Error(),
		"message": s.messageFor(err),
	})
}

// messageFor maps rejection sentinels onto the user-facing messages
// section of the configuration.
func (s *Server) messageFor(err error) string {
	switch {
	case errors.Is(err, player.ErrUnknownTag):
		return s.config.GetMessage("unknown_tag")
	case errors.Is(err, player.ErrUnknownPlaylist), errors.Is(err, store.ErrNotFound):
		return s.config.GetMessage("playlist_missing")
	case errors.Is(err, player.ErrEmptyPlaylist):
		return s.config.GetMessage("playlist_empty")
	case errors.Is(err, player.ErrNoSession),
		errors.Is(err, player.ErrNoTrack),
		errors.Is(err, player.ErrNotPaused):
		return s.config.GetMessage("nothing_playing")
	default:
		return s.config.GetMessage("default_error")
	}
}

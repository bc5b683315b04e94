// Package ws serves the realtime event stream over WebSocket.
//
// On connect a client receives a snapshot frame carrying the current
// playback status and the last allocated sequence number; every later
// event frame carries a higher number, so clients order updates without
// trusting arrival time. Frames sent by the client are control intents
// in the same shape the HTTP API accepts.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/tagtune/tagtune/internal/app/broadcast"
	"github.com/tagtune/tagtune/internal/app/player"
	"github.com/tagtune/tagtune/internal/domain/intent"
)

// Player is the playback surface driven by connected clients.
type Player interface {
	Submit(ctx context.Context, in intent.Intent) error
	Status() *player.Status
}

type snapshot struct {
	ServerSeq uint64         `json:"server_seq"`
	Status    *player.Status `json:"status"`
}

// intentFrame is a control request received from a client.
type intentFrame struct {
	Type        string `json:"type"`
	ClientOpID  string `json:"client_op_id,omitempty"`
	PlaylistID  int64  `json:"playlist_id,omitempty"`
	StartTrack  int    `json:"start_track,omitempty"`
	Volume      *int   `json:"volume,omitempty"`
	VolumeDelta int    `json:"volume_delta,omitempty"`
	SeekMs      int64  `json:"seek_ms,omitempty"`
}

// Handler upgrades HTTP requests and bridges connections to the
// broadcaster.
type Handler struct {
	player      Player
	broadcaster *broadcast.Broadcaster
	upgrader    websocket.Upgrader
}

// NewHandler creates the WebSocket handler.
func NewHandler(p Player, b *broadcast.Broadcaster) *Handler {
	return &Handler{
		player:      p,
		broadcaster: b,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The appliance has no browser origin to protect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zlog.Warn().Msgf("ws: upgrade failed: %v", err)
		return
	}

	c := newClient(conn)
	go c.writePump()

	// Snapshot before subscribing: the sequence number ceiling is read
	// first, so any event broadcast in between is a duplicate the
	// client discards by sequence, never a gap.
	snap := &message{Kind: "snapshot", Snapshot: &snapshot{
		ServerSeq: h.broadcaster.CurrentSeq(),
		Status:    h.player.Status(),
	}}
	if err := c.enqueue(snap); err != nil {
		zlog.Warn().Msgf("ws: snapshot delivery failed: %v", err)
		c.close()
		return
	}

	subID := h.broadcaster.Subscribe(c)
	zlog.Info().Msgf("ws: client connected: sub=%s remote=%s", subID, r.RemoteAddr)

	defer func() {
		h.broadcaster.Unsubscribe(subID)
		c.close()
		zlog.Info().Msgf("ws: client disconnected: sub=%s", subID)
	}()

	h.readLoop(r.Context(), c, subID)
}

func (h *Handler) readLoop(ctx context.Context, c *client, subID string) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				zlog.Debug().Msgf("ws: read failed: sub=%s: %v", subID, err)
			}
			return
		}

		var frame intentFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			zlog.Debug().Msgf("ws: discarding malformed frame: sub=%s: %v", subID, err)
			continue
		}

		typ, ok := intent.ParseType(frame.Type)
		if !ok {
			h.broadcaster.Ack(subID, frame.ClientOpID, false, nil, "unknown intent type "+frame.Type)
			continue
		}

		// Rejections surface as acks routed back to this subscriber.
		_ = h.player.Submit(ctx, intent.Intent{
			Type:        typ,
			Source:      intent.SourceWebSocket,
			ClientOpID:  frame.ClientOpID,
			ReplyTo:     subID,
			PlaylistID:  frame.PlaylistID,
			StartTrack:  frame.StartTrack,
			Volume:      frame.Volume,
			VolumeDelta: frame.VolumeDelta,
			SeekOffset:  time.Duration(frame.SeekMs) * time.Millisecond,
		})
	}
}

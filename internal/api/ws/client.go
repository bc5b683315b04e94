package ws

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	zlog "github.com/rs/zerolog/log"

	"github.com/tagtune/tagtune/internal/app/broadcast"
)

const (
	writeWait      = 5 * time.Second
	sendBufferSize = 32
)

var errSendBufferFull = errors.New("send buffer full")

// message is one outgoing WebSocket frame.
type message struct {
	Kind     string           `json:"kind"` // "snapshot", "event" or "ack"
	Snapshot *snapshot        `json:"snapshot,omitempty"`
	Event    *broadcast.Event `json:"event,omitempty"`
	Ack      *broadcast.Ack   `json:"ack,omitempty"`
}

// client adapts one WebSocket connection to the broadcast stream
// contract. Writes go through a buffered channel so a stalled peer
// never blocks the broadcaster past its delivery timeout.
type client struct {
	conn *websocket.Conn
	send chan *message

	closeOnce sync.Once
	closed    chan struct{}
}

func newClient(conn *websocket.Conn) *client {
	return &client{
		conn:   conn,
		send:   make(chan *message, sendBufferSize),
		closed: make(chan struct{}),
	}
}

// SendEvent implements broadcast.Stream.
func (c *client) SendEvent(ev *broadcast.Event) error {
	return c.enqueue(&message{Kind: "event", Event: ev})
}

// SendAck implements broadcast.Stream.
func (c *client) SendAck(ack *broadcast.Ack) error {
	return c.enqueue(&message{Kind: "ack", Ack: ack})
}

func (c *client) enqueue(msg *message) error {
	select {
	case <-c.closed:
		return errors.New("connection closed")
	case c.send <- msg:
		return nil
	default:
		// At-most-once delivery: the client recovers via a fresh
		// snapshot on reconnect.
		return errSendBufferFull
	}
}

// writePump drains the send channel onto the connection. It exits when
// the client is closed, closing the underlying connection so the read
// loop unblocks.
func (c *client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case <-c.closed:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				zlog.Debug().Msgf("ws: write failed: %v", err)
				c.close()
				return
			}
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

// Package broadcast provides sequenced event fan-out to connected observers.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/tagtune/tagtune/internal/app/sequence"
)

// Stream represents one observer's delivery channel (typically a
// WebSocket connection).
type Stream interface {
	SendEvent(*Event) error
	SendAck(*Ack) error
}

// subscription represents an observer's subscription.
type subscription struct {
	id     string
	stream Stream
}

// Broadcaster attaches sequence numbers to state-change events and fans
// them out to all subscribers. Delivery is best-effort at-most-once: a
// slow or dead subscriber is skipped after a timeout, and reconnecting
// clients are expected to request a fresh snapshot rather than a replay.
type Broadcaster struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
	seq           *sequence.Generator
	sendTimeout   time.Duration
}

// New creates a new broadcaster drawing sequence numbers from seq.
func New(seq *sequence.Generator) *Broadcaster {
	return &Broadcaster{
		subscriptions: make(map[string]*subscription),
		seq:           seq,
		sendTimeout:   500 * time.Millisecond,
	}
}

// Subscribe adds a new subscription and returns the subscription ID.
func (b *Broadcaster) Subscribe(stream Stream) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.New().String()
	b.subscriptions[id] = &subscription{id: id, stream: stream}
	return id
}

// CurrentSeq returns the last allocated global sequence number. New
// subscribers stamp their initial snapshot with it so the first
// broadcast they receive is ordered after the snapshot.
func (b *Broadcaster) CurrentSeq() uint64 {
	return b.seq.CurrentGlobal()
}

// Unsubscribe removes a subscription.
func (b *Broadcaster) Unsubscribe(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscriptions, subscriptionID)
}

// Broadcast sends a sequenced event to all subscribers and returns the
// allocated global sequence number. playlistID 0 means no playlist
// scope; otherwise a per-playlist sequence number is attached as well.
func (b *Broadcaster) Broadcast(eventType string, data any, playlistID int64) uint64 {
	ev := &Event{
		Type:      eventType,
		Data:      data,
		ServerSeq: b.seq.NextGlobal(),
	}
	if playlistID != 0 {
		ev.PlaylistSeq = b.seq.NextForScope(playlistID)
	}

	b.mu.RLock()
	// Copy subscriptions to avoid holding the lock during sends.
	subs := make([]*subscription, 0, len(b.subscriptions))
	for _, sub := range b.subscriptions {
		subs = append(subs, sub)
	}
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscription) {
			defer wg.Done()
			if err := b.sendWithTimeout(func() error { return s.stream.SendEvent(ev) }); err != nil {
				zlog.Debug().Msgf("broadcast: dropping event for subscriber %s: %v", s.id, err)
			}
		}(sub)
	}
	wg.Wait()

	return ev.ServerSeq
}

// Ack sends an acknowledgment to a single subscriber, distinct from the
// broadcast stream. Unknown subscription IDs are ignored: the client is
// already gone and the ack has no other recipient.
func (b *Broadcaster) Ack(subscriptionID, clientOpID string, success bool, data any, message string) {
	b.mu.RLock()
	sub, ok := b.subscriptions[subscriptionID]
	b.mu.RUnlock()
	if !ok {
		return
	}

	ack := &Ack{
		ClientOpID: clientOpID,
		Success:    success,
		ServerSeq:  b.seq.NextGlobal(),
		Data:       data,
		Message:    message,
	}

	if err := b.sendWithTimeout(func() error { return sub.stream.SendAck(ack) }); err != nil {
		zlog.Debug().Msgf("broadcast: dropping ack for subscriber %s: %v", subscriptionID, err)
	}
}

// sendWithTimeout runs send in its own goroutine and abandons it after
// the configured timeout so one stuck subscriber never blocks the rest.
func (b *Broadcaster) sendWithTimeout(send func() error) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- send()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broadcaster) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

// Close removes all subscriptions.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = make(map[string]*subscription)
}

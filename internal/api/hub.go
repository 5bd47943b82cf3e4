package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/RobinCoderZhao/experience-kit/internal/flow"
	"github.com/RobinCoderZhao/experience-kit/pkg/notify"
)

// Event is one frame on a session's event stream.
type Event struct {
	Type     string          `json:"type"` // "notification" or "snapshot"
	Message  *notify.Message `json:"message,omitempty"`
	Snapshot *flow.Snapshot  `json:"snapshot,omitempty"`
}

// subscriber is one connected stream.
type subscriber struct {
	session string
	send    chan []byte
}

// Hub fans session events out to websocket subscribers. It is the stream
// channel of a notify.Dispatcher.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscriber]struct{}
	closed bool
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		subs:   make(map[string]map[*subscriber]struct{}),
		logger: slog.Default(),
	}
}

// Channel implements notify.Notifier.
func (h *Hub) Channel() notify.Channel { return notify.ChannelStream }

// Send implements notify.Notifier. Sessions nobody watches are skipped.
func (h *Hub) Send(_ context.Context, msg notify.Message) error {
	return h.publish(msg.SessionID, Event{Type: "notification", Message: &msg})
}

// PublishSnapshot pushes the current state of a session to its subscribers.
func (h *Hub) PublishSnapshot(snap flow.Snapshot) error {
	return h.publish(snap.SessionID, Event{Type: "snapshot", Snapshot: &snap})
}

func (h *Hub) publish(session string, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[session] {
		select {
		case sub.send <- data:
		default:
			// Slow reader; drop the frame rather than stall the session.
			h.logger.Warn("event stream buffer full", "session", session)
		}
	}
	return nil
}

// deliver queues data for one subscriber if it is still connected.
func (h *Hub) deliver(sub *subscriber, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if _, ok := h.subs[sub.session][sub]; !ok {
		return
	}
	select {
	case sub.send <- data:
	default:
	}
}

func (h *Hub) subscribe(session string) (*subscriber, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	sub := &subscriber{session: session, send: make(chan []byte, 256)}
	if h.subs[session] == nil {
		h.subs[session] = make(map[*subscriber]struct{})
	}
	h.subs[session][sub] = struct{}{}
	return sub, true
}

func (h *Hub) unsubscribe(sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs, ok := h.subs[sub.session]
	if !ok {
		return
	}
	if _, ok := subs[sub]; !ok {
		return
	}
	delete(subs, sub)
	close(sub.send)
	if len(subs) == 0 {
		delete(h.subs, sub.session)
	}
}

// Disconnect closes every stream of one session.
func (h *Hub) Disconnect(session string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[session] {
		close(sub.send)
	}
	delete(h.subs, session)
}

// Subscribers returns the number of streams open for a session.
func (h *Hub) Subscribers(session string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[session])
}

// Close disconnects everyone and refuses new subscribers.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for session, subs := range h.subs {
		for sub := range subs {
			close(sub.send)
		}
		delete(h.subs, session)
	}
}

// Package hub fans messages out to WebSocket subscribers of named
// broadcast groups. Delivery is live-only: no persistence, no replay; a
// subscriber that connects after a publish never sees it.
package hub

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Broadcast groups and message types used by the quake pipeline.
const (
	GroupQuakes = "quakes"

	MessageTypeNewEvent = "new_event"
	MessageTypeStatus   = "status"
)

// Message is the fan-out envelope, serialized as {"type": ..., "data": ...}.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Publisher is the pipeline-facing side of the hub.
type Publisher interface {
	Publish(group string, msg Message)
}

type groupMessage struct {
	group string
	msg   Message
}

// Hub tracks subscribers per group and broadcasts published messages to
// them. Slow subscribers are disconnected rather than allowed to block
// the pipeline.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan groupMessage
	logger     zerolog.Logger

	mu     sync.RWMutex
	groups map[string]map[*Client]struct{}
}

// New creates a Hub.
func New(logger zerolog.Logger) *Hub {
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan groupMessage, 256),
		logger:     logger,
		groups:     make(map[string]map[*Client]struct{}),
	}
}

var _ Publisher = (*Hub)(nil)

// Publish queues a message for every current subscriber of the group. It
// never blocks: when the hub's queue is full the message is dropped, which
// is acceptable for a live dashboard feed.
func (h *Hub) Publish(group string, msg Message) {
	select {
	case h.broadcast <- groupMessage{group: group, msg: msg}:
	default:
		h.logger.Warn().Str("group", group).Str("type", msg.Type).Msg("hub queue full, dropping message")
	}
}

// Serve runs the hub loop until the context is cancelled, then closes all
// subscriber connections. It implements suture.Service.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case gm := <-h.broadcast:
			h.deliver(gm)
		}
	}
}

// SubscriberCount reports the number of subscribers in a group.
func (h *Hub) SubscriberCount(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	clients, ok := h.groups[c.group]
	if !ok {
		clients = make(map[*Client]struct{})
		h.groups[c.group] = clients
	}
	clients[c] = struct{}{}
	total := len(clients)
	h.mu.Unlock()
	h.logger.Info().Str("group", c.group).Int("subscribers", total).Msg("subscriber joined")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	clients, ok := h.groups[c.group]
	if ok {
		if _, member := clients[c]; member {
			delete(clients, c)
			close(c.send)
		}
		if len(clients) == 0 {
			delete(h.groups, c.group)
		}
	}
	total := len(clients)
	h.mu.Unlock()
	h.logger.Info().Str("group", c.group).Int("subscribers", total).Msg("subscriber left")
}

// deliver sends to each subscriber's buffered channel. A subscriber whose
// buffer is full is dropped; its write pump notices the closed channel and
// tears the connection down.
func (h *Hub) deliver(gm groupMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.groups[gm.group]
	for c := range clients {
		select {
		case c.send <- gm.msg:
		default:
			delete(clients, c)
			close(c.send)
			h.logger.Warn().Str("group", gm.group).Msg("dropping slow subscriber")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	total := 0
	for group, clients := range h.groups {
		for c := range clients {
			close(c.send)
			total++
		}
		delete(h.groups, group)
	}
	h.logger.Info().Int("subscribers_closed", total).Msg("hub stopped")
}

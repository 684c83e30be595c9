package realtime

import (
	"sync"

	"github.com/google/uuid"

	"github.com/learningequality/studio-sub002/internal/logger"
)

// Client is one connected sync socket. Outbound is drained by the socket's
// write pump; a client that cannot keep up is dropped rather than blocking
// the hub.
type Client struct {
	ID       uuid.UUID
	UserID   uuid.UUID
	Scopes   map[string]bool
	Outbound chan OutboundMessage
	done     chan struct{}
	closed   bool
}

// Hub fans applied and incoming change notifications out to the sockets
// subscribed to each scope.
type Hub struct {
	log *logger.Logger

	mu      sync.RWMutex
	clients map[uuid.UUID]*Client
	scopes  map[string]map[uuid.UUID]*Client
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		log:     log.With("component", "SyncHub"),
		clients: make(map[uuid.UUID]*Client),
		scopes:  make(map[string]map[uuid.UUID]*Client),
	}
}

func ChannelScope(channelID uuid.UUID) string { return "channel:" + channelID.String() }
func UserScope(userID uuid.UUID) string       { return "user:" + userID.String() }

func (h *Hub) NewClient(userID uuid.UUID) *Client {
	c := &Client{
		ID:       uuid.New(),
		UserID:   userID,
		Scopes:   make(map[string]bool),
		Outbound: make(chan OutboundMessage, 64),
		done:     make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	return c
}

func (h *Hub) Subscribe(c *Client, scope string) {
	if c == nil || scope == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.scopes[scope] == nil {
		h.scopes[scope] = make(map[uuid.UUID]*Client)
	}
	h.scopes[scope][c.ID] = c
	c.Scopes[scope] = true
}

// Broadcast delivers to every live subscriber of the scope, skipping the
// originating client. Full outbound buffers drop the message for that client;
// the client reconciles on its next sync round trip.
func (h *Hub) Broadcast(scope string, from uuid.UUID, msg OutboundMessage) {
	h.mu.RLock()
	subscribers := make([]*Client, 0, len(h.scopes[scope]))
	for _, c := range h.scopes[scope] {
		if c.ID != from {
			subscribers = append(subscribers, c)
		}
	}
	h.mu.RUnlock()
	for _, c := range subscribers {
		select {
		case c.Outbound <- msg:
		case <-c.done:
		default:
			h.log.Warn("Dropping broadcast for slow sync socket", "client_id", c.ID, "scope", scope)
		}
	}
}

func (h *Hub) CloseClient(c *Client) {
	if c == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	delete(h.clients, c.ID)
	for scope := range c.Scopes {
		if subs := h.scopes[scope]; subs != nil {
			delete(subs, c.ID)
			if len(subs) == 0 {
				delete(h.scopes, scope)
			}
		}
	}
	close(c.done)
	close(c.Outbound)
}

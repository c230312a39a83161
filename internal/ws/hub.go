package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/media-booth-system/pkg/events"
)

// Hub tracks every open connection and which user each authenticated one is
// bound to. It implements the engine's Presence contract and fans consumed
// kafka events out to all clients, guests included.
type Hub struct {
	mu    sync.RWMutex
	conns map[*Connection]struct{}
	users map[uuid.UUID]*Connection
	log   *zap.Logger
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{
		conns: make(map[*Connection]struct{}),
		users: make(map[uuid.UUID]*Connection),
		log:   log,
	}
}

// IsConnected reports whether the user has a live authenticated connection.
func (h *Hub) IsConnected(userID uuid.UUID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.users[userID]
	return ok
}

func (h *Hub) add(c *Connection) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()
}

// bind attaches an authenticated identity to a connection. A newer
// connection for the same user supersedes the older binding.
func (h *Hub) bind(userID uuid.UUID, c *Connection) {
	h.mu.Lock()
	h.users[userID] = c
	h.mu.Unlock()
}

func (h *Hub) unbind(userID uuid.UUID, c *Connection) {
	h.mu.Lock()
	if h.users[userID] == c {
		delete(h.users, userID)
	}
	h.mu.Unlock()
}

// remove drops a connection, returning the identity it was bound to.
func (h *Hub) remove(c *Connection) (uuid.UUID, bool) {
	userID, wasAuth := c.UserID()

	h.mu.Lock()
	delete(h.conns, c)
	if wasAuth && h.users[userID] == c {
		delete(h.users, userID)
	} else if wasAuth {
		// A newer connection for this user took over; no leave handling.
		wasAuth = false
	}
	h.mu.Unlock()
	return userID, wasAuth
}

// Broadcast sends raw data to every connection.
func (h *Hub) Broadcast(data []byte) {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if !c.trySend(data) {
			h.log.Warn("dropping broadcast for client")
		}
	}
}

// ConsumeEvents pipes the kafka event stream to every connection until ctx
// is done, retrying on consumer failures.
func (h *Hub) ConsumeEvents(ctx context.Context, client *events.KafkaClient) {
	for {
		err := client.Consume(ctx, func(ev events.Event) error {
			raw, err := json.Marshal(ev)
			if err != nil {
				return err
			}
			h.Broadcast(raw)
			return nil
		})
		if ctx.Err() != nil {
			return
		}
		h.log.Warn("event consumer stopped, retrying", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

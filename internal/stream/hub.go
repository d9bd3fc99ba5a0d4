package stream

import (
	"context"
	"sync"

	"paylink_backend/internal/events"
	"paylink_backend/internal/logger"
)

// Hub fans lifecycle events out to connected dashboard clients. It is an
// events.Publisher; Publish never blocks on a slow client.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan events.StateChanged
	done       chan struct{}
	mu         sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan events.StateChanged, 64),
		done:       make(chan struct{}),
	}
}

// Run serves registrations and broadcasts until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			total := len(h.clients)
			h.mu.Unlock()
			logger.Debug("stream client registered", "user_id", client.userID, "total", total)

		case client := <-h.unregister:
			h.remove(client)

		case event := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- event:
				default:
					// slow consumer
					close(client.send)
					delete(h.clients, client)
					logger.Warn("stream client dropped, send buffer full", "user_id", client.userID)
				}
			}
			h.mu.Unlock()
		}
	}
}

// join registers client; false when the hub is no longer running.
func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		close(client.send)
		delete(h.clients, client)
		logger.Debug("stream client unregistered", "user_id", client.userID, "total", len(h.clients))
	}
}

func (h *Hub) Publish(ctx context.Context, event events.StateChanged) error {
	select {
	case h.broadcast <- event:
	default:
		logger.CtxWarn(ctx, "stream broadcast buffer full, event dropped", "transaction_id", event.TransactionID)
	}
	return nil
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

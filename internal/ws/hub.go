package ws

import (
	"context"
	"log/slog"
)

// Hub tracks the connected clients. It owns their lifecycle: a client
// leaving the hub, or the hub stopping, releases every live subscription
// the client holds.
type Hub struct {
	log        *slog.Logger
	bufferSize int

	// Registered clients.
	clients map[*Client]bool

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	done chan struct{}
}

func NewHub(log *slog.Logger, bufferSize int) *Hub {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &Hub{
		log:        log,
		bufferSize: bufferSize,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run serves register and unregister requests until ctx is cancelled, then
// releases whoever is still connected.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.log.Debug("Client connected", "client", client.ID, "username", client.Username, "clients", len(h.clients))
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				client.release()
				h.log.Debug("Client disconnected", "client", client.ID, "username", client.Username, "clients", len(h.clients))
			}
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				client.release()
			}
			return
		}
	}
}

func (h *Hub) join(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
		c.release()
	}
}

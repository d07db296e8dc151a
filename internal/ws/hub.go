package ws

import (
	"log"
	"sync"

	"chat_room/internal/bus"
)

// Hub tracks the clients connected to this instance and pushes events to
// them. It never talks to other instances: cross-instance delivery arrives
// through the fanout bus and ends here.
type Hub struct {
	clients map[string]*Client // ConnID -> client

	Register   chan *Client
	Unregister chan *Client

	handler *SessionHandler

	mu sync.RWMutex
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// SetHandler wires the session handler used for disconnect cleanup. Must be
// called before Run.
func (h *Hub) SetHandler(handler *SessionHandler) {
	h.handler = handler
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.Register:
			h.mu.Lock()
			h.clients[client.ConnID] = client
			total := len(h.clients)
			h.mu.Unlock()
			log.Printf("Client connected: conn=%s addr=%s (local total: %d)", client.ConnID, client.RemoteAddr, total)

		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.ConnID]; !ok {
				h.mu.Unlock()
				continue
			}
			delete(h.clients, client.ConnID)
			total := len(h.clients)
			h.mu.Unlock()
			close(client.Send)
			log.Printf("Client disconnected: conn=%s (local total: %d)", client.ConnID, total)

			// Presence cleanup hits the shared store; keep it off the
			// hub loop.
			go h.handler.Disconnected(client)
		}
	}
}

// BroadcastAll delivers an envelope to every client on this instance. This
// is the landing point for events received from the fanout bus.
func (h *Hub) BroadcastAll(envelope bus.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		client.Deliver(envelope)
	}
}

// BroadcastOthers delivers an envelope to every client on this instance
// except the sender. Used for typing status, which never crosses instances.
func (h *Hub) BroadcastOthers(senderConnID string, envelope bus.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for connID, client := range h.clients {
		if connID == senderConnID {
			continue
		}
		client.Deliver(envelope)
	}
}

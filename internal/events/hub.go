package events

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub broadcasts events to connected websocket dashboard clients.
// Publish never blocks the engine: events go through a buffered channel
// and are dropped when the buffer is full.
type Hub struct {
	mu        sync.Mutex
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	logger    *log.Logger
}

// NewHub creates a hub. Call Run in a goroutine to start delivery.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 256),
		logger:    logger,
	}
}

// Run delivers broadcast messages to all clients until the channel is
// closed. Write failures drop the client.
func (h *Hub) Run() {
	for message := range h.broadcast {
		h.mu.Lock()
		for client := range h.clients {
			if err := client.WriteMessage(websocket.TextMessage, message); err != nil {
				client.Close()
				delete(h.clients, client)
			}
		}
		h.mu.Unlock()
	}
}

// Publish queues the event for broadcast, dropping it when the buffer
// is full.
func (h *Hub) Publish(evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		h.logger.Printf("event marshal failed: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Best-effort delivery: a slow consumer never stalls the engine.
	}
}

// Handler returns the websocket upgrade handler for dashboard clients.
func (h *Hub) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.logger.Printf("ws upgrade failed: %v", err)
			return
		}
		h.mu.Lock()
		h.clients[conn] = true
		h.mu.Unlock()
	}
}

// Close stops delivery.
func (h *Hub) Close() {
	close(h.broadcast)
	h.mu.Lock()
	for client := range h.clients {
		client.Close()
	}
	h.clients = map[*websocket.Conn]bool{}
	h.mu.Unlock()
}

var _ Sink = (*Hub)(nil)

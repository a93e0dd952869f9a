package chat

import (
	"sync"

	"github.com/rs/zerolog"
)

// Hub fans every inbound chat message out to all connected chat clients,
// the sender included. There is no room scoping and no history.
type Hub struct {
	logger  zerolog.Logger
	mx      sync.RWMutex
	clients map[string]chan<- []byte
}

func NewHub(logger *zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger.With().Str("component", "chat").Logger(),
		clients: make(map[string]chan<- []byte),
	}
}

func (h *Hub) Register(id string, tx chan<- []byte) {
	h.mx.Lock()
	h.clients[id] = tx
	count := len(h.clients)
	h.mx.Unlock()

	h.logger.Debug().Str("clientID", id).Int("clients", count).Msg("chat client connected")
}

func (h *Hub) Unregister(id string) {
	h.mx.Lock()
	delete(h.clients, id)
	count := len(h.clients)
	h.mx.Unlock()

	h.logger.Debug().Str("clientID", id).Int("clients", count).Msg("chat client disconnected")
}

// Broadcast delivers msg to every connected client. Sends never block; a
// client that stopped draining its buffer loses the message.
func (h *Hub) Broadcast(msg []byte) {
	h.mx.RLock()
	targets := make([]chan<- []byte, 0, len(h.clients))
	for _, tx := range h.clients {
		targets = append(targets, tx)
	}
	h.mx.RUnlock()

	for _, tx := range targets {
		select {
		case tx <- msg:
		default:
		}
	}
}

// Clients reports the number of connected chat clients.
func (h *Hub) Clients() int {
	h.mx.RLock()
	defer h.mx.RUnlock()
	return len(h.clients)
}

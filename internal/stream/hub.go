package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"example.com/backstage/services/telemetry/internal/metrics"
	"example.com/backstage/services/telemetry/internal/models"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const backlog = 256

// Message types pushed to stream clients
const (
	TypeUpdate = "update"
	TypeStatus = "status"
)

// ErrBacklogFull is returned when the hub cannot keep up with broadcasts
var ErrBacklogFull = errors.New("stream backlog full")

// Message is the envelope written to every client
type Message struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Hub maintains the set of active clients and broadcasts telemetry to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader
}

// NewHub creates a hub. Call Run to start delivering messages.
func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{
		broadcast:  make(chan []byte, backlog),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		metrics:    m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Run delivers broadcasts until ctx is cancelled, then disconnects every client
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
			h.metrics.SetStreamClients(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetStreamClients(n)
			log.Debug().Str("remote", client.remote).Msg("Stream client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				log.Debug().Str("remote", client.remote).Msg("Stream client unregistered")
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetStreamClients(n)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					log.Warn().Str("remote", client.remote).Msg("Stream client send buffer full, removing")
					close(client.send)
					delete(h.clients, client)
				}
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.metrics.SetStreamClients(n)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastUpdate queues an element update for every client
func (h *Hub) BroadcastUpdate(update models.ElementUpdate) error {
	return h.publish(TypeUpdate, update.Snapshot)
}

// BroadcastStatus queues a sync status for every client
func (h *Hub) BroadcastStatus(status models.SyncStatus) error {
	return h.publish(TypeStatus, status)
}

func (h *Hub) publish(kind string, payload any) error {
	b, err := json.Marshal(Message{Type: kind, Payload: payload})
	if err != nil {
		return errors.Wrapf(err, "failed to marshal %s message", kind)
	}
	select {
	case h.broadcast <- b:
		return nil
	default:
		return ErrBacklogFull
	}
}

// ServeWS upgrades the request and attaches the connection to the hub
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to upgrade stream connection")
		return
	}
	client := newClient(h, conn)
	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

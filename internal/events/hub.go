package events

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/exp/maps"

	"github.com/sand/scrap-pickup/backend/internal/entities"
	"github.com/sand/scrap-pickup/backend/internal/observability"
)

const writeWait = 5 * time.Second

// client is one connected feed subscriber. Writes are serialized per connection.
type client struct {
	conn    *websocket.Conn
	agentID string
	mu      sync.Mutex
}

func (c *client) send(event entities.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteJSON(event)
}

// Hub broadcasts order events to connected agents. It is a notification
// channel only; agents still race through Accept.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]*client
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]*client),
	}
}

func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return h.upgrader.Upgrade(w, r, nil)
}

func (h *Hub) Register(conn *websocket.Conn, agentID string) {
	h.mu.Lock()
	h.clients[conn] = &client{conn: conn, agentID: agentID}
	h.mu.Unlock()
	observability.WebsocketClients.Inc()
}

func (h *Hub) Unregister(conn *websocket.Conn) {
	h.mu.Lock()
	_, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if ok {
		observability.WebsocketClients.Dec()
		conn.Close()
	}
}

// Count returns the number of connected clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Publish sends order events to every client. An offer is only sent to the
// agent it was made to. Wallet events are not broadcast.
func (h *Hub) Publish(_ context.Context, event entities.Event) error {
	order, isOrder := event.Payload.(*entities.Order)
	if !isOrder {
		return nil
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, conn := range maps.Keys(h.clients) {
		c := h.clients[conn]
		if event.Type == entities.EventOrderOffered && !order.HeldBy(c.agentID) {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.send(event); err != nil {
			h.logger.Debug("Dropping websocket client", "agent_id", c.agentID, "error", err)
			h.Unregister(c.conn)
		}
	}
	return nil
}

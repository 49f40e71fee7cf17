package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sand/scrap-pickup/backend/internal/events"
)

// WebSocketHandler streams order events to connected agents. The feed is a
// hint only; agents still race through POST /orders/{id}/accept.
type WebSocketHandler struct {
	logger *slog.Logger
	hub    *events.Hub
}

func NewWebSocketHandler(logger *slog.Logger, hub *events.Hub) *WebSocketHandler {
	return &WebSocketHandler{
		logger: logger,
		hub:    hub,
	}
}

func (h *WebSocketHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws/orders", h.HandleConnection).Methods("GET")
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		http.Error(w, "Missing required parameter: agent_id", http.StatusBadRequest)
		return
	}

	conn, err := h.hub.Upgrade(w, r)
	if err != nil {
		h.logger.Error("Error upgrading connection", "error", err)
		return
	}

	h.hub.Register(conn, agentID)
	h.logger.Info("New WebSocket connection", "agent_id", agentID, "clients", h.hub.Count())

	// Keep connection open until the client goes away.
	for {
		if _, _, readErr := conn.ReadMessage(); readErr != nil {
			h.hub.Unregister(conn)
			h.logger.Info("WebSocket connection closed", "agent_id", agentID, "clients", h.hub.Count(), "error", readErr)
			return
		}
	}
}

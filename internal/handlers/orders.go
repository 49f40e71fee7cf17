package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/sand/scrap-pickup/backend/internal/entities"
	"github.com/sand/scrap-pickup/backend/internal/usecases"
)

var _ OrderService = (*usecases.OrderService)(nil)

type OrderService interface {
	CreateOrder(ctx context.Context, req usecases.CreateOrderRequest) (*entities.Order, error)
	GetOrder(ctx context.Context, id string) (*entities.Order, error)
	GetUserOrders(ctx context.Context, requesterID string) ([]entities.Order, error)
	GetAgentOrders(ctx context.Context, agentID string) ([]entities.Order, error)
	ListClaimable(ctx context.Context, agentID string, limit int) ([]entities.Order, error)
	Accept(ctx context.Context, id, agentID string) (*entities.Order, error)
	Offer(ctx context.Context, id, agentID string, ttl time.Duration) (*entities.Order, error)
	Reject(ctx context.Context, id, agentID string) (*entities.Order, error)
	Start(ctx context.Context, id, agentID string) (*entities.Order, error)
	Cancel(ctx context.Context, id, by string) (*entities.Order, error)
}

type createOrderRequest struct {
	RequesterID    string `json:"requester_id"`
	TotalAmount    int64  `json:"total_amount"`
	PreferredAgent string `json:"preferred_agent,omitempty"`
	TTLSeconds     int    `json:"ttl_seconds,omitempty"`
	RequestID      string `json:"request_id,omitempty"`
}

type agentActionRequest struct {
	AgentID    string `json:"agent_id"`
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
}

type cancelOrderRequest struct {
	UserID string `json:"user_id"`
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.RequesterID == "" {
		http.Error(w, "Missing required field: requester_id", http.StatusBadRequest)
		return
	}

	var order *entities.Order
	err := h.callKeyed(r.Context(), req.RequestID, func(ctx context.Context) (err error) {
		order, err = h.orderService.CreateOrder(ctx, usecases.CreateOrderRequest{
			RequesterID:    req.RequesterID,
			TotalAmount:    req.TotalAmount,
			PreferredAgent: req.PreferredAgent,
			TTL:            time.Duration(req.TTLSeconds) * time.Second,
			RequestID:      req.RequestID,
		})
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "[Create Order] Order created", "order_id", order.ID, "requester_id", order.RequesterID)
	writeJSON(w, http.StatusCreated, order)
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]

	var order *entities.Order
	err := h.call(r.Context(), func(ctx context.Context) (err error) {
		order, err = h.orderService.GetOrder(ctx, orderID)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) GetUserOrders(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "Missing required parameter: user_id", http.StatusBadRequest)
		return
	}

	var orders []entities.Order
	err := h.call(r.Context(), func(ctx context.Context) (err error) {
		orders, err = h.orderService.GetUserOrders(ctx, userID)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(orders))
}

func (h *HTTPHandler) GetAgentOrders(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		http.Error(w, "Missing required parameter: agent_id", http.StatusBadRequest)
		return
	}

	var orders []entities.Order
	err := h.call(r.Context(), func(ctx context.Context) (err error) {
		orders, err = h.orderService.GetAgentOrders(ctx, agentID)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(orders))
}

// GetClaimableOrders lists orders the agent may accept right now.
func (h *HTTPHandler) GetClaimableOrders(w http.ResponseWriter, r *http.Request) {
	agentID := r.URL.Query().Get("agent_id")
	if agentID == "" {
		http.Error(w, "Missing required parameter: agent_id", http.StatusBadRequest)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var orders []entities.Order
	err = h.call(r.Context(), func(ctx context.Context) (err error) {
		orders, err = h.orderService.ListClaimable(ctx, agentID, limit)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(orders))
}

// AcceptOrder answers 200 to the winning agent and 409 to everyone else.
func (h *HTTPHandler) AcceptOrder(w http.ResponseWriter, r *http.Request) {
	h.agentAction(w, r, func(ctx context.Context, orderID string, req agentActionRequest) (*entities.Order, error) {
		return h.orderService.Accept(ctx, orderID, req.AgentID)
	})
}

func (h *HTTPHandler) OfferOrder(w http.ResponseWriter, r *http.Request) {
	h.agentAction(w, r, func(ctx context.Context, orderID string, req agentActionRequest) (*entities.Order, error) {
		return h.orderService.Offer(ctx, orderID, req.AgentID, time.Duration(req.TTLSeconds)*time.Second)
	})
}

func (h *HTTPHandler) RejectOrder(w http.ResponseWriter, r *http.Request) {
	h.agentAction(w, r, func(ctx context.Context, orderID string, req agentActionRequest) (*entities.Order, error) {
		return h.orderService.Reject(ctx, orderID, req.AgentID)
	})
}

func (h *HTTPHandler) StartOrder(w http.ResponseWriter, r *http.Request) {
	h.agentAction(w, r, func(ctx context.Context, orderID string, req agentActionRequest) (*entities.Order, error) {
		return h.orderService.Start(ctx, orderID, req.AgentID)
	})
}

func (h *HTTPHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID := mux.Vars(r)["orderId"]

	var req cancelOrderRequest
	if err := decodeBody(r, &req); err != nil || req.UserID == "" {
		http.Error(w, "Missing required field: user_id", http.StatusBadRequest)
		return
	}

	var order *entities.Order
	err := h.call(r.Context(), func(ctx context.Context) (err error) {
		order, err = h.orderService.Cancel(ctx, orderID, req.UserID)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "[Cancel Order] Order cancelled", "order_id", orderID, "user_id", req.UserID)
	writeJSON(w, http.StatusOK, order)
}

func (h *HTTPHandler) agentAction(
	w http.ResponseWriter,
	r *http.Request,
	action func(ctx context.Context, orderID string, req agentActionRequest) (*entities.Order, error),
) {
	orderID := mux.Vars(r)["orderId"]

	var req agentActionRequest
	if err := decodeBody(r, &req); err != nil || req.AgentID == "" {
		http.Error(w, "Missing required field: agent_id", http.StatusBadRequest)
		return
	}

	var order *entities.Order
	err := h.call(r.Context(), func(ctx context.Context) (err error) {
		order, err = action(ctx, orderID, req)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sand/scrap-pickup/backend/internal/entities"
	"github.com/sand/scrap-pickup/backend/pkg/retry"
)

const (
	msgOrderUnavailable    = "order no longer available"
	msgInsufficientBalance = "insufficient balance, recharge the wallet and try again"
)

type HTTPHandler struct {
	logger        *slog.Logger
	orderService  OrderService
	walletService WalletService
	retryPolicy   retry.Policy
}

func NewHTTPHandler(logger *slog.Logger, orderService OrderService, walletService WalletService, retryPolicy retry.Policy) *HTTPHandler {
	retryPolicy.Permanent = entities.IsBusinessError
	return &HTTPHandler{
		logger:        logger,
		orderService:  orderService,
		walletService: walletService,
		retryPolicy:   retryPolicy,
	}
}

func (h *HTTPHandler) RegisterRoutes(router *mux.Router) {
	// Orders
	router.HandleFunc("/orders", h.CreateOrder).Methods("POST")
	router.HandleFunc("/orders/claimable", h.GetClaimableOrders).Methods("GET")
	router.HandleFunc("/orders/user", h.GetUserOrders).Methods("GET")
	router.HandleFunc("/orders/agent", h.GetAgentOrders).Methods("GET")
	router.HandleFunc("/orders/{orderId}", h.GetOrder).Methods("GET")
	router.HandleFunc("/orders/{orderId}/accept", h.AcceptOrder).Methods("POST")
	router.HandleFunc("/orders/{orderId}/offer", h.OfferOrder).Methods("POST")
	router.HandleFunc("/orders/{orderId}/reject", h.RejectOrder).Methods("POST")
	router.HandleFunc("/orders/{orderId}/start", h.StartOrder).Methods("POST")
	router.HandleFunc("/orders/{orderId}/cancel", h.CancelOrder).Methods("POST")

	// Wallets
	router.HandleFunc("/wallet", h.GetWallet).Methods("GET")
	router.HandleFunc("/wallet", h.OpenWallet).Methods("POST")
	router.HandleFunc("/wallet/recharge", h.InitiateRecharge).Methods("POST")
	router.HandleFunc("/wallet/recharge/confirm", h.ConfirmRecharge).Methods("POST")
	router.HandleFunc("/wallet/pay-order", h.PayOrder).Methods("POST")
	router.HandleFunc("/wallet/transfer", h.TransferFunds).Methods("POST")
	router.HandleFunc("/wallet/withdraw", h.Withdraw).Methods("POST")
	router.HandleFunc("/wallet/freeze", h.FreezeWallet).Methods("POST")
	router.HandleFunc("/wallet/unfreeze", h.UnfreezeWallet).Methods("POST")

	// Ledger
	router.HandleFunc("/wallet/entries", h.GetWalletEntries).Methods("GET")
	router.HandleFunc("/wallet/refund", h.RefundEntry).Methods("POST")

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/healthz", h.Health).Methods("GET")
}

func (h *HTTPHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// call runs fn under the retry policy. Business rejections are returned on
// the first attempt.
func (h *HTTPHandler) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry.Do(ctx, h.retryPolicy, fn)
}

// callKeyed retries fn only when the client sent a request id. Without one
// the write runs once, since a lost acknowledgement would repeat it.
func (h *HTTPHandler) callKeyed(ctx context.Context, requestID string, fn func(ctx context.Context) error) error {
	if requestID == "" {
		return fn(ctx)
	}
	return h.call(ctx, fn)
}

// fail maps an error to its status code and writes it.
func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, message := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "Request failed", "path", r.URL.Path, "error", err)
	} else {
		h.logger.InfoContext(r.Context(), "Request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	http.Error(w, message, status)
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, entities.ErrAlreadyClaimed):
		return http.StatusConflict, msgOrderUnavailable
	case errors.Is(err, entities.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, msgInsufficientBalance
	case errors.Is(err, entities.ErrWalletFrozen):
		return http.StatusLocked, err.Error()
	case errors.Is(err, entities.ErrOrderNotFound),
		errors.Is(err, entities.ErrWalletNotFound),
		errors.Is(err, entities.ErrEntryNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, entities.ErrInvalidArgument):
		return http.StatusBadRequest, err.Error()
	case entities.IsBusinessError(err):
		return http.StatusUnprocessableEntity, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// queryLimit parses an optional positive limit; zero means the service default.
func queryLimit(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, errors.New("invalid limit")
	}
	return limit, nil
}

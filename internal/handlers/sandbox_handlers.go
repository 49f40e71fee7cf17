package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/sand/scrap-pickup/backend/internal/gateway"
)

// SandboxHandler stands in for the payment provider's checkout page when the
// in-memory gateway is active.
type SandboxHandler struct {
	logger  *slog.Logger
	sandbox *gateway.Sandbox
}

func NewSandboxHandler(logger *slog.Logger, sandbox *gateway.Sandbox) *SandboxHandler {
	return &SandboxHandler{logger: logger, sandbox: sandbox}
}

func (h *SandboxHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/sandbox/charges/{chargeId}/capture", h.CaptureCharge).Methods("POST")
}

func (h *SandboxHandler) CaptureCharge(w http.ResponseWriter, r *http.Request) {
	chargeID := mux.Vars(r)["chargeId"]

	if err := h.sandbox.Capture(chargeID); err != nil {
		if errors.Is(err, gateway.ErrUnknownCharge) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	h.logger.Info("Sandbox charge captured", "external_order_id", chargeID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "captured", "external_order_id": chargeID})
}

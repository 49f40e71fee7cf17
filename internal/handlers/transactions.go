package handlers

import (
	"context"
	"net/http"

	"github.com/sand/scrap-pickup/backend/internal/entities"
)

type refundRequest struct {
	EntryID string `json:"entry_id"`
	// Amount zero refunds the whole entry.
	Amount int64 `json:"amount,omitempty"`
}

// GetWalletEntries returns the owner's ledger, newest first.
func (h *HTTPHandler) GetWalletEntries(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		http.Error(w, "Missing required parameter: owner_id", http.StatusBadRequest)
		return
	}
	limit, err := queryLimit(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var entries []entities.LedgerEntry
	err = h.call(r.Context(), func(ctx context.Context) (err error) {
		entries, err = h.walletService.GetEntries(ctx, ownerID, limit)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func (h *HTTPHandler) RefundEntry(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeBody(r, &req); err != nil || req.EntryID == "" {
		http.Error(w, "Missing required field: entry_id", http.StatusBadRequest)
		return
	}

	var refund *entities.Refund
	err := h.call(r.Context(), func(ctx context.Context) (err error) {
		refund, err = h.walletService.Refund(ctx, req.EntryID, req.Amount)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "[Refund] Entry refunded", "entry_id", req.EntryID, "amount", req.Amount)
	writeJSON(w, http.StatusOK, refund)
}

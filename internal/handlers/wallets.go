package handlers

import (
	"context"
	"net/http"

	"github.com/sand/scrap-pickup/backend/internal/entities"
	"github.com/sand/scrap-pickup/backend/internal/usecases"
)

var _ WalletService = (*usecases.WalletService)(nil)

type WalletService interface {
	OpenWallet(ctx context.Context, ownerID string) (*entities.Wallet, error)
	GetWallet(ctx context.Context, ownerID string) (*entities.Wallet, error)
	GetEntries(ctx context.Context, ownerID string, limit int) ([]entities.LedgerEntry, error)
	InitiateRecharge(ctx context.Context, ownerID string, amount int64) (*entities.Charge, error)
	ConfirmRecharge(ctx context.Context, externalOrderID, ownerID string) (*entities.LedgerEntry, bool, error)
	PayOrder(ctx context.Context, orderID, payerID string) (*usecases.OrderPayment, error)
	Transfer(ctx context.Context, req usecases.TransferRequest) (*entities.Transfer, error)
	Refund(ctx context.Context, entryID string, amount int64) (*entities.Refund, error)
	Withdraw(ctx context.Context, ownerID string, amount int64, requestID string) (*entities.LedgerEntry, error)
	FreezeWallet(ctx context.Context, ownerID string) (*entities.Wallet, error)
	UnfreezeWallet(ctx context.Context, ownerID string) (*entities.Wallet, error)
}

type ownerAmountRequest struct {
	OwnerID string `json:"owner_id"`
	Amount  int64  `json:"amount"`
}

type withdrawRequest struct {
	OwnerID   string `json:"owner_id"`
	Amount    int64  `json:"amount"`
	RequestID string `json:"request_id,omitempty"`
}

type confirmRechargeRequest struct {
	OwnerID         string `json:"owner_id"`
	ExternalOrderID string `json:"external_order_id"`
}

type confirmRechargeResponse struct {
	Entry     *entities.LedgerEntry `json:"entry"`
	Duplicate bool                  `json:"duplicate"`
}

type payOrderRequest struct {
	OrderID string `json:"order_id"`
	PayerID string `json:"payer_id"`
}

type transferRequest struct {
	From         string            `json:"from"`
	To           string            `json:"to"`
	Amount       int64             `json:"amount"`
	RelatedOrder string            `json:"related_order,omitempty"`
	Category     entities.Category `json:"category,omitempty"`
	RequestID    string            `json:"request_id,omitempty"`
}

type ownerRequest struct {
	OwnerID string `json:"owner_id"`
}

func (h *HTTPHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		http.Error(w, "Missing required parameter: owner_id", http.StatusBadRequest)
		return
	}

	var wallet *entities.Wallet
	err := h.call(r.Context(), func(ctx context.Context) (err error) {
		wallet, err = h.walletService.GetWallet(ctx, ownerID)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

// InitiateRecharge opens a gateway charge. The wallet is credited only after
// the charge is confirmed.
func (h *HTTPHandler) InitiateRecharge(w http.ResponseWriter, r *http.Request) {
	var req ownerAmountRequest
	if err := decodeBody(r, &req); err != nil || req.OwnerID == "" {
		http.Error(w, "Missing required fields: owner_id and amount", http.StatusBadRequest)
		return
	}

	var charge *entities.Charge
	err := h.call(r.Context(), func(ctx context.Context) (err error) {
		charge, err = h.walletService.InitiateRecharge(ctx, req.OwnerID, req.Amount)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "[Recharge] Charge initiated",
		"owner_id", req.OwnerID, "amount", req.Amount, "external_order_id", charge.ExternalOrderID)
	writeJSON(w, http.StatusCreated, charge)
}

// ConfirmRecharge is safe to repeat; a replay returns the original entry.
func (h *HTTPHandler) ConfirmRecharge(w http.ResponseWriter, r *http.Request) {
	var req confirmRechargeRequest
	if err := decodeBody(r, &req); err != nil || req.OwnerID == "" || req.ExternalOrderID == "" {
		http.Error(w, "Missing required fields: owner_id and external_order_id", http.StatusBadRequest)
		return
	}

	var resp confirmRechargeResponse
	err := h.call(r.Context(), func(ctx context.Context) (err error) {
		resp.Entry, resp.Duplicate, err = h.walletService.ConfirmRecharge(ctx, req.ExternalOrderID, req.OwnerID)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HTTPHandler) PayOrder(w http.ResponseWriter, r *http.Request) {
	var req payOrderRequest
	if err := decodeBody(r, &req); err != nil || req.OrderID == "" || req.PayerID == "" {
		http.Error(w, "Missing required fields: order_id and payer_id", http.StatusBadRequest)
		return
	}

	var payment *usecases.OrderPayment
	err := h.call(r.Context(), func(ctx context.Context) (err error) {
		payment, err = h.walletService.PayOrder(ctx, req.OrderID, req.PayerID)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "[Pay Order] Order settled", "order_id", req.OrderID, "payer_id", req.PayerID)
	writeJSON(w, http.StatusOK, payment)
}

// TransferFunds moves funds between two wallets.
func (h *HTTPHandler) TransferFunds(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeBody(r, &req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.From == "" || req.To == "" || req.Amount == 0 {
		http.Error(w, "Missing required fields: from, to or amount", http.StatusBadRequest)
		return
	}
	if req.Category == "" {
		req.Category = entities.CategoryPaymentSent
	}

	var transfer *entities.Transfer
	err := h.callKeyed(r.Context(), req.RequestID, func(ctx context.Context) (err error) {
		transfer, err = h.walletService.Transfer(ctx, usecases.TransferRequest{
			From:         req.From,
			To:           req.To,
			Amount:       req.Amount,
			RelatedOrder: req.RelatedOrder,
			Category:     req.Category,
			RequestID:    req.RequestID,
		})
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, transfer)
}

// Withdraw is retried on storage faults only when request_id is set.
func (h *HTTPHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := decodeBody(r, &req); err != nil || req.OwnerID == "" {
		http.Error(w, "Missing required fields: owner_id and amount", http.StatusBadRequest)
		return
	}

	var entry *entities.LedgerEntry
	err := h.callKeyed(r.Context(), req.RequestID, func(ctx context.Context) (err error) {
		entry, err = h.walletService.Withdraw(ctx, req.OwnerID, req.Amount, req.RequestID)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// OpenWallet creates an empty wallet, or returns the existing one.
func (h *HTTPHandler) OpenWallet(w http.ResponseWriter, r *http.Request) {
	h.walletCommand(w, r, h.walletService.OpenWallet)
}

func (h *HTTPHandler) FreezeWallet(w http.ResponseWriter, r *http.Request) {
	h.walletCommand(w, r, h.walletService.FreezeWallet)
}

func (h *HTTPHandler) UnfreezeWallet(w http.ResponseWriter, r *http.Request) {
	h.walletCommand(w, r, h.walletService.UnfreezeWallet)
}

func (h *HTTPHandler) walletCommand(
	w http.ResponseWriter,
	r *http.Request,
	change func(ctx context.Context, ownerID string) (*entities.Wallet, error),
) {
	var req ownerRequest
	if err := decodeBody(r, &req); err != nil || req.OwnerID == "" {
		http.Error(w, "Missing required field: owner_id", http.StatusBadRequest)
		return
	}

	var wallet *entities.Wallet
	err := h.call(r.Context(), func(ctx context.Context) (err error) {
		wallet, err = change(ctx, req.OwnerID)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "Wallet updated", "owner_id", wallet.OwnerID, "status", wallet.Status)
	writeJSON(w, http.StatusOK, wallet)
}

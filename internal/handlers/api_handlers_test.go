package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sand/scrap-pickup/backend/internal/entities"
	"github.com/sand/scrap-pickup/backend/internal/events"
	"github.com/sand/scrap-pickup/backend/internal/gateway"
	"github.com/sand/scrap-pickup/backend/internal/handlers"
	"github.com/sand/scrap-pickup/backend/internal/usecases"
	"github.com/sand/scrap-pickup/backend/internal/usecases/repository/boltstore"
	"github.com/sand/scrap-pickup/backend/pkg/retry"
)

var errAckLost = errors.New("connection reset after commit")

// ackLoss commits normally and, once armed, reports a failure for the next
// committed transaction, as a connection dropped right after COMMIT would.
type ackLoss struct {
	usecases.Transactor
	armed atomic.Bool
}

func (a *ackLoss) arm() { a.armed.Store(true) }

func (a *ackLoss) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := a.Transactor.WithinTransaction(ctx, fn); err != nil {
		return err
	}
	if a.armed.CompareAndSwap(true, false) {
		return errAckLost
	}
	return nil
}

type apiClient struct {
	t      *testing.T
	router http.Handler
	acks   *ackLoss
}

func newAPI(t *testing.T) *apiClient {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := boltstore.Open(logger, filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	sandbox := gateway.NewSandbox()
	hub := events.NewHub(logger)
	orders := usecases.NewOrderService(logger, store, hub, usecases.AssignmentPolicy{})
	acks := &ackLoss{Transactor: store}
	wallets := usecases.NewWalletService(logger, acks, store, store, store, sandbox, hub, "INR")

	router := mux.NewRouter()
	handlers.NewMiddleware(logger).Register(router)
	handlers.NewWebSocketHandler(logger, hub).RegisterRoutes(router)
	handlers.NewHTTPHandler(logger, orders, wallets, retry.Policy{MaxAttempts: 2, InitialInterval: time.Millisecond}).RegisterRoutes(router)
	handlers.NewSandboxHandler(logger, sandbox).RegisterRoutes(router)

	return &apiClient{t: t, router: router, acks: acks}
}

func (c *apiClient) do(method, path string, body any) *httptest.ResponseRecorder {
	c.t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(c.t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	c.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (c *apiClient) recharge(owner string, amount int64) {
	c.t.Helper()

	rec := c.do("POST", "/wallet/recharge", map[string]any{"owner_id": owner, "amount": amount})
	require.Equal(c.t, http.StatusCreated, rec.Code, rec.Body.String())
	charge := decode[entities.Charge](c.t, rec)

	rec = c.do("POST", "/sandbox/charges/"+charge.ExternalOrderID+"/capture", nil)
	require.Equal(c.t, http.StatusOK, rec.Code, rec.Body.String())

	rec = c.do("POST", "/wallet/recharge/confirm", map[string]any{"owner_id": owner, "external_order_id": charge.ExternalOrderID})
	require.Equal(c.t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestAcceptConflictReturns409(t *testing.T) {
	api := newAPI(t)

	rec := api.do("POST", "/orders", map[string]any{"requester_id": "requester-1", "total_amount": 400})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[entities.Order](t, rec)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = api.do("GET", "/orders/claimable?agent_id=agent-x", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]entities.Order](t, rec), 1)

	rec = api.do("POST", "/orders/"+order.ID+"/accept", map[string]any{"agent_id": "agent-x"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	accepted := decode[entities.Order](t, rec)
	assert.Equal(t, entities.AssignmentAccepted, accepted.AssignmentStatus)

	rec = api.do("POST", "/orders/"+order.ID+"/accept", map[string]any{"agent_id": "agent-y"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "order no longer available", strings.TrimSpace(rec.Body.String()))

	rec = api.do("GET", "/orders/"+order.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stored := decode[entities.Order](t, rec)
	assert.NotEmpty(t, stored.History)
}

func TestPayOrderFlow(t *testing.T) {
	api := newAPI(t)

	rec := api.do("POST", "/orders", map[string]any{"requester_id": "requester-1", "total_amount": 400})
	require.Equal(t, http.StatusCreated, rec.Code)
	order := decode[entities.Order](t, rec)

	rec = api.do("POST", "/orders/"+order.ID+"/accept", map[string]any{"agent_id": "agent-x"})
	require.Equal(t, http.StatusOK, rec.Code)

	api.recharge("agent-x", 250)

	rec = api.do("POST", "/wallet/pay-order", map[string]any{"order_id": order.ID, "payer_id": "agent-x"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "recharge the wallet")

	api.recharge("agent-x", 250)

	rec = api.do("POST", "/wallet/pay-order", map[string]any{"order_id": order.ID, "payer_id": "agent-x"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	payment := decode[usecases.OrderPayment](t, rec)
	assert.Equal(t, entities.PaymentCompleted, payment.Order.PaymentStatus)

	rec = api.do("POST", "/wallet/pay-order", map[string]any{"order_id": order.ID, "payer_id": "agent-x"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = api.do("GET", "/wallet?owner_id=agent-x", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(100), decode[entities.Wallet](t, rec).Balance)

	rec = api.do("GET", "/wallet/entries?owner_id=requester-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]entities.LedgerEntry](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, entities.CategoryPaymentReceived, entries[0].Category)

	rec = api.do("POST", "/wallet/refund", map[string]any{"entry_id": entries[0].ID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do("POST", "/wallet/refund", map[string]any{"entry_id": entries[0].ID})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestConfirmRechargeIsIdempotent(t *testing.T) {
	api := newAPI(t)

	rec := api.do("POST", "/wallet/recharge", map[string]any{"owner_id": "owner-1", "amount": 700})
	require.Equal(t, http.StatusCreated, rec.Code)
	charge := decode[entities.Charge](t, rec)

	confirm := map[string]any{"owner_id": "owner-1", "external_order_id": charge.ExternalOrderID}
	rec = api.do("POST", "/wallet/recharge/confirm", confirm)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, "uncaptured charge")

	require.Equal(t, http.StatusOK, api.do("POST", "/sandbox/charges/"+charge.ExternalOrderID+"/capture", nil).Code)

	type confirmResponse struct {
		Entry     entities.LedgerEntry `json:"entry"`
		Duplicate bool                 `json:"duplicate"`
	}
	first := decode[confirmResponse](t, api.do("POST", "/wallet/recharge/confirm", confirm))
	second := decode[confirmResponse](t, api.do("POST", "/wallet/recharge/confirm", confirm))
	assert.False(t, first.Duplicate)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Entry.ID, second.Entry.ID)

	rec = api.do("GET", "/wallet?owner_id=owner-1", nil)
	assert.Equal(t, int64(700), decode[entities.Wallet](t, rec).Balance)
}

func TestWalletStatusCodes(t *testing.T) {
	api := newAPI(t)
	api.recharge("owner-1", 100)

	rec := api.do("POST", "/wallet/freeze", map[string]any{"owner_id": "owner-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do("POST", "/wallet/withdraw", map[string]any{"owner_id": "owner-1", "amount": 50})
	assert.Equal(t, http.StatusLocked, rec.Code)

	rec = api.do("POST", "/wallet/unfreeze", map[string]any{"owner_id": "owner-1"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = api.do("POST", "/wallet/transfer", map[string]any{"from": "owner-1", "to": "owner-2", "amount": 60})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = api.do("POST", "/wallet/transfer", map[string]any{"from": "owner-1", "to": "owner-1", "amount": 10})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = api.do("GET", "/wallet?owner_id=nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do("POST", "/wallet", map[string]any{"owner_id": "nobody"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = api.do("GET", "/wallet?owner_id=nobody", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestValidation(t *testing.T) {
	api := newAPI(t)

	assert.Equal(t, http.StatusBadRequest, api.do("POST", "/orders", map[string]any{"total_amount": 10}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do("POST", "/orders/abc/accept", map[string]any{}).Code)
	assert.Equal(t, http.StatusBadRequest, api.do("GET", "/orders/user", nil).Code)
	assert.Equal(t, http.StatusBadRequest, api.do("GET", "/orders/claimable?agent_id=a&limit=x", nil).Code)
	assert.Equal(t, http.StatusNotFound, api.do("POST", "/orders/missing/accept", map[string]any{"agent_id": "agent-x"}).Code)
	assert.Equal(t, http.StatusOK, api.do("GET", "/healthz", nil).Code)
}

func (c *apiClient) balance(owner string) int64 {
	c.t.Helper()
	rec := c.do("GET", "/wallet?owner_id="+owner, nil)
	require.Equal(c.t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[entities.Wallet](c.t, rec).Balance
}

func TestWithdrawAfterLostAcknowledgement(t *testing.T) {
	api := newAPI(t)
	api.recharge("owner-1", 500)

	api.acks.arm()
	rec := api.do("POST", "/wallet/withdraw", map[string]any{"owner_id": "owner-1", "amount": 100, "request_id": "payout-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[entities.LedgerEntry](t, rec)
	assert.Equal(t, int64(400), api.balance("owner-1"), "the retried request is applied once")

	rec = api.do("POST", "/wallet/withdraw", map[string]any{"owner_id": "owner-1", "amount": 100, "request_id": "payout-1"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first.ID, decode[entities.LedgerEntry](t, rec).ID)
	assert.Equal(t, int64(400), api.balance("owner-1"))

	api.acks.arm()
	rec = api.do("POST", "/wallet/withdraw", map[string]any{"owner_id": "owner-1", "amount": 100})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, int64(300), api.balance("owner-1"), "without a request id the write is not repeated")
}

func TestTransferAfterLostAcknowledgement(t *testing.T) {
	api := newAPI(t)
	api.recharge("owner-1", 500)

	body := map[string]any{"from": "owner-1", "to": "owner-2", "amount": 200, "request_id": "pay-1"}
	api.acks.arm()
	rec := api.do("POST", "/wallet/transfer", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[entities.Transfer](t, rec)

	rec = api.do("POST", "/wallet/transfer", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first.ID, decode[entities.Transfer](t, rec).ID)

	assert.Equal(t, int64(300), api.balance("owner-1"))
	assert.Equal(t, int64(200), api.balance("owner-2"))
}

func TestCreateOrderWithRequestID(t *testing.T) {
	api := newAPI(t)
	body := map[string]any{"requester_id": "requester-1", "total_amount": 400, "request_id": "job-1", "ttl_seconds": 120}

	rec := api.do("POST", "/orders", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	first := decode[entities.Order](t, rec)
	require.NotNil(t, first.AssignmentDeadline)
	assert.True(t, first.CreatedAt.Add(2*time.Minute).Equal(*first.AssignmentDeadline))

	rec = api.do("POST", "/orders", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, first.ID, decode[entities.Order](t, rec).ID)

	rec = api.do("GET", "/orders/user?user_id=requester-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]entities.Order](t, rec), 1)
}

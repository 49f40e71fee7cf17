package usecases_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sand/scrap-pickup/backend/internal/entities"
	"github.com/sand/scrap-pickup/backend/internal/events"
	"github.com/sand/scrap-pickup/backend/internal/gateway"
	"github.com/sand/scrap-pickup/backend/internal/usecases"
	"github.com/sand/scrap-pickup/backend/internal/usecases/repository/boltstore"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	store   *boltstore.Store
	clock   *fakeClock
	sandbox *gateway.Sandbox
	orders  *usecases.OrderService
	wallets *usecases.WalletService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := boltstore.Open(logger, filepath.Join(t.TempDir(), "pickup.db"))
	require.NoError(t, err, "failed to open bolt store")
	t.Cleanup(func() { store.Close() })

	clock := &fakeClock{now: epoch}
	sandbox := gateway.NewSandbox()

	return &testEnv{
		store:   store,
		clock:   clock,
		sandbox: sandbox,
		orders: usecases.NewOrderService(logger, store, events.Nop{}, usecases.AssignmentPolicy{},
			usecases.WithOrderClock(clock.Now)),
		wallets: usecases.NewWalletService(logger, store, store, store, store, sandbox, events.Nop{}, "INR",
			usecases.WithWalletClock(clock.Now)),
	}
}

// fund gives owner an opening balance through a gateway credit.
func (e *testEnv) fund(t *testing.T, owner string, amount int64) {
	t.Helper()
	_, _, err := e.wallets.CreditFromGateway(context.Background(), owner, amount, "seed-"+owner)
	require.NoError(t, err, "failed to fund wallet")
}

func (e *testEnv) balance(t *testing.T, owner string) int64 {
	t.Helper()
	wallet, err := e.wallets.GetWallet(context.Background(), owner)
	require.NoError(t, err)
	return wallet.Balance
}

func (e *testEnv) entries(t *testing.T, owner string) []entities.LedgerEntry {
	t.Helper()
	entries, err := e.wallets.GetEntries(context.Background(), owner, 0)
	require.NoError(t, err)
	return entries
}

func (e *testEnv) newOrder(t *testing.T, requester string, total int64) *entities.Order {
	t.Helper()
	order, err := e.orders.CreateOrder(context.Background(), usecases.CreateOrderRequest{
		RequesterID: requester,
		TotalAmount: total,
	})
	require.NoError(t, err, "failed to create order")
	return order
}

var errCommitFailed = errors.New("commit failed")

// failingCommit rolls back the next transaction after its body succeeded, as
// a COMMIT rejected by the database would.
type failingCommit struct {
	usecases.Transactor
	mu      sync.Mutex
	pending bool
}

func (f *failingCommit) failNext() {
	f.mu.Lock()
	f.pending = true
	f.mu.Unlock()
}

func (f *failingCommit) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return f.Transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return err
		}
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.pending {
			f.pending = false
			return errCommitFailed
		}
		return nil
	})
}

// walletsWith builds a wallet service over the env store with another transactor.
func (e *testEnv) walletsWith(transactor usecases.Transactor) *usecases.WalletService {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return usecases.NewWalletService(logger, transactor, e.store, e.store, e.store, e.sandbox, events.Nop{}, "INR",
		usecases.WithWalletClock(e.clock.Now))
}

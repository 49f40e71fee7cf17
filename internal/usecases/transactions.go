package usecases

import (
	"context"
	"time"

	"github.com/sand/scrap-pickup/backend/internal/entities"
)

// Transactor runs fn inside one store transaction. Nested calls join the
// outer transaction.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type TransactionsRepository interface {
	InsertEntry(ctx context.Context, entry *entities.LedgerEntry) error
	FindEntryByID(ctx context.Context, id string) (*entities.LedgerEntry, error)
	FindEntriesByOwner(ctx context.Context, ownerID string, limit int) ([]entities.LedgerEntry, error)
	FindEntriesByTransfer(ctx context.Context, transferID string) ([]entities.LedgerEntry, error)
	FindRefundOf(ctx context.Context, entryID string) (*entities.LedgerEntry, error)

	ReserveReference(ctx context.Context, reference, ownerID string, now time.Time) (bool, error)
	AttachReferenceEntry(ctx context.Context, reference, entryID string) error
	FindEntryByReference(ctx context.Context, reference string) (*entities.LedgerEntry, error)
}

type WalletsRepository interface {
	CreateWallet(ctx context.Context, ownerID, currency string, now time.Time) (*entities.Wallet, error)
	FindWallet(ctx context.Context, ownerID string) (*entities.Wallet, error)
	DebitWallet(ctx context.Context, ownerID string, amount int64, now time.Time) (*entities.BalanceChange, error)
	CreditWallet(ctx context.Context, ownerID string, amount int64, now time.Time) (*entities.BalanceChange, error)
	SetWalletStatus(ctx context.Context, ownerID string, status entities.WalletStatus, now time.Time) (*entities.Wallet, error)
}

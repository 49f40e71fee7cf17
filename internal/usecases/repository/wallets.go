package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"

	"github.com/sand/scrap-pickup/backend/internal/entities"
	"github.com/sand/scrap-pickup/backend/pkg/database"
)

var walletColumns = []string{"owner_id", "balance", "currency", "status", "created_at", "updated_at"}

// WalletsRepository stores one balance row per actor.
type WalletsRepository struct {
	logger     *slog.Logger
	db         tx.DBGetter
	transactor *tx.Transactor
}

// NewWalletsRepository creates a new wallet repository.
func NewWalletsRepository(logger *slog.Logger, pg *database.Postgres) *WalletsRepository {
	return &WalletsRepository{
		logger:     logger,
		db:         pg.DBGetter,
		transactor: pg.Transactor,
	}
}

// CreateWallet inserts an empty active wallet, or returns the existing one.
func (r *WalletsRepository) CreateWallet(ctx context.Context, ownerID, currency string, now time.Time) (*entities.Wallet, error) {
	query, args, err := psql.Insert("wallets").
		Columns(walletColumns...).
		Values(ownerID, 0, currency, string(entities.WalletActive), now, now).
		Suffix("ON CONFLICT (owner_id) DO NOTHING").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build create wallet query: %w", err)
	}

	if _, err = r.db(ctx).Exec(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("failed to create wallet: %w", err)
	}

	return r.FindWallet(ctx, ownerID)
}

// FindWallet retrieves a wallet by its owner.
func (r *WalletsRepository) FindWallet(ctx context.Context, ownerID string) (*entities.Wallet, error) {
	query, args, err := psql.Select(walletColumns...).From("wallets").Where(sq.Eq{"owner_id": ownerID}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build find wallet query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallet: %w", err)
	}

	wallet, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[entities.Wallet])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect wallet row: %w", err)
	}

	return wallet, nil
}

// DebitWallet subtracts amount from an active wallet that holds at least amount.
// It returns nil when the wallet is missing, frozen or short of funds.
func (r *WalletsRepository) DebitWallet(ctx context.Context, ownerID string, amount int64, now time.Time) (*entities.BalanceChange, error) {
	query, args, err := psql.Update("wallets").
		Set("balance", sq.Expr("balance - ?", amount)).
		Set("updated_at", now).
		Where(sq.Eq{"owner_id": ownerID, "status": string(entities.WalletActive)}).
		Where(sq.GtOrEq{"balance": amount}).
		Suffix("RETURNING balance").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build debit wallet query: %w", err)
	}

	var after int64
	err = r.db(ctx).QueryRow(ctx, query, args...).Scan(&after)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to debit wallet: %w", err)
	}

	return &entities.BalanceChange{Before: after + amount, After: after}, nil
}

// CreditWallet adds amount to an active wallet. It returns nil when the
// wallet is missing or frozen.
func (r *WalletsRepository) CreditWallet(ctx context.Context, ownerID string, amount int64, now time.Time) (*entities.BalanceChange, error) {
	query, args, err := psql.Update("wallets").
		Set("balance", sq.Expr("balance + ?", amount)).
		Set("updated_at", now).
		Where(sq.Eq{"owner_id": ownerID, "status": string(entities.WalletActive)}).
		Suffix("RETURNING balance").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build credit wallet query: %w", err)
	}

	var after int64
	err = r.db(ctx).QueryRow(ctx, query, args...).Scan(&after)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to credit wallet: %w", err)
	}

	return &entities.BalanceChange{Before: after - amount, After: after}, nil
}

func (r *WalletsRepository) SetWalletStatus(ctx context.Context, ownerID string, status entities.WalletStatus, now time.Time) (*entities.Wallet, error) {
	query, args, err := psql.Update("wallets").
		Set("status", string(status)).
		Set("updated_at", now).
		Where(sq.Eq{"owner_id": ownerID}).
		Suffix("RETURNING owner_id, balance, currency, status, created_at, updated_at").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build wallet status query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update wallet status: %w", err)
	}

	wallet, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[entities.Wallet])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect wallet row: %w", err)
	}

	return wallet, nil
}

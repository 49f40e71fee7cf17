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
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sand/scrap-pickup/backend/internal/entities"
	"github.com/sand/scrap-pickup/backend/pkg/database"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

var entryColumns = []string{
	"id", "owner_id", "direction", "amount", "balance_before", "balance_after", "category", "status",
	"transfer_id", "related_order", "external_reference", "refund_of", "created_at",
}

// TransactionsRepository stores immutable ledger entries and the idempotency
// keys of gateway credits.
type TransactionsRepository struct {
	logger *slog.Logger

	db         tx.DBGetter
	transactor *tx.Transactor
}

// NewTransactionsRepository creates a new ledger entry repository.
func NewTransactionsRepository(logger *slog.Logger, pg *database.Postgres) *TransactionsRepository {
	return &TransactionsRepository{
		logger:     logger,
		db:         pg.DBGetter,
		transactor: pg.Transactor,
	}
}

// InsertEntry stores a new ledger entry. Unique index violations are reported
// as the matching business error.
func (r *TransactionsRepository) InsertEntry(ctx context.Context, entry *entities.LedgerEntry) error {
	query, args, err := psql.Insert("ledger_entries").
		Columns(entryColumns...).
		Values(entry.ID, entry.OwnerID, entry.Direction, entry.Amount, entry.BalanceBefore, entry.BalanceAfter,
			entry.Category, entry.Status, entry.TransferID, entry.RelatedOrder, entry.ExternalReference,
			entry.RefundOf, entry.CreatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert entry query: %w", err)
	}

	_, err = r.db(ctx).Exec(ctx, query, args...)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == uniqueViolation && pgErr.ConstraintName == "ledger_entries_refund_of_uidx":
			return entities.ErrAlreadyRefunded
		case pgErr.Code == uniqueViolation && pgErr.ConstraintName == "ledger_entries_recharge_reference_uidx":
			return entities.ErrDuplicateExternalReference
		case pgErr.Code == foreignKeyViolation && pgErr.ConstraintName == "ledger_entries_related_order_fkey":
			return entities.ErrOrderNotFound
		}
	}
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	return nil
}

func (r *TransactionsRepository) FindEntryByID(ctx context.Context, id string) (*entities.LedgerEntry, error) {
	return r.findEntry(ctx, psql.Select(entryColumns...).From("ledger_entries").Where(sq.Eq{"id": id}))
}

// FindEntriesByOwner returns the newest entries of an owner first.
func (r *TransactionsRepository) FindEntriesByOwner(ctx context.Context, ownerID string, limit int) ([]entities.LedgerEntry, error) {
	return r.findEntries(ctx, psql.Select(entryColumns...).From("ledger_entries").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)))
}

func (r *TransactionsRepository) FindEntriesByTransfer(ctx context.Context, transferID string) ([]entities.LedgerEntry, error) {
	return r.findEntries(ctx, psql.Select(entryColumns...).From("ledger_entries").
		Where(sq.Eq{"transfer_id": transferID}).
		OrderBy("created_at", "direction DESC"))
}

// FindRefundOf returns the entry that reverses entryID, if any.
func (r *TransactionsRepository) FindRefundOf(ctx context.Context, entryID string) (*entities.LedgerEntry, error) {
	return r.findEntry(ctx, psql.Select(entryColumns...).From("ledger_entries").Where(sq.Eq{"refund_of": entryID}))
}

// ReserveReference claims an external payment reference. It reports false
// when the reference was already reserved, waiting for a concurrent
// reservation to commit or roll back first.
func (r *TransactionsRepository) ReserveReference(ctx context.Context, reference, ownerID string, now time.Time) (bool, error) {
	tag, err := r.db(ctx).Exec(ctx,
		`INSERT INTO idempotency_keys (reference, owner_id, created_at) VALUES ($1, $2, $3)
         ON CONFLICT (reference) DO NOTHING`,
		reference, ownerID, now)
	if err != nil {
		return false, fmt.Errorf("failed to reserve reference: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TransactionsRepository) AttachReferenceEntry(ctx context.Context, reference, entryID string) error {
	_, err := r.db(ctx).Exec(ctx, "UPDATE idempotency_keys SET entry_id = $2 WHERE reference = $1", reference, entryID)
	if err != nil {
		return fmt.Errorf("failed to attach entry to reference: %w", err)
	}
	return nil
}

// FindEntryByReference returns the entry recorded for a reserved reference.
func (r *TransactionsRepository) FindEntryByReference(ctx context.Context, reference string) (*entities.LedgerEntry, error) {
	return r.findEntry(ctx, psql.Select(prefixed("e", entryColumns)...).
		From("idempotency_keys k").
		Join("ledger_entries e ON e.id = k.entry_id").
		Where(sq.Eq{"k.reference": reference}))
}

func (r *TransactionsRepository) findEntry(ctx context.Context, b sq.SelectBuilder) (*entities.LedgerEntry, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build entry query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entry: %w", err)
	}

	entry, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[entities.LedgerEntry])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect ledger entry: %w", err)
	}

	return entry, nil
}

func (r *TransactionsRepository) findEntries(ctx context.Context, b sq.SelectBuilder) ([]entities.LedgerEntry, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build entries query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query ledger entries: %w", err)
	}

	entries, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.LedgerEntry])
	if err != nil {
		r.logger.Error("failed to collect ledger entries rows", "error", err)
		return nil, err
	}

	return entries, nil
}

func prefixed(alias string, columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = alias + "." + c
	}
	return out
}

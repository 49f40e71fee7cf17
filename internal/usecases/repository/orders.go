package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	tx "github.com/Thiht/transactor/pgx"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sand/scrap-pickup/backend/internal/entities"
	"github.com/sand/scrap-pickup/backend/internal/usecases"
	"github.com/sand/scrap-pickup/backend/pkg/database"
)

var (
	_ usecases.OrdersRepository       = (*OrdersRepository)(nil)
	_ usecases.WalletsRepository      = (*WalletsRepository)(nil)
	_ usecases.TransactionsRepository = (*TransactionsRepository)(nil)
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var orderColumns = []string{
	"id", "requester_id", "agent_id", "lifecycle_status", "assignment_status",
	"assignment_deadline", "total_amount", "currency", "payment_status", "created_at", "updated_at",
}

var returningOrder = "RETURNING " + strings.Join(orderColumns, ", ")

type OrdersRepository struct {
	logger *slog.Logger

	db         tx.DBGetter
	transactor *tx.Transactor
}

func NewOrdersRepository(logger *slog.Logger, pg *database.Postgres) *OrdersRepository {
	return &OrdersRepository{logger: logger, db: pg.DBGetter, transactor: pg.Transactor}
}

func openStatuses() []string {
	out := make([]string, 0, len(entities.OpenAssignmentStatuses))
	for _, s := range entities.OpenAssignmentStatuses {
		out = append(out, string(s))
	}
	return out
}

// expiredOffer matches ASSIGNED orders whose deadline is absent or already behind now.
func expiredOffer(now time.Time) sq.Sqlizer {
	return sq.And{
		sq.Eq{"assignment_status": string(entities.AssignmentAssigned)},
		sq.Or{sq.Eq{"assignment_deadline": nil}, sq.Lt{"assignment_deadline": now}},
	}
}

// claimableBy mirrors entities.Order.ClaimableBy.
func claimableBy(agentID string, now time.Time) sq.Sqlizer {
	return sq.And{
		sq.Eq{"lifecycle_status": string(entities.LifecyclePending)},
		sq.NotEq{"requester_id": agentID},
		sq.Or{
			sq.Eq{"assignment_status": openStatuses()},
			expiredOffer(now),
			sq.Eq{"assignment_status": string(entities.AssignmentAssigned), "agent_id": agentID},
		},
	}
}

func (r *OrdersRepository) InsertOrder(ctx context.Context, order *entities.Order) error {
	query, args, err := psql.Insert("orders").
		Columns(orderColumns...).
		Values(order.ID, order.RequesterID, order.AgentID, order.LifecycleStatus, order.AssignmentStatus,
			order.AssignmentDeadline, order.TotalAmount, order.Currency, order.PaymentStatus, order.CreatedAt, order.UpdatedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build insert order query: %w", err)
	}

	return r.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if _, err := r.db(ctx).Exec(ctx, query, args...); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == "orders_pkey" {
				return fmt.Errorf("%w: %s", entities.ErrOrderExists, order.ID)
			}
			return fmt.Errorf("failed to insert order: %w", err)
		}
		return r.appendHistory(ctx, order, order.CreatedAt)
	})
}

func (r *OrdersRepository) FindOrderByID(ctx context.Context, id string) (*entities.Order, error) {
	query, args, err := psql.Select(orderColumns...).From("orders").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build find order query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query order: %w", err)
	}

	order, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[entities.Order])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect order row: %w", err)
	}

	order.History, err = r.findHistory(ctx, id)
	if err != nil {
		return nil, err
	}

	return order, nil
}

func (r *OrdersRepository) FindOrdersByRequester(ctx context.Context, requesterID string) ([]entities.Order, error) {
	return r.findOrders(ctx, psql.Select(orderColumns...).From("orders").
		Where(sq.Eq{"requester_id": requesterID}).
		OrderBy("created_at DESC"))
}

func (r *OrdersRepository) FindOrdersByAgent(ctx context.Context, agentID string) ([]entities.Order, error) {
	return r.findOrders(ctx, psql.Select(orderColumns...).From("orders").
		Where(sq.Eq{"agent_id": agentID}).
		OrderBy("created_at DESC"))
}

// FindClaimableOrders lists pending orders an agent could claim, oldest first.
// The result may be stale by the time the agent acts on it.
func (r *OrdersRepository) FindClaimableOrders(ctx context.Context, agentID string, now time.Time, limit int) ([]entities.Order, error) {
	return r.findOrders(ctx, psql.Select(orderColumns...).From("orders").
		Where(sq.Eq{"lifecycle_status": string(entities.LifecyclePending)}).
		Where(sq.NotEq{"requester_id": agentID}).
		Where(sq.Or{sq.Eq{"assignment_status": openStatuses()}, expiredOffer(now)}).
		Where(sq.Or{sq.Eq{"agent_id": nil}, sq.NotEq{"agent_id": agentID}}).
		OrderBy("created_at").
		Limit(uint64(limit)))
}

// ClaimOrder is the accept compare-and-swap. It returns nil when the order
// was not claimable by agentID at the time of the update.
func (r *OrdersRepository) ClaimOrder(ctx context.Context, id, agentID string, now time.Time) (*entities.Order, error) {
	return r.transition(ctx, psql.Update("orders").
		Set("agent_id", agentID).
		Set("assignment_status", string(entities.AssignmentAccepted)).
		Set("lifecycle_status", string(entities.LifecycleConfirmed)).
		Set("assignment_deadline", nil).
		Set("updated_at", now).
		Where(sq.Eq{"id": id}).
		Where(claimableBy(agentID, now)), now)
}

// AssignOrder offers the order exclusively to agentID until deadline.
func (r *OrdersRepository) AssignOrder(ctx context.Context, id, agentID string, deadline, now time.Time) (*entities.Order, error) {
	return r.transition(ctx, psql.Update("orders").
		Set("agent_id", agentID).
		Set("assignment_status", string(entities.AssignmentAssigned)).
		Set("assignment_deadline", deadline).
		Set("updated_at", now).
		Where(sq.Eq{"id": id}).
		Where(claimableBy(agentID, now)), now)
}

func (r *OrdersRepository) RejectOrder(ctx context.Context, id, agentID string, now time.Time) (*entities.Order, error) {
	return r.transition(ctx, psql.Update("orders").
		Set("assignment_status", string(entities.AssignmentRejected)).
		Set("assignment_deadline", nil).
		Set("updated_at", now).
		Where(sq.Eq{
			"id":                id,
			"lifecycle_status":  string(entities.LifecyclePending),
			"assignment_status": string(entities.AssignmentAssigned),
			"agent_id":          agentID,
		}), now)
}

func (r *OrdersRepository) StartOrder(ctx context.Context, id, agentID string, now time.Time) (*entities.Order, error) {
	return r.transition(ctx, psql.Update("orders").
		Set("lifecycle_status", string(entities.LifecycleInProgress)).
		Set("updated_at", now).
		Where(sq.Eq{
			"id":                id,
			"lifecycle_status":  string(entities.LifecycleConfirmed),
			"assignment_status": string(entities.AssignmentAccepted),
			"agent_id":          agentID,
		}), now)
}

// CancelOrder releases an unaccepted order back to UNASSIGNED and keeps the
// agent on an accepted one.
func (r *OrdersRepository) CancelOrder(ctx context.Context, id, by string, now time.Time) (*entities.Order, error) {
	accepted := string(entities.AssignmentAccepted)
	return r.transition(ctx, psql.Update("orders").
		Set("lifecycle_status", string(entities.LifecycleCancelled)).
		Set("agent_id", sq.Expr("CASE WHEN assignment_status = ? THEN agent_id ELSE NULL END", accepted)).
		Set("assignment_status", sq.Expr("CASE WHEN assignment_status = ? THEN assignment_status ELSE ? END",
			accepted, string(entities.AssignmentUnassigned))).
		Set("assignment_deadline", nil).
		Set("updated_at", now).
		Where(sq.Eq{"id": id}).
		Where(sq.NotEq{"lifecycle_status": []string{
			string(entities.LifecycleCompleted), string(entities.LifecycleCancelled),
		}}).
		Where(sq.Or{
			sq.Eq{"requester_id": by},
			sq.Eq{"assignment_status": accepted, "agent_id": by},
		}), now)
}

// CompleteOrderPayment marks the order paid and completed when payerID is its
// accepted agent and the payment is still pending.
func (r *OrdersRepository) CompleteOrderPayment(ctx context.Context, id, payerID string, now time.Time) (*entities.Order, error) {
	return r.transition(ctx, psql.Update("orders").
		Set("lifecycle_status", string(entities.LifecycleCompleted)).
		Set("payment_status", string(entities.PaymentCompleted)).
		Set("updated_at", now).
		Where(sq.Eq{
			"id":                id,
			"assignment_status": string(entities.AssignmentAccepted),
			"agent_id":          payerID,
			"payment_status":    string(entities.PaymentPending),
			"lifecycle_status": []string{
				string(entities.LifecycleConfirmed), string(entities.LifecycleInProgress),
			},
		}), now)
}

func (r *OrdersRepository) MarkOrderPaymentRefunded(ctx context.Context, id string, now time.Time) (*entities.Order, error) {
	query, args, err := psql.Update("orders").
		Set("payment_status", string(entities.PaymentRefunded)).
		Set("updated_at", now).
		Where(sq.Eq{"id": id, "payment_status": string(entities.PaymentCompleted)}).
		Suffix(returningOrder).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build refund order query: %w", err)
	}
	return r.updateReturning(ctx, query, args)
}

// MarkTimedOutOrders flips up to limit stale offers to TIMED_OUT. Rows locked
// by a concurrent accept are skipped.
func (r *OrdersRepository) MarkTimedOutOrders(ctx context.Context, now time.Time, limit int) ([]entities.Order, error) {
	query := `UPDATE orders SET assignment_status = $1, updated_at = $2
              WHERE id IN (
                  SELECT id FROM orders
                  WHERE lifecycle_status = $3 AND assignment_status = $4 AND assignment_deadline < $2
                  ORDER BY assignment_deadline
                  LIMIT $5
                  FOR UPDATE SKIP LOCKED
              ) AND assignment_status = $4 AND assignment_deadline < $2
              ` + returningOrder

	var flipped []entities.Order
	err := r.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		rows, err := r.db(ctx).Query(ctx, query,
			entities.AssignmentTimedOut, now, entities.LifecyclePending, entities.AssignmentAssigned, limit)
		if err != nil {
			return fmt.Errorf("failed to mark timed out orders: %w", err)
		}

		flipped, err = pgx.CollectRows(rows, pgx.RowToStructByName[entities.Order])
		if err != nil {
			return fmt.Errorf("failed to collect timed out orders: %w", err)
		}

		for i := range flipped {
			if err = r.appendHistory(ctx, &flipped[i], now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return flipped, nil
}

// transition runs a conditional update and appends the resulting state to
// the assignment history in the same transaction.
func (r *OrdersRepository) transition(ctx context.Context, b sq.UpdateBuilder, now time.Time) (*entities.Order, error) {
	query, args, err := b.Suffix(returningOrder).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build order transition query: %w", err)
	}

	var order *entities.Order
	err = r.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		order, err = r.updateReturning(ctx, query, args)
		if err != nil || order == nil {
			return err
		}
		return r.appendHistory(ctx, order, now)
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

func (r *OrdersRepository) updateReturning(ctx context.Context, query string, args []any) (*entities.Order, error) {
	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	order, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByName[entities.Order])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to collect updated order: %w", err)
	}

	return order, nil
}

func (r *OrdersRepository) appendHistory(ctx context.Context, order *entities.Order, at time.Time) error {
	_, err := r.db(ctx).Exec(ctx,
		`INSERT INTO order_assignment_history (order_id, agent_id, resulting_status, lifecycle_status, at)
         VALUES ($1, $2, $3, $4, $5)`,
		order.ID, order.AgentID, order.AssignmentStatus, order.LifecycleStatus, at)
	if err != nil {
		return fmt.Errorf("failed to append assignment history for order %s: %w", order.ID, err)
	}
	return nil
}

func (r *OrdersRepository) findHistory(ctx context.Context, orderID string) ([]entities.AssignmentEvent, error) {
	rows, err := r.db(ctx).Query(ctx,
		`SELECT order_id, agent_id, resulting_status, lifecycle_status, at
         FROM order_assignment_history WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignment history: %w", err)
	}

	history, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.AssignmentEvent])
	if err != nil {
		r.logger.Error("failed to collect assignment history rows", "error", err, "order_id", orderID)
		return nil, err
	}

	return history, nil
}

func (r *OrdersRepository) findOrders(ctx context.Context, b sq.SelectBuilder) ([]entities.Order, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build orders query: %w", err)
	}

	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}

	orders, err := pgx.CollectRows(rows, pgx.RowToStructByName[entities.Order])
	if err != nil {
		r.logger.Error("failed to collect orders rows", "error", err)
		return nil, err
	}

	return orders, nil
}

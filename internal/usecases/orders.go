package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sand/scrap-pickup/backend/internal/core/ports"
	"github.com/sand/scrap-pickup/backend/internal/entities"
	"github.com/sand/scrap-pickup/backend/internal/observability"
)

type OrdersRepository interface {
	InsertOrder(ctx context.Context, order *entities.Order) error
	FindOrderByID(ctx context.Context, id string) (*entities.Order, error)
	FindOrdersByRequester(ctx context.Context, requesterID string) ([]entities.Order, error)
	FindOrdersByAgent(ctx context.Context, agentID string) ([]entities.Order, error)
	FindClaimableOrders(ctx context.Context, agentID string, now time.Time, limit int) ([]entities.Order, error)
	ClaimOrder(ctx context.Context, id, agentID string, now time.Time) (*entities.Order, error)
	AssignOrder(ctx context.Context, id, agentID string, deadline, now time.Time) (*entities.Order, error)
	RejectOrder(ctx context.Context, id, agentID string, now time.Time) (*entities.Order, error)
	StartOrder(ctx context.Context, id, agentID string, now time.Time) (*entities.Order, error)
	CancelOrder(ctx context.Context, id, by string, now time.Time) (*entities.Order, error)
	CompleteOrderPayment(ctx context.Context, id, payerID string, now time.Time) (*entities.Order, error)
	MarkOrderPaymentRefunded(ctx context.Context, id string, now time.Time) (*entities.Order, error)
	MarkTimedOutOrders(ctx context.Context, now time.Time, limit int) ([]entities.Order, error)
}

// AssignmentPolicy bounds offer windows and listing sizes.
type AssignmentPolicy struct {
	DefaultTTL     time.Duration
	MaxTTL         time.Duration
	ClaimableLimit int
	Currency       string
}

func (p AssignmentPolicy) withDefaults() AssignmentPolicy {
	if p.DefaultTTL <= 0 {
		p.DefaultTTL = ports.DefaultAssignmentTTL
	}
	if p.MaxTTL <= 0 {
		p.MaxTTL = ports.MaxAssignmentTTL
	}
	if p.ClaimableLimit <= 0 {
		p.ClaimableLimit = ports.DefaultClaimableLimit
	}
	if p.Currency == "" {
		p.Currency = ports.DefaultCurrency
	}
	return p
}

// CreateOrderRequest describes a new pickup job. A non-empty PreferredAgent
// receives an exclusive offer for TTL before the order falls back to the pool.
// A non-empty RequestID makes creation safe to repeat.
type CreateOrderRequest struct {
	RequesterID    string
	TotalAmount    int64
	PreferredAgent string
	TTL            time.Duration
	RequestID      string
}

var orderIDNamespace = uuid.MustParse("6f1c2a7e-4b5d-4c8a-9e3f-2d7b8a1c0e55")

// orderID derives the id of a client request so a replay hits the same row.
func orderID(req CreateOrderRequest) string {
	if req.RequestID == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(orderIDNamespace, []byte(req.RequesterID+"\x00"+req.RequestID)).String()
}

// OrderService coordinates the claim race and the order lifecycle. All
// exclusivity comes from conditional writes in the repository.
type OrderService struct {
	logger    *slog.Logger
	repo      OrdersRepository
	publisher ports.EventPublisher
	policy    AssignmentPolicy
	now       func() time.Time
}

type OrderServiceOption func(*OrderService)

// WithOrderClock replaces the wall clock used for deadlines.
func WithOrderClock(now func() time.Time) OrderServiceOption {
	return func(s *OrderService) {
		s.now = now
	}
}

func NewOrderService(logger *slog.Logger, repo OrdersRepository, publisher ports.EventPublisher, policy AssignmentPolicy, opts ...OrderServiceOption) *OrderService {
	s := &OrderService{
		logger:    logger,
		repo:      repo,
		publisher: publisher,
		policy:    policy.withDefaults(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (os *OrderService) clock() time.Time {
	return os.now().UTC()
}

func (os *OrderService) ttl(requested time.Duration) time.Duration {
	if requested <= 0 {
		return os.policy.DefaultTTL
	}
	if requested > os.policy.MaxTTL {
		return os.policy.MaxTTL
	}
	return requested
}

// CreateOrder stores a new PENDING order with deadline now + ttl. With a
// preferred agent the order is created ASSIGNED to that agent.
func (os *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*entities.Order, error) {
	if req.RequesterID == "" || req.TotalAmount < 0 {
		return nil, fmt.Errorf("%w: requester and non-negative amount are required", entities.ErrInvalidArgument)
	}
	if req.PreferredAgent != "" && req.PreferredAgent == req.RequesterID {
		return nil, fmt.Errorf("%w: requester cannot be its own agent", entities.ErrInvalidArgument)
	}

	now := os.clock()
	deadline := now.Add(os.ttl(req.TTL))
	order := &entities.Order{
		ID:                 orderID(req),
		RequesterID:        req.RequesterID,
		LifecycleStatus:    entities.LifecyclePending,
		AssignmentStatus:   entities.AssignmentUnassigned,
		AssignmentDeadline: &deadline,
		TotalAmount:        req.TotalAmount,
		Currency:           os.policy.Currency,
		PaymentStatus:      entities.PaymentPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if req.PreferredAgent != "" {
		agent := req.PreferredAgent
		order.AgentID = &agent
		order.AssignmentStatus = entities.AssignmentAssigned
	}

	if err := os.repo.InsertOrder(ctx, order); err != nil {
		if req.RequestID != "" && errors.Is(err, entities.ErrOrderExists) {
			return os.replayCreate(ctx, order.ID, req)
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	order.History = []entities.AssignmentEvent{{
		OrderID:         order.ID,
		AgentID:         order.AgentID,
		ResultingStatus: order.AssignmentStatus,
		Lifecycle:       order.LifecycleStatus,
		At:              now,
	}}

	os.logger.InfoContext(ctx, "Order created", "order_id", order.ID, "requester_id", order.RequesterID,
		"assignment_status", order.AssignmentStatus, "total_amount", order.TotalAmount)
	os.emit(ctx, entities.EventOrderCreated, order)

	return order, nil
}

func (os *OrderService) replayCreate(ctx context.Context, id string, req CreateOrderRequest) (*entities.Order, error) {
	existing, err := os.repo.FindOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil || existing.RequesterID != req.RequesterID {
		return nil, fmt.Errorf("%w: request id already used", entities.ErrInvalidArgument)
	}
	os.logger.InfoContext(ctx, "Order creation replayed", "order_id", id, "request_id", req.RequestID)
	return existing, nil
}

func (os *OrderService) GetOrder(ctx context.Context, id string) (*entities.Order, error) {
	order, err := os.repo.FindOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, entities.ErrOrderNotFound
	}
	return order, nil
}

func (os *OrderService) GetUserOrders(ctx context.Context, requesterID string) ([]entities.Order, error) {
	return os.repo.FindOrdersByRequester(ctx, requesterID)
}

func (os *OrderService) GetAgentOrders(ctx context.Context, agentID string) ([]entities.Order, error) {
	return os.repo.FindOrdersByAgent(ctx, agentID)
}

// ListClaimable returns orders agentID may try to accept. The list is a hint;
// Accept decides.
func (os *OrderService) ListClaimable(ctx context.Context, agentID string, limit int) ([]entities.Order, error) {
	if agentID == "" {
		return nil, fmt.Errorf("%w: agent is required", entities.ErrInvalidArgument)
	}
	if limit <= 0 || limit > os.policy.ClaimableLimit {
		limit = os.policy.ClaimableLimit
	}
	return os.repo.FindClaimableOrders(ctx, agentID, os.clock(), limit)
}

// Accept claims the order for agentID. Exactly one concurrent caller wins;
// the others get ErrAlreadyClaimed.
func (os *OrderService) Accept(ctx context.Context, id, agentID string) (order *entities.Order, err error) {
	defer func() {
		observability.AcceptOutcomes.WithLabelValues(acceptOutcome(err)).Inc()
	}()

	if id == "" || agentID == "" {
		return nil, fmt.Errorf("%w: order and agent are required", entities.ErrInvalidArgument)
	}

	order, err = os.repo.ClaimOrder(ctx, id, agentID, os.clock())
	if err != nil {
		return nil, fmt.Errorf("failed to claim order: %w", err)
	}
	if order == nil {
		return nil, os.explainClaimFailure(ctx, id, agentID)
	}

	os.logger.InfoContext(ctx, "Order accepted", "order_id", id, "agent_id", agentID)
	os.emit(ctx, entities.EventOrderAccepted, order)

	return order, nil
}

func (os *OrderService) explainClaimFailure(ctx context.Context, id, agentID string) error {
	current, err := os.repo.FindOrderByID(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to read order after lost claim: %w", err)
	}
	if current == nil {
		return entities.ErrOrderNotFound
	}
	if current.LifecycleStatus == entities.LifecycleCancelled {
		return entities.ErrOrderNotEligible
	}
	if current.RequesterID == agentID {
		return fmt.Errorf("%w: requester cannot take its own order", entities.ErrOrderNotEligible)
	}
	return entities.ErrAlreadyClaimed
}

func acceptOutcome(err error) string {
	switch {
	case err == nil:
		return "won"
	case errors.Is(err, entities.ErrAlreadyClaimed):
		return "already_claimed"
	case entities.IsBusinessError(err):
		return "rejected"
	default:
		return "error"
	}
}

// Offer gives agentID an exclusive window to accept the order.
func (os *OrderService) Offer(ctx context.Context, id, agentID string, ttl time.Duration) (*entities.Order, error) {
	if id == "" || agentID == "" {
		return nil, fmt.Errorf("%w: order and agent are required", entities.ErrInvalidArgument)
	}

	now := os.clock()
	order, err := os.repo.AssignOrder(ctx, id, agentID, now.Add(os.ttl(ttl)), now)
	if err != nil {
		return nil, fmt.Errorf("failed to offer order: %w", err)
	}
	if order == nil {
		return nil, os.explainClaimFailure(ctx, id, agentID)
	}

	os.logger.InfoContext(ctx, "Order offered", "order_id", id, "agent_id", agentID, "deadline", order.AssignmentDeadline)
	os.emit(ctx, entities.EventOrderOffered, order)

	return order, nil
}

// Reject lets the offered agent decline before the deadline.
func (os *OrderService) Reject(ctx context.Context, id, agentID string) (*entities.Order, error) {
	return os.transition(ctx, id, agentID, entities.EventOrderRejected, os.repo.RejectOrder)
}

// Start moves an accepted order to IN_PROGRESS.
func (os *OrderService) Start(ctx context.Context, id, agentID string) (*entities.Order, error) {
	return os.transition(ctx, id, agentID, entities.EventOrderStarted, os.repo.StartOrder)
}

// Cancel ends a non-terminal order on behalf of its requester or accepted agent.
func (os *OrderService) Cancel(ctx context.Context, id, by string) (*entities.Order, error) {
	return os.transition(ctx, id, by, entities.EventOrderCancelled, os.repo.CancelOrder)
}

type transitionFunc func(ctx context.Context, id, actor string, now time.Time) (*entities.Order, error)

func (os *OrderService) transition(ctx context.Context, id, actor string, event entities.EventType, fn transitionFunc) (*entities.Order, error) {
	if id == "" || actor == "" {
		return nil, fmt.Errorf("%w: order and actor are required", entities.ErrInvalidArgument)
	}

	order, err := fn(ctx, id, actor, os.clock())
	if err != nil {
		return nil, fmt.Errorf("failed to apply %s: %w", event, err)
	}
	if order == nil {
		current, err := os.repo.FindOrderByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, entities.ErrOrderNotFound
		}
		os.logger.InfoContext(ctx, "Order transition rejected", "order_id", id, "actor", actor, "event", event,
			"lifecycle_status", current.LifecycleStatus, "assignment_status", current.AssignmentStatus)
		return nil, entities.ErrOrderNotEligible
	}

	os.logger.InfoContext(ctx, "Order transition applied", "order_id", id, "actor", actor, "event", event)
	os.emit(ctx, event, order)

	return order, nil
}

// ExpireStaleAssignments flips offers past their deadline to TIMED_OUT.
// Claimability never depends on this; it only makes the state visible.
func (os *OrderService) ExpireStaleAssignments(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = os.policy.ClaimableLimit
	}

	orders, err := os.repo.MarkTimedOutOrders(ctx, os.clock(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale assignments: %w", err)
	}

	for i := range orders {
		os.emit(ctx, entities.EventOrderTimedOut, &orders[i])
	}
	observability.AssignmentsTimedOut.Add(float64(len(orders)))

	return len(orders), nil
}

func (os *OrderService) emit(ctx context.Context, eventType entities.EventType, order *entities.Order) {
	observability.OrderTransitions.WithLabelValues(string(eventType)).Inc()
	publish(ctx, os.logger, os.publisher, entities.Event{
		Type:        eventType,
		AggregateID: order.ID,
		OccurredAt:  order.UpdatedAt,
		Payload:     order,
	})
}

// publish hands a committed event to the publisher and only logs failures.
func publish(ctx context.Context, logger *slog.Logger, publisher ports.EventPublisher, event entities.Event) {
	if publisher == nil {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logger.WarnContext(ctx, "Failed to publish event", "type", event.Type, "aggregate_id", event.AggregateID, "error", err)
	}
}

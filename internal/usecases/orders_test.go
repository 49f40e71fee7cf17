package usecases_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sand/scrap-pickup/backend/internal/entities"
	"github.com/sand/scrap-pickup/backend/internal/usecases"
)

func TestAcceptHasExactlyOneWinner(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.newOrder(t, "requester-1", 400)

	const agents = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		lost    int
	)
	for i := 0; i < agents; i++ {
		wg.Add(1)
		go func(agentID string) {
			defer wg.Done()
			_, err := env.orders.Accept(ctx, order.ID, agentID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners = append(winners, agentID)
			case assert.ErrorIs(t, err, entities.ErrAlreadyClaimed):
				lost++
			}
		}(fmt.Sprintf("agent-%d", i))
	}
	wg.Wait()

	require.Len(t, winners, 1, "exactly one agent must win the claim")
	assert.Equal(t, agents-1, lost)

	stored, err := env.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.AgentID)
	assert.Equal(t, winners[0], *stored.AgentID)
	assert.Equal(t, entities.AssignmentAccepted, stored.AssignmentStatus)
	assert.Equal(t, entities.LifecycleConfirmed, stored.LifecycleStatus)

	accepted := 0
	for _, ev := range stored.History {
		if ev.ResultingStatus == entities.AssignmentAccepted {
			accepted++
		}
	}
	assert.Equal(t, 1, accepted, "history must record a single acceptance")
}

func TestAcceptFirstCallerWinsLaterCallerConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.newOrder(t, "requester-1", 400)

	env.clock.Advance(10 * time.Second)
	won, err := env.orders.Accept(ctx, order.ID, "agent-x")
	require.NoError(t, err)
	assert.Equal(t, entities.LifecycleConfirmed, won.LifecycleStatus)
	assert.Equal(t, entities.AssignmentAccepted, won.AssignmentStatus)

	env.clock.Advance(time.Second)
	_, err = env.orders.Accept(ctx, order.ID, "agent-y")
	assert.ErrorIs(t, err, entities.ErrAlreadyClaimed)
}

func TestOfferIsExclusiveUntilDeadline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	order, err := env.orders.CreateOrder(ctx, usecases.CreateOrderRequest{
		RequesterID:    "requester-1",
		TotalAmount:    250,
		PreferredAgent: "agent-x",
	})
	require.NoError(t, err)
	require.Equal(t, entities.AssignmentAssigned, order.AssignmentStatus)
	require.NotNil(t, order.AssignmentDeadline)
	assert.Equal(t, epoch.Add(90*time.Second), *order.AssignmentDeadline, "default ttl applies")

	env.clock.Advance(30 * time.Second)
	_, err = env.orders.Accept(ctx, order.ID, "agent-y")
	assert.ErrorIs(t, err, entities.ErrAlreadyClaimed, "offer is exclusive before the deadline")

	claimable, err := env.orders.ListClaimable(ctx, "agent-y", 0)
	require.NoError(t, err)
	assert.Empty(t, claimable)

	env.clock.Advance(61 * time.Second)
	claimable, err = env.orders.ListClaimable(ctx, "agent-y", 0)
	require.NoError(t, err)
	require.Len(t, claimable, 1, "expired offer returns to the pool without a sweep")
	assert.Equal(t, order.ID, claimable[0].ID)

	_, err = env.orders.Accept(ctx, order.ID, "agent-y")
	require.NoError(t, err)

	_, err = env.orders.Accept(ctx, order.ID, "agent-x")
	assert.ErrorIs(t, err, entities.ErrAlreadyClaimed)
}

func TestOfferedAgentAcceptsBeforeDeadline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.newOrder(t, "requester-1", 100)

	offered, err := env.orders.Offer(ctx, order.ID, "agent-x", 5*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(5*time.Minute), *offered.AssignmentDeadline)

	env.clock.Advance(4 * time.Minute)
	accepted, err := env.orders.Accept(ctx, order.ID, "agent-x")
	require.NoError(t, err)
	assert.Nil(t, accepted.AssignmentDeadline)
	assert.True(t, accepted.HeldBy("agent-x"))
}

func TestOfferTTLIsCapped(t *testing.T) {
	env := newTestEnv(t)
	order := env.newOrder(t, "requester-1", 100)

	offered, err := env.orders.Offer(context.Background(), order.ID, "agent-x", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(30*time.Minute), *offered.AssignmentDeadline)
}

func TestRequesterCannotAcceptOwnOrder(t *testing.T) {
	env := newTestEnv(t)
	order := env.newOrder(t, "requester-1", 100)

	_, err := env.orders.Accept(context.Background(), order.ID, "requester-1")
	assert.ErrorIs(t, err, entities.ErrOrderNotEligible)
}

func TestAcceptUnknownOrder(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.orders.Accept(context.Background(), "missing", "agent-x")
	assert.ErrorIs(t, err, entities.ErrOrderNotFound)
}

func TestRejectReturnsOrderToPool(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.newOrder(t, "requester-1", 100)

	_, err := env.orders.Offer(ctx, order.ID, "agent-x", 0)
	require.NoError(t, err)

	_, err = env.orders.Reject(ctx, order.ID, "agent-y")
	assert.ErrorIs(t, err, entities.ErrOrderNotEligible, "only the offered agent can reject")

	rejected, err := env.orders.Reject(ctx, order.ID, "agent-x")
	require.NoError(t, err)
	assert.Equal(t, entities.AssignmentRejected, rejected.AssignmentStatus)

	claimable, err := env.orders.ListClaimable(ctx, "agent-y", 0)
	require.NoError(t, err)
	require.Len(t, claimable, 1)

	_, err = env.orders.Reject(ctx, order.ID, "agent-x")
	assert.ErrorIs(t, err, entities.ErrOrderNotEligible)
}

func TestStartRequiresAcceptedAgent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.newOrder(t, "requester-1", 100)

	_, err := env.orders.Start(ctx, order.ID, "agent-x")
	assert.ErrorIs(t, err, entities.ErrOrderNotEligible)

	_, err = env.orders.Accept(ctx, order.ID, "agent-x")
	require.NoError(t, err)

	_, err = env.orders.Start(ctx, order.ID, "agent-y")
	assert.ErrorIs(t, err, entities.ErrOrderNotEligible)

	started, err := env.orders.Start(ctx, order.ID, "agent-x")
	require.NoError(t, err)
	assert.Equal(t, entities.LifecycleInProgress, started.LifecycleStatus)
}

func TestCancel(t *testing.T) {
	ctx := context.Background()

	t.Run("requester cancels open order", func(t *testing.T) {
		env := newTestEnv(t)
		order := env.newOrder(t, "requester-1", 100)
		_, err := env.orders.Offer(ctx, order.ID, "agent-x", 0)
		require.NoError(t, err)

		cancelled, err := env.orders.Cancel(ctx, order.ID, "requester-1")
		require.NoError(t, err)
		assert.Equal(t, entities.LifecycleCancelled, cancelled.LifecycleStatus)
		assert.Equal(t, entities.AssignmentUnassigned, cancelled.AssignmentStatus)
		assert.Nil(t, cancelled.AgentID)

		_, err = env.orders.Accept(ctx, order.ID, "agent-x")
		assert.ErrorIs(t, err, entities.ErrOrderNotEligible)

		_, err = env.orders.Cancel(ctx, order.ID, "requester-1")
		assert.ErrorIs(t, err, entities.ErrOrderNotEligible, "terminal orders cannot be cancelled again")
	})

	t.Run("accepted agent cancels", func(t *testing.T) {
		env := newTestEnv(t)
		order := env.newOrder(t, "requester-1", 100)
		_, err := env.orders.Accept(ctx, order.ID, "agent-x")
		require.NoError(t, err)

		cancelled, err := env.orders.Cancel(ctx, order.ID, "agent-x")
		require.NoError(t, err)
		assert.Equal(t, entities.LifecycleCancelled, cancelled.LifecycleStatus)
		assert.True(t, cancelled.HeldBy("agent-x"))
	})

	t.Run("stranger cannot cancel", func(t *testing.T) {
		env := newTestEnv(t)
		order := env.newOrder(t, "requester-1", 100)

		_, err := env.orders.Cancel(ctx, order.ID, "agent-z")
		assert.ErrorIs(t, err, entities.ErrOrderNotEligible)
	})
}

func TestExpireStaleAssignments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	stale := env.newOrder(t, "requester-1", 100)
	_, err := env.orders.Offer(ctx, stale.ID, "agent-x", 0)
	require.NoError(t, err)

	fresh := env.newOrder(t, "requester-2", 100)
	env.clock.Advance(80 * time.Second)
	_, err = env.orders.Offer(ctx, fresh.ID, "agent-y", 0)
	require.NoError(t, err)

	env.clock.Advance(20 * time.Second)
	count, err := env.orders.ExpireStaleAssignments(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	timedOut, err := env.orders.GetOrder(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.AssignmentTimedOut, timedOut.AssignmentStatus)

	stillOffered, err := env.orders.GetOrder(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.AssignmentAssigned, stillOffered.AssignmentStatus)

	count, err = env.orders.ExpireStaleAssignments(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSweepNeverUndoesAcceptance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.newOrder(t, "requester-1", 100)

	_, err := env.orders.Offer(ctx, order.ID, "agent-x", 0)
	require.NoError(t, err)
	_, err = env.orders.Accept(ctx, order.ID, "agent-x")
	require.NoError(t, err)

	env.clock.Advance(time.Hour)
	count, err := env.orders.ExpireStaleAssignments(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, count)

	stored, err := env.orders.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.AssignmentAccepted, stored.AssignmentStatus)
}

func TestOrderQueries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first := env.newOrder(t, "requester-1", 100)
	env.clock.Advance(time.Second)
	second := env.newOrder(t, "requester-1", 200)
	env.newOrder(t, "requester-2", 300)

	_, err := env.orders.Accept(ctx, first.ID, "agent-x")
	require.NoError(t, err)

	mine, err := env.orders.GetUserOrders(ctx, "requester-1")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, second.ID, mine[0].ID, "newest first")

	held, err := env.orders.GetAgentOrders(ctx, "agent-x")
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, first.ID, held[0].ID)

	claimable, err := env.orders.ListClaimable(ctx, "requester-1", 0)
	require.NoError(t, err)
	require.Len(t, claimable, 1, "own orders are never listed")

	_, err = env.orders.GetOrder(ctx, "missing")
	assert.ErrorIs(t, err, entities.ErrOrderNotFound)
}

func TestCreateOrderSetsDeadline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name string
		ttl  time.Duration
		want time.Duration
	}{
		{name: "default ttl", ttl: 0, want: 90 * time.Second},
		{name: "requested ttl", ttl: 2 * time.Minute, want: 2 * time.Minute},
		{name: "capped ttl", ttl: 2 * time.Hour, want: 30 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			order, err := env.orders.CreateOrder(ctx, usecases.CreateOrderRequest{RequesterID: "requester-1", TotalAmount: 10, TTL: tc.ttl})
			require.NoError(t, err)
			assert.Equal(t, entities.AssignmentUnassigned, order.AssignmentStatus)
			assert.Nil(t, order.AgentID)
			require.NotNil(t, order.AssignmentDeadline)
			assert.Equal(t, epoch.Add(tc.want), *order.AssignmentDeadline)

			stored, err := env.orders.GetOrder(ctx, order.ID)
			require.NoError(t, err)
			require.NotNil(t, stored.AssignmentDeadline)
			assert.True(t, epoch.Add(tc.want).Equal(*stored.AssignmentDeadline))
		})
	}
}

func TestUnassignedOrderStaysClaimablePastDeadline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.newOrder(t, "requester-1", 10)

	env.clock.Advance(10 * time.Minute)
	flipped, err := env.orders.ExpireStaleAssignments(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, flipped, "only offers time out")

	accepted, err := env.orders.Accept(ctx, order.ID, "agent-1")
	require.NoError(t, err)
	assert.Nil(t, accepted.AssignmentDeadline)
}

func TestCreateOrderWithRequestIDIsReplayed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	req := usecases.CreateOrderRequest{RequesterID: "requester-1", TotalAmount: 250, RequestID: "req-1"}

	first, err := env.orders.CreateOrder(ctx, req)
	require.NoError(t, err)
	second, err := env.orders.CreateOrder(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	orders, err := env.orders.GetUserOrders(ctx, "requester-1")
	require.NoError(t, err)
	assert.Len(t, orders, 1)

	other, err := env.orders.CreateOrder(ctx, usecases.CreateOrderRequest{RequesterID: "requester-2", TotalAmount: 250, RequestID: "req-1"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID, "request ids are scoped to the requester")

	plain, err := env.orders.CreateOrder(ctx, usecases.CreateOrderRequest{RequesterID: "requester-1", TotalAmount: 250})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, plain.ID)
}

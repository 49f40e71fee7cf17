package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.openly.dev/pointy"
)

func TestOrderClaimPredicates(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	past := now.Add(-time.Second)
	future := now.Add(time.Minute)

	cases := []struct {
		name      string
		order     Order
		agent     string
		listable  bool
		claimable bool
	}{
		{
			name:      "unassigned",
			order:     Order{RequesterID: "r", LifecycleStatus: LifecyclePending, AssignmentStatus: AssignmentUnassigned},
			agent:     "a",
			listable:  true,
			claimable: true,
		},
		{
			name:      "requester never claims own order",
			order:     Order{RequesterID: "a", LifecycleStatus: LifecyclePending, AssignmentStatus: AssignmentUnassigned},
			agent:     "a",
			listable:  false,
			claimable: false,
		},
		{
			name: "offer to someone else before deadline",
			order: Order{RequesterID: "r", LifecycleStatus: LifecyclePending, AssignmentStatus: AssignmentAssigned,
				AgentID: pointy.String("b"), AssignmentDeadline: &future},
			agent:     "a",
			listable:  false,
			claimable: false,
		},
		{
			name: "offer to someone else after deadline",
			order: Order{RequesterID: "r", LifecycleStatus: LifecyclePending, AssignmentStatus: AssignmentAssigned,
				AgentID: pointy.String("b"), AssignmentDeadline: &past},
			agent:     "a",
			listable:  true,
			claimable: true,
		},
		{
			name: "offered agent before deadline",
			order: Order{RequesterID: "r", LifecycleStatus: LifecyclePending, AssignmentStatus: AssignmentAssigned,
				AgentID: pointy.String("a"), AssignmentDeadline: &future},
			agent:     "a",
			listable:  false,
			claimable: true,
		},
		{
			name: "rejected by the previous holder",
			order: Order{RequesterID: "r", LifecycleStatus: LifecyclePending, AssignmentStatus: AssignmentRejected,
				AgentID: pointy.String("b")},
			agent:     "a",
			listable:  true,
			claimable: true,
		},
		{
			name: "accepted",
			order: Order{RequesterID: "r", LifecycleStatus: LifecycleConfirmed, AssignmentStatus: AssignmentAccepted,
				AgentID: pointy.String("b")},
			agent:     "a",
			listable:  false,
			claimable: false,
		},
		{
			name:      "cancelled",
			order:     Order{RequesterID: "r", LifecycleStatus: LifecycleCancelled, AssignmentStatus: AssignmentUnassigned},
			agent:     "a",
			listable:  false,
			claimable: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.listable, tc.order.Listable(tc.agent, now), "listable")
			assert.Equal(t, tc.claimable, tc.order.ClaimableBy(tc.agent, now), "claimable")
		})
	}
}

func TestOrderCancellable(t *testing.T) {
	open := Order{RequesterID: "r", LifecycleStatus: LifecyclePending, AssignmentStatus: AssignmentAssigned, AgentID: pointy.String("a")}
	assert.True(t, open.Cancellable("r"))
	assert.False(t, open.Cancellable("a"), "an offered agent rejects instead")

	accepted := Order{RequesterID: "r", LifecycleStatus: LifecycleConfirmed, AssignmentStatus: AssignmentAccepted, AgentID: pointy.String("a")}
	assert.True(t, accepted.Cancellable("a"))
	assert.False(t, accepted.Cancellable("b"))

	done := Order{RequesterID: "r", LifecycleStatus: LifecycleCompleted, AssignmentStatus: AssignmentAccepted, AgentID: pointy.String("a")}
	assert.False(t, done.Cancellable("r"))
}

func TestCounterpartCategory(t *testing.T) {
	assert.Equal(t, CategoryPaymentReceived, CategoryPaymentSent.CounterpartCategory())
	assert.Equal(t, CategoryCommission, CategoryCommission.CounterpartCategory())
}

func TestIsBusinessError(t *testing.T) {
	assert.True(t, IsBusinessError(ErrAlreadyClaimed))
	assert.True(t, IsBusinessError(ErrInsufficientBalance))
	assert.False(t, IsBusinessError(assert.AnError))
	assert.False(t, IsBusinessError(nil))
}

package entities

import "time"

// LifecycleStatus is the business progress of a pickup order.
type LifecycleStatus string

const (
	LifecyclePending    LifecycleStatus = "PENDING"
	LifecycleConfirmed  LifecycleStatus = "CONFIRMED"
	LifecycleInProgress LifecycleStatus = "IN_PROGRESS"
	LifecycleCompleted  LifecycleStatus = "COMPLETED"
	LifecycleCancelled  LifecycleStatus = "CANCELLED"
)

func (s LifecycleStatus) IsValid() bool {
	switch s {
	case LifecyclePending, LifecycleConfirmed, LifecycleInProgress, LifecycleCompleted, LifecycleCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s LifecycleStatus) IsTerminal() bool {
	return s == LifecycleCompleted || s == LifecycleCancelled
}

// AssignmentStatus drives agent matching independently of the lifecycle.
type AssignmentStatus string

const (
	AssignmentUnassigned AssignmentStatus = "UNASSIGNED"
	AssignmentAssigned   AssignmentStatus = "ASSIGNED"
	AssignmentAccepted   AssignmentStatus = "ACCEPTED"
	AssignmentTimedOut   AssignmentStatus = "TIMED_OUT"
	AssignmentRejected   AssignmentStatus = "REJECTED"
)

func (s AssignmentStatus) IsValid() bool {
	switch s {
	case AssignmentUnassigned, AssignmentAssigned, AssignmentAccepted, AssignmentTimedOut, AssignmentRejected:
		return true
	default:
		return false
	}
}

// OpenAssignmentStatuses can be claimed by any agent without looking at the deadline.
var OpenAssignmentStatuses = []AssignmentStatus{AssignmentUnassigned, AssignmentTimedOut, AssignmentRejected}

// PaymentStatus tracks settlement of the order amount.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentCompleted PaymentStatus = "COMPLETED"
	PaymentFailed    PaymentStatus = "FAILED"
	PaymentRefunded  PaymentStatus = "REFUNDED"
)

// Order is a single scrap pickup job.
type Order struct {
	ID                 string            `json:"id" db:"id"`
	RequesterID        string            `json:"requester_id" db:"requester_id"`
	AgentID            *string           `json:"agent_id,omitempty" db:"agent_id"`
	LifecycleStatus    LifecycleStatus   `json:"lifecycle_status" db:"lifecycle_status"`
	AssignmentStatus   AssignmentStatus  `json:"assignment_status" db:"assignment_status"`
	AssignmentDeadline *time.Time        `json:"assignment_deadline,omitempty" db:"assignment_deadline"`
	TotalAmount        int64             `json:"total_amount" db:"total_amount"`
	Currency           string            `json:"currency" db:"currency"`
	PaymentStatus      PaymentStatus     `json:"payment_status" db:"payment_status"`
	CreatedAt          time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at" db:"updated_at"`
	History            []AssignmentEvent `json:"assignment_history,omitempty" db:"-"`
}

// AssignmentEvent is one append-only row of an order's assignment audit trail.
type AssignmentEvent struct {
	OrderID         string           `json:"order_id" db:"order_id"`
	AgentID         *string          `json:"agent_id,omitempty" db:"agent_id"`
	ResultingStatus AssignmentStatus `json:"resulting_status" db:"resulting_status"`
	Lifecycle       LifecycleStatus  `json:"lifecycle_status" db:"lifecycle_status"`
	At              time.Time        `json:"at" db:"at"`
}

// HeldBy reports whether agentID is the order's current holder.
func (o *Order) HeldBy(agentID string) bool {
	return o.AgentID != nil && *o.AgentID == agentID
}

// DeadlinePassed reports whether the assignment deadline is absent or already behind now.
func (o *Order) DeadlinePassed(now time.Time) bool {
	return o.AssignmentDeadline == nil || o.AssignmentDeadline.Before(now)
}

// Listable is the listClaimable predicate: open for claim and not held by agentID.
func (o *Order) Listable(agentID string, now time.Time) bool {
	if o.LifecycleStatus != LifecyclePending || o.RequesterID == agentID || o.HeldBy(agentID) {
		return false
	}
	switch o.AssignmentStatus {
	case AssignmentUnassigned, AssignmentTimedOut, AssignmentRejected:
		return true
	case AssignmentAssigned:
		return o.DeadlinePassed(now)
	default:
		return false
	}
}

// ClaimableBy is the accept predicate. It differs from Listable in one case:
// the agent an order was offered to may accept it before the deadline.
func (o *Order) ClaimableBy(agentID string, now time.Time) bool {
	if o.LifecycleStatus != LifecyclePending || o.RequesterID == agentID {
		return false
	}
	switch o.AssignmentStatus {
	case AssignmentUnassigned, AssignmentTimedOut, AssignmentRejected:
		return true
	case AssignmentAssigned:
		return o.DeadlinePassed(now) || o.HeldBy(agentID)
	default:
		return false
	}
}

// Cancellable reports whether by may cancel the order.
func (o *Order) Cancellable(by string) bool {
	if o.LifecycleStatus.IsTerminal() {
		return false
	}
	return o.RequesterID == by || (o.AssignmentStatus == AssignmentAccepted && o.HeldBy(by))
}

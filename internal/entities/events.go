package entities

import "time"

type EventType string

const (
	EventOrderCreated      EventType = "order.created"
	EventOrderOffered      EventType = "order.offered"
	EventOrderAccepted     EventType = "order.accepted"
	EventOrderRejected     EventType = "order.rejected"
	EventOrderStarted      EventType = "order.started"
	EventOrderCancelled    EventType = "order.cancelled"
	EventOrderCompleted    EventType = "order.completed"
	EventOrderTimedOut     EventType = "order.timed_out"
	EventWalletCredited    EventType = "wallet.credited"
	EventWalletTransferred EventType = "wallet.transferred"
	EventWalletRefunded    EventType = "wallet.refunded"
	EventWalletWithdrawn   EventType = "wallet.withdrawn"
)

// Event is a notification emitted after a state change has been committed.
type Event struct {
	Type        EventType `json:"type"`
	AggregateID string    `json:"aggregate_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Payload     any       `json:"payload,omitempty"`
}

package ports

import (
	"context"

	"github.com/sand/scrap-pickup/backend/internal/entities"
)

// PaymentGateway is the external card processor used for wallet recharges.
type PaymentGateway interface {
	InitiateCharge(ctx context.Context, req entities.ChargeRequest) (*entities.Charge, error)
	VerifyCharge(ctx context.Context, externalOrderID string) (*entities.ChargeVerification, error)
	// RefundCharge refunds amount, or the whole charge when amount is nil.
	RefundCharge(ctx context.Context, externalPaymentID string, amount *int64, idempotencyKey string) (string, error)
}

// EventPublisher delivers committed domain events. Delivery is best effort.
type EventPublisher interface {
	Publish(ctx context.Context, event entities.Event) error
}

// Locker grants at most one holder per key at a time.
type Locker interface {
	TryLock(ctx context.Context, key string) (bool, error)
	Unlock(ctx context.Context, key string) error
}

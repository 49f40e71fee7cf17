package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/sand/scrap-pickup/backend/internal/core/ports"
	"github.com/sand/scrap-pickup/backend/internal/entities"
)

var (
	_ ports.PaymentGateway = (*Sandbox)(nil)
	_ ports.PaymentGateway = (*Stripe)(nil)
)

var (
	ErrUnknownCharge   = errors.New("sandbox: unknown charge")
	ErrRefundTooLarge  = errors.New("sandbox: refund exceeds captured amount")
	ErrChargeNotPaid   = errors.New("sandbox: charge not captured")
	errRefundsDisabled = errors.New("sandbox: refunds unavailable")
)

type sandboxCharge struct {
	request  entities.ChargeRequest
	id       string
	captured bool
	refunded int64
}

// Sandbox is an in-memory gateway for local runs and tests. Charges stay
// uncaptured until Capture is called.
type Sandbox struct {
	mu            sync.Mutex
	charges       map[string]*sandboxCharge
	refundKeys    map[string]string
	refundsFailed bool
}

func NewSandbox() *Sandbox {
	return &Sandbox{
		charges:    make(map[string]*sandboxCharge),
		refundKeys: make(map[string]string),
	}
}

func (s *Sandbox) InitiateCharge(_ context.Context, req entities.ChargeRequest) (*entities.Charge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := "pi_sandbox_" + uuid.NewString()
	s.charges[id] = &sandboxCharge{request: req, id: id}

	return &entities.Charge{
		ExternalOrderID: id,
		ClientSecret:    id + "_secret",
		Amount:          req.Amount,
		Currency:        req.Currency,
		Reference:       req.Reference,
	}, nil
}

// Capture marks a charge as paid, as the card network would.
func (s *Sandbox) Capture(externalOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.charges[externalOrderID]
	if !ok {
		return ErrUnknownCharge
	}
	c.captured = true
	return nil
}

// FailRefunds makes every following RefundCharge call fail until reset.
func (s *Sandbox) FailRefunds(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refundsFailed = fail
}

func (s *Sandbox) VerifyCharge(_ context.Context, externalOrderID string) (*entities.ChargeVerification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.charges[externalOrderID]
	if !ok {
		return nil, ErrUnknownCharge
	}

	return &entities.ChargeVerification{
		ExternalOrderID:   c.id,
		ExternalPaymentID: c.id,
		Captured:          c.captured,
		Amount:            c.request.Amount,
		Currency:          c.request.Currency,
		OwnerID:           c.request.OwnerID,
	}, nil
}

func (s *Sandbox) RefundCharge(_ context.Context, externalPaymentID string, amount *int64, idempotencyKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refundsFailed {
		return "", errRefundsDisabled
	}
	if id, ok := s.refundKeys[idempotencyKey]; ok && idempotencyKey != "" {
		return id, nil
	}

	c, ok := s.charges[externalPaymentID]
	if !ok {
		return "", ErrUnknownCharge
	}
	if !c.captured {
		return "", ErrChargeNotPaid
	}

	value := c.request.Amount - c.refunded
	if amount != nil {
		value = *amount
	}
	if value <= 0 || c.refunded+value > c.request.Amount {
		return "", fmt.Errorf("%w: %d of %d already refunded", ErrRefundTooLarge, c.refunded, c.request.Amount)
	}
	c.refunded += value

	id := "re_sandbox_" + uuid.NewString()
	if idempotencyKey != "" {
		s.refundKeys[idempotencyKey] = id
	}
	return id, nil
}

// Refunded returns the total refunded on a charge.
func (s *Sandbox) Refunded(externalPaymentID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.charges[externalPaymentID]; ok {
		return c.refunded
	}
	return 0
}

package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/refund"

	"github.com/sand/scrap-pickup/backend/internal/entities"
)

const (
	metadataOwnerID   = "owner_id"
	metadataReference = "reference"
)

// Stripe collects recharges as PaymentIntents. The PaymentIntent id serves
// as both the external order id and the external payment id.
type Stripe struct {
	logger  *slog.Logger
	intents paymentintent.Client
	refunds refund.Client
}

func NewStripe(logger *slog.Logger, apiKey string) *Stripe {
	backend := stripe.GetBackend(stripe.APIBackend)
	return &Stripe{
		logger:  logger,
		intents: paymentintent.Client{B: backend, Key: apiKey},
		refunds: refund.Client{B: backend, Key: apiKey},
	}
}

func (s *Stripe) InitiateCharge(ctx context.Context, req entities.ChargeRequest) (*entities.Charge, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.Reference)
	params.AddMetadata(metadataOwnerID, req.OwnerID)
	params.AddMetadata(metadataReference, req.Reference)

	pi, err := s.intents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	s.logger.Debug("Stripe payment intent created", "external_order_id", pi.ID, "owner_id", req.OwnerID)
	return &entities.Charge{
		ExternalOrderID: pi.ID,
		ClientSecret:    pi.ClientSecret,
		Amount:          pi.Amount,
		Currency:        string(pi.Currency),
		Reference:       req.Reference,
	}, nil
}

func (s *Stripe) VerifyCharge(ctx context.Context, externalOrderID string) (*entities.ChargeVerification, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := s.intents.Get(externalOrderID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: get payment intent: %w", err)
	}

	return &entities.ChargeVerification{
		ExternalOrderID:   pi.ID,
		ExternalPaymentID: pi.ID,
		Captured:          pi.Status == stripe.PaymentIntentStatusSucceeded,
		Amount:            pi.AmountReceived,
		Currency:          strings.ToUpper(string(pi.Currency)),
		OwnerID:           pi.Metadata[metadataOwnerID],
	}, nil
}

func (s *Stripe) RefundCharge(ctx context.Context, externalPaymentID string, amount *int64, idempotencyKey string) (string, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(externalPaymentID),
		Amount:        amount,
	}
	params.Context = ctx
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}

	r, err := s.refunds.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe: create refund: %w", err)
	}

	s.logger.Info("Stripe refund created", "refund_id", r.ID, "external_payment_id", externalPaymentID)
	return r.ID, nil
}

package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.openly.dev/pointy"

	"github.com/sand/scrap-pickup/backend/internal/entities"
)

func TestSandboxChargeLifecycle(t *testing.T) {
	ctx := context.Background()
	sandbox := NewSandbox()

	charge, err := sandbox.InitiateCharge(ctx, entities.ChargeRequest{OwnerID: "owner-1", Amount: 500, Currency: "INR", Reference: "ref-1"})
	require.NoError(t, err)

	verification, err := sandbox.VerifyCharge(ctx, charge.ExternalOrderID)
	require.NoError(t, err)
	assert.False(t, verification.Captured)

	_, err = sandbox.RefundCharge(ctx, charge.ExternalOrderID, nil, "key-0")
	assert.ErrorIs(t, err, ErrChargeNotPaid)

	require.NoError(t, sandbox.Capture(charge.ExternalOrderID))
	verification, err = sandbox.VerifyCharge(ctx, charge.ExternalOrderID)
	require.NoError(t, err)
	assert.True(t, verification.Captured)
	assert.Equal(t, "owner-1", verification.OwnerID)
	assert.Equal(t, int64(500), verification.Amount)

	first, err := sandbox.RefundCharge(ctx, verification.ExternalPaymentID, pointy.Int64(200), "key-1")
	require.NoError(t, err)
	replay, err := sandbox.RefundCharge(ctx, verification.ExternalPaymentID, pointy.Int64(200), "key-1")
	require.NoError(t, err)
	assert.Equal(t, first, replay, "same idempotency key returns the same refund")
	assert.Equal(t, int64(200), sandbox.Refunded(verification.ExternalPaymentID))

	_, err = sandbox.RefundCharge(ctx, verification.ExternalPaymentID, pointy.Int64(400), "key-2")
	assert.ErrorIs(t, err, ErrRefundTooLarge)

	_, err = sandbox.RefundCharge(ctx, verification.ExternalPaymentID, nil, "key-3")
	require.NoError(t, err)
	assert.Equal(t, int64(500), sandbox.Refunded(verification.ExternalPaymentID))
}

func TestSandboxUnknownCharge(t *testing.T) {
	sandbox := NewSandbox()

	_, err := sandbox.VerifyCharge(context.Background(), "pi_missing")
	assert.ErrorIs(t, err, ErrUnknownCharge)
	assert.ErrorIs(t, sandbox.Capture("pi_missing"), ErrUnknownCharge)
}

package entities

import "errors"

// Business rejections. Callers branch on these with errors.Is and never retry them.
var (
	ErrAlreadyClaimed             = errors.New("order already claimed")
	ErrOrderNotFound              = errors.New("order not found")
	ErrOrderNotEligible           = errors.New("order not eligible for this operation")
	ErrOrderAlreadyPaid           = errors.New("order already paid")
	ErrInsufficientBalance        = errors.New("insufficient balance")
	ErrWalletFrozen               = errors.New("wallet is frozen")
	ErrWalletNotFound             = errors.New("wallet not found")
	ErrDuplicateExternalReference = errors.New("duplicate external reference")
	ErrEntryNotFound              = errors.New("ledger entry not found")
	ErrEntryNotRefundable         = errors.New("ledger entry is not refundable")
	ErrAlreadyRefunded            = errors.New("ledger entry already refunded")
	ErrRefundExceedsOriginal      = errors.New("refund amount exceeds original amount")
	ErrChargeNotCaptured          = errors.New("charge not captured")
	ErrOwnerMismatch              = errors.New("charge belongs to another owner")
	ErrInvalidArgument            = errors.New("invalid argument")
)

// ErrOrderExists is returned by stores when an order id is already taken.
var ErrOrderExists = errors.New("order already exists")

var businessErrors = []error{
	ErrAlreadyClaimed,
	ErrOrderNotFound,
	ErrOrderNotEligible,
	ErrOrderAlreadyPaid,
	ErrInsufficientBalance,
	ErrWalletFrozen,
	ErrWalletNotFound,
	ErrDuplicateExternalReference,
	ErrEntryNotFound,
	ErrEntryNotRefundable,
	ErrAlreadyRefunded,
	ErrRefundExceedsOriginal,
	ErrChargeNotCaptured,
	ErrOwnerMismatch,
	ErrInvalidArgument,
}

// IsBusinessError reports whether err is a declared rejection rather than a storage or transport fault.
func IsBusinessError(err error) bool {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

package entities

import "time"

type Direction string

const (
	Credit Direction = "CREDIT"
	Debit  Direction = "DEBIT"
)

type Category string

const (
	CategoryRecharge        Category = "RECHARGE"
	CategoryPaymentSent     Category = "PAYMENT_SENT"
	CategoryPaymentReceived Category = "PAYMENT_RECEIVED"
	CategoryRefund          Category = "REFUND"
	CategoryCommission      Category = "COMMISSION"
	CategoryWithdrawal      Category = "WITHDRAWAL"
)

func (c Category) IsValid() bool {
	switch c {
	case CategoryRecharge, CategoryPaymentSent, CategoryPaymentReceived,
		CategoryRefund, CategoryCommission, CategoryWithdrawal:
		return true
	default:
		return false
	}
}

// CounterpartCategory is the category of the credit leg of a transfer
// whose debit leg is c.
func (c Category) CounterpartCategory() Category {
	if c == CategoryPaymentSent {
		return CategoryPaymentReceived
	}
	return c
}

type EntryStatus string

const (
	EntryPending EntryStatus = "PENDING"
	EntrySuccess EntryStatus = "SUCCESS"
	EntryFailed  EntryStatus = "FAILED"
)

// LedgerEntry is an immutable record of one balance movement.
type LedgerEntry struct {
	ID                string      `json:"id" db:"id"`
	OwnerID           string      `json:"owner_id" db:"owner_id"`
	Direction         Direction   `json:"direction" db:"direction"`
	Amount            int64       `json:"amount" db:"amount"`
	BalanceBefore     int64       `json:"balance_before" db:"balance_before"`
	BalanceAfter      int64       `json:"balance_after" db:"balance_after"`
	Category          Category    `json:"category" db:"category"`
	Status            EntryStatus `json:"status" db:"status"`
	TransferID        *string     `json:"transfer_id,omitempty" db:"transfer_id"`
	RelatedOrder      *string     `json:"related_order,omitempty" db:"related_order"`
	ExternalReference *string     `json:"external_reference,omitempty" db:"external_reference"`
	RefundOf          *string     `json:"refund_of,omitempty" db:"refund_of"`
	CreatedAt         time.Time   `json:"created_at" db:"created_at"`
}

// Transfer groups the two legs of a wallet to wallet movement.
type Transfer struct {
	ID     string       `json:"id"`
	Debit  *LedgerEntry `json:"debit"`
	Credit *LedgerEntry `json:"credit"`
}

// Refund groups the entries written by a refund. Credit is nil when a
// gateway recharge is refunded, since the counterparty is external.
type Refund struct {
	Debit    *LedgerEntry `json:"debit"`
	Credit   *LedgerEntry `json:"credit,omitempty"`
	RefundID string       `json:"gateway_refund_id,omitempty"`
}

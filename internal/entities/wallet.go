package entities

import (
	"time"
)

type WalletStatus string

const (
	WalletActive WalletStatus = "ACTIVE"
	WalletFrozen WalletStatus = "FROZEN"
)

// Wallet holds the internal balance of one actor, in minor units.
type Wallet struct {
	OwnerID   string       `json:"owner_id" db:"owner_id"`
	Balance   int64        `json:"balance" db:"balance"`
	Currency  string       `json:"currency" db:"currency"`
	Status    WalletStatus `json:"status" db:"status"`
	CreatedAt time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt time.Time    `json:"updated_at" db:"updated_at"`
}

func (w *Wallet) IsActive() bool {
	return w.Status == WalletActive
}

// BalanceChange is the result of a conditional balance update.
type BalanceChange struct {
	Before int64
	After  int64
}

package boltstore

import (
	"context"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/sand/scrap-pickup/backend/internal/entities"
)

// CreateWallet inserts an empty active wallet, or returns the existing one.
func (s *Store) CreateWallet(ctx context.Context, ownerID, currency string, now time.Time) (*entities.Wallet, error) {
	var wallet entities.Wallet
	err := s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWallets)
		found, err := getJSON(b, ownerID, &wallet)
		if err != nil || found {
			return err
		}
		wallet = entities.Wallet{
			OwnerID:   ownerID,
			Currency:  currency,
			Status:    entities.WalletActive,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return putJSON(b, ownerID, &wallet)
	})
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

func (s *Store) FindWallet(ctx context.Context, ownerID string) (*entities.Wallet, error) {
	var wallet *entities.Wallet
	err := s.view(ctx, func(tx *bolt.Tx) error {
		var w entities.Wallet
		found, err := getJSON(tx.Bucket(bucketWallets), ownerID, &w)
		if found {
			wallet = &w
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

// DebitWallet returns nil when the wallet is missing, frozen or short of funds.
func (s *Store) DebitWallet(ctx context.Context, ownerID string, amount int64, now time.Time) (*entities.BalanceChange, error) {
	return s.changeBalance(ctx, ownerID, now, func(w *entities.Wallet) bool {
		if w.Balance < amount {
			return false
		}
		w.Balance -= amount
		return true
	})
}

// CreditWallet returns nil when the wallet is missing or frozen.
func (s *Store) CreditWallet(ctx context.Context, ownerID string, amount int64, now time.Time) (*entities.BalanceChange, error) {
	return s.changeBalance(ctx, ownerID, now, func(w *entities.Wallet) bool {
		w.Balance += amount
		return true
	})
}

func (s *Store) SetWalletStatus(ctx context.Context, ownerID string, status entities.WalletStatus, now time.Time) (*entities.Wallet, error) {
	var wallet *entities.Wallet
	err := s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWallets)
		var w entities.Wallet
		found, err := getJSON(b, ownerID, &w)
		if err != nil || !found {
			return err
		}
		w.Status = status
		w.UpdatedAt = now
		wallet = &w
		return putJSON(b, ownerID, &w)
	})
	if err != nil {
		return nil, err
	}
	return wallet, nil
}

func (s *Store) changeBalance(ctx context.Context, ownerID string, now time.Time, apply func(w *entities.Wallet) bool) (*entities.BalanceChange, error) {
	var change *entities.BalanceChange
	err := s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWallets)
		var w entities.Wallet
		found, err := getJSON(b, ownerID, &w)
		if err != nil || !found || !w.IsActive() {
			return err
		}
		before := w.Balance
		if !apply(&w) {
			return nil
		}
		w.UpdatedAt = now
		change = &entities.BalanceChange{Before: before, After: w.Balance}
		return putJSON(b, ownerID, &w)
	})
	if err != nil {
		return nil, err
	}
	return change, nil
}

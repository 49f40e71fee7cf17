package boltstore

import (
	"context"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/sand/scrap-pickup/backend/internal/entities"
)

type idempotencyKey struct {
	Reference string    `json:"reference"`
	OwnerID   string    `json:"owner_id"`
	EntryID   string    `json:"entry_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// InsertEntry stores a new ledger entry and its indexes. A second refund of
// the same entry and a second recharge with the same reference are rejected.
func (s *Store) InsertEntry(ctx context.Context, entry *entities.LedgerEntry) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		if entry.RefundOf != nil {
			refunds := tx.Bucket(bucketRefunds)
			if refunds.Get([]byte(*entry.RefundOf)) != nil {
				return entities.ErrAlreadyRefunded
			}
			if err := refunds.Put([]byte(*entry.RefundOf), []byte(entry.ID)); err != nil {
				return err
			}
		}

		if entry.Category == entities.CategoryRecharge && entry.ExternalReference != nil {
			refs := tx.Bucket(bucketRechargeRefs)
			if refs.Get([]byte(*entry.ExternalReference)) != nil {
				return entities.ErrDuplicateExternalReference
			}
			if err := refs.Put([]byte(*entry.ExternalReference), []byte(entry.ID)); err != nil {
				return err
			}
		}

		byOwner := tx.Bucket(bucketEntriesByOwner)
		seq, err := byOwner.NextSequence()
		if err != nil {
			return err
		}
		if err = byOwner.Put(seqKey(entry.OwnerID, seq), []byte(entry.ID)); err != nil {
			return err
		}

		if entry.TransferID != nil {
			byTransfer := tx.Bucket(bucketEntriesByTransfer)
			if err = byTransfer.Put(append(prefixOf(*entry.TransferID), entry.ID...), []byte(entry.ID)); err != nil {
				return err
			}
		}

		return putJSON(tx.Bucket(bucketEntries), entry.ID, entry)
	})
}

func (s *Store) FindEntryByID(ctx context.Context, id string) (*entities.LedgerEntry, error) {
	var entry *entities.LedgerEntry
	err := s.view(ctx, func(tx *bolt.Tx) (err error) {
		entry, err = loadEntry(tx, id)
		return err
	})
	return entry, err
}

// FindEntriesByOwner returns the newest entries of an owner first.
func (s *Store) FindEntriesByOwner(ctx context.Context, ownerID string, limit int) ([]entities.LedgerEntry, error) {
	var entries []entities.LedgerEntry
	err := s.view(ctx, func(tx *bolt.Tx) error {
		var ids []string
		err := scanPrefix(tx.Bucket(bucketEntriesByOwner), ownerID, func(_, v []byte) error {
			ids = append(ids, string(v))
			return nil
		})
		if err != nil {
			return err
		}
		for i := len(ids) - 1; i >= 0 && (limit <= 0 || len(entries) < limit); i-- {
			entry, err := loadEntry(tx, ids[i])
			if err != nil {
				return err
			}
			if entry != nil {
				entries = append(entries, *entry)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) FindEntriesByTransfer(ctx context.Context, transferID string) ([]entities.LedgerEntry, error) {
	var entries []entities.LedgerEntry
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return scanPrefix(tx.Bucket(bucketEntriesByTransfer), transferID, func(_, v []byte) error {
			entry, err := loadEntry(tx, string(v))
			if err != nil || entry == nil {
				return err
			}
			entries = append(entries, *entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) FindRefundOf(ctx context.Context, entryID string) (*entities.LedgerEntry, error) {
	return s.findIndexed(ctx, bucketRefunds, entryID)
}

// ReserveReference reports false when the reference was already reserved.
func (s *Store) ReserveReference(ctx context.Context, reference, ownerID string, now time.Time) (bool, error) {
	reserved := false
	err := s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIdempotencyKeys)
		if b.Get([]byte(reference)) != nil {
			return nil
		}
		reserved = true
		return putJSON(b, reference, &idempotencyKey{Reference: reference, OwnerID: ownerID, CreatedAt: now})
	})
	if err != nil {
		return false, err
	}
	return reserved, nil
}

func (s *Store) AttachReferenceEntry(ctx context.Context, reference, entryID string) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketIdempotencyKeys)
		var key idempotencyKey
		found, err := getJSON(b, reference, &key)
		if err != nil || !found {
			return err
		}
		key.EntryID = entryID
		return putJSON(b, reference, &key)
	})
}

func (s *Store) FindEntryByReference(ctx context.Context, reference string) (*entities.LedgerEntry, error) {
	var entry *entities.LedgerEntry
	err := s.view(ctx, func(tx *bolt.Tx) error {
		var key idempotencyKey
		found, err := getJSON(tx.Bucket(bucketIdempotencyKeys), reference, &key)
		if err != nil || !found || key.EntryID == "" {
			return err
		}
		entry, err = loadEntry(tx, key.EntryID)
		return err
	})
	return entry, err
}

func (s *Store) findIndexed(ctx context.Context, index []byte, key string) (*entities.LedgerEntry, error) {
	var entry *entities.LedgerEntry
	err := s.view(ctx, func(tx *bolt.Tx) (err error) {
		id := tx.Bucket(index).Get([]byte(key))
		if id == nil {
			return nil
		}
		entry, err = loadEntry(tx, string(id))
		return err
	})
	return entry, err
}

func loadEntry(tx *bolt.Tx, id string) (*entities.LedgerEntry, error) {
	var entry entities.LedgerEntry
	found, err := getJSON(tx.Bucket(bucketEntries), id, &entry)
	if err != nil || !found {
		return nil, err
	}
	return &entry, nil
}

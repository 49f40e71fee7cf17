// Package boltstore is a single-node BoltDB backend for orders, wallets and
// the ledger. Bolt serializes write transactions, so every conditional update
// is a compare-and-swap without further locking. A transaction started by
// WithinTransaction travels in the context and is joined by every repository
// call made with that context.
package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/sand/scrap-pickup/backend/internal/usecases"
)

var (
	_ usecases.OrdersRepository       = (*Store)(nil)
	_ usecases.WalletsRepository      = (*Store)(nil)
	_ usecases.TransactionsRepository = (*Store)(nil)
	_ usecases.Transactor             = (*Store)(nil)
)

var (
	bucketOrders            = []byte("orders")
	bucketOrderHistory      = []byte("order_history")
	bucketWallets           = []byte("wallets")
	bucketEntries           = []byte("ledger_entries")
	bucketEntriesByOwner    = []byte("entries_by_owner")
	bucketEntriesByTransfer = []byte("entries_by_transfer")
	bucketRefunds           = []byte("refunds")
	bucketRechargeRefs      = []byte("recharge_refs")
	bucketIdempotencyKeys   = []byte("idempotency_keys")
)

var allBuckets = [][]byte{
	bucketOrders, bucketOrderHistory, bucketWallets, bucketEntries, bucketEntriesByOwner,
	bucketEntriesByTransfer, bucketRefunds, bucketRechargeRefs, bucketIdempotencyKeys,
}

var errReadOnlyTx = errors.New("boltstore: write attempted inside a read-only transaction")

type txKey struct{}

// Store implements the order, wallet and ledger repositories plus the transactor.
type Store struct {
	logger *slog.Logger
	db     *bolt.DB
}

// Open opens (or creates) the database file at path and ensures every bucket exists.
func Open(logger *slog.Logger, path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{logger: logger, db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// WithinTransaction runs fn in a single write transaction. A transaction
// already carried by ctx is joined instead of starting a new one.
func (s *Store) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*bolt.Tx); ok {
		return fn(ctx)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

func (s *Store) update(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*bolt.Tx); ok {
		if !tx.Writable() {
			return errReadOnlyTx
		}
		return fn(tx)
	}
	return s.db.Update(fn)
}

func (s *Store) view(ctx context.Context, fn func(tx *bolt.Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*bolt.Tx); ok {
		return fn(tx)
	}
	return s.db.View(fn)
}

func getJSON(b *bolt.Bucket, key string, v any) (bool, error) {
	data := b.Get([]byte(key))
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func putJSON(b *bolt.Bucket, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return b.Put([]byte(key), data)
}

// seqKey builds prefix\x00<big-endian sequence>, which sorts by insertion order.
func seqKey(prefix string, seq uint64) []byte {
	key := make([]byte, len(prefix)+1+8)
	copy(key, prefix)
	key[len(prefix)] = 0
	binary.BigEndian.PutUint64(key[len(prefix)+1:], seq)
	return key
}

func prefixOf(prefix string) []byte {
	return append([]byte(prefix), 0)
}

// scanPrefix calls fn for every key in b that starts with prefix\x00, in key order.
func scanPrefix(b *bolt.Bucket, prefix string, fn func(k, v []byte) error) error {
	p := prefixOf(prefix)
	c := b.Cursor()
	for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

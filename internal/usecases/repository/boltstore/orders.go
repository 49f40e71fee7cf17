package boltstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "github.com/boltdb/bolt"

	"github.com/sand/scrap-pickup/backend/internal/entities"
)

func (s *Store) InsertOrder(ctx context.Context, order *entities.Order) error {
	return s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOrders)
		if b.Get([]byte(order.ID)) != nil {
			return fmt.Errorf("%w: %s", entities.ErrOrderExists, order.ID)
		}
		if err := putOrder(b, order); err != nil {
			return err
		}
		return appendHistory(tx, order, order.CreatedAt)
	})
}

func (s *Store) FindOrderByID(ctx context.Context, id string) (*entities.Order, error) {
	var order *entities.Order
	err := s.view(ctx, func(tx *bolt.Tx) error {
		var o entities.Order
		found, err := getJSON(tx.Bucket(bucketOrders), id, &o)
		if err != nil || !found {
			return err
		}

		err = scanPrefix(tx.Bucket(bucketOrderHistory), id, func(_, v []byte) error {
			var ev entities.AssignmentEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				return err
			}
			o.History = append(o.History, ev)
			return nil
		})
		if err != nil {
			return fmt.Errorf("read assignment history: %w", err)
		}

		order = &o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) FindOrdersByRequester(ctx context.Context, requesterID string) ([]entities.Order, error) {
	orders, err := s.filterOrders(ctx, func(o *entities.Order) bool { return o.RequesterID == requesterID })
	sortNewestFirst(orders)
	return orders, err
}

func (s *Store) FindOrdersByAgent(ctx context.Context, agentID string) ([]entities.Order, error) {
	orders, err := s.filterOrders(ctx, func(o *entities.Order) bool { return o.HeldBy(agentID) })
	sortNewestFirst(orders)
	return orders, err
}

func (s *Store) FindClaimableOrders(ctx context.Context, agentID string, now time.Time, limit int) ([]entities.Order, error) {
	orders, err := s.filterOrders(ctx, func(o *entities.Order) bool { return o.Listable(agentID, now) })
	if err != nil {
		return nil, err
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}

// ClaimOrder is the accept compare-and-swap. It returns nil when the order
// was not claimable by agentID.
func (s *Store) ClaimOrder(ctx context.Context, id, agentID string, now time.Time) (*entities.Order, error) {
	return s.mutateOrder(ctx, id, now, func(o *entities.Order) bool {
		if !o.ClaimableBy(agentID, now) {
			return false
		}
		agent := agentID
		o.AgentID = &agent
		o.AssignmentStatus = entities.AssignmentAccepted
		o.LifecycleStatus = entities.LifecycleConfirmed
		o.AssignmentDeadline = nil
		return true
	})
}

func (s *Store) AssignOrder(ctx context.Context, id, agentID string, deadline, now time.Time) (*entities.Order, error) {
	return s.mutateOrder(ctx, id, now, func(o *entities.Order) bool {
		if !o.ClaimableBy(agentID, now) {
			return false
		}
		agent, until := agentID, deadline
		o.AgentID = &agent
		o.AssignmentStatus = entities.AssignmentAssigned
		o.AssignmentDeadline = &until
		return true
	})
}

func (s *Store) RejectOrder(ctx context.Context, id, agentID string, now time.Time) (*entities.Order, error) {
	return s.mutateOrder(ctx, id, now, func(o *entities.Order) bool {
		if o.LifecycleStatus != entities.LifecyclePending || o.AssignmentStatus != entities.AssignmentAssigned || !o.HeldBy(agentID) {
			return false
		}
		o.AssignmentStatus = entities.AssignmentRejected
		o.AssignmentDeadline = nil
		return true
	})
}

func (s *Store) StartOrder(ctx context.Context, id, agentID string, now time.Time) (*entities.Order, error) {
	return s.mutateOrder(ctx, id, now, func(o *entities.Order) bool {
		if o.LifecycleStatus != entities.LifecycleConfirmed || o.AssignmentStatus != entities.AssignmentAccepted || !o.HeldBy(agentID) {
			return false
		}
		o.LifecycleStatus = entities.LifecycleInProgress
		return true
	})
}

func (s *Store) CancelOrder(ctx context.Context, id, by string, now time.Time) (*entities.Order, error) {
	return s.mutateOrder(ctx, id, now, func(o *entities.Order) bool {
		if !o.Cancellable(by) {
			return false
		}
		o.LifecycleStatus = entities.LifecycleCancelled
		o.AssignmentDeadline = nil
		if o.AssignmentStatus != entities.AssignmentAccepted {
			o.AssignmentStatus = entities.AssignmentUnassigned
			o.AgentID = nil
		}
		return true
	})
}

func (s *Store) CompleteOrderPayment(ctx context.Context, id, payerID string, now time.Time) (*entities.Order, error) {
	return s.mutateOrder(ctx, id, now, func(o *entities.Order) bool {
		payable := o.LifecycleStatus == entities.LifecycleConfirmed || o.LifecycleStatus == entities.LifecycleInProgress
		if !payable || o.AssignmentStatus != entities.AssignmentAccepted || !o.HeldBy(payerID) || o.PaymentStatus != entities.PaymentPending {
			return false
		}
		o.LifecycleStatus = entities.LifecycleCompleted
		o.PaymentStatus = entities.PaymentCompleted
		return true
	})
}

func (s *Store) MarkOrderPaymentRefunded(ctx context.Context, id string, now time.Time) (*entities.Order, error) {
	var order *entities.Order
	err := s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOrders)
		var o entities.Order
		found, err := getJSON(b, id, &o)
		if err != nil || !found || o.PaymentStatus != entities.PaymentCompleted {
			return err
		}
		o.PaymentStatus = entities.PaymentRefunded
		o.UpdatedAt = now
		order = &o
		return putOrder(b, &o)
	})
	return order, err
}

// MarkTimedOutOrders flips up to limit offers whose deadline passed, oldest deadline first.
func (s *Store) MarkTimedOutOrders(ctx context.Context, now time.Time, limit int) ([]entities.Order, error) {
	var flipped []entities.Order
	err := s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOrders)

		var stale []entities.Order
		err := b.ForEach(func(_, v []byte) error {
			var o entities.Order
			if err := json.Unmarshal(v, &o); err != nil {
				return err
			}
			if o.LifecycleStatus == entities.LifecyclePending && o.AssignmentStatus == entities.AssignmentAssigned &&
				o.AssignmentDeadline != nil && o.AssignmentDeadline.Before(now) {
				stale = append(stale, o)
			}
			return nil
		})
		if err != nil {
			return err
		}

		sort.Slice(stale, func(i, j int) bool { return stale[i].AssignmentDeadline.Before(*stale[j].AssignmentDeadline) })
		if limit > 0 && len(stale) > limit {
			stale = stale[:limit]
		}

		for i := range stale {
			o := stale[i]
			o.AssignmentStatus = entities.AssignmentTimedOut
			o.UpdatedAt = now
			if err = putOrder(b, &o); err != nil {
				return err
			}
			if err = appendHistory(tx, &o, now); err != nil {
				return err
			}
			flipped = append(flipped, o)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return flipped, nil
}

// mutateOrder applies change to the stored order and records the resulting
// state in its history. Nothing is written when change returns false.
func (s *Store) mutateOrder(ctx context.Context, id string, now time.Time, change func(o *entities.Order) bool) (*entities.Order, error) {
	var order *entities.Order
	err := s.update(ctx, func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketOrders)
		var o entities.Order
		found, err := getJSON(b, id, &o)
		if err != nil || !found || !change(&o) {
			return err
		}
		o.UpdatedAt = now
		if err = putOrder(b, &o); err != nil {
			return err
		}
		if err = appendHistory(tx, &o, now); err != nil {
			return err
		}
		order = &o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Store) filterOrders(ctx context.Context, keep func(o *entities.Order) bool) ([]entities.Order, error) {
	var orders []entities.Order
	err := s.view(ctx, func(tx *bolt.Tx) error {
		return tx.Bucket(bucketOrders).ForEach(func(_, v []byte) error {
			var o entities.Order
			if err := json.Unmarshal(v, &o); err != nil {
				return err
			}
			if keep(&o) {
				orders = append(orders, o)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func putOrder(b *bolt.Bucket, order *entities.Order) error {
	stored := *order
	stored.History = nil
	return putJSON(b, order.ID, &stored)
}

func appendHistory(tx *bolt.Tx, order *entities.Order, at time.Time) error {
	b := tx.Bucket(bucketOrderHistory)
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	data, err := json.Marshal(entities.AssignmentEvent{
		OrderID:         order.ID,
		AgentID:         order.AgentID,
		ResultingStatus: order.AssignmentStatus,
		Lifecycle:       order.LifecycleStatus,
		At:              at,
	})
	if err != nil {
		return err
	}
	return b.Put(seqKey(order.ID, seq), data)
}

func sortNewestFirst(orders []entities.Order) {
	sort.Slice(orders, func(i, j int) bool { return orders[i].CreatedAt.After(orders[j].CreatedAt) })
}

/*
order.go - One-time order lifecycle

ORDER FLOW:
  create   ──▶  PENDING  ──approve──▶  CONFIRMED  (+1 ORDER allocation)
                   │
                   └──────reject────▶  CANCELLED  (no allocation)

CREATE:
  Validates quantity, session and the same-day time window, then checks
  availability inside the bucket's critical section. Nothing is allocated:
  several pending orders may together exceed stock.

APPROVE:
  Re-checks availability, because creation did not allocate. The
  requested session's bucket is tried first, then every other bucket of
  the same farm and date in session order. The first bucket that can
  cover the whole quantity gets one allocation and the order becomes
  CONFIRMED; both writes share one store transaction. If none can, the
  order stays PENDING and InsufficientInventoryError is returned.

  The order keeps its requested session even when a fallback bucket
  backs it. OrderAllocation tells which bucket actually does.

LOCK ORDER:
  order lock, then at most one bucket lock at a time. Create for ALL
  takes bucket locks in RealSessions order. No cycle is possible.
*/
package dairy

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// OrderRequest is the input of CreateOrder.
type OrderRequest struct {
	FarmID   FarmID
	BuyerID  BuyerID
	Date     Date
	Session  Session
	Quantity decimal.Decimal
}

func (r OrderRequest) validate() error {
	if r.FarmID == "" {
		return &ValidationError{Field: "farm_id", Reason: "required"}
	}
	if r.BuyerID == "" {
		return &ValidationError{Field: "buyer_id", Reason: "required"}
	}
	if r.Date.IsZero() {
		return &ValidationError{Field: "date", Reason: "required"}
	}
	if !r.Session.IsValid() {
		return &ValidationError{Field: "session", Reason: fmt.Sprintf("unknown session %q", r.Session)}
	}
	if !r.Quantity.IsPositive() {
		return &ValidationError{Field: "quantity", Reason: "must be greater than zero"}
	}
	return nil
}

// CreateOrder records a PENDING order if availability covers it.
func (e *Engine) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := e.Windows.Check(e.now(), req.Date, req.Session); err != nil {
		return nil, err
	}
	if err := e.checkFarm(ctx, req.FarmID); err != nil {
		return nil, err
	}

	sessions := []Session{req.Session}
	if req.Session == SessionAll {
		sessions = RealSessions
	}

	var order *Order
	err := e.withBucketLocks(ctx, req.FarmID, req.Date, sessions, func(ctx context.Context) error {
		if err := e.checkCreateAvailability(ctx, req); err != nil {
			return err
		}

		now := e.now()
		o := Order{
			ID:        OrderID(e.newID()),
			FarmID:    req.FarmID,
			BuyerID:   req.BuyerID,
			Date:      req.Date,
			Session:   req.Session,
			Quantity:  req.Quantity,
			Status:    OrderPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := e.Store.InsertOrder(ctx, o); err != nil {
			return fmt.Errorf("failed to save order: %w", err)
		}
		order = &o
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log().WithFields(orderFields(order)).Info("order created")
	return order, nil
}

func (e *Engine) checkCreateAvailability(ctx context.Context, req OrderRequest) error {
	calc := e.Availability()

	var available decimal.Decimal
	if req.Session == SessionAll {
		day, err := calc.ForDay(ctx, req.FarmID, req.Date)
		if err != nil {
			return err
		}
		available = day.Total.Available
	} else {
		key := BucketKey{FarmID: req.FarmID, Date: req.Date, Session: req.Session}
		b, err := e.Store.GetBucket(ctx, key)
		if err != nil {
			return err
		}
		if b == nil {
			return &SessionNotOfferedError{Key: key}
		}
		a, err := calc.ForBucket(ctx, *b)
		if err != nil {
			return err
		}
		available = a.Available
	}

	if available.LessThan(req.Quantity) {
		return &InsufficientInventoryError{
			FarmID:    req.FarmID,
			Date:      req.Date,
			Session:   req.Session,
			Available: available,
			Requested: req.Quantity,
		}
	}
	return nil
}

// withBucketLocks nests bucket critical sections in the given order.
func (e *Engine) withBucketLocks(ctx context.Context, farmID FarmID, date Date, sessions []Session, fn func(context.Context) error) error {
	if len(sessions) == 0 {
		return fn(ctx)
	}
	key := BucketKey{FarmID: farmID, Date: date, Session: sessions[0]}
	return e.withLock(ctx, key.LockKey(), func(ctx context.Context) error {
		return e.withBucketLocks(ctx, farmID, date, sessions[1:], fn)
	})
}

// ApproveOrder confirms a PENDING order and allocates its quantity.
func (e *Engine) ApproveOrder(ctx context.Context, id OrderID, approverID string) (*Order, error) {
	var result *Order
	err := e.withLock(ctx, orderLockKey(id), func(ctx context.Context) error {
		order, err := e.pendingOrder(ctx, id, "approve")
		if err != nil {
			return err
		}

		best := decimal.Zero
		for _, session := range approvalCandidates(order.Session) {
			key := BucketKey{FarmID: order.FarmID, Date: order.Date, Session: session}
			confirmed, available, err := e.tryAllocate(ctx, order, key, approverID)
			if err != nil {
				return err
			}
			if confirmed != nil {
				result = confirmed
				return nil
			}
			if available.GreaterThan(best) {
				best = available
			}
		}

		return &InsufficientInventoryError{
			FarmID:    order.FarmID,
			Date:      order.Date,
			Session:   order.Session,
			Available: best,
			Requested: order.Quantity,
		}
	})
	if err != nil {
		e.log().WithError(err).WithField("order_id", id).Warn("order approval failed")
		return nil, err
	}

	e.log().WithFields(orderFields(result)).WithField("approver", approverID).Info("order approved")
	return result, nil
}

// approvalCandidates lists buckets to try: the requested session first,
// then the remaining real sessions.
func approvalCandidates(requested Session) []Session {
	out := make([]Session, 0, len(RealSessions))
	if requested.IsReal() {
		out = append(out, requested)
	}
	for _, s := range RealSessions {
		if s != requested {
			out = append(out, s)
		}
	}
	return out
}

// tryAllocate checks key's bucket under its lock and, if it covers the
// order, allocates and confirms atomically. Returns the confirmed order,
// or nil and the bucket's availability.
func (e *Engine) tryAllocate(ctx context.Context, order *Order, key BucketKey, approverID string) (*Order, decimal.Decimal, error) {
	var (
		confirmed *Order
		available decimal.Decimal
	)
	err := e.withLock(ctx, key.LockKey(), func(ctx context.Context) error {
		return e.Store.WithTx(ctx, func(tx Store) error {
			b, err := tx.GetBucket(ctx, key)
			if err != nil {
				return err
			}
			if b == nil {
				return nil
			}

			a, err := (&AvailabilityCalculator{Store: tx}).ForBucket(ctx, *b)
			if err != nil {
				return err
			}
			available = a.Available
			if a.Available.LessThan(order.Quantity) {
				return nil
			}

			alloc, err := NewLedger(tx, e.Clock, e.NewID).CreateAllocation(ctx, *b, order.Quantity, AllocationOrder, string(order.ID))
			if err != nil {
				return err
			}

			now := e.now()
			next := *order
			next.Status = OrderConfirmed
			next.DecidedBy = &approverID
			next.DecidedAt = &now
			next.UpdatedAt = now
			if err := tx.TransitionOrder(ctx, next, OrderPending); err != nil {
				return fmt.Errorf("failed to confirm order %s: %w", order.ID, err)
			}

			e.log().WithFields(logrus.Fields{
				"order_id":      order.ID,
				"allocation_id": alloc.ID,
				"bucket":        key.String(),
				"quantity":      order.Quantity.String(),
			}).Debug("allocation appended")
			confirmed = &next
			return nil
		})
	})
	return confirmed, available, err
}

// RejectOrder cancels a PENDING order. No availability check, no allocation.
func (e *Engine) RejectOrder(ctx context.Context, id OrderID, approverID string) (*Order, error) {
	var result *Order
	err := e.withLock(ctx, orderLockKey(id), func(ctx context.Context) error {
		order, err := e.pendingOrder(ctx, id, "reject")
		if err != nil {
			return err
		}

		now := e.now()
		next := *order
		next.Status = OrderCancelled
		next.DecidedBy = &approverID
		next.DecidedAt = &now
		next.UpdatedAt = now
		if err := e.Store.TransitionOrder(ctx, next, OrderPending); err != nil {
			return fmt.Errorf("failed to cancel order %s: %w", id, err)
		}
		result = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log().WithFields(orderFields(result)).WithField("approver", approverID).Info("order rejected")
	return result, nil
}

func (e *Engine) pendingOrder(ctx context.Context, id OrderID, action string) (*Order, error) {
	order, err := e.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.Status != OrderPending {
		return nil, &IllegalStateTransitionError{Kind: "order", ID: string(id), From: string(order.Status), Action: action}
	}
	return order, nil
}

// GetOrder returns the order or NotFoundError.
func (e *Engine) GetOrder(ctx context.Context, id OrderID) (*Order, error) {
	order, err := e.Store.GetOrder(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load order %s: %w", id, err)
	}
	if order == nil {
		return nil, &NotFoundError{Kind: "order", ID: string(id)}
	}
	return order, nil
}

// ListPendingOrders returns the farm's PENDING orders, oldest first.
func (e *Engine) ListPendingOrders(ctx context.Context, farmID FarmID) ([]Order, error) {
	return e.Store.ListOrders(ctx, OrderFilter{FarmID: farmID, Status: OrderPending})
}

// ListFarmOrders returns the farm's orders in every status whose delivery
// date falls in [from, to]. A zero bound is open.
func (e *Engine) ListFarmOrders(ctx context.Context, farmID FarmID, from, to Date) ([]Order, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return nil, &ValidationError{Field: "to", Reason: "before from"}
	}
	return e.Store.ListOrders(ctx, OrderFilter{FarmID: farmID, From: from, To: to})
}

func (e *Engine) ListOrdersByBuyer(ctx context.Context, buyerID BuyerID) ([]Order, error) {
	return e.Store.ListOrders(ctx, OrderFilter{BuyerID: buyerID})
}

// OrderAllocation returns the allocation backing a CONFIRMED order and its
// bucket. It is the authoritative record of the fulfilled session.
// Returns nils for orders that were never confirmed.
func (e *Engine) OrderAllocation(ctx context.Context, id OrderID) (*Allocation, *Bucket, error) {
	if _, err := e.GetOrder(ctx, id); err != nil {
		return nil, nil, err
	}
	allocs, err := e.Ledger().ForReference(ctx, string(id))
	if err != nil {
		return nil, nil, err
	}
	for _, a := range allocs {
		if a.Kind != AllocationOrder {
			continue
		}
		b, err := e.Store.GetBucketByID(ctx, a.BucketID)
		if err != nil {
			return nil, nil, err
		}
		if b == nil {
			return nil, nil, &NotFoundError{Kind: "bucket", ID: string(a.BucketID)}
		}
		alloc := a
		return &alloc, b, nil
	}
	return nil, nil, nil
}

func (e *Engine) checkFarm(ctx context.Context, id FarmID) error {
	if e.Farms == nil {
		return nil
	}
	ok, err := e.Farms.FarmExists(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to look up farm %s: %w", id, err)
	}
	if !ok {
		return &NotFoundError{Kind: "farm", ID: string(id)}
	}
	return nil
}

func orderFields(o *Order) logrus.Fields {
	return logrus.Fields{
		"order_id": o.ID,
		"farm_id":  o.FarmID,
		"buyer_id": o.BuyerID,
		"date":     o.Date.String(),
		"session":  o.Session,
		"quantity": o.Quantity.String(),
		"status":   o.Status,
	}
}

// isInsufficient is used by the sweep to classify failures.
func isInsufficient(err error) bool { return errors.Is(err, ErrInsufficientInventory) }

/*
store.go - Persistence interface for buckets, allocations, orders, subscriptions

APPEND-ONLY CONTRACT:
  Allocations have exactly one write operation, AppendAllocation.
  There is no UpdateAllocation or DeleteAllocation.

  Buckets are written only through UpsertBucket, a full replace of the
  produced total keyed by (farm, date, session). The bucket ID is kept
  across upserts so allocations stay attached.

  Orders and subscriptions change status only through TransitionOrder and
  TransitionSubscription, conditional updates that fail with
  ErrConcurrentModification when the stored status is not the expected one.

NOT FOUND:
  Get* methods return (nil, nil) for a missing record. Callers decide
  whether absence is an error.

ATOMICITY:
  TxStore.WithTx runs fn against a transactional view. If fn returns an
  error nothing it wrote is visible. Approval uses this to commit the
  allocation and the CONFIRMED transition together.

IMPLEMENTATIONS:
  - dairy/store/memory.go: in-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite
*/
package dairy

import (
	"context"

	"github.com/shopspring/decimal"
)

type Store interface {
	// Buckets
	UpsertBucket(ctx context.Context, b Bucket) (Bucket, error)
	GetBucket(ctx context.Context, key BucketKey) (*Bucket, error)
	GetBucketByID(ctx context.Context, id BucketID) (*Bucket, error)
	ListBuckets(ctx context.Context, farmID FarmID, date Date) ([]Bucket, error)
	ListBucketsInRange(ctx context.Context, farmID FarmID, from, to Date) ([]Bucket, error)

	// Allocations (append-only)
	AppendAllocation(ctx context.Context, a Allocation) error
	SumAllocations(ctx context.Context, bucketID BucketID) (decimal.Decimal, error)
	AllocationsByReference(ctx context.Context, referenceID string) ([]Allocation, error)

	// Orders
	InsertOrder(ctx context.Context, o Order) error
	TransitionOrder(ctx context.Context, o Order, from OrderStatus) error
	GetOrder(ctx context.Context, id OrderID) (*Order, error)
	ListOrders(ctx context.Context, filter OrderFilter) ([]Order, error)

	// Subscriptions
	SaveSubscription(ctx context.Context, s Subscription) error
	// TransitionSubscription saves s only if the stored status is still
	// from; otherwise it returns ErrConcurrentModification.
	TransitionSubscription(ctx context.Context, s Subscription, from SubscriptionStatus) error
	GetSubscription(ctx context.Context, id SubscriptionID) (*Subscription, error)
	ListSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]Subscription, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// OrderFilter selects orders; zero-valued fields match everything.
// From and To bound the order's delivery date, both inclusive.
// Results are ordered by CreatedAt ascending.
type OrderFilter struct {
	FarmID  FarmID
	BuyerID BuyerID
	Status  OrderStatus
	From    Date
	To      Date
}

func (f OrderFilter) Match(o Order) bool {
	return (f.FarmID == "" || f.FarmID == o.FarmID) &&
		(f.BuyerID == "" || f.BuyerID == o.BuyerID) &&
		(f.Status == "" || f.Status == o.Status) &&
		(f.From.IsZero() || !o.Date.Before(f.From)) &&
		(f.To.IsZero() || !o.Date.After(f.To))
}

// SubscriptionFilter selects subscriptions; zero-valued fields match everything.
// Results are ordered by CreatedAt ascending.
type SubscriptionFilter struct {
	BuyerID BuyerID
	FarmID  FarmID
	Status  SubscriptionStatus
}

func (f SubscriptionFilter) Match(s Subscription) bool {
	return (f.BuyerID == "" || f.BuyerID == s.BuyerID) &&
		(f.FarmID == "" || f.FarmID == s.FarmID) &&
		(f.Status == "" || f.Status == s.Status)
}

// SessionRank orders real sessions chronologically within a day.
func SessionRank(s Session) int {
	for i, rs := range RealSessions {
		if rs == s {
			return i
		}
	}
	return len(RealSessions)
}

// FarmDirectory is the external farm registry. Optional.
type FarmDirectory interface {
	FarmExists(ctx context.Context, id FarmID) (bool, error)
}

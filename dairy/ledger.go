/*
ledger.go - Append-only allocation ledger

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. IMMUTABLE: Once written, an allocation is never modified
  3. GUARDED: an allocation is created only inside the critical section
     of the bucket it debits, after availability was checked in that
     same section

CORRECTIONS:
  There is no compensating removal. Allocations are only created for an
  order being confirmed; a rejected or cancelled order never had one.
*/
package dairy

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Ledger struct {
	store Store
	clock Clock
	newID func() string
}

func NewLedger(store Store, clock Clock, newID func() string) *Ledger {
	if newID == nil {
		newID = uuid.NewString
	}
	return &Ledger{store: store, clock: clock, newID: newID}
}

// SumAllocations returns the allocated total for a bucket; zero when none.
func (l *Ledger) SumAllocations(ctx context.Context, bucketID BucketID) (decimal.Decimal, error) {
	sum, err := l.store.SumAllocations(ctx, bucketID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum allocations for bucket %s: %w", bucketID, err)
	}
	return sum, nil
}

// CreateAllocation debits bucket by quantity. ctx must come from the
// bucket's critical section.
func (l *Ledger) CreateAllocation(
	ctx context.Context,
	bucket Bucket,
	quantity decimal.Decimal,
	kind AllocationKind,
	referenceID string,
) (Allocation, error) {
	if !holdsLock(ctx, bucket.Key.LockKey()) {
		return Allocation{}, fmt.Errorf("allocation against %s outside its critical section", bucket.Key)
	}
	if !quantity.IsPositive() {
		return Allocation{}, &ValidationError{Field: "quantity", Reason: "allocation must be positive"}
	}

	a := Allocation{
		ID:          AllocationID(l.newID()),
		BucketID:    bucket.ID,
		Quantity:    quantity,
		Kind:        kind,
		ReferenceID: referenceID,
		CreatedAt:   l.clock.Now(),
	}
	if err := l.store.AppendAllocation(ctx, a); err != nil {
		return Allocation{}, fmt.Errorf("failed to append allocation: %w", err)
	}
	return a, nil
}

// ForReference returns the allocations backing an order or subscription.
func (l *Ledger) ForReference(ctx context.Context, referenceID string) ([]Allocation, error) {
	return l.store.AllocationsByReference(ctx, referenceID)
}

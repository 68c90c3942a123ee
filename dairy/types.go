/*
Package dairy provides the milk inventory allocation and order engine.

PURPOSE:
  Milk is produced in discrete buckets (farm x calendar day x session) and
  sold against that production through one-time orders and recurring
  subscriptions. The engine guarantees that the sum of confirmed
  commitments against a bucket never exceeds what was actually produced.

KEY CONCEPTS IN THIS FILE (types.go):
  - Session: MORNING / EVENING production windows, plus the ALL aggregate
  - Bucket: produced quantity for one farm, one date, one session
  - Allocation: immutable debit against a bucket
  - Order: one-time purchase request (PENDING -> CONFIRMED | CANCELLED)
  - Subscription: recurring commitment converted to orders once a day

DESIGN PRINCIPLES:
  1. Buckets are derived state: producedQuantity is replaced, never decremented
  2. Allocations are append-only: no update, no delete
  3. Precision: quantities use decimal.Decimal, never float64
  4. Allocation happens only at approval, under a per-bucket critical section

SEE ALSO:
  - ledger.go: Allocation ledger
  - availability.go: produced - allocated
  - order.go: Order state machine
  - subscription.go: Subscriptions and the daily sweep
*/
package dairy

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type FarmID string
type BuyerID string
type BucketID string
type AllocationID string
type OrderID string
type SubscriptionID string

// =============================================================================
// SESSION
// =============================================================================

type Session string

const (
	SessionMorning Session = "MORNING"
	SessionEvening Session = "EVENING"

	// SessionAll is a pseudo-session aggregating every real session of a day.
	SessionAll Session = "ALL"
)

// RealSessions lists the sessions that own buckets, in lock order.
var RealSessions = []Session{SessionMorning, SessionEvening}

// ParseSession accepts any casing of MORNING, EVENING or ALL.
func ParseSession(s string) (Session, error) {
	switch Session(strings.ToUpper(strings.TrimSpace(s))) {
	case SessionMorning:
		return SessionMorning, nil
	case SessionEvening:
		return SessionEvening, nil
	case SessionAll:
		return SessionAll, nil
	}
	return "", &ValidationError{Field: "session", Reason: fmt.Sprintf("unknown session %q", s)}
}

func (s Session) IsReal() bool { return s == SessionMorning || s == SessionEvening }
func (s Session) IsValid() bool { return s.IsReal() || s == SessionAll }
func (s Session) String() string { return string(s) }

// =============================================================================
// BUCKET - Produced quantity for (farm, date, session)
// =============================================================================

// BucketKey identifies a bucket. It is also the lock identity for the
// bucket's critical section.
type BucketKey struct {
	FarmID  FarmID
	Date    Date
	Session Session
}

func (k BucketKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.FarmID, k.Date, k.Session)
}

// LockKey is the Locker key guarding allocation against this bucket.
func (k BucketKey) LockKey() string { return "bucket:" + k.String() }

type Bucket struct {
	ID       BucketID
	Key      BucketKey
	Produced decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// ALLOCATION - Immutable debit against a bucket
// =============================================================================

type AllocationKind string

const (
	AllocationOrder        AllocationKind = "ORDER"
	AllocationSubscription AllocationKind = "SUBSCRIPTION"
	AllocationReservation  AllocationKind = "RESERVATION"
)

type Allocation struct {
	ID          AllocationID
	BucketID    BucketID
	Quantity    decimal.Decimal
	Kind        AllocationKind
	ReferenceID string
	CreatedAt   time.Time
}

// =============================================================================
// ORDER
// =============================================================================

type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderConfirmed OrderStatus = "CONFIRMED"
	OrderCancelled OrderStatus = "CANCELLED"
)

type Order struct {
	ID       OrderID
	FarmID   FarmID
	BuyerID  BuyerID
	Date     Date
	Session  Session // requested session; see OrderAllocation for the one fulfilled
	Quantity decimal.Decimal
	Status   OrderStatus

	DecidedBy *string
	DecidedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// SUBSCRIPTION
// =============================================================================

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "ACTIVE"
	SubscriptionCancelled SubscriptionStatus = "CANCELLED"
	SubscriptionCompleted SubscriptionStatus = "COMPLETED"
)

func (s SubscriptionStatus) IsValid() bool {
	switch s {
	case SubscriptionActive, SubscriptionCancelled, SubscriptionCompleted:
		return true
	}
	return false
}

type Subscription struct {
	ID        SubscriptionID
	BuyerID   BuyerID
	FarmID    FarmID
	Quantity  decimal.Decimal
	Session   Session
	StartDate Date
	EndDate   *Date
	Status    SubscriptionStatus

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// AVAILABILITY VIEWS
// =============================================================================

// Availability is produced - allocated for one bucket or one whole day.
// Available is not clamped: a negative value means an overcommitted bucket.
type Availability struct {
	FarmID    FarmID
	Date      Date
	Session   Session
	Produced  decimal.Decimal
	Allocated decimal.Decimal
	Available decimal.Decimal
}

// DayBreakdown is the per-session availability of a day plus the total.
type DayBreakdown struct {
	FarmID   FarmID
	Date     Date
	Sessions []Availability
	Total    Availability
}

// DailyTotal is the produced quantity of one day across all sessions.
type DailyTotal struct {
	Date     Date
	Produced decimal.Decimal
}

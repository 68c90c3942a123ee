package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/dairy-engine/dairy"
)

var (
	day = dairy.NewDate(2024, time.January, 1)
	t0  = time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC)
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func seedBucket(t *testing.T, s *Store, session dairy.Session, produced string) dairy.Bucket {
	t.Helper()
	b, err := s.UpsertBucket(context.Background(), dairy.Bucket{
		ID:        dairy.BucketID("b-" + string(session)),
		Key:       dairy.BucketKey{FarmID: "farm-1", Date: day, Session: session},
		Produced:  decimal.RequireFromString(produced),
		CreatedAt: t0,
		UpdatedAt: t0,
	})
	require.NoError(t, err)
	return b
}

func TestStore_UpsertBucket_KeepsIDAndDecimals(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seedBucket(t, s, dairy.SessionMorning, "10.25")

	b, err := s.UpsertBucket(ctx, dairy.Bucket{
		ID:        "other-id",
		Key:       dairy.BucketKey{FarmID: "farm-1", Date: day, Session: dairy.SessionMorning},
		Produced:  decimal.RequireFromString("12.5"),
		CreatedAt: t0.Add(time.Hour),
		UpdatedAt: t0.Add(time.Hour),
	})
	require.NoError(t, err)

	assert.Equal(t, dairy.BucketID("b-MORNING"), b.ID)
	assert.True(t, b.Produced.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, b.CreatedAt.Equal(t0), "created_at is kept")
	assert.True(t, b.Key.Date.Equal(day))

	missing, err := s.GetBucket(ctx, dairy.BucketKey{FarmID: "farm-1", Date: day, Session: dairy.SessionEvening})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_SumAllocations_ExactDecimal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := seedBucket(t, s, dairy.SessionMorning, "1")

	for i, q := range []string{"0.1", "0.2", "0.3"} {
		require.NoError(t, s.AppendAllocation(ctx, dairy.Allocation{
			ID:          dairy.AllocationID(q),
			BucketID:    b.ID,
			Quantity:    decimal.RequireFromString(q),
			Kind:        dairy.AllocationSubscription,
			ReferenceID: "sub-" + string(rune('a'+i)),
			CreatedAt:   t0,
		}))
	}

	sum, err := s.SumAllocations(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, sum.Equal(decimal.RequireFromString("0.6")), "got %s", sum)

	empty, err := s.SumAllocations(ctx, "no-bucket")
	require.NoError(t, err)
	assert.True(t, empty.IsZero())
}

func TestStore_OrderAllocatedOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := seedBucket(t, s, dairy.SessionMorning, "10")

	alloc := dairy.Allocation{ID: "a-1", BucketID: b.ID, Quantity: decimal.NewFromInt(2), Kind: dairy.AllocationOrder, ReferenceID: "o-1", CreatedAt: t0}
	require.NoError(t, s.AppendAllocation(ctx, alloc))

	alloc.ID = "a-2"
	err := s.AppendAllocation(ctx, alloc)
	assert.True(t, errors.Is(err, dairy.ErrConcurrentModification))
}

func TestStore_WithTx_Rollback(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	b := seedBucket(t, s, dairy.SessionMorning, "10")
	require.NoError(t, s.InsertOrder(ctx, dairy.Order{
		ID: "o-1", FarmID: "farm-1", BuyerID: "buyer-a", Date: day, Session: dairy.SessionMorning,
		Quantity: decimal.NewFromInt(3), Status: dairy.OrderPending, CreatedAt: t0, UpdatedAt: t0,
	}))

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx dairy.Store) error {
		require.NoError(t, tx.AppendAllocation(ctx, dairy.Allocation{
			ID: "a-1", BucketID: b.ID, Quantity: decimal.NewFromInt(3), Kind: dairy.AllocationOrder, ReferenceID: "o-1", CreatedAt: t0,
		}))
		// Reads inside the tx see its own writes
		sum, err := tx.SumAllocations(ctx, b.ID)
		require.NoError(t, err)
		assert.True(t, sum.Equal(decimal.NewFromInt(3)))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	sum, err := s.SumAllocations(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, sum.IsZero())
}

func TestStore_OrderRoundTripAndTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := dairy.Order{
		ID: "o-1", FarmID: "farm-1", BuyerID: "buyer-a", Date: day, Session: dairy.SessionAll,
		Quantity: decimal.RequireFromString("2.5"), Status: dairy.OrderPending, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, s.InsertOrder(ctx, o))

	got, err := s.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, dairy.SessionAll, got.Session)
	assert.True(t, got.Date.Equal(day))
	assert.True(t, got.Quantity.Equal(o.Quantity))
	assert.Nil(t, got.DecidedBy)
	assert.Nil(t, got.DecidedAt)

	approver := "owner-1"
	decided := t0.Add(time.Hour)
	o.Status = dairy.OrderConfirmed
	o.DecidedBy = &approver
	o.DecidedAt = &decided
	require.NoError(t, s.TransitionOrder(ctx, o, dairy.OrderPending))

	got, err = s.GetOrder(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, dairy.OrderConfirmed, got.Status)
	require.NotNil(t, got.DecidedBy)
	assert.Equal(t, approver, *got.DecidedBy)
	require.NotNil(t, got.DecidedAt)
	assert.True(t, got.DecidedAt.Equal(decided))

	// Second transition from PENDING finds nothing to update
	err = s.TransitionOrder(ctx, o, dairy.OrderPending)
	assert.ErrorIs(t, err, dairy.ErrConcurrentModification)

	missing, err := s.GetOrder(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStore_ListOrders_Filters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	insert := func(id, farm, buyer string, status dairy.OrderStatus, at time.Time) {
		require.NoError(t, s.InsertOrder(ctx, dairy.Order{
			ID: dairy.OrderID(id), FarmID: dairy.FarmID(farm), BuyerID: dairy.BuyerID(buyer), Date: day,
			Session: dairy.SessionMorning, Quantity: decimal.NewFromInt(1), Status: status, CreatedAt: at, UpdatedAt: at,
		}))
	}
	insert("o-late", "farm-1", "a", dairy.OrderPending, t0.Add(10*time.Second))
	insert("o-early", "farm-1", "b", dairy.OrderPending, t0.Add(9*time.Second))
	insert("o-other", "farm-2", "a", dairy.OrderPending, t0)
	insert("o-done", "farm-1", "a", dairy.OrderCancelled, t0)

	pending, err := s.ListOrders(ctx, dairy.OrderFilter{FarmID: "farm-1", Status: dairy.OrderPending})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, dairy.OrderID("o-early"), pending[0].ID)
	assert.Equal(t, dairy.OrderID("o-late"), pending[1].ID)

	buyerA, err := s.ListOrders(ctx, dairy.OrderFilter{BuyerID: "a"})
	require.NoError(t, err)
	assert.Len(t, buyerA, 3)

	all, err := s.ListOrders(ctx, dairy.OrderFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestStore_ListOrders_DateRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for i := -1; i <= 1; i++ {
		d := day.AddDays(i)
		require.NoError(t, s.InsertOrder(ctx, dairy.Order{
			ID: dairy.OrderID("o" + d.String()), FarmID: "farm-1", BuyerID: "a", Date: d,
			Session: dairy.SessionMorning, Quantity: decimal.NewFromInt(1), Status: dairy.OrderPending,
			CreatedAt: t0.Add(time.Duration(i) * time.Minute), UpdatedAt: t0,
		}))
	}

	both, err := s.ListOrders(ctx, dairy.OrderFilter{FarmID: "farm-1", From: day, To: day.AddDays(1)})
	require.NoError(t, err)
	require.Len(t, both, 2)
	assert.Equal(t, "2024-01-01", both[0].Date.String())
	assert.Equal(t, "2024-01-02", both[1].Date.String())

	open, err := s.ListOrders(ctx, dairy.OrderFilter{To: day.AddDays(-1)})
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "2023-12-31", open[0].Date.String())
}

func TestDateRange(t *testing.T) {
	where, args := dateRange("", nil, day, dairy.Date{})
	assert.Equal(t, " WHERE date >= ?", where)
	assert.Equal(t, []any{"2024-01-01"}, args)

	where, args = dateRange(" WHERE farm_id = ?", []any{"f"}, day, day.AddDays(2))
	assert.Equal(t, " WHERE farm_id = ? AND date >= ? AND date <= ?", where)
	assert.Equal(t, []any{"f", "2024-01-01", "2024-01-03"}, args)

	where, args = dateRange("", nil, dairy.Date{}, dairy.Date{})
	assert.Empty(t, where)
	assert.Nil(t, args)
}

func TestStore_TransitionSubscription(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	sub := dairy.Subscription{
		ID: "s-1", BuyerID: "buyer-a", FarmID: "farm-1", Quantity: decimal.NewFromInt(1),
		Session: dairy.SessionEvening, StartDate: day, Status: dairy.SubscriptionActive, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, s.SaveSubscription(ctx, sub))

	sub.Status = dairy.SubscriptionCancelled
	sub.UpdatedAt = t0.Add(time.Hour)
	require.NoError(t, s.TransitionSubscription(ctx, sub, dairy.SubscriptionActive))

	sub.Status = dairy.SubscriptionCompleted
	err := s.TransitionSubscription(ctx, sub, dairy.SubscriptionActive)
	assert.ErrorIs(t, err, dairy.ErrConcurrentModification)

	got, err := s.GetSubscription(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, dairy.SubscriptionCancelled, got.Status)
	assert.True(t, got.UpdatedAt.Equal(t0.Add(time.Hour)))
}

func TestStore_CorruptTimestamp_IsAnError(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.InsertOrder(ctx, dairy.Order{
		ID: "o-1", FarmID: "farm-1", BuyerID: "a", Date: day, Session: dairy.SessionMorning,
		Quantity: decimal.NewFromInt(1), Status: dairy.OrderPending, CreatedAt: t0, UpdatedAt: t0,
	}))
	seedBucket(t, s, dairy.SessionMorning, "10")

	_, err := s.db.Exec(`UPDATE orders SET created_at = 'yesterday' WHERE id = 'o-1'`)
	require.NoError(t, err)
	_, err = s.db.Exec(`UPDATE buckets SET updated_at = '' WHERE id = 'b-MORNING'`)
	require.NoError(t, err)

	_, err = s.GetOrder(ctx, "o-1")
	assert.ErrorContains(t, err, "yesterday")

	_, err = s.ListOrders(ctx, dairy.OrderFilter{})
	assert.Error(t, err)

	_, err = s.GetBucketByID(ctx, "b-MORNING")
	assert.Error(t, err)
}

func TestStore_Subscriptions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	end := day.AddDays(30)
	sub := dairy.Subscription{
		ID: "s-1", BuyerID: "buyer-a", FarmID: "farm-1", Quantity: decimal.NewFromInt(3),
		Session: dairy.SessionEvening, StartDate: day, EndDate: &end,
		Status: dairy.SubscriptionActive, CreatedAt: t0, UpdatedAt: t0,
	}
	require.NoError(t, s.SaveSubscription(ctx, sub))
	require.NoError(t, s.SaveSubscription(ctx, dairy.Subscription{
		ID: "s-2", BuyerID: "buyer-b", FarmID: "farm-1", Quantity: decimal.NewFromInt(1),
		Session: dairy.SessionMorning, StartDate: day, Status: dairy.SubscriptionActive, CreatedAt: t0, UpdatedAt: t0,
	}))

	got, err := s.GetSubscription(ctx, "s-1")
	require.NoError(t, err)
	require.NotNil(t, got.EndDate)
	assert.True(t, got.EndDate.Equal(end))
	assert.True(t, got.StartDate.Equal(day))

	sub.Status = dairy.SubscriptionCancelled
	require.NoError(t, s.SaveSubscription(ctx, sub))

	active, err := s.ListSubscriptions(ctx, dairy.SubscriptionFilter{Status: dairy.SubscriptionActive})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, dairy.SubscriptionID("s-2"), active[0].ID)
	assert.Nil(t, active[0].EndDate)

	mine, err := s.ListSubscriptions(ctx, dairy.SubscriptionFilter{BuyerID: "buyer-a"})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, dairy.SubscriptionCancelled, mine[0].Status)
}

func TestStore_ListBucketsInRange(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := -2; i <= 1; i++ {
		d := day.AddDays(i)
		_, err := s.UpsertBucket(ctx, dairy.Bucket{
			ID:        dairy.BucketID("b" + d.String()),
			Key:       dairy.BucketKey{FarmID: "farm-1", Date: d, Session: dairy.SessionMorning},
			Produced:  decimal.NewFromInt(1),
			CreatedAt: t0,
			UpdatedAt: t0,
		})
		require.NoError(t, err)
	}

	bs, err := s.ListBucketsInRange(ctx, "farm-1", day.AddDays(-1), day)
	require.NoError(t, err)
	require.Len(t, bs, 2)
	assert.Equal(t, "2023-12-31", bs[0].Key.Date.String())
	assert.Equal(t, "2024-01-01", bs[1].Key.Date.String())

	require.NoError(t, s.Ping(ctx))
}

func TestWhereClause(t *testing.T) {
	where, args := whereClause(map[string]string{"status": "PENDING", "farm_id": "f", "buyer_id": ""})
	assert.Equal(t, " WHERE farm_id = ? AND status = ?", where)
	assert.Equal(t, []any{"f", "PENDING"}, args)

	where, args = whereClause(map[string]string{"status": ""})
	assert.Empty(t, where)
	assert.Nil(t, args)
}

package dairy_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/dairy-engine/dairy"
)

func TestReportProduction_ReplacesNotIncrements(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		first := produce(t, env, jan1, dairy.SessionMorning, 10)
		second := produce(t, env, jan1, dairy.SessionMorning, 12)

		assert.Equal(t, first.ID, second.ID, "upsert keeps the bucket identity")
		assertQty(t, 12, second.Produced)
		assertQty(t, 12, available(t, env, jan1, dairy.SessionMorning))
	})
}

func TestReportProduction_SameTotalTwice_AvailabilityUnchanged(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		produce(t, env, jan1, dairy.SessionMorning, 10)
		o := order(t, env, "buyer-a", jan1, dairy.SessionMorning, 3)
		_, err := env.Engine.ApproveOrder(ctx, o.ID, "owner-1")
		require.NoError(t, err)
		before := available(t, env, jan1, dairy.SessionMorning)

		produce(t, env, jan1, dairy.SessionMorning, 10)
		produce(t, env, jan1, dairy.SessionMorning, 10)

		after := available(t, env, jan1, dairy.SessionMorning)
		assert.True(t, before.Equal(after), "before %s, after %s", before, after)
		assertQty(t, 7, after)
	})
}

func TestReportProduction_Validation(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()

		_, err := env.Engine.ReportProduction(ctx, farm1, jan1, dairy.SessionAll, qty(5))
		assert.True(t, errors.Is(err, dairy.ErrValidation), "ALL has no bucket")

		_, err = env.Engine.ReportProduction(ctx, farm1, jan1, dairy.SessionMorning, qty(-1))
		assert.True(t, errors.Is(err, dairy.ErrValidation), "negative total")

		_, err = env.Engine.ReportProduction(ctx, "", jan1, dairy.SessionMorning, qty(1))
		assert.True(t, errors.Is(err, dairy.ErrValidation), "missing farm")

		_, err = env.Engine.ReportProduction(ctx, farm1, jan1, dairy.SessionMorning, qty(0))
		assert.NoError(t, err, "zero is a valid total")
	})
}

func TestReportProduction_BelowAllocated_ShowsNegative(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		produce(t, env, jan1, dairy.SessionMorning, 10)
		o := order(t, env, "buyer-a", jan1, dairy.SessionMorning, 8)
		_, err := env.Engine.ApproveOrder(ctx, o.ID, "owner-1")
		require.NoError(t, err)

		produce(t, env, jan1, dairy.SessionMorning, 5)

		assertQty(t, -3, available(t, env, jan1, dairy.SessionMorning))
	})
}

func TestAvailability_MissingBucketIsZero(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		a, err := env.Engine.GetAvailability(context.Background(), farm1, jan1, dairy.SessionEvening)
		require.NoError(t, err)

		assert.Equal(t, dairy.SessionEvening, a.Session)
		assertQty(t, 0, a.Produced)
		assertQty(t, 0, a.Allocated)
		assertQty(t, 0, a.Available)
	})
}

func TestAvailability_All_SumsExistingBuckets(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		produce(t, env, jan1, dairy.SessionMorning, 10)
		produce(t, env, jan1, dairy.SessionEvening, 7)
		produce(t, env, jan2, dairy.SessionMorning, 100)
		o := order(t, env, "buyer-a", jan1, dairy.SessionEvening, 2)
		_, err := env.Engine.ApproveOrder(ctx, o.ID, "owner-1")
		require.NoError(t, err)

		a, err := env.Engine.GetAvailability(ctx, farm1, jan1, dairy.SessionAll)
		require.NoError(t, err)
		assert.Equal(t, dairy.SessionAll, a.Session)
		assertQty(t, 17, a.Produced)
		assertQty(t, 2, a.Allocated)
		assertQty(t, 15, a.Available)

		// Missing sessions contribute zero
		only, err := env.Engine.GetAvailability(ctx, farm1, jan2, dairy.SessionAll)
		require.NoError(t, err)
		assertQty(t, 100, only.Available)
	})
}

func TestAvailability_UnknownSession(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		_, err := env.Engine.GetAvailability(context.Background(), farm1, jan1, "NOON")
		assert.True(t, errors.Is(err, dairy.ErrValidation))
	})
}

func TestDayBreakdown(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		produce(t, env, jan1, dairy.SessionEvening, 7)
		produce(t, env, jan1, dairy.SessionMorning, 10)

		day, err := env.Engine.GetDayBreakdown(ctx, farm1, jan1)
		require.NoError(t, err)

		require.Len(t, day.Sessions, 2)
		assert.Equal(t, dairy.SessionMorning, day.Sessions[0].Session)
		assert.Equal(t, dairy.SessionEvening, day.Sessions[1].Session)
		assertQty(t, 17, day.Total.Available)

		buckets, err := env.Engine.ListBucketsForDay(ctx, farm1, jan1)
		require.NoError(t, err)
		require.Len(t, buckets, 2)
		assert.Equal(t, dairy.SessionMorning, buckets[0].Key.Session)
	})
}

func TestGetBucket(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		produced := produce(t, env, jan1, dairy.SessionMorning, 10)

		b, err := env.Engine.GetBucket(ctx, produced.Key)
		require.NoError(t, err)
		assert.Equal(t, produced.ID, b.ID)

		_, err = env.Engine.GetBucket(ctx, dairy.BucketKey{FarmID: farm1, Date: jan2, Session: dairy.SessionMorning})
		assert.True(t, dairy.IsNotFound(err))
	})
}

func TestListBucketsForDay(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		produce(t, env, jan1, dairy.SessionEvening, 3)
		produce(t, env, jan1, dairy.SessionMorning, 7)
		produce(t, env, jan2, dairy.SessionMorning, 1)

		buckets, err := env.Engine.ListBucketsForDay(ctx, farm1, jan1)
		require.NoError(t, err)
		require.Len(t, buckets, 2)
		assert.Equal(t, dairy.SessionMorning, buckets[0].Key.Session)
		assert.Equal(t, dairy.SessionEvening, buckets[1].Key.Session)

		none, err := env.Engine.ListBucketsForDay(ctx, "other-farm", jan1)
		require.NoError(t, err)
		assert.Empty(t, none)
	})
}

func TestProductionHistory_DenseSeries(t *testing.T) {
	forEachStore(t, func(t *testing.T, env *testEnv) {
		ctx := context.Background()
		dec30 := jan1.AddDays(-2)

		produce(t, env, dec30, dairy.SessionMorning, 4)
		produce(t, env, dec30, dairy.SessionEvening, 5)
		produce(t, env, jan1, dairy.SessionMorning, 10)
		produce(t, env, jan2, dairy.SessionMorning, 99) // future, outside the window

		history, err := env.Engine.ProductionHistory(ctx, farm1, 4)
		require.NoError(t, err)

		require.Len(t, history, 4)
		assert.Equal(t, "2023-12-29", history[0].Date.String())
		assert.Equal(t, "2024-01-01", history[3].Date.String())
		assertQty(t, 0, history[0].Produced)
		assertQty(t, 9, history[1].Produced)
		assertQty(t, 0, history[2].Produced)
		assertQty(t, 10, history[3].Produced)

		_, err = env.Engine.ProductionHistory(ctx, farm1, 0)
		assert.True(t, errors.Is(err, dairy.ErrValidation))
	})
}

package dairy

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// AvailabilityCalculator answers "how much is left" from buckets and the
// ledger. It never writes.
type AvailabilityCalculator struct {
	Store Store
}

// ForBucket returns produced - allocated for one existing bucket.
func (c *AvailabilityCalculator) ForBucket(ctx context.Context, b Bucket) (Availability, error) {
	allocated, err := c.Store.SumAllocations(ctx, b.ID)
	if err != nil {
		return Availability{}, err
	}
	return Availability{
		FarmID:    b.Key.FarmID,
		Date:      b.Key.Date,
		Session:   b.Key.Session,
		Produced:  b.Produced,
		Allocated: allocated,
		Available: b.Produced.Sub(allocated),
	}, nil
}

// For returns availability of one session, or of the whole day for ALL.
// A missing bucket counts as zero production.
func (c *AvailabilityCalculator) For(ctx context.Context, farmID FarmID, date Date, session Session) (Availability, error) {
	if session == SessionAll {
		day, err := c.ForDay(ctx, farmID, date)
		if err != nil {
			return Availability{}, err
		}
		return day.Total, nil
	}

	key := BucketKey{FarmID: farmID, Date: date, Session: session}
	b, err := c.Store.GetBucket(ctx, key)
	if err != nil {
		return Availability{}, err
	}
	if b == nil {
		return zeroAvailability(farmID, date, session), nil
	}
	return c.ForBucket(ctx, *b)
}

// ForDay returns every existing bucket of the day and their sum.
func (c *AvailabilityCalculator) ForDay(ctx context.Context, farmID FarmID, date Date) (DayBreakdown, error) {
	buckets, err := c.Store.ListBuckets(ctx, farmID, date)
	if err != nil {
		return DayBreakdown{}, err
	}
	SortBuckets(buckets)

	day := DayBreakdown{
		FarmID: farmID,
		Date:   date,
		Total:  zeroAvailability(farmID, date, SessionAll),
	}
	for _, b := range buckets {
		a, err := c.ForBucket(ctx, b)
		if err != nil {
			return DayBreakdown{}, err
		}
		day.Sessions = append(day.Sessions, a)
		day.Total.Produced = day.Total.Produced.Add(a.Produced)
		day.Total.Allocated = day.Total.Allocated.Add(a.Allocated)
		day.Total.Available = day.Total.Available.Add(a.Available)
	}
	return day, nil
}

func zeroAvailability(farmID FarmID, date Date, session Session) Availability {
	return Availability{
		FarmID:    farmID,
		Date:      date,
		Session:   session,
		Produced:  decimal.Zero,
		Allocated: decimal.Zero,
		Available: decimal.Zero,
	}
}

// SortBuckets orders by date, then session.
func SortBuckets(bs []Bucket) {
	sort.SliceStable(bs, func(i, j int) bool {
		if !bs[i].Key.Date.Equal(bs[j].Key.Date) {
			return bs[i].Key.Date.Before(bs[j].Key.Date)
		}
		return SessionRank(bs[i].Key.Session) < SessionRank(bs[j].Key.Session)
	})
}

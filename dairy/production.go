package dairy

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// ReportProduction replaces the produced total of a bucket, creating the
// bucket on first report. It never increments: reporting the same total
// twice leaves availability unchanged. Allocations are not touched, so a
// lower total than already allocated shows up as negative availability.
func (e *Engine) ReportProduction(ctx context.Context, farmID FarmID, date Date, session Session, total decimal.Decimal) (Bucket, error) {
	if farmID == "" {
		return Bucket{}, &ValidationError{Field: "farm_id", Reason: "required"}
	}
	if date.IsZero() {
		return Bucket{}, &ValidationError{Field: "date", Reason: "required"}
	}
	if !session.IsReal() {
		return Bucket{}, &ValidationError{Field: "session", Reason: fmt.Sprintf("production is recorded per real session, got %q", session)}
	}
	if total.IsNegative() {
		return Bucket{}, &ValidationError{Field: "total", Reason: "must not be negative"}
	}

	now := e.now()
	b, err := e.Store.UpsertBucket(ctx, Bucket{
		ID:        BucketID(e.newID()),
		Key:       BucketKey{FarmID: farmID, Date: date, Session: session},
		Produced:  total,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return Bucket{}, fmt.Errorf("failed to upsert bucket: %w", err)
	}

	e.log().WithFields(logrus.Fields{
		"bucket":   b.Key.String(),
		"produced": b.Produced.String(),
	}).Info("production reported")
	return b, nil
}

// GetBucket returns the bucket or NotFoundError.
func (e *Engine) GetBucket(ctx context.Context, key BucketKey) (*Bucket, error) {
	b, err := e.Store.GetBucket(ctx, key)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &NotFoundError{Kind: "bucket", ID: key.String()}
	}
	return b, nil
}

func (e *Engine) ListBucketsForDay(ctx context.Context, farmID FarmID, date Date) ([]Bucket, error) {
	bs, err := e.Store.ListBuckets(ctx, farmID, date)
	if err != nil {
		return nil, err
	}
	SortBuckets(bs)
	return bs, nil
}

// GetAvailability returns produced/allocated/available for a session or,
// with SessionAll, the whole day. Missing buckets count as zero.
func (e *Engine) GetAvailability(ctx context.Context, farmID FarmID, date Date, session Session) (Availability, error) {
	if !session.IsValid() {
		return Availability{}, &ValidationError{Field: "session", Reason: fmt.Sprintf("unknown session %q", session)}
	}
	return e.Availability().For(ctx, farmID, date, session)
}

func (e *Engine) GetDayBreakdown(ctx context.Context, farmID FarmID, date Date) (DayBreakdown, error) {
	return e.Availability().ForDay(ctx, farmID, date)
}

// ProductionHistory returns one total per day for the last days days,
// ending today, oldest first. Days without buckets report zero.
func (e *Engine) ProductionHistory(ctx context.Context, farmID FarmID, days int) ([]DailyTotal, error) {
	if days < 1 {
		return nil, &ValidationError{Field: "days", Reason: "must be at least 1"}
	}
	to := e.Today()
	from := to.AddDays(-(days - 1))

	buckets, err := e.Store.ListBucketsInRange(ctx, farmID, from, to)
	if err != nil {
		return nil, err
	}
	totals := make(map[string]decimal.Decimal, days)
	for _, b := range buckets {
		day := b.Key.Date.String()
		if _, ok := totals[day]; !ok {
			totals[day] = decimal.Zero
		}
		totals[day] = totals[day].Add(b.Produced)
	}

	out := make([]DailyTotal, 0, days)
	for d := from; !d.After(to); d = d.AddDays(1) {
		produced, ok := totals[d.String()]
		if !ok {
			produced = decimal.Zero
		}
		out = append(out, DailyTotal{Date: d, Produced: produced})
	}
	return out, nil
}

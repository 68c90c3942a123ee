package dairy_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/dairy-engine/dairy"
	"github.com/warp/dairy-engine/dairy/store"
)

func TestSessionWindows_Check(t *testing.T) {
	w := dairy.DefaultSessionWindows()

	tests := []struct {
		name    string
		now     time.Time
		date    dairy.Date
		session dairy.Session
		wantErr bool
	}{
		{"morning before cutoff", at(9, 59, 59), jan1, dairy.SessionMorning, false},
		{"morning at cutoff", at(10, 0, 0), jan1, dairy.SessionMorning, false},
		{"morning after cutoff", at(10, 0, 1), jan1, dairy.SessionMorning, true},
		{"evening after morning cutoff", at(15, 0, 0), jan1, dairy.SessionEvening, false},
		{"evening after cutoff", at(20, 0, 1), jan1, dairy.SessionEvening, true},
		{"tomorrow late at night", at(23, 59, 0), jan2, dairy.SessionMorning, false},
		{"past day", at(11, 0, 0), jan1.AddDays(-1), dairy.SessionMorning, false},
		{"all bypasses", at(23, 0, 0), jan1, dairy.SessionAll, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := w.Check(tt.now, tt.date, tt.session)
			if tt.wantErr {
				assert.True(t, errors.Is(err, dairy.ErrValidation), "got %v", err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSessionWindows_UsesClockLocation(t *testing.T) {
	// 09:30 in Nairobi is 06:30 UTC; the cutoff is local wall-clock time
	nairobi := time.FixedZone("EAT", 3*60*60)
	w := dairy.DefaultSessionWindows()

	now := time.Date(2024, time.January, 1, 10, 30, 0, 0, nairobi)
	assert.Error(t, w.Check(now, jan1, dairy.SessionMorning))

	now = time.Date(2024, time.January, 1, 9, 30, 0, 0, nairobi)
	assert.NoError(t, w.Check(now, jan1, dairy.SessionMorning))
}

func TestSessionWindows_Earliest(t *testing.T) {
	first, ok := dairy.DefaultSessionWindows().Earliest()
	require.True(t, ok)
	assert.Equal(t, dairy.Cutoff{Hour: 10}, first)

	w := dairy.SessionWindows{
		dairy.SessionMorning: {Hour: 9, Minute: 45},
		dairy.SessionEvening: {Hour: 9, Minute: 30},
	}
	first, ok = w.Earliest()
	require.True(t, ok)
	assert.Equal(t, "09:30", first.String())

	_, ok = dairy.SessionWindows{}.Earliest()
	assert.False(t, ok)
}

func TestDate(t *testing.T) {
	d, err := dairy.ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, "2024-02-29", d.String())
	assert.Equal(t, "2024-03-01", d.AddDays(1).String())
	assert.True(t, d.Before(d.AddDays(1)))
	assert.True(t, d.Equal(dairy.DateOf(time.Date(2024, 2, 29, 23, 59, 0, 0, time.FixedZone("X", -5*3600)))))

	_, err = dairy.ParseDate("29/02/2024")
	assert.True(t, errors.Is(err, dairy.ErrValidation))

	assert.Equal(t, "", dairy.Date{}.String())
	assert.True(t, dairy.Date{}.IsZero())
}

func TestParseSession(t *testing.T) {
	for in, want := range map[string]dairy.Session{
		"MORNING":   dairy.SessionMorning,
		"evening":   dairy.SessionEvening,
		" All ":     dairy.SessionAll,
		"Morning\t": dairy.SessionMorning,
	} {
		got, err := dairy.ParseSession(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	_, err := dairy.ParseSession("noon")
	assert.True(t, errors.Is(err, dairy.ErrValidation))

	assert.True(t, dairy.SessionMorning.IsReal())
	assert.False(t, dairy.SessionAll.IsReal())
	assert.True(t, dairy.SessionAll.IsValid())
}

func TestFixedClock(t *testing.T) {
	c := dairy.NewFixedClock(at(8, 0, 0))
	c.Advance(90 * time.Minute)
	assert.True(t, at(9, 30, 0).Equal(c.Now()))
	assert.True(t, dairy.Today(c).Equal(jan1))

	c.Set(at(23, 59, 59).Add(time.Second))
	assert.True(t, dairy.Today(c).Equal(jan2))
}

func TestErrorHelpers(t *testing.T) {
	timeout := &dairy.ConcurrencyTimeoutError{Key: "bucket:x", Waited: time.Second}
	assert.True(t, dairy.IsRetryable(timeout))
	assert.False(t, dairy.IsClientError(timeout))

	insufficient := &dairy.InsufficientInventoryError{Available: qty(1), Requested: qty(2)}
	assert.True(t, dairy.IsClientError(insufficient))
	assert.False(t, dairy.IsRetryable(insufficient))

	notOffered := &dairy.SessionNotOfferedError{Key: dairy.BucketKey{FarmID: farm1, Date: jan1, Session: dairy.SessionMorning}}
	assert.True(t, dairy.IsNotFound(notOffered))
	assert.Contains(t, notOffered.Error(), "farm-1")

	wrapped := errors.Join(errors.New("context"), &dairy.ValidationError{Field: "quantity", Reason: "must be greater than zero"})
	assert.True(t, dairy.IsClientError(wrapped))
}

func TestLedger_RefusesAllocationOutsideCriticalSection(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	clock := dairy.NewFixedClock(at(8, 0, 0))
	e := dairy.NewEngine(mem, nil, clock)

	b, err := e.ReportProduction(ctx, farm1, jan1, dairy.SessionMorning, qty(10))
	require.NoError(t, err)

	_, err = e.Ledger().CreateAllocation(ctx, b, qty(1), dairy.AllocationReservation, "manual")
	assert.Error(t, err)

	sum, err := e.Ledger().SumAllocations(ctx, b.ID)
	require.NoError(t, err)
	assertQty(t, 0, sum)
}

package dairy

import (
	"sync"
	"time"
)

// =============================================================================
// DATE - Calendar day, no time of day
// =============================================================================

const DateLayout = "2006-01-02"

// Date is a calendar day. The underlying time is always midnight UTC so
// two Dates compare equal iff they name the same day.
type Date struct {
	t time.Time
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar day of t in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return Date{}, &ValidationError{Field: "date", Reason: "expected YYYY-MM-DD, got " + s}
	}
	return DateOf(t), nil
}

func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool  { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool  { return d.t.Equal(o.t) }
func (d Date) IsZero() bool       { return d.t.IsZero() }
func (d Date) AddDays(n int) Date { return Date{t: d.t.AddDate(0, 0, n)} }
func (d Date) Time() time.Time    { return d.t }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(DateLayout)
}

// At returns the wall-clock instant hour:min on this day in loc.
func (d Date) At(hour, min int, loc *time.Location) time.Time {
	return time.Date(d.t.Year(), d.t.Month(), d.t.Day(), hour, min, 0, 0, loc)
}

// =============================================================================
// CLOCK - Injected time source
// =============================================================================

// Clock is the engine's only source of "now".
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in a fixed location (the farms' zone).
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

// FixedClock returns a settable instant. Safe for concurrent use.
type FixedClock struct {
	mu sync.Mutex
	t  time.Time
}

func NewFixedClock(t time.Time) *FixedClock { return &FixedClock{t: t} }

func (c *FixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Today is the calendar day of clock's now, in the clock's location.
func Today(clock Clock) Date {
	return DateOf(clock.Now())
}

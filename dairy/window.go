package dairy

import (
	"fmt"
	"time"
)

// Cutoff is a wall-clock time of day, in the farms' local zone.
type Cutoff struct {
	Hour   int
	Minute int
}

func (c Cutoff) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

func (c Cutoff) Before(o Cutoff) bool {
	return c.Hour < o.Hour || (c.Hour == o.Hour && c.Minute < o.Minute)
}

// SessionWindows holds, per real session, the last instant at which a
// same-day order or subscription may still be placed.
type SessionWindows map[Session]Cutoff

// DefaultSessionWindows: MORNING closes at 10:00, EVENING at 20:00.
func DefaultSessionWindows() SessionWindows {
	return SessionWindows{
		SessionMorning: {Hour: 10},
		SessionEvening: {Hour: 20},
	}
}

// Earliest returns the first cutoff of the day. ok is false when no
// session has one.
func (w SessionWindows) Earliest() (c Cutoff, ok bool) {
	for _, cutoff := range w {
		if !ok || cutoff.Before(c) {
			c, ok = cutoff, true
		}
	}
	return c, ok
}

// Check rejects a same-day request for session once its cutoff has passed.
// The cutoff instant itself is still accepted. ALL and other days are
// never restricted.
func (w SessionWindows) Check(now time.Time, date Date, session Session) error {
	if session == SessionAll || !date.Equal(DateOf(now)) {
		return nil
	}
	cutoff, ok := w[session]
	if !ok {
		return nil
	}
	closesAt := date.At(cutoff.Hour, cutoff.Minute, now.Location())
	if now.After(closesAt) {
		return &ValidationError{
			Field:  "session",
			Reason: fmt.Sprintf("%s cannot be requested for today after %s", session, cutoff),
		}
	}
	return nil
}

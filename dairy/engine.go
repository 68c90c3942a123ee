package dairy

import (
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const DefaultLockTimeout = 5 * time.Second

// Engine is the allocation and order engine. Construct with NewEngine;
// exported fields may be overridden before first use.
type Engine struct {
	Store   TxStore
	Locker  Locker
	Clock   Clock
	Windows SessionWindows

	// Farms is consulted on create/subscribe when set.
	Farms FarmDirectory

	Log         logrus.FieldLogger
	LockTimeout time.Duration

	// SweepConcurrency bounds parallel subscriptions in the daily sweep.
	SweepConcurrency int

	// NewID generates record identifiers.
	NewID func() string
}

func NewEngine(store TxStore, locker Locker, clock Clock) *Engine {
	return &Engine{
		Store:            store,
		Locker:           locker,
		Clock:            clock,
		Windows:          DefaultSessionWindows(),
		LockTimeout:      DefaultLockTimeout,
		SweepConcurrency: 1,
		NewID:            uuid.NewString,
	}
}

func (e *Engine) log() logrus.FieldLogger {
	if e.Log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		e.Log = l
	}
	return e.Log
}

func (e *Engine) lockTimeout() time.Duration {
	if e.LockTimeout <= 0 {
		return DefaultLockTimeout
	}
	return e.LockTimeout
}

func (e *Engine) newID() string {
	if e.NewID == nil {
		return uuid.NewString()
	}
	return e.NewID()
}

func (e *Engine) now() time.Time { return e.Clock.Now() }

// Today is the farms' current calendar day.
func (e *Engine) Today() Date { return Today(e.Clock) }

// Ledger returns the allocation ledger over the engine's store.
func (e *Engine) Ledger() *Ledger { return NewLedger(e.Store, e.Clock, e.NewID) }

// Availability returns the calculator over the engine's store.
func (e *Engine) Availability() *AvailabilityCalculator {
	return &AvailabilityCalculator{Store: e.Store}
}

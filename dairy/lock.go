package dairy

import (
	"context"
	"errors"
	"time"
)

// Locker provides critical sections keyed by an arbitrary string.
//
// Acquire blocks until the key is free or ctx is done. On success the
// returned release must be called exactly once. Implementations return an
// error wrapping ctx.Err() when ctx ends first.
//
// Implementations live in dairy/lock.
type Locker interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}

type heldLocksKey struct{}

// withLock runs fn while holding key, waiting at most LockTimeout.
// The ctx passed to fn records that key is held.
func (e *Engine) withLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	timeout := e.lockTimeout()
	lctx, cancel := context.WithTimeout(ctx, timeout)
	start := time.Now()
	release, err := e.Locker.Acquire(lctx, key)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			e.log().WithField("lock", key).Warn("lock wait timed out")
			return &ConcurrencyTimeoutError{Key: key, Waited: time.Since(start)}
		}
		return err
	}
	defer release()

	held, _ := ctx.Value(heldLocksKey{}).([]string)
	next := make([]string, len(held), len(held)+1)
	copy(next, held)
	return fn(context.WithValue(ctx, heldLocksKey{}, append(next, key)))
}

// holdsLock reports whether ctx was produced inside withLock(key).
func holdsLock(ctx context.Context, key string) bool {
	held, _ := ctx.Value(heldLocksKey{}).([]string)
	for _, k := range held {
		if k == key {
			return true
		}
	}
	return false
}

func orderLockKey(id OrderID) string { return "order:" + string(id) }

func subscriptionLockKey(id SubscriptionID) string { return "subscription:" + string(id) }

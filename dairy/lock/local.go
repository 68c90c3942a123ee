// Package lock provides dairy.Locker implementations.
package lock

import (
	"context"
	"fmt"
	"sync"
)

// =============================================================================
// LOCAL - In-process FIFO keyed lock
// =============================================================================

// Local grants each key to one holder at a time. Waiters on a key are
// granted in arrival order; a waiter whose context ends first leaves the
// queue without ever holding the key. Distinct keys never block each other.
type Local struct {
	mu     sync.Mutex
	queues map[string]*queue
}

type queue struct {
	held    bool
	waiters []chan struct{}
}

func NewLocal() *Local {
	return &Local{queues: make(map[string]*queue)}
}

func (l *Local) Acquire(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}

	l.mu.Lock()
	q := l.queues[key]
	if q == nil {
		q = &queue{}
		l.queues[key] = q
	}
	if !q.held {
		q.held = true
		l.mu.Unlock()
		return l.releaser(key), nil
	}
	grant := make(chan struct{})
	q.waiters = append(q.waiters, grant)
	l.mu.Unlock()

	select {
	case <-grant:
		return l.releaser(key), nil
	case <-ctx.Done():
	}

	l.mu.Lock()
	select {
	case <-grant:
		// Granted while we were giving up: pass it on.
		l.mu.Unlock()
		l.release(key)
	default:
		q.remove(grant)
		l.mu.Unlock()
	}
	return nil, fmt.Errorf("lock %s: %w", key, ctx.Err())
}

// Waiting returns the number of callers queued on key, excluding the holder.
func (l *Local) Waiting(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if q := l.queues[key]; q != nil {
		return len(q.waiters)
	}
	return 0
}

// Held reports whether key currently has a holder.
func (l *Local) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	q := l.queues[key]
	return q != nil && q.held
}

func (l *Local) releaser(key string) func() {
	var once sync.Once
	return func() { once.Do(func() { l.release(key) }) }
}

// release hands key to the oldest waiter, or frees it.
func (l *Local) release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	q := l.queues[key]
	if q == nil {
		return
	}
	if len(q.waiters) > 0 {
		next := q.waiters[0]
		q.waiters = q.waiters[1:]
		close(next)
		return
	}
	delete(l.queues, key)
}

func (q *queue) remove(ch chan struct{}) {
	for i, w := range q.waiters {
		if w == ch {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			return
		}
	}
}

package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/dairy-engine/dairy"
)

var (
	_ dairy.Locker = (*Local)(nil)
	_ dairy.Locker = (*Redis)(nil)
)

func TestLocal_SatisfiesLocker(t *testing.T) {
	var l dairy.Locker = NewLocal()

	release, err := l.Acquire(context.Background(), "subscription:s-1")
	require.NoError(t, err)
	require.NotNil(t, release)
	release()
}

func TestLocal_ExclusivePerKey(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "bucket:a")
	require.NoError(t, err)
	assert.True(t, l.Held("bucket:a"))

	// A second caller on the same key waits until the deadline
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(short, "bucket:a")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 0, l.Waiting("bucket:a"), "timed-out waiter leaves the queue")

	// A different key is free
	other, err := l.Acquire(ctx, "bucket:b")
	require.NoError(t, err)
	other()

	release()
	assert.False(t, l.Held("bucket:a"))
}

func TestLocal_FIFOOrder(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rel, err := l.Acquire(ctx, "k")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			rel()
		}(i)
		// Enqueue strictly one after another
		require.Eventually(t, func() bool { return l.Waiting("k") == i+1 }, time.Second, time.Millisecond)
	}

	release()
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.False(t, l.Held("k"))
}

func TestLocal_CancelledWaiterSkipped(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k")
	require.NoError(t, err)

	cctx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		_, err := l.Acquire(cctx, "k")
		done <- err
	}()
	require.Eventually(t, func() bool { return l.Waiting("k") == 1 }, time.Second, time.Millisecond)

	got := make(chan struct{})
	go func() {
		rel, err := l.Acquire(ctx, "k")
		if err == nil {
			close(got)
			rel()
		}
	}()
	require.Eventually(t, func() bool { return l.Waiting("k") == 2 }, time.Second, time.Millisecond)

	cancel()
	assert.True(t, errors.Is(<-done, context.Canceled))

	release()
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("second waiter never acquired the key")
	}
}

func TestLocal_ReleaseIsIdempotent(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k")
	require.NoError(t, err)
	release()
	release()

	again, err := l.Acquire(ctx, "k")
	require.NoError(t, err)
	assert.True(t, l.Held("k"))
	again()
}

func TestLocal_AlreadyCancelledContext(t *testing.T) {
	l := NewLocal()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Acquire(ctx, "k")
	assert.True(t, errors.Is(err, context.Canceled))
	assert.False(t, l.Held("k"))
}

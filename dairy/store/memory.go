// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/warp/dairy-engine/dairy"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu            sync.RWMutex
	buckets       map[dairy.BucketKey]dairy.Bucket
	bucketKeys    map[dairy.BucketID]dairy.BucketKey
	allocations   []dairy.Allocation
	orders        map[dairy.OrderID]dairy.Order
	subscriptions map[dairy.SubscriptionID]dairy.Subscription
}

func NewMemory() *Memory {
	return &Memory{
		buckets:       make(map[dairy.BucketKey]dairy.Bucket),
		bucketKeys:    make(map[dairy.BucketID]dairy.BucketKey),
		orders:        make(map[dairy.OrderID]dairy.Order),
		subscriptions: make(map[dairy.SubscriptionID]dairy.Subscription),
	}
}

// view runs reads and writes without taking mu; the caller holds it.
type view struct{ m *Memory }

// --- Store methods: take the lock, delegate to the view ---

func (m *Memory) UpsertBucket(ctx context.Context, b dairy.Bucket) (dairy.Bucket, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.UpsertBucket(ctx, b)
}

func (m *Memory) GetBucket(ctx context.Context, key dairy.BucketKey) (*dairy.Bucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.GetBucket(ctx, key)
}

func (m *Memory) GetBucketByID(ctx context.Context, id dairy.BucketID) (*dairy.Bucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.GetBucketByID(ctx, id)
}

func (m *Memory) ListBuckets(ctx context.Context, farmID dairy.FarmID, date dairy.Date) ([]dairy.Bucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.ListBuckets(ctx, farmID, date)
}

func (m *Memory) ListBucketsInRange(ctx context.Context, farmID dairy.FarmID, from, to dairy.Date) ([]dairy.Bucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.ListBucketsInRange(ctx, farmID, from, to)
}

func (m *Memory) AppendAllocation(ctx context.Context, a dairy.Allocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.AppendAllocation(ctx, a)
}

func (m *Memory) SumAllocations(ctx context.Context, bucketID dairy.BucketID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.SumAllocations(ctx, bucketID)
}

func (m *Memory) AllocationsByReference(ctx context.Context, referenceID string) ([]dairy.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.AllocationsByReference(ctx, referenceID)
}

func (m *Memory) InsertOrder(ctx context.Context, o dairy.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.InsertOrder(ctx, o)
}

func (m *Memory) TransitionOrder(ctx context.Context, o dairy.Order, from dairy.OrderStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.TransitionOrder(ctx, o, from)
}

func (m *Memory) GetOrder(ctx context.Context, id dairy.OrderID) (*dairy.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.GetOrder(ctx, id)
}

func (m *Memory) ListOrders(ctx context.Context, filter dairy.OrderFilter) ([]dairy.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.ListOrders(ctx, filter)
}

func (m *Memory) SaveSubscription(ctx context.Context, s dairy.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.SaveSubscription(ctx, s)
}

func (m *Memory) TransitionSubscription(ctx context.Context, s dairy.Subscription, from dairy.SubscriptionStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return view{m}.TransitionSubscription(ctx, s, from)
}

func (m *Memory) GetSubscription(ctx context.Context, id dairy.SubscriptionID) (*dairy.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.GetSubscription(ctx, id)
}

func (m *Memory) ListSubscriptions(ctx context.Context, filter dairy.SubscriptionFilter) ([]dairy.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return view{m}.ListSubscriptions(ctx, filter)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(dairy.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(view{m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	buckets       map[dairy.BucketKey]dairy.Bucket
	bucketKeys    map[dairy.BucketID]dairy.BucketKey
	allocations   []dairy.Allocation
	orders        map[dairy.OrderID]dairy.Order
	subscriptions map[dairy.SubscriptionID]dairy.Subscription
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		buckets:       make(map[dairy.BucketKey]dairy.Bucket, len(m.buckets)),
		bucketKeys:    make(map[dairy.BucketID]dairy.BucketKey, len(m.bucketKeys)),
		allocations:   append([]dairy.Allocation(nil), m.allocations...),
		orders:        make(map[dairy.OrderID]dairy.Order, len(m.orders)),
		subscriptions: make(map[dairy.SubscriptionID]dairy.Subscription, len(m.subscriptions)),
	}
	for k, v := range m.buckets {
		s.buckets[k] = v
	}
	for k, v := range m.bucketKeys {
		s.bucketKeys[k] = v
	}
	for k, v := range m.orders {
		s.orders[k] = v
	}
	for k, v := range m.subscriptions {
		s.subscriptions[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.buckets = s.buckets
	m.bucketKeys = s.bucketKeys
	m.allocations = s.allocations
	m.orders = s.orders
	m.subscriptions = s.subscriptions
}

// =============================================================================
// VIEW - Unlocked implementation shared by Memory and WithTx
// =============================================================================

func (v view) UpsertBucket(_ context.Context, b dairy.Bucket) (dairy.Bucket, error) {
	if existing, ok := v.m.buckets[b.Key]; ok {
		existing.Produced = b.Produced
		existing.UpdatedAt = b.UpdatedAt
		v.m.buckets[b.Key] = existing
		return existing, nil
	}
	v.m.buckets[b.Key] = b
	v.m.bucketKeys[b.ID] = b.Key
	return b, nil
}

func (v view) GetBucket(_ context.Context, key dairy.BucketKey) (*dairy.Bucket, error) {
	b, ok := v.m.buckets[key]
	if !ok {
		return nil, nil
	}
	return &b, nil
}

func (v view) GetBucketByID(ctx context.Context, id dairy.BucketID) (*dairy.Bucket, error) {
	key, ok := v.m.bucketKeys[id]
	if !ok {
		return nil, nil
	}
	return v.GetBucket(ctx, key)
}

func (v view) ListBuckets(_ context.Context, farmID dairy.FarmID, date dairy.Date) ([]dairy.Bucket, error) {
	var out []dairy.Bucket
	for k, b := range v.m.buckets {
		if k.FarmID == farmID && k.Date.Equal(date) {
			out = append(out, b)
		}
	}
	dairy.SortBuckets(out)
	return out, nil
}

func (v view) ListBucketsInRange(_ context.Context, farmID dairy.FarmID, from, to dairy.Date) ([]dairy.Bucket, error) {
	var out []dairy.Bucket
	for k, b := range v.m.buckets {
		if k.FarmID == farmID && !k.Date.Before(from) && !k.Date.After(to) {
			out = append(out, b)
		}
	}
	dairy.SortBuckets(out)
	return out, nil
}

func (v view) AppendAllocation(_ context.Context, a dairy.Allocation) error {
	v.m.allocations = append(v.m.allocations, a)
	return nil
}

func (v view) SumAllocations(_ context.Context, bucketID dairy.BucketID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, a := range v.m.allocations {
		if a.BucketID == bucketID {
			sum = sum.Add(a.Quantity)
		}
	}
	return sum, nil
}

func (v view) AllocationsByReference(_ context.Context, referenceID string) ([]dairy.Allocation, error) {
	var out []dairy.Allocation
	for _, a := range v.m.allocations {
		if a.ReferenceID == referenceID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (v view) InsertOrder(_ context.Context, o dairy.Order) error {
	v.m.orders[o.ID] = o
	return nil
}

func (v view) TransitionOrder(_ context.Context, o dairy.Order, from dairy.OrderStatus) error {
	current, ok := v.m.orders[o.ID]
	if !ok || current.Status != from {
		return dairy.ErrConcurrentModification
	}
	v.m.orders[o.ID] = o
	return nil
}

func (v view) GetOrder(_ context.Context, id dairy.OrderID) (*dairy.Order, error) {
	o, ok := v.m.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (v view) ListOrders(_ context.Context, filter dairy.OrderFilter) ([]dairy.Order, error) {
	var out []dairy.Order
	for _, o := range v.m.orders {
		if filter.Match(o) {
			out = append(out, o)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (v view) SaveSubscription(_ context.Context, s dairy.Subscription) error {
	v.m.subscriptions[s.ID] = s
	return nil
}

func (v view) TransitionSubscription(_ context.Context, s dairy.Subscription, from dairy.SubscriptionStatus) error {
	current, ok := v.m.subscriptions[s.ID]
	if !ok || current.Status != from {
		return dairy.ErrConcurrentModification
	}
	v.m.subscriptions[s.ID] = s
	return nil
}

func (v view) GetSubscription(_ context.Context, id dairy.SubscriptionID) (*dairy.Subscription, error) {
	s, ok := v.m.subscriptions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (v view) ListSubscriptions(_ context.Context, filter dairy.SubscriptionFilter) ([]dairy.Subscription, error) {
	var out []dairy.Subscription
	for _, s := range v.m.subscriptions {
		if filter.Match(s) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

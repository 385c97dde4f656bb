package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const guardBuckets = 256

// Guard orders cache fills against invalidations. A reader takes a Ticket
// before reading the backing store; the fill is dropped when the key was
// invalidated in between. Keys share epochs by bucket, so an unrelated
// invalidation can only skip a fill, never keep a stale one.
type Guard struct {
	mu     sync.RWMutex
	epochs [guardBuckets]uint64
}

// Ticket records the epoch of a key when a read started
type Ticket struct {
	bucket int
	epoch  uint64
}

func bucketOf(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % guardBuckets)
}

// Ticket must be taken before the backing store is read
func (g *Guard) Ticket(key string) Ticket {
	b := bucketOf(key)
	g.mu.RLock()
	defer g.mu.RUnlock()
	return Ticket{bucket: b, epoch: g.epochs[b]}
}

// FillJSON caches v under key unless the key was invalidated since t was
// taken. It reports whether the value was stored.
func (g *Guard) FillJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration, t Ticket) (bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.epochs[t.bucket] != t.epoch {
		return false, nil
	}
	if err := SetJSON(ctx, c, key, v, ttl); err != nil {
		return false, err
	}
	return true, nil
}

// Invalidate advances the epochs of keys and runs evict while no fill can
// be in flight
func (g *Guard) Invalidate(keys []string, evict func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, k := range keys {
		g.epochs[bucketOf(k)]++
	}
	if evict == nil {
		return nil
	}
	return evict()
}

// InvalidateAll advances every epoch and runs evict
func (g *Guard) InvalidateAll(evict func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	for i := range g.epochs {
		g.epochs[i]++
	}
	if evict == nil {
		return nil
	}
	return evict()
}

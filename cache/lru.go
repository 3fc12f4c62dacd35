package cache

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

type lookup int

const (
	lookupMiss lookup = iota
	lookupHit
	lookupExpired
)

// lruBackend is the exact least-recently-used policy. The expirable cache
// keeps an expired entry until its sweeper runs, so get drops it on sight and
// contains peeks instead of asking Contains.
type lruBackend[V any] struct {
	c *expirable.LRU[uuid.UUID, V]
}

func newLRU[V any](max int, ttl time.Duration) *lruBackend[V] {
	return &lruBackend[V]{c: expirable.NewLRU[uuid.UUID, V](max, nil, ttl)}
}

func (b *lruBackend[V]) get(key uuid.UUID) (V, lookup) {
	if value, ok := b.c.Get(key); ok {
		return value, lookupHit
	}
	var zero V
	if b.c.Contains(key) {
		b.c.Remove(key)
		return zero, lookupExpired
	}
	return zero, lookupMiss
}

func (b *lruBackend[V]) contains(key uuid.UUID) bool {
	_, ok := b.c.Peek(key)
	return ok
}

// set stores value and returns how many entries were evicted to make room.
func (b *lruBackend[V]) set(key uuid.UUID, value V) int {
	if b.c.Add(key, value) {
		return 1
	}
	return 0
}

func (b *lruBackend[V]) remove(key uuid.UUID) { b.c.Remove(key) }

func (b *lruBackend[V]) len() int { return b.c.Len() }

func (b *lruBackend[V]) clear() { b.c.Purge() }

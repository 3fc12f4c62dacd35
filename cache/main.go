package cache

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-ledger-cache/internal/cacheinfra"
	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
)

// Stats is a point-in-time snapshot of a Main cache's counters.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
	Size        int   `json:"size"`
}

type backend[V any] interface {
	get(key uuid.UUID) (V, lookup)
	contains(key uuid.UUID) bool
	set(key uuid.UUID, value V) int
	remove(key uuid.UUID)
	len() int
	clear()
}

// generationStripes bounds the memory spent on fill generations. Ids sharing a
// stripe only cost each other a skipped fill.
const generationStripes = 1024

// Fill is a value read from the database, tagged with the generation of its id
// taken before the read.
type Fill[V any] struct {
	Value      V
	Generation uint64
}

// Main is a bounded cache of full entities keyed by primary id. Capacity
// pressure and expiry show up only in Stats and as misses.
//
// Every replace or removal bumps the generation of the id, so a Fill read
// before a concurrent delete is dropped instead of bringing the row back.
type Main[V any] struct {
	mu    *xsync.RBMutex
	id    func(V) uuid.UUID
	store backend[V]
	gens  [generationStripes]uint64

	hits        *xsync.Counter
	misses      *xsync.Counter
	evictions   *xsync.Counter
	expirations *xsync.Counter
}

// NewMain validates cfg and builds a Main cache. id extracts the primary key of a value.
func NewMain[V any](cfg Config, id func(V) uuid.UUID) (*Main[V], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if id == nil {
		return nil, dataerr.Validation("main cache requires an id function")
	}

	var store backend[V]
	switch cfg.Policy {
	case PolicySharded:
		store = &shardedBackend[V]{store: cacheinfra.NewStore[V](cacheinfra.StoreConfig{
			Capacity:           cfg.MaxEntries,
			NumShards:          cfg.NumShards,
			TTL:                cfg.TTL,
			EvictionPercentage: cfg.EvictionPercentage,
		})}
	default:
		store = newLRU[V](cfg.MaxEntries, cfg.TTL)
	}

	return &Main[V]{
		mu:          xsync.NewRBMutex(),
		id:          id,
		store:       store,
		hits:        xsync.NewCounter(),
		misses:      xsync.NewCounter(),
		evictions:   xsync.NewCounter(),
		expirations: xsync.NewCounter(),
	}, nil
}

// Get returns the cached value for id.
func (m *Main[V]) Get(id uuid.UUID) (V, bool) {
	t := m.mu.RLock()
	value, res := m.store.get(id)
	m.mu.RUnlock(t)

	switch res {
	case lookupHit:
		m.hits.Inc()
		return value, true
	case lookupExpired:
		m.expirations.Inc()
	}
	m.misses.Inc()
	return value, false
}

// Contains reports whether id is cached without counting a hit or miss.
func (m *Main[V]) Contains(id uuid.UUID) bool {
	t := m.mu.RLock()
	defer m.mu.RUnlock(t)
	return m.store.contains(id)
}

// Generation returns the current generation of id. Take it before reading the
// row a Fill will carry.
func (m *Main[V]) Generation(id uuid.UUID) uint64 {
	t := m.mu.RLock()
	defer m.mu.RUnlock(t)
	return m.gens[stripe(id)]
}

// Insert stores value only if its id is not cached yet and reports whether it did.
func (m *Main[V]) Insert(value V) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(value)
}

// Update stores value, replacing any cached entry with the same id.
func (m *Main[V]) Update(value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bumpLocked(m.id(value))
	m.setLocked(value)
}

func (m *Main[V]) Remove(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(id)
}

// Apply removes, then replaces with adds, then inserts fills whose id is not
// cached and has not changed since the fill was read. It runs under one lock
// so readers never observe a partial commit.
func (m *Main[V]) Apply(adds []V, fills []Fill[V], removes []uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range removes {
		m.removeLocked(id)
	}
	for _, value := range adds {
		m.bumpLocked(m.id(value))
		m.setLocked(value)
	}
	for _, f := range fills {
		if m.gens[stripe(m.id(f.Value))] != f.Generation {
			continue
		}
		m.insertLocked(f.Value)
	}
}

// Clear drops every entry and invalidates outstanding fills. Counters are kept.
func (m *Main[V]) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store.clear()
	for i := range m.gens {
		m.gens[i]++
	}
}

func (m *Main[V]) Len() int {
	t := m.mu.RLock()
	defer m.mu.RUnlock(t)
	return m.store.len()
}

func (m *Main[V]) Stats() Stats {
	return Stats{
		Hits:        m.hits.Value(),
		Misses:      m.misses.Value(),
		Evictions:   m.evictions.Value(),
		Expirations: m.expirations.Value(),
		Size:        m.Len(),
	}
}

func (m *Main[V]) setLocked(value V) {
	if evicted := m.store.set(m.id(value), value); evicted > 0 {
		m.evictions.Add(int64(evicted))
	}
}

func (m *Main[V]) removeLocked(id uuid.UUID) {
	m.bumpLocked(id)
	m.store.remove(id)
}

func (m *Main[V]) bumpLocked(id uuid.UUID) {
	m.gens[stripe(id)]++
}

func stripe(id uuid.UUID) int {
	return int(binary.BigEndian.Uint64(id[8:]) % generationStripes)
}

func (m *Main[V]) insertLocked(value V) bool {
	if m.store.contains(m.id(value)) {
		return false
	}
	m.setLocked(value)
	return true
}

// shardedBackend cannot tell an expired entry from an absent one; expiries
// surface as plain misses.
type shardedBackend[V any] struct {
	store *cacheinfra.Store[V]
}

func (b *shardedBackend[V]) get(key uuid.UUID) (V, lookup) {
	value, ok := b.store.Get(key.String())
	if !ok {
		return value, lookupMiss
	}
	return value, lookupHit
}

func (b *shardedBackend[V]) contains(key uuid.UUID) bool {
	_, ok := b.store.Get(key.String())
	return ok
}

func (b *shardedBackend[V]) set(key uuid.UUID, value V) int {
	return b.store.Set(key.String(), value)
}

func (b *shardedBackend[V]) remove(key uuid.UUID) { b.store.Delete(key.String()) }

func (b *shardedBackend[V]) len() int { return b.store.Len() }

func (b *shardedBackend[V]) clear() { b.store.Clear() }

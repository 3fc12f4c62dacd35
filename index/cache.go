// Package index keeps narrow index records in memory, keyed by primary id and by
// named secondary keys.
//
// A secondary key is either a 64-bit integer (usually a digest of text or a date)
// or a raw foreign-key uuid. Each index maps a key to the set of primary ids whose
// record currently produces that key; replacing or removing a record purges its
// previous keys. Lookups return records sorted by primary id.
package index

import (
	"bytes"
	"slices"

	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
)

// Record is the capability every index record provides.
type Record interface {
	PrimaryID() uuid.UUID
}

// Schema declares the secondary indices of a record type. A key function returns
// false when the record has no key for that index.
type Schema[R Record] struct {
	I64  map[string]func(R) (int64, bool)
	UUID map[string]func(R) (uuid.UUID, bool)
}

// I64Key returns the key r produces for the named integer index.
func (s Schema[R]) I64Key(name string, r R) (int64, bool) {
	fn, ok := s.I64[name]
	if !ok {
		return 0, false
	}
	return fn(r)
}

// UUIDKey returns the key r produces for the named uuid index.
func (s Schema[R]) UUIDKey(name string, r R) (uuid.UUID, bool) {
	fn, ok := s.UUID[name]
	if !ok {
		return uuid.Nil, false
	}
	return fn(r)
}

type idSet map[uuid.UUID]struct{}

// Cache is the shared, process-wide index cache for one record type.
type Cache[R Record] struct {
	mu      *xsync.RBMutex
	schema  Schema[R]
	primary map[uuid.UUID]R
	i64     map[string]map[int64]idSet
	uuids   map[string]map[uuid.UUID]idSet
}

// New builds a cache warm-started with initial. It fails on a duplicate primary id.
func New[R Record](schema Schema[R], initial []R) (*Cache[R], error) {
	c := &Cache[R]{
		mu:     xsync.NewRBMutex(),
		schema: schema,
	}
	if err := c.load(initial); err != nil {
		return nil, err
	}
	return c, nil
}

// Schema returns the declared secondary indices.
func (c *Cache[R]) Schema() Schema[R] {
	return c.schema
}

// Reset replaces the whole content, e.g. after lost change notifications.
// On a duplicate id the previous content is kept.
func (c *Cache[R]) Reset(records []R) error {
	fresh := &Cache[R]{schema: c.schema}
	if err := fresh.load(records); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.primary, c.i64, c.uuids = fresh.primary, fresh.i64, fresh.uuids
	return nil
}

func (c *Cache[R]) load(records []R) error {
	c.primary = make(map[uuid.UUID]R, len(records))
	c.i64 = make(map[string]map[int64]idSet, len(c.schema.I64))
	c.uuids = make(map[string]map[uuid.UUID]idSet, len(c.schema.UUID))
	for name := range c.schema.I64 {
		c.i64[name] = make(map[int64]idSet)
	}
	for name := range c.schema.UUID {
		c.uuids[name] = make(map[uuid.UUID]idSet)
	}

	for _, r := range records {
		id := r.PrimaryID()
		if _, dup := c.primary[id]; dup {
			return dataerr.Internal("duplicate primary id %s in index warm start", id)
		}
		c.addLocked(r)
	}
	return nil
}

// Add inserts or replaces r and refreshes every secondary index.
func (c *Cache[R]) Add(r R) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addLocked(r)
}

// Remove deletes id from the primary map and every secondary index.
func (c *Cache[R]) Remove(id uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeLocked(id)
}

// Apply removes then adds under a single writer lock so readers never observe a
// half-applied change set.
func (c *Cache[R]) Apply(adds []R, removes []uuid.UUID) {
	if len(adds) == 0 && len(removes) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range removes {
		c.removeLocked(id)
	}
	for _, r := range adds {
		c.addLocked(r)
	}
}

func (c *Cache[R]) Get(id uuid.UUID) (R, bool) {
	t := c.mu.RLock()
	defer c.mu.RUnlock(t)
	r, ok := c.primary[id]
	return r, ok
}

func (c *Cache[R]) ContainsPrimary(id uuid.UUID) bool {
	_, ok := c.Get(id)
	return ok
}

func (c *Cache[R]) Len() int {
	t := c.mu.RLock()
	defer c.mu.RUnlock(t)
	return len(c.primary)
}

// ByI64 returns the records whose named integer key equals key.
func (c *Cache[R]) ByI64(name string, key int64) []R {
	t := c.mu.RLock()
	defer c.mu.RUnlock(t)
	return c.collect(c.i64[name][key])
}

// ByUUID returns the records whose named uuid key equals key.
func (c *Cache[R]) ByUUID(name string, key uuid.UUID) []R {
	t := c.mu.RLock()
	defer c.mu.RUnlock(t)
	return c.collect(c.uuids[name][key])
}

func (c *Cache[R]) collect(ids idSet) []R {
	out := make([]R, 0, len(ids))
	for id := range ids {
		out = append(out, c.primary[id])
	}
	SortByID(out)
	return out
}

func (c *Cache[R]) addLocked(r R) {
	id := r.PrimaryID()
	c.removeLocked(id)
	c.primary[id] = r

	for name := range c.schema.I64 {
		if key, ok := c.schema.I64Key(name, r); ok {
			add(c.i64[name], key, id)
		}
	}
	for name := range c.schema.UUID {
		if key, ok := c.schema.UUIDKey(name, r); ok {
			add(c.uuids[name], key, id)
		}
	}
}

func (c *Cache[R]) removeLocked(id uuid.UUID) {
	old, ok := c.primary[id]
	if !ok {
		return
	}
	delete(c.primary, id)

	for name := range c.schema.I64 {
		if key, ok := c.schema.I64Key(name, old); ok {
			drop(c.i64[name], key, id)
		}
	}
	for name := range c.schema.UUID {
		if key, ok := c.schema.UUIDKey(name, old); ok {
			drop(c.uuids[name], key, id)
		}
	}
}

func add[K comparable](idx map[K]idSet, key K, id uuid.UUID) {
	set, ok := idx[key]
	if !ok {
		set = make(idSet)
		idx[key] = set
	}
	set[id] = struct{}{}
}

func drop[K comparable](idx map[K]idSet, key K, id uuid.UUID) {
	set, ok := idx[key]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(idx, key)
	}
}

// SortByID orders records by primary id bytes.
func SortByID[R Record](records []R) {
	slices.SortFunc(records, func(a, b R) int {
		ida, idb := a.PrimaryID(), b.PrimaryID()
		return bytes.Compare(ida[:], idb[:])
	})
}

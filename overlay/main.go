// Package overlay stages cache mutations made inside one unit of work.
//
// An overlay sits in front of a shared base cache. Writes land in pending state
// private to the overlay, reads see that pending state first, and nothing reaches
// the base cache until OnCommit runs after the database commit is durable.
// OnRollback discards everything.
package overlay

import (
	"sync"

	"github.com/google/uuid"

	"github.com/goliatone/go-ledger-cache/cache"
)

// Main overlays a bounded main cache.
type Main[V any] struct {
	mu      sync.Mutex
	base    *cache.Main[V]
	id      func(V) uuid.UUID
	adds    map[uuid.UUID]V
	fills   map[uuid.UUID]cache.Fill[V]
	removes map[uuid.UUID]struct{}
}

func NewMain[V any](base *cache.Main[V], id func(V) uuid.UUID) *Main[V] {
	o := &Main[V]{base: base, id: id}
	o.reset()
	return o
}

// Add stages value as the new committed state of its id.
func (o *Main[V]) Add(value V) {
	id := o.id(value)
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.removes, id)
	delete(o.fills, id)
	o.adds[id] = value
}

// Generation returns the base generation of id. Take it before reading the row
// passed to Fill.
func (o *Main[V]) Generation(id uuid.UUID) uint64 {
	return o.base.Generation(id)
}

// Fill stages a value read from the database. On commit it is cached only if
// the base has no entry for the id and the id's generation is still gen.
func (o *Main[V]) Fill(value V, gen uint64) {
	id := o.id(value)
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, removed := o.removes[id]; removed {
		return
	}
	if _, added := o.adds[id]; added {
		return
	}
	o.fills[id] = cache.Fill[V]{Value: value, Generation: gen}
}

// Remove stages the removal of id.
func (o *Main[V]) Remove(id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.adds, id)
	delete(o.fills, id)
	o.removes[id] = struct{}{}
}

// Get reads pending removes, then pending adds and fills, then the base cache.
func (o *Main[V]) Get(id uuid.UUID) (V, bool) {
	o.mu.Lock()
	if _, removed := o.removes[id]; removed {
		o.mu.Unlock()
		var zero V
		return zero, false
	}
	if v, ok := o.adds[id]; ok {
		o.mu.Unlock()
		return v, true
	}
	if f, ok := o.fills[id]; ok {
		o.mu.Unlock()
		return f.Value, true
	}
	o.mu.Unlock()
	return o.base.Get(id)
}

func (o *Main[V]) Contains(id uuid.UUID) bool {
	o.mu.Lock()
	if _, removed := o.removes[id]; removed {
		o.mu.Unlock()
		return false
	}
	_, added := o.adds[id]
	_, filled := o.fills[id]
	o.mu.Unlock()
	return added || filled || o.base.Contains(id)
}

// Pending returns the number of staged changes.
func (o *Main[V]) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.adds) + len(o.fills) + len(o.removes)
}

// OnCommit publishes the staged changes to the base cache in one step.
func (o *Main[V]) OnCommit() {
	o.mu.Lock()
	defer o.mu.Unlock()

	adds := make([]V, 0, len(o.adds))
	for _, v := range o.adds {
		adds = append(adds, v)
	}
	fills := make([]cache.Fill[V], 0, len(o.fills))
	for _, f := range o.fills {
		fills = append(fills, f)
	}
	removes := make([]uuid.UUID, 0, len(o.removes))
	for id := range o.removes {
		removes = append(removes, id)
	}

	o.base.Apply(adds, fills, removes)
	o.reset()
}

// OnRollback discards the staged changes.
func (o *Main[V]) OnRollback() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reset()
}

func (o *Main[V]) reset() {
	o.adds = make(map[uuid.UUID]V)
	o.fills = make(map[uuid.UUID]cache.Fill[V])
	o.removes = make(map[uuid.UUID]struct{})
}

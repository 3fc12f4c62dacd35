package overlay

import (
	"sync"

	"github.com/google/uuid"

	"github.com/goliatone/go-ledger-cache/index"
)

// Index overlays a shared index cache.
type Index[R index.Record] struct {
	mu      sync.Mutex
	base    *index.Cache[R]
	adds    map[uuid.UUID]R
	removes map[uuid.UUID]struct{}
}

func NewIndex[R index.Record](base *index.Cache[R]) *Index[R] {
	o := &Index[R]{base: base}
	o.reset()
	return o
}

// Add stages r, replacing any staged or committed record with the same id.
func (o *Index[R]) Add(r R) {
	id := r.PrimaryID()
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.removes, id)
	o.adds[id] = r
}

// Remove stages the removal of id.
func (o *Index[R]) Remove(id uuid.UUID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.adds, id)
	o.removes[id] = struct{}{}
}

func (o *Index[R]) Get(id uuid.UUID) (R, bool) {
	o.mu.Lock()
	if _, removed := o.removes[id]; removed {
		o.mu.Unlock()
		var zero R
		return zero, false
	}
	if r, ok := o.adds[id]; ok {
		o.mu.Unlock()
		return r, true
	}
	o.mu.Unlock()
	return o.base.Get(id)
}

func (o *Index[R]) ContainsPrimary(id uuid.UUID) bool {
	_, ok := o.Get(id)
	return ok
}

// ByI64 returns the records whose named integer key equals key, as seen from
// inside the unit of work.
func (o *Index[R]) ByI64(name string, key int64) []R {
	schema := o.base.Schema()
	return o.merge(o.base.ByI64(name, key), func(r R) bool {
		k, ok := schema.I64Key(name, r)
		return ok && k == key
	})
}

// ByUUID returns the records whose named uuid key equals key, as seen from
// inside the unit of work.
func (o *Index[R]) ByUUID(name string, key uuid.UUID) []R {
	schema := o.base.Schema()
	return o.merge(o.base.ByUUID(name, key), func(r R) bool {
		k, ok := schema.UUIDKey(name, r)
		return ok && k == key
	})
}

// merge drops base records shadowed by pending state and appends matching adds.
func (o *Index[R]) merge(base []R, match func(R) bool) []R {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.adds) == 0 && len(o.removes) == 0 {
		return base
	}

	out := make([]R, 0, len(base))
	for _, r := range base {
		id := r.PrimaryID()
		if _, removed := o.removes[id]; removed {
			continue
		}
		if _, replaced := o.adds[id]; replaced {
			continue
		}
		out = append(out, r)
	}
	for _, r := range o.adds {
		if match(r) {
			out = append(out, r)
		}
	}
	index.SortByID(out)
	return out
}

// OnCommit publishes the staged changes to the base cache in one step.
func (o *Index[R]) OnCommit() {
	o.mu.Lock()
	defer o.mu.Unlock()

	adds := make([]R, 0, len(o.adds))
	for _, r := range o.adds {
		adds = append(adds, r)
	}
	removes := make([]uuid.UUID, 0, len(o.removes))
	for id := range o.removes {
		removes = append(removes, id)
	}

	o.base.Apply(adds, removes)
	o.reset()
}

// OnRollback discards the staged changes.
func (o *Index[R]) OnRollback() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.reset()
}

func (o *Index[R]) reset() {
	o.adds = make(map[uuid.UUID]R)
	o.removes = make(map[uuid.UUID]struct{})
}

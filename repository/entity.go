// Package repository composes the caches, overlays, unit of work and audit chain
// into one batch operation surface shared by every entity type.
//
// A Store is created once per entity type and process. It owns the shared base
// caches and keeps them coherent with other processes by handling change
// notifications. A Repository is a Store bound to one unit of work: its writes
// are staged in overlays and reach the base caches only after commit.
package repository

import (
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/goliatone/go-ledger-cache/audit"
	"github.com/goliatone/go-ledger-cache/cache"
	"github.com/goliatone/go-ledger-cache/chain"
	"github.com/goliatone/go-ledger-cache/index"
	"github.com/goliatone/go-ledger-cache/notify"
	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
)

// Entity is the capability set of a main record. E is a bun model value type
// whose primary key column is "id"; I is its narrow index record, also a bun
// model keyed by "id".
type Entity[E any, I index.Record] interface {
	chain.Sealable[E]
	PrimaryID() uuid.UUID
	Index() I
}

// Options configure a Store.
type Options[I index.Record] struct {
	// EntityType names the entity in audit links and version rows.
	EntityType string
	// Schema declares the secondary indices answered from the index cache.
	Schema index.Schema[I]
	// MainCache enables the bounded cache of full entities when set.
	MainCache *cache.Config
	// Publisher announces committed changes for tables without notify triggers.
	Publisher notify.Publisher
	Logger    *zap.Logger
}

func (o Options[I]) validate() error {
	err := validation.ValidateStruct(&o,
		validation.Field(&o.EntityType, validation.Required),
	)
	if err != nil {
		return dataerr.FromValidation(err, "invalid repository options")
	}
	if o.MainCache != nil {
		return o.MainCache.Validate()
	}
	return nil
}

// Existence reports whether one id exists.
type Existence struct {
	ID      uuid.UUID `json:"id"`
	Existed bool      `json:"existed"`
}

// Revision is one historical version of an entity, decoded from its snapshot.
type Revision[E any] struct {
	Version audit.Version `json:"version"`
	Entity  E             `json:"entity"`
}

// StoreStats describe a Store's caches.
type StoreStats struct {
	IndexEntries int          `json:"index_entries"`
	Main         *cache.Stats `json:"main,omitempty"`
}

// checkIDs rejects nil and repeated ids in a mutating batch.
func checkIDs(ids []uuid.UUID) error {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for i, id := range ids {
		if id == uuid.Nil {
			return dataerr.Validation("item %d has a nil id", i)
		}
		if _, dup := seen[id]; dup {
			return dataerr.Validation("id %s appears more than once in the batch", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

func validateItem(i int, item any) error {
	v, ok := item.(validation.Validatable)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		return dataerr.FromValidation(err, fmt.Sprintf("invalid item %d", i))
	}
	return nil
}

// Package notify keeps per-process base caches in step with commits made by
// other processes.
//
// Database triggers publish a small JSON payload per changed row. A Subscription
// receives those payloads from a Source and hands each one to the handlers
// registered for the row's table. A handler updates its base cache directly: the
// event already describes a committed fact, so no overlay is involved.
//
// Delivery is best effort. A missed event leaves a cache stale until the entry
// is evicted, expires or is rewritten, never wrong, because every cache miss
// falls back to the database. When the transport loses its connection the
// Subscription asks every Resyncer to reload.
package notify

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
)

// Op is the kind of change carried by an Event.
type Op string

const (
	OpUpsert Op = "upsert"
	OpDelete Op = "delete"
)

// Event identifies one committed row change.
type Event struct {
	Table string    `json:"table"`
	Op    Op        `json:"op"`
	ID    uuid.UUID `json:"id"`
}

// Decode parses a notification payload.
func Decode(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, dataerr.FromValidation(err, "decode change notification")
	}
	if err := ev.validate(); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Encode renders ev as the payload the triggers emit.
func (ev Event) Encode() (string, error) {
	if err := ev.validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return "", dataerr.Internal("encode change notification: %v", err)
	}
	return string(data), nil
}

func (ev Event) validate() error {
	switch {
	case ev.Table == "":
		return dataerr.Validation("change notification without table")
	case ev.Op != OpUpsert && ev.Op != OpDelete:
		return dataerr.Validation("change notification with unknown op %q", ev.Op)
	case ev.ID == uuid.Nil:
		return dataerr.Validation("change notification without id")
	}
	return nil
}

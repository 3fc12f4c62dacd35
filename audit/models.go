// Package audit persists the tamper-evident trail of every auditable mutation.
//
// Each mutating unit of work opens one LogEntry. Every entity it touches gets an
// audit Link (entry to entity) and a Version row holding the canonical bytes
// whose digest is the version's hash. Versions are append-only: a deleted
// entity keeps its full history, ending with the delete version.
package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-ledger-cache/chain"
)

// LogEntry groups the mutations of one unit of work.
type LogEntry struct {
	bun.BaseModel `bun:"table:audit_logs,alias:al"`

	ID        uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	ActorID   uuid.UUID `bun:"actor_id,type:uuid,notnull" json:"actor_id"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

// Link associates a LogEntry with one entity it mutated.
type Link struct {
	bun.BaseModel `bun:"table:audit_links,alias:alk"`

	AuditLogID uuid.UUID `bun:"audit_log_id,pk,type:uuid" json:"audit_log_id"`
	EntityType string    `bun:"entity_type,pk" json:"entity_type"`
	EntityID   uuid.UUID `bun:"entity_id,pk,type:uuid" json:"entity_id"`
}

// Op is the mutation that produced a Version.
type Op string

const (
	OpCreate Op = "create"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Version is one link of an entity's hash chain.
type Version struct {
	bun.BaseModel `bun:"table:entity_versions,alias:ev"`

	EntityType           string    `bun:"entity_type,pk" json:"entity_type"`
	EntityID             uuid.UUID `bun:"entity_id,pk,type:uuid" json:"entity_id"`
	Seq                  int64     `bun:"seq,pk" json:"seq"`
	Op                   Op        `bun:"op,notnull" json:"op"`
	AuditLogID           uuid.UUID `bun:"audit_log_id,type:uuid,notnull" json:"audit_log_id"`
	Hash                 int64     `bun:"hash,notnull" json:"hash"`
	AntecedentHash       int64     `bun:"antecedent_hash,notnull" json:"antecedent_hash"`
	AntecedentAuditLogID uuid.UUID `bun:"antecedent_audit_log_id,type:uuid,notnull" json:"antecedent_audit_log_id"`
	Snapshot             []byte    `bun:"snapshot,notnull" json:"-"`
	RecordedAt           time.Time `bun:"recorded_at,notnull" json:"recorded_at"`
}

// NewVersion builds the version row for a sealed entity. snapshot must be the
// bytes the entity's hash was computed from.
func NewVersion(entityType string, entityID uuid.UUID, op Op, fields chain.Fields, snapshot []byte, at time.Time) Version {
	return Version{
		EntityType:           entityType,
		EntityID:             entityID,
		Op:                   op,
		AuditLogID:           fields.AuditLogID,
		Hash:                 fields.Hash,
		AntecedentHash:       fields.AntecedentHash,
		AntecedentAuditLogID: fields.AntecedentAuditLogID,
		Snapshot:             snapshot,
		RecordedAt:           at.UTC(),
	}
}

// Fields returns the chain fields recorded by v.
func (v Version) Fields() chain.Fields {
	return chain.Fields{
		Hash:                 v.Hash,
		AntecedentHash:       v.AntecedentHash,
		AuditLogID:           v.AuditLogID,
		AntecedentAuditLogID: v.AntecedentAuditLogID,
	}
}

// Package chain implements the tamper-evident version chain carried by every
// auditable record.
//
// Each stored version holds the content hash of itself (computed with the hash
// field zeroed) and points at the hash and audit-log id of the version it replaced.
// Version one points at nothing: antecedent hash 0 and a nil antecedent audit-log id.
package chain

import (
	"github.com/goliatone/go-ledger-cache/digest"
	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
	"github.com/google/uuid"
)

// Fields are the chain columns embedded in a main record.
type Fields struct {
	Hash                 int64     `bun:"hash,notnull" json:"hash"`
	AntecedentHash       int64     `bun:"antecedent_hash,notnull" json:"antecedent_hash"`
	AuditLogID           uuid.UUID `bun:"audit_log_id,type:uuid" json:"audit_log_id"`
	AntecedentAuditLogID uuid.UUID `bun:"antecedent_audit_log_id,type:uuid" json:"antecedent_audit_log_id"`
}

// ChainFields lets any struct embedding Fields expose its chain state.
func (f Fields) ChainFields() Fields { return f }

// Sealable is implemented by value types that carry chain Fields.
// WithChainFields must return a copy and leave the receiver untouched.
type Sealable[E any] interface {
	ChainFields() Fields
	WithChainFields(Fields) E
}

// Seal zeroes the hash, digests the record and stores the digest as its hash.
// It returns the sealed record and the canonical bytes that were digested.
func Seal[E Sealable[E]](e E) (E, []byte, error) {
	f := e.ChainFields()
	f.Hash = 0
	zeroed := e.WithChainFields(f)

	canonical, err := digest.Canonical(zeroed)
	if err != nil {
		var zero E
		return zero, nil, dataerr.Internal("encode record for hashing: %v", err)
	}
	f.Hash = digest.Sum(canonical)
	return zeroed.WithChainFields(f), canonical, nil
}

// Genesis seals the first version of a record.
func Genesis[E Sealable[E]](e E, auditLogID uuid.UUID) (E, []byte, error) {
	return Seal(e.WithChainFields(Fields{AuditLogID: auditLogID}))
}

// Successor seals next as the version following current.
func Successor[E Sealable[E]](current, next E, auditLogID uuid.UUID) (E, []byte, error) {
	prev := current.ChainFields()
	return Seal(next.WithChainFields(Fields{
		AntecedentHash:       prev.Hash,
		AntecedentAuditLogID: prev.AuditLogID,
		AuditLogID:           auditLogID,
	}))
}

// Verify recomputes the content hash of e and compares it to the stored one.
func Verify[E Sealable[E]](e E) error {
	sealed, _, err := Seal(e)
	if err != nil {
		return err
	}
	if got, want := sealed.ChainFields().Hash, e.ChainFields().Hash; got != want {
		return dataerr.Internal("content hash mismatch: stored %d, computed %d", want, got)
	}
	return nil
}

// VerifyLink checks that next directly follows prev.
func VerifyLink(prev, next Fields) error {
	if next.AntecedentHash != prev.Hash {
		return dataerr.Internal("antecedent hash %d does not match predecessor hash %d", next.AntecedentHash, prev.Hash)
	}
	if next.AntecedentAuditLogID != prev.AuditLogID {
		return dataerr.Internal("antecedent audit log %s does not match predecessor audit log %s",
			next.AntecedentAuditLogID, prev.AuditLogID)
	}
	return nil
}

// IsGenesis reports whether f describes a first version.
func (f Fields) IsGenesis() bool {
	return f.AntecedentHash == 0 && f.AntecedentAuditLogID == uuid.Nil
}

package chain

import (
	"testing"

	"github.com/goliatone/go-ledger-cache/digest"
	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type account struct {
	ID      uuid.UUID
	Balance int64
	Fields
}

func (a account) WithChainFields(f Fields) account {
	a.Fields = f
	return a
}

func TestGenesis(t *testing.T) {
	auditID := uuid.New()
	acc, canonical, err := Genesis(account{ID: uuid.New(), Balance: 100, Fields: Fields{Hash: 42, AntecedentHash: 9}}, auditID)
	require.NoError(t, err)

	assert.True(t, acc.IsGenesis())
	assert.Equal(t, auditID, acc.AuditLogID)
	assert.NotZero(t, acc.Hash)
	assert.Equal(t, digest.Sum(canonical), acc.Hash)

	zeroed := acc
	zeroed.Hash = 0
	h, err := digest.Of(zeroed)
	require.NoError(t, err)
	assert.Equal(t, h, acc.Hash, "hash must be computed over the record with the hash zeroed")
	assert.NoError(t, Verify(acc))
}

type ledger struct {
	ID     uuid.UUID
	Limits map[string]int64
	Fields
}

func (l ledger) WithChainFields(f Fields) ledger {
	l.Fields = f
	return l
}

func TestVerify_StableWithMapFields(t *testing.T) {
	limits := make(map[string]int64)
	for i := 0; i < 32; i++ {
		limits[uuid.NewString()] = int64(i)
	}
	sealed, canonical, err := Genesis(ledger{ID: uuid.New(), Limits: limits}, uuid.New())
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		require.NoError(t, Verify(sealed), "run %d", i)
	}

	var decoded ledger
	require.NoError(t, digest.Decode(canonical, &decoded))
	assert.Equal(t, limits, decoded.Limits)
}

func TestSuccessor_Continuity(t *testing.T) {
	first, _, err := Genesis(account{ID: uuid.New(), Balance: 100}, uuid.New())
	require.NoError(t, err)

	changed := first
	changed.Balance = 250
	secondAudit := uuid.New()

	second, _, err := Successor(first, changed, secondAudit)
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.AntecedentHash)
	assert.Equal(t, first.AuditLogID, second.AntecedentAuditLogID)
	assert.Equal(t, secondAudit, second.AuditLogID)
	assert.NotEqual(t, first.Hash, second.Hash)
	assert.False(t, second.IsGenesis())
	assert.NoError(t, VerifyLink(first.Fields, second.Fields))
	assert.NoError(t, Verify(second))
}

func TestVerify_DetectsTampering(t *testing.T) {
	acc, _, err := Genesis(account{ID: uuid.New(), Balance: 100}, uuid.Nil)
	require.NoError(t, err)

	acc.Balance = 1_000_000
	err = Verify(acc)
	require.Error(t, err)
	assert.True(t, dataerr.IsInternal(err))
}

func TestVerifyLink_Broken(t *testing.T) {
	first, _, err := Genesis(account{ID: uuid.New()}, uuid.New())
	require.NoError(t, err)
	other, _, err := Genesis(account{ID: uuid.New(), Balance: 1}, uuid.New())
	require.NoError(t, err)

	second, _, err := Successor(other, first, uuid.New())
	require.NoError(t, err)

	assert.Error(t, VerifyLink(first.Fields, second.Fields))
}

func TestSeal_DoesNotMutateInput(t *testing.T) {
	in := account{ID: uuid.New(), Balance: 5}
	_, _, err := Seal(in)
	require.NoError(t, err)
	assert.Zero(t, in.Hash)
}

package cache

import (
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type account struct {
	ID      uuid.UUID
	Balance int64
}

func accountID(a account) uuid.UUID { return a.ID }

func newAccount(balance int64) account {
	return account{ID: uuid.New(), Balance: balance}
}

func TestMain_InsertGetRemove(t *testing.T) {
	m, err := NewMain(Config{MaxEntries: 10, Policy: PolicyLRU}, accountID)
	require.NoError(t, err)

	a := newAccount(100)
	assert.True(t, m.Insert(a))
	assert.False(t, m.Insert(account{ID: a.ID, Balance: 1}), "insert never replaces")

	got, ok := m.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, int64(100), got.Balance)

	m.Update(account{ID: a.ID, Balance: 7})
	got, _ = m.Get(a.ID)
	assert.Equal(t, int64(7), got.Balance)

	m.Remove(a.ID)
	assert.False(t, m.Contains(a.ID))
	m.Remove(a.ID)

	_, ok = m.Get(a.ID)
	assert.False(t, ok)

	stats := m.Stats()
	assert.Equal(t, int64(2), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0, stats.Size)
}

func TestMain_UpdateReplacesRegardlessOfPresence(t *testing.T) {
	m, err := NewMain(Config{MaxEntries: 10, Policy: PolicyLRU}, accountID)
	require.NoError(t, err)

	a := newAccount(5)
	m.Update(a)
	assert.True(t, m.Contains(a.ID))
}

func TestMain_LRUEvictsLeastRecentlyAccessed(t *testing.T) {
	m, err := NewMain(Config{MaxEntries: 2, Policy: PolicyLRU}, accountID)
	require.NoError(t, err)

	a, b, c := newAccount(1), newAccount(2), newAccount(3)
	m.Insert(a)
	m.Insert(b)

	_, ok := m.Get(a.ID)
	require.True(t, ok)

	m.Insert(c)

	assert.True(t, m.Contains(a.ID))
	assert.False(t, m.Contains(b.ID), "b was least recently accessed")
	assert.True(t, m.Contains(c.ID))

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, 2, stats.Size)
}

func TestMain_TTLExpiry(t *testing.T) {
	m, err := NewMain(Config{MaxEntries: 10, Policy: PolicyLRU, TTL: 20 * time.Millisecond}, accountID)
	require.NoError(t, err)

	a := newAccount(1)
	m.Insert(a)
	_, ok := m.Get(a.ID)
	assert.True(t, ok)

	time.Sleep(60 * time.Millisecond)
	_, ok = m.Get(a.ID)
	assert.False(t, ok)
	assert.False(t, m.Contains(a.ID))

	stats := m.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.LessOrEqual(t, stats.Expirations, int64(1), "the sweeper may drop the entry before Get sees it")
	assert.Equal(t, 0, stats.Size)

	assert.True(t, m.Insert(a), "an expired entry does not block insert")
}

func TestMain_Apply(t *testing.T) {
	m, err := NewMain(Config{MaxEntries: 10, Policy: PolicyLRU}, accountID)
	require.NoError(t, err)

	stale := newAccount(1)
	fresh := account{ID: stale.ID, Balance: 2}
	gone := newAccount(3)
	m.Insert(fresh)
	m.Insert(gone)

	added := newAccount(4)
	filled := newAccount(5)
	fills := []Fill[account]{
		{Value: stale, Generation: m.Generation(stale.ID)},
		{Value: filled, Generation: m.Generation(filled.ID)},
	}
	m.Apply([]account{added}, fills, []uuid.UUID{gone.ID})

	got, _ := m.Get(stale.ID)
	assert.Equal(t, int64(2), got.Balance, "fills never overwrite a cached value")
	assert.True(t, m.Contains(added.ID))
	assert.True(t, m.Contains(filled.ID))
	assert.False(t, m.Contains(gone.ID))
}

func TestMain_FillDroppedAfterConcurrentChange(t *testing.T) {
	m, err := NewMain(Config{MaxEntries: 10, Policy: PolicyLRU}, accountID)
	require.NoError(t, err)

	deleted := newAccount(100)
	gen := m.Generation(deleted.ID)
	m.Remove(deleted.ID)
	m.Apply(nil, []Fill[account]{{Value: deleted, Generation: gen}}, nil)
	assert.False(t, m.Contains(deleted.ID), "a fill read before a delete must not resurrect the row")

	replaced := newAccount(1)
	gen = m.Generation(replaced.ID)
	m.Update(account{ID: replaced.ID, Balance: 2})
	m.Remove(replaced.ID)
	m.Apply(nil, []Fill[account]{{Value: replaced, Generation: gen}}, nil)
	assert.False(t, m.Contains(replaced.ID))

	cleared := newAccount(3)
	gen = m.Generation(cleared.ID)
	m.Clear()
	m.Apply(nil, []Fill[account]{{Value: cleared, Generation: gen}}, nil)
	assert.False(t, m.Contains(cleared.ID))

	fresh := newAccount(4)
	m.Apply(nil, []Fill[account]{{Value: fresh, Generation: m.Generation(fresh.ID)}}, nil)
	assert.True(t, m.Contains(fresh.ID))
}

func TestMain_Clear(t *testing.T) {
	m, err := NewMain(Config{MaxEntries: 10, Policy: PolicyLRU}, accountID)
	require.NoError(t, err)

	m.Insert(newAccount(1))
	m.Insert(newAccount(2))
	m.Clear()
	assert.Equal(t, 0, m.Len())
}

func TestMain_Sharded(t *testing.T) {
	m, err := NewMain(Config{MaxEntries: 8, Policy: PolicySharded, NumShards: 1, EvictionPercentage: 50}, accountID)
	require.NoError(t, err)

	a := newAccount(1)
	require.True(t, m.Insert(a))
	got, ok := m.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, a, got)

	for i := 0; i < 20; i++ {
		m.Insert(newAccount(int64(i)))
	}

	stats := m.Stats()
	assert.LessOrEqual(t, stats.Size, 8)
	assert.Equal(t, int64(21-stats.Size), stats.Evictions)
}

func TestMain_ConcurrentAccess(t *testing.T) {
	m, err := NewMain(Config{MaxEntries: 64, Policy: PolicyLRU}, accountID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				a := newAccount(int64(i))
				m.Update(a)
				m.Get(a.ID)
				if i%3 == 0 {
					m.Remove(a.ID)
				}
			}
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, m.Len(), 64)
}

func TestNewMain_Validation(t *testing.T) {
	_, err := NewMain(Config{}, accountID)
	assert.True(t, dataerr.IsValidation(err))

	_, err = NewMain[account](DefaultConfig(), nil)
	assert.True(t, dataerr.IsValidation(err))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "default", cfg: DefaultConfig()},
		{name: "lru ignores shard settings", cfg: Config{MaxEntries: 1, Policy: PolicyLRU}},
		{name: "zero entries", cfg: Config{MaxEntries: 0, Policy: PolicyLRU}, wantErr: true},
		{name: "unknown policy", cfg: Config{MaxEntries: 10, Policy: "fifo"}, wantErr: true},
		{name: "negative ttl", cfg: Config{MaxEntries: 10, Policy: PolicyLRU, TTL: -time.Second}, wantErr: true},
		{name: "sharded needs shards", cfg: Config{MaxEntries: 10, Policy: PolicySharded, EvictionPercentage: 10}, wantErr: true},
		{name: "sharded needs percentage", cfg: Config{MaxEntries: 10, Policy: PolicySharded, NumShards: 2}, wantErr: true},
		{name: "more shards than entries", cfg: Config{MaxEntries: 2, Policy: PolicySharded, NumShards: 4, EvictionPercentage: 10}, wantErr: true},
		{name: "sharded", cfg: Config{MaxEntries: 10, Policy: PolicySharded, NumShards: 2, EvictionPercentage: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.True(t, dataerr.IsValidation(err), "got %v", err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

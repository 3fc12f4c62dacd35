package cacheinfra

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStore_SetGetDelete(t *testing.T) {
	s := NewStore[string](StoreConfig{Capacity: 10, NumShards: 1, EvictionPercentage: 10})

	assert.Equal(t, 0, s.Set("a", "alpha"))
	got, ok := s.Get("a")
	assert.True(t, ok)
	assert.Equal(t, "alpha", got)

	assert.Equal(t, 0, s.Set("a", "again"), "overwrite never evicts")
	assert.Equal(t, 1, s.Len())

	s.Delete("a")
	_, ok = s.Get("a")
	assert.False(t, ok)
}

func TestStore_EvictsWhenFull(t *testing.T) {
	s := NewStore[int](StoreConfig{Capacity: 10, NumShards: 1, EvictionPercentage: 50})

	evicted := 0
	for i := 0; i < 25; i++ {
		evicted += s.Set(fmt.Sprintf("k%d", i), i)
	}

	assert.LessOrEqual(t, s.Len(), 10)
	assert.Equal(t, 25-s.Len(), evicted)
}

func TestStore_TTL(t *testing.T) {
	s := NewStore[int](StoreConfig{Capacity: 10, NumShards: 1, TTL: time.Millisecond, EvictionPercentage: 10})
	s.Set("k", 1)

	time.Sleep(5 * time.Millisecond)
	_, ok := s.Get("k")
	assert.False(t, ok)
}

func TestStore_Clear(t *testing.T) {
	s := NewStore[int](StoreConfig{Capacity: 10, NumShards: 2, EvictionPercentage: 10})
	s.Set("a", 1)
	s.Set("b", 2)

	s.Clear()
	assert.Equal(t, 0, s.Len())
}

package cacheinfra

import (
	"time"

	"github.com/viccon/sturdyc"
)

// noExpiry stands in for "no TTL"; sturdyc requires a positive one.
const noExpiry = 100 * 365 * 24 * time.Hour

// StoreConfig sizes a sharded key/value store.
type StoreConfig struct {
	Capacity           int
	NumShards          int
	TTL                time.Duration
	EvictionPercentage int
}

// Store is a sharded, TTL-aware key/value map backed by sturdyc. When a shard is
// full sturdyc evicts EvictionPercentage of its entries, nearest expiry first.
type Store[V any] struct {
	client *sturdyc.Client[V]
}

// NewStore builds a Store. The config is expected to be validated by the caller.
func NewStore[V any](cfg StoreConfig) *Store[V] {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = noExpiry
	}
	return &Store[V]{
		client: sturdyc.New[V](cfg.Capacity, cfg.NumShards, ttl, cfg.EvictionPercentage),
	}
}

// Get returns the live value for key. Expired entries are reported as absent.
func (s *Store[V]) Get(key string) (V, bool) {
	return s.client.Get(key)
}

// Set stores value and returns how many entries the write pushed out.
func (s *Store[V]) Set(key string, value V) int {
	_, existed := s.client.Get(key)
	before := s.client.Size()
	s.client.Set(key, value)
	after := s.client.Size()

	grown := 1
	if existed {
		grown = 0
	}
	if evicted := before + grown - after; evicted > 0 {
		return evicted
	}
	return 0
}

func (s *Store[V]) Delete(key string) {
	s.client.Delete(key)
}

func (s *Store[V]) Len() int {
	return s.client.Size()
}

// Clear drops every entry.
func (s *Store[V]) Clear() {
	for _, key := range s.client.ScanKeys() {
		s.client.Delete(key)
	}
}

// Package cache provides the in-process caches used by the data-access layer.
//
// # Main cache
//
// Main holds full entities keyed by primary id with bounded memory:
//
//	users, err := cache.NewMain[User](cache.Config{
//		MaxEntries: 5000,
//		Policy:     cache.PolicyLRU,
//		TTL:        10 * time.Minute,
//	}, func(u User) uuid.UUID { return u.ID })
//
// Two policies are available. PolicyLRU evicts the least recently accessed entry
// once MaxEntries is reached. PolicySharded delegates to sturdyc shards, which
// evict EvictionPercentage of a full shard at a time. With a TTL, entries older
// than TTL are reported as misses regardless of capacity.
//
// Eviction and expiry never produce errors. They are only observable through
// Stats and through subsequent misses, which callers answer from the database.
//
// Main is the shared base cache. Transactions never write to it directly; they
// stage changes in an overlay which calls Apply once the database commit is durable.
//
// # Read-through service
//
// CacheService is a read-through cache for immutable records such as audit-log
// entries:
//
//	serializer := cache.NewDefaultKeySerializer()
//	key := serializer.SerializeKey("GetByID", id)
//	entry, err := cache.GetOrFetch(ctx, svc, key, func(ctx context.Context) (*audit.LogEntry, error) {
//		return repo.GetByID(ctx, id.String())
//	})
//
// # Key serialization
//
// The default key serializer handles:
//
//   - fmt.Stringer values (uuid.UUID, time.Time): their String form
//   - Basic types: direct string representation
//   - Slices/arrays: recursive serialization of elements
//   - Maps: sorted key-value pairs for deterministic output
//   - Structs: exported fields with name:value pairs
//   - Function pointers: %p formatting, stable only within a single process
//
// Function criteria with different captured variables produce different keys, so
// prefer passing plain values when keys must be shared.
package cache

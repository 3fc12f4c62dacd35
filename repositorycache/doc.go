// Package repositorycache provides a read-through cache decorator for
// go-repository-bun repositories of immutable records.
//
// # Overview
//
// The decorator wraps a base repository and intercepts reads. It is meant for
// append-only data such as audit-log entries: a record, once written, never
// changes, so GetByID results are cached without invalidation. List and Count
// results change whenever a record is created and are dropped by CreateTx.
//
// # Basic Usage
//
//	base := repository.NewRepository[*audit.LogEntry](db, handlers)
//	svc, _ := cache.NewCacheService(cache.DefaultServiceConfig())
//	cached := repositorycache.New[*audit.LogEntry](base, svc, cache.NewDefaultKeySerializer(), logger)
//
//	entry, err := cached.GetByID(ctx, id.String())
//	entries, total, err := cached.List(ctx, repositorycache.Query{
//		Name:     "by_actor",
//		Args:     []any{actorID, limit, offset},
//		Criteria: []repository.SelectCriteria{byActor(actorID), paginate(limit, offset)},
//	})
//
// # Keys
//
// Every key starts with a namespace derived from the record type in snake_case
// (LogEntry becomes "log_entry"), followed by the method and the serialized
// arguments. Queries are keyed by Query.Name and Query.Args, never by the
// criteria closures, whose pointers differ from call to call.
//
// # Tags
//
// Reads issued with a context carrying WithCacheTags are registered under those
// tags; InvalidateTags drops exactly the results of one tag:
//
//	ctx = repositorycache.WithCacheTags(ctx, "actor:"+actorID.String())
//	...
//	cached.InvalidateTags(ctx, "actor:"+actorID.String())
//
// # Transactions
//
// CreateTx invalidates queries as soon as the insert succeeds. A concurrent reader
// may still re-cache a result that misses the uncommitted row, so callers that
// write inside a transaction should call InvalidateQueries again after commit.
package repositorycache

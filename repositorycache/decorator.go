package repositorycache

import (
	"context"
	"sync"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/goliatone/go-ledger-cache/cache"
)

// Source is the part of a go-repository-bun repository the decorator needs.
// repository.Repository[T] satisfies it.
type Source[T any] interface {
	GetByID(ctx context.Context, id string, criteria ...repository.SelectCriteria) (T, error)
	List(ctx context.Context, criteria ...repository.SelectCriteria) ([]T, int, error)
	Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error)
	CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error)
}

// Query names a List or Count call. Name and Args form the cache key, so the
// same Name and Args must always produce the same Criteria.
type Query struct {
	Name     string
	Args     []any
	Criteria []repository.SelectCriteria
}

// listResult wraps the tuple result from List operations for caching
type listResult[T any] struct {
	Records []T `json:"records"`
	Total   int `json:"total"`
}

// CachedRepository decorates a repository of immutable records. Records are
// cached by id forever; query results are cached until a create invalidates them.
type CachedRepository[T any] struct {
	base          Source[T]
	cache         cache.CacheService
	keySerializer cache.KeySerializer
	namespace     string
	queryKeys     *sync.Map // List/Count keys, dropped after every create
	tags          *tagIndex
	logger        *zap.Logger
}

// New creates a new CachedRepository that wraps the base repository with caching
func New[T any](base Source[T], cacheService cache.CacheService, keySerializer cache.KeySerializer, logger *zap.Logger) *CachedRepository[T] {
	if keySerializer == nil {
		keySerializer = cache.NewDefaultKeySerializer()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedRepository[T]{
		base:          base,
		cache:         cacheService,
		keySerializer: keySerializer,
		namespace:     namespaceFor[T](),
		queryKeys:     &sync.Map{},
		tags:          newTagIndex(),
		logger:        logger,
	}
}

// Namespace is the prefix of every key this repository writes.
func (c *CachedRepository[T]) Namespace() string { return c.namespace }

// GetByID retrieves a record by ID, with caching. Failed lookups are not cached.
func (c *CachedRepository[T]) GetByID(ctx context.Context, id string) (T, error) {
	key := c.key("GetByID", id)
	return cache.GetOrFetch(ctx, c.cache, key, func(ctx context.Context) (T, error) {
		return c.base.GetByID(ctx, id)
	})
}

// List retrieves the records matching q, with caching
func (c *CachedRepository[T]) List(ctx context.Context, q Query) ([]T, int, error) {
	key := c.key("List", append([]any{q.Name}, q.Args...)...)
	c.trackQuery(ctx, key)
	res, err := cache.GetOrFetch(ctx, c.cache, key, func(ctx context.Context) (listResult[T], error) {
		records, total, err := c.base.List(ctx, q.Criteria...)
		return listResult[T]{Records: records, Total: total}, err
	})
	if err != nil {
		return nil, 0, err
	}
	return res.Records, res.Total, nil
}

// Count returns the number of records matching q, with caching
func (c *CachedRepository[T]) Count(ctx context.Context, q Query) (int, error) {
	key := c.key("Count", append([]any{q.Name}, q.Args...)...)
	c.trackQuery(ctx, key)
	return cache.GetOrFetch(ctx, c.cache, key, func(ctx context.Context) (int, error) {
		return c.base.Count(ctx, q.Criteria...)
	})
}

// CountUncached asks the base repository directly.
func (c *CachedRepository[T]) CountUncached(ctx context.Context, criteria ...repository.SelectCriteria) (int, error) {
	return c.base.Count(ctx, criteria...)
}

// CreateTx creates a record within a transaction and drops every cached query.
func (c *CachedRepository[T]) CreateTx(ctx context.Context, tx bun.IDB, record T, criteria ...repository.InsertCriteria) (T, error) {
	result, err := c.base.CreateTx(ctx, tx, record, criteria...)
	if err == nil {
		c.InvalidateQueries(ctx)
	}
	return result, err
}

// InvalidateQueries drops every cached List and Count result.
func (c *CachedRepository[T]) InvalidateQueries(ctx context.Context) {
	var keys []string
	c.queryKeys.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	for _, key := range keys {
		c.delete(ctx, key)
		c.queryKeys.Delete(key)
	}
}

// InvalidateTags drops the cached results registered under any of tags.
func (c *CachedRepository[T]) InvalidateTags(ctx context.Context, tags ...string) {
	for _, key := range c.tags.take(tags) {
		c.delete(ctx, key)
		c.queryKeys.Delete(key)
	}
}

func (c *CachedRepository[T]) key(method string, args ...any) string {
	return c.namespace + cache.KeySeparator + c.keySerializer.SerializeKey(method, args...)
}

func (c *CachedRepository[T]) trackQuery(ctx context.Context, key string) {
	c.queryKeys.Store(key, struct{}{})
	c.tags.register(key, cacheTagsFromContext(ctx))
}

func (c *CachedRepository[T]) delete(ctx context.Context, key string) {
	if err := c.cache.Delete(ctx, key); err != nil {
		c.logger.Warn("cache invalidation failed", zap.String("key", key), zap.Error(err))
	}
}

package cache

import (
	"context"

	"github.com/goliatone/go-ledger-cache/internal/cacheinfra"
	"github.com/goliatone/go-ledger-cache/pkg/dataerr"
)

// KeySerializer builds a cache key from a method name + arbitrary args.
// It is responsible for producing stable keys across calls.
type KeySerializer interface {
	SerializeKey(method string, args ...any) string
}

// FetchFn is the function signature CacheService expects when fetching from the source of truth.
type FetchFn[T any] func(ctx context.Context) (T, error)

// CacheService exposes the read-through operations used for immutable records.
type CacheService interface {
	GetOrFetch(ctx context.Context, key string, fetchFn func(context.Context) (any, error)) (any, error)
	Delete(ctx context.Context, key string) error
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// ServiceConfig configures the default read-through service.
type ServiceConfig = cacheinfra.Config

// DefaultServiceConfig returns the read-through defaults.
func DefaultServiceConfig() ServiceConfig {
	return cacheinfra.DefaultConfig()
}

// NewCacheService constructs the sturdyc-backed read-through service.
func NewCacheService(cfg ServiceConfig) (CacheService, error) {
	svc, err := cacheinfra.NewSturdycService(cfg)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// GetOrFetch is a type-safe wrapper around CacheService.GetOrFetch.
func GetOrFetch[T any](ctx context.Context, service CacheService, key string, fetchFn FetchFn[T]) (T, error) {
	result, err := service.GetOrFetch(ctx, key, func(ctx context.Context) (any, error) {
		return fetchFn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	if result == nil {
		var zero T
		return zero, nil
	}
	typed, ok := result.(T)
	if !ok {
		var zero T
		return zero, dataerr.Internal("cached value for %q has type %T", key, result)
	}
	return typed, nil
}

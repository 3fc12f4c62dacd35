package repositorycache

import (
	"context"
	"slices"
	"sync"
)

type cacheTagsContextKey struct{}

// WithCacheTags attaches cache tags to the context. Reads issued with the context
// are registered under every tag so InvalidateTags can drop them together.
func WithCacheTags(ctx context.Context, tags ...string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(tags) == 0 {
		return ctx
	}

	combined := dedupeStrings(append(cacheTagsFromContext(ctx), tags...))
	if len(combined) == 0 {
		return ctx
	}
	return context.WithValue(ctx, cacheTagsContextKey{}, combined)
}

func cacheTagsFromContext(ctx context.Context) []string {
	if ctx == nil {
		return nil
	}
	if tags, ok := ctx.Value(cacheTagsContextKey{}).([]string); ok {
		return append([]string(nil), tags...)
	}
	return nil
}

func dedupeStrings(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}

// tagIndex maps a tag to the cache keys registered under it.
type tagIndex struct {
	mu   sync.Mutex
	keys map[string]map[string]struct{}
}

func newTagIndex() *tagIndex {
	return &tagIndex{keys: make(map[string]map[string]struct{})}
}

func (t *tagIndex) register(key string, tags []string) {
	if len(tags) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, tag := range tags {
		set, ok := t.keys[tag]
		if !ok {
			set = make(map[string]struct{})
			t.keys[tag] = set
		}
		set[key] = struct{}{}
	}
}

// take removes tags and returns the keys they referenced.
func (t *tagIndex) take(tags []string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []string
	for _, tag := range tags {
		for key := range t.keys[tag] {
			out = append(out, key)
		}
		delete(t.keys, tag)
	}
	slices.Sort(out)
	return slices.Compact(out)
}

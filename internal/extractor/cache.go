package extractor

import (
	"context"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/thebtf/photodedup/pkg/models"
)

// DefaultCacheSize is the number of neighbor lists kept in memory.
const DefaultCacheSize = 4096

// Cached memoizes neighbor lists by photo id. Failed extractions are not cached.
// A refresh wipes the store but not the library, so the same photos come
// through again and hit the cache.
type Cached struct {
	next  Extractor
	cache *lru.Cache[string, []int]
}

// NewCached wraps next with an LRU cache of the given size.
func NewCached(next Extractor, size int) (*Cached, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, []int](size)
	if err != nil {
		return nil, err
	}
	return &Cached{next: next, cache: cache}, nil
}

// Extract returns the cached list or delegates.
func (c *Cached) Extract(ctx context.Context, stub models.PhotoStub) ([]int, error) {
	if v, ok := c.cache.Get(stub.ID); ok {
		return slices.Clone(v), nil
	}
	v, err := c.next.Extract(ctx, stub)
	if err != nil {
		return nil, err
	}
	c.cache.Add(stub.ID, slices.Clone(v))
	return v, nil
}

// Forget drops cached lists for ids, e.g. after they were deleted.
func (c *Cached) Forget(ids ...string) {
	for _, id := range ids {
		c.cache.Remove(id)
	}
}

// Len returns the number of cached entries.
func (c *Cached) Len() int {
	return c.cache.Len()
}

package embedding

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ContentHash returns the cache key for a piece of text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// CacheEntry is one cached embedding with its LRU bookkeeping.
type CacheEntry struct {
	Hash       string
	Vector     Vector
	CreatedAt  time.Time
	AccessedAt time.Time
}

// CacheBackend persists cache entries across restarts. Implemented by the
// indexed local store's embedding_cache table. All methods are best-effort
// from the cache's point of view: persistence failures are logged, never
// surfaced to Embed callers.
type CacheBackend interface {
	LoadCacheEntries(ctx context.Context) ([]CacheEntry, error)
	PutCacheEntry(ctx context.Context, e CacheEntry) error
	TouchCacheEntry(ctx context.Context, hash string, accessedAt time.Time) error
	DeleteCacheEntry(ctx context.Context, hash string) error
}

// Cache is a bounded content-hash -> vector map with LRU eviction. The
// eviction order is an explicit access-ordered list, not map iteration
// order: the front element is the most recently used.
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // of *CacheEntry, front = most recently used
	index    map[string]*list.Element
	backend  CacheBackend // optional write-through persistence
	logger   *zap.Logger
	now      func() time.Time
}

// NewCache creates a cache holding at most capacity entries. A capacity
// below 1 defaults to 256. backend may be nil for a purely in-memory cache.
func NewCache(capacity int, backend CacheBackend, logger *zap.Logger) *Cache {
	if capacity < 1 {
		capacity = 256
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
		backend:  backend,
		logger:   logger,
		now:      time.Now,
	}
}

// Load hydrates the cache from its backend, most recently accessed first.
// Entries beyond capacity are dropped (and deleted from the backend) so the
// invariant holds from the first insert.
func (c *Cache) Load(ctx context.Context) error {
	if c.backend == nil {
		return nil
	}
	entries, err := c.backend.LoadCacheEntries(ctx)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].AccessedAt.After(entries[j].AccessedAt)
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, e := range entries {
		if i >= c.capacity {
			if err := c.backend.DeleteCacheEntry(ctx, e.Hash); err != nil {
				c.logger.Warn("embedding cache: delete overflow entry", zap.Error(err))
			}
			continue
		}
		entry := e
		c.index[e.Hash] = c.order.PushBack(&entry)
	}
	return nil
}

// Get returns the cached vector for hash and marks it most recently used.
func (c *Cache) Get(ctx context.Context, hash string) (Vector, bool) {
	c.mu.Lock()
	el, ok := c.index[hash]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	entry := el.Value.(*CacheEntry)
	entry.AccessedAt = c.now()
	c.order.MoveToFront(el)
	vec := entry.Vector
	accessedAt := entry.AccessedAt
	c.mu.Unlock()

	if c.backend != nil {
		if err := c.backend.TouchCacheEntry(ctx, hash, accessedAt); err != nil {
			c.logger.Warn("embedding cache: touch entry", zap.Error(err))
		}
	}
	return vec, true
}

// Put inserts or refreshes a vector. When the insert pushes the cache past
// capacity, the least-recently-accessed entry is evicted first.
func (c *Cache) Put(ctx context.Context, hash string, vec Vector) {
	now := c.now()

	c.mu.Lock()
	if el, ok := c.index[hash]; ok {
		entry := el.Value.(*CacheEntry)
		entry.Vector = vec
		entry.AccessedAt = now
		c.order.MoveToFront(el)
		c.mu.Unlock()
		if c.backend != nil {
			if err := c.backend.TouchCacheEntry(ctx, hash, now); err != nil {
				c.logger.Warn("embedding cache: touch entry", zap.Error(err))
			}
		}
		return
	}

	entry := &CacheEntry{Hash: hash, Vector: vec, CreatedAt: now, AccessedAt: now}
	c.index[hash] = c.order.PushFront(entry)

	var evicted *CacheEntry
	if c.order.Len() > c.capacity {
		back := c.order.Back()
		evicted = back.Value.(*CacheEntry)
		c.order.Remove(back)
		delete(c.index, evicted.Hash)
	}
	c.mu.Unlock()

	if c.backend != nil {
		if err := c.backend.PutCacheEntry(ctx, *entry); err != nil {
			c.logger.Warn("embedding cache: persist entry", zap.Error(err))
		}
		if evicted != nil {
			if err := c.backend.DeleteCacheEntry(ctx, evicted.Hash); err != nil {
				c.logger.Warn("embedding cache: delete evicted entry", zap.Error(err))
			}
		}
	}
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// CachedEmbedder fronts an embedding provider with a Cache. Provider errors
// pass through untouched so callers can degrade to keyword-only recall.
type CachedEmbedder struct {
	provider Embedder
	cache    *Cache
}

// NewCachedEmbedder wraps provider with cache.
func NewCachedEmbedder(provider Embedder, cache *Cache) *CachedEmbedder {
	return &CachedEmbedder{provider: provider, cache: cache}
}

func (e *CachedEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	hash := ContentHash(text)
	if vec, ok := e.cache.Get(ctx, hash); ok {
		return vec, nil
	}
	vec, err := e.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Put(ctx, hash, vec)
	return vec, nil
}

func (e *CachedEmbedder) Dims() int { return e.provider.Dims() }

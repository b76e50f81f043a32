package assets

import (
	"context"
	"sync"
	"sync/atomic"

	art "github.com/plar/go-adaptive-radix-tree"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// CachedSource keeps loaded resources in memory, indexed by path.
// Concurrent loads of the same path share one fetch. Failed loads are not
// cached.
type CachedSource struct {
	src    Source
	logger *zap.Logger

	mu       sync.RWMutex
	store    art.Tree
	bytes    int64
	maxBytes int64
	maxEntry int64

	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats is a snapshot of cache counters.
type CacheStats struct {
	Hits    int64
	Misses  int64
	Entries int
	Bytes   int64
}

// NewCachedSource wraps src. maxBytes bounds the total cached size and
// maxEntry bounds a single entry; zero disables the respective limit.
func NewCachedSource(src Source, maxBytes, maxEntry int64, logger *zap.Logger) *CachedSource {
	return &CachedSource{
		src:      src,
		store:    art.New(),
		maxBytes: maxBytes,
		maxEntry: maxEntry,
		logger:   logger.With(zap.String("component", "assets-cache")),
	}
}

// Name returns the wrapped source name.
func (c *CachedSource) Name() string {
	return "cache(" + c.src.Name() + ")"
}

// Load returns the cached content or loads it from the wrapped source.
// The returned slice is shared and must not be modified.
func (c *CachedSource) Load(ctx context.Context, path string) ([]byte, error) {
	if data, ok := c.get(path); ok {
		c.hits.Add(1)
		return data, nil
	}

	c.misses.Add(1)

	v, err, shared := c.group.Do(path, func() (interface{}, error) {
		// A flight for this path may have finished since the lookup above.
		if data, ok := c.get(path); ok {
			return data, nil
		}
		// Joined callers must not fail because the first one gave up.
		data, err := c.src.Load(context.WithoutCancel(ctx), path)
		if err != nil {
			return nil, err
		}
		c.put(path, data)
		return data, nil
	})
	if err != nil {
		return nil, err
	}

	if shared {
		c.logger.Debug("Shared in-flight load", zap.String("path", path))
	}

	return v.([]byte), nil
}

func (c *CachedSource) get(path string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if val, ok := c.store.Search(art.Key(path)); ok {
		return val.([]byte), true
	}
	return nil, false
}

func (c *CachedSource) put(path string, data []byte) {
	size := int64(len(data))
	if c.maxEntry > 0 && size > c.maxEntry {
		c.logger.Debug("Resource exceeds cache entry limit",
			zap.String("path", path),
			zap.Int64("size", size),
			zap.Int64("max_entry_bytes", c.maxEntry),
		)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.store.Search(art.Key(path)); ok {
		return
	}

	if c.maxBytes > 0 && c.bytes+size > c.maxBytes {
		c.logger.Debug("Asset cache full",
			zap.String("path", path),
			zap.Int64("cached_bytes", c.bytes),
			zap.Int64("max_bytes", c.maxBytes),
		)
		return
	}

	c.store.Insert(art.Key(path), data)
	c.bytes += size
}

// Purge drops every entry whose path starts with prefix and returns how
// many were removed. An empty prefix clears the cache.
func (c *CachedSource) Purge(prefix string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if prefix == "" {
		n := c.store.Size()
		c.store = art.New()
		c.bytes = 0
		return n
	}

	var keys []art.Key
	c.store.ForEachPrefix(art.Key(prefix), func(node art.Node) bool {
		if node.Kind() == art.Leaf {
			keys = append(keys, node.Key())
		}
		return true
	})

	for _, key := range keys {
		if val, ok := c.store.Delete(key); ok {
			c.bytes -= int64(len(val.([]byte)))
		}
	}

	return len(keys)
}

// Stats returns the current counters.
func (c *CachedSource) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return CacheStats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.store.Size(),
		Bytes:   c.bytes,
	}
}

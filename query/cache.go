package query

import (
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash"
)

// DefaultCacheSize is the number of parsed queries kept by NewCache(0).
const DefaultCacheSize = 256

// ParseFunc classifies one query text. Cache uses Parse unless another
// function is installed with WithParseFunc.
type ParseFunc func(text string, opts Options) (*ParsedQuery, error)

// Cache keeps parsed queries with LRU eviction. Repeated text parsed with the
// same options returns the identical *ParsedQuery.
type Cache struct {
	entries     map[uint64][]*cacheEntry
	accessOrder []*cacheEntry
	maxSize     int
	parse       ParseFunc
	stats       *CacheStats
	mu          sync.Mutex
}

type cacheEntry struct {
	key  uint64
	text string
	opts Options
	pq   *ParsedQuery
}

// CacheStats tracks parse cache performance metrics.
type CacheStats struct {
	Hits      atomic.Int64
	Misses    atomic.Int64
	Evictions atomic.Int64
	Size      atomic.Int64
}

// CacheSnapshot is a point-in-time copy of CacheStats.
type CacheSnapshot struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int64
}

// NewCache creates a cache holding at most maxSize parsed queries.
func NewCache(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	return &Cache{
		entries:     make(map[uint64][]*cacheEntry),
		accessOrder: make([]*cacheEntry, 0, maxSize),
		maxSize:     maxSize,
		parse:       Parse,
		stats:       &CacheStats{},
	}
}

// WithParseFunc replaces the classifier used on cache misses.
func (c *Cache) WithParseFunc(fn ParseFunc) *Cache {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.parse = fn
	return c
}

// Parse returns the cached result for text or classifies it. Failures are
// not cached.
func (c *Cache) Parse(text string, opts Options) (*ParsedQuery, error) {
	key := cacheKey(text, opts)

	c.mu.Lock()
	if e := c.lookup(key, text, opts); e != nil {
		c.touch(e)
		c.mu.Unlock()
		c.stats.Hits.Add(1)
		return e.pq, nil
	}
	parse := c.parse
	c.mu.Unlock()

	c.stats.Misses.Add(1)
	pq, err := parse(text, opts)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// another goroutine may have stored the same text meanwhile
	if e := c.lookup(key, text, opts); e != nil {
		c.touch(e)
		return e.pq, nil
	}

	if len(c.accessOrder) >= c.maxSize {
		c.evictLRU()
	}
	e := &cacheEntry{key: key, text: text, opts: opts, pq: pq}
	c.entries[key] = append(c.entries[key], e)
	c.accessOrder = append(c.accessOrder, e)
	c.stats.Size.Store(int64(len(c.accessOrder)))
	return pq, nil
}

// Len returns the number of cached queries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.accessOrder)
}

// Clear drops every cached query. Statistics other than Size are kept.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[uint64][]*cacheEntry)
	c.accessOrder = make([]*cacheEntry, 0, c.maxSize)
	c.stats.Size.Store(0)
}

// Stats returns a copy of the cache statistics.
func (c *Cache) Stats() CacheSnapshot {
	return CacheSnapshot{
		Hits:      c.stats.Hits.Load(),
		Misses:    c.stats.Misses.Load(),
		Evictions: c.stats.Evictions.Load(),
		Size:      c.stats.Size.Load(),
	}
}

// lookup must be called with c.mu locked.
func (c *Cache) lookup(key uint64, text string, opts Options) *cacheEntry {
	for _, e := range c.entries[key] {
		if e.text == text && e.opts == opts {
			return e
		}
	}
	return nil
}

// touch moves e to the most recently used end. Must be called with c.mu locked.
func (c *Cache) touch(e *cacheEntry) {
	for i, cur := range c.accessOrder {
		if cur == e {
			c.accessOrder = append(c.accessOrder[:i], c.accessOrder[i+1:]...)
			break
		}
	}
	c.accessOrder = append(c.accessOrder, e)
}

// evictLRU must be called with c.mu locked.
func (c *Cache) evictLRU() {
	if len(c.accessOrder) == 0 {
		return
	}
	lru := c.accessOrder[0]
	c.accessOrder = c.accessOrder[1:]

	bucket := c.entries[lru.key]
	for i, e := range bucket {
		if e == lru {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(c.entries, lru.key)
	} else {
		c.entries[lru.key] = bucket
	}
	c.stats.Evictions.Add(1)
}

func cacheKey(text string, opts Options) uint64 {
	var flags [4]byte
	for i, on := range []bool{opts.EnforceSyntaxV1, opts.EnforceVariablePrefix, opts.DetectJdbcParameters, opts.DetectSQLOperations} {
		flags[i] = '0'
		if on {
			flags[i] = '1'
		}
	}
	h := xxhash.New()
	h.Write(flags[:])
	h.Write([]byte(strconv.Itoa(len(text))))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return h.Sum64()
}

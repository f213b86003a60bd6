package distance

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sells-group/potentials/internal/spatial"
)

// Cache is a concurrent-safe LRU cache of distance matrices with TTL
// expiration. Matrices are immutable, so cached values are shared directly.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	order      []string // front=oldest, back=newest
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	hits       atomic.Int64
	misses     atomic.Int64
}

type cacheEntry struct {
	matrix    *Matrix
	createdAt time.Time
}

// CacheStats contains cache performance statistics.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewCache creates a cache holding at most maxEntries matrices for ttl each.
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Cache{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Fingerprint derives the cache key for a pair of point sets and a metric.
func Fingerprint(known spatial.PointSet, targets spatial.TargetSet, geodesic bool) string {
	h := sha256.New()
	var buf [8]byte
	putFloat := func(v float64) {
		binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}
	putString := func(s string) {
		binary.LittleEndian.PutUint64(buf[:], uint64(len(s)))
		h.Write(buf[:])
		h.Write([]byte(s))
	}

	flags := byte(known.Frame)<<2 | byte(targets.Frame)<<1
	if geodesic {
		flags |= 1
	}
	h.Write([]byte{flags})
	putString("known")
	for _, p := range known.Points {
		putString(p.ID)
		putFloat(p.X)
		putFloat(p.Y)
	}
	putString("targets")
	for _, t := range targets.Targets {
		putString(t.ID)
		putFloat(t.X)
		putFloat(t.Y)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get retrieves a cached matrix. Returns nil on miss or expiration.
func (c *Cache) Get(key string) *Matrix {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses.Add(1)
		return nil
	}
	if c.ttl > 0 && c.now().Sub(entry.createdAt) > c.ttl {
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.misses.Add(1)
		return nil
	}

	c.removeFromOrder(key)
	c.order = append(c.order, key)
	c.hits.Add(1)
	return entry.matrix
}

// Put stores a matrix, evicting the least recently used entry at capacity.
func (c *Cache) Put(key string, m *Matrix) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; ok {
		c.entries[key] = &cacheEntry{matrix: m, createdAt: c.now()}
		c.removeFromOrder(key)
		c.order = append(c.order, key)
		return
	}

	for len(c.entries) >= c.maxEntries && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}

	c.entries[key] = &cacheEntry{matrix: m, createdAt: c.now()}
	c.order = append(c.order, key)
}

// Build returns the cached matrix for the inputs or builds and stores it.
func (c *Cache) Build(ctx context.Context, known spatial.PointSet, targets spatial.TargetSet, opts ...Option) (*Matrix, bool, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	key := Fingerprint(known, targets, o.geodesic)
	if m := c.Get(key); m != nil {
		return m, true, nil
	}
	m, err := Build(ctx, known, targets, opts...)
	if err != nil {
		return nil, false, err
	}
	c.Put(key, m)
	return m, false, nil
}

// Stats returns cache performance statistics.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	entries := len(c.entries)
	maxEntries := c.maxEntries
	c.mu.Unlock()

	hits := c.hits.Load()
	misses := c.misses.Load()

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return CacheStats{
		Entries:    entries,
		MaxEntries: maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    hitRate,
	}
}

func (c *Cache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

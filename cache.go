package stockpile

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// cacheEntry is one materialized query result. Recency and hit counts are
// atomic so lookups can run under the shared lock.
type cacheEntry struct {
	hash     uint64
	name     string
	entities []Entity
	deps     []uint32
	version  uint64
	storedAt time.Time
	lastUsed atomic.Int64
	hits     atomic.Uint64
}

// CacheStats is a point-in-time snapshot of cache activity.
type CacheStats struct {
	Entries       int
	Hits          uint64
	Misses        uint64
	Insertions    uint64
	Invalidations uint64
	Evictions     uint64
	Expirations   uint64
}

// HitRate returns hits over total lookups, zero when idle.
func (s CacheStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// QueryCache memoizes query results keyed by shape hash. Entries carry the
// archetype IDs they were built from plus the registry structure version at
// build time, so both targeted invalidation and new-archetype staleness are
// covered. Safe for concurrent use: lookups share the lock, mutations take
// it exclusively.
type QueryCache struct {
	cfg CacheConfig
	log zerolog.Logger

	mu      sync.RWMutex
	entries map[uint64]*cacheEntry
	byDep   map[uint32]map[uint64]struct{}

	hits          atomic.Uint64
	misses        atomic.Uint64
	insertions    atomic.Uint64
	invalidations atomic.Uint64
	evictions     atomic.Uint64
	expirations   atomic.Uint64
}

// NewQueryCache builds a cache; zero config fields take the
// DefaultCacheConfig values.
func NewQueryCache(cfg CacheConfig) *QueryCache {
	d := DefaultCacheConfig()
	if cfg.MaxCachedResults == 0 {
		cfg.MaxCachedResults = d.MaxCachedResults
	}
	if cfg.MaxEntriesPerResult == 0 {
		cfg.MaxEntriesPerResult = d.MaxEntriesPerResult
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = d.Timeout
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	return &QueryCache{
		cfg:     cfg,
		log:     log,
		entries: make(map[uint64]*cacheEntry),
		byDep:   make(map[uint32]map[uint64]struct{}),
	}
}

// Lookup returns the cached result for hash, valid only while the registry
// structure version still matches. Expired and version-stale entries count
// as misses and are dropped.
func (c *QueryCache) Lookup(hash uint64, version uint64) ([]Entity, bool) {
	c.mu.RLock()
	e := c.entries[hash]
	c.mu.RUnlock()

	if e == nil {
		c.misses.Add(1)
		return nil, false
	}
	if e.version != version {
		c.misses.Add(1)
		c.drop(hash, &c.invalidations)
		return nil, false
	}
	if c.cfg.Timeout > 0 && time.Since(e.storedAt) > c.cfg.Timeout {
		c.misses.Add(1)
		c.drop(hash, &c.expirations)
		return nil, false
	}
	e.hits.Add(1)
	e.lastUsed.Store(time.Now().UnixNano())
	c.hits.Add(1)
	return e.entities, true
}

// Insert stores a result built from the given archetypes at the given
// structure version. Oversized results are not cached.
func (c *QueryCache) Insert(hash uint64, name string, entities []Entity, deps []uint32, version uint64) {
	if len(entities) > c.cfg.MaxEntriesPerResult {
		c.log.Debug().Str("query", name).Int("entities", len(entities)).Msg("result too large to cache")
		return
	}
	stored := make([]Entity, len(entities))
	copy(stored, entities)
	e := &cacheEntry{
		hash:     hash,
		name:     name,
		entities: stored,
		deps:     deps,
		version:  version,
		storedAt: time.Now(),
	}
	e.lastUsed.Store(e.storedAt.UnixNano())

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, replacing := c.entries[hash]; !replacing && len(c.entries) >= c.cfg.MaxCachedResults {
		c.evictOldestLocked()
	}
	if old := c.entries[hash]; old != nil {
		c.unlinkLocked(old)
	}
	c.entries[hash] = e
	for _, dep := range deps {
		set, ok := c.byDep[dep]
		if !ok {
			set = make(map[uint64]struct{})
			c.byDep[dep] = set
		}
		set[hash] = struct{}{}
	}
	c.insertions.Add(1)
}

// InvalidateArchetype removes every entry that depends on the archetype.
func (c *QueryCache) InvalidateArchetype(id uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for hash := range c.byDep[id] {
		if e := c.entries[hash]; e != nil {
			c.unlinkLocked(e)
			delete(c.entries, hash)
			c.invalidations.Add(1)
		}
	}
	delete(c.byDep, id)
}

// InvalidateAll empties the cache.
func (c *QueryCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.entries)
	c.entries = make(map[uint64]*cacheEntry)
	c.byDep = make(map[uint32]map[uint64]struct{})
	c.invalidations.Add(uint64(n))
}

// Len returns the number of live entries.
func (c *QueryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats snapshots the cache counters.
func (c *QueryCache) Stats() CacheStats {
	c.mu.RLock()
	entries := len(c.entries)
	c.mu.RUnlock()
	return CacheStats{
		Entries:       entries,
		Hits:          c.hits.Load(),
		Misses:        c.misses.Load(),
		Insertions:    c.insertions.Load(),
		Invalidations: c.invalidations.Load(),
		Evictions:     c.evictions.Load(),
		Expirations:   c.expirations.Load(),
	}
}

// drop removes one entry, crediting the given counter. The entry may
// already be gone if another goroutine dropped it first.
func (c *QueryCache) drop(hash uint64, counter *atomic.Uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entries[hash]
	if e == nil {
		return
	}
	c.unlinkLocked(e)
	delete(c.entries, hash)
	counter.Add(1)
}

func (c *QueryCache) unlinkLocked(e *cacheEntry) {
	for _, dep := range e.deps {
		if set, ok := c.byDep[dep]; ok {
			delete(set, e.hash)
			if len(set) == 0 {
				delete(c.byDep, dep)
			}
		}
	}
}

// evictOldestLocked removes the least recently used entry. Capacity is
// small enough that a scan beats maintaining an ordered structure.
func (c *QueryCache) evictOldestLocked() {
	var victim *cacheEntry
	for _, e := range c.entries {
		if victim == nil || e.lastUsed.Load() < victim.lastUsed.Load() {
			victim = e
		}
	}
	if victim == nil {
		return
	}
	c.unlinkLocked(victim)
	delete(c.entries, victim.hash)
	c.evictions.Add(1)
	c.log.Debug().Str("query", victim.name).Uint64("hash", victim.hash).Msg("cache entry evicted")
}

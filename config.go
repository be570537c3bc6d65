package stockpile

import (
	"time"

	"github.com/rs/zerolog"
)

// Config controls how a Registry provisions its backing stores. Zero fields
// take the DefaultConfig values, so Config{} is usable as-is.
type Config struct {
	// ArenaSize is the capacity in bytes of the registry's bump arena.
	// Negative disables the arena.
	ArenaSize int
	// PoolBlockSize and PoolBlockCount size the fixed-block pool that backs
	// small column slabs. A negative count disables the pool.
	PoolBlockSize  int
	PoolBlockCount int
	// Tracker receives allocation events from the registry's allocators.
	// Nil means untracked.
	Tracker *MemoryTracker
	// DisableQueryCache turns off cached query results.
	DisableQueryCache bool
	Cache             CacheConfig
	// Logger receives registry diagnostics; nil disables logging.
	Logger *zerolog.Logger
}

// CacheConfig bounds the query cache.
type CacheConfig struct {
	// MaxCachedResults caps the number of live cache entries; the least
	// recently used entry is evicted past it.
	MaxCachedResults int
	// MaxEntriesPerResult skips caching for result sets larger than this.
	MaxEntriesPerResult int
	// Timeout expires entries that have not been refreshed within it.
	Timeout time.Duration
	Logger  *zerolog.Logger
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		ArenaSize:      DefaultArenaSize,
		PoolBlockSize:  16 << 10,
		PoolBlockCount: 256,
		Cache:          DefaultCacheConfig(),
	}
}

// DefaultCacheConfig returns the documented cache defaults.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxCachedResults:    256,
		MaxEntriesPerResult: 4096,
		Timeout:             30 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ArenaSize == 0 {
		c.ArenaSize = d.ArenaSize
	}
	if c.PoolBlockSize == 0 {
		c.PoolBlockSize = d.PoolBlockSize
	}
	if c.PoolBlockCount == 0 {
		c.PoolBlockCount = d.PoolBlockCount
	}
	if c.Cache.MaxCachedResults == 0 {
		c.Cache.MaxCachedResults = d.Cache.MaxCachedResults
	}
	if c.Cache.MaxEntriesPerResult == 0 {
		c.Cache.MaxEntriesPerResult = d.Cache.MaxEntriesPerResult
	}
	if c.Cache.Timeout == 0 {
		c.Cache.Timeout = d.Cache.Timeout
	}
	if c.Cache.Logger == nil {
		c.Cache.Logger = c.Logger
	}
	return c
}

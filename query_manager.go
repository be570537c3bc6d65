package stockpile

import (
	"sort"
	"sync/atomic"
	"time"
)

// DynamicQuery binds a Query to a Registry and serves results through the
// registry's cache. The slice a cached call returns is shared; treat it as
// read-only.
type DynamicQuery struct {
	reg   *Registry
	query *Query
	hash  uint64

	execs     atomic.Uint64
	cacheHits atomic.Uint64
	totalNs   atomic.Int64
}

func newDynamicQuery(reg *Registry, query *Query) *DynamicQuery {
	return &DynamicQuery{reg: reg, query: query, hash: query.ShapeHash()}
}

func (dq *DynamicQuery) Name() string { return dq.query.Name() }

// ShapeHash identifies the query shape; equal shapes share a cache slot.
func (dq *DynamicQuery) ShapeHash() uint64 { return dq.hash }

// Entities returns every live entity matching the query, served from the
// cache when a fresh entry exists.
func (dq *DynamicQuery) Entities() []Entity {
	start := time.Now()
	defer func() {
		dq.execs.Add(1)
		dq.totalNs.Add(time.Since(start).Nanoseconds())
	}()

	version := dq.reg.StructureVersion()
	cache := dq.reg.Cache()
	if cache != nil {
		if entities, ok := cache.Lookup(dq.hash, version); ok {
			dq.cacheHits.Add(1)
			return entities
		}
	}

	matched := dq.reg.matchedArchetypes(dq.query)
	var result []Entity
	deps := make([]uint32, 0, len(matched))
	for _, arch := range matched {
		deps = append(deps, uint32(arch.id))
		for row := 0; row < arch.Len(); row++ {
			result = append(result, arch.rows.At(uint32(row)))
		}
	}
	if cache != nil {
		cache.Insert(dq.hash, dq.query.Name(), result, deps, version)
	}
	return result
}

// Count returns the number of matching entities without materializing a
// result slice.
func (dq *DynamicQuery) Count() int {
	total := 0
	for _, arch := range dq.reg.matchedArchetypes(dq.query) {
		total += arch.Len()
	}
	return total
}

// ForEach calls fn for each matching entity. The registry stays locked for
// the duration, so structural mutations made inside fn are deferred until
// the iteration finishes.
func (dq *DynamicQuery) ForEach(fn func(Entity)) {
	entities := dq.Entities()
	dq.reg.Lock()
	defer dq.reg.Unlock()
	for _, e := range entities {
		fn(e)
	}
}

// QueryStats describes one registered query's observed behavior.
type QueryStats struct {
	Name       string
	Executions uint64
	CacheHits  uint64
	TotalTime  time.Duration
}

// AverageTime returns mean execution time, zero before the first run.
func (s QueryStats) AverageTime() time.Duration {
	if s.Executions == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.Executions)
}

func (dq *DynamicQuery) stats() QueryStats {
	return QueryStats{
		Name:       dq.query.Name(),
		Executions: dq.execs.Load(),
		CacheHits:  dq.cacheHits.Load(),
		TotalTime:  time.Duration(dq.totalNs.Load()),
	}
}

// QueryManager keeps the set of registered queries and ranks them by cost
// and frequency. Not safe for concurrent registration; the queries
// themselves may run from any goroutine.
type QueryManager struct {
	reg     *Registry
	queries []*DynamicQuery
}

func newQueryManager(reg *Registry) *QueryManager {
	return &QueryManager{reg: reg}
}

// Register binds query to the manager's registry.
func (m *QueryManager) Register(query *Query) *DynamicQuery {
	dq := newDynamicQuery(m.reg, query)
	m.queries = append(m.queries, dq)
	return dq
}

// Stats returns a snapshot for every registered query, unordered.
func (m *QueryManager) Stats() []QueryStats {
	out := make([]QueryStats, len(m.queries))
	for i, dq := range m.queries {
		out[i] = dq.stats()
	}
	return out
}

// Slowest returns up to n queries ordered by average execution time,
// costliest first.
func (m *QueryManager) Slowest(n int) []QueryStats {
	stats := m.Stats()
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].AverageTime() > stats[j].AverageTime()
	})
	return truncateStats(stats, n)
}

// MostFrequent returns up to n queries ordered by execution count.
func (m *QueryManager) MostFrequent(n int) []QueryStats {
	stats := m.Stats()
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Executions > stats[j].Executions
	})
	return truncateStats(stats, n)
}

func truncateStats(stats []QueryStats, n int) []QueryStats {
	if n > 0 && n < len(stats) {
		return stats[:n]
	}
	return stats
}

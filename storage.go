package stockpile

import (
	"unsafe"

	"github.com/TheBitDrifter/mask"
	"github.com/rotisserie/eris"
	"github.com/rs/zerolog"
)

var _ Storage = &Registry{}

// Registry owns every entity and archetype, plus the allocators and query
// cache behind them. It is not safe for concurrent use; the tracker and
// cache it embeds are.
type Registry struct {
	cfg     Config
	log     zerolog.Logger
	schema  *schema
	arena   *ArenaAllocator
	pool    *PoolAllocator
	tracker *MemoryTracker
	cache   *QueryCache
	slabs   slabAllocator

	metas       []entityMeta
	freeIndices []uint32
	active      int

	archetypes struct {
		nextID           archetypeID
		asSlice          []*archetype
		idsGroupedByMask map[mask.Mask]archetypeID
	}
	// structureVersion increments whenever an archetype is created, so
	// cached query results from before the change stop validating.
	structureVersion uint64

	locked  bool
	opQueue opQueue
}

func newRegistry(cfg Config) (*Registry, error) {
	cfg = cfg.withDefaults()
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = *cfg.Logger
	}
	r := &Registry{
		cfg:     cfg,
		log:     log,
		schema:  newSchema(),
		tracker: cfg.Tracker,
		opQueue: newOpQueue(),
	}
	r.archetypes.nextID = 1
	r.archetypes.idsGroupedByMask = make(map[mask.Mask]archetypeID)

	if cfg.ArenaSize > 0 {
		arena, err := NewArenaAllocator("registry-columns", cfg.ArenaSize,
			WithArenaTracker(cfg.Tracker, CategoryComponents),
			WithArenaLogger(log))
		if err != nil {
			return nil, err
		}
		r.arena = arena
	}
	if cfg.PoolBlockSize > 0 && cfg.PoolBlockCount > 0 {
		pool, err := NewPoolAllocator("registry-columns", cfg.PoolBlockSize, cfg.PoolBlockCount,
			WithPoolTracker(cfg.Tracker, CategoryComponents),
			WithPoolLogger(log))
		if err != nil {
			return nil, err
		}
		r.pool = pool
	}
	if !cfg.DisableQueryCache {
		r.cache = NewQueryCache(cfg.Cache)
	}
	r.slabs = slabAllocator{arena: r.arena, pool: r.pool, tracker: cfg.Tracker, log: log}
	return r, nil
}

// Locked reports whether the registry is iterating and deferring mutations.
func (r *Registry) Locked() bool { return r.locked }

// Lock defers structural mutations until Unlock, so live iteration never
// observes rows moving underneath it.
func (r *Registry) Lock() { r.locked = true }

// Unlock releases the iteration lock and applies every deferred operation
// in order: creations, component changes, destructions.
func (r *Registry) Unlock() {
	r.locked = false
	if err := r.processOperationQueue(); err != nil {
		r.log.Error().Err(err).Msg("applying deferred operations")
	}
}

// Alive reports whether e refers to a live entity, generation included.
func (r *Registry) Alive(e Entity) bool {
	meta, ok := r.meta(e)
	return ok && meta.alive
}

func (r *Registry) meta(e Entity) (*entityMeta, bool) {
	if int(e.Index) >= len(r.metas) {
		return nil, false
	}
	m := &r.metas[e.Index]
	if !m.alive || m.generation != e.Generation {
		return nil, false
	}
	return m, true
}

// NewEntity creates a single entity holding zero values of the given
// components.
func (r *Registry) NewEntity(components ...Component) (Entity, error) {
	created, err := r.NewEntities(1, components...)
	if err != nil {
		return Entity{}, err
	}
	return created[0], nil
}

// NewEntities creates n entities sharing one archetype. On any failure the
// registry is left exactly as it was.
func (r *Registry) NewEntities(n int, components ...Component) ([]Entity, error) {
	if r.locked {
		return nil, eris.Wrap(ErrLockedStorage, "create entities")
	}
	if n <= 0 {
		return nil, nil
	}
	comps := sortedComponents(components)
	sig, err := r.schema.maskFor(comps)
	if err != nil {
		return nil, err
	}
	arch := r.getOrCreateArchetype(sig, comps)

	created := make([]Entity, 0, n)
	for i := 0; i < n; i++ {
		e := r.allocateIndex(arch.id)
		if _, ok := arch.pushRow(&r.slabs, e); !ok {
			r.releaseIndex(e)
			for _, prev := range created {
				arch.removeRow(prev)
				r.releaseIndex(prev)
			}
			if r.tracker != nil {
				r.tracker.TrackFailedAllocation(CategoryComponents, AllocatorCustom, "registry", 0)
			}
			return nil, eris.Wrapf(ErrStorageExhausted, "create %d entities", n)
		}
		created = append(created, e)
	}
	r.active += n
	if r.cache != nil {
		r.cache.InvalidateArchetype(uint32(arch.id))
	}
	return created, nil
}

func (r *Registry) allocateIndex(archID archetypeID) Entity {
	if n := len(r.freeIndices); n > 0 {
		idx := r.freeIndices[n-1]
		r.freeIndices = r.freeIndices[:n-1]
		m := &r.metas[idx]
		m.alive = true
		m.archetype = archID
		return Entity{Index: idx, Generation: m.generation}
	}
	idx := uint32(len(r.metas))
	r.metas = append(r.metas, entityMeta{generation: 1, archetype: archID, alive: true})
	return Entity{Index: idx, Generation: 1}
}

// releaseIndex retires e's slot. The generation bump makes every handle to
// the old incarnation stale.
func (r *Registry) releaseIndex(e Entity) {
	m := &r.metas[e.Index]
	m.alive = false
	m.generation++
	r.freeIndices = append(r.freeIndices, e.Index)
}

// DestroyEntity removes e and recycles its index. Stale handles are
// rejected rather than silently destroying the current occupant.
func (r *Registry) DestroyEntity(e Entity) error {
	if r.locked {
		return eris.Wrap(ErrLockedStorage, "destroy entity")
	}
	meta, ok := r.meta(e)
	if !ok {
		return r.staleOrUnknown(e, "destroy entity")
	}
	arch := r.archetypeByID(meta.archetype)
	arch.removeRow(e)
	r.releaseIndex(e)
	r.active--
	if r.cache != nil {
		r.cache.InvalidateArchetype(uint32(arch.id))
	}
	return nil
}

// DestroyEntities destroys each entity in turn, stopping at the first
// failure.
func (r *Registry) DestroyEntities(entities ...Entity) error {
	for _, e := range entities {
		if err := r.DestroyEntity(e); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) staleOrUnknown(e Entity, op string) error {
	if int(e.Index) < len(r.metas) && r.metas[e.Index].generation != e.Generation {
		return eris.Wrapf(ErrStaleEntity, "%s: index %d generation %d", op, e.Index, e.Generation)
	}
	return eris.Wrapf(ErrUnknownEntity, "%s: index %d", op, e.Index)
}

// AddComponent migrates e to the archetype that additionally has c, moving
// its existing values and zero-initializing the new column.
func (r *Registry) AddComponent(e Entity, c Component) error {
	if r.locked {
		return eris.Wrap(ErrLockedStorage, "add component")
	}
	meta, ok := r.meta(e)
	if !ok {
		return r.staleOrUnknown(e, "add component")
	}
	src := r.archetypeByID(meta.archetype)
	if src.Contains(c) {
		return eris.Wrapf(ErrComponentExists, "add %s", c.Label())
	}
	comps := sortedComponents(append(append([]Component{}, src.comps...), c))
	sig, err := r.schema.maskFor(comps)
	if err != nil {
		return err
	}
	dst := r.getOrCreateArchetype(sig, comps)
	return r.migrate(e, meta, src, dst)
}

// RemoveComponent migrates e to the archetype without c, discarding that
// value.
func (r *Registry) RemoveComponent(e Entity, c Component) error {
	if r.locked {
		return eris.Wrap(ErrLockedStorage, "remove component")
	}
	meta, ok := r.meta(e)
	if !ok {
		return r.staleOrUnknown(e, "remove component")
	}
	src := r.archetypeByID(meta.archetype)
	if !src.Contains(c) {
		return eris.Wrapf(ErrComponentMissing, "remove %s", c.Label())
	}
	comps := make([]Component, 0, len(src.comps)-1)
	for _, sc := range src.comps {
		if sc.ID() != c.ID() {
			comps = append(comps, sc)
		}
	}
	sig, err := r.schema.maskFor(comps)
	if err != nil {
		return err
	}
	dst := r.getOrCreateArchetype(sig, comps)
	return r.migrate(e, meta, src, dst)
}

// migrate moves e's row from src to dst, copying the values of every
// component both archetypes share. The destination row is appended first so
// a slab failure leaves src untouched.
func (r *Registry) migrate(e Entity, meta *entityMeta, src, dst *archetype) error {
	srcRow, _ := src.rows.Row(e)
	dstRow, ok := dst.pushRow(&r.slabs, e)
	if !ok {
		if r.tracker != nil {
			r.tracker.TrackFailedAllocation(CategoryComponents, AllocatorCustom, "registry", 0)
		}
		return eris.Wrapf(ErrStorageExhausted, "migrate to archetype %d", dst.id)
	}
	for i := range dst.comps {
		srcCol := src.column(dst.comps[i].ID())
		if srcCol == nil {
			continue
		}
		dst.columns[i].copyRow(int(dstRow), srcCol, int(srcRow))
	}
	src.removeRow(e)
	meta.archetype = dst.id
	if r.cache != nil {
		r.cache.InvalidateArchetype(uint32(src.id))
		r.cache.InvalidateArchetype(uint32(dst.id))
	}
	return nil
}

func (r *Registry) getOrCreateArchetype(sig mask.Mask, comps []Component) *archetype {
	if id, ok := r.archetypes.idsGroupedByMask[sig]; ok {
		return r.archetypeByID(id)
	}
	id := r.archetypes.nextID
	r.archetypes.nextID++
	arch := newArchetype(id, sig, comps)
	r.archetypes.asSlice = append(r.archetypes.asSlice, arch)
	r.archetypes.idsGroupedByMask[sig] = id
	r.structureVersion++
	labels := make([]string, len(comps))
	for i, c := range comps {
		labels[i] = c.Label()
	}
	r.log.Debug().Uint32("archetype", uint32(id)).Strs("components", labels).Msg("archetype created")
	return arch
}

func (r *Registry) archetypeByID(id archetypeID) *archetype {
	return r.archetypes.asSlice[id-1]
}

// componentPtr resolves e's storage for comp. Reads and writes through the
// returned pointer are valid until the next structural mutation.
func (r *Registry) componentPtr(e Entity, comp Component) (unsafe.Pointer, bool) {
	meta, ok := r.meta(e)
	if !ok {
		return nil, false
	}
	arch := r.archetypeByID(meta.archetype)
	col := arch.column(comp.ID())
	if col == nil {
		return nil, false
	}
	row, ok := arch.rows.Row(e)
	if !ok {
		return nil, false
	}
	return col.ptr(int(row)), true
}

// hasComponent reports whether e currently stores comp.
func (r *Registry) hasComponent(e Entity, comp Component) bool {
	meta, ok := r.meta(e)
	if !ok {
		return false
	}
	return r.archetypeByID(meta.archetype).Contains(comp)
}

// matchedArchetypes returns every archetype whose signature satisfies node,
// in creation order.
func (r *Registry) matchedArchetypes(node QueryNode) []*archetype {
	matched := make([]*archetype, 0, len(r.archetypes.asSlice))
	for _, arch := range r.archetypes.asSlice {
		if node.matches(arch.sig, r.schema) {
			matched = append(matched, arch)
		}
	}
	return matched
}

// ForEach visits every entity whose archetype satisfies node. Structural
// mutations issued by fn are deferred until the visit completes.
func (r *Registry) ForEach(node QueryNode, fn func(Entity)) {
	r.Lock()
	for _, arch := range r.matchedArchetypes(node) {
		for row := 0; row < arch.Len(); row++ {
			fn(arch.rows.At(uint32(row)))
		}
	}
	r.Unlock()
}

// ActiveEntities returns the number of live entities.
func (r *Registry) ActiveEntities() int { return r.active }

// ArchetypeCount returns the number of distinct signatures seen so far.
func (r *Registry) ArchetypeCount() int { return len(r.archetypes.asSlice) }

// StructureVersion identifies the current archetype set; it changes
// whenever a new archetype appears.
func (r *Registry) StructureVersion() uint64 { return r.structureVersion }

// Cache returns the registry's query cache, or nil when disabled.
func (r *Registry) Cache() *QueryCache { return r.cache }

// Tracker returns the tracker the registry reports to, or nil.
func (r *Registry) Tracker() *MemoryTracker { return r.tracker }

// MemoryUsage summarizes the bytes behind the registry's columns and
// backing stores.
type MemoryUsage struct {
	Entities   int
	Archetypes int
	// ColumnBytes is the payload held in rows; ColumnCapacityBytes includes
	// slab headroom.
	ColumnBytes         int
	ColumnCapacityBytes int
	ArenaUsed           int
	ArenaCapacity       int
	PoolBlocksInUse     int
	PoolBlockCapacity   int
}

func (r *Registry) MemoryUsage() MemoryUsage {
	u := MemoryUsage{
		Entities:   r.active,
		Archetypes: len(r.archetypes.asSlice),
	}
	for _, arch := range r.archetypes.asSlice {
		used, capacity := arch.usedBytes()
		u.ColumnBytes += used
		u.ColumnCapacityBytes += capacity
	}
	if r.arena != nil {
		u.ArenaUsed = r.arena.Used()
		u.ArenaCapacity = r.arena.Capacity()
	}
	if r.pool != nil {
		u.PoolBlocksInUse = r.pool.InUse()
		u.PoolBlockCapacity = r.pool.Capacity()
	}
	return u
}

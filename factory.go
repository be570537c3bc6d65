package stockpile

type factory struct{}

// Factory exposes the package constructors under one namespace.
var Factory factory

func (f factory) NewRegistry(cfg Config) (*Registry, error) {
	return newRegistry(cfg)
}

func (f factory) NewQuery() *Query {
	return newQuery()
}

func (f factory) NewCursor(query QueryNode, reg *Registry) *Cursor {
	return newCursor(query, reg)
}

func (f factory) NewQueryManager(reg *Registry) *QueryManager {
	return newQueryManager(reg)
}

func (f factory) NewTracker(cfg TrackerConfig) *MemoryTracker {
	return NewMemoryTracker(cfg)
}

func (f factory) NewArena(name string, capacity int, opts ...ArenaOption) (*ArenaAllocator, error) {
	return NewArenaAllocator(name, capacity, opts...)
}

func (f factory) NewPool(name string, blockSize, blockCount int, opts ...PoolOption) (*PoolAllocator, error) {
	return NewPoolAllocator(name, blockSize, blockCount, opts...)
}

// FactoryNewComponent declares a component type backed by T. Declare each
// component once, at package scope.
func FactoryNewComponent[T any]() AccessibleComponent[T] {
	return AccessibleComponent[T]{Component: newComponentType[T]()}
}

package stockpile

// Storage is the registry surface systems depend on. *Registry is the only
// implementation; the interface exists so callers can narrow what they
// accept.
type Storage interface {
	NewEntity(...Component) (Entity, error)
	NewEntities(int, ...Component) ([]Entity, error)
	EnqueueNewEntities(int, ...Component) error
	DestroyEntity(Entity) error
	DestroyEntities(...Entity) error
	EnqueueDestroyEntities(...Entity) error
	AddComponent(Entity, Component) error
	RemoveComponent(Entity, Component) error
	EnqueueAddComponent(Entity, Component) error
	EnqueueRemoveComponent(Entity, Component) error
	ForEach(QueryNode, func(Entity))
	Alive(Entity) bool
	ActiveEntities() int
	ArchetypeCount() int
	StructureVersion() uint64
	MemoryUsage() MemoryUsage
	Locked() bool
	Lock()
	Unlock()
}

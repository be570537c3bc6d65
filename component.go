package stockpile

import (
	"fmt"
	"slices"
	"sync"
	"unsafe"
)

// ComponentID uniquely identifies a component type across the process.
// Per-registry signature bits are assigned separately, so a registry only
// spends signature width on the component types it actually stores.
type ComponentID uint32

// Component represents a data attribute/state that can be attached to
// entities. Components are created once with FactoryNewComponent and reused.
// Component values are stored by copy inside packed columns and must be
// plain data: they must not contain Go pointers, maps, slices, or channels.
type Component interface {
	ID() ComponentID
	Label() string

	byteSize() uintptr
	alignment() uintptr
}

type componentType struct {
	id    ComponentID
	size  uintptr
	align uintptr
	label string
}

func (c componentType) ID() ComponentID    { return c.id }
func (c componentType) Label() string      { return c.label }
func (c componentType) byteSize() uintptr  { return c.size }
func (c componentType) alignment() uintptr { return c.align }

var _ Component = componentType{}

var componentIDs struct {
	mu   sync.Mutex
	next ComponentID
}

func nextComponentID() ComponentID {
	componentIDs.mu.Lock()
	defer componentIDs.mu.Unlock()
	id := componentIDs.next
	componentIDs.next++
	return id
}

func newComponentType[T any]() componentType {
	var zero T
	return componentType{
		id:    nextComponentID(),
		size:  unsafe.Sizeof(zero),
		align: unsafe.Alignof(zero),
		label: fmt.Sprintf("%T", zero),
	}
}

// sortedComponents returns the components ordered by ID with duplicates
// dropped. Archetype column order is defined by this ordering.
func sortedComponents(comps []Component) []Component {
	out := make([]Component, len(comps))
	copy(out, comps)
	slices.SortFunc(out, func(a, b Component) int {
		return int(a.ID()) - int(b.ID())
	})
	return slices.CompactFunc(out, func(a, b Component) bool {
		return a.ID() == b.ID()
	})
}
